package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"warden/internal/guard"
	dErrors "warden/pkg/domain-errors"
)

// StaticPolicy is a single owner guard plus per-account limits.
type StaticPolicy struct {
	OwnerGuard     guard.Guard     `json:"owner_guard"`
	MaxWithdrawal  decimal.Decimal `json:"max_withdrawal"`
	MinBalance     decimal.Decimal `json:"min_balance"`
	Cooldown       time.Duration   `json:"cooldown"`
	LastActivityAt time.Time       `json:"last_activity_at"`
}

// StaticLimits are the owner-updatable numeric fields of a static policy.
type StaticLimits struct {
	MaxWithdrawal decimal.Decimal `json:"max_withdrawal"`
	MinBalance    decimal.Decimal `json:"min_balance"`
	Cooldown      time.Duration   `json:"cooldown"`
}

func (l StaticLimits) Validate() error {
	if l.MaxWithdrawal.IsNegative() {
		return dErrors.New(dErrors.CodeValidation, "max_withdrawal must be non-negative")
	}
	if l.MinBalance.IsNegative() {
		return dErrors.New(dErrors.CodeValidation, "min_balance must be non-negative")
	}
	if l.Cooldown < 0 {
		return dErrors.New(dErrors.CodeValidation, "cooldown must be non-negative")
	}
	return nil
}

func (p StaticPolicy) Limits() StaticLimits {
	return StaticLimits{MaxWithdrawal: p.MaxWithdrawal, MinBalance: p.MinBalance, Cooldown: p.Cooldown}
}

func (p StaticPolicy) Validate() error {
	if err := ValidatePolicyGuard("owner_guard", p.OwnerGuard); err != nil {
		return err
	}
	return p.Limits().Validate()
}

func (p StaticPolicy) clone() *StaticPolicy {
	p.OwnerGuard = p.OwnerGuard.Clone()
	return &p
}

// TwoTierPolicy pairs a convenience low-security guard, bounded by amount and
// frequency, with an unbounded high-security guard.
type TwoTierPolicy struct {
	LowSecurityGuard            guard.Guard     `json:"low_security_guard"`
	HighSecurityGuard           guard.Guard     `json:"high_security_guard"`
	MaxLowSecurityAmount        decimal.Decimal `json:"max_low_security_amount"`
	LowSecurityCooldown         time.Duration   `json:"low_security_cooldown"`
	LastLowSecurityWithdrawalAt time.Time       `json:"last_low_security_withdrawal_at"`
}

func (p TwoTierPolicy) Validate() error {
	if err := ValidatePolicyGuard("low_security_guard", p.LowSecurityGuard); err != nil {
		return err
	}
	if err := ValidatePolicyGuard("high_security_guard", p.HighSecurityGuard); err != nil {
		return err
	}
	if p.MaxLowSecurityAmount.IsNegative() {
		return dErrors.New(dErrors.CodeValidation, "max_low_security_amount must be non-negative")
	}
	if p.LowSecurityCooldown < 0 {
		return dErrors.New(dErrors.CodeValidation, "low_security_cooldown must be non-negative")
	}
	return nil
}

func (p TwoTierPolicy) clone() *TwoTierPolicy {
	p.LowSecurityGuard = p.LowSecurityGuard.Clone()
	p.HighSecurityGuard = p.HighSecurityGuard.Clone()
	return &p
}

// DynamicPolicy is an ordered pool of m guards plus the guardian, the sole
// rotation authority. Losing the guardian guard is unrecoverable.
type DynamicPolicy struct {
	Guards        []guard.Guard `json:"guards"`
	GuardianGuard guard.Guard   `json:"guardian_guard"`
}

func (p DynamicPolicy) Validate() error {
	if err := ValidateGuardPool(p.Guards); err != nil {
		return err
	}
	return ValidatePolicyGuard("guardian_guard", p.GuardianGuard)
}

// ValidateGuardPool checks a replacement or initial n-of-m pool. Every entry
// must be distinct, otherwise one signer set would count more than once.
func ValidateGuardPool(pool []guard.Guard) error {
	if len(pool) == 0 {
		return dErrors.New(dErrors.CodeValidation, "guard pool must contain at least one guard")
	}
	for i, g := range pool {
		if err := ValidatePolicyGuard("guards", g); err != nil {
			return err
		}
		for _, prev := range pool[:i] {
			if prev.Equal(g) {
				return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("guard pool lists %s more than once", g))
			}
		}
	}
	return nil
}

// M is the size of the guard pool.
func (p DynamicPolicy) M() int {
	return len(p.Guards)
}

func (p DynamicPolicy) clone() *DynamicPolicy {
	p.Guards = guard.CloneAll(p.Guards)
	p.GuardianGuard = p.GuardianGuard.Clone()
	return &p
}

// ValidatePolicyGuard checks a guard supplied for a policy field.
func ValidatePolicyGuard(field string, g guard.Guard) error {
	if !g.IsKeyset() {
		return dErrors.New(dErrors.CodeValidation, field+" must be a keyset guard")
	}
	if err := g.Validate(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, field+" is malformed")
	}
	return nil
}

// -----------------------------------------------------------------------------
// Record mutations. Strategies decide; these apply. Each Apply* must only be
// called after the owning strategy authorized the action.
// -----------------------------------------------------------------------------

// ApplyStaticWithdrawal advances the static cooldown timestamp.
func (a *Account) ApplyStaticWithdrawal(now time.Time) {
	a.Static.LastActivityAt = laterOf(a.Static.LastActivityAt, now)
	a.touch(now)
}

// ApplyOwnerRotation replaces the static owner guard.
func (a *Account) ApplyOwnerRotation(g guard.Guard, now time.Time) {
	a.Static.OwnerGuard = g.Clone()
	a.touch(now)
}

// ApplyStaticLimits replaces the static limits. The cooldown timestamp stays.
func (a *Account) ApplyStaticLimits(l StaticLimits, now time.Time) {
	a.Static.MaxWithdrawal = l.MaxWithdrawal
	a.Static.MinBalance = l.MinBalance
	a.Static.Cooldown = l.Cooldown
	a.touch(now)
}

// ApplyLowSecurityWithdrawal advances the low-security cooldown timestamp.
func (a *Account) ApplyLowSecurityWithdrawal(now time.Time) {
	a.TwoTier.LastLowSecurityWithdrawalAt = laterOf(a.TwoTier.LastLowSecurityWithdrawalAt, now)
	a.touch(now)
}

func (a *Account) ApplyLowSecurityRotation(g guard.Guard, now time.Time) {
	a.TwoTier.LowSecurityGuard = g.Clone()
	a.touch(now)
}

func (a *Account) ApplyHighSecurityRotation(g guard.Guard, now time.Time) {
	a.TwoTier.HighSecurityGuard = g.Clone()
	a.touch(now)
}

func (a *Account) ApplyMaxLowSecurityAmount(amount decimal.Decimal, now time.Time) {
	a.TwoTier.MaxLowSecurityAmount = amount
	a.touch(now)
}

func (a *Account) ApplyLowSecurityCooldown(d time.Duration, now time.Time) {
	a.TwoTier.LowSecurityCooldown = d
	a.touch(now)
}

// ApplyPoolRotation replaces the whole guard pool; m may change.
func (a *Account) ApplyPoolRotation(pool []guard.Guard, now time.Time) {
	a.Dynamic.Guards = guard.CloneAll(pool)
	a.touch(now)
}

func (a *Account) ApplyGuardianRotation(g guard.Guard, now time.Time) {
	a.Dynamic.GuardianGuard = g.Clone()
	a.touch(now)
}
