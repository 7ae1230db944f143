package models

import (
	"slices"
	"strings"
	"time"

	"warden/internal/guard"
	dErrors "warden/pkg/domain-errors"
)

// Variant selects the authorization policy of a wallet account.
type Variant string

const (
	VariantStatic  Variant = "static"
	VariantTwoTier Variant = "two_tier"
	VariantDynamic Variant = "dynamic"
)

func (v Variant) IsValid() bool {
	switch v {
	case VariantStatic, VariantTwoTier, VariantDynamic:
		return true
	}
	return false
}

// Tier names an authorization level checked explicitly per operation.
type Tier string

const (
	TierOwner        Tier = "owner"
	TierLowSecurity  Tier = "low_security"
	TierHighSecurity Tier = "high_security"
	TierGuardian     Tier = "guardian"
	// TierPool is the dynamic variant's n-of-m guard pool.
	TierPool Tier = "pool"
	// TierProposed is a replacement guard that must prove itself during rotation.
	TierProposed Tier = "proposed"
	// TierReceiver is the expected controller of a safe-transfer destination.
	TierReceiver Tier = "receiver"
)

const maxAccountIDLength = 128

// Account is the aggregate root for a wallet's policy state.
//
// Invariants:
//   - ID is non-empty, at most 128 characters, and never changes
//   - exactly one of Static, TwoTier, Dynamic is set, matching Variant
//   - every policy guard is a well-formed keyset guard
//   - numeric limits and durations are non-negative
//   - cooldown timestamps only advance
//   - Version increases by one on every committed change
type Account struct {
	ID        string         `json:"id"`
	Variant   Variant        `json:"variant"`
	Static    *StaticPolicy  `json:"static,omitempty"`
	TwoTier   *TwoTierPolicy `json:"two_tier,omitempty"`
	Dynamic   *DynamicPolicy `json:"dynamic,omitempty"`
	Version   int64          `json:"version"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewStaticAccount builds a static-limit wallet record.
func NewStaticAccount(id string, p StaticPolicy, now time.Time) (*Account, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return newAccount(id, VariantStatic, now, func(a *Account) { a.Static = p.clone() })
}

// NewTwoTierAccount builds a two-tier wallet record.
func NewTwoTierAccount(id string, p TwoTierPolicy, now time.Time) (*Account, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return newAccount(id, VariantTwoTier, now, func(a *Account) { a.TwoTier = p.clone() })
}

// NewDynamicAccount builds a dynamic n-of-m wallet record.
func NewDynamicAccount(id string, p DynamicPolicy, now time.Time) (*Account, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return newAccount(id, VariantDynamic, now, func(a *Account) { a.Dynamic = p.clone() })
}

func newAccount(id string, v Variant, now time.Time, set func(*Account)) (*Account, error) {
	id = strings.TrimSpace(id)
	if err := ValidateAccountID(id); err != nil {
		return nil, err
	}
	a := &Account{ID: id, Variant: v, Version: 1, CreatedAt: now, UpdatedAt: now}
	set(a)
	return a, nil
}

// ValidateAccountID checks the account identifier format.
func ValidateAccountID(id string) error {
	if id == "" {
		return dErrors.New(dErrors.CodeValidation, "account id is required")
	}
	if len(id) > maxAccountIDLength {
		return dErrors.New(dErrors.CodeValidation, "account id must be 128 characters or less")
	}
	return nil
}

// Validate checks the aggregate invariants. Stores call it on load.
func (a *Account) Validate() error {
	if err := ValidateAccountID(a.ID); err != nil {
		return err
	}
	set := 0
	for _, present := range []bool{a.Static != nil, a.TwoTier != nil, a.Dynamic != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return dErrors.New(dErrors.CodeInvariantViolation, "account must carry exactly one policy")
	}
	switch a.Variant {
	case VariantStatic:
		if a.Static == nil {
			return dErrors.New(dErrors.CodeInvariantViolation, "static account without static policy")
		}
		return a.Static.Validate()
	case VariantTwoTier:
		if a.TwoTier == nil {
			return dErrors.New(dErrors.CodeInvariantViolation, "two-tier account without two-tier policy")
		}
		return a.TwoTier.Validate()
	case VariantDynamic:
		if a.Dynamic == nil {
			return dErrors.New(dErrors.CodeInvariantViolation, "dynamic account without dynamic policy")
		}
		return a.Dynamic.Validate()
	}
	return dErrors.New(dErrors.CodeInvariantViolation, "unknown wallet variant")
}

// Clone returns a deep copy; guards and timestamps are never shared.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	if a.Static != nil {
		c.Static = a.Static.clone()
	}
	if a.TwoTier != nil {
		c.TwoTier = a.TwoTier.clone()
	}
	if a.Dynamic != nil {
		c.Dynamic = a.Dynamic.clone()
	}
	return &c
}

// Guards returns every guard the record references.
func (a *Account) Guards() []guard.Guard {
	switch {
	case a.Static != nil:
		return []guard.Guard{a.Static.OwnerGuard.Clone()}
	case a.TwoTier != nil:
		return []guard.Guard{a.TwoTier.LowSecurityGuard.Clone(), a.TwoTier.HighSecurityGuard.Clone()}
	case a.Dynamic != nil:
		return append(guard.CloneAll(a.Dynamic.Guards), a.Dynamic.GuardianGuard.Clone())
	}
	return nil
}

// SignerKeys returns the sorted set of public keys named by any guard.
func (a *Account) SignerKeys() []string {
	var keys []string
	for _, g := range a.Guards() {
		keys = append(keys, g.Keys...)
	}
	slices.Sort(keys)
	return slices.Compact(keys)
}

// touch records a committed change.
func (a *Account) touch(now time.Time) {
	a.Version++
	if now.After(a.UpdatedAt) {
		a.UpdatedAt = now
	}
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
