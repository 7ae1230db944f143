package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	dErrors "warden/pkg/domain-errors"
)

// DenialKind is the policy failure taxonomy.
type DenialKind string

const (
	DenialGuardRejected          DenialKind = "guard_rejected"
	DenialLimitExceeded          DenialKind = "limit_exceeded"
	DenialInsufficientReserve    DenialKind = "insufficient_reserve"
	DenialRateLimited            DenialKind = "rate_limited"
	DenialInsufficientSignatures DenialKind = "insufficient_signatures"
	DenialInsufficientBalance    DenialKind = "insufficient_balance"
)

// Denial is a policy rejection with the quantity a caller needs to act on it.
// Only the fields relevant to Kind are set.
type Denial struct {
	Kind DenialKind
	// Tier whose guard was not satisfied (GuardRejected).
	Tier Tier
	// Excess is the amount over the cap (LimitExceeded).
	Excess decimal.Decimal
	// Shortfall is how far the balance or reserve falls short
	// (InsufficientReserve, InsufficientBalance).
	Shortfall decimal.Decimal
	// RetryAfter is the remaining cooldown (RateLimited).
	RetryAfter time.Duration
	// Required, Signed and Missing count pool signatures (InsufficientSignatures).
	Required int
	Signed   int
	Missing  int
}

func (d *Denial) Error() string {
	switch d.Kind {
	case DenialGuardRejected:
		return fmt.Sprintf("%s guard rejected", d.Tier)
	case DenialLimitExceeded:
		return fmt.Sprintf("amount exceeds limit by %s", d.Excess)
	case DenialInsufficientReserve:
		return fmt.Sprintf("transfer would leave balance %s below the minimum", d.Shortfall)
	case DenialRateLimited:
		return fmt.Sprintf("cooldown active, retry in %s", d.RetryAfter)
	case DenialInsufficientSignatures:
		return fmt.Sprintf("%d of %d required signatures present, %d missing", d.Signed, d.Required, d.Missing)
	case DenialInsufficientBalance:
		return fmt.Sprintf("amount exceeds balance by %s", d.Shortfall)
	}
	return string(d.Kind)
}

// Details exposes the denial's quantities to transports.
func (d *Denial) Details() map[string]any {
	out := map[string]any{"kind": string(d.Kind)}
	switch d.Kind {
	case DenialGuardRejected:
		out["tier"] = string(d.Tier)
	case DenialLimitExceeded:
		out["excess"] = d.Excess.String()
	case DenialInsufficientReserve, DenialInsufficientBalance:
		out["shortfall"] = d.Shortfall.String()
	case DenialRateLimited:
		out["retry_after_seconds"] = d.RetryAfterSeconds()
	case DenialInsufficientSignatures:
		out["required"] = d.Required
		out["signed"] = d.Signed
		out["missing"] = d.Missing
	}
	return out
}

// RetryAfterSeconds rounds the remaining cooldown up to whole seconds.
func (d *Denial) RetryAfterSeconds() int {
	if d.RetryAfter <= 0 {
		return 0
	}
	return int((d.RetryAfter + time.Second - 1) / time.Second)
}

// Code maps the denial onto the shared error codes.
func (d *Denial) Code() dErrors.Code {
	if d.Kind == DenialRateLimited {
		return dErrors.CodeRateLimited
	}
	return dErrors.CodePolicyDenied
}

// Deny wraps d in a coded error.
func Deny(d Denial) error {
	return dErrors.Wrap(&d, d.Code(), "")
}

// AsDenial extracts a policy denial from an error chain.
func AsDenial(err error) (*Denial, bool) {
	var d *Denial
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}

func GuardRejected(tier Tier) error {
	return Deny(Denial{Kind: DenialGuardRejected, Tier: tier})
}

func LimitExceeded(excess decimal.Decimal) error {
	return Deny(Denial{Kind: DenialLimitExceeded, Excess: excess})
}

func InsufficientReserve(shortfall decimal.Decimal) error {
	return Deny(Denial{Kind: DenialInsufficientReserve, Shortfall: shortfall})
}

func RateLimited(retryAfter time.Duration) error {
	return Deny(Denial{Kind: DenialRateLimited, RetryAfter: retryAfter})
}

func InsufficientSignatures(required, signed int) error {
	return Deny(Denial{
		Kind:     DenialInsufficientSignatures,
		Required: required,
		Signed:   signed,
		Missing:  required - signed,
	})
}

func InsufficientBalance(shortfall decimal.Decimal) error {
	return Deny(Denial{Kind: DenialInsufficientBalance, Shortfall: shortfall})
}
