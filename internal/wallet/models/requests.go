package models

import (
	"strings"
	"time"

	dErrors "warden/pkg/domain-errors"
)

// CreateWalletRequest carries the guard configuration and policy defaults of
// a new wallet. Exactly the policy matching Variant must be set.
type CreateWalletRequest struct {
	AccountID string
	Variant   Variant
	Static    *StaticPolicy
	TwoTier   *TwoTierPolicy
	Dynamic   *DynamicPolicy
}

func (r *CreateWalletRequest) Normalize() {
	r.AccountID = strings.TrimSpace(r.AccountID)
	r.Variant = Variant(strings.ToLower(strings.TrimSpace(string(r.Variant))))
}

// Build validates the request and returns the initial record. Cooldown
// timestamps start at zero so the first withdrawal is never rate limited.
func (r *CreateWalletRequest) Build(now time.Time) (*Account, error) {
	if !r.Variant.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "variant must be one of static, two_tier, dynamic")
	}
	switch r.Variant {
	case VariantStatic:
		if r.Static == nil || r.TwoTier != nil || r.Dynamic != nil {
			return nil, dErrors.New(dErrors.CodeValidation, "static wallets take only a static policy")
		}
		p := *r.Static
		p.LastActivityAt = time.Time{}
		return NewStaticAccount(r.AccountID, p, now)
	case VariantTwoTier:
		if r.TwoTier == nil || r.Static != nil || r.Dynamic != nil {
			return nil, dErrors.New(dErrors.CodeValidation, "two_tier wallets take only a two_tier policy")
		}
		p := *r.TwoTier
		p.LastLowSecurityWithdrawalAt = time.Time{}
		return NewTwoTierAccount(r.AccountID, p, now)
	default:
		if r.Dynamic == nil || r.Static != nil || r.TwoTier != nil {
			return nil, dErrors.New(dErrors.CodeValidation, "dynamic wallets take only a dynamic policy")
		}
		return NewDynamicAccount(r.AccountID, *r.Dynamic, now)
	}
}
