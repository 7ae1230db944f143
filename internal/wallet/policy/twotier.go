package policy

import (
	"context"
	"time"

	"warden/internal/guard"
	"warden/internal/wallet/models"
)

// TwoTier pairs a capped, rate-limited low-security guard with an unbounded
// high-security guard. The tiers are independent: a high-security transfer
// neither consults nor advances the low-security cooldown.
type TwoTier struct {
	evaluator guard.Evaluator
}

func NewTwoTier(ev guard.Evaluator) *TwoTier {
	return &TwoTier{evaluator: ev}
}

func (*TwoTier) Variant() models.Variant { return models.VariantTwoTier }

func (t *TwoTier) Authorize(ctx context.Context, req Request) (Decision, error) {
	p := req.Account.TwoTier
	act := req.Action

	switch act.Kind {
	case models.ActionLowSecurityTransfer:
		// The cap is inclusive.
		if act.Amount.GreaterThan(p.MaxLowSecurityAmount) {
			return Decision{}, models.LimitExceeded(act.Amount.Sub(p.MaxLowSecurityAmount))
		}
		if wait, active := cooldownRemaining(p.LastLowSecurityWithdrawalAt, req.Now, p.LowSecurityCooldown); active {
			return Decision{}, models.RateLimited(wait)
		}
		if err := checkBalance(act.Amount, req.Balance); err != nil {
			return Decision{}, err
		}
		if err := requireGuard(ctx, t.evaluator, p.LowSecurityGuard, req.Signers, models.TierLowSecurity); err != nil {
			return Decision{}, err
		}
		return Decision{Action: act, Apply: func(a *models.Account, now time.Time) {
			a.ApplyLowSecurityWithdrawal(now)
		}}, nil

	case models.ActionHighSecurityTransfer:
		if err := checkBalance(act.Amount, req.Balance); err != nil {
			return Decision{}, err
		}
		if err := requireGuard(ctx, t.evaluator, p.HighSecurityGuard, req.Signers, models.TierHighSecurity); err != nil {
			return Decision{}, err
		}
		return Decision{Action: act}, nil

	case models.ActionRotateLowSecurityGuard:
		if err := requireRotation(ctx, t.evaluator, p.LowSecurityGuard, act.NewGuard, req.Signers, models.TierLowSecurity); err != nil {
			return Decision{}, err
		}
		return Decision{Action: act, Apply: func(a *models.Account, now time.Time) {
			a.ApplyLowSecurityRotation(act.NewGuard, now)
		}}, nil

	case models.ActionRotateHighSecurityGuard:
		if err := requireRotation(ctx, t.evaluator, p.HighSecurityGuard, act.NewGuard, req.Signers, models.TierHighSecurity); err != nil {
			return Decision{}, err
		}
		return Decision{Action: act, Apply: func(a *models.Account, now time.Time) {
			a.ApplyHighSecurityRotation(act.NewGuard, now)
		}}, nil

	case models.ActionUpdateMaxLowSecurityAmount:
		if err := requireGuard(ctx, t.evaluator, p.HighSecurityGuard, req.Signers, models.TierHighSecurity); err != nil {
			return Decision{}, err
		}
		return Decision{Action: act, Apply: func(a *models.Account, now time.Time) {
			a.ApplyMaxLowSecurityAmount(act.Amount, now)
		}}, nil

	case models.ActionUpdateLowSecurityCooldown:
		if err := requireGuard(ctx, t.evaluator, p.HighSecurityGuard, req.Signers, models.TierHighSecurity); err != nil {
			return Decision{}, err
		}
		return Decision{Action: act, Apply: func(a *models.Account, now time.Time) {
			a.ApplyLowSecurityCooldown(act.Cooldown, now)
		}}, nil
	}
	return Decision{}, unsupported(models.VariantTwoTier, act.Kind)
}
