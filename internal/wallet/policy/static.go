package policy

import (
	"context"
	"time"

	"warden/internal/guard"
	"warden/internal/wallet/models"
)

// Static is the single-owner variant with a per-transfer cap, a minimum
// reserve and a cooldown between transfers.
type Static struct {
	evaluator guard.Evaluator
}

func NewStatic(ev guard.Evaluator) *Static {
	return &Static{evaluator: ev}
}

func (*Static) Variant() models.Variant { return models.VariantStatic }

// Authorize checks limits before the owner guard so a rejected request
// reports the most actionable denial.
func (s *Static) Authorize(ctx context.Context, req Request) (Decision, error) {
	p := req.Account.Static
	act := req.Action

	switch act.Kind {
	case models.ActionTransfer, models.ActionSafeTransfer:
		if act.Amount.GreaterThan(p.MaxWithdrawal) {
			return Decision{}, models.LimitExceeded(act.Amount.Sub(p.MaxWithdrawal))
		}
		if wait, active := cooldownRemaining(p.LastActivityAt, req.Now, p.Cooldown); active {
			return Decision{}, models.RateLimited(wait)
		}
		if after := req.Balance.Sub(act.Amount); after.LessThan(p.MinBalance) {
			return Decision{}, models.InsufficientReserve(p.MinBalance.Sub(after))
		}
		if err := requireGuard(ctx, s.evaluator, p.OwnerGuard, req.Signers, models.TierOwner); err != nil {
			return Decision{}, err
		}
		return Decision{Action: act, Apply: func(a *models.Account, now time.Time) {
			a.ApplyStaticWithdrawal(now)
		}}, nil

	case models.ActionRotateOwnerGuard:
		if err := requireRotation(ctx, s.evaluator, p.OwnerGuard, act.NewGuard, req.Signers, models.TierOwner); err != nil {
			return Decision{}, err
		}
		return Decision{Action: act, Apply: func(a *models.Account, now time.Time) {
			a.ApplyOwnerRotation(act.NewGuard, now)
		}}, nil

	case models.ActionUpdateLimits:
		if err := requireGuard(ctx, s.evaluator, p.OwnerGuard, req.Signers, models.TierOwner); err != nil {
			return Decision{}, err
		}
		return Decision{Action: act, Apply: func(a *models.Account, now time.Time) {
			a.ApplyStaticLimits(act.Limits, now)
		}}, nil
	}
	return Decision{}, unsupported(models.VariantStatic, act.Kind)
}
