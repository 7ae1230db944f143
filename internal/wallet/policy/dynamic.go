package policy

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"warden/internal/guard"
	"warden/internal/wallet/models"
	dErrors "warden/pkg/domain-errors"
)

// Dynamic scales the number of pool signatures with the share of the balance
// being moved. Only the guardian may reshape the pool.
type Dynamic struct {
	evaluator guard.Evaluator
}

func NewDynamic(ev guard.Evaluator) *Dynamic {
	return &Dynamic{evaluator: ev}
}

func (*Dynamic) Variant() models.Variant { return models.VariantDynamic }

func (d *Dynamic) Authorize(ctx context.Context, req Request) (Decision, error) {
	p := req.Account.Dynamic
	act := req.Action

	switch act.Kind {
	case models.ActionTransfer:
		needed, err := KeysNeeded(act.Amount, req.Balance, p.M())
		if err != nil {
			return Decision{}, err
		}
		// A zero-amount transfer still needs one signature.
		required := max(needed, 1)
		signed := guard.CountSatisfied(ctx, d.evaluator, p.Guards, req.Signers)
		if signed < required {
			return Decision{}, models.InsufficientSignatures(required, signed)
		}
		return Decision{Action: act, KeysRequired: required, KeysSigned: signed}, nil

	case models.ActionRotateGuardPool:
		if err := requireGuard(ctx, d.evaluator, p.GuardianGuard, req.Signers, models.TierGuardian); err != nil {
			return Decision{}, err
		}
		return Decision{Action: act, Apply: func(a *models.Account, now time.Time) {
			a.ApplyPoolRotation(act.NewPool, now)
		}}, nil

	case models.ActionRotateGuardian:
		if err := requireRotation(ctx, d.evaluator, p.GuardianGuard, act.NewGuard, req.Signers, models.TierGuardian); err != nil {
			return Decision{}, err
		}
		return Decision{Action: act, Apply: func(a *models.Account, now time.Time) {
			a.ApplyGuardianRotation(act.NewGuard, now)
		}}, nil
	}
	return Decision{}, unsupported(models.VariantDynamic, act.Kind)
}

// KeysNeeded returns ceil(m * amount / balance), the number of pool signatures
// a transfer of amount requires. The result never exceeds m and is
// non-decreasing in amount for a fixed balance. An amount above the balance
// yields an InsufficientBalance denial.
func KeysNeeded(amount, balance decimal.Decimal, m int) (int, error) {
	if m <= 0 {
		return 0, dErrors.New(dErrors.CodeInvariantViolation, "guard pool is empty")
	}
	if amount.IsNegative() {
		return 0, dErrors.New(dErrors.CodeValidation, "amount must be non-negative")
	}
	if err := checkBalance(amount, balance); err != nil {
		return 0, err
	}
	if amount.IsZero() {
		return 0, nil
	}

	q, r := decimal.NewFromInt(int64(m)).Mul(amount).QuoRem(balance, 0)
	n := int(q.IntPart())
	if !r.IsZero() {
		n++
	}
	return min(n, m), nil
}
