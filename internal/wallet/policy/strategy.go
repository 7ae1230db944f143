package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"warden/internal/guard"
	"warden/internal/wallet/models"
	dErrors "warden/pkg/domain-errors"
)

// Request is everything a strategy may consult to decide one action.
// Strategies never read the clock or the ledger themselves.
type Request struct {
	Account *models.Account
	Action  models.Action
	Balance decimal.Decimal
	Now     time.Time
	Signers guard.SigningContext
}

// Decision is an authorized action. Apply mutates the account record and is
// nil when the action leaves the record untouched.
type Decision struct {
	Action models.Action
	Apply  func(a *models.Account, now time.Time)

	// KeysRequired and KeysSigned are set by the dynamic variant.
	KeysRequired int
	KeysSigned   int
}

// MutatesRecord reports whether committing the decision changes the account.
func (d Decision) MutatesRecord() bool {
	return d.Apply != nil
}

// Strategy authorizes actions for one wallet variant.
//
// Contract: Authorize is pure. It returns a Decision or an error; a policy
// rejection is a *models.Denial wrapped in a coded error. Nothing is written.
type Strategy interface {
	Variant() models.Variant
	Authorize(ctx context.Context, req Request) (Decision, error)
}

// Registry resolves the strategy for a variant.
type Registry map[models.Variant]Strategy

// NewRegistry wires the three built-in variants to one evaluator.
func NewRegistry(ev guard.Evaluator) Registry {
	r := Registry{}
	for _, s := range []Strategy{NewStatic(ev), NewTwoTier(ev), NewDynamic(ev)} {
		r[s.Variant()] = s
	}
	return r
}

func (r Registry) For(v models.Variant) (Strategy, error) {
	s, ok := r[v]
	if !ok {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("no policy for variant %q", v))
	}
	return s, nil
}

// requireGuard turns an unsatisfied guard into a GuardRejected denial for tier.
func requireGuard(ctx context.Context, ev guard.Evaluator, g guard.Guard, sc guard.SigningContext, tier models.Tier) error {
	ok, err := guard.Require(ctx, ev, g, sc)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "guard evaluation failed")
	}
	if !ok {
		return models.GuardRejected(tier)
	}
	return nil
}

// requireRotation checks the current authority and the proposed replacement.
// A replacement nobody can satisfy would lock the tier.
func requireRotation(ctx context.Context, ev guard.Evaluator, current, proposed guard.Guard, sc guard.SigningContext, tier models.Tier) error {
	if err := requireGuard(ctx, ev, current, sc, tier); err != nil {
		return err
	}
	return requireGuard(ctx, ev, proposed, sc, models.TierProposed)
}

// cooldownRemaining returns how long until a cooldown that started at last
// expires. A zero timestamp or non-positive cooldown never blocks.
func cooldownRemaining(last, now time.Time, cooldown time.Duration) (time.Duration, bool) {
	if cooldown <= 0 || last.IsZero() {
		return 0, false
	}
	elapsed := now.Sub(last)
	if elapsed < cooldown {
		return cooldown - elapsed, true
	}
	return 0, false
}

func checkBalance(amount, balance decimal.Decimal) error {
	if amount.GreaterThan(balance) {
		return models.InsufficientBalance(amount.Sub(balance))
	}
	return nil
}

func unsupported(v models.Variant, k models.ActionKind) error {
	return dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("%s wallets do not support %s", v, k))
}
