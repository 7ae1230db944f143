package guard

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

//go:generate mockgen -source=evaluator.go -destination=mocks/evaluator_mock.go -package=mocks

// Evaluator checks a guard against a signing context.
//
// Contract: an unsatisfied guard returns (false, nil). An error means the guard
// could not be evaluated at all (malformed input) and aborts the caller's unit
// of work. Implementations must be pure: no observable effect beyond the result.
type Evaluator interface {
	Evaluate(ctx context.Context, g Guard, sc SigningContext) (bool, error)
}

// KeysetEvaluator evaluates keyset guards against signer keys and module guards
// against module grants.
type KeysetEvaluator struct{}

func NewEvaluator() *KeysetEvaluator {
	return &KeysetEvaluator{}
}

func (KeysetEvaluator) Evaluate(ctx context.Context, g Guard, sc SigningContext) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := g.Validate(); err != nil {
		return false, err
	}
	if g.Kind == KindModule {
		return sc.HasGrant(g.Module), nil
	}

	signed := 0
	for _, k := range g.Keys {
		if sc.Signed(k) {
			signed++
		}
	}
	switch g.Pred {
	case KeysAll:
		return signed == len(g.Keys), nil
	case KeysAny:
		return signed >= 1, nil
	case Keys2:
		return signed >= 2, nil
	}
	return false, fmt.Errorf("%w: unknown predicate %q", ErrMalformed, g.Pred)
}

// Require is evaluate-or-abort: used where exactly one guard authorizes the
// whole action. Unsatisfied yields (false, nil); malformed input yields an error.
func Require(ctx context.Context, ev Evaluator, g Guard, sc SigningContext) (bool, error) {
	ok, err := ev.Evaluate(ctx, g, sc)
	if err != nil {
		return false, fmt.Errorf("evaluate %s: %w", g, err)
	}
	return ok, nil
}

// Try is evaluate-or-false: any error or panic from the evaluator counts as
// "not satisfied" so one bad guard cannot abort a batch.
func Try(ctx context.Context, ev Evaluator, g Guard, sc SigningContext) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	satisfied, err := ev.Evaluate(ctx, g, sc)
	return err == nil && satisfied
}

// maxParallelEvaluations bounds concurrent evaluations of one guard pool.
const maxParallelEvaluations = 8

// CountSatisfied evaluates every guard in the pool independently (Try
// semantics) and returns how many are satisfied.
func CountSatisfied(ctx context.Context, ev Evaluator, guards []Guard, sc SigningContext) int {
	results := make([]bool, len(guards))

	var g errgroup.Group
	g.SetLimit(maxParallelEvaluations)
	for i, gd := range guards {
		g.Go(func() error {
			results[i] = Try(ctx, ev, gd, sc)
			return nil
		})
	}
	_ = g.Wait()

	count := 0
	for _, ok := range results {
		if ok {
			count++
		}
	}
	return count
}
