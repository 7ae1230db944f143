// Package ledger is the value ledger the wallet engine calls into: balance
// storage, transfer execution and account creation.
//
// Every ledger account has a controlling guard. Debits evaluate that guard
// against the signing context carried by ctx; credits need no authority.
// Wallet accounts are controlled by a module guard, so only the wallet engine
// (which adds its module grant to ctx) can move their funds.
//
// Calls join the caller's unit of work: the in-memory ledger through Begin and
// MemoryTx.Commit, the Postgres ledger through the *sql.Tx in ctx.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"warden/internal/guard"
	"warden/pkg/platform/sentinel"
)

//go:generate mockgen -source=ledger.go -destination=mocks/ledger_mock.go -package=mocks

var (
	// ErrGuardMismatch is returned by TransferCreate when the receiving account
	// exists under a different controlling guard.
	ErrGuardMismatch = errors.New("receiving account guard mismatch")
	// ErrInvalidAmount is returned for negative amounts.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrSameAccount is returned for transfers whose source and destination match.
	ErrSameAccount = errors.New("source and destination account are the same")
)

// Ledger is the port the wallet engine uses. Errors are sentinel facts:
// sentinel.ErrNotFound, sentinel.ErrAlreadyUsed, sentinel.ErrInsufficientFunds,
// sentinel.ErrUnauthorized, ErrGuardMismatch, ErrInvalidAmount and
// ErrSameAccount.
type Ledger interface {
	CreateAccount(ctx context.Context, account string, g guard.Guard) error
	GetBalance(ctx context.Context, account string) (decimal.Decimal, error)
	Guard(ctx context.Context, account string) (guard.Guard, error)
	Transfer(ctx context.Context, from, to string, amount decimal.Decimal) error
	// TransferCreate transfers to an account, creating it under toGuard when it
	// does not exist yet. An existing receiver must be controlled by toGuard.
	TransferCreate(ctx context.Context, from, to string, toGuard guard.Guard, amount decimal.Decimal) error
	// Deposit credits an existing account from outside the ledger.
	Deposit(ctx context.Context, account string, amount decimal.Decimal) error
}

func checkAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	return nil
}

func checkTransfer(from, to string, amount decimal.Decimal) error {
	if from == to {
		return fmt.Errorf("%w: %s", ErrSameAccount, from)
	}
	return checkAmount(amount)
}

// authorizeDebit evaluates the controlling guard of the debited account
// against the signing context in ctx.
func authorizeDebit(ctx context.Context, ev guard.Evaluator, account string, g guard.Guard) error {
	ok, err := guard.Require(ctx, ev, g, guard.FromContext(ctx))
	if err != nil {
		return fmt.Errorf("authorize debit of %s: %w", account, err)
	}
	if !ok {
		return fmt.Errorf("debit of %s: %w", account, sentinel.ErrUnauthorized)
	}
	return nil
}
