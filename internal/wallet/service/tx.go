package service

import (
	"context"
	"sync"
	"time"

	"warden/internal/ledger"
	"warden/internal/wallet/store"
	dErrors "warden/pkg/domain-errors"
)

// defaultSessionTimeout bounds a session whose context carries no deadline.
const defaultSessionTimeout = 5 * time.Second

// MemoryUnitOfWork runs sessions against the in-memory store and ledger.
// Writes are staged in overlays and published only when fn succeeds.
//
// Sessions credit accounts other than their own, so one lock serializes all
// of them rather than one lock per wallet.
type MemoryUnitOfWork struct {
	mu       sync.Mutex
	accounts *store.InMemoryStore
	ledger   *ledger.Memory
	timeout  time.Duration
}

func NewMemoryUnitOfWork(accounts *store.InMemoryStore, l *ledger.Memory) *MemoryUnitOfWork {
	return &MemoryUnitOfWork{accounts: accounts, ledger: l, timeout: defaultSessionTimeout}
}

func (u *MemoryUnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context, stores TxStores) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	// Check again after acquiring lock
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	accountsTx := u.accounts.Begin()
	ledgerTx := u.ledger.Begin()
	if err := fn(ctx, TxStores{Accounts: accountsTx, Ledger: ledgerTx}); err != nil {
		accountsTx.Rollback()
		ledgerTx.Rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		accountsTx.Rollback()
		ledgerTx.Rollback()
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted before commit")
	}
	accountsTx.Commit()
	ledgerTx.Commit()
	return nil
}
