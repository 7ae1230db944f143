package main

import (
	"context"
	"database/sql"
	"time"

	"warden/internal/guard"
	"warden/internal/ledger"
	walletservice "warden/internal/wallet/service"
	walletstore "warden/internal/wallet/store"
	dErrors "warden/pkg/domain-errors"
	txctx "warden/pkg/platform/tx"
)

const defaultWalletTxTimeout = 5 * time.Second

// walletPostgresTx runs a capability session inside one database transaction.
// The account store and the ledger share it through the context, so the
// policy record and every balance move commit or roll back together.
type walletPostgresTx struct {
	db       *sql.DB
	accounts *walletstore.PostgresStore
	ledger   *ledger.PostgresLedger
	timeout  time.Duration
}

func newWalletPostgresTx(db *sql.DB, ev guard.Evaluator, timeout time.Duration) *walletPostgresTx {
	return &walletPostgresTx{
		db:       db,
		accounts: walletstore.NewPostgres(db),
		ledger:   ledger.NewPostgres(db, ev),
		timeout:  timeout,
	}
}

func (t *walletPostgresTx) RunInTx(ctx context.Context, fn func(ctx context.Context, stores walletservice.TxStores) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultWalletTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to begin wallet transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(txctx.WithTx(ctx, tx), walletservice.TxStores{Accounts: t.accounts, Ledger: t.ledger}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to commit wallet transaction")
	}
	return nil
}
