package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"warden/internal/guard"
	"warden/internal/platform/postgres"
	"warden/pkg/platform/sentinel"
	txctx "warden/pkg/platform/tx"
)

// PostgresLedger keeps ledger accounts in the ledger_accounts table. It joins
// the *sql.Tx carried by ctx; without one, each mutating call opens its own.
type PostgresLedger struct {
	db        *sql.DB
	evaluator guard.Evaluator
}

// NewPostgres constructs a PostgreSQL-backed ledger. Debits are authorized with ev.
func NewPostgres(db *sql.DB, ev guard.Evaluator) *PostgresLedger {
	if ev == nil {
		ev = guard.NewEvaluator()
	}
	return &PostgresLedger{db: db, evaluator: ev}
}

func (l *PostgresLedger) CreateAccount(ctx context.Context, account string, g guard.Guard) error {
	if err := g.Validate(); err != nil {
		return fmt.Errorf("create ledger account %s: %w", account, err)
	}
	raw, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal guard: %w", err)
	}
	_, err = txctx.Conn(ctx, l.db).ExecContext(ctx,
		`INSERT INTO ledger_accounts (id, guard, balance) VALUES ($1, $2, 0)`,
		account, raw,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("ledger account %s: %w", account, sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("create ledger account: %w", err)
	}
	return nil
}

func (l *PostgresLedger) GetBalance(ctx context.Context, account string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := txctx.Conn(ctx, l.db).QueryRowContext(ctx,
		`SELECT balance FROM ledger_accounts WHERE id = $1`, account,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("ledger account %s: %w", account, sentinel.ErrNotFound)
		}
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

func (l *PostgresLedger) Guard(ctx context.Context, account string) (guard.Guard, error) {
	return l.loadGuard(ctx, txctx.Conn(ctx, l.db), account, false)
}

func (l *PostgresLedger) Transfer(ctx context.Context, from, to string, amount decimal.Decimal) error {
	return l.transfer(ctx, from, to, nil, amount)
}

func (l *PostgresLedger) TransferCreate(ctx context.Context, from, to string, toGuard guard.Guard, amount decimal.Decimal) error {
	return l.transfer(ctx, from, to, &toGuard, amount)
}

func (l *PostgresLedger) Deposit(ctx context.Context, account string, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	res, err := txctx.Conn(ctx, l.db).ExecContext(ctx,
		`UPDATE ledger_accounts SET balance = balance + $2 WHERE id = $1`,
		account, amount,
	)
	if err != nil {
		return fmt.Errorf("deposit: %w", err)
	}
	return requireRow(res, account)
}

func (l *PostgresLedger) transfer(ctx context.Context, from, to string, toGuard *guard.Guard, amount decimal.Decimal) error {
	if err := checkTransfer(from, to, amount); err != nil {
		return err
	}
	err := l.inTx(ctx, func(ctx context.Context, q txctx.DBTX) error {
		if err := lockPair(ctx, q, from, to); err != nil {
			return err
		}
		src, err := l.loadGuard(ctx, q, from, true)
		if err != nil {
			return err
		}
		if err := authorizeDebit(ctx, l.evaluator, from, src); err != nil {
			return err
		}

		res, err := q.ExecContext(ctx,
			`UPDATE ledger_accounts SET balance = balance - $2 WHERE id = $1 AND balance >= $2`,
			from, amount,
		)
		if err != nil {
			return fmt.Errorf("debit: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("debit rows affected: %w", err)
		} else if n == 0 {
			return fmt.Errorf("debit %s from %s: %w", amount, from, sentinel.ErrInsufficientFunds)
		}

		if toGuard != nil {
			if err := l.ensureReceiver(ctx, q, to, *toGuard); err != nil {
				return err
			}
		}
		res, err = q.ExecContext(ctx,
			`UPDATE ledger_accounts SET balance = balance + $2 WHERE id = $1`,
			to, amount,
		)
		if err != nil {
			return fmt.Errorf("credit: %w", err)
		}
		return requireRow(res, to)
	})
	if postgres.IsTransientConflict(err) {
		return fmt.Errorf("transfer %s -> %s: %w", from, to, sentinel.ErrConflict)
	}
	return err
}

// lockPair locks both ledger rows in id order so opposite transfers between
// the same two accounts queue instead of deadlocking. A missing receiver
// simply yields no row.
func lockPair(ctx context.Context, q txctx.DBTX, from, to string) error {
	ids := []string{from, to}
	slices.Sort(ids)
	rows, err := q.QueryContext(ctx,
		`SELECT id FROM ledger_accounts WHERE id = ANY($1) ORDER BY id FOR UPDATE`,
		pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("lock ledger accounts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("lock ledger accounts: %w", err)
	}
	return nil
}

// ensureReceiver creates the receiving account under g, or checks that the
// existing account is controlled by g.
func (l *PostgresLedger) ensureReceiver(ctx context.Context, q txctx.DBTX, account string, g guard.Guard) error {
	existing, err := l.loadGuard(ctx, q, account, true)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		if err := g.Validate(); err != nil {
			return fmt.Errorf("create ledger account %s: %w", account, err)
		}
		raw, err := json.Marshal(g)
		if err != nil {
			return fmt.Errorf("marshal guard: %w", err)
		}
		if _, err := q.ExecContext(ctx,
			`INSERT INTO ledger_accounts (id, guard, balance) VALUES ($1, $2, 0)`,
			account, raw,
		); err != nil {
			return fmt.Errorf("create receiving account: %w", err)
		}
		return nil
	case err != nil:
		return err
	case !existing.Equal(g):
		return fmt.Errorf("ledger account %s: %w", account, ErrGuardMismatch)
	}
	return nil
}

func (l *PostgresLedger) loadGuard(ctx context.Context, q txctx.DBTX, account string, forUpdate bool) (guard.Guard, error) {
	query := `SELECT guard FROM ledger_accounts WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var raw []byte
	if err := q.QueryRowContext(ctx, query, account).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return guard.Guard{}, fmt.Errorf("ledger account %s: %w", account, sentinel.ErrNotFound)
		}
		return guard.Guard{}, fmt.Errorf("load ledger guard: %w", err)
	}
	var g guard.Guard
	if err := json.Unmarshal(raw, &g); err != nil {
		return guard.Guard{}, fmt.Errorf("decode ledger guard: %w", err)
	}
	return g, nil
}

// inTx runs fn inside the transaction in ctx, or inside a new one.
func (l *PostgresLedger) inTx(ctx context.Context, fn func(ctx context.Context, q txctx.DBTX) error) error {
	if tx, ok := txctx.From(ctx); ok {
		return fn(ctx, tx)
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger transfer: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if err := fn(txctx.WithTx(ctx, tx), tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger transfer: %w", err)
	}
	return nil
}

func requireRow(res sql.Result, account string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("ledger account %s: %w", account, sentinel.ErrNotFound)
	}
	return nil
}
