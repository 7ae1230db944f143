package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"warden/internal/platform/postgres"
	"warden/internal/wallet/models"
	"warden/pkg/platform/sentinel"
	txctx "warden/pkg/platform/tx"
)

// PostgresStore persists wallet account records in the wallet_accounts table.
// It is pure I/O: policy decisions and record mutations belong to the service.
// Inside a unit of work (a *sql.Tx in ctx) FindByID locks the row.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const selectColumns = `SELECT id, variant, policy, version, created_at, updated_at FROM wallet_accounts`

func (s *PostgresStore) Create(ctx context.Context, a *models.Account) error {
	raw, err := encodePolicy(a)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO wallet_accounts (id, variant, policy, signer_keys, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = txctx.Conn(ctx, s.db).ExecContext(ctx, query,
		a.ID,
		string(a.Variant),
		raw,
		pq.Array(a.SignerKeys()),
		a.Version,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("wallet account %s: %w", a.ID, sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("create wallet account: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (*models.Account, error) {
	query := selectColumns + ` WHERE id = $1`
	if _, inTx := txctx.From(ctx); inTx {
		query += ` FOR UPDATE`
	}
	a, err := scanAccount(txctx.Conn(ctx, s.db).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("wallet account %s: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find wallet account: %w", err)
	}
	return a, nil
}

// Update writes a only if the stored version still equals expectedVersion.
func (s *PostgresStore) Update(ctx context.Context, a *models.Account, expectedVersion int64) error {
	raw, err := encodePolicy(a)
	if err != nil {
		return err
	}
	query := `
		UPDATE wallet_accounts
		SET policy = $2, signer_keys = $3, version = $4, updated_at = $5
		WHERE id = $1 AND version = $6
	`
	res, err := txctx.Conn(ctx, s.db).ExecContext(ctx, query,
		a.ID,
		raw,
		pq.Array(a.SignerKeys()),
		a.Version,
		a.UpdatedAt,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update wallet account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update wallet account rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("wallet account %s at version %d: %w", a.ID, expectedVersion, sentinel.ErrConflict)
	}
	return nil
}

// FindBySigner lists the accounts whose guards name key, ordered by id.
func (s *PostgresStore) FindBySigner(ctx context.Context, key string) ([]*models.Account, error) {
	query := selectColumns + ` WHERE signer_keys @> $1 ORDER BY id`
	rows, err := txctx.Conn(ctx, s.db).QueryContext(ctx, query, pq.Array([]string{key}))
	if err != nil {
		return nil, fmt.Errorf("find wallet accounts by signer: %w", err)
	}
	defer rows.Close()

	var out []*models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wallet account: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wallet accounts: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var (
		a       models.Account
		variant string
		raw     []byte
	)
	if err := row.Scan(&a.ID, &variant, &raw, &a.Version, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Variant = models.Variant(variant)
	if err := decodePolicy(&a, raw); err != nil {
		return nil, err
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("stored wallet account %s: %w", a.ID, err)
	}
	return &a, nil
}

func encodePolicy(a *models.Account) ([]byte, error) {
	var policy any
	switch a.Variant {
	case models.VariantStatic:
		policy = a.Static
	case models.VariantTwoTier:
		policy = a.TwoTier
	case models.VariantDynamic:
		policy = a.Dynamic
	default:
		return nil, fmt.Errorf("encode policy: unknown variant %q", a.Variant)
	}
	raw, err := json.Marshal(policy)
	if err != nil {
		return nil, fmt.Errorf("encode policy: %w", err)
	}
	return raw, nil
}

func decodePolicy(a *models.Account, raw []byte) error {
	var target any
	switch a.Variant {
	case models.VariantStatic:
		a.Static = &models.StaticPolicy{}
		target = a.Static
	case models.VariantTwoTier:
		a.TwoTier = &models.TwoTierPolicy{}
		target = a.TwoTier
	case models.VariantDynamic:
		a.Dynamic = &models.DynamicPolicy{}
		target = a.Dynamic
	default:
		return fmt.Errorf("decode policy: unknown variant %q", a.Variant)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("decode policy: %w", err)
	}
	return nil
}
