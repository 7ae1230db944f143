package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"warden/internal/guard"
	"warden/internal/wallet/models"
	"warden/internal/wallet/policy"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/requestcontext"
)

// Reads never open a unit of work and never write.

func (s *Service) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	if err := models.ValidateAccountID(accountID); err != nil {
		return nil, err
	}
	acct, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, translateError(err, "wallet account not found")
	}
	return acct, nil
}

func (s *Service) GetBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	if _, err := s.GetAccount(ctx, accountID); err != nil {
		return decimal.Zero, err
	}
	balance, err := s.ledger.GetBalance(ctx, accountID)
	if err != nil {
		return decimal.Zero, translateError(err, "wallet ledger account not found")
	}
	return balance, nil
}

// KeysEstimate is the pool signature requirement of a prospective dynamic
// transfer.
type KeysEstimate struct {
	Needed  int
	PoolM   int
	Balance decimal.Decimal
}

// KeysNeeded reports how many pool signatures a transfer of amount would need
// from a dynamic wallet at its current balance.
func (s *Service) KeysNeeded(ctx context.Context, accountID string, amount decimal.Decimal) (*KeysEstimate, error) {
	acct, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct.Variant != models.VariantDynamic {
		return nil, dErrors.New(dErrors.CodeBadRequest, "keys needed applies to dynamic wallets only")
	}
	balance, err := s.ledger.GetBalance(ctx, accountID)
	if err != nil {
		return nil, translateError(err, "wallet ledger account not found")
	}
	needed, err := policy.KeysNeeded(amount, balance, acct.Dynamic.M())
	if err != nil {
		return nil, err
	}
	return &KeysEstimate{Needed: needed, PoolM: acct.Dynamic.M(), Balance: balance}, nil
}

// Preview is the outcome of a dry-run authorization.
type Preview struct {
	Allowed      bool
	Denial       *models.Denial
	KeysRequired int
	KeysSigned   int
}

// CheckTransfer runs the policy decision for act against the current record
// and balance without committing anything. Policy denials are reported in the
// Preview; other failures are returned as errors.
func (s *Service) CheckTransfer(ctx context.Context, accountID string, act models.Action) (*Preview, error) {
	if err := act.Validate(accountID); err != nil {
		return nil, err
	}
	acct, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	strategy, err := s.policies.For(acct.Variant)
	if err != nil {
		return nil, err
	}
	req := policy.Request{
		Account: acct,
		Action:  act,
		Now:     requestcontext.Now(ctx),
		Signers: guard.FromContext(ctx),
	}
	if act.Kind.MovesFunds() {
		if req.Balance, err = s.ledger.GetBalance(ctx, accountID); err != nil {
			return nil, translateError(err, "wallet ledger account not found")
		}
	}
	decision, err := strategy.Authorize(ctx, req)
	if err != nil {
		if d, ok := models.AsDenial(err); ok {
			return &Preview{Denial: d}, nil
		}
		return nil, err
	}
	return &Preview{Allowed: true, KeysRequired: decision.KeysRequired, KeysSigned: decision.KeysSigned}, nil
}

// FindBySigner lists the wallets whose guards name key, ordered by ID.
func (s *Service) FindBySigner(ctx context.Context, key string) ([]*models.Account, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "signer key is required")
	}
	accounts, err := s.accounts.FindBySigner(ctx, key)
	if err != nil {
		return nil, translateError(err, "wallet account not found")
	}
	return accounts, nil
}
