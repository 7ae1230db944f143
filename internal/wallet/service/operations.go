package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"warden/internal/guard"
	"warden/internal/wallet/models"
	dErrors "warden/pkg/domain-errors"
	audit "warden/pkg/platform/audit"
	"warden/pkg/requestcontext"
)

// CreateWallet stores a new account record and opens its ledger account under
// the engine's module guard, both in one unit of work.
func (s *Service) CreateWallet(ctx context.Context, req *models.CreateWalletRequest) (*models.Account, error) {
	req.Normalize()
	acct, err := req.Build(requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}

	err = s.uow.RunInTx(ctx, func(ctx context.Context, stores TxStores) error {
		if err := stores.Accounts.Create(ctx, acct); err != nil {
			return translateError(err, "wallet account not found")
		}
		if err := stores.Ledger.CreateAccount(ctx, acct.ID, guard.NewModule(s.moduleName)); err != nil {
			return translateError(err, "wallet account not found")
		}
		return nil
	})
	if err != nil {
		return nil, translateError(err, "wallet account not found")
	}

	s.logAudit(ctx, string(audit.EventWalletCreated),
		"account_id", acct.ID,
		"decision", audit.DecisionCommitted,
		"variant", string(acct.Variant),
	)
	if s.metrics != nil {
		s.metrics.IncrementWalletCreated(string(acct.Variant))
	}
	return acct, nil
}

// Deposit credits a wallet from outside the ledger and returns the new
// balance. Credits need no guard.
func (s *Service) Deposit(ctx context.Context, accountID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := models.ValidateAccountID(accountID); err != nil {
		return decimal.Zero, err
	}
	if !amount.IsPositive() {
		return decimal.Zero, dErrors.New(dErrors.CodeValidation, "deposit amount must be positive")
	}
	release, err := s.reserve(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}

	var balance decimal.Decimal
	err = s.uow.RunInTx(ctx, func(ctx context.Context, stores TxStores) error {
		if _, err := stores.Accounts.FindByID(ctx, accountID); err != nil {
			return translateError(err, "wallet account not found")
		}
		if err := stores.Ledger.Deposit(ctx, accountID, amount); err != nil {
			return translateError(err, "wallet ledger account not found")
		}
		b, err := stores.Ledger.GetBalance(ctx, accountID)
		if err != nil {
			return translateError(err, "wallet ledger account not found")
		}
		balance = b
		return nil
	})
	if err != nil {
		release(ctx)
		return decimal.Zero, translateError(err, "wallet account not found")
	}

	s.logAudit(ctx, string(audit.EventDeposit),
		"account_id", accountID,
		"decision", audit.DecisionCommitted,
		"amount", amount.String(),
	)
	return balance, nil
}

// Transfer moves amount out of a static or dynamic wallet.
func (s *Service) Transfer(ctx context.Context, accountID, to string, amount decimal.Decimal) (*Result, error) {
	return s.execute(ctx, accountID, models.TransferAction(to, amount))
}

// SafeTransfer pays amount to an account that must be controlled by
// receiverGuard. The caller proves control by co-signing with the receiver's
// keys, which reclaims the surplus inside the same unit of work.
func (s *Service) SafeTransfer(ctx context.Context, accountID, to string, receiverGuard guard.Guard, amount decimal.Decimal) (*Result, error) {
	return s.execute(ctx, accountID, models.SafeTransferAction(to, receiverGuard, amount))
}

func (s *Service) LowSecurityTransfer(ctx context.Context, accountID, to string, amount decimal.Decimal) (*Result, error) {
	return s.execute(ctx, accountID, models.LowSecurityTransferAction(to, amount))
}

func (s *Service) HighSecurityTransfer(ctx context.Context, accountID, to string, amount decimal.Decimal) (*Result, error) {
	return s.execute(ctx, accountID, models.HighSecurityTransferAction(to, amount))
}

func (s *Service) RotateOwnerGuard(ctx context.Context, accountID string, g guard.Guard) (*Result, error) {
	return s.execute(ctx, accountID, models.RotateAction(models.ActionRotateOwnerGuard, g))
}

func (s *Service) RotateLowSecurityGuard(ctx context.Context, accountID string, g guard.Guard) (*Result, error) {
	return s.execute(ctx, accountID, models.RotateAction(models.ActionRotateLowSecurityGuard, g))
}

func (s *Service) RotateHighSecurityGuard(ctx context.Context, accountID string, g guard.Guard) (*Result, error) {
	return s.execute(ctx, accountID, models.RotateAction(models.ActionRotateHighSecurityGuard, g))
}

// RotateGuardPool replaces the dynamic wallet's whole pool. The pool size m
// follows the new pool.
func (s *Service) RotateGuardPool(ctx context.Context, accountID string, pool []guard.Guard) (*Result, error) {
	return s.execute(ctx, accountID, models.RotateGuardPoolAction(pool))
}

func (s *Service) RotateGuardian(ctx context.Context, accountID string, g guard.Guard) (*Result, error) {
	return s.execute(ctx, accountID, models.RotateAction(models.ActionRotateGuardian, g))
}

func (s *Service) UpdateLimits(ctx context.Context, accountID string, limits models.StaticLimits) (*Result, error) {
	return s.execute(ctx, accountID, models.UpdateLimitsAction(limits))
}

func (s *Service) UpdateMaxLowSecurityAmount(ctx context.Context, accountID string, amount decimal.Decimal) (*Result, error) {
	return s.execute(ctx, accountID, models.UpdateMaxLowSecurityAmountAction(amount))
}

func (s *Service) UpdateLowSecurityCooldown(ctx context.Context, accountID string, cooldown time.Duration) (*Result, error) {
	return s.execute(ctx, accountID, models.UpdateLowSecurityCooldownAction(cooldown))
}
