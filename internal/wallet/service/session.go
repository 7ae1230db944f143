package service

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"warden/internal/guard"
	"warden/internal/ledger"
	"warden/internal/wallet/idempotency"
	"warden/internal/wallet/models"
	"warden/internal/wallet/policy"
	dErrors "warden/pkg/domain-errors"
	audit "warden/pkg/platform/audit"
	"warden/pkg/platform/sentinel"
	"warden/pkg/requestcontext"
)

var tracer = otel.Tracer("warden/internal/wallet/service")

// Result describes a committed session.
type Result struct {
	Account *models.Account
	Action  models.ActionKind
	// KeysRequired and KeysSigned are set for dynamic transfers.
	KeysRequired int
	KeysSigned   int
}

// execute runs one capability session: validate, reserve the idempotency key,
// then load, decide and commit inside a single unit of work.
func (s *Service) execute(ctx context.Context, accountID string, act models.Action) (*Result, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "wallet.session", trace.WithAttributes(
		attribute.String("wallet.account_id", accountID),
		attribute.String("wallet.action", string(act.Kind)),
	))
	defer span.End()

	variant, res, err := s.session(ctx, accountID, act)
	s.recordOutcome(variant, string(act.Kind), err)
	s.metrics.ObserveSessionLatency(string(act.Kind), time.Since(start))
	span.SetAttributes(attribute.String("wallet.variant", string(variant)))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		s.logAudit(ctx, string(act.Kind), deniedAttrs(accountID, act, err)...)
		return nil, err
	}
	if res.KeysRequired > 0 {
		span.SetAttributes(
			attribute.Int("wallet.keys_required", res.KeysRequired),
			attribute.Int("wallet.keys_signed", res.KeysSigned),
		)
	}
	s.logAudit(ctx, string(act.Kind), committedAttrs(accountID, variant, act)...)
	return res, nil
}

func (s *Service) session(ctx context.Context, accountID string, act models.Action) (models.Variant, *Result, error) {
	if err := models.ValidateAccountID(accountID); err != nil {
		return "", nil, err
	}
	if err := act.Validate(accountID); err != nil {
		return "", nil, err
	}
	release, err := s.reserve(ctx, accountID)
	if err != nil {
		return "", nil, err
	}

	signers := guard.FromContext(ctx)
	now := requestcontext.Now(ctx)

	var (
		variant models.Variant
		res     *Result
	)
	err = s.uow.RunInTx(ctx, func(ctx context.Context, stores TxStores) error {
		acct, err := stores.Accounts.FindByID(ctx, accountID)
		if err != nil {
			return translateError(err, "wallet account not found")
		}
		variant = acct.Variant
		strategy, err := s.policies.For(acct.Variant)
		if err != nil {
			return err
		}

		req := policy.Request{Account: acct, Action: act, Now: now, Signers: signers}
		if act.Kind.MovesFunds() {
			req.Balance, err = stores.Ledger.GetBalance(ctx, acct.ID)
			if err != nil {
				return translateError(err, "wallet ledger account not found")
			}
		}

		decision, err := strategy.Authorize(ctx, req)
		if err != nil {
			return err
		}

		// Every check has passed; from here on a failure rolls the unit back.
		if act.Kind.MovesFunds() {
			if err := s.moveFunds(ctx, stores.Ledger, acct.ID, act, req.Balance); err != nil {
				return err
			}
		}
		if decision.MutatesRecord() {
			expected := acct.Version
			decision.Apply(acct, now)
			if err := stores.Accounts.Update(ctx, acct, expected); err != nil {
				return translateError(err, "wallet account not found")
			}
		}
		res = &Result{
			Account:      acct,
			Action:       act.Kind,
			KeysRequired: decision.KeysRequired,
			KeysSigned:   decision.KeysSigned,
		}
		return nil
	})
	if err != nil {
		release(ctx)
		return variant, nil, translateError(err, "wallet account not found")
	}
	return variant, res, nil
}

// moveFunds performs the ledger side of an authorized transfer. The wallet's
// ledger account is debited under the engine's module grant.
func (s *Service) moveFunds(ctx context.Context, l ledger.Ledger, from string, act models.Action, balance decimal.Decimal) error {
	debitCtx := guard.WithModuleGrant(ctx, s.moduleName)
	if act.Kind != models.ActionSafeTransfer {
		return ledgerError(l.Transfer(debitCtx, from, act.To, act.Amount), act.Amount, balance)
	}

	total := act.Amount.Add(s.safeExtra)
	if err := l.TransferCreate(debitCtx, from, act.To, act.ReceiverGuard, total); err != nil {
		return ledgerError(err, total, balance)
	}
	// The reclaim debits the receiver, so only the caller's signers apply.
	if err := l.Transfer(ctx, act.To, from, s.safeExtra); err != nil {
		if errors.Is(err, sentinel.ErrUnauthorized) {
			return models.GuardRejected(models.TierReceiver)
		}
		return translateError(err, "destination account not found")
	}
	return nil
}

func ledgerError(err error, amount, balance decimal.Decimal) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrInsufficientFunds):
		return models.InsufficientBalance(amount.Sub(balance))
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "destination account not found")
	case errors.Is(err, ledger.ErrGuardMismatch):
		return dErrors.New(dErrors.CodeConflict, "destination account is controlled by a different guard")
	case errors.Is(err, sentinel.ErrUnauthorized):
		return dErrors.Wrap(err, dErrors.CodeInvariantViolation, "wallet ledger account is not controlled by this engine")
	}
	return translateError(err, "ledger account not found")
}

// reserve claims the request's idempotency key. The returned release frees it
// again when the session fails, so a corrected request can reuse the key.
func (s *Service) reserve(ctx context.Context, accountID string) (func(context.Context), error) {
	key := requestcontext.IdempotencyKey(ctx)
	if s.idempotency == nil || key == "" {
		return func(context.Context) {}, nil
	}
	scoped := idempotency.Scope(accountID, key)
	if err := s.idempotency.Reserve(ctx, scoped, s.idempotencyTTL); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			s.metrics.IncrementReplay()
			return nil, dErrors.New(dErrors.CodeConflict, "idempotency key already used")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to reserve idempotency key")
	}
	return func(ctx context.Context) {
		if err := s.idempotency.Release(context.WithoutCancel(ctx), scoped); err != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "failed to release idempotency key", "account_id", accountID, "error", err)
		}
	}, nil
}

// actionTier names the authority an action exercises on a given variant.
func actionTier(v models.Variant, k models.ActionKind) models.Tier {
	switch k {
	case models.ActionTransfer, models.ActionSafeTransfer:
		if v == models.VariantDynamic {
			return models.TierPool
		}
		return models.TierOwner
	case models.ActionRotateOwnerGuard, models.ActionUpdateLimits:
		return models.TierOwner
	case models.ActionLowSecurityTransfer, models.ActionRotateLowSecurityGuard:
		return models.TierLowSecurity
	case models.ActionHighSecurityTransfer, models.ActionRotateHighSecurityGuard,
		models.ActionUpdateMaxLowSecurityAmount, models.ActionUpdateLowSecurityCooldown:
		return models.TierHighSecurity
	case models.ActionRotateGuardPool, models.ActionRotateGuardian:
		return models.TierGuardian
	}
	return ""
}

func actionAttrs(accountID string, act models.Action) []any {
	out := []any{"account_id", accountID}
	if act.Kind.MovesFunds() {
		out = append(out, "counterparty", act.To, "amount", act.Amount)
	}
	return out
}

func committedAttrs(accountID string, v models.Variant, act models.Action) []any {
	return append(actionAttrs(accountID, act),
		"decision", audit.DecisionCommitted,
		"tier", actionTier(v, act.Kind),
	)
}

func deniedAttrs(accountID string, act models.Action, err error) []any {
	out := append(actionAttrs(accountID, act), "decision", audit.DecisionDenied)
	if d, ok := models.AsDenial(err); ok {
		return append(out, "reason", d.Kind, "tier", d.Tier, "detail", d.Error())
	}
	return append(out, "reason", string(dErrors.CodeOf(err)))
}
