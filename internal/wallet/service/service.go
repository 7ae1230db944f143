// Package service is the wallet capability session: every mutating request
// loads the account record, asks the variant's policy strategy for a decision
// and commits the ledger movement and the record update in one unit of work,
// or commits nothing.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"warden/internal/guard"
	"warden/internal/ledger"
	"warden/internal/wallet/metrics"
	"warden/internal/wallet/models"
	"warden/internal/wallet/policy"
	"warden/pkg/attrs"
	dErrors "warden/pkg/domain-errors"
	audit "warden/pkg/platform/audit"
	"warden/pkg/platform/sentinel"
	"warden/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=mocks/service_mock.go -package=mocks

// AccountStore persists wallet account records. Update is optimistic: it fails
// with sentinel.ErrConflict when the stored version is not expectedVersion.
type AccountStore interface {
	Create(ctx context.Context, a *models.Account) error
	FindByID(ctx context.Context, id string) (*models.Account, error)
	Update(ctx context.Context, a *models.Account, expectedVersion int64) error
	FindBySigner(ctx context.Context, key string) ([]*models.Account, error)
}

// TxStores are the stores bound to one unit of work.
type TxStores struct {
	Accounts AccountStore
	Ledger   ledger.Ledger
}

// UnitOfWork runs fn atomically: either every write fn made through stores is
// committed or none is. Units touching the same account are serialized.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, stores TxStores) error) error
}

// IdempotencyStore reserves request keys. Reserve fails with
// sentinel.ErrAlreadyUsed while a reservation is live.
type IdempotencyStore interface {
	Reserve(ctx context.Context, key string, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

const (
	defaultModuleName    = "warden"
	defaultIdempotentTTL = 24 * time.Hour
)

// defaultSafeTransferExtra is the surplus a safe transfer sends on top of
// the payment and reclaims from the receiver.
var defaultSafeTransferExtra = decimal.New(1, -6)

// Service runs capability sessions against wallet accounts.
type Service struct {
	accounts AccountStore
	ledger   ledger.Ledger
	uow      UnitOfWork
	policies policy.Registry

	moduleName     string
	safeExtra      decimal.Decimal
	idempotency    IdempotencyStore
	idempotencyTTL time.Duration

	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithEvaluator replaces the guard evaluator used by every policy strategy.
func WithEvaluator(ev guard.Evaluator) Option {
	return func(s *Service) {
		s.policies = policy.NewRegistry(ev)
	}
}

// WithModuleName names the module guard that controls wallet ledger accounts.
func WithModuleName(name string) Option {
	return func(s *Service) {
		if name != "" {
			s.moduleName = name
		}
	}
}

// WithSafeTransferExtra sets the surplus safe transfers send and reclaim.
func WithSafeTransferExtra(extra decimal.Decimal) Option {
	return func(s *Service) {
		if extra.IsPositive() {
			s.safeExtra = extra
		}
	}
}

// WithIdempotency enables request-key reservations for mutating calls.
func WithIdempotency(store IdempotencyStore, ttl time.Duration) Option {
	return func(s *Service) {
		s.idempotency = store
		if ttl > 0 {
			s.idempotencyTTL = ttl
		}
	}
}

// New constructs a Service. accounts and ledger serve reads outside a unit of
// work; uow binds their transactional counterparts for sessions.
func New(accounts AccountStore, l ledger.Ledger, uow UnitOfWork, opts ...Option) *Service {
	s := &Service{
		accounts:       accounts,
		ledger:         l,
		uow:            uow,
		policies:       policy.NewRegistry(guard.NewEvaluator()),
		moduleName:     defaultModuleName,
		safeExtra:      defaultSafeTransferExtra,
		idempotencyTTL: defaultIdempotentTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ModuleName is the module whose guard controls wallet ledger accounts.
func (s *Service) ModuleName() string {
	return s.moduleName
}

func (s *Service) logAudit(ctx context.Context, event string, attributes ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	attributes = append(attributes, "signers", guard.FromContext(ctx).Signers())
	args := append(attributes, "event", event, "log_type", "audit")
	if s.logger != nil {
		s.logger.InfoContext(ctx, event, args...)
	}
	if s.auditPublisher == nil {
		return
	}
	ev := audit.Event{
		AccountID:    attrs.ExtractString(attributes, "account_id"),
		Action:       event,
		Decision:     attrs.ExtractString(attributes, "decision"),
		Reason:       attrs.ExtractString(attributes, "reason"),
		Counterparty: attrs.ExtractString(attributes, "counterparty"),
		Amount:       attrs.ExtractString(attributes, "amount"),
		Tier:         attrs.ExtractString(attributes, "tier"),
		Signers:      attrs.ExtractStrings(attributes, "signers"),
		RequestID:    attrs.ExtractString(attributes, "request_id"),
		Timestamp:    requestcontext.Now(ctx),
	}
	if ev.Decision == audit.DecisionDenied {
		ev.Category = audit.EventActionDenied.Category()
	}
	if err := s.auditPublisher.Emit(ctx, ev); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "failed to publish audit event", "event", event, "error", err)
	}
}

// translateError maps store and ledger facts onto coded errors. Denials and
// errors that already carry a code pass through unchanged.
func translateError(err error, notFound string) error {
	if err == nil {
		return nil
	}
	var coded *dErrors.Error
	if errors.As(err, &coded) {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "wallet session aborted")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, notFound)
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return dErrors.New(dErrors.CodeConflict, "wallet account already exists")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "wallet account was modified concurrently")
	case errors.Is(err, ledger.ErrInvalidAmount):
		return dErrors.New(dErrors.CodeValidation, "amount must be non-negative")
	case errors.Is(err, ledger.ErrSameAccount):
		return dErrors.New(dErrors.CodeValidation, "cannot transfer to the same account")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "wallet session failed")
}

func (s *Service) recordOutcome(variant models.Variant, action string, err error) {
	if s.metrics == nil {
		return
	}
	switch d, denied := models.AsDenial(err); {
	case err == nil:
		s.metrics.IncrementOutcome(string(variant), action, "committed")
	case denied:
		s.metrics.IncrementOutcome(string(variant), action, "denied")
		s.metrics.IncrementDenial(string(d.Kind))
	default:
		s.metrics.IncrementOutcome(string(variant), action, "error")
	}
}
