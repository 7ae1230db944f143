package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"warden/internal/guard"
	"warden/internal/ledger"
	"warden/internal/wallet/idempotency"
	"warden/internal/wallet/models"
	"warden/internal/wallet/service/mocks"
	"warden/internal/wallet/store"
	dErrors "warden/pkg/domain-errors"
	audit "warden/pkg/platform/audit"
	auditpublisher "warden/pkg/platform/audit/publisher"
	auditmemory "warden/pkg/platform/audit/store/memory"
	"warden/pkg/platform/sentinel"
	"warden/pkg/requestcontext"
)

func key(n int) string {
	return fmt.Sprintf("%064x", n)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func keyset(keys ...int) guard.Guard {
	hex := make([]string, len(keys))
	for i, k := range keys {
		hex[i] = key(k)
	}
	return guard.MustKeyset(guard.KeysAll, hex...)
}

func denialOf(t *testing.T, err error) *models.Denial {
	t.Helper()
	require.Error(t, err)
	d, ok := models.AsDenial(err)
	require.True(t, ok, "expected a denial, got %v", err)
	return d
}

type ServiceSuite struct {
	suite.Suite
	t0       time.Time
	ledger   *ledger.Memory
	accounts *store.InMemoryStore
	events   *auditmemory.InMemoryStore
	service  *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.ledger = ledger.NewMemory(guard.NewEvaluator())
	s.accounts = store.NewInMemoryStore()
	s.events = auditmemory.NewInMemoryStore()
	s.service = New(s.accounts, s.ledger, NewMemoryUnitOfWork(s.accounts, s.ledger),
		WithAuditPublisher(auditpublisher.NewPublisher(s.events)),
		WithIdempotency(idempotency.NewInMemoryStore(nil), time.Hour),
	)
}

// signedAt builds a request context at t signed by the given test keys.
func (s *ServiceSuite) signedAt(t time.Time, keys ...int) context.Context {
	hex := make([]string, len(keys))
	for i, k := range keys {
		hex[i] = key(k)
	}
	ctx := guard.WithSigningContext(context.Background(), guard.NewSigningContext(hex...))
	return requestcontext.WithTime(ctx, t)
}

func (s *ServiceSuite) signed(keys ...int) context.Context {
	return s.signedAt(s.t0, keys...)
}

func (s *ServiceSuite) createStatic(id string, maxW, minB string, cooldown time.Duration, balance string) {
	_, err := s.service.CreateWallet(s.signed(), &models.CreateWalletRequest{
		AccountID: id,
		Variant:   models.VariantStatic,
		Static: &models.StaticPolicy{
			OwnerGuard:    keyset(1),
			MaxWithdrawal: dec(maxW),
			MinBalance:    dec(minB),
			Cooldown:      cooldown,
		},
	})
	s.Require().NoError(err)
	s.fund(id, balance)
}

func (s *ServiceSuite) createTwoTier(id string, maxLow string, cooldown time.Duration, balance string) {
	_, err := s.service.CreateWallet(s.signed(), &models.CreateWalletRequest{
		AccountID: id,
		Variant:   models.VariantTwoTier,
		TwoTier: &models.TwoTierPolicy{
			LowSecurityGuard:     keyset(1),
			HighSecurityGuard:    keyset(2),
			MaxLowSecurityAmount: dec(maxLow),
			LowSecurityCooldown:  cooldown,
		},
	})
	s.Require().NoError(err)
	s.fund(id, balance)
}

func (s *ServiceSuite) createDynamic(id string, balance string) {
	_, err := s.service.CreateWallet(s.signed(), &models.CreateWalletRequest{
		AccountID: id,
		Variant:   models.VariantDynamic,
		Dynamic: &models.DynamicPolicy{
			Guards:        []guard.Guard{keyset(1), keyset(2)},
			GuardianGuard: keyset(3),
		},
	})
	s.Require().NoError(err)
	s.fund(id, balance)
}

func (s *ServiceSuite) fund(id, amount string) {
	if dec(amount).IsZero() {
		return
	}
	_, err := s.service.Deposit(s.signed(), id, dec(amount))
	s.Require().NoError(err)
}

func (s *ServiceSuite) openDestination(id string) {
	s.Require().NoError(s.ledger.CreateAccount(context.Background(), id, keyset(9)))
}

func (s *ServiceSuite) balance(id string) decimal.Decimal {
	b, err := s.ledger.GetBalance(context.Background(), id)
	s.Require().NoError(err)
	return b
}

func (s *ServiceSuite) record(id string) *models.Account {
	a, err := s.accounts.FindByID(context.Background(), id)
	s.Require().NoError(err)
	return a
}

func (s *ServiceSuite) TestCreateWallet() {
	s.Run("creates record and module-controlled ledger account", func() {
		s.createStatic("alice", "20", "0", 0, "0")

		acct := s.record("alice")
		s.Equal(models.VariantStatic, acct.Variant)
		s.Equal(int64(1), acct.Version)
		s.True(acct.Static.LastActivityAt.IsZero())

		g, err := s.ledger.Guard(context.Background(), "alice")
		s.Require().NoError(err)
		s.True(g.Equal(guard.NewModule("warden")))
		s.True(s.balance("alice").IsZero())
	})

	s.Run("duplicate id is a conflict", func() {
		_, err := s.service.CreateWallet(s.signed(), &models.CreateWalletRequest{
			AccountID: "alice",
			Variant:   models.VariantStatic,
			Static:    &models.StaticPolicy{OwnerGuard: keyset(4)},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.True(s.record("alice").Static.OwnerGuard.Equal(keyset(1)))
	})

	s.Run("existing ledger account rolls back the record", func() {
		s.openDestination("carol")
		_, err := s.service.CreateWallet(s.signed(), &models.CreateWalletRequest{
			AccountID: "carol",
			Variant:   models.VariantStatic,
			Static:    &models.StaticPolicy{OwnerGuard: keyset(1)},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		_, err = s.accounts.FindByID(context.Background(), "carol")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("policy must match the variant", func() {
		_, err := s.service.CreateWallet(s.signed(), &models.CreateWalletRequest{
			AccountID: "dora",
			Variant:   models.VariantDynamic,
			Static:    &models.StaticPolicy{OwnerGuard: keyset(1)},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("duplicated dynamic pool is rejected", func() {
		_, err := s.service.CreateWallet(s.signed(), &models.CreateWalletRequest{
			AccountID: "erin",
			Variant:   models.VariantDynamic,
			Dynamic: &models.DynamicPolicy{
				Guards:        []guard.Guard{keyset(1), keyset(1)},
				GuardianGuard: keyset(3),
			},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		_, err = s.accounts.FindByID(context.Background(), "erin")
		s.ErrorIs(err, sentinel.ErrNotFound)
		_, err = s.ledger.Guard(context.Background(), "erin")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("audits the creation", func() {
		events, err := s.events.ListByAccount(context.Background(), "alice")
		s.Require().NoError(err)
		s.Require().NotEmpty(events)
		s.Equal(string(audit.EventWalletCreated), events[0].Action)
		s.Equal(audit.DecisionCommitted, events[0].Decision)
	})
}

func (s *ServiceSuite) TestStaticReserveScenario() {
	s.createStatic("alice", "20", "20", 0, "25")
	s.openDestination("bob")

	_, err := s.service.Transfer(s.signed(1), "alice", "bob", dec("5.01"))
	d := denialOf(s.T(), err)
	s.Equal(models.DenialInsufficientReserve, d.Kind)
	s.True(d.Shortfall.Equal(dec("0.01")))
	s.True(s.balance("alice").Equal(dec("25")))

	res, err := s.service.Transfer(s.signed(1), "alice", "bob", dec("5.0"))
	s.Require().NoError(err)
	s.Equal(int64(2), res.Account.Version)
	s.True(s.balance("alice").Equal(dec("20")))
	s.True(s.balance("bob").Equal(dec("5")))
}

func (s *ServiceSuite) TestStaticLimitBoundaryIsInclusive() {
	s.createStatic("alice", "20", "0", 0, "100")
	s.openDestination("bob")

	_, err := s.service.Transfer(s.signed(1), "alice", "bob", dec("20"))
	s.Require().NoError(err)

	_, err = s.service.Transfer(s.signed(1), "alice", "bob", dec("20.5"))
	d := denialOf(s.T(), err)
	s.Equal(models.DenialLimitExceeded, d.Kind)
	s.True(d.Excess.Equal(dec("0.5")))
}

func (s *ServiceSuite) TestCooldownExactness() {
	s.createStatic("alice", "100", "0", time.Minute, "100")
	s.openDestination("bob")

	_, err := s.service.Transfer(s.signedAt(s.t0, 1), "alice", "bob", dec("1"))
	s.Require().NoError(err)
	s.Equal(s.t0, s.record("alice").Static.LastActivityAt)

	_, err = s.service.Transfer(s.signedAt(s.t0.Add(59*time.Second), 1), "alice", "bob", dec("1"))
	d := denialOf(s.T(), err)
	s.Equal(models.DenialRateLimited, d.Kind)
	s.Equal(time.Second, d.RetryAfter)
	s.True(dErrors.Is(err, dErrors.CodeRateLimited))

	_, err = s.service.Transfer(s.signedAt(s.t0.Add(time.Minute), 1), "alice", "bob", dec("1"))
	s.Require().NoError(err)
	s.True(s.balance("alice").Equal(dec("98")))
}

func (s *ServiceSuite) TestRejectionMutatesNothing() {
	s.createStatic("alice", "100", "0", time.Minute, "50")
	s.openDestination("bob")
	before := s.record("alice")

	_, err := s.service.Transfer(s.signed(7), "alice", "bob", dec("10"))
	d := denialOf(s.T(), err)
	s.Equal(models.DenialGuardRejected, d.Kind)
	s.Equal(models.TierOwner, d.Tier)

	after := s.record("alice")
	s.Equal(before.Version, after.Version)
	s.True(after.Static.LastActivityAt.IsZero())
	s.True(s.balance("alice").Equal(dec("50")))
	s.True(s.balance("bob").IsZero())

	events, err := s.events.ListByAccount(context.Background(), "alice")
	s.Require().NoError(err)
	last := events[len(events)-1]
	s.Equal(string(models.ActionTransfer), last.Action)
	s.Equal(audit.DecisionDenied, last.Decision)
	s.Equal(string(models.DenialGuardRejected), last.Reason)
	s.Equal(audit.CategorySecurity, last.Category)
}

func (s *ServiceSuite) TestTransferToMissingDestination() {
	s.createStatic("alice", "100", "0", time.Minute, "50")

	_, err := s.service.Transfer(s.signed(1), "alice", "nobody", dec("10"))
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	s.True(s.record("alice").Static.LastActivityAt.IsZero())
	s.True(s.balance("alice").Equal(dec("50")))
}

func (s *ServiceSuite) TestZeroAmountStillChecksGuard() {
	s.createStatic("alice", "100", "0", 0, "50")
	s.openDestination("bob")

	_, err := s.service.Transfer(s.signed(), "alice", "bob", decimal.Zero)
	s.Equal(models.DenialGuardRejected, denialOf(s.T(), err).Kind)

	_, err = s.service.Transfer(s.signed(1), "alice", "bob", decimal.Zero)
	s.NoError(err)
}

func (s *ServiceSuite) TestDynamicScenario() {
	s.createDynamic("vault", "10")
	s.openDestination("bob")

	_, err := s.service.Transfer(s.signed(1), "vault", "bob", dec("7.0"))
	d := denialOf(s.T(), err)
	s.Equal(models.DenialInsufficientSignatures, d.Kind)
	s.Equal(2, d.Required)
	s.Equal(1, d.Missing)
	s.True(s.balance("vault").Equal(dec("10")))

	res, err := s.service.Transfer(s.signed(1), "vault", "bob", dec("3.0"))
	s.Require().NoError(err)
	s.Equal(1, res.KeysRequired)
	s.Equal(1, res.KeysSigned)
	s.Equal(int64(1), res.Account.Version, "dynamic transfers leave the record untouched")
	s.True(s.balance("vault").Equal(dec("7")))

	_, err = s.service.Transfer(s.signed(1, 2), "vault", "bob", dec("8"))
	d = denialOf(s.T(), err)
	s.Equal(models.DenialInsufficientBalance, d.Kind)
	s.True(d.Shortfall.Equal(dec("1")))
}

func (s *ServiceSuite) TestDynamicRotation() {
	s.createDynamic("vault", "10")

	s.Run("pool rotation requires the guardian", func() {
		_, err := s.service.RotateGuardPool(s.signed(1, 2), "vault", []guard.Guard{keyset(5)})
		s.Equal(models.TierGuardian, denialOf(s.T(), err).Tier)

		res, err := s.service.RotateGuardPool(s.signed(3), "vault", []guard.Guard{keyset(5)})
		s.Require().NoError(err)
		s.Equal(1, res.Account.Dynamic.M())
	})

	s.Run("duplicated replacement pool is rejected", func() {
		before := s.record("vault")
		_, err := s.service.RotateGuardPool(s.signed(3), "vault", []guard.Guard{keyset(7), keyset(8), keyset(7)})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))

		after := s.record("vault")
		s.Equal(before.Version, after.Version)
		s.Require().Equal(1, after.Dynamic.M())
		s.True(after.Dynamic.Guards[0].Equal(keyset(5)))
	})

	s.Run("guardian rotation requires the new guardian too", func() {
		_, err := s.service.RotateGuardian(s.signed(3), "vault", keyset(6))
		s.Equal(models.TierProposed, denialOf(s.T(), err).Tier)
		s.True(s.record("vault").Dynamic.GuardianGuard.Equal(keyset(3)))

		_, err = s.service.RotateGuardian(s.signed(3, 6), "vault", keyset(6))
		s.Require().NoError(err)
		s.True(s.record("vault").Dynamic.GuardianGuard.Equal(keyset(6)))
	})
}

func (s *ServiceSuite) TestTwoTier() {
	s.createTwoTier("wallet", "10", time.Hour, "100")
	s.openDestination("bob")

	s.Run("low tier within cap advances its timestamp", func() {
		_, err := s.service.LowSecurityTransfer(s.signed(1), "wallet", "bob", dec("10"))
		s.Require().NoError(err)
		s.Equal(s.t0, s.record("wallet").TwoTier.LastLowSecurityWithdrawalAt)
	})

	s.Run("low tier is rate limited", func() {
		_, err := s.service.LowSecurityTransfer(s.signedAt(s.t0.Add(time.Minute), 1), "wallet", "bob", dec("1"))
		s.Equal(models.DenialRateLimited, denialOf(s.T(), err).Kind)
	})

	s.Run("high guard does not satisfy the low tier", func() {
		_, err := s.service.LowSecurityTransfer(s.signedAt(s.t0.Add(2*time.Hour), 2), "wallet", "bob", dec("1"))
		d := denialOf(s.T(), err)
		s.Equal(models.TierLowSecurity, d.Tier)
	})

	s.Run("high tier ignores cap and cooldown and leaves the record", func() {
		before := s.record("wallet")
		_, err := s.service.HighSecurityTransfer(s.signedAt(s.t0.Add(time.Minute), 2), "wallet", "bob", dec("50"))
		s.Require().NoError(err)
		after := s.record("wallet")
		s.Equal(before.Version, after.Version)
		s.Equal(before.TwoTier.LastLowSecurityWithdrawalAt, after.TwoTier.LastLowSecurityWithdrawalAt)
		s.True(s.balance("wallet").Equal(dec("40")))
	})

	s.Run("low guard does not satisfy the high tier", func() {
		_, err := s.service.HighSecurityTransfer(s.signed(1), "wallet", "bob", dec("1"))
		s.Equal(models.TierHighSecurity, denialOf(s.T(), err).Tier)
	})

	s.Run("limit updates need the high tier", func() {
		_, err := s.service.UpdateMaxLowSecurityAmount(s.signed(1), "wallet", dec("25"))
		s.Equal(models.TierHighSecurity, denialOf(s.T(), err).Tier)

		_, err = s.service.UpdateMaxLowSecurityAmount(s.signed(2), "wallet", dec("25"))
		s.Require().NoError(err)
		_, err = s.service.UpdateLowSecurityCooldown(s.signed(2), "wallet", time.Minute)
		s.Require().NoError(err)

		acct := s.record("wallet")
		s.True(acct.TwoTier.MaxLowSecurityAmount.Equal(dec("25")))
		s.Equal(time.Minute, acct.TwoTier.LowSecurityCooldown)
	})

	s.Run("rotation needs the same tier and the new guard", func() {
		_, err := s.service.RotateLowSecurityGuard(s.signed(2, 8), "wallet", keyset(8))
		s.Equal(models.TierLowSecurity, denialOf(s.T(), err).Tier)

		_, err = s.service.RotateLowSecurityGuard(s.signed(1, 8), "wallet", keyset(8))
		s.Require().NoError(err)
		s.True(s.record("wallet").TwoTier.LowSecurityGuard.Equal(keyset(8)))
		s.True(s.record("wallet").TwoTier.HighSecurityGuard.Equal(keyset(2)))
	})

	s.Run("variant mismatch is a bad request", func() {
		_, err := s.service.Transfer(s.signed(1, 2), "wallet", "bob", dec("1"))
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *ServiceSuite) TestStaticPolicyUpdates() {
	s.createStatic("alice", "10", "0", 0, "100")

	_, err := s.service.RotateOwnerGuard(s.signed(1), "alice", keyset(4))
	s.Equal(models.TierProposed, denialOf(s.T(), err).Tier)

	_, err = s.service.RotateOwnerGuard(s.signed(1, 4), "alice", keyset(4))
	s.Require().NoError(err)

	_, err = s.service.UpdateLimits(s.signed(1), "alice", models.StaticLimits{MaxWithdrawal: dec("50")})
	s.Equal(models.TierOwner, denialOf(s.T(), err).Tier)

	res, err := s.service.UpdateLimits(s.signed(4), "alice", models.StaticLimits{MaxWithdrawal: dec("50"), Cooldown: time.Minute})
	s.Require().NoError(err)
	s.True(res.Account.Static.MaxWithdrawal.Equal(dec("50")))
	s.Equal(int64(3), res.Account.Version)
}

func (s *ServiceSuite) TestSafeTransfer() {
	s.createStatic("alice", "100", "0", 0, "50")

	s.Run("receiver that cannot reclaim fails the whole transfer", func() {
		_, err := s.service.SafeTransfer(s.signed(1), "alice", "dave", keyset(7), dec("10"))
		d := denialOf(s.T(), err)
		s.Equal(models.TierReceiver, d.Tier)
		s.True(s.balance("alice").Equal(dec("50")))
		_, err = s.ledger.GetBalance(context.Background(), "dave")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("receiver that co-signs gets exactly the amount", func() {
		_, err := s.service.SafeTransfer(s.signed(1, 7), "alice", "dave", keyset(7), dec("10"))
		s.Require().NoError(err)
		s.True(s.balance("alice").Equal(dec("40")))
		s.True(s.balance("dave").Equal(dec("10")))
	})

	s.Run("receiver under another guard is a conflict", func() {
		s.openDestination("erin")
		_, err := s.service.SafeTransfer(s.signed(1, 7), "alice", "erin", keyset(7), dec("10"))
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.True(s.balance("alice").Equal(dec("40")))
	})
}

func (s *ServiceSuite) TestIdempotencyKey() {
	s.createStatic("alice", "100", "0", 0, "50")
	s.openDestination("bob")

	ctx := requestcontext.WithIdempotencyKey(s.signed(1), "req-1")
	_, err := s.service.Transfer(ctx, "alice", "bob", dec("5"))
	s.Require().NoError(err)

	_, err = s.service.Transfer(ctx, "alice", "bob", dec("5"))
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	s.True(s.balance("alice").Equal(dec("45")))

	s.Run("failed sessions release their key", func() {
		denied := requestcontext.WithIdempotencyKey(s.signed(), "req-2")
		_, err := s.service.Transfer(denied, "alice", "bob", dec("5"))
		s.Equal(models.DenialGuardRejected, denialOf(s.T(), err).Kind)

		retry := requestcontext.WithIdempotencyKey(s.signed(1), "req-2")
		_, err = s.service.Transfer(retry, "alice", "bob", dec("5"))
		s.NoError(err)
	})
}

func (s *ServiceSuite) TestReads() {
	s.createDynamic("vault", "10")

	s.Run("keys needed", func() {
		est, err := s.service.KeysNeeded(context.Background(), "vault", dec("10"))
		s.Require().NoError(err)
		s.Equal(2, est.Needed)
		s.Equal(2, est.PoolM)

		est, err = s.service.KeysNeeded(context.Background(), "vault", decimal.Zero)
		s.Require().NoError(err)
		s.Equal(0, est.Needed)
	})

	s.Run("check transfer previews without committing", func() {
		preview, err := s.service.CheckTransfer(s.signed(1), "vault", models.TransferAction("bob", dec("7")))
		s.Require().NoError(err)
		s.False(preview.Allowed)
		s.Require().NotNil(preview.Denial)
		s.Equal(1, preview.Denial.Missing)

		preview, err = s.service.CheckTransfer(s.signed(1, 2), "vault", models.TransferAction("bob", dec("7")))
		s.Require().NoError(err)
		s.True(preview.Allowed)
		s.Equal(2, preview.KeysSigned)
		s.True(s.balance("vault").Equal(dec("10")))
	})

	s.Run("find by signer", func() {
		found, err := s.service.FindBySigner(context.Background(), "  "+key(3)+" ")
		s.Require().NoError(err)
		s.Require().Len(found, 1)
		s.Equal("vault", found[0].ID)
	})

	s.Run("unknown account", func() {
		_, err := s.service.GetBalance(context.Background(), "ghost")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

// mockUnitOfWork runs sessions against a mock account store and a staged
// in-memory ledger.
type mockUnitOfWork struct {
	accounts AccountStore
	ledger   *ledger.Memory
}

func (u mockUnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context, stores TxStores) error) error {
	tx := u.ledger.Begin()
	if err := fn(ctx, TxStores{Accounts: u.accounts, Ledger: tx}); err != nil {
		tx.Rollback()
		return err
	}
	tx.Commit()
	return nil
}

func TestConcurrentModificationRollsBackLedger(t *testing.T) {
	ctrl := gomock.NewController(t)
	accounts := mocks.NewMockAccountStore(ctrl)
	publisher := mocks.NewMockAuditPublisher(ctrl)

	l := ledger.NewMemory(guard.NewEvaluator())
	l.Seed("alice", guard.NewModule("warden"), dec("50"))
	l.Seed("bob", keyset(9), decimal.Zero)

	acct, err := models.NewStaticAccount("alice", models.StaticPolicy{
		OwnerGuard:    keyset(1),
		MaxWithdrawal: dec("100"),
		Cooldown:      time.Minute,
	}, time.Now())
	require.NoError(t, err)

	accounts.EXPECT().FindByID(gomock.Any(), "alice").Return(acct, nil)
	accounts.EXPECT().Update(gomock.Any(), gomock.Any(), int64(1)).
		Return(fmt.Errorf("wallet account alice: %w", sentinel.ErrConflict))
	publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Event) error {
		assert.Equal(t, audit.DecisionDenied, e.Decision)
		assert.Equal(t, string(dErrors.CodeConflict), e.Reason)
		return errors.New("sink down")
	})

	svc := New(accounts, l, mockUnitOfWork{accounts: accounts, ledger: l}, WithAuditPublisher(publisher))
	ctx := guard.WithSigningContext(context.Background(), guard.NewSigningContext(key(1)))
	_, err = svc.Transfer(ctx, "alice", "bob", dec("10"))

	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
	balance, err := l.GetBalance(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("50")))
}

func TestIdempotencyStoreFailureFailsClosed(t *testing.T) {
	ctrl := gomock.NewController(t)
	accounts := mocks.NewMockAccountStore(ctrl)
	idem := mocks.NewMockIdempotencyStore(ctrl)
	idem.EXPECT().Reserve(gomock.Any(), "alice:k1", time.Minute).Return(errors.New("redis down"))

	l := ledger.NewMemory(guard.NewEvaluator())
	svc := New(accounts, l, mockUnitOfWork{accounts: accounts, ledger: l}, WithIdempotency(idem, time.Minute))
	ctx := requestcontext.WithIdempotencyKey(context.Background(), "k1")

	_, err := svc.Transfer(ctx, "alice", "bob", dec("1"))
	assert.True(t, dErrors.Is(err, dErrors.CodeInternal))
}

func TestTranslateError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code dErrors.Code
	}{
		{"not found", fmt.Errorf("x: %w", sentinel.ErrNotFound), dErrors.CodeNotFound},
		{"already used", sentinel.ErrAlreadyUsed, dErrors.CodeConflict},
		{"conflict", sentinel.ErrConflict, dErrors.CodeConflict},
		{"deadline", context.DeadlineExceeded, dErrors.CodeTimeout},
		{"invalid amount", ledger.ErrInvalidAmount, dErrors.CodeValidation},
		{"unknown", errors.New("boom"), dErrors.CodeInternal},
		{"coded passes through", dErrors.New(dErrors.CodeForbidden, "no"), dErrors.CodeForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, dErrors.CodeOf(translateError(tt.err, "missing")))
		})
	}

	t.Run("denials pass through", func(t *testing.T) {
		err := translateError(models.RateLimited(time.Second), "missing")
		d, ok := models.AsDenial(err)
		require.True(t, ok)
		assert.Equal(t, time.Second, d.RetryAfter)
	})
}

func TestLedgerErrorMapsAbortedTransferToConflict(t *testing.T) {
	err := ledgerError(fmt.Errorf("transfer bob -> alice: %w", sentinel.ErrConflict), dec("1"), dec("5"))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
}

func TestMemoryUnitOfWorkHonoursCancelledContext(t *testing.T) {
	l := ledger.NewMemory(guard.NewEvaluator())
	uow := NewMemoryUnitOfWork(store.NewInMemoryStore(), l)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := uow.RunInTx(ctx, func(context.Context, TxStores) error {
		called = true
		return nil
	})
	assert.False(t, called)
	assert.True(t, dErrors.Is(err, dErrors.CodeTimeout))
}
