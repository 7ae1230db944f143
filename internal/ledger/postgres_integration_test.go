//go:build integration

package ledger_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"warden/internal/guard"
	"warden/internal/ledger"
	"warden/pkg/platform/sentinel"
	"warden/pkg/testutil/containers"
)

type PostgresLedgerIntegrationSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	ledger   *ledger.PostgresLedger
	granted  context.Context
}

func TestPostgresLedgerIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresLedgerIntegrationSuite))
}

func (s *PostgresLedgerIntegrationSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.ledger = ledger.NewPostgres(s.postgres.DB, guard.NewEvaluator())
	s.granted = guard.WithModuleGrant(context.Background(), "warden")
}

func (s *PostgresLedgerIntegrationSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.postgres.TruncateTables(ctx, "ledger_accounts"))
	s.Require().NoError(s.ledger.CreateAccount(ctx, "alice", guard.NewModule("warden")))
	s.Require().NoError(s.ledger.CreateAccount(ctx, "bob", guard.NewModule("warden")))
	s.Require().NoError(s.ledger.Deposit(ctx, "alice", decimal.RequireFromString("10")))
}

func (s *PostgresLedgerIntegrationSuite) TestConcurrentDebitsNeverOverdraw() {
	const goroutines = 25
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.ledger.Transfer(s.granted, "alice", "bob", decimal.RequireFromString("1"))
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	s.Equal(10, succeeded)
	alice, err := s.ledger.GetBalance(context.Background(), "alice")
	s.Require().NoError(err)
	s.True(alice.IsZero(), "got %s", alice)
	bob, err := s.ledger.GetBalance(context.Background(), "bob")
	s.Require().NoError(err)
	s.True(bob.Equal(decimal.RequireFromString("10")))
}

func (s *PostgresLedgerIntegrationSuite) TestTransferCreateRoundTripsGuard() {
	carol := guard.MustKeyset(guard.KeysAny, fmt.Sprintf("%064x", 3))
	s.Require().NoError(s.ledger.TransferCreate(s.granted, "alice", "carol", carol, decimal.RequireFromString("0.5")))

	got, err := s.ledger.Guard(context.Background(), "carol")
	s.Require().NoError(err)
	s.True(got.Equal(carol))

	err = s.ledger.CreateAccount(context.Background(), "carol", carol)
	s.ErrorIs(err, sentinel.ErrAlreadyUsed)
}
