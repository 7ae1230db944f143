//go:build integration

package kafka_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	audit "warden/pkg/platform/audit"
	"warden/pkg/platform/audit/publishers/kafka"
	"warden/pkg/platform/audit/store/memory"
	"warden/pkg/platform/audit/worker"
	"warden/pkg/testutil/containers"
)

type KafkaPipelineSuite struct {
	suite.Suite
	brokers []string
}

func TestKafkaPipelineSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaPipelineSuite))
}

func (s *KafkaPipelineSuite) SetupSuite() {
	s.brokers = containers.GetManager().GetRedpanda(s.T()).Brokers
}

func (s *KafkaPipelineSuite) TestProducedEventsAreMaterialized() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	topic := "audit-" + uuid.NewString()
	s.Require().NoError(kafka.EnsureTopic(ctx, s.brokers, topic, 1))
	s.Require().NoError(kafka.EnsureTopic(ctx, s.brokers, topic, 1), "existing topic is not an error")

	pub, err := kafka.New(s.brokers, topic)
	s.Require().NoError(err)
	defer pub.Close()

	for _, action := range []audit.AuditEvent{audit.EventWalletCreated, audit.EventTransfer, audit.EventActionDenied} {
		s.Require().NoError(pub.Append(ctx, audit.Event{
			ID:        uuid.New(),
			AccountID: "alice",
			Action:    string(action),
			Decision:  audit.DecisionCommitted,
			Amount:    "1.5",
			Timestamp: time.Now().UTC(),
		}))
	}
	s.True(pub.Healthy())

	store := memory.NewInMemoryStore()
	w, err := worker.New(s.brokers, topic, "group-"+uuid.NewString(), store, nil)
	s.Require().NoError(err)

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- w.Run(runCtx) }()

	s.Eventually(func() bool {
		events, _ := store.ListByAccount(ctx, "alice")
		return len(events) == 3
	}, 20*time.Second, 100*time.Millisecond)
	stop()
	s.NoError(<-done)

	events, err := store.ListByAccount(ctx, "alice")
	s.Require().NoError(err)
	s.Equal(string(audit.EventWalletCreated), events[0].Action)
	s.Equal("1.5", events[1].Amount)
}
