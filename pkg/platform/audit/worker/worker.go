package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	audit "warden/pkg/platform/audit"
	"warden/pkg/platform/audit/publishers/kafka"
)

// Store persists consumed audit events. Append must tolerate redelivery.
type Store interface {
	Append(ctx context.Context, event audit.Event) error
}

// Worker consumes the audit topic and materializes events into a queryable
// store. Offsets are committed only after a batch is persisted, so a crash
// redelivers rather than loses events.
type Worker struct {
	client *kgo.Client
	store  Store
	logger *slog.Logger
}

func New(brokers []string, topic, group string, store Store, logger *slog.Logger) (*Worker, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Worker{client: client, store: store, logger: logger}, nil
}

// Run polls until ctx is cancelled or the client is closed.
func (w *Worker) Run(ctx context.Context) error {
	defer w.client.Close()
	for {
		fetches := w.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return nil
		}
		for _, fe := range fetches.Errors() {
			if errors.Is(fe.Err, context.Canceled) {
				return nil
			}
			w.logger.Warn("audit fetch failed", "topic", fe.Topic, "partition", fe.Partition, "error", fe.Err)
		}

		var persistErr error
		fetches.EachRecord(func(rec *kgo.Record) {
			if persistErr != nil {
				return
			}
			event, err := kafka.Decode(rec.Value)
			if err != nil {
				// Poison record: skip it rather than block the partition.
				w.logger.Error("dropping undecodable audit record", "offset", rec.Offset, "error", err)
				return
			}
			persistErr = w.store.Append(ctx, event)
		})
		if persistErr != nil {
			return fmt.Errorf("persist audit event: %w", persistErr)
		}
		if err := w.client.CommitUncommittedOffsets(ctx); err != nil {
			w.logger.Warn("audit offset commit failed", "error", err)
		}
	}
}
