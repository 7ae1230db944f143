// Package kafka ships audit events to a Kafka topic with franz-go. The account
// ID is the record key so one account's events stay ordered in a partition.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "warden/pkg/platform/audit"
)

// ErrCircuitOpen is returned while the breaker rejects produce attempts.
var ErrCircuitOpen = errors.New("audit kafka circuit open")

const headerCategory = "category"

type Publisher struct {
	client  *kgo.Client
	topic   string
	breaker *breaker
}

type Option func(*Publisher)

// WithBreaker tunes the circuit breaker around produce calls.
func WithBreaker(threshold int, cooldown time.Duration) Option {
	return func(p *Publisher) {
		p.breaker = newBreaker(threshold, cooldown)
	}
}

// New connects a producer for topic.
func New(brokers []string, topic string, opts ...Option) (*Publisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerLinger(5*time.Millisecond),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	p := &Publisher{client: client, topic: topic, breaker: newBreaker(5, 30*time.Second)}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Append produces one event and waits for the broker acknowledgement.
func (p *Publisher) Append(ctx context.Context, event audit.Event) error {
	if !p.breaker.allow() {
		return ErrCircuitOpen
	}
	value, err := Encode(event)
	if err != nil {
		return err
	}
	rec := &kgo.Record{
		Key:   []byte(event.AccountID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: headerCategory, Value: []byte(audit.AuditEvent(event.Action).Category())},
		},
	}
	err = p.client.ProduceSync(ctx, rec).FirstErr()
	p.breaker.record(err)
	if err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}

// Healthy reports whether the breaker is closed.
func (p *Publisher) Healthy() bool {
	return !p.breaker.open()
}

func (p *Publisher) Close() {
	p.client.Close()
}

// EnsureTopic creates topic when it does not exist yet.
func EnsureTopic(ctx context.Context, brokers []string, topic string, partitions int32) error {
	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return fmt.Errorf("create kafka admin client: %w", err)
	}
	defer client.Close()

	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopics(ctx, partitions, -1, nil, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

// Encode is the wire format of an audit record value.
func Encode(event audit.Event) ([]byte, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode audit event: %w", err)
	}
	return raw, nil
}

func Decode(raw []byte) (audit.Event, error) {
	var event audit.Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return audit.Event{}, fmt.Errorf("decode audit event: %w", err)
	}
	return event, nil
}
