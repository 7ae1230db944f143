// Package publisher delivers audit events to a store, either inline or
// through a bounded in-process buffer drained by a background goroutine.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	audit "warden/pkg/platform/audit"
)

// ErrBufferFull is returned by Emit in async mode when the buffer is full.
var ErrBufferFull = errors.New("audit buffer full")

// ErrNotListable is returned by List when the store cannot be queried.
var ErrNotListable = errors.New("audit store does not support listing")

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event audit.Event) error
}

// Lister is implemented by stores that can be queried.
type Lister interface {
	ListByAccount(ctx context.Context, accountID string) ([]audit.Event, error)
}

type Publisher struct {
	store  Store
	lister Lister
	logger *slog.Logger

	mu     sync.RWMutex
	buffer chan audit.Event
	closed bool
	wg     sync.WaitGroup
}

type Option func(*Publisher)

// WithAsyncBuffer switches the publisher to async mode with a buffer of size n.
func WithAsyncBuffer(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.buffer = make(chan audit.Event, n)
		}
	}
}

// WithLister serves List from a read-side store, for when events are shipped
// elsewhere and materialized later.
func WithLister(l Lister) Option {
	return func(p *Publisher) {
		p.lister = l
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(store Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	if p.buffer != nil {
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

// Emit stamps the event and hands it to the store. In async mode it never
// blocks: a full buffer yields ErrBufferFull.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}

	if p.buffer == nil {
		return p.store.Append(ctx, event)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return p.store.Append(ctx, event)
	}
	select {
	case p.buffer <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		if p.logger != nil {
			p.logger.WarnContext(ctx, "audit buffer full, dropping event",
				"action", event.Action,
				"account_id", event.AccountID,
			)
		}
		return ErrBufferFull
	}
}

// List returns an account's events when the store supports queries.
func (p *Publisher) List(ctx context.Context, accountID string) ([]audit.Event, error) {
	if p.lister != nil {
		return p.lister.ListByAccount(ctx, accountID)
	}
	lister, ok := p.store.(Lister)
	if !ok {
		return nil, ErrNotListable
	}
	return lister.ListByAccount(ctx, accountID)
}

// Close stops accepting buffered events and drains the buffer.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed || p.buffer == nil {
		p.closed = true
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.buffer)
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for event := range p.buffer {
		if err := p.store.Append(context.Background(), event); err != nil && p.logger != nil {
			p.logger.Error("failed to persist audit event",
				"error", err,
				"action", event.Action,
				"account_id", event.AccountID,
			)
		}
	}
}
