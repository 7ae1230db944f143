// Package idempotency reserves client-supplied request keys so that a retried
// mutating request is executed at most once within the reservation TTL.
package idempotency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"warden/pkg/platform/sentinel"
)

// keyPrefix namespaces reservations in shared backends.
const keyPrefix = "warden:idem:"

// Scope builds the reservation key for an account-scoped request key.
func Scope(accountID, key string) string {
	return accountID + ":" + key
}

// InMemoryStore is a process-local reservation table.
type InMemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewInMemoryStore creates an empty store. now defaults to time.Now.
func NewInMemoryStore(now func() time.Time) *InMemoryStore {
	if now == nil {
		now = time.Now
	}
	return &InMemoryStore{entries: make(map[string]time.Time), now: now}
}

// Reserve claims key for ttl. A live reservation yields sentinel.ErrAlreadyUsed.
func (s *InMemoryStore) Reserve(ctx context.Context, key string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if expires, ok := s.entries[key]; ok && now.Before(expires) {
		return fmt.Errorf("idempotency key %s: %w", key, sentinel.ErrAlreadyUsed)
	}
	s.entries[key] = now.Add(ttl)
	s.sweep(now)
	return nil
}

// Release drops a reservation so the request may be retried.
func (s *InMemoryStore) Release(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// sweep removes expired reservations. Caller holds mu.
func (s *InMemoryStore) sweep(now time.Time) {
	for k, expires := range s.entries {
		if !now.Before(expires) {
			delete(s.entries, k)
		}
	}
}
