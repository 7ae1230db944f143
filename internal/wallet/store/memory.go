package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"warden/internal/wallet/models"
	"warden/pkg/platform/sentinel"
)

// records is the account table a set of store operations reads and writes.
type records interface {
	get(id string) (*models.Account, bool)
	put(a *models.Account)
	each(fn func(a *models.Account))
}

// InMemoryStore keeps wallet account records in a map. Records are cloned on
// the way in and out; callers never share a pointer with the store.
type InMemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*models.Account
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{accounts: make(map[string]*models.Account)}
}

func (s *InMemoryStore) get(id string) (*models.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	return a, ok
}

func (s *InMemoryStore) put(a *models.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
}

func (s *InMemoryStore) each(fn func(a *models.Account)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		fn(a)
	}
}

func (s *InMemoryStore) Create(ctx context.Context, a *models.Account) error {
	return table{s}.create(ctx, a)
}

func (s *InMemoryStore) FindByID(ctx context.Context, id string) (*models.Account, error) {
	return table{s}.findByID(ctx, id)
}

func (s *InMemoryStore) Update(ctx context.Context, a *models.Account, expectedVersion int64) error {
	return table{s}.update(ctx, a, expectedVersion)
}

func (s *InMemoryStore) FindBySigner(ctx context.Context, key string) ([]*models.Account, error) {
	return table{s}.findBySigner(ctx, key)
}

// Begin opens a staged view whose writes become visible on Commit. Callers
// serialize transactions.
func (s *InMemoryStore) Begin() *MemoryTx {
	return &MemoryTx{parent: s, staged: make(map[string]*models.Account)}
}

// MemoryTx is a staged view over an InMemoryStore.
type MemoryTx struct {
	parent *InMemoryStore
	staged map[string]*models.Account
	done   bool
}

func (t *MemoryTx) get(id string) (*models.Account, bool) {
	if a, ok := t.staged[id]; ok {
		return a, true
	}
	return t.parent.get(id)
}

func (t *MemoryTx) put(a *models.Account) {
	t.staged[a.ID] = a
}

func (t *MemoryTx) each(fn func(a *models.Account)) {
	seen := make(map[string]struct{}, len(t.staged))
	for id, a := range t.staged {
		seen[id] = struct{}{}
		fn(a)
	}
	t.parent.each(func(a *models.Account) {
		if _, ok := seen[a.ID]; !ok {
			fn(a)
		}
	})
}

func (t *MemoryTx) Create(ctx context.Context, a *models.Account) error {
	return table{t}.create(ctx, a)
}

func (t *MemoryTx) FindByID(ctx context.Context, id string) (*models.Account, error) {
	return table{t}.findByID(ctx, id)
}

func (t *MemoryTx) Update(ctx context.Context, a *models.Account, expectedVersion int64) error {
	return table{t}.update(ctx, a, expectedVersion)
}

func (t *MemoryTx) FindBySigner(ctx context.Context, key string) ([]*models.Account, error) {
	return table{t}.findBySigner(ctx, key)
}

func (t *MemoryTx) Commit() {
	if t.done {
		return
	}
	t.done = true
	t.parent.mu.Lock()
	defer t.parent.mu.Unlock()
	maps.Copy(t.parent.accounts, t.staged)
}

func (t *MemoryTx) Rollback() {
	t.done = true
	clear(t.staged)
}

// table holds the record rules shared by the store and its transactions.
type table struct {
	r records
}

func (t table) create(ctx context.Context, a *models.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := t.r.get(a.ID); ok {
		return fmt.Errorf("wallet account %s: %w", a.ID, sentinel.ErrAlreadyUsed)
	}
	t.r.put(a.Clone())
	return nil
}

func (t table) findByID(ctx context.Context, id string) (*models.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a, ok := t.r.get(id)
	if !ok {
		return nil, fmt.Errorf("wallet account %s: %w", id, sentinel.ErrNotFound)
	}
	return a.Clone(), nil
}

func (t table) update(ctx context.Context, a *models.Account, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	current, ok := t.r.get(a.ID)
	if !ok {
		return fmt.Errorf("wallet account %s: %w", a.ID, sentinel.ErrNotFound)
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("wallet account %s at version %d, expected %d: %w",
			a.ID, current.Version, expectedVersion, sentinel.ErrConflict)
	}
	t.r.put(a.Clone())
	return nil
}

func (t table) findBySigner(ctx context.Context, key string) ([]*models.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*models.Account
	t.r.each(func(a *models.Account) {
		if _, found := slices.BinarySearch(a.SignerKeys(), key); found {
			out = append(out, a.Clone())
		}
	})
	slices.SortFunc(out, func(x, y *models.Account) int {
		return strings.Compare(x.ID, y.ID)
	})
	return out, nil
}
