package ledger

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/shopspring/decimal"

	"warden/internal/guard"
	"warden/pkg/platform/sentinel"
)

type accountState struct {
	guard   guard.Guard
	balance decimal.Decimal
}

// book is the account table a set of ledger operations reads and writes.
type book interface {
	load(account string) (accountState, bool)
	store(account string, st accountState)
}

// Memory is an in-memory ledger. It is safe for concurrent use; multi-step
// units of work go through Begin so that their writes become visible together.
type Memory struct {
	writeMu   sync.Mutex
	mu        sync.RWMutex
	accounts  map[string]accountState
	evaluator guard.Evaluator
}

// NewMemory creates an empty in-memory ledger. Debits are authorized with ev.
func NewMemory(ev guard.Evaluator) *Memory {
	if ev == nil {
		ev = guard.NewEvaluator()
	}
	return &Memory{accounts: make(map[string]accountState), evaluator: ev}
}

func (m *Memory) load(account string) (accountState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.accounts[account]
	return st, ok
}

func (m *Memory) store(account string, st accountState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[account] = st
}

// Seed creates or overwrites an account with a balance. Test and dev fixture.
func (m *Memory) Seed(account string, g guard.Guard, balance decimal.Decimal) {
	m.store(account, accountState{guard: g.Clone(), balance: balance})
}

func (m *Memory) CreateAccount(ctx context.Context, account string, g guard.Guard) error {
	return m.run(func(t *MemoryTx) error { return t.CreateAccount(ctx, account, g) })
}

func (m *Memory) GetBalance(ctx context.Context, account string) (decimal.Decimal, error) {
	return ops{b: m, ev: m.evaluator}.getBalance(ctx, account)
}

func (m *Memory) Guard(ctx context.Context, account string) (guard.Guard, error) {
	return ops{b: m, ev: m.evaluator}.guardOf(ctx, account)
}

func (m *Memory) Transfer(ctx context.Context, from, to string, amount decimal.Decimal) error {
	return m.run(func(t *MemoryTx) error { return t.Transfer(ctx, from, to, amount) })
}

func (m *Memory) TransferCreate(ctx context.Context, from, to string, toGuard guard.Guard, amount decimal.Decimal) error {
	return m.run(func(t *MemoryTx) error { return t.TransferCreate(ctx, from, to, toGuard, amount) })
}

func (m *Memory) Deposit(ctx context.Context, account string, amount decimal.Decimal) error {
	return m.run(func(t *MemoryTx) error { return t.Deposit(ctx, account, amount) })
}

// run executes a single-step operation as its own transaction so a failure
// between debit and credit never leaves a half-applied transfer.
func (m *Memory) run(fn func(t *MemoryTx) error) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	t := m.Begin()
	if err := fn(t); err != nil {
		t.Rollback()
		return err
	}
	t.Commit()
	return nil
}

// Begin opens a transaction whose writes stay private until Commit. Callers
// serialize transactions; Memory does not detect write conflicts between them.
func (m *Memory) Begin() *MemoryTx {
	return &MemoryTx{parent: m, staged: make(map[string]accountState)}
}

// MemoryTx is a staged view over a Memory ledger. It implements Ledger.
type MemoryTx struct {
	parent *Memory
	staged map[string]accountState
	done   bool
}

func (t *MemoryTx) load(account string) (accountState, bool) {
	if st, ok := t.staged[account]; ok {
		return st, true
	}
	return t.parent.load(account)
}

func (t *MemoryTx) store(account string, st accountState) {
	t.staged[account] = st
}

// Commit publishes every staged write at once.
func (t *MemoryTx) Commit() {
	if t.done {
		return
	}
	t.done = true
	t.parent.mu.Lock()
	defer t.parent.mu.Unlock()
	maps.Copy(t.parent.accounts, t.staged)
}

// Rollback discards staged writes.
func (t *MemoryTx) Rollback() {
	t.done = true
	clear(t.staged)
}

func (t *MemoryTx) ops() ops {
	return ops{b: t, ev: t.parent.evaluator}
}

func (t *MemoryTx) CreateAccount(ctx context.Context, account string, g guard.Guard) error {
	return t.ops().createAccount(ctx, account, g)
}

func (t *MemoryTx) GetBalance(ctx context.Context, account string) (decimal.Decimal, error) {
	return t.ops().getBalance(ctx, account)
}

func (t *MemoryTx) Guard(ctx context.Context, account string) (guard.Guard, error) {
	return t.ops().guardOf(ctx, account)
}

func (t *MemoryTx) Transfer(ctx context.Context, from, to string, amount decimal.Decimal) error {
	return t.ops().transfer(ctx, from, to, nil, amount)
}

func (t *MemoryTx) TransferCreate(ctx context.Context, from, to string, toGuard guard.Guard, amount decimal.Decimal) error {
	return t.ops().transfer(ctx, from, to, &toGuard, amount)
}

func (t *MemoryTx) Deposit(ctx context.Context, account string, amount decimal.Decimal) error {
	return t.ops().deposit(ctx, account, amount)
}

// ops holds the ledger rules shared by Memory and MemoryTx.
type ops struct {
	b  book
	ev guard.Evaluator
}

func (o ops) createAccount(ctx context.Context, account string, g guard.Guard) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := g.Validate(); err != nil {
		return fmt.Errorf("create ledger account %s: %w", account, err)
	}
	if _, ok := o.b.load(account); ok {
		return fmt.Errorf("ledger account %s: %w", account, sentinel.ErrAlreadyUsed)
	}
	o.b.store(account, accountState{guard: g.Clone(), balance: decimal.Zero})
	return nil
}

func (o ops) getBalance(ctx context.Context, account string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	st, ok := o.b.load(account)
	if !ok {
		return decimal.Zero, fmt.Errorf("ledger account %s: %w", account, sentinel.ErrNotFound)
	}
	return st.balance, nil
}

func (o ops) guardOf(ctx context.Context, account string) (guard.Guard, error) {
	if err := ctx.Err(); err != nil {
		return guard.Guard{}, err
	}
	st, ok := o.b.load(account)
	if !ok {
		return guard.Guard{}, fmt.Errorf("ledger account %s: %w", account, sentinel.ErrNotFound)
	}
	return st.guard.Clone(), nil
}

// transfer moves amount from one account to another. A non-nil toGuard makes
// it a TransferCreate.
func (o ops) transfer(ctx context.Context, from, to string, toGuard *guard.Guard, amount decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkTransfer(from, to, amount); err != nil {
		return err
	}

	src, ok := o.b.load(from)
	if !ok {
		return fmt.Errorf("ledger account %s: %w", from, sentinel.ErrNotFound)
	}
	if err := authorizeDebit(ctx, o.ev, from, src.guard); err != nil {
		return err
	}
	if src.balance.LessThan(amount) {
		return fmt.Errorf("debit %s from %s: %w", amount, from, sentinel.ErrInsufficientFunds)
	}

	dst, ok := o.b.load(to)
	switch {
	case !ok && toGuard == nil:
		return fmt.Errorf("ledger account %s: %w", to, sentinel.ErrNotFound)
	case !ok:
		if err := toGuard.Validate(); err != nil {
			return fmt.Errorf("create ledger account %s: %w", to, err)
		}
		dst = accountState{guard: toGuard.Clone(), balance: decimal.Zero}
	case toGuard != nil && !dst.guard.Equal(*toGuard):
		return fmt.Errorf("ledger account %s: %w", to, ErrGuardMismatch)
	}

	src.balance = src.balance.Sub(amount)
	dst.balance = dst.balance.Add(amount)
	o.b.store(from, src)
	o.b.store(to, dst)
	return nil
}

func (o ops) deposit(ctx context.Context, account string, amount decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	st, ok := o.b.load(account)
	if !ok {
		return fmt.Errorf("ledger account %s: %w", account, sentinel.ErrNotFound)
	}
	st.balance = st.balance.Add(amount)
	o.b.store(account, st)
	return nil
}
