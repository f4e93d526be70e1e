package identity

import (
	"context"
	"sync"
	"time"
)

// MemoryUserStore is an in-memory user store for demo/development mode.
// It also backs the quota ledger's per-principal unit bookkeeping.
type MemoryUserStore struct {
	mu    sync.Mutex
	users map[string]*User
}

// NewMemoryUserStore creates a new in-memory user store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]*User)}
}

// Put inserts or replaces a user record. Used by seeding and tests; account
// management proper lives outside the core.
func (m *MemoryUserStore) Put(user *User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	cp := *user
	m.users[user.ID] = &cp
}

func (m *MemoryUserStore) Load(ctx context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[id]
	if !ok {
		return nil, ErrPrincipalNotFound
	}
	cp := *user
	return &cp, nil
}

// DebitUnit atomically increments the user's unit usage if it is still below
// the ceiling. Returns false without mutation when the quota is exhausted.
func (m *MemoryUserStore) DebitUnit(ctx context.Context, id string, ceiling int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[id]
	if !ok {
		return false, ErrPrincipalNotFound
	}
	if user.UnitsUsed >= ceiling {
		return false, nil
	}
	user.UnitsUsed++
	return true, nil
}

// CreditUnit reverses a unit debit. Used as compensation when the step after
// a debit fails; usage never goes below zero.
func (m *MemoryUserStore) CreditUnit(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[id]
	if !ok {
		return ErrPrincipalNotFound
	}
	if user.UnitsUsed > 0 {
		user.UnitsUsed--
	}
	return nil
}

// ResetUnits zeroes the user's cycle usage. Invoked by the external cycle
// reset trigger, never inferred from the calendar.
func (m *MemoryUserStore) ResetUnits(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[id]
	if !ok {
		return ErrPrincipalNotFound
	}
	user.UnitsUsed = 0
	return nil
}
