package payout

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory payout store for demo/development mode. Its
// single mutex makes the debit-and-create and fail-and-refund units atomic
// with respect to every reader.
type MemoryStore struct {
	mu       sync.RWMutex
	balances map[string]Amount
	requests map[string]*Request
}

// NewMemoryStore creates a new in-memory payout store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]Amount),
		requests: make(map[string]*Request),
	}
}

func (m *MemoryStore) Balance(ctx context.Context, providerID string) (Amount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances[providerID], nil
}

func (m *MemoryStore) Credit(ctx context.Context, providerID string, amount Amount, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[providerID] += amount
	return nil
}

func (m *MemoryStore) DebitAndCreate(ctx context.Context, request *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	balance := m.balances[request.ProviderID]
	if balance < request.Amount {
		return &InsufficientFundsError{Balance: balance}
	}
	m.balances[request.ProviderID] = balance - request.Amount
	cp := *request
	m.requests[request.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	request, ok := m.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	cp := *request
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, request *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.requests[request.ID]
	if !ok {
		return ErrRequestNotFound
	}
	if stored.IsTerminal() {
		return ErrAlreadySettled
	}
	cp := *request
	m.requests[request.ID] = &cp
	return nil
}

func (m *MemoryStore) FailAndRefund(ctx context.Context, request *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.requests[request.ID]
	if !ok {
		return ErrRequestNotFound
	}
	if stored.IsTerminal() {
		return ErrAlreadySettled
	}
	cp := *request
	m.requests[request.ID] = &cp
	m.balances[request.ProviderID] += request.Amount
	return nil
}

func (m *MemoryStore) ListByProvider(ctx context.Context, providerID string, limit int) ([]*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Request
	for _, r := range m.requests {
		if r.ProviderID == providerID {
			cp := *r
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) ListDue(ctx context.Context, before time.Time, limit int) ([]*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Request
	for _, r := range m.requests {
		if r.Status == StatusPending && r.SettleAt.Before(before) {
			cp := *r
			result = append(result, &cp)
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
