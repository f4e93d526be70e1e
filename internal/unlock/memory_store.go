package unlock

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory unlock record store for demo/development mode.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record // keyed principalID + "\x00" + targetID
}

// NewMemoryStore creates a new in-memory unlock store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func pairKey(principalID, targetID string) string {
	return principalID + "\x00" + targetID
}

func (m *MemoryStore) Find(ctx context.Context, principalID, targetID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[pairKey(principalID, targetID)]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *record
	return &cp, nil
}

func (m *MemoryStore) Create(ctx context.Context, record *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := pairKey(record.PrincipalID, record.TargetID)
	if _, ok := m.records[key]; ok {
		return ErrDuplicateRecord
	}
	cp := *record
	m.records[key] = &cp
	return nil
}

func (m *MemoryStore) ListByPrincipal(ctx context.Context, principalID string, limit int) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Record
	for _, r := range m.records {
		if r.PrincipalID == principalID {
			cp := *r
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UnlockedAt.After(result[j].UnlockedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
