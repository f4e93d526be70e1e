package catalog

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory listing store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	listings map[string]*Listing
}

// NewMemoryStore creates a new in-memory listing store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{listings: make(map[string]*Listing)}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	listing, ok := s.listings[id]
	if !ok {
		return nil, ErrListingNotFound
	}
	copied := *listing
	return &copied, nil
}

func (s *MemoryStore) Create(ctx context.Context, listing *Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *listing
	s.listings[listing.ID] = &copied
	return nil
}

func (s *MemoryStore) List(ctx context.Context, limit int) ([]*Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Listing, 0, len(s.listings))
	for _, listing := range s.listings {
		copied := *listing
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ Store = (*MemoryStore)(nil)
