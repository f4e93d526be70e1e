// Package catalog holds rental listings. Contact details live on the listing
// row but are only revealed through the unlock flow; the public read path
// never serializes them.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mensahlabs/rentlink/internal/payout"
	"github.com/mensahlabs/rentlink/internal/unlock"
)

var ErrListingNotFound = errors.New("catalog: listing not found")

// Listing is one rental property. ContactName and ContactPhone are excluded
// from JSON; they travel only inside unlock results.
type Listing struct {
	ID           string        `json:"id"`
	LandlordID   string        `json:"landlordId"`
	Title        string        `json:"title"`
	Area         string        `json:"area"`
	Rent         payout.Amount `json:"rent"`
	ContactName  string        `json:"-"`
	ContactPhone string        `json:"-"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// Store persists listings.
type Store interface {
	Get(ctx context.Context, id string) (*Listing, error)
	Create(ctx context.Context, listing *Listing) error
	List(ctx context.Context, limit int) ([]*Listing, error)
}

// Service exposes listing reads and answers the unlock engine's catalog and
// contact queries.
type Service struct {
	store Store
}

// NewService creates a new catalog service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Get returns a single listing by ID.
func (s *Service) Get(ctx context.Context, id string) (*Listing, error) {
	return s.store.Get(ctx, id)
}

// List returns up to limit listings, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]*Listing, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.List(ctx, limit)
}

// Create stores a new listing.
func (s *Service) Create(ctx context.Context, listing *Listing) error {
	return s.store.Create(ctx, listing)
}

// Exists reports whether a listing with the given ID is present.
func (s *Service) Exists(ctx context.Context, targetID string) (bool, error) {
	_, err := s.store.Get(ctx, targetID)
	if errors.Is(err, ErrListingNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Contact returns the landlord contact payload for a listing.
func (s *Service) Contact(ctx context.Context, targetID string) (unlock.Contact, error) {
	listing, err := s.store.Get(ctx, targetID)
	if err != nil {
		return unlock.Contact{}, fmt.Errorf("load listing: %w", err)
	}
	return unlock.Contact{Name: listing.ContactName, Phone: listing.ContactPhone}, nil
}

var (
	_ unlock.Catalog         = (*Service)(nil)
	_ unlock.ContactProvider = (*Service)(nil)
)
