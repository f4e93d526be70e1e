package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mensahlabs/rentlink/internal/payout"
)

// PostgresStore persists listings in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed listing store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const listingColumns = `id, landlord_id, title, area, rent::TEXT, contact_name, contact_phone, created_at`

func (s *PostgresStore) Get(ctx context.Context, id string) (*Listing, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+listingColumns+`
		FROM listings
		WHERE id = $1`, id)

	listing, err := scanListing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrListingNotFound
	}
	return listing, err
}

func (s *PostgresStore) Create(ctx context.Context, listing *Listing) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO listings (id, landlord_id, title, area, rent, contact_name, contact_phone, created_at)
		VALUES ($1, $2, $3, $4, $5::NUMERIC(12,2), $6, $7, $8)`,
		listing.ID, listing.LandlordID, listing.Title, listing.Area,
		listing.Rent.String(), listing.ContactName, listing.ContactPhone, listing.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert listing: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]*Listing, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+listingColumns+`
		FROM listings
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	defer rows.Close()

	var listings []*Listing
	for rows.Next() {
		listing, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, listing)
	}
	return listings, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanListing(s scanner) (*Listing, error) {
	var l Listing
	var rent string
	if err := s.Scan(&l.ID, &l.LandlordID, &l.Title, &l.Area, &rent,
		&l.ContactName, &l.ContactPhone, &l.CreatedAt); err != nil {
		return nil, err
	}
	parsed, ok := payout.ParseAmount(rent)
	if !ok {
		return nil, fmt.Errorf("stored rent %q is not a valid amount", rent)
	}
	l.Rent = parsed
	return &l, nil
}

var _ Store = (*PostgresStore)(nil)
