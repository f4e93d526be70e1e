package identity

import (
	"context"
	"database/sql"
)

// PostgresUserStore loads and mutates user state in PostgreSQL.
type PostgresUserStore struct {
	db *sql.DB
}

// NewPostgresUserStore creates a new PostgreSQL-backed user store.
func NewPostgresUserStore(db *sql.DB) *PostgresUserStore {
	return &PostgresUserStore{db: db}
}

func (p *PostgresUserStore) Load(ctx context.Context, id string) (*User, error) {
	u := &User{}
	var expiresAt sql.NullTime
	var role, tier string

	err := p.db.QueryRowContext(ctx, `
		SELECT id, name, role, tier, units_used, subscription_expires_at, created_at
		FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Name, &role, &tier, &u.UnitsUsed, &expiresAt, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrPrincipalNotFound
	}
	if err != nil {
		return nil, err
	}

	u.Role = Role(role)
	u.Tier = Tier(tier)
	if expiresAt.Valid {
		u.SubscriptionExpiresAt = &expiresAt.Time
	}
	return u, nil
}

// DebitUnit increments usage only while it is below the ceiling. The guarded
// UPDATE makes the check-and-increment a single atomic step; zero rows
// affected means either exhaustion or a missing user.
func (p *PostgresUserStore) DebitUnit(ctx context.Context, id string, ceiling int) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE users SET units_used = units_used + 1, updated_at = NOW()
		WHERE id = $1 AND units_used < $2`, id, ceiling)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 1 {
		return true, nil
	}

	// Distinguish exhaustion from an unknown principal.
	var exists bool
	if err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, ErrPrincipalNotFound
	}
	return false, nil
}

// CreditUnit reverses a unit debit without going below zero.
func (p *PostgresUserStore) CreditUnit(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE users SET units_used = GREATEST(units_used - 1, 0), updated_at = NOW()
		WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrPrincipalNotFound
	}
	return nil
}

// ResetUnits zeroes the user's cycle usage.
func (p *PostgresUserStore) ResetUnits(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE users SET units_used = 0, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrPrincipalNotFound
	}
	return nil
}

// Insert creates a user row. Used by seeding; registration is out of scope.
func (p *PostgresUserStore) Insert(ctx context.Context, u *User) error {
	var expiresAt sql.NullTime
	if u.SubscriptionExpiresAt != nil {
		expiresAt = sql.NullTime{Time: *u.SubscriptionExpiresAt, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO users (id, name, role, tier, units_used, subscription_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		u.ID, u.Name, string(u.Role), string(u.Tier), u.UnitsUsed, expiresAt)
	return err
}

// Compile-time assertion that PostgresUserStore implements UserStore.
var _ UserStore = (*PostgresUserStore)(nil)
