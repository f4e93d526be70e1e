package unlock

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// PostgresStore persists unlock records in PostgreSQL. The primary key on
// (principal_id, target_id) enforces pair uniqueness at the database level.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed unlock store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Find(ctx context.Context, principalID, targetID string) (*Record, error) {
	r := &Record{}
	err := p.db.QueryRowContext(ctx, `
		SELECT principal_id, target_id, unlocked_at
		FROM unlock_records WHERE principal_id = $1 AND target_id = $2`,
		principalID, targetID,
	).Scan(&r.PrincipalID, &r.TargetID, &r.UnlockedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (p *PostgresStore) Create(ctx context.Context, record *Record) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO unlock_records (principal_id, target_id, unlocked_at)
		VALUES ($1, $2, $3)`,
		record.PrincipalID, record.TargetID, record.UnlockedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrDuplicateRecord
		}
		return err
	}
	return nil
}

func (p *PostgresStore) ListByPrincipal(ctx context.Context, principalID string, limit int) ([]*Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT principal_id, target_id, unlocked_at
		FROM unlock_records
		WHERE principal_id = $1
		ORDER BY unlocked_at DESC
		LIMIT $2`, principalID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Record
	for rows.Next() {
		r := &Record{}
		if err := rows.Scan(&r.PrincipalID, &r.TargetID, &r.UnlockedAt); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
