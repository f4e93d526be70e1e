package payout

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists payout data in PostgreSQL. Balances use NUMERIC
// columns with a CHECK (available >= 0) so an overdraw can never commit;
// amounts cross the driver boundary as decimal strings.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed payout store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Balance(ctx context.Context, providerID string) (Amount, error) {
	var raw string
	err := p.db.QueryRowContext(ctx, `
		SELECT available::TEXT FROM provider_balances WHERE provider_id = $1`,
		providerID).Scan(&raw)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	amount, ok := ParseAmount(raw)
	if !ok {
		return 0, ErrProviderUnknown
	}
	return amount, nil
}

func (p *PostgresStore) Credit(ctx context.Context, providerID string, amount Amount, reference string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO provider_balances (provider_id, available, updated_at)
		VALUES ($1, $2::NUMERIC(12,2), NOW())
		ON CONFLICT (provider_id) DO UPDATE SET
			available  = provider_balances.available + $2::NUMERIC(12,2),
			updated_at = NOW()`,
		providerID, amount.String())
	return err
}

// DebitAndCreate locks the funds and records the request in one serializable
// transaction. The guarded UPDATE plus the CHECK constraint make sure the
// debit never commits without the request row, and never overdraws.
func (p *PostgresStore) DebitAndCreate(ctx context.Context, r *Request) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE provider_balances SET
			available  = available - $2::NUMERIC(12,2),
			updated_at = NOW()
		WHERE provider_id = $1 AND available >= $2::NUMERIC(12,2)`,
		r.ProviderID, r.Amount.String())
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		balance, berr := p.Balance(ctx, r.ProviderID)
		if berr != nil {
			return berr
		}
		return &InsufficientFundsError{Balance: balance}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payout_requests (
			id, provider_id, amount, method, account_number, account_name,
			status, reference, failure_reason, created_at, settle_at, completed_at
		) VALUES ($1, $2, $3::NUMERIC(12,2), $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.ProviderID, r.Amount.String(), string(r.Method),
		r.AccountNumber, r.AccountName, string(r.Status), r.Reference,
		nullString(r.FailureReason), r.CreatedAt, r.SettleAt, nullTime(r.CompletedAt))
	if err != nil {
		return err
	}

	return tx.Commit()
}

const requestColumns = `id, provider_id, amount::TEXT, method, account_number, account_name,
	       status, reference, failure_reason, created_at, settle_at, completed_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Request, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM payout_requests WHERE id = $1`, id)
	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, ErrRequestNotFound
	}
	return r, err
}

// Update persists a settlement transition. Terminal rows are never
// overwritten: a concurrent transition that won the race surfaces as
// ErrAlreadySettled.
func (p *PostgresStore) Update(ctx context.Context, r *Request) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE payout_requests SET
			status = $1, failure_reason = $2, completed_at = $3
		WHERE id = $4 AND status NOT IN ('COMPLETED', 'FAILED')`,
		string(r.Status), nullString(r.FailureReason), nullTime(r.CompletedAt), r.ID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM payout_requests WHERE id = $1)`, r.ID).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return ErrAlreadySettled
		}
		return ErrRequestNotFound
	}
	return nil
}

// FailAndRefund marks the request FAILED and restores the locked funds in
// one serializable transaction.
func (p *PostgresStore) FailAndRefund(ctx context.Context, r *Request) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE payout_requests SET
			status = $1, failure_reason = $2, completed_at = $3
		WHERE id = $4 AND status NOT IN ('COMPLETED', 'FAILED')`,
		string(r.Status), nullString(r.FailureReason), nullTime(r.CompletedAt), r.ID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM payout_requests WHERE id = $1)`, r.ID).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return ErrAlreadySettled
		}
		return ErrRequestNotFound
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE provider_balances SET
			available  = available + $2::NUMERIC(12,2),
			updated_at = NOW()
		WHERE provider_id = $1`,
		r.ProviderID, r.Amount.String())
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (p *PostgresStore) ListByProvider(ctx context.Context, providerID string, limit int) ([]*Request, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+requestColumns+`
		FROM payout_requests
		WHERE provider_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, providerID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanRequests(rows)
}

func (p *PostgresStore) ListDue(ctx context.Context, before time.Time, limit int) ([]*Request, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+requestColumns+`
		FROM payout_requests
		WHERE status = 'PENDING' AND settle_at < $1
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanRequests(rows)
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(s scanner) (*Request, error) {
	r := &Request{}
	var (
		amount        string
		method        string
		status        string
		failureReason sql.NullString
		completedAt   sql.NullTime
	)

	err := s.Scan(
		&r.ID, &r.ProviderID, &amount, &method, &r.AccountNumber, &r.AccountName,
		&status, &r.Reference, &failureReason, &r.CreatedAt, &r.SettleAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	parsed, ok := ParseAmount(amount)
	if !ok {
		return nil, ErrRequestNotFound
	}
	r.Amount = parsed
	r.Method = Method(method)
	r.Status = Status(status)
	r.FailureReason = failureReason.String
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Time
	}
	return r, nil
}

func scanRequests(rows *sql.Rows) ([]*Request, error) {
	var result []*Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
