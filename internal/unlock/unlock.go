// Package unlock grants access to landlord contact details.
//
// Flow:
//  1. Principal requests a target listing's contact
//  2. An existing (principal, target) record short-circuits to the same payload, no debit
//  3. Otherwise one quota unit is debited and a record created, atomically
//  4. Records are append-only: an audit of every access grant
package unlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mensahlabs/rentlink/internal/identity"
	"github.com/mensahlabs/rentlink/internal/metrics"
	"github.com/mensahlabs/rentlink/internal/quota"
	"github.com/mensahlabs/rentlink/internal/syncutil"
	"github.com/mensahlabs/rentlink/internal/traces"
)

var (
	ErrTargetNotFound  = errors.New("unlock: target not found")
	ErrRecordNotFound  = errors.New("unlock: record not found")
	ErrDuplicateRecord = errors.New("unlock: record already exists")
)

// Status reports how an unlock request was satisfied.
type Status string

const (
	StatusUnlocked        Status = "UNLOCKED"
	StatusAlreadyUnlocked Status = "ALREADY_UNLOCKED"
)

// Record is the append-only audit of one access grant. The
// (PrincipalID, TargetID) pair is unique and never destroyed.
type Record struct {
	PrincipalID string    `json:"principalId"`
	TargetID    string    `json:"targetId"`
	UnlockedAt  time.Time `json:"unlockedAt"`
}

// Contact is the landlord contact payload revealed by an unlock.
type Contact struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Result is the outcome of a successful unlock call. A repeat unlock carries
// the same payload as a fresh one.
type Result struct {
	Status    Status          `json:"status"`
	TargetID  string          `json:"targetId"`
	Contact   Contact         `json:"contact"`
	Remaining quota.Remaining `json:"remaining"`
}

// Store persists unlock records.
type Store interface {
	Find(ctx context.Context, principalID, targetID string) (*Record, error)
	Create(ctx context.Context, record *Record) error
	ListByPrincipal(ctx context.Context, principalID string, limit int) ([]*Record, error)
}

// Catalog answers whether a target listing exists.
type Catalog interface {
	Exists(ctx context.Context, targetID string) (bool, error)
}

// ContactProvider returns the contact payload for a target listing.
type ContactProvider interface {
	Contact(ctx context.Context, targetID string) (Contact, error)
}

// Engine implements the unlock business logic.
type Engine struct {
	store    Store
	quota    *quota.Ledger
	catalog  Catalog
	contacts ContactProvider
	locks    syncutil.ShardedMutex // serializes record-check + debit + create per principal
}

// NewEngine creates a new unlock engine.
func NewEngine(store Store, ledger *quota.Ledger, catalog Catalog, contacts ContactProvider) *Engine {
	return &Engine{store: store, quota: ledger, catalog: catalog, contacts: contacts}
}

// Unlock grants the principal access to the target's contact details.
//
// The record-existence check, the quota debit, and the record creation form
// one atomic unit per principal: two concurrent calls for the same untouched
// pair produce exactly one debit and one record, with the loser seeing
// ALREADY_UNLOCKED.
func (e *Engine) Unlock(ctx context.Context, p *identity.Principal, targetID string) (*Result, error) {
	ctx, span := traces.StartSpan(ctx, "unlock.Unlock",
		traces.PrincipalID(p.ID),
		traces.TargetID(targetID),
	)
	defer span.End()

	unlock := e.locks.Lock(p.ID)
	defer unlock()

	if existing, err := e.store.Find(ctx, p.ID, targetID); err == nil && existing != nil {
		return e.result(ctx, StatusAlreadyUnlocked, p, targetID, 0)
	} else if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return nil, fmt.Errorf("find unlock record: %w", err)
	}

	exists, err := e.catalog.Exists(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("catalog lookup: %w", err)
	}
	if !exists {
		return nil, ErrTargetNotFound
	}

	if err := e.quota.TryDebit(ctx, p); err != nil {
		var exhausted *quota.QuotaExhaustedError
		if errors.As(err, &exhausted) {
			metrics.QuotaExhaustedTotal.Inc()
		}
		return nil, err
	}

	record := &Record{PrincipalID: p.ID, TargetID: targetID, UnlockedAt: time.Now()}
	if err := e.store.Create(ctx, record); err != nil {
		if errors.Is(err, ErrDuplicateRecord) {
			// Pair was recorded elsewhere; the debit must not stand twice.
			_ = e.quota.CreditBack(ctx, p)
			return e.result(ctx, StatusAlreadyUnlocked, p, targetID, 0)
		}
		// Debit happened but the record did not: compensate so the unit
		// is not silently lost.
		_ = e.quota.CreditBack(ctx, p)
		return nil, fmt.Errorf("create unlock record: %w", err)
	}

	metrics.UnlocksTotal.WithLabelValues("unlocked").Inc()
	return e.result(ctx, StatusUnlocked, p, targetID, 1)
}

// History returns the principal's unlock records, newest first.
func (e *Engine) History(ctx context.Context, principalID string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}
	return e.store.ListByPrincipal(ctx, principalID, limit)
}

// result assembles the response payload. extraUsed accounts for a debit made
// in this call, which the request-scoped principal snapshot does not reflect.
func (e *Engine) result(ctx context.Context, status Status, p *identity.Principal, targetID string, extraUsed int) (*Result, error) {
	contact, err := e.contacts.Contact(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("load contact: %w", err)
	}

	if status == StatusAlreadyUnlocked {
		metrics.UnlocksTotal.WithLabelValues("already_unlocked").Inc()
	}

	adjusted := *p
	adjusted.UnitsUsed += extraUsed
	return &Result{
		Status:    status,
		TargetID:  targetID,
		Contact:   contact,
		Remaining: e.quota.UnitsRemaining(&adjusted),
	}, nil
}
