// Package quota enforces per-cycle contact-unlock allowances by tier.
//
// Flow:
//  1. Principal attempts an unlock → ledger checks units against the tier ceiling
//  2. Numeric tiers debit one unit in an atomic check-and-increment
//  3. Unbounded tiers always pass with no bookkeeping
//  4. Exhaustion is a policy denial carrying tier and ceiling, not a fault
package quota

import (
	"context"
	"fmt"

	"github.com/mensahlabs/rentlink/internal/identity"
)

// QuotaExhaustedError is returned when a numeric tier has no units left.
// It carries the denial context so callers can render an upgrade prompt.
type QuotaExhaustedError struct {
	Tier    identity.Tier
	Ceiling int
	Used    int
}

func (e *QuotaExhaustedError) Error() string {
	return fmt.Sprintf("quota exhausted: tier %s allows %d unlocks per cycle", e.Tier, e.Ceiling)
}

// Remaining describes a principal's unit balance for the current cycle.
type Remaining struct {
	Unbounded bool `json:"unbounded"`
	Units     int  `json:"units"`
}

// UsageStore performs the per-principal unit bookkeeping. DebitUnit must be
// atomic: a concurrent pair of debits with one unit left may not both succeed.
type UsageStore interface {
	DebitUnit(ctx context.Context, principalID string, ceiling int) (bool, error)
	CreditUnit(ctx context.Context, principalID string) error
	ResetUnits(ctx context.Context, principalID string) error
}

// Ledger tracks per-principal unlock units for the current cycle.
type Ledger struct {
	store UsageStore
}

// NewLedger creates a quota ledger over the given usage store.
func NewLedger(store UsageStore) *Ledger {
	return &Ledger{store: store}
}

// UnitsRemaining reports how many unlocks the principal has left this cycle.
func (l *Ledger) UnitsRemaining(p *identity.Principal) Remaining {
	ceiling := CeilingFor(p.Tier)
	if ceiling.Unbounded {
		return Remaining{Unbounded: true}
	}
	units := ceiling.Units - p.UnitsUsed
	if units < 0 {
		units = 0
	}
	return Remaining{Units: units}
}

// TryDebit consumes one unit from the principal's cycle allowance.
// Unbounded tiers always succeed and perform no bookkeeping. Exhaustion
// returns *QuotaExhaustedError, a denial rather than a fault.
func (l *Ledger) TryDebit(ctx context.Context, p *identity.Principal) error {
	ceiling := CeilingFor(p.Tier)
	if ceiling.Unbounded {
		return nil
	}

	ok, err := l.store.DebitUnit(ctx, p.ID, ceiling.Units)
	if err != nil {
		return fmt.Errorf("quota debit: %w", err)
	}
	if !ok {
		return &QuotaExhaustedError{Tier: p.Tier, Ceiling: ceiling.Units, Used: p.UnitsUsed}
	}
	return nil
}

// CreditBack reverses a debit when the unit after it could not complete.
// No-op for unbounded tiers, which were never debited.
func (l *Ledger) CreditBack(ctx context.Context, p *identity.Principal) error {
	if CeilingFor(p.Tier).Unbounded {
		return nil
	}
	return l.store.CreditUnit(ctx, p.ID)
}

// ResetCycle zeroes a principal's usage. The reset is an explicit external
// event (billing webhook, admin action); the ledger never infers one.
func (l *Ledger) ResetCycle(ctx context.Context, principalID string) error {
	return l.store.ResetUnits(ctx, principalID)
}
