package payout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mensahlabs/rentlink/internal/idgen"
	"github.com/mensahlabs/rentlink/internal/metrics"
	"github.com/mensahlabs/rentlink/internal/retry"
	"github.com/mensahlabs/rentlink/internal/syncutil"
	"github.com/mensahlabs/rentlink/internal/traces"
)

// InsufficientFundsError is a policy denial: the provider's balance cannot
// cover the requested amount. It carries the current balance so the caller
// can show it.
type InsufficientFundsError struct {
	Balance Amount
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available balance is %s", e.Balance)
}

// FieldError is a request validation failure. The first violation wins and
// nothing is mutated.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string { return e.Field + ": " + e.Message }

// Store persists provider balances and payout requests. DebitAndCreate and
// FailAndRefund are atomic: the balance change and the request row commit
// together or not at all.
type Store interface {
	Balance(ctx context.Context, providerID string) (Amount, error)
	Credit(ctx context.Context, providerID string, amount Amount, reference string) error
	DebitAndCreate(ctx context.Context, request *Request) error
	Get(ctx context.Context, id string) (*Request, error)
	Update(ctx context.Context, request *Request) error
	FailAndRefund(ctx context.Context, request *Request) error
	ListByProvider(ctx context.Context, providerID string, limit int) ([]*Request, error)
	ListDue(ctx context.Context, before time.Time, limit int) ([]*Request, error)
}

// RequestParams are the caller-supplied fields of a payout request.
type RequestParams struct {
	ProviderID    string
	Amount        string
	Method        Method
	AccountNumber string
	AccountName   string
}

// History is the payout view of one provider: available balance plus every
// request, newest first.
type History struct {
	AvailableBalance Amount     `json:"availableBalance"`
	Payouts          []*Request `json:"payouts"`
}

// Ledger implements payout business logic.
type Ledger struct {
	store           Store
	settlementDelay time.Duration
	providerLocks   syncutil.ShardedMutex // serializes balance read-modify-write per provider
	requestLocks    syncutil.ShardedMutex // serializes settlement transitions per request
}

// NewLedger creates a payout ledger. settlementDelay is how long after
// creation the simulated settlement fires.
func NewLedger(store Store, settlementDelay time.Duration) *Ledger {
	if settlementDelay <= 0 {
		settlementDelay = 10 * time.Second
	}
	return &Ledger{store: store, settlementDelay: settlementDelay}
}

// validate applies the request checks in order; the first violation wins.
func validate(params RequestParams) *FieldError {
	amount, ok := ParseAmount(params.Amount)
	if !ok || amount < MinAmount || amount > MaxAmount {
		return &FieldError{Field: "amount", Message: "must be between 10 and 5000"}
	}
	if !ValidMethod(params.Method) {
		return &FieldError{Field: "method", Message: "must be one of MTN, VODAFONE, AIRTELTIGO, BANK"}
	}
	if len(strings.TrimSpace(params.AccountNumber)) < 10 {
		return &FieldError{Field: "accountNumber", Message: "must be at least 10 characters"}
	}
	if len(strings.TrimSpace(params.AccountName)) < 3 {
		return &FieldError{Field: "accountName", Message: "must be at least 3 characters"}
	}
	return nil
}

// RequestPayout validates the request, locks the funds, and records a PENDING
// payout request. The debit and the request creation are one atomic step: no
// reader can observe the debited balance without the corresponding request.
func (l *Ledger) RequestPayout(ctx context.Context, params RequestParams) (*Request, error) {
	if err := validate(params); err != nil {
		return nil, err
	}
	amount, _ := ParseAmount(params.Amount)

	ctx, span := traces.StartSpan(ctx, "payout.RequestPayout",
		traces.ProviderID(params.ProviderID),
		traces.Amount(amount.String()),
	)
	defer span.End()

	unlock := l.providerLocks.Lock(params.ProviderID)
	defer unlock()

	balance, err := l.store.Balance(ctx, params.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	if balance < amount {
		return nil, &InsufficientFundsError{Balance: balance}
	}

	now := time.Now()
	request := &Request{
		ID:            idgen.WithPrefix("po_"),
		ProviderID:    params.ProviderID,
		Amount:        amount,
		Method:        params.Method,
		AccountNumber: strings.TrimSpace(params.AccountNumber),
		AccountName:   strings.TrimSpace(params.AccountName),
		Status:        StatusPending,
		Reference:     generateReference(now),
		CreatedAt:     now,
		SettleAt:      now.Add(l.settlementDelay),
	}

	if err := l.store.DebitAndCreate(ctx, request); err != nil {
		return nil, fmt.Errorf("lock payout funds: %w", err)
	}

	metrics.PayoutsRequestedTotal.Inc()
	metrics.PayoutAmount.Observe(float64(amount) / 100)
	return request, nil
}

// Credit adds earnings to a provider's balance.
func (l *Ledger) Credit(ctx context.Context, providerID string, amount Amount, reference string) error {
	if amount <= 0 {
		return &FieldError{Field: "amount", Message: "must be positive"}
	}
	unlock := l.providerLocks.Lock(providerID)
	defer unlock()
	return l.store.Credit(ctx, providerID, amount, reference)
}

// History returns the provider's balance and payout requests, newest first.
// It reflects every committed request; a settlement transition concurrently
// in flight may or may not be visible, which is acceptable because status is
// advisory until terminal.
func (l *Ledger) History(ctx context.Context, providerID string, limit int) (*History, error) {
	if limit <= 0 {
		limit = 50
	}
	balance, err := l.store.Balance(ctx, providerID)
	if err != nil {
		return nil, err
	}
	requests, err := l.store.ListByProvider(ctx, providerID, limit)
	if err != nil {
		return nil, err
	}
	if requests == nil {
		requests = []*Request{}
	}
	return &History{AvailableBalance: balance, Payouts: requests}, nil
}

// Get returns a payout request by ID.
func (l *Ledger) Get(ctx context.Context, id string) (*Request, error) {
	return l.store.Get(ctx, id)
}

// Settle drives a pending request to COMPLETED. Exactly one terminal
// transition happens per request: a duplicate delivery finds the request
// terminal and no-ops with ErrAlreadySettled.
func (l *Ledger) Settle(ctx context.Context, id string) (*Request, error) {
	ctx, span := traces.StartSpan(ctx, "payout.Settle", traces.PayoutID(id))
	defer span.End()

	unlock := l.requestLocks.Lock(id)
	defer func() { unlock() }()

	request, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if request.IsTerminal() {
		return request, ErrAlreadySettled
	}

	// PROCESSING is transient: it exists so a real settlement backend can
	// report intermediate progress, and is not persisted here.
	request.Status = StatusProcessing

	now := time.Now()
	request.Status = StatusCompleted
	request.CompletedAt = &now

	// The funds were locked at request time; completion moves no money, so
	// a transient store failure here is safe to retry. The request lock is
	// released during backoff so other settlements on the shard proceed.
	err = retry.DoWithUnlock(ctx, 2, 50*time.Millisecond,
		func() { unlock() },
		func() { unlock = l.requestLocks.Lock(id) },
		func() error {
			err := l.store.Update(ctx, request)
			if errors.Is(err, ErrAlreadySettled) {
				// A concurrent transition won while the lock was released.
				return retry.Permanent(err)
			}
			return err
		})
	if errors.Is(err, ErrAlreadySettled) {
		stored, getErr := l.store.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return stored, ErrAlreadySettled
	}
	if err != nil {
		return nil, fmt.Errorf("persist settlement: %w", err)
	}

	metrics.PayoutsSettledTotal.WithLabelValues("completed").Inc()
	return request, nil
}

// Fail drives a pending request to FAILED and restores the locked funds to
// the provider's balance. This is the only transition that touches the
// balance, and it happens atomically with the status change.
func (l *Ledger) Fail(ctx context.Context, id, reason string) (*Request, error) {
	unlock := l.requestLocks.Lock(id)
	defer unlock()

	request, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if request.IsTerminal() {
		return request, ErrAlreadySettled
	}

	providerUnlock := l.providerLocks.Lock(request.ProviderID)
	defer providerUnlock()

	now := time.Now()
	request.Status = StatusFailed
	request.FailureReason = reason
	request.CompletedAt = &now

	if err := l.store.FailAndRefund(ctx, request); err != nil {
		return nil, fmt.Errorf("fail payout: %w", err)
	}

	metrics.PayoutsSettledTotal.WithLabelValues("failed").Inc()
	return request, nil
}

// generateReference builds a human-readable payout reference.
func generateReference(t time.Time) string {
	return "PAY-" + t.Format("20060102") + "-" + strings.ToUpper(idgen.Hex(4))
}
