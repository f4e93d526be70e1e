package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Worker periodically settles payout requests whose delay has elapsed.
//
// Because due-ness lives in the store (settle_at), a restarted process picks
// up pending settlements on its first tick instead of losing them with an
// in-process timer.
type Worker struct {
	ledger   *Ledger
	store    Store
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewWorker creates a new settlement worker.
func NewWorker(ledger *Ledger, store Store, logger *slog.Logger) *Worker {
	return &Worker{
		ledger:   ledger,
		store:    store,
		interval: 2 * time.Second,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// WithInterval overrides the scan interval. Used by tests.
func (w *Worker) WithInterval(d time.Duration) *Worker {
	if d > 0 {
		w.interval = d
	}
	return w
}

// Running reports whether the worker loop is actively running.
func (w *Worker) Running() bool {
	return w.running.Load()
}

// Start begins the settlement loop. Call in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.running.Store(true)
	defer w.running.Store(false)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.safeSettleDue(ctx)
		}
	}
}

// Stop signals the worker to stop.
func (w *Worker) Stop() {
	select {
	case w.stop <- struct{}{}:
	default:
	}
}

func (w *Worker) safeSettleDue(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic in settlement worker", "panic", fmt.Sprint(r))
		}
	}()
	w.SettleDue(ctx)
}

// SettleDue settles every pending request whose settle time has passed.
// Exported so tests and operational tooling can drive a scan directly.
func (w *Worker) SettleDue(ctx context.Context) {
	due, err := w.store.ListDue(ctx, time.Now(), 100)
	if err != nil {
		w.logger.Warn("failed to list due payouts", "error", err)
		return
	}

	for _, request := range due {
		settled, err := w.ledger.Settle(ctx, request.ID)
		if err != nil {
			// A request settled between the scan and the transition is
			// not an error; the terminal guard already did its job.
			if errors.Is(err, ErrAlreadySettled) {
				continue
			}
			w.logger.Warn("failed to settle payout",
				"payoutId", request.ID,
				"error", err,
			)
			continue
		}
		w.logger.Info("payout settled",
			"payoutId", settled.ID,
			"provider", settled.ProviderID,
			"amount", settled.Amount.String(),
			"reference", settled.Reference,
		)
	}
}
