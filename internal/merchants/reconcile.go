package merchants

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/sabormirandiano/casino-api/internal/lock"
	"github.com/sabormirandiano/casino-api/internal/obs"
)

const reconcileLockKey = "lock:reconcile:payments"

// Reconciler periodically re-queries the rails for stale open payments and
// feeds the answers through the engine. Webhooks get lost; this closes the
// gap. Runs are serialised across replicas with a redis lock, and since
// every update goes through Engine.Apply, a run racing a late webhook is
// still safe.
type Reconciler struct {
	Registry  *Registry
	Store     Store
	Engine    *Engine
	Locker    lock.Locker
	Interval  time.Duration
	MinAge    time.Duration
	BatchSize int32
	LockTTL   time.Duration
	Logger    zerolog.Logger
}

// Run polls until ctx is cancelled.
func (rc *Reconciler) Run(ctx context.Context) {
	interval := rc.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rc.runOnce(ctx)
		}
	}
}

func (rc *Reconciler) runOnce(ctx context.Context) {
	err := rc.Locker.TryWithLock(ctx, reconcileLockKey, rc.lockTTL(), rc.ReconcileBatch)
	switch {
	case errors.Is(err, lock.ErrNotAcquired):
		rc.observe("skipped")
	case err != nil:
		rc.observe("error")
		rc.Logger.Error().Err(err).Msg("reconcile run failed")
	default:
		rc.observe("ok")
	}
}

// Trigger runs one pass on demand for the staff endpoint. Returns
// lock.ErrNotAcquired when a scheduled run is already in flight.
func (rc *Reconciler) Trigger(ctx context.Context) error {
	return rc.Locker.TryWithLock(ctx, reconcileLockKey, rc.lockTTL(), rc.ReconcileBatch)
}

// ReconcileBatch processes one batch of stale open payments. Exported so the
// staff-triggered endpoint and tests can run a pass without the ticker.
func (rc *Reconciler) ReconcileBatch(ctx context.Context) error {
	minAge := rc.MinAge
	if minAge <= 0 {
		minAge = 5 * time.Minute
	}
	batch := rc.BatchSize
	if batch <= 0 {
		batch = 100
	}
	payments, err := rc.Store.ListOpenPayments(ctx, int64(minAge/time.Second), batch)
	if err != nil {
		return err
	}
	for _, p := range payments {
		if err := ctx.Err(); err != nil {
			return err
		}
		rc.reconcileOne(ctx, p)
	}
	rc.Logger.Info().Int("payments", len(payments)).Msg("reconcile batch done")
	return nil
}

// reconcileOne queries the rail and applies the answer. Per-payment failures
// are logged and skipped: one unreachable gateway must not stall the batch.
func (rc *Reconciler) reconcileOne(ctx context.Context, p Payment) {
	provider, err := rc.Registry.Get(p.ProviderKey)
	if err != nil {
		rc.Logger.Warn().Str("provider", p.ProviderKey).Str("session_id", p.SessionID).
			Msg("open payment references unregistered provider")
		return
	}
	if provider.InPerson() {
		// Counter payments settle through staff approval, not polling.
		return
	}
	status, err := provider.GetPayment(ctx, p.SessionID)
	if err != nil {
		rc.Logger.Warn().Err(err).Str("provider", p.ProviderKey).Str("session_id", p.SessionID).
			Msg("reconcile status query failed")
		return
	}
	if status.State == StateUnknown || status.State == p.State {
		return
	}
	if _, err := rc.Engine.Apply(ctx, p.SessionID, status.State, SourceReconciler); err != nil {
		rc.Logger.Error().Err(err).Str("session_id", p.SessionID).
			Str("state", string(status.State)).Msg("reconcile transition failed")
	}
}

func (rc *Reconciler) lockTTL() time.Duration {
	if rc.LockTTL > 0 {
		return rc.LockTTL
	}
	return 2 * time.Minute
}

func (rc *Reconciler) observe(result string) {
	if obs.ReconcileRunsTotal != nil {
		obs.ReconcileRunsTotal.WithLabelValues(result).Inc()
	}
}
