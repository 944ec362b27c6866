package merchants

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sabormirandiano/casino-api/internal/lock"
)

func newReconciler(t *testing.T) (*Reconciler, *memStore, *Dummy) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := newMemStore()
	store.requests["req-1"] = LedgerRequest{Code: "req-1", GuardianID: "guardian-1", Amount: 5000, Currency: "CLP"}
	store.balances["guardian-1"] = 0

	dummy := NewDummy()
	registry := NewRegistry()
	require.NoError(t, registry.Register(dummy))
	require.NoError(t, registry.Register(Cafeteria{}))

	return &Reconciler{
		Registry:  registry,
		Store:     store,
		Engine:    &Engine{Store: store, Logger: zerolog.Nop()},
		Locker:    lock.Locker{R: client},
		MinAge:    time.Second,
		BatchSize: 10,
		LockTTL:   time.Minute,
		Logger:    zerolog.Nop(),
	}, store, dummy
}

func stalePayment(t *testing.T, store *memStore, sessionID, provider string, state State) {
	t.Helper()
	_, err := store.CreatePayment(context.Background(), Payment{
		SessionID:   sessionID,
		ProviderKey: provider,
		Amount:      5000,
		Currency:    "CLP",
		State:       state,
		Metadata:    map[string]string{MetaRequestCode: "req-1"},
	})
	require.NoError(t, err)
	ageRow(store, sessionID)
}

func ageRow(store *memStore, sessionID string) {
	store.mu.Lock()
	p := store.payments[sessionID]
	p.UpdatedAt = time.Now().Add(-time.Hour)
	store.payments[sessionID] = p
	store.mu.Unlock()
}

func TestReconcileAppliesGatewayAnswer(t *testing.T) {
	rc, store, dummy := newReconciler(t)
	stalePayment(t, store, "tr_req-1", KeyDummy, StatePending)
	dummy.SetStatus("tr_req-1", "paid")

	require.NoError(t, rc.Trigger(context.Background()))

	// Even with every webhook lost, one sweep settles and credits: the
	// gateway's answer is authoritative.
	p, err := store.GetPayment(context.Background(), "tr_req-1")
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, p.State)
	assert.Equal(t, int64(5000), store.balances["guardian-1"])

	ageRow(store, "tr_req-1")
	require.NoError(t, rc.Trigger(context.Background()))
	assert.Equal(t, int64(5000), store.balances["guardian-1"], "settled rows leave the open set")
}

func TestReconcileSkipsInPersonRails(t *testing.T) {
	rc, store, _ := newReconciler(t)
	stalePayment(t, store, "req-1", KeyCafeteria, StateProcessing)

	require.NoError(t, rc.Trigger(context.Background()))

	p, err := store.GetPayment(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, StateProcessing, p.State, "counter payments settle via staff, not polling")
}

func TestReconcileIgnoresFreshPayments(t *testing.T) {
	rc, store, dummy := newReconciler(t)
	_, err := store.CreatePayment(context.Background(), Payment{
		SessionID: "tr_fresh", ProviderKey: KeyDummy, Amount: 100, Currency: "CLP", State: StatePending,
	})
	require.NoError(t, err)
	dummy.SetStatus("tr_fresh", "processing")

	require.NoError(t, rc.Trigger(context.Background()))

	p, err := store.GetPayment(context.Background(), "tr_fresh")
	require.NoError(t, err)
	assert.Equal(t, StatePending, p.State)
}

func TestReconcileTriggerBusyWhenLockHeld(t *testing.T) {
	rc, _, _ := newReconciler(t)
	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = rc.Locker.TryWithLock(context.Background(), "lock:reconcile:payments", time.Minute, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	defer close(release)

	err := rc.Trigger(context.Background())
	assert.ErrorIs(t, err, lock.ErrNotAcquired)
}
