package merchants

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type webhookFixture struct {
	router *chi.Mux
	store  *memStore
	dummy  *Dummy
}

func newWebhookFixture(t *testing.T) webhookFixture {
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

	handler := &WebhookHandler{
		Registry:  registry,
		Engine:    &Engine{Store: store, Logger: zerolog.Nop()},
		Redis:     client,
		ReplayTTL: time.Minute,
		Logger:    zerolog.Nop(),
	}
	router := chi.NewRouter()
	router.Post("/webhooks/{provider}", handler.Handle)
	return webhookFixture{router: router, store: store, dummy: dummy}
}

func (f webhookFixture) post(t *testing.T, provider string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+provider, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func seedWebhookPayment(t *testing.T, store *memStore) {
	t.Helper()
	_, err := store.CreatePayment(context.Background(), Payment{
		SessionID:   "tr_req-1",
		ProviderKey: KeyDummy,
		Amount:      5000,
		Currency:    "CLP",
		State:       StatePending,
		Metadata:    map[string]string{MetaRequestCode: "req-1"},
	})
	require.NoError(t, err)
}

func TestWebhookUnknownProviderIs404(t *testing.T) {
	f := newWebhookFixture(t)
	rec := f.post(t, "stripe", map[string]string{"event_id": "e1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookAppliesTransition(t *testing.T) {
	f := newWebhookFixture(t)
	seedWebhookPayment(t, f.store)

	rec := f.post(t, KeyDummy, map[string]string{
		"event_id": "e1", "session_id": "tr_req-1", "status": "processing",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	p, err := f.store.GetPayment(context.Background(), "tr_req-1")
	require.NoError(t, err)
	assert.Equal(t, StateProcessing, p.State)
}

func TestWebhookReplayDropped(t *testing.T) {
	f := newWebhookFixture(t)
	seedWebhookPayment(t, f.store)
	payload := map[string]string{"event_id": "e1", "session_id": "tr_req-1", "status": "processing"}

	first := f.post(t, KeyDummy, payload)
	require.Equal(t, http.StatusOK, first.Code)

	// Move on so a real second event would be applied, then replay the first.
	second := f.post(t, KeyDummy, payload)
	assert.Equal(t, http.StatusOK, second.Code, "replay still acknowledged")
	assert.Contains(t, second.Body.String(), "duplicate")
}

func TestWebhookMalformedBodyAcknowledged(t *testing.T) {
	f := newWebhookFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+KeyDummy, bytes.NewReader([]byte(`{broken`)))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code, "garbage is acknowledged, not retried")
	assert.Contains(t, rec.Body.String(), "ignored")
}

func TestWebhookUnknownSessionAcknowledged(t *testing.T) {
	f := newWebhookFixture(t)
	rec := f.post(t, KeyDummy, map[string]string{
		"event_id": "e9", "session_id": "tr_ghost", "status": "paid",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ignored")
}

func TestWebhookUnknownStatusNeverApplied(t *testing.T) {
	f := newWebhookFixture(t)
	seedWebhookPayment(t, f.store)

	rec := f.post(t, KeyDummy, map[string]string{
		"event_id": "e2", "session_id": "tr_req-1", "status": "weird_new_status",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	p, err := f.store.GetPayment(context.Background(), "tr_req-1")
	require.NoError(t, err)
	assert.Equal(t, StatePending, p.State, "unknown status leaves the payment untouched")
}

func TestWebhookSuccessCreditsOnceAcrossReplays(t *testing.T) {
	f := newWebhookFixture(t)
	seedWebhookPayment(t, f.store)

	require.Equal(t, http.StatusOK, f.post(t, KeyDummy, map[string]string{
		"event_id": "e1", "session_id": "tr_req-1", "status": "processing",
	}).Code)
	for i, eventID := range []string{"e2", "e2", "e3"} {
		rec := f.post(t, KeyDummy, map[string]string{
			"event_id": eventID, "session_id": "tr_req-1", "status": "paid",
		})
		require.Equal(t, http.StatusOK, rec.Code, "delivery %d", i)
	}

	assert.Equal(t, int64(5000), f.store.balances["guardian-1"], "one credit across duplicate deliveries")
}

func TestWebhookPaidOnPendingSettles(t *testing.T) {
	f := newWebhookFixture(t)
	seedWebhookPayment(t, f.store)

	// The gateway's only delivery: no verifying/processing event ever arrived.
	rec := f.post(t, KeyDummy, map[string]string{
		"event_id": "e1", "session_id": "tr_req-1", "status": "paid",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	p, err := f.store.GetPayment(context.Background(), "tr_req-1")
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, p.State)
	assert.Equal(t, int64(5000), f.store.balances["guardian-1"])
}
