package merchants

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPaymentAPI(t *testing.T) (*chi.Mux, *memStore) {
	t.Helper()
	store := newMemStore()
	store.requests["req-1"] = LedgerRequest{Code: "req-1", GuardianID: "guardian-1", Amount: 5000, Currency: "CLP"}
	store.balances["guardian-1"] = 0
	h := &Handlers{
		Engine: &Engine{Store: store, Logger: zerolog.Nop()},
		Store:  store,
		Logger: zerolog.Nop(),
	}
	router := chi.NewRouter()
	router.Mount("/payments", h.Routes())
	return router, store
}

func TestPaymentGet(t *testing.T) {
	router, store := newPaymentAPI(t)
	seedPayment(t, store, StateProcessing)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/payments/req-1", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"processing"`)
	assert.Contains(t, rec.Body.String(), `"requestCode":"req-1"`)
}

func TestPaymentGetNotFound(t *testing.T) {
	router, _ := newPaymentAPI(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/payments/ghost", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPaymentApproveIdempotent(t *testing.T) {
	router, store := newPaymentAPI(t)
	seedPayment(t, store, StateProcessing)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/payments/req-1/approve", nil))
		require.Equal(t, http.StatusOK, rec.Code, "attempt %d", i)
		assert.Contains(t, rec.Body.String(), `"state":"succeeded"`)
	}
	assert.Equal(t, int64(5000), store.balances["guardian-1"], "double click credits once")
}

func TestPaymentApproveAmountMismatchConflict(t *testing.T) {
	router, store := newPaymentAPI(t)
	seedPayment(t, store, StateProcessing)
	store.requests["req-1"] = LedgerRequest{Code: "req-1", GuardianID: "guardian-1", Amount: 100, Currency: "CLP"}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/payments/req-1/approve", nil))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "AMOUNT_MISMATCH")
}

func TestPaymentCancel(t *testing.T) {
	router, store := newPaymentAPI(t)
	seedPayment(t, store, StatePending)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/payments/req-1/cancel", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	p, err := store.GetPayment(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, p.State)
}

func TestPaymentRefundOnlyAfterSuccess(t *testing.T) {
	router, store := newPaymentAPI(t)
	seedPayment(t, store, StateProcessing)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/payments/req-1/refund", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"processing"`, "illegal refund is a no-op")

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/payments/req-1/approve", nil))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/payments/req-1/refund", nil))
	assert.Contains(t, rec.Body.String(), `"state":"refunded"`)
	assert.Equal(t, int64(5000), store.balances["guardian-1"], "refund does not reverse the credit")
}
