package merchants

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCheckoutService(t *testing.T, providers ...Provider) (*CheckoutService, *memStore) {
	t.Helper()
	registry := NewRegistry()
	for _, p := range providers {
		require.NoError(t, registry.Register(p))
	}
	store := newMemStore()
	return &CheckoutService{Registry: registry, Store: store, Logger: zerolog.Nop()}, store
}

func TestCheckoutInPersonStartsProcessing(t *testing.T) {
	svc, store := newCheckoutService(t, Cafeteria{})

	result, err := svc.Checkout(context.Background(), KeyCafeteria, CheckoutRequest{
		RequestCode: "req-1", GuardianID: "guardian-1", Amount: 3000, Currency: "CLP",
	})
	require.NoError(t, err)

	assert.Equal(t, StateProcessing, result.Payment.State)
	assert.Equal(t, "req-1", result.Payment.SessionID)
	stored, err := store.GetPayment(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, StateProcessing, stored.State)
}

func TestCheckoutGatewayStartsPending(t *testing.T) {
	svc, _ := newCheckoutService(t, NewDummy())

	result, err := svc.Checkout(context.Background(), KeyDummy, CheckoutRequest{
		RequestCode: "req-2", Amount: 3000, Currency: "CLP",
	})
	require.NoError(t, err)

	assert.Equal(t, StatePending, result.Payment.State)
	assert.Equal(t, "tr_req-2", result.Payment.SessionID)
	assert.NotEmpty(t, result.Session.RedirectURL)
}

func TestCheckoutUnknownProvider(t *testing.T) {
	svc, store := newCheckoutService(t)

	_, err := svc.Checkout(context.Background(), "stripe", CheckoutRequest{RequestCode: "r", Amount: 1})

	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, store.payments)
}

func TestCheckoutProviderErrorLeavesNoRow(t *testing.T) {
	svc, store := newCheckoutService(t, Cafeteria{})

	_, err := svc.Checkout(context.Background(), KeyCafeteria, CheckoutRequest{
		RequestCode: "req-3", Amount: -5,
	})

	var rejected *RejectedError
	assert.ErrorAs(t, err, &rejected)
	assert.Empty(t, store.payments, "no payment row on provider rejection")
}

func TestCheckoutReplayReturnsExistingPayment(t *testing.T) {
	svc, _ := newCheckoutService(t, Cafeteria{})
	req := CheckoutRequest{RequestCode: "req-4", Amount: 1500, Currency: "CLP"}

	first, err := svc.Checkout(context.Background(), KeyCafeteria, req)
	require.NoError(t, err)
	second, err := svc.Checkout(context.Background(), KeyCafeteria, req)
	require.NoError(t, err)

	assert.Equal(t, first.Payment.ID, second.Payment.ID, "retry returns the same payment")
}
