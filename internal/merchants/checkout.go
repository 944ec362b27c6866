package merchants

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sabormirandiano/casino-api/internal/obs"
)

// CheckoutResult pairs the rail session with the canonical payment record
// created for it.
type CheckoutResult struct {
	Session CheckoutSession
	Payment Payment
}

// CheckoutService resolves a rail from the registry, opens a session for a
// ledger request and persists the canonical payment record. It is the only
// writer of new payments; all later mutation belongs to the engine.
type CheckoutService struct {
	Registry *Registry
	Store    Store
	Logger   zerolog.Logger
}

// Checkout opens a payment session on the named rail. In-person rails start
// the payment in processing (the payer is at the counter), gateway rails in
// pending. Re-running a checkout whose session already exists returns the
// existing payment instead of erroring, so client retries are harmless.
func (s *CheckoutService) Checkout(ctx context.Context, providerKey string, req CheckoutRequest) (CheckoutResult, error) {
	provider, err := s.Registry.Get(providerKey)
	if err != nil {
		s.observe(providerKey, "unknown_provider")
		return CheckoutResult{}, err
	}

	session, err := provider.CreateCheckout(ctx, req)
	if err != nil {
		s.observe(provider.Key(), resultFor(err))
		return CheckoutResult{}, fmt.Errorf("create checkout on %s: %w", provider.Key(), err)
	}

	initial := StatePending
	if provider.InPerson() {
		initial = StateProcessing
	}
	payment, err := s.Store.CreatePayment(ctx, Payment{
		SessionID:   session.SessionID,
		ProviderKey: provider.Key(),
		Amount:      session.Amount,
		Currency:    session.Currency,
		State:       initial,
		Metadata:    session.Metadata,
	})
	if errors.Is(err, ErrDuplicateSession) {
		existing, getErr := s.Store.GetPayment(ctx, session.SessionID)
		if getErr != nil {
			return CheckoutResult{}, fmt.Errorf("load existing session %s: %w", session.SessionID, getErr)
		}
		s.observe(provider.Key(), "duplicate")
		s.Logger.Info().
			Str("provider", provider.Key()).
			Str("session_id", session.SessionID).
			Msg("checkout replay, returning existing payment")
		return CheckoutResult{Session: session, Payment: existing}, nil
	}
	if err != nil {
		s.observe(provider.Key(), "store_error")
		return CheckoutResult{}, fmt.Errorf("persist payment: %w", err)
	}

	s.observe(provider.Key(), "created")
	s.Logger.Info().
		Str("provider", provider.Key()).
		Str("session_id", session.SessionID).
		Str("request_code", req.RequestCode).
		Int64("amount", session.Amount).
		Str("state", string(initial)).
		Msg("checkout session created")
	return CheckoutResult{Session: session, Payment: payment}, nil
}

func (s *CheckoutService) observe(provider, result string) {
	if obs.CheckoutTotal != nil {
		obs.CheckoutTotal.WithLabelValues(provider, result).Inc()
	}
}

func resultFor(err error) string {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return "rejected"
	}
	if IsRetryable(err) {
		return "unavailable"
	}
	return "error"
}
