package merchants

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// KeyCafeteria identifies the in-person counter rail.
const KeyCafeteria = "cafeteria"

// displayCodeAlphabet omits characters easily confused when read aloud at the
// counter (0/O, 1/I/L).
const displayCodeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// Cafeteria is the in-person rail. No external gateway is involved: the
// checkout session is synthesised locally, the ledger request code doubles as
// session id, and settlement happens when staff approve the payment at the
// counter.
type Cafeteria struct{}

// Key implements Provider.
func (Cafeteria) Key() string { return KeyCafeteria }

// InPerson implements Provider.
func (Cafeteria) InPerson() bool { return true }

// CreateCheckout opens a counter session. The session id is the ledger
// request code so staff lookups and webhook-free approval need no mapping
// table, and a short display code is issued for reading out loud.
func (Cafeteria) CreateCheckout(_ context.Context, req CheckoutRequest) (CheckoutSession, error) {
	code := strings.TrimSpace(req.RequestCode)
	if code == "" {
		return CheckoutSession{}, &RejectedError{
			ProviderKey: KeyCafeteria,
			Message:     "request code is required for counter payments",
		}
	}
	if req.Amount <= 0 {
		return CheckoutSession{}, &RejectedError{
			ProviderKey: KeyCafeteria,
			Message:     fmt.Sprintf("amount must be positive, got %d", req.Amount),
		}
	}
	if !validCurrency(req.Currency) {
		return CheckoutSession{}, &RejectedError{
			ProviderKey: KeyCafeteria,
			Message:     fmt.Sprintf("currency must be a 3-letter code, got %q", req.Currency),
		}
	}
	display, err := newDisplayCode(6)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("generate display code: %w", err)
	}
	meta := map[string]string{
		MetaRequestCode: code,
		MetaDisplayCode: display,
	}
	if req.GuardianID != "" {
		meta[MetaGuardianID] = req.GuardianID
	}
	for k, v := range req.Metadata {
		if _, taken := meta[k]; !taken {
			meta[k] = v
		}
	}
	return CheckoutSession{
		SessionID:   code,
		Amount:      req.Amount,
		Currency:    req.Currency,
		ProviderKey: KeyCafeteria,
		Metadata:    meta,
	}, nil
}

// GetPayment reports the rail-side view of a counter session. The counter has
// no independent record: until staff act, the session is awaiting payment.
func (Cafeteria) GetPayment(_ context.Context, paymentID string) (PaymentStatus, error) {
	if strings.TrimSpace(paymentID) == "" {
		return PaymentStatus{}, fmt.Errorf("cafeteria payment id: %w", ErrNotFound)
	}
	return PaymentStatus{
		PaymentID:   paymentID,
		ProviderKey: KeyCafeteria,
		State:       StateProcessing,
		RawStatus:   "processing",
	}, nil
}

// ParseWebhook handles POS terminal callbacks. The counter flow usually goes
// through staff approval instead, but a terminal that does push events sends
// {"session_id": ..., "status": ..., "event_id": ...}.
func (Cafeteria) ParseWebhook(body []byte, _ http.Header) WebhookEvent {
	var payload struct {
		EventID   string `json:"event_id"`
		SessionID string `json:"session_id"`
		Status    string `json:"status"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return WebhookEvent{ProviderKey: KeyCafeteria, State: StateUnknown, Raw: body}
	}
	return WebhookEvent{
		EventID:     payload.EventID,
		SessionID:   payload.SessionID,
		ProviderKey: KeyCafeteria,
		State:       Normalize(KeyCafeteria, payload.Status),
		RawStatus:   payload.Status,
		Raw:         body,
	}
}

func newDisplayCode(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, length)
	for i, b := range buf {
		out[i] = displayCodeAlphabet[int(b)%len(displayCodeAlphabet)]
	}
	return string(out), nil
}
