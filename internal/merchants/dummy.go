package merchants

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// KeyDummy identifies the scriptable test rail. It is only registered outside
// production environments.
const KeyDummy = "dummy"

// Dummy is an in-memory rail for integration tests and local development. It
// issues deterministic session ids and lets tests script the status a later
// GetPayment call reports.
type Dummy struct {
	mu       sync.Mutex
	sessions map[string]string
}

// NewDummy returns an empty dummy rail.
func NewDummy() *Dummy {
	return &Dummy{sessions: make(map[string]string)}
}

// Key implements Provider.
func (d *Dummy) Key() string { return KeyDummy }

// InPerson implements Provider.
func (d *Dummy) InPerson() bool { return false }

// CreateCheckout synthesises a session without any network call.
func (d *Dummy) CreateCheckout(_ context.Context, req CheckoutRequest) (CheckoutSession, error) {
	if req.Amount <= 0 {
		return CheckoutSession{}, &RejectedError{
			ProviderKey: KeyDummy,
			Message:     fmt.Sprintf("amount must be positive, got %d", req.Amount),
		}
	}
	sessionID := "tr_" + strings.TrimSpace(req.RequestCode)
	d.mu.Lock()
	d.sessions[sessionID] = "pending"
	d.mu.Unlock()
	meta := map[string]string{MetaRequestCode: req.RequestCode}
	if req.GuardianID != "" {
		meta[MetaGuardianID] = req.GuardianID
	}
	return CheckoutSession{
		SessionID:   sessionID,
		RedirectURL: "https://dummy.invalid/checkout/" + sessionID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		ProviderKey: KeyDummy,
		Metadata:    meta,
	}, nil
}

// GetPayment reports the scripted status for the session.
func (d *Dummy) GetPayment(_ context.Context, paymentID string) (PaymentStatus, error) {
	d.mu.Lock()
	raw, ok := d.sessions[paymentID]
	d.mu.Unlock()
	if !ok {
		return PaymentStatus{}, fmt.Errorf("dummy payment %s: %w", paymentID, ErrNotFound)
	}
	return PaymentStatus{
		PaymentID:   paymentID,
		ProviderKey: KeyDummy,
		State:       Normalize(KeyDummy, raw),
		RawStatus:   raw,
	}, nil
}

// SetStatus scripts the raw status GetPayment will report for sessionID.
func (d *Dummy) SetStatus(sessionID, raw string) {
	d.mu.Lock()
	d.sessions[sessionID] = raw
	d.mu.Unlock()
}

// ParseWebhook accepts unsigned JSON callbacks, mirroring how tests drive the
// asynchronous path.
func (d *Dummy) ParseWebhook(body []byte, _ http.Header) WebhookEvent {
	var payload struct {
		EventID   string `json:"event_id"`
		SessionID string `json:"session_id"`
		Status    string `json:"status"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return WebhookEvent{ProviderKey: KeyDummy, State: StateUnknown, Raw: body}
	}
	return WebhookEvent{
		EventID:     payload.EventID,
		SessionID:   payload.SessionID,
		ProviderKey: KeyDummy,
		State:       Normalize(KeyDummy, payload.Status),
		RawStatus:   payload.Status,
		Raw:         body,
	}
}
