package merchants

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sabormirandiano/casino-api/internal/resilience"
)

// KeyKhipu identifies the Khipu bank-transfer gateway rail.
const KeyKhipu = "khipu"

const khipuSignatureHeader = "X-Khipu-Signature"

// Khipu integrates the Khipu simplified bank transfer API (v3). Checkout
// opens a hosted payment page; settlement arrives through signed webhooks.
type Khipu struct {
	APIKey    string
	Secret    string
	BaseURL   string
	NotifyURL string
	HTTP      resilience.HTTPClient
}

// Key implements Provider.
func (k Khipu) Key() string { return KeyKhipu }

// InPerson implements Provider.
func (k Khipu) InPerson() bool { return false }

type khipuCreateRequest struct {
	Subject       string `json:"subject"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	TransactionID string `json:"transaction_id"`
	ReturnURL     string `json:"return_url,omitempty"`
	CancelURL     string `json:"cancel_url,omitempty"`
	NotifyURL     string `json:"notify_url,omitempty"`
}

type khipuPayment struct {
	PaymentID  string `json:"payment_id"`
	PaymentURL string `json:"payment_url"`
	Status     string `json:"status"`
}

type khipuError struct {
	Message string `json:"message"`
	Code    string `json:"error_code"`
}

// CreateCheckout opens a hosted Khipu payment and returns its id and redirect
// URL. The ledger request code travels as Khipu's transaction_id and in the
// session metadata, since the webhook only carries the gateway's own id.
func (k Khipu) CreateCheckout(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	if req.Amount <= 0 {
		return CheckoutSession{}, &RejectedError{
			ProviderKey: KeyKhipu,
			Message:     fmt.Sprintf("amount must be positive, got %d", req.Amount),
		}
	}
	if !validCurrency(req.Currency) {
		return CheckoutSession{}, &RejectedError{
			ProviderKey: KeyKhipu,
			Message:     fmt.Sprintf("currency must be a 3-letter code, got %q", req.Currency),
		}
	}
	payload := khipuCreateRequest{
		Subject:       fmt.Sprintf("Recarga casino %s", req.RequestCode),
		Amount:        req.Amount,
		Currency:      req.Currency,
		TransactionID: req.RequestCode,
		ReturnURL:     req.SuccessURL,
		CancelURL:     req.CancelURL,
		NotifyURL:     k.NotifyURL,
	}
	var created khipuPayment
	if err := k.call(ctx, http.MethodPost, "/v3/payments", payload, &created); err != nil {
		return CheckoutSession{}, err
	}
	if created.PaymentID == "" {
		return CheckoutSession{}, &UnavailableError{
			ProviderKey: KeyKhipu,
			Err:         fmt.Errorf("gateway returned no payment id"),
		}
	}
	meta := map[string]string{MetaRequestCode: req.RequestCode}
	if req.GuardianID != "" {
		meta[MetaGuardianID] = req.GuardianID
	}
	for key, v := range req.Metadata {
		if _, taken := meta[key]; !taken {
			meta[key] = v
		}
	}
	return CheckoutSession{
		SessionID:   created.PaymentID,
		RedirectURL: created.PaymentURL,
		Amount:      req.Amount,
		Currency:    req.Currency,
		ProviderKey: KeyKhipu,
		Metadata:    meta,
	}, nil
}

// GetPayment fetches the gateway's live view of a payment, normalised.
func (k Khipu) GetPayment(ctx context.Context, paymentID string) (PaymentStatus, error) {
	var payment khipuPayment
	if err := k.call(ctx, http.MethodGet, "/v3/payments/"+paymentID, nil, &payment); err != nil {
		return PaymentStatus{}, err
	}
	return PaymentStatus{
		PaymentID:   payment.PaymentID,
		ProviderKey: KeyKhipu,
		State:       Normalize(KeyKhipu, payment.Status),
		RawStatus:   payment.Status,
	}, nil
}

// ParseWebhook verifies the HMAC-SHA256 body signature and normalises the
// notification. A missing or wrong signature yields StateUnknown so the
// caller discards the event without giving the sender an oracle.
func (k Khipu) ParseWebhook(body []byte, header http.Header) WebhookEvent {
	if !k.verifySignature(body, header.Get(khipuSignatureHeader)) {
		return WebhookEvent{ProviderKey: KeyKhipu, State: StateUnknown, Raw: body}
	}
	var payload struct {
		NotificationID string `json:"notification_id"`
		PaymentID      string `json:"payment_id"`
		Status         string `json:"status"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return WebhookEvent{ProviderKey: KeyKhipu, State: StateUnknown, Raw: body}
	}
	return WebhookEvent{
		EventID:     payload.NotificationID,
		SessionID:   payload.PaymentID,
		ProviderKey: KeyKhipu,
		State:       Normalize(KeyKhipu, payload.Status),
		RawStatus:   payload.Status,
		Raw:         body,
	}
}

func (k Khipu) verifySignature(body []byte, provided string) bool {
	secret := strings.TrimSpace(k.Secret)
	provided = strings.TrimSpace(provided)
	if secret == "" || provided == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(provided)))
}

func (k Khipu) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode khipu request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	url := strings.TrimRight(k.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("build khipu request: %w", err)
	}
	req.Header.Set("x-api-key", k.APIKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := k.HTTP.Do(ctx, req)
	if err != nil {
		return &UnavailableError{ProviderKey: KeyKhipu, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &UnavailableError{ProviderKey: KeyKhipu, Err: err}
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("khipu payment: %w", ErrNotFound)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var apiErr khipuError
		_ = json.Unmarshal(data, &apiErr)
		if apiErr.Message == "" {
			apiErr.Message = resp.Status
		}
		return &RejectedError{ProviderKey: KeyKhipu, Message: apiErr.Message, Code: apiErr.Code}
	case resp.StatusCode >= 500:
		return &UnavailableError{ProviderKey: KeyKhipu, Err: fmt.Errorf("gateway %s", resp.Status)}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return &UnavailableError{ProviderKey: KeyKhipu, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}
