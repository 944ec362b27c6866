package merchants

import (
	"context"
	"net/http"
	"time"
)

// Metadata keys embedded in every checkout session so an asynchronous
// callback can always be correlated back to the originating ledger request.
const (
	MetaRequestCode = "request_code"
	MetaGuardianID  = "guardian_id"
	MetaDisplayCode = "display_code"
)

// CheckoutRequest carries the information a rail needs to open a checkout
// session for a ledger request.
type CheckoutRequest struct {
	RequestCode string
	GuardianID  string
	Amount      int64
	Currency    string
	SuccessURL  string
	CancelURL   string
	Metadata    map[string]string
}

// validCurrency reports whether code looks like a 3-letter ISO 4217 code.
// Rails check it beside their amount guard so direct callers cannot slip an
// unvalidated currency past the HTTP boundary.
func validCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return false
		}
	}
	return true
}

// CheckoutSession is the immutable result of a checkout attempt. SessionID is
// the correlation key used to find the payment later; RedirectURL is empty
// for in-person rails.
type CheckoutSession struct {
	SessionID   string
	RedirectURL string
	Amount      int64
	Currency    string
	ProviderKey string
	Metadata    map[string]string
}

// DisplayCode returns the human-presentable code attached to the session, if
// the rail issued one.
func (s CheckoutSession) DisplayCode() string {
	return s.Metadata[MetaDisplayCode]
}

// PaymentStatus is a rail's live view of a previously created session,
// already normalised.
type PaymentStatus struct {
	PaymentID   string
	ProviderKey string
	State       State
	RawStatus   string
}

// WebhookEvent is the normalised view of an asynchronous rail callback. It is
// transient: consumed to drive a payment transition, never persisted on its
// own. Raw keeps the original payload for audit.
type WebhookEvent struct {
	EventID     string
	SessionID   string
	ProviderKey string
	State       State
	RawStatus   string
	Raw         []byte
}

// Provider is the uniform capability contract each payment rail implements.
//
// ParseWebhook must be total over malformed input: undecodable or unsigned
// payloads yield an event with State == StateUnknown, never a panic or error.
type Provider interface {
	// Key returns the stable identifier the provider registers under.
	Key() string
	// InPerson reports whether the rail settles synchronously at a counter.
	// In-person rails reuse the ledger request code as session id and start
	// in processing; gateway rails use the rail-issued id and start pending.
	InPerson() bool
	CreateCheckout(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
	GetPayment(ctx context.Context, paymentID string) (PaymentStatus, error)
	ParseWebhook(body []byte, header http.Header) WebhookEvent
}

// Payment is the canonical transaction record, owned exclusively by the
// approval engine: all mutation goes through Engine.Apply.
type Payment struct {
	ID          string
	SessionID   string
	ProviderKey string
	Amount      int64
	Currency    string
	State       State
	Metadata    map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RequestCode returns the ledger request code correlated with the payment.
// In-person rails use the code as session id directly, so it doubles as the
// fallback.
func (p Payment) RequestCode() string {
	if code, ok := p.Metadata[MetaRequestCode]; ok && code != "" {
		return code
	}
	return p.SessionID
}

// LedgerRequest is the engine's read-only view of the external entity a
// payment fulfils (a top-up or an order). The engine never creates or deletes
// it; on success it instructs the owning guardian account to be credited.
type LedgerRequest struct {
	Code       string
	GuardianID string
	Amount     int64
	Currency   string
}
