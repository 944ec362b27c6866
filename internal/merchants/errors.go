package merchants

import (
	"errors"
	"fmt"
)

// ErrNotFound reports an unknown provider key or payment/session identifier.
var ErrNotFound = errors.New("merchants: not found")

// ErrDuplicateSession reports a checkout attempt reusing an existing session id.
var ErrDuplicateSession = errors.New("merchants: duplicate session id")

// RejectedError is returned when a rail refuses a request on validation
// grounds. It is user-correctable and surfaced to the payer unchanged.
type RejectedError struct {
	ProviderKey string
	Message     string
	Code        string
}

func (e *RejectedError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s rejected request: %s (%s)", e.ProviderKey, e.Message, e.Code)
	}
	return fmt.Sprintf("%s rejected request: %s", e.ProviderKey, e.Message)
}

// UnavailableError is returned on network or timeout failures talking to a
// rail. Callers may retry.
type UnavailableError struct {
	ProviderKey string
	Err         error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.ProviderKey, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// AmountMismatchError aborts a credit when the ledger request and the payment
// disagree on the amount. The transition is rolled back and the payment state
// left unchanged; the case is flagged for manual review, never silently
// resolved in either direction.
type AmountMismatchError struct {
	SessionID     string
	PaymentAmount int64
	LedgerAmount  int64
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("amount mismatch for session %s: payment %d, ledger %d",
		e.SessionID, e.PaymentAmount, e.LedgerAmount)
}

// IsRetryable reports whether the error is a transient rail failure.
func IsRetryable(err error) bool {
	var unavailable *UnavailableError
	return errors.As(err, &unavailable)
}
