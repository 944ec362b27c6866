package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sabormirandiano/casino-api/internal/merchants"
)

// Store is the persistence contract the service relies on.
type Store interface {
	CreateTopUp(ctx context.Context, t TopUp) (TopUp, error)
	GetTopUp(ctx context.Context, code string) (TopUp, error)
	AttachSession(ctx context.Context, code, sessionID string) error
	GetGuardian(ctx context.Context, id string) (Guardian, error)
}

// Checkouter opens a payment session for a top-up.
type Checkouter interface {
	Checkout(ctx context.Context, providerKey string, req merchants.CheckoutRequest) (merchants.CheckoutResult, error)
}

// PaymentReader resolves the payment correlated with a top-up.
type PaymentReader interface {
	GetPayment(ctx context.Context, sessionID string) (merchants.Payment, error)
}

// CreateTopUpInput is the validated request to open a top-up.
type CreateTopUpInput struct {
	GuardianID  string
	Amount      int64
	Currency    string
	Method      string
	Description string
	SuccessURL  string
	CancelURL   string
}

// TopUpResult pairs the persisted top-up with its checkout session.
type TopUpResult struct {
	TopUp   TopUp
	Session merchants.CheckoutSession
}

// TopUpStatus is a top-up together with the canonical payment state.
type TopUpStatus struct {
	TopUp        TopUp
	PaymentState merchants.State
	DisplayCode  string
}

// Service creates top-ups and reads guardian balances. A top-up and its
// checkout session are opened in one call so the client gets the redirect
// URL or counter display code in the creation response.
type Service struct {
	Store         Store
	Checkout      Checkouter
	Payments      PaymentReader
	DefaultMethod string
	Currency      string
	Logger        zerolog.Logger
}

// CreateTopUp persists the top-up and opens a payment session on the chosen
// rail. The top-up code is a fresh uuid carried through the payment side as
// request code.
func (s *Service) CreateTopUp(ctx context.Context, in CreateTopUpInput) (TopUpResult, error) {
	method := strings.ToLower(strings.TrimSpace(in.Method))
	if method == "" {
		method = s.DefaultMethod
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = s.Currency
	}
	if _, err := s.Store.GetGuardian(ctx, in.GuardianID); err != nil {
		return TopUpResult{}, fmt.Errorf("resolve guardian: %w", err)
	}

	topup, err := s.Store.CreateTopUp(ctx, TopUp{
		Code:        uuid.NewString(),
		GuardianID:  in.GuardianID,
		Amount:      in.Amount,
		Currency:    currency,
		Method:      method,
		Description: in.Description,
	})
	if err != nil {
		return TopUpResult{}, err
	}

	result, err := s.Checkout.Checkout(ctx, method, merchants.CheckoutRequest{
		RequestCode: topup.Code,
		GuardianID:  topup.GuardianID,
		Amount:      topup.Amount,
		Currency:    topup.Currency,
		SuccessURL:  in.SuccessURL,
		CancelURL:   in.CancelURL,
	})
	if err != nil {
		// The row stays for audit; no session means nothing can credit it.
		s.Logger.Warn().Err(err).Str("code", topup.Code).Str("method", method).
			Msg("checkout failed for new topup")
		return TopUpResult{}, fmt.Errorf("open checkout: %w", err)
	}
	if err := s.Store.AttachSession(ctx, topup.Code, result.Session.SessionID); err != nil {
		return TopUpResult{}, err
	}
	topup.SessionID = result.Session.SessionID

	s.Logger.Info().
		Str("code", topup.Code).
		Str("guardian_id", topup.GuardianID).
		Int64("amount", topup.Amount).
		Str("method", method).
		Str("session_id", result.Session.SessionID).
		Msg("topup created")
	return TopUpResult{TopUp: topup, Session: result.Session}, nil
}

// GetTopUpStatus returns the top-up with the state of its payment. A top-up
// without a session (checkout failed mid-create) reads as pending.
func (s *Service) GetTopUpStatus(ctx context.Context, code string) (TopUpStatus, error) {
	topup, err := s.Store.GetTopUp(ctx, code)
	if err != nil {
		return TopUpStatus{}, err
	}
	status := TopUpStatus{TopUp: topup, PaymentState: merchants.StatePending}
	if topup.SessionID == "" {
		return status, nil
	}
	payment, err := s.Payments.GetPayment(ctx, topup.SessionID)
	if err != nil {
		if errors.Is(err, merchants.ErrNotFound) {
			return status, nil
		}
		return TopUpStatus{}, fmt.Errorf("load payment for topup %s: %w", code, err)
	}
	status.PaymentState = payment.State
	status.DisplayCode = payment.Metadata[merchants.MetaDisplayCode]
	return status, nil
}

// GetBalance returns the guardian's prepaid balance.
func (s *Service) GetBalance(ctx context.Context, guardianID string) (Guardian, error) {
	return s.Store.GetGuardian(ctx, guardianID)
}
