package merchants

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sabormirandiano/casino-api/internal/obs"
)

// Transition sources funnelled into Engine.Apply.
const (
	SourceStaff      = "staff"
	SourcePOS        = "pos"
	SourceWebhook    = "webhook"
	SourceReconciler = "reconciler"
)

// Event types handed to the notification dispatcher, once per applied
// transition.
const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
	EventPaymentCancelled = "payment.cancelled"
	EventPaymentRefunded  = "payment.refunded"
)

// Store is the persistence contract the engine and checkout builder rely on.
// WithPaymentLock must load the payment row under a mechanism that prevents
// two concurrent callers from both observing the pre-transition state (row
// lock inside a transaction in the pgx implementation, a mutex in the test
// double) and commit or roll back everything fn did as one atomic unit.
type Store interface {
	CreatePayment(ctx context.Context, p Payment) (Payment, error)
	GetPayment(ctx context.Context, sessionID string) (Payment, error)
	ListOpenPayments(ctx context.Context, olderThanSeconds int64, limit int32) ([]Payment, error)
	WithPaymentLock(ctx context.Context, sessionID string, fn func(ctx context.Context, tx Tx, p Payment) error) error
}

// Tx exposes the mutations available inside the atomic unit of a transition.
type Tx interface {
	SetState(ctx context.Context, paymentID string, state State) error
	AppendEvent(ctx context.Context, paymentID string, state State, source string, payload []byte) error
	LedgerRequest(ctx context.Context, code string) (LedgerRequest, error)
	CreditGuardian(ctx context.Context, guardianID string, amount int64) error
}

// Dispatcher is the engine's at-least-once notification contract. The engine
// guarantees it calls Enqueue exactly once per applied transition; delivery
// retries are the dispatcher's own business.
type Dispatcher interface {
	Enqueue(ctx context.Context, eventType string, payload any) error
}

// TransitionNotice is the payload enqueued for every applied transition.
type TransitionNotice struct {
	SessionID   string `json:"sessionId"`
	ProviderKey string `json:"provider"`
	RequestCode string `json:"requestCode"`
	GuardianID  string `json:"guardianId,omitempty"`
	State       string `json:"state"`
	Source      string `json:"source"`
	Amount      int64  `json:"amount"`
	Credited    bool   `json:"credited"`
}

// Engine owns every Payment mutation. Both entry points, staff approval and
// normalised webhook/reconciler events, funnel into the same guarded
// transition so that any number of concurrent callers converge on one final
// state and at most one balance credit.
type Engine struct {
	Store      Store
	Dispatcher Dispatcher
	Logger     zerolog.Logger
}

// Approve marks the payment succeeded on behalf of a staff action.
func (e *Engine) Approve(ctx context.Context, sessionID, source string) (State, error) {
	return e.Apply(ctx, sessionID, StateSucceeded, source)
}

// Apply attempts to move the payment identified by sessionID to next.
//
// Illegal edges, replayed webhooks and duplicate approvals are idempotent
// no-ops: the current state is returned without error. The guardian balance
// is credited inside the same atomic unit as the first transition into
// succeeded, with the amount checked against the ledger request; a mismatch
// aborts the whole transition. The dispatcher is invoked once, after commit,
// for the transition that actually occurred.
func (e *Engine) Apply(ctx context.Context, sessionID string, next State, source string) (State, error) {
	if e == nil || e.Store == nil {
		return StateUnknown, errors.New("merchants: engine not configured")
	}
	ctx, span := otel.Tracer("merchants.Engine").Start(ctx, "Engine.Apply")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.session_id", sessionID),
		attribute.String("payment.next_state", string(next)),
		attribute.String("payment.source", source),
	)

	if next == StateUnknown || !next.Valid() {
		// Unknown is a normalisation fallback, never a transition target.
		p, err := e.Store.GetPayment(ctx, sessionID)
		if err != nil {
			return StateUnknown, err
		}
		return p.State, nil
	}

	var (
		final    State
		applied  bool
		credited bool
		notice   TransitionNotice
	)
	err := e.Store.WithPaymentLock(ctx, sessionID, func(ctx context.Context, tx Tx, p Payment) error {
		final = p.State
		if !p.State.CanTransition(next) {
			// Terminal with respect to this event, or an illegal edge:
			// discard, do not apply. This no-op is what makes retried
			// webhook delivery and double-clicked approvals safe.
			return nil
		}
		if next == StateSucceeded {
			req, err := tx.LedgerRequest(ctx, p.RequestCode())
			if err != nil {
				return fmt.Errorf("load ledger request %s: %w", p.RequestCode(), err)
			}
			if req.Amount != p.Amount {
				if obs.AmountMismatchTotal != nil {
					obs.AmountMismatchTotal.Inc()
				}
				return &AmountMismatchError{
					SessionID:     p.SessionID,
					PaymentAmount: p.Amount,
					LedgerAmount:  req.Amount,
				}
			}
			if err := tx.CreditGuardian(ctx, req.GuardianID, p.Amount); err != nil {
				return fmt.Errorf("credit guardian %s: %w", req.GuardianID, err)
			}
			credited = true
			notice.GuardianID = req.GuardianID
		}
		if err := tx.SetState(ctx, p.ID, next); err != nil {
			return fmt.Errorf("set state: %w", err)
		}
		if err := tx.AppendEvent(ctx, p.ID, next, source, nil); err != nil {
			return fmt.Errorf("append event: %w", err)
		}
		final = next
		applied = true
		notice.SessionID = p.SessionID
		notice.ProviderKey = p.ProviderKey
		notice.RequestCode = p.RequestCode()
		notice.State = string(next)
		notice.Source = source
		notice.Amount = p.Amount
		notice.Credited = credited
		return nil
	})
	if err != nil {
		span.RecordError(err)
		var mismatch *AmountMismatchError
		if errors.As(err, &mismatch) {
			e.Logger.Error().
				Str("session_id", sessionID).
				Int64("payment_amount", mismatch.PaymentAmount).
				Int64("ledger_amount", mismatch.LedgerAmount).
				Msg("credit rejected: amount mismatch, flagged for manual review")
		}
		return final, err
	}
	if !applied {
		e.Logger.Debug().
			Str("session_id", sessionID).
			Str("current", string(final)).
			Str("requested", string(next)).
			Str("source", source).
			Msg("transition discarded")
		return final, nil
	}

	if obs.PaymentTransitionTotal != nil {
		obs.PaymentTransitionTotal.WithLabelValues(string(next), source).Inc()
	}
	if credited && obs.BalanceCreditTotal != nil {
		obs.BalanceCreditTotal.Inc()
	}
	e.Logger.Info().
		Str("session_id", sessionID).
		Str("state", string(next)).
		Str("source", source).
		Bool("credited", credited).
		Msg("payment transition applied")

	// After commit; at most one enqueue per applied transition. A lost
	// enqueue is logged rather than retried here: delivery retries belong to
	// the dispatcher's queue, not the engine.
	if e.Dispatcher != nil {
		if eventType := eventTypeFor(next); eventType != "" {
			if err := e.Dispatcher.Enqueue(ctx, eventType, notice); err != nil {
				e.Logger.Error().Err(err).
					Str("session_id", sessionID).
					Str("event_type", eventType).
					Msg("enqueue notification")
			}
		}
	}
	return final, nil
}

func eventTypeFor(state State) string {
	switch state {
	case StateSucceeded:
		return EventPaymentSucceeded
	case StateFailed:
		return EventPaymentFailed
	case StateCancelled:
		return EventPaymentCancelled
	case StateRefunded:
		return EventPaymentRefunded
	default:
		return ""
	}
}
