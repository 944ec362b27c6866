package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/sabormirandiano/casino-api/internal/common"
	"github.com/sabormirandiano/casino-api/internal/ledger"
	"github.com/sabormirandiano/casino-api/internal/merchants"
)

// GuardianDirectory resolves the account holder a notice concerns.
type GuardianDirectory interface {
	GetGuardian(ctx context.Context, id string) (ledger.Guardian, error)
}

// Worker consumes notification tasks: one email to the guardian plus a
// structured audit record per transition. Failures return the error so asynq
// retries; delivery is at-least-once.
type Worker struct {
	Email     common.EmailSender
	Guardians GuardianDirectory
	Logger    zerolog.Logger
}

// Register mounts the worker's handlers on the asynq mux.
func (wk *Worker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskTypeNotify, wk.HandleNotify)
}

// HandleNotify processes one transition notice task.
func (wk *Worker) HandleNotify(ctx context.Context, task *asynq.Task) error {
	var env envelope
	if err := json.Unmarshal(task.Payload(), &env); err != nil {
		// Malformed payloads never become valid: drop instead of retrying.
		wk.Logger.Error().Err(err).Msg("notify task with undecodable envelope dropped")
		return nil
	}
	var notice merchants.TransitionNotice
	if err := json.Unmarshal(env.Payload, &notice); err != nil {
		wk.Logger.Error().Err(err).Str("event_type", env.EventType).
			Msg("notify task with undecodable notice dropped")
		return nil
	}

	// Audit record first: it must exist even when email delivery fails.
	wk.Logger.Info().
		Str("event_type", env.EventType).
		Str("session_id", notice.SessionID).
		Str("provider", notice.ProviderKey).
		Str("request_code", notice.RequestCode).
		Str("guardian_id", notice.GuardianID).
		Str("source", notice.Source).
		Int64("amount", notice.Amount).
		Bool("credited", notice.Credited).
		Msg("payment transition audit")

	if wk.Email == nil || notice.GuardianID == "" {
		return nil
	}
	guardian, err := wk.Guardians.GetGuardian(ctx, notice.GuardianID)
	if err != nil {
		return fmt.Errorf("resolve guardian %s: %w", notice.GuardianID, err)
	}
	if guardian.Email == "" {
		return nil
	}
	subject, body := wk.compose(env.EventType, notice)
	if subject == "" {
		return nil
	}
	if err := wk.Email.Send(guardian.Email, subject, body); err != nil {
		return fmt.Errorf("send email to %s: %w", guardian.Email, err)
	}
	return nil
}

func (wk *Worker) compose(eventType string, n merchants.TransitionNotice) (string, string) {
	switch eventType {
	case merchants.EventPaymentSucceeded:
		return "Top-up confirmed",
			fmt.Sprintf("<p>Your top-up of %d CLP was confirmed and credited to the account.</p>", n.Amount)
	case merchants.EventPaymentFailed:
		return "Top-up failed",
			fmt.Sprintf("<p>Your top-up of %d CLP could not be completed. No money was taken.</p>", n.Amount)
	case merchants.EventPaymentCancelled:
		return "Top-up cancelled",
			fmt.Sprintf("<p>Your top-up of %d CLP was cancelled.</p>", n.Amount)
	case merchants.EventPaymentRefunded:
		return "Top-up refunded",
			fmt.Sprintf("<p>Your top-up of %d CLP was marked refunded. The school will contact you about the balance.</p>", n.Amount)
	default:
		return "", ""
	}
}
