package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// TaskTypeNotify is the asynq task type carrying payment transition notices.
const TaskTypeNotify = "notify:payment"

// envelope is the task payload: the event type plus the notice the engine
// handed over.
type envelope struct {
	EventType string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload"`
}

// AsynqDispatcher enqueues transition notices onto the redis-backed task
// queue. Enqueue is called exactly once per applied transition; asynq's
// retries make delivery at-least-once from there.
type AsynqDispatcher struct {
	Client   *asynq.Client
	Queue    string
	MaxRetry int
	Logger   zerolog.Logger
}

// Enqueue implements the engine's dispatcher contract.
func (d *AsynqDispatcher) Enqueue(ctx context.Context, eventType string, payload any) error {
	if d.Client == nil {
		return fmt.Errorf("notify: asynq client not configured")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: encode payload: %w", err)
	}
	data, err := json.Marshal(envelope{EventType: eventType, Payload: raw})
	if err != nil {
		return fmt.Errorf("notify: encode envelope: %w", err)
	}
	queue := d.Queue
	if queue == "" {
		queue = "notify"
	}
	maxRetry := d.MaxRetry
	if maxRetry <= 0 {
		maxRetry = 5
	}
	info, err := d.Client.EnqueueContext(ctx, asynq.NewTask(TaskTypeNotify, data),
		asynq.Queue(queue),
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(30*time.Second),
	)
	if err != nil {
		return fmt.Errorf("notify: enqueue: %w", err)
	}
	d.Logger.Debug().
		Str("task_id", info.ID).
		Str("event_type", eventType).
		Str("queue", info.Queue).
		Msg("notification enqueued")
	return nil
}
