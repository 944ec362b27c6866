package merchants

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sabormirandiano/casino-api/internal/common"
	"github.com/sabormirandiano/casino-api/internal/obs"
)

// WebhookHandler terminates asynchronous rail callbacks at
// POST /webhooks/{provider}.
//
// Policy: an unknown provider key is a 404; everything else the sender can
// cause (bad signature, replay, unknown session, garbage payload) is
// acknowledged with 2xx and dropped, so gateways stop retrying and probing
// the endpoint teaches an attacker nothing. Only our own failures return 5xx.
type WebhookHandler struct {
	Registry  *Registry
	Engine    *Engine
	Redis     *redis.Client
	ReplayTTL time.Duration
	Logger    zerolog.Logger
}

// Handle is the chi handler for POST /webhooks/{provider}.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	providerKey := chi.URLParam(r, "provider")
	provider, err := h.Registry.Get(providerKey)
	if err != nil {
		h.observe(providerKey, "unknown_provider")
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "unknown provider", nil)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.observe(provider.Key(), "read_error")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "read body", nil)
		return
	}

	event := provider.ParseWebhook(body, r.Header)
	log := h.Logger.With().
		Str("provider", provider.Key()).
		Str("event_id", event.EventID).
		Str("session_id", event.SessionID).
		Str("raw_status", event.RawStatus).
		Logger()

	if event.State == StateUnknown || event.SessionID == "" {
		// Unverifiable or unrecognised: acknowledge and drop.
		h.observe(provider.Key(), "ignored")
		log.Warn().Msg("webhook ignored")
		common.Ack(w, "ignored")
		return
	}

	if h.seenBefore(r, provider.Key(), event, body) {
		h.observe(provider.Key(), "replay")
		log.Info().Msg("webhook replay dropped")
		common.Ack(w, "duplicate")
		return
	}

	_, err = h.Engine.Apply(r.Context(), event.SessionID, event.State, SourceWebhook)
	switch {
	case err == nil:
		h.observe(provider.Key(), "applied")
		common.Ack(w, "ok")
	case errors.Is(err, ErrNotFound):
		// Session we never issued, or a callback racing its own checkout.
		h.observe(provider.Key(), "not_found")
		log.Warn().Msg("webhook for unknown session dropped")
		common.Ack(w, "ignored")
	default:
		var mismatch *AmountMismatchError
		if errors.As(err, &mismatch) {
			h.observe(provider.Key(), "amount_mismatch")
			common.Ack(w, "received")
			return
		}
		h.observe(provider.Key(), "error")
		log.Error().Err(err).Msg("webhook transition failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "could not process webhook", nil)
	}
}

// seenBefore marks the event as processed and reports whether it already was.
// Keyed on the provider event id when present, otherwise the body digest.
// A redis outage fails open: the engine's transition guard already makes
// replays harmless, the guard only saves the round trip.
func (h *WebhookHandler) seenBefore(r *http.Request, providerKey string, event WebhookEvent, body []byte) bool {
	if h.Redis == nil {
		return false
	}
	id := event.EventID
	if id == "" {
		id = common.Sha256Hex(string(body))
	}
	ttl := h.ReplayTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	fresh, err := h.Redis.SetNX(r.Context(), "wh:"+providerKey+":"+id, 1, ttl).Result()
	if err != nil {
		h.Logger.Warn().Err(err).Msg("webhook replay guard unavailable")
		return false
	}
	return !fresh
}

func (h *WebhookHandler) observe(provider, result string) {
	if obs.PaymentWebhookTotal != nil {
		obs.PaymentWebhookTotal.WithLabelValues(provider, result).Inc()
	}
}
