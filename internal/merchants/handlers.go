package merchants

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/sabormirandiano/casino-api/internal/common"
)

// Handlers exposes the payment read and staff mutation endpoints. The
// approve/refund/cancel routes are mounted behind staff or POS-device auth;
// the engine makes repeats and races harmless, so the handlers stay thin.
type Handlers struct {
	Engine *Engine
	Store  Store
	Logger zerolog.Logger
}

type paymentResponse struct {
	SessionID   string            `json:"sessionId"`
	Provider    string            `json:"provider"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	State       string            `json:"state"`
	RequestCode string            `json:"requestCode"`
	DisplayCode string            `json:"displayCode,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func toPaymentResponse(p Payment) paymentResponse {
	return paymentResponse{
		SessionID:   p.SessionID,
		Provider:    p.ProviderKey,
		Amount:      p.Amount,
		Currency:    p.Currency,
		State:       string(p.State),
		RequestCode: p.RequestCode(),
		DisplayCode: p.Metadata[MetaDisplayCode],
		Metadata:    p.Metadata,
	}
}

// Get handles GET /api/v1/payments/{sessionID}.
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	p, err := h.Store.GetPayment(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "payment not found", nil)
			return
		}
		h.Logger.Error().Err(err).Str("session_id", sessionID).Msg("load payment")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "could not load payment", nil)
		return
	}
	common.JSON(w, http.StatusOK, toPaymentResponse(p))
}

// Approve handles POST /api/v1/payments/{sessionID}/approve. Counter staff
// and POS devices confirm an in-person payment here; repeats are no-ops.
func (h *Handlers) Approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, StateSucceeded)
}

// Cancel handles POST /api/v1/payments/{sessionID}/cancel.
func (h *Handlers) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, StateCancelled)
}

// Refund handles POST /api/v1/payments/{sessionID}/refund. Only the payment
// state changes; reversing the balance credit is a manual back-office step.
func (h *Handlers) Refund(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, StateRefunded)
}

func (h *Handlers) transition(w http.ResponseWriter, r *http.Request, next State) {
	sessionID := chi.URLParam(r, "sessionID")
	source := SourceStaff
	if _, fromDevice := common.DeviceID(r.Context()); fromDevice {
		source = SourcePOS
	}
	final, err := h.Engine.Apply(r.Context(), sessionID, next, source)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "payment not found", nil)
			return
		}
		var mismatch *AmountMismatchError
		if errors.As(err, &mismatch) {
			common.JSONError(w, http.StatusConflict, "AMOUNT_MISMATCH",
				"payment and ledger request disagree on the amount; flagged for review", nil)
			return
		}
		h.Logger.Error().Err(err).Str("session_id", sessionID).Msg("apply transition")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "could not update payment", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]string{
		"sessionId": sessionID,
		"state":     string(final),
	})
}

// Routes mounts the payment endpoints on a chi router. Auth middleware is
// applied by the caller.
func (h *Handlers) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{sessionID}", h.Get)
	r.Post("/{sessionID}/approve", h.Approve)
	r.Post("/{sessionID}/cancel", h.Cancel)
	r.Post("/{sessionID}/refund", h.Refund)
	return r
}
