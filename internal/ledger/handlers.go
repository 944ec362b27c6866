package ledger

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/sabormirandiano/casino-api/internal/common"
	"github.com/sabormirandiano/casino-api/internal/merchants"
)

// Handlers exposes the top-up and guardian balance endpoints.
type Handlers struct {
	Service  *Service
	Validate *validator.Validate
	Logger   zerolog.Logger
}

// NewHandlers builds the handler set with a fresh validator.
func NewHandlers(service *Service, logger zerolog.Logger) *Handlers {
	return &Handlers{
		Service:  service,
		Validate: validator.New(validator.WithRequiredStructEnabled()),
		Logger:   logger,
	}
}

type createTopUpRequest struct {
	GuardianID  string `json:"guardianId" validate:"required,uuid4"`
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	Currency    string `json:"currency" validate:"omitempty,len=3,alpha"`
	Method      string `json:"method" validate:"omitempty,lowercase,alphanum"`
	Description string `json:"description" validate:"omitempty,max=200"`
	SuccessURL  string `json:"successUrl" validate:"omitempty,url"`
	CancelURL   string `json:"cancelUrl" validate:"omitempty,url"`
}

type topUpResponse struct {
	Code        string `json:"code"`
	GuardianID  string `json:"guardianId"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Method      string `json:"method"`
	SessionID   string `json:"sessionId,omitempty"`
	RedirectURL string `json:"redirectUrl,omitempty"`
	DisplayCode string `json:"displayCode,omitempty"`
	State       string `json:"state,omitempty"`
}

// Create handles POST /api/v1/topups. The Idempotency-Key middleware wraps
// this route, so client retries never open a second session.
func (h *Handlers) Create(w http.ResponseWriter, r *http.Request) {
	var req createTopUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body", nil)
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION", "request failed validation", err.Error())
		return
	}

	result, err := h.Service.CreateTopUp(r.Context(), CreateTopUpInput{
		GuardianID:  req.GuardianID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Method:      req.Method,
		Description: req.Description,
		SuccessURL:  req.SuccessURL,
		CancelURL:   req.CancelURL,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, topUpResponse{
		Code:        result.TopUp.Code,
		GuardianID:  result.TopUp.GuardianID,
		Amount:      result.TopUp.Amount,
		Currency:    result.TopUp.Currency,
		Method:      result.TopUp.Method,
		SessionID:   result.Session.SessionID,
		RedirectURL: result.Session.RedirectURL,
		DisplayCode: result.Session.DisplayCode(),
	})
}

// Get handles GET /api/v1/topups/{code}.
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	status, err := h.Service.GetTopUpStatus(r.Context(), code)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, topUpResponse{
		Code:        status.TopUp.Code,
		GuardianID:  status.TopUp.GuardianID,
		Amount:      status.TopUp.Amount,
		Currency:    status.TopUp.Currency,
		Method:      status.TopUp.Method,
		SessionID:   status.TopUp.SessionID,
		DisplayCode: status.DisplayCode,
		State:       string(status.PaymentState),
	})
}

// Balance handles GET /api/v1/guardians/{id}/balance.
func (h *Handlers) Balance(w http.ResponseWriter, r *http.Request) {
	guardian, err := h.Service.GetBalance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"guardianId": guardian.ID,
		"balance":    guardian.Balance,
		"updatedAt":  guardian.UpdatedAt,
	})
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	var rejected *merchants.RejectedError
	switch {
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
	case errors.Is(err, merchants.ErrNotFound):
		common.JSONError(w, http.StatusBadRequest, "UNKNOWN_PROVIDER", "unknown payment method", nil)
	case errors.As(err, &rejected):
		common.JSONError(w, http.StatusUnprocessableEntity, "REJECTED", rejected.Message, nil)
	case merchants.IsRetryable(err):
		common.JSONError(w, http.StatusBadGateway, "UPSTREAM", "payment gateway unavailable, try again", nil)
	default:
		h.Logger.Error().Err(err).Msg("ledger request failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unexpected error", nil)
	}
}
