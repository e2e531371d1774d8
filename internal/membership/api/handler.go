package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"membership/internal/common/logging"
	"membership/internal/common/types"
	"membership/internal/membership/application"
	"membership/internal/membership/domain"
)

// maxBodySize caps request bodies; webhook payloads and bulk uploads are
// small.
const maxBodySize = 1 << 20

// signatureHeader carries the webhook signature.
const signatureHeader = "Stripe-Signature"

var validate = validator.New()

// Handler implements the HTTP handlers for the Membership API.
type Handler struct {
	service  *application.MembershipService
	cards    *application.CardPoolService
	scans    *application.ScanService
	webhooks *application.PaymentEventHandler
}

// NewHandler creates a new Handler.
func NewHandler(
	service *application.MembershipService,
	cards *application.CardPoolService,
	scans *application.ScanService,
	webhooks *application.PaymentEventHandler,
) *Handler {
	return &Handler{
		service:  service,
		cards:    cards,
		scans:    scans,
		webhooks: webhooks,
	}
}

// RegisterRoutes registers the Membership API routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/payment", h.PaymentWebhook)

	mux.HandleFunc("POST /applications", h.CreateApplication)
	mux.HandleFunc("GET /applications/{id}", h.GetApplication)
	mux.HandleFunc("POST /applications/{id}/approve", h.transitionHandler(h.service.Approve))
	mux.HandleFunc("POST /applications/{id}/decline", h.transitionHandler(h.service.Decline))
	mux.HandleFunc("POST /applications/{id}/issue", h.transitionHandler(h.service.Issue))
	mux.HandleFunc("POST /applications/{id}/deliver", h.transitionHandler(h.service.Deliver))
	mux.HandleFunc("POST /applications/{id}/blacklist", h.transitionHandler(h.service.Blacklist))

	mux.HandleFunc("POST /scan", h.ScanCard)
	mux.HandleFunc("GET /validate/{token}", h.ValidatePass)

	mux.HandleFunc("POST /cards", h.BulkAddCards)
	mux.HandleFunc("GET /cards", h.ListCards)
	mux.HandleFunc("PATCH /cards/{number}", h.UpdateCard)
	mux.HandleFunc("DELETE /cards/{number}", h.DeleteCard)
	mux.HandleFunc("POST /cards/{number}/release", h.ReleaseCard)
}

// PaymentWebhook handles POST /webhooks/payment. Benign outcomes (duplicate
// deliveries, unknown event types, concurrent deliveries) answer 200 so the
// provider stops retrying; only signature failures are the caller's fault.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "could not read request body", err)
		return
	}

	outcome, err := h.webhooks.HandleEvent(ctx, payload, r.Header.Get(signatureHeader))
	if errors.Is(err, application.ErrInvalidSignature) {
		h.writeError(w, http.StatusBadRequest, "invalid signature", nil)
		return
	}
	if err != nil {
		h.handleDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
}

// CreateApplicationRequest is the JSON request body for submitting an application.
type CreateApplicationRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Surname     string `json:"surname" validate:"required,max=100"`
	Email       string `json:"email" validate:"required,email"`
	Nationality string `json:"nationality" validate:"omitempty,iso3166_1_alpha2"`
	WantsCard   bool   `json:"wants_card"`
	WantsPass   bool   `json:"wants_pass"`
}

// CreateApplication handles POST /applications.
func (h *Handler) CreateApplication(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateApplicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid application form", err)
		return
	}

	resp, err := h.service.CreateApplication(ctx, application.CreateApplicationRequest{
		Name:          req.Name,
		Surname:       req.Surname,
		Email:         req.Email,
		Nationality:   req.Nationality,
		WantsCard:     req.WantsCard,
		WantsPass:     req.WantsPass,
		CorrelationID: correlationID(r),
	})
	if err != nil {
		h.handleDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, resp)
}

// GetApplication handles GET /applications/{id}.
func (h *Handler) GetApplication(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := domain.ParseApplicationID(r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid application id", err)
		return
	}

	resp, err := h.service.GetApplication(ctx, id)
	if err != nil {
		h.handleDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// transitionHandler adapts one status transition of the service to HTTP.
func (h *Handler) transitionHandler(
	fn func(ctx context.Context, id domain.ApplicationID, correlationID types.CorrelationID) (*application.TransitionResponse, error),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		id, err := domain.ParseApplicationID(r.PathValue("id"))
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid application id", err)
			return
		}

		resp, err := fn(ctx, id, correlationID(r))
		if err != nil {
			h.handleDomainError(w, err)
			return
		}

		h.writeJSON(w, http.StatusOK, resp)
	}
}

// ScanCardRequest is the JSON request body for a card handover scan.
type ScanCardRequest struct {
	CardNumber string `json:"card_number" validate:"required"`
}

// ScanCard handles POST /scan.
func (h *Handler) ScanCard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ScanCardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, "card_number is required", nil)
		return
	}

	resp, err := h.scans.ScanCard(ctx, req.CardNumber, correlationID(r))
	if err != nil {
		h.handleDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// ValidatePass handles GET /validate/{token}. The scanner only needs the
// result field; declined covers unknown tokens as well, so the endpoint
// never 404s.
func (h *Handler) ValidatePass(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp, err := h.scans.ValidatePass(ctx, r.PathValue("token"))
	if err != nil {
		h.handleDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// BulkAddCardsRequest is the JSON request body for loading a printed batch.
type BulkAddCardsRequest struct {
	Numbers []string `json:"numbers" validate:"required,min=1"`
}

// BulkAddCards handles POST /cards.
func (h *Handler) BulkAddCards(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req BulkAddCardsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, "numbers must be a non-empty list", nil)
		return
	}

	resp, err := h.cards.BulkAdd(ctx, req.Numbers)
	if err != nil {
		h.handleDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, resp)
}

// ListCards handles GET /cards.
func (h *Handler) ListCards(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)

	resp, err := h.cards.List(ctx, limit, offset)
	if err != nil {
		h.handleDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// UpdateCardRequest is the JSON request body for renaming a pool entry.
type UpdateCardRequest struct {
	Number string `json:"number" validate:"required"`
}

// UpdateCard handles PATCH /cards/{number}.
func (h *Handler) UpdateCard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req UpdateCardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, "number is required", nil)
		return
	}

	if err := h.cards.Update(ctx, r.PathValue("number"), req.Number); err != nil {
		h.handleDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteCard handles DELETE /cards/{number}.
func (h *Handler) DeleteCard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.cards.Delete(ctx, r.PathValue("number")); err != nil {
		h.handleDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ReleaseCard handles POST /cards/{number}/release.
func (h *Handler) ReleaseCard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.cards.Release(ctx, r.PathValue("number")); err != nil {
		h.handleDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleDomainError maps domain errors to HTTP responses.
func (h *Handler) handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrApplicationNotFound):
		h.writeError(w, http.StatusNotFound, "application not found", nil)
	case errors.Is(err, domain.ErrCardNotFound):
		h.writeError(w, http.StatusNotFound, "card number not found", nil)
	case errors.Is(err, domain.ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, "invalid status transition", nil)
	case errors.Is(err, domain.ErrPoolExhausted):
		h.writeError(w, http.StatusConflict, "no free card numbers available", nil)
	case errors.Is(err, domain.ErrDuplicateCardNumber):
		h.writeError(w, http.StatusConflict, "card number already exists", nil)
	case errors.Is(err, domain.ErrInvalidCardNumber):
		h.writeError(w, http.StatusBadRequest, "invalid card number format", nil)
	case errors.Is(err, domain.ErrNothingRequested):
		h.writeError(w, http.StatusBadRequest, "application must request a card or a pass", nil)
	case errors.Is(err, domain.ErrLockConflict):
		h.writeError(w, http.StatusConflict, "operation already in progress, please retry", nil)
	case errors.Is(err, domain.ErrOptimisticLock):
		h.writeError(w, http.StatusConflict, "concurrent modification detected, please retry", nil)
	default:
		logging.Error("Unhandled error", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error", nil)
	}
}

// correlationID reads the request correlation ID, generating one if absent.
func correlationID(r *http.Request) types.CorrelationID {
	id := types.CorrelationID(r.Header.Get("X-Correlation-ID"))
	if id.IsEmpty() {
		id = types.NewCorrelationID()
	}
	return id
}

func queryInt(r *http.Request, name string, fallback int) int {
	value := r.URL.Query().Get(name)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

// writeJSON writes a JSON response.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeError writes an error response.
func (h *Handler) writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Message = err.Error()
	}
	h.writeJSON(w, status, resp)
}
