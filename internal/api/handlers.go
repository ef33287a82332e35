/**
 * @description
 * HTTP handlers for the subscription API and the internal reconciliation trigger.
 * Handlers parse the request, call the application layer and write the JSON response.
 */
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Allforms/estatepadi/internal/app"
	"github.com/Allforms/estatepadi/internal/domain"
)

// SubscriptionService is the user-facing subscription API.
type SubscriptionService interface {
	ListPlans(ctx context.Context) ([]domain.PlanView, error)
	Create(ctx context.Context, audit domain.AuditContext, userID string, req app.CreateRequest) (*domain.Subscription, error)
	Cancel(ctx context.Context, audit domain.AuditContext, userID string) (*app.CancelResult, error)
	Reactivate(ctx context.Context, audit domain.AuditContext, userID string) (*domain.Subscription, error)
	Status(ctx context.Context, userID string) (*domain.StatusView, error)
	History(ctx context.Context, userID string, limit int) ([]domain.HistoryEntry, error)
}

// EventProcessor applies verified gateway webhook events.
type EventProcessor interface {
	Process(ctx context.Context, audit domain.AuditContext, event app.WebhookEvent) (app.WebhookOutcome, error)
}

// ReconcileRunner runs one reconciliation pass.
type ReconcileRunner interface {
	Run(ctx context.Context, requestID string) (*domain.ReconcileSummary, error)
}

// Handler holds the application services that handlers interact with.
type Handler struct {
	service       SubscriptionService
	processor     EventProcessor
	reconciler    ReconcileRunner
	webhookSecret string
	logger        *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(service SubscriptionService, processor EventProcessor, reconciler ReconcileRunner, webhookSecret string, logger *slog.Logger) *Handler {
	return &Handler{
		service:       service,
		processor:     processor,
		reconciler:    reconciler,
		webhookSecret: webhookSecret,
		logger:        logger,
	}
}

func (h *Handler) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.service.ListPlans(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, plans)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req app.CreateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	sub, err := h.service.Create(r.Context(), auditFromRequest(r, domain.ActorUser, userID), userID, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, sub)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	result, err := h.service.Cancel(r.Context(), auditFromRequest(r, domain.ActorUser, userID), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) handleReactivate(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	sub, err := h.service.Reactivate(r.Context(), auditFromRequest(r, domain.ActorUser, userID), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, sub)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	status, err := h.service.Status(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, status)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondWithError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := h.service.History(r.Context(), userID, limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, entries)
}

// handleReconcile runs reconciliation synchronously and returns the summary.
func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	summary, err := h.reconciler.Run(r.Context(), RequestIDFromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}

// writeServiceError maps application errors to HTTP status codes.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, app.ErrPlanRequired),
		errors.Is(err, app.ErrReferenceRequired),
		errors.Is(err, app.ErrTransactionNotSuccessful),
		errors.Is(err, app.ErrAuthorizationMissing):
		status = http.StatusBadRequest
	case errors.Is(err, app.ErrPlanNotFound),
		errors.Is(err, app.ErrNoActiveSubscription),
		errors.Is(err, app.ErrSubscriptionNotFound),
		errors.Is(err, app.ErrUserNotFound):
		status = http.StatusNotFound
	case errors.Is(err, app.ErrNotReactivatable),
		errors.Is(err, app.ErrSubscriptionCodeMissing),
		errors.Is(err, app.ErrReconcileInProgress):
		status = http.StatusConflict
	case errors.Is(err, app.ErrGatewayUnavailable):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "path", r.URL.Path, "request_id", RequestIDFromContext(r.Context()), "error", err)
		respondWithError(w, status, "Internal server error")
		return
	}
	if status == http.StatusBadGateway {
		h.logger.Warn("gateway call failed", "path", r.URL.Path, "request_id", RequestIDFromContext(r.Context()), "error", err)
	}
	respondWithError(w, status, err.Error())
}

// respondWithJSON is a helper function to write a JSON response.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"Internal server error"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
