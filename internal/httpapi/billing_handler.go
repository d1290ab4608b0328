package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"thread_billing/internal/models"
	"thread_billing/internal/storage"
	"thread_billing/internal/utils"
)

// MetricsService is the read surface the billing handler exposes.
type MetricsService interface {
	ThreadMetrics(ctx context.Context, threadID int64, forceRefresh bool) (*models.ThreadMetrics, error)
	UserMetrics(ctx context.Context, userID int64) (*models.UserMetrics, error)
}

// InvoiceService is the invoice surface the billing handler exposes.
type InvoiceService interface {
	Generate(ctx context.Context, threadID int64) (*models.Invoice, error)
	InvoicesForUser(ctx context.Context, userID int64) ([]*models.Invoice, error)
}

// BillingHandler serves the billing query and invoice endpoints
type BillingHandler struct {
	metrics  MetricsService
	invoices InvoiceService
	logger   *utils.Logger
}

// NewBillingHandler creates a new billing handler
func NewBillingHandler(metrics MetricsService, invoices InvoiceService, logger *utils.Logger) *BillingHandler {
	if logger == nil {
		logger = utils.NewLogger("httpapi")
	}
	return &BillingHandler{
		metrics:  metrics,
		invoices: invoices,
		logger:   logger,
	}
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// ThreadMetrics handles GET /billing/metrics/thread/{id}
func (h *BillingHandler) ThreadMetrics(w http.ResponseWriter, r *http.Request) {
	threadID, ok := pathID(r, "id")
	if !ok {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid thread id")
		return
	}

	forceRefresh := r.URL.Query().Get("refresh") == "true"

	metrics, err := h.metrics.ThreadMetrics(r.Context(), threadID, forceRefresh)
	if err != nil {
		if errors.Is(err, storage.ErrThreadNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "thread not found")
			return
		}
		h.logger.Error("failed to get thread metrics", "thread_id", threadID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "failed to get thread metrics")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, metrics)
}

// UserMetrics handles GET /billing/metrics/user/{id}
func (h *BillingHandler) UserMetrics(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(r, "id")
	if !ok {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	metrics, err := h.metrics.UserMetrics(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to get user metrics", "user_id", userID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "failed to get user metrics")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, metrics)
}

// GenerateInvoice handles POST /billing/invoices/thread/{id}
func (h *BillingHandler) GenerateInvoice(w http.ResponseWriter, r *http.Request) {
	threadID, ok := pathID(r, "id")
	if !ok {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid thread id")
		return
	}

	invoice, err := h.invoices.Generate(r.Context(), threadID)
	if err != nil {
		if errors.Is(err, storage.ErrThreadNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "thread not found")
			return
		}
		h.logger.Error("failed to generate invoice", "thread_id", threadID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "failed to generate invoice")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, invoice)
}

// UserInvoices handles GET /billing/invoices/user/{id}
func (h *BillingHandler) UserInvoices(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(r, "id")
	if !ok {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	invoices, err := h.invoices.InvoicesForUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list invoices", "user_id", userID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "failed to list invoices")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, invoices)
}
