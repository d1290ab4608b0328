package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"thread_billing/internal/bus"
	"thread_billing/internal/events"
	"thread_billing/internal/models"
	"thread_billing/internal/storage"
	"thread_billing/internal/utils"
)

// ModelResolver validates that events reference a known model.
type ModelResolver interface {
	GetByID(ctx context.Context, id int64) (*models.Model, error)
}

// EventsHandler accepts billable events over HTTP and publishes them to the
// bus. Events are acknowledged before processing: the response only means
// the event was accepted, not billed.
type EventsHandler struct {
	bus    bus.Bus
	models ModelResolver
	logger *utils.Logger
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(b bus.Bus, modelStore ModelResolver, logger *utils.Logger) *EventsHandler {
	if logger == nil {
		logger = utils.NewLogger("httpapi")
	}
	return &EventsHandler{
		bus:    b,
		models: modelStore,
		logger: logger,
	}
}

// InferenceEvent handles POST /events/inference
func (h *EventsHandler) InferenceEvent(w http.ResponseWriter, r *http.Request) {
	var event events.InferenceEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if err := event.Validate(); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	model, err := h.models.GetByID(r.Context(), event.ModelID)
	if err != nil {
		if errors.Is(err, storage.ErrModelNotFound) {
			utils.RespondWithError(w, http.StatusBadRequest, "unknown model")
			return
		}
		h.logger.Error("failed to resolve model", "model_id", event.ModelID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "failed to resolve model")
		return
	}
	if !model.IsActive {
		utils.RespondWithError(w, http.StatusBadRequest, "model is not active")
		return
	}

	if err := bus.Publish(r.Context(), h.bus, &event); err != nil {
		h.logger.Error("failed to publish inference event", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "failed to accept event")
		return
	}

	utils.RespondWithJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
