package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"thread_billing/internal/bus"
	"thread_billing/internal/events"
	"thread_billing/internal/models"
	"thread_billing/internal/storage"
	"thread_billing/internal/utils"
)

type stubModels struct {
	models map[int64]*models.Model
}

func (s *stubModels) GetByID(ctx context.Context, id int64) (*models.Model, error) {
	model, ok := s.models[id]
	if !ok {
		return nil, storage.ErrModelNotFound
	}
	return model, nil
}

func newEventsTestMux(b bus.Bus, resolver ModelResolver) *http.ServeMux {
	handler := NewEventsHandler(b, resolver, utils.NewLogger("httpapi-test"))
	mux := http.NewServeMux()
	mux.HandleFunc("POST /events/inference", handler.InferenceEvent)
	return mux
}

func activeModelResolver() *stubModels {
	return &stubModels{models: map[int64]*models.Model{
		7: {ID: 7, Name: "gpt-test", IsActive: true},
		8: {ID: 8, Name: "retired", IsActive: false},
	}}
}

func TestEventsHandler_InferenceEvent_Accepted(t *testing.T) {
	b := bus.NewMemoryBus(10)
	defer b.Close()
	mux := newEventsTestMux(b, activeModelResolver())

	body := `{"user_id":4,"model_id":7,"event_type":"image_generation","quantity":3}`
	req := httptest.NewRequest(http.MethodPost, "/events/inference", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body %s", rec.Code, rec.Body.String())
	}

	items, err := b.Fetch(context.Background(), events.StreamInferenceEvents, 10, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("bus has %d envelopes, want 1", len(items))
	}

	event, err := events.Decode(items[0])
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	inference := event.(*events.InferenceEvent)
	if inference.UserID != 4 || inference.EventType != "image_generation" {
		t.Errorf("published event = %+v", inference)
	}
	if inference.Timestamp.IsZero() {
		t.Error("missing timestamp was not defaulted")
	}
}

func TestEventsHandler_InferenceEvent_Invalid(t *testing.T) {
	b := bus.NewMemoryBus(10)
	defer b.Close()
	mux := newEventsTestMux(b, activeModelResolver())

	body := `{"user_id":4,"model_id":7,"quantity":3}`
	req := httptest.NewRequest(http.MethodPost, "/events/inference", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestEventsHandler_InferenceEvent_UnknownModel(t *testing.T) {
	b := bus.NewMemoryBus(10)
	defer b.Close()
	mux := newEventsTestMux(b, activeModelResolver())

	body := `{"user_id":4,"model_id":99,"event_type":"image_generation","quantity":3}`
	req := httptest.NewRequest(http.MethodPost, "/events/inference", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestEventsHandler_InferenceEvent_InactiveModel(t *testing.T) {
	b := bus.NewMemoryBus(10)
	defer b.Close()
	mux := newEventsTestMux(b, activeModelResolver())

	body := `{"user_id":4,"model_id":8,"event_type":"image_generation","quantity":3}`
	req := httptest.NewRequest(http.MethodPost, "/events/inference", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	pending, err := b.Len(context.Background(), events.StreamInferenceEvents)
	if err != nil {
		t.Fatalf("Len() error = %v", err)
	}
	if pending != 0 {
		t.Errorf("bus has %d envelopes for rejected event, want 0", pending)
	}
}
