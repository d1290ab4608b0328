package events

import (
	"errors"
	"testing"
	"time"

	"thread_billing/internal/models"
)

func validTokenMetrics() *TokenMetrics {
	return &TokenMetrics{
		MessageID:  42,
		ModelID:    7,
		TokenUsage: TokenUsage{InputTokens: 5, OutputTokens: 12},
		Timestamp:  time.Now().UTC(),
	}
}

func TestTokenMetrics_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(e *TokenMetrics)
		wantErr bool
	}{
		{name: "valid", mutate: func(e *TokenMetrics) {}},
		{name: "zero counts are valid", mutate: func(e *TokenMetrics) {
			e.TokenUsage = TokenUsage{}
		}},
		{name: "missing message id", mutate: func(e *TokenMetrics) { e.MessageID = 0 }, wantErr: true},
		{name: "missing model id", mutate: func(e *TokenMetrics) { e.ModelID = 0 }, wantErr: true},
		{name: "negative input tokens", mutate: func(e *TokenMetrics) {
			e.TokenUsage.InputTokens = -1
		}, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			event := validTokenMetrics()
			tc.mutate(event)

			err := event.Validate()
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidEvent) {
					t.Errorf("Validate() error = %v, want ErrInvalidEvent", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() error = %v, want nil", err)
			}
		})
	}
}

func TestInferenceEvent_Validate(t *testing.T) {
	event := &InferenceEvent{
		UserID:    1,
		ModelID:   2,
		EventType: "image_generation",
		Quantity:  3,
		Timestamp: time.Now().UTC(),
	}
	if err := event.Validate(); err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}

	event.EventType = ""
	if err := event.Validate(); !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("Validate() error = %v, want ErrInvalidEvent", err)
	}
}

func TestRawMessage_Validate_Role(t *testing.T) {
	event := &RawMessage{
		MessageID: 1,
		ThreadID:  2,
		UserID:    3,
		Role:      models.RoleUser,
		ModelID:   4,
		CreatedAt: time.Now().UTC(),
	}
	if err := event.Validate(); err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}

	event.Role = "system"
	if err := event.Validate(); !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("Validate() error = %v, want ErrInvalidEvent", err)
	}
}

func TestEnvelope_RoundTrip(t *testing.T) {
	original := validTokenMetrics()

	env, err := NewEnvelope(original)
	if err != nil {
		t.Fatalf("NewEnvelope() error = %v", err)
	}
	if env.ID == "" {
		t.Error("NewEnvelope() produced empty id")
	}
	if env.Stream != StreamTokenMetrics {
		t.Errorf("NewEnvelope() stream = %s, want %s", env.Stream, StreamTokenMetrics)
	}

	decoded, err := Decode(env)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	metrics, ok := decoded.(*TokenMetrics)
	if !ok {
		t.Fatalf("Decode() returned %T, want *TokenMetrics", decoded)
	}
	if metrics.MessageID != original.MessageID {
		t.Errorf("Decode() message id = %d, want %d", metrics.MessageID, original.MessageID)
	}
	if metrics.TokenUsage != original.TokenUsage {
		t.Errorf("Decode() token usage = %+v, want %+v", metrics.TokenUsage, original.TokenUsage)
	}
}

func TestNewEnvelope_RejectsInvalid(t *testing.T) {
	event := validTokenMetrics()
	event.MessageID = 0

	if _, err := NewEnvelope(event); !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("NewEnvelope() error = %v, want ErrInvalidEvent", err)
	}
}

func TestDecode_UnknownStream(t *testing.T) {
	env := &Envelope{ID: "x", Stream: "no-such-stream", Payload: []byte(`{}`)}

	if _, err := Decode(env); !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("Decode() error = %v, want ErrInvalidEvent", err)
	}
}

func TestDecode_RejectsInvalidPayload(t *testing.T) {
	env := &Envelope{ID: "x", Stream: StreamTokenMetrics, Payload: []byte(`{"message_id":0}`)}

	if _, err := Decode(env); !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("Decode() error = %v, want ErrInvalidEvent", err)
	}
}
