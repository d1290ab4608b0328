package events

import (
	"errors"
	"fmt"
	"time"

	"thread_billing/internal/models"
)

// Stream identifies one of the logical event streams carried by the bus.
type Stream string

const (
	StreamRawMessages     Stream = "raw-messages"
	StreamLLMResponses    Stream = "llm-responses"
	StreamTokenMetrics    Stream = "token-metrics"
	StreamInferenceEvents Stream = "inference-events"
)

// Streams lists every stream a consumer can attach to.
func Streams() []Stream {
	return []Stream{
		StreamRawMessages,
		StreamLLMResponses,
		StreamTokenMetrics,
		StreamInferenceEvents,
	}
}

// ErrInvalidEvent wraps all payload validation failures. Malformed events
// are rejected at the bus boundary and never reach handlers.
var ErrInvalidEvent = errors.New("invalid event")

// Event is implemented by every payload that can cross the bus.
type Event interface {
	Stream() Stream
	Validate() error
}

// TokenUsage carries the token counts reported for one completion.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// RawMessage is published when a user message is stored.
type RawMessage struct {
	MessageID int64              `json:"message_id"`
	ThreadID  int64              `json:"thread_id"`
	UserID    int64              `json:"user_id"`
	Content   string             `json:"content"`
	Role      models.MessageRole `json:"role"`
	ModelID   int64              `json:"model_id"`
	CreatedAt time.Time          `json:"created_at"`
}

func (e *RawMessage) Stream() Stream { return StreamRawMessages }

func (e *RawMessage) Validate() error {
	if e.MessageID <= 0 {
		return fmt.Errorf("%w: raw message missing message_id", ErrInvalidEvent)
	}
	if e.ThreadID <= 0 {
		return fmt.Errorf("%w: raw message missing thread_id", ErrInvalidEvent)
	}
	if e.UserID <= 0 {
		return fmt.Errorf("%w: raw message missing user_id", ErrInvalidEvent)
	}
	if e.Role != models.RoleUser && e.Role != models.RoleAssistant {
		return fmt.Errorf("%w: raw message has unknown role %q", ErrInvalidEvent, e.Role)
	}
	return nil
}

// LLMResponse is published when an assistant completion is stored. It is a
// RawMessage plus the token usage the provider reported.
type LLMResponse struct {
	MessageID  int64              `json:"message_id"`
	ThreadID   int64              `json:"thread_id"`
	UserID     int64              `json:"user_id"`
	Content    string             `json:"content"`
	Role       models.MessageRole `json:"role"`
	ModelID    int64              `json:"model_id"`
	CreatedAt  time.Time          `json:"created_at"`
	TokenUsage TokenUsage         `json:"token_usage"`
}

func (e *LLMResponse) Stream() Stream { return StreamLLMResponses }

func (e *LLMResponse) Validate() error {
	if e.MessageID <= 0 {
		return fmt.Errorf("%w: llm response missing message_id", ErrInvalidEvent)
	}
	if e.ThreadID <= 0 {
		return fmt.Errorf("%w: llm response missing thread_id", ErrInvalidEvent)
	}
	if e.TokenUsage.InputTokens < 0 || e.TokenUsage.OutputTokens < 0 {
		return fmt.Errorf("%w: llm response has negative token counts", ErrInvalidEvent)
	}
	return nil
}

// TokenMetrics is the hot-path billing event: token counts for a stored
// message, consumed by the pricing pipeline.
type TokenMetrics struct {
	MessageID  int64      `json:"message_id"`
	ModelID    int64      `json:"model_id"`
	TokenUsage TokenUsage `json:"token_usage"`
	Timestamp  time.Time  `json:"timestamp"`
}

func (e *TokenMetrics) Stream() Stream { return StreamTokenMetrics }

func (e *TokenMetrics) Validate() error {
	if e.MessageID <= 0 {
		return fmt.Errorf("%w: token metrics missing message_id", ErrInvalidEvent)
	}
	if e.ModelID <= 0 {
		return fmt.Errorf("%w: token metrics missing model_id", ErrInvalidEvent)
	}
	if e.TokenUsage.InputTokens < 0 || e.TokenUsage.OutputTokens < 0 {
		return fmt.Errorf("%w: token metrics has negative token counts", ErrInvalidEvent)
	}
	return nil
}

// InferenceEvent reports a non-token billable resource usage (image
// generation, embeddings, tool use).
type InferenceEvent struct {
	UserID    int64             `json:"user_id"`
	ModelID   int64             `json:"model_id"`
	EventType string            `json:"event_type"`
	MessageID *int64            `json:"message_id,omitempty"`
	Quantity  float64           `json:"quantity"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

func (e *InferenceEvent) Stream() Stream { return StreamInferenceEvents }

func (e *InferenceEvent) Validate() error {
	if e.UserID <= 0 {
		return fmt.Errorf("%w: inference event missing user_id", ErrInvalidEvent)
	}
	if e.ModelID <= 0 {
		return fmt.Errorf("%w: inference event missing model_id", ErrInvalidEvent)
	}
	if e.EventType == "" {
		return fmt.Errorf("%w: inference event missing event_type", ErrInvalidEvent)
	}
	if e.Quantity < 0 {
		return fmt.Errorf("%w: inference event has negative quantity", ErrInvalidEvent)
	}
	return nil
}
