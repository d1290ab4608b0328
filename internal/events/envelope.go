package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope is the wire frame carried by the bus. The payload is kept as raw
// JSON so the bus never has to know about event types; Decode recovers the
// typed payload from the stream tag.
type Envelope struct {
	ID          string          `json:"id"`
	Stream      Stream          `json:"stream"`
	Payload     json.RawMessage `json:"payload"`
	PublishedAt time.Time       `json:"published_at"`
}

// NewEnvelope validates the event and wraps it for publishing. Invalid
// events are rejected here, before they ever reach the bus.
func NewEnvelope(event Event) (*Envelope, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	return &Envelope{
		ID:          uuid.NewString(),
		Stream:      event.Stream(),
		Payload:     payload,
		PublishedAt: time.Now().UTC(),
	}, nil
}

// Decode unmarshals and validates the envelope's payload into the typed
// event for its stream.
func Decode(env *Envelope) (Event, error) {
	var event Event

	switch env.Stream {
	case StreamRawMessages:
		event = &RawMessage{}
	case StreamLLMResponses:
		event = &LLMResponse{}
	case StreamTokenMetrics:
		event = &TokenMetrics{}
	case StreamInferenceEvents:
		event = &InferenceEvent{}
	default:
		return nil, fmt.Errorf("%w: unknown stream %q", ErrInvalidEvent, env.Stream)
	}

	if err := json.Unmarshal(env.Payload, event); err != nil {
		return nil, fmt.Errorf("%w: undecodable payload on %s: %v", ErrInvalidEvent, env.Stream, err)
	}

	if err := event.Validate(); err != nil {
		return nil, err
	}

	return event, nil
}
