package bus

import (
	"context"
	"time"

	"thread_billing/internal/events"
)

// Package bus carries billing events between producers and the stream
// workers. Two backends are provided:
//
// 1. Memory bus (channel-based):
//    - No persistence, events lost on restart
//    - Zero external dependencies, used for development and tests
//
// 2. Redis bus (Redis list per stream):
//    - Persistent across restarts, at-least-once delivery
//    - Supports multiple consumer processes
//
// Delivery is at-least-once with per-stream FIFO ordering. No ordering is
// guaranteed across streams; consumers are expected to be idempotent.
// Events whose handler fails land in the dead-letter queue with the error
// attached, for manual replay.

// Bus is the publish/consume interface shared by both backends.
type Bus interface {
	// Publish appends an envelope to its stream.
	Publish(ctx context.Context, env *events.Envelope) error

	// Fetch retrieves up to maxItems envelopes from a stream, waiting up to
	// wait for the first one. Returns an empty slice on timeout.
	Fetch(ctx context.Context, stream events.Stream, maxItems int, wait time.Duration) ([]*events.Envelope, error)

	// Len returns the number of pending envelopes on a stream.
	Len(ctx context.Context, stream events.Stream) (int, error)

	// Close shuts down the bus.
	Close() error
}

// DeadLetterQueue holds envelopes whose processing failed, keyed by stream.
type DeadLetterQueue interface {
	// Add parks an envelope together with the error that failed it.
	Add(ctx context.Context, env *events.Envelope, cause error) error

	// List retrieves up to maxItems parked entries for a stream.
	List(ctx context.Context, stream events.Stream, maxItems int) ([]DeadLetterEntry, error)

	// Remove deletes a parked entry by envelope id.
	Remove(ctx context.Context, stream events.Stream, id string) error

	// Close shuts down the dead letter queue.
	Close() error
}

// DeadLetterEntry is one parked envelope with failure context.
type DeadLetterEntry struct {
	Envelope *events.Envelope `json:"envelope"`
	Error    string           `json:"error"`
	FailedAt time.Time        `json:"failed_at"`
}

// Publish validates an event, wraps it in an envelope and publishes it.
// This is the producer-side entry point; it rejects malformed events before
// they reach the bus.
func Publish(ctx context.Context, b Bus, event events.Event) error {
	env, err := events.NewEnvelope(event)
	if err != nil {
		return err
	}
	return b.Publish(ctx, env)
}
