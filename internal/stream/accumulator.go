// Package stream accumulates streamed completion deltas so that a
// cancelled response still bills the partial content that was produced.
package stream

import (
	"context"
	"strings"
	"sync"
)

// FlushFunc persists the accumulated content of a message. It is invoked
// exactly once per accumulator, on Complete or Cancel, whichever comes
// first.
type FlushFunc func(ctx context.Context, messageID int64, content string, completed bool) error

// Accumulator collects the text deltas of one streamed completion. It is
// safe for the producer and the canceller to race: only one of Complete
// and Cancel flushes.
type Accumulator struct {
	messageID int64
	flush     FlushFunc

	mu      sync.Mutex
	builder strings.Builder
	flushed bool
}

// NewAccumulator creates an accumulator for one streamed message
func NewAccumulator(messageID int64, flush FlushFunc) *Accumulator {
	return &Accumulator{
		messageID: messageID,
		flush:     flush,
	}
}

// Append adds a delta to the accumulated content. Deltas arriving after
// the accumulator has flushed are dropped.
func (a *Accumulator) Append(delta string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.flushed {
		return
	}
	a.builder.WriteString(delta)
}

// Content returns the text accumulated so far
func (a *Accumulator) Content() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.builder.String()
}

// Complete flushes the full content as a finished completion
func (a *Accumulator) Complete(ctx context.Context) error {
	return a.doFlush(ctx, true)
}

// Cancel flushes whatever content was accumulated before the stream was
// interrupted, so the partial completion is still billed.
func (a *Accumulator) Cancel(ctx context.Context) error {
	return a.doFlush(ctx, false)
}

func (a *Accumulator) doFlush(ctx context.Context, completed bool) error {
	a.mu.Lock()
	if a.flushed {
		a.mu.Unlock()
		return nil
	}
	a.flushed = true
	content := a.builder.String()
	a.mu.Unlock()

	return a.flush(ctx, a.messageID, content, completed)
}
