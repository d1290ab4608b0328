package bus

import (
	"context"
	"sync"
	"time"

	"thread_billing/internal/events"
)

// MemoryBus implements Bus using one buffered channel per stream.
type MemoryBus struct {
	mu      sync.RWMutex
	streams map[events.Stream]chan *events.Envelope
	buffer  int
	closed  bool
}

// NewMemoryBus creates an in-memory bus with the given per-stream buffer.
func NewMemoryBus(buffer int) *MemoryBus {
	if buffer <= 0 {
		buffer = 1000
	}

	streams := make(map[events.Stream]chan *events.Envelope, len(events.Streams()))
	for _, stream := range events.Streams() {
		streams[stream] = make(chan *events.Envelope, buffer)
	}

	return &MemoryBus{
		streams: streams,
		buffer:  buffer,
	}
}

func (b *MemoryBus) channel(stream events.Stream) (chan *events.Envelope, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	ch, ok := b.streams[stream]
	if !ok {
		return nil, events.ErrInvalidEvent
	}
	return ch, nil
}

// Publish appends an envelope to its stream.
func (b *MemoryBus) Publish(ctx context.Context, env *events.Envelope) error {
	ch, err := b.channel(env.Stream)
	if err != nil {
		return err
	}

	select {
	case ch <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fetch retrieves up to maxItems envelopes, waiting up to wait for the first.
func (b *MemoryBus) Fetch(ctx context.Context, stream events.Stream, maxItems int, wait time.Duration) ([]*events.Envelope, error) {
	ch, err := b.channel(stream)
	if err != nil {
		return nil, err
	}

	var items []*events.Envelope
	deadline := time.After(wait)

	// Block for the first item up to the wait deadline. A receive from a
	// channel closed by Close reports the bus as closed instead of handing
	// out a nil envelope.
	select {
	case env, ok := <-ch:
		if !ok {
			return nil, ErrBusClosed
		}
		items = append(items, env)
	case <-deadline:
		return items, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// Drain more items without blocking
	for len(items) < maxItems {
		select {
		case env, ok := <-ch:
			if !ok {
				return items, nil
			}
			items = append(items, env)
		default:
			return items, nil
		}
	}

	return items, nil
}

// Len returns the number of pending envelopes on a stream.
func (b *MemoryBus) Len(ctx context.Context, stream events.Stream) (int, error) {
	ch, err := b.channel(stream)
	if err != nil {
		return 0, err
	}
	return len(ch), nil
}

// Close shuts down the bus.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	for _, ch := range b.streams {
		close(ch)
	}
	return nil
}

// MemoryDeadLetterQueue implements DeadLetterQueue in process memory.
type MemoryDeadLetterQueue struct {
	mu      sync.RWMutex
	entries map[events.Stream][]DeadLetterEntry
	closed  bool
}

// NewMemoryDeadLetterQueue creates a new in-memory dead letter queue.
func NewMemoryDeadLetterQueue() *MemoryDeadLetterQueue {
	return &MemoryDeadLetterQueue{
		entries: make(map[events.Stream][]DeadLetterEntry),
	}
}

// Add parks an envelope together with the error that failed it.
func (q *MemoryDeadLetterQueue) Add(ctx context.Context, env *events.Envelope, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrBusClosed
	}

	q.entries[env.Stream] = append(q.entries[env.Stream], DeadLetterEntry{
		Envelope: env,
		Error:    cause.Error(),
		FailedAt: time.Now().UTC(),
	})
	return nil
}

// List retrieves up to maxItems parked entries for a stream.
func (q *MemoryDeadLetterQueue) List(ctx context.Context, stream events.Stream, maxItems int) ([]DeadLetterEntry, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return nil, ErrBusClosed
	}

	entries := q.entries[stream]
	if maxItems <= 0 || maxItems > len(entries) {
		maxItems = len(entries)
	}

	result := make([]DeadLetterEntry, maxItems)
	copy(result, entries[:maxItems])
	return result, nil
}

// Remove deletes a parked entry by envelope id.
func (q *MemoryDeadLetterQueue) Remove(ctx context.Context, stream events.Stream, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrBusClosed
	}

	entries := q.entries[stream]
	for i, entry := range entries {
		if entry.Envelope.ID == id {
			q.entries[stream] = append(entries[:i], entries[i+1:]...)
			return nil
		}
	}

	return ErrEntryNotFound
}

// Close shuts down the dead letter queue.
func (q *MemoryDeadLetterQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.entries = nil
	return nil
}
