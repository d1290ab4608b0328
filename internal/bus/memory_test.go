package bus

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"thread_billing/internal/events"
)

func testEnvelope(t *testing.T, messageID int64) *events.Envelope {
	t.Helper()
	env, err := events.NewEnvelope(&events.TokenMetrics{
		MessageID:  messageID,
		ModelID:    1,
		TokenUsage: events.TokenUsage{InputTokens: 1, OutputTokens: 2},
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("NewEnvelope() error = %v", err)
	}
	return env
}

func TestMemoryBus_PublishFetch_FIFO(t *testing.T) {
	b := NewMemoryBus(10)
	defer b.Close()
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		if err := b.Publish(ctx, testEnvelope(t, i)); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	items, err := b.Fetch(ctx, events.StreamTokenMetrics, 10, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("Fetch() returned %d items, want 3", len(items))
	}

	for i, env := range items {
		event, err := events.Decode(env)
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if got := event.(*events.TokenMetrics).MessageID; got != int64(i+1) {
			t.Errorf("item %d message id = %d, want %d", i, got, i+1)
		}
	}
}

func TestMemoryBus_Fetch_Timeout(t *testing.T) {
	b := NewMemoryBus(10)
	defer b.Close()

	start := time.Now()
	items, err := b.Fetch(context.Background(), events.StreamRawMessages, 10, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(items) != 0 {
		t.Errorf("Fetch() returned %d items, want 0", len(items))
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("Fetch() returned after %v, want at least 50ms", elapsed)
	}
}

func TestMemoryBus_Fetch_RespectsMaxItems(t *testing.T) {
	b := NewMemoryBus(10)
	defer b.Close()
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		if err := b.Publish(ctx, testEnvelope(t, i)); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	items, err := b.Fetch(ctx, events.StreamTokenMetrics, 2, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(items) != 2 {
		t.Errorf("Fetch() returned %d items, want 2", len(items))
	}

	pending, err := b.Len(ctx, events.StreamTokenMetrics)
	if err != nil {
		t.Fatalf("Len() error = %v", err)
	}
	if pending != 3 {
		t.Errorf("Len() = %d, want 3", pending)
	}
}

func TestMemoryBus_Closed(t *testing.T) {
	b := NewMemoryBus(10)
	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	err := b.Publish(context.Background(), testEnvelope(t, 1))
	if !errors.Is(err, ErrBusClosed) {
		t.Errorf("Publish() after close error = %v, want ErrBusClosed", err)
	}
}

func TestMemoryBus_CloseUnblocksFetch(t *testing.T) {
	b := NewMemoryBus(10)

	type result struct {
		items []*events.Envelope
		err   error
	}
	done := make(chan result, 1)
	go func() {
		items, err := b.Fetch(context.Background(), events.StreamTokenMetrics, 10, time.Second)
		done <- result{items, err}
	}()

	// Let the fetch block on the empty stream before closing
	time.Sleep(20 * time.Millisecond)
	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	select {
	case res := <-done:
		if !errors.Is(res.err, ErrBusClosed) {
			t.Errorf("Fetch() after close error = %v, want ErrBusClosed", res.err)
		}
		if len(res.items) != 0 {
			t.Errorf("Fetch() after close returned %d items, want 0", len(res.items))
		}
	case <-time.After(time.Second):
		t.Fatal("Fetch() did not return after Close()")
	}
}

func TestMemoryDeadLetterQueue(t *testing.T) {
	q := NewMemoryDeadLetterQueue()
	defer q.Close()
	ctx := context.Background()

	env := testEnvelope(t, 1)
	cause := fmt.Errorf("handler exploded")
	if err := q.Add(ctx, env, cause); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	entries, err := q.List(ctx, events.StreamTokenMetrics, 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("List() returned %d entries, want 1", len(entries))
	}
	if entries[0].Envelope.ID != env.ID {
		t.Errorf("entry envelope id = %s, want %s", entries[0].Envelope.ID, env.ID)
	}
	if entries[0].Error != cause.Error() {
		t.Errorf("entry error = %q, want %q", entries[0].Error, cause.Error())
	}

	if err := q.Remove(ctx, events.StreamTokenMetrics, env.ID); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := q.Remove(ctx, events.StreamTokenMetrics, env.ID); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("Remove() of missing entry error = %v, want ErrEntryNotFound", err)
	}
}
