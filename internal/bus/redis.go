package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"thread_billing/internal/events"
)

// RedisBus implements Bus using one Redis list per stream. RPUSH on publish,
// BLPOP on fetch; the list survives process restarts, which is what gives
// the pipeline its at-least-once redelivery on crash.
type RedisBus struct {
	client *redis.Client
}

// NewRedisBus creates a Redis-backed bus on an existing client.
func NewRedisBus(client *redis.Client) (*RedisBus, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisBus{client: client}, nil
}

func streamKey(stream events.Stream) string {
	return fmt.Sprintf("events:%s", stream)
}

func deadLetterKey(stream events.Stream) string {
	return fmt.Sprintf("dlq:%s", stream)
}

// Publish appends an envelope to its stream list.
func (b *RedisBus) Publish(ctx context.Context, env *events.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	if err := b.client.RPush(ctx, streamKey(env.Stream), data).Err(); err != nil {
		return fmt.Errorf("failed to push to Redis: %w", err)
	}

	return nil
}

// Fetch retrieves up to maxItems envelopes, blocking up to wait for the first.
func (b *RedisBus) Fetch(ctx context.Context, stream events.Stream, maxItems int, wait time.Duration) ([]*events.Envelope, error) {
	key := streamKey(stream)

	result, err := b.client.BLPop(ctx, wait, key).Result()
	if err == redis.Nil {
		return []*events.Envelope{}, nil // Timeout, no items
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop from Redis: %w", err)
	}

	// result[0] is the key, result[1] is the value
	first, err := decodeEnvelope([]byte(result[1]))
	if err != nil {
		return nil, err
	}
	items := []*events.Envelope{first}

	// Drain more items without blocking
	for len(items) < maxItems {
		raw, err := b.client.LPop(ctx, key).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return items, nil // Return what we have so far
		}

		env, err := decodeEnvelope([]byte(raw))
		if err != nil {
			continue // Skip malformed frames
		}
		items = append(items, env)
	}

	return items, nil
}

// Len returns the number of pending envelopes on a stream.
func (b *RedisBus) Len(ctx context.Context, stream events.Stream) (int, error) {
	length, err := b.client.LLen(ctx, streamKey(stream)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get stream length: %w", err)
	}
	return int(length), nil
}

// Close shuts down the bus.
func (b *RedisBus) Close() error {
	return b.client.Close()
}

func decodeEnvelope(data []byte) (*events.Envelope, error) {
	var env events.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return &env, nil
}

// RedisDeadLetterQueue implements DeadLetterQueue using one Redis hash per
// stream, keyed by envelope id.
type RedisDeadLetterQueue struct {
	client *redis.Client
}

// NewRedisDeadLetterQueue creates a Redis-backed dead letter queue on an
// existing client.
func NewRedisDeadLetterQueue(client *redis.Client) (*RedisDeadLetterQueue, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisDeadLetterQueue{client: client}, nil
}

// Add parks an envelope together with the error that failed it.
func (q *RedisDeadLetterQueue) Add(ctx context.Context, env *events.Envelope, cause error) error {
	entry := DeadLetterEntry{
		Envelope: env,
		Error:    cause.Error(),
		FailedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter entry: %w", err)
	}

	if err := q.client.HSet(ctx, deadLetterKey(env.Stream), env.ID, data).Err(); err != nil {
		return fmt.Errorf("failed to add to dead letter queue: %w", err)
	}

	return nil
}

// List retrieves up to maxItems parked entries for a stream.
func (q *RedisDeadLetterQueue) List(ctx context.Context, stream events.Stream, maxItems int) ([]DeadLetterEntry, error) {
	results, err := q.client.HGetAll(ctx, deadLetterKey(stream)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letter entries: %w", err)
	}

	entries := make([]DeadLetterEntry, 0, len(results))
	for _, data := range results {
		var entry DeadLetterEntry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			continue // Skip malformed entries
		}
		entries = append(entries, entry)

		if maxItems > 0 && len(entries) >= maxItems {
			break
		}
	}

	return entries, nil
}

// Remove deletes a parked entry by envelope id.
func (q *RedisDeadLetterQueue) Remove(ctx context.Context, stream events.Stream, id string) error {
	removed, err := q.client.HDel(ctx, deadLetterKey(stream), id).Result()
	if err != nil {
		return fmt.Errorf("failed to remove from dead letter queue: %w", err)
	}
	if removed == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// Close shuts down the dead letter queue.
func (q *RedisDeadLetterQueue) Close() error {
	return q.client.Close()
}
