// Package cache holds the Redis-backed read-model cache for billing
// metrics. Everything stored here is a disposable projection of the
// ledger: a miss, an eviction or a flushed Redis only costs a recompute.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"thread_billing/internal/config"
	"thread_billing/internal/models"
	"thread_billing/internal/utils"
)

// ErrCacheMiss is returned when a key is absent
var ErrCacheMiss = errors.New("cache miss")

// MetricsCache stores derived billing read models in Redis with
// per-key-class TTLs.
type MetricsCache struct {
	client    *redis.Client
	namespace string
	ttl       config.CacheConfig
	logger    *utils.Logger
}

// NewMetricsCache creates a metrics cache on an existing Redis client
func NewMetricsCache(client *redis.Client, cfg config.CacheConfig, logger *utils.Logger) *MetricsCache {
	return &MetricsCache{
		client:    client,
		namespace: cfg.Namespace,
		ttl:       cfg,
		logger:    logger,
	}
}

func (c *MetricsCache) key(kind string, id int64) string {
	return fmt.Sprintf("%s:%s:%d", c.namespace, kind, id)
}

func (c *MetricsCache) get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return ErrCacheMiss
		}
		return fmt.Errorf("failed to read cache key %s: %w", key, err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to decode cache key %s: %w", key, err)
	}
	return nil
}

func (c *MetricsCache) set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache key %s: %w", key, err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache key %s: %w", key, err)
	}
	return nil
}

func (c *MetricsCache) delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete cache key %s: %w", key, err)
	}
	return nil
}

// ThreadMetrics returns the cached metrics for a thread
func (c *MetricsCache) ThreadMetrics(ctx context.Context, threadID int64) (*models.ThreadMetrics, error) {
	var metrics models.ThreadMetrics
	if err := c.get(ctx, c.key("thread_metrics", threadID), &metrics); err != nil {
		return nil, err
	}
	return &metrics, nil
}

// SetThreadMetrics caches the metrics for a thread
func (c *MetricsCache) SetThreadMetrics(ctx context.Context, metrics *models.ThreadMetrics) error {
	return c.set(ctx, c.key("thread_metrics", metrics.ThreadID), metrics, c.ttl.ThreadMetricsTTL)
}

// DeleteThreadMetrics invalidates the cached metrics for a thread
func (c *MetricsCache) DeleteThreadMetrics(ctx context.Context, threadID int64) error {
	return c.delete(ctx, c.key("thread_metrics", threadID))
}

// UserMetrics returns the cached aggregate metrics for a user
func (c *MetricsCache) UserMetrics(ctx context.Context, userID int64) (*models.UserMetrics, error) {
	var metrics models.UserMetrics
	if err := c.get(ctx, c.key("user_metrics", userID), &metrics); err != nil {
		return nil, err
	}
	return &metrics, nil
}

// SetUserMetrics caches the aggregate metrics for a user
func (c *MetricsCache) SetUserMetrics(ctx context.Context, metrics *models.UserMetrics) error {
	return c.set(ctx, c.key("user_metrics", metrics.UserID), metrics, c.ttl.UserMetricsTTL)
}

// DeleteUserMetrics invalidates the cached aggregate metrics for a user
func (c *MetricsCache) DeleteUserMetrics(ctx context.Context, userID int64) error {
	return c.delete(ctx, c.key("user_metrics", userID))
}

// MessageTokens returns the cached token counts for a message
func (c *MetricsCache) MessageTokens(ctx context.Context, messageID int64) (input, output int, err error) {
	var counts struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	}
	if err := c.get(ctx, c.key("message_tokens", messageID), &counts); err != nil {
		return 0, 0, err
	}
	return counts.InputTokens, counts.OutputTokens, nil
}

// SetMessageTokens caches the token counts recorded for a message
func (c *MetricsCache) SetMessageTokens(ctx context.Context, messageID int64, input, output int) error {
	counts := struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	}{input, output}
	return c.set(ctx, c.key("message_tokens", messageID), counts, c.ttl.MessageTokensTTL)
}

// CachedMessage is the shape stored in per-thread message lists
type CachedMessage struct {
	MessageID int64     `json:"message_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ThreadMessages returns the cached recent-message list for a thread
func (c *MetricsCache) ThreadMessages(ctx context.Context, threadID int64) ([]CachedMessage, error) {
	var messages []CachedMessage
	if err := c.get(ctx, c.key("thread_messages", threadID), &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// AppendThreadMessage appends a message to the cached thread message list.
// The list is read-modify-written; a concurrent writer losing the race only
// costs a cache rebuild, never ledger data.
func (c *MetricsCache) AppendThreadMessage(ctx context.Context, threadID int64, message CachedMessage) error {
	messages, err := c.ThreadMessages(ctx, threadID)
	if err != nil && err != ErrCacheMiss {
		return err
	}

	messages = append(messages, message)
	return c.set(ctx, c.key("thread_messages", threadID), messages, c.ttl.ThreadMessagesTTL)
}

// DeleteThreadMessages invalidates the cached message list for a thread
func (c *MetricsCache) DeleteThreadMessages(ctx context.Context, threadID int64) error {
	return c.delete(ctx, c.key("thread_messages", threadID))
}

// Invalidate drops the derived read models affected by a ledger write for
// a thread and its owner. Errors are logged and swallowed: cache
// invalidation failures must never fail billing writes.
func (c *MetricsCache) Invalidate(ctx context.Context, threadID, userID int64) {
	if err := c.DeleteThreadMetrics(ctx, threadID); err != nil {
		c.logger.Warn("failed to invalidate thread metrics", "thread_id", threadID, "error", err)
	}
	if err := c.DeleteUserMetrics(ctx, userID); err != nil {
		c.logger.Warn("failed to invalidate user metrics", "user_id", userID, "error", err)
	}
}
