package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thread_billing/internal/config"
	"thread_billing/internal/models"
	"thread_billing/internal/utils"
)

func newTestCache(t *testing.T) (*MetricsCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := config.CacheConfig{
		Namespace:         "billing",
		ThreadMessagesTTL: 24 * time.Hour,
		MessageTokensTTL:  7 * 24 * time.Hour,
		ThreadMetricsTTL:  7 * 24 * time.Hour,
		UserMetricsTTL:    7 * 24 * time.Hour,
	}
	return NewMetricsCache(client, cfg, utils.NewLogger("cache-test")), mr
}

func TestMetricsCache_ThreadMetrics_RoundTrip(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	_, err := c.ThreadMetrics(ctx, 9)
	assert.ErrorIs(t, err, ErrCacheMiss)

	metrics := &models.ThreadMetrics{
		ThreadID:     9,
		MessageCount: 2,
		InputTokens:  5,
		OutputTokens: 12,
		TotalCost:    0.00001,
		LastActivity: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, c.SetThreadMetrics(ctx, metrics))

	// Keys live under the configured namespace
	assert.True(t, mr.Exists("billing:thread_metrics:9"))

	got, err := c.ThreadMetrics(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, metrics, got)
}

func TestMetricsCache_ThreadMetrics_Expires(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetThreadMetrics(ctx, &models.ThreadMetrics{ThreadID: 9}))

	mr.FastForward(7*24*time.Hour + time.Minute)

	_, err := c.ThreadMetrics(ctx, 9)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMetricsCache_Invalidate(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetThreadMetrics(ctx, &models.ThreadMetrics{ThreadID: 9}))
	require.NoError(t, c.SetUserMetrics(ctx, &models.UserMetrics{UserID: 4}))

	c.Invalidate(ctx, 9, 4)

	assert.False(t, mr.Exists("billing:thread_metrics:9"))
	assert.False(t, mr.Exists("billing:user_metrics:4"))
}

func TestMetricsCache_MessageTokens(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetMessageTokens(ctx, 42, 5, 12))

	input, output, err := c.MessageTokens(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 5, input)
	assert.Equal(t, 12, output)
}

func TestMetricsCache_AppendThreadMessage(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	first := CachedMessage{MessageID: 1, Role: "user", Content: "Hello", CreatedAt: time.Now().UTC()}
	second := CachedMessage{MessageID: 2, Role: "assistant", Content: "Hi there", CreatedAt: time.Now().UTC()}

	require.NoError(t, c.AppendThreadMessage(ctx, 9, first))
	require.NoError(t, c.AppendThreadMessage(ctx, 9, second))

	messages, err := c.ThreadMessages(ctx, 9)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, int64(1), messages[0].MessageID)
	assert.Equal(t, "Hi there", messages[1].Content)
}
