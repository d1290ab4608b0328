package billing

import (
	"context"
	"errors"
	"fmt"

	"thread_billing/internal/cache"
	"thread_billing/internal/config"
	"thread_billing/internal/models"
	"thread_billing/internal/storage"
	"thread_billing/internal/utils"
)

// MetricsService serves derived billing metrics, reading through the Redis
// cache and recomputing from the ledger on miss.
type MetricsService struct {
	threads  ThreadStore
	messages MessageStore
	tokens   TokenStore
	pricing  PriceStore
	cache    ReadModelCache
	defaults config.PricingConfig
	logger   *utils.Logger
}

// MetricsParams bundles the dependencies of a MetricsService.
type MetricsParams struct {
	Threads  ThreadStore
	Messages MessageStore
	Tokens   TokenStore
	Pricing  PriceStore
	Cache    ReadModelCache
	Defaults config.PricingConfig
	Logger   *utils.Logger
}

// NewMetricsService creates a new metrics service
func NewMetricsService(p MetricsParams) *MetricsService {
	logger := p.Logger
	if logger == nil {
		logger = utils.NewLogger("metrics")
	}
	return &MetricsService{
		threads:  p.Threads,
		messages: p.Messages,
		tokens:   p.Tokens,
		pricing:  p.Pricing,
		cache:    p.Cache,
		defaults: p.Defaults,
		logger:   logger,
	}
}

// ThreadMetrics returns the billing metrics for a thread. A cache hit is
// served as-is unless forceRefresh is set, in which case the metrics are
// recomputed from the ledger and the cache rewritten.
func (s *MetricsService) ThreadMetrics(ctx context.Context, threadID int64, forceRefresh bool) (*models.ThreadMetrics, error) {
	if !forceRefresh {
		metrics, err := s.cache.ThreadMetrics(ctx, threadID)
		if err == nil {
			return metrics, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("thread metrics cache read failed", "thread_id", threadID, "error", err)
		}
	}

	return s.RefreshThreadMetrics(ctx, threadID)
}

// RefreshThreadMetrics recomputes a thread's metrics from the ledger and
// stores the result in the cache.
func (s *MetricsService) RefreshThreadMetrics(ctx context.Context, threadID int64) (*models.ThreadMetrics, error) {
	metrics, err := s.computeThreadMetrics(ctx, threadID)
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetThreadMetrics(ctx, metrics); err != nil {
		s.logger.Warn("failed to cache thread metrics", "thread_id", threadID, "error", err)
	}

	return metrics, nil
}

// computeThreadMetrics rebuilds a thread's metrics from messages, the token
// ledger and current prices. Each model's tokens are priced at that model's
// current rate; threads whose ledger predates per-token rows fall back to
// the denormalized message token counts priced at the latest current rate.
func (s *MetricsService) computeThreadMetrics(ctx context.Context, threadID int64) (*models.ThreadMetrics, error) {
	thread, err := s.threads.GetByID(ctx, threadID)
	if err != nil {
		return nil, err
	}

	messageCount, err := s.messages.CountByThread(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}

	sums, err := s.tokens.SumsByModel(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum token ledger: %w", err)
	}

	metrics := &models.ThreadMetrics{
		ThreadID:     threadID,
		MessageCount: messageCount,
	}

	var totalCost float64
	for _, sum := range sums {
		metrics.InputTokens += sum.InputTokens
		metrics.OutputTokens += sum.OutputTokens

		inputPrice := s.defaults.DefaultInputTokenPrice
		outputPrice := s.defaults.DefaultOutputTokenPrice
		price, err := s.pricing.CurrentTokenPrice(ctx, sum.ModelID)
		switch {
		case err == nil:
			inputPrice = price.InputTokenPrice
			outputPrice = price.OutputTokenPrice
		case errors.Is(err, storage.ErrPriceNotFound):
			// defaults apply
		default:
			return nil, fmt.Errorf("failed to resolve token price: %w", err)
		}

		totalCost += float64(sum.InputTokens)*inputPrice + float64(sum.OutputTokens)*outputPrice
	}

	if metrics.InputTokens == 0 && metrics.OutputTokens == 0 && messageCount > 0 {
		cost, err := s.denormalizedCost(ctx, threadID, metrics)
		if err != nil {
			return nil, err
		}
		totalCost = cost
	}

	metrics.TotalCost = storage.Round6(totalCost)

	lastActivity, err := s.messages.LastActivity(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve last activity: %w", err)
	}
	if lastActivity.IsZero() {
		lastActivity = thread.CreatedAt
	}
	metrics.LastActivity = lastActivity

	return metrics, nil
}

// denormalizedCost prices the per-message token counts when the token
// ledger is empty for the thread.
func (s *MetricsService) denormalizedCost(ctx context.Context, threadID int64, metrics *models.ThreadMetrics) (float64, error) {
	sums, err := s.messages.DenormalizedTokenSums(ctx, threadID)
	if err != nil {
		return 0, fmt.Errorf("failed to sum denormalized tokens: %w", err)
	}
	if sums.InputTokens == 0 && sums.OutputTokens == 0 {
		return 0, nil
	}

	metrics.InputTokens = sums.InputTokens
	metrics.OutputTokens = sums.OutputTokens

	inputPrice := s.defaults.DefaultInputTokenPrice
	outputPrice := s.defaults.DefaultOutputTokenPrice
	price, err := s.pricing.LatestCurrentTokenPrice(ctx)
	switch {
	case err == nil:
		inputPrice = price.InputTokenPrice
		outputPrice = price.OutputTokenPrice
	case errors.Is(err, storage.ErrPriceNotFound):
		// defaults apply
	default:
		return 0, fmt.Errorf("failed to resolve token price: %w", err)
	}

	return float64(sums.InputTokens)*inputPrice + float64(sums.OutputTokens)*outputPrice, nil
}

// UserMetrics aggregates metrics across every thread of a user, reading
// through the cache.
func (s *MetricsService) UserMetrics(ctx context.Context, userID int64) (*models.UserMetrics, error) {
	metrics, err := s.cache.UserMetrics(ctx, userID)
	if err == nil {
		return metrics, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("user metrics cache read failed", "user_id", userID, "error", err)
	}

	threads, err := s.threads.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}

	aggregate := &models.UserMetrics{
		UserID:      userID,
		ThreadCount: len(threads),
		Threads:     make([]*models.ThreadMetrics, 0, len(threads)),
	}
	var totalCost float64
	for _, thread := range threads {
		threadMetrics, err := s.ThreadMetrics(ctx, thread.ID, false)
		if err != nil {
			return nil, fmt.Errorf("failed to compute metrics for thread %d: %w", thread.ID, err)
		}

		aggregate.Threads = append(aggregate.Threads, threadMetrics)
		aggregate.MessageCount += threadMetrics.MessageCount
		aggregate.InputTokens += threadMetrics.InputTokens
		aggregate.OutputTokens += threadMetrics.OutputTokens
		totalCost += threadMetrics.TotalCost
		if threadMetrics.LastActivity.After(aggregate.LastActivity) {
			aggregate.LastActivity = threadMetrics.LastActivity
		}
	}
	aggregate.TotalCost = storage.Round6(totalCost)

	if err := s.cache.SetUserMetrics(ctx, aggregate); err != nil {
		s.logger.Warn("failed to cache user metrics", "user_id", userID, "error", err)
	}

	return aggregate, nil
}
