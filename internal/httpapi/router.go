package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"thread_billing/internal/billing"
	"thread_billing/internal/bus"
	"thread_billing/internal/cache"
	"thread_billing/internal/config"
	"thread_billing/internal/events"
	"thread_billing/internal/storage"
	"thread_billing/internal/utils"
)

// Dependencies aggregates all services the HTTP layer and the stream
// workers need.
type Dependencies struct {
	DB          *storage.DB
	RedisClient *redis.Client
	Bus         bus.Bus
	DLQ         bus.DeadLetterQueue
	Cache       *cache.MetricsCache
	Metrics     *billing.MetricsService
	Invoices    *billing.InvoiceGenerator
	Processor   *billing.Processor
	Workers     []*billing.StreamWorker
	Logger      *utils.Logger

	janitorStop chan struct{}
}

// NewRouter creates an HTTP router with all dependencies wired up
func NewRouter(cfg *config.Config) (*http.ServeMux, *Dependencies, error) {
	logger := utils.NewLogger("billingd")

	db, err := storage.NewDB(storage.DBConfig{
		DSN:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ModelCacheSize:  cfg.Database.ModelCacheSize,
		ModelCacheTTL:   cfg.Database.ModelCacheTTL,
		PriceCacheSize:  cfg.Database.PriceCacheSize,
		PriceCacheTTL:   cfg.Database.PriceCacheTTL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	redisClient, err := storage.NewRedisClient(storage.RedisConfig{
		Address:      cfg.Redis.Address,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize Redis: %w", err)
	}

	deps, err := buildDependencies(cfg, db, redisClient, logger)
	if err != nil {
		return nil, nil, err
	}

	mux := NewMux(deps)
	return mux, deps, nil
}

// buildDependencies wires repositories, services and workers on top of the
// already-open connections.
func buildDependencies(cfg *config.Config, db *storage.DB, redisClient *redis.Client, logger *utils.Logger) (*Dependencies, error) {
	threadRepo := storage.NewThreadRepository(db)
	messageRepo := storage.NewMessageRepository(db)
	pricingRepo := storage.NewPricingRepository(db)
	tokenRepo := storage.NewTokenRepository(db)
	resourceRepo := storage.NewResourceRepository(db)
	invoiceRepo := storage.NewInvoiceRepository(db)

	metricsCache := cache.NewMetricsCache(redisClient, cfg.Cache, utils.NewLogger("cache"))

	var eventBus bus.Bus
	var dlq bus.DeadLetterQueue
	if cfg.Bus.UseRedis {
		redisBus, err := bus.NewRedisBus(redisClient)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize event bus: %w", err)
		}
		redisDLQ, err := bus.NewRedisDeadLetterQueue(redisClient)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize dead letter queue: %w", err)
		}
		eventBus, dlq = redisBus, redisDLQ
	} else {
		eventBus = bus.NewMemoryBus(cfg.Bus.BufferSize)
		dlq = bus.NewMemoryDeadLetterQueue()
	}

	metricsService := billing.NewMetricsService(billing.MetricsParams{
		Threads:  threadRepo,
		Messages: messageRepo,
		Tokens:   tokenRepo,
		Pricing:  pricingRepo,
		Cache:    metricsCache,
		Defaults: cfg.Pricing,
		Logger:   utils.NewLogger("metrics"),
	})

	processor := billing.NewProcessor(billing.ProcessorParams{
		Messages:      messageRepo,
		Tokens:        tokenRepo,
		Pricing:       pricingRepo,
		Resources:     resourceRepo,
		Cache:         metricsCache,
		Refresher:     metricsService,
		Defaults:      cfg.Pricing,
		SettlingDelay: cfg.Billing.SettlingDelay,
		Logger:        utils.NewLogger("processor"),
	})

	invoiceGenerator := billing.NewInvoiceGenerator(billing.InvoiceParams{
		Invoices:                invoiceRepo,
		Threads:                 threadRepo,
		Messages:                messageRepo,
		Tokens:                  tokenRepo,
		Pricing:                 pricingRepo,
		Metrics:                 metricsService,
		DefaultInputTokenPrice:  cfg.Pricing.DefaultInputTokenPrice,
		DefaultOutputTokenPrice: cfg.Pricing.DefaultOutputTokenPrice,
		Logger:                  utils.NewLogger("invoices"),
	})

	workers := make([]*billing.StreamWorker, 0, len(events.Streams()))
	for _, stream := range events.Streams() {
		workers = append(workers, billing.NewStreamWorker(billing.WorkerParams{
			Stream:       stream,
			Bus:          eventBus,
			DLQ:          dlq,
			Handler:      processor.HandleEnvelope,
			BatchSize:    cfg.Bus.BatchSize,
			FetchTimeout: cfg.Bus.FetchTimeout,
			Logger:       utils.NewLogger(fmt.Sprintf("worker:%s", stream)),
		}))
	}

	return &Dependencies{
		DB:          db,
		RedisClient: redisClient,
		Bus:         eventBus,
		DLQ:         dlq,
		Cache:       metricsCache,
		Metrics:     metricsService,
		Invoices:    invoiceGenerator,
		Processor:   processor,
		Workers:     workers,
		Logger:      logger,
	}, nil
}

// NewMux registers all routes on a fresh ServeMux.
func NewMux(deps *Dependencies) *http.ServeMux {
	modelRepo := storage.NewModelRepository(deps.DB)

	billingHandler := NewBillingHandler(deps.Metrics, deps.Invoices, deps.Logger)
	eventsHandler := NewEventsHandler(deps.Bus, modelRepo, deps.Logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /billing/metrics/thread/{id}", billingHandler.ThreadMetrics)
	mux.HandleFunc("GET /billing/metrics/user/{id}", billingHandler.UserMetrics)
	mux.HandleFunc("POST /billing/invoices/thread/{id}", billingHandler.GenerateInvoice)
	mux.HandleFunc("GET /billing/invoices/user/{id}", billingHandler.UserInvoices)
	mux.HandleFunc("POST /events/inference", eventsHandler.InferenceEvent)
	mux.HandleFunc("GET /healthz", deps.handleHealthz)

	return mux
}

// StartWorkers launches one consumer per stream and the janitor that
// evicts expired entries from the in-process query caches.
func (d *Dependencies) StartWorkers() {
	for _, worker := range d.Workers {
		worker.Start()
	}

	d.janitorStop = make(chan struct{})
	go d.runCacheJanitor()
}

func (d *Dependencies) runCacheJanitor() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			models, prices := d.DB.CleanupExpiredCacheEntries()
			if models+prices > 0 {
				d.Logger.Debug("evicted expired cache entries", "models", models, "prices", prices)
			}
		case <-d.janitorStop:
			return
		}
	}
}

// Shutdown stops the workers, waits for in-flight reconciliations and
// closes all connections.
func (d *Dependencies) Shutdown() {
	for _, worker := range d.Workers {
		worker.Stop()
	}
	if d.janitorStop != nil {
		close(d.janitorStop)
	}
	d.Invoices.Wait()

	if err := d.Bus.Close(); err != nil {
		d.Logger.Warn("failed to close bus", "error", err)
	}
	if err := d.DB.Close(); err != nil {
		d.Logger.Warn("failed to close database", "error", err)
	}
}

func (d *Dependencies) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := d.DB.Health(ctx); err != nil {
		d.Logger.Error("health check failed", "component", "database", "error", err)
		utils.RespondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	if err := d.RedisClient.Ping(ctx).Err(); err != nil {
		d.Logger.Error("health check failed", "component", "redis", "error", err)
		utils.RespondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
