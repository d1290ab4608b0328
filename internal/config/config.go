package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds configuration for the billing service.
type Config struct {
	HTTPPort string
	Database DatabaseConfig
	Redis    RedisConfig
	Bus      BusConfig
	Cache    CacheConfig
	Pricing  PricingConfig
	Billing  BillingConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	ModelCacheSize int
	ModelCacheTTL  time.Duration
	PriceCacheSize int
	PriceCacheTTL  time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// BusConfig holds event bus settings
type BusConfig struct {
	UseRedis     bool
	BatchSize    int
	FetchTimeout time.Duration
	BufferSize   int
}

// CacheConfig holds metrics cache settings. Each key class carries its own TTL.
type CacheConfig struct {
	Namespace         string
	ThreadMessagesTTL time.Duration
	MessageTokensTTL  time.Duration
	ThreadMetricsTTL  time.Duration
	UserMetricsTTL    time.Duration
}

// PricingConfig holds the process-wide fallback token prices used when a model
// has no current pricing row.
type PricingConfig struct {
	DefaultInputTokenPrice  float64 // USD per input token
	DefaultOutputTokenPrice float64 // USD per output token
}

// BillingConfig holds processor settings
type BillingConfig struct {
	// SettlingDelay is how long the processor waits after a ledger commit
	// before eagerly recomputing thread metrics, so same-turn writes land
	// before the recompute reads.
	SettlingDelay time.Duration
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getEnvFloat(key string, defaultValue float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	floatVal, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultValue
	}

	return floatVal
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg := &Config{
		HTTPPort: getEnvString("HTTP_PORT", "8080"),
		Database: DatabaseConfig{
			URL:             dbURL,
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),

			ModelCacheSize: getEnvInt("CACHE_MODEL_SIZE", 500),
			ModelCacheTTL:  getEnvDuration("CACHE_MODEL_TTL", 15*time.Minute),
			PriceCacheSize: getEnvInt("CACHE_PRICE_SIZE", 1000),
			PriceCacheTTL:  getEnvDuration("CACHE_PRICE_TTL", 1*time.Minute),
		},
		Redis: RedisConfig{
			Address:      getEnvString("REDIS_ADDRESS", "localhost:6379"),
			Password:     getEnvString("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Bus: BusConfig{
			UseRedis:     getEnvString("BUS_USE_REDIS", "true") == "true",
			BatchSize:    getEnvInt("BUS_BATCH_SIZE", 100),
			FetchTimeout: getEnvDuration("BUS_FETCH_TIMEOUT", 5*time.Second),
			BufferSize:   getEnvInt("BUS_BUFFER_SIZE", 1000),
		},
		Cache: CacheConfig{
			Namespace:         getEnvString("CACHE_NAMESPACE", "billing"),
			ThreadMessagesTTL: getEnvDuration("CACHE_THREAD_MESSAGES_TTL", 24*time.Hour),
			MessageTokensTTL:  getEnvDuration("CACHE_MESSAGE_TOKENS_TTL", 7*24*time.Hour),
			ThreadMetricsTTL:  getEnvDuration("CACHE_THREAD_METRICS_TTL", 7*24*time.Hour),
			UserMetricsTTL:    getEnvDuration("CACHE_USER_METRICS_TTL", 7*24*time.Hour),
		},
		Pricing: PricingConfig{
			DefaultInputTokenPrice:  getEnvFloat("DEFAULT_INPUT_TOKEN_PRICE", 0.000001),  // $1.00 per million tokens
			DefaultOutputTokenPrice: getEnvFloat("DEFAULT_OUTPUT_TOKEN_PRICE", 0.000005), // $5.00 per million tokens
		},
		Billing: BillingConfig{
			SettlingDelay: getEnvDuration("BILLING_SETTLING_DELAY", 250*time.Millisecond),
		},
	}

	return cfg, nil
}
