// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// ADP feed
	ADPFeedURL  string        // Upstream average-draft-position feed (optional)
	ADPCacheTTL time.Duration // Refresh interval for the cached board

	// Flag recorder
	FlagMaxAttempts int           // Optimistic-concurrency retry attempts per flag write
	FlagRetryBase   time.Duration // First backoff delay
	FlagRetryCap    time.Duration // Per-attempt backoff ceiling

	// Completion sweep
	SweepInterval time.Duration // Cadence for re-enqueueing completed drafts missing analysis

	// Post-draft analyzer
	WeightLocation    float64
	WeightBehavior    float64
	WeightBenefit     float64
	MaxPairsPerDraft  int     // Cap on pairs analyzed per draft (flagged + sampled)
	MinInclusionScore float64 // Minimum behavior/benefit score to retain a sampled pair

	// Cross-draft aggregator
	LookbackDays       int           // Rolling window over analyzed drafts
	AggregatorWorkers  int           // Bounded pool size for per-pair analysis
	AggregatorInterval time.Duration // Schedule for full analysis runs
	PairHistoryLimit   int           // Risk-score history entries kept per pair

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint; tracing disabled when empty

	// Security
	AdminSecret  string // Required for admin review routes
	RateLimitRPS int
}

// Defaults
const (
	DefaultPort               = "8080"
	DefaultEnv                = "development"
	DefaultLogLevel           = "info"
	DefaultADPCacheTTL        = time.Hour
	DefaultFlagMaxAttempts    = 3
	DefaultFlagRetryBase      = 50 * time.Millisecond
	DefaultFlagRetryCap       = 200 * time.Millisecond
	DefaultSweepInterval      = 5 * time.Minute
	DefaultWeightLocation     = 0.35
	DefaultWeightBehavior     = 0.30
	DefaultWeightBenefit      = 0.35
	DefaultMaxPairsPerDraft   = 20
	DefaultMinInclusionScore  = 30
	DefaultLookbackDays       = 90
	DefaultAggregatorWorkers  = 4
	DefaultAggregatorInterval = 7 * 24 * time.Hour
	DefaultPairHistoryLimit   = 20
	DefaultRateLimit          = 100
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:        os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		ADPFeedURL:         os.Getenv("ADP_FEED_URL"),
		ADPCacheTTL:        getEnvDuration("ADP_CACHE_TTL", DefaultADPCacheTTL),
		FlagMaxAttempts:    int(getEnvInt64("FLAG_MAX_ATTEMPTS", DefaultFlagMaxAttempts)),
		FlagRetryBase:      getEnvDuration("FLAG_RETRY_BASE", DefaultFlagRetryBase),
		FlagRetryCap:       getEnvDuration("FLAG_RETRY_CAP", DefaultFlagRetryCap),
		SweepInterval:      getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),
		WeightLocation:     getEnvFloat("WEIGHT_LOCATION", DefaultWeightLocation),
		WeightBehavior:     getEnvFloat("WEIGHT_BEHAVIOR", DefaultWeightBehavior),
		WeightBenefit:      getEnvFloat("WEIGHT_BENEFIT", DefaultWeightBenefit),
		MaxPairsPerDraft:   int(getEnvInt64("MAX_PAIRS_PER_DRAFT", DefaultMaxPairsPerDraft)),
		MinInclusionScore:  getEnvFloat("MIN_INCLUSION_SCORE", DefaultMinInclusionScore),
		LookbackDays:       int(getEnvInt64("LOOKBACK_DAYS", DefaultLookbackDays)),
		AggregatorWorkers:  int(getEnvInt64("AGGREGATOR_WORKERS", DefaultAggregatorWorkers)),
		AggregatorInterval: getEnvDuration("AGGREGATOR_INTERVAL", DefaultAggregatorInterval),
		PairHistoryLimit:   int(getEnvInt64("PAIR_HISTORY_LIMIT", DefaultPairHistoryLimit)),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		AdminSecret:        os.Getenv("ADMIN_SECRET"),
		RateLimitRPS:       int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent
func (c *Config) Validate() error {
	if c.WeightLocation < 0 || c.WeightBehavior < 0 || c.WeightBenefit < 0 {
		return fmt.Errorf("score weights must be non-negative")
	}
	sum := c.WeightLocation + c.WeightBehavior + c.WeightBenefit
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("score weights must sum to 1.0, got %.3f", sum)
	}

	if c.FlagMaxAttempts < 1 {
		return fmt.Errorf("FLAG_MAX_ATTEMPTS must be at least 1")
	}

	if c.MaxPairsPerDraft < 1 {
		return fmt.Errorf("MAX_PAIRS_PER_DRAFT must be at least 1")
	}

	if c.LookbackDays < 1 {
		return fmt.Errorf("LOOKBACK_DAYS must be at least 1")
	}

	if c.AggregatorWorkers < 1 {
		return fmt.Errorf("AGGREGATOR_WORKERS must be at least 1")
	}

	if c.IsProduction() && c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required in production")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
