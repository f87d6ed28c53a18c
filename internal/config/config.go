// Package config loads configuration from environment variables and .env files.
package config

import (
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the evaluation service
type Config struct {
	// Server
	HTTPPort    int    `env:"HTTP_PORT" envDefault:"8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Auth
	JWTSecret   string        `env:"JWT_SECRET" envDefault:"change-this-in-production"`
	JWTExpiry   time.Duration `env:"JWT_EXPIRY" envDefault:"24h"`
	AdminAPIKey string        `env:"ADMIN_API_KEY" envDefault:""`

	// Reranker service
	RerankerURL     string        `env:"RERANKER_URL" envDefault:"http://localhost:8088"`
	RerankerTimeout time.Duration `env:"RERANKER_TIMEOUT" envDefault:"30s"`

	// Embedder
	EmbedderURL   string `env:"EMBEDDER_URL" envDefault:"http://localhost:11434"`
	EmbedderModel string `env:"EMBEDDER_MODEL" envDefault:"nomic-embed-text"`
	EmbedderLocal bool   `env:"EMBEDDER_LOCAL" envDefault:"false"`

	// LLM judge
	LLMURL   string `env:"LLM_URL" envDefault:"http://localhost:11434"`
	LLMModel string `env:"LLM_MODEL" envDefault:"llama3.2"`

	// Cache
	CacheDir         string        `env:"CACHE_DIR" envDefault:"cache"`
	CacheMemoryItems int           `env:"CACHE_MEMORY_ITEMS" envDefault:"1000"`
	CacheDiskMB      int64         `env:"CACHE_DISK_MB" envDefault:"100"`
	CacheTTL         time.Duration `env:"CACHE_TTL" envDefault:"1h"`
	CacheCompress    bool          `env:"CACHE_COMPRESS" envDefault:"true"`
	CacheEncryptKey  string        `env:"CACHE_ENCRYPT_KEY" envDefault:""`

	// Network resilience
	RequestTimeout   time.Duration `env:"REQUEST_TIMEOUT" envDefault:"5s"`
	MaxRetries       int           `env:"MAX_RETRIES" envDefault:"3"`
	BackoffFactor    float64       `env:"BACKOFF_FACTOR" envDefault:"1.5"`
	JitterMax        time.Duration `env:"JITTER_MAX" envDefault:"50ms"`
	HedgeDelay       time.Duration `env:"HEDGE_DELAY" envDefault:"100ms"`
	HedgeMaxInFlight int           `env:"HEDGE_MAX_IN_FLIGHT" envDefault:"3"`
	BreakerThreshold int           `env:"BREAKER_THRESHOLD" envDefault:"5"`
	BreakerTimeout   time.Duration `env:"BREAKER_TIMEOUT" envDefault:"30s"`

	// Pipeline
	QueueSize          int           `env:"QUEUE_SIZE" envDefault:"100"`
	SearchConcurrency  int           `env:"SEARCH_CONCURRENCY" envDefault:"3"`
	EmbedConcurrency   int           `env:"EMBED_CONCURRENCY" envDefault:"5"`
	RerankConcurrency  int           `env:"RERANK_CONCURRENCY" envDefault:"2"`
	JudgeConcurrency   int           `env:"JUDGE_CONCURRENCY" envDefault:"2"`
	ResultPollInterval time.Duration `env:"RESULT_POLL_INTERVAL" envDefault:"100ms"`
	ResultTimeout      time.Duration `env:"RESULT_TIMEOUT" envDefault:"30s"`

	// Guardrails
	MaxQueryLength    int           `env:"MAX_QUERY_LENGTH" envDefault:"1000"`
	MaxProviders      int           `env:"MAX_PROVIDERS" envDefault:"10"`
	MaxResultsPerCall int           `env:"MAX_RESULTS_PER_CALL" envDefault:"100"`
	MaxProcessingTime time.Duration `env:"MAX_PROCESSING_TIME" envDefault:"30s"`
	RequestsPerMinute int           `env:"REQUESTS_PER_MINUTE" envDefault:"100"`
}

// Load loads configuration from .env file (if present) and environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
