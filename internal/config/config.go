package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/boddenberg/bill-expense-assistant/internal/domain"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// DevSessionSecret is the fallback signing secret for local runs.
const DevSessionSecret = "bill-assistant-dev-secret-change-me"

// Config holds all application configuration.
// Values are loaded from environment variables on top of Defaults.
type Config struct {
	// Server
	Port           int    `koanf:"PORT"`
	LogLevel       string `koanf:"LOG_LEVEL"`
	MaxUploadBytes int64  `koanf:"MAX_UPLOAD_BYTES"`

	// LLM provider
	OpenAIAPIKey       string        `koanf:"OPENAI_API_KEY"`
	OpenAIOrganization string        `koanf:"OPENAI_ORGANIZATION"`
	OpenAIBaseURL      string        `koanf:"OPENAI_BASE_URL"`
	OpenAIModel        string        `koanf:"OPENAI_MODEL"`
	LLMTimeout         time.Duration `koanf:"LLM_TIMEOUT"`

	// HTTP client
	HTTPTimeout time.Duration `koanf:"HTTP_TIMEOUT"`

	// Pipeline
	PipelineTimeout       time.Duration `koanf:"PIPELINE_TIMEOUT"`
	ExtractionConcurrency int           `koanf:"EXTRACTION_CONCURRENCY"`
	StrictTotals          bool          `koanf:"STRICT_TOTALS"`
	TotalTolerance        float64       `koanf:"TOTAL_TOLERANCE"`
	JPEGQuality           int           `koanf:"JPEG_QUALITY"`
	MaxImagePixels        int           `koanf:"MAX_IMAGE_PIXELS"`

	// Resilience
	MaxRetries     int           `koanf:"MAX_RETRIES"`
	InitialBackoff time.Duration `koanf:"INITIAL_BACKOFF"`
	MaxConcurrency int           `koanf:"MAX_CONCURRENCY"`

	// Sessions
	SessionTTL    time.Duration `koanf:"SESSION_TTL"`
	SessionSecret string        `koanf:"SESSION_SECRET"`

	// Observability
	OTLPEndpoint string `koanf:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// Events (disabled when AMQPURL is empty)
	AMQPURL        string `koanf:"AMQP_URL"`
	AMQPExchange   string `koanf:"AMQP_EXCHANGE"`
	AMQPRoutingKey string `koanf:"AMQP_ROUTING_KEY"`
}

// Defaults returns the configuration used when no variable is set.
func Defaults() *Config {
	return &Config{
		Port:           8080,
		LogLevel:       "info",
		MaxUploadBytes: 32 << 20,

		OpenAIModel: "gpt-4o-mini-2024-07-18",
		LLMTimeout:  60 * time.Second,

		HTTPTimeout: 90 * time.Second,

		PipelineTimeout:       5 * time.Minute,
		ExtractionConcurrency: 4,
		TotalTolerance:        0.01,
		JPEGQuality:           90,
		MaxImagePixels:        40_000_000,

		MaxRetries:     0,
		InitialBackoff: 500 * time.Millisecond,
		MaxConcurrency: 8,

		SessionTTL:    2 * time.Hour,
		SessionSecret: DevSessionSecret,

		AMQPExchange:   "bills",
		AMQPRoutingKey: "bills.processed",
	}
}

// Load reads configuration from environment variables with defaults.
// Variables set to an empty string keep their default.
func Load() (*Config, error) {
	k := koanf.New(".")
	skipEmpty := func(key string) string {
		if os.Getenv(key) == "" {
			return ""
		}
		return key
	}
	if err := k.Load(env.Provider("", ".", skipEmpty), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Defaults()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf", FlatPaths: true}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// Validate checks required credentials and value ranges. Every problem is
// reported as a *domain.ErrConfiguration, joined together.
func (c *Config) Validate() error {
	var errs []error
	add := func(key, msg string) {
		errs = append(errs, &domain.ErrConfiguration{Key: key, Message: msg})
	}

	if c.OpenAIAPIKey == "" {
		add("OPENAI_API_KEY", "required")
	}
	if c.OpenAIOrganization == "" {
		add("OPENAI_ORGANIZATION", "required")
	}
	if c.LLMTimeout <= 0 {
		add("LLM_TIMEOUT", "must be positive")
	}
	if c.ExtractionConcurrency < 1 {
		add("EXTRACTION_CONCURRENCY", "must be at least 1")
	}
	if c.MaxConcurrency < 1 {
		add("MAX_CONCURRENCY", "must be at least 1")
	}
	if c.MaxRetries < 0 {
		add("MAX_RETRIES", "must not be negative")
	}
	if c.MaxImagePixels < 1 {
		add("MAX_IMAGE_PIXELS", "must be at least 1")
	}
	if c.TotalTolerance <= 0 {
		add("TOTAL_TOLERANCE", "must be positive")
	}
	if c.SessionTTL <= 0 {
		add("SESSION_TTL", "must be positive")
	}
	if c.SessionSecret == "" {
		add("SESSION_SECRET", "must not be empty")
	}

	return errors.Join(errs...)
}
