package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/bill-expense-assistant/internal/config"
	"github.com/boddenberg/bill-expense-assistant/internal/handler"
	"github.com/boddenberg/bill-expense-assistant/internal/infra/cache"
	"github.com/boddenberg/bill-expense-assistant/internal/infra/client"
	"github.com/boddenberg/bill-expense-assistant/internal/infra/events"
	"github.com/boddenberg/bill-expense-assistant/internal/infra/observability"
	"github.com/boddenberg/bill-expense-assistant/internal/infra/resilience"
	"github.com/boddenberg/bill-expense-assistant/internal/port"
	"github.com/boddenberg/bill-expense-assistant/internal/service"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	dotenvErr := config.LoadDotEnv()

	// --- Config ---
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	if dotenvErr != nil {
		logger.Warn("failed to load .env file", zap.Error(dotenvErr))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	if cfg.SessionSecret == config.DevSessionSecret {
		logger.Warn("SESSION_SECRET not set, using the development secret")
	}

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("openai_model", cfg.OpenAIModel),
		zap.Duration("llm_timeout", cfg.LLMTimeout),
		zap.Duration("pipeline_timeout", cfg.PipelineTimeout),
		zap.Int("extraction_concurrency", cfg.ExtractionConcurrency),
		zap.Bool("strict_totals", cfg.StrictTotals),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("session_ttl", cfg.SessionTTL),
		zap.Bool("amqp_enabled", cfg.AMQPURL != ""),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, observability.ServiceName)
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	cb := resilience.NewCircuitBreaker("openai", logger)
	bulkhead := resilience.NewBulkhead(cfg.MaxConcurrency)

	// --- Clients ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	llm, err := client.NewLLMClient(httpClient, client.Config{
		APIKey:       cfg.OpenAIAPIKey,
		Organization: cfg.OpenAIOrganization,
		BaseURL:      cfg.OpenAIBaseURL,
		Model:        cfg.OpenAIModel,
		CallTimeout:  cfg.LLMTimeout,
	}, cb, resilienceCfg, bulkhead, metrics, logger)
	if err != nil {
		logger.Fatal("failed to create LLM client", zap.Error(err))
	}

	// --- Events (optional) ---
	var publisher port.ReportPublisher
	if cfg.AMQPURL != "" {
		p, err := events.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey, logger)
		if err != nil {
			logger.Fatal("failed to connect to AMQP broker", zap.Error(err))
		}
		defer p.Close()
		publisher = p
		logger.Info("bills-processed events enabled",
			zap.String("exchange", cfg.AMQPExchange),
			zap.String("routing_key", cfg.AMQPRoutingKey),
		)
	}

	// --- Sessions ---
	sessionCache := cache.New[*service.Orchestrator](cfg.SessionTTL)
	defer sessionCache.Close()

	opts := service.Options{
		ExtractionConcurrency: cfg.ExtractionConcurrency,
		StrictTotals:          cfg.StrictTotals,
		TotalTolerance:        cfg.TotalTolerance,
		PipelineTimeout:       cfg.PipelineTimeout,
		JPEGQuality:           cfg.JPEGQuality,
		MaxImagePixels:        cfg.MaxImagePixels,
	}
	factory := func(sessionID string) *service.Orchestrator {
		o := opts
		o.SessionID = sessionID
		return service.NewOrchestrator(llm, llm, llm, publisher, o, metrics, logger.With(zap.String("session_id", sessionID)))
	}
	sessions := service.NewSessionManager(sessionCache, factory, cfg.SessionSecret, cfg.SessionTTL, metrics, logger)

	// --- Router ---
	router := handler.NewRouter(sessions, llm, metrics, logger, cfg.MaxUploadBytes)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  time.Minute,
		WriteTimeout: cfg.PipelineTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
