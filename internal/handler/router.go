package handler

import (
	"net/http"

	"github.com/boddenberg/bill-expense-assistant/internal/infra/observability"
	"github.com/boddenberg/bill-expense-assistant/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// DefaultMaxUploadBytes bounds a multipart bill upload when the caller
// passes a non-positive limit.
const DefaultMaxUploadBytes int64 = 32 << 20

// BreakerReporter exposes the state of an upstream circuit breaker.
type BreakerReporter interface {
	BreakerState() gobreaker.State
}

// NewRouter creates the HTTP router with all routes and middleware.
// llm may be nil, in which case /healthz reports only the API itself.
func NewRouter(sessions *service.SessionManager, llm BreakerReporter, metrics *observability.Metrics, logger *zap.Logger, maxUploadBytes int64) http.Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}

	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(llm))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		r.Get("/metrics/llm", llmMetricsHandler(metrics))

		// Sessions
		r.Post("/sessions", createSessionHandler(sessions, logger))

		// Session-scoped pipeline
		r.Group(func(r chi.Router) {
			r.Use(SessionAuthMiddleware(sessions, logger))

			r.Post("/session/refresh", refreshSessionHandler(sessions, logger))
			r.Delete("/session", endSessionHandler(sessions))
			r.Get("/state", stateHandler())
			r.Post("/bills", processBillsHandler(maxUploadBytes, logger))
			r.Post("/query", queryHandler(logger))
			r.Get("/report", reportHandler(logger))
			r.Get("/report/export.csv", reportCSVHandler(logger))
		})
	})

	return r
}
