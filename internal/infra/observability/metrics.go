package observability

import (
	"time"

	"github.com/boddenberg/bill-expense-assistant/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the assistant.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	stepDuration    *prometheus.HistogramVec
	llmCalls        *prometheus.CounterVec
	externalErrors  *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	tokensUsed      *prometheus.CounterVec
	runsTotal       *prometheus.CounterVec
	imagesProcessed prometheus.Counter
	totalMismatches prometheus.Counter
	activeSessions  prometheus.Gauge
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		stepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bills_step_duration_seconds",
				Help:    "Duration of pipeline steps by operation.",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 40, 80},
			},
			[]string{"operation"},
		),
		llmCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bills_llm_calls_total",
				Help: "Total LLM calls by operation and outcome.",
			},
			[]string{"operation", "status"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bills_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bills_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bills_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		tokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bills_llm_tokens_total",
				Help: "Total LLM tokens consumed.",
			},
			[]string{"type"},
		),
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bills_runs_total",
				Help: "Total processing runs by outcome.",
			},
			[]string{"status"},
		),
		imagesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "bills_images_processed_total",
			Help: "Total bill images successfully extracted.",
		}),
		totalMismatches: factory.NewCounter(prometheus.CounterOpts{
			Name: "bills_total_mismatch_total",
			Help: "Extracted reports whose total_spent differs from the sum of their expenses.",
		}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bills_active_sessions",
			Help: "Sessions currently held in memory.",
		}),
	}
}

// RecordStepDuration records the duration of a pipeline step.
func (m *Metrics) RecordStepDuration(operation string, d time.Duration) {
	m.stepDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrLLMCall counts one LLM call; status is "success" or "error".
func (m *Metrics) IncrLLMCall(operation, status string) {
	m.llmCalls.WithLabelValues(operation, status).Inc()
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// RecordTokens records prompt and completion token usage.
func (m *Metrics) RecordTokens(prompt, completion int) {
	m.tokensUsed.WithLabelValues("prompt").Add(float64(prompt))
	m.tokensUsed.WithLabelValues("completion").Add(float64(completion))
}

// IncrRun counts a processing run with a status label.
func (m *Metrics) IncrRun(status string) {
	m.runsTotal.WithLabelValues(status).Inc()
}

// AddImagesProcessed counts successfully extracted images.
func (m *Metrics) AddImagesProcessed(n int) {
	m.imagesProcessed.Add(float64(n))
}

// IncrTotalMismatch counts a report whose printed total disagrees with its items.
func (m *Metrics) IncrTotalMismatch() {
	m.totalMismatches.Inc()
}

// SetActiveSessions sets the live session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// GetLLMSnapshot returns a snapshot of LLM-related metrics suitable for the
// GET /v1/metrics/llm endpoint.
func (m *Metrics) GetLLMSnapshot() *domain.LLMMetrics {
	// Note: Prometheus counters expose cumulative values.
	promptTokens := getCounterValue(m.tokensUsed.WithLabelValues("prompt"))
	completionTokens := getCounterValue(m.tokensUsed.WithLabelValues("completion"))

	var calls, failures float64
	for _, op := range []string{"scan_bill", "categorize", "answer_query"} {
		ok := getCounterValue(m.llmCalls.WithLabelValues(op, "success"))
		ko := getCounterValue(m.llmCalls.WithLabelValues(op, "error"))
		calls += ok + ko
		failures += ko
	}

	cacheHits := getCounterValue(m.cacheHits.WithLabelValues("session"))
	cacheMisses := getCounterValue(m.cacheMisses.WithLabelValues("session"))

	avgTokens := float64(0)
	errorRate := float64(0)
	cacheHitRate := float64(0)
	if calls > 0 {
		avgTokens = (promptTokens + completionTokens) / calls
		errorRate = failures / calls
	}
	if cacheHits+cacheMisses > 0 {
		cacheHitRate = cacheHits / (cacheHits + cacheMisses)
	}

	// gpt-4o-mini list price: $0.15/1M prompt tokens, $0.60/1M completion tokens.
	estimatedCost := (promptTokens/1e6)*0.15 + (completionTokens/1e6)*0.60

	return &domain.LLMMetrics{
		TotalCalls:          int64(calls),
		ErrorRate:           errorRate,
		PromptTokens:        int64(promptTokens),
		CompletionTokens:    int64(completionTokens),
		AvgTokensPerCall:    avgTokens,
		EstimatedCostUsd:    estimatedCost,
		TotalMismatches:     int64(getCounterValue(m.totalMismatches)),
		ImagesProcessed:     int64(getCounterValue(m.imagesProcessed)),
		ActiveSessions:      int64(getGaugeValue(m.activeSessions)),
		SessionCacheHitRate: cacheHitRate,
		Period:              "all_time",
	}
}

// getCounterValue extracts the current float64 value from a counter.
func getCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

func getGaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		return 0
	}
	if m.Gauge != nil && m.Gauge.Value != nil {
		return *m.Gauge.Value
	}
	return 0
}
