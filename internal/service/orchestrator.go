package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/boddenberg/bill-expense-assistant/internal/domain"
	"github.com/boddenberg/bill-expense-assistant/internal/infra/observability"
	"github.com/boddenberg/bill-expense-assistant/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("service/orchestrator")

// DefaultTotalTolerance is used when Options.TotalTolerance is zero.
const DefaultTotalTolerance = 0.01

// Options tunes a pipeline run.
type Options struct {
	SessionID             string
	ExtractionConcurrency int
	StrictTotals          bool

	// TotalTolerance is the allowed gap between a bill's total and the
	// sum of its expenses. Zero selects DefaultTotalTolerance.
	TotalTolerance float64

	PipelineTimeout time.Duration
	JPEGQuality     int
	MaxImagePixels  int
}

// Orchestrator runs the bill pipeline for one session:
// images → merged report → categorized report → category totals,
// then answers questions about the latest committed result.
//
// A run is staged privately and committed in one step, so a failed run
// leaves the previous result (if any) in place.
type Orchestrator struct {
	scanner     port.BillScanner
	categorizer port.ExpenseCategorizer
	answerer    port.QueryAnswerer
	publisher   port.ReportPublisher // optional
	opts        Options
	metrics     *observability.Metrics
	logger      *zap.Logger

	runMu sync.Mutex // serializes ProcessImages

	mu     sync.RWMutex
	state  domain.PipelineState
	result *domain.PipelineResult
}

// NewOrchestrator creates an Orchestrator in the Empty state.
// publisher may be nil.
func NewOrchestrator(
	scanner port.BillScanner,
	categorizer port.ExpenseCategorizer,
	answerer port.QueryAnswerer,
	publisher port.ReportPublisher,
	opts Options,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Orchestrator {
	if opts.ExtractionConcurrency < 1 {
		opts.ExtractionConcurrency = 1
	}
	if opts.TotalTolerance <= 0 {
		opts.TotalTolerance = DefaultTotalTolerance
	}
	return &Orchestrator{
		scanner:     scanner,
		categorizer: categorizer,
		answerer:    answerer,
		publisher:   publisher,
		opts:        opts,
		metrics:     metrics,
		logger:      logger,
		state:       domain.StateEmpty,
	}
}

// State returns the current lifecycle stage. While a run is in flight this
// is the stage that run has reached.
func (o *Orchestrator) State() domain.PipelineState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Result returns the last committed result, or ErrNotReady if no run has
// succeeded yet.
func (o *Orchestrator) Result() (*domain.PipelineResult, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.result == nil {
		return nil, &domain.ErrNotReady{State: o.state}
	}
	return o.result, nil
}

// ProcessImages extracts every image concurrently, merges the reports in
// image order, categorizes the merged expenses and aggregates them. The
// first failing step aborts the whole run.
func (o *Orchestrator) ProcessImages(ctx context.Context, images []domain.BillImage) (*domain.PipelineResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, &domain.ErrValidation{Field: "images", Message: "at least one bill image is required"}
	}

	o.runMu.Lock()
	defer o.runMu.Unlock()

	runID := uuid.NewString()
	ctx, span := tracer.Start(ctx, "Orchestrator.ProcessImages")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", runID),
		attribute.Int("run.images", len(images)),
	)

	if o.opts.PipelineTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.PipelineTimeout)
		defer cancel()
	}

	logger := o.logger.With(zap.String("run_id", runID))
	start := time.Now()

	result, err := o.run(ctx, runID, images, logger)
	o.metrics.RecordStepDuration("process", time.Since(start))
	if err != nil {
		o.rollback()
		o.metrics.IncrRun("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("bill processing failed",
			zap.Int("images", len(images)),
			zap.String("state", string(o.State())),
			zap.Error(err),
		)
		return nil, err
	}

	o.commit(result)
	o.metrics.IncrRun("success")
	o.metrics.AddImagesProcessed(len(images))

	logger.Info("bills processed",
		zap.Int("images", result.Images),
		zap.Int("expenses", len(result.Categorized.CategorizedExpenses)),
		zap.Int("categories", len(result.Totals)),
		zap.Float64("total_spent", result.Merged.TotalSpent),
		zap.Duration("latency", time.Since(start)),
	)

	o.publish(ctx, result, logger)
	return result, nil
}

// run walks one staged result through Extracted → Categorized → Ready.
func (o *Orchestrator) run(ctx context.Context, runID string, images []domain.BillImage, logger *zap.Logger) (*domain.PipelineResult, error) {
	// --- Step 1: Extract every bill, merge in image order ---
	reports, err := o.extractAll(ctx, images, logger)
	if err != nil {
		return nil, err
	}
	merged := MergeReports(reports...)
	o.advance(domain.StateExtracted, logger)

	// --- Step 2: Categorize the merged expenses ---
	categorized, err := o.categorize(ctx, merged.Expenses, logger)
	if err != nil {
		return nil, err
	}
	o.advance(domain.StateCategorized, logger)

	// --- Step 3: Aggregate ---
	aggStart := time.Now()
	totals := AggregateByCategory(categorized.CategorizedExpenses)
	o.metrics.RecordStepDuration("aggregate", time.Since(aggStart))

	return &domain.PipelineResult{
		RunID:       runID,
		Images:      len(images),
		Merged:      merged,
		Categorized: *categorized,
		Totals:      totals,
		ProcessedAt: time.Now().UTC(),
	}, nil
}

// asTimeout turns an expired deadline into ErrTimeout for op. Other
// errors, including ones already reported as timeouts, pass through.
func asTimeout(err error, op string) error {
	var timeout *domain.ErrTimeout
	if errors.Is(err, context.DeadlineExceeded) && !errors.As(err, &timeout) {
		return &domain.ErrTimeout{Operation: op}
	}
	return err
}

func (o *Orchestrator) advance(state domain.PipelineState, logger *zap.Logger) {
	o.mu.Lock()
	o.state = state
	o.mu.Unlock()
	logger.Debug("pipeline state changed", zap.String("state", string(state)))
}

// commit swaps in a finished result.
func (o *Orchestrator) commit(result *domain.PipelineResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.result = result
	o.state = domain.StateReady
}

// rollback restores the state that matches the committed result.
func (o *Orchestrator) rollback() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.result != nil {
		o.state = domain.StateReady
		return
	}
	o.state = domain.StateEmpty
}

func (o *Orchestrator) publish(ctx context.Context, result *domain.PipelineResult, logger *zap.Logger) {
	if o.publisher == nil {
		return
	}
	evt := &domain.BillsProcessed{
		SessionID:      o.opts.SessionID,
		RunID:          result.RunID,
		Images:         result.Images,
		Expenses:       len(result.Categorized.CategorizedExpenses),
		TotalSpent:     result.Merged.TotalSpent,
		CategoryTotals: result.Totals,
		ProcessedAt:    result.ProcessedAt,
	}
	if err := o.publisher.PublishBillsProcessed(context.WithoutCancel(ctx), evt); err != nil {
		o.metrics.IncrExternalError("amqp")
		logger.Warn("failed to publish bills processed event", zap.Error(err))
	}
}
