package service

import (
	"context"
	"strings"
	"time"

	"github.com/boddenberg/bill-expense-assistant/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// AnswerQuery answers a question from the last committed result only.
// It fails with ErrNotReady until a run has succeeded.
func (o *Orchestrator) AnswerQuery(ctx context.Context, query string) (string, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.AnswerQuery")
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" {
		return "", &domain.ErrValidation{Field: "query", Message: "query must not be empty"}
	}

	o.mu.RLock()
	result, state := o.result, o.state
	o.mu.RUnlock()

	if result == nil {
		return "", &domain.ErrNotReady{State: state}
	}
	span.SetAttributes(attribute.String("run.id", result.RunID))

	qc := &domain.QueryContext{
		Expenses:              result.Categorized,
		CategoryExpenseReport: result.Totals,
	}

	start := time.Now()
	answer, err := o.answerer.AnswerQuery(ctx, query, qc)
	o.metrics.RecordStepDuration("query", time.Since(start))
	if err != nil {
		span.RecordError(err)
		o.logger.Error("query failed", zap.String("run_id", result.RunID), zap.Error(err))
		return "", &domain.ErrQuery{Err: err}
	}

	return NormalizeAnswer(answer), nil
}

// NormalizeAnswer trims the model's answer and maps empty or
// sentinel-like replies ("no enough information available to answer the
// query.") to the exact InsufficientInformation text.
func NormalizeAnswer(answer string) string {
	trimmed := strings.TrimSpace(answer)
	if trimmed == "" {
		return domain.InsufficientInformation
	}
	bare := strings.Trim(trimmed, " \t\r\n\"'`.")
	if strings.EqualFold(bare, domain.InsufficientInformation) {
		return domain.InsufficientInformation
	}
	return trimmed
}
