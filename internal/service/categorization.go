package service

import (
	"context"
	"time"

	"github.com/boddenberg/bill-expense-assistant/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// categorize labels the merged expenses and checks that every expense came
// back. An empty list is categorized locally without a call.
func (o *Orchestrator) categorize(ctx context.Context, expenses []domain.Expense, logger *zap.Logger) (*domain.CategorizedExpenseReport, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.categorize")
	defer span.End()
	span.SetAttributes(attribute.Int("expenses.count", len(expenses)))

	if len(expenses) == 0 {
		return &domain.CategorizedExpenseReport{CategorizedExpenses: []domain.CategorizedExpense{}}, nil
	}

	start := time.Now()
	report, err := o.categorizer.CategorizeExpenses(ctx, expenses)
	o.metrics.RecordStepDuration("categorize", time.Since(start))
	if err != nil {
		err = asTimeout(err, "categorize")
		span.RecordError(err)
		return nil, &domain.ErrCategorization{Err: err}
	}

	if err := ValidateCoverage(expenses, report.CategorizedExpenses); err != nil {
		span.RecordError(err)
		logger.Warn("categorization does not cover the submitted expenses",
			zap.Int("submitted", len(expenses)),
			zap.Int("returned", len(report.CategorizedExpenses)),
			zap.Error(err),
		)
		return nil, &domain.ErrCategorization{Err: err}
	}

	return report, nil
}
