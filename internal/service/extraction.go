package service

import (
	"context"
	"time"

	"github.com/boddenberg/bill-expense-assistant/internal/domain"
	"github.com/boddenberg/bill-expense-assistant/internal/infra/imaging"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// extractAll runs extraction for every image with bounded concurrency.
// Reports are stored by image index, so the merge order is the upload
// order regardless of which call finishes first.
func (o *Orchestrator) extractAll(ctx context.Context, images []domain.BillImage, logger *zap.Logger) ([]domain.ExpenseReport, error) {
	reports := make([]domain.ExpenseReport, len(images))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.ExtractionConcurrency)

	for i, img := range images {
		i, img := i, img
		g.Go(func() error {
			report, err := o.extractBill(gCtx, i, img, logger)
			if err != nil {
				return err
			}
			reports[i] = *report
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

// extractBill encodes one image and asks the scanner for its ExpenseReport.
func (o *Orchestrator) extractBill(ctx context.Context, index int, img domain.BillImage, logger *zap.Logger) (*domain.ExpenseReport, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.extractBill")
	defer span.End()
	span.SetAttributes(
		attribute.Int("bill.index", index),
		attribute.String("bill.name", img.Name),
		attribute.Int("bill.bytes", len(img.Data)),
	)

	fail := func(err error) (*domain.ExpenseReport, error) {
		err = asTimeout(err, "extract")
		span.RecordError(err)
		return nil, &domain.ErrExtraction{Index: index, Image: img.Name, Err: err}
	}

	// A sibling already failed: don't spend a call on this one.
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	url, format, err := imaging.EncodeDataURL(img.Data, o.opts.JPEGQuality, o.opts.MaxImagePixels)
	if err != nil {
		return fail(&domain.ErrValidation{Field: "image", Message: err.Error()})
	}
	span.SetAttributes(attribute.String("bill.format", format))

	start := time.Now()
	report, err := o.scanner.ScanBill(ctx, url)
	o.metrics.RecordStepDuration("extract", time.Since(start))
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("bill extraction failed",
				zap.Int("image_index", index),
				zap.String("image", img.Name),
				zap.Error(err),
			)
		}
		return fail(err)
	}

	if err := CheckReportTotal(*report, o.opts.TotalTolerance); err != nil {
		o.metrics.IncrTotalMismatch()
		logger.Warn("bill total does not match its expenses",
			zap.Int("image_index", index),
			zap.String("image", img.Name),
			zap.Error(err),
		)
		if o.opts.StrictTotals {
			return fail(err)
		}
	}

	logger.Debug("bill extracted",
		zap.Int("image_index", index),
		zap.String("image", img.Name),
		zap.Int("expenses", len(report.Expenses)),
	)
	return report, nil
}
