// Command billscan runs the bill pipeline once over image files on disk.
//
// Usage:
//
//	billscan [-q question] [-csv out.csv] [-concurrency N] image...
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/boddenberg/bill-expense-assistant/internal/config"
	"github.com/boddenberg/bill-expense-assistant/internal/domain"
	"github.com/boddenberg/bill-expense-assistant/internal/infra/client"
	"github.com/boddenberg/bill-expense-assistant/internal/infra/export"
	"github.com/boddenberg/bill-expense-assistant/internal/infra/observability"
	"github.com/boddenberg/bill-expense-assistant/internal/infra/resilience"
	"github.com/boddenberg/bill-expense-assistant/internal/service"

	"go.uber.org/zap"
)

func main() {
	question := flag.String("q", "", "question to answer about the processed bills")
	csvPath := flag.String("csv", "", "write the categorized expenses to this CSV file")
	concurrency := flag.Int("concurrency", 0, "maximum concurrent extractions (default EXTRACTION_CONCURRENCY)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: billscan [-q question] [-csv out.csv] [-concurrency N] image...\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*question, *csvPath, *concurrency, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "billscan: %v\n", err)
		os.Exit(1)
	}
}

func run(question, csvPath string, concurrency int, paths []string) error {
	dotenvErr := config.LoadDotEnv()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if concurrency > 0 {
		cfg.ExtractionConcurrency = concurrency
	}

	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()
	warnDotEnv(logger, dotenvErr)

	images, err := readImages(paths)
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	llm, err := client.NewLLMClient(&http.Client{Timeout: cfg.HTTPTimeout}, client.Config{
		APIKey:       cfg.OpenAIAPIKey,
		Organization: cfg.OpenAIOrganization,
		BaseURL:      cfg.OpenAIBaseURL,
		Model:        cfg.OpenAIModel,
		CallTimeout:  cfg.LLMTimeout,
	},
		resilience.NewCircuitBreaker("openai", logger),
		resilience.Config{MaxRetries: cfg.MaxRetries, InitialBackoff: cfg.InitialBackoff, MaxConcurrency: cfg.MaxConcurrency},
		resilience.NewBulkhead(cfg.MaxConcurrency),
		metrics,
		logger,
	)
	if err != nil {
		return err
	}

	orch := service.NewOrchestrator(llm, llm, llm, nil, service.Options{
		SessionID:             "cli",
		ExtractionConcurrency: cfg.ExtractionConcurrency,
		StrictTotals:          cfg.StrictTotals,
		TotalTolerance:        cfg.TotalTolerance,
		PipelineTimeout:       cfg.PipelineTimeout,
		JPEGQuality:           cfg.JPEGQuality,
		MaxImagePixels:        cfg.MaxImagePixels,
	}, metrics, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := orch.ProcessImages(ctx, images)
	if err != nil {
		return err
	}
	if err := printResult(os.Stdout, result); err != nil {
		return err
	}

	if csvPath != "" {
		if err := writeCSVFile(csvPath, result.Categorized); err != nil {
			return err
		}
		logger.Info("csv export written", zap.String("path", csvPath))
	}

	if question != "" {
		answer, err := orch.AnswerQuery(ctx, question)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "\nQ: %s\nA: %s\n", question, answer)
	}

	snap := metrics.GetLLMSnapshot()
	logger.Info("llm usage",
		zap.Int64("calls", snap.TotalCalls),
		zap.Int64("prompt_tokens", snap.PromptTokens),
		zap.Int64("completion_tokens", snap.CompletionTokens),
		zap.Float64("estimated_cost_usd", snap.EstimatedCostUsd),
	)
	return nil
}

// warnDotEnv logs a .env file that exists but could not be loaded.
func warnDotEnv(logger *zap.Logger, err error) {
	if err != nil {
		logger.Warn("failed to load .env file", zap.Error(err))
	}
}

func readImages(paths []string) ([]domain.BillImage, error) {
	images := make([]domain.BillImage, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		images = append(images, domain.BillImage{Name: filepath.Base(p), Data: data})
	}
	return images, nil
}

func printResult(w io.Writer, result *domain.PipelineResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tDESCRIPTION\tCATEGORY\tAMOUNT")
	for _, e := range result.Categorized.CategorizedExpenses {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\n", e.Date, e.Description, e.Category, e.Amount)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "CATEGORY\tTOTAL\t\t")
	for _, c := range result.Totals.Sorted() {
		fmt.Fprintf(tw, "%s\t%.2f\t\t\n", c.Category, c.Amount)
	}
	fmt.Fprintf(tw, "(bills total)\t%.2f\t\t\n", result.Merged.TotalSpent)
	return tw.Flush()
}

func writeCSVFile(path string, report domain.CategorizedExpenseReport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := export.WriteCSV(f, report); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
