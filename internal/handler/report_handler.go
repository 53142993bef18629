package handler

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/boddenberg/bill-expense-assistant/internal/domain"
	"github.com/boddenberg/bill-expense-assistant/internal/infra/export"

	"go.uber.org/zap"
)

// ============================================================
// Report: GET /v1/report, GET /v1/report/export.csv
// ============================================================

func reportHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := orchestratorFromContext(r.Context()).Result()
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.NewProcessBillsResponse(result))
	}
}

func reportCSVHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "GET /v1/report/export.csv")
		defer span.End()

		result, err := orchestratorFromContext(r.Context()).Result()
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		var buf bytes.Buffer
		if err := export.WriteCSV(&buf, result.Categorized); err != nil {
			handleServiceError(w, fmt.Errorf("export csv: %w", err), logger)
			return
		}

		w.Header().Set("Content-Type", export.CSVContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "expenses-"+result.RunID+".csv"))
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes())
	}
}
