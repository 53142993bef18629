package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/boddenberg/bill-expense-assistant/internal/domain"

	"go.uber.org/zap"
)

// ============================================================
// Shared helper functions
// ============================================================

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// handleServiceError maps domain errors to HTTP responses.
// Step errors (extraction, categorization, query) come from upstream and
// map to 502 unless they carry a more specific cause.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var notReady *domain.ErrNotReady
	var unauthorized *domain.ErrUnauthorized
	var notFound *domain.ErrNotFound
	var circuitOpen *domain.ErrCircuitOpen
	var timeout *domain.ErrTimeout
	var extraction *domain.ErrExtraction
	var categorization *domain.ErrCategorization
	var query *domain.ErrQuery
	var validation *domain.ErrValidation

	switch {
	case errors.As(err, &notReady):
		logger.Debug("pipeline not ready", zap.String("state", string(notReady.State)))
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &unauthorized):
		logger.Warn("unauthorized", zap.String("error", err.Error()))
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &circuitOpen):
		logger.Error("circuit breaker open", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &timeout):
		logger.Error("request timeout", zap.Error(err))
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.As(err, &extraction) && errors.As(err, &validation) && validation.Field == "image":
		logger.Debug("undecodable image", zap.String("image", extraction.Image))
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &extraction), errors.As(err, &categorization), errors.As(err, &query):
		logger.Error("pipeline step failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
