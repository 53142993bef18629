package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/boddenberg/bill-expense-assistant/internal/domain"

	"go.uber.org/zap"
)

// maxQueryBytes bounds the JSON body of a query request.
const maxQueryBytes int64 = 64 << 10

// ============================================================
// Query: POST /v1/query
// ============================================================

func queryHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/query")
		defer span.End()

		r.Body = http.MaxBytesReader(w, r.Body, maxQueryBytes)

		var req domain.QueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
				return
			}
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		answer, err := orchestratorFromContext(ctx).AnswerQuery(ctx, req.Query)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.QueryResponse{Answer: answer})
	}
}
