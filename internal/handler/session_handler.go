package handler

import (
	"net/http"

	"github.com/boddenberg/bill-expense-assistant/internal/domain"
	"github.com/boddenberg/bill-expense-assistant/internal/service"

	"go.uber.org/zap"
)

// ============================================================
// Sessions: POST /v1/sessions, POST /v1/session/refresh, DELETE /v1/session
// ============================================================

func createSessionHandler(sessions *service.SessionManager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/sessions")
		defer span.End()

		resp, err := sessions.Create(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

func refreshSessionHandler(sessions *service.SessionManager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/session/refresh")
		defer span.End()

		resp, err := sessions.Refresh(ctx, SessionIDFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func endSessionHandler(sessions *service.SessionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/session")
		defer span.End()

		sessions.End(ctx, SessionIDFromContext(ctx))
		w.WriteHeader(http.StatusNoContent)
	}
}

func stateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orch := orchestratorFromContext(r.Context())
		writeJSON(w, http.StatusOK, domain.StateResponse{State: orch.State()})
	}
}
