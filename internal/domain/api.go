package domain

import "time"

// ============================================================
// HTTP API request/response bodies
// ============================================================

// SessionResponse is returned by POST /v1/sessions.
type SessionResponse struct {
	SessionID string    `json:"session_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ProcessBillsResponse is returned by POST /v1/bills and GET /v1/report.
type ProcessBillsResponse struct {
	RunID               string               `json:"run_id"`
	Images              int                  `json:"images"`
	CategorizedExpenses []CategorizedExpense `json:"categorized_expenses"`
	CategoryTotals      CategoryTotals       `json:"category_totals"`
	SortedTotals        []CategoryAmount     `json:"sorted_totals"`
	TotalSpent          float64              `json:"total_spent"`
	ProcessedAt         time.Time            `json:"processed_at"`
}

// NewProcessBillsResponse flattens a pipeline result for the API.
func NewProcessBillsResponse(r *PipelineResult) *ProcessBillsResponse {
	return &ProcessBillsResponse{
		RunID:               r.RunID,
		Images:              r.Images,
		CategorizedExpenses: r.Categorized.CategorizedExpenses,
		CategoryTotals:      r.Totals,
		SortedTotals:        r.Totals.Sorted(),
		TotalSpent:          r.Merged.TotalSpent,
		ProcessedAt:         r.ProcessedAt,
	}
}

// QueryRequest is the body of POST /v1/query.
type QueryRequest struct {
	Query string `json:"query"`
}

// QueryResponse is returned by POST /v1/query.
type QueryResponse struct {
	Answer string `json:"answer"`
}

// StateResponse is returned by GET /v1/state.
type StateResponse struct {
	State PipelineState `json:"state"`
}
