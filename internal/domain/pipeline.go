package domain

import "time"

// InsufficientInformation is returned verbatim when a query cannot be
// answered from the processed bills.
const InsufficientInformation = "No Enough Information available to answer the query"

// PipelineState is the lifecycle stage of an Orchestrator.
type PipelineState string

const (
	StateEmpty       PipelineState = "empty"
	StateExtracted   PipelineState = "extracted"
	StateCategorized PipelineState = "categorized"
	StateReady       PipelineState = "ready"
)

// BillImage is one uploaded bill photograph, still encoded as received.
type BillImage struct {
	Name string
	Data []byte
}

// PipelineResult is everything a successful processing run produced.
type PipelineResult struct {
	RunID       string                   `json:"run_id"`
	Images      int                      `json:"images"`
	Merged      ExpenseReport            `json:"merged_report"`
	Categorized CategorizedExpenseReport `json:"categorized_report"`
	Totals      CategoryTotals           `json:"category_totals"`
	ProcessedAt time.Time                `json:"processed_at"`
}

// QueryContext is the only information the query step may answer from.
type QueryContext struct {
	Expenses              CategorizedExpenseReport `json:"expenses"`
	CategoryExpenseReport CategoryTotals           `json:"category_expense_report"`
}

// BillsProcessed is published after a run commits.
type BillsProcessed struct {
	SessionID      string         `json:"session_id"`
	RunID          string         `json:"run_id"`
	Images         int            `json:"images"`
	Expenses       int            `json:"expenses"`
	TotalSpent     float64        `json:"total_spent"`
	CategoryTotals CategoryTotals `json:"category_totals"`
	ProcessedAt    time.Time      `json:"processed_at"`
}
