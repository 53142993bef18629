// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the service
// layer from the LLM provider, the message broker and the session store.
package port

import (
	"context"

	"github.com/boddenberg/bill-expense-assistant/internal/domain"
)

// BillScanner turns one encoded bill image (a data URL) into an ExpenseReport.
type BillScanner interface {
	ScanBill(ctx context.Context, imageURL string) (*domain.ExpenseReport, error)
}

// ExpenseCategorizer assigns a category to every expense.
type ExpenseCategorizer interface {
	CategorizeExpenses(ctx context.Context, expenses []domain.Expense) (*domain.CategorizedExpenseReport, error)
}

// QueryAnswerer answers a free-text question strictly from the given context.
// An empty answer means the model produced no usable text.
type QueryAnswerer interface {
	AnswerQuery(ctx context.Context, query string, qc *domain.QueryContext) (string, error)
}

// ReportPublisher announces committed processing runs.
type ReportPublisher interface {
	PublishBillsProcessed(ctx context.Context, evt *domain.BillsProcessed) error
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Touch(key string) bool
	Delete(key string)
	Len() int
}
