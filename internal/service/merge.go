package service

import "github.com/boddenberg/bill-expense-assistant/internal/domain"

// MergeReports concatenates the expenses of reports in argument order and
// sums their total_spent values as reported upstream. Zero reports yield an
// empty report with a zero total.
func MergeReports(reports ...domain.ExpenseReport) domain.ExpenseReport {
	n := 0
	for _, r := range reports {
		n += len(r.Expenses)
	}

	merged := domain.ExpenseReport{Expenses: make([]domain.Expense, 0, n)}
	for _, r := range reports {
		merged.Expenses = append(merged.Expenses, r.Expenses...)
		merged.TotalSpent += r.TotalSpent
	}
	return merged
}
