package service

import "github.com/boddenberg/bill-expense-assistant/internal/domain"

// AggregateByCategory sums amounts per category. Category labels are used
// as-is, so "Food" and "food" are separate keys.
func AggregateByCategory(expenses []domain.CategorizedExpense) domain.CategoryTotals {
	totals := make(domain.CategoryTotals)
	for _, e := range expenses {
		totals[e.Category] += e.Amount
	}
	return totals
}
