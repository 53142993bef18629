package service

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/boddenberg/bill-expense-assistant/internal/domain"
)

// CheckReportTotal fails when a report's printed total differs from the sum
// of its expense amounts by more than tolerance.
func CheckReportTotal(r domain.ExpenseReport, tolerance float64) error {
	sum := r.SumAmounts()
	if math.Abs(sum-r.TotalSpent) > tolerance {
		return &domain.ErrValidation{
			Field:   "total_spent",
			Message: fmt.Sprintf("total_spent %.2f does not match the sum of expenses %.2f", r.TotalSpent, sum),
		}
	}
	return nil
}

// ValidateCoverage checks that categorized holds every expense_id of
// expenses exactly as many times as it appears there, and nothing else.
// Ids repeat across bills in a merged report, hence the counting.
func ValidateCoverage(expenses []domain.Expense, categorized []domain.CategorizedExpense) error {
	want := make(map[int]int, len(expenses))
	for _, e := range expenses {
		want[e.ExpenseID]++
	}
	got := make(map[int]int, len(categorized))
	for _, c := range categorized {
		got[c.ExpenseID]++
	}

	var problems []string
	for _, id := range sortedKeys(want, got) {
		w, g := want[id], got[id]
		switch {
		case w == 0:
			problems = append(problems, fmt.Sprintf("unknown expense_id %d", id))
		case g < w:
			problems = append(problems, fmt.Sprintf("expense_id %d missing (%d of %d)", id, g, w))
		case g > w:
			problems = append(problems, fmt.Sprintf("expense_id %d duplicated (%d of %d)", id, g, w))
		}
	}

	if len(problems) > 0 {
		return &domain.ErrValidation{
			Field:   "categorized_expenses",
			Message: strings.Join(problems, "; "),
		}
	}
	return nil
}

func sortedKeys(maps ...map[int]int) []int {
	seen := make(map[int]struct{})
	var keys []int
	for _, m := range maps {
		for k := range m {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				keys = append(keys, k)
			}
		}
	}
	sort.Ints(keys)
	return keys
}
