package domain

import "sort"

// ============================================================
// Expense schema
// ============================================================
//
// These types are the wire contract with the extraction and
// classification service: the JSON Schema sent as the structured
// response format is generated from the json/description tags below.

// Expense is one line item read from a bill.
type Expense struct {
	ExpenseID   int     `json:"expense_id" description:"Sequential identifier of the expense within the bill, starting at 1"`
	Date        string  `json:"date" description:"Date of the expense as printed on the bill"`
	Description string  `json:"description" description:"Item or service description"`
	Amount      float64 `json:"amount" description:"Amount paid for the item"`
}

// ExpenseReport is the structured result of extracting one bill.
// TotalSpent is the total printed on the bill; it is expected, not
// guaranteed, to equal the sum of Expenses.
type ExpenseReport struct {
	Expenses   []Expense `json:"expenses" description:"Every expense listed on the bill, in printed order"`
	TotalSpent float64   `json:"total_spent" description:"Total amount spent on the bill"`
}

// SumAmounts returns the arithmetic sum of the report's expense amounts.
func (r ExpenseReport) SumAmounts() float64 {
	var sum float64
	for _, e := range r.Expenses {
		sum += e.Amount
	}
	return sum
}

// CategorizedExpense is an Expense with a spending category attached.
type CategorizedExpense struct {
	ExpenseID   int     `json:"expense_id" description:"Identifier of the original expense"`
	Description string  `json:"description" description:"Item or service description"`
	Category    string  `json:"category" description:"Spending category, e.g. Groceries, Transport, Entertainment, Utilities, Miscellaneous, Shopping"`
	Amount      float64 `json:"amount" description:"Amount paid for the item"`
	Date        string  `json:"date" description:"Date of the expense"`
}

// CategorizedExpenseReport is the output of the categorization step.
type CategorizedExpenseReport struct {
	CategorizedExpenses []CategorizedExpense `json:"categorized_expenses" description:"One entry per input expense"`
}

// CategoryTotals maps a category label to the summed amount spent in it.
// Keys are compared byte for byte: "Food" and "food" are distinct.
type CategoryTotals map[string]float64

// CategoryAmount is one row of a sorted totals view.
type CategoryAmount struct {
	Category string  `json:"category"`
	Amount   float64 `json:"amount"`
}

// Sorted returns the totals ordered by amount (highest first), then by name.
func (t CategoryTotals) Sorted() []CategoryAmount {
	out := make([]CategoryAmount, 0, len(t))
	for c, a := range t {
		out = append(out, CategoryAmount{Category: c, Amount: a})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount != out[j].Amount {
			return out[i].Amount > out[j].Amount
		}
		return out[i].Category < out[j].Category
	})
	return out
}
