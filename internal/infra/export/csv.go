// Package export renders processed bills as downloadable files.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/boddenberg/bill-expense-assistant/internal/domain"
)

// CSVContentType is the MIME type of WriteCSV's output.
const CSVContentType = "text/csv; charset=utf-8"

var csvHeader = []string{"Expense ID", "Date", "Description", "Category", "Amount"}

// WriteCSV writes one row per categorized expense, in report order.
// The Expense ID column is the 1-based row number: expense ids restart
// on every bill, so they are not unique across a merged report.
func WriteCSV(w io.Writer, report domain.CategorizedExpenseReport) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for i, e := range report.CategorizedExpenses {
		row := []string{
			strconv.Itoa(i + 1),
			e.Date,
			e.Description,
			e.Category,
			strconv.FormatFloat(e.Amount, 'f', 2, 64),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %d: %w", i+1, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
