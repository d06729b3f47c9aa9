package ledger

import (
	"encoding/csv"
	"io"
	"strconv"
)

// csvHeader is the column order of exported rows.
var csvHeader = []string{"id", "type", "amount", "person", "description", "tx_date", "created_at"}

// writeCSV writes a five-line summary (a title and four totals), a blank
// line, the header row, and one row per transaction.
func writeCSV(w io.Writer, items []Transaction) error {
	cw := csv.NewWriter(w)
	totals := Summarize(items)

	summary := [][]string{
		{"Summary"},
		{"Total income", formatAmount(totals.Income)},
		{"Total expense", formatAmount(totals.Expense)},
		{"Total allocation", formatAmount(totals.Allocation)},
		{"Balance", formatAmount(totals.Balance)},
		{},
		csvHeader,
	}
	if err := cw.WriteAll(summary); err != nil {
		return err
	}

	for _, it := range items {
		err := cw.Write([]string{
			it.ID,
			string(it.Type),
			formatAmount(it.Amount),
			it.Person,
			it.Description,
			it.TxDate,
			it.CreatedAt,
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// formatAmount renders a fixed two-decimal amount.
func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
