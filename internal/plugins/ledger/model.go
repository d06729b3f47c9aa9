// Package ledger stores and serves the TARMS transaction ledger. The whole
// ledger is one JSON array on disk; every mutation locks it, reads it,
// changes it and atomically replaces it. The service layer validates input
// and applies role policy before anything reaches the store.
package ledger

import (
	"math"
	"time"

	"github.com/jinzhu/now"
)

// Type classifies a transaction.
type Type string

const (
	TypeIncome     Type = "income"
	TypeExpense    Type = "expense"
	TypeAllocation Type = "allocation"
)

// Valid reports whether t is one of the three ledger types.
func (t Type) Valid() bool {
	switch t {
	case TypeIncome, TypeExpense, TypeAllocation:
		return true
	}
	return false
}

// Transaction is one ledger entry as stored on disk. Dates are kept as
// RFC 3339 strings with the ledger's zone offset so the file stays readable
// and stable across rewrites.
type Transaction struct {
	ID          string  `json:"id"`
	Type        Type    `json:"type"`
	Amount      float64 `json:"amount"`
	Person      string  `json:"person"`
	Description string  `json:"description"`
	TxDate      string  `json:"tx_date"`
	CreatedAt   string  `json:"created_at"`
}

// TxTime parses the stored transaction date. Entries written by other tools
// may use other layouts, so anything the free-form parser understands is
// accepted; ok is false when nothing does.
func (t Transaction) TxTime(loc *time.Location) (time.Time, bool) {
	return parseStored(t.TxDate, loc)
}

// Patch carries the mutable fields of a transaction. Update replaces all of
// them; id and created_at never change.
type Patch struct {
	Type        Type
	Amount      float64
	Person      string
	Description string
	TxDate      string
}

func (p Patch) apply(t *Transaction) {
	t.Type = p.Type
	t.Amount = p.Amount
	t.Person = p.Person
	t.Description = p.Description
	t.TxDate = p.TxDate
}

// Filter selects transactions. Zero fields do not constrain. From and To
// are inclusive instants; callers expand calendar days to 00:00:00 and
// 23:59:59 in the ledger zone.
type Filter struct {
	Query string
	Type  Type
	From  time.Time
	To    time.Time
}

// Page is one page of a filtered query. Page is the clamped page number
// actually served.
type Page struct {
	Items      []Transaction `json:"items"`
	Total      int           `json:"total"`
	TotalPages int           `json:"total_pages"`
	Page       int           `json:"page"`
	PerPage    int           `json:"per_page"`
}

// Totals sums amounts per type. Balance is income minus expense minus
// allocation.
type Totals struct {
	Income     float64 `json:"income"`
	Expense    float64 `json:"expense"`
	Allocation float64 `json:"allocation"`
	Balance    float64 `json:"balance"`
}

// Summarize computes totals over items. Sums are kept in integer cents so
// the reported figures carry no float drift.
func Summarize(items []Transaction) Totals {
	var income, expense, allocation int64
	for _, it := range items {
		switch it.Type {
		case TypeIncome:
			income += toCents(it.Amount)
		case TypeExpense:
			expense += toCents(it.Amount)
		case TypeAllocation:
			allocation += toCents(it.Amount)
		}
	}
	return Totals{
		Income:     fromCents(income),
		Expense:    fromCents(expense),
		Allocation: fromCents(allocation),
		Balance:    fromCents(income - expense - allocation),
	}
}

func toCents(amount float64) int64 { return int64(math.Round(amount * 100)) }

func fromCents(cents int64) float64 { return float64(cents) / 100 }

func parseStored(s string, loc *time.Location) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	t, err := now.ParseInLocation(loc, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
