package ledger

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tarmsledger/tarms/internal/apperror"
	"github.com/tarmsledger/tarms/internal/plugins/access"
	"github.com/tarmsledger/tarms/internal/plugins/auth"
)

// DefaultPerPage is used when the requested page size is not one of
// PerPageOptions.
const DefaultPerPage = 15

// PerPageOptions lists the accepted page sizes.
var PerPageOptions = []int{5, 10, 15, 25, 50}

// idPrefix marks ledger ids.
const idPrefix = "t_"

// Amount is a submitted amount. It accepts a JSON number or a JSON string
// so a malformed value reaches validation instead of failing the bind.
type Amount string

// UnmarshalJSON implements json.Unmarshaler.
func (a *Amount) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*a = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = Amount(s)
		return nil
	}
	*a = Amount(b)
	return nil
}

// TransactionInput is a create or update submission.
type TransactionInput struct {
	Type        string `json:"type" form:"type"`
	Amount      Amount `json:"amount" form:"amount"`
	Person      string `json:"person" form:"person"`
	Description string `json:"description" form:"description"`
	TxDate      string `json:"tx_date" form:"tx_date"`
}

// ListQuery carries the list and export parameters.
type ListQuery struct {
	Q       string `query:"q" validate:"max=200"`
	Type    string `query:"type"`
	From    string `query:"from"`
	To      string `query:"to"`
	Page    int    `query:"page"`
	PerPage int    `query:"per_page"`
}

// ListResult is one page plus totals over the whole ledger.
type ListResult struct {
	Page
	Totals         Totals `json:"totals"`
	PerPageOptions []int  `json:"per_page_options"`
}

// Service validates ledger input, applies role policy, and delegates to
// the Store. Every method takes the caller's identity explicitly.
type Service interface {
	Create(ctx context.Context, who access.Identity, in TransactionInput) (Transaction, error)
	Update(ctx context.Context, who access.Identity, id string, in TransactionInput) (Transaction, error)
	Delete(ctx context.Context, who access.Identity, id string) (bool, error)
	List(ctx context.Context, who access.Identity, q ListQuery) (ListResult, error)
	Export(ctx context.Context, who access.Identity, q ListQuery, w io.Writer) error
}

// ledgerService implements Service.
type ledgerService struct {
	store Store
	loc   *time.Location
	now   func() time.Time
	newID func() string
}

// NewService creates a ledger service. Dates are parsed and stamped in loc.
func NewService(store Store, loc *time.Location) Service {
	return &ledgerService{
		store: store,
		loc:   loc,
		now:   time.Now,
		newID: func() string { return idPrefix + uuid.NewString() },
	}
}

// Create validates and appends a new transaction. Any authenticated caller
// may create.
func (s *ledgerService) Create(ctx context.Context, who access.Identity, in TransactionInput) (Transaction, error) {
	if err := requireAuthenticated(who); err != nil {
		return Transaction{}, err
	}

	p, violations := s.validate(in)
	if len(violations) > 0 {
		return Transaction{}, apperror.NewValidation(violations...)
	}

	tx := Transaction{
		ID:          s.newID(),
		Type:        p.Type,
		Amount:      p.Amount,
		Person:      p.Person,
		Description: p.Description,
		TxDate:      p.TxDate,
		CreatedAt:   s.now().In(s.loc).Format(time.RFC3339),
	}
	if err := s.store.Append(ctx, tx); err != nil {
		return Transaction{}, err
	}

	slog.Info("transaction created",
		slog.String("id", tx.ID),
		slog.String("type", string(tx.Type)),
		slog.Int64("user_id", who.UserID),
	)
	return tx, nil
}

// Update replaces the mutable fields of a transaction. Admin only; the role
// check runs before validation.
func (s *ledgerService) Update(ctx context.Context, who access.Identity, id string, in TransactionInput) (Transaction, error) {
	if err := requireAdmin(who); err != nil {
		return Transaction{}, err
	}

	var violations []string
	if strings.TrimSpace(id) == "" {
		violations = append(violations, "Missing transaction id.")
	}
	p, more := s.validate(in)
	violations = append(violations, more...)
	if len(violations) > 0 {
		return Transaction{}, apperror.NewValidation(violations...)
	}

	tx, err := s.store.UpdateByID(ctx, id, p)
	if err != nil {
		return Transaction{}, err
	}

	slog.Info("transaction updated",
		slog.String("id", id),
		slog.Int64("user_id", who.UserID),
	)
	return tx, nil
}

// Delete removes a transaction. Admin only. Deleting a missing id succeeds
// and reports false.
func (s *ledgerService) Delete(ctx context.Context, who access.Identity, id string) (bool, error) {
	if err := requireAdmin(who); err != nil {
		return false, err
	}
	if strings.TrimSpace(id) == "" {
		return false, apperror.NewValidation("Missing transaction id.")
	}

	removed, err := s.store.DeleteByID(ctx, id)
	if err != nil {
		return false, err
	}

	if removed {
		slog.Info("transaction deleted",
			slog.String("id", id),
			slog.Int64("user_id", who.UserID),
		)
	}
	return removed, nil
}

// List returns one page of filtered transactions and the ledger-wide totals.
func (s *ledgerService) List(ctx context.Context, who access.Identity, q ListQuery) (ListResult, error) {
	if err := requireAuthenticated(who); err != nil {
		return ListResult{}, err
	}

	f, err := s.filter(q)
	if err != nil {
		return ListResult{}, err
	}

	page, err := s.store.Query(ctx, f, max(1, q.Page), NormalizePerPage(q.PerPage))
	if err != nil {
		return ListResult{}, err
	}

	totals, err := s.store.Totals(ctx)
	if err != nil {
		return ListResult{}, err
	}

	return ListResult{Page: page, Totals: totals, PerPageOptions: PerPageOptions}, nil
}

// Export writes the filtered ledger as CSV. Paging parameters are ignored.
func (s *ledgerService) Export(ctx context.Context, who access.Identity, q ListQuery, w io.Writer) error {
	if err := requireAuthenticated(who); err != nil {
		return err
	}

	f, err := s.filter(q)
	if err != nil {
		return err
	}
	return s.store.ExportCSV(ctx, f, w)
}

// NormalizePerPage maps any unsupported page size to DefaultPerPage.
func NormalizePerPage(n int) int {
	if slices.Contains(PerPageOptions, n) {
		return n
	}
	return DefaultPerPage
}

// ExportFilename is the suggested download name for an export made at t.
func ExportFilename(t time.Time) string {
	return "tarms_" + t.Format("20060102_150405") + ".csv"
}

// validate collects every violation in a fixed order: type, amount, person,
// description, date. The first violation becomes the error message.
func (s *ledgerService) validate(in TransactionInput) (Patch, []string) {
	var violations []string
	p := Patch{
		Type:        Type(strings.TrimSpace(in.Type)),
		Person:      strings.TrimSpace(in.Person),
		Description: strings.TrimSpace(in.Description),
	}

	if !p.Type.Valid() {
		violations = append(violations, "Invalid transaction type.")
	}

	amount, err := strconv.ParseFloat(strings.TrimSpace(string(in.Amount)), 64)
	if err != nil || math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		violations = append(violations, "Amount must be greater than zero.")
	} else {
		p.Amount = amount
	}

	if p.Person == "" {
		violations = append(violations, "Person name is required.")
	}
	if p.Description == "" {
		violations = append(violations, "Description is required.")
	}

	when, err := ParseTxDate(in.TxDate, s.loc, s.now())
	if err != nil {
		violations = append(violations, "Transaction date is invalid.")
	} else {
		p.TxDate = when.Format(time.RFC3339)
	}

	return p, violations
}

// filter turns list parameters into a store Filter, expanding day bounds in
// the ledger zone.
func (s *ledgerService) filter(q ListQuery) (Filter, error) {
	f := Filter{
		Query: strings.TrimSpace(q.Q),
		Type:  Type(strings.TrimSpace(q.Type)),
	}

	var violations []string
	if from := strings.TrimSpace(q.From); from != "" {
		t, err := DayStart(from, s.loc)
		if err != nil {
			violations = append(violations, "From date is invalid.")
		}
		f.From = t
	}
	if to := strings.TrimSpace(q.To); to != "" {
		t, err := DayEnd(to, s.loc)
		if err != nil {
			violations = append(violations, "To date is invalid.")
		}
		f.To = t
	}
	if len(violations) > 0 {
		return Filter{}, apperror.NewValidation(violations...)
	}
	return f, nil
}

func requireAuthenticated(who access.Identity) error {
	if who.UserID == 0 {
		return apperror.NewUnauthorized("Authentication required")
	}
	return nil
}

func requireAdmin(who access.Identity) error {
	if err := requireAuthenticated(who); err != nil {
		return err
	}
	return access.RequireRole(who, auth.RoleAdmin)
}
