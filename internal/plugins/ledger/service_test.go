package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/tarmsledger/tarms/internal/apperror"
	"github.com/tarmsledger/tarms/internal/plugins/access"
	"github.com/tarmsledger/tarms/internal/plugins/auth"
)

// --- Mock Store ---

// mockStore implements Store for testing.
type mockStore struct {
	appendFn     func(ctx context.Context, tx Transaction) error
	updateByIDFn func(ctx context.Context, id string, p Patch) (Transaction, error)
	deleteByIDFn func(ctx context.Context, id string) (bool, error)
	queryFn      func(ctx context.Context, f Filter, page, perPage int) (Page, error)
	exportCSVFn  func(ctx context.Context, f Filter, w io.Writer) error
	totalsFn     func(ctx context.Context) (Totals, error)
}

func (m *mockStore) Append(ctx context.Context, tx Transaction) error {
	if m.appendFn != nil {
		return m.appendFn(ctx, tx)
	}
	return nil
}

func (m *mockStore) UpdateByID(ctx context.Context, id string, p Patch) (Transaction, error) {
	if m.updateByIDFn != nil {
		return m.updateByIDFn(ctx, id, p)
	}
	return Transaction{ID: id}, nil
}

func (m *mockStore) DeleteByID(ctx context.Context, id string) (bool, error) {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return true, nil
}

func (m *mockStore) Query(ctx context.Context, f Filter, page, perPage int) (Page, error) {
	if m.queryFn != nil {
		return m.queryFn(ctx, f, page, perPage)
	}
	return Page{Page: page, PerPage: perPage}, nil
}

func (m *mockStore) ExportCSV(ctx context.Context, f Filter, w io.Writer) error {
	if m.exportCSVFn != nil {
		return m.exportCSVFn(ctx, f, w)
	}
	return nil
}

func (m *mockStore) Totals(ctx context.Context) (Totals, error) {
	if m.totalsFn != nil {
		return m.totalsFn(ctx)
	}
	return Totals{}, nil
}

// --- Test Helpers ---

var (
	clerk  = access.Identity{UserID: 2, Username: "clerk", Role: auth.RoleUser}
	admin  = access.Identity{UserID: 1, Username: "admin", Role: auth.RoleAdmin}
	nobody = access.Identity{}
)

func newTestService(store *mockStore) *ledgerService {
	return &ledgerService{
		store: store,
		loc:   manila,
		now:   func() time.Time { return time.Date(2026, 4, 1, 2, 0, 0, 0, time.UTC) },
		newID: func() string { return "t_fixed" },
	}
}

func validInput() TransactionInput {
	return TransactionInput{
		Type:        "expense",
		Amount:      "125.50",
		Person:      " Jose ",
		Description: "Water bill",
		TxDate:      "2026-03-31T18:45",
	}
}

func assertAppError(t *testing.T, err error, expectedType string) *apperror.AppError {
	t.Helper()
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *apperror.AppError, got %T: %v", err, err)
	}
	if appErr.Type != expectedType {
		t.Errorf("expected type %s, got %s (message: %s)", expectedType, appErr.Type, appErr.Message)
	}
	return appErr
}

// --- Create Tests ---

func TestCreate_Success(t *testing.T) {
	var stored Transaction
	store := &mockStore{
		appendFn: func(ctx context.Context, tx Transaction) error {
			stored = tx
			return nil
		},
	}

	svc := newTestService(store)
	tx, err := svc.Create(context.Background(), clerk, validInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stored.ID != "t_fixed" || tx.ID != "t_fixed" {
		t.Errorf("expected generated id, got %q", stored.ID)
	}
	if stored.Person != "Jose" {
		t.Errorf("expected trimmed person, got %q", stored.Person)
	}
	if stored.Amount != 125.5 {
		t.Errorf("expected amount 125.5, got %v", stored.Amount)
	}
	if stored.TxDate != "2026-03-31T18:45:00+08:00" {
		t.Errorf("unexpected tx_date %q", stored.TxDate)
	}
	if stored.CreatedAt != "2026-04-01T10:00:00+08:00" {
		t.Errorf("unexpected created_at %q", stored.CreatedAt)
	}
}

func TestCreate_DefaultsDateToNow(t *testing.T) {
	var stored Transaction
	store := &mockStore{appendFn: func(ctx context.Context, tx Transaction) error { stored = tx; return nil }}

	in := validInput()
	in.TxDate = ""
	if _, err := newTestService(store).Create(context.Background(), clerk, in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.TxDate != "2026-04-01T10:00:00+08:00" {
		t.Errorf("expected now in Manila, got %q", stored.TxDate)
	}
}

func TestCreate_RequiresIdentity(t *testing.T) {
	store := &mockStore{appendFn: func(ctx context.Context, tx Transaction) error {
		t.Error("store must not be called")
		return nil
	}}

	_, err := newTestService(store).Create(context.Background(), nobody, validInput())
	assertAppError(t, err, apperror.TypeUnauthorized)
}

func TestCreate_ValidationOrder(t *testing.T) {
	store := &mockStore{appendFn: func(ctx context.Context, tx Transaction) error {
		t.Error("store must not be called")
		return nil
	}}

	_, err := newTestService(store).Create(context.Background(), clerk, TransactionInput{
		Type:   "gift",
		Amount: "-3",
		TxDate: "sometime",
	})
	appErr := assertAppError(t, err, apperror.TypeValidation)

	want := []string{
		"Invalid transaction type.",
		"Amount must be greater than zero.",
		"Person name is required.",
		"Description is required.",
		"Transaction date is invalid.",
	}
	if strings.Join(appErr.Violations, "|") != strings.Join(want, "|") {
		t.Errorf("violations mismatch\n got: %v\nwant: %v", appErr.Violations, want)
	}
	if appErr.Message != want[0] {
		t.Errorf("expected first violation as message, got %q", appErr.Message)
	}
}

func TestCreate_RejectsBadAmounts(t *testing.T) {
	for _, amount := range []Amount{"", "0", "abc", "NaN", "Inf", "-0.01"} {
		in := validInput()
		in.Amount = amount
		_, err := newTestService(&mockStore{}).Create(context.Background(), clerk, in)
		appErr := assertAppError(t, err, apperror.TypeValidation)
		if appErr.Message != "Amount must be greater than zero." {
			t.Errorf("amount %q: unexpected message %q", amount, appErr.Message)
		}
	}
}

func TestAmount_UnmarshalJSON(t *testing.T) {
	var in TransactionInput
	if err := json.Unmarshal([]byte(`{"amount": 12.5}`), &in); err != nil {
		t.Fatalf("number: %v", err)
	}
	if in.Amount != "12.5" {
		t.Errorf("expected 12.5, got %q", in.Amount)
	}
	if err := json.Unmarshal([]byte(`{"amount": "7"}`), &in); err != nil {
		t.Fatalf("string: %v", err)
	}
	if in.Amount != "7" {
		t.Errorf("expected 7, got %q", in.Amount)
	}
	if err := json.Unmarshal([]byte(`{"amount": null}`), &in); err != nil {
		t.Fatalf("null: %v", err)
	}
	if in.Amount != "" {
		t.Errorf("expected empty, got %q", in.Amount)
	}
}

func TestCreate_StorageErrorPassesThrough(t *testing.T) {
	store := &mockStore{appendFn: func(ctx context.Context, tx Transaction) error {
		return apperror.NewStorage(ErrLockTimeout)
	}}

	_, err := newTestService(store).Create(context.Background(), clerk, validInput())
	assertAppError(t, err, apperror.TypeStorage)
}

// --- Update / Delete Tests ---

func TestUpdate_NonAdminDeniedBeforeValidation(t *testing.T) {
	store := &mockStore{updateByIDFn: func(ctx context.Context, id string, p Patch) (Transaction, error) {
		t.Error("store must not be called")
		return Transaction{}, nil
	}}

	_, err := newTestService(store).Update(context.Background(), clerk, "t_1", TransactionInput{})
	assertAppError(t, err, apperror.TypeForbidden)
}

func TestUpdate_MissingIDIsFirstViolation(t *testing.T) {
	_, err := newTestService(&mockStore{}).Update(context.Background(), admin, "", validInput())
	appErr := assertAppError(t, err, apperror.TypeValidation)
	if appErr.Message != "Missing transaction id." {
		t.Errorf("unexpected message %q", appErr.Message)
	}
}

func TestUpdate_Admin(t *testing.T) {
	var gotID string
	var gotPatch Patch
	store := &mockStore{updateByIDFn: func(ctx context.Context, id string, p Patch) (Transaction, error) {
		gotID, gotPatch = id, p
		return Transaction{ID: id, Type: p.Type}, nil
	}}

	tx, err := newTestService(store).Update(context.Background(), admin, "t_9", validInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotID != "t_9" || tx.ID != "t_9" {
		t.Errorf("unexpected id %q", gotID)
	}
	if gotPatch.Type != TypeExpense || gotPatch.Amount != 125.5 {
		t.Errorf("unexpected patch %+v", gotPatch)
	}
}

func TestUpdate_NotFoundPassesThrough(t *testing.T) {
	store := &mockStore{updateByIDFn: func(ctx context.Context, id string, p Patch) (Transaction, error) {
		return Transaction{}, apperror.NewNotFound("Transaction not found.")
	}}

	_, err := newTestService(store).Update(context.Background(), admin, "t_x", validInput())
	assertAppError(t, err, apperror.TypeNotFound)
}

func TestDelete_Policy(t *testing.T) {
	calls := 0
	store := &mockStore{deleteByIDFn: func(ctx context.Context, id string) (bool, error) {
		calls++
		return false, nil
	}}
	svc := newTestService(store)

	_, err := svc.Delete(context.Background(), clerk, "t_1")
	assertAppError(t, err, apperror.TypeForbidden)

	_, err = svc.Delete(context.Background(), nobody, "t_1")
	assertAppError(t, err, apperror.TypeUnauthorized)

	removed, err := svc.Delete(context.Background(), admin, "t_missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed {
		t.Error("expected removed=false for a missing id")
	}
	if calls != 1 {
		t.Errorf("expected exactly one store call, got %d", calls)
	}
}

// --- List / Export Tests ---

func TestList_NormalizesPagingAndBounds(t *testing.T) {
	store := &mockStore{
		queryFn: func(ctx context.Context, f Filter, page, perPage int) (Page, error) {
			if page != 1 {
				t.Errorf("expected page 1, got %d", page)
			}
			if perPage != DefaultPerPage {
				t.Errorf("expected per page %d, got %d", DefaultPerPage, perPage)
			}
			if f.From.Format(time.RFC3339) != "2026-01-01T00:00:00+08:00" {
				t.Errorf("unexpected from %s", f.From)
			}
			if f.To.Format(time.RFC3339) != "2026-01-31T23:59:59+08:00" {
				t.Errorf("unexpected to %s", f.To)
			}
			if f.Type != TypeIncome || f.Query != "rent" {
				t.Errorf("unexpected filter %+v", f)
			}
			return Page{Page: 1, PerPage: perPage}, nil
		},
		totalsFn: func(ctx context.Context) (Totals, error) {
			return Totals{Income: 10, Balance: 10}, nil
		},
	}

	res, err := newTestService(store).List(context.Background(), clerk, ListQuery{
		Q: " rent ", Type: "income", From: "2026-01-01", To: "2026-01-31", Page: 0, PerPage: 7,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Totals.Income != 10 {
		t.Errorf("expected totals to be included, got %+v", res.Totals)
	}
	if len(res.PerPageOptions) != 5 {
		t.Errorf("expected per page options, got %v", res.PerPageOptions)
	}
}

func TestList_BadBounds(t *testing.T) {
	_, err := newTestService(&mockStore{}).List(context.Background(), clerk, ListQuery{From: "soon", To: "later"})
	appErr := assertAppError(t, err, apperror.TypeValidation)
	if len(appErr.Violations) != 2 {
		t.Errorf("expected 2 violations, got %v", appErr.Violations)
	}
}

func TestExport_RequiresIdentity(t *testing.T) {
	err := newTestService(&mockStore{}).Export(context.Background(), nobody, ListQuery{}, io.Discard)
	assertAppError(t, err, apperror.TypeUnauthorized)
}

func TestNormalizePerPage(t *testing.T) {
	for in, want := range map[int]int{5: 5, 10: 10, 15: 15, 25: 25, 50: 50, 0: 15, 7: 15, 1000: 15} {
		if got := NormalizePerPage(in); got != want {
			t.Errorf("NormalizePerPage(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestExportFilename(t *testing.T) {
	got := ExportFilename(time.Date(2026, 2, 3, 4, 5, 6, 0, manila))
	if got != "tarms_20260203_040506.csv" {
		t.Errorf("unexpected filename %q", got)
	}
}
