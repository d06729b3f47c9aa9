package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/tarmsledger/tarms/internal/apperror"
	"github.com/tarmsledger/tarms/internal/config"
	"github.com/tarmsledger/tarms/internal/database"
	"github.com/tarmsledger/tarms/internal/plugins/auth"
	"github.com/tarmsledger/tarms/internal/plugins/ledger"
	"github.com/tarmsledger/tarms/internal/plugins/session"
)

const password = "Secret123"

type testEnv struct {
	app   *App
	users auth.AuthService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cfg := &config.Config{
		Env:            "test",
		RequestTimeout: 5 * time.Second,
		TrustedProxies: []string{"127.0.0.1/8"},
		Auth: config.AuthConfig{
			SessionTTL: time.Hour,
			BcryptCost: bcrypt.MinCost,
		},
		Ledger: config.LedgerConfig{
			File:        filepath.Join(t.TempDir(), "transactions.json"),
			LockTimeout: time.Second,
			Timezone:    "UTC",
		},
	}
	loc, err := cfg.Ledger.Location()
	require.NoError(t, err)

	store := ledger.NewFileStore(cfg.Ledger.File, cfg.Ledger.LockTimeout, loc)
	a, err := New(cfg, db, rdb, store)
	require.NoError(t, err)
	require.NoError(t, a.RegisterRoutes())

	return &testEnv{
		app:   a,
		users: auth.NewAuthService(auth.NewUserRepository(db), bcrypt.MinCost),
	}
}

// client is a single browser: it remembers the session cookie between
// requests the way a cookie jar would.
type client struct {
	t      *testing.T
	env    *testEnv
	cookie string
}

func (env *testEnv) client(t *testing.T) *client {
	return &client{t: t, env: env}
}

func (c *client) do(method, path, body, csrf string) *httptest.ResponseRecorder {
	c.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if csrf != "" {
		req.Header.Set(session.CSRFHeader, csrf)
	}
	if c.cookie != "" {
		req.AddCookie(&http.Cookie{Name: session.CookieName, Value: c.cookie})
	}

	rec := httptest.NewRecorder()
	c.env.app.Echo.ServeHTTP(rec, req)

	for _, ck := range rec.Result().Cookies() {
		if ck.Name == session.CookieName {
			c.cookie = ck.Value
			if ck.MaxAge < 0 {
				c.cookie = ""
			}
		}
	}
	return rec
}

func (c *client) csrf() string {
	c.t.Helper()
	rec := c.do(http.MethodGet, "/csrf", "", "")
	require.Equal(c.t, http.StatusOK, rec.Code)
	var body struct {
		CSRFToken string `json:"csrf_token"`
	}
	require.NoError(c.t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(c.t, body.CSRFToken)
	return body.CSRFToken
}

func (c *client) login(username string) {
	c.t.Helper()
	body := `{"username":"` + username + `","password":"` + password + `"}`
	rec := c.do(http.MethodPost, "/login", body, c.csrf())
	require.Equal(c.t, http.StatusOK, rec.Code, rec.Body.String())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.client(t).do(http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestUnknownRouteIsJSON(t *testing.T) {
	env := newTestEnv(t)
	rec := env.client(t).do(http.MethodGet, "/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	body := decode[errorResponse](t, rec)
	assert.Equal(t, apperror.TypeNotFound, body.Error)
}

func TestRegisterLoginLedgerFlow(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)

	// Register.
	rec := c.do(http.MethodPost, "/register",
		`{"username":"clerk","email":"clerk@example.com","full_name":"Clerk One","password":"Secret123","password_confirm":"Secret123"}`,
		c.csrf())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// The same token cannot be replayed.
	rec = c.do(http.MethodPost, "/login", `{"username":"clerk","password":"Secret123"}`, "")
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, apperror.TypeCSRFMismatch, decode[errorResponse](t, rec).Error)

	// Wrong password.
	rec = c.do(http.MethodPost, "/login", `{"username":"clerk","password":"Wrong1234"}`, c.csrf())
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid username/email or password", decode[errorResponse](t, rec).Message)

	// Not logged in yet.
	rec = c.do(http.MethodGet, "/transactions", "", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// Login by email rotates the session token.
	before := c.cookie
	rec = c.do(http.MethodPost, "/login", `{"username":"clerk@example.com","password":"Secret123"}`, c.csrf())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEqual(t, before, c.cookie)

	rec = c.do(http.MethodGet, "/dashboard", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"username":"clerk"`)
	assert.NotContains(t, rec.Body.String(), "password")

	// Add a transaction.
	rec = c.do(http.MethodPost, "/transactions",
		`{"type":"income","amount":1500,"person":"Ana","description":"Tithes","tx_date":"2026-03-01T10:00"}`,
		c.csrf())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[ledger.Transaction](t, rec)
	assert.True(t, strings.HasPrefix(created.ID, "t_"))
	assert.Equal(t, 1500.0, created.Amount)

	// Every violation is reported.
	rec = c.do(http.MethodPost, "/transactions",
		`{"type":"gift","amount":"0","person":"","description":"","tx_date":""}`,
		c.csrf())
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	bad := decode[errorResponse](t, rec)
	assert.Equal(t, "Invalid transaction type.", bad.Message)
	assert.Len(t, bad.Violations, 4)

	// List with totals.
	rec = c.do(http.MethodGet, "/transactions?q=tithes", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[ledger.ListResult](t, rec)
	assert.Equal(t, 1, list.Total)
	assert.Equal(t, 1500.0, list.Totals.Income)
	assert.Equal(t, 1500.0, list.Totals.Balance)

	// Export.
	rec = c.do(http.MethodGet, "/transactions/export", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `attachment; filename="tarms_`)
	assert.Contains(t, rec.Body.String(), created.ID)

	// A non-admin delete is refused without touching the ledger, and the
	// CSRF token survives for the next request.
	token := c.csrf()
	rec = c.do(http.MethodDelete, "/transactions/"+created.ID, "", token)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, apperror.TypeForbidden, decode[errorResponse](t, rec).Error)

	rec = c.do(http.MethodPost, "/transactions",
		`{"type":"expense","amount":"200.50","person":"Ben","description":"Supplies","tx_date":"2026-03-02"}`,
		token)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = c.do(http.MethodGet, "/transactions", "", "")
	list = decode[ledger.ListResult](t, rec)
	assert.Equal(t, 2, list.Total)
	assert.InDelta(t, 1299.5, list.Totals.Balance, 0.001)

	// Admin routes are off limits.
	rec = c.do(http.MethodGet, "/admin/users", "", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Logout ends the session.
	rec = c.do(http.MethodPost, "/logout", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, c.cookie)

	rec = c.do(http.MethodGet, "/dashboard", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.users.Register(ctx, auth.RegisterInput{
		Username: "boss", Email: "boss@example.com", Password: password, Role: auth.RoleAdmin,
	})
	require.NoError(t, err)
	clerkID, err := env.users.Register(ctx, auth.RegisterInput{
		Username: "clerk", Email: "clerk@example.com", Password: password,
	})
	require.NoError(t, err)

	clerk := env.client(t)
	clerk.login("clerk")
	rec := clerk.do(http.MethodPost, "/transactions",
		`{"type":"allocation","amount":300,"person":"Youth","description":"Camp fund","tx_date":"2026-04-01T08:30"}`,
		clerk.csrf())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tx := decode[ledger.Transaction](t, rec)

	admin := env.client(t)
	admin.login("boss")

	// Update.
	rec = admin.do(http.MethodPut, "/transactions/"+tx.ID,
		`{"type":"allocation","amount":350,"person":"Youth","description":"Camp fund (revised)","tx_date":"2026-04-01T08:30"}`,
		admin.csrf())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[ledger.Transaction](t, rec)
	assert.Equal(t, tx.ID, updated.ID)
	assert.Equal(t, tx.CreatedAt, updated.CreatedAt)
	assert.Equal(t, 350.0, updated.Amount)

	// Delete, then delete again as a no-op.
	rec = admin.do(http.MethodDelete, "/transactions/"+tx.ID, "", admin.csrf())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted":true}`, rec.Body.String())

	rec = admin.do(http.MethodDelete, "/transactions/"+tx.ID, "", admin.csrf())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted":false}`, rec.Body.String())

	// Deactivating the clerk ends their live session at once.
	rec = admin.do(http.MethodPost, "/admin/users/"+strconv.FormatInt(clerkID, 10)+"/active", `{"active":false}`, admin.csrf())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = clerk.do(http.MethodGet, "/transactions", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = admin.do(http.MethodGet, "/transactions", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// The audit trail saw it all.
	rec = admin.do(http.MethodGet, "/admin/audit?action=transaction.deleted", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var feed struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &feed))
	assert.Equal(t, 1, feed.Total)

	rec = admin.do(http.MethodGet, "/admin/audit?action="+strings.Repeat("x", 65), "", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
