package app

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tarmsledger/tarms/internal/plugins/access"
	"github.com/tarmsledger/tarms/internal/plugins/admin"
	"github.com/tarmsledger/tarms/internal/plugins/audit"
	"github.com/tarmsledger/tarms/internal/plugins/auth"
	"github.com/tarmsledger/tarms/internal/plugins/ledger"
	"github.com/tarmsledger/tarms/internal/plugins/session"
)

// healthTimeout bounds each dependency ping in /healthz.
const healthTimeout = 2 * time.Second

// RegisterRoutes wires every plugin and registers its routes. This is the
// single place where services are constructed and handed to each other.
func (a *App) RegisterRoutes() error {
	e := a.Echo

	loc, err := a.Config.Ledger.Location()
	if err != nil {
		return err
	}

	// --- Services ---
	auditService := audit.NewAuditService(audit.NewAuditRepository(a.DB))
	authService := auth.NewAuthService(auth.NewUserRepository(a.DB), a.Config.Auth.BcryptCost)
	sessions := session.NewManager(session.NewRedisStore(a.Redis), a.Config.Auth.SessionTTL)
	ledgerService := ledger.NewService(a.Ledger, loc)

	// Every request carries a session handle, persisted or not.
	e.Use(session.Middleware(sessions, a.Config.Auth.SecureCookies))

	csrf := session.RequireCSRF(sessions, auditService)
	authed := access.RequireAuth()
	adminOnly := access.RequireAdmin()

	// --- Public Routes ---
	e.GET("/healthz", a.healthz)

	// --- Plugin Routes ---
	auth.RegisterRoutes(e, auth.NewHandler(authService, sessions, auditService), csrf, authed)
	ledger.RegisterRoutes(e, ledger.NewHandler(ledgerService, auditService, loc), authed, adminOnly, csrf)

	adminGroup := admin.RegisterRoutes(e, admin.NewHandler(authService, sessions, auditService), adminOnly, csrf)
	audit.RegisterRoutes(adminGroup, audit.NewHandler(auditService))

	return nil
}

// healthz reports whether the credential store and the session store
// answer. The ledger file is not probed: a missing file is a valid empty
// ledger.
func (a *App) healthz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
	defer cancel()

	status := map[string]string{"status": "ok", "database": "ok", "redis": "ok"}
	code := http.StatusOK

	if err := a.DB.PingContext(ctx); err != nil {
		status["database"] = "unavailable"
		code = http.StatusServiceUnavailable
	}
	if err := a.Redis.Ping(ctx).Err(); err != nil {
		status["redis"] = "unavailable"
		code = http.StatusServiceUnavailable
	}
	if code != http.StatusOK {
		status["status"] = "degraded"
	}

	return c.JSON(code, status)
}
