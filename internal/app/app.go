// Package app is the application bootstrap and dependency injection root.
// It holds the shared infrastructure (credential store pool, Redis client,
// ledger store, Echo instance) and wires the plugins together.
package app

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/tarmsledger/tarms/internal/apperror"
	"github.com/tarmsledger/tarms/internal/config"
	"github.com/tarmsledger/tarms/internal/middleware"
	"github.com/tarmsledger/tarms/internal/plugins/ledger"
)

// App holds all shared dependencies and the Echo HTTP server instance.
// Created once at startup in main.go and used to register all routes.
type App struct {
	// Config holds the loaded application configuration.
	Config *config.Config

	// DB is the credential store connection pool (users, audit log).
	DB *sql.DB

	// Redis is the session store client.
	Redis *redis.Client

	// Ledger is the transaction store.
	Ledger ledger.Store

	// Echo is the HTTP server instance.
	Echo *echo.Echo
}

// errorResponse is the JSON body of every error reply.
type errorResponse struct {
	Error      string   `json:"error"`
	Message    string   `json:"message"`
	Violations []string `json:"violations,omitempty"`
}

// New creates a new App instance with the given dependencies and configures
// the Echo server with global middleware and error handling.
func New(cfg *config.Config, db *sql.DB, rdb *redis.Client, store ledger.Store) (*App, error) {
	e := echo.New()

	// Disable Echo's default banner and startup message -- we log our own.
	e.HideBanner = true
	e.HidePort = true

	// c.RealIP() feeds rate limiting, failed-login logs and the audit trail,
	// so forwarding headers are only believed from configured proxies.
	if err := middleware.TrustedProxies(e, cfg.TrustedProxies); err != nil {
		return nil, err
	}

	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
		Ledger: store,
		Echo:   e,
	}

	app.setupMiddleware()

	e.HTTPErrorHandler = app.errorHandler
	e.Validator = newRequestValidator()

	return app, nil
}

// setupMiddleware registers global middleware on the Echo instance.
// Order matters: the request id is assigned first so the logger can print
// it, and recovery sits inside the logger so panics are logged as 500s.
func (a *App) setupMiddleware() {
	a.Echo.Use(middleware.RequestID())
	a.Echo.Use(middleware.RequestLogger())
	a.Echo.Use(middleware.Recovery())
	a.Echo.Use(middleware.SecurityHeaders(a.Config.Auth.SecureCookies))
	a.Echo.Use(middleware.RequestTimeout(a.Config.RequestTimeout))
}

// errorHandler is the custom Echo error handler. It maps domain errors
// (AppError) to JSON responses. Causes carried in Internal are logged and
// never sent to the client.
func (a *App) errorHandler(err error, c echo.Context) {
	// Don't double-write if response is already committed.
	if c.Response().Committed {
		return
	}

	resp := errorResponse{Error: apperror.TypeInternal, Message: defaultErrorMessage(http.StatusInternalServerError)}
	code := http.StatusInternalServerError

	var appErr *apperror.AppError
	var echoErr *echo.HTTPError
	switch {
	case errors.As(err, &appErr):
		code = appErr.Code
		resp = errorResponse{Error: appErr.Type, Message: appErr.Message, Violations: appErr.Violations}

		if code >= http.StatusInternalServerError {
			slog.Error("request failed",
				slog.String("type", appErr.Type),
				slog.String("message", appErr.Message),
				slog.Any("internal", appErr.Internal),
				slog.String("path", c.Request().URL.Path),
			)
		} else if appErr.Internal != nil {
			slog.Debug("request rejected",
				slog.String("type", appErr.Type),
				slog.Any("internal", appErr.Internal),
				slog.String("path", c.Request().URL.Path),
			)
		}

	case errors.As(err, &echoErr):
		// Router misses, bad methods and binder failures.
		code = echoErr.Code
		resp.Error = errorTypeForStatus(code)
		resp.Message = defaultErrorMessage(code)

	default:
		slog.Error("unhandled error",
			slog.Any("error", err),
			slog.String("path", c.Request().URL.Path),
		)
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, resp)
}

// errorTypeForStatus maps echo's own HTTP errors onto the AppError types
// so clients see one vocabulary.
func errorTypeForStatus(code int) string {
	switch code {
	case http.StatusBadRequest, http.StatusMethodNotAllowed, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType:
		return apperror.TypeBadRequest
	case http.StatusUnauthorized:
		return apperror.TypeUnauthorized
	case http.StatusForbidden:
		return apperror.TypeForbidden
	case http.StatusNotFound:
		return apperror.TypeNotFound
	case http.StatusTooManyRequests:
		return apperror.TypeRateLimited
	case http.StatusServiceUnavailable:
		return apperror.TypeStorage
	default:
		return apperror.TypeInternal
	}
}

// defaultErrorMessage returns a user-friendly message for common HTTP status codes
// when no specific message was provided by the error.
func defaultErrorMessage(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "The request was invalid or cannot be processed."
	case http.StatusUnauthorized:
		return "Authentication required"
	case http.StatusForbidden:
		return "You do not have permission to perform this action"
	case http.StatusNotFound:
		return "The requested resource does not exist."
	case http.StatusMethodNotAllowed:
		return "This action is not allowed."
	case http.StatusTooManyRequests:
		return "Rate limit exceeded. Please try again later."
	case http.StatusServiceUnavailable:
		return "The service is temporarily unavailable. Please try again later."
	default:
		return "An unexpected error occurred. Please try again."
	}
}

// Start begins listening for HTTP requests on the configured port.
func (a *App) Start() error {
	addr := fmt.Sprintf(":%d", a.Config.Port)
	slog.Info("starting TARMS server",
		slog.String("addr", addr),
		slog.String("env", a.Config.Env),
	)
	return a.Echo.Start(addr)
}
