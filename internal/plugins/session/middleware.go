package session

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tarmsledger/tarms/internal/apperror"
)

const (
	// CookieName is the HTTP cookie that carries the session token.
	CookieName = "tarms_session"

	// CSRFHeader is the request header checked first for the CSRF token.
	CSRFHeader = "X-CSRF-Token"

	// CSRFFormField is the form field checked when the header is absent.
	CSRFFormField = "csrf_token"

	contextKeyHandle = "session_handle"
)

// SecurityRecorder receives CSRF mismatch events. The audit plugin
// implements it; nil disables recording.
type SecurityRecorder interface {
	RecordCSRFMismatch(ctx context.Context, remoteIP, path string)
}

// Middleware loads the session named by the request cookie and stores the
// handle on the echo context. The cookie is written just before the
// response header goes out, so token rotation from login and teardown from
// logout reach the client no matter how the handler responds.
func Middleware(m *Manager, secureCookies bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			var incoming string
			if cookie, err := req.Cookie(CookieName); err == nil {
				incoming = cookie.Value
			}

			h, err := m.Load(req.Context(), incoming)
			if err != nil {
				return apperror.NewInternal(err)
			}
			c.Set(contextKeyHandle, h)

			c.Response().Before(func() {
				switch {
				case h.destroyed:
					if incoming != "" {
						clearCookie(c)
					}
				case h.persisted && h.token != incoming:
					setCookie(c, h.token, m.ttl.Seconds(), secureCookies)
				}
			})

			return next(c)
		}
	}
}

// FromContext returns the session handle loaded by Middleware, or nil if
// the middleware was not applied.
func FromContext(c echo.Context) *Handle {
	h, _ := c.Get(contextKeyHandle).(*Handle)
	return h
}

// RequireCSRF rejects the request unless it carries the session's current
// CSRF token in the X-CSRF-Token header or the csrf_token form field. The
// token is consumed either way. Mismatches are logged with the caller's
// address and reported to rec.
func RequireCSRF(m *Manager, rec SecurityRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := FromContext(c)
			if h == nil {
				return apperror.NewCSRFMismatch()
			}

			req := c.Request()
			candidate := req.Header.Get(CSRFHeader)
			if candidate == "" {
				candidate = c.FormValue(CSRFFormField)
			}

			ok, err := m.VerifyCSRF(req.Context(), h, candidate)
			if err != nil {
				return apperror.NewInternal(err)
			}
			if !ok {
				slog.Warn("csrf token mismatch",
					slog.String("remote_ip", c.RealIP()),
					slog.String("method", req.Method),
					slog.String("path", req.URL.Path),
				)
				if rec != nil {
					rec.RecordCSRFMismatch(req.Context(), c.RealIP(), req.URL.Path)
				}
				return apperror.NewCSRFMismatch()
			}

			return next(c)
		}
	}
}

// setCookie sets the session cookie. It is HttpOnly, SameSite=Lax, and
// Secure when configured or when the request arrived over TLS.
func setCookie(c echo.Context, token string, maxAge float64, secure bool) {
	req := c.Request()
	c.SetCookie(&http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure || req.TLS != nil || req.Header.Get("X-Forwarded-Proto") == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(maxAge),
	})
}

// clearCookie removes the session cookie by setting MaxAge to -1.
func clearCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}
