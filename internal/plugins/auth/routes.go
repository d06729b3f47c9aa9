package auth

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tarmsledger/tarms/internal/middleware"
)

// RegisterRoutes sets up all auth-related routes on the given Echo instance.
// csrf guards state-changing public routes; authed guards routes that need a
// logged-in session. Both are passed in so this package does not depend on
// the access plugin.
//
// POST endpoints are rate-limited to prevent brute-force and credential
// stuffing attacks: 10 attempts per IP per minute for login, 5 for register.
func RegisterRoutes(e *echo.Echo, h *Handler, csrf, authed echo.MiddlewareFunc) {
	// Public routes -- no auth required.
	e.GET("/csrf", h.CSRF)
	e.POST("/login", h.Login, middleware.RateLimit(10, time.Minute), csrf)
	e.POST("/register", h.Register, middleware.RateLimit(5, time.Minute), csrf)

	// Logout always succeeds, logged in or not.
	e.POST("/logout", h.Logout)

	e.GET("/dashboard", h.Dashboard, authed)
}
