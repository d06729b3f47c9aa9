package ledger

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes sets up the ledger routes. Every route needs a logged-in
// session (authed). Update and delete also need the admin role, checked
// before the CSRF guard so a denied attempt does not burn the caller's token.
func RegisterRoutes(e *echo.Echo, h *Handler, authed, admin, csrf echo.MiddlewareFunc) {
	g := e.Group("/transactions", authed)

	g.GET("", h.List)
	g.GET("/export", h.Export)
	g.POST("", h.Create, csrf)

	g.PUT("/:id", h.Update, admin, csrf)
	g.POST("/:id", h.Update, admin, csrf)
	g.DELETE("/:id", h.Delete, admin, csrf)
}
