package admin

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes sets up all admin routes on the given Echo instance.
// Creates a /admin group behind the admin guard and returns it so other
// plugins can register additional admin routes.
func RegisterRoutes(e *echo.Echo, h *Handler, admin, csrf echo.MiddlewareFunc) *echo.Group {
	g := e.Group("/admin", admin)

	// User management.
	g.GET("/users", h.Users)
	g.POST("/users/:id/active", h.SetActive, csrf)

	return g
}
