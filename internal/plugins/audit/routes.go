package audit

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes sets up audit routes on the admin group. The caller is
// responsible for attaching the admin guard to g.
func RegisterRoutes(g *echo.Group, h *Handler) {
	g.GET("/audit", h.List)
}
