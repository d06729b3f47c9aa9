package audit

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tarmsledger/tarms/internal/apperror"
)

// Handler handles HTTP requests for audit log operations. Handlers are thin:
// bind request, call service, render response. No business logic lives here.
type Handler struct {
	service AuditService
}

// NewHandler creates a new audit handler.
func NewHandler(service AuditService) *Handler {
	return &Handler{service: service}
}

// listQuery is the bound form of GET /admin/audit's query string.
type listQuery struct {
	Page   int    `query:"page"`
	Action string `query:"action" validate:"omitempty,max=64"`
}

// listResponse is the JSON shape of GET /admin/audit.
type listResponse struct {
	Entries    []AuditEntry `json:"entries"`
	Total      int          `json:"total"`
	Page       int          `json:"page"`
	PerPage    int          `json:"per_page"`
	TotalPages int          `json:"total_pages"`
}

// List returns a page of the audit log (GET /admin/audit?page=&action=).
// Admin-only via route middleware.
func (h *Handler) List(c echo.Context) error {
	var q listQuery
	if err := c.Bind(&q); err != nil {
		return apperror.NewBadRequest("invalid query parameters")
	}
	if err := c.Validate(&q); err != nil {
		return err
	}
	page := max(q.Page, 1)

	entries, total, err := h.service.List(c.Request().Context(), q.Action, page)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []AuditEntry{}
	}

	return c.JSON(http.StatusOK, listResponse{
		Entries:    entries,
		Total:      total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: (total + perPage - 1) / perPage,
	})
}
