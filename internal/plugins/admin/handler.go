// Package admin provides site-wide user administration: listing accounts and
// soft-deleting or restoring them through the active flag. Every route is
// admin-only.
package admin

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/tarmsledger/tarms/internal/apperror"
	"github.com/tarmsledger/tarms/internal/plugins/access"
	"github.com/tarmsledger/tarms/internal/plugins/audit"
	"github.com/tarmsledger/tarms/internal/plugins/auth"
	"github.com/tarmsledger/tarms/internal/plugins/session"
)

// usersPerPage is the page size of the user listing.
const usersPerPage = 25

// Handler handles admin HTTP requests. Depends on other plugins' services
// via interfaces -- no direct repo access.
type Handler struct {
	authService auth.AuthService
	sessions    *session.Manager
	audit       audit.AuditService
}

// NewHandler creates a new admin handler.
func NewHandler(authService auth.AuthService, sessions *session.Manager, auditSvc audit.AuditService) *Handler {
	return &Handler{authService: authService, sessions: sessions, audit: auditSvc}
}

// usersResponse is the JSON shape of GET /admin/users.
type usersResponse struct {
	Users      []auth.User `json:"users"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	PerPage    int         `json:"per_page"`
	TotalPages int         `json:"total_pages"`
}

// setActiveRequest is the body of POST /admin/users/:id/active.
type setActiveRequest struct {
	Active bool `json:"active" form:"active"`
}

// Users lists all accounts, active or not (GET /admin/users).
func (h *Handler) Users(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}

	users, total, err := h.authService.ListUsers(c.Request().Context(), page, usersPerPage)
	if err != nil {
		return err
	}
	if users == nil {
		users = []auth.User{}
	}

	return c.JSON(http.StatusOK, usersResponse{
		Users:      users,
		Total:      total,
		Page:       page,
		PerPage:    usersPerPage,
		TotalPages: (total + usersPerPage - 1) / usersPerPage,
	})
}

// SetActive deactivates or reactivates a user (POST /admin/users/:id/active).
// A deactivated user cannot log in, and every session they hold is ended.
func (h *Handler) SetActive(c echo.Context) error {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || userID < 1 {
		return apperror.NewBadRequest("invalid user id")
	}

	var req setActiveRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	ctx := c.Request().Context()
	who, _ := access.IdentityFrom(c)
	user, err := h.authService.SetActive(ctx, who.UserID, userID, req.Active)
	if err != nil {
		return err
	}

	action := audit.ActionUserReactivated
	if !req.Active {
		action = audit.ActionUserDeactivated
		ended, err := h.sessions.DestroyUser(ctx, userID)
		if err != nil {
			return apperror.NewInternal(err)
		}
		slog.Info("ended sessions of deactivated user",
			slog.Int64("user_id", userID),
			slog.Int("sessions", ended),
		)
	}
	h.audit.Record(ctx, audit.AuditEntry{
		Action:   action,
		UserID:   audit.ActorID(who.UserID),
		Username: who.Username,
		RemoteIP: c.RealIP(),
		TargetID: strconv.FormatInt(userID, 10),
	})

	return c.JSON(http.StatusOK, user)
}
