package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tarmsledger/tarms/internal/apperror"
	"github.com/tarmsledger/tarms/internal/plugins/audit"
	"github.com/tarmsledger/tarms/internal/plugins/session"
)

// Handler handles HTTP requests for authentication (csrf, login, register,
// logout, dashboard). Handlers are thin: they bind the request, call the
// service, drive the session transition, and write JSON.
type Handler struct {
	service  AuthService
	sessions *session.Manager
	audit    audit.AuditService
}

// NewHandler creates a new auth handler with the given dependencies.
func NewHandler(service AuthService, sessions *session.Manager, auditSvc audit.AuditService) *Handler {
	return &Handler{service: service, sessions: sessions, audit: auditSvc}
}

// csrfResponse carries a freshly issued or still-unconsumed CSRF token.
type csrfResponse struct {
	CSRFToken string `json:"csrf_token"`
}

// actionResponse tells the client where to navigate next.
type actionResponse struct {
	Message  string `json:"message,omitempty"`
	Redirect string `json:"redirect"`
	User     *User  `json:"user,omitempty"`
	UserID   int64  `json:"user_id,omitempty"`
}

// dashboardResponse is the profile view shown after login.
type dashboardResponse struct {
	User               *User     `json:"user"`
	LoginTime          time.Time `json:"login_time"`
	DurationSinceLogin string    `json:"duration_since_login"`
	SecondsSinceLogin  int64     `json:"seconds_since_login"`
}

// CSRF issues the session's single-use CSRF token (GET /csrf).
func (h *Handler) CSRF(c echo.Context) error {
	token, err := h.sessions.IssueCSRF(c.Request().Context(), session.FromContext(c))
	if err != nil {
		return apperror.NewInternal(err)
	}
	c.Response().Header().Set("Cache-Control", "no-store")
	return c.JSON(http.StatusOK, csrfResponse{CSRFToken: token})
}

// Login verifies credentials and moves the session to Authenticated
// (POST /login). The CSRF guard runs before this handler.
func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}
	if violations := ValidateLogin(req); len(violations) > 0 {
		return apperror.NewValidation(violations...)
	}

	ctx := c.Request().Context()
	user, err := h.service.Authenticate(ctx, req.Username, req.Password, c.RealIP())
	if err != nil {
		h.recordLoginFailure(c, req.Username, err)
		return err
	}

	err = h.sessions.Authenticate(ctx, session.FromContext(c), session.Principal{
		UserID:      user.ID,
		Username:    user.Username,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Role:        string(user.Role),
	})
	if err != nil {
		return apperror.NewInternal(err)
	}

	h.audit.Record(ctx, audit.AuditEntry{
		Action:   audit.ActionLoginSucceeded,
		UserID:   audit.ActorID(user.ID),
		Username: user.Username,
		RemoteIP: c.RealIP(),
	})

	return c.JSON(http.StatusOK, actionResponse{Redirect: "/dashboard", User: user})
}

// Register creates a new account with the user role (POST /register). The
// client is sent to the login page; registering does not log in.
func (h *Handler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}
	if violations := ValidateRegistration(req); len(violations) > 0 {
		return apperror.NewValidation(violations...)
	}

	ctx := c.Request().Context()
	id, err := h.service.Register(ctx, RegisterInput{
		Username:    req.Username,
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.FullName,
		Role:        RoleUser,
	})
	if err != nil {
		return err
	}

	h.audit.Record(ctx, audit.AuditEntry{
		Action:   audit.ActionRegistered,
		UserID:   audit.ActorID(id),
		Username: req.Username,
		RemoteIP: c.RealIP(),
	})

	return c.JSON(http.StatusCreated, actionResponse{
		Message:  "Registration successful. Please log in.",
		Redirect: "/login",
		UserID:   id,
	})
}

// Logout destroys the session unconditionally (POST /logout).
func (h *Handler) Logout(c echo.Context) error {
	ctx := c.Request().Context()
	handle := session.FromContext(c)

	if handle != nil {
		state := handle.State()
		wasAuthenticated := handle.Status() == session.Authenticated

		if err := h.sessions.Destroy(ctx, handle); err != nil {
			return apperror.NewInternal(err)
		}

		if wasAuthenticated {
			h.audit.Record(ctx, audit.AuditEntry{
				Action:   audit.ActionLoggedOut,
				UserID:   audit.ActorID(state.UserID),
				Username: state.Username,
				RemoteIP: c.RealIP(),
			})
		}
	}

	return c.JSON(http.StatusOK, actionResponse{Message: "You have been logged out.", Redirect: "/login"})
}

// Dashboard returns the caller's refreshed profile and login time
// (GET /dashboard). A session whose user has vanished or been deactivated
// is destroyed.
func (h *Handler) Dashboard(c echo.Context) error {
	ctx := c.Request().Context()
	handle := session.FromContext(c)
	state := handle.State()

	user, err := h.service.GetActiveUser(ctx, state.UserID)
	if err != nil {
		if apperror.IsType(err, apperror.TypeNotFound) {
			if derr := h.sessions.Destroy(ctx, handle); derr != nil {
				return apperror.NewInternal(derr)
			}
			return apperror.NewUnauthorized("Your session has ended. Please log in again.")
		}
		return err
	}

	elapsed := h.sessions.DurationSinceLogin(handle)
	return c.JSON(http.StatusOK, dashboardResponse{
		User:               user,
		LoginTime:          state.LoginTime,
		DurationSinceLogin: elapsed.Truncate(time.Second).String(),
		SecondsSinceLogin:  int64(elapsed / time.Second),
	})
}

// recordLoginFailure audits a failed login. Like the logs, only the
// bad-password case names the account.
func (h *Handler) recordLoginFailure(c echo.Context, login string, err error) {
	entry := audit.AuditEntry{
		Action:   audit.ActionLoginFailed,
		RemoteIP: c.RealIP(),
	}
	switch {
	case errors.Is(err, ErrBadPassword):
		entry.Username = login
		entry.Details = map[string]any{"reason": "bad_password"}
	case errors.Is(err, ErrUserNotFound):
		entry.Details = map[string]any{"reason": "not_found"}
	default:
		return
	}
	h.audit.Record(c.Request().Context(), entry)
}
