// Package access is the gate every protected operation passes through. It
// answers two questions from the session alone: is the caller logged in, and
// does the role snapshotted at login permit the action. Roles are not
// re-read from the credential store per request; a role change takes effect
// at the user's next login.
package access

import (
	"log/slog"

	"github.com/labstack/echo/v4"

	"github.com/tarmsledger/tarms/internal/apperror"
	"github.com/tarmsledger/tarms/internal/plugins/auth"
	"github.com/tarmsledger/tarms/internal/plugins/session"
)

// contextKeyIdentity stores the resolved Identity on the echo context.
const contextKeyIdentity = "access_identity"

// Identity is the authenticated caller as seen by services. Handlers pass
// it explicitly into every ledger operation.
type Identity struct {
	UserID   int64
	Username string
	Role     auth.Role
}

// IsAdmin reports whether the identity holds the admin role.
func (id Identity) IsAdmin() bool {
	return id.Role == auth.RoleAdmin
}

// RequireSession resolves the identity held by an authenticated session.
func RequireSession(h *session.Handle) (Identity, error) {
	if h == nil || h.Status() != session.Authenticated {
		return Identity{}, apperror.NewUnauthorized("Authentication required")
	}
	st := h.State()
	return Identity{
		UserID:   st.UserID,
		Username: st.Username,
		Role:     auth.Role(st.Role),
	}, nil
}

// RequireRole is a straight equality check against the session's role
// snapshot.
func RequireRole(id Identity, role auth.Role) error {
	if id.Role != role {
		return apperror.NewForbidden("You do not have permission to perform this action")
	}
	return nil
}

// RequireAuth returns middleware that rejects requests without an
// authenticated session and stores the Identity for downstream handlers.
// It must run after session.Middleware.
func RequireAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, err := RequireSession(session.FromContext(c))
			if err != nil {
				return err
			}
			c.Set(contextKeyIdentity, id)
			return next(c)
		}
	}
}

// RequireAdmin returns middleware that additionally requires the admin
// role. Denied attempts perform no action and are logged.
func RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return RequireAuth()(func(c echo.Context) error {
			id, _ := IdentityFrom(c)
			if err := RequireRole(id, auth.RoleAdmin); err != nil {
				slog.Warn("admin action denied",
					slog.Int64("user_id", id.UserID),
					slog.String("role", string(id.Role)),
					slog.String("method", c.Request().Method),
					slog.String("path", c.Request().URL.Path),
				)
				return err
			}
			return next(c)
		})
	}
}

// IdentityFrom returns the identity stored by RequireAuth.
func IdentityFrom(c echo.Context) (Identity, bool) {
	id, ok := c.Get(contextKeyIdentity).(Identity)
	return id, ok
}
