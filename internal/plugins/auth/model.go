// Package auth handles user registration, credential verification and the
// login/logout/register actions for TARMS. Passwords are hashed with bcrypt;
// the user table is the Credential Store. Session lifecycle is delegated to
// the session plugin so that login can regenerate the session token.
//
// This is a CORE plugin -- always enabled, cannot be disabled.
package auth

import (
	"time"
)

// Role is the authorization level stored on a user row and snapshotted into
// the session at login.
type Role string

const (
	// RoleUser may view the ledger and add transactions.
	RoleUser Role = "user"

	// RoleAdmin may additionally update and delete transactions and manage users.
	RoleAdmin Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User represents a registered TARMS user. PasswordHash is only populated by
// the credential lookup used for login; profile projections leave it empty.
type User struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"` // Never expose in JSON responses.
	DisplayName  string     `json:"display_name"`
	Role         Role       `json:"role"`
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// --- Request DTOs (bound from HTTP requests) ---

// RegisterRequest holds the data submitted by the registration form.
type RegisterRequest struct {
	Username        string `json:"username" form:"username"`
	Email           string `json:"email" form:"email"`
	FullName        string `json:"full_name" form:"full_name"`
	Password        string `json:"password" form:"password"`
	PasswordConfirm string `json:"password_confirm" form:"password_confirm"`
}

// LoginRequest holds the data submitted by the login form. Username may be
// either the username or the email address.
type LoginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

// --- Service Input DTOs (passed from handler to service) ---

// RegisterInput is the input for creating a new user. Role defaults to
// RoleUser when empty.
type RegisterInput struct {
	Username    string
	Email       string
	Password    string
	DisplayName string
	Role        Role
}
