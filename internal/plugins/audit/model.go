// Package audit records security and ledger events in the audit_log table.
// Login outcomes, registrations, CSRF mismatches, transaction mutations and
// user activation changes all land here, and admins can page through them.
//
// Recording is best effort: a failed audit write is logged and never blocks
// the operation that triggered it.
package audit

import "time"

// --- Action Constants ---
// Each action string follows the pattern "resource.verb" for consistent
// filtering and display grouping.

const (
	// ActionLoginSucceeded is logged when credentials verify and the session
	// becomes authenticated.
	ActionLoginSucceeded = "auth.login_succeeded"

	// ActionLoginFailed is logged for unknown users and bad passwords alike;
	// Details["reason"] tells them apart.
	ActionLoginFailed = "auth.login_failed"

	// ActionRegistered is logged when a new account is created.
	ActionRegistered = "auth.registered"

	// ActionLoggedOut is logged when an authenticated session is destroyed.
	ActionLoggedOut = "auth.logged_out"

	// ActionCSRFMismatch is logged when a state-changing request carries a
	// missing, consumed or wrong CSRF token.
	ActionCSRFMismatch = "security.csrf_mismatch"

	// ActionTransactionCreated is logged when a ledger entry is added.
	ActionTransactionCreated = "transaction.created"

	// ActionTransactionUpdated is logged when an admin edits a ledger entry.
	ActionTransactionUpdated = "transaction.updated"

	// ActionTransactionDeleted is logged when an admin removes a ledger entry.
	ActionTransactionDeleted = "transaction.deleted"

	// ActionUserDeactivated is logged when an admin soft-deletes a user.
	ActionUserDeactivated = "user.deactivated"

	// ActionUserReactivated is logged when an admin restores a user.
	ActionUserReactivated = "user.reactivated"
)

// AuditEntry represents a single recorded action in the audit log.
// UserID is nil for events without an authenticated actor (failed logins,
// CSRF mismatches on anonymous sessions). TargetID names the transaction or
// user acted upon, if any.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Action    string         `json:"action"`
	UserID    *int64         `json:"user_id,omitempty"`
	Username  string         `json:"username,omitempty"`
	RemoteIP  string         `json:"remote_ip,omitempty"`
	TargetID  string         `json:"target_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ActorID is a small helper for building entries with a known user.
func ActorID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}
