// Package session owns the server-side session lifecycle: opaque token
// issuance, single-use CSRF challenges, fixation-safe regeneration on login,
// and teardown on logout. Session payloads live in Redis under
// "session:<token>" with a TTL; the client only ever holds the token.
package session

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// errNoCSRF aborts a verify without a write when no token is held.
var errNoCSRF = errors.New("no csrf token held")

// tokenBytes is the number of random bytes in session and CSRF tokens.
// 32 bytes = 256 bits of entropy, hex-encoded to 64 characters.
const tokenBytes = 32

// Status is the lifecycle state of a session handle.
type Status int

const (
	// Anonymous sessions exist so a CSRF challenge can be issued before login.
	Anonymous Status = iota

	// Authenticated sessions carry a verified identity snapshot.
	Authenticated

	// Destroyed sessions have been torn down by logout and must not be reused.
	Destroyed
)

// String returns the lowercase status name used in logs.
func (s Status) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Authenticated:
		return "authenticated"
	case Destroyed:
		return "destroyed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Principal is the verified identity handed over by the auth service after a
// successful credential check. The role is snapshotted here and not
// re-fetched per request.
type Principal struct {
	UserID      int64
	Username    string
	Email       string
	DisplayName string
	Role        string
}

// State is the JSON payload stored in Redis for one session.
type State struct {
	UserID      int64     `json:"user_id,omitempty"`
	Username    string    `json:"username,omitempty"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	Role        string    `json:"role,omitempty"`
	LoginTime   time.Time `json:"login_time"`
	CSRFToken   string    `json:"csrf_token,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Handle is the per-request view of one session. It is created by the
// Manager and mutated only through Manager methods.
type Handle struct {
	token     string
	state     State
	persisted bool
	destroyed bool
}

// Token returns the current transport token. It changes on login.
func (h *Handle) Token() string { return h.token }

// State returns a copy of the session payload.
func (h *Handle) State() State { return h.state }

// Status reports where the handle is in its lifecycle.
func (h *Handle) Status() Status {
	switch {
	case h.destroyed:
		return Destroyed
	case h.state.UserID != 0:
		return Authenticated
	default:
		return Anonymous
	}
}

// Persisted reports whether the session currently exists in the store.
func (h *Handle) Persisted() bool { return h.persisted && !h.destroyed }

// Manager drives session state transitions against a Store.
type Manager struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// NewManager creates a session manager. Sessions expire ttl after their
// last write.
func NewManager(store Store, ttl time.Duration) *Manager {
	return &Manager{store: store, ttl: ttl, now: time.Now}
}

// Load resolves the session for a client-supplied token. Unknown, expired or
// empty tokens yield a fresh anonymous handle under a newly minted token; a
// client can never choose its own session id. Nothing is written until the
// session first needs to hold state.
func (m *Manager) Load(ctx context.Context, token string) (*Handle, error) {
	if token != "" {
		state, err := m.store.Get(ctx, token)
		if err == nil {
			return &Handle{token: token, state: *state, persisted: true}, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return m.fresh()
}

// IssueCSRF returns the session's unconsumed CSRF token, minting and storing
// a new one when none is held. A session torn down since Load is replaced by
// a fresh anonymous one rather than written back.
func (m *Manager) IssueCSRF(ctx context.Context, h *Handle) (string, error) {
	if h.destroyed {
		return "", ErrDestroyed
	}

	token, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("generating csrf token: %w", err)
	}

	if h.persisted {
		state, err := m.store.Update(ctx, h.token, m.ttl, func(s *State) error {
			if s.CSRFToken == "" {
				s.CSRFToken = token
			}
			return nil
		})
		if err == nil {
			h.state = *state
			return state.CSRFToken, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}
		fresh, err := m.fresh()
		if err != nil {
			return "", err
		}
		*h = *fresh
	}

	h.state.CSRFToken = token
	if err := m.create(ctx, h); err != nil {
		h.state.CSRFToken = ""
		return "", err
	}
	return token, nil
}

// VerifyCSRF compares candidate against the session-held token. The held
// token is consumed in the store whatever the outcome, so each token admits
// exactly one state-changing submission even across concurrent requests, and
// a failed match forces re-issuance. A session torn down since Load leaves
// the handle Destroyed.
func (m *Manager) VerifyCSRF(ctx context.Context, h *Handle, candidate string) (bool, error) {
	if h.destroyed || !h.persisted {
		return false, nil
	}

	var held string
	state, err := m.store.Update(ctx, h.token, m.ttl, func(s *State) error {
		held = s.CSRFToken
		if held == "" {
			return errNoCSRF
		}
		s.CSRFToken = ""
		return nil
	})
	switch {
	case errors.Is(err, errNoCSRF):
		h.state.CSRFToken = ""
		return false, nil
	case errors.Is(err, ErrNotFound):
		h.state = State{}
		h.persisted = false
		h.destroyed = true
		return false, nil
	case err != nil:
		return false, err
	}
	h.state = *state

	if candidate == "" {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(held), []byte(candidate)) == 1, nil
}

// Authenticate moves the session to Authenticated. The transport token is
// regenerated and the old key removed, the CSRF token is cleared, and the
// login time is stamped.
func (m *Manager) Authenticate(ctx context.Context, h *Handle, p Principal) error {
	if h.destroyed {
		return ErrDestroyed
	}

	token, err := generateToken()
	if err != nil {
		return fmt.Errorf("generating session token: %w", err)
	}

	if h.persisted {
		if err := m.store.Delete(ctx, h.token); err != nil {
			return err
		}
	}

	now := m.now().UTC()
	h.token = token
	h.persisted = false
	h.state = State{
		UserID:      p.UserID,
		Username:    p.Username,
		Email:       p.Email,
		DisplayName: p.DisplayName,
		Role:        p.Role,
		LoginTime:   now,
		CreatedAt:   now,
	}
	return m.create(ctx, h)
}

// Destroy clears all session state and removes it from the store.
// Destroying an already destroyed handle is a no-op.
func (m *Manager) Destroy(ctx context.Context, h *Handle) error {
	if h.destroyed {
		return nil
	}
	if h.persisted {
		if err := m.store.Delete(ctx, h.token); err != nil {
			return err
		}
	}
	h.state = State{}
	h.persisted = false
	h.destroyed = true
	return nil
}

// DestroyUser ends every session held by userID, wherever it was opened.
// Used when an account is deactivated.
func (m *Manager) DestroyUser(ctx context.Context, userID int64) (int, error) {
	return m.store.DeleteUser(ctx, userID)
}

// DurationSinceLogin reports how long ago the session authenticated, or
// zero for sessions that never did. Display only.
func (m *Manager) DurationSinceLogin(h *Handle) time.Duration {
	if h.Status() != Authenticated || h.state.LoginTime.IsZero() {
		return 0
	}
	return m.now().Sub(h.state.LoginTime)
}

// TTL returns the configured session lifetime.
func (m *Manager) TTL() time.Duration { return m.ttl }

func (m *Manager) create(ctx context.Context, h *Handle) error {
	if err := m.store.Create(ctx, h.token, &h.state, m.ttl); err != nil {
		return err
	}
	h.persisted = true
	return nil
}

func (m *Manager) fresh() (*Handle, error) {
	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("generating session token: %w", err)
	}
	return &Handle{token: token, state: State{CreatedAt: m.now().UTC()}}, nil
}

// generateToken creates a cryptographically random hex-encoded token.
func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
