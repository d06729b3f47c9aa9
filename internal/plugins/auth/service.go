package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/tarmsledger/tarms/internal/apperror"
)

// DefaultBcryptCost is the work factor used for new password hashes.
const DefaultBcryptCost = 12

// invalidCredentials is the only message a failed login ever shows.
const invalidCredentials = "Invalid username/email or password"

var (
	// ErrUserNotFound marks a login whose username/email matched no active
	// user. Carried in AppError.Internal; never shown to the client.
	ErrUserNotFound = errors.New("user not found")

	// ErrBadPassword marks a login whose password failed verification.
	ErrBadPassword = errors.New("bad password")
)

// usernamePattern restricts usernames to letters, digits, hyphen and underscore.
var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// validate is shared; validator caches struct metadata internally.
var validate = validator.New(validator.WithRequiredStructEnabled())

// AuthService defines the business logic contract for authentication.
// Handlers call these methods -- they never touch the repository directly.
type AuthService interface {
	Register(ctx context.Context, input RegisterInput) (int64, error)
	Authenticate(ctx context.Context, login, password, remoteIP string) (*User, error)
	GetActiveUser(ctx context.Context, id int64) (*User, error)

	// Admin operations.
	ListUsers(ctx context.Context, page, perPage int) ([]User, int, error)
	SetActive(ctx context.Context, actorID, userID int64, active bool) (*User, error)
}

// authService implements AuthService with bcrypt hashing over a UserRepository.
type authService struct {
	repo       UserRepository
	bcryptCost int
	now        func() time.Time
}

// NewAuthService creates a new auth service. A bcryptCost of zero selects
// DefaultBcryptCost.
func NewAuthService(repo UserRepository, bcryptCost int) AuthService {
	if bcryptCost == 0 {
		bcryptCost = DefaultBcryptCost
	}
	return &authService{
		repo:       repo,
		bcryptCost: bcryptCost,
		now:        time.Now,
	}
}

// ValidateRegistration applies the registration form rules and returns every
// violation in a fixed order: username length, username charset, email,
// password length, password character classes, confirmation.
func ValidateRegistration(req RegisterRequest) []string {
	var violations []string

	username := strings.TrimSpace(req.Username)
	if len(username) < 3 {
		violations = append(violations, "Username must be at least 3 characters long")
	}
	if !usernamePattern.MatchString(username) {
		violations = append(violations, "Username can only contain letters, numbers, hyphens, and underscores")
	}
	if !validEmail(req.Email) {
		violations = append(violations, "Please enter a valid email address")
	}
	if len(req.Password) < 8 {
		violations = append(violations, "Password must be at least 8 characters long")
	}
	if !hasUpperLowerDigit(req.Password) {
		violations = append(violations, "Password must contain uppercase, lowercase, and numbers")
	}
	if req.Password != req.PasswordConfirm {
		violations = append(violations, "Passwords do not match")
	}
	return violations
}

// ValidateLogin checks that both login fields were supplied.
func ValidateLogin(req LoginRequest) []string {
	var violations []string
	if strings.TrimSpace(req.Username) == "" {
		violations = append(violations, "Username or email is required")
	}
	if req.Password == "" {
		violations = append(violations, "Password is required")
	}
	return violations
}

// Register creates a new user account. Structural checks run first; then
// username and email uniqueness is checked in one query (across active and
// inactive rows) before the expensive hash. The conflict message never says
// which field collided.
func (s *authService) Register(ctx context.Context, input RegisterInput) (int64, error) {
	username := strings.TrimSpace(input.Username)
	email := strings.ToLower(strings.TrimSpace(input.Email))

	var violations []string
	if len(username) < 3 {
		violations = append(violations, "Username must be at least 3 characters long")
	}
	if !validEmail(email) {
		violations = append(violations, "Invalid email address")
	}
	if len(input.Password) < 8 {
		violations = append(violations, "Password must be at least 8 characters long")
	}
	if len(violations) > 0 {
		return 0, apperror.NewValidation(violations...)
	}

	role := input.Role
	if role == "" {
		role = RoleUser
	}
	if !role.Valid() {
		return 0, apperror.NewValidation("Invalid role")
	}

	exists, err := s.repo.ExistsByUsernameOrEmail(ctx, username, email)
	if err != nil {
		return 0, apperror.NewInternal(fmt.Errorf("checking uniqueness: %w", err))
	}
	if exists {
		return 0, apperror.NewValidation("Username or email already exists")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), s.bcryptCost)
	if err != nil {
		return 0, apperror.NewInternal(fmt.Errorf("hashing password: %w", err))
	}

	now := s.now().UTC()
	user := &User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		DisplayName:  strings.TrimSpace(input.DisplayName),
		Role:         role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	id, err := s.repo.Create(ctx, user)
	if errors.Is(err, ErrDuplicate) {
		return 0, apperror.NewValidation("Username or email already exists")
	}
	if err != nil {
		return 0, apperror.NewInternal(fmt.Errorf("creating user: %w", err))
	}

	slog.Info("user registered",
		slog.Int64("user_id", id),
		slog.String("username", username),
		slog.String("role", string(role)),
	)

	return id, nil
}

// Authenticate verifies a username-or-email and password against the active
// users. Both failure kinds surface as the same generic message; only the
// logs tell them apart, and only the bad-password case names the username.
// last_login is stamped on success only.
func (s *authService) Authenticate(ctx context.Context, login, password, remoteIP string) (*User, error) {
	login = strings.TrimSpace(login)

	user, err := s.repo.FindActiveByLogin(ctx, login)
	if err != nil {
		if apperror.IsType(err, apperror.TypeNotFound) {
			slog.Warn("failed login: user not found",
				slog.String("reason", "not_found"),
				slog.String("remote_ip", remoteIP),
			)
			return nil, credentialsError(ErrUserNotFound)
		}
		return nil, apperror.NewInternal(fmt.Errorf("finding user: %w", err))
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		slog.Warn("failed login: bad password",
			slog.String("reason", "bad_password"),
			slog.String("username", user.Username),
			slog.String("remote_ip", remoteIP),
		)
		return nil, credentialsError(ErrBadPassword)
	}

	now := s.now().UTC()
	if err := s.repo.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("updating last login: %w", err))
	}
	user.LastLoginAt = &now
	user.PasswordHash = ""

	slog.Info("user logged in",
		slog.Int64("user_id", user.ID),
		slog.String("username", user.Username),
		slog.String("remote_ip", remoteIP),
	)

	return user, nil
}

// GetActiveUser returns the profile of an active user, without the password
// hash. Returns apperror.NotFound for missing or deactivated users.
func (s *authService) GetActiveUser(ctx context.Context, id int64) (*User, error) {
	user, err := s.repo.FindActiveByID(ctx, id)
	if err != nil {
		if apperror.IsType(err, apperror.TypeNotFound) {
			return nil, err
		}
		return nil, apperror.NewInternal(fmt.Errorf("finding user: %w", err))
	}
	return user, nil
}

// --- Admin Operations ---

// ListUsers returns one page of users and the total count.
func (s *authService) ListUsers(ctx context.Context, page, perPage int) ([]User, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 25
	}

	users, total, err := s.repo.ListUsers(ctx, (page-1)*perPage, perPage)
	if err != nil {
		return nil, 0, apperror.NewInternal(fmt.Errorf("listing users: %w", err))
	}
	return users, total, nil
}

// SetActive soft-deletes or reactivates a user. Admins cannot deactivate
// their own account.
func (s *authService) SetActive(ctx context.Context, actorID, userID int64, active bool) (*User, error) {
	if !active && actorID == userID {
		return nil, apperror.NewBadRequest("You cannot deactivate your own account")
	}

	if err := s.repo.SetActive(ctx, userID, active, s.now().UTC()); err != nil {
		if apperror.IsType(err, apperror.TypeNotFound) {
			return nil, err
		}
		return nil, apperror.NewInternal(fmt.Errorf("updating user: %w", err))
	}

	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("reloading user: %w", err))
	}

	slog.Info("user active flag changed",
		slog.Int64("user_id", userID),
		slog.Int64("actor_id", actorID),
		slog.Bool("active", active),
	)
	return user, nil
}

// --- Helpers ---

// credentialsError builds the uniform login failure, keeping the precise
// cause available to errors.Is.
func credentialsError(cause error) *apperror.AppError {
	appErr := apperror.NewUnauthorized(invalidCredentials)
	appErr.Internal = cause
	return appErr
}

// validEmail reports whether s is a syntactically valid email address.
func validEmail(s string) bool {
	return validate.Var(strings.TrimSpace(s), "required,email") == nil
}

// hasUpperLowerDigit reports whether s contains at least one uppercase
// letter, one lowercase letter and one digit.
func hasUpperLowerDigit(s string) bool {
	var upper, lower, digit bool
	for _, r := range s {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return upper && lower && digit
}
