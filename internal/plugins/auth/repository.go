package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/tarmsledger/tarms/internal/apperror"
)

// ErrDuplicate is returned by Create when the username or email collides
// with an existing row (active or not). Callers decide how much to reveal.
var ErrDuplicate = errors.New("username or email already exists")

// UserRepository defines the data access contract for user operations.
// All SQL lives in the concrete implementation -- no SQL leaks out.
type UserRepository interface {
	Create(ctx context.Context, user *User) (int64, error)
	ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error)
	FindActiveByLogin(ctx context.Context, login string) (*User, error)
	FindActiveByID(ctx context.Context, id int64) (*User, error)
	UpdateLastLogin(ctx context.Context, id int64, at time.Time) error

	// Admin operations.
	FindByID(ctx context.Context, id int64) (*User, error)
	ListUsers(ctx context.Context, offset, limit int) ([]User, int, error)
	SetActive(ctx context.Context, id int64, active bool, at time.Time) error
}

// userRepository implements UserRepository with hand-written queries that
// run unchanged on SQLite and MySQL.
type userRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new user repository backed by the given DB pool.
func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{db: db}
}

// profileColumns is the projection used everywhere except login: it never
// includes the password hash.
const profileColumns = `id, username, email, full_name, role, is_active,
	created_at, updated_at, last_login`

// Create inserts a new user row and returns its id. A uniqueness violation
// is reported as ErrDuplicate so a registration race between the existence
// check and the insert still yields the generic conflict message.
func (r *userRepository) Create(ctx context.Context, user *User) (int64, error) {
	query := `INSERT INTO users (username, email, password_hash, full_name, role, is_active, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := r.db.ExecContext(ctx, query,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.DisplayName,
		string(user.Role),
		user.IsActive,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicate
		}
		return 0, fmt.Errorf("inserting user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading inserted user id: %w", err)
	}
	return id, nil
}

// ExistsByUsernameOrEmail checks both unique columns in one query, across
// active and inactive rows.
func (r *userRepository) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE username = ? OR email = ?)`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, username, email).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking user existence: %w", err)
	}
	return exists, nil
}

// FindActiveByLogin looks up an active user by username or email in one
// query. Usernames match case-sensitively; emails are stored lowercased so
// the email side compares against the lowercased login. This is the only
// read that includes the password hash.
// Returns apperror.NotFound if no active user matches.
func (r *userRepository) FindActiveByLogin(ctx context.Context, login string) (*User, error) {
	query := `SELECT id, username, email, password_hash, full_name, role, is_active,
	                 created_at, updated_at, last_login
	          FROM users
	          WHERE (username = ? OR email = ?) AND is_active = 1`

	user := &User{}
	var role string
	var lastLogin sql.NullTime
	err := r.db.QueryRowContext(ctx, query, login, strings.ToLower(login)).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.DisplayName,
		&role,
		&user.IsActive,
		&user.CreatedAt,
		&user.UpdatedAt,
		&lastLogin,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying user by login: %w", err)
	}

	user.Role = Role(role)
	if lastLogin.Valid {
		user.LastLoginAt = &lastLogin.Time
	}
	return user, nil
}

// FindActiveByID returns the profile projection of an active user.
// Returns apperror.NotFound if the user is missing or deactivated.
func (r *userRepository) FindActiveByID(ctx context.Context, id int64) (*User, error) {
	query := `SELECT ` + profileColumns + ` FROM users WHERE id = ? AND is_active = 1`
	return r.scanProfile(r.db.QueryRowContext(ctx, query, id))
}

// FindByID returns the profile projection of any user, active or not.
func (r *userRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	query := `SELECT ` + profileColumns + ` FROM users WHERE id = ?`
	return r.scanProfile(r.db.QueryRowContext(ctx, query, id))
}

// UpdateLastLogin stamps last_login for the given user.
func (r *userRepository) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE users SET last_login = ? WHERE id = ?`

	if _, err := r.db.ExecContext(ctx, query, at, id); err != nil {
		return fmt.Errorf("updating last login: %w", err)
	}
	return nil
}

// --- Admin Operations ---

// ListUsers returns a page of users ordered by id together with the total
// count. Password hashes are never selected.
func (r *userRepository) ListUsers(ctx context.Context, offset, limit int) ([]User, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting users: %w", err)
	}

	query := `SELECT ` + profileColumns + ` FROM users ORDER BY id LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := r.scanProfile(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, *u)
	}
	return users, total, rows.Err()
}

// SetActive flips the soft-delete flag. Returns apperror.NotFound if no row
// has the id.
func (r *userRepository) SetActive(ctx context.Context, id int64, active bool, at time.Time) error {
	query := `UPDATE users SET is_active = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, active, at, id)
	if err != nil {
		return fmt.Errorf("updating is_active: %w", err)
	}

	n, _ := result.RowsAffected()
	if n == 0 {
		return apperror.NewNotFound("user not found")
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanProfile reads one profileColumns row.
func (r *userRepository) scanProfile(row rowScanner) (*User, error) {
	user := &User{}
	var role string
	var lastLogin sql.NullTime
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.DisplayName,
		&role,
		&user.IsActive,
		&user.CreatedAt,
		&user.UpdatedAt,
		&lastLogin,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user row: %w", err)
	}

	user.Role = Role(role)
	if lastLogin.Valid {
		user.LastLoginAt = &lastLogin.Time
	}
	return user, nil
}

// isUniqueViolation recognizes duplicate-key errors from both drivers.
func isUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
