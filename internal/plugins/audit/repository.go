package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// AuditRepository defines the data access contract for audit log operations.
// All SQL lives in the concrete implementation -- no SQL leaks out.
type AuditRepository interface {
	// Log inserts a new audit entry into the database.
	Log(ctx context.Context, entry *AuditEntry) error

	// List returns audit entries newest first, optionally restricted to one
	// action, together with the total count for pagination.
	List(ctx context.Context, action string, limit, offset int) ([]AuditEntry, int, error)
}

// auditRepository implements AuditRepository with portable SQL.
type auditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a new repository backed by the given DB pool.
func NewAuditRepository(db *sql.DB) AuditRepository {
	return &auditRepository{db: db}
}

// Log inserts a new audit entry. The details map is serialized to JSON
// before storage. Nil details are stored as SQL NULL.
func (r *auditRepository) Log(ctx context.Context, entry *AuditEntry) error {
	query := `INSERT INTO audit_log (action, user_id, username, remote_ip, target_id, details, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?)`

	var detailsJSON any
	if entry.Details != nil {
		data, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("marshaling audit details: %w", err)
		}
		detailsJSON = string(data)
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	var userID any
	if entry.UserID != nil {
		userID = *entry.UserID
	}

	result, err := r.db.ExecContext(ctx, query,
		entry.Action, userID, entry.Username,
		entry.RemoteIP, entry.TargetID,
		detailsJSON, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting audit entry id: %w", err)
	}
	entry.ID = id

	return nil
}

// List returns a page of entries, most recent first. An empty action
// matches every entry.
func (r *auditRepository) List(ctx context.Context, action string, limit, offset int) ([]AuditEntry, int, error) {
	where := ""
	args := []any{}
	if action != "" {
		where = " WHERE action = ?"
		args = append(args, action)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting audit entries: %w", err)
	}

	query := `SELECT id, action, user_id, username, remote_ip, target_id, details, created_at
	          FROM audit_log` + where + `
	          ORDER BY created_at DESC, id DESC
	          LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing audit entries: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var (
			e       AuditEntry
			userID  sql.NullInt64
			details sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Action, &userID, &e.Username,
			&e.RemoteIP, &e.TargetID, &details, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning audit entry: %w", err)
		}
		if userID.Valid {
			id := userID.Int64
			e.UserID = &id
		}
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, 0, fmt.Errorf("unmarshaling audit details: %w", err)
			}
		}
		entries = append(entries, e)
	}

	return entries, total, rows.Err()
}
