package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tarmsledger/tarms/internal/apperror"
)

// perPage is the number of audit entries shown per page.
const perPage = 50

// AuditService handles business logic for the audit log. It validates inputs,
// enforces limits, and delegates persistence to the repository.
type AuditService interface {
	// Log records an audit entry and reports failure to the caller.
	Log(ctx context.Context, entry *AuditEntry) error

	// Record is the fire-and-forget form of Log used by request handlers:
	// failures are logged and swallowed.
	Record(ctx context.Context, entry AuditEntry)

	// RecordCSRFMismatch stores a security.csrf_mismatch event.
	RecordCSRFMismatch(ctx context.Context, remoteIP, path string)

	// List returns one page of entries, newest first, and the total count.
	List(ctx context.Context, action string, page int) ([]AuditEntry, int, error)
}

// auditService implements AuditService.
type auditService struct {
	repo AuditRepository
}

// NewAuditService creates a new audit service with the given repository.
func NewAuditService(repo AuditRepository) AuditService {
	return &auditService{repo: repo}
}

// Log validates and persists an audit entry. Missing required fields cause
// a validation error.
func (s *auditService) Log(ctx context.Context, entry *AuditEntry) error {
	if entry.Action == "" {
		return apperror.NewBadRequest("action is required for audit entry")
	}

	if err := s.repo.Log(ctx, entry); err != nil {
		slog.Error("failed to write audit log entry",
			slog.String("action", entry.Action),
			slog.Any("error", err),
		)
		return apperror.NewInternal(fmt.Errorf("writing audit entry: %w", err))
	}

	return nil
}

// Record writes the entry, detached from the request's cancellation so a
// client disconnect does not drop the event.
func (s *auditService) Record(ctx context.Context, entry AuditEntry) {
	_ = s.Log(context.WithoutCancel(ctx), &entry)
}

// RecordCSRFMismatch implements session.SecurityRecorder.
func (s *auditService) RecordCSRFMismatch(ctx context.Context, remoteIP, path string) {
	s.Record(ctx, AuditEntry{
		Action:   ActionCSRFMismatch,
		RemoteIP: remoteIP,
		Details:  map[string]any{"path": path},
	})
}

// List returns the paginated audit feed. Pages are 1-indexed. Invalid page
// numbers are clamped to 1.
func (s *auditService) List(ctx context.Context, action string, page int) ([]AuditEntry, int, error) {
	if page < 1 {
		page = 1
	}

	offset := (page - 1) * perPage
	entries, total, err := s.repo.List(ctx, action, perPage, offset)
	if err != nil {
		return nil, 0, apperror.NewInternal(fmt.Errorf("listing audit entries: %w", err))
	}

	return entries, total, nil
}
