package ledger

import (
	"bytes"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tarmsledger/tarms/internal/apperror"
	"github.com/tarmsledger/tarms/internal/plugins/access"
	"github.com/tarmsledger/tarms/internal/plugins/audit"
)

// Handler handles HTTP requests for the ledger. Handlers are thin: bind the
// request, pass the caller's identity to the service, write JSON.
type Handler struct {
	service Service
	audit   audit.AuditService
	loc     *time.Location
}

// NewHandler creates a new ledger handler. loc is used for export filenames.
func NewHandler(service Service, auditSvc audit.AuditService, loc *time.Location) *Handler {
	return &Handler{service: service, audit: auditSvc, loc: loc}
}

// deleteResponse reports whether a delete removed anything.
type deleteResponse struct {
	Deleted bool `json:"deleted"`
}

// List returns a filtered page of transactions with ledger totals
// (GET /transactions).
func (h *Handler) List(c echo.Context) error {
	var q ListQuery
	if err := c.Bind(&q); err != nil {
		return apperror.NewBadRequest("invalid query parameters")
	}
	if err := c.Validate(&q); err != nil {
		return err
	}

	who, _ := access.IdentityFrom(c)
	result, err := h.service.List(c.Request().Context(), who, q)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// Create adds a transaction (POST /transactions).
func (h *Handler) Create(c echo.Context) error {
	var in TransactionInput
	if err := c.Bind(&in); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	ctx := c.Request().Context()
	who, _ := access.IdentityFrom(c)
	tx, err := h.service.Create(ctx, who, in)
	if err != nil {
		return err
	}

	h.audit.Record(ctx, audit.AuditEntry{
		Action:   audit.ActionTransactionCreated,
		UserID:   audit.ActorID(who.UserID),
		Username: who.Username,
		RemoteIP: c.RealIP(),
		TargetID: tx.ID,
		Details:  map[string]any{"type": tx.Type, "amount": tx.Amount},
	})

	return c.JSON(http.StatusCreated, tx)
}

// Update edits a transaction (PUT or POST /transactions/:id). Admin only.
func (h *Handler) Update(c echo.Context) error {
	var in TransactionInput
	if err := c.Bind(&in); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	ctx := c.Request().Context()
	who, _ := access.IdentityFrom(c)
	tx, err := h.service.Update(ctx, who, c.Param("id"), in)
	if err != nil {
		return err
	}

	h.audit.Record(ctx, audit.AuditEntry{
		Action:   audit.ActionTransactionUpdated,
		UserID:   audit.ActorID(who.UserID),
		Username: who.Username,
		RemoteIP: c.RealIP(),
		TargetID: tx.ID,
		Details:  map[string]any{"type": tx.Type, "amount": tx.Amount},
	})

	return c.JSON(http.StatusOK, tx)
}

// Delete removes a transaction (DELETE /transactions/:id). Admin only.
// Deleting an unknown id succeeds with deleted=false.
func (h *Handler) Delete(c echo.Context) error {
	ctx := c.Request().Context()
	who, _ := access.IdentityFrom(c)
	id := c.Param("id")

	removed, err := h.service.Delete(ctx, who, id)
	if err != nil {
		return err
	}

	if removed {
		h.audit.Record(ctx, audit.AuditEntry{
			Action:   audit.ActionTransactionDeleted,
			UserID:   audit.ActorID(who.UserID),
			Username: who.Username,
			RemoteIP: c.RealIP(),
			TargetID: id,
		})
	}

	return c.JSON(http.StatusOK, deleteResponse{Deleted: removed})
}

// Export downloads the filtered ledger as CSV (GET /transactions/export).
// The document is built in memory first so a storage failure still yields
// a clean JSON error instead of a truncated file.
func (h *Handler) Export(c echo.Context) error {
	var q ListQuery
	if err := c.Bind(&q); err != nil {
		return apperror.NewBadRequest("invalid query parameters")
	}
	if err := c.Validate(&q); err != nil {
		return err
	}

	var buf bytes.Buffer
	who, _ := access.IdentityFrom(c)
	if err := h.service.Export(c.Request().Context(), who, q, &buf); err != nil {
		return err
	}

	filename := ExportFilename(time.Now().In(h.loc))
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	return c.Blob(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}
