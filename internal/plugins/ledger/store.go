package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tarmsledger/tarms/internal/apperror"
)

// Store is the ledger persistence contract. FileStore is the only
// implementation; a log-structured store can replace it behind this
// interface without touching the service.
type Store interface {
	// Append adds tx at the end of the ledger.
	Append(ctx context.Context, tx Transaction) error

	// UpdateByID replaces the mutable fields of the transaction with the
	// given id and returns the result. A missing id yields apperror.NotFound
	// and leaves the ledger untouched.
	UpdateByID(ctx context.Context, id string, p Patch) (Transaction, error)

	// DeleteByID removes the transaction with the given id. Deleting a
	// missing id is a no-op; removed reports whether anything was deleted.
	DeleteByID(ctx context.Context, id string) (removed bool, err error)

	// Query filters the ledger in insertion order and returns one page,
	// clamping page into range.
	Query(ctx context.Context, f Filter, page, perPage int) (Page, error)

	// ExportCSV writes the filtered ledger, preceded by a totals summary.
	ExportCSV(ctx context.Context, f Filter, w io.Writer) error

	// Totals sums the whole, unfiltered ledger.
	Totals(ctx context.Context) (Totals, error)
}

// FileStore keeps the ledger as a JSON array in one file. Writers hold an
// exclusive lock on "<file>.lock" across read-modify-write and replace the
// file by rename; readers hold a shared lock, so they always see a complete
// old or new version.
type FileStore struct {
	path        string
	lockPath    string
	lockTimeout time.Duration
	loc         *time.Location
}

// NewFileStore creates a store for the ledger file at path. Lock waits are
// bounded by lockTimeout; dates are interpreted in loc.
func NewFileStore(path string, lockTimeout time.Duration, loc *time.Location) *FileStore {
	return &FileStore{
		path:        path,
		lockPath:    path + ".lock",
		lockTimeout: lockTimeout,
		loc:         loc,
	}
}

// Path returns the ledger file location.
func (s *FileStore) Path() string { return s.path }

// Append adds tx at the end of the ledger.
func (s *FileStore) Append(ctx context.Context, tx Transaction) error {
	return s.mutate(ctx, func(items []Transaction) ([]Transaction, bool, error) {
		return append(items, tx), true, nil
	})
}

// UpdateByID replaces the mutable fields of one transaction.
func (s *FileStore) UpdateByID(ctx context.Context, id string, p Patch) (Transaction, error) {
	var updated Transaction
	err := s.mutate(ctx, func(items []Transaction) ([]Transaction, bool, error) {
		for i := range items {
			if items[i].ID == id {
				p.apply(&items[i])
				updated = items[i]
				return items, true, nil
			}
		}
		return nil, false, apperror.NewNotFound("Transaction not found.")
	})
	return updated, err
}

// DeleteByID removes one transaction if present.
func (s *FileStore) DeleteByID(ctx context.Context, id string) (bool, error) {
	var removed bool
	err := s.mutate(ctx, func(items []Transaction) ([]Transaction, bool, error) {
		kept := items[:0]
		for _, it := range items {
			if it.ID == id {
				removed = true
				continue
			}
			kept = append(kept, it)
		}
		return kept, removed, nil
	})
	return removed, err
}

// Query filters and paginates the ledger.
func (s *FileStore) Query(ctx context.Context, f Filter, page, perPage int) (Page, error) {
	items, err := s.snapshot(ctx)
	if err != nil {
		return Page{}, err
	}
	return paginate(s.filter(items, f), page, perPage), nil
}

// ExportCSV writes the filtered ledger as CSV.
func (s *FileStore) ExportCSV(ctx context.Context, f Filter, w io.Writer) error {
	items, err := s.snapshot(ctx)
	if err != nil {
		return err
	}
	return writeCSV(w, s.filter(items, f))
}

// Totals sums the whole ledger.
func (s *FileStore) Totals(ctx context.Context) (Totals, error) {
	items, err := s.snapshot(ctx)
	if err != nil {
		return Totals{}, err
	}
	return Summarize(items), nil
}

// mutate runs fn over the current ledger under the exclusive lock. When fn
// reports no change the file is not rewritten.
func (s *FileStore) mutate(ctx context.Context, fn func([]Transaction) ([]Transaction, bool, error)) error {
	lock, err := acquireLock(ctx, s.lockPath, true, s.lockTimeout)
	if err != nil {
		return storageError("locking ledger", err)
	}
	defer lock.release()

	items, err := s.read()
	if err != nil {
		return storageError("reading ledger", err)
	}

	items, changed, err := fn(items)
	if err != nil || !changed {
		return err
	}

	if err := s.write(items); err != nil {
		return storageError("writing ledger", err)
	}
	return nil
}

// snapshot reads the ledger under a shared lock.
func (s *FileStore) snapshot(ctx context.Context) ([]Transaction, error) {
	lock, err := acquireLock(ctx, s.lockPath, false, s.lockTimeout)
	if err != nil {
		return nil, storageError("locking ledger", err)
	}
	defer lock.release()

	items, err := s.read()
	if err != nil {
		return nil, storageError("reading ledger", err)
	}
	return items, nil
}

// read loads the ledger. A missing or blank file is an empty ledger; a
// file that is not a JSON array is an error, never silently treated as
// empty, so a later write cannot wipe it.
func (s *FileStore) read() ([]Transaction, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []Transaction{}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []Transaction{}, nil
	}

	var items []Transaction
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", s.path, err)
	}
	if items == nil {
		items = []Transaction{}
	}
	return items, nil
}

// write replaces the ledger atomically: the new content goes to a temp file
// in the same directory, is synced, then renamed over the old file.
func (s *FileStore) write(items []Transaction) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(items); err != nil {
		return fmt.Errorf("encoding ledger: %w", err)
	}

	dir, base := filepath.Split(s.path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}

// filter applies f in insertion order.
func (s *FileStore) filter(items []Transaction, f Filter) []Transaction {
	q := strings.ToLower(strings.TrimSpace(f.Query))
	bounded := !f.From.IsZero() || !f.To.IsZero()

	out := make([]Transaction, 0, len(items))
	for _, it := range items {
		if q != "" &&
			!strings.Contains(strings.ToLower(it.Description), q) &&
			!strings.Contains(strings.ToLower(it.ID), q) &&
			!strings.Contains(strings.ToLower(it.Person), q) {
			continue
		}
		if f.Type != "" && it.Type != f.Type {
			continue
		}
		if bounded {
			t, ok := it.TxTime(s.loc)
			if !ok {
				continue
			}
			if !f.From.IsZero() && t.Before(f.From) {
				continue
			}
			if !f.To.IsZero() && t.After(f.To) {
				continue
			}
		}
		out = append(out, it)
	}
	return out
}

// paginate slices items into the requested page. page is clamped into
// [1, totalPages], and to 1 when there is nothing to show.
func paginate(items []Transaction, page, perPage int) Page {
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	total := len(items)
	totalPages := (total + perPage - 1) / perPage

	page = min(page, max(1, totalPages))
	page = max(1, page)

	start := min((page-1)*perPage, total)
	end := min(start+perPage, total)

	return Page{
		Items:      items[start:end],
		Total:      total,
		TotalPages: totalPages,
		Page:       page,
		PerPage:    perPage,
	}
}

// storageError wraps lock and I/O failures as a retryable storage fault.
func storageError(op string, err error) error {
	return apperror.NewStorage(fmt.Errorf("%s: %w", op, err))
}
