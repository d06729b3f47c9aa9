package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/tarmsledger/tarms/internal/config"
)

// migrationFiles holds the per-driver schema. Each driver has its own
// directory because column types and collations differ.
//
//go:embed migrations
var migrationFiles embed.FS

// RunMigrations applies all pending migrations for the given driver.
// Uses golang-migrate to track which migrations have already been applied.
// Safe to call on every startup; already-applied migrations are skipped.
//
// The migrate instance is deliberately not closed: it would close db too.
func RunMigrations(db *sql.DB, driver string) error {
	var (
		dbDriver migratedb.Driver
		err      error
	)
	switch driver {
	case config.DriverSQLite:
		dbDriver, err = sqlite.WithInstance(db, &sqlite.Config{})
	case config.DriverMySQL:
		dbDriver, err = mysql.WithInstance(db, &mysql.Config{})
	default:
		return fmt.Errorf("no migrations for driver %q", driver)
	}
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}

	src, err := iofs.New(migrationFiles, "migrations/"+driver)
	if err != nil {
		return fmt.Errorf("opening embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, driver, dbDriver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	slog.Debug("migrations applied",
		slog.String("driver", driver),
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)

	return nil
}
