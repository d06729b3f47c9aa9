// Package database provides connection setup for the credential store
// (SQLite or MariaDB/MySQL) and the Redis session store. All connections are
// created once at startup and shared across the application via dependency
// injection. This package owns the connection lifecycle (open, configure
// pool, ping, migrate, close).
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	// MySQL driver -- imported for side effect of registering the driver.
	_ "github.com/go-sql-driver/mysql"
	// Pure-Go SQLite driver, registered as "sqlite".
	_ "modernc.org/sqlite"

	"github.com/tarmsledger/tarms/internal/config"
)

// Open creates the credential store connection pool for the configured
// driver and pings it before returning. MySQL connections are retried with
// exponential backoff because the database container may still be starting.
func Open(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening %s connection: %w", cfg.Driver, err)
	}

	if cfg.Driver == config.DriverSQLite {
		// SQLite serializes writers anyway; a single connection also keeps
		// ":memory:" databases from splitting across pool connections.
		db.SetMaxOpenConns(1)
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("pinging sqlite: %w", err)
		}
		return db, nil
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	const maxRetries = 10
	backoff := 1 * time.Second
	var pingErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		pingErr = db.PingContext(ctx)
		cancel()

		if pingErr == nil {
			return db, nil
		}

		if attempt == maxRetries {
			break
		}

		slog.Warn("mysql not ready, retrying...",
			slog.Int("attempt", attempt),
			slog.Int("max_retries", maxRetries),
			slog.Duration("backoff", backoff),
			slog.Any("error", pingErr),
		)
		time.Sleep(backoff)
		backoff = min(backoff*2, 30*time.Second)
	}

	db.Close()
	return nil, fmt.Errorf("pinging mysql after %d attempts: %w", maxRetries, pingErr)
}

// OpenMemory opens a fresh in-memory SQLite database with the schema applied.
// Used by tests and by the adduser CLI's dry-run mode.
func OpenMemory() (*sql.DB, error) {
	db, err := Open(config.DatabaseConfig{Driver: config.DriverSQLite, Path: ":memory:"})
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(db, config.DriverSQLite); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
