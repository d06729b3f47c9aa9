// Package main is the entry point for the TARMS server. It loads
// configuration, connects the credential store and the session store,
// opens the ledger file, wires the plugins and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	// The ledger timezone must resolve even on hosts without zoneinfo.
	_ "time/tzdata"

	"github.com/tarmsledger/tarms/internal/app"
	"github.com/tarmsledger/tarms/internal/config"
	"github.com/tarmsledger/tarms/internal/database"
	"github.com/tarmsledger/tarms/internal/plugins/ledger"
)

func main() {
	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	setupLogging(cfg)

	slog.Info("starting TARMS",
		slog.String("env", cfg.Env),
		slog.Int("port", cfg.Port),
		slog.String("db_driver", cfg.Database.Driver),
	)

	// --- Credential Store ---
	db, err := database.Open(cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if err := database.RunMigrations(db, cfg.Database.Driver); err != nil {
		slog.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("credential store ready")

	// --- Session Store ---
	rdb, closeRedis, err := database.NewRedis(cfg.Redis)
	if err != nil {
		slog.Error("failed to connect to Redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeRedis()
	slog.Info("session store ready")

	// --- Ledger ---
	loc, err := cfg.Ledger.Location()
	if err != nil {
		slog.Error("invalid ledger timezone", slog.Any("error", err))
		os.Exit(1)
	}
	store := ledger.NewFileStore(cfg.Ledger.File, cfg.Ledger.LockTimeout, loc)
	slog.Info("ledger ready",
		slog.String("file", store.Path()),
		slog.String("timezone", loc.String()),
	)

	// --- Create Application ---
	application, err := app.New(cfg, db, rdb, store)
	if err != nil {
		slog.Error("failed to create application", slog.Any("error", err))
		os.Exit(1)
	}
	if err := application.RegisterRoutes(); err != nil {
		slog.Error("failed to register routes", slog.Any("error", err))
		os.Exit(1)
	}

	// --- Graceful Shutdown ---
	// Drain in-flight requests on SIGINT/SIGTERM so no ledger write is
	// interrupted between the temp file and the rename.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		slog.Info("shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := application.Echo.Shutdown(ctx); err != nil {
			slog.Error("server forced shutdown", slog.Any("error", err))
		}
	}()

	// --- Start Server ---
	if err := application.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// setupLogging configures the global slog logger based on the environment.
// Development uses text format for readability. Everything else uses JSON
// for structured log aggregation. LOG_LEVEL overrides the default level.
func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	if cfg.IsDevelopment() {
		level = slog.LevelDebug
	}
	if cfg.LogLevel != "" {
		var parsed slog.Level
		if err := parsed.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err == nil {
			level = parsed
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.IsDevelopment() {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
