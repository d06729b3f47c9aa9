// Package config handles loading application configuration from environment
// variables. All config is centralized here so no other package reads env
// vars directly. Sensible defaults are provided for development.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
)

// Supported credential store drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Config holds all application configuration. Populated from environment
// variables at startup. Passed to other packages via dependency injection.
type Config struct {
	// Env is the runtime environment: "development" or "production".
	Env string

	// Port is the HTTP listen port (default: 8080).
	Port int

	// BaseURL is the public-facing URL used for links and redirects.
	BaseURL string

	// LogLevel controls log verbosity: "debug", "info", "warn", "error".
	// Empty selects debug in development and info elsewhere.
	LogLevel string

	// RequestTimeout bounds every request's context. Zero disables it.
	RequestTimeout time.Duration

	// TrustedProxies lists the CIDRs whose X-Forwarded-For and X-Real-IP
	// headers are believed when resolving the client IP.
	TrustedProxies []string

	// Database holds credential store connection settings.
	Database DatabaseConfig

	// Redis holds session store connection settings.
	Redis RedisConfig

	// Auth holds authentication-related settings.
	Auth AuthConfig

	// Ledger holds transaction file settings.
	Ledger LedgerConfig
}

// DatabaseConfig holds credential store connection parameters. SQLite is the
// default (a single file, like the original deployment); MariaDB/MySQL is used
// when DB_DRIVER=mysql. If DATABASE_URL is set, it takes precedence over the
// individual MySQL fields.
type DatabaseConfig struct {
	// Driver is "sqlite" or "mysql".
	Driver string

	// Path is the SQLite database file (default: "tarms.db").
	Path string

	// Host is the MySQL address in host:port format (default: "localhost:3306").
	// If no port is specified, 3306 is appended automatically.
	Host string

	// User is the MySQL username (default: "tarms").
	User string

	// Password is the MySQL password (default: "tarms").
	Password string

	// Name is the database name (default: "tarms").
	Name string

	// dsnOverride is set when DATABASE_URL is provided, bypassing individual fields.
	dsnOverride string

	// MaxOpenConns is the maximum number of open connections in the pool.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections in the pool.
	MaxIdleConns int

	// ConnMaxLifetime is how long a connection can be reused.
	ConnMaxLifetime time.Duration
}

// DSN returns the driver connection string. For SQLite it is the file path
// with foreign keys and a busy timeout enabled. For MySQL, DATABASE_URL is
// returned as-is if set; otherwise the DSN is built with the driver's
// Config.FormatDSN() to safely handle special characters in passwords.
func (d DatabaseConfig) DSN() string {
	if d.Driver == DriverSQLite {
		return "file:" + d.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"
	}
	if d.dsnOverride != "" {
		return d.dsnOverride
	}
	cfg := mysql.NewConfig()
	cfg.User = d.User
	cfg.Passwd = d.Password
	cfg.Net = "tcp"
	cfg.Addr = ensurePort(d.Host, "3306")
	cfg.DBName = d.Name
	cfg.ParseTime = true
	cfg.MultiStatements = true
	cfg.ClientFoundRows = true
	return cfg.FormatDSN()
}

// ensurePort appends the default port if the host string doesn't include one.
// Allows users to set DB_HOST=mydb (gets :3306) or DB_HOST=mydb:3307 (as-is).
func ensurePort(host, defaultPort string) string {
	_, _, err := net.SplitHostPort(host)
	if err != nil {
		return net.JoinHostPort(host, defaultPort)
	}
	return host
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379").
	// Empty means an embedded in-process Redis is started instead.
	URL string
}

// Embedded reports whether sessions should live in an in-process Redis.
func (r RedisConfig) Embedded() bool {
	return r.URL == ""
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	// SessionTTL is how long an idle session survives in Redis.
	SessionTTL time.Duration

	// BcryptCost is the bcrypt work factor for new password hashes.
	BcryptCost int

	// SecureCookies forces the Secure flag on session cookies even when the
	// request did not arrive over TLS.
	SecureCookies bool
}

// LedgerConfig holds settings for the transaction file.
type LedgerConfig struct {
	// File is the path of the JSON collection (default: "transactions.json").
	File string

	// LockTimeout bounds how long a writer waits for the file lock.
	LockTimeout time.Duration

	// Timezone is the IANA zone used for parsing and defaulting dates.
	Timezone string
}

// Location loads the configured ledger time zone.
func (l LedgerConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(l.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading ledger timezone %q: %w", l.Timezone, err)
	}
	return loc, nil
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is read first if present; variables
// already set in the environment win. Returns an error if required variables
// are missing or invalid.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading .env: %w", err)
	}

	cfg := &Config{
		Env:            getEnv("ENV", "development"),
		Port:           getEnvInt("PORT", 8080),
		BaseURL:        getEnv("BASE_URL", "http://localhost:8080"),
		LogLevel:       getEnv("LOG_LEVEL", ""),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		TrustedProxies: getEnvList("TRUSTED_PROXIES", "127.0.0.1/8,::1/128"),

		Database: DatabaseConfig{
			Driver:          strings.ToLower(getEnv("DB_DRIVER", DriverSQLite)),
			Path:            getEnv("DB_PATH", "tarms.db"),
			Host:            getEnv("DB_HOST", "localhost:3306"),
			User:            getEnv("DB_USER", "tarms"),
			Password:        getEnv("DB_PASSWORD", "tarms"),
			Name:            getEnv("DB_NAME", "tarms"),
			dsnOverride:     getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},

		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},

		Auth: AuthConfig{
			SessionTTL:    getEnvDuration("SESSION_TTL", 24*time.Hour),
			BcryptCost:    getEnvInt("BCRYPT_COST", 12),
			SecureCookies: getEnvBool("SECURE_COOKIES", false),
		},

		Ledger: LedgerConfig{
			File:        getEnv("LEDGER_FILE", "transactions.json"),
			LockTimeout: getEnvDuration("LEDGER_LOCK_TIMEOUT", 5*time.Second),
			Timezone:    getEnv("LEDGER_TIMEZONE", "Asia/Manila"),
		},
	}

	if cfg.Database.Driver != DriverSQLite && cfg.Database.Driver != DriverMySQL {
		return nil, fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverSQLite, DriverMySQL, cfg.Database.Driver)
	}
	if _, err := cfg.Ledger.Location(); err != nil {
		return nil, err
	}
	if cfg.Ledger.LockTimeout <= 0 {
		return nil, fmt.Errorf("LEDGER_LOCK_TIMEOUT must be positive")
	}

	// Validate hardening requirements in production. Case-insensitive check
	// catches common variants like "Production", "prod", etc.
	if cfg.IsProduction() {
		if cfg.Auth.BcryptCost < 10 {
			return nil, fmt.Errorf("BCRYPT_COST must be at least 10 in production")
		}
		if cfg.Redis.Embedded() {
			return nil, fmt.Errorf("REDIS_URL is required in production")
		}
	}

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	env := strings.ToLower(c.Env)
	return env == "development" || env == "dev"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Env)
	return env == "production" || env == "prod"
}

// --- Helper functions for reading environment variables ---

// getEnv reads a string env var or returns the default.
func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvInt reads an integer env var or returns the default.
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvBool reads a boolean env var ("true", "1", ...) or returns the default.
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvDuration reads a duration env var (e.g., "24h") or returns the default.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// getEnvList reads a comma-separated env var, dropping empty items.
func getEnvList(key, defaultVal string) []string {
	var out []string
	for _, item := range strings.Split(getEnv(key, defaultVal), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
