package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Driver != DriverSQLite {
		t.Errorf("expected sqlite driver, got %s", cfg.Database.Driver)
	}
	if cfg.Auth.BcryptCost != 12 {
		t.Errorf("expected bcrypt cost 12, got %d", cfg.Auth.BcryptCost)
	}
	if cfg.Ledger.Timezone != "Asia/Manila" {
		t.Errorf("expected Asia/Manila, got %s", cfg.Ledger.Timezone)
	}
	if cfg.Ledger.LockTimeout != 5*time.Second {
		t.Errorf("expected 5s lock timeout, got %s", cfg.Ledger.LockTimeout)
	}
	if !cfg.Redis.Embedded() {
		t.Error("expected embedded redis by default")
	}
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DB_DRIVER", "postgres")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestLoad_RejectsBadTimezone(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LEDGER_TIMEZONE", "Mars/Olympus")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}

func TestLoad_ProductionRequiresRedis(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ENV", "Production")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "REDIS_URL") {
		t.Fatalf("expected REDIS_URL error, got %v", err)
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	sqlite := DatabaseConfig{Driver: DriverSQLite, Path: "/tmp/x.db"}
	if !strings.HasPrefix(sqlite.DSN(), "file:/tmp/x.db?") {
		t.Errorf("unexpected sqlite DSN %q", sqlite.DSN())
	}

	my := DatabaseConfig{Driver: DriverMySQL, Host: "db", User: "u", Password: "p@ss", Name: "tarms"}
	dsn := my.DSN()
	if !strings.Contains(dsn, "tcp(db:3306)") {
		t.Errorf("expected default port appended, got %q", dsn)
	}
	if !strings.Contains(dsn, "parseTime=true") {
		t.Errorf("expected parseTime, got %q", dsn)
	}
}

func TestLoad_TrustedProxiesList(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TRUSTED_PROXIES", " 10.0.0.0/8, ,172.16.0.0/12 ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.TrustedProxies) != 2 || cfg.TrustedProxies[1] != "172.16.0.0/12" {
		t.Errorf("unexpected proxies %q", cfg.TrustedProxies)
	}
}
