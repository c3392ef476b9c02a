package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"DATABASE_DRIVER", "TICKET_TTL_MINUTES", "HONOR_SUPERSEDED_SUBMISSIONS", "ALLOWED_ORIGINS"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	if cfg.DatabaseDriver != DriverPostgres {
		t.Errorf("expected driver %q, got %q", DriverPostgres, cfg.DatabaseDriver)
	}
	if cfg.TicketTTL != 15*time.Minute {
		t.Errorf("expected 15m ticket ttl, got %v", cfg.TicketTTL)
	}
	if !cfg.HonorSupersededSubmissions {
		t.Error("expected superseded submissions to be honored by default")
	}
	if cfg.AllowedOrigins != nil {
		t.Errorf("expected nil origins, got %v", cfg.AllowedOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "SQLite")
	t.Setenv("HONOR_SUPERSEDED_SUBMISSIONS", "false")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("MAX_DB_CONNS", "not-a-number")

	cfg := Load()
	if cfg.DatabaseDriver != DriverSQLite {
		t.Errorf("expected driver %q, got %q", DriverSQLite, cfg.DatabaseDriver)
	}
	if cfg.HonorSupersededSubmissions {
		t.Error("expected superseded submissions to be rejected")
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("unexpected origins %v", cfg.AllowedOrigins)
	}
	if cfg.MaxDBConns != 16 {
		t.Errorf("expected fallback 16 conns, got %d", cfg.MaxDBConns)
	}
}
