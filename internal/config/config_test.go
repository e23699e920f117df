package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadSubstitutesEnvVars(t *testing.T) {
	t.Setenv("TEST_PG_DSN", "postgres://real/db")

	path := writeConfig(t, `{
		"database": {
			"postgres": {"dsn": "${TEST_PG_DSN}"},
			"redis": {"url": "${TEST_REDIS_URL:redis://localhost:6379}"}
		}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Postgres.DSN != "postgres://real/db" {
		t.Errorf("dsn = %q, want env value", cfg.Database.Postgres.DSN)
	}
	// Unset variable falls back to the inline default.
	if cfg.Database.Redis.URL != "redis://localhost:6379" {
		t.Errorf("redis url = %q, want default", cfg.Database.Redis.URL)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8090 {
		t.Errorf("port = %d, want 8090", cfg.Server.Port)
	}
	if cfg.Retrieval.DefaultLimit != 5 {
		t.Errorf("default limit = %d, want 5", cfg.Retrieval.DefaultLimit)
	}
	if cfg.Assembler.MaxContextLength != 4000 {
		t.Errorf("max context = %d, want 4000", cfg.Assembler.MaxContextLength)
	}
	if cfg.Backlog.BatchSize != 10 || cfg.Backlog.IntervalSeconds != 300 {
		t.Errorf("backlog = %+v", cfg.Backlog)
	}
	if cfg.MigrationsDir != "migrations" {
		t.Errorf("migrations dir = %q", cfg.MigrationsDir)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
