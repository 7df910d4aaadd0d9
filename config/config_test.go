package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadExpandsEnvPlaceholders(t *testing.T) {
	t.Setenv("TEST_STORAGE_CONN", "UseDevelopmentStorage=true")
	t.Setenv("TEST_REDIS_CONN", "redis://localhost:6379")

	path := writeConfig(t, `
server:
  addr: ":9090"
storage:
  backend: table
  connection_string: ${TEST_STORAGE_CONN}
  tasks_table: boardtasks
redis:
  connection_string: ${TEST_REDIS_CONN}
  channel: board-updates
  cache_ttl: 30s
auth:
  domain: example.auth0.com
  audience: https://api.example.com
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("unexpected addr: %s", cfg.Server.Addr)
	}
	if cfg.Storage.ConnectionString != "UseDevelopmentStorage=true" {
		t.Fatalf("placeholder not expanded: %s", cfg.Storage.ConnectionString)
	}
	if cfg.Redis.ConnectionString != "redis://localhost:6379" {
		t.Fatalf("placeholder not expanded: %s", cfg.Redis.ConnectionString)
	}
	if cfg.Storage.TasksTable != "boardtasks" || cfg.Redis.Channel != "board-updates" {
		t.Fatalf("unexpected config: %#v", cfg)
	}

	ttl, err := cfg.CacheTTL()
	if err != nil {
		t.Fatalf("cache ttl: %v", err)
	}
	if ttl != 30*time.Second {
		t.Fatalf("unexpected ttl: %v", ttl)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "storage:\n  backend: memory\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8080" || cfg.Storage.TasksTable != "tasks" {
		t.Fatalf("defaults not applied: %#v", cfg)
	}
	if cfg.Redis.Channel != "task-updates" || cfg.Redis.CacheTTL != "5m" {
		t.Fatalf("defaults not applied: %#v", cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a map")
	if _, err := Load(path); err == nil {
		t.Fatal("malformed yaml accepted")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Storage.Backend != "memory" || cfg.Server.Addr != ":8080" {
		t.Fatalf("unexpected defaults: %#v", cfg)
	}
}

func TestCacheTTLRejectsGarbage(t *testing.T) {
	cfg := Default()
	cfg.Redis.CacheTTL = "soon"
	if _, err := cfg.CacheTTL(); err == nil {
		t.Fatal("garbage ttl accepted")
	}
}
