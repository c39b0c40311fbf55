package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "secret")
	t.Setenv("COSAFE_CONFIG", "")
	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.CacheVersion != 1 || cfg.SyncMaxAttempts != 5 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.HeartbeatInterval != 30*time.Second || cfg.SyncInterval != 30*time.Second {
		t.Fatalf("unexpected intervals %+v", cfg)
	}
}

func TestLoadConfigYAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cosafe.yaml")
	body := "device_id: kitchen\ncache_version: 3\nheartbeat_interval: 10s\nsimulate: true\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("AUTH_JWT_SECRET", "secret")
	t.Setenv("DEVICE_ID", "from-env")
	t.Setenv("COSAFE_CONFIG", path)
	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DeviceID != "kitchen" || cfg.CacheVersion != 3 || cfg.HeartbeatInterval != 10*time.Second || !cfg.Simulate {
		t.Fatalf("yaml overlay not applied: %+v", cfg)
	}
}

func TestLoadConfigRequiresSecret(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("COSAFE_CONFIG", "")
	if _, err := loadConfig(); err == nil {
		t.Fatalf("expected missing secret error")
	}
}
