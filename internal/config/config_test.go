package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.GRPCAddr() != "0.0.0.0:50051" {
		t.Fatalf("GRPCAddr() = %q, want %q", cfg.GRPCAddr(), "0.0.0.0:50051")
	}
	if cfg.BlockDuration != 30*time.Minute {
		t.Fatalf("BlockDuration = %v, want 30m", cfg.BlockDuration)
	}
	if cfg.MinLeadTime != time.Hour {
		t.Fatalf("MinLeadTime = %v, want 1h", cfg.MinLeadTime)
	}
	if cfg.MaxTxRetries != 3 {
		t.Fatalf("MaxTxRetries = %d, want 3", cfg.MaxTxRetries)
	}
	if cfg.SettingsSource != SettingsFromConfig {
		t.Fatalf("SettingsSource = %q, want %q", cfg.SettingsSource, SettingsFromConfig)
	}
	if cfg.RedisURL != "" {
		t.Fatalf("RedisURL = %q, want empty", cfg.RedisURL)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TURNOPLUS_GRPC_ADDR", "127.0.0.1:6000")
	t.Setenv("TURNOPLUS_SCHEDULING_BLOCK_DURATION", "45m")
	t.Setenv("TURNOPLUS_SCHEDULING_MAX_TX_RETRIES", "5")
	t.Setenv("TURNOPLUS_SCHEDULING_SETTINGS_SOURCE", "Database")
	t.Setenv("REDIS_URL", "redis://127.0.0.1:6379/0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.GRPCAddr() != "127.0.0.1:6000" {
		t.Fatalf("GRPCAddr() = %q, want %q", cfg.GRPCAddr(), "127.0.0.1:6000")
	}
	if cfg.BlockDuration != 45*time.Minute {
		t.Fatalf("BlockDuration = %v, want 45m", cfg.BlockDuration)
	}
	if cfg.MaxTxRetries != 5 {
		t.Fatalf("MaxTxRetries = %d, want 5", cfg.MaxTxRetries)
	}
	if cfg.SettingsSource != SettingsFromDatabase {
		t.Fatalf("SettingsSource = %q, want %q", cfg.SettingsSource, SettingsFromDatabase)
	}
	if cfg.RedisURL != "redis://127.0.0.1:6379/0" {
		t.Fatalf("RedisURL = %q", cfg.RedisURL)
	}
}

func TestLoad_Rejections(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"bad duration", "TURNOPLUS_SHUTDOWN_TIMEOUT", "soon"},
		{"zero block", "TURNOPLUS_SCHEDULING_BLOCK_DURATION", "0s"},
		{"negative retries", "TURNOPLUS_SCHEDULING_MAX_TX_RETRIES", "-1"},
		{"unknown settings source", "TURNOPLUS_SCHEDULING_SETTINGS_SOURCE", "etcd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() error = nil, want error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("TURNOPLUS_HTTP_ADDR=:9090\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	// godotenv sets real process env; make sure it is cleared afterwards.
	t.Setenv("TURNOPLUS_HTTP_ADDR", "")
	os.Unsetenv("TURNOPLUS_HTTP_ADDR")

	cfg, err := Load(path, filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Fatalf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9090")
	}
}
