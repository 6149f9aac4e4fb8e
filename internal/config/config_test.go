package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Address() != "0.0.0.0:8080" {
		t.Fatalf("unexpected address: %s", cfg.Server.Address())
	}
	if cfg.Storage.Backend != BackendDisk {
		t.Fatalf("unexpected default backend: %s", cfg.Storage.Backend)
	}
	if cfg.Limits.MaxUploadBytes != 140*1024*1024 {
		t.Fatalf("unexpected max upload: %d", cfg.Limits.MaxUploadBytes)
	}
	if cfg.Limits.MaxQuotaBytes != 240*1024*1024 {
		t.Fatalf("unexpected max quota: %d", cfg.Limits.MaxQuotaBytes)
	}
	if cfg.Limits.MaxQuotaFiles != 100 {
		t.Fatalf("unexpected max quota files: %d", cfg.Limits.MaxQuotaFiles)
	}
	if cfg.Limits.DefaultExpiry != 24*time.Hour || cfg.Limits.MaxExpiry != 72*time.Hour {
		t.Fatalf("unexpected expiry bounds: %v / %v", cfg.Limits.DefaultExpiry, cfg.Limits.MaxExpiry)
	}
	if cfg.Limits.DefaultAccessLimit != 1 || cfg.Limits.MaxAccessLimit != 30 {
		t.Fatalf("unexpected access bounds: %d / %d", cfg.Limits.DefaultAccessLimit, cfg.Limits.MaxAccessLimit)
	}
	if cfg.Sweep.Interval != 15*time.Minute {
		t.Fatalf("unexpected sweep interval: %v", cfg.Sweep.Interval)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("FILEDROP_API_PORT", "9090")
	t.Setenv("FILEDROP_PUBLIC_URL", "https://drop.example.com/")
	t.Setenv("FILEDROP_STORAGE_BACKEND", "minio")
	t.Setenv("FILEDROP_MAX_UPLOAD_BYTES", "1048576")
	t.Setenv("FILEDROP_SWEEP_INTERVAL", "1m")
	t.Setenv("MINIO_ENDPOINT", "objectstore")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("port override ignored: %d", cfg.Server.Port)
	}
	if cfg.Server.PublicURL != "https://drop.example.com" {
		t.Fatalf("public URL not normalized: %s", cfg.Server.PublicURL)
	}
	if cfg.Storage.Backend != BackendMinIO {
		t.Fatalf("backend override ignored: %s", cfg.Storage.Backend)
	}
	if cfg.Limits.MaxUploadBytes != 1048576 {
		t.Fatalf("max upload override ignored: %d", cfg.Limits.MaxUploadBytes)
	}
	if cfg.Sweep.Interval != time.Minute {
		t.Fatalf("sweep interval override ignored: %v", cfg.Sweep.Interval)
	}
	if cfg.Storage.MinIO.Endpoint != "objectstore:9000" {
		t.Fatalf("portless endpoint not defaulted: %s", cfg.Storage.MinIO.Endpoint)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("FILEDROP_STORAGE_BACKEND", "tape")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}
