package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected defaults to load, got error: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("unexpected addr: %s", cfg.Server.Addr)
	}
	if cfg.Prediction.BaseURL != "http://localhost:5000" {
		t.Fatalf("unexpected prediction url: %s", cfg.Prediction.BaseURL)
	}
	if cfg.Prediction.Timeout != 30*time.Second {
		t.Fatalf("unexpected timeout: %s", cfg.Prediction.Timeout)
	}
	if cfg.App.MaxUploadSize != 10*1024*1024 {
		t.Fatalf("unexpected max upload size: %d", cfg.App.MaxUploadSize)
	}
	if cfg.Auth.RevocationCacheSize != 10000 || cfg.Auth.RevocationCacheTTL != 24*time.Hour {
		t.Fatalf("unexpected revocation cache: %d, %s", cfg.Auth.RevocationCacheSize, cfg.Auth.RevocationCacheTTL)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PREDICTION_SERVICE_URL", "https://classifier.internal:5000/")
	t.Setenv("PREDICTION_TIMEOUT", "5s")
	t.Setenv("MAX_SESSIONS", "8")
	t.Setenv("REDIS_DB", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected config to load, got error: %v", err)
	}
	if cfg.Prediction.BaseURL != "https://classifier.internal:5000" {
		t.Fatalf("expected trailing slash to be trimmed, got %s", cfg.Prediction.BaseURL)
	}
	if cfg.Prediction.Timeout != 5*time.Second {
		t.Fatalf("unexpected timeout: %s", cfg.Prediction.Timeout)
	}
	if cfg.App.MaxSessions != 8 {
		t.Fatalf("unexpected max sessions: %d", cfg.App.MaxSessions)
	}
	if cfg.Redis.DB != 3 {
		t.Fatalf("unexpected redis db: %d", cfg.Redis.DB)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    string
		contains string
	}{
		{"bad prediction url", "PREDICTION_SERVICE_URL", "ftp://nope", "PREDICTION_SERVICE_URL"},
		{"zero upload size", "MAX_UPLOAD_SIZE", "0", "MAX_UPLOAD_SIZE"},
		{"negative sessions", "MAX_SESSIONS", "-1", "MAX_SESSIONS"},
		{"blank secret", "JWT_SECRET", "   ", "JWT_SECRET"},
		{"zero revocation cache", "REVOCATION_CACHE_SIZE", "0", "revocation cache"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.contains) {
				t.Fatalf("expected error mentioning %s, got %v", tt.contains, err)
			}
		})
	}
}
