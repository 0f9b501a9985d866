package config

import (
	"testing"
	"time"
)

type mapEnv = map[string]string

func TestLoadServerFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadServerFromEnv(mapEnv{"MASTER_SECRET": "x"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Port != 8000 {
		t.Fatalf("expected default port 8000, got %d", cfg.Port)
	}
	if cfg.GinMode != "release" {
		t.Fatalf("expected default gin mode release, got %q", cfg.GinMode)
	}
	if cfg.TokenExpiry() != 7*24*time.Hour {
		t.Fatalf("unexpected token expiry %v", cfg.TokenExpiry())
	}
}

func TestLoadServerFromEnv_MissingSecret(t *testing.T) {
	_, err := LoadServerFromEnv(mapEnv{})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoadServerFromEnv_PortOverride(t *testing.T) {
	cfg, err := LoadServerFromEnv(mapEnv{"MASTER_SECRET": "x", "PORT": "1234"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Port != 1234 {
		t.Fatalf("expected port 1234, got %d", cfg.Port)
	}
}

func TestLoadServerFromEnv_InvalidPort(t *testing.T) {
	if _, err := LoadServerFromEnv(mapEnv{"MASTER_SECRET": "x", "PORT": "70000"}); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := LoadServerFromEnv(mapEnv{"MASTER_SECRET": "x", "PORT": "abc"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoadClientFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadClientFromEnv(mapEnv{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.StreamURL != "ws://127.0.0.1:8000" {
		t.Fatalf("unexpected stream url %q", cfg.StreamURL)
	}
	if cfg.ReconnectDelay != 3*time.Second || cfg.UserFetchRetries != 2 || cfg.UserFetchDelay != time.Second {
		t.Fatalf("unexpected retry defaults: %+v", cfg)
	}
	if cfg.ActionErrorTTL != 5*time.Second {
		t.Fatalf("unexpected action error ttl %v", cfg.ActionErrorTTL)
	}
}

func TestLoadClientFromEnv_DerivesSecureStream(t *testing.T) {
	cfg, err := LoadClientFromEnv(mapEnv{"CHATSYNC_API_URL": "https://chat.example.com/"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.APIURL != "https://chat.example.com" {
		t.Fatalf("unexpected api url %q", cfg.APIURL)
	}
	if cfg.StreamURL != "wss://chat.example.com" {
		t.Fatalf("unexpected stream url %q", cfg.StreamURL)
	}
}

func TestLoadClientFromEnv_InvalidURL(t *testing.T) {
	if _, err := LoadClientFromEnv(mapEnv{"CHATSYNC_API_URL": "ftp://x"}); err == nil {
		t.Fatalf("expected error")
	}
}
