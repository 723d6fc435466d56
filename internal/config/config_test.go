package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// missingEnv keeps Load from picking up a .env in the package directory.
func missingEnv(t *testing.T) string {
	return filepath.Join(t.TempDir(), "none.env")
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(missingEnv(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.SessionTimeout != 60*time.Minute {
		t.Errorf("SessionTimeout = %v, want 60m", cfg.SessionTimeout)
	}
	if cfg.SessionBackend != "cookie" {
		t.Errorf("SessionBackend = %q, want cookie", cfg.SessionBackend)
	}
	if !cfg.GeneratedSecret || len(cfg.SessionSecret) != 32 {
		t.Errorf("session secret = %d bytes generated=%v, want 32 generated", len(cfg.SessionSecret), cfg.GeneratedSecret)
	}
	if cfg.BaseURL != "http://localhost:8080" {
		t.Errorf("BaseURL = %q, want http://localhost:8080", cfg.BaseURL)
	}
	if cfg.SecureCookies {
		t.Error("SecureCookies = true for http base URL")
	}
	if cfg.BackupKeep != 30 {
		t.Errorf("BackupKeep = %d, want 30", cfg.BackupKeep)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SESSION_TIMEOUT_MINUTES", "15")
	t.Setenv("CAMPUSKUBO_BASE_URL", "https://campuskubo.ph/")
	t.Setenv("CAMPUSKUBO_SESSION_SECRET", strings.Repeat("s", 32))
	t.Setenv("CAMPUSKUBO_BACKUP_INTERVAL", "6h")
	t.Setenv("CAMPUSKUBO_WS_ORIGINS", "admin.campuskubo.ph, localhost:5173")
	t.Setenv("CAMPUSKUBO_TRUSTED_PROXIES", "10.0.0.0/8,,127.0.0.1")

	cfg, err := Load(missingEnv(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SessionTimeout != 15*time.Minute {
		t.Errorf("SessionTimeout = %v, want 15m", cfg.SessionTimeout)
	}
	if cfg.BaseURL != "https://campuskubo.ph" || !cfg.SecureCookies {
		t.Errorf("BaseURL = %q secure=%v, want trimmed https URL with secure cookies", cfg.BaseURL, cfg.SecureCookies)
	}
	if cfg.GeneratedSecret {
		t.Error("GeneratedSecret = true with secret set")
	}
	if cfg.BackupInterval != 6*time.Hour {
		t.Errorf("BackupInterval = %v, want 6h", cfg.BackupInterval)
	}
	if len(cfg.WSOrigins) != 2 || cfg.WSOrigins[1] != "localhost:5173" {
		t.Errorf("WSOrigins = %v", cfg.WSOrigins)
	}
	if len(cfg.TrustedProxies) != 2 || cfg.TrustedProxies[0] != "10.0.0.0/8" {
		t.Errorf("TrustedProxies = %v, want [10.0.0.0/8 127.0.0.1]", cfg.TrustedProxies)
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	os.WriteFile(path, []byte("CAMPUSKUBO_PORT=9090\nCAMPUSKUBO_DB_PATH=/tmp/kubo.db\n"), 0600)
	t.Cleanup(func() {
		os.Unsetenv("CAMPUSKUBO_PORT")
		os.Unsetenv("CAMPUSKUBO_DB_PATH")
	})

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" || cfg.DBPath != "/tmp/kubo.db" {
		t.Errorf("Port = %q DBPath = %q, want values from env file", cfg.Port, cfg.DBPath)
	}
}

func TestLoadEnvFileDoesNotOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	os.WriteFile(path, []byte("CAMPUSKUBO_LOG_LEVEL=debug\n"), 0600)
	t.Setenv("CAMPUSKUBO_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want environment value warn", cfg.LogLevel)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"SESSION_TIMEOUT_MINUTES", "soon"},
		{"SESSION_TIMEOUT_MINUTES", "0"},
		{"CAMPUSKUBO_SESSION_SECRET", "too-short"},
		{"CAMPUSKUBO_SESSION_BACKEND", "memcached"},
		{"CAMPUSKUBO_SESSION_BACKEND", "redis"},
		{"CAMPUSKUBO_BACKUP_INTERVAL", "daily"},
		{"CAMPUSKUBO_BACKUP_KEEP", "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(missingEnv(t)); err == nil {
				t.Errorf("Load succeeded with %s=%q", tt.key, tt.value)
			}
		})
	}
}
