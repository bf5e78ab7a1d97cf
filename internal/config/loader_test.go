package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var allKeys = []string{
	"SAFEHOME_SQLITE_DSN",
	"SAFEHOME_FALLBACK_PATH",
	"SAFEHOME_EVENT_LOG_FILE",
	"SAFEHOME_HTTP_PORT",
	"SAFEHOME_POLL_INTERVAL",
	"SAFEHOME_LOG_LEVEL",
	"SAFEHOME_LOG_FORMAT",
	"SAFEHOME_SMTP_HOST",
	"SAFEHOME_SMTP_PORT",
	"SAFEHOME_SMTP_USER",
	"SAFEHOME_SMTP_PASSWORD",
	"SAFEHOME_SMTP_FROM",
}

func clearEnvironment(t *testing.T) {
	t.Helper()
	for _, key := range allKeys {
		// Register restoration before unsetting.
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("failed to unset %s: %v", key, err)
		}
	}
	previous := DotEnvFile
	DotEnvFile = filepath.Join(t.TempDir(), "missing.env")
	t.Cleanup(func() { DotEnvFile = previous })
}

func TestLoader_ParseEnvironment(t *testing.T) {
	t.Run("applies defaults when variables are missing", func(t *testing.T) {
		clearEnvironment(t)

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}

		if cfg.SQLiteDSN != "safehome.db" {
			t.Fatalf("unexpected default DSN: %q", cfg.SQLiteDSN)
		}
		if cfg.FallbackPath != "safehome_settings.json" {
			t.Fatalf("unexpected default fallback path: %q", cfg.FallbackPath)
		}
		if cfg.HTTPPort != 8080 {
			t.Fatalf("expected default HTTP port 8080, got %d", cfg.HTTPPort)
		}
		if cfg.PollInterval != time.Second {
			t.Fatalf("expected 1s poll interval, got %v", cfg.PollInterval)
		}
		if cfg.SMTP.Enabled() {
			t.Fatalf("expected SMTP to be disabled without a host")
		}
	})

	t.Run("reads overrides", func(t *testing.T) {
		clearEnvironment(t)
		t.Setenv("SAFEHOME_SQLITE_DSN", "/var/lib/safehome/core.db")
		t.Setenv("SAFEHOME_HTTP_PORT", "0")
		t.Setenv("SAFEHOME_POLL_INTERVAL", "250ms")
		t.Setenv("SAFEHOME_LOG_LEVEL", "DEBUG")
		t.Setenv("SAFEHOME_LOG_FORMAT", "text")
		t.Setenv("SAFEHOME_SMTP_HOST", "smtp.example.com")
		t.Setenv("SAFEHOME_SMTP_PORT", "2525")
		t.Setenv("SAFEHOME_SMTP_USER", "alerts@example.com")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if cfg.SQLiteDSN != "/var/lib/safehome/core.db" || cfg.HTTPPort != 0 {
			t.Fatalf("unexpected config: %#v", cfg)
		}
		if cfg.PollInterval != 250*time.Millisecond || cfg.LogLevel != "debug" || cfg.LogFormat != "text" {
			t.Fatalf("unexpected config: %#v", cfg)
		}
		if !cfg.SMTP.Enabled() || cfg.SMTP.Port != 2525 || cfg.SMTP.From != "alerts@example.com" {
			t.Fatalf("unexpected smtp config: %#v", cfg.SMTP)
		}
	})

	t.Run("reports every invalid value", func(t *testing.T) {
		clearEnvironment(t)
		t.Setenv("SAFEHOME_HTTP_PORT", "abc")
		t.Setenv("SAFEHOME_POLL_INTERVAL", "-1s")

		_, err := Load()
		if err == nil {
			t.Fatalf("expected error for invalid values")
		}
		expected := "invalid environment values: SAFEHOME_HTTP_PORT, SAFEHOME_POLL_INTERVAL"
		if err.Error() != expected {
			t.Fatalf("unexpected error message: %q", err.Error())
		}
	})

	t.Run("loads a dotenv file without overriding the environment", func(t *testing.T) {
		clearEnvironment(t)
		path := filepath.Join(t.TempDir(), ".env")
		content := "SAFEHOME_SQLITE_DSN=from-dotenv.db\nSAFEHOME_LOG_LEVEL=warn\n"
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("failed to write dotenv: %v", err)
		}
		DotEnvFile = path
		t.Setenv("SAFEHOME_LOG_LEVEL", "error")
		t.Cleanup(func() { _ = os.Unsetenv("SAFEHOME_SQLITE_DSN") })

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if cfg.SQLiteDSN != "from-dotenv.db" {
			t.Fatalf("expected dotenv DSN, got %q", cfg.SQLiteDSN)
		}
		if cfg.LogLevel != "error" {
			t.Fatalf("expected environment to win, got %q", cfg.LogLevel)
		}
	})
}
