package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	warperrors "github.com/mirkobrombin/warp-aqi/v1/errors"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 3001 {
		t.Fatalf("expected port 3001, got %d", cfg.Server.Port)
	}
	if cfg.Cache.ExpiryMinutes != 30 || cfg.Cache.MaxEntries != 100 {
		t.Fatalf("unexpected cache defaults: %+v", cfg.Cache)
	}
	if cfg.CacheTTL() != 30*time.Minute {
		t.Fatalf("expected 30m ttl, got %s", cfg.CacheTTL())
	}
	if cfg.Upstream.BaseURL != "https://api.waqi.info" {
		t.Fatalf("unexpected base url %q", cfg.Upstream.BaseURL)
	}
	if cfg.Upstream.Timeout != 10*time.Second {
		t.Fatalf("unexpected upstream timeout %s", cfg.Upstream.Timeout)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "*" {
		t.Fatalf("unexpected origins %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Addr() != ":3001" {
		t.Fatalf("unexpected addr %q", cfg.Addr())
	}
}

func TestLoadLegacyEnv(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("AQICN_API_KEY", "secret")
	t.Setenv("CACHE_EXPIRY_MINUTES", "0.5")
	t.Setenv("MAX_CACHE_ENTRIES", "2")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Upstream.Token != "secret" {
		t.Fatalf("expected token from env, got %q", cfg.Upstream.Token)
	}
	if cfg.CacheTTL() != 30*time.Second {
		t.Fatalf("expected 30s ttl, got %s", cfg.CacheTTL())
	}
	if cfg.Cache.MaxEntries != 2 {
		t.Fatalf("expected 2 entries, got %d", cfg.Cache.MaxEntries)
	}
}

func TestLoadPrefixedEnv(t *testing.T) {
	t.Setenv("WARP_AQI_LOG__LEVEL", "debug")
	t.Setenv("WARP_AQI_LOG__PRETTY", "true")
	t.Setenv("WARP_AQI_UPSTREAM__RETRY_ATTEMPTS", "4")
	t.Setenv("WARP_AQI_UPSTREAM__BREAKER_TIMEOUT", "1m")
	t.Setenv("WARP_AQI_TRACING__EXPORTER", "stdout")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Log.Level != "debug" || !cfg.Log.Pretty {
		t.Fatalf("unexpected log config: %+v", cfg.Log)
	}
	if cfg.Upstream.RetryAttempts != 4 {
		t.Fatalf("expected 4 attempts, got %d", cfg.Upstream.RetryAttempts)
	}
	if cfg.Upstream.BreakerTimeout != time.Minute {
		t.Fatalf("expected 1m breaker timeout, got %s", cfg.Upstream.BreakerTimeout)
	}
	if cfg.Tracing.Exporter != "stdout" {
		t.Fatalf("expected stdout exporter, got %q", cfg.Tracing.Exporter)
	}
}

func TestEmptyEnvKeepsDefault(t *testing.T) {
	t.Setenv("MAX_CACHE_ENTRIES", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Cache.MaxEntries != 100 {
		t.Fatalf("expected default 100, got %d", cfg.Cache.MaxEntries)
	}
}

func TestLoadYAMLFileThenEnv(t *testing.T) {
	path := writeFile(t, "warp.yaml", `
server:
  port: 9000
cache:
  expiry_minutes: 5
  max_entries: 10
log:
  level: warn
`)
	t.Setenv("MAX_CACHE_ENTRIES", "20")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9000 || cfg.Log.Level != "warn" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Cache.ExpiryMinutes != 5 {
		t.Fatalf("expected 5 minutes, got %v", cfg.Cache.ExpiryMinutes)
	}
	if cfg.Cache.MaxEntries != 20 {
		t.Fatalf("environment must override the file, got %d", cfg.Cache.MaxEntries)
	}
}

func TestLoadJSONFile(t *testing.T) {
	path := writeFile(t, "warp.json", `{"upstream": {"base_url": "http://localhost:9999", "timeout": "2s"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Upstream.BaseURL != "http://localhost:9999" || cfg.Upstream.Timeout != 2*time.Second {
		t.Fatalf("unexpected upstream config: %+v", cfg.Upstream)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name, key, value string
	}{
		{"zero entries", "MAX_CACHE_ENTRIES", "0"},
		{"negative expiry", "CACHE_EXPIRY_MINUTES", "-1"},
		{"port out of range", "PORT", "70000"},
		{"unknown exporter", "WARP_AQI_TRACING__EXPORTER", "jaeger"},
		{"not a number", "MAX_CACHE_ENTRIES", "many"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			if _, err := Load(""); !errors.Is(err, warperrors.ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	path := writeFile(t, "warp.toml", "port = 1")
	if _, err := Load(path); !errors.Is(err, warperrors.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
