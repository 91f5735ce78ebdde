// Package config loads the warp-aqi configuration from defaults, an
// optional YAML or JSON file and the environment, in that order.
//
// The environment understands the plain variable names
// (PORT, AQICN_API_KEY, CACHE_EXPIRY_MINUTES, MAX_CACHE_ENTRIES) and, for
// everything else, WARP_AQI_<SECTION>__<KEY>, e.g. WARP_AQI_LOG__LEVEL or
// WARP_AQI_UPSTREAM__BASE_URL.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	warperrors "github.com/mirkobrombin/warp-aqi/v1/errors"
)

const (
	// EnvPrefix prefixes the structured environment variables.
	EnvPrefix = "WARP_AQI_"
	// FileEnv names the variable holding the optional config file path.
	FileEnv = EnvPrefix + "CONFIG"
)

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Cache    CacheConfig    `koanf:"cache"`
	Upstream UpstreamConfig `koanf:"upstream"`
	Log      LogConfig      `koanf:"log"`
	Tracing  TracingConfig  `koanf:"tracing"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	AllowedOrigins  []string      `koanf:"allowed_origins"`
}

// CacheConfig bounds the report cache.
type CacheConfig struct {
	ExpiryMinutes float64 `koanf:"expiry_minutes"`
	MaxEntries    int     `koanf:"max_entries"`
}

// UpstreamConfig configures the AQICN client and its resilience wrappers.
type UpstreamConfig struct {
	BaseURL         string        `koanf:"base_url"`
	Token           string        `koanf:"token"`
	Timeout         time.Duration `koanf:"timeout"`
	RetryAttempts   uint          `koanf:"retry_attempts"`
	RetryDelay      time.Duration `koanf:"retry_delay"`
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout"`
}

// LogConfig configures zerolog.
type LogConfig struct {
	Level  string `koanf:"level"`
	Pretty bool   `koanf:"pretty"`
}

// TracingConfig selects the span exporter: "none" or "stdout".
type TracingConfig struct {
	Exporter string `koanf:"exporter"`
}

func defaults() map[string]any {
	return map[string]any{
		"server.host":               "",
		"server.port":               3001,
		"server.read_timeout":       5 * time.Second,
		"server.write_timeout":      15 * time.Second,
		"server.idle_timeout":       60 * time.Second,
		"server.shutdown_timeout":   10 * time.Second,
		"server.allowed_origins":    []string{"*"},
		"cache.expiry_minutes":      30.0,
		"cache.max_entries":         100,
		"upstream.base_url":         "https://api.waqi.info",
		"upstream.token":            "",
		"upstream.timeout":          10 * time.Second,
		"upstream.retry_attempts":   2,
		"upstream.retry_delay":      200 * time.Millisecond,
		"upstream.breaker_failures": 5,
		"upstream.breaker_timeout":  30 * time.Second,
		"log.level":                 "info",
		"log.pretty":                false,
		"tracing.exporter":          "none",
	}
}

// legacyEnv maps the unprefixed variables to config keys.
var legacyEnv = map[string]string{
	"PORT":                 "server.port",
	"AQICN_API_KEY":        "upstream.token",
	"CACHE_EXPIRY_MINUTES": "cache.expiry_minutes",
	"MAX_CACHE_ENTRIES":    "cache.max_entries",
}

func envKey(name, value string) (string, any) {
	if value == "" || name == FileEnv {
		return "", nil
	}
	if key, ok := legacyEnv[name]; ok {
		return key, value
	}
	if !strings.HasPrefix(name, EnvPrefix) {
		return "", nil
	}
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	return strings.ReplaceAll(key, "__", "."), value
}

// Load builds the configuration. path may be empty; otherwise it must name
// a .yaml, .yml or .json file.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if path != "" {
		if err := loadFile(k, path); err != nil {
			return nil, err
		}
	}
	if err := k.Load(env.ProviderWithValue("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", warperrors.ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	var parser koanf.Parser
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return fmt.Errorf("%w: unsupported config file %s", warperrors.ErrInvalidConfig, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := k.Load(rawbytes.Provider(data), parser); err != nil {
		return fmt.Errorf("%w: parse %s: %w", warperrors.ErrInvalidConfig, path, err)
	}
	return nil
}

// Validate rejects values the service cannot run with.
func (c *Config) Validate() error {
	if c.Cache.ExpiryMinutes <= 0 {
		return fmt.Errorf("%w: cache expiry minutes must be positive, got %v", warperrors.ErrInvalidConfig, c.Cache.ExpiryMinutes)
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("%w: cache max entries must be positive, got %d", warperrors.ErrInvalidConfig, c.Cache.MaxEntries)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: invalid port %d", warperrors.ErrInvalidConfig, c.Server.Port)
	}
	switch c.Tracing.Exporter {
	case "none", "stdout":
	default:
		return fmt.Errorf("%w: unknown tracing exporter %q", warperrors.ErrInvalidConfig, c.Tracing.Exporter)
	}
	return nil
}

// CacheTTL returns the cache expiry as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.ExpiryMinutes * float64(time.Minute))
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}
