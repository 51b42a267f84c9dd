// Package config handles loading and validating hazina-mcp configuration.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Run modes. Local serves MCP over stdio with one identity taken from the
// environment; hosted serves streamable HTTP with per-session identities
// taken from request headers.
const (
	ModeLocal  = "local"
	ModeHosted = "hosted"
)

// Config is the root configuration for hazina-mcp.
type Config struct {
	Mode          string               `json:"mode,omitempty" yaml:"mode,omitempty"`           // "local" (default) or "hosted". Override: HAZINA_MODE env var.
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`   // Persistent data directory. Default: ~/.hazina-mcp/data. Override: HAZINA_DATA_DIR env var.
	LogLevel      string               `json:"log_level,omitempty" yaml:"log_level,omitempty"` // "debug", "info", "warn", "error". Default: info. Override: HAZINA_LOG_LEVEL env var.
	API           APIConfig            `json:"api" yaml:"api"`
	Server        *ServerConfig        `json:"server,omitempty" yaml:"server,omitempty"`               // Hosted-mode HTTP settings. nil = defaults.
	RateLimit     RateLimitConfig      `json:"rate_limit" yaml:"rate_limit"`                           // Per-session tool-call limiting (hosted mode).
	Audit         *AuditConfig         `json:"audit,omitempty" yaml:"audit,omitempty"`                 // nil = audit trail disabled.
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled.
}

// APIConfig holds the upstream Hazina API endpoint and the process-level
// identity used in local mode. Hosted mode ignores the credential fields
// because each session brings its own.
type APIConfig struct {
	BaseURL        string `json:"base_url,omitempty" yaml:"base_url,omitempty"`         // Default: https://api.hazina.dev. Override: HAZINA_API_URL env var.
	VaultID        string `json:"vault_id,omitempty" yaml:"vault_id,omitempty"`         // Target vault. Required in local mode. Override: HAZINA_VAULT_ID env var.
	AccessToken    string `json:"access_token,omitempty" yaml:"access_token,omitempty"` // Pre-issued bearer token. Override: HAZINA_ACCESS_TOKEN env var.
	AgentID        string `json:"agent_id,omitempty" yaml:"agent_id,omitempty"`         // Agent identity for token exchange. Override: HAZINA_AGENT_ID env var.
	APIKey         string `json:"api_key,omitempty" yaml:"api_key,omitempty"`           // Long-lived secret for token exchange. Override: HAZINA_API_KEY env var.
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`               // Upstream HTTP timeout. Default: 30.
}

// Timeout returns the upstream HTTP timeout, defaulting to 30s.
func (a *APIConfig) Timeout() time.Duration {
	if a != nil && a.TimeoutSeconds > 0 {
		return time.Duration(a.TimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}

// ServerConfig configures the hosted-mode HTTP listener.
type ServerConfig struct {
	ListenAddr   string `json:"listen_addr,omitempty" yaml:"listen_addr,omitempty"`     // Default: ":8080". Override: HAZINA_LISTEN_ADDR env var.
	EndpointPath string `json:"endpoint_path,omitempty" yaml:"endpoint_path,omitempty"` // MCP endpoint path. Default: "/mcp".
}

// Addr returns the listen address, defaulting to ":8080".
func (s *ServerConfig) Addr() string {
	if s != nil && s.ListenAddr != "" {
		return s.ListenAddr
	}
	return ":8080"
}

// MCPPath returns the MCP endpoint path, defaulting to "/mcp".
func (s *ServerConfig) MCPPath() string {
	if s != nil && s.EndpointPath != "" {
		return s.EndpointPath
	}
	return "/mcp"
}

// RateLimitConfig configures per-session rate limiting for tool calls.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"` // 0 = unlimited.
	BurstSize         int `json:"burst_size" yaml:"burst_size"`                   // Default: requests_per_minute.
}

// AuditConfig configures the append-only tool-invocation audit trail.
type AuditConfig struct {
	Enabled  bool                 `json:"enabled" yaml:"enabled"`
	Driver   string               `json:"driver,omitempty" yaml:"driver,omitempty"` // "log" (default), "sqlite", or "postgres".
	Path     string               `json:"path,omitempty" yaml:"path,omitempty"`     // log driver: JSONL file path. Default: <data_dir>/audit.jsonl.
	SQLite   *SQLiteAuditConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`
	Postgres *PostgresAuditConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"`
}

// AuditDriver returns the configured driver, defaulting to "log".
func (a *AuditConfig) AuditDriver() string {
	if a != nil && a.Driver != "" {
		return a.Driver
	}
	return "log"
}

// SQLiteAuditConfig holds SQLite-specific settings.
type SQLiteAuditConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: <data_dir>/audit.db.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresAuditConfig holds PostgreSQL-specific settings.
type PostgresAuditConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// ObservabilityConfig configures metrics, tracing, anomaly detection, and
// health checks. When nil, all observability features are disabled with zero
// overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Anomaly *AnomalyConfig `json:"anomaly,omitempty" yaml:"anomaly,omitempty"`
	Health  *HealthConfig  `json:"health,omitempty" yaml:"health,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// MetricsPath returns the metrics path, defaulting to "/metrics".
func (m *MetricsConfig) MetricsPath() string {
	if m != nil && m.Path != "" {
		return m.Path
	}
	return "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "hazina-mcp"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0-1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// AnomalyConfig configures threshold alerting on upstream error rates.
type AnomalyConfig struct {
	Enabled            bool    `json:"enabled" yaml:"enabled"`
	ErrorRateThreshold float64 `json:"error_rate_threshold" yaml:"error_rate_threshold"` // 0.0-1.0, e.g. 0.25 warns above 25% errors. 0 = disabled.
	WindowSeconds      int     `json:"window_seconds" yaml:"window_seconds"`             // Sliding window size. Default: 300.
}

// HealthConfig configures dependency health checks for readiness probes.
type HealthConfig struct {
	IncludeUpstream bool `json:"include_upstream" yaml:"include_upstream"` // Probe the Hazina API from /readyz.
}

// DefaultConfigPath returns the default config file path (~/.hazina-mcp/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/hazina-mcp.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".hazina-mcp", "config.yaml")
}

// Load reads an optional JSON or YAML config file and returns a validated
// Config. The format is detected by file extension: .yml/.yaml for YAML,
// everything else for JSON. An empty path means env-only configuration,
// which is the usual arrangement for a stdio MCP server launched by an
// agent runtime. Credentials can be set in the config file or overridden by
// environment variables; environment variables take precedence.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		resolved, err := resolvePath(path)
		if err != nil {
			return nil, fmt.Errorf("resolving config path %s: %w", path, err)
		}

		data, err := os.ReadFile(resolved)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", resolved, err)
		}

		switch strings.ToLower(filepath.Ext(resolved)) {
		case ".yml", ".yaml":
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
			}
		default:
			if err := json.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
			}
		}
	}

	// Environment variable overrides — env vars take precedence over config values.
	if env := os.Getenv("HAZINA_MODE"); env != "" {
		cfg.Mode = env
	}
	if env := os.Getenv("HAZINA_API_URL"); env != "" {
		cfg.API.BaseURL = env
	}
	if env := os.Getenv("HAZINA_VAULT_ID"); env != "" {
		cfg.API.VaultID = env
	}
	if env := os.Getenv("HAZINA_ACCESS_TOKEN"); env != "" {
		cfg.API.AccessToken = env
	}
	if env := os.Getenv("HAZINA_AGENT_ID"); env != "" {
		cfg.API.AgentID = env
	}
	if env := os.Getenv("HAZINA_API_KEY"); env != "" {
		cfg.API.APIKey = env
	}
	if env := os.Getenv("HAZINA_LISTEN_ADDR"); env != "" {
		if cfg.Server == nil {
			cfg.Server = &ServerConfig{}
		}
		cfg.Server.ListenAddr = env
	}
	if env := os.Getenv("HAZINA_DATA_DIR"); env != "" {
		cfg.DataDir = env
	}
	if env := os.Getenv("HAZINA_LOG_LEVEL"); env != "" {
		cfg.LogLevel = env
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// RunMode returns the effective run mode, defaulting to local.
func (c *Config) RunMode() string {
	if c.Mode != "" {
		return c.Mode
	}
	return ModeLocal
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		return filepath.Join(home, ".hazina-mcp", "data")
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// AuditLogPath returns the JSONL audit log path for the log driver.
func (c *Config) AuditLogPath() string {
	if c.Audit != nil && c.Audit.Path != "" {
		return c.Audit.Path
	}
	return filepath.Join(c.ResolvedDataDir(), "audit.jsonl")
}

// AuditDBPath returns the SQLite audit database path.
func (c *Config) AuditDBPath() string {
	if c.Audit != nil && c.Audit.SQLite != nil && c.Audit.SQLite.Path != "" {
		return c.Audit.SQLite.Path
	}
	return filepath.Join(c.ResolvedDataDir(), "audit.db")
}

// SlogLevel maps the configured log level onto slog, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) validate() error {
	switch c.RunMode() {
	case ModeLocal:
		// Local mode serves a single identity from the environment and
		// must fail before accepting any work when it is incomplete.
		if c.API.VaultID == "" {
			return fmt.Errorf("vault id is required in local mode (set api.vault_id or HAZINA_VAULT_ID)")
		}
		hasToken := c.API.AccessToken != ""
		hasIdentity := c.API.AgentID != "" && c.API.APIKey != ""
		if !hasToken && !hasIdentity {
			return fmt.Errorf("credentials are required in local mode (set HAZINA_ACCESS_TOKEN, or HAZINA_AGENT_ID and HAZINA_API_KEY)")
		}
	case ModeHosted:
		// Hosted sessions carry their own credentials in request headers.
	default:
		return fmt.Errorf("mode %q is not supported (use local or hosted)", c.Mode)
	}

	if c.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must not be negative")
	}
	if c.RateLimit.BurstSize < 0 {
		return fmt.Errorf("rate_limit.burst_size must not be negative")
	}

	if c.Audit != nil && c.Audit.Enabled {
		switch c.Audit.AuditDriver() {
		case "log", "sqlite":
		case "postgres":
			if c.Audit.Postgres == nil || c.Audit.Postgres.DSN == "" {
				return fmt.Errorf("audit.postgres.dsn is required for the postgres driver")
			}
		default:
			return fmt.Errorf("audit.driver %q is not supported (use log, sqlite, or postgres)", c.Audit.Driver)
		}
	}

	if c.Observability != nil && c.Observability.Tracing != nil && c.Observability.Tracing.Enabled {
		if c.Observability.Tracing.Endpoint == "" {
			return fmt.Errorf("observability.tracing.endpoint is required when tracing is enabled")
		}
	}

	return nil
}
