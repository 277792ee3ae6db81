// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Store() StoreConfig
	Policy() PolicyConfig
	Server() ServerConfig
	ScanClient() ScanClientConfig
	Session() SessionConfig
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	StoreCfg      StoreConfig      `mapstructure:"store" yaml:"store"`
	PolicyCfg     PolicyConfig     `mapstructure:"policy" yaml:"policy"`
	ServerCfg     ServerConfig     `mapstructure:"server" yaml:"server"`
	ScanClientCfg ScanClientConfig `mapstructure:"scan_client" yaml:"scan_client"`
	SessionCfg    SessionConfig    `mapstructure:"session" yaml:"session"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Store() StoreConfig           { return c.StoreCfg }
func (c *Config) Policy() PolicyConfig         { return c.PolicyCfg }
func (c *Config) Server() ServerConfig         { return c.ServerCfg }
func (c *Config) ScanClient() ScanClientConfig { return c.ScanClientCfg }
func (c *Config) Session() SessionConfig       { return c.SessionCfg }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// Store backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// StoreConfig selects and configures the durable key-value store that holds
// the CSRF token, rate-limit windows and the audit log.
type StoreConfig struct {
	Backend     string `mapstructure:"backend" yaml:"backend"`
	Path        string `mapstructure:"path" yaml:"path"`
	PostgresURL string `mapstructure:"postgres_url" yaml:"-"`
}

// PolicyConfig tunes the security policy.
type PolicyConfig struct {
	ShowErrors bool            `mapstructure:"show_errors" yaml:"show_errors"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
	CSRF       CSRFConfig      `mapstructure:"csrf" yaml:"csrf"`
	Sanitize   SanitizeConfig  `mapstructure:"sanitize" yaml:"sanitize"`
}

// RateLimitConfig holds the sliding-window threshold.
type RateLimitConfig struct {
	MaxActions int           `mapstructure:"max_actions" yaml:"max_actions"`
	Window     time.Duration `mapstructure:"window" yaml:"window"`
}

// CSRFConfig holds the anti-forgery token settings.
type CSRFConfig struct {
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// SanitizeConfig holds sanitizer defaults.
type SanitizeConfig struct {
	MaxLength int `mapstructure:"max_length" yaml:"max_length"`
}

// ServerConfig configures the scan backend HTTP server.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	TLS               bool          `mapstructure:"tls" yaml:"tls"`
	TrustProxyHeaders bool          `mapstructure:"trust_proxy_headers" yaml:"trust_proxy_headers"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// ScanClientConfig configures the client used by `threatscope scan`.
type ScanClientConfig struct {
	BaseURL           string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	HealthTimeout     time.Duration `mapstructure:"health_timeout" yaml:"health_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `mapstructure:"burst" yaml:"burst"`

	// InsecureSkipVerify accepts the self-signed certificate of `serve --tls`.
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

// SessionConfig identifies the local actor for CLI commands. An empty ActorID
// is replaced by a persisted random identifier on first use.
type SessionConfig struct {
	ActorID string `mapstructure:"actor_id" yaml:"actor_id"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "threatscope")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Store --
	v.SetDefault("store.backend", BackendSQLite)
	v.SetDefault("store.path", "~/.threatscope/state.db")

	// -- Policy --
	v.SetDefault("policy.show_errors", true)
	v.SetDefault("policy.rate_limit.max_actions", 5)
	v.SetDefault("policy.rate_limit.window", "60s")
	v.SetDefault("policy.csrf.ttl", "24h")
	v.SetDefault("policy.sanitize.max_length", 10000)

	// -- Server --
	v.SetDefault("server.addr", "127.0.0.1:8000")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "5s")
	v.SetDefault("server.tls", false)
	v.SetDefault("server.trust_proxy_headers", false)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000", "http://127.0.0.1:3000"})

	// -- Scan client --
	v.SetDefault("scan_client.base_url", "http://localhost:8000")
	v.SetDefault("scan_client.timeout", "15s")
	v.SetDefault("scan_client.health_timeout", "5s")
	v.SetDefault("scan_client.requests_per_second", 1.0)
	v.SetDefault("scan_client.burst", 1)
	v.SetDefault("scan_client.insecure_skip_verify", false)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("store.postgres_url", "THREATSCOPE_STORE_POSTGRES_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Manually load the URL if Unmarshal didn't pick it up
	if cfg.StoreCfg.Backend == BackendPostgres && cfg.StoreCfg.PostgresURL == "" {
		cfg.StoreCfg.PostgresURL = os.Getenv("THREATSCOPE_STORE_POSTGRES_URL")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.StoreCfg.Validate(); err != nil {
		return fmt.Errorf("store configuration invalid: %w", err)
	}
	if err := c.PolicyCfg.Validate(); err != nil {
		return fmt.Errorf("policy configuration invalid: %w", err)
	}
	if c.ScanClientCfg.RequestsPerSecond <= 0 {
		return fmt.Errorf("scan_client.requests_per_second must be positive")
	}
	if c.ScanClientCfg.Burst <= 0 {
		return fmt.Errorf("scan_client.burst must be a positive integer")
	}
	return nil
}

// Validate checks the store configuration.
func (s *StoreConfig) Validate() error {
	switch strings.ToLower(s.Backend) {
	case BackendMemory:
		return nil
	case BackendSQLite:
		if s.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite backend")
		}
		return nil
	case BackendPostgres:
		if s.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required but not found. Ensure THREATSCOPE_STORE_POSTGRES_URL is set")
		}
		return nil
	default:
		return fmt.Errorf("unknown store.backend %q (want memory, sqlite or postgres)", s.Backend)
	}
}

// ResolvedPath returns Path with a leading ~ expanded to the user's home directory.
func (s *StoreConfig) ResolvedPath() (string, error) {
	p, err := homedir.Expand(s.Path)
	if err != nil {
		return "", fmt.Errorf("failed to expand store path %q: %w", s.Path, err)
	}
	return p, nil
}

// Validate checks the policy settings.
func (p *PolicyConfig) Validate() error {
	if p.RateLimit.MaxActions <= 0 {
		return fmt.Errorf("rate_limit.max_actions must be a positive integer")
	}
	if p.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be a positive duration")
	}
	if p.CSRF.TTL <= 0 {
		return fmt.Errorf("csrf.ttl must be a positive duration")
	}
	if p.Sanitize.MaxLength <= 0 {
		return fmt.Errorf("sanitize.max_length must be a positive integer")
	}
	return nil
}
