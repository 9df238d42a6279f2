package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/rbacadmin/pkg/audit"
	"github.com/platinummonkey/rbacadmin/pkg/observability"
	"github.com/platinummonkey/rbacadmin/pkg/storage"
)

// MaxCacheTTL bounds how stale a cached list may be
const MaxCacheTTL = 10 * time.Minute

// Config holds all application configuration
type Config struct {
	API           APIConfig           `yaml:"api"`
	Auth          AuthConfig          `yaml:"auth"`
	Storage       storage.Config      `yaml:"storage"`
	Cache         CacheConfig         `yaml:"cache"`
	Proxy         ProxyConfig         `yaml:"proxy"`
	Audit         AuditConfig         `yaml:"audit"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// APIConfig locates the backend and, optionally, the same-origin proxy
type APIConfig struct {
	BackendURL string        `yaml:"backend_url"`
	ProxyURL   string        `yaml:"proxy_url"`
	ProxyPath  string        `yaml:"proxy_path"`
	Timeout    time.Duration `yaml:"timeout"`
}

// AuthConfig holds token lifetimes and cookie policy
type AuthConfig struct {
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	Environment     string        `yaml:"environment"`
}

// Production reports whether cookies must be marked Secure
func (a AuthConfig) Production() bool {
	return strings.EqualFold(a.Environment, "production")
}

// CacheConfig sizes the query cache
type CacheConfig struct {
	TTL  time.Duration `yaml:"ttl"`
	Size int           `yaml:"size"`
}

// ProxyConfig holds HTTP server configuration for rbacadmin-proxy
type ProxyConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// RateLimit is requests per client per RateLimitWindow; 0 disables it
	RateLimit       int           `yaml:"rate_limit"`
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	// RateLimitRedisURL shares the limit across proxy instances
	RateLimitRedisURL string `yaml:"rate_limit_redis_url"`
}

// Addr returns host:port
func (p ProxyConfig) Addr() string {
	return p.Host + ":" + p.Port
}

// AuditConfig locates the audit trail; an empty Dir disables it
type AuditConfig struct {
	Dir      string `yaml:"dir"`
	MaxSize  int64  `yaml:"max_size"`
	MaxFiles int    `yaml:"max_files"`
}

// FileConfig converts the settings for audit.NewFileLogger
func (a AuditConfig) FileConfig() audit.FileConfig {
	return audit.FileConfig{Dir: a.Dir, MaxSize: a.MaxSize, MaxFiles: a.MaxFiles}
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`

	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"`
}

// Level parses LogLevel
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// OTel converts the settings for observability.InitOTel
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
	}
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		API: APIConfig{
			BackendURL: "http://localhost:3001",
			ProxyPath:  "/api/proxy",
			Timeout:    30 * time.Second,
		},
		Auth: AuthConfig{
			AccessTokenTTL:  15 * time.Minute,
			RefreshTokenTTL: 7 * 24 * time.Hour,
			RefreshInterval: 12 * time.Minute,
			Environment:     "development",
		},
		Storage: storage.DefaultConfig(),
		Cache: CacheConfig{
			TTL:  5 * time.Minute,
			Size: 512,
		},
		Proxy: ProxyConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimit:       600,
			RateLimitWindow: time.Minute,
			RateLimitBurst:  50,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "rbacadmin",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

// Load reads defaults, then the YAML file at path (skipped when empty),
// then environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.API.BackendURL = getEnv("RBACADMIN_BACKEND_URL", cfg.API.BackendURL)
	cfg.API.ProxyURL = getEnv("RBACADMIN_PROXY_URL", cfg.API.ProxyURL)
	cfg.API.ProxyPath = getEnv("RBACADMIN_PROXY_PATH", cfg.API.ProxyPath)
	cfg.API.Timeout = getEnvDuration("RBACADMIN_API_TIMEOUT", cfg.API.Timeout)

	cfg.Auth.AccessTokenTTL = getEnvDuration("RBACADMIN_ACCESS_TOKEN_TTL", cfg.Auth.AccessTokenTTL)
	cfg.Auth.RefreshTokenTTL = getEnvDuration("RBACADMIN_REFRESH_TOKEN_TTL", cfg.Auth.RefreshTokenTTL)
	cfg.Auth.RefreshInterval = getEnvDuration("RBACADMIN_REFRESH_INTERVAL", cfg.Auth.RefreshInterval)
	cfg.Auth.Environment = getEnv("RBACADMIN_ENV", cfg.Auth.Environment)

	cfg.Storage.Type = getEnv("RBACADMIN_STORAGE_TYPE", cfg.Storage.Type)
	cfg.Storage.FilesystemRoot = getEnv("RBACADMIN_FILESYSTEM_ROOT", cfg.Storage.FilesystemRoot)
	cfg.Storage.SQLitePath = getEnv("RBACADMIN_SQLITE_PATH", cfg.Storage.SQLitePath)
	cfg.Storage.RedisURL = getEnv("RBACADMIN_REDIS_URL", cfg.Storage.RedisURL)
	cfg.Storage.RedisPassword = getEnv("RBACADMIN_REDIS_PASSWORD", cfg.Storage.RedisPassword)
	cfg.Storage.RedisDB = getEnvInt("RBACADMIN_REDIS_DB", cfg.Storage.RedisDB)

	cfg.Cache.TTL = getEnvDuration("RBACADMIN_CACHE_TTL", cfg.Cache.TTL)
	cfg.Cache.Size = getEnvInt("RBACADMIN_CACHE_SIZE", cfg.Cache.Size)

	cfg.Proxy.Host = getEnv("RBACADMIN_PROXY_HOST", cfg.Proxy.Host)
	cfg.Proxy.Port = getEnv("RBACADMIN_PROXY_PORT", cfg.Proxy.Port)
	cfg.Proxy.ShutdownTimeout = getEnvDuration("RBACADMIN_SHUTDOWN_TIMEOUT", cfg.Proxy.ShutdownTimeout)
	cfg.Proxy.RateLimit = getEnvInt("RBACADMIN_RATE_LIMIT", cfg.Proxy.RateLimit)
	cfg.Proxy.RateLimitRedisURL = getEnv("RBACADMIN_RATE_LIMIT_REDIS_URL", cfg.Proxy.RateLimitRedisURL)

	cfg.Audit.Dir = getEnv("RBACADMIN_AUDIT_DIR", cfg.Audit.Dir)

	cfg.Observability.LogLevel = getEnv("RBACADMIN_LOG_LEVEL", cfg.Observability.LogLevel)
	cfg.Observability.MetricsEnabled = getEnvBool("RBACADMIN_METRICS_ENABLED", cfg.Observability.MetricsEnabled)
	cfg.Observability.OTelEnabled = getEnvBool("RBACADMIN_OTEL_ENABLED", cfg.Observability.OTelEnabled)
	cfg.Observability.OTelEndpoint = getEnv("RBACADMIN_OTEL_ENDPOINT", cfg.Observability.OTelEndpoint)
	cfg.Observability.OTelServiceName = getEnv("RBACADMIN_OTEL_SERVICE_NAME", cfg.Observability.OTelServiceName)
	cfg.Observability.OTelServiceVersion = getEnv("RBACADMIN_OTEL_SERVICE_VERSION", cfg.Observability.OTelServiceVersion)
	cfg.Observability.OTelInsecure = getEnvBool("RBACADMIN_OTEL_INSECURE", cfg.Observability.OTelInsecure)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if err := validateURL("backend URL", c.API.BackendURL, true); err != nil {
		errs = append(errs, err)
	}
	if err := validateURL("proxy URL", c.API.ProxyURL, false); err != nil {
		errs = append(errs, err)
	}
	if c.API.ProxyURL != "" && !strings.HasPrefix(c.API.ProxyPath, "/") {
		errs = append(errs, fmt.Errorf("proxy path must start with '/'"))
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("API timeout must be positive"))
	}

	if c.Auth.AccessTokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("access token TTL must be positive"))
	}
	if c.Auth.RefreshInterval <= 0 || c.Auth.RefreshInterval >= c.Auth.AccessTokenTTL {
		errs = append(errs, fmt.Errorf("refresh interval must be positive and shorter than the access token TTL"))
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, fmt.Errorf("refresh token TTL must exceed the access token TTL"))
	}

	if err := c.Storage.Validate(); err != nil {
		errs = append(errs, err)
	}

	if c.Cache.TTL <= 0 || c.Cache.TTL > MaxCacheTTL {
		errs = append(errs, fmt.Errorf("cache TTL must be in (0, %s]", MaxCacheTTL))
	}
	if c.Cache.Size <= 0 {
		errs = append(errs, fmt.Errorf("cache size must be positive"))
	}

	if c.Proxy.Port == "" {
		errs = append(errs, fmt.Errorf("proxy port is required"))
	}
	if c.Proxy.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate limit must not be negative"))
	}
	if c.Proxy.RateLimit > 0 && c.Proxy.RateLimitWindow <= 0 {
		errs = append(errs, fmt.Errorf("rate limit window must be positive"))
	}

	if c.Audit.MaxSize < 0 || c.Audit.MaxFiles < 0 {
		errs = append(errs, fmt.Errorf("audit max size and max files must not be negative"))
	}

	if c.Observability.OTelEnabled && c.Observability.OTelEndpoint == "" {
		errs = append(errs, fmt.Errorf("OpenTelemetry endpoint is required when OpenTelemetry is enabled"))
	}

	return errors.Join(errs...)
}

func validateURL(name, raw string, required bool) error {
	if raw == "" {
		if required {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https", name)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host", name)
	}
	return nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
