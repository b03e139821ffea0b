package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server           ServerConfig
	ControlDB        ControlDBConfig
	TenantDB         TenantDBConfig
	Provisioning     ProvisioningConfig
	Session          SessionConfig
	Auth             AuthConfig
	TenantResolution TenantResolutionConfig
	Observability    ObservabilityConfig
	RateLimit        RateLimitConfig
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// ControlDBConfig holds the control-plane database configuration.
// The control-plane connection is fixed for the lifetime of the process.
type ControlDBConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// TenantDBConfig holds the shared connection parameters for tenant databases.
// Tenant databases live on one cluster; only the database name varies per tenant.
type TenantDBConfig struct {
	Host           string
	Port           string
	User           string
	Password       string
	SSLMode        string
	MaxOpenConns   int
	MaxIdleConns   int
	ConnectTimeout time.Duration
	MaxPools       int
}

// ProvisioningConfig holds tenant provisioning configuration
type ProvisioningConfig struct {
	Encoding         string
	Collation        string
	OperationTimeout time.Duration
	BatchParallelism int
}

// SessionConfig holds session management configuration
type SessionConfig struct {
	CookieName     string
	CookieDomain   string
	CookiePath     string
	CookieSecure   bool
	CookieHTTPOnly bool
	CookieSameSite string
	Lifetime       time.Duration
	IdleTimeout    time.Duration
}

// AuthConfig holds the operator API token configuration.
// Principals are authenticated by an external identity provider; this secret
// only verifies tokens that provider already issued.
type AuthConfig struct {
	OperatorTokenSecret string
}

// Tenant resolution modes. Principal resolution reads the tenant from the
// authenticated session; host resolution maps the request Host header to a
// tenant's registered host.
const (
	ResolutionPrincipal = "principal"
	ResolutionHost      = "host"
)

// TenantResolutionConfig selects how incoming requests are mapped to tenants.
type TenantResolutionConfig struct {
	Mode string
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	OTELEnabled    bool
	ServiceName    string
	ServiceVersion string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  parseDuration("SERVER_READ_TIMEOUT", "15s"),
			WriteTimeout: parseDuration("SERVER_WRITE_TIMEOUT", "15s"),
			IdleTimeout:  parseDuration("SERVER_IDLE_TIMEOUT", "60s"),
		},
		ControlDB: ControlDBConfig{
			Host:            getEnv("CONTROL_DB_HOST", "localhost"),
			Port:            getEnv("CONTROL_DB_PORT", "5432"),
			User:            getEnv("CONTROL_DB_USER", "payrollkit"),
			Password:        getEnv("CONTROL_DB_PASSWORD", ""),
			Database:        getEnv("CONTROL_DB_NAME", "payrollkit_control"),
			SSLMode:         getEnv("CONTROL_DB_SSLMODE", "disable"),
			MaxOpenConns:    parseInt("CONTROL_DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    parseInt("CONTROL_DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: parseDuration("CONTROL_DB_CONN_MAX_LIFETIME", "5m"),
		},
		TenantDB: TenantDBConfig{
			Host:           getEnv("TENANT_DB_HOST", "localhost"),
			Port:           getEnv("TENANT_DB_PORT", "5432"),
			User:           getEnv("TENANT_DB_USER", "payrollkit"),
			Password:       getEnv("TENANT_DB_PASSWORD", ""),
			SSLMode:        getEnv("TENANT_DB_SSLMODE", "disable"),
			MaxOpenConns:   parseInt("TENANT_DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:   parseInt("TENANT_DB_MAX_IDLE_CONNS", 2),
			ConnectTimeout: parseDuration("TENANT_DB_CONNECT_TIMEOUT", "5s"),
			MaxPools:       parseInt("TENANT_DB_MAX_POOLS", 256),
		},
		Provisioning: ProvisioningConfig{
			Encoding:         getEnv("PROVISION_ENCODING", "UTF8"),
			Collation:        getEnv("PROVISION_COLLATION", "C"),
			OperationTimeout: parseDuration("PROVISION_OPERATION_TIMEOUT", "60s"),
			BatchParallelism: parseInt("PROVISION_BATCH_PARALLELISM", 4),
		},
		Session: SessionConfig{
			CookieName:     getEnv("SESSION_COOKIE_NAME", "payrollkit_session"),
			CookieDomain:   getEnv("SESSION_COOKIE_DOMAIN", ""),
			CookiePath:     getEnv("SESSION_COOKIE_PATH", "/"),
			CookieSecure:   parseBool("SESSION_COOKIE_SECURE", false),
			CookieHTTPOnly: parseBool("SESSION_COOKIE_HTTP_ONLY", true),
			CookieSameSite: getEnv("SESSION_COOKIE_SAME_SITE", "Lax"),
			Lifetime:       parseDuration("SESSION_LIFETIME", "24h"),
			IdleTimeout:    parseDuration("SESSION_IDLE_TIMEOUT", "30m"),
		},
		Auth: AuthConfig{
			OperatorTokenSecret: getEnv("OPERATOR_TOKEN_SECRET", ""),
		},
		TenantResolution: TenantResolutionConfig{
			Mode: getEnv("TENANT_RESOLUTION_MODE", ResolutionPrincipal),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			OTELEnabled:    parseBool("OTEL_ENABLED", false),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "payrollkit"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "0.1.0"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: float64(parseInt("RATELIMIT_RPS", 10)),
			Burst:             parseInt("RATELIMIT_BURST", 20),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.ControlDB.Password == "" {
		return fmt.Errorf("CONTROL_DB_PASSWORD is required")
	}
	if c.TenantDB.Password == "" {
		return fmt.Errorf("TENANT_DB_PASSWORD is required")
	}
	if c.Auth.OperatorTokenSecret == "" {
		return fmt.Errorf("OPERATOR_TOKEN_SECRET is required")
	}
	if c.Provisioning.BatchParallelism < 1 {
		return fmt.Errorf("PROVISION_BATCH_PARALLELISM must be at least 1")
	}
	if c.TenantResolution.Mode != ResolutionPrincipal && c.TenantResolution.Mode != ResolutionHost {
		return fmt.Errorf("TENANT_RESOLUTION_MODE must be %q or %q", ResolutionPrincipal, ResolutionHost)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func parseDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	d, err := time.ParseDuration(value)
	if err != nil {
		// Fallback to default
		d, _ = time.ParseDuration(defaultValue)
	}
	return d
}
