package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Auth modes.
const (
	AuthModeHeader = "header"
	AuthModeJWT    = "jwt"
	AuthModeJWKS   = "jwks"
)

// Config represents the application configuration.
type Config struct {
	App   ApplicationConfig `yaml:"app"`
	Store StoreConfig       `yaml:"store"`
	Auth  AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
	// Keepalive is the interval between event-stream keepalive comments.
	Keepalive time.Duration `yaml:"keepalive"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.Keepalive, validation.Min(time.Duration(0))),
	)
}

// StoreConfig selects and configures the document store.
type StoreConfig struct {
	Driver   string         `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
}

// Validate validates the store configuration and the section of the
// selected driver.
func (c *StoreConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Driver, validation.Required,
			validation.In(DriverMemory, DriverSQLite, DriverPostgres, DriverRedis)),
	); err != nil {
		return err
	}
	switch c.Driver {
	case DriverSQLite:
		return c.SQLite.Validate()
	case DriverPostgres:
		return c.Postgres.Validate()
	case DriverRedis:
		return c.Redis.Validate()
	}
	return nil
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
	// Watch wakes the change tailer on database file events.
	Watch        bool          `yaml:"watch"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.PollInterval, validation.Min(time.Duration(0))),
	)
}

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	URL          string        `yaml:"url"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Validate validates the PostgreSQL configuration.
func (c *PostgresConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.URL, validation.Required),
		validation.Field(&c.PollInterval, validation.Min(time.Duration(0))),
	)
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	URL       string `yaml:"url"`
	Namespace string `yaml:"namespace"`
}

// Validate validates the Redis configuration.
func (c *RedisConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.URL, validation.Required),
		validation.Field(&c.Namespace, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how the request principal is resolved:
//   - "header" (default): trust an email header set by a fronting proxy.
//   - "jwt": HS256 bearer tokens signed with Secret.
//   - "jwks": RS256 bearer tokens verified against the key set at JWKSURL.
type AuthConfig struct {
	Mode       string `yaml:"mode"`
	Header     string `yaml:"header"`
	Secret     string `yaml:"secret"`
	JWKSURL    string `yaml:"jwks_url"`
	Audience   string `yaml:"audience"`
	Issuer     string `yaml:"issuer"`
	EmailClaim string `yaml:"email_claim"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeHeader
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeHeader, AuthModeJWT, AuthModeJWKS)),
		validation.Field(&c.Secret, validation.When(c.Mode == AuthModeJWT, validation.Required, validation.Length(16, 0))),
		validation.Field(&c.JWKSURL, validation.When(c.Mode == AuthModeJWKS, validation.Required, is.URL)),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port:      8080,
				Keepalive: 25 * time.Second,
			},
		},
		Store: StoreConfig{
			Driver: DriverSQLite,
			SQLite: SQLiteConfig{
				Path:         "./retroboard.db",
				Watch:        true,
				PollInterval: time.Second,
			},
			Postgres: PostgresConfig{
				PollInterval: time.Second,
			},
			Redis: RedisConfig{
				URL:       "redis://localhost:6379/0",
				Namespace: "default",
			},
		},
		Auth: AuthConfig{
			Mode:       AuthModeHeader,
			EmailClaim: "email",
		},
	}
}
