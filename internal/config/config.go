// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passwordless.
//
// go-passwordless is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package config loads the server configuration with viper. Values come
// from an optional YAML file, PASSWORDLESS_* environment variables and the
// defaults registered here, in that order of precedence after the
// environment.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-passwordless/pkg/logger"
	"github.com/jeremyhahn/go-passwordless/pkg/magiclink"
	"github.com/jeremyhahn/go-passwordless/pkg/passkey"
	"github.com/jeremyhahn/go-passwordless/pkg/ratelimit"
	"github.com/jeremyhahn/go-passwordless/pkg/session"
	"github.com/jeremyhahn/go-passwordless/pkg/sweeper"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PASSWORDLESS"

// Storage backends.
const (
	StorageMemory   = "memory"
	StorageFile     = "file"
	StorageSqlite   = "sqlite"
	StoragePostgres = "postgres"
)

const redacted = "REDACTED"

// Config represents the complete server configuration.
type Config struct {
	Runtime      passkey.Runtime  `yaml:"runtime" mapstructure:"runtime"`
	Server       ServerConfig     `yaml:"server" mapstructure:"server"`
	Logging      logger.Config    `yaml:"logging" mapstructure:"logging"`
	RelyingParty passkey.Config   `yaml:"relying_party" mapstructure:"relying_party"`
	Session      session.Config   `yaml:"session" mapstructure:"session"`
	MagicLink    magiclink.Config `yaml:"magic_link" mapstructure:"magic_link"`
	Storage      StorageConfig    `yaml:"storage" mapstructure:"storage"`
	SMTP         SMTPConfig       `yaml:"smtp" mapstructure:"smtp"`
	Admin        AdminConfig      `yaml:"admin" mapstructure:"admin"`
	Sweeper      SweeperConfig    `yaml:"sweeper" mapstructure:"sweeper"`
	Metrics      MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	RateLimit    RateLimitConfig  `yaml:"ratelimit" mapstructure:"ratelimit"`
}

// ServerConfig contains listener settings.
type ServerConfig struct {
	Address         string        `yaml:"address" mapstructure:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	TLS             TLSConfig     `yaml:"tls" mapstructure:"tls"`
}

// StorageConfig selects where records live.
type StorageConfig struct {
	// Backend is memory, file, sqlite or postgres.
	Backend string `yaml:"backend" mapstructure:"backend"`

	// Path is the directory for the file backend.
	Path string `yaml:"path" mapstructure:"path"`

	// DSN is the data source for sqlite and postgres.
	DSN string `yaml:"dsn" mapstructure:"dsn"`
}

// SMTPConfig configures magic link delivery. Delivery is disabled when
// Host is empty and links are only logged.
type SMTPConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	From     string `yaml:"from" mapstructure:"from"`
}

// Enabled reports whether a relay is configured.
func (c SMTPConfig) Enabled() bool {
	return c.Host != ""
}

// Addr returns host:port for the relay.
func (c SMTPConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// AdminConfig configures bearer token checks on the admin routes.
type AdminConfig struct {
	JWTSecret string `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	Issuer    string `yaml:"issuer" mapstructure:"issuer"`
	Audience  string `yaml:"audience" mapstructure:"audience"`

	// Role is the role claim required on admin tokens.
	Role string `yaml:"role" mapstructure:"role"`
}

// Enabled reports whether the admin routes are mounted.
func (c AdminConfig) Enabled() bool {
	return c.JWTSecret != ""
}

// SweeperConfig controls background cleanup.
type SweeperConfig struct {
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
}

// MetricsConfig controls the metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	// Global is the token bucket applied to every request.
	Global ratelimit.Config `yaml:"global" mapstructure:"global"`

	// CeremonyRequestsPerMinute bounds ceremony routes per client IP.
	CeremonyRequestsPerMinute int `yaml:"ceremony_requests_per_minute" mapstructure:"ceremony_requests_per_minute"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

// SetDefaults fills unset fields. The top-level runtime is copied into the
// relying party before its own defaults run.
func (c *Config) SetDefaults() {
	if c.Runtime == "" {
		c.Runtime = passkey.RuntimeProduction
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.RelyingParty.Runtime == "" {
		c.RelyingParty.Runtime = c.Runtime
	}
	if c.RelyingParty.DevPort == 0 {
		if _, port, err := net.SplitHostPort(c.Server.Address); err == nil {
			if n, err := strconv.Atoi(port); err == nil {
				c.RelyingParty.DevPort = n
			}
		}
	}
	c.RelyingParty.SetDefaults()
	c.Session.SetDefaults()
	c.MagicLink.SetDefaults()

	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageMemory
	}
	if c.Storage.Backend == StorageFile && c.Storage.Path == "" {
		c.Storage.Path = "./data"
	}
	if c.Storage.Backend == StorageSqlite && c.Storage.DSN == "" {
		c.Storage.DSN = "passwordless.db"
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
	if c.Admin.Issuer == "" {
		c.Admin.Issuer = "passwordless"
	}
	if c.Admin.Role == "" {
		c.Admin.Role = "admin"
	}
	if c.Sweeper.Interval == 0 {
		c.Sweeper.Interval = sweeper.DefaultInterval
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.RateLimit.Global.RequestsPerMinute == 0 {
		c.RateLimit.Global.RequestsPerMinute = 600
	}
	if c.RateLimit.Global.Burst == 0 {
		c.RateLimit.Global.Burst = 50
	}
	if c.RateLimit.CeremonyRequestsPerMinute == 0 {
		c.RateLimit.CeremonyRequestsPerMinute = 30
	}
}

// IsDevelopment reports whether the development runtime is selected.
func (c *Config) IsDevelopment() bool {
	return c.Runtime == passkey.RuntimeDevelopment
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Runtime {
	case passkey.RuntimeProduction, passkey.RuntimeDevelopment:
	default:
		return fmt.Errorf("invalid runtime: %s (must be production or development)", c.Runtime)
	}
	if c.RelyingParty.Runtime != c.Runtime {
		return fmt.Errorf("relying_party.runtime %q conflicts with runtime %q", c.RelyingParty.Runtime, c.Runtime)
	}
	if c.Server.Address == "" {
		return fmt.Errorf("server address must be specified")
	}
	if err := c.Server.TLS.Validate(); err != nil {
		return err
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if err := c.RelyingParty.Validate(); err != nil {
		return fmt.Errorf("relying_party: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if err := c.MagicLink.Validate(); err != nil {
		return fmt.Errorf("magic_link: %w", err)
	}

	switch c.Storage.Backend {
	case StorageMemory:
	case StorageFile:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path is required for the file backend")
		}
	case StorageSqlite, StoragePostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage dsn is required for the %s backend", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("invalid storage backend: %s (must be memory, file, sqlite or postgres)", c.Storage.Backend)
	}

	if c.SMTP.Enabled() {
		if c.SMTP.From == "" {
			return fmt.Errorf("smtp from address is required when smtp is enabled")
		}
		if c.SMTP.Port < 1 || c.SMTP.Port > 65535 {
			return fmt.Errorf("invalid smtp port: %d", c.SMTP.Port)
		}
	}
	if c.Admin.Enabled() && len(c.Admin.JWTSecret) < 32 {
		return fmt.Errorf("admin jwt_secret must be at least 32 bytes")
	}
	if c.Sweeper.Interval < 0 {
		return fmt.Errorf("sweeper interval must not be negative")
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics path must start with /")
	}
	if c.RateLimit.CeremonyRequestsPerMinute < 0 {
		return fmt.Errorf("ceremony_requests_per_minute must not be negative")
	}
	return nil
}

// Load reads path (optional) and the environment into a validated Config.
func Load(path string) (*Config, error) {
	v := viper.New()
	registerDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// registerDefaults registers every key so AutomaticEnv can override keys
// absent from the file. Values that depend on other keys are left for
// SetDefaults.
func registerDefaults(v *viper.Viper) {
	d := &Config{}
	d.SetDefaults()

	v.SetDefault("runtime", "")
	v.SetDefault("server.address", d.Server.Address)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")
	v.SetDefault("server.tls.min_version", "")

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.add_source", false)

	v.SetDefault("relying_party.runtime", "")
	v.SetDefault("relying_party.id", "")
	v.SetDefault("relying_party.display_name", "")
	v.SetDefault("relying_party.origins", []string{})
	v.SetDefault("relying_party.dev_port", 0)
	v.SetDefault("relying_party.challenge_ttl", d.RelyingParty.ChallengeTTL)
	v.SetDefault("relying_party.user_verification", "")
	v.SetDefault("relying_party.attestation", "")
	v.SetDefault("relying_party.resident_key", "")
	v.SetDefault("relying_party.authenticator_attachment", "")
	v.SetDefault("relying_party.debug", false)

	v.SetDefault("session.max_age", d.Session.MaxAge)
	v.SetDefault("session.idle_timeout", d.Session.IdleTimeout)
	v.SetDefault("session.cookie_name", d.Session.CookieName)

	v.SetDefault("magic_link.ttl", d.MagicLink.TTL)
	v.SetDefault("magic_link.base_url", "")
	v.SetDefault("magic_link.email_limit", d.MagicLink.EmailLimit)
	v.SetDefault("magic_link.ip_limit", d.MagicLink.IPLimit)
	v.SetDefault("magic_link.window", d.MagicLink.Window)

	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.path", "")
	v.SetDefault("storage.dsn", "")

	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", d.SMTP.Port)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "")

	v.SetDefault("admin.jwt_secret", "")
	v.SetDefault("admin.issuer", d.Admin.Issuer)
	v.SetDefault("admin.audience", "")
	v.SetDefault("admin.role", d.Admin.Role)

	v.SetDefault("sweeper.enabled", true)
	v.SetDefault("sweeper.interval", d.Sweeper.Interval)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", d.Metrics.Path)

	v.SetDefault("ratelimit.global.enabled", true)
	v.SetDefault("ratelimit.global.requests_per_minute", d.RateLimit.Global.RequestsPerMinute)
	v.SetDefault("ratelimit.global.burst", d.RateLimit.Global.Burst)
	v.SetDefault("ratelimit.ceremony_requests_per_minute", d.RateLimit.CeremonyRequestsPerMinute)
}

// YAML renders the configuration with secrets redacted.
func (c *Config) YAML() ([]byte, error) {
	out := *c
	if out.SMTP.Password != "" {
		out.SMTP.Password = redacted
	}
	if out.Admin.JWTSecret != "" {
		out.Admin.JWTSecret = redacted
	}
	if out.Storage.Backend == StoragePostgres && out.Storage.DSN != "" {
		out.Storage.DSN = redacted
	}
	return yaml.Marshal(&out)
}
