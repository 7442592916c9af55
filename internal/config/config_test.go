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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-passwordless/pkg/passkey"
	"github.com/jeremyhahn/go-passwordless/pkg/session"
)

const productionYAML = `
runtime: production
server:
  address: ":9443"
  read_timeout: 5s
logging:
  level: debug
  format: text
relying_party:
  id: example.com
  display_name: Example Corp
  origins:
    - https://example.com
session:
  idle_timeout: 12h
magic_link:
  base_url: https://example.com/magic-link/verify
storage:
  backend: sqlite
  dsn: /var/lib/passwordless/auth.db
admin:
  jwt_secret: 0123456789abcdef0123456789abcdef
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, productionYAML))
	require.NoError(t, err)

	assert.Equal(t, passkey.RuntimeProduction, cfg.Runtime)
	assert.Equal(t, ":9443", cfg.Server.Address)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "example.com", cfg.RelyingParty.RPID)
	assert.Equal(t, []string{"https://example.com"}, cfg.RelyingParty.RPOrigins)
	assert.Equal(t, passkey.DefaultChallengeTTL, cfg.RelyingParty.ChallengeTTL)
	assert.Equal(t, 12*time.Hour, cfg.Session.IdleTimeout)
	assert.Equal(t, session.DefaultMaxAge, cfg.Session.MaxAge)
	assert.Equal(t, StorageSqlite, cfg.Storage.Backend)
	assert.True(t, cfg.Admin.Enabled())
	assert.True(t, cfg.Sweeper.Enabled)
	assert.True(t, cfg.Metrics.Enabled)
	assert.False(t, cfg.SMTP.Enabled())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PASSWORDLESS_SESSION_IDLE_TIMEOUT", "2h")
	t.Setenv("PASSWORDLESS_RELYING_PARTY_ORIGINS", "https://example.com,https://www.example.com")
	t.Setenv("PASSWORDLESS_STORAGE_BACKEND", "memory")
	t.Setenv("PASSWORDLESS_MAGIC_LINK_EMAIL_LIMIT", "5")

	cfg, err := Load(writeConfig(t, productionYAML))
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, cfg.Session.IdleTimeout)
	assert.Equal(t, []string{"https://example.com", "https://www.example.com"}, cfg.RelyingParty.RPOrigins)
	assert.Equal(t, StorageMemory, cfg.Storage.Backend)
	assert.Equal(t, 5, cfg.MagicLink.EmailLimit)
}

func TestLoadDevelopmentWithoutFile(t *testing.T) {
	t.Setenv("PASSWORDLESS_RUNTIME", "development")
	t.Setenv("PASSWORDLESS_SERVER_ADDRESS", "127.0.0.1:3000")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.IsDevelopment())
	assert.True(t, cfg.RelyingParty.IsDevelopment())
	assert.Equal(t, "localhost", cfg.RelyingParty.RPID)
	assert.Contains(t, cfg.RelyingParty.RPOrigins, "http://localhost:3000")
	assert.Equal(t, StorageMemory, cfg.Storage.Backend)
}

func TestLoadProductionRequiresRelyingParty(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relying_party")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func validConfig() *Config {
	c := &Config{
		RelyingParty: passkey.Config{
			RPID:          "example.com",
			RPDisplayName: "Example Corp",
			RPOrigins:     []string{"https://example.com"},
		},
	}
	c.SetDefaults()
	return c
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad runtime", func(c *Config) { c.Runtime = "staging" }, "invalid runtime"},
		{"runtime conflict", func(c *Config) { c.RelyingParty.Runtime = passkey.RuntimeDevelopment }, "conflicts"},
		{"tls without cert", func(c *Config) { c.Server.TLS.Enabled = true }, "cert_file"},
		{"tls bad version", func(c *Config) {
			c.Server.TLS = TLSConfig{Enabled: true, CertFile: "c", KeyFile: "k", MinVersion: "TLS1.0"}
		}, "min_version"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "log level"},
		{"idle exceeds max age", func(c *Config) { c.Session.IdleTimeout = 8 * 24 * time.Hour }, "session"},
		{"bad storage", func(c *Config) { c.Storage.Backend = "redis" }, "storage backend"},
		{"postgres without dsn", func(c *Config) { c.Storage.Backend = StoragePostgres }, "dsn"},
		{"smtp without from", func(c *Config) { c.SMTP.Host = "smtp.example.com" }, "from"},
		{"short admin secret", func(c *Config) { c.Admin.JWTSecret = "short" }, "32 bytes"},
		{"bad metrics path", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Path = "metrics" }, "metrics path"},
		{"relative base url", func(c *Config) { c.MagicLink.BaseURL = "/verify" }, "magic_link"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSetDefaultsStorage(t *testing.T) {
	c := &Config{Storage: StorageConfig{Backend: StorageFile}}
	c.SetDefaults()
	assert.Equal(t, "./data", c.Storage.Path)

	c = &Config{Storage: StorageConfig{Backend: StorageSqlite}}
	c.SetDefaults()
	assert.Equal(t, "passwordless.db", c.Storage.DSN)
}

func TestYAMLRedactsSecrets(t *testing.T) {
	c := validConfig()
	c.Admin.JWTSecret = strings.Repeat("s", 32)
	c.SMTP.Password = "hunter2"
	c.Storage = StorageConfig{Backend: StoragePostgres, DSN: "postgres://u:p@db/auth"}

	out, err := c.YAML()
	require.NoError(t, err)
	assert.NotContains(t, string(out), "hunter2")
	assert.NotContains(t, string(out), "u:p@db")
	assert.NotContains(t, string(out), c.Admin.JWTSecret)
	assert.Contains(t, string(out), redacted)

	var round map[string]any
	require.NoError(t, yaml.Unmarshal(out, &round))
	assert.Contains(t, round, "relying_party")
	assert.Contains(t, round, "magic_link")

	// The receiver is not modified.
	assert.Equal(t, "hunter2", c.SMTP.Password)
}

func TestTLSDisabled(t *testing.T) {
	var c TLSConfig
	tc, err := c.LoadTLSConfig()
	require.NoError(t, err)
	assert.Nil(t, tc)
}
