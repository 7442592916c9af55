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

package passkey

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// Runtime selects production or development defaults.
type Runtime string

const (
	RuntimeProduction  Runtime = "production"
	RuntimeDevelopment Runtime = "development"

	// DefaultChallengeTTL is how long a begun ceremony may be finished.
	DefaultChallengeTTL = 5 * time.Minute

	// DefaultDevPort is the port used for development origins.
	DefaultDevPort = 8080
)

// Config configures the relying party and the ceremonies.
type Config struct {
	// Runtime is "production" (default) or "development".
	Runtime Runtime `yaml:"runtime" json:"runtime" mapstructure:"runtime"`

	// RPID is the Relying Party identifier, a bare domain name.
	// Example: "example.com"
	RPID string `yaml:"id" json:"id" mapstructure:"id"`

	// RPDisplayName is the human-readable name of the Relying Party.
	RPDisplayName string `yaml:"display_name" json:"display_name" mapstructure:"display_name"`

	// RPOrigins are the allowed origins for WebAuthn operations.
	// Example: []string{"https://example.com", "https://www.example.com"}
	RPOrigins []string `yaml:"origins" json:"origins" mapstructure:"origins"`

	// DevPort is used to build the development origins when RPOrigins is empty.
	DevPort int `yaml:"dev_port" json:"dev_port" mapstructure:"dev_port"`

	// ChallengeTTL bounds each ceremony. Default: 5 minutes.
	ChallengeTTL time.Duration `yaml:"challenge_ttl" json:"challenge_ttl" mapstructure:"challenge_ttl"`

	// UserVerification is the preference sent to the authenticator.
	// Options: "required", "preferred", "discouraged". Default: "preferred".
	// The UV flag is required on every response regardless.
	UserVerification string `yaml:"user_verification" json:"user_verification" mapstructure:"user_verification"`

	// AttestationPreference specifies the attestation conveyance preference.
	// Options: "none", "indirect", "direct", "enterprise". Default: "none".
	AttestationPreference string `yaml:"attestation" json:"attestation" mapstructure:"attestation"`

	// ResidentKeyRequirement specifies whether to require resident keys (passkeys).
	// Options: "required", "preferred", "discouraged". Default: "preferred".
	ResidentKeyRequirement string `yaml:"resident_key" json:"resident_key" mapstructure:"resident_key"`

	// AuthenticatorAttachment limits the type of authenticators allowed.
	// Options: "platform", "cross-platform", "" (any).
	AuthenticatorAttachment string `yaml:"authenticator_attachment" json:"authenticator_attachment" mapstructure:"authenticator_attachment"`

	// Debug enables debug logging in the WebAuthn library.
	Debug bool `yaml:"debug" json:"debug" mapstructure:"debug"`
}

// IsDevelopment reports whether the development runtime is selected.
func (c *Config) IsDevelopment() bool {
	return c.Runtime == RuntimeDevelopment
}

// SetDefaults sets default values for unset configuration fields. In the
// development runtime a missing relying party falls back to localhost.
func (c *Config) SetDefaults() {
	if c.Runtime == "" {
		c.Runtime = RuntimeProduction
	}
	if c.ChallengeTTL == 0 {
		c.ChallengeTTL = DefaultChallengeTTL
	}
	if c.UserVerification == "" {
		c.UserVerification = "preferred"
	}
	if c.AttestationPreference == "" {
		c.AttestationPreference = "none"
	}
	if c.ResidentKeyRequirement == "" {
		c.ResidentKeyRequirement = "preferred"
	}

	if !c.IsDevelopment() {
		return
	}
	if c.DevPort == 0 {
		c.DevPort = DefaultDevPort
	}
	if c.RPID == "" {
		c.RPID = "localhost"
	}
	if c.RPDisplayName == "" {
		c.RPDisplayName = "Passwordless (development)"
	}
	if len(c.RPOrigins) == 0 {
		port := strconv.Itoa(c.DevPort)
		c.RPOrigins = []string{
			"http://localhost:" + port,
			"http://127.0.0.1:" + port,
		}
	}
}

// Validate validates the configuration. Every error wraps ErrConfiguration.
func (c *Config) Validate() error {
	switch c.Runtime {
	case RuntimeProduction, RuntimeDevelopment:
	default:
		return configError("invalid runtime: %q", c.Runtime)
	}

	if c.RPID == "" {
		return configError("rp id is required")
	}
	if strings.Contains(c.RPID, "://") || strings.Contains(c.RPID, "/") {
		return configError("rp id must be a bare domain: %q", c.RPID)
	}
	if c.RPDisplayName == "" {
		return configError("rp display name is required")
	}
	if len(c.RPOrigins) == 0 {
		return configError("at least one rp origin is required")
	}
	for _, origin := range c.RPOrigins {
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return configError("rp origin must be an absolute URL: %q", origin)
		}
	}
	if c.ChallengeTTL < 0 {
		return configError("challenge ttl must be positive")
	}

	switch c.UserVerification {
	case "", "required", "preferred", "discouraged":
	default:
		return configError("invalid user verification: %s", c.UserVerification)
	}

	switch c.AttestationPreference {
	case "", "none", "indirect", "direct", "enterprise":
	default:
		return configError("invalid attestation preference: %s", c.AttestationPreference)
	}

	switch c.ResidentKeyRequirement {
	case "", "required", "preferred", "discouraged":
	default:
		return configError("invalid resident key requirement: %s", c.ResidentKeyRequirement)
	}

	switch c.AuthenticatorAttachment {
	case "", "platform", "cross-platform":
	default:
		return configError("invalid authenticator attachment: %s", c.AuthenticatorAttachment)
	}

	return nil
}

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrConfiguration}, args...)...)
}

// ToWebAuthnConfig converts the Config to the go-webauthn library's configuration.
func (c *Config) ToWebAuthnConfig() *webauthn.Config {
	cfg := &webauthn.Config{
		RPID:          c.RPID,
		RPDisplayName: c.RPDisplayName,
		RPOrigins:     c.RPOrigins,
		Debug:         c.Debug,
	}

	// The library's own ceremony timeout matches the challenge lifetime
	if c.ChallengeTTL > 0 {
		cfg.Timeouts = webauthn.TimeoutsConfig{
			Login: webauthn.TimeoutConfig{
				Enforce:    true,
				Timeout:    c.ChallengeTTL,
				TimeoutUVD: c.ChallengeTTL,
			},
			Registration: webauthn.TimeoutConfig{
				Enforce:    true,
				Timeout:    c.ChallengeTTL,
				TimeoutUVD: c.ChallengeTTL,
			},
		}
	}

	switch c.AttestationPreference {
	case "none":
		cfg.AttestationPreference = protocol.PreferNoAttestation
	case "indirect":
		cfg.AttestationPreference = protocol.PreferIndirectAttestation
	case "direct":
		cfg.AttestationPreference = protocol.PreferDirectAttestation
	case "enterprise":
		cfg.AttestationPreference = protocol.PreferEnterpriseAttestation
	}

	cfg.AuthenticatorSelection = protocol.AuthenticatorSelection{}

	switch c.UserVerification {
	case "required":
		cfg.AuthenticatorSelection.UserVerification = protocol.VerificationRequired
	case "preferred":
		cfg.AuthenticatorSelection.UserVerification = protocol.VerificationPreferred
	case "discouraged":
		cfg.AuthenticatorSelection.UserVerification = protocol.VerificationDiscouraged
	}

	switch c.ResidentKeyRequirement {
	case "required":
		cfg.AuthenticatorSelection.ResidentKey = protocol.ResidentKeyRequirementRequired
	case "preferred":
		cfg.AuthenticatorSelection.ResidentKey = protocol.ResidentKeyRequirementPreferred
	case "discouraged":
		cfg.AuthenticatorSelection.ResidentKey = protocol.ResidentKeyRequirementDiscouraged
	}

	switch c.AuthenticatorAttachment {
	case "platform":
		cfg.AuthenticatorSelection.AuthenticatorAttachment = protocol.Platform
	case "cross-platform":
		cfg.AuthenticatorSelection.AuthenticatorAttachment = protocol.CrossPlatform
	}

	return cfg
}
