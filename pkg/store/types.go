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

package store

import (
	"strings"
	"time"
)

// CeremonyType scopes a challenge to the ceremony that may consume it.
type CeremonyType string

const (
	CeremonyRegistration   CeremonyType = "registration"
	CeremonyAuthentication CeremonyType = "authentication"
)

// Valid reports whether t is a known ceremony type.
func (t CeremonyType) Valid() bool {
	return t == CeremonyRegistration || t == CeremonyAuthentication
}

// Challenge is one in-flight ceremony.
type Challenge struct {
	ID string `json:"id"`

	// Value is the base64url challenge presented to the authenticator.
	Value string `json:"value"`

	Type CeremonyType `json:"type"`

	// UserID is set when the ceremony is scoped to a known user.
	UserID string `json:"user_id,omitempty"`

	// Email is the address an authentication was begun with, if any.
	Email string `json:"email,omitempty"`

	IP string `json:"ip,omitempty"`

	// SessionData is the serialized verifier state for this ceremony.
	SessionData []byte `json:"session_data"`

	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}

// Expired reports whether the challenge is past its expiry at now.
func (c *Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Check returns the error Consume would return for c at now, or nil when the
// challenge may be consumed by a ceremony of type typ.
func (c *Challenge) Check(typ CeremonyType, now time.Time) error {
	switch {
	case c.Type != typ:
		return ErrTypeMismatch
	case c.UsedAt != nil:
		return ErrAlreadyUsed
	case c.Expired(now):
		return ErrExpired
	}
	return nil
}

// Credential is a registered passkey. Credentials are never deleted;
// revocation is terminal.
type Credential struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	// CredentialID is the authenticator assigned identifier. Globally unique.
	CredentialID []byte `json:"credential_id"`

	PublicKey       []byte   `json:"public_key"`
	AttestationType string   `json:"attestation_type,omitempty"`
	Transports      []string `json:"transports,omitempty"`
	Counter         uint32   `json:"counter"`
	DeviceName      string   `json:"device_name,omitempty"`
	AAGUID          []byte   `json:"aaguid,omitempty"`

	UserPresent    bool `json:"user_present"`
	UserVerified   bool `json:"user_verified"`
	BackupEligible bool `json:"backup_eligible"`
	BackupState    bool `json:"backup_state"`

	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`

	Revoked      bool       `json:"revoked"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	RevokedBy    string     `json:"revoked_by,omitempty"`
	RevokeReason string     `json:"revoke_reason,omitempty"`
}

// Revocation describes a request to revoke a credential.
type Revocation struct {
	// RevokedBy identifies the actor performing the revocation.
	RevokedBy string

	// Reason is an optional free-form note retained with the record.
	Reason string

	// Owner, when set, must match the credential's user. Administrative
	// revocations leave it empty.
	Owner string

	At time.Time
}

// MagicLinkPurpose distinguishes sign-in links from email verification links.
type MagicLinkPurpose string

const (
	PurposeLogin  MagicLinkPurpose = "login"
	PurposeVerify MagicLinkPurpose = "verify"
)

// Valid reports whether p is a known purpose.
func (p MagicLinkPurpose) Valid() bool {
	return p == PurposeLogin || p == PurposeVerify
}

// MagicLink is a single-use emailed identity proof. Only the token hash is
// stored.
type MagicLink struct {
	ID        string           `json:"id"`
	TokenHash string           `json:"token_hash"`
	Email     string           `json:"email"`
	AccountID string           `json:"account_id,omitempty"`
	Purpose   MagicLinkPurpose `json:"purpose"`
	IP        string           `json:"ip,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	ExpiresAt time.Time        `json:"expires_at"`
	UsedAt    *time.Time       `json:"used_at,omitempty"`
}

// Check returns the error ConsumeMagicLink would return at now.
func (m *MagicLink) Check(now time.Time) error {
	switch {
	case m.UsedAt != nil:
		return ErrAlreadyUsed
	case now.After(m.ExpiresAt):
		return ErrExpired
	}
	return nil
}

// Session is a server-side login record. ID is the hash of the cookie secret.
type Session struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	AccountID      string    `json:"account_id"`
	MemberID       string    `json:"member_id,omitempty"`
	Email          string    `json:"email,omitempty"`
	Role           string    `json:"role,omitempty"`
	IP             string    `json:"ip,omitempty"`
	UserAgent      string    `json:"user_agent,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Identity returns the identity the session was opened for.
func (s *Session) Identity() Identity {
	return Identity{
		UserID:    s.UserID,
		AccountID: s.AccountID,
		MemberID:  s.MemberID,
		Email:     s.Email,
		Role:      s.Role,
	}
}

// Account is the subset of the external account record this subsystem
// reads. UserID doubles as the WebAuthn user handle.
type Account struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	MemberID    string     `json:"member_id,omitempty"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name,omitempty"`
	Role        string     `json:"role,omitempty"`
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// Identity returns the identity resolved for the account.
func (a *Account) Identity() Identity {
	return Identity{
		UserID:    a.UserID,
		AccountID: a.ID,
		MemberID:  a.MemberID,
		Email:     a.Email,
		Role:      a.Role,
	}
}

// Identity is the outcome of a successful identity proof.
type Identity struct {
	UserID    string `json:"user_id,omitempty"`
	AccountID string `json:"account_id,omitempty"`
	MemberID  string `json:"member_id,omitempty"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
}

// HasAccount reports whether the identity resolved to an account.
func (i Identity) HasAccount() bool {
	return i.AccountID != ""
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
