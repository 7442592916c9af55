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

package rest

import (
	"encoding/base64"
	"time"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/jeremyhahn/go-passwordless/pkg/store"
)

// RegistrationBeginResponse carries the creation options for the browser.
type RegistrationBeginResponse struct {
	Options     *protocol.CredentialCreation `json:"options"`
	ChallengeID string                       `json:"challenge_id"`
}

// LoginBeginRequest optionally names the user signing in.
type LoginBeginRequest struct {
	Email string `json:"email,omitempty"`
}

// LoginBeginResponse carries the request options for the browser.
type LoginBeginResponse struct {
	Options     *protocol.CredentialAssertion `json:"options"`
	ChallengeID string                        `json:"challenge_id"`
}

// MagicLinkRequest asks for a link to be mailed.
type MagicLinkRequest struct {
	Email   string `json:"email"`
	Purpose string `json:"purpose,omitempty"`
}

// MagicLinkResponse is returned whether or not the address is known.
type MagicLinkResponse struct {
	ExpiresAt time.Time `json:"expires_at"`
}

// MagicLinkVerifyResponse reports a consumed link.
type MagicLinkVerifyResponse struct {
	Identity IdentityResponse `json:"identity"`
	Purpose  string           `json:"purpose"`

	// Session is true when a session cookie was set.
	Session bool `json:"session"`
}

// RevokeRequest optionally explains a revocation.
type RevokeRequest struct {
	Reason string `json:"reason,omitempty"`
}

// IdentityResponse is the public view of an identity.
type IdentityResponse struct {
	UserID    string `json:"user_id,omitempty"`
	AccountID string `json:"account_id,omitempty"`
	MemberID  string `json:"member_id,omitempty"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
}

func identityResponse(id store.Identity) IdentityResponse {
	return IdentityResponse{
		UserID:    id.UserID,
		AccountID: id.AccountID,
		MemberID:  id.MemberID,
		Email:     id.Email,
		Role:      id.Role,
	}
}

// SessionResponse describes the current session.
type SessionResponse struct {
	Identity       IdentityResponse `json:"identity"`
	CreatedAt      time.Time        `json:"created_at"`
	LastActivityAt time.Time        `json:"last_activity_at"`
	ExpiresAt      time.Time        `json:"expires_at"`
}

// CredentialResponse is the public view of a credential. Key material is
// never returned.
type CredentialResponse struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	CredentialID   string     `json:"credential_id"`
	DeviceName     string     `json:"device_name,omitempty"`
	Transports     []string   `json:"transports,omitempty"`
	BackupEligible bool       `json:"backup_eligible"`
	BackupState    bool       `json:"backup_state"`
	CreatedAt      time.Time  `json:"created_at"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
	Revoked        bool       `json:"revoked"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
	RevokedBy      string     `json:"revoked_by,omitempty"`
	RevokeReason   string     `json:"revoke_reason,omitempty"`
}

func credentialResponse(c *store.Credential) CredentialResponse {
	return CredentialResponse{
		ID:             c.ID,
		UserID:         c.UserID,
		CredentialID:   base64.RawURLEncoding.EncodeToString(c.CredentialID),
		DeviceName:     c.DeviceName,
		Transports:     c.Transports,
		BackupEligible: c.BackupEligible,
		BackupState:    c.BackupState,
		CreatedAt:      c.CreatedAt,
		LastUsedAt:     c.LastUsedAt,
		Revoked:        c.Revoked,
		RevokedAt:      c.RevokedAt,
		RevokedBy:      c.RevokedBy,
		RevokeReason:   c.RevokeReason,
	}
}

// CredentialListResponse wraps a credential list.
type CredentialListResponse struct {
	Credentials []CredentialResponse `json:"credentials"`
}

func credentialList(creds []*store.Credential) CredentialListResponse {
	out := CredentialListResponse{Credentials: make([]CredentialResponse, 0, len(creds))}
	for _, c := range creds {
		out.Credentials = append(out.Credentials, credentialResponse(c))
	}
	return out
}
