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
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/jeremyhahn/go-passwordless/pkg/store"
)

// user adapts an account and its active credentials to webauthn.User. The
// WebAuthn user handle is the account's UserID.
type user struct {
	id          string
	name        string
	displayName string
	creds       []*store.Credential
}

func newUser(userID string, acct *store.Account, creds []*store.Credential) *user {
	u := &user{id: userID, name: userID, displayName: userID, creds: creds}
	if acct != nil {
		if acct.Email != "" {
			u.name = acct.Email
			u.displayName = acct.Email
		}
		if acct.DisplayName != "" {
			u.displayName = acct.DisplayName
		}
	}
	return u
}

// WebAuthnID returns the user handle.
func (u *user) WebAuthnID() []byte {
	return []byte(u.id)
}

// WebAuthnName returns the account email, or the user ID if unset.
func (u *user) WebAuthnName() string {
	return u.name
}

// WebAuthnDisplayName returns the display name shown by the authenticator.
func (u *user) WebAuthnDisplayName() string {
	return u.displayName
}

// WebAuthnCredentials returns the credentials that may sign for this user.
func (u *user) WebAuthnCredentials() []webauthn.Credential {
	out := make([]webauthn.Credential, 0, len(u.creds))
	for _, c := range u.creds {
		out = append(out, toWebAuthn(c))
	}
	return out
}

// toWebAuthn converts a stored credential to the go-webauthn library's type.
func toWebAuthn(c *store.Credential) webauthn.Credential {
	return webauthn.Credential{
		ID:              c.CredentialID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Transport:       transports(c.Transports),
		Flags: webauthn.CredentialFlags{
			UserPresent:    c.UserPresent,
			UserVerified:   c.UserVerified,
			BackupEligible: c.BackupEligible,
			BackupState:    c.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:    c.AAGUID,
			SignCount: c.Counter,
		},
	}
}

// descriptors builds the exclusion or allow list for creds.
func descriptors(creds []*store.Credential) []protocol.CredentialDescriptor {
	out := make([]protocol.CredentialDescriptor, 0, len(creds))
	for _, c := range creds {
		out = append(out, protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: c.CredentialID,
			Transport:    transports(c.Transports),
		})
	}
	return out
}

func transports(in []string) []protocol.AuthenticatorTransport {
	if len(in) == 0 {
		return nil
	}
	out := make([]protocol.AuthenticatorTransport, len(in))
	for i, t := range in {
		out[i] = protocol.AuthenticatorTransport(t)
	}
	return out
}

func transportStrings(in []protocol.AuthenticatorTransport) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	for i, t := range in {
		out[i] = string(t)
	}
	return out
}
