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
	"bytes"
	"errors"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// Flags are the authenticator data flags of a verified response.
type Flags struct {
	UserPresent    bool
	UserVerified   bool
	BackupEligible bool
	BackupState    bool
}

// Attestation is what a verified registration response yields.
type Attestation struct {
	CredentialID    []byte
	PublicKey       []byte
	AttestationType string
	Transports      []string
	AAGUID          []byte
	Counter         uint32
	Flags           Flags
}

// Assertion is what a verified authentication response yields.
type Assertion struct {
	CredentialID []byte
	Counter      uint32
	Flags        Flags
}

// Verifier performs the cryptographic half of the ceremonies: building
// options and checking responses against challenge, origin and RP ID.
// Policy such as the UV requirement and counter freshness stays in Service.
type Verifier interface {
	BeginRegistration(u webauthn.User, exclude []protocol.CredentialDescriptor) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	FinishRegistration(u webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*Attestation, error)
	BeginLogin(scope LoginScope) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	FinishLogin(u webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*Assertion, error)
}

// WebAuthnVerifier implements Verifier with github.com/go-webauthn/webauthn.
type WebAuthnVerifier struct {
	wa *webauthn.WebAuthn
}

// NewWebAuthnVerifier creates a verifier for the relying party in cfg.
func NewWebAuthnVerifier(cfg *Config) (*WebAuthnVerifier, error) {
	wa, err := webauthn.New(cfg.ToWebAuthnConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return &WebAuthnVerifier{wa: wa}, nil
}

// BeginRegistration returns creation options excluding the given credentials.
func (v *WebAuthnVerifier) BeginRegistration(u webauthn.User, exclude []protocol.CredentialDescriptor) (*protocol.CredentialCreation, *webauthn.SessionData, error) {
	return v.wa.BeginRegistration(u, webauthn.WithExclusions(exclude))
}

// FinishRegistration verifies an attestation response.
func (v *WebAuthnVerifier) FinishRegistration(u webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*Attestation, error) {
	cred, err := v.wa.CreateCredential(u, session, response)
	if err != nil {
		return nil, err
	}
	return &Attestation{
		CredentialID:    cred.ID,
		PublicKey:       cred.PublicKey,
		AttestationType: cred.AttestationType,
		Transports:      transportStrings(cred.Transport),
		AAGUID:          cred.Authenticator.AAGUID,
		Counter:         cred.Authenticator.SignCount,
		Flags: Flags{
			UserPresent:    cred.Flags.UserPresent,
			UserVerified:   cred.Flags.UserVerified,
			BackupEligible: cred.Flags.BackupEligible,
			BackupState:    cred.Flags.BackupState,
		},
	}, nil
}

// BeginLogin returns request options for scope.
func (v *WebAuthnVerifier) BeginLogin(scope LoginScope) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	switch s := scope.(type) {
	case Scoped:
		return v.wa.BeginLogin(newUser(s.User, nil, s.Credentials))
	case Discoverable:
		return v.wa.BeginDiscoverableLogin()
	}
	return nil, nil, fmt.Errorf("unsupported login scope %T", scope)
}

// FinishLogin verifies an assertion response signed by one of u's
// credentials. A session without a user ID is a discoverable ceremony; the
// response's user handle must then name u.
func (v *WebAuthnVerifier) FinishLogin(u webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*Assertion, error) {
	var err error
	if len(session.UserID) == 0 {
		_, err = v.wa.ValidateDiscoverableLogin(func(rawID, userHandle []byte) (webauthn.User, error) {
			if !bytes.Equal(userHandle, u.WebAuthnID()) {
				return nil, errors.New("user handle does not match credential owner")
			}
			return u, nil
		}, session, response)
	} else {
		_, err = v.wa.ValidateLogin(u, session, response)
	}
	if err != nil {
		return nil, err
	}

	data := response.Response.AuthenticatorData
	return &Assertion{
		CredentialID: response.RawID,
		Counter:      data.Counter,
		Flags: Flags{
			UserPresent:    data.Flags.HasUserPresent(),
			UserVerified:   data.Flags.HasUserVerified(),
			BackupEligible: data.Flags.HasBackupEligible(),
			BackupState:    data.Flags.HasBackupState(),
		},
	}, nil
}
