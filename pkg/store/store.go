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
	"context"
	"time"
)

// ChallengeStore persists ceremony challenges.
type ChallengeStore interface {
	// CreateChallenge persists a new challenge.
	CreateChallenge(ctx context.Context, c *Challenge) error

	// GetChallenge returns a challenge without consuming it.
	GetChallenge(ctx context.Context, id string) (*Challenge, error)

	// ConsumeChallenge atomically marks the challenge used at now. It fails
	// with ErrNotFound, ErrTypeMismatch, ErrAlreadyUsed or ErrExpired, checked
	// in that order. Of any number of concurrent callers at most one succeeds.
	ConsumeChallenge(ctx context.Context, id string, typ CeremonyType, now time.Time) (*Challenge, error)

	// DeleteExpiredChallenges removes challenges that expired before now,
	// whether or not they were used.
	DeleteExpiredChallenges(ctx context.Context, now time.Time) (int, error)
}

// CredentialStore persists passkeys.
type CredentialStore interface {
	// CreateCredential persists a new credential. It fails with
	// ErrDuplicateCredential when the credential ID already exists for any user.
	CreateCredential(ctx context.Context, c *Credential) error

	// GetCredential returns a credential by record ID.
	GetCredential(ctx context.Context, id string) (*Credential, error)

	// FindCredential returns a credential by authenticator credential ID.
	FindCredential(ctx context.Context, credentialID []byte) (*Credential, error)

	// ListActiveCredentials returns a user's unrevoked credentials.
	ListActiveCredentials(ctx context.Context, userID string) ([]*Credential, error)

	// ListCredentials returns all of a user's credentials, revoked included.
	ListCredentials(ctx context.Context, userID string) ([]*Credential, error)

	// UpdateCredentialCounter stores a new counter and last-used time.
	UpdateCredentialCounter(ctx context.Context, id string, counter uint32, usedAt time.Time) error

	// RevokeCredential marks a credential revoked. It fails with
	// ErrAlreadyRevoked, or ErrOwnershipMismatch when rev.Owner is set and
	// differs from the credential's user.
	RevokeCredential(ctx context.Context, id string, rev Revocation) (*Credential, error)
}

// AccountStore is the narrow contract to the externally owned account data.
type AccountStore interface {
	GetAccount(ctx context.Context, id string) (*Account, error)
	FindAccountByEmail(ctx context.Context, email string) (*Account, error)
	FindAccountByUserID(ctx context.Context, userID string) (*Account, error)

	// PutAccount creates or replaces an account. Used for provisioning.
	PutAccount(ctx context.Context, a *Account) error
}

// MagicLinkStore persists magic link hashes.
type MagicLinkStore interface {
	CreateMagicLink(ctx context.Context, m *MagicLink) error

	// ConsumeMagicLink atomically marks the link with tokenHash used at now.
	// It fails with ErrNotFound, ErrAlreadyUsed or ErrExpired.
	ConsumeMagicLink(ctx context.Context, tokenHash string, now time.Time) (*MagicLink, error)

	// DeleteExpiredMagicLinks removes links that expired before now.
	DeleteExpiredMagicLinks(ctx context.Context, now time.Time) (int, error)
}

// SessionStore persists sessions keyed by secret hash.
type SessionStore interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	TouchSession(ctx context.Context, id string, at time.Time) error
	DeleteSession(ctx context.Context, id string) error

	// DeleteAccountSessions removes every session of an account.
	DeleteAccountSessions(ctx context.Context, accountID string) (int, error)

	// DeleteStaleSessions removes sessions idle since before idleBefore or
	// created before createdBefore.
	DeleteStaleSessions(ctx context.Context, idleBefore, createdBefore time.Time) (int, error)
}

// AuthenticationCommit is the success side effect of an authentication.
type AuthenticationCommit struct {
	ChallengeID string

	// CredentialID is the record ID of the credential that signed.
	CredentialID string

	// PreviousCounter is the counter read before verification. The update
	// fails with ErrConflict if the stored counter changed meanwhile.
	PreviousCounter uint32
	Counter         uint32

	AccountID string
	At        time.Time
}

// Ceremonies commits the success paths of the ceremonies. Each method
// consumes the challenge and applies its mutations in one transaction; on
// any error nothing is changed, the challenge included.
type Ceremonies interface {
	// CompleteRegistration consumes a registration challenge and creates cred.
	CompleteRegistration(ctx context.Context, challengeID string, cred *Credential, now time.Time) error

	// CompleteAuthentication consumes an authentication challenge, advances
	// the credential counter and stamps the account's last login. It fails
	// with ErrCredentialRevoked if the credential was revoked meanwhile.
	CompleteAuthentication(ctx context.Context, c AuthenticationCommit) error
}

// Store is the full persistence surface.
type Store interface {
	ChallengeStore
	CredentialStore
	AccountStore
	MagicLinkStore
	SessionStore
	Ceremonies

	Ping(ctx context.Context) error
	Close() error
}
