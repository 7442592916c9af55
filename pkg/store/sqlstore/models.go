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

package sqlstore

import (
	"time"

	"github.com/jeremyhahn/go-passwordless/pkg/store"
)

type challengeRow struct {
	ID          string     `gorm:"primaryKey;size:64"`
	Value       string     `gorm:"not null"`
	Type        string     `gorm:"size:32;not null"`
	UserID      string     `gorm:"size:128;index"`
	Email       string     `gorm:"size:320"`
	IP          string     `gorm:"size:64"`
	SessionData []byte     `gorm:"not null"`
	CreatedAt   time.Time  `gorm:"not null"`
	ExpiresAt   time.Time  `gorm:"not null;index"`
	UsedAt      *time.Time
}

func (challengeRow) TableName() string { return "passkey_challenge" }

func challengeToRow(c *store.Challenge) *challengeRow {
	return &challengeRow{
		ID:          c.ID,
		Value:       c.Value,
		Type:        string(c.Type),
		UserID:      c.UserID,
		Email:       c.Email,
		IP:          c.IP,
		SessionData: c.SessionData,
		CreatedAt:   c.CreatedAt.UTC(),
		ExpiresAt:   c.ExpiresAt.UTC(),
		UsedAt:      utcPtr(c.UsedAt),
	}
}

func (r *challengeRow) toStore() *store.Challenge {
	return &store.Challenge{
		ID:          r.ID,
		Value:       r.Value,
		Type:        store.CeremonyType(r.Type),
		UserID:      r.UserID,
		Email:       r.Email,
		IP:          r.IP,
		SessionData: r.SessionData,
		CreatedAt:   r.CreatedAt.UTC(),
		ExpiresAt:   r.ExpiresAt.UTC(),
		UsedAt:      utcPtr(r.UsedAt),
	}
}

type credentialRow struct {
	ID              string     `gorm:"primaryKey;size:64"`
	UserID          string     `gorm:"size:128;not null;index"`
	CredentialID    []byte     `gorm:"not null;uniqueIndex"`
	PublicKey       []byte     `gorm:"not null"`
	AttestationType string     `gorm:"size:64"`
	Transports      []string   `gorm:"serializer:json"`
	Counter         int64      `gorm:"not null"`
	DeviceName      string     `gorm:"size:128"`
	AAGUID          []byte
	UserPresent     bool       `gorm:"not null"`
	UserVerified    bool       `gorm:"not null"`
	BackupEligible  bool       `gorm:"not null"`
	BackupState     bool       `gorm:"not null"`
	CreatedAt       time.Time  `gorm:"not null"`
	LastUsedAt      *time.Time
	Revoked         bool       `gorm:"not null"`
	RevokedAt       *time.Time
	RevokedBy       string     `gorm:"size:128"`
	RevokeReason    string
}

func (credentialRow) TableName() string { return "passkey_credential" }

func credentialToRow(c *store.Credential) *credentialRow {
	return &credentialRow{
		ID:              c.ID,
		UserID:          c.UserID,
		CredentialID:    c.CredentialID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Transports:      c.Transports,
		Counter:         int64(c.Counter),
		DeviceName:      c.DeviceName,
		AAGUID:          c.AAGUID,
		UserPresent:     c.UserPresent,
		UserVerified:    c.UserVerified,
		BackupEligible:  c.BackupEligible,
		BackupState:     c.BackupState,
		CreatedAt:       c.CreatedAt.UTC(),
		LastUsedAt:      utcPtr(c.LastUsedAt),
		Revoked:         c.Revoked,
		RevokedAt:       utcPtr(c.RevokedAt),
		RevokedBy:       c.RevokedBy,
		RevokeReason:    c.RevokeReason,
	}
}

func (r *credentialRow) toStore() *store.Credential {
	return &store.Credential{
		ID:              r.ID,
		UserID:          r.UserID,
		CredentialID:    r.CredentialID,
		PublicKey:       r.PublicKey,
		AttestationType: r.AttestationType,
		Transports:      r.Transports,
		Counter:         uint32(r.Counter),
		DeviceName:      r.DeviceName,
		AAGUID:          r.AAGUID,
		UserPresent:     r.UserPresent,
		UserVerified:    r.UserVerified,
		BackupEligible:  r.BackupEligible,
		BackupState:     r.BackupState,
		CreatedAt:       r.CreatedAt.UTC(),
		LastUsedAt:      utcPtr(r.LastUsedAt),
		Revoked:         r.Revoked,
		RevokedAt:       utcPtr(r.RevokedAt),
		RevokedBy:       r.RevokedBy,
		RevokeReason:    r.RevokeReason,
	}
}

type accountRow struct {
	ID          string     `gorm:"primaryKey;size:128"`
	UserID      string     `gorm:"size:128;not null;uniqueIndex"`
	MemberID    string     `gorm:"size:128"`
	Email       string     `gorm:"size:320;not null;uniqueIndex"`
	DisplayName string     `gorm:"size:256"`
	Role        string     `gorm:"size:64"`
	Active      bool       `gorm:"not null"`
	CreatedAt   time.Time  `gorm:"not null"`
	LastLoginAt *time.Time
}

func (accountRow) TableName() string { return "auth_account" }

func accountToRow(a *store.Account) *accountRow {
	return &accountRow{
		ID:          a.ID,
		UserID:      a.UserID,
		MemberID:    a.MemberID,
		Email:       store.NormalizeEmail(a.Email),
		DisplayName: a.DisplayName,
		Role:        a.Role,
		Active:      a.Active,
		CreatedAt:   a.CreatedAt.UTC(),
		LastLoginAt: utcPtr(a.LastLoginAt),
	}
}

func (r *accountRow) toStore() *store.Account {
	return &store.Account{
		ID:          r.ID,
		UserID:      r.UserID,
		MemberID:    r.MemberID,
		Email:       r.Email,
		DisplayName: r.DisplayName,
		Role:        r.Role,
		Active:      r.Active,
		CreatedAt:   r.CreatedAt.UTC(),
		LastLoginAt: utcPtr(r.LastLoginAt),
	}
}

type magicLinkRow struct {
	ID        string     `gorm:"primaryKey;size:64"`
	TokenHash string     `gorm:"size:64;not null;uniqueIndex"`
	Email     string     `gorm:"size:320;not null;index"`
	AccountID string     `gorm:"size:128"`
	Purpose   string     `gorm:"size:16;not null"`
	IP        string     `gorm:"size:64"`
	CreatedAt time.Time  `gorm:"not null"`
	ExpiresAt time.Time  `gorm:"not null;index"`
	UsedAt    *time.Time
}

func (magicLinkRow) TableName() string { return "magic_link" }

func magicLinkToRow(m *store.MagicLink) *magicLinkRow {
	return &magicLinkRow{
		ID:        m.ID,
		TokenHash: m.TokenHash,
		Email:     m.Email,
		AccountID: m.AccountID,
		Purpose:   string(m.Purpose),
		IP:        m.IP,
		CreatedAt: m.CreatedAt.UTC(),
		ExpiresAt: m.ExpiresAt.UTC(),
		UsedAt:    utcPtr(m.UsedAt),
	}
}

func (r *magicLinkRow) toStore() *store.MagicLink {
	return &store.MagicLink{
		ID:        r.ID,
		TokenHash: r.TokenHash,
		Email:     r.Email,
		AccountID: r.AccountID,
		Purpose:   store.MagicLinkPurpose(r.Purpose),
		IP:        r.IP,
		CreatedAt: r.CreatedAt.UTC(),
		ExpiresAt: r.ExpiresAt.UTC(),
		UsedAt:    utcPtr(r.UsedAt),
	}
}

type sessionRow struct {
	ID             string    `gorm:"primaryKey;size:64"`
	UserID         string    `gorm:"size:128;not null"`
	AccountID      string    `gorm:"size:128;not null;index"`
	MemberID       string    `gorm:"size:128"`
	Email          string    `gorm:"size:320"`
	Role           string    `gorm:"size:64"`
	IP             string    `gorm:"size:64"`
	UserAgent      string    `gorm:"size:512"`
	CreatedAt      time.Time `gorm:"not null;index"`
	LastActivityAt time.Time `gorm:"not null;index"`
}

func (sessionRow) TableName() string { return "auth_session" }

func sessionToRow(s *store.Session) *sessionRow {
	return &sessionRow{
		ID:             s.ID,
		UserID:         s.UserID,
		AccountID:      s.AccountID,
		MemberID:       s.MemberID,
		Email:          s.Email,
		Role:           s.Role,
		IP:             s.IP,
		UserAgent:      s.UserAgent,
		CreatedAt:      s.CreatedAt.UTC(),
		LastActivityAt: s.LastActivityAt.UTC(),
	}
}

func (r *sessionRow) toStore() *store.Session {
	return &store.Session{
		ID:             r.ID,
		UserID:         r.UserID,
		AccountID:      r.AccountID,
		MemberID:       r.MemberID,
		Email:          r.Email,
		Role:           r.Role,
		IP:             r.IP,
		UserAgent:      r.UserAgent,
		CreatedAt:      r.CreatedAt.UTC(),
		LastActivityAt: r.LastActivityAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// allModels lists the tables AutoMigrate manages.
func allModels() []any {
	return []any{
		&challengeRow{},
		&credentialRow{},
		&accountRow{},
		&magicLinkRow{},
		&sessionRow{},
	}
}
