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
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/jeremyhahn/go-passwordless/pkg/store"
)

// CompleteRegistration consumes the challenge and creates cred in one
// transaction.
func (s *Store) CompleteRegistration(ctx context.Context, challengeID string, cred *store.Credential, now time.Time) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := consumeChallenge(tx, challengeID, store.CeremonyRegistration, now); err != nil {
			return err
		}
		return createCredential(tx, cred)
	})
	return store.WrapError("complete registration", err)
}

// CompleteAuthentication consumes the challenge, advances the credential
// counter and stamps the account's last login in one transaction.
func (s *Store) CompleteAuthentication(ctx context.Context, c store.AuthenticationCommit) error {
	at := c.At.UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := consumeChallenge(tx, c.ChallengeID, store.CeremonyAuthentication, at); err != nil {
			return err
		}

		res := tx.Model(&credentialRow{}).
			Where("id = ? AND counter = ? AND revoked = ?", c.CredentialID, int64(c.PreviousCounter), false).
			Updates(map[string]any{
				"counter":      int64(c.Counter),
				"last_used_at": at,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var row credentialRow
			if err := tx.Where("id = ?", c.CredentialID).First(&row).Error; err != nil {
				return translate(err)
			}
			if row.Revoked {
				return store.ErrCredentialRevoked
			}
			return store.ErrConflict
		}

		res = tx.Model(&accountRow{}).Where("id = ?", c.AccountID).Update("last_login_at", at)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return store.ErrNotFound
		}
		return nil
	})
	return store.WrapError("complete authentication", err)
}
