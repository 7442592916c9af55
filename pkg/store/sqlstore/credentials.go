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
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/jeremyhahn/go-passwordless/pkg/store"
)

// CreateCredential persists a new credential.
func (s *Store) CreateCredential(ctx context.Context, c *store.Credential) error {
	return store.WrapError("create credential", createCredential(s.db.WithContext(ctx), c))
}

func createCredential(tx *gorm.DB, c *store.Credential) error {
	if c == nil || c.ID == "" || c.UserID == "" || len(c.CredentialID) == 0 || len(c.PublicKey) == 0 {
		return store.ErrInvalidArgument
	}

	var n int64
	if err := tx.Model(&credentialRow{}).Where("credential_id = ?", c.CredentialID).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return store.ErrDuplicateCredential
	}

	if err := tx.Create(credentialToRow(c)).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return store.ErrDuplicateCredential
		}
		return err
	}
	return nil
}

// GetCredential returns a credential by record ID.
func (s *Store) GetCredential(ctx context.Context, id string) (*store.Credential, error) {
	var row credentialRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, store.WrapError("get credential", translate(err))
	}
	return row.toStore(), nil
}

// FindCredential returns a credential by authenticator credential ID.
func (s *Store) FindCredential(ctx context.Context, credentialID []byte) (*store.Credential, error) {
	if len(credentialID) == 0 {
		return nil, store.WrapError("find credential", store.ErrNotFound)
	}
	var row credentialRow
	if err := s.db.WithContext(ctx).Where("credential_id = ?", credentialID).First(&row).Error; err != nil {
		return nil, store.WrapError("find credential", translate(err))
	}
	return row.toStore(), nil
}

// ListActiveCredentials returns a user's unrevoked credentials.
func (s *Store) ListActiveCredentials(ctx context.Context, userID string) ([]*store.Credential, error) {
	return s.listCredentials(ctx, "list active credentials",
		s.db.WithContext(ctx).Where("user_id = ? AND revoked = ?", userID, false))
}

// ListCredentials returns all of a user's credentials ordered by creation.
func (s *Store) ListCredentials(ctx context.Context, userID string) ([]*store.Credential, error) {
	return s.listCredentials(ctx, "list credentials",
		s.db.WithContext(ctx).Where("user_id = ?", userID))
}

func (s *Store) listCredentials(_ context.Context, op string, q *gorm.DB) ([]*store.Credential, error) {
	var rows []credentialRow
	if err := q.Order("created_at ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, store.WrapError(op, err)
	}
	out := make([]*store.Credential, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toStore())
	}
	return out, nil
}

// UpdateCredentialCounter stores a new counter and last-used time.
func (s *Store) UpdateCredentialCounter(ctx context.Context, id string, counter uint32, usedAt time.Time) error {
	res := s.db.WithContext(ctx).Model(&credentialRow{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"counter":      int64(counter),
			"last_used_at": usedAt.UTC(),
		})
	if res.Error != nil {
		return store.WrapError("update credential counter", res.Error)
	}
	if res.RowsAffected == 0 {
		return store.WrapError("update credential counter", store.ErrNotFound)
	}
	return nil
}

// RevokeCredential marks a credential revoked.
func (s *Store) RevokeCredential(ctx context.Context, id string, rev store.Revocation) (*store.Credential, error) {
	var out *store.Credential
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row credentialRow
		if err := tx.Where("id = ?", id).First(&row).Error; err != nil {
			return translate(err)
		}
		if rev.Owner != "" && rev.Owner != row.UserID {
			return store.ErrOwnershipMismatch
		}
		if row.Revoked {
			return store.ErrAlreadyRevoked
		}

		at := rev.At.UTC()
		res := tx.Model(&credentialRow{}).
			Where("id = ? AND revoked = ?", id, false).
			Updates(map[string]any{
				"revoked":       true,
				"revoked_at":    at,
				"revoked_by":    rev.RevokedBy,
				"revoke_reason": rev.Reason,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return store.ErrAlreadyRevoked
		}

		row.Revoked = true
		row.RevokedAt = &at
		row.RevokedBy = rev.RevokedBy
		row.RevokeReason = rev.Reason
		out = row.toStore()
		return nil
	})
	if err != nil {
		return nil, store.WrapError("revoke credential", err)
	}
	return out, nil
}
