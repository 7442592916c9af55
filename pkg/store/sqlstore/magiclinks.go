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

	"github.com/jeremyhahn/go-passwordless/pkg/store"
)

// CreateMagicLink persists a link keyed by its token hash.
func (s *Store) CreateMagicLink(ctx context.Context, m *store.MagicLink) error {
	if m == nil || m.ID == "" || m.TokenHash == "" || m.Email == "" {
		return store.WrapError("create magic link", store.ErrInvalidArgument)
	}
	err := s.db.WithContext(ctx).Create(magicLinkToRow(m)).Error
	return store.WrapError("create magic link", translate(err))
}

// ConsumeMagicLink atomically marks the link used.
func (s *Store) ConsumeMagicLink(ctx context.Context, tokenHash string, now time.Time) (*store.MagicLink, error) {
	now = now.UTC()
	db := s.db.WithContext(ctx)

	res := db.Model(&magicLinkRow{}).
		Where("token_hash = ? AND used_at IS NULL AND expires_at >= ?", tokenHash, now).
		Update("used_at", now)
	if res.Error != nil {
		return nil, store.WrapError("consume magic link", res.Error)
	}

	var row magicLinkRow
	if err := db.Where("token_hash = ?", tokenHash).First(&row).Error; err != nil {
		return nil, store.WrapError("consume magic link", translate(err))
	}
	m := row.toStore()

	if res.RowsAffected == 0 {
		if err := m.Check(now); err != nil {
			return nil, store.WrapError("consume magic link", err)
		}
		return nil, store.WrapError("consume magic link", store.ErrConflict)
	}
	return m, nil
}

// DeleteExpiredMagicLinks removes links that expired before now.
func (s *Store) DeleteExpiredMagicLinks(ctx context.Context, now time.Time) (int, error) {
	res := s.db.WithContext(ctx).Where("expires_at < ?", now.UTC()).Delete(&magicLinkRow{})
	if res.Error != nil {
		return 0, store.WrapError("delete expired magic links", res.Error)
	}
	return int(res.RowsAffected), nil
}
