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

// CreateChallenge persists a new challenge.
func (s *Store) CreateChallenge(ctx context.Context, c *store.Challenge) error {
	if c == nil || c.ID == "" || !c.Type.Valid() {
		return store.WrapError("create challenge", store.ErrInvalidArgument)
	}
	err := s.db.WithContext(ctx).Create(challengeToRow(c)).Error
	return store.WrapError("create challenge", translate(err))
}

// GetChallenge returns a challenge without consuming it.
func (s *Store) GetChallenge(ctx context.Context, id string) (*store.Challenge, error) {
	var row challengeRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, store.WrapError("get challenge", translate(err))
	}
	return row.toStore(), nil
}

// ConsumeChallenge atomically marks the challenge used.
func (s *Store) ConsumeChallenge(ctx context.Context, id string, typ store.CeremonyType, now time.Time) (*store.Challenge, error) {
	c, err := consumeChallenge(s.db.WithContext(ctx), id, typ, now)
	if err != nil {
		return nil, store.WrapError("consume challenge", err)
	}
	return c, nil
}

// DeleteExpiredChallenges removes challenges that expired before now.
func (s *Store) DeleteExpiredChallenges(ctx context.Context, now time.Time) (int, error) {
	res := s.db.WithContext(ctx).Where("expires_at < ?", now.UTC()).Delete(&challengeRow{})
	if res.Error != nil {
		return 0, store.WrapError("delete expired challenges", res.Error)
	}
	return int(res.RowsAffected), nil
}
