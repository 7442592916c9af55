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

// CreateSession persists a session.
func (s *Store) CreateSession(ctx context.Context, sess *store.Session) error {
	if sess == nil || sess.ID == "" || sess.AccountID == "" {
		return store.WrapError("create session", store.ErrInvalidArgument)
	}
	err := s.db.WithContext(ctx).Create(sessionToRow(sess)).Error
	return store.WrapError("create session", translate(err))
}

// GetSession returns a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*store.Session, error) {
	var row sessionRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, store.WrapError("get session", translate(err))
	}
	return row.toStore(), nil
}

// TouchSession moves the session's last activity to at.
func (s *Store) TouchSession(ctx context.Context, id string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&sessionRow{}).
		Where("id = ?", id).
		Update("last_activity_at", at.UTC())
	if res.Error != nil {
		return store.WrapError("touch session", res.Error)
	}
	if res.RowsAffected == 0 {
		return store.WrapError("touch session", store.ErrNotFound)
	}
	return nil
}

// DeleteSession removes a session.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&sessionRow{})
	if res.Error != nil {
		return store.WrapError("delete session", res.Error)
	}
	if res.RowsAffected == 0 {
		return store.WrapError("delete session", store.ErrNotFound)
	}
	return nil
}

// DeleteAccountSessions removes every session of an account.
func (s *Store) DeleteAccountSessions(ctx context.Context, accountID string) (int, error) {
	res := s.db.WithContext(ctx).Where("account_id = ?", accountID).Delete(&sessionRow{})
	if res.Error != nil {
		return 0, store.WrapError("delete account sessions", res.Error)
	}
	return int(res.RowsAffected), nil
}

// DeleteStaleSessions removes sessions past either timeout.
func (s *Store) DeleteStaleSessions(ctx context.Context, idleBefore, createdBefore time.Time) (int, error) {
	res := s.db.WithContext(ctx).
		Where("last_activity_at < ? OR created_at < ?", idleBefore.UTC(), createdBefore.UTC()).
		Delete(&sessionRow{})
	if res.Error != nil {
		return 0, store.WrapError("delete stale sessions", res.Error)
	}
	return int(res.RowsAffected), nil
}
