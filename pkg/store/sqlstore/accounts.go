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

	"gorm.io/gorm/clause"

	"github.com/jeremyhahn/go-passwordless/pkg/store"
)

// GetAccount returns an account by ID.
func (s *Store) GetAccount(ctx context.Context, id string) (*store.Account, error) {
	return s.findAccount(ctx, "get account", "id = ?", id)
}

// FindAccountByEmail returns the account registered under email.
func (s *Store) FindAccountByEmail(ctx context.Context, email string) (*store.Account, error) {
	return s.findAccount(ctx, "find account by email", "email = ?", store.NormalizeEmail(email))
}

// FindAccountByUserID returns the account owning userID.
func (s *Store) FindAccountByUserID(ctx context.Context, userID string) (*store.Account, error) {
	return s.findAccount(ctx, "find account by user", "user_id = ?", userID)
}

func (s *Store) findAccount(ctx context.Context, op, where string, arg any) (*store.Account, error) {
	var row accountRow
	if err := s.db.WithContext(ctx).Where(where, arg).First(&row).Error; err != nil {
		return nil, store.WrapError(op, translate(err))
	}
	return row.toStore(), nil
}

// PutAccount creates or replaces an account.
func (s *Store) PutAccount(ctx context.Context, a *store.Account) error {
	if a == nil || a.ID == "" || a.UserID == "" || a.Email == "" {
		return store.WrapError("put account", store.ErrInvalidArgument)
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(accountToRow(a)).Error
	return store.WrapError("put account", translate(err))
}
