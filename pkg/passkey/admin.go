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
	"context"
	"strings"

	"github.com/jeremyhahn/go-passwordless/pkg/logger"
	"github.com/jeremyhahn/go-passwordless/pkg/store"
)

// ListCredentials returns every credential of userID, revoked ones
// included, oldest first. No ownership check is made; callers gate access.
func (s *Service) ListCredentials(ctx context.Context, userID string) ([]*store.Credential, error) {
	creds, err := s.store.ListCredentials(ctx, userID)
	if err != nil {
		return nil, WrapError("list credentials", err)
	}
	return creds, nil
}

// RevokeCredential revokes a credential administratively, whoever owns it.
func (s *Service) RevokeCredential(ctx context.Context, id, revokedBy, reason string) (*store.Credential, error) {
	return s.revoke(ctx, "revoke credential", id, store.Revocation{
		RevokedBy: revokedBy,
		Reason:    strings.TrimSpace(reason),
	})
}

// RevokeOwnCredential revokes a credential on behalf of its owner. A
// credential of another user fails with store.ErrOwnershipMismatch.
func (s *Service) RevokeOwnCredential(ctx context.Context, userID, id, reason string) (*store.Credential, error) {
	return s.revoke(ctx, "revoke own credential", id, store.Revocation{
		RevokedBy: userID,
		Reason:    strings.TrimSpace(reason),
		Owner:     userID,
	})
}

// revoke marks the credential revoked and then drops every session of the
// owning account, since any of them may have been opened with it.
func (s *Service) revoke(ctx context.Context, op, id string, rev store.Revocation) (*store.Credential, error) {
	rev.At = s.clock.Now()
	cred, err := s.store.RevokeCredential(ctx, id, rev)
	if err != nil {
		return nil, WrapError(op, err)
	}

	s.log.InfoContext(ctx, "credential revoked",
		logger.String("credential_id", cred.ID),
		logger.String("user_id", cred.UserID),
		logger.String("revoked_by", rev.RevokedBy))

	if s.sessions == nil {
		return cred, nil
	}

	acct, err := s.store.FindAccountByUserID(ctx, cred.UserID)
	if store.IsNotFound(err) {
		return cred, nil
	}
	if err != nil {
		return cred, WrapError(op, err)
	}

	n, err := s.sessions.DestroyAllForAccount(ctx, acct.ID)
	if err != nil {
		return cred, WrapError(op, err)
	}
	s.log.InfoContext(ctx, "sessions destroyed after revocation",
		logger.String("account_id", acct.ID),
		logger.Int("count", n))
	return cred, nil
}
