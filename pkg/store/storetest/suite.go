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

// Package storetest is a conformance suite for store.Store implementations.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/jeremyhahn/go-passwordless/pkg/store"
	"github.com/jeremyhahn/go-passwordless/pkg/token"
)

// Factory returns a fresh, empty store for one test.
type Factory func(t *testing.T) store.Store

// Run executes the conformance suite against stores produced by factory.
func Run(t *testing.T, factory Factory) {
	suite.Run(t, &Suite{factory: factory})
}

// Suite holds the conformance tests.
type Suite struct {
	suite.Suite
	factory Factory
	store   store.Store
	ctx     context.Context
	now     time.Time
}

// SetupTest creates a fresh store per test.
func (s *Suite) SetupTest() {
	s.store = s.factory(s.T())
	s.ctx = context.Background()
	s.now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

// TearDownTest closes the store.
func (s *Suite) TearDownTest() {
	if s.store != nil {
		s.NoError(s.store.Close())
	}
}

func (s *Suite) newChallenge(typ store.CeremonyType, userID string) *store.Challenge {
	c := &store.Challenge{
		ID:          uuid.NewString(),
		Value:       "challenge-" + uuid.NewString(),
		Type:        typ,
		UserID:      userID,
		IP:          "192.0.2.1",
		SessionData: []byte(`{"challenge":"x"}`),
		CreatedAt:   s.now,
		ExpiresAt:   s.now.Add(5 * time.Minute),
	}
	s.Require().NoError(s.store.CreateChallenge(s.ctx, c))
	return c
}

func (s *Suite) newCredential(userID string) *store.Credential {
	return &store.Credential{
		ID:           uuid.NewString(),
		UserID:       userID,
		CredentialID: []byte("cred-" + uuid.NewString()),
		PublicKey:    []byte{0xa5, 0x01, 0x02},
		Transports:   []string{"usb", "internal"},
		Counter:      1,
		DeviceName:   "Laptop",
		CreatedAt:    s.now,
	}
}

func (s *Suite) newAccount(email string) *store.Account {
	a := &store.Account{
		ID:          "acct-" + uuid.NewString(),
		UserID:      "user-" + uuid.NewString(),
		MemberID:    "member-1",
		Email:       email,
		DisplayName: "Ada",
		Role:        "member",
		Active:      true,
		CreatedAt:   s.now,
	}
	s.Require().NoError(s.store.PutAccount(s.ctx, a))
	return a
}

func (s *Suite) TestChallengeRoundTrip() {
	c := s.newChallenge(store.CeremonyRegistration, "u1")

	got, err := s.store.GetChallenge(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Equal(c.Value, got.Value)
	s.Equal(store.CeremonyRegistration, got.Type)
	s.Equal("u1", got.UserID)
	s.Equal(c.SessionData, got.SessionData)
	s.True(c.ExpiresAt.Equal(got.ExpiresAt))
	s.Nil(got.UsedAt)

	_, err = s.store.GetChallenge(s.ctx, "missing")
	s.ErrorIs(err, store.ErrNotFound)
}

func (s *Suite) TestCreateChallenge_Invalid() {
	err := s.store.CreateChallenge(s.ctx, &store.Challenge{ID: "x", Type: "bogus"})
	s.ErrorIs(err, store.ErrInvalidArgument)
}

func (s *Suite) TestConsumeChallenge() {
	c := s.newChallenge(store.CeremonyAuthentication, "")

	_, err := s.store.ConsumeChallenge(s.ctx, "missing", store.CeremonyAuthentication, s.now)
	s.ErrorIs(err, store.ErrNotFound)

	_, err = s.store.ConsumeChallenge(s.ctx, c.ID, store.CeremonyRegistration, s.now)
	s.ErrorIs(err, store.ErrTypeMismatch)

	got, err := s.store.ConsumeChallenge(s.ctx, c.ID, store.CeremonyAuthentication, s.now)
	s.Require().NoError(err)
	s.Require().NotNil(got.UsedAt)
	s.True(got.UsedAt.Equal(s.now))

	_, err = s.store.ConsumeChallenge(s.ctx, c.ID, store.CeremonyAuthentication, s.now)
	s.ErrorIs(err, store.ErrAlreadyUsed)

	stored, err := s.store.GetChallenge(s.ctx, c.ID)
	s.Require().NoError(err)
	s.NotNil(stored.UsedAt)
}

func (s *Suite) TestConsumeChallenge_Expired() {
	c := s.newChallenge(store.CeremonyAuthentication, "")

	_, err := s.store.ConsumeChallenge(s.ctx, c.ID, store.CeremonyAuthentication, c.ExpiresAt.Add(time.Nanosecond))
	s.ErrorIs(err, store.ErrExpired)

	// Exactly at expiry is still valid.
	got, err := s.store.ConsumeChallenge(s.ctx, c.ID, store.CeremonyAuthentication, c.ExpiresAt)
	s.Require().NoError(err)
	s.NotNil(got.UsedAt)
}

func (s *Suite) TestConsumeChallenge_Concurrent() {
	c := s.newChallenge(store.CeremonyRegistration, "u1")

	const workers = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		used      int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.ConsumeChallenge(s.ctx, c.ID, store.CeremonyRegistration, s.now)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			default:
				s.ErrorIs(err, store.ErrAlreadyUsed)
				used++
			}
		}()
	}
	wg.Wait()

	s.Equal(1, successes)
	s.Equal(workers-1, used)
}

func (s *Suite) TestDeleteExpiredChallenges() {
	live := s.newChallenge(store.CeremonyRegistration, "u1")
	used := s.newChallenge(store.CeremonyRegistration, "u1")
	_, err := s.store.ConsumeChallenge(s.ctx, used.ID, store.CeremonyRegistration, s.now)
	s.Require().NoError(err)

	n, err := s.store.DeleteExpiredChallenges(s.ctx, s.now.Add(time.Minute))
	s.Require().NoError(err)
	s.Equal(0, n)

	n, err = s.store.DeleteExpiredChallenges(s.ctx, s.now.Add(6*time.Minute))
	s.Require().NoError(err)
	s.Equal(2, n)

	_, err = s.store.GetChallenge(s.ctx, live.ID)
	s.ErrorIs(err, store.ErrNotFound)
}

func (s *Suite) TestCredentialLifecycle() {
	cred := s.newCredential("u1")
	s.Require().NoError(s.store.CreateCredential(s.ctx, cred))

	found, err := s.store.FindCredential(s.ctx, cred.CredentialID)
	s.Require().NoError(err)
	s.Equal(cred.ID, found.ID)
	s.Equal("u1", found.UserID)
	s.Equal(cred.PublicKey, found.PublicKey)
	s.Equal([]string{"usb", "internal"}, found.Transports)
	s.Equal(uint32(1), found.Counter)
	s.Equal("Laptop", found.DeviceName)

	_, err = s.store.FindCredential(s.ctx, []byte("unknown"))
	s.ErrorIs(err, store.ErrNotFound)

	usedAt := s.now.Add(time.Hour)
	s.Require().NoError(s.store.UpdateCredentialCounter(s.ctx, cred.ID, 7, usedAt))

	got, err := s.store.GetCredential(s.ctx, cred.ID)
	s.Require().NoError(err)
	s.Equal(uint32(7), got.Counter)
	s.Require().NotNil(got.LastUsedAt)
	s.True(got.LastUsedAt.Equal(usedAt))
}

func (s *Suite) TestCreateCredential_Duplicate() {
	cred := s.newCredential("u1")
	s.Require().NoError(s.store.CreateCredential(s.ctx, cred))

	// Same authenticator credential ID under a different user.
	other := s.newCredential("u2")
	other.CredentialID = cred.CredentialID
	s.ErrorIs(s.store.CreateCredential(s.ctx, other), store.ErrDuplicateCredential)

	active, err := s.store.ListActiveCredentials(s.ctx, "u2")
	s.Require().NoError(err)
	s.Empty(active)
}

func (s *Suite) TestListCredentials() {
	first := s.newCredential("u1")
	second := s.newCredential("u1")
	second.CreatedAt = s.now.Add(time.Minute)
	s.Require().NoError(s.store.CreateCredential(s.ctx, second))
	s.Require().NoError(s.store.CreateCredential(s.ctx, first))
	s.Require().NoError(s.store.CreateCredential(s.ctx, s.newCredential("u2")))

	_, err := s.store.RevokeCredential(s.ctx, first.ID, store.Revocation{RevokedBy: "u1", At: s.now})
	s.Require().NoError(err)

	all, err := s.store.ListCredentials(s.ctx, "u1")
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal(first.ID, all[0].ID)
	s.Equal(second.ID, all[1].ID)

	active, err := s.store.ListActiveCredentials(s.ctx, "u1")
	s.Require().NoError(err)
	s.Require().Len(active, 1)
	s.Equal(second.ID, active[0].ID)

	none, err := s.store.ListCredentials(s.ctx, "nobody")
	s.Require().NoError(err)
	s.Empty(none)
}

func (s *Suite) TestRevokeCredential() {
	cred := s.newCredential("u1")
	s.Require().NoError(s.store.CreateCredential(s.ctx, cred))

	_, err := s.store.RevokeCredential(s.ctx, cred.ID, store.Revocation{RevokedBy: "u2", Owner: "u2", At: s.now})
	s.ErrorIs(err, store.ErrOwnershipMismatch)

	revoked, err := s.store.RevokeCredential(s.ctx, cred.ID, store.Revocation{
		RevokedBy: "u1",
		Owner:     "u1",
		Reason:    "lost device",
		At:        s.now,
	})
	s.Require().NoError(err)
	s.True(revoked.Revoked)
	s.Equal("u1", revoked.RevokedBy)
	s.Equal("lost device", revoked.RevokeReason)
	s.Require().NotNil(revoked.RevokedAt)

	_, err = s.store.RevokeCredential(s.ctx, cred.ID, store.Revocation{RevokedBy: "admin", At: s.now})
	s.ErrorIs(err, store.ErrAlreadyRevoked)

	_, err = s.store.RevokeCredential(s.ctx, "missing", store.Revocation{RevokedBy: "admin", At: s.now})
	s.ErrorIs(err, store.ErrNotFound)

	got, err := s.store.FindCredential(s.ctx, cred.CredentialID)
	s.Require().NoError(err)
	s.True(got.Revoked)
}

func (s *Suite) TestAccounts() {
	a := s.newAccount("  Ada@Example.COM ")

	got, err := s.store.GetAccount(s.ctx, a.ID)
	s.Require().NoError(err)
	s.Equal("ada@example.com", got.Email)
	s.True(got.Active)

	byEmail, err := s.store.FindAccountByEmail(s.ctx, "ADA@example.com")
	s.Require().NoError(err)
	s.Equal(a.ID, byEmail.ID)

	byUser, err := s.store.FindAccountByUserID(s.ctx, a.UserID)
	s.Require().NoError(err)
	s.Equal(a.ID, byUser.ID)

	_, err = s.store.FindAccountByEmail(s.ctx, "nobody@example.com")
	s.ErrorIs(err, store.ErrNotFound)

	// Disable and change email.
	got.Active = false
	got.Email = "ada@new.example.com"
	s.Require().NoError(s.store.PutAccount(s.ctx, got))

	_, err = s.store.FindAccountByEmail(s.ctx, "ada@example.com")
	s.ErrorIs(err, store.ErrNotFound)
	moved, err := s.store.FindAccountByEmail(s.ctx, "ada@new.example.com")
	s.Require().NoError(err)
	s.False(moved.Active)

	s.ErrorIs(s.store.PutAccount(s.ctx, &store.Account{ID: "x"}), store.ErrInvalidArgument)
}

func (s *Suite) TestCompleteRegistration() {
	c := s.newChallenge(store.CeremonyRegistration, "u1")
	cred := s.newCredential("u1")

	s.Require().NoError(s.store.CompleteRegistration(s.ctx, c.ID, cred, s.now))

	got, err := s.store.GetChallenge(s.ctx, c.ID)
	s.Require().NoError(err)
	s.NotNil(got.UsedAt)

	found, err := s.store.FindCredential(s.ctx, cred.CredentialID)
	s.Require().NoError(err)
	s.Equal(cred.ID, found.ID)

	// Replaying the challenge fails and creates nothing.
	again := s.newCredential("u1")
	s.ErrorIs(s.store.CompleteRegistration(s.ctx, c.ID, again, s.now), store.ErrAlreadyUsed)
	_, err = s.store.FindCredential(s.ctx, again.CredentialID)
	s.ErrorIs(err, store.ErrNotFound)
}

func (s *Suite) TestCompleteRegistration_DuplicateRollsBack() {
	existing := s.newCredential("u2")
	s.Require().NoError(s.store.CreateCredential(s.ctx, existing))

	c := s.newChallenge(store.CeremonyRegistration, "u1")
	dup := s.newCredential("u1")
	dup.CredentialID = existing.CredentialID

	s.ErrorIs(s.store.CompleteRegistration(s.ctx, c.ID, dup, s.now), store.ErrDuplicateCredential)

	got, err := s.store.GetChallenge(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Nil(got.UsedAt, "challenge must not be consumed when the credential insert fails")

	creds, err := s.store.ListCredentials(s.ctx, "u1")
	s.Require().NoError(err)
	s.Empty(creds)
}

func (s *Suite) TestCompleteRegistration_WrongType() {
	c := s.newChallenge(store.CeremonyAuthentication, "u1")
	s.ErrorIs(s.store.CompleteRegistration(s.ctx, c.ID, s.newCredential("u1"), s.now), store.ErrTypeMismatch)
}

func (s *Suite) setupAuthentication() (*store.Account, *store.Credential, *store.Challenge) {
	a := s.newAccount("auth@example.com")
	cred := s.newCredential(a.UserID)
	cred.Counter = 5
	s.Require().NoError(s.store.CreateCredential(s.ctx, cred))
	c := s.newChallenge(store.CeremonyAuthentication, a.UserID)
	return a, cred, c
}

func (s *Suite) TestCompleteAuthentication() {
	a, cred, c := s.setupAuthentication()
	at := s.now.Add(time.Minute)

	err := s.store.CompleteAuthentication(s.ctx, store.AuthenticationCommit{
		ChallengeID:     c.ID,
		CredentialID:    cred.ID,
		PreviousCounter: 5,
		Counter:         6,
		AccountID:       a.ID,
		At:              at,
	})
	s.Require().NoError(err)

	got, err := s.store.GetCredential(s.ctx, cred.ID)
	s.Require().NoError(err)
	s.Equal(uint32(6), got.Counter)
	s.Require().NotNil(got.LastUsedAt)
	s.True(got.LastUsedAt.Equal(at))

	acct, err := s.store.GetAccount(s.ctx, a.ID)
	s.Require().NoError(err)
	s.Require().NotNil(acct.LastLoginAt)
	s.True(acct.LastLoginAt.Equal(at))

	ch, err := s.store.GetChallenge(s.ctx, c.ID)
	s.Require().NoError(err)
	s.NotNil(ch.UsedAt)
}

func (s *Suite) TestCompleteAuthentication_CounterConflict() {
	a, cred, c := s.setupAuthentication()

	err := s.store.CompleteAuthentication(s.ctx, store.AuthenticationCommit{
		ChallengeID:     c.ID,
		CredentialID:    cred.ID,
		PreviousCounter: 4,
		Counter:         6,
		AccountID:       a.ID,
		At:              s.now,
	})
	s.ErrorIs(err, store.ErrConflict)

	ch, err := s.store.GetChallenge(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Nil(ch.UsedAt)

	got, err := s.store.GetCredential(s.ctx, cred.ID)
	s.Require().NoError(err)
	s.Equal(uint32(5), got.Counter)
}

func (s *Suite) TestCompleteAuthentication_Revoked() {
	a, cred, c := s.setupAuthentication()
	_, err := s.store.RevokeCredential(s.ctx, cred.ID, store.Revocation{RevokedBy: "admin", At: s.now})
	s.Require().NoError(err)

	err = s.store.CompleteAuthentication(s.ctx, store.AuthenticationCommit{
		ChallengeID:     c.ID,
		CredentialID:    cred.ID,
		PreviousCounter: 5,
		Counter:         6,
		AccountID:       a.ID,
		At:              s.now,
	})
	s.ErrorIs(err, store.ErrCredentialRevoked)

	acct, err := s.store.GetAccount(s.ctx, a.ID)
	s.Require().NoError(err)
	s.Nil(acct.LastLoginAt)
}

func (s *Suite) newMagicLink(hash string) *store.MagicLink {
	m := &store.MagicLink{
		ID:        uuid.NewString(),
		TokenHash: hash,
		Email:     "a@b.com",
		Purpose:   store.PurposeLogin,
		IP:        "192.0.2.10",
		CreatedAt: s.now,
		ExpiresAt: s.now.Add(15 * time.Minute),
	}
	s.Require().NoError(s.store.CreateMagicLink(s.ctx, m))
	return m
}

func (s *Suite) TestMagicLinks() {
	m := s.newMagicLink("hash-1")

	s.ErrorIs(s.store.CreateMagicLink(s.ctx, &store.MagicLink{
		ID: "other", TokenHash: "hash-1", Email: "x@y.z",
	}), store.ErrConflict)

	_, err := s.store.ConsumeMagicLink(s.ctx, "unknown", s.now)
	s.ErrorIs(err, store.ErrNotFound)

	got, err := s.store.ConsumeMagicLink(s.ctx, m.TokenHash, s.now)
	s.Require().NoError(err)
	s.Equal("a@b.com", got.Email)
	s.Equal(store.PurposeLogin, got.Purpose)
	s.NotNil(got.UsedAt)

	_, err = s.store.ConsumeMagicLink(s.ctx, m.TokenHash, s.now)
	s.ErrorIs(err, store.ErrAlreadyUsed)
}

func (s *Suite) TestMagicLinks_Expiry() {
	m := s.newMagicLink("hash-2")
	s.newMagicLink("hash-3")

	_, err := s.store.ConsumeMagicLink(s.ctx, m.TokenHash, m.ExpiresAt.Add(time.Second))
	s.ErrorIs(err, store.ErrExpired)

	n, err := s.store.DeleteExpiredMagicLinks(s.ctx, s.now.Add(time.Minute))
	s.Require().NoError(err)
	s.Equal(0, n)

	n, err = s.store.DeleteExpiredMagicLinks(s.ctx, s.now.Add(16*time.Minute))
	s.Require().NoError(err)
	s.Equal(2, n)

	_, err = s.store.ConsumeMagicLink(s.ctx, m.TokenHash, s.now)
	s.ErrorIs(err, store.ErrNotFound)
}

func (s *Suite) newSession(accountID string, created time.Time) *store.Session {
	sess := &store.Session{
		ID:             token.Hash(uuid.NewString()),
		UserID:         "user-" + accountID,
		AccountID:      accountID,
		Role:           "member",
		CreatedAt:      created,
		LastActivityAt: created,
	}
	s.Require().NoError(s.store.CreateSession(s.ctx, sess))
	return sess
}

func (s *Suite) TestSessions() {
	sess := s.newSession("acct-1", s.now)

	got, err := s.store.GetSession(s.ctx, sess.ID)
	s.Require().NoError(err)
	s.Equal("acct-1", got.AccountID)
	s.Equal("member", got.Role)

	s.ErrorIs(s.store.CreateSession(s.ctx, sess), store.ErrConflict)

	later := s.now.Add(time.Hour)
	s.Require().NoError(s.store.TouchSession(s.ctx, sess.ID, later))
	got, err = s.store.GetSession(s.ctx, sess.ID)
	s.Require().NoError(err)
	s.True(got.LastActivityAt.Equal(later))

	s.Require().NoError(s.store.DeleteSession(s.ctx, sess.ID))
	_, err = s.store.GetSession(s.ctx, sess.ID)
	s.ErrorIs(err, store.ErrNotFound)
	s.ErrorIs(s.store.DeleteSession(s.ctx, sess.ID), store.ErrNotFound)
	s.ErrorIs(s.store.TouchSession(s.ctx, sess.ID, later), store.ErrNotFound)
}

func (s *Suite) TestDeleteAccountSessions() {
	s.newSession("acct-1", s.now)
	s.newSession("acct-1", s.now)
	keep := s.newSession("acct-2", s.now)

	n, err := s.store.DeleteAccountSessions(s.ctx, "acct-1")
	s.Require().NoError(err)
	s.Equal(2, n)

	n, err = s.store.DeleteAccountSessions(s.ctx, "acct-1")
	s.Require().NoError(err)
	s.Equal(0, n)

	_, err = s.store.GetSession(s.ctx, keep.ID)
	s.NoError(err)
}

func (s *Suite) TestDeleteStaleSessions() {
	fresh := s.newSession("acct-1", s.now)
	idle := s.newSession("acct-1", s.now.Add(-2*time.Hour))
	old := s.newSession("acct-2", s.now.Add(-10*24*time.Hour))
	s.Require().NoError(s.store.TouchSession(s.ctx, old.ID, s.now))

	n, err := s.store.DeleteStaleSessions(s.ctx, s.now.Add(-time.Hour), s.now.Add(-7*24*time.Hour))
	s.Require().NoError(err)
	s.Equal(2, n)

	_, err = s.store.GetSession(s.ctx, fresh.ID)
	s.NoError(err)
	_, err = s.store.GetSession(s.ctx, idle.ID)
	s.ErrorIs(err, store.ErrNotFound)
	_, err = s.store.GetSession(s.ctx, old.ID)
	s.ErrorIs(err, store.ErrNotFound)

	n, err = s.store.DeleteAccountSessions(s.ctx, "acct-2")
	s.Require().NoError(err)
	s.Equal(0, n)
}

func (s *Suite) TestPing() {
	s.NoError(s.store.Ping(s.ctx))
}
