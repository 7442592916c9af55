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
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/google/uuid"

	"github.com/jeremyhahn/go-passwordless/pkg/logger"
	"github.com/jeremyhahn/go-passwordless/pkg/metrics"
	"github.com/jeremyhahn/go-passwordless/pkg/store"
)

// BeginRegistration starts adding a passkey for userID. The options
// exclude the user's active credentials. It returns the creation options
// for the client and the challenge ID to finish with.
func (s *Service) BeginRegistration(ctx context.Context, userID, ip string) (opts *protocol.CredentialCreation, challengeID string, err error) {
	const op = "begin registration"
	defer func(start time.Time) { record(metrics.CeremonyRegistration, metrics.PhaseBegin, start, err) }(time.Now())

	acct, err := s.store.FindAccountByUserID(ctx, userID)
	if err != nil {
		return nil, "", WrapError(op, err)
	}
	if !acct.Active {
		return nil, "", WrapError(op, store.ErrAccountDisabled)
	}

	creds, err := s.store.ListActiveCredentials(ctx, userID)
	if err != nil {
		return nil, "", WrapError(op, err)
	}

	opts, session, err := s.verifier.BeginRegistration(newUser(userID, acct, creds), descriptors(creds))
	if err != nil {
		return nil, "", WrapError(op, err)
	}

	c, err := s.newChallenge(ctx, store.CeremonyRegistration, userID, "", ip, session)
	if err != nil {
		return nil, "", WrapError(op, err)
	}

	s.log.DebugContext(ctx, "registration begun",
		logger.String("challenge_id", c.ID),
		logger.String("user_id", userID),
		logger.Int("excluded", len(creds)))
	return opts, c.ID, nil
}

// FinishRegistration verifies the attestation for challengeID and stores
// the new credential. The challenge must have been begun by userID.
//
// Verification failures burn the challenge and return ErrVerificationFailed.
// If the credential cannot be stored, for example ErrDuplicateCredential,
// the challenge is left unconsumed.
func (s *Service) FinishRegistration(ctx context.Context, userID, challengeID string, response *protocol.ParsedCredentialCreationData, deviceName string) (cred *store.Credential, err error) {
	const op = "finish registration"
	defer func(start time.Time) { record(metrics.CeremonyRegistration, metrics.PhaseFinish, start, err) }(time.Now())

	now := s.clock.Now()
	c, session, err := s.loadChallenge(ctx, challengeID, store.CeremonyRegistration, now)
	if err != nil {
		return nil, WrapError(op, err)
	}

	fail := func(reason string, cause, err error) (*store.Credential, error) {
		s.burn(ctx, c, now)
		s.log.InfoContext(ctx, "registration failed",
			logger.String("challenge_id", c.ID),
			logger.String("reason", reason),
			logger.Any("cause", cause))
		return nil, WrapError(op, err)
	}

	if c.UserID != userID {
		return fail("owner mismatch", nil, ErrChallengeOwnerMismatch)
	}
	if response == nil {
		return fail("missing response", nil, ErrVerificationFailed)
	}

	acct, err := s.store.FindAccountByUserID(ctx, userID)
	if err != nil {
		return fail("account lookup", err, err)
	}
	if !acct.Active {
		return fail("account disabled", nil, store.ErrAccountDisabled)
	}

	att, err := s.verifier.FinishRegistration(newUser(userID, acct, nil), *session, response)
	if err != nil {
		return fail("attestation rejected", err, ErrVerificationFailed)
	}
	if !att.Flags.UserVerified {
		return fail("user not verified", nil, ErrVerificationFailed)
	}

	cred = &store.Credential{
		ID:              uuid.NewString(),
		UserID:          userID,
		CredentialID:    att.CredentialID,
		PublicKey:       att.PublicKey,
		AttestationType: att.AttestationType,
		Transports:      att.Transports,
		Counter:         att.Counter,
		DeviceName:      strings.TrimSpace(deviceName),
		AAGUID:          att.AAGUID,
		UserPresent:     att.Flags.UserPresent,
		UserVerified:    att.Flags.UserVerified,
		BackupEligible:  att.Flags.BackupEligible,
		BackupState:     att.Flags.BackupState,
		CreatedAt:       now,
	}
	if err := s.store.CompleteRegistration(ctx, c.ID, cred, now); err != nil {
		return nil, WrapError(op, err)
	}

	s.log.InfoContext(ctx, "passkey registered",
		logger.String("credential_id", cred.ID),
		logger.String("user_id", userID),
		logger.Bool("backup_eligible", cred.BackupEligible))
	return cred, nil
}
