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
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-passwordless/pkg/store"
)

// Sentinel errors for passkey ceremonies. Store kinds such as
// store.ErrExpired or store.ErrCredentialRevoked pass through unchanged.
var (
	// ErrVerificationFailed is returned when an authenticator response does
	// not verify. It deliberately carries no detail about which check failed.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrChallengeOwnerMismatch is returned when a registration is finished
	// by a different user than the one it was begun for.
	ErrChallengeOwnerMismatch = fmt.Errorf("challenge owner mismatch: %w", store.ErrOwnershipMismatch)

	// ErrCredentialNotFound is returned when the response names an unknown credential.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrChallengeNotFound is returned when the challenge ID is unknown,
	// including after the sweeper removed it.
	ErrChallengeNotFound = fmt.Errorf("challenge %w", store.ErrNotFound)

	// ErrConfiguration is returned for an invalid relying party configuration.
	ErrConfiguration = errors.New("invalid passkey configuration")
)

// Error wraps an error with the ceremony step that produced it.
type Error struct {
	Op  string // Operation that failed
	Err error  // Underlying error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// WrapError wraps an error with operation context.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// IsAuthenticationFailure reports whether err is one of the kinds that must
// be shown to the end user as a generic sign-in failure.
func IsAuthenticationFailure(err error) bool {
	return errors.Is(err, ErrVerificationFailed) ||
		errors.Is(err, ErrCredentialNotFound) ||
		errors.Is(err, store.ErrCredentialRevoked) ||
		errors.Is(err, store.ErrAccountDisabled)
}

// IsChallengeFailure reports whether err means the ceremony must be restarted.
func IsChallengeFailure(err error) bool {
	return errors.Is(err, store.ErrExpired) ||
		errors.Is(err, store.ErrAlreadyUsed) ||
		errors.Is(err, store.ErrTypeMismatch) ||
		errors.Is(err, ErrChallengeOwnerMismatch) ||
		errors.Is(err, ErrChallengeNotFound)
}

// outcome is the metrics label for err.
func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrVerificationFailed):
		return "verification_failed"
	case errors.Is(err, ErrCredentialNotFound):
		return "credential_not_found"
	case errors.Is(err, store.ErrCredentialRevoked):
		return "credential_revoked"
	case errors.Is(err, store.ErrAccountDisabled):
		return "account_disabled"
	case errors.Is(err, store.ErrExpired):
		return "expired"
	case errors.Is(err, store.ErrAlreadyUsed):
		return "already_used"
	case errors.Is(err, store.ErrTypeMismatch):
		return "type_mismatch"
	case errors.Is(err, store.ErrOwnershipMismatch):
		return "owner_mismatch"
	case errors.Is(err, store.ErrDuplicateCredential):
		return "duplicate_credential"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	}
	return "error"
}
