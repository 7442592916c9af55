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

package store

import (
	"errors"
	"fmt"
)

// Error kinds shared by the stores and the ceremony packages.
var (
	// ErrNotFound is returned when a challenge, credential, magic link,
	// session or account does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyUsed is returned when a single-use record was consumed.
	ErrAlreadyUsed = errors.New("already used")

	// ErrExpired is returned when a record is past its expiry.
	ErrExpired = errors.New("expired")

	// ErrTypeMismatch is returned when a challenge is presented to the wrong ceremony.
	ErrTypeMismatch = errors.New("ceremony type mismatch")

	// ErrOwnershipMismatch is returned when a record does not belong to the caller.
	ErrOwnershipMismatch = errors.New("ownership mismatch")

	// ErrDuplicateCredential is returned when a credential ID is already registered.
	ErrDuplicateCredential = errors.New("duplicate credential")

	// ErrCredentialRevoked is returned when a revoked credential is used.
	ErrCredentialRevoked = errors.New("credential revoked")

	// ErrAlreadyRevoked is returned when revoking a revoked credential.
	ErrAlreadyRevoked = errors.New("credential already revoked")

	// ErrAccountDisabled is returned when the owning account is inactive.
	ErrAccountDisabled = errors.New("account disabled")

	// ErrConflict is returned when a compare-and-set lost a race.
	ErrConflict = errors.New("concurrent modification")

	// ErrInvalidArgument is returned when a record is missing required fields.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Error wraps a store error with the operation that produced it.
type Error struct {
	Op  string
	Err error
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

// WrapError wraps err with op, or returns nil when err is nil.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
