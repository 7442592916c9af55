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

// Package token generates random secrets and the one-way hashes under which
// they are persisted. Raw secrets leave this package only to be handed to the
// end user (cookie value, emailed link); storage always sees the hash.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

const (
	// DefaultSize is the number of random bytes in a generated secret.
	DefaultSize = 32

	// MinSize is the smallest secret Generate will produce.
	MinSize = 16
)

// ErrInvalidSize is returned when a requested secret is too short.
var ErrInvalidSize = errors.New("token size below minimum")

// Bytes returns size cryptographically random bytes.
func Bytes(size int) ([]byte, error) {
	if size < MinSize {
		return nil, fmt.Errorf("%w: %d < %d", ErrInvalidSize, size, MinSize)
	}
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return b, nil
}

// Generate returns a URL-safe secret of size random bytes.
func Generate(size int) (string, error) {
	b, err := Bytes(size)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// New returns a URL-safe secret of DefaultSize random bytes.
func New() (string, error) {
	return Generate(DefaultSize)
}

// Hash returns the hex encoded SHA-256 digest of secret.
func Hash(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// Equal compares two hashes in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
