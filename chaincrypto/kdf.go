// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincrypto

import (
	"crypto/rand"
	"io"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/sha3"

	"github.com/rbatllet/blockchain-cli/cerrors"
)

const (
	// MinIterations is the minimum PBKDF2 iteration count accepted when
	// deriving a key from a password.
	MinIterations = 100000

	// MinPasswordLen is the minimum accepted password length.
	MinPasswordLen = 12

	// SaltSize is the size of a KDF salt.
	SaltSize = 16
)

// NewSalt returns a fresh random KDF salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, cerrors.Wrap(cerrors.ErrIO, "salt", err,
			"unable to generate salt: "+err.Error())
	}
	return salt, nil
}

// CheckPasswordPolicy enforces the password policy: at least MinPasswordLen
// characters containing an upper-case letter, a lower-case letter, a digit,
// and a symbol.
func CheckPasswordPolicy(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLen {
		return cerrors.Ef(cerrors.ErrUsage, "weak-password",
			"password must be at least %d characters", MinPasswordLen)
	}
	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}
	if !upper || !lower || !digit || !symbol {
		return cerrors.E(cerrors.ErrUsage, "weak-password",
			"password must contain upper-case, lower-case, digit, and "+
				"symbol characters")
	}
	return nil
}

// DeriveKeyFromPassword derives a 32-byte AES key from a password with
// PBKDF2-HMAC-SHA3-256.  The iteration count must be at least
// MinIterations and the password must satisfy CheckPasswordPolicy.
func DeriveKeyFromPassword(password string, salt []byte, iterations int) ([]byte, error) {
	if iterations < MinIterations {
		return nil, cerrors.Ef(cerrors.ErrUsage, "weak-kdf",
			"iteration count %d below minimum %d", iterations, MinIterations)
	}
	if err := CheckPasswordPolicy(password); err != nil {
		return nil, err
	}
	return pbkdf2.Key([]byte(password), salt, iterations, KeySize,
		sha3.New256), nil
}
