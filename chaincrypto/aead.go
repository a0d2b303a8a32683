// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"

	"github.com/rbatllet/blockchain-cli/cerrors"
)

const (
	// KeySize is the size of an AES-256 content key.
	KeySize = 32

	// NonceSize is the size of an AES-GCM nonce.
	NonceSize = 12
)

// NewNonce returns a fresh random AES-GCM nonce.
func NewNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, cerrors.Wrap(cerrors.ErrIO, "nonce", err,
			"unable to generate nonce: "+err.Error())
	}
	return nonce, nil
}

// NewContentKey returns a fresh random AES-256 key.
func NewContentKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, cerrors.Wrap(cerrors.ErrIO, "content-key", err,
			"unable to generate content key: "+err.Error())
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, cerrors.Ef(cerrors.ErrIntegrity, "invalid-key",
			"content key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.ErrIntegrity, "invalid-key", err,
			"unable to initialise cipher: "+err.Error())
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext with AES-256-GCM.  The additional authenticated
// data binds the ciphertext to its context (for off-chain payloads the
// content id, for vault entries the owner name) so that ciphertext
// substitution is detectable.
func Encrypt(key, nonce, plaintext, aad []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, cerrors.Ef(cerrors.ErrIntegrity, "invalid-nonce",
			"nonce must be %d bytes, got %d", aead.NonceSize(), len(nonce))
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

// Decrypt opens a ciphertext sealed by Encrypt.  Tampering with the
// ciphertext, the nonce, or the additional authenticated data fails with an
// INTEGRITY error.
func Decrypt(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, cerrors.Ef(cerrors.ErrIntegrity, "invalid-nonce",
			"nonce must be %d bytes, got %d", aead.NonceSize(), len(nonce))
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, cerrors.E(cerrors.ErrIntegrity, "decrypt",
			"unable to decrypt: authentication failed")
	}
	return plaintext, nil
}
