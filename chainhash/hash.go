// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainhash

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// HashSize of array used to store hashes.  See Hash.
const HashSize = 32

// MaxHashStringSize is the maximum length of a Hash hash string.
const MaxHashStringSize = HashSize * 2

// ErrHashStrSize describes an error that indicates the caller specified a
// hash string that has too many characters.
var ErrHashStrSize = fmt.Errorf("max hash string length is %v chars", MaxHashStringSize)

// Hash is used in several of the blockchain messages and common structures.
// It typically represents the SHA3-256 of data.
type Hash [HashSize]byte

// ZeroHash is the hash value of all zeroes.  It is the previous hash of the
// genesis block.
var ZeroHash Hash

// String returns the Hash as the lowercase hexadecimal string of the hash.
func (hash Hash) String() string {
	return hex.EncodeToString(hash[:])
}

// CloneBytes returns a copy of the bytes which represent the hash as a byte
// slice.
//
// NOTE: It is generally cheaper to just slice the hash directly thereby reusing
// the same bytes rather than calling this method.
func (hash *Hash) CloneBytes() []byte {
	newHash := make([]byte, HashSize)
	copy(newHash, hash[:])
	return newHash
}

// SetBytes sets the bytes which represent the hash.  An error is returned if
// the number of bytes passed in is not HashSize.
func (hash *Hash) SetBytes(newHash []byte) error {
	nhlen := len(newHash)
	if nhlen != HashSize {
		return fmt.Errorf("invalid hash length of %v, want %v", nhlen,
			HashSize)
	}
	copy(hash[:], newHash)
	return nil
}

// IsEqual returns true if target is the same as hash.
func (hash *Hash) IsEqual(target *Hash) bool {
	if hash == nil && target == nil {
		return true
	}
	if hash == nil || target == nil {
		return false
	}
	return *hash == *target
}

// IsZero returns true if the hash is all zeroes.
func (hash *Hash) IsZero() bool {
	return *hash == ZeroHash
}

// NewHash returns a new Hash from a byte slice.  An error is returned if
// the number of bytes passed in is not HashSize.
func NewHash(newHash []byte) (*Hash, error) {
	var sh Hash
	err := sh.SetBytes(newHash)
	if err != nil {
		return nil, err
	}
	return &sh, nil
}

// NewHashFromStr creates a Hash from a hash string.  The string must contain
// exactly 64 hexadecimal characters.
func NewHashFromStr(hash string) (*Hash, error) {
	ret := new(Hash)
	err := Decode(ret, hash)
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// Decode decodes the hexadecimal encoding of a hash into dst.
func Decode(dst *Hash, src string) error {
	if len(src) > MaxHashStringSize {
		return ErrHashStrSize
	}
	if len(src) != MaxHashStringSize {
		return fmt.Errorf("invalid hash string length of %v, want %v",
			len(src), MaxHashStringSize)
	}
	raw, err := hex.DecodeString(src)
	if err != nil {
		return err
	}
	copy(dst[:], raw)
	return nil
}

// HashB calculates the SHA3-256 hash of b and returns the resulting bytes.
func HashB(b []byte) []byte {
	hasher := sha3.New256()
	hasher.Write(b)
	return hasher.Sum(nil)
}

// HashH calculates the SHA3-256 hash of b and returns the resulting bytes as
// a Hash.
func HashH(b []byte) Hash {
	var h Hash
	copy(h[:], HashB(b))
	return h
}
