// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package database

import (
	"strings"

	"github.com/rbatllet/blockchain-cli/chainhash"
)

// OffChainRefPrefix tags a block data field that references an off-chain
// payload instead of carrying it inline.
const OffChainRefPrefix = "OFF_CHAIN_REF:"

// Key types of an authorised key.
const (
	KeyTypeRoot         = "ROOT"
	KeyTypeIntermediate = "INTERMEDIATE"
	KeyTypeOperational  = "OPERATIONAL"
)

// Block is one link of the chain.  Blocks are immutable after commit.
type Block struct {
	BlockNumber       uint64
	PreviousHash      chainhash.Hash
	Hash              chainhash.Hash
	TimestampMs       int64
	Data              []byte          // inline payload; nil when off-chain
	OffChainContentID *chainhash.Hash // set when the payload is off-chain
	DataDigest        chainhash.Hash
	SignerFingerprint chainhash.Hash
	Signature         []byte
	ManualKeywords    []string
	AutoKeywords      []string
	Category          string // empty means null
	OriginalSize      uint64
}

// IsOffChain reports whether the block payload lives in the off-chain
// store.
func (b *Block) IsOffChain() bool {
	return b.OffChainContentID != nil
}

// DataField returns the logical data field of the block: the inline
// payload, or the tagged off-chain reference.
func (b *Block) DataField() string {
	if b.IsOffChain() {
		return OffChainRefPrefix + b.OffChainContentID.String()
	}
	return string(b.Data)
}

// ParseOffChainRef extracts the content id from a tagged data field.  The
// second return is false when the field is an inline payload.
func ParseOffChainRef(data string) (*chainhash.Hash, bool) {
	if !strings.HasPrefix(data, OffChainRefPrefix) {
		return nil, false
	}
	h, err := chainhash.NewHashFromStr(data[len(OffChainRefPrefix):])
	if err != nil {
		return nil, false
	}
	return h, true
}

// AuthorizedKey is a registered signing identity.  Revocation is the only
// mutation ever applied; a key referenced by a block is never deleted.
type AuthorizedKey struct {
	Fingerprint       chainhash.Hash
	Owner             string
	PublicKey         []byte // canonical X9.62 uncompressed encoding
	KeyType           string
	ParentFingerprint *chainhash.Hash
	CreatedAtMs       int64
	ExpiresAtMs       *int64 // nil means indefinite
	RevokedAtMs       *int64 // nil means not revoked
}

// ActiveAt reports whether the key was active at the given instant:
// created on or before it, not yet revoked, and not yet expired.
func (k *AuthorizedKey) ActiveAt(ms int64) bool {
	if ms < k.CreatedAtMs {
		return false
	}
	if k.RevokedAtMs != nil && ms >= *k.RevokedAtMs {
		return false
	}
	if k.ExpiresAtMs != nil && ms >= *k.ExpiresAtMs {
		return false
	}
	return true
}

// OffChainRecord is the database-resident metadata of one encrypted
// off-chain payload.  The ciphertext itself lives on the file system.
type OffChainRecord struct {
	ContentID        chainhash.Hash // SHA3-256 of the cleartext
	CipherPath       string
	Nonce            []byte
	CleartextSize    uint64
	CipherSize       uint64
	EncryptionKeyRef string
	CreatedAtMs      int64
}

// StoredPrivateKey is a password-encrypted private key held by the vault.
type StoredPrivateKey struct {
	Owner               string
	EncryptedPrivateKey []byte
	KDFSalt             []byte
	KDFIterations       int
	AlgorithmTag        string
}
