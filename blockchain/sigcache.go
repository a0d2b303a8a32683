// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"sync"

	"github.com/rbatllet/blockchain-cli/chainhash"
)

// sigCacheEntry represents an entry in the SigCache.  Entries within the
// SigCache are keyed according to the block hash the signature was
// verified for.  In the scenario of a cache-hit, an additional comparison
// of the signature digest and the signer fingerprint is executed in order
// to ensure a complete match.
type sigCacheEntry struct {
	sigDigest   chainhash.Hash
	fingerprint chainhash.Hash
}

// SigCache implements an ECDSA signature verification cache with a
// randomized entry eviction policy.  Only valid signatures are added to
// the cache.  Re-validating a long chain repeatedly skips the expensive
// curve operations for blocks whose signatures have already been proven.
type SigCache struct {
	sync.RWMutex
	validSigs  map[chainhash.Hash]sigCacheEntry
	maxEntries uint
}

// NewSigCache creates and initializes a new instance of SigCache.  Its
// sole parameter 'maxEntries' represents the maximum number of entries
// allowed to exist in the SigCache at any particular moment.  Random
// entries are evicted to make room for new entries that would cause the
// number of entries in the cache to exceed the max.
func NewSigCache(maxEntries uint) *SigCache {
	return &SigCache{
		validSigs:  make(map[chainhash.Hash]sigCacheEntry, maxEntries),
		maxEntries: maxEntries,
	}
}

// Exists returns true if an existing entry for the signature over the
// block identified by blockHash under the signer fingerprint is found
// within the SigCache.  Otherwise, false is returned.
//
// NOTE: This function is safe for concurrent access.  Readers won't be
// blocked unless there exists a writer, adding an entry to the SigCache.
func (s *SigCache) Exists(blockHash chainhash.Hash, sig []byte, fingerprint chainhash.Hash) bool {
	s.RLock()
	entry, ok := s.validSigs[blockHash]
	s.RUnlock()

	return ok && entry.fingerprint == fingerprint &&
		entry.sigDigest == chainhash.HashH(sig)
}

// Add adds an entry for a signature proven valid for the block identified
// by blockHash under the signer fingerprint.  In the event that the
// SigCache is 'full', an existing entry is randomly chosen to be evicted
// in order to make space for the new entry.
//
// NOTE: This function is safe for concurrent access.  Writers will block
// simultaneous readers until function execution has concluded.
func (s *SigCache) Add(blockHash chainhash.Hash, sig []byte, fingerprint chainhash.Hash) {
	s.Lock()
	defer s.Unlock()

	if s.maxEntries == 0 {
		return
	}

	// If adding this new entry will put us over the max number of
	// allowed entries, then evict an entry.  Relying on the random
	// starting point of Go's map iteration, which is sufficient here
	// because manipulating which entries are evicted would require
	// preimage attacks on the hash function.
	if uint(len(s.validSigs)+1) > s.maxEntries {
		for entry := range s.validSigs {
			delete(s.validSigs, entry)
			break
		}
	}
	s.validSigs[blockHash] = sigCacheEntry{
		sigDigest:   chainhash.HashH(sig),
		fingerprint: fingerprint,
	}
}
