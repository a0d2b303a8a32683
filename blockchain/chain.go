// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/rbatllet/blockchain-cli/chaincrypto"
	"github.com/rbatllet/blockchain-cli/chainhash"
	"github.com/rbatllet/blockchain-cli/database"
	"github.com/rbatllet/blockchain-cli/dbconfig"
	"github.com/rbatllet/blockchain-cli/migrate"
	"github.com/rbatllet/blockchain-cli/offchain"
	"github.com/rbatllet/blockchain-cli/search"
	"github.com/rbatllet/blockchain-cli/vault"
)

// maxSigCacheEntries bounds the validation signature cache.
const maxSigCacheEntries = 65536

// EventSink receives the structured events the engine emits.  The CLI
// adapter renders them; tests capture them.
type EventSink interface {
	Emit(event string, details map[string]interface{})
}

// noopSink discards events.
type noopSink struct{}

func (noopSink) Emit(string, map[string]interface{}) {}

// Config collects everything the engine needs to come up.
type Config struct {
	// DB is the resolved database configuration.
	DB *dbconfig.Config

	// OffChainThreshold is the inline/off-chain boundary in bytes.
	// Zero selects the default.
	OffChainThreshold uint64

	// OffChainDir is the blob directory.  Empty selects the default.
	OffChainDir string

	// Events receives structured engine events.  Nil discards them.
	Events EventSink
}

// Chain is the block engine.  One instance owns one database and one
// off-chain directory; independent instances are fully isolated.
type Chain struct {
	// mtx is the process-wide readers/writer lock over chain-mutating
	// operations.  Writers also cover authorised-key mutations because
	// validation pivots on that state.
	mtx sync.RWMutex

	store      *database.Store
	blobs      *offchain.Store
	vault      *vault.Vault
	migrations *migrate.Engine
	events     EventSink
	sigCache   *SigCache

	threshold uint64
	dbConfig  *dbconfig.Config
}

// timeNow is stubbed by tests that need deterministic clocks.
var timeNow = time.Now

// nowMs returns the current UTC instant in milliseconds.
func nowMs() int64 {
	return timeNow().UnixMilli()
}

// New initialises the engine: opens the store, the blob directory, the
// vault, and the migration engine.
func New(ctx context.Context, cfg *Config) (*Chain, error) {
	store, err := database.Open(ctx, cfg.DB)
	if err != nil {
		return nil, err
	}
	blobs, err := offchain.Open(cfg.OffChainDir)
	if err != nil {
		store.Close()
		return nil, err
	}

	threshold := cfg.OffChainThreshold
	if threshold == 0 {
		threshold = offchain.DefaultThreshold
	}
	events := cfg.Events
	if events == nil {
		events = noopSink{}
	}

	c := &Chain{
		store:      store,
		blobs:      blobs,
		vault:      vault.New(store),
		migrations: migrate.New(store),
		events:     events,
		sigCache:   NewSigCache(maxSigCacheEntries),
		threshold:  threshold,
		dbConfig:   cfg.DB,
	}
	return c, nil
}

// Close releases the engine resources.
func (c *Chain) Close() error {
	return c.store.Close()
}

// Store exposes the underlying database store.
func (c *Chain) Store() *database.Store {
	return c.store
}

// Blobs exposes the off-chain store.
func (c *Chain) Blobs() *offchain.Store {
	return c.blobs
}

// Vault exposes the key vault.
func (c *Chain) Vault() *vault.Vault {
	return c.vault
}

// Migrations exposes the migration engine.
func (c *Chain) Migrations() *migrate.Engine {
	return c.migrations
}

// emit forwards a structured event.
func (c *Chain) emit(event string, details map[string]interface{}) {
	c.events.Emit(event, details)
}

// signingTuple serialises the signed portion of a block:
// big-endian block number, previous hash, big-endian millisecond
// timestamp, and payload digest.
func signingTuple(number uint64, prev *chainhash.Hash, timestampMs int64,
	digest *chainhash.Hash) []byte {

	tuple := make([]byte, 0, 8+chainhash.HashSize+8+chainhash.HashSize)
	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], number)
	tuple = append(tuple, scratch[:]...)
	tuple = append(tuple, prev[:]...)
	binary.BigEndian.PutUint64(scratch[:], uint64(timestampMs))
	tuple = append(tuple, scratch[:]...)
	tuple = append(tuple, digest[:]...)
	return tuple
}

// computeBlockHash derives the block hash: the hash of the signing tuple
// followed by the signer fingerprint and the signature.
func computeBlockHash(b *database.Block) chainhash.Hash {
	tuple := signingTuple(b.BlockNumber, &b.PreviousHash, b.TimestampMs,
		&b.DataDigest)
	preimage := make([]byte, 0,
		len(tuple)+chainhash.HashSize+len(b.Signature))
	preimage = append(preimage, tuple...)
	preimage = append(preimage, b.SignerFingerprint[:]...)
	preimage = append(preimage, b.Signature...)
	return chainhash.HashH(preimage)
}

// verifyBlockSignature checks a block signature under a public key,
// consulting the signature cache first.
func (c *Chain) verifyBlockSignature(b *database.Block, publicKey []byte) bool {
	if c.sigCache.Exists(b.Hash, b.Signature, b.SignerFingerprint) {
		return true
	}
	pub, err := chaincrypto.ParsePublicKey(publicKey)
	if err != nil {
		return false
	}
	tuple := signingTuple(b.BlockNumber, &b.PreviousHash, b.TimestampMs,
		&b.DataDigest)
	if !chaincrypto.Verify(pub, tuple, b.Signature) {
		return false
	}
	c.sigCache.Add(b.Hash, b.Signature, b.SignerFingerprint)
	return true
}

// Search runs a query under the read lock against a consistent snapshot
// of the database rows.
func (c *Chain) Search(ctx context.Context, q *search.Query) (*search.Result, error) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()

	var result *search.Result
	err := c.store.View(ctx, func(tx *database.Tx) error {
		var err error
		result, err = search.Run(tx, c.blobs, q)
		return err
	})
	return result, err
}

// ReadPayload resolves the effective cleartext payload of a block: the
// inline bytes, or the decrypted off-chain content.
func (c *Chain) ReadPayload(tx *database.Tx, b *database.Block) ([]byte, error) {
	if !b.IsOffChain() {
		return b.Data, nil
	}
	record, err := tx.OffChainRecordByContentID(b.OffChainContentID)
	if err != nil {
		return nil, err
	}
	return c.blobs.Read(record)
}
