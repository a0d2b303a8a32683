// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"path/filepath"

	"github.com/rbatllet/blockchain-cli/cerrors"
	"github.com/rbatllet/blockchain-cli/chaincrypto"
	"github.com/rbatllet/blockchain-cli/chainhash"
	"github.com/rbatllet/blockchain-cli/database"
	"github.com/rbatllet/blockchain-cli/keyfile"
	"github.com/rbatllet/blockchain-cli/search"
)

// PasswordFunc prompts for a password at the external boundary.  It is
// never called while the writer lock is held.
type PasswordFunc func(owner string) (string, error)

// SignerSpec selects how an appended block is signed.  Exactly one of the
// three modes must be set.
type SignerSpec struct {
	// Owner names a registered key whose private half lives in the
	// vault.  When the vault has no entry the engine falls back to a
	// transient one-shot key (DEMO MODE).
	Owner string

	// KeyFile points at a private key file.  An unknown key is
	// auto-authorised as OPERATIONAL.
	KeyFile string

	// Generate creates a fresh one-shot key pair and auto-authorises it.
	Generate bool

	// Password prompts for the vault password when Owner resolution
	// needs it.
	Password PasswordFunc
}

// AppendRequest describes one append operation.
type AppendRequest struct {
	Data     []byte
	Signer   SignerSpec
	Keywords string
	Category string
}

// resolvedSigner carries the signing material into the unit-of-work.
type resolvedSigner struct {
	priv *ecdsa.PrivateKey
	demo bool
}

// Append adds a block to the chain.  The first append of a fresh database
// also creates the genesis block.
func (c *Chain) Append(ctx context.Context, req *AppendRequest) (*database.Block, error) {
	if len(req.Data) == 0 {
		return nil, cerrors.E(cerrors.ErrUsage, "empty-data",
			"block data must not be empty")
	}

	manual, err := search.NormalizeKeywords(req.Keywords)
	if err != nil {
		return nil, err
	}
	category, err := search.NormalizeCategory(req.Category)
	if err != nil {
		return nil, err
	}
	auto := search.ExtractAutoKeywords(req.Data)

	// Key files, the --generate-key pair, and password prompts are handled
	// before the writer lock; the genesis and demo-mode key pairs are
	// generated inside the unit-of-work.
	signer, password, err := c.prepareSigner(ctx, &req.Signer)
	if err != nil {
		return nil, err
	}

	c.mtx.Lock()
	defer c.mtx.Unlock()

	var block *database.Block
	var cleanups []func()
	err = c.store.Update(ctx, func(tx *database.Tx) error {
		if err := c.ensureGenesis(tx); err != nil {
			return err
		}

		priv, fingerprint, err := c.resolveSigner(tx, &req.Signer, signer,
			password)
		if err != nil {
			return err
		}

		prev, err := tx.LatestBlock()
		if err != nil {
			return err
		}

		b := &database.Block{
			BlockNumber:       prev.BlockNumber + 1,
			PreviousHash:      prev.Hash,
			SignerFingerprint: fingerprint,
			ManualKeywords:    manual,
			AutoKeywords:      auto,
			Category:          category,
			OriginalSize:      uint64(len(req.Data)),
			DataDigest:        chainhash.HashH(req.Data),
		}

		// Storage decision: payloads above the threshold go off-chain.
		if uint64(len(req.Data)) > c.threshold {
			record, cleanup, err := c.blobs.Write(tx, req.Data, nowMs())
			if err != nil {
				return err
			}
			cleanups = append(cleanups, cleanup)
			id := record.ContentID
			b.OffChainContentID = &id
		} else {
			b.Data = req.Data
		}

		// Timestamps never decrease along the chain.
		b.TimestampMs = nowMs()
		if b.TimestampMs < prev.TimestampMs {
			b.TimestampMs = prev.TimestampMs
		}

		tuple := signingTuple(b.BlockNumber, &b.PreviousHash, b.TimestampMs,
			&b.DataDigest)
		b.Signature, err = chaincrypto.Sign(priv, tuple)
		if err != nil {
			return err
		}
		b.Hash = computeBlockHash(b)

		if err := tx.InsertBlock(b); err != nil {
			return err
		}
		block = b
		return nil
	})
	if err != nil {
		for _, cleanup := range cleanups {
			cleanup()
		}
		return nil, err
	}

	log.Infof("Appended block %d (%s)", block.BlockNumber, block.Hash)
	c.emit("BlockAppended", map[string]interface{}{
		"blockNumber": block.BlockNumber,
		"hash":        block.Hash.String(),
		"offChain":    block.IsOffChain(),
	})
	return block, nil
}

// prepareSigner performs the blocking part of signer resolution outside
// the writer lock: loading key files, generating the --generate-key pair,
// and prompting for the vault password.  The demo-mode key pair is
// generated later, by resolveSigner.
func (c *Chain) prepareSigner(ctx context.Context, spec *SignerSpec) (*resolvedSigner, string, error) {
	modes := 0
	if spec.Owner != "" {
		modes++
	}
	if spec.KeyFile != "" {
		modes++
	}
	if spec.Generate {
		modes++
	}
	if modes != 1 {
		return nil, "", cerrors.E(cerrors.ErrUsage, "signer",
			"exactly one of --signer, --key-file, or --generate-key is required")
	}

	switch {
	case spec.KeyFile != "":
		priv, err := keyfile.Load(spec.KeyFile)
		if err != nil {
			return nil, "", err
		}
		return &resolvedSigner{priv: priv}, "", nil

	case spec.Generate:
		priv, err := chaincrypto.GenerateKeyPair()
		if err != nil {
			return nil, "", err
		}
		return &resolvedSigner{priv: priv}, "", nil
	}

	// Named owner: find out whether the vault holds the private key so
	// the password prompt happens here, outside the lock.
	var hasVaultEntry bool
	err := c.store.View(ctx, func(tx *database.Tx) error {
		if _, err := tx.ActiveAuthorizedKeyByOwner(spec.Owner); err != nil {
			return err
		}
		var err error
		hasVaultEntry, err = c.vault.Check(tx, spec.Owner)
		return err
	})
	if err != nil {
		return nil, "", err
	}

	if !hasVaultEntry {
		return &resolvedSigner{demo: true}, "", nil
	}
	if spec.Password == nil {
		return nil, "", cerrors.E(cerrors.ErrAuth, "password-required",
			"the vault holds a key for this owner but no password prompt "+
				"is available")
	}
	password, err := spec.Password(spec.Owner)
	if err != nil {
		return nil, "", err
	}
	return &resolvedSigner{}, password, nil
}

// resolveSigner completes signer resolution inside the unit-of-work and
// returns the private key and the fingerprint the block will carry.
// Auto-authorisation of key-file, generated, and demo-mode keys happens
// here so it commits atomically with the block.
func (c *Chain) resolveSigner(tx *database.Tx, spec *SignerSpec,
	prepared *resolvedSigner, password string) (*ecdsa.PrivateKey, chainhash.Hash, error) {

	var zero chainhash.Hash
	now := nowMs()

	switch {
	case spec.KeyFile != "":
		fingerprint := chaincrypto.Fingerprint(&prepared.priv.PublicKey)
		if _, err := tx.AuthorizedKeyByFingerprint(&fingerprint); err != nil {
			if cerrors.KindOf(err) != cerrors.ErrNotFound {
				return nil, zero, err
			}
			owner := fmt.Sprintf("KeyFile-%s-%d",
				filepath.Base(spec.KeyFile), timeNow().UnixNano())
			newKey := &database.AuthorizedKey{
				Fingerprint: fingerprint,
				Owner:       owner,
				PublicKey:   chaincrypto.MarshalPublicKey(&prepared.priv.PublicKey),
				KeyType:     database.KeyTypeOperational,
				CreatedAtMs: now,
			}
			if err := tx.InsertAuthorizedKey(newKey); err != nil {
				return nil, zero, err
			}
			log.Infof("Auto-authorised key-file signer as %q", owner)
		}
		return prepared.priv, fingerprint, nil

	case spec.Generate:
		fingerprint := chaincrypto.Fingerprint(&prepared.priv.PublicKey)
		owner := fmt.Sprintf("Generated-%d", timeNow().UnixNano())
		newKey := &database.AuthorizedKey{
			Fingerprint: fingerprint,
			Owner:       owner,
			PublicKey:   chaincrypto.MarshalPublicKey(&prepared.priv.PublicKey),
			KeyType:     database.KeyTypeOperational,
			CreatedAtMs: now,
		}
		if err := tx.InsertAuthorizedKey(newKey); err != nil {
			return nil, zero, err
		}
		log.Infof("Auto-authorised generated one-shot signer as %q", owner)
		return prepared.priv, fingerprint, nil
	}

	// Named owner.
	key, err := tx.ActiveAuthorizedKeyByOwner(spec.Owner)
	if err != nil {
		return nil, zero, err
	}

	if prepared.demo {
		// DEMO MODE: the vault holds no private key for this owner; a
		// transient key pair signs this one block and is authorised
		// under the owner's key as parent.
		priv, err := chaincrypto.GenerateKeyPair()
		if err != nil {
			return nil, zero, err
		}
		fingerprint := chaincrypto.Fingerprint(&priv.PublicKey)
		parent := key.Fingerprint
		newKey := &database.AuthorizedKey{
			Fingerprint:       fingerprint,
			Owner:             fmt.Sprintf("%s-demo-%d", spec.Owner, timeNow().UnixNano()),
			PublicKey:         chaincrypto.MarshalPublicKey(&priv.PublicKey),
			KeyType:           database.KeyTypeOperational,
			ParentFingerprint: &parent,
			CreatedAtMs:       now,
		}
		if err := tx.InsertAuthorizedKey(newKey); err != nil {
			return nil, zero, err
		}
		log.Warnf("DEMO MODE: no stored private key for %q; signing with "+
			"a transient key", spec.Owner)
		c.emit("DemoModeSigner", map[string]interface{}{
			"owner": spec.Owner,
		})
		return priv, fingerprint, nil
	}

	priv, err := c.vault.Load(tx, spec.Owner, password)
	if err != nil {
		return nil, zero, err
	}
	fingerprint := chaincrypto.Fingerprint(&priv.PublicKey)
	if fingerprint != key.Fingerprint {
		return nil, zero, cerrors.Ef(cerrors.ErrAuth, "key-mismatch",
			"stored private key for %q does not match the authorised "+
				"public key", spec.Owner)
	}
	return priv, fingerprint, nil
}

// ensureGenesis creates the genesis block on a fresh chain: block zero,
// all-zero previous hash, signed by a dedicated one-shot ROOT key.
func (c *Chain) ensureGenesis(tx *database.Tx) error {
	count, err := tx.BlockCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	priv, err := chaincrypto.GenerateKeyPair()
	if err != nil {
		return err
	}
	fingerprint := chaincrypto.Fingerprint(&priv.PublicKey)
	now := nowMs()
	if err := tx.InsertAuthorizedKey(&database.AuthorizedKey{
		Fingerprint: fingerprint,
		Owner:       "Genesis",
		PublicKey:   chaincrypto.MarshalPublicKey(&priv.PublicKey),
		KeyType:     database.KeyTypeRoot,
		CreatedAtMs: now,
	}); err != nil {
		return err
	}

	data := []byte("GENESIS")
	b := &database.Block{
		BlockNumber:       0,
		PreviousHash:      chainhash.ZeroHash,
		TimestampMs:       now,
		Data:              data,
		DataDigest:        chainhash.HashH(data),
		SignerFingerprint: fingerprint,
		OriginalSize:      uint64(len(data)),
	}
	tuple := signingTuple(0, &b.PreviousHash, b.TimestampMs, &b.DataDigest)
	if b.Signature, err = chaincrypto.Sign(priv, tuple); err != nil {
		return err
	}
	b.Hash = computeBlockHash(b)

	if err := tx.InsertBlock(b); err != nil {
		return err
	}
	log.Infof("Created genesis block (%s)", b.Hash)
	c.emit("GenesisCreated", map[string]interface{}{
		"hash": b.Hash.String(),
	})
	return nil
}
