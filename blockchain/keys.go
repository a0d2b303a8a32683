// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"context"
	"crypto/ecdsa"
	"strings"

	"github.com/rbatllet/blockchain-cli/cerrors"
	"github.com/rbatllet/blockchain-cli/chaincrypto"
	"github.com/rbatllet/blockchain-cli/database"
	"github.com/rbatllet/blockchain-cli/keyfile"
)

// millisPerDay converts validity windows to timestamps.
const millisPerDay = 24 * 60 * 60 * 1000

// AddKeyRequest describes an add-key operation.  Exactly one key source
// must be set: Generate, PublicKey, or KeyFile.
type AddKeyRequest struct {
	Owner string

	// Generate creates a fresh key pair.
	Generate bool

	// PublicKey registers an externally held key by its canonical
	// uncompressed encoding.
	PublicKey []byte

	// KeyFile registers the public half of a private key file.
	KeyFile string

	// StorePrivate seals the generated private key in the vault.  Only
	// meaningful with Generate; Password supplies the vault password.
	StorePrivate bool
	Password     PasswordFunc

	// KeyType is ROOT, INTERMEDIATE, or OPERATIONAL; empty defaults to
	// OPERATIONAL.
	KeyType string

	// ParentOwner optionally names the issuing key's owner.
	ParentOwner string

	// ValidityDays bounds the key lifetime; zero means indefinite.
	ValidityDays int
}

// AddKeyResult reports the registered key and, for generated keys, the
// private key material.
type AddKeyResult struct {
	Key *database.AuthorizedKey

	// PrivateKey is non-nil only when the request generated a pair.  If
	// it was not stored in the vault it exists nowhere else; the caller
	// shows it exactly once and drops it.
	PrivateKey *ecdsa.PrivateKey

	// Stored reports whether the private key was sealed in the vault.
	Stored bool
}

// normalizeKeyType canonicalises and checks a key type.
func normalizeKeyType(raw string) (string, error) {
	keyType := strings.ToUpper(strings.TrimSpace(raw))
	if keyType == "" {
		return database.KeyTypeOperational, nil
	}
	switch keyType {
	case database.KeyTypeRoot, database.KeyTypeIntermediate,
		database.KeyTypeOperational:
		return keyType, nil
	}
	return "", cerrors.Ef(cerrors.ErrUsage, "key-type",
		"unknown key type %q (want root, intermediate, or operational)", raw)
}

// AddKey registers a new authorised key for an owner.
func (c *Chain) AddKey(ctx context.Context, req *AddKeyRequest) (*AddKeyResult, error) {
	owner := strings.TrimSpace(req.Owner)
	if owner == "" {
		return nil, cerrors.E(cerrors.ErrUsage, "owner",
			"an owner name is required")
	}
	keyType, err := normalizeKeyType(req.KeyType)
	if err != nil {
		return nil, err
	}

	sources := 0
	if req.Generate {
		sources++
	}
	if len(req.PublicKey) > 0 {
		sources++
	}
	if req.KeyFile != "" {
		sources++
	}
	if sources != 1 {
		return nil, cerrors.E(cerrors.ErrUsage, "key-source",
			"exactly one of --generate, --public-key, or --key-file is required")
	}
	if req.StorePrivate && !req.Generate {
		return nil, cerrors.E(cerrors.ErrUsage, "store-private",
			"--store-private requires --generate")
	}

	// Blocking work before the writer lock: key material and passwords.
	var priv *ecdsa.PrivateKey
	var publicKey []byte
	switch {
	case req.Generate:
		if priv, err = chaincrypto.GenerateKeyPair(); err != nil {
			return nil, err
		}
		publicKey = chaincrypto.MarshalPublicKey(&priv.PublicKey)
	case req.KeyFile != "":
		filePriv, err := keyfile.Load(req.KeyFile)
		if err != nil {
			return nil, err
		}
		publicKey = chaincrypto.MarshalPublicKey(&filePriv.PublicKey)
	default:
		if _, err := chaincrypto.ParsePublicKey(req.PublicKey); err != nil {
			return nil, err
		}
		publicKey = req.PublicKey
	}

	var password string
	if req.StorePrivate {
		if req.Password == nil {
			return nil, cerrors.E(cerrors.ErrUsage, "password",
				"--store-private needs a password prompt")
		}
		if password, err = req.Password(owner); err != nil {
			return nil, err
		}
		if err := chaincrypto.CheckPasswordPolicy(password); err != nil {
			return nil, err
		}
	}

	pub, err := chaincrypto.ParsePublicKey(publicKey)
	if err != nil {
		return nil, err
	}
	fingerprint := chaincrypto.Fingerprint(pub)

	c.mtx.Lock()
	defer c.mtx.Unlock()

	key := &database.AuthorizedKey{
		Fingerprint: fingerprint,
		Owner:       owner,
		PublicKey:   publicKey,
		KeyType:     keyType,
		CreatedAtMs: nowMs(),
	}
	if req.ValidityDays > 0 {
		expires := key.CreatedAtMs + int64(req.ValidityDays)*millisPerDay
		key.ExpiresAtMs = &expires
	}

	err = c.store.Update(ctx, func(tx *database.Tx) error {
		// Exactly one active key per owner.
		if _, err := tx.ActiveAuthorizedKeyByOwner(owner); err == nil {
			return cerrors.Ef(cerrors.ErrConflict, "owner",
				"owner %q already has an active key; revoke or rotate it "+
					"first", owner)
		} else if cerrors.KindOf(err) != cerrors.ErrNotFound {
			return err
		}

		if req.ParentOwner != "" {
			parent, err := tx.ActiveAuthorizedKeyByOwner(req.ParentOwner)
			if err != nil {
				return err
			}
			fp := parent.Fingerprint
			key.ParentFingerprint = &fp
		}

		if err := tx.InsertAuthorizedKey(key); err != nil {
			return err
		}
		if req.StorePrivate {
			return c.vault.Store(tx, owner, priv, password)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Infof("Authorised %s key for owner %q (%s)", key.KeyType, owner,
		key.Fingerprint)
	c.emit("KeyAuthorised", map[string]interface{}{
		"owner":       owner,
		"fingerprint": key.Fingerprint.String(),
		"keyType":     key.KeyType,
	})
	return &AddKeyResult{Key: key, PrivateKey: priv,
		Stored: req.StorePrivate}, nil
}

// ListKeys returns the authorised keys under the read lock.
func (c *Chain) ListKeys(ctx context.Context, activeOnly bool) ([]*database.AuthorizedKey, error) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()

	var keys []*database.AuthorizedKey
	err := c.store.View(ctx, func(tx *database.Tx) error {
		var err error
		keys, err = tx.ListAuthorizedKeys(activeOnly)
		return err
	})
	return keys, err
}

// RevokeKey revokes the active key of an owner as of now.  Historical
// blocks signed by the key stay verifiable; only compliance changes.
func (c *Chain) RevokeKey(ctx context.Context, owner string) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	err := c.store.Update(ctx, func(tx *database.Tx) error {
		key, err := tx.ActiveAuthorizedKeyByOwner(owner)
		if err != nil {
			return err
		}
		return tx.RevokeAuthorizedKey(&key.Fingerprint, nowMs())
	})
	if err != nil {
		return err
	}
	log.Infof("Revoked key for owner %q", owner)
	c.emit("KeyRevoked", map[string]interface{}{"owner": owner})
	return nil
}

// RotateKey replaces an owner's key: a fresh pair is generated and
// authorised with the prior key as parent, the new private key is sealed
// in the vault when the old one was, and the prior key is revoked.
func (c *Chain) RotateKey(ctx context.Context, owner string, validityDays int,
	password PasswordFunc) (*AddKeyResult, error) {

	// Pre-lock: key generation and, when the vault is involved, the
	// password prompt.
	priv, err := chaincrypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	var hasVaultEntry bool
	err = c.store.View(ctx, func(tx *database.Tx) error {
		if _, err := tx.ActiveAuthorizedKeyByOwner(owner); err != nil {
			return err
		}
		hasVaultEntry, err = c.vault.Check(tx, owner)
		return err
	})
	if err != nil {
		return nil, err
	}

	var sealPassword string
	if hasVaultEntry {
		if password == nil {
			return nil, cerrors.E(cerrors.ErrAuth, "password-required",
				"rotating a vault-stored key needs a password prompt")
		}
		if sealPassword, err = password(owner); err != nil {
			return nil, err
		}
		if err := chaincrypto.CheckPasswordPolicy(sealPassword); err != nil {
			return nil, err
		}
	}

	c.mtx.Lock()
	defer c.mtx.Unlock()

	newKey := &database.AuthorizedKey{
		Fingerprint: chaincrypto.Fingerprint(&priv.PublicKey),
		Owner:       owner,
		PublicKey:   chaincrypto.MarshalPublicKey(&priv.PublicKey),
		CreatedAtMs: nowMs(),
	}
	if validityDays > 0 {
		expires := newKey.CreatedAtMs + int64(validityDays)*millisPerDay
		newKey.ExpiresAtMs = &expires
	}

	err = c.store.Update(ctx, func(tx *database.Tx) error {
		old, err := tx.ActiveAuthorizedKeyByOwner(owner)
		if err != nil {
			return err
		}
		oldFP := old.Fingerprint
		newKey.KeyType = old.KeyType
		newKey.ParentFingerprint = &oldFP

		if err := tx.RevokeAuthorizedKey(&oldFP, newKey.CreatedAtMs); err != nil {
			return err
		}
		if err := tx.InsertAuthorizedKey(newKey); err != nil {
			return err
		}
		if hasVaultEntry {
			return c.vault.Store(tx, owner, priv, sealPassword)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Infof("Rotated key for owner %q (new fingerprint %s)", owner,
		newKey.Fingerprint)
	c.emit("KeyRotated", map[string]interface{}{
		"owner":       owner,
		"fingerprint": newKey.Fingerprint.String(),
	})
	return &AddKeyResult{Key: newKey, PrivateKey: priv,
		Stored: hasVaultEntry}, nil
}

// CheckStoredKey reports whether the vault holds a private key for owner.
func (c *Chain) CheckStoredKey(ctx context.Context, owner string) (bool, error) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()

	var exists bool
	err := c.store.View(ctx, func(tx *database.Tx) error {
		var err error
		exists, err = c.vault.Check(tx, owner)
		return err
	})
	return exists, err
}

// TestStoredKey verifies a vault password without exposing key material.
func (c *Chain) TestStoredKey(ctx context.Context, owner, password string) error {
	c.mtx.RLock()
	defer c.mtx.RUnlock()

	return c.store.View(ctx, func(tx *database.Tx) error {
		return c.vault.Test(tx, owner, password)
	})
}

// DeleteStoredKey removes a vault entry.  The authorised key itself is
// untouched; only the stored private half goes away.
func (c *Chain) DeleteStoredKey(ctx context.Context, owner string) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	return c.store.Update(ctx, func(tx *database.Tx) error {
		return c.vault.Delete(tx, owner)
	})
}

// ListStoredKeys lists the owners with vault entries.
func (c *Chain) ListStoredKeys(ctx context.Context) ([]string, error) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()

	var owners []string
	err := c.store.View(ctx, func(tx *database.Tx) error {
		var err error
		owners, err = c.vault.List(tx)
		return err
	})
	return owners, err
}
