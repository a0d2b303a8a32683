// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package vault

import (
	"crypto/ecdsa"

	"github.com/rbatllet/blockchain-cli/cerrors"
	"github.com/rbatllet/blockchain-cli/chaincrypto"
	"github.com/rbatllet/blockchain-cli/database"
)

// algorithmTag records the construction a vault entry was sealed with.
const algorithmTag = "AES-256-GCM/PBKDF2-HMAC-SHA3-256"

// Vault stores password-encrypted private keys keyed by owner name.  The
// sealed form is AES-256-GCM over the PKCS#8 DER key, the cipher key is
// derived with PBKDF2 from the owner's password, and the AAD binds the
// ciphertext to the owner so entries cannot be swapped between owners.
type Vault struct {
	store *database.Store
}

// New returns a vault over the given store.
func New(store *database.Store) *Vault {
	return &Vault{store: store}
}

// seal encrypts a private key under a password.
func seal(owner string, priv *ecdsa.PrivateKey, password string) (*database.StoredPrivateKey, error) {
	if err := chaincrypto.CheckPasswordPolicy(password); err != nil {
		return nil, err
	}
	der, err := chaincrypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	salt, err := chaincrypto.NewSalt()
	if err != nil {
		return nil, err
	}
	key, err := chaincrypto.DeriveKeyFromPassword(password, salt,
		chaincrypto.MinIterations)
	if err != nil {
		return nil, err
	}
	nonce, err := chaincrypto.NewNonce()
	if err != nil {
		return nil, err
	}
	sealed, err := chaincrypto.Encrypt(key, nonce, der, []byte(owner))
	if err != nil {
		return nil, err
	}
	return &database.StoredPrivateKey{
		Owner:               owner,
		EncryptedPrivateKey: append(nonce, sealed...),
		KDFSalt:             salt,
		KDFIterations:       chaincrypto.MinIterations,
		AlgorithmTag:        algorithmTag,
	}, nil
}

// open decrypts a stored entry.  A wrong password and a tampered entry are
// indistinguishable by construction; both surface as INTEGRITY.
func open(entry *database.StoredPrivateKey, password string) (*ecdsa.PrivateKey, error) {
	if len(entry.EncryptedPrivateKey) <= chaincrypto.NonceSize {
		return nil, cerrors.E(cerrors.ErrIntegrity, "vault-entry",
			"stored private key is truncated")
	}
	key, err := chaincrypto.DeriveKeyFromPassword(password, entry.KDFSalt,
		entry.KDFIterations)
	if err != nil {
		return nil, err
	}
	nonce := entry.EncryptedPrivateKey[:chaincrypto.NonceSize]
	sealed := entry.EncryptedPrivateKey[chaincrypto.NonceSize:]
	der, err := chaincrypto.Decrypt(key, nonce, sealed, []byte(entry.Owner))
	if err != nil {
		return nil, cerrors.E(cerrors.ErrIntegrity, "vault-password",
			"unable to unlock stored key: wrong password or tampered entry")
	}
	return chaincrypto.ParsePrivateKey(der)
}

// Store seals a private key under the owner's password.  An existing
// entry for the owner is replaced.
func (v *Vault) Store(tx *database.Tx, owner string, priv *ecdsa.PrivateKey,
	password string) error {

	entry, err := seal(owner, priv, password)
	if err != nil {
		return err
	}
	if err := tx.UpsertStoredKey(entry); err != nil {
		return err
	}
	log.Infof("Stored private key for owner %q", owner)
	return nil
}

// Load unseals the private key of an owner.
func (v *Vault) Load(tx *database.Tx, owner, password string) (*ecdsa.PrivateKey, error) {
	entry, err := tx.StoredKeyByOwner(owner)
	if err != nil {
		return nil, err
	}
	return open(entry, password)
}

// Check reports whether an entry exists for the owner.
func (v *Vault) Check(tx *database.Tx, owner string) (bool, error) {
	_, err := tx.StoredKeyByOwner(owner)
	if err != nil {
		if cerrors.KindOf(err) == cerrors.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Test verifies that a password unlocks the owner's entry without
// returning the key material.
func (v *Vault) Test(tx *database.Tx, owner, password string) error {
	_, err := v.Load(tx, owner, password)
	return err
}

// Delete removes the owner's entry.
func (v *Vault) Delete(tx *database.Tx, owner string) error {
	if err := tx.DeleteStoredKey(owner); err != nil {
		return err
	}
	log.Infof("Deleted stored private key for owner %q", owner)
	return nil
}

// List returns the owners with stored keys.
func (v *Vault) List(tx *database.Tx) ([]string, error) {
	return tx.ListStoredKeyOwners()
}
