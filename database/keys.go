// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package database

import (
	"database/sql"
	"encoding/base64"
	"errors"

	"github.com/rbatllet/blockchain-cli/cerrors"
	"github.com/rbatllet/blockchain-cli/chainhash"
)

const keyColumns = `fingerprint, owner, public_key, key_type,
	parent_fingerprint, created_at_ms, expires_at_ms, revoked_at_ms`

// InsertAuthorizedKey registers a signing identity.  Exactly one active key
// may be bound to an owner, which the caller enforces under the writer
// lock; the database additionally rejects duplicate fingerprints.
func (t *Tx) InsertAuthorizedKey(k *AuthorizedKey) error {
	var parent sql.NullString
	if k.ParentFingerprint != nil {
		parent = sql.NullString{String: k.ParentFingerprint.String(), Valid: true}
	}
	var expires, revoked sql.NullInt64
	if k.ExpiresAtMs != nil {
		expires = sql.NullInt64{Int64: *k.ExpiresAtMs, Valid: true}
	}
	if k.RevokedAtMs != nil {
		revoked = sql.NullInt64{Int64: *k.RevokedAtMs, Valid: true}
	}

	_, err := t.exec(`INSERT INTO authorized_keys (`+keyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		k.Fingerprint.String(), k.Owner,
		base64.StdEncoding.EncodeToString(k.PublicKey), k.KeyType,
		parent, k.CreatedAtMs, expires, revoked)
	if err != nil {
		return dbError("insert-key", err)
	}
	return nil
}

func scanAuthorizedKey(scan func(...interface{}) error) (*AuthorizedKey, error) {
	var k AuthorizedKey
	var fingerprint, publicKey string
	var parent sql.NullString
	var expires, revoked sql.NullInt64
	err := scan(&fingerprint, &k.Owner, &publicKey, &k.KeyType, &parent,
		&k.CreatedAtMs, &expires, &revoked)
	if err != nil {
		return nil, err
	}
	if err := chainhash.Decode(&k.Fingerprint, fingerprint); err != nil {
		return nil, cerrors.E(cerrors.ErrIntegrity, "bad-fingerprint",
			"authorised key carries a malformed fingerprint")
	}
	pub, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil {
		return nil, cerrors.E(cerrors.ErrIntegrity, "bad-public-key",
			"authorised key carries malformed public key bytes")
	}
	k.PublicKey = pub
	if parent.Valid {
		h, err := chainhash.NewHashFromStr(parent.String)
		if err != nil {
			return nil, cerrors.E(cerrors.ErrIntegrity, "bad-fingerprint",
				"authorised key carries a malformed parent fingerprint")
		}
		k.ParentFingerprint = h
	}
	if expires.Valid {
		v := expires.Int64
		k.ExpiresAtMs = &v
	}
	if revoked.Valid {
		v := revoked.Int64
		k.RevokedAtMs = &v
	}
	return &k, nil
}

// AuthorizedKeyByFingerprint fetches a key by its authoritative identity.
func (t *Tx) AuthorizedKeyByFingerprint(fp *chainhash.Hash) (*AuthorizedKey, error) {
	row := t.queryRow(`SELECT `+keyColumns+` FROM authorized_keys
		WHERE fingerprint = ?`, fp.String())
	k, err := scanAuthorizedKey(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, cerrors.Ef(cerrors.ErrNotFound, "key",
				"no authorised key with fingerprint %s", fp)
		}
		return nil, dbError("key-by-fingerprint", err)
	}
	return k, nil
}

// ActiveAuthorizedKeyByOwner fetches the single non-revoked key bound to
// owner.
func (t *Tx) ActiveAuthorizedKeyByOwner(owner string) (*AuthorizedKey, error) {
	rows, err := t.query(`SELECT `+keyColumns+` FROM authorized_keys
		WHERE owner = ? AND revoked_at_ms IS NULL`, owner)
	if err != nil {
		return nil, dbError("key-by-owner", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, dbError("key-by-owner", err)
		}
		return nil, cerrors.Ef(cerrors.ErrNotFound, "owner",
			"no active authorised key for owner %q", owner)
	}
	return scanAuthorizedKey(rows.Scan)
}

// ListAuthorizedKeys returns keys ordered by creation time, optionally
// restricted to non-revoked entries.
func (t *Tx) ListAuthorizedKeys(activeOnly bool) ([]*AuthorizedKey, error) {
	query := `SELECT ` + keyColumns + ` FROM authorized_keys`
	if activeOnly {
		query += ` WHERE revoked_at_ms IS NULL`
	}
	query += ` ORDER BY created_at_ms ASC, fingerprint ASC`

	rows, err := t.query(query)
	if err != nil {
		return nil, dbError("list-keys", err)
	}
	defer rows.Close()

	var keys []*AuthorizedKey
	for rows.Next() {
		k, err := scanAuthorizedKey(rows.Scan)
		if err != nil {
			return nil, dbError("list-keys", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// RevokeAuthorizedKey stamps a key revoked as of atMs.  Revocation is the
// only mutation the entity permits.
func (t *Tx) RevokeAuthorizedKey(fp *chainhash.Hash, atMs int64) error {
	res, err := t.exec(`UPDATE authorized_keys SET revoked_at_ms = ?
		WHERE fingerprint = ? AND revoked_at_ms IS NULL`, atMs, fp.String())
	if err != nil {
		return dbError("revoke-key", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbError("revoke-key", err)
	}
	if n == 0 {
		return cerrors.Ef(cerrors.ErrNotFound, "key",
			"no active authorised key with fingerprint %s", fp)
	}
	return nil
}

// CountBlocksBySigner reports how many blocks a fingerprint has signed.
// A non-zero count makes the key undeletable.
func (t *Tx) CountBlocksBySigner(fp *chainhash.Hash) (uint64, error) {
	var count uint64
	err := t.queryRow(`SELECT COUNT(*) FROM blocks
		WHERE signer_fingerprint = ?`, fp.String()).Scan(&count)
	if err != nil {
		return 0, dbError("count-by-signer", err)
	}
	return count, nil
}

// UpsertStoredKey inserts or replaces a vault entry.
func (t *Tx) UpsertStoredKey(k *StoredPrivateKey) error {
	insert := `INSERT INTO stored_private_keys (owner, encrypted_private_key,
		kdf_salt, kdf_iterations, algorithm_tag) VALUES (?, ?, ?, ?, ?)`
	update := `encrypted_private_key = ?, kdf_salt = ?, kdf_iterations = ?,
		algorithm_tag = ?`
	query := t.dialect.upsert(insert, "owner", update)

	enc := base64.StdEncoding.EncodeToString(k.EncryptedPrivateKey)
	salt := base64.StdEncoding.EncodeToString(k.KDFSalt)
	_, err := t.exec(query,
		k.Owner, enc, salt, k.KDFIterations, k.AlgorithmTag,
		enc, salt, k.KDFIterations, k.AlgorithmTag)
	if err != nil {
		return dbError("store-private-key", err)
	}
	return nil
}

// StoredKeyByOwner fetches a vault entry.
func (t *Tx) StoredKeyByOwner(owner string) (*StoredPrivateKey, error) {
	var k StoredPrivateKey
	var enc, salt string
	err := t.queryRow(`SELECT owner, encrypted_private_key, kdf_salt,
		kdf_iterations, algorithm_tag FROM stored_private_keys
		WHERE owner = ?`, owner).
		Scan(&k.Owner, &enc, &salt, &k.KDFIterations, &k.AlgorithmTag)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, cerrors.Ef(cerrors.ErrNotFound, "vault-entry",
				"no stored private key for owner %q", owner)
		}
		return nil, dbError("load-private-key", err)
	}
	if k.EncryptedPrivateKey, err = base64.StdEncoding.DecodeString(enc); err != nil {
		return nil, cerrors.E(cerrors.ErrIntegrity, "vault-entry",
			"stored private key is malformed")
	}
	if k.KDFSalt, err = base64.StdEncoding.DecodeString(salt); err != nil {
		return nil, cerrors.E(cerrors.ErrIntegrity, "vault-entry",
			"stored key salt is malformed")
	}
	return &k, nil
}

// DeleteStoredKey removes a vault entry.
func (t *Tx) DeleteStoredKey(owner string) error {
	res, err := t.exec(`DELETE FROM stored_private_keys WHERE owner = ?`,
		owner)
	if err != nil {
		return dbError("delete-private-key", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbError("delete-private-key", err)
	}
	if n == 0 {
		return cerrors.Ef(cerrors.ErrNotFound, "vault-entry",
			"no stored private key for owner %q", owner)
	}
	return nil
}

// ListStoredKeyOwners lists the owners with vault entries.
func (t *Tx) ListStoredKeyOwners() ([]string, error) {
	rows, err := t.query(`SELECT owner FROM stored_private_keys
		ORDER BY owner ASC`)
	if err != nil {
		return nil, dbError("list-private-keys", err)
	}
	defer rows.Close()
	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, dbError("list-private-keys", err)
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}
