// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package database

import (
	"database/sql"
	"encoding/hex"
	"errors"

	"github.com/rbatllet/blockchain-cli/cerrors"
	"github.com/rbatllet/blockchain-cli/chainhash"
)

const offChainColumns = `content_id, cipher_path, nonce, cleartext_size,
	cipher_size, encryption_key_ref, created_at_ms`

// InsertOffChainRecord persists off-chain payload metadata.  It runs in
// the same unit-of-work that commits the referencing block.
func (t *Tx) InsertOffChainRecord(r *OffChainRecord) error {
	_, err := t.exec(`INSERT INTO off_chain_records (`+offChainColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ContentID.String(), r.CipherPath,
		hex.EncodeToString(r.Nonce), r.CleartextSize, r.CipherSize,
		r.EncryptionKeyRef, r.CreatedAtMs)
	if err != nil {
		return dbError("insert-offchain", err)
	}
	return nil
}

func scanOffChainRecord(scan func(...interface{}) error) (*OffChainRecord, error) {
	var r OffChainRecord
	var contentID, nonce string
	err := scan(&contentID, &r.CipherPath, &nonce, &r.CleartextSize,
		&r.CipherSize, &r.EncryptionKeyRef, &r.CreatedAtMs)
	if err != nil {
		return nil, err
	}
	if err := chainhash.Decode(&r.ContentID, contentID); err != nil {
		return nil, cerrors.E(cerrors.ErrIntegrity, "bad-content-id",
			"off-chain record carries a malformed content id")
	}
	raw, err := hex.DecodeString(nonce)
	if err != nil {
		return nil, cerrors.E(cerrors.ErrIntegrity, "bad-nonce",
			"off-chain record carries a malformed nonce")
	}
	r.Nonce = raw
	return &r, nil
}

// OffChainRecordByContentID fetches the metadata for one content address.
func (t *Tx) OffChainRecordByContentID(id *chainhash.Hash) (*OffChainRecord, error) {
	row := t.queryRow(`SELECT `+offChainColumns+` FROM off_chain_records
		WHERE content_id = ?`, id.String())
	r, err := scanOffChainRecord(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, cerrors.Ef(cerrors.ErrNotFound, "offchain-record",
				"no off-chain record for content id %s", id)
		}
		return nil, dbError("offchain-by-id", err)
	}
	return r, nil
}

// ListOffChainRecords returns every off-chain record ordered by creation.
func (t *Tx) ListOffChainRecords() ([]*OffChainRecord, error) {
	rows, err := t.query(`SELECT ` + offChainColumns +
		` FROM off_chain_records ORDER BY created_at_ms ASC, content_id ASC`)
	if err != nil {
		return nil, dbError("list-offchain", err)
	}
	defer rows.Close()
	var records []*OffChainRecord
	for rows.Next() {
		r, err := scanOffChainRecord(rows.Scan)
		if err != nil {
			return nil, dbError("list-offchain", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// DeleteOffChainRecord removes off-chain metadata.  The caller owns the
// corresponding file deletion.
func (t *Tx) DeleteOffChainRecord(id *chainhash.Hash) error {
	if _, err := t.exec(`DELETE FROM off_chain_records
		WHERE content_id = ?`, id.String()); err != nil {
		return dbError("delete-offchain", err)
	}
	return nil
}

// OffChainStats reports the record count and total ciphertext size.
func (t *Tx) OffChainStats() (uint64, uint64, error) {
	var count uint64
	var size sql.NullInt64
	err := t.queryRow(`SELECT COUNT(*), SUM(cipher_size)
		FROM off_chain_records`).Scan(&count, &size)
	if err != nil {
		return 0, 0, dbError("offchain-stats", err)
	}
	var total uint64
	if size.Valid {
		total = uint64(size.Int64)
	}
	return count, total, nil
}
