// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package database

import (
	"database/sql"
	"encoding/base64"
	"errors"
	"unicode/utf8"

	"github.com/rbatllet/blockchain-cli/cerrors"
	"github.com/rbatllet/blockchain-cli/chainhash"
)

// Data encodings of the blocks.data column.  Binary payloads are stored
// base64 encoded so the column stays valid text on every engine.
const (
	dataEncodingText   = "T"
	dataEncodingBase64 = "B"
	dataEncodingRef    = "R"
)

// Keyword sources of the block_keywords join table.
const (
	keywordSourceManual = "M"
	keywordSourceAuto   = "A"
)

const blockColumns = `block_number, previous_hash, hash, timestamp_ms,
	data, data_encoding, data_digest, signer_fingerprint, signature,
	category, original_size`

// encodeBlockData renders the logical data field into its column form.
func encodeBlockData(b *Block) (string, string) {
	if b.IsOffChain() {
		return b.DataField(), dataEncodingRef
	}
	if utf8.Valid(b.Data) {
		return string(b.Data), dataEncodingText
	}
	return base64.StdEncoding.EncodeToString(b.Data), dataEncodingBase64
}

// decodeBlockData restores the logical data field from its column form.
func decodeBlockData(b *Block, data, encoding string) error {
	switch encoding {
	case dataEncodingRef:
		id, ok := ParseOffChainRef(data)
		if !ok {
			return cerrors.Ef(cerrors.ErrIntegrity, "bad-ref",
				"block %d carries a malformed off-chain reference",
				b.BlockNumber)
		}
		b.OffChainContentID = id
	case dataEncodingBase64:
		raw, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return cerrors.Ef(cerrors.ErrIntegrity, "bad-data",
				"block %d payload is not valid base64", b.BlockNumber)
		}
		b.Data = raw
	default:
		b.Data = []byte(data)
	}
	return nil
}

// InsertBlock persists a block and its keyword join rows.
func (t *Tx) InsertBlock(b *Block) error {
	data, encoding := encodeBlockData(b)
	var category sql.NullString
	if b.Category != "" {
		category = sql.NullString{String: b.Category, Valid: true}
	}

	_, err := t.exec(`INSERT INTO blocks (`+blockColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.BlockNumber, b.PreviousHash.String(), b.Hash.String(),
		b.TimestampMs, data, encoding, b.DataDigest.String(),
		b.SignerFingerprint.String(),
		base64.StdEncoding.EncodeToString(b.Signature),
		category, b.OriginalSize)
	if err != nil {
		return dbError("insert-block", err)
	}

	insert := func(keywords []string, source string) error {
		for _, kw := range keywords {
			_, err := t.exec(`INSERT INTO block_keywords
				(block_number, keyword, source) VALUES (?, ?, ?)`,
				b.BlockNumber, kw, source)
			if err != nil {
				return dbError("insert-keyword", err)
			}
		}
		return nil
	}
	if err := insert(b.ManualKeywords, keywordSourceManual); err != nil {
		return err
	}
	return insert(b.AutoKeywords, keywordSourceAuto)
}

// scanBlock reads one block row (without keywords).
func scanBlock(scan func(...interface{}) error) (*Block, error) {
	var b Block
	var prevHash, hash, digest, signer, data, encoding, signature string
	var category sql.NullString
	err := scan(&b.BlockNumber, &prevHash, &hash, &b.TimestampMs,
		&data, &encoding, &digest, &signer, &signature, &category,
		&b.OriginalSize)
	if err != nil {
		return nil, err
	}

	for _, pair := range []struct {
		dst *chainhash.Hash
		src string
	}{
		{&b.PreviousHash, prevHash}, {&b.Hash, hash},
		{&b.DataDigest, digest}, {&b.SignerFingerprint, signer},
	} {
		if err := chainhash.Decode(pair.dst, pair.src); err != nil {
			return nil, cerrors.Ef(cerrors.ErrIntegrity, "bad-hash",
				"block %d carries a malformed hash column", b.BlockNumber)
		}
	}

	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return nil, cerrors.Ef(cerrors.ErrIntegrity, "bad-signature",
			"block %d signature is not valid base64", b.BlockNumber)
	}
	b.Signature = sig
	if category.Valid {
		b.Category = category.String
	}
	if err := decodeBlockData(&b, data, encoding); err != nil {
		return nil, err
	}
	return &b, nil
}

// loadKeywords populates the keyword sets of b.
func (t *Tx) loadKeywords(b *Block) error {
	rows, err := t.query(`SELECT keyword, source FROM block_keywords
		WHERE block_number = ? ORDER BY keyword`, b.BlockNumber)
	if err != nil {
		return dbError("load-keywords", err)
	}
	defer rows.Close()
	for rows.Next() {
		var keyword, source string
		if err := rows.Scan(&keyword, &source); err != nil {
			return dbError("load-keywords", err)
		}
		if source == keywordSourceManual {
			b.ManualKeywords = append(b.ManualKeywords, keyword)
		} else {
			b.AutoKeywords = append(b.AutoKeywords, keyword)
		}
	}
	return rows.Err()
}

// BlockByNumber fetches one block with its keywords, or NOT_FOUND.
func (t *Tx) BlockByNumber(number uint64) (*Block, error) {
	row := t.queryRow(`SELECT `+blockColumns+` FROM blocks
		WHERE block_number = ?`, number)
	b, err := scanBlock(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, cerrors.Ef(cerrors.ErrNotFound, "block",
				"block %d does not exist", number)
		}
		return nil, dbError("block-by-number", err)
	}
	if err := t.loadKeywords(b); err != nil {
		return nil, err
	}
	return b, nil
}

// LatestBlock returns the block with the highest number, or nil when the
// chain is empty.
func (t *Tx) LatestBlock() (*Block, error) {
	row := t.queryRow(`SELECT ` + blockColumns + ` FROM blocks
		ORDER BY block_number DESC LIMIT 1`)
	b, err := scanBlock(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, dbError("latest-block", err)
	}
	if err := t.loadKeywords(b); err != nil {
		return nil, err
	}
	return b, nil
}

// BlockCount returns the number of blocks in the chain.
func (t *Tx) BlockCount() (uint64, error) {
	var count uint64
	err := t.queryRow(`SELECT COUNT(*) FROM blocks`).Scan(&count)
	if err != nil {
		return 0, dbError("block-count", err)
	}
	return count, nil
}

// ForEachBlock streams every block in ascending block-number order.
// Keywords are loaded for each block before fn runs.  fn returning an
// error stops the walk.
func (t *Tx) ForEachBlock(fn func(*Block) error) error {
	rows, err := t.query(`SELECT ` + blockColumns + ` FROM blocks
		ORDER BY block_number ASC`)
	if err != nil {
		return dbError("walk-blocks", err)
	}
	blocks := make([]*Block, 0, 64)
	for rows.Next() {
		b, err := scanBlock(rows.Scan)
		if err != nil {
			rows.Close()
			return dbError("walk-blocks", err)
		}
		blocks = append(blocks, b)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return dbError("walk-blocks", err)
	}
	rows.Close()

	for _, b := range blocks {
		if err := t.loadKeywords(b); err != nil {
			return err
		}
		if err := fn(b); err != nil {
			return err
		}
	}
	return nil
}

// DeleteBlocksAbove removes every block with a number greater than cutoff
// together with its keyword joins, returning how many blocks went away.
func (t *Tx) DeleteBlocksAbove(cutoff uint64) (int64, error) {
	if _, err := t.exec(`DELETE FROM block_keywords
		WHERE block_number > ?`, cutoff); err != nil {
		return 0, dbError("delete-keywords", err)
	}
	res, err := t.exec(`DELETE FROM blocks WHERE block_number > ?`, cutoff)
	if err != nil {
		return 0, dbError("delete-blocks", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, dbError("delete-blocks", err)
	}
	return n, nil
}

// OffChainRefs returns the content ids referenced by any block, keyed by
// hex content id.
func (t *Tx) OffChainRefs() (map[string]uint64, error) {
	rows, err := t.query(`SELECT block_number, data FROM blocks
		WHERE data_encoding = ?`, dataEncodingRef)
	if err != nil {
		return nil, dbError("offchain-refs", err)
	}
	defer rows.Close()

	refs := make(map[string]uint64)
	for rows.Next() {
		var number uint64
		var data string
		if err := rows.Scan(&number, &data); err != nil {
			return nil, dbError("offchain-refs", err)
		}
		if id, ok := ParseOffChainRef(data); ok {
			refs[id.String()] = number
		}
	}
	return refs, rows.Err()
}
