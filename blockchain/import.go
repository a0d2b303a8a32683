// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"os"

	"github.com/rbatllet/blockchain-cli/cerrors"
	"github.com/rbatllet/blockchain-cli/chainhash"
	"github.com/rbatllet/blockchain-cli/database"
)

// ImportMode selects how an import treats existing chain state.
type ImportMode int

// Import modes.
const (
	// ImportReplace truncates the existing state and restores the
	// document wholesale.
	ImportReplace ImportMode = iota

	// ImportMerge appends the document's suffix; the current chain must
	// be a prefix of the imported one.
	ImportMerge
)

// ImportRequest describes an import operation.
type ImportRequest struct {
	Path          string
	Mode          ImportMode
	ValidateAfter bool
	Force         bool
}

// ImportResult reports what an import restored.
type ImportResult struct {
	BlockCount    uint64  `json:"blockCount"`
	KeyCount      int     `json:"keyCount"`
	OffChainCount int     `json:"offChainCount"`
	Report        *Report `json:"report,omitempty"`
}

// VerifyExportFile validates an export document offline: parseability,
// hash recomputation, linkage, and signatures.  Nothing touches the
// database.
func VerifyExportFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cerrors.Ef(cerrors.ErrNotFound, "import-file",
				"export file %s does not exist", path)
		}
		return cerrors.Wrap(cerrors.ErrIO, "import-file", err,
			"unable to read export file: "+err.Error())
	}
	var doc ExportDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return cerrors.Wrap(cerrors.ErrIntegrity, "import-parse", err,
			"export file is not valid JSON: "+err.Error())
	}
	_, _, err = verifyDocument(&doc)
	return err
}

// Import restores a chain from an export document.  The document is
// validated offline before anything touches the database; past that
// point the whole import is one unit-of-work that either commits or
// leaves the chain unchanged (unless Force keeps a failing result).
func (c *Chain) Import(ctx context.Context, req *ImportRequest) (*ImportResult, error) {
	raw, err := os.ReadFile(req.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cerrors.Ef(cerrors.ErrNotFound, "import-file",
				"export file %s does not exist", req.Path)
		}
		return nil, cerrors.Wrap(cerrors.ErrIO, "import-file", err,
			"unable to read export file: "+err.Error())
	}
	var doc ExportDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, cerrors.Wrap(cerrors.ErrIntegrity, "import-parse", err,
			"export file is not valid JSON: "+err.Error())
	}

	// Fail fast on corrupt input, before taking the write lock.
	keys, blocks, err := verifyDocument(&doc)
	if err != nil {
		return nil, err
	}

	c.mtx.Lock()
	defer c.mtx.Unlock()

	result := &ImportResult{KeyCount: len(keys)}
	var cleanups []func()
	err = c.store.Update(ctx, func(tx *database.Tx) error {
		switch req.Mode {
		case ImportReplace:
			if err := tx.TruncateAll(); err != nil {
				return err
			}
			for _, k := range keys {
				if err := tx.InsertAuthorizedKey(k); err != nil {
					return err
				}
			}
			for _, b := range blocks {
				// Imports are cancellable between blocks.
				if err := ctx.Err(); err != nil {
					return cerrors.Wrap(cerrors.ErrIO, "cancelled", err,
						"import cancelled")
				}
				if err := tx.InsertBlock(b); err != nil {
					return err
				}
			}
			result.BlockCount = uint64(len(blocks))

		case ImportMerge:
			appended, err := c.mergeSuffix(ctx, tx, keys, blocks)
			if err != nil {
				return err
			}
			result.BlockCount = appended
		}

		restored, cleanupFns, err := c.restoreOffChain(tx, &doc, blocks)
		cleanups = append(cleanups, cleanupFns...)
		if err != nil {
			return err
		}
		result.OffChainCount = restored

		if req.ValidateAfter {
			report, err := c.validateTx(ctx, tx, ModeDetailed)
			if err != nil {
				return err
			}
			result.Report = report
			if !report.FullyCompliant && !req.Force {
				return cerrors.E(cerrors.ErrIntegrity, "import-validate",
					"imported chain failed detailed validation; use force "+
						"to keep it anyway")
			}
		}
		return nil
	})
	if err != nil {
		for _, cleanup := range cleanups {
			cleanup()
		}
		return nil, err
	}

	log.Infof("Imported %d block(s), %d key(s), %d off-chain record(s) "+
		"from %s", result.BlockCount, result.KeyCount,
		result.OffChainCount, req.Path)
	c.emit("ChainImported", map[string]interface{}{
		"path":       req.Path,
		"blockCount": result.BlockCount,
	})
	return result, nil
}

// mergeSuffix appends the imported blocks beyond the current tip after
// proving the current chain is a prefix of the imported one.  It returns
// how many blocks were appended.
func (c *Chain) mergeSuffix(ctx context.Context, tx *database.Tx,
	keys []*database.AuthorizedKey, blocks []*database.Block) (uint64, error) {

	count, err := tx.BlockCount()
	if err != nil {
		return 0, err
	}
	if count > uint64(len(blocks)) {
		return 0, cerrors.Ef(cerrors.ErrConflict, "import-merge",
			"current chain (%d blocks) is longer than the import (%d)",
			count, len(blocks))
	}

	// Prefix proof: every existing block must match the imported one.
	if err := tx.ForEachBlock(func(existing *database.Block) error {
		imported := blocks[existing.BlockNumber]
		if existing.Hash != imported.Hash {
			return cerrors.Ef(cerrors.ErrConflict, "import-merge",
				"block %d differs from the imported chain; merge needs a "+
					"strict prefix", existing.BlockNumber)
		}
		return nil
	}); err != nil {
		return 0, err
	}

	// Register the imported keys that are new.
	for _, k := range keys {
		if _, err := tx.AuthorizedKeyByFingerprint(&k.Fingerprint); err == nil {
			continue
		} else if cerrors.KindOf(err) != cerrors.ErrNotFound {
			return 0, err
		}
		if err := tx.InsertAuthorizedKey(k); err != nil {
			return 0, err
		}
	}

	var appended uint64
	for _, b := range blocks[count:] {
		if err := ctx.Err(); err != nil {
			return appended, cerrors.Wrap(cerrors.ErrIO, "cancelled", err,
				"import cancelled")
		}
		if err := tx.InsertBlock(b); err != nil {
			return appended, err
		}
		appended++
	}
	return appended, nil
}

// restoreOffChain writes the embedded ciphertexts of every off-chain
// record the restored blocks reference back to disk and inserts their
// rows.  Existing records that still verify are left alone.
func (c *Chain) restoreOffChain(tx *database.Tx, doc *ExportDocument,
	blocks []*database.Block) (int, []func(), error) {

	needed := make(map[string]bool)
	for _, b := range blocks {
		if b.IsOffChain() {
			needed[b.OffChainContentID.String()] = true
		}
	}

	var cleanups []func()
	restored := 0
	for i := range doc.OffChain {
		entry := &doc.OffChain[i]
		if !needed[entry.ContentID] {
			continue
		}

		record := &database.OffChainRecord{
			CleartextSize:    entry.CleartextSize,
			CipherSize:       entry.CipherSize,
			EncryptionKeyRef: entry.EncryptionKeyRef,
			CreatedAtMs:      entry.CreatedAtMs,
		}
		if err := chainhash.Decode(&record.ContentID, entry.ContentID); err != nil {
			return restored, cleanups, cerrors.Ef(cerrors.ErrIntegrity,
				"import-offchain", "record %s carries a malformed content id",
				entry.ContentID)
		}
		nonce, err := hex.DecodeString(entry.Nonce)
		if err != nil {
			return restored, cleanups, cerrors.Ef(cerrors.ErrIntegrity,
				"import-offchain", "record %s carries a malformed nonce",
				entry.ContentID)
		}
		record.Nonce = nonce

		// Skip records already present and verifying.
		if existing, err := tx.OffChainRecordByContentID(&record.ContentID); err == nil {
			if payload, err := c.blobs.Read(existing); err == nil &&
				len(payload) > 0 {
				continue
			}
			if err := tx.DeleteOffChainRecord(&record.ContentID); err != nil {
				return restored, cleanups, err
			}
		} else if cerrors.KindOf(err) != cerrors.ErrNotFound {
			return restored, cleanups, err
		}

		cipher, err := base64.StdEncoding.DecodeString(entry.Cipher)
		if err != nil {
			return restored, cleanups, cerrors.Ef(cerrors.ErrIntegrity,
				"import-offchain", "record %s carries malformed ciphertext",
				entry.ContentID)
		}
		if err := c.blobs.RestoreCipher(record, cipher); err != nil {
			return restored, cleanups, err
		}
		path := record.CipherPath
		cleanups = append(cleanups, func() { os.Remove(path) })

		if err := tx.InsertOffChainRecord(record); err != nil {
			return restored, cleanups, err
		}
		restored++
	}
	return restored, cleanups, nil
}
