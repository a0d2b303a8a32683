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
	"sort"

	"github.com/rbatllet/blockchain-cli/cerrors"
	"github.com/rbatllet/blockchain-cli/chaincrypto"
	"github.com/rbatllet/blockchain-cli/chainhash"
	"github.com/rbatllet/blockchain-cli/database"
)

// exportSchemaVersion tags the export document layout.
const exportSchemaVersion = "1"

// ExportMetadata describes an export document.
type ExportMetadata struct {
	ExportedAtMs  int64  `json:"exportedAtMs"`
	SchemaVersion string `json:"schemaVersion"`
	BlockCount    uint64 `json:"blockCount"`
	KeyCount      int    `json:"keyCount"`
}

// ExportKey is the document form of an authorised key.
type ExportKey struct {
	Fingerprint       string `json:"fingerprint"`
	Owner             string `json:"owner"`
	PublicKey         string `json:"publicKey"`
	KeyType           string `json:"keyType"`
	ParentFingerprint string `json:"parentFingerprint,omitempty"`
	CreatedAtMs       int64  `json:"createdAtMs"`
	ExpiresAtMs       *int64 `json:"expiresAtMs,omitempty"`
	RevokedAtMs       *int64 `json:"revokedAtMs,omitempty"`
}

// ExportBlock is the document form of a block.  Inline payloads travel
// base64 encoded; off-chain payloads travel as their tagged reference with
// the ciphertext in the off-chain section.
type ExportBlock struct {
	BlockNumber       uint64   `json:"blockNumber"`
	PreviousHash      string   `json:"previousHash"`
	Hash              string   `json:"hash"`
	TimestampMs       int64    `json:"timestampMs"`
	Data              string   `json:"data"`
	Inline            bool     `json:"inline"`
	DataDigest        string   `json:"dataDigest"`
	SignerFingerprint string   `json:"signerFingerprint"`
	Signature         string   `json:"signature"`
	ManualKeywords    []string `json:"manualKeywords,omitempty"`
	AutoKeywords      []string `json:"autoKeywords,omitempty"`
	Category          string   `json:"category,omitempty"`
	OriginalSize      uint64   `json:"originalSize"`
}

// ExportOffChain is the document form of an off-chain record: the
// ciphertext itself is embedded so the export is self-contained.
type ExportOffChain struct {
	ContentID        string `json:"contentId"`
	Nonce            string `json:"nonce"`
	Cipher           string `json:"cipher"`
	EncryptionKeyRef string `json:"encryptionKeyRef"`
	CleartextSize    uint64 `json:"cleartextSize"`
	CipherSize       uint64 `json:"cipherSize"`
	CreatedAtMs      int64  `json:"createdAtMs"`
}

// ExportDocument is a complete chain snapshot.
type ExportDocument struct {
	Metadata       ExportMetadata   `json:"metadata"`
	AuthorizedKeys []ExportKey      `json:"authorizedKeys"`
	Blocks         []ExportBlock    `json:"blocks"`
	OffChain       []ExportOffChain `json:"offChain"`
}

// Export writes a snapshot of the chain to path as a single JSON
// document.  It runs under the read lock inside one read transaction, so
// the snapshot is consistent.
func (c *Chain) Export(ctx context.Context, path string) (*ExportDocument, error) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()

	doc := &ExportDocument{}
	err := c.store.View(ctx, func(tx *database.Tx) error {
		keys, err := tx.ListAuthorizedKeys(false)
		if err != nil {
			return err
		}
		for _, k := range keys {
			doc.AuthorizedKeys = append(doc.AuthorizedKeys, exportKey(k))
		}

		if err := tx.ForEachBlock(func(b *database.Block) error {
			doc.Blocks = append(doc.Blocks, exportBlock(b))
			return nil
		}); err != nil {
			return err
		}

		records, err := tx.ListOffChainRecords()
		if err != nil {
			return err
		}
		for _, record := range records {
			cipher, err := c.blobs.ReadCipher(record)
			if err != nil {
				return err
			}
			doc.OffChain = append(doc.OffChain, ExportOffChain{
				ContentID:        record.ContentID.String(),
				Nonce:            hex.EncodeToString(record.Nonce),
				Cipher:           base64.StdEncoding.EncodeToString(cipher),
				EncryptionKeyRef: record.EncryptionKeyRef,
				CleartextSize:    record.CleartextSize,
				CipherSize:       record.CipherSize,
				CreatedAtMs:      record.CreatedAtMs,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(doc.OffChain, func(i, j int) bool {
		return doc.OffChain[i].ContentID < doc.OffChain[j].ContentID
	})
	doc.Metadata = ExportMetadata{
		ExportedAtMs:  nowMs(),
		SchemaVersion: exportSchemaVersion,
		BlockCount:    uint64(len(doc.Blocks)),
		KeyCount:      len(doc.AuthorizedKeys),
	}

	encoded, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, cerrors.Wrap(cerrors.ErrIO, "export-encode", err,
			"unable to encode export: "+err.Error())
	}
	if err := os.WriteFile(path, append(encoded, '\n'), 0o600); err != nil {
		return nil, cerrors.Wrap(cerrors.ErrIO, "export-write", err,
			"unable to write export file: "+err.Error())
	}

	log.Infof("Exported %d block(s) and %d key(s) to %s",
		doc.Metadata.BlockCount, doc.Metadata.KeyCount, path)
	c.emit("ChainExported", map[string]interface{}{
		"path":       path,
		"blockCount": doc.Metadata.BlockCount,
	})
	return doc, nil
}

func exportKey(k *database.AuthorizedKey) ExportKey {
	out := ExportKey{
		Fingerprint: k.Fingerprint.String(),
		Owner:       k.Owner,
		PublicKey:   base64.StdEncoding.EncodeToString(k.PublicKey),
		KeyType:     k.KeyType,
		CreatedAtMs: k.CreatedAtMs,
		ExpiresAtMs: k.ExpiresAtMs,
		RevokedAtMs: k.RevokedAtMs,
	}
	if k.ParentFingerprint != nil {
		out.ParentFingerprint = k.ParentFingerprint.String()
	}
	return out
}

func exportBlock(b *database.Block) ExportBlock {
	out := ExportBlock{
		BlockNumber:       b.BlockNumber,
		PreviousHash:      b.PreviousHash.String(),
		Hash:              b.Hash.String(),
		TimestampMs:       b.TimestampMs,
		DataDigest:        b.DataDigest.String(),
		SignerFingerprint: b.SignerFingerprint.String(),
		Signature:         base64.StdEncoding.EncodeToString(b.Signature),
		ManualKeywords:    append([]string(nil), b.ManualKeywords...),
		AutoKeywords:      append([]string(nil), b.AutoKeywords...),
		Category:          b.Category,
		OriginalSize:      b.OriginalSize,
	}
	sort.Strings(out.ManualKeywords)
	sort.Strings(out.AutoKeywords)
	if b.IsOffChain() {
		out.Data = b.DataField()
	} else {
		out.Data = base64.StdEncoding.EncodeToString(b.Data)
		out.Inline = true
	}
	return out
}

// importBlock converts a document block back to its entity form.
func importBlock(eb *ExportBlock) (*database.Block, error) {
	b := &database.Block{
		BlockNumber:    eb.BlockNumber,
		TimestampMs:    eb.TimestampMs,
		ManualKeywords: eb.ManualKeywords,
		AutoKeywords:   eb.AutoKeywords,
		Category:       eb.Category,
		OriginalSize:   eb.OriginalSize,
	}
	for _, pair := range []struct {
		dst *chainhash.Hash
		src string
	}{
		{&b.PreviousHash, eb.PreviousHash},
		{&b.Hash, eb.Hash},
		{&b.DataDigest, eb.DataDigest},
		{&b.SignerFingerprint, eb.SignerFingerprint},
	} {
		if err := chainhash.Decode(pair.dst, pair.src); err != nil {
			return nil, cerrors.Ef(cerrors.ErrIntegrity, "import-block",
				"block %d carries a malformed hash", eb.BlockNumber)
		}
	}

	sig, err := base64.StdEncoding.DecodeString(eb.Signature)
	if err != nil {
		return nil, cerrors.Ef(cerrors.ErrIntegrity, "import-block",
			"block %d carries a malformed signature", eb.BlockNumber)
	}
	b.Signature = sig

	if eb.Inline {
		data, err := base64.StdEncoding.DecodeString(eb.Data)
		if err != nil {
			return nil, cerrors.Ef(cerrors.ErrIntegrity, "import-block",
				"block %d carries a malformed payload", eb.BlockNumber)
		}
		b.Data = data
	} else {
		id, ok := database.ParseOffChainRef(eb.Data)
		if !ok {
			return nil, cerrors.Ef(cerrors.ErrIntegrity, "import-block",
				"block %d carries a malformed off-chain reference",
				eb.BlockNumber)
		}
		b.OffChainContentID = id
	}
	return b, nil
}

// importKey converts a document key back to its entity form.
func importKey(ek *ExportKey) (*database.AuthorizedKey, error) {
	k := &database.AuthorizedKey{
		Owner:       ek.Owner,
		KeyType:     ek.KeyType,
		CreatedAtMs: ek.CreatedAtMs,
		ExpiresAtMs: ek.ExpiresAtMs,
		RevokedAtMs: ek.RevokedAtMs,
	}
	if err := chainhash.Decode(&k.Fingerprint, ek.Fingerprint); err != nil {
		return nil, cerrors.Ef(cerrors.ErrIntegrity, "import-key",
			"key %q carries a malformed fingerprint", ek.Owner)
	}
	if ek.ParentFingerprint != "" {
		parent, err := chainhash.NewHashFromStr(ek.ParentFingerprint)
		if err != nil {
			return nil, cerrors.Ef(cerrors.ErrIntegrity, "import-key",
				"key %q carries a malformed parent fingerprint", ek.Owner)
		}
		k.ParentFingerprint = parent
	}
	pub, err := base64.StdEncoding.DecodeString(ek.PublicKey)
	if err != nil {
		return nil, cerrors.Ef(cerrors.ErrIntegrity, "import-key",
			"key %q carries malformed public key bytes", ek.Owner)
	}
	k.PublicKey = pub
	return k, nil
}

// verifyDocument validates an export document offline, before anything
// touches the database: hash recomputation, linkage, and signatures under
// the exported key set.
func verifyDocument(doc *ExportDocument) ([]*database.AuthorizedKey, []*database.Block, error) {
	keys := make([]*database.AuthorizedKey, 0, len(doc.AuthorizedKeys))
	pubKeys := make(map[chainhash.Hash][]byte, len(doc.AuthorizedKeys))
	for i := range doc.AuthorizedKeys {
		k, err := importKey(&doc.AuthorizedKeys[i])
		if err != nil {
			return nil, nil, err
		}
		keys = append(keys, k)
		pubKeys[k.Fingerprint] = k.PublicKey
	}

	blocks := make([]*database.Block, 0, len(doc.Blocks))
	prevHash := chainhash.ZeroHash
	for i := range doc.Blocks {
		b, err := importBlock(&doc.Blocks[i])
		if err != nil {
			return nil, nil, err
		}
		if b.BlockNumber != uint64(i) {
			return nil, nil, cerrors.Ef(cerrors.ErrIntegrity, "import-order",
				"document block %d carries number %d", i, b.BlockNumber)
		}
		if b.PreviousHash != prevHash {
			return nil, nil, cerrors.Ef(cerrors.ErrIntegrity, "import-linkage",
				"block %d does not link to its predecessor", b.BlockNumber)
		}
		if computeBlockHash(b) != b.Hash {
			return nil, nil, cerrors.Ef(cerrors.ErrIntegrity, "import-hash",
				"block %d hash does not recompute", b.BlockNumber)
		}

		// The digest must address the effective payload: the inline
		// bytes, or the off-chain content id.
		if b.IsOffChain() {
			if *b.OffChainContentID != b.DataDigest {
				return nil, nil, cerrors.Ef(cerrors.ErrIntegrity,
					"import-digest", "block %d digest does not match its "+
						"off-chain reference", b.BlockNumber)
			}
		} else if chainhash.HashH(b.Data) != b.DataDigest {
			return nil, nil, cerrors.Ef(cerrors.ErrIntegrity, "import-digest",
				"block %d digest does not match its payload", b.BlockNumber)
		}

		publicKey, ok := pubKeys[b.SignerFingerprint]
		if !ok {
			return nil, nil, cerrors.Ef(cerrors.ErrIntegrity, "import-signer",
				"block %d references an unknown signer", b.BlockNumber)
		}
		pub, err := chaincrypto.ParsePublicKey(publicKey)
		if err != nil {
			return nil, nil, err
		}
		tuple := signingTuple(b.BlockNumber, &b.PreviousHash, b.TimestampMs,
			&b.DataDigest)
		if !chaincrypto.Verify(pub, tuple, b.Signature) {
			return nil, nil, cerrors.Ef(cerrors.ErrIntegrity, "import-signature",
				"block %d signature does not verify", b.BlockNumber)
		}

		prevHash = b.Hash
		blocks = append(blocks, b)
	}
	return keys, blocks, nil
}
