// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package offchain

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rbatllet/blockchain-cli/cerrors"
	"github.com/rbatllet/blockchain-cli/chaincrypto"
	"github.com/rbatllet/blockchain-cli/chainhash"
	"github.com/rbatllet/blockchain-cli/database"
)

const (
	// DefaultThreshold is the inline/off-chain boundary: payloads
	// strictly larger than this many bytes are stored off-chain.
	DefaultThreshold = 524288

	// DefaultDir is the off-chain blob directory relative to the working
	// directory.
	DefaultDir = "off-chain-data"

	// masterKeyFile holds the store master key, mode 0600.
	masterKeyFile = "master.key"

	// keyRefPrefix tags a wrapped per-content key in its record form.
	keyRefPrefix = "wrapped:v1:"
)

// Store is the content-addressed encrypted blob store.  Every payload is
// sealed with a fresh AES-256 key which is in turn wrapped by the store
// master key; the wrapped form travels inside the database record, so
// vault access (the master key) is all that is needed to decrypt.
type Store struct {
	dir       string
	masterKey []byte
}

// Open prepares the blob directory and loads or creates the master key.
func Open(dir string) (*Store, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, cerrors.Wrap(cerrors.ErrIO, "offchain-dir", err,
			"unable to create off-chain directory: "+err.Error())
	}

	keyPath := filepath.Join(dir, masterKeyFile)
	masterKey, err := os.ReadFile(keyPath)
	switch {
	case err == nil:
		if len(masterKey) != chaincrypto.KeySize {
			return nil, cerrors.E(cerrors.ErrIntegrity, "master-key",
				"off-chain master key has the wrong size")
		}
	case os.IsNotExist(err):
		masterKey, err = chaincrypto.NewContentKey()
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(keyPath, masterKey, 0o600); err != nil {
			return nil, cerrors.Wrap(cerrors.ErrIO, "master-key", err,
				"unable to write off-chain master key: "+err.Error())
		}
		log.Infof("Created off-chain master key at %s", keyPath)
	default:
		return nil, cerrors.Wrap(cerrors.ErrIO, "master-key", err,
			"unable to read off-chain master key: "+err.Error())
	}

	return &Store{dir: dir, masterKey: masterKey}, nil
}

// Dir returns the blob directory.
func (s *Store) Dir() string {
	return s.dir
}

// ContentID computes the content address of a cleartext payload.
func ContentID(payload []byte) chainhash.Hash {
	return chainhash.HashH(payload)
}

// wrapKey seals a per-content key under the master key.  The AAD binds
// the wrapped key to its content id.
func (s *Store) wrapKey(contentKey []byte, contentID *chainhash.Hash) (string, error) {
	nonce, err := chaincrypto.NewNonce()
	if err != nil {
		return "", err
	}
	wrapped, err := chaincrypto.Encrypt(s.masterKey, nonce, contentKey,
		contentID[:])
	if err != nil {
		return "", err
	}
	return keyRefPrefix +
		base64.StdEncoding.EncodeToString(append(nonce, wrapped...)), nil
}

// unwrapKey recovers a per-content key from its record form.
func (s *Store) unwrapKey(keyRef string, contentID *chainhash.Hash) ([]byte, error) {
	if !strings.HasPrefix(keyRef, keyRefPrefix) {
		return nil, cerrors.E(cerrors.ErrIntegrity, "key-ref",
			"unrecognised encryption key reference")
	}
	raw, err := base64.StdEncoding.DecodeString(keyRef[len(keyRefPrefix):])
	if err != nil || len(raw) <= chaincrypto.NonceSize {
		return nil, cerrors.E(cerrors.ErrIntegrity, "key-ref",
			"malformed encryption key reference")
	}
	nonce, wrapped := raw[:chaincrypto.NonceSize], raw[chaincrypto.NonceSize:]
	return chaincrypto.Decrypt(s.masterKey, nonce, wrapped, contentID[:])
}

// Write seals payload into the store inside the caller's unit-of-work.
// The ciphertext file is written before the record row, and the returned
// cleanup removes the file again; the caller runs it when the surrounding
// transaction fails to commit.  Payloads already present under their
// content address are deduplicated.
func (s *Store) Write(tx *database.Tx, payload []byte, nowMs int64) (*database.OffChainRecord, func(), error) {
	noop := func() {}
	contentID := ContentID(payload)

	// Dedup: reuse an existing record whose cleartext still verifies.
	existing, err := tx.OffChainRecordByContentID(&contentID)
	switch {
	case err == nil:
		if verify, err := s.Read(existing); err == nil &&
			ContentID(verify) == contentID {
			log.Debugf("Reusing off-chain record %s", contentID)
			return existing, noop, nil
		}
		log.Warnf("Off-chain record %s exists but does not verify; "+
			"rewriting", contentID)
		if err := tx.DeleteOffChainRecord(&contentID); err != nil {
			return nil, noop, err
		}
	case !errors.Is(err, cerrors.ErrNotFound):
		return nil, noop, err
	}

	contentKey, err := chaincrypto.NewContentKey()
	if err != nil {
		return nil, noop, err
	}
	nonce, err := chaincrypto.NewNonce()
	if err != nil {
		return nil, noop, err
	}
	ciphertext, err := chaincrypto.Encrypt(contentKey, nonce, payload,
		contentID[:])
	if err != nil {
		return nil, noop, err
	}
	keyRef, err := s.wrapKey(contentKey, &contentID)
	if err != nil {
		return nil, noop, err
	}

	path, err := s.writeCipherFile(&contentID, ciphertext)
	if err != nil {
		return nil, noop, err
	}
	cleanup := func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Errorf("Unable to remove orphaned cipher file %s: %v",
				path, err)
		}
	}

	record := &database.OffChainRecord{
		ContentID:        contentID,
		CipherPath:       path,
		Nonce:            nonce,
		CleartextSize:    uint64(len(payload)),
		CipherSize:       uint64(len(ciphertext)),
		EncryptionKeyRef: keyRef,
		CreatedAtMs:      nowMs,
	}
	if err := tx.InsertOffChainRecord(record); err != nil {
		cleanup()
		return nil, noop, err
	}
	return record, cleanup, nil
}

// writeCipherFile writes ciphertext under a collision-free name with mode
// 0600.  O_EXCL guards against reuse of an existing path.
func (s *Store) writeCipherFile(contentID *chainhash.Hash, ciphertext []byte) (string, error) {
	name := fmt.Sprintf("offchain_%d_%s.dat", time.Now().UnixNano(),
		contentID.String()[:16])
	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", cerrors.Wrap(cerrors.ErrIO, "cipher-file", err,
			"unable to create cipher file: "+err.Error())
	}
	if _, err := f.Write(ciphertext); err != nil {
		f.Close()
		os.Remove(path)
		return "", cerrors.Wrap(cerrors.ErrIO, "cipher-file", err,
			"unable to write cipher file: "+err.Error())
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", cerrors.Wrap(cerrors.ErrIO, "cipher-file", err,
			"unable to close cipher file: "+err.Error())
	}
	return path, nil
}

// ReadCipher returns the raw ciphertext of a record (used by export).
func (s *Store) ReadCipher(record *database.OffChainRecord) ([]byte, error) {
	ciphertext, err := os.ReadFile(record.CipherPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cerrors.Ef(cerrors.ErrNotFound, "cipher-file",
				"cipher file %s is missing", record.CipherPath)
		}
		return nil, cerrors.Wrap(cerrors.ErrIO, "cipher-file", err,
			"unable to read cipher file: "+err.Error())
	}
	return ciphertext, nil
}

// Read decrypts a record and verifies its content address.  A mismatch of
// any kind is an INTEGRITY failure.
func (s *Store) Read(record *database.OffChainRecord) ([]byte, error) {
	ciphertext, err := s.ReadCipher(record)
	if err != nil {
		return nil, err
	}
	contentKey, err := s.unwrapKey(record.EncryptionKeyRef, &record.ContentID)
	if err != nil {
		return nil, err
	}
	payload, err := chaincrypto.Decrypt(contentKey, record.Nonce, ciphertext,
		record.ContentID[:])
	if err != nil {
		return nil, err
	}
	if ContentID(payload) != record.ContentID {
		return nil, cerrors.Ef(cerrors.ErrIntegrity, "content-id",
			"decrypted payload does not hash to content id %s",
			record.ContentID)
	}
	return payload, nil
}

// RestoreCipher writes an imported ciphertext back to disk under a fresh
// canonical name and updates the record path.  The record's key reference
// and nonce travel with the export, so the payload stays decryptable as
// long as the master key does.
func (s *Store) RestoreCipher(record *database.OffChainRecord, ciphertext []byte) error {
	path, err := s.writeCipherFile(&record.ContentID, ciphertext)
	if err != nil {
		return err
	}
	record.CipherPath = path
	record.CipherSize = uint64(len(ciphertext))
	return nil
}

// RemoveFile deletes a record's cipher file.  Failures are logged, not
// returned: garbage collection must never fail the surrounding rollback.
func (s *Store) RemoveFile(record *database.OffChainRecord) {
	if err := os.Remove(record.CipherPath); err != nil &&
		!os.IsNotExist(err) {
		log.Errorf("Unable to remove cipher file %s: %v",
			record.CipherPath, err)
	}
}

// CollectGarbage deletes every record no block references any more,
// together with its file.  It runs inside the rollback unit-of-work.
func (s *Store) CollectGarbage(tx *database.Tx) (int, error) {
	refs, err := tx.OffChainRefs()
	if err != nil {
		return 0, err
	}
	records, err := tx.ListOffChainRecords()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, record := range records {
		if _, referenced := refs[record.ContentID.String()]; referenced {
			continue
		}
		if err := tx.DeleteOffChainRecord(&record.ContentID); err != nil {
			return removed, err
		}
		s.RemoveFile(record)
		removed++
	}
	if removed > 0 {
		log.Infof("Garbage collected %d off-chain record(s)", removed)
	}
	return removed, nil
}
