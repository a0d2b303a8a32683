// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package database

import (
	"context"
	"strings"
)

// schemaDDL is the baseline schema, spelled in the portable subset every
// supported engine accepts.  Migration V1 carries the same statements, so
// running migrate on a freshly auto-created database records the baseline
// without any DDL diff.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS blocks (
		block_number BIGINT NOT NULL,
		previous_hash CHAR(64) NOT NULL,
		hash CHAR(64) NOT NULL,
		timestamp_ms BIGINT NOT NULL,
		data TEXT,
		data_encoding CHAR(1) NOT NULL,
		data_digest CHAR(64) NOT NULL,
		signer_fingerprint CHAR(64) NOT NULL,
		signature TEXT NOT NULL,
		category VARCHAR(64),
		original_size BIGINT NOT NULL,
		PRIMARY KEY (block_number)
	)`,
	`CREATE TABLE IF NOT EXISTS block_keywords (
		block_number BIGINT NOT NULL,
		keyword VARCHAR(64) NOT NULL,
		source CHAR(1) NOT NULL,
		PRIMARY KEY (block_number, keyword, source)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_block_keywords_keyword
		ON block_keywords (keyword)`,
	`CREATE TABLE IF NOT EXISTS authorized_keys (
		fingerprint CHAR(64) NOT NULL,
		owner VARCHAR(255) NOT NULL,
		public_key TEXT NOT NULL,
		key_type VARCHAR(16) NOT NULL,
		parent_fingerprint CHAR(64),
		created_at_ms BIGINT NOT NULL,
		expires_at_ms BIGINT,
		revoked_at_ms BIGINT,
		PRIMARY KEY (fingerprint)
	)`,
	`CREATE TABLE IF NOT EXISTS off_chain_records (
		content_id CHAR(64) NOT NULL,
		cipher_path VARCHAR(1024) NOT NULL,
		nonce VARCHAR(32) NOT NULL,
		cleartext_size BIGINT NOT NULL,
		cipher_size BIGINT NOT NULL,
		encryption_key_ref VARCHAR(512) NOT NULL,
		created_at_ms BIGINT NOT NULL,
		PRIMARY KEY (content_id)
	)`,
	`CREATE TABLE IF NOT EXISTS stored_private_keys (
		owner VARCHAR(255) NOT NULL,
		encrypted_private_key TEXT NOT NULL,
		kdf_salt VARCHAR(64) NOT NULL,
		kdf_iterations INTEGER NOT NULL,
		algorithm_tag VARCHAR(64) NOT NULL,
		PRIMARY KEY (owner)
	)`,
}

// coreTables lists every table owned by the chain, in an order safe for
// truncation (no foreign keys are declared, so any order works).
var coreTables = []string{
	"block_keywords", "blocks", "authorized_keys", "off_chain_records",
	"stored_private_keys",
}

// CreateSchema creates the baseline tables when the hbm2ddl mode asks for
// it.  It is the auto-update analogue used on first startup only; all
// later schema changes flow through the migration engine.
func (s *Store) CreateSchema(ctx context.Context) error {
	log.Debugf("Ensuring baseline schema (%d statements)", len(schemaDDL))
	for _, stmt := range schemaDDL {
		stmt = s.dialect.ddl(stmt)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			if IsIndexExists(stmt, err) {
				continue
			}
			return dbError("create-schema", err)
		}
	}
	return nil
}

// IsIndexExists reports whether err is the duplicate-index failure MySQL
// raises for CREATE INDEX statements it cannot guard with IF NOT EXISTS.
// Such failures are idempotency noise, not errors.
func IsIndexExists(stmt string, err error) bool {
	if !strings.Contains(stmt, "CREATE INDEX") {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate key name") ||
		strings.Contains(msg, "already exists")
}
