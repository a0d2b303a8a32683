// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package database implements the relational persistence layer.

The same store serves four SQL engines (sqlite, postgresql, mysql, and h2
through the H2 PostgreSQL-compatibility server) behind database/sql.  All
engine differences are isolated in the dialect type: placeholder style,
upsert form, and DDL spelling.  Hashes are persisted as lowercase hex text
and timestamps as UTC millisecond integers so that stored rows are
engine-stable and exports round-trip deterministically.

All mutations flow through the Tx unit-of-work: one transaction per core
operation, committed or rolled back as a whole.  Large payloads never
enter the database; only off-chain record metadata does.
*/
package database
