// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package blockchain implements the block engine of the ledger.

The Chain type orchestrates every chain-mutating operation: append,
rollback, import, and authorised-key administration all serialise on a
process-wide writer lock, while status, search, validation, and export
run under the read side and may overlap freely.  The engine owns the
persistence store, the off-chain blob store, the key vault, and the
migration engine, and enforces the chain invariants: strictly increasing
block numbers, hash linkage, non-decreasing timestamps, and signature
admission against the authorised key set.
*/
package blockchain
