// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package chainhash provides abstracted hash functionality.

This package provides a generic hash type and associated functions that
allows the specific hash algorithm to be abstracted.  Every hash in the
ledger, from block hashes to payload digests to key fingerprints, is a
SHA3-256 digest represented by the Hash type defined here.
*/
package chainhash
