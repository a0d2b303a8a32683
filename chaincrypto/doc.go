// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package chaincrypto implements the cryptographic primitives of the ledger.

All signatures are ECDSA over the NIST P-256 (secp256r1) curve with
SHA3-256 digests, encoded in ASN.1 DER form.  Content encryption is
AES-256-GCM with additional authenticated data binding ciphertexts to
their content address.  Password-based keys are derived with
PBKDF2-HMAC-SHA3-256.

The package is pure and stateless.  Callers own all key material.
*/
package chaincrypto
