// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincrypto

import (
	"crypto/ecdsa"
	"crypto/rand"

	"golang.org/x/crypto/sha3"

	"github.com/rbatllet/blockchain-cli/cerrors"
)

// Sign produces an ASN.1 DER encoded ECDSA signature over the SHA3-256
// digest of msg.
func Sign(priv *ecdsa.PrivateKey, msg []byte) ([]byte, error) {
	digest := sha3.Sum256(msg)
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		return nil, cerrors.Wrap(cerrors.ErrIntegrity, "sign", err,
			"unable to sign: "+err.Error())
	}
	return sig, nil
}

// Verify reports whether sig is a valid ASN.1 DER encoded ECDSA signature
// of the SHA3-256 digest of msg under pub.
func Verify(pub *ecdsa.PublicKey, msg, sig []byte) bool {
	digest := sha3.Sum256(msg)
	return ecdsa.VerifyASN1(pub, digest[:], sig)
}
