// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincrypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"

	"github.com/rbatllet/blockchain-cli/cerrors"
	"github.com/rbatllet/blockchain-cli/chainhash"
)

// Curve is the elliptic curve every signing key in the ledger uses.
var Curve = elliptic.P256()

// GenerateKeyPair generates a fresh ECDSA key pair over secp256r1.
func GenerateKeyPair() (*ecdsa.PrivateKey, error) {
	priv, err := ecdsa.GenerateKey(Curve, rand.Reader)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.ErrIO, "keygen", err,
			"unable to generate key pair: "+err.Error())
	}
	return priv, nil
}

// MarshalPublicKey returns the canonical X9.62 uncompressed encoding of pub.
// This encoding is the input to Fingerprint and the octet form persisted for
// authorised keys.
func MarshalPublicKey(pub *ecdsa.PublicKey) []byte {
	return elliptic.Marshal(pub.Curve, pub.X, pub.Y)
}

// ParsePublicKey parses the canonical X9.62 uncompressed encoding produced
// by MarshalPublicKey.
func ParsePublicKey(data []byte) (*ecdsa.PublicKey, error) {
	x, y := elliptic.Unmarshal(Curve, data)
	if x == nil {
		return nil, cerrors.E(cerrors.ErrIntegrity, "invalid-key",
			"public key is not a valid uncompressed secp256r1 point")
	}
	return &ecdsa.PublicKey{Curve: Curve, X: x, Y: y}, nil
}

// MarshalPrivateKey returns the PKCS#8 DER encoding of priv.
func MarshalPrivateKey(priv *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.ErrIntegrity, "invalid-key", err,
			"unable to encode private key: "+err.Error())
	}
	return der, nil
}

// ParsePrivateKey parses a PKCS#8 DER encoded ECDSA private key over
// secp256r1.  RSA and foreign-curve keys are rejected.
func ParsePrivateKey(der []byte) (*ecdsa.PrivateKey, error) {
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.ErrIntegrity, "invalid-key", err,
			"not a valid PKCS#8 private key: "+err.Error())
	}
	ecKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, cerrors.E(cerrors.ErrIntegrity, "invalid-key",
			"unsupported private key algorithm; only ECDSA over "+
				"secp256r1 is accepted (RSA keys must be converted first, "+
				"see the convert command)")
	}
	if ecKey.Curve != Curve {
		return nil, cerrors.E(cerrors.ErrIntegrity, "invalid-key",
			"private key curve is not secp256r1")
	}
	return ecKey, nil
}

// Fingerprint derives the authoritative 32-byte identity of a public key:
// the SHA3-256 of its canonical X9.62 uncompressed encoding.
func Fingerprint(pub *ecdsa.PublicKey) chainhash.Hash {
	return chainhash.HashH(MarshalPublicKey(pub))
}
