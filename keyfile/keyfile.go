// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keyfile

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"

	"github.com/rbatllet/blockchain-cli/cerrors"
	"github.com/rbatllet/blockchain-cli/chaincrypto"
)

// sensitivePrefixes lists directory prefixes a key file may never resolve
// under.  The check runs against the absolute, symlink-resolved path so a
// link out of a home directory cannot bypass it.
var sensitivePrefixes = []string{
	"/etc/", "/bin/", "/usr/bin/", "/boot/", "/proc/",
}

// checkPath rejects paths that resolve under a system-sensitive prefix and
// returns the resolved path otherwise.
func checkPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", cerrors.Wrap(cerrors.ErrIO, "key-path", err,
			"unable to resolve key file path: "+err.Error())
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	for _, prefix := range sensitivePrefixes {
		if strings.HasPrefix(abs, prefix) {
			return "", cerrors.Ef(cerrors.ErrUsage, "sensitive-path",
				"refusing to read key material from system path %s", abs)
		}
	}
	return abs, nil
}

// Load reads a private key file and returns the ECDSA private key it
// contains.  The format is auto-detected by inspection:
//
//  1. Content beginning with a "-----BEGIN" header is parsed as PEM.
//  2. Content that is valid Base64 (possibly multi-line) is decoded and the
//     result treated as PKCS#8 DER.
//  3. Anything else is treated as raw PKCS#8 DER.
//
// Only PKCS#8 PrivateKeyInfo wrapping an ECDSA key over secp256r1 is
// accepted.
func Load(path string) (*ecdsa.PrivateKey, error) {
	resolved, err := checkPath(path)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cerrors.Ef(cerrors.ErrNotFound, "key-file",
				"key file %s does not exist", path)
		}
		return nil, cerrors.Wrap(cerrors.ErrIO, "key-file", err,
			"unable to read key file: "+err.Error())
	}

	der, err := extractDER(content)
	if err != nil {
		return nil, err
	}
	return chaincrypto.ParsePrivateKey(der)
}

// extractDER reduces the supported on-disk representations to PKCS#8 DER
// bytes.
func extractDER(content []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(content)
	if bytes.HasPrefix(trimmed, []byte("-----BEGIN")) {
		block, _ := pem.Decode(trimmed)
		if block == nil {
			return nil, cerrors.E(cerrors.ErrIntegrity, "invalid-key",
				"malformed PEM block in key file")
		}
		if block.Type == "RSA PRIVATE KEY" {
			return nil, cerrors.E(cerrors.ErrIntegrity, "invalid-key",
				"RSA keys are not supported; convert the key to an ECDSA "+
					"secp256r1 key first (see the convert command)")
		}
		return block.Bytes, nil
	}

	// Base64, possibly wrapped over multiple lines.
	stripped := stripWhitespace(trimmed)
	if der, err := base64.StdEncoding.DecodeString(string(stripped)); err == nil {
		return der, nil
	}

	// Raw DER.
	return trimmed, nil
}

func stripWhitespace(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		switch c {
		case ' ', '\t', '\r', '\n':
		default:
			out = append(out, c)
		}
	}
	return out
}
