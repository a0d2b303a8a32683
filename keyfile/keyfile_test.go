// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keyfile

import (
	"encoding/base64"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rbatllet/blockchain-cli/cerrors"
	"github.com/rbatllet/blockchain-cli/chaincrypto"
)

// writeTestKey generates a key pair and writes it to dir in the requested
// encoding, returning the file path and the private key.
func writeTestKey(t *testing.T, dir, name, encoding string) (string, []byte) {
	t.Helper()

	priv, err := chaincrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	der, err := chaincrypto.MarshalPrivateKey(priv)
	if err != nil {
		t.Fatalf("MarshalPrivateKey: %v", err)
	}

	var content []byte
	switch encoding {
	case "pem":
		content = pem.EncodeToMemory(&pem.Block{
			Type: "PRIVATE KEY", Bytes: der,
		})
	case "base64":
		content = []byte(base64.StdEncoding.EncodeToString(der))
	case "base64-multiline":
		b64 := base64.StdEncoding.EncodeToString(der)
		for i := 24; i < len(b64); i += 25 {
			b64 = b64[:i] + "\n" + b64[i:]
		}
		content = []byte(b64)
	case "der":
		content = der
	default:
		t.Fatalf("unknown encoding %q", encoding)
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path, der
}

// TestLoadFormats ensures every supported on-disk representation loads to
// the same key material.
func TestLoadFormats(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, encoding := range []string{"pem", "base64", "base64-multiline", "der"} {
		path, wantDER := writeTestKey(t, dir, encoding+".key", encoding)
		priv, err := Load(path)
		if err != nil {
			t.Errorf("%s: Load: %v", encoding, err)
			continue
		}
		gotDER, err := chaincrypto.MarshalPrivateKey(priv)
		if err != nil {
			t.Errorf("%s: MarshalPrivateKey: %v", encoding, err)
			continue
		}
		if string(gotDER) != string(wantDER) {
			t.Errorf("%s: key material changed across load", encoding)
		}
	}
}

// TestLoadRejectsSensitivePaths ensures key material is never read from
// system-sensitive prefixes.
func TestLoadRejectsSensitivePaths(t *testing.T) {
	t.Parallel()

	for _, path := range []string{
		"/etc/ssl/private/server.key",
		"/bin/sh",
		"/usr/bin/env",
		"/boot/vmlinuz",
		"/proc/self/environ",
	} {
		_, err := Load(path)
		if !errors.Is(err, cerrors.ErrUsage) {
			t.Errorf("%s: unexpected error: %v", path, err)
		}
	}
}

// TestLoadRejectsRSA ensures an RSA PEM key produces the conversion hint
// error rather than a generic parse failure.
func TestLoadRejectsRSA(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "rsa.key")
	content := pem.EncodeToMemory(&pem.Block{
		Type: "RSA PRIVATE KEY", Bytes: []byte{0x30, 0x00},
	})
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := Load(path)
	if !errors.Is(err, cerrors.ErrIntegrity) {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestLoadMissingFile ensures a missing file maps to NOT_FOUND.
func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.key"))
	if !errors.Is(err, cerrors.ErrNotFound) {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestLoadGarbage ensures unparseable content maps to INTEGRITY.
func TestLoadGarbage(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "garbage.key")
	if err := os.WriteFile(path, []byte{0xde, 0xad, 0xbe, 0xef}, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	_, err := Load(path)
	if !errors.Is(err, cerrors.ErrIntegrity) {
		t.Fatalf("unexpected error: %v", err)
	}
}
