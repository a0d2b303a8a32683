// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package vault

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/rbatllet/blockchain-cli/cerrors"
	"github.com/rbatllet/blockchain-cli/chaincrypto"
	"github.com/rbatllet/blockchain-cli/database"
	"github.com/rbatllet/blockchain-cli/dbconfig"
)

const testPassword = "Alice-Secret-01!"

func newTestVault(t *testing.T) (*database.Store, *Vault) {
	t.Helper()
	cfg := &dbconfig.Config{
		Type:     dbconfig.EngineSQLite,
		Database: filepath.Join(t.TempDir(), "test.db"),
		Pool:     dbconfig.SQLitePoolParams,
	}
	db, err := database.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, New(db)
}

// TestStoreLoadRoundTrip seals a key and unseals it with the right
// password.
func TestStoreLoadRoundTrip(t *testing.T) {
	db, v := newTestVault(t)
	ctx := context.Background()

	priv, err := chaincrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	err = db.Update(ctx, func(tx *database.Tx) error {
		return v.Store(tx, "Alice", priv, testPassword)
	})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	err = db.View(ctx, func(tx *database.Tx) error {
		loaded, err := v.Load(tx, "Alice", testPassword)
		if err != nil {
			return err
		}
		if loaded.D.Cmp(priv.D) != 0 {
			t.Error("key material changed across the vault round trip")
		}

		exists, err := v.Check(tx, "Alice")
		if err != nil {
			return err
		}
		if !exists {
			t.Error("Check: entry not found")
		}
		exists, err = v.Check(tx, "Bob")
		if err != nil {
			return err
		}
		if exists {
			t.Error("Check: phantom entry for Bob")
		}

		owners, err := v.List(tx)
		if err != nil {
			return err
		}
		if !reflect.DeepEqual(owners, []string{"Alice"}) {
			t.Errorf("List: got %v", owners)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

// TestWrongPassword ensures a wrong password surfaces as INTEGRITY.
func TestWrongPassword(t *testing.T) {
	db, v := newTestVault(t)
	ctx := context.Background()

	priv, err := chaincrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	err = db.Update(ctx, func(tx *database.Tx) error {
		return v.Store(tx, "Alice", priv, testPassword)
	})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	err = db.View(ctx, func(tx *database.Tx) error {
		return v.Test(tx, "Alice", "Wrong-Secret-99!")
	})
	if !errors.Is(err, cerrors.ErrIntegrity) {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestWeakPasswordRejected ensures the policy gates storing.
func TestWeakPasswordRejected(t *testing.T) {
	db, v := newTestVault(t)
	ctx := context.Background()

	priv, err := chaincrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	err = db.Update(ctx, func(tx *database.Tx) error {
		return v.Store(tx, "Alice", priv, "short")
	})
	if !errors.Is(err, cerrors.ErrUsage) {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestEntrySwapDetected ensures a ciphertext moved to another owner fails
// to open: the AAD binds entries to their owner.
func TestEntrySwapDetected(t *testing.T) {
	db, v := newTestVault(t)
	ctx := context.Background()

	priv, err := chaincrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	err = db.Update(ctx, func(tx *database.Tx) error {
		if err := v.Store(tx, "Alice", priv, testPassword); err != nil {
			return err
		}
		entry, err := tx.StoredKeyByOwner("Alice")
		if err != nil {
			return err
		}
		entry.Owner = "Mallory"
		return tx.UpsertStoredKey(entry)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	err = db.View(ctx, func(tx *database.Tx) error {
		return v.Test(tx, "Mallory", testPassword)
	})
	if !errors.Is(err, cerrors.ErrIntegrity) {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestDelete removes an entry and leaves later loads NOT_FOUND.
func TestDelete(t *testing.T) {
	db, v := newTestVault(t)
	ctx := context.Background()

	priv, err := chaincrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	err = db.Update(ctx, func(tx *database.Tx) error {
		if err := v.Store(tx, "Alice", priv, testPassword); err != nil {
			return err
		}
		return v.Delete(tx, "Alice")
	})
	if err != nil {
		t.Fatalf("store+delete: %v", err)
	}

	err = db.View(ctx, func(tx *database.Tx) error {
		_, err := v.Load(tx, "Alice", testPassword)
		return err
	})
	if !errors.Is(err, cerrors.ErrNotFound) {
		t.Fatalf("unexpected error: %v", err)
	}
}
