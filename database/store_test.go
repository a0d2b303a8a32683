// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package database

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/davecgh/go-spew/spew"

	"github.com/rbatllet/blockchain-cli/cerrors"
	"github.com/rbatllet/blockchain-cli/chainhash"
	"github.com/rbatllet/blockchain-cli/dbconfig"
)

// newTestStore opens an isolated sqlite store in a temp directory.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := &dbconfig.Config{
		Type:     dbconfig.EngineSQLite,
		Database: filepath.Join(t.TempDir(), "test.db"),
		Pool:     dbconfig.SQLitePoolParams,
	}
	s, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testBlock(number uint64, data []byte) *Block {
	var prev chainhash.Hash
	if number > 0 {
		prev = chainhash.HashH([]byte{byte(number - 1)})
	}
	return &Block{
		BlockNumber:       number,
		PreviousHash:      prev,
		Hash:              chainhash.HashH([]byte{byte(number)}),
		TimestampMs:       1700000000000 + int64(number),
		Data:              data,
		DataDigest:        chainhash.HashH(data),
		SignerFingerprint: chainhash.HashH([]byte("signer")),
		Signature:         []byte{0x30, 0x06, 0x02, 0x01, 0x01, 0x02, 0x01, 0x01},
		ManualKeywords:    []string{"invoice"},
		AutoKeywords:      []string{"2024-01-15"},
		Category:          "FINANCE",
		OriginalSize:      uint64(len(data)),
	}
}

// TestSchemaIdempotent ensures CreateSchema can run repeatedly.
func TestSchemaIdempotent(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 2; i++ {
		if err := s.CreateSchema(context.Background()); err != nil {
			t.Fatalf("CreateSchema #%d: %v", i, err)
		}
	}
}

// TestBlockRoundTrip exercises insert and fetch for text, binary, and
// off-chain reference payloads.
func TestBlockRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	text := testBlock(0, []byte("hello chain"))
	binary := testBlock(1, []byte{0x00, 0xff, 0x80, 0x01})
	contentID := chainhash.HashH([]byte("big payload"))
	offchain := testBlock(2, nil)
	offchain.Data = nil
	offchain.OffChainContentID = &contentID
	offchain.DataDigest = contentID

	err := s.Update(ctx, func(tx *Tx) error {
		for _, b := range []*Block{text, binary, offchain} {
			if err := tx.InsertBlock(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	err = s.View(ctx, func(tx *Tx) error {
		for _, want := range []*Block{text, binary, offchain} {
			got, err := tx.BlockByNumber(want.BlockNumber)
			if err != nil {
				return err
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("block %d mismatch\n got: %s\nwant: %s",
					want.BlockNumber, spew.Sdump(got), spew.Sdump(want))
			}
			if got.DataField() != want.DataField() {
				t.Errorf("block %d data field mismatch", want.BlockNumber)
			}
		}

		count, err := tx.BlockCount()
		if err != nil {
			return err
		}
		if count != 3 {
			t.Errorf("count: got %d, want 3", count)
		}

		latest, err := tx.LatestBlock()
		if err != nil {
			return err
		}
		if latest.BlockNumber != 2 {
			t.Errorf("latest: got %d, want 2", latest.BlockNumber)
		}

		refs, err := tx.OffChainRefs()
		if err != nil {
			return err
		}
		if len(refs) != 1 || refs[contentID.String()] != 2 {
			t.Errorf("off-chain refs: got %v", refs)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

// TestBlockNotFound ensures a missing block maps to NOT_FOUND.
func TestBlockNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.View(context.Background(), func(tx *Tx) error {
		_, err := tx.BlockByNumber(42)
		return err
	})
	if !errors.Is(err, cerrors.ErrNotFound) {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestDeleteBlocksAbove ensures rollback deletion removes blocks and their
// keyword joins above the cutoff only.
func TestDeleteBlocksAbove(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Update(ctx, func(tx *Tx) error {
		for i := uint64(0); i < 5; i++ {
			if err := tx.InsertBlock(testBlock(i, []byte{byte(i)})); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	err = s.Update(ctx, func(tx *Tx) error {
		n, err := tx.DeleteBlocksAbove(2)
		if err != nil {
			return err
		}
		if n != 2 {
			t.Errorf("deleted: got %d, want 2", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}

	err = s.View(ctx, func(tx *Tx) error {
		count, err := tx.BlockCount()
		if err != nil {
			return err
		}
		if count != 3 {
			t.Errorf("count after delete: got %d, want 3", count)
		}
		numbers, err := tx.BlockNumbersByKeyword("invoice")
		if err != nil {
			return err
		}
		if !reflect.DeepEqual(numbers, []uint64{0, 1, 2}) {
			t.Errorf("keyword joins after delete: got %v", numbers)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

// TestAuthorizedKeyLifecycle exercises insert, lookups, revocation, and
// the single-active-owner rule helpers.
func TestAuthorizedKeyLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fp := chainhash.HashH([]byte("alice-key"))
	key := &AuthorizedKey{
		Fingerprint: fp,
		Owner:       "Alice",
		PublicKey:   []byte{0x04, 0x01, 0x02},
		KeyType:     KeyTypeRoot,
		CreatedAtMs: 1000,
	}

	err := s.Update(ctx, func(tx *Tx) error {
		return tx.InsertAuthorizedKey(key)
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	err = s.View(ctx, func(tx *Tx) error {
		got, err := tx.AuthorizedKeyByFingerprint(&fp)
		if err != nil {
			return err
		}
		if !reflect.DeepEqual(got, key) {
			t.Errorf("by fingerprint mismatch\n got: %+v\nwant: %+v", got, key)
		}
		byOwner, err := tx.ActiveAuthorizedKeyByOwner("Alice")
		if err != nil {
			return err
		}
		if byOwner.Fingerprint != fp {
			t.Errorf("by owner: got %v", byOwner.Fingerprint)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}

	// Revoke and verify the owner lookup no longer resolves.
	err = s.Update(ctx, func(tx *Tx) error {
		return tx.RevokeAuthorizedKey(&fp, 2000)
	})
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	err = s.View(ctx, func(tx *Tx) error {
		_, err := tx.ActiveAuthorizedKeyByOwner("Alice")
		if !errors.Is(err, cerrors.ErrNotFound) {
			t.Errorf("active lookup after revoke: %v", err)
		}
		keys, err := tx.ListAuthorizedKeys(false)
		if err != nil {
			return err
		}
		if len(keys) != 1 || keys[0].RevokedAtMs == nil ||
			*keys[0].RevokedAtMs != 2000 {
			t.Errorf("list after revoke: %+v", keys)
		}
		active, err := tx.ListAuthorizedKeys(true)
		if err != nil {
			return err
		}
		if len(active) != 0 {
			t.Errorf("active list after revoke: %+v", active)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}

	// Double revocation is NOT_FOUND.
	err = s.Update(ctx, func(tx *Tx) error {
		return tx.RevokeAuthorizedKey(&fp, 3000)
	})
	if !errors.Is(err, cerrors.ErrNotFound) {
		t.Fatalf("double revoke: unexpected error %v", err)
	}
}

// TestActiveAt exercises the activation window rules.
func TestActiveAt(t *testing.T) {
	t.Parallel()

	expires := int64(3000)
	revoked := int64(2000)
	tests := []struct {
		name string
		key  AuthorizedKey
		at   int64
		want bool
	}{
		{"before creation", AuthorizedKey{CreatedAtMs: 1000}, 999, false},
		{"at creation", AuthorizedKey{CreatedAtMs: 1000}, 1000, true},
		{"indefinite", AuthorizedKey{CreatedAtMs: 1000}, 1 << 60, true},
		{"before expiry", AuthorizedKey{CreatedAtMs: 1000,
			ExpiresAtMs: &expires}, 2999, true},
		{"at expiry", AuthorizedKey{CreatedAtMs: 1000,
			ExpiresAtMs: &expires}, 3000, false},
		{"before revocation", AuthorizedKey{CreatedAtMs: 1000,
			RevokedAtMs: &revoked}, 1999, true},
		{"at revocation", AuthorizedKey{CreatedAtMs: 1000,
			RevokedAtMs: &revoked}, 2000, false},
	}
	for _, test := range tests {
		if got := test.key.ActiveAt(test.at); got != test.want {
			t.Errorf("%s: got %v, want %v", test.name, got, test.want)
		}
	}
}

// TestOffChainRecords exercises off-chain metadata CRUD and stats.
func TestOffChainRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := chainhash.HashH([]byte("content"))
	rec := &OffChainRecord{
		ContentID:        id,
		CipherPath:       "off-chain-data/offchain_1_abcd.dat",
		Nonce:            []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
		CleartextSize:    2048,
		CipherSize:       2064,
		EncryptionKeyRef: "wrapped:v1:AAAA",
		CreatedAtMs:      1700000000000,
	}

	err := s.Update(ctx, func(tx *Tx) error {
		return tx.InsertOffChainRecord(rec)
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	err = s.View(ctx, func(tx *Tx) error {
		got, err := tx.OffChainRecordByContentID(&id)
		if err != nil {
			return err
		}
		if !reflect.DeepEqual(got, rec) {
			t.Errorf("record mismatch\n got: %+v\nwant: %+v", got, rec)
		}
		count, size, err := tx.OffChainStats()
		if err != nil {
			return err
		}
		if count != 1 || size != 2064 {
			t.Errorf("stats: got count=%d size=%d", count, size)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}

	err = s.Update(ctx, func(tx *Tx) error {
		return tx.DeleteOffChainRecord(&id)
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	err = s.View(ctx, func(tx *Tx) error {
		_, err := tx.OffChainRecordByContentID(&id)
		if !errors.Is(err, cerrors.ErrNotFound) {
			t.Errorf("after delete: %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

// TestStoredKeys exercises vault row upsert, load, list, and delete.
func TestStoredKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key := &StoredPrivateKey{
		Owner:               "Alice",
		EncryptedPrivateKey: []byte{9, 9, 9},
		KDFSalt:             []byte{1, 2, 3, 4},
		KDFIterations:       100000,
		AlgorithmTag:        "AES-256-GCM/PBKDF2-SHA3-256",
	}
	err := s.Update(ctx, func(tx *Tx) error {
		return tx.UpsertStoredKey(key)
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// Upsert replaces in place.
	key.EncryptedPrivateKey = []byte{8, 8, 8}
	err = s.Update(ctx, func(tx *Tx) error {
		return tx.UpsertStoredKey(key)
	})
	if err != nil {
		t.Fatalf("upsert #2: %v", err)
	}

	err = s.View(ctx, func(tx *Tx) error {
		got, err := tx.StoredKeyByOwner("Alice")
		if err != nil {
			return err
		}
		if !reflect.DeepEqual(got, key) {
			t.Errorf("stored key mismatch\n got: %+v\nwant: %+v", got, key)
		}
		owners, err := tx.ListStoredKeyOwners()
		if err != nil {
			return err
		}
		if !reflect.DeepEqual(owners, []string{"Alice"}) {
			t.Errorf("owners: got %v", owners)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}

	err = s.Update(ctx, func(tx *Tx) error {
		return tx.DeleteStoredKey("Alice")
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	err = s.Update(ctx, func(tx *Tx) error {
		return tx.DeleteStoredKey("Alice")
	})
	if !errors.Is(err, cerrors.ErrNotFound) {
		t.Fatalf("double delete: unexpected error %v", err)
	}
}

// TestSearchLookups exercises the keyword, inline-data, and filter
// queries.
func TestSearchLookups(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testBlock(0, []byte("Payment to ACME-INC-01 for 50000 EUR"))
	a.ManualKeywords = []string{"invoice", "2024-q1"}
	a.AutoKeywords = []string{"acme-inc-01", "50000", "eur"}
	b := testBlock(1, []byte("unrelated text"))
	b.ManualKeywords = nil
	b.AutoKeywords = nil
	b.Category = "NOTES"

	err := s.Update(ctx, func(tx *Tx) error {
		if err := tx.InsertBlock(a); err != nil {
			return err
		}
		return tx.InsertBlock(b)
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	err = s.View(ctx, func(tx *Tx) error {
		nums, err := tx.BlockNumbersByKeyword("ACME-INC-01")
		if err != nil {
			return err
		}
		if !reflect.DeepEqual(nums, []uint64{0}) {
			t.Errorf("keyword: got %v, want [0]", nums)
		}

		nums, err = tx.BlockNumbersByInlineData("acme-inc")
		if err != nil {
			return err
		}
		if !reflect.DeepEqual(nums, []uint64{0}) {
			t.Errorf("inline data: got %v, want [0]", nums)
		}

		// LIKE wildcards in the needle must not act as wildcards.
		nums, err = tx.BlockNumbersByInlineData("%")
		if err != nil {
			return err
		}
		if len(nums) != 0 {
			t.Errorf("wildcard needle: got %v, want none", nums)
		}

		blockOne := uint64(1)
		nums, err = tx.BlockNumbersByFilter(&Filter{Category: "NOTES",
			BlockNumber: &blockOne})
		if err != nil {
			return err
		}
		if !reflect.DeepEqual(nums, []uint64{1}) {
			t.Errorf("filter: got %v, want [1]", nums)
		}

		from := int64(1700000000000)
		to := int64(1700000000000)
		nums, err = tx.BlockNumbersByFilter(&Filter{FromMs: &from, ToMs: &to})
		if err != nil {
			return err
		}
		if !reflect.DeepEqual(nums, []uint64{0}) {
			t.Errorf("time filter: got %v, want [0]", nums)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

// TestTruncateAll ensures replace-mode import can wipe every core table.
func TestTruncateAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Update(ctx, func(tx *Tx) error {
		if err := tx.InsertBlock(testBlock(0, []byte("x"))); err != nil {
			return err
		}
		return tx.InsertAuthorizedKey(&AuthorizedKey{
			Fingerprint: chainhash.HashH([]byte("k")),
			Owner:       "A", PublicKey: []byte{4}, KeyType: KeyTypeRoot,
		})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	err = s.Update(ctx, func(tx *Tx) error {
		return tx.TruncateAll()
	})
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}

	err = s.View(ctx, func(tx *Tx) error {
		count, err := tx.BlockCount()
		if err != nil {
			return err
		}
		if count != 0 {
			t.Errorf("blocks after truncate: %d", count)
		}
		keys, err := tx.ListAuthorizedKeys(false)
		if err != nil {
			return err
		}
		if len(keys) != 0 {
			t.Errorf("keys after truncate: %d", len(keys))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}
