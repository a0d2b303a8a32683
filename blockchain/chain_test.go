// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"bytes"
	"context"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rbatllet/blockchain-cli/cerrors"
	"github.com/rbatllet/blockchain-cli/chaincrypto"
	"github.com/rbatllet/blockchain-cli/database"
	"github.com/rbatllet/blockchain-cli/dbconfig"
)

const testPassword = "Alice-Secret-01!"

// recordingSink captures emitted events for assertions.
type recordingSink struct {
	mtx    sync.Mutex
	events []string
}

func (s *recordingSink) Emit(event string, _ map[string]interface{}) {
	s.mtx.Lock()
	s.events = append(s.events, event)
	s.mtx.Unlock()
}

func (s *recordingSink) saw(event string) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	for _, e := range s.events {
		if e == event {
			return true
		}
	}
	return false
}

func passwordFunc(password string) PasswordFunc {
	return func(string) (string, error) { return password, nil }
}

// newTestChain builds an isolated engine over sqlite and a private
// off-chain directory.
func newTestChain(t *testing.T, threshold uint64) (*Chain, *recordingSink) {
	t.Helper()
	dir := t.TempDir()
	sink := &recordingSink{}
	chain, err := New(context.Background(), &Config{
		DB: &dbconfig.Config{
			Type:     dbconfig.EngineSQLite,
			Database: filepath.Join(dir, "chain.db"),
			Pool:     dbconfig.SQLitePoolParams,
		},
		OffChainThreshold: threshold,
		OffChainDir:       filepath.Join(dir, "off-chain-data"),
		Events:            sink,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { chain.Close() })
	return chain, sink
}

// addStoredKey registers an owner with a generated, vault-stored key.
func addStoredKey(t *testing.T, c *Chain, owner string) {
	t.Helper()
	_, err := c.AddKey(context.Background(), &AddKeyRequest{
		Owner:        owner,
		Generate:     true,
		StorePrivate: true,
		Password:     passwordFunc(testPassword),
	})
	if err != nil {
		t.Fatalf("AddKey(%s): %v", owner, err)
	}
}

func appendBlock(t *testing.T, c *Chain, owner string, data []byte) *database.Block {
	t.Helper()
	block, err := c.Append(context.Background(), &AppendRequest{
		Data: data,
		Signer: SignerSpec{
			Owner:    owner,
			Password: passwordFunc(testPassword),
		},
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	return block
}

func blockByNumber(t *testing.T, c *Chain, number uint64) *database.Block {
	t.Helper()
	var block *database.Block
	err := c.Store().View(context.Background(), func(tx *database.Tx) error {
		var err error
		block, err = tx.BlockByNumber(number)
		return err
	})
	if err != nil {
		t.Fatalf("BlockByNumber(%d): %v", number, err)
	}
	return block
}

// TestGenesisAndFirstBlock covers the first-append path: the genesis
// block appears, linkage holds, and validation is fully compliant.
func TestGenesisAndFirstBlock(t *testing.T) {
	chain, sink := newTestChain(t, 0)
	ctx := context.Background()

	addStoredKey(t, chain, "Alice")
	appendBlock(t, chain, "Alice", []byte("Hello chain"))

	status, err := chain.Status(ctx, false)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.BlockCount != 2 {
		t.Errorf("block count: got %d, want 2", status.BlockCount)
	}

	genesis := blockByNumber(t, chain, 0)
	first := blockByNumber(t, chain, 1)
	if !genesis.PreviousHash.IsZero() {
		t.Error("genesis previous hash is not zero")
	}
	if first.PreviousHash != genesis.Hash {
		t.Error("block 1 does not link to genesis")
	}
	if string(first.Data) != "Hello chain" {
		t.Errorf("payload: got %q", first.Data)
	}

	report, err := chain.Validate(ctx, ModeDetailed)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !report.StructurallyIntact || !report.FullyCompliant {
		t.Errorf("validation: %+v", report)
	}
	if !sink.saw("GenesisCreated") || !sink.saw("BlockAppended") {
		t.Errorf("events: %v", sink.events)
	}
}

// TestOffChainThreshold covers the storage boundary: a payload of exactly
// the threshold stays inline, one byte more goes off-chain.
func TestOffChainThreshold(t *testing.T) {
	const threshold = 1024
	chain, _ := newTestChain(t, threshold)
	ctx := context.Background()

	addStoredKey(t, chain, "Alice")
	atLimit := appendBlock(t, chain, "Alice", bytes.Repeat([]byte("a"), threshold))
	aboveLimit := appendBlock(t, chain, "Alice", bytes.Repeat([]byte("b"), threshold+1))

	if atLimit.IsOffChain() {
		t.Error("payload of exactly the threshold went off-chain")
	}
	if len(atLimit.Data) != threshold {
		t.Errorf("inline payload length: got %d", len(atLimit.Data))
	}
	if !aboveLimit.IsOffChain() {
		t.Error("payload above the threshold stayed inline")
	}
	if !strings.HasPrefix(aboveLimit.DataField(), database.OffChainRefPrefix) {
		t.Errorf("data field: %q", aboveLimit.DataField())
	}

	entries, err := filepath.Glob(filepath.Join(chain.Blobs().Dir(),
		"offchain_*.dat"))
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("cipher files: got %d, want 1", len(entries))
	}

	// The effective payload reads back through the engine.
	err = chain.Store().View(ctx, func(tx *database.Tx) error {
		payload, err := chain.ReadPayload(tx, aboveLimit)
		if err != nil {
			return err
		}
		if len(payload) != threshold+1 {
			t.Errorf("off-chain payload length: got %d", len(payload))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ReadPayload: %v", err)
	}

	report, err := chain.Validate(ctx, ModeDetailed)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !report.FullyCompliant {
		t.Errorf("validation: %+v", report)
	}
}

// TestRevocationCompliance covers the structural/compliance split: a
// block signed while its key was active stays compliant after revocation;
// a backdated revocation flips compliance but never structural integrity.
func TestRevocationCompliance(t *testing.T) {
	chain, _ := newTestChain(t, 0)
	ctx := context.Background()

	addStoredKey(t, chain, "Alice")
	addStoredKey(t, chain, "Bob")
	appendBlock(t, chain, "Bob", []byte("signed by Bob"))
	if err := chain.RevokeKey(ctx, "Bob"); err != nil {
		t.Fatalf("RevokeKey: %v", err)
	}
	appendBlock(t, chain, "Alice", []byte("signed by Alice"))

	report, err := chain.Validate(ctx, ModeDefault)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !report.StructurallyIntact || !report.FullyCompliant ||
		report.RevokedBlocks != 0 {
		t.Errorf("after revocation: %+v", report)
	}

	// Backdate Bob's revocation to before his block.
	bobBlock := blockByNumber(t, chain, 1)
	err = chain.Store().Update(ctx, func(tx *database.Tx) error {
		return tx.ExecQuery(`UPDATE authorized_keys SET revoked_at_ms = ?
			WHERE owner = ?`, bobBlock.TimestampMs-1, "Bob")
	})
	if err != nil {
		t.Fatalf("backdate: %v", err)
	}

	report, err = chain.Validate(ctx, ModeDefault)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !report.StructurallyIntact {
		t.Error("backdated revocation broke structural integrity")
	}
	if report.FullyCompliant || report.RevokedBlocks != 1 {
		t.Errorf("after backdate: %+v", report)
	}
}

// TestRollbackGC covers rollback with off-chain garbage collection and
// genesis protection.
func TestRollbackGC(t *testing.T) {
	const threshold = 64
	chain, _ := newTestChain(t, threshold)
	ctx := context.Background()

	addStoredKey(t, chain, "Alice")
	for i := 0; i < 3; i++ {
		payload := bytes.Repeat([]byte{byte('a' + i)}, threshold+10)
		appendBlock(t, chain, "Alice", payload)
	}

	// Dry run first: nothing changes.
	two := int64(2)
	plan, err := chain.Rollback(ctx, &RollbackRequest{Blocks: &two,
		DryRun: true})
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if !plan.DryRun || len(plan.RemovedBlocks) != 2 ||
		len(plan.RemovedOffChain) != 2 {
		t.Errorf("dry run plan: %+v", plan)
	}
	status, err := chain.Status(ctx, false)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.BlockCount != 4 || status.OffChainCount != 3 {
		t.Errorf("state after dry run: %+v", status)
	}

	// Actual rollback.
	result, err := chain.Rollback(ctx, &RollbackRequest{Blocks: &two})
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if len(result.RemovedBlocks) != 2 {
		t.Errorf("removed blocks: %v", result.RemovedBlocks)
	}

	status, err = chain.Status(ctx, false)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.BlockCount != 2 || status.OffChainCount != 1 {
		t.Errorf("state after rollback: %+v", status)
	}
	entries, err := filepath.Glob(filepath.Join(chain.Blobs().Dir(),
		"offchain_*.dat"))
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("cipher files after gc: got %d, want 1", len(entries))
	}

	report, err := chain.Validate(ctx, ModeDetailed)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !report.StructurallyIntact {
		t.Errorf("validation after rollback: %+v", report)
	}

	// Genesis is unremovable.
	all := int64(status.BlockCount)
	if _, err := chain.Rollback(ctx, &RollbackRequest{Blocks: &all}); !errors.Is(err, cerrors.ErrConflict) {
		t.Errorf("genesis protection: unexpected error %v", err)
	}
}

// TestExportImportRoundTrip covers the export/import property: replace
// then re-export yields the same chain content.
func TestExportImportRoundTrip(t *testing.T) {
	const threshold = 128
	chain, _ := newTestChain(t, threshold)
	ctx := context.Background()

	addStoredKey(t, chain, "Alice")
	appendBlock(t, chain, "Alice", []byte("inline one"))
	appendBlock(t, chain, "Alice", bytes.Repeat([]byte("x"), threshold+1))
	appendBlock(t, chain, "Alice", []byte("inline two"))

	exportPath := filepath.Join(t.TempDir(), "export.json")
	before, err := chain.Export(ctx, exportPath)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if before.Metadata.BlockCount != 4 {
		t.Fatalf("export block count: %d", before.Metadata.BlockCount)
	}

	// Wipe the chain, then restore.
	err = chain.Store().Update(ctx, func(tx *database.Tx) error {
		return tx.TruncateAll()
	})
	if err != nil {
		t.Fatalf("wipe: %v", err)
	}

	result, err := chain.Import(ctx, &ImportRequest{
		Path:          exportPath,
		Mode:          ImportReplace,
		ValidateAfter: true,
	})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if result.BlockCount != 4 {
		t.Errorf("imported blocks: %d", result.BlockCount)
	}
	if result.Report == nil || !result.Report.FullyCompliant {
		t.Errorf("post-import validation: %+v", result.Report)
	}

	afterPath := filepath.Join(t.TempDir(), "export2.json")
	after, err := chain.Export(ctx, afterPath)
	if err != nil {
		t.Fatalf("re-export: %v", err)
	}

	// Canonical equality over the durable sections; metadata timestamps
	// are volatile by nature.
	if len(after.Blocks) != len(before.Blocks) {
		t.Fatalf("block sections differ: %d vs %d", len(after.Blocks),
			len(before.Blocks))
	}
	for i := range before.Blocks {
		if before.Blocks[i].Hash != after.Blocks[i].Hash ||
			before.Blocks[i].Data != after.Blocks[i].Data {
			t.Errorf("block %d differs across the round trip", i)
		}
	}
	if len(after.AuthorizedKeys) != len(before.AuthorizedKeys) {
		t.Errorf("key sections differ")
	}
	if len(after.OffChain) != len(before.OffChain) {
		t.Fatalf("off-chain sections differ")
	}
	for i := range before.OffChain {
		if before.OffChain[i].ContentID != after.OffChain[i].ContentID ||
			before.OffChain[i].Cipher != after.OffChain[i].Cipher {
			t.Errorf("off-chain record %d differs across the round trip", i)
		}
	}
}

// TestImportMerge covers merge mode: the suffix of a longer export is
// appended onto a prefix chain, and a diverged chain is refused.
func TestImportMerge(t *testing.T) {
	chain, _ := newTestChain(t, 0)
	ctx := context.Background()

	addStoredKey(t, chain, "Alice")
	appendBlock(t, chain, "Alice", []byte("one"))
	appendBlock(t, chain, "Alice", []byte("two"))

	exportPath := filepath.Join(t.TempDir(), "export.json")
	if _, err := chain.Export(ctx, exportPath); err != nil {
		t.Fatalf("Export: %v", err)
	}

	// Roll back one block, then merge the export back in.
	one := int64(1)
	if _, err := chain.Rollback(ctx, &RollbackRequest{Blocks: &one}); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	result, err := chain.Import(ctx, &ImportRequest{Path: exportPath,
		Mode: ImportMerge})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if result.BlockCount != 1 {
		t.Errorf("merged blocks: got %d, want 1", result.BlockCount)
	}
	status, err := chain.Status(ctx, false)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.BlockCount != 3 {
		t.Errorf("chain length after merge: %d", status.BlockCount)
	}

	// Diverge the chain and try again: merge must refuse.
	if _, err := chain.Rollback(ctx, &RollbackRequest{Blocks: &one}); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	appendBlock(t, chain, "Alice", []byte("diverged"))
	_, err = chain.Import(ctx, &ImportRequest{Path: exportPath,
		Mode: ImportMerge})
	if !errors.Is(err, cerrors.ErrConflict) {
		t.Errorf("diverged merge: unexpected error %v", err)
	}
}

// TestAppendWithKeyFile covers auto-authorisation of key-file signers.
func TestAppendWithKeyFile(t *testing.T) {
	chain, _ := newTestChain(t, 0)
	ctx := context.Background()

	priv, err := chaincrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	der, err := chaincrypto.MarshalPrivateKey(priv)
	if err != nil {
		t.Fatalf("MarshalPrivateKey: %v", err)
	}
	keyPath := filepath.Join(t.TempDir(), "signer.pem")
	err = os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{
		Type: "PRIVATE KEY", Bytes: der,
	}), 0o600)
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	block, err := chain.Append(ctx, &AppendRequest{
		Data:   []byte("signed from file"),
		Signer: SignerSpec{KeyFile: keyPath},
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if block.SignerFingerprint != chaincrypto.Fingerprint(&priv.PublicKey) {
		t.Error("block fingerprint does not match the key file")
	}

	keys, err := chain.ListKeys(ctx, false)
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	var sawKeyFile bool
	for _, k := range keys {
		if strings.HasPrefix(k.Owner, "KeyFile-signer.pem-") {
			sawKeyFile = true
			if k.KeyType != database.KeyTypeOperational {
				t.Errorf("auto-authorised key type: %s", k.KeyType)
			}
		}
	}
	if !sawKeyFile {
		t.Error("key-file signer was not auto-authorised")
	}

	report, err := chain.Validate(ctx, ModeDefault)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !report.FullyCompliant {
		t.Errorf("validation: %+v", report)
	}
}

// TestDemoModeSigner covers appending for an owner whose private key is
// not in the vault: a transient key signs and is authorised under the
// owner's key.
func TestDemoModeSigner(t *testing.T) {
	chain, sink := newTestChain(t, 0)
	ctx := context.Background()

	if _, err := chain.AddKey(ctx, &AddKeyRequest{Owner: "Carol",
		Generate: true}); err != nil {
		t.Fatalf("AddKey: %v", err)
	}
	block, err := chain.Append(ctx, &AppendRequest{
		Data:   []byte("demo signed"),
		Signer: SignerSpec{Owner: "Carol"},
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if !sink.saw("DemoModeSigner") {
		t.Error("demo mode event not emitted")
	}

	// The transient key must be authorised so the chain stays intact.
	report, err := chain.Validate(ctx, ModeDefault)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !report.StructurallyIntact || !report.FullyCompliant {
		t.Errorf("validation: %+v", report)
	}

	err = chain.Store().View(ctx, func(tx *database.Tx) error {
		key, err := tx.AuthorizedKeyByFingerprint(&block.SignerFingerprint)
		if err != nil {
			return err
		}
		if !strings.HasPrefix(key.Owner, "Carol-demo-") {
			t.Errorf("transient owner: %q", key.Owner)
		}
		if key.ParentFingerprint == nil {
			t.Error("transient key has no parent")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

// TestDuplicateOwnerRejected covers the one-active-key-per-owner rule.
func TestDuplicateOwnerRejected(t *testing.T) {
	chain, _ := newTestChain(t, 0)
	ctx := context.Background()

	addStoredKey(t, chain, "Alice")
	_, err := chain.AddKey(ctx, &AddKeyRequest{Owner: "Alice", Generate: true})
	if !errors.Is(err, cerrors.ErrConflict) {
		t.Fatalf("unexpected error: %v", err)
	}

	// After revocation the owner can be bound again.
	if err := chain.RevokeKey(ctx, "Alice"); err != nil {
		t.Fatalf("RevokeKey: %v", err)
	}
	if _, err := chain.AddKey(ctx, &AddKeyRequest{Owner: "Alice",
		Generate: true}); err != nil {
		t.Fatalf("AddKey after revoke: %v", err)
	}
}

// TestRotateKey covers rotation: new key under the old as parent, old key
// revoked, vault re-sealed, history still verifiable.
func TestRotateKey(t *testing.T) {
	chain, _ := newTestChain(t, 0)
	ctx := context.Background()

	addStoredKey(t, chain, "Alice")
	appendBlock(t, chain, "Alice", []byte("pre rotation"))

	result, err := chain.RotateKey(ctx, "Alice", 0, passwordFunc(testPassword))
	if err != nil {
		t.Fatalf("RotateKey: %v", err)
	}
	if result.Key.ParentFingerprint == nil {
		t.Error("rotated key has no parent")
	}
	if !result.Stored {
		t.Error("rotated key was not re-sealed in the vault")
	}

	// The old block still verifies; the chain stays compliant because
	// the block was signed while the old key was active.
	report, err := chain.Validate(ctx, ModeDefault)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !report.StructurallyIntact || !report.FullyCompliant {
		t.Errorf("validation after rotation: %+v", report)
	}

	// Appending under the new key works.
	appendBlock(t, chain, "Alice", []byte("post rotation"))
}

// TestRollbackAppendRefill covers the rollback/append round trip: after
// removing n blocks and appending n new ones the chain has its original
// length and validates.
func TestRollbackAppendRefill(t *testing.T) {
	chain, _ := newTestChain(t, 0)
	ctx := context.Background()

	addStoredKey(t, chain, "Alice")
	for i := 0; i < 3; i++ {
		appendBlock(t, chain, "Alice", []byte{byte('a' + i)})
	}
	status, err := chain.Status(ctx, false)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	originalCount := status.BlockCount

	two := int64(2)
	if _, err := chain.Rollback(ctx, &RollbackRequest{Blocks: &two}); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	appendBlock(t, chain, "Alice", []byte("refill one"))
	appendBlock(t, chain, "Alice", []byte("refill two"))

	status, err = chain.Status(ctx, false)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.BlockCount != originalCount {
		t.Errorf("chain length: got %d, want %d", status.BlockCount,
			originalCount)
	}
	report, err := chain.Validate(ctx, ModeDetailed)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !report.StructurallyIntact {
		t.Errorf("validation: %+v", report)
	}
}

// TestTamperDetection covers hash recomputation: editing a stored block
// breaks structural integrity.
func TestTamperDetection(t *testing.T) {
	chain, _ := newTestChain(t, 0)
	ctx := context.Background()

	addStoredKey(t, chain, "Alice")
	appendBlock(t, chain, "Alice", []byte("original"))

	err := chain.Store().Update(ctx, func(tx *database.Tx) error {
		return tx.ExecQuery(`UPDATE blocks SET data = ? WHERE block_number = ?`,
			"tampered", uint64(1))
	})
	if err != nil {
		t.Fatalf("tamper: %v", err)
	}

	report, err := chain.Validate(ctx, ModeDefault)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if report.StructurallyIntact {
		t.Error("tampered chain reported intact")
	}
	if report.InvalidBlocks != 1 {
		t.Errorf("invalid blocks: %d", report.InvalidBlocks)
	}
}

// TestSigCache exercises the adapted signature cache directly.
func TestSigCache(t *testing.T) {
	t.Parallel()

	cache := NewSigCache(2)
	h1 := chainhashFromByte(1)
	h2 := chainhashFromByte(2)
	h3 := chainhashFromByte(3)
	sig := []byte{0x30, 0x01}
	fp := chainhashFromByte(9)

	if cache.Exists(h1, sig, fp) {
		t.Error("phantom cache hit")
	}
	cache.Add(h1, sig, fp)
	if !cache.Exists(h1, sig, fp) {
		t.Error("cache miss after add")
	}
	if cache.Exists(h1, []byte{0x30, 0x02}, fp) {
		t.Error("cache hit for a different signature")
	}
	if cache.Exists(h1, sig, chainhashFromByte(8)) {
		t.Error("cache hit for a different fingerprint")
	}

	// Eviction keeps the cache bounded.
	cache.Add(h2, sig, fp)
	cache.Add(h3, sig, fp)
	if len(cache.validSigs) > 2 {
		t.Errorf("cache size: %d", len(cache.validSigs))
	}
}

func chainhashFromByte(b byte) (h [32]byte) {
	h[0] = b
	return
}
