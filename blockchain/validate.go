// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"context"
	"fmt"

	"github.com/rbatllet/blockchain-cli/cerrors"
	"github.com/rbatllet/blockchain-cli/chainhash"
	"github.com/rbatllet/blockchain-cli/database"
)

// Mode selects how deep a validation run goes.
type Mode int

// Validation modes.
const (
	// ModeQuick checks chain linkage only: recomputed hashes and
	// previous-hash pointers.
	ModeQuick Mode = iota

	// ModeDefault additionally verifies signatures and authorisation
	// compliance, without touching off-chain payloads.
	ModeDefault

	// ModeDetailed additionally decrypts and verifies every off-chain
	// payload.
	ModeDetailed
)

// Issue is one finding of the validation engine.
type Issue struct {
	BlockNumber uint64 `json:"blockNumber"`
	Code        string `json:"code"`
	Message     string `json:"message"`
}

// Report is the structured outcome of a validation run.  Structural
// integrity (hashes, linkage, signatures, off-chain content) is tracked
// separately from authorisation compliance (was the signer active at the
// block's timestamp), so a revoked key never makes the chain look broken.
type Report struct {
	StructurallyIntact bool    `json:"structurallyIntact"`
	FullyCompliant     bool    `json:"fullyCompliant"`
	TotalBlocks        uint64  `json:"totalBlocks"`
	RevokedBlocks      uint64  `json:"revokedBlocks"`
	InvalidBlocks      uint64  `json:"invalidBlocks"`
	Issues             []Issue `json:"issues"`
}

// Validate runs the validation engine under the read lock.
func (c *Chain) Validate(ctx context.Context, mode Mode) (*Report, error) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()

	var report *Report
	err := c.store.View(ctx, func(tx *database.Tx) error {
		var err error
		report, err = c.validateTx(ctx, tx, mode)
		return err
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// validateTx walks the chain inside an existing transaction.  Import uses
// it to gate its own unit-of-work before committing.
func (c *Chain) validateTx(ctx context.Context, tx *database.Tx, mode Mode) (*Report, error) {
	report := &Report{StructurallyIntact: true, FullyCompliant: true}

	var prev *database.Block
	err := tx.ForEachBlock(func(b *database.Block) error {
		// Validation is cancellable between blocks.
		if err := ctx.Err(); err != nil {
			return cerrors.Wrap(cerrors.ErrIO, "cancelled", err,
				"validation cancelled")
		}

		report.TotalBlocks++
		structuralOK := c.checkStructural(tx, b, prev, mode, report)
		if !structuralOK {
			report.InvalidBlocks++
			report.StructurallyIntact = false
		}

		if mode >= ModeDefault && structuralOK {
			if !c.checkCompliance(tx, b, report) {
				report.RevokedBlocks++
			}
		}
		prev = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	report.FullyCompliant = report.StructurallyIntact &&
		report.RevokedBlocks == 0
	log.Debugf("Validation finished: %d block(s), intact=%v compliant=%v",
		report.TotalBlocks, report.StructurallyIntact, report.FullyCompliant)
	return report, nil
}

// addIssue records a finding.
func (r *Report) addIssue(number uint64, code, format string, args ...interface{}) {
	r.Issues = append(r.Issues, Issue{
		BlockNumber: number,
		Code:        code,
		Message:     fmt.Sprintf(format, args...),
	})
}

// checkStructural runs the structural checks for one block and reports
// whether all of them passed.
func (c *Chain) checkStructural(tx *database.Tx, b, prev *database.Block,
	mode Mode, report *Report) bool {

	ok := true

	// Block numbers form a gapless sequence from zero.
	switch {
	case prev == nil && b.BlockNumber != 0:
		report.addIssue(b.BlockNumber, "missing-genesis",
			"chain starts at block %d, not 0", b.BlockNumber)
		ok = false
	case prev != nil && b.BlockNumber != prev.BlockNumber+1:
		report.addIssue(b.BlockNumber, "number-gap",
			"block %d follows block %d", b.BlockNumber, prev.BlockNumber)
		ok = false
	}

	// Hash linkage.
	wantPrev := chainhash.ZeroHash
	if prev != nil {
		wantPrev = prev.Hash
	}
	if b.PreviousHash != wantPrev {
		report.addIssue(b.BlockNumber, "previous-hash",
			"previous hash %s does not match %s", b.PreviousHash, wantPrev)
		ok = false
	}
	if recomputed := computeBlockHash(b); recomputed != b.Hash {
		report.addIssue(b.BlockNumber, "block-hash",
			"stored hash %s does not match recomputed %s", b.Hash,
			recomputed)
		ok = false
	}

	// Timestamps never decrease.
	if prev != nil && b.TimestampMs < prev.TimestampMs {
		report.addIssue(b.BlockNumber, "timestamp-order",
			"timestamp regresses from block %d", prev.BlockNumber)
		ok = false
	}

	if mode == ModeQuick {
		return ok
	}

	// The digest must address the inline payload.  Off-chain payloads
	// are covered by the detailed checks below.
	if !b.IsOffChain() && chainhash.HashH(b.Data) != b.DataDigest {
		report.addIssue(b.BlockNumber, "data-digest",
			"payload does not hash to the stored digest")
		ok = false
	}

	// The signature must verify under the public key bound to the
	// block's signer fingerprint as it exists now, revoked or not.
	key, err := tx.AuthorizedKeyByFingerprint(&b.SignerFingerprint)
	if err != nil {
		report.addIssue(b.BlockNumber, "unknown-signer",
			"no authorised key with fingerprint %s", b.SignerFingerprint)
		ok = false
	} else if !c.verifyBlockSignature(b, key.PublicKey) {
		report.addIssue(b.BlockNumber, "bad-signature",
			"signature does not verify under key of owner %q", key.Owner)
		ok = false
	}

	if mode >= ModeDetailed && b.IsOffChain() {
		if !c.checkOffChain(tx, b, report) {
			ok = false
		}
	}
	return ok
}

// checkOffChain verifies the off-chain payload behind a block: the record
// exists, the file decrypts, the cleartext hashes to the content id, and
// the block digest matches.
func (c *Chain) checkOffChain(tx *database.Tx, b *database.Block,
	report *Report) bool {

	record, err := tx.OffChainRecordByContentID(b.OffChainContentID)
	if err != nil {
		report.addIssue(b.BlockNumber, "offchain-record",
			"off-chain record %s is missing", b.OffChainContentID)
		return false
	}
	payload, err := c.blobs.Read(record)
	if err != nil {
		report.addIssue(b.BlockNumber, "offchain-payload",
			"off-chain payload does not decrypt: %v", err)
		return false
	}
	digest := chainhash.HashH(payload)
	if digest != record.ContentID {
		report.addIssue(b.BlockNumber, "offchain-content-id",
			"cleartext does not hash to the content id")
		return false
	}
	if digest != b.DataDigest {
		report.addIssue(b.BlockNumber, "offchain-digest",
			"block digest does not match the off-chain cleartext")
		return false
	}
	return true
}

// checkCompliance verifies the signer was authorised at the block's
// timestamp.
func (c *Chain) checkCompliance(tx *database.Tx, b *database.Block,
	report *Report) bool {

	key, err := tx.AuthorizedKeyByFingerprint(&b.SignerFingerprint)
	if err != nil {
		// Already reported structurally.
		return false
	}
	if !key.ActiveAt(b.TimestampMs) {
		report.addIssue(b.BlockNumber, "signer-not-active",
			"key of owner %q was not active at the block timestamp",
			key.Owner)
		return false
	}
	return true
}
