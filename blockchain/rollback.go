// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"context"
	"errors"
	"sort"

	"github.com/rbatllet/blockchain-cli/cerrors"
	"github.com/rbatllet/blockchain-cli/database"
)

// RollbackRequest describes a rollback.  Exactly one of Blocks and
// ToBlock must be set.
type RollbackRequest struct {
	// Blocks removes the newest N blocks.
	Blocks *int64

	// ToBlock truncates the chain so the named block becomes the tip.
	ToBlock *int64

	// DryRun computes the plan without mutating anything.
	DryRun bool
}

// RollbackResult reports what a rollback removed, or would remove for a
// dry run.
type RollbackResult struct {
	DryRun          bool     `json:"dryRun"`
	Cutoff          uint64   `json:"cutoff"`
	RemovedBlocks   []uint64 `json:"removedBlocks"`
	RemovedOffChain []string `json:"removedOffChain"`
}

// Rollback truncates the chain after a cutoff block.  Orphaned off-chain
// records are garbage collected in the same unit-of-work; their file
// deletions are logged best-effort.  The genesis block can never be
// removed.
func (c *Chain) Rollback(ctx context.Context, req *RollbackRequest) (*RollbackResult, error) {
	if (req.Blocks == nil) == (req.ToBlock == nil) {
		return nil, cerrors.E(cerrors.ErrUsage, "rollback-target",
			"exactly one of --blocks and --to-block is required")
	}

	c.mtx.Lock()
	defer c.mtx.Unlock()

	result := &RollbackResult{DryRun: req.DryRun}
	err := c.store.Update(ctx, func(tx *database.Tx) error {
		total, err := tx.BlockCount()
		if err != nil {
			return err
		}
		if total == 0 {
			return cerrors.E(cerrors.ErrNotFound, "empty-chain",
				"the chain is empty; nothing to roll back")
		}
		latest := total - 1

		var cutoff uint64
		switch {
		case req.Blocks != nil:
			n := *req.Blocks
			if n <= 0 {
				return cerrors.Ef(cerrors.ErrUsage, "rollback-count",
					"block count must be positive, got %d", n)
			}
			if uint64(n) >= total {
				return cerrors.Ef(cerrors.ErrConflict, "genesis",
					"removing %d of %d blocks would delete the genesis "+
						"block", n, total)
			}
			cutoff = latest - uint64(n)
		default:
			m := *req.ToBlock
			if m < 0 {
				return cerrors.Ef(cerrors.ErrUsage, "rollback-target",
					"target block must not be negative, got %d", m)
			}
			if uint64(m) > latest {
				return cerrors.Ef(cerrors.ErrNotFound, "rollback-target",
					"target block %d is beyond the tip %d", m, latest)
			}
			cutoff = uint64(m)
		}
		result.Cutoff = cutoff

		for n := cutoff + 1; n <= latest; n++ {
			result.RemovedBlocks = append(result.RemovedBlocks, n)
		}

		// Collect the off-chain records only the doomed blocks
		// reference.
		refs, err := tx.OffChainRefs()
		if err != nil {
			return err
		}
		for id, number := range refs {
			if number > cutoff {
				result.RemovedOffChain = append(result.RemovedOffChain, id)
			}
		}
		sort.Strings(result.RemovedOffChain)

		if req.DryRun {
			log.Infof("Rollback dry run: would remove %d block(s) and %d "+
				"off-chain record(s)", len(result.RemovedBlocks),
				len(result.RemovedOffChain))
			return errDryRun
		}

		if _, err := tx.DeleteBlocksAbove(cutoff); err != nil {
			return err
		}
		if _, err := c.blobs.CollectGarbage(tx); err != nil {
			return err
		}
		return nil
	})
	if errors.Is(err, errDryRun) {
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	log.Infof("Rolled back %d block(s); new tip is block %d",
		len(result.RemovedBlocks), result.Cutoff)
	c.emit("ChainRolledBack", map[string]interface{}{
		"cutoff":  result.Cutoff,
		"removed": len(result.RemovedBlocks),
	})
	return result, nil
}

// errDryRun aborts the rollback unit-of-work after planning.
var errDryRun = errors.New("dry run")
