// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"context"

	"github.com/rbatllet/blockchain-cli/database"
	"github.com/rbatllet/blockchain-cli/dbconfig"
)

// PoolStats is the live connection pool snapshot reported by detailed
// status.
type PoolStats struct {
	OpenConnections int   `json:"openConnections"`
	InUse           int   `json:"inUse"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"waitCount"`
}

// Status is the chain status snapshot.
type Status struct {
	BlockCount          uint64          `json:"blockCount"`
	LatestHash          string          `json:"latestHash"`
	KeysTotal           int             `json:"keysTotal"`
	KeysActive          int             `json:"keysActive"`
	OffChainCount       uint64          `json:"offChainCount"`
	OffChainCipherBytes uint64          `json:"offChainCipherBytes"`
	SchemaVersion       string          `json:"schemaVersion"`
	DBType              dbconfig.Engine `json:"dbType"`
	DBConfig            dbconfig.Config `json:"dbConfig"`

	// Detailed-only fields.
	Pool        *PoolStats `json:"pool,omitempty"`
	OffChainDir string     `json:"offChainDir,omitempty"`
}

// Status reports the chain status under the read lock.  The embedded
// database configuration is masked.
func (c *Chain) Status(ctx context.Context, detailed bool) (*Status, error) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()

	status := &Status{
		DBType:   c.dbConfig.Type,
		DBConfig: c.dbConfig.Masked(),
	}

	err := c.store.View(ctx, func(tx *database.Tx) error {
		var err error
		if status.BlockCount, err = tx.BlockCount(); err != nil {
			return err
		}
		latest, err := tx.LatestBlock()
		if err != nil {
			return err
		}
		if latest != nil {
			status.LatestHash = latest.Hash.String()
		}

		keys, err := tx.ListAuthorizedKeys(false)
		if err != nil {
			return err
		}
		status.KeysTotal = len(keys)
		now := nowMs()
		for _, k := range keys {
			if k.ActiveAt(now) {
				status.KeysActive++
			}
		}

		status.OffChainCount, status.OffChainCipherBytes, err =
			tx.OffChainStats()
		return err
	})
	if err != nil {
		return nil, err
	}

	version, err := c.migrations.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}
	status.SchemaVersion = version

	if detailed {
		stats := c.store.Stats()
		status.Pool = &PoolStats{
			OpenConnections: stats.OpenConnections,
			InUse:           stats.InUse,
			Idle:            stats.Idle,
			WaitCount:       stats.WaitCount,
		}
		status.OffChainDir = c.blobs.Dir()
	}
	return status, nil
}
