// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rbatllet/blockchain-cli/blockchain"
	"github.com/rbatllet/blockchain-cli/cerrors"
	"github.com/rbatllet/blockchain-cli/database"
	"github.com/rbatllet/blockchain-cli/search"
)

// searchCommand implements the search subcommand.
type searchCommand struct {
	Category    string `long:"category" description:"Filter by category"`
	BlockNumber *int64 `long:"block-number" description:"Filter by block number"`
	DateFrom    string `long:"date-from" description:"Filter from date (YYYY-MM-DD)"`
	DateTo      string `long:"date-to" description:"Filter to date (YYYY-MM-DD)"`
	Fast        bool   `long:"fast" description:"Keyword indexes only (FAST_ONLY)"`
	Level       string `long:"level" choice:"FAST_ONLY" choice:"INCLUDE_DATA" choice:"EXHAUSTIVE_OFFCHAIN" description:"Search tier"`
	Complete    bool   `long:"complete" description:"Decrypt off-chain payloads too (EXHAUSTIVE_OFFCHAIN)"`
	Limit       int    `long:"limit" description:"Truncate results after ordering"`
	Detailed    bool   `long:"detailed" description:"Print keywords and categories"`

	Args struct {
		Query string `positional-arg-name:"query" description:"Query token"`
	} `positional-args:"yes"`
}

func (c *searchCommand) level() (search.Level, error) {
	set := 0
	if c.Fast {
		set++
	}
	if c.Complete {
		set++
	}
	if c.Level != "" {
		set++
	}
	if set > 1 {
		return 0, cerrors.E(cerrors.ErrUsage, "search-level",
			"--fast, --complete, and --level are mutually exclusive")
	}
	switch {
	case c.Fast:
		return search.FastOnly, nil
	case c.Complete:
		return search.ExhaustiveOffchain, nil
	case c.Level != "":
		return search.ParseLevel(c.Level)
	}
	return search.IncludeData, nil
}

// parseDateMs parses a YYYY-MM-DD date; end selects the last millisecond
// of the day.
func parseDateMs(value string, end bool) (int64, error) {
	day, err := time.Parse("2006-01-02", value)
	if err != nil {
		return 0, cerrors.Ef(cerrors.ErrUsage, "date",
			"invalid date %q (want YYYY-MM-DD)", value)
	}
	if end {
		return day.Add(24*time.Hour).UnixMilli() - 1, nil
	}
	return day.UnixMilli(), nil
}

func (c *searchCommand) Execute(_ []string) error {
	level, err := c.level()
	if err != nil {
		return err
	}

	query := &search.Query{
		Term:  strings.TrimSpace(c.Args.Query),
		Level: level,
		Limit: c.Limit,
	}
	if c.Category != "" {
		category, err := search.NormalizeCategory(c.Category)
		if err != nil {
			return err
		}
		query.Filter.Category = category
	}
	if c.BlockNumber != nil {
		if *c.BlockNumber < 0 {
			return cerrors.E(cerrors.ErrUsage, "block-number",
				"block number must not be negative")
		}
		number := uint64(*c.BlockNumber)
		query.Filter.BlockNumber = &number
	}
	if c.DateFrom != "" {
		from, err := parseDateMs(c.DateFrom, false)
		if err != nil {
			return err
		}
		query.Filter.FromMs = &from
	}
	if c.DateTo != "" {
		to, err := parseDateMs(c.DateTo, true)
		if err != nil {
			return err
		}
		query.Filter.ToMs = &to
	}

	return withChain(func(ctx context.Context, chain *blockchain.Chain) error {
		result, err := chain.Search(ctx, query)
		if err != nil {
			return err
		}
		if cfg.JSON {
			out := map[string]interface{}{
				"matches":     exportMatches(result.Blocks),
				"undecidable": result.Undecidable,
				"level":       level.String(),
			}
			return printJSON(out)
		}

		for _, b := range result.Blocks {
			fmt.Printf("block %d  %s  %s\n", b.BlockNumber,
				time.UnixMilli(b.TimestampMs).UTC().Format(time.RFC3339),
				summary(b))
			if c.Detailed {
				if len(b.ManualKeywords) > 0 {
					fmt.Printf("  keywords: %s\n",
						strings.Join(b.ManualKeywords, ", "))
				}
				if len(b.AutoKeywords) > 0 {
					fmt.Printf("  auto:     %s\n",
						strings.Join(b.AutoKeywords, ", "))
				}
				if b.Category != "" {
					fmt.Printf("  category: %s\n", b.Category)
				}
			}
		}
		fmt.Printf("%d match(es)\n", len(result.Blocks))
		for _, number := range result.Undecidable {
			fmt.Printf("block %d undecidable (off-chain payload "+
				"unavailable)\n", number)
		}
		return nil
	})
}

// summary renders a short preview of a block's payload.
func summary(b *database.Block) string {
	if b.IsOffChain() {
		return database.OffChainRefPrefix + b.OffChainContentID.String()[:16] + "..."
	}
	const max = 48
	text := string(b.Data)
	if len(text) > max {
		return text[:max] + "..."
	}
	return text
}

func exportMatches(blocks []*database.Block) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, map[string]interface{}{
			"blockNumber": b.BlockNumber,
			"hash":        b.Hash.String(),
			"timestampMs": b.TimestampMs,
			"category":    b.Category,
			"offChain":    b.IsOffChain(),
		})
	}
	return out
}

// exportCommand implements the export subcommand.
type exportCommand struct {
	Args struct {
		Path string `positional-arg-name:"path" required:"yes" description:"Export file path"`
	} `positional-args:"yes"`
}

func (c *exportCommand) Execute(_ []string) error {
	return withChain(func(ctx context.Context, chain *blockchain.Chain) error {
		doc, err := chain.Export(ctx, c.Args.Path)
		if err != nil {
			return err
		}
		if cfg.JSON {
			return printJSON(map[string]interface{}{
				"path":       c.Args.Path,
				"blockCount": doc.Metadata.BlockCount,
				"keyCount":   doc.Metadata.KeyCount,
			})
		}
		fmt.Printf("Exported %d block(s) and %d key(s) to %s\n",
			doc.Metadata.BlockCount, doc.Metadata.KeyCount, c.Args.Path)
		return nil
	})
}

// importCommand implements the import subcommand.
type importCommand struct {
	Force         bool `long:"force" description:"Keep the imported state even if validation fails"`
	ValidateAfter bool `long:"validate-after" description:"Run detailed validation before committing"`
	Backup        bool `long:"backup" description:"Export the current chain next to the import file first"`
	DryRun        bool `long:"dry-run" description:"Verify the document without touching the database"`
	Merge         bool `long:"merge" description:"Append the document's suffix instead of replacing"`

	Args struct {
		Path string `positional-arg-name:"path" required:"yes" description:"Export file path"`
	} `positional-args:"yes"`
}

func (c *importCommand) Execute(_ []string) error {
	return withChain(func(ctx context.Context, chain *blockchain.Chain) error {
		if c.Backup && !c.DryRun {
			backupPath := fmt.Sprintf("%s.backup-%d.json", c.Args.Path,
				time.Now().Unix())
			if _, err := chain.Export(ctx, backupPath); err != nil {
				return err
			}
			if !cfg.JSON {
				fmt.Printf("Current chain backed up to %s\n", backupPath)
			}
		}

		mode := blockchain.ImportReplace
		if c.Merge {
			mode = blockchain.ImportMerge
		}

		if c.DryRun {
			if err := blockchain.VerifyExportFile(c.Args.Path); err != nil {
				return err
			}
			if cfg.JSON {
				return printJSON(map[string]interface{}{
					"path": c.Args.Path, "valid": true, "dryRun": true,
				})
			}
			fmt.Println("Export document verifies; no changes made.")
			return nil
		}

		result, err := chain.Import(ctx, &blockchain.ImportRequest{
			Path:          c.Args.Path,
			Mode:          mode,
			ValidateAfter: c.ValidateAfter,
			Force:         c.Force,
		})
		if err != nil {
			return err
		}
		if cfg.JSON {
			return printJSON(result)
		}
		fmt.Printf("Imported %d block(s), %d key(s), %d off-chain "+
			"record(s)\n", result.BlockCount, result.KeyCount,
			result.OffChainCount)
		return nil
	})
}

// rollbackCommand implements the rollback subcommand.
type rollbackCommand struct {
	Blocks  *int64 `long:"blocks" description:"Remove the newest N blocks"`
	ToBlock *int64 `long:"to-block" description:"Make block M the new tip"`
	DryRun  bool   `long:"dry-run" description:"Plan only; change nothing"`
	Yes     bool   `long:"yes" description:"Skip the confirmation prompt"`
	Confirm bool   `long:"confirm" description:"Alias of --yes"`
}

func (c *rollbackCommand) Execute(_ []string) error {
	if !c.DryRun && !c.Yes && !c.Confirm && !cfg.JSON {
		return cerrors.E(cerrors.ErrUsage, "confirm",
			"rollback is destructive; re-run with --yes (or --dry-run "+
				"first)")
	}

	return withChain(func(ctx context.Context, chain *blockchain.Chain) error {
		result, err := chain.Rollback(ctx, &blockchain.RollbackRequest{
			Blocks:  c.Blocks,
			ToBlock: c.ToBlock,
			DryRun:  c.DryRun,
		})
		if err != nil {
			return err
		}
		if cfg.JSON {
			return printJSON(result)
		}
		verb := "Removed"
		if result.DryRun {
			verb = "Would remove"
		}
		fmt.Printf("%s %d block(s); tip becomes block %d\n", verb,
			len(result.RemovedBlocks), result.Cutoff)
		if n := len(result.RemovedOffChain); n > 0 {
			fmt.Printf("%s %d off-chain record(s)\n", verb, n)
		}
		return nil
	})
}
