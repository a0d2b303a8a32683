// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	flags "github.com/jessevdk/go-flags"

	"github.com/rbatllet/blockchain-cli/blockchain"
	"github.com/rbatllet/blockchain-cli/cerrors"
)

// registerCommands wires every subcommand into the parser.
func registerCommands(parser *flags.Parser) {
	parser.AddCommand("status", "Show chain status",
		"Print block count, latest hash, authorised keys, off-chain "+
			"counts, database type, and schema version.", &statusCommand{})
	parser.AddCommand("add-key", "Authorise a signing key",
		"Register a new authorised key for an owner.", &addKeyCommand{})
	parser.AddCommand("list-keys", "List authorised keys",
		"List the authorised keys, optionally active-only.",
		&listKeysCommand{})
	parser.AddCommand("manage-keys", "Manage stored private keys",
		"Inspect, test, delete, and rotate vault-stored private keys.",
		&manageKeysCommand{})
	parser.AddCommand("add-block", "Append a block",
		"Append a signed data block to the chain.", &addBlockCommand{})
	parser.AddCommand("validate", "Validate the chain",
		"Run structural and compliance validation.", &validateCommand{})
	parser.AddCommand("search", "Search blocks",
		"Search by keyword, payload content, category, block number, or "+
			"time range.", &searchCommand{})
	parser.AddCommand("export", "Export the chain",
		"Write a self-contained JSON snapshot of the chain.",
		&exportCommand{})
	parser.AddCommand("import", "Import a chain",
		"Restore a chain from an export document.", &importCommand{})
	parser.AddCommand("rollback", "Roll back the chain",
		"Remove the newest blocks, never the genesis.", &rollbackCommand{})
	parser.AddCommand("database", "Database configuration",
		"Show, test, or export the resolved database configuration.",
		&databaseCommand{})
	parser.AddCommand("migrate", "Schema migrations",
		"Run or inspect the schema migration history.", &migrateCommand{})
}

// commandContext returns a context cancelled by an interrupt signal.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// withChain opens the engine, runs fn, and closes it again.
func withChain(fn func(ctx context.Context, chain *blockchain.Chain) error) error {
	ctx, cancel := commandContext()
	defer cancel()

	chain, err := openChain(ctx)
	if err != nil {
		return err
	}
	defer chain.Close()
	return fn(ctx, chain)
}

// statusCommand implements the status subcommand.
type statusCommand struct {
	Detailed bool `long:"detailed" description:"Include pool statistics and off-chain details"`
}

func (c *statusCommand) Execute(_ []string) error {
	return withChain(func(ctx context.Context, chain *blockchain.Chain) error {
		status, err := chain.Status(ctx, c.Detailed)
		if err != nil {
			return err
		}
		if cfg.JSON {
			return printJSON(status)
		}

		fmt.Printf("Blocks:            %d\n", status.BlockCount)
		fmt.Printf("Latest hash:       %s\n", status.LatestHash)
		fmt.Printf("Authorised keys:   %d (%d active)\n", status.KeysTotal,
			status.KeysActive)
		fmt.Printf("Off-chain records: %d (%d cipher bytes)\n",
			status.OffChainCount, status.OffChainCipherBytes)
		fmt.Printf("Database:          %s\n", status.DBType)
		fmt.Printf("Schema version:    %s\n", status.SchemaVersion)
		if c.Detailed && status.Pool != nil {
			fmt.Printf("Pool:              open=%d inUse=%d idle=%d waits=%d\n",
				status.Pool.OpenConnections, status.Pool.InUse,
				status.Pool.Idle, status.Pool.WaitCount)
			fmt.Printf("Off-chain dir:     %s\n", status.OffChainDir)
		}
		return nil
	})
}

// addBlockCommand implements the add-block subcommand.
type addBlockCommand struct {
	File        string `long:"file" description:"Read the payload from a file instead of the argument"`
	Signer      string `long:"signer" description:"Sign with a registered owner's stored key"`
	KeyFile     string `long:"key-file" description:"Sign with a private key file"`
	GenerateKey bool   `long:"generate-key" description:"Sign with a fresh one-shot key pair"`
	Keywords    string `long:"keywords" description:"Comma-separated manual keywords"`
	Category    string `long:"category" description:"Category tag"`

	Args struct {
		Data string `positional-arg-name:"data" description:"Inline payload"`
	} `positional-args:"yes"`
}

func (c *addBlockCommand) Execute(_ []string) error {
	var data []byte
	switch {
	case c.File != "" && c.Args.Data != "":
		return cerrors.E(cerrors.ErrUsage, "data",
			"provide the payload either inline or with --file, not both")
	case c.File != "":
		raw, err := os.ReadFile(c.File)
		if err != nil {
			return cerrors.Wrap(cerrors.ErrIO, "data-file", err,
				"unable to read payload file: "+err.Error())
		}
		data = raw
	case c.Args.Data != "":
		data = []byte(c.Args.Data)
	default:
		return cerrors.E(cerrors.ErrUsage, "data",
			"a payload is required, inline or with --file")
	}

	return withChain(func(ctx context.Context, chain *blockchain.Chain) error {
		block, err := chain.Append(ctx, &blockchain.AppendRequest{
			Data: data,
			Signer: blockchain.SignerSpec{
				Owner:    c.Signer,
				KeyFile:  c.KeyFile,
				Generate: c.GenerateKey,
				Password: promptPassword,
			},
			Keywords: c.Keywords,
			Category: c.Category,
		})
		if err != nil {
			return err
		}
		if cfg.JSON {
			return printJSON(map[string]interface{}{
				"blockNumber": block.BlockNumber,
				"hash":        block.Hash.String(),
				"offChain":    block.IsOffChain(),
				"timestampMs": block.TimestampMs,
			})
		}
		fmt.Printf("Appended block %d (%s)\n", block.BlockNumber, block.Hash)
		if block.IsOffChain() {
			fmt.Printf("Payload stored off-chain as %s\n",
				block.OffChainContentID)
		}
		return nil
	})
}

// validateCommand implements the validate subcommand.
type validateCommand struct {
	Detailed bool `long:"detailed" description:"Also verify off-chain payloads"`
	Quick    bool `long:"quick" description:"Check chain linkage only"`
}

func (c *validateCommand) Execute(_ []string) error {
	if c.Detailed && c.Quick {
		return cerrors.E(cerrors.ErrUsage, "validate-mode",
			"--detailed and --quick are mutually exclusive")
	}
	mode := blockchain.ModeDefault
	switch {
	case c.Detailed:
		mode = blockchain.ModeDetailed
	case c.Quick:
		mode = blockchain.ModeQuick
	}

	return withChain(func(ctx context.Context, chain *blockchain.Chain) error {
		report, err := chain.Validate(ctx, mode)
		if err != nil {
			return err
		}
		if cfg.JSON {
			return printJSON(report)
		}

		fmt.Printf("Blocks:              %d\n", report.TotalBlocks)
		fmt.Printf("Structurally intact: %v\n", report.StructurallyIntact)
		fmt.Printf("Fully compliant:     %v\n", report.FullyCompliant)
		fmt.Printf("Invalid blocks:      %d\n", report.InvalidBlocks)
		fmt.Printf("Revoked blocks:      %d\n", report.RevokedBlocks)
		for _, issue := range report.Issues {
			fmt.Printf("  block %d [%s]: %s\n", issue.BlockNumber,
				issue.Code, issue.Message)
		}
		if !report.StructurallyIntact {
			return cerrors.E(cerrors.ErrIntegrity, "validate",
				"the chain is not structurally intact")
		}
		return nil
	})
}
