// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"time"

	"github.com/rbatllet/blockchain-cli/blockchain"
	"github.com/rbatllet/blockchain-cli/cerrors"
	"github.com/rbatllet/blockchain-cli/chaincrypto"
	"github.com/rbatllet/blockchain-cli/database"
)

// addKeyCommand implements the add-key subcommand.
type addKeyCommand struct {
	Generate     bool   `long:"generate" description:"Generate a fresh key pair"`
	PublicKey    string `long:"public-key" description:"Register a base64 public key"`
	KeyFile      string `long:"key-file" description:"Register the public half of a key file"`
	StorePrivate bool   `long:"store-private" description:"Seal the generated private key in the vault"`
	KeyType      string `long:"key-type" choice:"root" choice:"intermediate" choice:"operational" description:"Key type"`
	ParentKey    string `long:"parent-key" description:"Owner of the issuing key"`
	ValidityDays int    `long:"validity-days" description:"Days until expiry; 0 means indefinite"`

	Args struct {
		Owner string `positional-arg-name:"owner" required:"yes" description:"Owner label"`
	} `positional-args:"yes"`
}

func (c *addKeyCommand) Execute(_ []string) error {
	var publicKey []byte
	if c.PublicKey != "" {
		raw, err := base64.StdEncoding.DecodeString(c.PublicKey)
		if err != nil {
			return cerrors.E(cerrors.ErrUsage, "public-key",
				"--public-key must be valid base64")
		}
		publicKey = raw
	}

	return withChain(func(ctx context.Context, chain *blockchain.Chain) error {
		result, err := chain.AddKey(ctx, &blockchain.AddKeyRequest{
			Owner:        c.Args.Owner,
			Generate:     c.Generate,
			PublicKey:    publicKey,
			KeyFile:      c.KeyFile,
			StorePrivate: c.StorePrivate,
			Password:     promptPassword,
			KeyType:      c.KeyType,
			ParentOwner:  c.ParentKey,
			ValidityDays: c.ValidityDays,
		})
		if err != nil {
			return err
		}

		var privatePEM string
		if result.PrivateKey != nil && !result.Stored {
			der, err := chaincrypto.MarshalPrivateKey(result.PrivateKey)
			if err != nil {
				return err
			}
			privatePEM = string(pem.EncodeToMemory(&pem.Block{
				Type: "PRIVATE KEY", Bytes: der,
			}))
		}

		if cfg.JSON {
			out := map[string]interface{}{
				"owner":       result.Key.Owner,
				"fingerprint": result.Key.Fingerprint.String(),
				"keyType":     result.Key.KeyType,
				"stored":      result.Stored,
			}
			if privatePEM != "" {
				out["privateKey"] = privatePEM
			}
			return printJSON(out)
		}

		fmt.Printf("Authorised %s key for %q\n", result.Key.KeyType,
			result.Key.Owner)
		fmt.Printf("Fingerprint: %s\n", result.Key.Fingerprint)
		if result.Stored {
			fmt.Println("Private key sealed in the vault.")
		}
		if privatePEM != "" {
			fmt.Println("Private key (shown once, not persisted):")
			fmt.Print(privatePEM)
		}
		return nil
	})
}

// listKeysCommand implements the list-keys subcommand.
type listKeysCommand struct {
	ActiveOnly bool `long:"active-only" description:"Hide revoked keys"`
	Detailed   bool `long:"detailed" description:"Include fingerprints and lifetimes"`
}

func (c *listKeysCommand) Execute(_ []string) error {
	return withChain(func(ctx context.Context, chain *blockchain.Chain) error {
		keys, err := chain.ListKeys(ctx, c.ActiveOnly)
		if err != nil {
			return err
		}
		if cfg.JSON {
			out := make([]map[string]interface{}, 0, len(keys))
			for _, k := range keys {
				entry := map[string]interface{}{
					"owner":       k.Owner,
					"fingerprint": k.Fingerprint.String(),
					"keyType":     k.KeyType,
					"createdAtMs": k.CreatedAtMs,
					"revoked":     k.RevokedAtMs != nil,
				}
				if k.ExpiresAtMs != nil {
					entry["expiresAtMs"] = *k.ExpiresAtMs
				}
				if k.RevokedAtMs != nil {
					entry["revokedAtMs"] = *k.RevokedAtMs
				}
				out = append(out, entry)
			}
			return printJSON(out)
		}

		now := time.Now().UnixMilli()
		for _, k := range keys {
			fmt.Printf("%-24s %-12s %s\n", k.Owner, k.KeyType,
				keyStateAt(k, now))
			if c.Detailed {
				fmt.Printf("  fingerprint: %s\n", k.Fingerprint)
				fmt.Printf("  created:     %s\n",
					time.UnixMilli(k.CreatedAtMs).UTC().Format(time.RFC3339))
				if k.ExpiresAtMs != nil {
					fmt.Printf("  expires:     %s\n",
						time.UnixMilli(*k.ExpiresAtMs).UTC().Format(time.RFC3339))
				}
			}
		}
		if len(keys) == 0 {
			fmt.Println("No authorised keys.")
		}
		return nil
	})
}

// manageKeysCommand implements the manage-keys subcommand.
type manageKeysCommand struct {
	List         bool   `long:"list" description:"List owners with stored private keys"`
	Check        string `long:"check" value-name:"owner" description:"Check whether an owner has a stored key"`
	Test         string `long:"test" value-name:"owner" description:"Test the password of a stored key"`
	Delete       string `long:"delete" value-name:"owner" description:"Delete a stored private key"`
	Rotate       string `long:"rotate" value-name:"owner" description:"Rotate an owner's key pair"`
	ValidityDays int    `long:"validity-days" description:"Validity of the rotated key"`
}

func (c *manageKeysCommand) Execute(_ []string) error {
	modes := 0
	if c.List {
		modes++
	}
	for _, owner := range []string{c.Check, c.Test, c.Delete, c.Rotate} {
		if owner != "" {
			modes++
		}
	}
	if modes != 1 {
		return cerrors.E(cerrors.ErrUsage, "manage-keys",
			"exactly one of --list, --check, --test, --delete, or "+
				"--rotate is required")
	}

	return withChain(func(ctx context.Context, chain *blockchain.Chain) error {
		switch {
		case c.List:
			owners, err := chain.ListStoredKeys(ctx)
			if err != nil {
				return err
			}
			if cfg.JSON {
				return printJSON(map[string]interface{}{"owners": owners})
			}
			for _, owner := range owners {
				fmt.Println(owner)
			}
			if len(owners) == 0 {
				fmt.Println("No stored private keys.")
			}
			return nil

		case c.Check != "":
			exists, err := chain.CheckStoredKey(ctx, c.Check)
			if err != nil {
				return err
			}
			if cfg.JSON {
				return printJSON(map[string]interface{}{
					"owner": c.Check, "stored": exists,
				})
			}
			if exists {
				fmt.Printf("A private key for %q is stored.\n", c.Check)
			} else {
				fmt.Printf("No stored private key for %q.\n", c.Check)
			}
			return nil

		case c.Test != "":
			password, err := promptPassword(c.Test)
			if err != nil {
				return err
			}
			if err := chain.TestStoredKey(ctx, c.Test, password); err != nil {
				return err
			}
			if cfg.JSON {
				return printJSON(map[string]interface{}{
					"owner": c.Test, "ok": true,
				})
			}
			fmt.Println("Password accepted.")
			return nil

		case c.Delete != "":
			if err := chain.DeleteStoredKey(ctx, c.Delete); err != nil {
				return err
			}
			if cfg.JSON {
				return printJSON(map[string]interface{}{
					"owner": c.Delete, "deleted": true,
				})
			}
			fmt.Printf("Deleted stored private key for %q.\n", c.Delete)
			return nil

		default:
			result, err := chain.RotateKey(ctx, c.Rotate, c.ValidityDays,
				promptPassword)
			if err != nil {
				return err
			}
			if cfg.JSON {
				return printJSON(map[string]interface{}{
					"owner":       result.Key.Owner,
					"fingerprint": result.Key.Fingerprint.String(),
					"stored":      result.Stored,
				})
			}
			fmt.Printf("Rotated key for %q; new fingerprint %s\n",
				result.Key.Owner, result.Key.Fingerprint)
			return nil
		}
	})
}

// keyStateAt is a display helper shared by list-keys and status.
func keyStateAt(k *database.AuthorizedKey, nowMs int64) string {
	if k.ActiveAt(nowMs) {
		return "active"
	}
	if k.RevokedAtMs != nil {
		return "revoked"
	}
	return "expired"
}
