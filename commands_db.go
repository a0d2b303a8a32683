// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rbatllet/blockchain-cli/blockchain"
	"github.com/rbatllet/blockchain-cli/cerrors"
	"github.com/rbatllet/blockchain-cli/database"
	"github.com/rbatllet/blockchain-cli/dbconfig"
)

// databaseCommand implements the database subcommand.
type databaseCommand struct {
	File   string `long:"file" description:"Write the exported configuration to a file"`
	Format string `long:"format" choice:"properties" choice:"json" choice:"env" default:"properties" description:"Export format"`
	NoMask bool   `long:"no-mask" description:"Do not redact secrets (handle with care)"`

	Args struct {
		Action string `positional-arg-name:"action" required:"yes" description:"show, test, or export"`
	} `positional-args:"yes"`
}

// configValues renders the resolved configuration as ordered key/value
// pairs in properties spelling.
func configValues(dbCfg *dbconfig.Config) (map[string]string, []string) {
	values := map[string]string{
		"db.type": string(dbCfg.Type),
	}
	order := []string{"db.type"}
	add := func(key, value string) {
		if value == "" {
			return
		}
		values[key] = value
		order = append(order, key)
	}
	add("db.url", dbCfg.URL)
	add("db.host", dbCfg.Host)
	if dbCfg.Port != 0 {
		add("db.port", strconv.Itoa(dbCfg.Port))
	}
	add("db.name", dbCfg.Database)
	add("db.user", dbCfg.User)
	add("db.password", dbCfg.Password)
	add("db.pool.min", strconv.Itoa(dbCfg.Pool.MinSize))
	add("db.pool.max", strconv.Itoa(dbCfg.Pool.MaxSize))
	return values, order
}

func (c *databaseCommand) Execute(_ []string) error {
	switch c.Args.Action {
	case "show", "test", "export":
	default:
		return cerrors.Ef(cerrors.ErrUsage, "database-action",
			"unknown action %q (want show, test, or export)", c.Args.Action)
	}

	dbCfg, err := resolveDBConfig()
	if err != nil {
		return err
	}

	switch c.Args.Action {
	case "test":
		ctx, cancel := commandContext()
		defer cancel()
		store, err := database.Open(ctx, dbCfg)
		if err != nil {
			return err
		}
		store.Close()
		if cfg.JSON {
			return printJSON(map[string]interface{}{
				"type": dbCfg.Type, "reachable": true,
			})
		}
		fmt.Printf("Database %s is reachable.\n", dbCfg.Type)
		return nil

	case "export":
		if c.File == "" {
			return cerrors.E(cerrors.ErrUsage, "file",
				"export needs --file")
		}
		shown := *dbCfg
		if !c.NoMask {
			shown = dbCfg.Masked()
		}
		values, order := configValues(&shown)
		switch c.Format {
		case "json":
			out := make(map[string]string, len(values))
			for k, v := range values {
				out[k] = v
			}
			encoded := map[string]interface{}{"database": out}
			if err := writeJSONFile(c.File, encoded); err != nil {
				return err
			}
		case "env":
			if err := writeEnvFile(c.File, &shown); err != nil {
				return err
			}
		default:
			if err := dbconfig.WriteProperties(c.File, values, order,
				true); err != nil {
				return err
			}
		}
		if !cfg.JSON {
			fmt.Printf("Configuration written to %s\n", c.File)
		}
		return nil

	default: // show
		shown := dbCfg.Masked()
		if c.NoMask {
			shown = *dbCfg
		}
		if cfg.JSON {
			return printJSON(shown)
		}
		values, order := configValues(&shown)
		for _, key := range order {
			fmt.Printf("%s=%s\n", key, values[key])
		}
		return nil
	}
}

// migrateCommand implements the migrate subcommand.
type migrateCommand struct {
	Args struct {
		Action string `positional-arg-name:"action" required:"yes" description:"run, show-history, validate, or current-version"`
	} `positional-args:"yes"`
}

func (c *migrateCommand) Execute(_ []string) error {
	switch c.Args.Action {
	case "run", "show-history", "validate", "current-version":
	default:
		return cerrors.Ef(cerrors.ErrUsage, "migrate-action",
			"unknown action %q (want run, show-history, validate, or "+
				"current-version)", c.Args.Action)
	}

	return withChain(func(ctx context.Context, chain *blockchain.Chain) error {
		engine := chain.Migrations()

		switch c.Args.Action {
		case "run":
			applied, err := engine.Run(ctx)
			if err != nil {
				return err
			}
			if cfg.JSON {
				return printJSON(map[string]interface{}{"applied": applied})
			}
			fmt.Printf("Applied %d migration(s).\n", applied)
			return nil

		case "validate":
			if err := engine.Validate(ctx); err != nil {
				return err
			}
			if cfg.JSON {
				return printJSON(map[string]interface{}{"valid": true})
			}
			fmt.Println("Migration state is valid.")
			return nil

		case "current-version":
			version, err := engine.CurrentVersion(ctx)
			if err != nil {
				return err
			}
			if cfg.JSON {
				return printJSON(map[string]interface{}{"version": version})
			}
			fmt.Println(version)
			return nil

		default: // show-history
			history, err := engine.History(ctx)
			if err != nil {
				return err
			}
			if cfg.JSON {
				return printJSON(history)
			}
			for _, row := range history {
				outcome := "ok"
				if !row.Success {
					outcome = "FAILED"
				}
				fmt.Printf("%3d  %-6s %-40s %-6s %s (%d ms)\n",
					row.InstalledRank, row.Version, row.Description,
					outcome,
					row.InstalledOn.UTC().Format(time.RFC3339),
					row.ExecutionTimeMs)
			}
			if len(history) == 0 {
				fmt.Println("No migrations applied.")
			}
			return nil
		}
	})
}

// writeJSONFile writes v to path as indented JSON, mode 0600.
func writeJSONFile(path string, v interface{}) error {
	encoded, err := jsonMarshalIndent(v)
	if err != nil {
		return cerrors.Wrap(cerrors.ErrIO, "config-export", err,
			"unable to encode configuration: "+err.Error())
	}
	return writeFile0600(path, encoded)
}

// writeEnvFile renders the configuration in DB_* environment form.
func writeEnvFile(path string, dbCfg *dbconfig.Config) error {
	lines := fmt.Sprintf("DB_TYPE=%s\n", dbCfg.Type)
	if dbCfg.URL != "" {
		lines += fmt.Sprintf("DB_URL=%s\n", dbCfg.URL)
	}
	if dbCfg.Host != "" {
		lines += fmt.Sprintf("DB_HOST=%s\n", dbCfg.Host)
	}
	if dbCfg.Port != 0 {
		lines += fmt.Sprintf("DB_PORT=%d\n", dbCfg.Port)
	}
	if dbCfg.Database != "" {
		lines += fmt.Sprintf("DB_NAME=%s\n", dbCfg.Database)
	}
	if dbCfg.User != "" {
		lines += fmt.Sprintf("DB_USER=%s\n", dbCfg.User)
	}
	if dbCfg.Password != "" {
		lines += fmt.Sprintf("DB_PASSWORD=%s\n", dbCfg.Password)
	}
	lines += fmt.Sprintf("DB_POOL_MIN=%d\n", dbCfg.Pool.MinSize)
	lines += fmt.Sprintf("DB_POOL_MAX=%d\n", dbCfg.Pool.MaxSize)
	return writeFile0600(path, []byte(lines))
}
