// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/term"

	"github.com/rbatllet/blockchain-cli/blockchain"
	"github.com/rbatllet/blockchain-cli/dbconfig"
)

// Environment variables recognised next to the DB_* family.
const (
	envOffChainThreshold = "BLOCKCHAIN_OFFCHAIN_THRESHOLD"
	envOffChainDir       = "BLOCKCHAIN_OFFCHAIN_DIR"
)

// globalOptions are shared by every subcommand.
type globalOptions struct {
	Verbose    bool   `long:"verbose" description:"Enable verbose output"`
	JSON       bool   `long:"json" description:"Machine-readable JSON output on stdout"`
	DebugLevel string `long:"debuglevel" default:"info" description:"Logging level {trace, debug, info, warn, error, critical} or subsystem=level pairs"`

	DBType     string `long:"db-type" choice:"h2" choice:"sqlite" choice:"postgresql" choice:"mysql" description:"Database engine"`
	DBURL      string `long:"db-url" description:"Driver DSN; overrides host/port/name"`
	DBHost     string `long:"db-host" description:"Database host"`
	DBPort     int    `long:"db-port" description:"Database port"`
	DBName     string `long:"db-name" description:"Database name or file"`
	DBUser     string `long:"db-user" description:"Database user"`
	DBPassword string `long:"db-password" description:"Database password (insecure; prefer DB_PASSWORD)"`
}

// cfg is the active global configuration, populated by the parser before
// any command executes.
var cfg globalOptions

// overrides renders the CLI layer of the configuration resolver.
func (g *globalOptions) overrides() map[string]string {
	values := make(map[string]string)
	if g.DBType != "" {
		values[dbconfig.KeyType] = g.DBType
	}
	if g.DBURL != "" {
		values[dbconfig.KeyURL] = g.DBURL
	}
	if g.DBHost != "" {
		values[dbconfig.KeyHost] = g.DBHost
	}
	if g.DBPort != 0 {
		values[dbconfig.KeyPort] = strconv.Itoa(g.DBPort)
	}
	if g.DBName != "" {
		values[dbconfig.KeyName] = g.DBName
	}
	if g.DBUser != "" {
		values[dbconfig.KeyUser] = g.DBUser
	}
	if g.DBPassword != "" {
		values[dbconfig.KeyPassword] = g.DBPassword
	}
	return values
}

// resolveDBConfig runs the layered resolver over the CLI overrides.
func resolveDBConfig() (*dbconfig.Config, error) {
	dbCfg, _, err := dbconfig.Resolve(cfg.overrides())
	return dbCfg, err
}

// offChainThreshold reads the threshold override from the environment.
func offChainThreshold() (uint64, error) {
	raw := os.Getenv(envOffChainThreshold)
	if raw == "" {
		return 0, nil
	}
	threshold, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q", envOffChainThreshold, raw)
	}
	return threshold, nil
}

// openChain initialises the block engine from the resolved configuration.
// The caller owns Close.
func openChain(ctx context.Context) (*blockchain.Chain, error) {
	dbCfg, err := resolveDBConfig()
	if err != nil {
		return nil, err
	}
	threshold, err := offChainThreshold()
	if err != nil {
		return nil, err
	}
	return blockchain.New(ctx, &blockchain.Config{
		DB:                dbCfg,
		OffChainThreshold: threshold,
		OffChainDir:       os.Getenv(envOffChainDir),
		Events:            newEventSink(),
	})
}

// promptPassword reads a password from the terminal without echo.  It is
// the external boundary the engine's PasswordFunc contract points at.
func promptPassword(owner string) (string, error) {
	fmt.Fprintf(os.Stderr, "Password for %s: ", owner)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("unable to read password: %w", err)
	}
	return string(password), nil
}

// defaultLogFile is where the rotating log lives.
func defaultLogFile() string {
	return filepath.Join(dbconfig.AppDir(), "logs", "blockchain-cli.log")
}
