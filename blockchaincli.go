// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"os"

	flags "github.com/jessevdk/go-flags"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run parses the command line, dispatches the active subcommand, and maps
// the outcome to the exit-code contract.
func run(args []string) int {
	parser := flags.NewNamedParser("blockchain-cli", flags.HelpFlag)
	if _, err := parser.AddGroup("Global options", "", &cfg); err != nil {
		reportError(err)
		return exitFailure
	}
	registerCommands(parser)

	parser.CommandHandler = func(command flags.Commander, cmdArgs []string) error {
		if command == nil {
			return nil
		}
		if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
			return err
		}
		if cfg.Verbose {
			setLogLevels("debug")
		}
		initLogRotator(defaultLogFile())
		defer func() {
			if logRotator != nil {
				logRotator.Close()
			}
		}()
		return command.Execute(cmdArgs)
	}

	_, err := parser.Parse()
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) {
			if flagsErr.Type == flags.ErrHelp {
				os.Stdout.WriteString(flagsErr.Message + "\n")
				return exitSuccess
			}
			// Parser-level failures are usage errors by definition.
			os.Stderr.WriteString(flagsErr.Message + "\n")
			return exitUsage
		}
		reportError(err)
		return exitCodeFor(err)
	}
	return exitSuccess
}
