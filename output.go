// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rbatllet/blockchain-cli/cerrors"
)

// Exit codes of the CLI contract.
const (
	exitSuccess = 0
	exitFailure = 1
	exitUsage   = 2
)

// eventSink renders engine events for the operator.  JSON mode keeps
// stdout machine-readable, so events always go through the logger.
type eventSink struct{}

func newEventSink() eventSink { return eventSink{} }

func (eventSink) Emit(event string, details map[string]interface{}) {
	if len(details) == 0 {
		cliLog.Debugf("event %s", event)
		return
	}
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, details[k])
	}
	cliLog.Debugf("event %s%s", event, b.String())
}

// jsonMarshalIndent encodes v for human-editable files.
func jsonMarshalIndent(v interface{}) ([]byte, error) {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(encoded, '\n'), nil
}

// writeFile0600 writes configuration material with restrictive
// permissions.
func writeFile0600(path string, content []byte) error {
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return cerrors.Wrap(cerrors.ErrIO, "write-file", err,
			"unable to write "+path+": "+err.Error())
	}
	return nil
}

// printJSON writes a result document to stdout.
func printJSON(v interface{}) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(encoded))
	return err
}

// errorEnvelope is the JSON error document.
type errorEnvelope struct {
	Error struct {
		Kind    string            `json:"kind"`
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Details map[string]string `json:"details,omitempty"`
	} `json:"error"`
}

// exitCodeFor maps an error to the CLI exit code contract.
func exitCodeFor(err error) int {
	if err == nil {
		return exitSuccess
	}
	if cerrors.KindOf(err) == cerrors.ErrUsage {
		return exitUsage
	}
	return exitFailure
}

// reportError renders a failure on the configured output.
func reportError(err error) {
	kind := cerrors.KindOf(err)
	if kind == "" {
		kind = cerrors.ErrDB
	}
	if cfg.JSON {
		var envelope errorEnvelope
		envelope.Error.Kind = string(kind)
		envelope.Error.Code = cerrors.CodeOf(err)
		envelope.Error.Message = err.Error()
		printJSON(&envelope)
		return
	}
	fmt.Fprintf(os.Stderr, "Error (%s): %v\n", kind, err)
}
