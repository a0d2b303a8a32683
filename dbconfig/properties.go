// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dbconfig

import (
	"bufio"
	"os"
	"strings"

	"github.com/rbatllet/blockchain-cli/cerrors"
)

// LoadProperties parses a java-style properties file into a key/value map.
// Comment lines start with '#' or '!'.  Keys and values are separated by
// the first '=' or ':'.
func LoadProperties(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.ErrConfig, "config-file", err,
			"unable to open "+path+": "+err.Error())
	}
	defer f.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' || line[0] == '!' {
			continue
		}
		sep := strings.IndexAny(line, "=:")
		if sep < 0 {
			continue
		}
		key := strings.TrimSpace(line[:sep])
		value := strings.TrimSpace(line[sep+1:])
		if key == "" {
			continue
		}
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, cerrors.Wrap(cerrors.ErrConfig, "config-file", err,
			"unable to read "+path+": "+err.Error())
	}
	return values, nil
}

// WriteProperties renders values in properties form, masking secrets unless
// noMask is set, and writes them to path with mode 0600.
func WriteProperties(path string, values map[string]string, order []string, noMask bool) error {
	var b strings.Builder
	for _, key := range order {
		value, ok := values[key]
		if !ok {
			continue
		}
		if !noMask {
			value = MaskValue(key, value)
		}
		b.WriteString(key)
		b.WriteString("=")
		b.WriteString(value)
		b.WriteString("\n")
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return cerrors.Wrap(cerrors.ErrIO, "config-file", err,
			"unable to write "+path+": "+err.Error())
	}
	return nil
}
