// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cerrors

import (
	"errors"
	"fmt"
)

// Kind identifies the broad class of failure an operation produced.  Every
// error returned by the core belongs to exactly one kind and the CLI adapter
// maps kinds to exit codes and JSON envelopes.
//
// The kind is part of the public contract.  It has the full support of the
// errors.Is and errors.As functions.
type Kind string

// These constants are used to identify a specific Kind.
const (
	// ErrUsage indicates malformed inputs, conflicting options, or
	// out-of-range parameters supplied by the caller.
	ErrUsage = Kind("USAGE")

	// ErrConfig indicates an invalid database configuration, an
	// unreachable database, or invalid permissions on a config file.
	ErrConfig = Kind("CONFIG")

	// ErrAuth indicates a signer that is not registered, a signer that
	// was not authorised at the relevant timestamp, or a wrong vault
	// password.
	ErrAuth = Kind("AUTH")

	// ErrIntegrity indicates a hash mismatch, a signature failure, an
	// off-chain decryption failure, or a migration checksum mismatch.
	ErrIntegrity = Kind("INTEGRITY")

	// ErrNotFound indicates a missing block number, owner, key
	// fingerprint, export file, or off-chain record.
	ErrNotFound = Kind("NOT_FOUND")

	// ErrConflict indicates an attempt to remove the genesis block,
	// duplicate an owner, or append while the writer lock cannot be
	// acquired within the configured timeout.
	ErrConflict = Kind("CONFLICT")

	// ErrIO indicates a file-system failure on the off-chain store or
	// an export/import path.
	ErrIO = Kind("IO")

	// ErrDB indicates a persistence failure not otherwise classified.
	ErrDB = Kind("DB")
)

// Error satisfies the error interface and prints human-readable errors.
func (e Kind) Error() string {
	return string(e)
}

// Error identifies a failure produced by the core.  It carries the kind of
// failure, a short stable code, and a one-line description.  It has full
// support for errors.Is and errors.As, so the caller may ascertain the
// specific kind by checking against the Kind constants.
type Error struct {
	Err         error
	Code        string
	Description string
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	return e.Description
}

// Unwrap returns the underlying wrapped error.
func (e Error) Unwrap() error {
	return e.Err
}

// E creates an Error given a kind, a short code, and a description.
func E(kind Kind, code, desc string) Error {
	return Error{Err: kind, Code: code, Description: desc}
}

// Ef creates an Error given a kind, a short code, and a format specifier for
// the description.
func Ef(kind Kind, code, format string, args ...interface{}) Error {
	return Error{Err: kind, Code: code, Description: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error that retains cause in the unwrap chain while
// classifying it under kind.  errors.Is reports true for both kind and
// cause.
func Wrap(kind Kind, code string, cause error, desc string) Error {
	return Error{
		Err:         fmt.Errorf("%w: %w", kind, cause),
		Code:        code,
		Description: desc,
	}
}

// KindOf returns the Kind carried by err, or ErrDB when err does not belong
// to this family.  A nil err returns the empty kind.
func KindOf(err error) Kind {
	if err == nil {
		return Kind("")
	}
	for _, kind := range []Kind{
		ErrUsage, ErrConfig, ErrAuth, ErrIntegrity,
		ErrNotFound, ErrConflict, ErrIO, ErrDB,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrDB
}

// CodeOf returns the short code carried by err, or the empty string when err
// carries none.
func CodeOf(err error) string {
	var e Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
