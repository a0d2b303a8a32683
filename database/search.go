// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package database

import "strings"

// Filter restricts a search to structural block attributes.  Zero-valued
// fields do not restrict.
type Filter struct {
	Category    string
	BlockNumber *uint64
	FromMs      *int64
	ToMs        *int64
}

// IsZero reports whether the filter restricts anything.
func (f *Filter) IsZero() bool {
	return f.Category == "" && f.BlockNumber == nil && f.FromMs == nil &&
		f.ToMs == nil
}

// BlockNumbersByKeyword returns the numbers of blocks carrying the exact
// token in either keyword set, via the join-table index.
func (t *Tx) BlockNumbersByKeyword(token string) ([]uint64, error) {
	rows, err := t.query(`SELECT DISTINCT block_number FROM block_keywords
		WHERE keyword = ? ORDER BY block_number ASC`,
		strings.ToLower(token))
	if err != nil {
		return nil, dbError("keyword-lookup", err)
	}
	defer rows.Close()
	var numbers []uint64
	for rows.Next() {
		var n uint64
		if err := rows.Scan(&n); err != nil {
			return nil, dbError("keyword-lookup", err)
		}
		numbers = append(numbers, n)
	}
	return numbers, rows.Err()
}

// BlockNumbersByInlineData returns the numbers of blocks whose inline
// textual payload contains the needle, case-insensitively.  Off-chain
// references and binary payloads are not searched here.
func (t *Tx) BlockNumbersByInlineData(needle string) ([]uint64, error) {
	pattern := "%" + strings.ToLower(escapeLike(needle)) + "%"
	rows, err := t.query(`SELECT block_number FROM blocks
		WHERE data_encoding = ? AND `+
		t.dialect.caseInsensitiveLike("data")+
		` ESCAPE '!' ORDER BY block_number ASC`, dataEncodingText, pattern)
	if err != nil {
		return nil, dbError("data-scan", err)
	}
	defer rows.Close()
	var numbers []uint64
	for rows.Next() {
		var n uint64
		if err := rows.Scan(&n); err != nil {
			return nil, dbError("data-scan", err)
		}
		numbers = append(numbers, n)
	}
	return numbers, rows.Err()
}

// escapeLike neutralises LIKE wildcards in a user-supplied needle.  The
// '!' escape character is declared in the query because it is the one
// spelling every supported engine accepts.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, "!", "!!")
	s = strings.ReplaceAll(s, "%", "!%")
	return strings.ReplaceAll(s, "_", "!_")
}

// BlockNumbersByFilter returns the numbers of blocks satisfying every
// restriction of the filter, ascending.
func (t *Tx) BlockNumbersByFilter(f *Filter) ([]uint64, error) {
	query := `SELECT block_number FROM blocks`
	var conds []string
	var args []interface{}
	if f.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, f.Category)
	}
	if f.BlockNumber != nil {
		conds = append(conds, "block_number = ?")
		args = append(args, *f.BlockNumber)
	}
	if f.FromMs != nil {
		conds = append(conds, "timestamp_ms >= ?")
		args = append(args, *f.FromMs)
	}
	if f.ToMs != nil {
		conds = append(conds, "timestamp_ms <= ?")
		args = append(args, *f.ToMs)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY block_number ASC"

	rows, err := t.query(query, args...)
	if err != nil {
		return nil, dbError("filter-lookup", err)
	}
	defer rows.Close()
	var numbers []uint64
	for rows.Next() {
		var n uint64
		if err := rows.Scan(&n); err != nil {
			return nil, dbError("filter-lookup", err)
		}
		numbers = append(numbers, n)
	}
	return numbers, rows.Err()
}
