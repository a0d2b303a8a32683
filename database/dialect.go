// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package database

import (
	"strconv"
	"strings"

	"github.com/rbatllet/blockchain-cli/dbconfig"
)

// dialect isolates the engine differences the store has to care about.
// Queries are written with '?' placeholders and rebound on the way out for
// engines that use numbered placeholders.
type dialect struct {
	engine dbconfig.Engine

	// numberedPlaceholders selects $1..$n placeholder style (postgresql
	// and h2-over-pg-wire) instead of '?'.
	numberedPlaceholders bool

	// upsert turns an INSERT into an upsert on the primary key.
	// conflictCols names the key columns.
	upsert func(insert, conflictCols, updateSet string) string
}

func dialectFor(engine dbconfig.Engine) dialect {
	switch engine {
	case dbconfig.EnginePostgreSQL, dbconfig.EngineH2:
		return dialect{
			engine:               engine,
			numberedPlaceholders: true,
			upsert: func(insert, conflictCols, updateSet string) string {
				return insert + " ON CONFLICT (" + conflictCols +
					") DO UPDATE SET " + updateSet
			},
		}
	case dbconfig.EngineMySQL:
		return dialect{
			engine: engine,
			upsert: func(insert, conflictCols, updateSet string) string {
				return insert + " ON DUPLICATE KEY UPDATE " + updateSet
			},
		}
	default: // sqlite
		return dialect{
			engine: engine,
			upsert: func(insert, conflictCols, updateSet string) string {
				return insert + " ON CONFLICT (" + conflictCols +
					") DO UPDATE SET " + updateSet
			},
		}
	}
}

// rebind rewrites '?' placeholders into the engine's placeholder style.
func (d dialect) rebind(query string) string {
	if !d.numberedPlaceholders {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// ddl rewrites a portable DDL statement into the engine's spelling.
// MySQL has no IF NOT EXISTS guard for CREATE INDEX; the statement is
// issued unguarded and the duplicate error tolerated instead.
func (d dialect) ddl(stmt string) string {
	if d.engine == dbconfig.EngineMySQL {
		return strings.Replace(stmt, "CREATE INDEX IF NOT EXISTS",
			"CREATE INDEX", 1)
	}
	return stmt
}

// caseInsensitiveLike returns the WHERE fragment for a case-insensitive
// substring match on column.  The single parameter is the lowercased
// '%'-wrapped needle.
func (d dialect) caseInsensitiveLike(column string) string {
	// LOWER(col) LIKE ? is portable across all four engines.
	return "LOWER(" + column + ") LIKE ?"
}
