// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dbconfig

import "time"

// Engine identifies one of the supported SQL engines.
type Engine string

// These constants define the supported SQL engines.
const (
	EngineH2         = Engine("h2")
	EngineSQLite     = Engine("sqlite")
	EnginePostgreSQL = Engine("postgresql")
	EngineMySQL      = Engine("mysql")
)

// PoolParams defines the connection-pool profile for an engine.
type PoolParams struct {
	// MinSize is the number of idle connections kept open.
	MinSize int

	// MaxSize is the maximum number of open connections.
	MaxSize int

	// AcquireTimeout bounds how long a caller waits for a connection.
	AcquireTimeout time.Duration

	// IdleTimeout is how long an idle connection survives before the
	// evictor reclaims it.
	IdleTimeout time.Duration

	// MaxLifetime is the maximum total lifetime of a connection.
	MaxLifetime time.Duration
}

// H2PoolParams defines the pool profile used for the h2 engine.
var H2PoolParams = PoolParams{
	MinSize:        5,
	MaxSize:        20,
	AcquireTimeout: 30 * time.Second,
	IdleTimeout:    10 * time.Minute,
	MaxLifetime:    30 * time.Minute,
}

// SQLitePoolParams defines the pool profile used for the sqlite engine.
// SQLite serialises writers internally, so the profile stays small.
var SQLitePoolParams = PoolParams{
	MinSize:        1,
	MaxSize:        5,
	AcquireTimeout: 30 * time.Second,
	IdleTimeout:    10 * time.Minute,
	MaxLifetime:    30 * time.Minute,
}

// PostgreSQLPoolParams defines the pool profile used for the postgresql
// engine.
var PostgreSQLPoolParams = PoolParams{
	MinSize:        10,
	MaxSize:        60,
	AcquireTimeout: 30 * time.Second,
	IdleTimeout:    10 * time.Minute,
	MaxLifetime:    30 * time.Minute,
}

// MySQLPoolParams defines the pool profile used for the mysql engine.
var MySQLPoolParams = PoolParams{
	MinSize:        10,
	MaxSize:        50,
	AcquireTimeout: 30 * time.Second,
	IdleTimeout:    10 * time.Minute,
	MaxLifetime:    30 * time.Minute,
}

// defaultPoolParams returns the pool profile for the given engine.
func defaultPoolParams(engine Engine) PoolParams {
	switch engine {
	case EngineH2:
		return H2PoolParams
	case EnginePostgreSQL:
		return PostgreSQLPoolParams
	case EngineMySQL:
		return MySQLPoolParams
	default:
		return SQLitePoolParams
	}
}

// defaultPorts maps each networked engine to its conventional port.  The h2
// port is the default listen port of the H2 PostgreSQL-compatibility
// server.
var defaultPorts = map[Engine]int{
	EngineH2:         5435,
	EnginePostgreSQL: 5432,
	EngineMySQL:      3306,
}
