// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dbconfig

import (
	"fmt"

	"github.com/rbatllet/blockchain-cli/cerrors"
)

// DefaultDatabaseFile is the embedded database file used when no
// configuration source names an engine.
const DefaultDatabaseFile = "./blockchain.db"

// Config is the fully resolved database configuration the persistence
// layer initialises from.
type Config struct {
	// Type is the SQL engine.
	Type Engine

	// URL, when non-empty, overrides the DSN the persistence layer would
	// otherwise derive from Host/Port/Database.
	URL string

	// Host, Port, Database, User, Password describe the server
	// connection for networked engines.  For embedded engines Database
	// is the database file path.
	Host     string
	Port     int
	Database string
	User     string
	Password string

	// Pool is the connection-pool profile.
	Pool PoolParams

	// Hbm2ddl selects the schema bootstrap mode.  "update" creates the
	// baseline tables on first start; "none" leaves schema management
	// entirely to migrations.
	Hbm2ddl string

	// ShowSQL enables statement logging in the persistence layer.
	ShowSQL bool
}

// Validate checks the resolved configuration for internal consistency.
func (c *Config) Validate() error {
	switch c.Type {
	case EngineH2, EngineSQLite, EnginePostgreSQL, EngineMySQL:
	default:
		return cerrors.Ef(cerrors.ErrConfig, "db-type",
			"unsupported database type %q (want h2, sqlite, postgresql, "+
				"or mysql)", c.Type)
	}
	if c.Port != 0 && (c.Port < 1 || c.Port > 65535) {
		return cerrors.Ef(cerrors.ErrConfig, "db-port",
			"port %d out of range 1..65535", c.Port)
	}
	if c.Pool.MinSize < 1 || c.Pool.MaxSize < c.Pool.MinSize {
		return cerrors.Ef(cerrors.ErrConfig, "db-pool",
			"pool sizes must satisfy max >= min >= 1, got min=%d max=%d",
			c.Pool.MinSize, c.Pool.MaxSize)
	}
	return nil
}

// DSN derives the driver-specific data source name for the configuration.
// An explicit URL always wins.
func (c *Config) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	switch c.Type {
	case EngineSQLite:
		file := c.Database
		if file == "" {
			file = DefaultDatabaseFile
		}
		return file
	case EnginePostgreSQL, EngineH2:
		// The h2 engine is reached through the H2 server's
		// PostgreSQL-compatibility mode, so both share the pq DSN form.
		host, port := c.hostPort()
		dsn := fmt.Sprintf("host=%s port=%d dbname=%s sslmode=disable",
			host, port, c.databaseName())
		if c.User != "" {
			dsn += " user=" + c.User
		}
		if c.Password != "" {
			dsn += " password=" + c.Password
		}
		return dsn
	case EngineMySQL:
		host, port := c.hostPort()
		cred := c.User
		if c.Password != "" {
			cred += ":" + c.Password
		}
		return fmt.Sprintf("%s@tcp(%s:%d)/%s", cred, host, port,
			c.databaseName())
	}
	return ""
}

func (c *Config) hostPort() (string, int) {
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	port := c.Port
	if port == 0 {
		port = defaultPorts[c.Type]
	}
	return host, port
}

func (c *Config) databaseName() string {
	if c.Database == "" {
		return "blockchain"
	}
	return c.Database
}

// DriverName returns the database/sql driver name serving the engine.
func (c *Config) DriverName() string {
	switch c.Type {
	case EngineMySQL:
		return "mysql"
	case EnginePostgreSQL, EngineH2:
		return "postgres"
	default:
		return "sqlite3"
	}
}

// Masked returns a copy of the configuration with secret material redacted
// for display and export.
func (c *Config) Masked() Config {
	masked := *c
	if masked.Password != "" {
		masked.Password = MaskedValue
	}
	masked.URL = MaskValue("url", masked.URL)
	return masked
}
