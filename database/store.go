// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	// SQL engine drivers.  The sqlite driver also serves the embedded
	// default; the postgres driver additionally serves the h2 engine
	// through the H2 PostgreSQL-compatibility server.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/rbatllet/blockchain-cli/cerrors"
	"github.com/rbatllet/blockchain-cli/dbconfig"
)

// Store owns the connection pool for one database and hands out
// unit-of-work transactions.
type Store struct {
	db      *sql.DB
	cfg     *dbconfig.Config
	dialect dialect
}

// dbError classifies a driver error under the DB kind.
func dbError(code string, err error) error {
	return cerrors.Wrap(cerrors.ErrDB, code, err, "database failure: "+err.Error())
}

// Open initialises the connection pool described by cfg and verifies the
// database is reachable.  When cfg.Hbm2ddl is "update" the baseline schema
// is created if absent.
func Open(ctx context.Context, cfg *dbconfig.Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.DriverName(), cfg.DSN())
	if err != nil {
		return nil, cerrors.Wrap(cerrors.ErrConfig, "db-open", err,
			"unable to open database: "+err.Error())
	}

	db.SetMaxOpenConns(cfg.Pool.MaxSize)
	db.SetMaxIdleConns(cfg.Pool.MinSize)
	db.SetConnMaxIdleTime(cfg.Pool.IdleTimeout)
	db.SetConnMaxLifetime(cfg.Pool.MaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Pool.AcquireTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, cerrors.Wrap(cerrors.ErrConfig, "db-unreachable", err,
			fmt.Sprintf("database %s is unreachable: %v", cfg.Type, err))
	}

	s := &Store{db: db, cfg: cfg, dialect: dialectFor(cfg.Type)}
	log.Infof("Connected to %s database (pool %d..%d)", cfg.Type,
		cfg.Pool.MinSize, cfg.Pool.MaxSize)

	if cfg.Hbm2ddl == "" || cfg.Hbm2ddl == "update" {
		if err := s.CreateSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Engine returns the engine the store is connected to.
func (s *Store) Engine() dbconfig.Engine {
	return s.cfg.Type
}

// Stats returns the live connection pool statistics.
func (s *Store) Stats() sql.DBStats {
	return s.db.Stats()
}

// Tx is the unit-of-work: one database transaction carrying every mutation
// of a single core operation.  One connection backs each active
// transaction and returns to the pool when the unit-of-work ends.
type Tx struct {
	conn    *sql.Conn
	tx      *sql.Tx
	ctx     context.Context
	dialect dialect
	showSQL bool
	done    bool
}

// Begin opens a unit-of-work.  Pool acquisition is bounded by the
// configured acquire timeout; the transaction itself lives on the
// caller's context.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, s.cfg.Pool.AcquireTimeout)
	conn, err := s.db.Conn(acquireCtx)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, cerrors.E(cerrors.ErrConflict, "pool-timeout",
				"timed out waiting for a database connection")
		}
		return nil, dbError("conn-acquire", err)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		conn.Close()
		return nil, dbError("tx-begin", err)
	}
	return &Tx{conn: conn, tx: tx, ctx: ctx, dialect: s.dialect,
		showSQL: s.cfg.ShowSQL}, nil
}

// Commit commits the unit-of-work and returns the connection to the pool.
func (t *Tx) Commit() error {
	t.done = true
	err := t.tx.Commit()
	t.conn.Close()
	if err != nil {
		return dbError("tx-commit", err)
	}
	return nil
}

// Rollback aborts the unit-of-work.  Calling it after Commit is a no-op,
// so it is safe to defer.
func (t *Tx) Rollback() {
	if t.done {
		return
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		log.Errorf("Transaction rollback failed: %v", err)
	}
	t.conn.Close()
}

// View runs fn inside a read-only unit-of-work that is always rolled back.
func (s *Store) View(ctx context.Context, fn func(*Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return fn(tx)
}

// Update runs fn inside a unit-of-work that commits when fn succeeds and
// rolls back otherwise.
func (s *Store) Update(ctx context.Context, fn func(*Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// exec runs a statement with dialect placeholder rebinding.
func (t *Tx) exec(query string, args ...interface{}) (sql.Result, error) {
	bound := t.dialect.rebind(query)
	if t.showSQL {
		log.Debugf("SQL: %s %v", bound, args)
	}
	return t.tx.ExecContext(t.ctx, bound, args...)
}

// query runs a query with dialect placeholder rebinding.
func (t *Tx) query(query string, args ...interface{}) (*sql.Rows, error) {
	bound := t.dialect.rebind(query)
	if t.showSQL {
		log.Debugf("SQL: %s %v", bound, args)
	}
	return t.tx.QueryContext(t.ctx, bound, args...)
}

// queryRow runs a single-row query with dialect placeholder rebinding.
func (t *Tx) queryRow(query string, args ...interface{}) *sql.Row {
	bound := t.dialect.rebind(query)
	if t.showSQL {
		log.Debugf("SQL: %s %v", bound, args)
	}
	return t.tx.QueryRowContext(t.ctx, bound, args...)
}

// ExecQuery runs a parameterised statement with dialect placeholder
// rebinding on behalf of subsystems layered above the store, classifying
// failures under the DB kind.
func (t *Tx) ExecQuery(query string, args ...interface{}) error {
	if _, err := t.exec(query, args...); err != nil {
		return dbError("exec", err)
	}
	return nil
}

// Query runs a parameterised query with dialect placeholder rebinding on
// behalf of subsystems layered above the store.
func (t *Tx) Query(query string, args ...interface{}) (*sql.Rows, error) {
	rows, err := t.query(query, args...)
	if err != nil {
		return nil, dbError("query", err)
	}
	return rows, nil
}

// ExecRaw executes a raw SQL statement (used by the migration engine)
// after dialect DDL rewriting.  Duplicate-index noise is tolerated.
func (t *Tx) ExecRaw(stmt string) error {
	stmt = t.dialect.ddl(stmt)
	if _, err := t.tx.ExecContext(t.ctx, stmt); err != nil {
		if IsIndexExists(stmt, err) {
			return nil
		}
		return dbError("exec", err)
	}
	return nil
}

// TruncateAll deletes every row of every core table.  Used by import in
// replace mode, inside the caller's unit-of-work.
func (t *Tx) TruncateAll() error {
	for _, table := range coreTables {
		if _, err := t.exec("DELETE FROM " + table); err != nil {
			return dbError("truncate", err)
		}
	}
	return nil
}
