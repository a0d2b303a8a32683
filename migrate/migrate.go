// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package migrate

import (
	"context"
	"embed"
	"hash/crc32"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rbatllet/blockchain-cli/cerrors"
	"github.com/rbatllet/blockchain-cli/database"
)

//go:embed scripts/V*.sql
var scriptFS embed.FS

// migrationNameRE matches versioned migration resources:
// V<n>__<description>.sql.
var migrationNameRE = regexp.MustCompile(`^V(\d+)__(.+)\.sql$`)

// Migration is one discovered migration resource.
type Migration struct {
	// Version is the numeric order of the migration.
	Version int

	// Description derives from the file name, underscores replaced by
	// spaces.
	Description string

	// Script is the resource name.
	Script string

	// Body is the script text.
	Body string
}

// VersionTag renders the version in its history form ("V1").
func (m *Migration) VersionTag() string {
	return "V" + strconv.Itoa(m.Version)
}

// Checksum is the CRC-32 of the normalised script body: line endings
// canonicalised and trailing per-line whitespace stripped, so formatting
// churn does not count as a change.
func (m *Migration) Checksum() int32 {
	lines := strings.Split(strings.ReplaceAll(m.Body, "\r\n", "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	normalised := strings.TrimRight(strings.Join(lines, "\n"), "\n")
	return int32(crc32.ChecksumIEEE([]byte(normalised)))
}

// HistoryRow mirrors one row of the schema_history table.
type HistoryRow struct {
	InstalledRank   int
	Version         string
	Description     string
	Type            string
	Script          string
	Checksum        *int32
	InstalledBy     string
	InstalledOn     time.Time
	ExecutionTimeMs int64
	Success         bool
}

// Engine discovers, validates, and applies migrations against a store.
type Engine struct {
	store *database.Store
	fsys  fs.FS
	dir   string
}

// New returns a migration engine over the embedded script resources.
func New(store *database.Store) *Engine {
	return &Engine{store: store, fsys: scriptFS, dir: "scripts"}
}

// NewWithFS returns a migration engine over an arbitrary resource tree.
// Used by tests and by operators shipping extra migrations.
func NewWithFS(store *database.Store, fsys fs.FS, dir string) *Engine {
	return &Engine{store: store, fsys: fsys, dir: dir}
}

// Discover lists the migration resources in ascending version order.
func (e *Engine) Discover() ([]*Migration, error) {
	entries, err := fs.ReadDir(e.fsys, e.dir)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.ErrIO, "migrations", err,
			"unable to list migration resources: "+err.Error())
	}

	var migrations []*Migration
	seen := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := migrationNameRE.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		version, err := strconv.Atoi(m[1])
		if err != nil || version < 1 {
			return nil, cerrors.Ef(cerrors.ErrUsage, "migration-name",
				"invalid migration version in %q", entry.Name())
		}
		if prev, ok := seen[version]; ok {
			return nil, cerrors.Ef(cerrors.ErrConflict, "migration-dup",
				"migrations %q and %q share version %d", prev,
				entry.Name(), version)
		}
		seen[version] = entry.Name()

		body, err := fs.ReadFile(e.fsys, e.dir+"/"+entry.Name())
		if err != nil {
			return nil, cerrors.Wrap(cerrors.ErrIO, "migrations", err,
				"unable to read "+entry.Name()+": "+err.Error())
		}
		migrations = append(migrations, &Migration{
			Version:     version,
			Description: strings.ReplaceAll(m[2], "_", " "),
			Script:      entry.Name(),
			Body:        string(body),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// historyDDL creates the schema_history table.
const historyDDL = `CREATE TABLE IF NOT EXISTS schema_history (
	installed_rank INTEGER NOT NULL,
	version VARCHAR(50) NOT NULL,
	description VARCHAR(200) NOT NULL,
	type VARCHAR(20) NOT NULL,
	script VARCHAR(1000) NOT NULL,
	checksum INTEGER,
	installed_by VARCHAR(100) NOT NULL,
	installed_on TIMESTAMP NOT NULL,
	execution_time INTEGER NOT NULL,
	success BOOLEAN NOT NULL,
	PRIMARY KEY (installed_rank)
)`

func (e *Engine) ensureHistoryTable(ctx context.Context) error {
	return e.store.Update(ctx, func(tx *database.Tx) error {
		return tx.ExecRaw(historyDDL)
	})
}

// History returns the schema_history rows in installation order.
func (e *Engine) History(ctx context.Context) ([]*HistoryRow, error) {
	if err := e.ensureHistoryTable(ctx); err != nil {
		return nil, err
	}
	var rows []*HistoryRow
	err := e.store.View(ctx, func(tx *database.Tx) error {
		var err error
		rows, err = loadHistory(tx)
		return err
	})
	return rows, err
}

// CurrentVersion returns the highest successfully applied version tag, or
// "none" when no migration has been applied.
func (e *Engine) CurrentVersion(ctx context.Context) (string, error) {
	rows, err := e.History(ctx)
	if err != nil {
		return "", err
	}
	best := 0
	for _, row := range rows {
		if !row.Success {
			continue
		}
		if v := numericVersion(row.Version); v > best {
			best = v
		}
	}
	if best == 0 {
		return "none", nil
	}
	return "V" + strconv.Itoa(best), nil
}

func numericVersion(tag string) int {
	v, err := strconv.Atoi(strings.TrimPrefix(tag, "V"))
	if err != nil {
		return 0
	}
	return v
}

// Validate verifies that every applied migration still matches its
// resource: identical checksum, contiguous ordering, and no applied
// version missing from the resources.
func (e *Engine) Validate(ctx context.Context) error {
	migrations, err := e.Discover()
	if err != nil {
		return err
	}
	byVersion := make(map[int]*Migration, len(migrations))
	for _, m := range migrations {
		byVersion[m.Version] = m
	}

	rows, err := e.History(ctx)
	if err != nil {
		return err
	}

	applied := make([]int, 0, len(rows))
	for _, row := range rows {
		if !row.Success {
			continue
		}
		version := numericVersion(row.Version)
		applied = append(applied, version)

		m, ok := byVersion[version]
		if !ok {
			return cerrors.Ef(cerrors.ErrIntegrity, "migration-missing",
				"applied migration %s is missing from the resources",
				row.Version)
		}
		if row.Checksum == nil || *row.Checksum != m.Checksum() {
			return cerrors.Ef(cerrors.ErrIntegrity, "migration-checksum",
				"checksum mismatch for %s: script %q changed after it "+
					"was applied", row.Version, m.Script)
		}
	}

	sort.Ints(applied)
	for i, version := range applied {
		if version != i+1 {
			return cerrors.Ef(cerrors.ErrIntegrity, "migration-order",
				"applied versions are not contiguous: found V%d at "+
					"position %d", version, i+1)
		}
	}
	return nil
}

// Run applies every pending migration in ascending order, one transaction
// per migration.  On failure the migration rolls back, a success=false
// history row is recorded, and the run stops.  It returns how many
// migrations were applied.
func (e *Engine) Run(ctx context.Context) (int, error) {
	if err := e.ensureHistoryTable(ctx); err != nil {
		return 0, err
	}
	migrations, err := e.Discover()
	if err != nil {
		return 0, err
	}

	appliedVersions := make(map[int]bool)
	nextRank := 1
	rows, err := e.History(ctx)
	if err != nil {
		return 0, err
	}
	for _, row := range rows {
		if row.Success {
			appliedVersions[numericVersion(row.Version)] = true
		}
		if row.InstalledRank >= nextRank {
			nextRank = row.InstalledRank + 1
		}
	}

	applied := 0
	for _, m := range migrations {
		if appliedVersions[m.Version] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return applied, cerrors.Wrap(cerrors.ErrIO, "cancelled", err,
				"migration run cancelled")
		}

		log.Infof("Applying migration %s: %s", m.VersionTag(), m.Description)
		start := time.Now()
		runErr := e.store.Update(ctx, func(tx *database.Tx) error {
			for _, stmt := range splitStatements(m.Body) {
				if err := tx.ExecRaw(stmt); err != nil {
					return err
				}
			}
			return nil
		})
		elapsed := time.Since(start).Milliseconds()

		record := e.recordHistory(ctx, m, nextRank, elapsed, runErr == nil)
		if record != nil {
			return applied, record
		}
		nextRank++

		if runErr != nil {
			return applied, cerrors.Wrap(cerrors.ErrDB, "migration-failed",
				runErr, "migration "+m.VersionTag()+" failed: "+
					runErr.Error())
		}
		applied++
	}
	return applied, nil
}

// recordHistory inserts one schema_history row in its own transaction so
// a failed migration still leaves its trace.
func (e *Engine) recordHistory(ctx context.Context, m *Migration, rank int,
	elapsedMs int64, success bool) error {

	checksum := m.Checksum()
	return e.store.Update(ctx, func(tx *database.Tx) error {
		return insertHistory(tx, &HistoryRow{
			InstalledRank:   rank,
			Version:         m.VersionTag(),
			Description:     m.Description,
			Type:            "SQL",
			Script:          m.Script,
			Checksum:        &checksum,
			InstalledBy:     installedBy(),
			InstalledOn:     time.Now().UTC(),
			ExecutionTimeMs: elapsedMs,
			Success:         success,
		})
	})
}

func installedBy() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "blockchain-cli"
}

// splitStatements breaks a script into executable statements on statement
// terminators, dropping comment-only and empty fragments.
func splitStatements(body string) []string {
	var statements []string
	for _, raw := range strings.Split(body, ";") {
		var lines []string
		for _, line := range strings.Split(raw, "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || strings.HasPrefix(trimmed, "--") {
				continue
			}
			lines = append(lines, line)
		}
		stmt := strings.TrimSpace(strings.Join(lines, "\n"))
		if stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}
