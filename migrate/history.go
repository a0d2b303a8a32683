// Copyright (c) 2024-2026 The blockchain-cli developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package migrate

import (
	"database/sql"
	"time"

	"github.com/rbatllet/blockchain-cli/database"
)

const historyColumns = `installed_rank, version, description, type, script,
	checksum, installed_by, installed_on, execution_time, success`

// insertHistory appends one schema_history row.
func insertHistory(tx *database.Tx, row *HistoryRow) error {
	var checksum sql.NullInt64
	if row.Checksum != nil {
		checksum = sql.NullInt64{Int64: int64(*row.Checksum), Valid: true}
	}
	return tx.ExecQuery(`INSERT INTO schema_history (`+historyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.InstalledRank, row.Version, row.Description, row.Type,
		row.Script, checksum, row.InstalledBy,
		row.InstalledOn.Format(timeLayout), row.ExecutionTimeMs,
		row.Success)
}

// timeLayout is the portable textual form for the installed_on TIMESTAMP
// column.
const timeLayout = "2006-01-02 15:04:05"

// loadHistory reads schema_history ordered by installation rank.
func loadHistory(tx *database.Tx) ([]*HistoryRow, error) {
	rows, err := tx.Query(`SELECT ` + historyColumns +
		` FROM schema_history ORDER BY installed_rank ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []*HistoryRow
	for rows.Next() {
		var row HistoryRow
		var checksum sql.NullInt64
		var installedOn interface{}
		err := rows.Scan(&row.InstalledRank, &row.Version, &row.Description,
			&row.Type, &row.Script, &checksum, &row.InstalledBy,
			&installedOn, &row.ExecutionTimeMs, &row.Success)
		if err != nil {
			return nil, err
		}
		if checksum.Valid {
			v := int32(checksum.Int64)
			row.Checksum = &v
		}
		// Engines disagree on how TIMESTAMP columns scan.
		switch v := installedOn.(type) {
		case time.Time:
			row.InstalledOn = v
		case []byte:
			row.InstalledOn, _ = time.Parse(timeLayout, string(v))
		case string:
			row.InstalledOn, _ = time.Parse(timeLayout, v)
		}
		history = append(history, &row)
	}
	return history, rows.Err()
}
