package catalog

import (
	"context"
	"database/sql"
	"fmt"
)

// OriginalBackupReset truncates the OriginalBackup inventory table,
// ahead of a full repopulation.
func (c *Catalog) OriginalBackupReset(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM original_backups`); err != nil {
		return fmt.Errorf("reset original backup inventory: %w", err)
	}
	return nil
}

// OriginalBackupInsert adds one row to the OriginalBackup inventory.
func (c *Catalog) OriginalBackupInsert(ctx context.Context, tx *sql.Tx, ob OriginalBackup) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO original_backups (host, number, end_time, level, type)
		VALUES (?, ?, ?, ?, ?)
	`, ob.Host, ob.Number, ob.EndTime, ob.Level, ob.Type)
	if err != nil {
		return fmt.Errorf("insert original backup %s/%d: %w", ob.Host, ob.Number, err)
	}
	return nil
}

// NextBackup is a candidate backup for BackupClone to process next.
type NextBackup struct {
	Host    string
	Number  int
	EndTime int64
	Type    string
}

// BackupGetNext selects an OriginalBackup not yet cloned (no Backup row,
// or one with no tree committed), preferring full backups over
// incremental ones and the most recent end_time, restricted to
// end_time < cutoff unless cutoff is ForcePoolSync (-1), in which case
// all candidates are considered. Accepts both v3 and v4 backups: no
// filter is applied on the original `version` column.
func (c *Catalog) BackupGetNext(ctx context.Context, cutoff int64) (*NextBackup, error) {
	row := c.conn.QueryRowContext(ctx, `
		SELECT ob.host, ob.number, ob.end_time, ob.type
		FROM original_backups ob
		LEFT JOIN hosts h ON h.name = ob.host
		LEFT JOIN backups b ON b.host_id = h.id AND b.number = ob.number AND b.in_progress = 0
		WHERE b.id IS NULL
		  AND ob.type IN ('full', 'incr')
		  AND (? = -1 OR ob.end_time < ?)
		ORDER BY CASE ob.type WHEN 'full' THEN 0 ELSE 1 END, ob.end_time DESC
		LIMIT 1
	`, cutoff, cutoff)

	var nb NextBackup
	err := row.Scan(&nb.Host, &nb.Number, &nb.EndTime, &nb.Type)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pick next backup: %w", err)
	}
	return &nb, nil
}

// ObsoleteHost is a Host with no corresponding OriginalBackup row at all.
type ObsoleteHost struct {
	Name string
}

// ObsoleteHosts returns every Host absent from the OriginalBackup
// inventory.
func (c *Catalog) ObsoleteHosts(ctx context.Context) ([]ObsoleteHost, error) {
	rows, err := c.conn.QueryContext(ctx, `
		SELECT h.name FROM hosts h
		WHERE NOT EXISTS (SELECT 1 FROM original_backups ob WHERE ob.host = h.name)
	`)
	if err != nil {
		return nil, fmt.Errorf("list obsolete hosts: %w", err)
	}
	defer rows.Close()

	var out []ObsoleteHost
	for rows.Next() {
		var h ObsoleteHost
		if err := rows.Scan(&h.Name); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ObsoleteBackup is a (host, number) Backup pair with no matching
// OriginalBackup row.
type ObsoleteBackup struct {
	BackupID int64
	Host     string
	Number   int
}

// ObsoleteBackups returns every Backup with no matching OriginalBackup
// row. Backups of hosts absent from the original are included too; the
// orchestrator normally removes those hosts first via
// ObsoleteHosts/HostDeleteCascade.
func (c *Catalog) ObsoleteBackups(ctx context.Context) ([]ObsoleteBackup, error) {
	rows, err := c.conn.QueryContext(ctx, `
		SELECT b.id, h.name, b.number
		FROM backups b
		JOIN hosts h ON h.id = b.host_id
		WHERE NOT EXISTS (
			SELECT 1 FROM original_backups ob
			WHERE ob.host = h.name AND ob.number = b.number
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("list obsolete backups: %w", err)
	}
	defer rows.Close()

	var out []ObsoleteBackup
	for rows.Next() {
		var b ObsoleteBackup
		if err := rows.Scan(&b.BackupID, &b.Host, &b.Number); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// PartiallyClonedBackup is a Backup whose in_progress flag marks it dirty.
type PartiallyClonedBackup struct {
	BackupID int64
	Host     string
	Number   int
}

// PartiallyClonedBackups returns every Backup with in_progress != 0,
// treating NULL the same as 1: a row that was never explicitly marked
// complete must be assumed incomplete.
func (c *Catalog) PartiallyClonedBackups(ctx context.Context) ([]PartiallyClonedBackup, error) {
	rows, err := c.conn.QueryContext(ctx, `
		SELECT b.id, h.name, b.number
		FROM backups b
		JOIN hosts h ON h.id = b.host_id
		WHERE b.in_progress IS NULL OR b.in_progress != 0
	`)
	if err != nil {
		return nil, fmt.Errorf("list partially cloned backups: %w", err)
	}
	defer rows.Close()

	var out []PartiallyClonedBackup
	for rows.Next() {
		var b PartiallyClonedBackup
		if err := rows.Scan(&b.BackupID, &b.Host, &b.Number); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
