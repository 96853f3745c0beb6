package catalog

import (
	"context"
	"database/sql"
	"fmt"
)

// HostEnsure returns the id of the host named name, creating it if it
// does not already exist.
func (c *Catalog) HostEnsure(ctx context.Context, name string) (int64, error) {
	var id int64
	err := c.conn.QueryRowContext(ctx, `SELECT id FROM hosts WHERE name = ?`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("lookup host %s: %w", name, err)
	}

	res, err := c.conn.ExecContext(ctx, `INSERT INTO hosts (name) VALUES (?)`, name)
	if err != nil {
		return 0, fmt.Errorf("insert host %s: %w", name, err)
	}
	return res.LastInsertId()
}

// BackupEnsure returns the id of the (host, number) backup, creating it
// (with in_progress left NULL) if it does not already exist.
func (c *Catalog) BackupEnsure(ctx context.Context, hostID int64, number int) (int64, error) {
	var id int64
	err := c.conn.QueryRowContext(ctx, `SELECT id FROM backups WHERE host_id = ? AND number = ?`, hostID, number).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("lookup backup %d/%d: %w", hostID, number, err)
	}

	res, err := c.conn.ExecContext(ctx, `INSERT INTO backups (host_id, number) VALUES (?, ?)`, hostID, number)
	if err != nil {
		return 0, fmt.Errorf("insert backup %d/%d: %w", hostID, number, err)
	}
	return res.LastInsertId()
}

// BackupSetProgress flips a backup's in_progress flag. flag=false writes
// 0 (complete); flag=true writes 1 (dirty/rebuildable).
func (c *Catalog) BackupSetProgress(ctx context.Context, backupID int64, flag bool) error {
	v := 0
	if flag {
		v = 1
	}
	_, err := c.conn.ExecContext(ctx, `UPDATE backups SET in_progress = ? WHERE id = ?`, v, backupID)
	if err != nil {
		return fmt.Errorf("set backup %d progress: %w", backupID, err)
	}
	return nil
}

// HostDeleteCascade removes a host and every backup/entry belonging to it.
func (c *Catalog) HostDeleteCascade(ctx context.Context, name string) error {
	return c.WithTx(ctx, func(tx *sql.Tx) error {
		var hostID int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM hosts WHERE name = ?`, name).Scan(&hostID)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lookup host %s: %w", name, err)
		}

		rows, err := tx.QueryContext(ctx, `SELECT id FROM backups WHERE host_id = ?`, hostID)
		if err != nil {
			return fmt.Errorf("list backups for host %s: %w", name, err)
		}
		var backupIDs []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			backupIDs = append(backupIDs, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, id := range backupIDs {
			if _, err := tx.ExecContext(ctx, `DELETE FROM backup_entries WHERE backup_id = ?`, id); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM backups WHERE host_id = ?`, hostID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM hosts WHERE id = ?`, hostID); err != nil {
			return err
		}
		return nil
	})
}

// BackupDeleteCascade removes one backup and its entries.
func (c *Catalog) BackupDeleteCascade(ctx context.Context, backupID int64) error {
	return c.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM backup_entries WHERE backup_id = ?`, backupID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM backups WHERE id = ?`, backupID); err != nil {
			return err
		}
		return nil
	})
}

// HostName returns a host's name by id.
func (c *Catalog) HostName(ctx context.Context, hostID int64) (string, error) {
	var name string
	err := c.conn.QueryRowContext(ctx, `SELECT name FROM hosts WHERE id = ?`, hostID).Scan(&name)
	if err != nil {
		return "", fmt.Errorf("lookup host %d: %w", hostID, err)
	}
	return name, nil
}

// BackupNumber returns a backup's (host name, number) by id.
func (c *Catalog) BackupNumber(ctx context.Context, backupID int64) (string, int, error) {
	var host string
	var number int
	err := c.conn.QueryRowContext(ctx, `
		SELECT hosts.name, backups.number
		FROM backups JOIN hosts ON hosts.id = backups.host_id
		WHERE backups.id = ?
	`, backupID).Scan(&host, &number)
	if err != nil {
		return "", 0, fmt.Errorf("lookup backup %d: %w", backupID, err)
	}
	return host, number, nil
}
