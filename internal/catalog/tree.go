package catalog

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// BackupTreeClear removes all BackupEntry rows for a backup, in
// preparation for a fresh bulk load.
func (c *Catalog) BackupTreeClear(ctx context.Context, tx *sql.Tx, backupID int64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM backup_entries WHERE backup_id = ?`, backupID)
	if err != nil {
		return fmt.Errorf("clear backup tree %d: %w", backupID, err)
	}
	return nil
}

// BackupTreeBulkInsert reads "seq,inode_or_empty,dir,name" rows from csvSrc
// and inserts them as BackupEntry rows for backupID, one execution of a
// single prepared statement per row.
func (c *Catalog) BackupTreeBulkInsert(ctx context.Context, tx *sql.Tx, backupID int64, csvSrc io.Reader) (int, error) {
	r := csv.NewReader(csvSrc)
	r.FieldsPerRecord = 4

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backup_entries (backup_id, seq, original_inode, dir, name)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare backup tree insert: %w", err)
	}
	defer stmt.Close()

	count := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, fmt.Errorf("read backup tree csv: %w", err)
		}

		seq, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			return count, fmt.Errorf("parse seq %q: %w", rec[0], err)
		}

		var inode any
		if rec[1] != "" {
			v, err := strconv.ParseInt(rec[1], 10, 64)
			if err != nil {
				return count, fmt.Errorf("parse inode %q: %w", rec[1], err)
			}
			inode = v
		}

		if _, err := stmt.ExecContext(ctx, backupID, seq, inode, rec[2], rec[3]); err != nil {
			return count, fmt.Errorf("insert backup entry: %w", err)
		}
		count++
	}
	return count, nil
}

// BackupPrepareRequiredCloneFiles rebuilds the required_clone_files
// staging table with the distinct PoolEntry rows that backupID's tree
// references but that still lack a clone_inode. Returns the row count.
func (c *Catalog) BackupPrepareRequiredCloneFiles(ctx context.Context, backupID int64) (int, error) {
	var count int
	err := c.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM required_clone_files`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO required_clone_files (pool_entry_id, original_inode, dir, name)
			SELECT DISTINCT pe.id, pe.original_inode, pe.dir, pe.name
			FROM backup_entries be
			JOIN pool_entries pe ON pe.original_inode = be.original_inode
			WHERE be.backup_id = ? AND pe.clone_inode IS NULL
		`, backupID)
		if err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM required_clone_files`).Scan(&count)
	})
	return count, err
}

// YieldRequiredCloneFiles streams the required_clone_files staging table
// in BatchSize pages, releasing the underlying cursor between pages.
func (c *Catalog) YieldRequiredCloneFiles(ctx context.Context) *RequiredCloneFileCursor {
	return &RequiredCloneFileCursor{c: c, ctx: ctx}
}

// RequiredCloneFileCursor is a bounded-batch iterator over staged
// required-pool-file rows.
type RequiredCloneFileCursor struct {
	c       *Catalog
	ctx     context.Context
	lastID  int64
	done    bool
}

// Next returns up to BatchSize rows, or an empty slice once exhausted.
func (cur *RequiredCloneFileCursor) Next() ([]RequiredCloneFile, error) {
	if cur.done {
		return nil, nil
	}
	rows, err := cur.c.conn.QueryContext(cur.ctx, `
		SELECT rowid, pool_entry_id, original_inode, dir, name
		FROM required_clone_files
		WHERE rowid > ?
		ORDER BY rowid
		LIMIT ?
	`, cur.lastID, BatchSize)
	if err != nil {
		return nil, fmt.Errorf("yield required clone files: %w", err)
	}
	defer rows.Close()

	var batch []RequiredCloneFile
	for rows.Next() {
		var rowid int64
		var f RequiredCloneFile
		if err := rows.Scan(&rowid, &f.PoolEntryID, &f.OriginalInode, &f.Dir, &f.Name); err != nil {
			return nil, fmt.Errorf("scan required clone file: %w", err)
		}
		cur.lastID = rowid
		batch = append(batch, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(batch) < BatchSize {
		cur.done = true
	}
	return batch, nil
}

// BackupPrepareTree validates that backupID has entries to replay and
// returns the row count (backup_entries joined with pool_entries is
// computed lazily by YieldTree; this just reports size for progress
// reporting).
func (c *Catalog) BackupPrepareTree(ctx context.Context, backupID int64) (int, error) {
	var count int
	err := c.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM backup_entries WHERE backup_id = ?`, backupID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("prepare backup tree %d: %w", backupID, err)
	}
	return count, nil
}

// YieldTree streams backupID's entries in seq order, joined against
// pool_entries, in BatchSize pages.
func (c *Catalog) YieldTree(ctx context.Context, backupID int64) *TreeCursor {
	return &TreeCursor{c: c, ctx: ctx, backupID: backupID, lastSeq: -1}
}

// TreeCursor is a bounded-batch iterator over one backup's replay rows,
// ordered by seq so every directory precedes its children (I4). Several
// rows can share one seq value (files within a directory), so the cursor
// keys on (seq, rowid) rather than seq alone to avoid dropping rows when
// a same-seq group straddles a batch boundary.
type TreeCursor struct {
	c          *Catalog
	ctx        context.Context
	backupID   int64
	lastSeq    int64
	lastRowID  int64
	done       bool
}

// Next returns up to BatchSize rows in ascending (seq, rowid) order, or
// an empty slice once exhausted.
func (cur *TreeCursor) Next() ([]TreeRow, error) {
	if cur.done {
		return nil, nil
	}
	rows, err := cur.c.conn.QueryContext(cur.ctx, `
		SELECT be.rowid, be.seq, be.original_inode, be.dir, be.name, pe.clone_inode
		FROM backup_entries be
		LEFT JOIN pool_entries pe ON pe.original_inode = be.original_inode
		WHERE be.backup_id = ?
		  AND (be.seq > ? OR (be.seq = ? AND be.rowid > ?))
		ORDER BY be.seq, be.rowid
		LIMIT ?
	`, cur.backupID, cur.lastSeq, cur.lastSeq, cur.lastRowID, BatchSize)
	if err != nil {
		return nil, fmt.Errorf("yield backup tree: %w", err)
	}
	defer rows.Close()

	var batch []TreeRow
	for rows.Next() {
		var rowid int64
		var r TreeRow
		if err := rows.Scan(&rowid, &r.Seq, &r.OriginalInode, &r.Dir, &r.Name, &r.CloneInode); err != nil {
			return nil, fmt.Errorf("scan backup tree row: %w", err)
		}
		cur.lastSeq = r.Seq
		cur.lastRowID = rowid
		batch = append(batch, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(batch) < BatchSize {
		cur.done = true
	}
	return batch, nil
}
