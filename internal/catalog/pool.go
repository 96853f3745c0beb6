package catalog

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// ImportPoolLoad truncates the ImportPool staging table and bulk-loads
// "inode,dir,name" rows from csvSrc. Returns the row count loaded.
func (c *Catalog) ImportPoolLoad(ctx context.Context, tx *sql.Tx, csvSrc io.Reader) (int, error) {
	if _, err := tx.ExecContext(ctx, `DELETE FROM import_pool`); err != nil {
		return 0, fmt.Errorf("truncate import_pool: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO import_pool (inode, dir, name) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare import_pool insert: %w", err)
	}
	defer stmt.Close()

	r := csv.NewReader(csvSrc)
	r.FieldsPerRecord = 3
	count := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, fmt.Errorf("read pool scan csv: %w", err)
		}
		inode, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			return count, fmt.Errorf("parse inode %q: %w", rec[0], err)
		}
		if _, err := stmt.ExecContext(ctx, inode, rec[1], rec[2]); err != nil {
			return count, fmt.Errorf("insert import_pool row: %w", err)
		}
		count++
	}
	return count, nil
}

// PoolDiffApplyOriginal reconciles PoolEntry against the current
// ImportPool snapshot of the original pool: it inserts PoolEntry rows
// for (inode, dir, name) triples newly observed in ImportPool, and
// deletes PoolEntry rows without a clone copy whose (original_inode,
// dir, name) triple no longer appears in ImportPool at all (the file
// vanished from the original). Rows that do have a clone copy are kept,
// so PoolPrepareObsoleteClone can stage them for clone-file removal.
// The multiset-count comparison on insert guards against the
// same triple being both added and removed when a pool file is replaced
// in-place between scans.
func (c *Catalog) PoolDiffApplyOriginal(ctx context.Context, tx *sql.Tx) (inserted, deleted int64, err error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO pool_entries (original_inode, dir, name)
		SELECT ip.inode, ip.dir, ip.name
		FROM (
			SELECT inode, dir, name, COUNT(*) AS import_count
			FROM import_pool
			GROUP BY inode, dir, name
		) ip
		LEFT JOIN (
			SELECT original_inode, dir, name, COUNT(*) AS pool_count
			FROM pool_entries
			GROUP BY original_inode, dir, name
		) pe ON pe.original_inode = ip.inode AND pe.dir = ip.dir AND pe.name = ip.name
		WHERE COALESCE(pe.pool_count, 0) < ip.import_count
	`)
	if err != nil {
		return 0, 0, fmt.Errorf("apply pool diff inserts: %w", err)
	}
	inserted, _ = res.RowsAffected()

	res, err = tx.ExecContext(ctx, `
		DELETE FROM pool_entries
		WHERE original_inode IS NOT NULL
		  AND clone_inode IS NULL
		  AND NOT EXISTS (
			SELECT 1 FROM import_pool ip
			WHERE ip.inode = pool_entries.original_inode
			  AND ip.dir = pool_entries.dir
			  AND ip.name = pool_entries.name
		  )
	`)
	if err != nil {
		return inserted, 0, fmt.Errorf("apply pool diff deletes: %w", err)
	}
	deleted, _ = res.RowsAffected()
	return inserted, deleted, nil
}

// PoolDeleteMissingClone removes PoolEntry rows whose recorded clone-side
// copy is not present in the current ImportPool snapshot of the *clone*
// pool (self-healing when a clone pool file disappeared externally). A
// clone copy counts as present when the snapshot has a file with its
// clone_inode and name; pool_entries.dir is the original-side directory,
// so it is not compared against the clone-side paths of the snapshot.
func (c *Catalog) PoolDeleteMissingClone(ctx context.Context, tx *sql.Tx) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		DELETE FROM pool_entries
		WHERE clone_inode IS NOT NULL
		  AND NOT EXISTS (
			SELECT 1 FROM import_pool ip
			WHERE ip.inode = pool_entries.clone_inode
			  AND ip.name = pool_entries.name
		  )
	`)
	if err != nil {
		return 0, fmt.Errorf("delete pool entries with missing clone copy: %w", err)
	}
	return res.RowsAffected()
}

// PoolPrepareObsoleteClone rebuilds the obsolete_clone_pool staging table
// with PoolEntry rows whose clone_inode is set but whose (inode, dir,
// name) no longer appears in the current ImportPool snapshot of the
// original. Returns the row count.
func (c *Catalog) PoolPrepareObsoleteClone(ctx context.Context) (int, error) {
	var count int
	err := c.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM obsolete_clone_pool`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO obsolete_clone_pool (pool_entry_id, original_inode, clone_inode, dir, name)
			SELECT pe.id, pe.original_inode, pe.clone_inode, pe.dir, pe.name
			FROM pool_entries pe
			WHERE pe.clone_inode IS NOT NULL
			  AND NOT EXISTS (
				SELECT 1 FROM import_pool ip
				WHERE ip.inode = pe.original_inode AND ip.dir = pe.dir AND ip.name = pe.name
			  )
		`)
		if err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM obsolete_clone_pool`).Scan(&count)
	})
	return count, err
}

// ObsoleteClonePoolEntry is one staged row awaiting clone-pool file
// deletion.
type ObsoleteClonePoolEntry struct {
	PoolEntryID   int64
	OriginalInode int64
	CloneInode    int64
	Dir           string
	Name          string
}

// YieldObsoleteClonePool streams the obsolete_clone_pool staging table in
// BatchSize pages.
func (c *Catalog) YieldObsoleteClonePool(ctx context.Context) *ObsoleteClonePoolCursor {
	return &ObsoleteClonePoolCursor{c: c, ctx: ctx}
}

// ObsoleteClonePoolCursor is a bounded-batch iterator over staged
// obsolete clone pool rows.
type ObsoleteClonePoolCursor struct {
	c      *Catalog
	ctx    context.Context
	lastID int64
	done   bool
}

// Next returns up to BatchSize rows, or an empty slice once exhausted.
func (cur *ObsoleteClonePoolCursor) Next() ([]ObsoleteClonePoolEntry, error) {
	if cur.done {
		return nil, nil
	}
	rows, err := cur.c.conn.QueryContext(cur.ctx, `
		SELECT rowid, pool_entry_id, original_inode, clone_inode, dir, name
		FROM obsolete_clone_pool
		WHERE rowid > ?
		ORDER BY rowid
		LIMIT ?
	`, cur.lastID, BatchSize)
	if err != nil {
		return nil, fmt.Errorf("yield obsolete clone pool: %w", err)
	}
	defer rows.Close()

	var batch []ObsoleteClonePoolEntry
	for rows.Next() {
		var rowid int64
		var e ObsoleteClonePoolEntry
		if err := rows.Scan(&rowid, &e.PoolEntryID, &e.OriginalInode, &e.CloneInode, &e.Dir, &e.Name); err != nil {
			return nil, fmt.Errorf("scan obsolete clone pool row: %w", err)
		}
		cur.lastID = rowid
		batch = append(batch, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(batch) < BatchSize {
		cur.done = true
	}
	return batch, nil
}

// PoolDeleteEntries removes PoolEntry rows by id, used after their clone
// files have been garbage-collected.
func (c *Catalog) PoolDeleteEntries(ctx context.Context, tx *sql.Tx, ids []int64) error {
	stmt, err := tx.PrepareContext(ctx, `DELETE FROM pool_entries WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("prepare pool entry delete: %w", err)
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("delete pool entry %d: %w", id, err)
		}
	}
	return nil
}

// PoolUpdateClone records that originalInode's pool file has been
// mirrored to the clone pool as cloneInode, with the observed size and
// mtime (unix seconds).
func (c *Catalog) PoolUpdateClone(ctx context.Context, tx *sql.Tx, originalInode, cloneInode, size, mtime int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE pool_entries SET clone_inode = ?, size = ?, mtime = ?
		WHERE original_inode = ?
	`, cloneInode, size, mtime, originalInode)
	if err != nil {
		return fmt.Errorf("update pool entry clone inode for %d: %w", originalInode, err)
	}
	return nil
}

// PoolEntryByInode looks up a PoolEntry by its original inode.
func (c *Catalog) PoolEntryByInode(ctx context.Context, originalInode int64) (*PoolEntry, error) {
	var pe PoolEntry
	err := c.conn.QueryRowContext(ctx, `
		SELECT id, original_inode, dir, name, clone_inode, size, mtime
		FROM pool_entries WHERE original_inode = ?
	`, originalInode).Scan(&pe.ID, &pe.OriginalInode, &pe.Dir, &pe.Name, &pe.CloneInode, &pe.Size, &pe.Mtime)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup pool entry %d: %w", originalInode, err)
	}
	return &pe, nil
}
