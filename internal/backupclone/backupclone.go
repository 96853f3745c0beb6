// Package backupclone implements the six-step backup clone: import one
// backup's tree into the catalog, stage and prefetch the pool files it
// needs, then replay the tree onto the clone filesystem as hardlinks,
// copies, or directories.
package backupclone

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/sigreer/backuppc-clone/internal/backupscan"
	"github.com/sigreer/backuppc-clone/internal/catalog"
	"github.com/sigreer/backuppc-clone/internal/cloneconfig"
	"github.com/sigreer/backuppc-clone/internal/cloneio"
)

// Cloner clones individual (host, backup number) trees from the
// original onto the clone filesystem.
type Cloner struct {
	cat      *catalog.Catalog
	original cloneconfig.OriginalLayout
	clone    cloneconfig.Layout
	scanner  *backupscan.Scanner
	log      *logrus.Entry
}

// New creates a Cloner. logger may be nil to use the standard logger.
func New(cat *catalog.Catalog, original cloneconfig.OriginalLayout, clone cloneconfig.Layout, logger *logrus.Logger) *Cloner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Cloner{
		cat:      cat,
		original: original,
		clone:    clone,
		scanner:  backupscan.New(logger),
		log:      logger.WithField("component", "backupclone"),
	}
}

// Clone runs the full six-step clone of host/number.
func (c *Cloner) Clone(ctx context.Context, host string, number int) error {
	log := c.log.WithFields(logrus.Fields{"host": host, "backup": number})

	hostID, err := c.cat.HostEnsure(ctx, host)
	if err != nil {
		return fmt.Errorf("ensure host %s: %w", host, err)
	}
	backupID, err := c.cat.BackupEnsure(ctx, hostID, number)
	if err != nil {
		return fmt.Errorf("ensure backup %s/%d: %w", host, number, err)
	}

	originalDir := filepath.Join(c.original.PC, host, fmt.Sprintf("%d", number))

	if err := c.importTree(ctx, backupID, originalDir); err != nil {
		return fmt.Errorf("import tree for %s/%d: %w", host, number, err)
	}

	if err := c.cat.BackupSetProgress(ctx, backupID, true); err != nil {
		return fmt.Errorf("mark %s/%d in progress: %w", host, number, err)
	}

	required, err := c.cat.BackupPrepareRequiredCloneFiles(ctx, backupID)
	if err != nil {
		return fmt.Errorf("prepare required clone files for %s/%d: %w", host, number, err)
	}
	log.WithField("required_pool_files", required).Info("staged required clone pool files")
	if err := c.prefetchPoolFiles(ctx); err != nil {
		return err
	}

	cloneDir := filepath.Join(c.clone.PC, host, fmt.Sprintf("%d", number))
	if err := os.RemoveAll(cloneDir); err != nil {
		return fmt.Errorf("remove prior partial backup dir %s: %w", cloneDir, err)
	}
	if err := os.MkdirAll(cloneDir, 0o755); err != nil {
		return fmt.Errorf("create backup dir %s: %w", cloneDir, err)
	}

	total, err := c.cat.BackupPrepareTree(ctx, backupID)
	if err != nil {
		return fmt.Errorf("prepare tree for %s/%d: %w", host, number, err)
	}
	log.WithField("entries", total).Info("replaying backup tree")
	if err := c.replayTree(ctx, backupID, originalDir, cloneDir); err != nil {
		return err
	}

	if err := c.cat.BackupSetProgress(ctx, backupID, false); err != nil {
		return fmt.Errorf("mark %s/%d complete: %w", host, number, err)
	}
	log.Info("backup clone complete")
	return nil
}

// importTree loads the backup's tree CSV — reusing an existing pre-scan
// artifact if the original already produced one, otherwise scanning the
// tree on the fly — and bulk-inserts it as BackupEntry rows (step 1).
func (c *Cloner) importTree(ctx context.Context, backupID int64, originalDir string) error {
	var src io.Reader

	if backupscan.HasPreScan(originalDir) {
		f, err := backupscan.OpenPreScan(originalDir)
		if err != nil {
			return err
		}
		defer f.Close()
		src = f
	} else {
		var buf bytes.Buffer
		if _, err := c.scanner.Scan(originalDir, &buf); err != nil {
			return err
		}
		src = &buf
	}

	return c.cat.WithTx(ctx, func(tx *sql.Tx) error {
		if err := c.cat.BackupTreeClear(ctx, tx, backupID); err != nil {
			return err
		}
		n, err := c.cat.BackupTreeBulkInsert(ctx, tx, backupID, src)
		if err != nil {
			return err
		}
		c.log.WithField("entries", n).Debug("imported backup tree")
		return nil
	})
}

// prefetchPoolFiles walks the required_clone_files staging table in
// batches, copying each missing pool file from the original into the
// clone pool and recording its new clone_inode (step 3). The pool-drift
// guard compares the stat'd inode against the one recorded when the
// pool was scanned; a mismatch means the original rehashed or replaced
// the file since, and the whole backup must abort for the orchestrator
// to force a pool resync.
func (c *Cloner) prefetchPoolFiles(ctx context.Context) error {
	cur := c.cat.YieldRequiredCloneFiles(ctx)
	for {
		batch, err := cur.Next()
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		for _, f := range batch {
			srcPath := filepath.Join(f.Dir, f.Name)

			st, err := cloneio.StatPath(srcPath)
			if err != nil {
				if os.IsNotExist(err) {
					return &cloneio.SourceVanishedError{Path: srcPath, Err: err}
				}
				return fmt.Errorf("stat pool file %s: %w", srcPath, err)
			}
			if int64(st.Inode) != f.OriginalInode {
				return &cloneio.PoolDriftError{Path: srcPath, ExpectedInode: f.OriginalInode, ActualInode: int64(st.Inode)}
			}

			cloneDir, err := cloneio.RemapRoot(f.Dir, c.original.Top, c.clone.Top)
			if err != nil {
				return err
			}
			dstPath := filepath.Join(cloneDir, f.Name)
			if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
				return fmt.Errorf("create pool shard dir for %s: %w", dstPath, err)
			}
			dstStat, err := cloneio.Copy(srcPath, dstPath)
			if err != nil {
				if os.IsNotExist(err) {
					return &cloneio.SourceVanishedError{Path: srcPath, Err: err}
				}
				return fmt.Errorf("copy pool file %s: %w", srcPath, err)
			}

			if err := c.cat.WithTx(ctx, func(tx *sql.Tx) error {
				return c.cat.PoolUpdateClone(ctx, tx, f.OriginalInode, int64(dstStat.Inode), dstStat.Size, dstStat.Mtime)
			}); err != nil {
				return fmt.Errorf("record clone pool entry for %s: %w", srcPath, err)
			}
		}
	}
}

// replayTree walks the backup's tree in seq order, creating hardlinks
// for pool-backed files, copies for non-pool files, and directories for
// everything else (step 5).
func (c *Cloner) replayTree(ctx context.Context, backupID int64, originalDir, cloneDir string) error {
	cur := c.cat.YieldTree(ctx, backupID)
	for {
		batch, err := cur.Next()
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		for _, row := range batch {
			target := filepath.Join(cloneDir, row.Dir, row.Name)

			switch {
			case row.OriginalInode.Valid && row.CloneInode.Valid:
				poolPath, err := c.clonePoolPath(ctx, row.OriginalInode.Int64)
				if err != nil {
					return err
				}
				if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
					return fmt.Errorf("create parent dir for %s: %w", target, err)
				}
				if err := cloneio.Link(poolPath, target); err != nil {
					return fmt.Errorf("link %s: %w", target, err)
				}

			case row.OriginalInode.Valid:
				srcPath := filepath.Join(originalDir, row.Dir, row.Name)
				if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
					return fmt.Errorf("create parent dir for %s: %w", target, err)
				}
				if _, err := cloneio.Copy(srcPath, target); err != nil {
					if os.IsNotExist(err) {
						return &cloneio.SourceVanishedError{Path: srcPath, Err: err}
					}
					return fmt.Errorf("copy non-pool file %s: %w", target, err)
				}

			default:
				if err := os.MkdirAll(target, 0o755); err != nil {
					return fmt.Errorf("create directory %s: %w", target, err)
				}
			}
		}
	}
}

// clonePoolPath resolves the clone-side pool path for a file identified
// by its original inode.
func (c *Cloner) clonePoolPath(ctx context.Context, originalInode int64) (string, error) {
	pe, err := c.cat.PoolEntryByInode(ctx, originalInode)
	if err != nil {
		return "", fmt.Errorf("lookup pool entry for inode %d: %w", originalInode, err)
	}
	if pe == nil || !pe.CloneInode.Valid {
		return "", fmt.Errorf("pool entry for inode %d has no clone copy", originalInode)
	}
	cloneDir, err := cloneio.RemapRoot(pe.Dir, c.original.Top, c.clone.Top)
	if err != nil {
		return "", err
	}
	return filepath.Join(cloneDir, pe.Name), nil
}
