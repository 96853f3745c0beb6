// Package poolsync implements the four-step pool synchronization pass:
// heal the clone pool against what is physically present, diff the
// original pool into the catalog, garbage-collect clone files the
// original no longer has, and record the sync time.
package poolsync

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sigreer/backuppc-clone/internal/catalog"
	"github.com/sigreer/backuppc-clone/internal/cloneconfig"
	"github.com/sigreer/backuppc-clone/internal/cloneio"
	"github.com/sigreer/backuppc-clone/internal/poolscan"
)

// Syncer runs pool synchronization passes against one catalog/layout
// pair.
type Syncer struct {
	cat      *catalog.Catalog
	original cloneconfig.OriginalLayout
	clone    cloneconfig.Layout
	scanner  *poolscan.Scanner
	log      *logrus.Entry
	now      func() time.Time
}

// New creates a Syncer. logger may be nil to use the standard logger.
func New(cat *catalog.Catalog, original cloneconfig.OriginalLayout, clone cloneconfig.Layout, logger *logrus.Logger) *Syncer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Syncer{
		cat:      cat,
		original: original,
		clone:    clone,
		scanner:  poolscan.New(logger),
		log:      logger.WithField("component", "poolsync"),
		now:      time.Now,
	}
}

// Synchronize runs the full four-step pass.
func (s *Syncer) Synchronize(ctx context.Context) error {
	startedAt := s.now()

	if err := s.reconcileClonePool(ctx); err != nil {
		return fmt.Errorf("reconcile clone pool: %w", err)
	}

	inserted, deleted, err := s.diffOriginalPool(ctx)
	if err != nil {
		return fmt.Errorf("diff original pool: %w", err)
	}
	s.log.WithFields(logrus.Fields{"inserted": inserted, "deleted": deleted}).Info("applied original pool diff")

	gcCount, err := s.gcObsoleteClonePool(ctx)
	if err != nil {
		return fmt.Errorf("gc obsolete clone pool: %w", err)
	}
	s.log.WithField("removed", gcCount).Info("garbage-collected obsolete clone pool files")

	if err := s.cat.SetLastPoolSync(ctx, startedAt.Unix()); err != nil {
		return fmt.Errorf("record pool sync time: %w", err)
	}
	return nil
}

// reconcileClonePool snapshots the clone's own pool directories and
// deletes any PoolEntry whose recorded clone copy is no longer there —
// step 1, healing torn state from a prior interrupted clone (S5).
func (s *Syncer) reconcileClonePool(ctx context.Context) error {
	var buf bytes.Buffer
	if _, err := s.scanner.Scan([]string{s.clone.Pool, s.clone.CPool}, &buf); err != nil {
		return err
	}

	return s.cat.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.cat.ImportPoolLoad(ctx, tx, bytes.NewReader(buf.Bytes())); err != nil {
			return err
		}
		removed, err := s.cat.PoolDeleteMissingClone(ctx, tx)
		if err != nil {
			return err
		}
		s.log.WithField("removed", removed).Debug("healed pool entries with missing clone copy")
		return nil
	})
}

// diffOriginalPool snapshots the original's pool directories and applies
// the insert/delete diff against PoolEntry — step 2.
func (s *Syncer) diffOriginalPool(ctx context.Context) (inserted, deleted int64, err error) {
	var buf bytes.Buffer
	if _, err := s.scanner.Scan([]string{s.original.Pool, s.original.CPool}, &buf); err != nil {
		return 0, 0, err
	}

	err = s.cat.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.cat.ImportPoolLoad(ctx, tx, bytes.NewReader(buf.Bytes())); err != nil {
			return err
		}
		var e error
		inserted, deleted, e = s.cat.PoolDiffApplyOriginal(ctx, tx)
		return e
	})
	return inserted, deleted, err
}

// gcObsoleteClonePool deletes clone-pool files whose PoolEntry is marked
// has-clone-inode-but-not-in-original, then deletes the corresponding
// rows — step 3. Batches via the catalog's streaming cursor, committing
// per batch so a crash mid-GC leaves a consistent prior checkpoint.
func (s *Syncer) gcObsoleteClonePool(ctx context.Context) (int, error) {
	total, err := s.cat.PoolPrepareObsoleteClone(ctx)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}

	removed := 0
	cur := s.cat.YieldObsoleteClonePool(ctx)
	for {
		batch, err := cur.Next()
		if err != nil {
			return removed, err
		}
		if len(batch) == 0 {
			break
		}

		var ids []int64
		for _, e := range batch {
			cloneDir, err := cloneio.RemapRoot(e.Dir, s.original.Top, s.clone.Top)
			if err != nil {
				return removed, err
			}
			path := filepath.Join(cloneDir, e.Name)
			if err := cloneio.RemoveIgnoreMissing(path); err != nil {
				return removed, fmt.Errorf("remove obsolete clone pool file %s: %w", path, err)
			}
			ids = append(ids, e.PoolEntryID)
		}

		if err := s.cat.WithTx(ctx, func(tx *sql.Tx) error {
			return s.cat.PoolDeleteEntries(ctx, tx, ids)
		}); err != nil {
			return removed, err
		}
		removed += len(batch)
		s.log.WithFields(logrus.Fields{"done": removed, "total": total}).Info("pool GC progress")
	}
	return removed, nil
}
