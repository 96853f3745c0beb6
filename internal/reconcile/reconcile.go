// Package reconcile runs three idempotent catalog/filesystem sweeps:
// clearing partially cloned backups left by a crash, and removing hosts
// and backups the original no longer has. Each sweep commits
// independently so a crash mid-reconcile leaves the next pass with
// exactly the remaining work.
package reconcile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/sigreer/backuppc-clone/internal/catalog"
	"github.com/sigreer/backuppc-clone/internal/cloneconfig"
)

// Reconciler removes clone-side state the original no longer backs.
type Reconciler struct {
	cat   *catalog.Catalog
	clone cloneconfig.Layout
	log   *logrus.Entry
}

// New creates a Reconciler. logger may be nil to use the standard logger.
func New(cat *catalog.Catalog, clone cloneconfig.Layout, logger *logrus.Logger) *Reconciler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Reconciler{cat: cat, clone: clone, log: logger.WithField("component", "reconcile")}
}

// RemovePartiallyClonedBackups deletes every Backup with in_progress !=
// 0 (crash survivor), tree and clone directory both.
func (r *Reconciler) RemovePartiallyClonedBackups(ctx context.Context) (int, error) {
	backups, err := r.cat.PartiallyClonedBackups(ctx)
	if err != nil {
		return 0, fmt.Errorf("list partially cloned backups: %w", err)
	}
	for _, b := range backups {
		dir := filepath.Join(r.clone.PC, b.Host, fmt.Sprintf("%d", b.Number))
		if err := os.RemoveAll(dir); err != nil {
			return 0, fmt.Errorf("remove partial backup dir %s: %w", dir, err)
		}
		if err := r.cat.BackupDeleteCascade(ctx, b.BackupID); err != nil {
			return 0, fmt.Errorf("delete partial backup %s/%d: %w", b.Host, b.Number, err)
		}
		r.log.WithFields(logrus.Fields{"host": b.Host, "backup": b.Number}).Info("removed partially cloned backup")
	}
	return len(backups), nil
}

// RemoveObsoleteHosts deletes every Host absent from the OriginalBackup
// inventory, cascading its backups and clone directory.
func (r *Reconciler) RemoveObsoleteHosts(ctx context.Context) (int, error) {
	hosts, err := r.cat.ObsoleteHosts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list obsolete hosts: %w", err)
	}
	for _, h := range hosts {
		dir := filepath.Join(r.clone.PC, h.Name)
		if err := os.RemoveAll(dir); err != nil {
			return 0, fmt.Errorf("remove obsolete host dir %s: %w", dir, err)
		}
		if err := r.cat.HostDeleteCascade(ctx, h.Name); err != nil {
			return 0, fmt.Errorf("delete obsolete host %s: %w", h.Name, err)
		}
		r.log.WithField("host", h.Name).Info("removed obsolete host")
	}
	return len(hosts), nil
}

// RemoveObsoleteBackups deletes every (Host, Backup) pair with no
// matching OriginalBackup row, whether or not the host itself still
// exists in the original.
func (r *Reconciler) RemoveObsoleteBackups(ctx context.Context) (int, error) {
	backups, err := r.cat.ObsoleteBackups(ctx)
	if err != nil {
		return 0, fmt.Errorf("list obsolete backups: %w", err)
	}
	for _, b := range backups {
		dir := filepath.Join(r.clone.PC, b.Host, fmt.Sprintf("%d", b.Number))
		if err := os.RemoveAll(dir); err != nil {
			return 0, fmt.Errorf("remove obsolete backup dir %s: %w", dir, err)
		}
		if err := r.cat.BackupDeleteCascade(ctx, b.BackupID); err != nil {
			return 0, fmt.Errorf("delete obsolete backup %s/%d: %w", b.Host, b.Number, err)
		}
		r.log.WithFields(logrus.Fields{"host": b.Host, "backup": b.Number}).Info("removed obsolete backup")
	}
	return len(backups), nil
}

// RunAll runs the three sweeps in the order that keeps each one
// meaningful: partial backups first (so a host/backup obsolescence sweep
// never has to reason about dirty trees), then obsolete hosts, then
// obsolete backups of hosts that survived.
func (r *Reconciler) RunAll(ctx context.Context) error {
	if _, err := r.RemovePartiallyClonedBackups(ctx); err != nil {
		return err
	}
	if _, err := r.RemoveObsoleteHosts(ctx); err != nil {
		return err
	}
	if _, err := r.RemoveObsoleteBackups(ctx); err != nil {
		return err
	}
	return nil
}
