// Package orchestrator runs the outer loop: each pass reconciles stale
// catalog state, rebuilds the OriginalBackup inventory, picks the next
// backup to clone, syncs the pool when needed, clones that backup, and
// recovers from pool-drift or vanished-source errors by rolling back
// and forcing a pool resync.
package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sigreer/backuppc-clone/internal/auxmirror"
	"github.com/sigreer/backuppc-clone/internal/backupclone"
	"github.com/sigreer/backuppc-clone/internal/backupscan"
	"github.com/sigreer/backuppc-clone/internal/catalog"
	"github.com/sigreer/backuppc-clone/internal/cloneconfig"
	"github.com/sigreer/backuppc-clone/internal/cloneio"
	"github.com/sigreer/backuppc-clone/internal/poolsync"
	"github.com/sigreer/backuppc-clone/internal/reconcile"
)

// Status is the JSON status document written after each pass, read back
// by the nagios subcommand.
type Status struct {
	RunID          string `json:"run_id"`
	LastRunUnix    int64  `json:"last_run_unix"`
	BackupsCloned  int    `json:"backups_cloned"`
	BackupsRemoved int    `json:"backups_removed"`
	HostsRemoved   int    `json:"hosts_removed"`
	AuxCopied      int    `json:"aux_files_copied"`
	AuxDeleted     int    `json:"aux_files_deleted"`
	LastError      string `json:"last_error,omitempty"`
}

// Orchestrator wires together every component of one clone installation.
type Orchestrator struct {
	cat        *catalog.Catalog
	original   cloneconfig.OriginalLayout
	clone      cloneconfig.Layout
	sync       *poolsync.Syncer
	cloner     *backupclone.Cloner
	reconciler *reconcile.Reconciler
	mirror     *auxmirror.Mirror
	scanner    *backupscan.Scanner
	statusPath string
	log        *logrus.Entry
}

// New wires an Orchestrator from a loaded Config. statusPath is where
// status.json is written after each pass (conventionally beside
// clone.cfg).
func New(cat *catalog.Catalog, cfg *cloneconfig.Config, statusPath string, logger *logrus.Logger) *Orchestrator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	original := cfg.OriginalLayout()
	clone := cfg.Layout()
	return &Orchestrator{
		cat:        cat,
		original:   original,
		clone:      clone,
		sync:       poolsync.New(cat, original, clone, logger),
		cloner:     backupclone.New(cat, original, clone, logger),
		reconciler: reconcile.New(cat, clone, logger),
		mirror:     auxmirror.New(original, clone, logger),
		scanner:    backupscan.New(logger),
		statusPath: statusPath,
		log:        logger.WithField("component", "orchestrator"),
	}
}

// Run executes passes until no more backups are pending, then runs the
// auxiliary mirror once. Each pass gets its own context so batch cursors
// and scan buffers opened during it fall out of scope at pass end — the
// "fresh arena" containment described in DESIGN.md in place of a literal
// fork per iteration.
func (o *Orchestrator) Run(ctx context.Context) error {
	status := Status{RunID: uuid.NewString()}
	log := o.log.WithField("run_id", status.RunID)
	log.Info("starting orchestration run")

	for {
		passCtx, cancel := context.WithCancel(ctx)
		more, err := o.runPass(passCtx, &status)
		cancel()
		status.LastRunUnix = time.Now().Unix()
		if err != nil {
			status.LastError = err.Error()
			o.writeStatus(status)
			return err
		}
		o.writeStatus(status)
		if !more {
			break
		}
	}

	copied, deleted, err := o.mirror.Run()
	status.AuxCopied = copied
	status.AuxDeleted = deleted
	status.LastRunUnix = time.Now().Unix()
	if err != nil {
		status.LastError = err.Error()
		o.writeStatus(status)
		return fmt.Errorf("auxiliary mirror: %w", err)
	}
	o.writeStatus(status)
	return nil
}

// RunOnePass runs exactly one iteration of the outer loop and writes
// status.json, without looping. This is what `--iteration` single-pass
// invocations (the literal fork+wait parity mode, wired in
// cmd/backuppc-clone) call once per child process; Run instead calls
// runPass repeatedly in-process for the always-on arena-reset default.
func (o *Orchestrator) RunOnePass(ctx context.Context) (more bool, err error) {
	status := Status{RunID: uuid.NewString()}
	more, err = o.runPass(ctx, &status)
	status.LastRunUnix = time.Now().Unix()
	if err != nil {
		status.LastError = err.Error()
	}
	o.writeStatus(status)
	return more, err
}

// runPass runs one iteration of the outer loop. The returned bool
// reports whether a backup was picked (true ⇒ it was cloned, or rolled
// back after a recoverable failure, and the caller should call again;
// false ⇒ no more work, stop looping).
func (o *Orchestrator) runPass(ctx context.Context, status *Status) (bool, error) {
	if _, err := o.reconciler.RemovePartiallyClonedBackups(ctx); err != nil {
		return false, fmt.Errorf("remove partially cloned backups: %w", err)
	}

	if err := o.rebuildOriginalInventory(ctx); err != nil {
		return false, fmt.Errorf("rebuild original inventory: %w", err)
	}

	hostsRemoved, err := o.reconciler.RemoveObsoleteHosts(ctx)
	if err != nil {
		return false, fmt.Errorf("remove obsolete hosts: %w", err)
	}
	status.HostsRemoved += hostsRemoved

	backupsRemoved, err := o.reconciler.RemoveObsoleteBackups(ctx)
	if err != nil {
		return false, fmt.Errorf("remove obsolete backups: %w", err)
	}
	status.BackupsRemoved += backupsRemoved

	lastSync, err := o.cat.LastPoolSync(ctx)
	if err != nil {
		return false, fmt.Errorf("read last pool sync: %w", err)
	}

	next, err := o.cat.BackupGetNext(ctx, lastSync)
	if err != nil {
		return false, fmt.Errorf("pick next backup: %w", err)
	}
	if next == nil {
		next, err = o.cat.BackupGetNext(ctx, catalog.ForcePoolSync)
		if err != nil {
			return false, fmt.Errorf("pick next backup (unconditional): %w", err)
		}
	}
	if next == nil {
		return false, nil
	}

	if lastSync < next.EndTime {
		if err := o.sync.Synchronize(ctx); err != nil {
			return false, fmt.Errorf("pool sync: %w", err)
		}
	}

	log := o.log.WithFields(logrus.Fields{"host": next.Host, "backup": next.Number})
	if err := o.cloner.Clone(ctx, next.Host, next.Number); err != nil {
		if cloneio.Recoverable(err) {
			log.WithError(err).Warn("recoverable clone failure, forcing pool resync")
			if delErr := o.deletePartialBackup(ctx, next.Host, next.Number); delErr != nil {
				return false, fmt.Errorf("clean up after recoverable failure: %w", delErr)
			}
			if err := o.cat.SetLastPoolSync(ctx, catalog.ForcePoolSync); err != nil {
				return false, fmt.Errorf("force pool resync after recoverable failure: %w", err)
			}
			return true, nil
		}
		return false, fmt.Errorf("clone %s/%d: %w", next.Host, next.Number, err)
	}

	status.BackupsCloned++
	return true, nil
}

// deletePartialBackup removes a backup that failed mid-clone, both its
// catalog rows and whatever partial tree it left on the clone
// filesystem.
func (o *Orchestrator) deletePartialBackup(ctx context.Context, host string, number int) error {
	hostID, err := o.cat.HostEnsure(ctx, host)
	if err != nil {
		return err
	}
	backupID, err := o.cat.BackupEnsure(ctx, hostID, number)
	if err != nil {
		return err
	}
	dir := filepath.Join(o.clone.PC, host, strconv.Itoa(number))
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove partial backup dir %s: %w", dir, err)
	}
	return o.cat.BackupDeleteCascade(ctx, backupID)
}

// rebuildOriginalInventory walks the original's pc/ tree and replaces
// the OriginalBackup snapshot with what is found: one row per numbered
// backup directory that has a parseable backupInfo file.
func (o *Orchestrator) rebuildOriginalInventory(ctx context.Context) error {
	hostDirs, err := os.ReadDir(o.original.PC)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("list host directories under %s: %w", o.original.PC, err)
	}

	type row struct {
		host    string
		number  int
		endTime int64
		level   int
		typ     string
	}
	var rows []row

	for _, hostDir := range hostDirs {
		if !hostDir.IsDir() {
			continue
		}
		host := hostDir.Name()
		backupDirs, err := os.ReadDir(filepath.Join(o.original.PC, host))
		if err != nil {
			return fmt.Errorf("list backups for host %s: %w", host, err)
		}
		for _, bd := range backupDirs {
			if !bd.IsDir() {
				continue
			}
			number, err := strconv.Atoi(bd.Name())
			if err != nil {
				continue
			}
			backupDir := filepath.Join(o.original.PC, host, bd.Name())
			info, err := backupscan.ParseInfo(filepath.Join(backupDir, "backupInfo"))
			if err != nil {
				o.log.WithFields(logrus.Fields{"host": host, "backup": number}).WithError(err).Warn("skipping backup with unreadable backupInfo")
				continue
			}
			rows = append(rows, row{host: host, number: number, endTime: info.EndTime, level: info.Level, typ: info.Type})
		}
	}

	return o.cat.WithTx(ctx, func(tx *sql.Tx) error {
		if err := o.cat.OriginalBackupReset(ctx, tx); err != nil {
			return err
		}
		for _, r := range rows {
			if err := o.cat.OriginalBackupInsert(ctx, tx, catalog.OriginalBackup{
				Host: r.host, Number: r.number, EndTime: r.endTime, Level: r.level, Type: r.typ,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (o *Orchestrator) writeStatus(status Status) {
	if o.statusPath == "" {
		return
	}
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		o.log.WithError(err).Warn("marshal status.json")
		return
	}
	tmp := o.statusPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		o.log.WithError(err).Warn("write status.json")
		return
	}
	if err := os.Rename(tmp, o.statusPath); err != nil {
		o.log.WithError(err).Warn("rename status.json into place")
	}
}
