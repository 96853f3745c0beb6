// Package catalog implements the persistent metadata store that tracks
// the correspondence between the original BackupPC repository and its
// clone: hosts, backups, per-backup tree entries, and pool files.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// BatchSize bounds every streaming cursor the Catalog exposes, so a
// multi-million-row replay or pool diff never holds more than this many
// rows in process memory at once.
const BatchSize = 10000

// DefaultPath is where a freshly initialized clone keeps its catalog,
// relative to the clone top directory.
const DefaultPath = "clone.db"

// Catalog wraps the embedded SQL store backing one clone installation.
// It is single-writer: Open pins the connection pool to one connection so
// database/sql never opens a second SQLite handle against the same file.
type Catalog struct {
	conn *sql.DB
	path string
	log  *logrus.Entry
}

// Options configures how a Catalog opens its database file.
type Options struct {
	// TmpDir, if set, points SQLite's temporary tables at the clone's own
	// tmp/ directory instead of the system default, per the clone's
	// "filesystem-backed temporary storage" requirement for multi-million
	// row diffs.
	TmpDir string
	// CacheSizeKB sets PRAGMA cache_size (negative = KB). Zero uses
	// SQLite's built-in default.
	CacheSizeKB int
	Logger      *logrus.Logger
}

// Open opens or creates the catalog database at path, running any pending
// schema migrations.
func Open(path string, opts Options) (*Catalog, error) {
	if path == "" {
		path = DefaultPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create catalog directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	// The clone never has more than one writer against the catalog, so
	// force database/sql to never hand out a second concurrent SQLite
	// connection for this handle.
	conn.SetMaxOpenConns(1)

	pragmas := "PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL;"
	if opts.TmpDir != "" {
		pragmas += fmt.Sprintf(" PRAGMA temp_store = FILE; PRAGMA temp_store_directory = %q;", opts.TmpDir)
	}
	if opts.CacheSizeKB > 0 {
		pragmas += fmt.Sprintf(" PRAGMA cache_size = -%d;", opts.CacheSizeKB)
	}
	if _, err := conn.Exec(pragmas); err != nil {
		conn.Close()
		return nil, fmt.Errorf("configure catalog: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	c := &Catalog{conn: conn, path: path, log: logger.WithField("component", "catalog")}
	if err := c.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run catalog migrations: %w", err)
	}
	return c, nil
}

// Close closes the underlying database connection.
func (c *Catalog) Close() error {
	return c.conn.Close()
}

// Path returns the catalog's database file path.
func (c *Catalog) Path() string { return c.path }

// migrate runs the schema migrations, one transaction per version, the
// same checkpoint-per-step discipline the rest of the Catalog follows.
func (c *Catalog) migrate() error {
	if _, err := c.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return err
	}

	var version int
	if err := c.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return err
	}

	migrations := []string{migrationV1}
	for i, migration := range migrations {
		v := i + 1
		if v <= version {
			continue
		}

		tx, err := c.conn.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migration); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d failed: %w", v, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", v); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		c.log.WithField("version", v).Debug("applied catalog migration")
	}
	return nil
}

// migrationV1 creates the full schema.
const migrationV1 = `
CREATE TABLE IF NOT EXISTS hosts (
    id   INTEGER PRIMARY KEY,
    name TEXT UNIQUE NOT NULL
);

-- in_progress has no DEFAULT: it is NULL on insert by design, and the
-- partial-cleanup sweep treats NULL the same as 1.
CREATE TABLE IF NOT EXISTS backups (
    id          INTEGER PRIMARY KEY,
    host_id     INTEGER NOT NULL REFERENCES hosts(id),
    number      INTEGER NOT NULL,
    in_progress INTEGER,
    UNIQUE(host_id, number)
);
CREATE INDEX IF NOT EXISTS idx_backups_in_progress ON backups(in_progress);

CREATE TABLE IF NOT EXISTS backup_entries (
    backup_id      INTEGER NOT NULL REFERENCES backups(id),
    seq            INTEGER NOT NULL,
    original_inode INTEGER,
    dir            TEXT NOT NULL,
    name           TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_backup_seq ON backup_entries(backup_id, seq);
CREATE INDEX IF NOT EXISTS idx_entries_inode ON backup_entries(original_inode);

CREATE TABLE IF NOT EXISTS pool_entries (
    id             INTEGER PRIMARY KEY,
    original_inode INTEGER UNIQUE NOT NULL,
    dir            TEXT NOT NULL,
    name           TEXT NOT NULL,
    clone_inode    INTEGER,
    size           INTEGER,
    mtime          INTEGER
);
CREATE INDEX IF NOT EXISTS idx_pool_clone_inode ON pool_entries(clone_inode);

CREATE TABLE IF NOT EXISTS original_backups (
    host     TEXT NOT NULL,
    number   INTEGER NOT NULL,
    end_time INTEGER NOT NULL,
    level    INTEGER NOT NULL,
    type     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_original_backups_host ON original_backups(host, number);

CREATE TABLE IF NOT EXISTS import_pool (
    inode INTEGER NOT NULL,
    dir   TEXT NOT NULL,
    name  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_import_pool_inode ON import_pool(inode);

CREATE TABLE IF NOT EXISTS parameters (
    code  TEXT PRIMARY KEY,
    value TEXT
);

-- Staging tables rebuilt per-operation; not part of the durable model.
CREATE TABLE IF NOT EXISTS required_clone_files (
    pool_entry_id  INTEGER NOT NULL,
    original_inode INTEGER NOT NULL,
    dir            TEXT NOT NULL,
    name           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS obsolete_clone_pool (
    pool_entry_id  INTEGER NOT NULL,
    original_inode INTEGER NOT NULL,
    clone_inode    INTEGER NOT NULL,
    dir            TEXT NOT NULL,
    name           TEXT NOT NULL
);
`

// WithTx runs fn inside a transaction, committing on success and rolling
// back (and propagating fn's error) otherwise. Every Catalog step is
// exactly one WithTx call, so a crash mid-step always leaves the prior
// commit as the valid resumption point.
func (c *Catalog) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Vacuum reclaims space in the catalog database file, logging the size
// change (supplemented feature: VacuumCommand.py).
func (c *Catalog) Vacuum(ctx context.Context) error {
	before := c.fileSize()
	if _, err := c.conn.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum catalog: %w", err)
	}
	after := c.fileSize()
	c.log.WithFields(logrus.Fields{"before": humanize.Bytes(uint64(before)), "after": humanize.Bytes(uint64(after))}).Info("vacuumed catalog")
	return nil
}

func (c *Catalog) fileSize() int64 {
	info, err := os.Stat(c.path)
	if err != nil {
		return 0
	}
	return info.Size()
}
