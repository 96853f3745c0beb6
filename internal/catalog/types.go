package catalog

import "database/sql"

// Host is a backed-up machine known to the original BackupPC installation.
type Host struct {
	ID   int64
	Name string
}

// Backup is one numbered backup of a Host.
type Backup struct {
	ID         int64
	HostID     int64
	Number     int
	InProgress bool
}

// BackupEntry is one file or directory inside a Backup's tree, in replay
// order (Seq). OriginalInode is NULL for directories and other
// non-regular entries; every regular file carries its original inode,
// whether or not that inode is in the pool.
type BackupEntry struct {
	BackupID      int64
	Seq           int64
	OriginalInode sql.NullInt64
	Dir           string
	Name          string
}

// PoolEntry is one unique file observed in the original's pool, identified
// by its original inode. CloneInode is NULL until the file has been
// mirrored into the clone's pool.
type PoolEntry struct {
	ID            int64
	OriginalInode int64
	Dir           string
	Name          string
	CloneInode    sql.NullInt64
	Size          sql.NullInt64
	Mtime         sql.NullInt64
}

// OriginalBackup is one row of the inventory snapshot of what the original
// currently holds, rebuilt from scratch on every orchestration pass.
type OriginalBackup struct {
	Host    string
	Number  int
	EndTime int64
	Level   int
	Type    string
}

// RequiredCloneFile is a PoolEntry that a specific backup's tree references
// but that still lacks a clone-side copy.
type RequiredCloneFile struct {
	PoolEntryID   int64
	OriginalInode int64
	Dir           string
	Name          string
}

// TreeRow is a BackupEntry joined with its PoolEntry (if any) for replay.
type TreeRow struct {
	Seq           int64
	OriginalInode sql.NullInt64
	Dir           string
	Name          string
	CloneInode    sql.NullInt64
}

// Parameter codes.
const (
	ParamLastPoolSync = "LAST_POOL_SYNC"
)

// ForcePoolSync is the LAST_POOL_SYNC sentinel that forces a resync
// regardless of backup end_time.
const ForcePoolSync int64 = -1

// Backup types, as recorded by the original.
const (
	BackupTypeFull = "full"
	BackupTypeIncr = "incr"
)
