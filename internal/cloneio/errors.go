package cloneio

import (
	"errors"
	"fmt"
)

// PoolDriftError reports that a pool file's identity changed between the
// pool scan and the prefetch attempt — BackupPC rehashed or replaced the
// file in place. It is recoverable: the orchestrator rolls back the
// current backup and forces a pool resync.
type PoolDriftError struct {
	Path         string
	ExpectedInode int64
	ActualInode   int64
}

func (e *PoolDriftError) Error() string {
	return fmt.Sprintf("pool drift at %s: expected inode %d, found %d", e.Path, e.ExpectedInode, e.ActualInode)
}

// Recoverable marks PoolDriftError as a condition the orchestrator can
// roll back from and retry, rather than a fatal error.
func (e *PoolDriftError) Recoverable() bool { return true }

// SourceVanishedError reports that a file expected to exist on the
// original disappeared mid-run (stat or open failed with ENOENT). Same
// recovery policy as PoolDriftError.
type SourceVanishedError struct {
	Path string
	Err  error
}

func (e *SourceVanishedError) Error() string {
	return fmt.Sprintf("source vanished: %s: %v", e.Path, e.Err)
}

func (e *SourceVanishedError) Unwrap() error { return e.Err }

// Recoverable marks SourceVanishedError as recoverable.
func (e *SourceVanishedError) Recoverable() bool { return true }

// Recoverable reports whether err is one of the error kinds the
// orchestrator is expected to roll back from and retry, as opposed to a
// fatal error requiring operator intervention.
func Recoverable(err error) bool {
	var driftErr *PoolDriftError
	if errors.As(err, &driftErr) {
		return true
	}
	var vanishedErr *SourceVanishedError
	if errors.As(err, &vanishedErr) {
		return true
	}
	return false
}
