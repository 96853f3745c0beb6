// Package poolscan recursively walks a BackupPC pool directory (v3's
// pool/cpool with 1-3 levels of hex nesting, or v4's two two-hex levels)
// and emits one CSV row per regular file: inode, directory, filename.
package poolscan

import (
	"encoding/csv"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
)

// Scanner walks one or more pool root directories.
type Scanner struct {
	log *logrus.Entry
}

// New creates a Scanner. logger may be nil to use the standard logger.
func New(logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Scanner{log: logger.WithField("component", "poolscan")}
}

// Scan walks every directory in roots and writes "inode,dir,name" CSV
// rows for each regular file found to w. Directory entries are not
// emitted. Symlinks are never followed. Any error reading a directory
// aborts the whole scan: scans are all-or-nothing.
func (s *Scanner) Scan(roots []string, w io.Writer) (int, error) {
	cw := csv.NewWriter(w)
	count := 0

	for _, root := range roots {
		if _, err := os.Lstat(root); os.IsNotExist(err) {
			continue
		}
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return fmt.Errorf("walk %s: %w", path, err)
			}
			if d.IsDir() {
				return nil
			}
			// Symlinks are not followed, nor treated as pool files.
			if d.Type()&os.ModeSymlink != 0 {
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				return fmt.Errorf("stat %s: %w", path, err)
			}
			sys, ok := info.Sys().(*syscall.Stat_t)
			if !ok {
				return fmt.Errorf("stat %s: no inode information", path)
			}

			dir := filepath.Dir(path)
			name := filepath.Base(path)
			if err := cw.Write([]string{fmt.Sprintf("%d", sys.Ino), dir, name}); err != nil {
				return fmt.Errorf("write pool scan row for %s: %w", path, err)
			}
			count++
			return nil
		})
		if err != nil {
			return count, fmt.Errorf("scan pool root %s: %w", root, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return count, fmt.Errorf("flush pool scan csv: %w", err)
	}
	s.log.WithField("files", count).Debug("pool scan complete")
	return count, nil
}

// EstimateNestingShards returns the number of deepest-level hex shard
// directories a BackupPC pool of the given nesting depth, with
// digitsPerLevel hex digits per level, is expected to have
// (16^(digitsPerLevel*depth)), usable as a progress estimate before the
// walk has discovered the real shape. v3 pools nest 1-3 levels of single
// hex digits; v4 pools nest two levels of two hex digits (256 shards at
// the first level).
func EstimateNestingShards(depth int, digitsPerLevel int) int64 {
	base := int64(16)
	for i := 1; i < digitsPerLevel; i++ {
		base *= 16
	}
	shards := int64(1)
	for i := 0; i < depth; i++ {
		shards *= base
	}
	return shards
}
