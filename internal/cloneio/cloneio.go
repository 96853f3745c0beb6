// Package cloneio centralizes the filesystem primitives PoolSync and
// BackupClone both need: copying a file while preserving mode and mtime,
// hardlinking with stale-target cleanup, and inode lookup.
package cloneio

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// Stat describes the subset of file metadata the clone engine cares
// about: inode, size, mtime and mode. The inode is what the pool-drift
// guard compares against the catalog; size and mtime are recorded with
// each clone pool copy.
type Stat struct {
	Inode uint64
	Size  int64
	Mtime int64
	Mode  os.FileMode
}

// StatPath stats path and returns its inode/size/mtime/mode.
func StatPath(path string) (Stat, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Stat{}, err
	}
	return statFromInfo(info), nil
}

func statFromInfo(info os.FileInfo) Stat {
	sys := info.Sys().(*syscall.Stat_t)
	return Stat{
		Inode: sys.Ino,
		Size:  info.Size(),
		Mtime: info.ModTime().Unix(),
		Mode:  info.Mode(),
	}
}

// Copy copies src to dst byte-for-byte, then replicates src's mode and
// mtime onto dst. dst's parent directory must already exist. Returns the
// Stat of the freshly written dst (its inode is the "clone_inode" callers
// record in the catalog).
func Copy(src, dst string) (Stat, error) {
	in, err := os.Open(src)
	if err != nil {
		return Stat{}, fmt.Errorf("open source %s: %w", src, err)
	}
	defer in.Close()

	srcInfo, err := in.Stat()
	if err != nil {
		return Stat{}, fmt.Errorf("stat source %s: %w", src, err)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, srcInfo.Mode().Perm())
	if err != nil {
		return Stat{}, fmt.Errorf("create destination %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return Stat{}, fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	if err := out.Close(); err != nil {
		return Stat{}, fmt.Errorf("close destination %s: %w", dst, err)
	}

	if err := os.Chmod(dst, srcInfo.Mode()); err != nil {
		return Stat{}, fmt.Errorf("chmod %s: %w", dst, err)
	}
	mtime := srcInfo.ModTime()
	if err := os.Chtimes(dst, mtime, mtime); err != nil {
		return Stat{}, fmt.Errorf("chtimes %s: %w", dst, err)
	}

	return StatPath(dst)
}

// Link creates a hard link at dst pointing at src, removing any existing
// file at dst first (the previous replay's stale target, on a resumed or
// re-cloned backup).
func Link(src, dst string) error {
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale link target %s: %w", dst, err)
	}
	if err := os.Link(src, dst); err != nil {
		return fmt.Errorf("link %s to %s: %w", src, dst, err)
	}
	return nil
}

// RemoveIgnoreMissing removes path, treating "already gone" as success.
func RemoveIgnoreMissing(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// RemapRoot translates an absolute path recorded under oldRoot into the
// equivalent absolute path under newRoot. Pool directories stored in the
// catalog are always absolute paths under the original's top directory,
// since the original pool scan has no other root to make them relative
// to; the clone mirrors the same shard layout under its own top
// directory, so this is the one place that translation happens.
func RemapRoot(path, oldRoot, newRoot string) (string, error) {
	rel, err := filepath.Rel(oldRoot, path)
	if err != nil {
		return "", fmt.Errorf("remap %s from %s to %s: %w", path, oldRoot, newRoot, err)
	}
	return filepath.Join(newRoot, rel), nil
}
