// Package backupscan walks one backup's directory tree and emits ordered
// "seq,inode,dir,name" rows such that replaying them in ascending seq
// order always creates a directory before anything inside it.
package backupscan

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
)

// Info is the parsed content of a backup's backupInfo file.
type Info struct {
	EndTime int64
	Level   int
	Type    string
	Version string
	NFiles  int64
}

var attribPattern = regexp.MustCompile(`^attrib_[0-9a-fA-F]+$`)

// Scanner walks a single backup's directory tree.
type Scanner struct {
	log *logrus.Entry
}

// New creates a Scanner. logger may be nil to use the standard logger.
func New(logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Scanner{log: logger.WithField("component", "backupscan")}
}

// Scan walks backupRoot and writes "seq,inode_or_empty,dir,name" CSV rows
// to w. Returns the number of rows written.
func (s *Scanner) Scan(backupRoot string, w io.Writer) (int, error) {
	cw := csv.NewWriter(w)
	rowCount := 0
	seq := int64(0)

	var walk func(dir, relDir string) error
	walk = func(dir, relDir string) error {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("read dir %s: %w", dir, err)
		}

		var files, subdirs []os.DirEntry
		for _, e := range entries {
			if e.IsDir() {
				subdirs = append(subdirs, e)
			} else {
				files = append(files, e)
			}
		}
		sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })
		sort.Slice(subdirs, func(i, j int) bool { return subdirs[i].Name() < subdirs[j].Name() })

		if len(files) > 0 {
			seq++
			fileSeq := seq
			for _, f := range files {
				info, err := f.Info()
				if err != nil {
					return fmt.Errorf("stat %s: %w", filepath.Join(dir, f.Name()), err)
				}
				inode := ""
				if info.Mode().IsRegular() {
					if sys, ok := info.Sys().(*syscall.Stat_t); ok {
						inode = strconv.FormatUint(sys.Ino, 10)
					}
				}
				if err := cw.Write([]string{strconv.FormatInt(fileSeq, 10), inode, relDir, f.Name()}); err != nil {
					return fmt.Errorf("write backup scan row: %w", err)
				}
				rowCount++
			}
		}

		for _, d := range subdirs {
			seq++
			if err := cw.Write([]string{strconv.FormatInt(seq, 10), "", relDir, d.Name()}); err != nil {
				return fmt.Errorf("write backup scan row: %w", err)
			}
			rowCount++

			childRelDir := d.Name()
			if relDir != "" {
				childRelDir = filepath.Join(relDir, d.Name())
			}
			if err := walk(filepath.Join(dir, d.Name()), childRelDir); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(backupRoot, ""); err != nil {
		return rowCount, err
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return rowCount, fmt.Errorf("flush backup scan csv: %w", err)
	}
	s.log.WithFields(logrus.Fields{"root": backupRoot, "rows": rowCount}).Debug("backup scan complete")
	return rowCount, nil
}

// PreScanFilename is the pre-scan artifact's name inside a backup
// directory on the original.
const PreScanFilename = "backuppc-clone.csv"

// PreScan scans backupRoot and writes the result to
// backupRoot/backuppc-clone.csv using write-then-rename so a concurrent
// reader never observes a partial file.
func (s *Scanner) PreScan(backupRoot string) error {
	dst := filepath.Join(backupRoot, PreScanFilename)

	// Scan before creating the temp file, so the scan never lists it.
	var buf bytes.Buffer
	if _, err := s.Scan(backupRoot, &buf); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(backupRoot, ".backuppc-clone-*.csv.tmp")
	if err != nil {
		return fmt.Errorf("create pre-scan temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write pre-scan temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close pre-scan temp file: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename pre-scan file into place: %w", err)
	}
	return nil
}

// HasPreScan reports whether backupRoot already has a pre-scan CSV.
func HasPreScan(backupRoot string) bool {
	_, err := os.Stat(filepath.Join(backupRoot, PreScanFilename))
	return err == nil
}

// OpenPreScan opens the pre-scan CSV for backupRoot.
func OpenPreScan(backupRoot string) (*os.File, error) {
	return os.Open(filepath.Join(backupRoot, PreScanFilename))
}

// IsV4 reports whether backupRoot contains v4-style attrib_<hex> entries
// at its top level. The clone is version-tolerant either way: this is
// informational only, never a gate on replay correctness.
func IsV4(backupRoot string) (bool, error) {
	entries, err := os.ReadDir(backupRoot)
	if err != nil {
		return false, fmt.Errorf("read backup root %s: %w", backupRoot, err)
	}
	for _, e := range entries {
		if !e.IsDir() && attribPattern.MatchString(e.Name()) {
			return true, nil
		}
	}
	return false, nil
}

// ParseInfo parses a backupInfo file for endTime, level, type, version,
// and nFiles. The original writes these as a Perl hash dump
// (`$key = 'value';` or `$key => value,` style, one assignment per
// line); ParseInfo accepts both that shape and a plain `key=value` shape
// so it tolerates either BackupPC generation's format.
func ParseInfo(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("open backupInfo %s: %w", path, err)
	}
	defer f.Close()

	raw := map[string]string{}
	keyValue := regexp.MustCompile(`(?i)\$?(endTime|level|type|version|nFiles)\s*(?:=>|=)\s*['"]?([^'",;]+)['"]?\s*[,;]?`)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if m := keyValue.FindStringSubmatch(line); m != nil {
			raw[strings.ToLower(m[1])] = strings.TrimSpace(m[2])
		}
	}
	if err := scanner.Err(); err != nil {
		return Info{}, fmt.Errorf("read backupInfo %s: %w", path, err)
	}

	var info Info
	if v, ok := raw["endtime"]; ok {
		info.EndTime, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := raw["level"]; ok {
		lvl, _ := strconv.Atoi(v)
		info.Level = lvl
	}
	info.Type = raw["type"]
	info.Version = raw["version"]
	if v, ok := raw["nfiles"]; ok {
		info.NFiles, _ = strconv.ParseInt(v, 10, 64)
	}

	if info.Type == "" {
		info.Type = "full"
		if info.Level > 0 {
			info.Type = "incr"
		}
	}

	return info, nil
}
