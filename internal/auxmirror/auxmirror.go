// Package auxmirror mirrors the flat files a host directory carries
// alongside its numbered backup subdirectories (editor configs, host
// notes, anything BackupPC itself never versions). Entries are not
// tracked in the catalog: this is a plain two-sided diff keyed on
// (name, size, mtime), run once after the main orchestration loop.
package auxmirror

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/sigreer/backuppc-clone/internal/cloneio"
	"github.com/sigreer/backuppc-clone/internal/cloneconfig"
)

// Mirror mirrors the flat files under each host directory.
type Mirror struct {
	original cloneconfig.OriginalLayout
	clone    cloneconfig.Layout
	log      *logrus.Entry
}

// New creates a Mirror. logger may be nil to use the standard logger.
func New(original cloneconfig.OriginalLayout, clone cloneconfig.Layout, logger *logrus.Logger) *Mirror {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Mirror{original: original, clone: clone, log: logger.WithField("component", "auxmirror")}
}

type fileKey struct {
	name  string
	size  int64
	mtime int64
}

// Run mirrors the flat files of every host directory present on either
// side. Returns the number of files copied and deleted.
func (m *Mirror) Run() (copied, deleted int, err error) {
	hosts, err := m.listHosts()
	if err != nil {
		return 0, 0, err
	}

	for _, host := range hosts {
		c, d, err := m.syncHost(host)
		if err != nil {
			return copied, deleted, fmt.Errorf("mirror host %s: %w", host, err)
		}
		copied += c
		deleted += d
	}
	return copied, deleted, nil
}

// listHosts returns the union of host directory names present under the
// original's and the clone's pc/ roots.
func (m *Mirror) listHosts() ([]string, error) {
	seen := map[string]bool{}
	for _, root := range []string{m.original.PC, m.clone.PC} {
		entries, err := os.ReadDir(root)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("list host directories under %s: %w", root, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				seen[e.Name()] = true
			}
		}
	}
	hosts := make([]string, 0, len(seen))
	for h := range seen {
		hosts = append(hosts, h)
	}
	return hosts, nil
}

func (m *Mirror) syncHost(host string) (copied, deleted int, err error) {
	originalDir := filepath.Join(m.original.PC, host)
	cloneDir := filepath.Join(m.clone.PC, host)

	originalFiles, err := flatFiles(originalDir)
	if err != nil {
		return 0, 0, err
	}
	cloneFiles, err := flatFiles(cloneDir)
	if err != nil {
		return 0, 0, err
	}

	for name := range cloneFiles {
		if _, ok := originalFiles[name]; ok {
			continue
		}
		path := filepath.Join(cloneDir, name)
		if err := cloneio.RemoveIgnoreMissing(path); err != nil {
			return copied, deleted, err
		}
		deleted++
		m.log.WithFields(logrus.Fields{"host": host, "name": name}).Info("removed stray clone auxiliary file")
	}

	for name, ok := range originalFiles {
		ck, present := cloneFiles[name]
		if present && ck == ok {
			continue
		}
		src := filepath.Join(originalDir, name)
		dst := filepath.Join(cloneDir, name)
		if err := os.MkdirAll(cloneDir, 0o755); err != nil {
			return copied, deleted, fmt.Errorf("create host dir %s: %w", cloneDir, err)
		}
		if _, err := cloneio.Copy(src, dst); err != nil {
			return copied, deleted, fmt.Errorf("copy auxiliary file %s: %w", src, err)
		}
		copied++
		m.log.WithFields(logrus.Fields{"host": host, "name": name}).Info("copied auxiliary file")
	}

	return copied, deleted, nil
}

// flatFiles lists the regular files directly inside dir (skipping
// numbered backup subdirectories and anything else that's a directory),
// keyed by name to their (size, mtime) fingerprint.
func flatFiles(dir string) (map[string]fileKey, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]fileKey{}, nil
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	out := map[string]fileKey{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", filepath.Join(dir, e.Name()), err)
		}
		if !info.Mode().IsRegular() {
			continue
		}
		out[e.Name()] = fileKey{name: e.Name(), size: info.Size(), mtime: info.ModTime().Unix()}
	}
	return out, nil
}
