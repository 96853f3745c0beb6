package auxmirror

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigreer/backuppc-clone/internal/cloneconfig"
)

func newFixture(t *testing.T) (cloneconfig.OriginalLayout, cloneconfig.Layout) {
	t.Helper()
	root := t.TempDir()
	original := cloneconfig.OriginalLayout{Top: filepath.Join(root, "original"), PC: filepath.Join(root, "original", "pc")}
	clone := cloneconfig.Layout{Top: filepath.Join(root, "clone"), PC: filepath.Join(root, "clone", "pc")}
	require.NoError(t, os.MkdirAll(original.PC, 0o755))
	require.NoError(t, os.MkdirAll(clone.PC, 0o755))
	return original, clone
}

func writeWithTime(t *testing.T, path string, content string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestRunCopiesNewAndChangedFilesAndDeletesStrays(t *testing.T) {
	original, clone := newFixture(t)
	now := time.Now().Truncate(time.Second)

	hostOrig := filepath.Join(original.PC, "host1")
	require.NoError(t, os.MkdirAll(hostOrig, 0o755))
	writeWithTime(t, filepath.Join(hostOrig, "notes.txt"), "v2", now)

	hostClone := filepath.Join(clone.PC, "host1")
	require.NoError(t, os.MkdirAll(hostClone, 0o755))
	writeWithTime(t, filepath.Join(hostClone, "notes.txt"), "v1", now.Add(-time.Hour))
	writeWithTime(t, filepath.Join(hostClone, "stray.txt"), "should be removed", now)

	// A numbered backup directory on either side must never be touched by
	// the aux mirror — it's the catalog's tree replay responsibility.
	require.NoError(t, os.MkdirAll(filepath.Join(hostOrig, "1"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(hostClone, "1"), 0o755))

	m := New(original, clone, nil)
	copied, deleted, err := m.Run()
	require.NoError(t, err)
	assert.Equal(t, 1, copied)
	assert.Equal(t, 1, deleted)

	data, err := os.ReadFile(filepath.Join(hostClone, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	_, err = os.Stat(filepath.Join(hostClone, "stray.txt"))
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(filepath.Join(hostClone, "1"))
	assert.NoError(t, err, "numbered backup directories must be left alone")
}

func TestRunCreatesHostDirOnCloneWhenMissing(t *testing.T) {
	original, clone := newFixture(t)

	hostOrig := filepath.Join(original.PC, "newhost")
	require.NoError(t, os.MkdirAll(hostOrig, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(hostOrig, "config"), []byte("data"), 0o644))

	m := New(original, clone, nil)
	copied, deleted, err := m.Run()
	require.NoError(t, err)
	assert.Equal(t, 1, copied)
	assert.Equal(t, 0, deleted)

	data, err := os.ReadFile(filepath.Join(clone.PC, "newhost", "config"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
}

func TestRunToleratesUnchangedFiles(t *testing.T) {
	original, clone := newFixture(t)
	now := time.Now().Truncate(time.Second)

	hostOrig := filepath.Join(original.PC, "host1")
	hostClone := filepath.Join(clone.PC, "host1")
	require.NoError(t, os.MkdirAll(hostOrig, 0o755))
	require.NoError(t, os.MkdirAll(hostClone, 0o755))
	writeWithTime(t, filepath.Join(hostOrig, "same.txt"), "same", now)
	writeWithTime(t, filepath.Join(hostClone, "same.txt"), "same", now)

	m := New(original, clone, nil)
	copied, deleted, err := m.Run()
	require.NoError(t, err)
	assert.Equal(t, 0, copied)
	assert.Equal(t, 0, deleted)
}
