package backupclone

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigreer/backuppc-clone/internal/catalog"
	"github.com/sigreer/backuppc-clone/internal/cloneconfig"
	"github.com/sigreer/backuppc-clone/internal/cloneio"
	"github.com/sigreer/backuppc-clone/internal/poolsync"
)

func newFixture(t *testing.T) (*catalog.Catalog, cloneconfig.OriginalLayout, cloneconfig.Layout) {
	t.Helper()
	root := t.TempDir()

	original := cloneconfig.OriginalLayout{
		Top:   filepath.Join(root, "original"),
		Pool:  filepath.Join(root, "original", "pool"),
		CPool: filepath.Join(root, "original", "cpool"),
		PC:    filepath.Join(root, "original", "pc"),
	}
	clone := cloneconfig.Layout{
		Top:   filepath.Join(root, "clone"),
		Pool:  filepath.Join(root, "clone", "pool"),
		CPool: filepath.Join(root, "clone", "cpool"),
		PC:    filepath.Join(root, "clone", "pc"),
	}
	for _, dir := range []string{original.Pool, original.CPool, original.PC, clone.Pool, clone.CPool, clone.PC} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}

	cat, err := catalog.Open(filepath.Join(root, "clone.db"), catalog.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	return cat, original, clone
}

// TestCloneReplaysTreeAsHardlinksAndCopies builds a small original backup
// tree with one pool-backed file (present in original.Pool, so it should
// become a hardlink on the clone side) and one non-pool file (lives only
// inside the backup directory, so it should be copied).
func TestCloneReplaysTreeAsHardlinksAndCopies(t *testing.T) {
	cat, original, clone := newFixture(t)
	ctx := t.Context()

	poolFile := filepath.Join(original.Pool, "pooled")
	require.NoError(t, os.WriteFile(poolFile, []byte("shared content"), 0o644))

	backupDir := filepath.Join(original.PC, "host1", "1")
	require.NoError(t, os.MkdirAll(backupDir, 0o755))
	require.NoError(t, os.Link(poolFile, filepath.Join(backupDir, "pooled")))
	require.NoError(t, os.WriteFile(filepath.Join(backupDir, "private"), []byte("not pooled"), 0o644))

	require.NoError(t, poolsync.New(cat, original, clone, nil).Synchronize(ctx))

	c := New(cat, original, clone, nil)
	require.NoError(t, c.Clone(ctx, "host1", 1))

	cloneBackupDir := filepath.Join(clone.PC, "host1", "1")
	pooledData, err := os.ReadFile(filepath.Join(cloneBackupDir, "pooled"))
	require.NoError(t, err)
	assert.Equal(t, "shared content", string(pooledData))

	privateData, err := os.ReadFile(filepath.Join(cloneBackupDir, "private"))
	require.NoError(t, err)
	assert.Equal(t, "not pooled", string(privateData))

	hostID, err := cat.HostEnsure(ctx, "host1")
	require.NoError(t, err)
	backupID, err := cat.BackupEnsure(ctx, hostID, 1)
	require.NoError(t, err)
	backups, err := cat.PartiallyClonedBackups(ctx)
	require.NoError(t, err)
	for _, b := range backups {
		assert.NotEqual(t, backupID, b.BackupID, "backup should be marked complete, not partial")
	}
}

func TestCloneDetectsPoolDrift(t *testing.T) {
	cat, original, clone := newFixture(t)
	ctx := t.Context()

	poolFile := filepath.Join(original.Pool, "pooled")
	require.NoError(t, os.WriteFile(poolFile, []byte("v1"), 0o644))

	backupDir := filepath.Join(original.PC, "host1", "1")
	require.NoError(t, os.MkdirAll(backupDir, 0o755))
	require.NoError(t, os.Link(poolFile, filepath.Join(backupDir, "pooled")))

	require.NoError(t, poolsync.New(cat, original, clone, nil).Synchronize(ctx))

	// Replace the pool file in place: same path, different inode, as if
	// BackupPC rehashed it between the pool scan and the prefetch.
	require.NoError(t, os.Remove(poolFile))
	require.NoError(t, os.WriteFile(poolFile, []byte("v2-different-identity"), 0o644))

	c := New(cat, original, clone, nil)
	err := c.Clone(ctx, "host1", 1)
	require.Error(t, err)
	assert.True(t, cloneio.Recoverable(err))
}
