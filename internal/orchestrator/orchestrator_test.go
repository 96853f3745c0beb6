package orchestrator

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigreer/backuppc-clone/internal/catalog"
	"github.com/sigreer/backuppc-clone/internal/cloneconfig"
)

func newFixture(t *testing.T) (*catalog.Catalog, *cloneconfig.Config, string) {
	t.Helper()
	root := t.TempDir()

	cfg := &cloneconfig.Config{
		Clone:    cloneconfig.Clone{Name: "site1", Top: filepath.Join(root, "clone")},
		Original: cloneconfig.Original{Top: filepath.Join(root, "original")},
	}
	original := cfg.OriginalLayout()
	clone := cfg.Layout()
	for _, dir := range []string{original.Pool, original.CPool, original.PC, clone.Pool, clone.CPool, clone.PC} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}

	cat, err := catalog.Open(clone.CatalogDB, catalog.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	return cat, cfg, filepath.Join(root, "status.json")
}

func writeBackupInfo(t *testing.T, path string, endTime int64, level int, typ string) {
	t.Helper()
	content := ""
	if typ != "" {
		content += "$type = '" + typ + "';\n"
	}
	content += "$level = " + strconv.Itoa(level) + ";\n"
	content += "$endTime = " + strconv.FormatInt(endTime, 10) + ";\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRunClonesPendingBackupAndStopsWhenDone(t *testing.T) {
	cat, cfg, statusPath := newFixture(t)
	original := cfg.OriginalLayout()

	backupDir := filepath.Join(original.PC, "host1", "1")
	require.NoError(t, os.MkdirAll(backupDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(backupDir, "file.txt"), []byte("data"), 0o644))
	writeBackupInfo(t, filepath.Join(backupDir, "backupInfo"), 1700000000, 0, "full")

	orch := New(cat, cfg, statusPath, nil)
	ctx := t.Context()
	require.NoError(t, orch.Run(ctx))

	clone := cfg.Layout()
	clonedFile := filepath.Join(clone.PC, "host1", "1", "file.txt")
	data, err := os.ReadFile(clonedFile)
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))

	raw, err := os.ReadFile(statusPath)
	require.NoError(t, err)
	var status Status
	require.NoError(t, json.Unmarshal(raw, &status))
	assert.Equal(t, 1, status.BackupsCloned)
	assert.Empty(t, status.LastError)
	assert.NotEmpty(t, status.RunID)
}

func TestRunOnePassReportsNoMoreWorkWhenInventoryEmpty(t *testing.T) {
	cat, cfg, statusPath := newFixture(t)

	orch := New(cat, cfg, statusPath, nil)
	more, err := orch.RunOnePass(t.Context())
	require.NoError(t, err)
	assert.False(t, more)
}

func TestRunRemovesObsoleteHostNoLongerOnOriginal(t *testing.T) {
	cat, cfg, statusPath := newFixture(t)
	ctx := t.Context()
	clone := cfg.Layout()

	hostID, err := cat.HostEnsure(ctx, "ghost")
	require.NoError(t, err)
	backupID, err := cat.BackupEnsure(ctx, hostID, 1)
	require.NoError(t, err)
	require.NoError(t, cat.BackupSetProgress(ctx, backupID, false))
	require.NoError(t, os.MkdirAll(filepath.Join(clone.PC, "ghost", "1"), 0o755))

	orch := New(cat, cfg, statusPath, nil)
	_, err = orch.RunOnePass(ctx)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(clone.PC, "ghost"))
	assert.True(t, os.IsNotExist(err))
}
