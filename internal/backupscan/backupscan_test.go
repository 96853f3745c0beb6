package backupscan

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanOrdersParentsBeforeChildren(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "top.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "nested.txt"), []byte("b"), 0o644))

	var buf bytes.Buffer
	s := New(nil)
	count, err := s.Scan(root, &buf)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	r := csv.NewReader(&buf)
	records, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	seqByName := map[string]int64{}
	for _, rec := range records {
		seq, err := strconv.ParseInt(rec[0], 10, 64)
		require.NoError(t, err)
		seqByName[rec[3]] = seq
	}

	assert.Less(t, seqByName["top.txt"], seqByName["sub"])
	assert.Less(t, seqByName["sub"], seqByName["nested.txt"])
}

func TestScanSharesSeqAcrossSiblingFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a"), []byte("1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b"), []byte("2"), 0o644))

	var buf bytes.Buffer
	s := New(nil)
	_, err := s.Scan(root, &buf)
	require.NoError(t, err)

	r := csv.NewReader(&buf)
	records, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, records[0][0], records[1][0])
}

func TestPreScanWritesReadableArtifact(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "f"), []byte("x"), 0o644))

	s := New(nil)
	require.NoError(t, s.PreScan(root))
	assert.True(t, HasPreScan(root))

	f, err := OpenPreScan(root)
	require.NoError(t, err)
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestParseInfoAcceptsPerlHashShape(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "backupInfo")
	content := "$type = 'full';\n$endTime = 1700000000;\n$level = 0;\n$version = '4.4.0';\n$nFiles = 42;\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	info, err := ParseInfo(path)
	require.NoError(t, err)
	assert.Equal(t, "full", info.Type)
	assert.EqualValues(t, 1700000000, info.EndTime)
	assert.Equal(t, 0, info.Level)
	assert.Equal(t, "4.4.0", info.Version)
	assert.EqualValues(t, 42, info.NFiles)
}

func TestParseInfoAcceptsPlainKeyValueShape(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "backupInfo")
	content := "endTime=1700000500\nlevel=1\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	info, err := ParseInfo(path)
	require.NoError(t, err)
	assert.EqualValues(t, 1700000500, info.EndTime)
	assert.Equal(t, 1, info.Level)
	// type defaults to "incr" once level > 0 and no explicit type is present.
	assert.Equal(t, "incr", info.Type)
}

func TestIsV4DetectsAttribEntries(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "attrib_abc123"), []byte(""), 0o644))

	v4, err := IsV4(root)
	require.NoError(t, err)
	assert.True(t, v4)
}

func TestIsV4FalseWithoutAttribEntries(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "somefile"), []byte(""), 0o644))

	v4, err := IsV4(root)
	require.NoError(t, err)
	assert.False(t, v4)
}
