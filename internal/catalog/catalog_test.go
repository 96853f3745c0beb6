package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clone.db")
	cat, err := Open(path, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })
	return cat
}

func TestOpenRunsMigrations(t *testing.T) {
	cat := openTest(t)

	var count int
	err := cat.conn.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestHostAndBackupEnsureAreIdempotent(t *testing.T) {
	cat := openTest(t)
	ctx := context.Background()

	id1, err := cat.HostEnsure(ctx, "web01")
	require.NoError(t, err)
	id2, err := cat.HostEnsure(ctx, "web01")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	b1, err := cat.BackupEnsure(ctx, id1, 5)
	require.NoError(t, err)
	b2, err := cat.BackupEnsure(ctx, id1, 5)
	require.NoError(t, err)
	assert.Equal(t, b1, b2)
}

func TestLastPoolSyncDefaultsToForceSync(t *testing.T) {
	cat := openTest(t)
	ctx := context.Background()

	v, err := cat.LastPoolSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, ForcePoolSync, v)

	require.NoError(t, cat.SetLastPoolSync(ctx, 1700000000))
	v, err = cat.LastPoolSync(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1700000000, v)
}

func TestBackupTreeBulkInsertAndYieldTreeOrdering(t *testing.T) {
	cat := openTest(t)
	ctx := context.Background()

	hostID, err := cat.HostEnsure(ctx, "db01")
	require.NoError(t, err)
	backupID, err := cat.BackupEnsure(ctx, hostID, 1)
	require.NoError(t, err)

	// seq 1: directory "a"; seq 2: two sibling files inside "a"; seq 3: directory "b".
	csv := "1,,,a\n2,101,a,file1\n2,102,a,file2\n3,,,b\n"
	err = cat.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := cat.BackupTreeBulkInsert(ctx, tx, backupID, strings.NewReader(csv))
		return err
	})
	require.NoError(t, err)

	cur := cat.YieldTree(ctx, backupID)
	var rows []TreeRow
	for {
		batch, err := cur.Next()
		require.NoError(t, err)
		if len(batch) == 0 {
			break
		}
		rows = append(rows, batch...)
	}

	require.Len(t, rows, 4)
	// Parents-before-children: "a" (seq 1) precedes its files (seq 2).
	assert.Equal(t, int64(1), rows[0].Seq)
	assert.False(t, rows[0].OriginalInode.Valid)
	assert.Equal(t, int64(2), rows[1].Seq)
	assert.Equal(t, int64(2), rows[2].Seq)
	assert.Equal(t, int64(3), rows[3].Seq)
}

// TestYieldTreeDoesNotDropSameSeqGroupAcrossBatchBoundary guards against a
// keyset-pagination bug where rows sharing one seq value could be split
// across a page boundary and the back half silently dropped: it inserts
// more rows at a single seq than one batch holds and checks every row
// comes back exactly once.
func TestYieldTreeDoesNotDropSameSeqGroupAcrossBatchBoundary(t *testing.T) {
	cat := openTest(t)
	ctx := context.Background()

	hostID, err := cat.HostEnsure(ctx, "bigdir")
	require.NoError(t, err)
	backupID, err := cat.BackupEnsure(ctx, hostID, 1)
	require.NoError(t, err)

	rowCount := BatchSize + 50
	var b strings.Builder
	for i := 0; i < rowCount; i++ {
		fmt.Fprintf(&b, "1,%d,dir,file%d\n", 1000+i, i)
	}
	err = cat.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := cat.BackupTreeBulkInsert(ctx, tx, backupID, strings.NewReader(b.String()))
		return err
	})
	require.NoError(t, err)

	cur := cat.YieldTree(ctx, backupID)
	seen := map[int64]bool{}
	for {
		batch, err := cur.Next()
		require.NoError(t, err)
		if len(batch) == 0 {
			break
		}
		for _, r := range batch {
			seen[r.OriginalInode.Int64] = true
		}
	}
	assert.Len(t, seen, rowCount)
}

func TestPoolDiffApplyOriginalInsertsAndDeletes(t *testing.T) {
	cat := openTest(t)
	ctx := context.Background()

	err := cat.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := cat.ImportPoolLoad(ctx, tx, strings.NewReader("1,/pool/a,f1\n2,/pool/a,f2\n"))
		if err != nil {
			return err
		}
		inserted, deleted, err := cat.PoolDiffApplyOriginal(ctx, tx)
		assert.EqualValues(t, 2, inserted)
		assert.EqualValues(t, 0, deleted)
		return err
	})
	require.NoError(t, err)

	// Second snapshot drops inode 2 and adds inode 3.
	err = cat.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := cat.ImportPoolLoad(ctx, tx, strings.NewReader("1,/pool/a,f1\n3,/pool/a,f3\n"))
		if err != nil {
			return err
		}
		inserted, deleted, err := cat.PoolDiffApplyOriginal(ctx, tx)
		assert.EqualValues(t, 1, inserted)
		assert.EqualValues(t, 1, deleted)
		return err
	})
	require.NoError(t, err)

	pe, err := cat.PoolEntryByInode(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, pe)

	pe, err = cat.PoolEntryByInode(ctx, 3)
	require.NoError(t, err)
	require.NotNil(t, pe)
}

func TestPartiallyClonedBackupsTreatsNullAsInProgress(t *testing.T) {
	cat := openTest(t)
	ctx := context.Background()

	hostID, err := cat.HostEnsure(ctx, "h1")
	require.NoError(t, err)
	_, err = cat.BackupEnsure(ctx, hostID, 1) // in_progress left NULL
	require.NoError(t, err)

	backups, err := cat.PartiallyClonedBackups(ctx)
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, "h1", backups[0].Host)
}
