package index

import (
	"fmt"
	"path/filepath"
	"testing"

	"ariesdb/storage/buffer"
	"ariesdb/storage/common"
	"ariesdb/storage/disk"
	"ariesdb/storage/page"
	"ariesdb/storage/wal"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestTree(t *testing.T, capacity int) *BPlusTree[int64] {
	t.Helper()
	dir := t.TempDir()
	name := uuid.NewString()
	dm, _, err := disk.Open(filepath.Join(dir, name+".db"), filepath.Join(dir, name+".log"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = dm.Close() })

	lm := wal.NewManager(dm, common.LogBufferSize)
	lm.Run()
	t.Cleanup(lm.Stop)

	pool := buffer.NewPool(capacity, dm, lm)
	return NewBPlusTree[int64](pool, page.Int64KeySerializer{}, page.CompareInt64)
}

func rid(n int64) common.RID { return common.RID{PageID: common.PageID(n), Slot: 0} }

func TestBPlusTree_InsertThenLookup(t *testing.T) {
	tree := newTestTree(t, 64)
	require.NoError(t, tree.Insert(10, rid(10)))
	require.NoError(t, tree.Insert(20, rid(20)))

	got, ok, err := tree.Lookup(10)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rid(10), got)

	_, ok, err = tree.Lookup(99)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBPlusTree_InsertDuplicateKeyFails(t *testing.T) {
	tree := newTestTree(t, 64)
	require.NoError(t, tree.Insert(5, rid(5)))
	require.ErrorIs(t, tree.Insert(5, rid(500)), common.ErrDuplicateKey)
}

func TestBPlusTree_InsertManyForcesSplitsAndAllKeysFindable(t *testing.T) {
	tree := newTestTree(t, 256)
	const n = 500
	for i := int64(0); i < n; i++ {
		require.NoError(t, tree.Insert(i, rid(i)))
	}
	require.NotEqual(t, common.InvalidPageID, tree.RootPageID())

	for i := int64(0); i < n; i++ {
		got, ok, err := tree.Lookup(i)
		require.NoError(t, err, "lookup key %d", i)
		require.True(t, ok, "key %d should be found", i)
		require.Equal(t, rid(i), got)
	}
}

func TestBPlusTree_DeleteRemovesKey(t *testing.T) {
	tree := newTestTree(t, 64)
	for i := int64(0); i < 10; i++ {
		require.NoError(t, tree.Insert(i, rid(i)))
	}
	require.NoError(t, tree.Delete(5))

	_, ok, err := tree.Lookup(5)
	require.NoError(t, err)
	require.False(t, ok)

	for _, k := range []int64{0, 1, 2, 3, 4, 6, 7, 8, 9} {
		_, ok, err := tree.Lookup(k)
		require.NoError(t, err)
		require.True(t, ok, "key %d should survive", k)
	}
}

func TestBPlusTree_DeleteAllKeysEmptiesTree(t *testing.T) {
	tree := newTestTree(t, 64)
	const n = 20
	for i := int64(0); i < n; i++ {
		require.NoError(t, tree.Insert(i, rid(i)))
	}
	for i := int64(0); i < n; i++ {
		require.NoError(t, tree.Delete(i))
	}
	require.True(t, tree.IsEmpty())
}

func TestBPlusTree_InsertDeleteManyTriggersMergesAndRedistributes(t *testing.T) {
	tree := newTestTree(t, 256)
	const n = 300
	for i := int64(0); i < n; i++ {
		require.NoError(t, tree.Insert(i, rid(i)))
	}

	for i := int64(0); i < n; i += 2 {
		require.NoError(t, tree.Delete(i))
	}

	for i := int64(0); i < n; i++ {
		got, ok, err := tree.Lookup(i)
		require.NoError(t, err)
		if i%2 == 0 {
			require.False(t, ok, "key %d should have been deleted", i)
		} else {
			require.True(t, ok, "key %d should survive", i)
			require.Equal(t, rid(i), got)
		}
	}
}

func TestBPlusTree_SeekFirstAndIterateInOrder(t *testing.T) {
	tree := newTestTree(t, 256)
	const n = 200
	for i := int64(n - 1); i >= 0; i-- {
		require.NoError(t, tree.Insert(i, rid(i)))
	}

	it, err := tree.SeekFirst()
	require.NoError(t, err)

	var got []int64
	for {
		k, v, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		require.Equal(t, rid(k), v)
		got = append(got, k)
	}
	require.Len(t, got, n)
	for i := 1; i < len(got); i++ {
		require.Less(t, got[i-1], got[i], fmt.Sprintf("index %d", i))
	}
}

func TestBPlusTree_SeekPositionsAtKey(t *testing.T) {
	tree := newTestTree(t, 256)
	for i := int64(0); i < 50; i++ {
		require.NoError(t, tree.Insert(i*2, rid(i*2)))
	}

	it, err := tree.Seek(25)
	require.NoError(t, err)
	k, _, ok, err := it.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(26), k)
}
