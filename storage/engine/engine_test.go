package engine

import (
	"path/filepath"
	"testing"

	"ariesdb/storage/common"
	"github.com/stretchr/testify/require"
)

func open(t *testing.T, dir string) *Engine {
	t.Helper()
	e, err := Open(filepath.Join(dir, "test.db"), Options{PoolSize: 8})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestEngine_CreateTableInsertAndGetTuple(t *testing.T) {
	e := open(t, t.TempDir())

	h, err := e.CreateTable("widgets")
	require.NoError(t, err)

	tx, err := e.Begin()
	require.NoError(t, err)
	rid, err := h.InsertTuple(tx, []byte("gear"))
	require.NoError(t, err)
	require.NoError(t, e.Commit(tx))

	got, err := h.GetTuple(rid)
	require.NoError(t, err)
	require.Equal(t, []byte("gear"), got)
}

func TestEngine_CreateTableTwiceFails(t *testing.T) {
	e := open(t, t.TempDir())

	_, err := e.CreateTable("widgets")
	require.NoError(t, err)

	_, err = e.CreateTable("widgets")
	require.ErrorIs(t, err, common.ErrDuplicateKey)
}

func TestEngine_TableLooksUpByNameAfterRestart(t *testing.T) {
	dir := t.TempDir()

	e1, err := Open(filepath.Join(dir, "test.db"), Options{PoolSize: 8})
	require.NoError(t, err)
	h1, err := e1.CreateTable("widgets")
	require.NoError(t, err)

	tx, err := e1.Begin()
	require.NoError(t, err)
	rid, err := h1.InsertTuple(tx, []byte("durable"))
	require.NoError(t, err)
	require.NoError(t, e1.Commit(tx))
	require.NoError(t, e1.Close())

	e2, err := Open(filepath.Join(dir, "test.db"), Options{PoolSize: 8})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e2.Close() })

	h2, err := e2.Table("widgets")
	require.NoError(t, err)
	got, err := h2.GetTuple(rid)
	require.NoError(t, err)
	require.Equal(t, []byte("durable"), got)
}

func TestEngine_TableMissingReturnsNotFound(t *testing.T) {
	e := open(t, t.TempDir())

	_, err := e.Table("ghost")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestEngine_IndexInsertLookupSurvivesRestartAfterCheckpoint(t *testing.T) {
	dir := t.TempDir()

	e1, err := Open(filepath.Join(dir, "test.db"), Options{PoolSize: 8})
	require.NoError(t, err)
	tree, err := e1.CreateIndex("by_id")
	require.NoError(t, err)

	for i := int64(0); i < 50; i++ {
		require.NoError(t, tree.Insert(i, common.RID{PageID: common.PageID(i + 1), Slot: 0}))
	}

	require.NoError(t, e1.Checkpoint())
	require.NoError(t, e1.Close())

	e2, err := Open(filepath.Join(dir, "test.db"), Options{PoolSize: 8})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e2.Close() })

	reopened, err := e2.Index("by_id")
	require.NoError(t, err)
	for i := int64(0); i < 50; i++ {
		rid, ok, err := reopened.Lookup(i)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, common.PageID(i+1), rid.PageID)
	}
}

func TestEngine_IndexMissingReturnsNotFound(t *testing.T) {
	e := open(t, t.TempDir())

	_, err := e.Index("ghost")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestEngine_AbortUndoesUncommittedInsert(t *testing.T) {
	e := open(t, t.TempDir())

	h, err := e.CreateTable("widgets")
	require.NoError(t, err)

	tx, err := e.Begin()
	require.NoError(t, err)
	rid, err := h.InsertTuple(tx, []byte("rolled back"))
	require.NoError(t, err)
	require.NoError(t, e.Abort(tx))

	_, err = h.GetTuple(rid)
	require.ErrorIs(t, err, common.ErrNotFound)
}
