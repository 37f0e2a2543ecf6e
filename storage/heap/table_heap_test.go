package heap

import (
	"path/filepath"
	"testing"

	"ariesdb/storage/buffer"
	"ariesdb/storage/common"
	"ariesdb/storage/disk"
	"ariesdb/storage/txn"
	"ariesdb/storage/wal"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type noopLocks struct{}

func (noopLocks) ReleaseLocks(common.TxnID) {}

type noopUndoer struct{}

func (noopUndoer) UndoTransaction(common.TxnID, common.LSN) error { return nil }

func newTestHeap(t *testing.T, capacity int) (*TableHeap, *txn.Manager) {
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
	tm := txn.NewManager(lm, noopLocks{}, noopUndoer{})

	h, err := Create(pool, lm)
	require.NoError(t, err)
	return h, tm
}

func TestTableHeap_InsertThenGetTuple(t *testing.T) {
	h, tm := newTestHeap(t, 8)
	tx, err := tm.Begin()
	require.NoError(t, err)

	rid, err := h.InsertTuple(tx, []byte("hello world"))
	require.NoError(t, err)

	got, err := h.GetTuple(rid)
	require.NoError(t, err)
	require.Equal(t, []byte("hello world"), got)
	require.NoError(t, tm.Commit(tx))
}

func TestTableHeap_InsertSpillsToNewPageWhenFull(t *testing.T) {
	h, tm := newTestHeap(t, 8)
	tx, err := tm.Begin()
	require.NoError(t, err)

	payload := make([]byte, 200)
	var rids []common.RID
	for i := 0; i < 40; i++ {
		rid, err := h.InsertTuple(tx, payload)
		require.NoError(t, err)
		rids = append(rids, rid)
	}

	seenPages := map[common.PageID]bool{}
	for _, rid := range rids {
		seenPages[rid.PageID] = true
		got, err := h.GetTuple(rid)
		require.NoError(t, err)
		require.Equal(t, payload, got)
	}
	require.Greater(t, len(seenPages), 1, "expected the heap to spill across multiple pages")
	require.NoError(t, tm.Commit(tx))
}

func TestTableHeap_MarkDeleteHidesTupleThenRollbackRestoresIt(t *testing.T) {
	h, tm := newTestHeap(t, 8)
	tx, err := tm.Begin()
	require.NoError(t, err)

	rid, err := h.InsertTuple(tx, []byte("row"))
	require.NoError(t, err)

	require.NoError(t, h.MarkDelete(tx, rid))
	_, err = h.GetTuple(rid)
	require.ErrorIs(t, err, common.ErrNotFound)

	require.NoError(t, h.RollbackDelete(tx, rid))
	got, err := h.GetTuple(rid)
	require.NoError(t, err)
	require.Equal(t, []byte("row"), got)
	require.NoError(t, tm.Commit(tx))
}

func TestTableHeap_ApplyDeleteReclaimsSpacePermanently(t *testing.T) {
	h, tm := newTestHeap(t, 8)
	tx, err := tm.Begin()
	require.NoError(t, err)

	rid, err := h.InsertTuple(tx, []byte("gone"))
	require.NoError(t, err)

	require.NoError(t, h.MarkDelete(tx, rid))
	require.NoError(t, h.ApplyDelete(tx, rid))

	_, err = h.GetTuple(rid)
	require.ErrorIs(t, err, common.ErrNotFound)
	require.NoError(t, tm.Commit(tx))
}

func TestTableHeap_UpdateTupleInPlace(t *testing.T) {
	h, tm := newTestHeap(t, 8)
	tx, err := tm.Begin()
	require.NoError(t, err)

	rid, err := h.InsertTuple(tx, []byte("original"))
	require.NoError(t, err)

	require.NoError(t, h.UpdateTuple(tx, rid, []byte("replaced")))
	got, err := h.GetTuple(rid)
	require.NoError(t, err)
	require.Equal(t, []byte("replaced"), got)
	require.NoError(t, tm.Commit(tx))
}

func TestTableHeap_InsertThreadsPrevLSNThroughTransaction(t *testing.T) {
	h, tm := newTestHeap(t, 8)
	tx, err := tm.Begin()
	require.NoError(t, err)

	beginLSN := tx.PrevLSN()
	_, err = h.InsertTuple(tx, []byte("a"))
	require.NoError(t, err)
	require.Greater(t, tx.PrevLSN(), beginLSN)

	afterInsertLSN := tx.PrevLSN()
	_, err = h.InsertTuple(tx, []byte("b"))
	require.NoError(t, err)
	require.Greater(t, tx.PrevLSN(), afterInsertLSN)
	require.NoError(t, tm.Commit(tx))
}
