package recovery

import (
	"path/filepath"
	"testing"

	"ariesdb/storage/buffer"
	"ariesdb/storage/common"
	"ariesdb/storage/disk"
	"ariesdb/storage/heap"
	"ariesdb/storage/txn"
	"ariesdb/storage/wal"
	"github.com/stretchr/testify/require"
)

type noopLocks struct{}

func (noopLocks) ReleaseLocks(common.TxnID) {}

type noopUndoer struct{}

func (noopUndoer) UndoTransaction(common.TxnID, common.LSN) error { return nil }

func openFresh(t *testing.T, dataPath, logPath string, capacity int) (*disk.Manager, *wal.Manager, *buffer.Pool) {
	t.Helper()
	dm, _, err := disk.Open(dataPath, logPath)
	require.NoError(t, err)
	lm := wal.NewManager(dm, common.LogBufferSize)
	lm.Run()
	t.Cleanup(lm.Stop)
	pool := buffer.NewPool(capacity, dm, lm)
	return dm, lm, pool
}

func TestRecovery_RedoOfCommittedInsertSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	dataPath := filepath.Join(dir, "data.db")
	logPath := filepath.Join(dir, "wal.log")

	dm1, lm1, pool1 := openFresh(t, dataPath, logPath, 8)
	tm1 := txn.NewManager(lm1, noopLocks{}, noopUndoer{})
	h1, err := heap.Create(pool1, lm1)
	require.NoError(t, err)

	tx, err := tm1.Begin()
	require.NoError(t, err)
	rid, err := h1.InsertTuple(tx, []byte("alive after crash"))
	require.NoError(t, err)
	require.NoError(t, tm1.Commit(tx))

	// simulate a crash: the buffer pool's dirty pages are never flushed,
	// only the log manager's force-log-at-commit durability applies.
	require.NoError(t, dm1.Close())

	dm2, lm2, pool2 := openFresh(t, dataPath, logPath, 8)
	rm := NewManager(pool2, dm2, lm2)
	require.NoError(t, rm.Recover())

	h2 := heap.Open(pool2, lm2, h1.FirstPageID())
	got, err := h2.GetTuple(rid)
	require.NoError(t, err)
	require.Equal(t, []byte("alive after crash"), got)
}

func TestRecovery_UndoOfUncommittedInsertIsGoneAfterRestart(t *testing.T) {
	dir := t.TempDir()
	dataPath := filepath.Join(dir, "data.db")
	logPath := filepath.Join(dir, "wal.log")

	dm1, lm1, pool1 := openFresh(t, dataPath, logPath, 8)
	tm1 := txn.NewManager(lm1, noopLocks{}, noopUndoer{})
	h1, err := heap.Create(pool1, lm1)
	require.NoError(t, err)

	tx, err := tm1.Begin()
	require.NoError(t, err)
	rid, err := h1.InsertTuple(tx, []byte("never committed"))
	require.NoError(t, err)
	require.NoError(t, lm1.ForceFlush(tx.PrevLSN()))
	require.NoError(t, dm1.Close())

	dm2, lm2, pool2 := openFresh(t, dataPath, logPath, 8)
	rm := NewManager(pool2, dm2, lm2)
	require.NoError(t, rm.Recover())

	h2 := heap.Open(pool2, lm2, h1.FirstPageID())
	_, err = h2.GetTuple(rid)
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestRecovery_RedoAcrossSpilledPageSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	dataPath := filepath.Join(dir, "data.db")
	logPath := filepath.Join(dir, "wal.log")

	dm1, lm1, pool1 := openFresh(t, dataPath, logPath, 8)
	tm1 := txn.NewManager(lm1, noopLocks{}, noopUndoer{})
	h1, err := heap.Create(pool1, lm1)
	require.NoError(t, err)

	tx, err := tm1.Begin()
	require.NoError(t, err)
	payload := make([]byte, 200)
	var rids []common.RID
	for i := 0; i < 40; i++ {
		rid, err := h1.InsertTuple(tx, payload)
		require.NoError(t, err)
		rids = append(rids, rid)
	}
	require.NoError(t, tm1.Commit(tx))
	require.NoError(t, dm1.Close())

	dm2, lm2, pool2 := openFresh(t, dataPath, logPath, 8)
	rm := NewManager(pool2, dm2, lm2)
	require.NoError(t, rm.Recover())

	h2 := heap.Open(pool2, lm2, h1.FirstPageID())
	it := h2.NewIterator()
	count := 0
	for {
		_, data, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		require.Equal(t, payload, data)
		count++
	}
	require.Equal(t, len(rids), count)
}

func TestTakeCheckpoint_RefusesWhileTransactionsActive(t *testing.T) {
	dir := t.TempDir()
	dm, lm, pool := openFresh(t, filepath.Join(dir, "d.db"), filepath.Join(dir, "l.log"), 8)
	tm := txn.NewManager(lm, noopLocks{}, noopUndoer{})
	_, err := tm.Begin()
	require.NoError(t, err)

	err = TakeCheckpoint(pool, tm, dm)
	require.ErrorIs(t, err, ErrCheckpointBusy)
}

func TestTakeCheckpoint_FlushesAndTruncatesWhenIdle(t *testing.T) {
	dir := t.TempDir()
	dm, lm, pool := openFresh(t, filepath.Join(dir, "d.db"), filepath.Join(dir, "l.log"), 8)
	tm := txn.NewManager(lm, noopLocks{}, noopUndoer{})
	_, err := heap.Create(pool, lm)
	require.NoError(t, err)

	require.NoError(t, TakeCheckpoint(pool, tm, dm))
	require.EqualValues(t, 0, dm.LogSize())
}
