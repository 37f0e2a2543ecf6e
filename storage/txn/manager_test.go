package txn

import (
	"testing"

	"ariesdb/storage/common"
	"ariesdb/storage/wal"
	"github.com/stretchr/testify/require"
)

type fakeLog struct {
	nextLSN uint64
	flushed common.LSN
	records []*wal.Record
}

func (f *fakeLog) AppendLog(r *wal.Record) (common.LSN, error) {
	f.nextLSN++
	r.LSN = common.LSN(f.nextLSN)
	f.records = append(f.records, r)
	return r.LSN, nil
}

func (f *fakeLog) ForceFlush(target common.LSN) error {
	if target > f.flushed {
		f.flushed = target
	}
	return nil
}

type fakeLocks struct {
	released []common.TxnID
}

func (f *fakeLocks) ReleaseLocks(txnID common.TxnID) {
	f.released = append(f.released, txnID)
}

type fakeUndoer struct {
	undone []common.TxnID
}

func (f *fakeUndoer) UndoTransaction(txnID common.TxnID, lastLSN common.LSN) error {
	f.undone = append(f.undone, txnID)
	return nil
}

func newTestManager() (*Manager, *fakeLog, *fakeLocks, *fakeUndoer) {
	log := &fakeLog{}
	locks := &fakeLocks{}
	undoer := &fakeUndoer{}
	return NewManager(log, locks, undoer), log, locks, undoer
}

func TestManager_BeginAssignsUniqueGrowingTransactions(t *testing.T) {
	m, _, _, _ := newTestManager()

	t1, err := m.Begin()
	require.NoError(t, err)
	t2, err := m.Begin()
	require.NoError(t, err)

	require.NotEqual(t, t1.ID(), t2.ID())
	require.Equal(t, Growing, t1.State())
}

func TestManager_CommitFlushesAndReleasesLocks(t *testing.T) {
	m, log, locks, _ := newTestManager()

	tx, err := m.Begin()
	require.NoError(t, err)
	require.NoError(t, m.Commit(tx))

	require.Equal(t, Committed, tx.State())
	require.Contains(t, locks.released, tx.ID())
	require.GreaterOrEqual(t, log.flushed, tx.PrevLSN())
	require.Empty(t, m.ActiveTransactions())
}

func TestManager_AbortUndoesAndReleasesLocks(t *testing.T) {
	m, _, locks, undoer := newTestManager()

	tx, err := m.Begin()
	require.NoError(t, err)
	require.NoError(t, m.Abort(tx))

	require.Equal(t, Aborted, tx.State())
	require.Contains(t, undoer.undone, tx.ID())
	require.Contains(t, locks.released, tx.ID())
	require.Empty(t, m.ActiveTransactions())
}

func TestManager_ActiveTransactionsExcludesCommittedAndAborted(t *testing.T) {
	m, _, _, _ := newTestManager()

	t1, _ := m.Begin()
	t2, _ := m.Begin()
	require.NoError(t, m.Commit(t1))

	active := m.ActiveTransactions()
	require.Len(t, active, 1)
	require.Equal(t, t2.ID(), active[0])
}
