package wal

import (
	"path/filepath"
	"testing"
	"time"

	"ariesdb/storage/common"
	"ariesdb/storage/disk"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestDisk(t *testing.T) *disk.Manager {
	t.Helper()
	dir := t.TempDir()
	name := uuid.NewString()
	dm, _, err := disk.Open(filepath.Join(dir, name+".db"), filepath.Join(dir, name+".log"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = dm.Close() })
	return dm
}

func TestLogManager_AppendAssignsMonotonicLSNs(t *testing.T) {
	m := NewManager(newTestDisk(t), common.LogBufferSize)
	m.Run()
	defer m.Stop()

	l1, err := m.AppendLog(&Record{Type: TypeBegin, TxnID: 1})
	require.NoError(t, err)
	l2, err := m.AppendLog(&Record{Type: TypeCommit, TxnID: 1})
	require.NoError(t, err)

	require.Greater(t, l2, l1)
}

func TestLogManager_ForceFlushMakesRecordDurable(t *testing.T) {
	m := NewManager(newTestDisk(t), common.LogBufferSize)
	m.Run()
	defer m.Stop()

	lsn, err := m.AppendLog(&Record{Type: TypeCommit, TxnID: 1})
	require.NoError(t, err)

	require.NoError(t, m.ForceFlush(lsn))
	require.GreaterOrEqual(t, m.GetFlushedLSN(), lsn)
}

func TestLogManager_PeriodicTimeoutFlushesWithoutForceFlush(t *testing.T) {
	m := NewManager(newTestDisk(t), common.LogBufferSize)
	m.Run()
	defer m.Stop()

	lsn, err := m.AppendLog(&Record{Type: TypeCommit, TxnID: 1})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return m.GetFlushedLSN() >= lsn
	}, common.LogTimeout*10, 5*time.Millisecond)
}

func TestLogManager_SwapOnFullBufferStillPreservesAllRecords(t *testing.T) {
	d := newTestDisk(t)
	m := NewManager(d, 64) // tiny capacity forces frequent swaps
	m.Run()
	defer m.Stop()

	var last common.LSN
	for i := 0; i < 20; i++ {
		lsn, err := m.AppendLog(&Record{Type: TypeInsert, TxnID: 1, RID: common.RID{PageID: 1, Slot: uint16(i)}, TupleBytes: []byte("x")})
		require.NoError(t, err)
		last = lsn
	}
	require.NoError(t, m.ForceFlush(last))
	require.GreaterOrEqual(t, m.GetFlushedLSN(), last)
}
