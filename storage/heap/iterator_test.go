package heap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIterator_ScansAllLiveTuplesAcrossPages(t *testing.T) {
	h, tm := newTestHeap(t, 8)
	tx, err := tm.Begin()
	require.NoError(t, err)

	payload := make([]byte, 200)
	const n = 40
	for i := 0; i < n; i++ {
		_, err := h.InsertTuple(tx, payload)
		require.NoError(t, err)
	}
	require.NoError(t, tm.Commit(tx))

	it := h.NewIterator()
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
	require.Equal(t, n, count)
}

func TestIterator_SkipsMarkDeletedTuples(t *testing.T) {
	h, tm := newTestHeap(t, 8)
	tx, err := tm.Begin()
	require.NoError(t, err)

	rid1, err := h.InsertTuple(tx, []byte("keep"))
	require.NoError(t, err)
	rid2, err := h.InsertTuple(tx, []byte("drop"))
	require.NoError(t, err)
	require.NoError(t, h.MarkDelete(tx, rid2))
	require.NoError(t, tm.Commit(tx))

	it := h.NewIterator()
	rid, data, ok, err := it.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rid1, rid)
	require.Equal(t, []byte("keep"), data)

	_, _, ok, err = it.Next()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestIterator_EmptyHeapReturnsNoTuples(t *testing.T) {
	h, _ := newTestHeap(t, 8)
	it := h.NewIterator()
	_, _, ok, err := it.Next()
	require.NoError(t, err)
	require.False(t, ok)
}
