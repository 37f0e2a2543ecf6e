package page

import (
	"testing"

	"ariesdb/storage/common"
	"github.com/stretchr/testify/require"
)

func newHeap(t *testing.T, id common.PageID) *Heap {
	t.Helper()
	raw := NewRawPage(id)
	h := NewHeap(raw)
	h.Init(id)
	return h
}

func TestHeap_InsertAndGetTuple(t *testing.T) {
	h := newHeap(t, 1)
	slot, err := h.InsertTuple([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 0, slot)

	got, ok := h.GetTuple(slot)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), got)
}

func TestHeap_InsertReusesDeletedSlot(t *testing.T) {
	h := newHeap(t, 1)
	s0, _ := h.InsertTuple([]byte("aaaa"))
	s1, _ := h.InsertTuple([]byte("bb"))
	require.NotEqual(t, s0, s1)

	h.ApplyDelete(s0)
	s2, err := h.InsertTuple([]byte("c"))
	require.NoError(t, err)
	require.Equal(t, s0, s2)
}

func TestHeap_MarkDeleteThenRollback(t *testing.T) {
	h := newHeap(t, 1)
	slot, _ := h.InsertTuple([]byte("data"))

	h.MarkDelete(slot)
	_, ok := h.GetTuple(slot)
	require.False(t, ok)

	h.RollbackDelete(slot)
	got, ok := h.GetTuple(slot)
	require.True(t, ok)
	require.Equal(t, []byte("data"), got)
}

func TestHeap_ApplyDeleteCompactsAndPreservesOtherTuples(t *testing.T) {
	h := newHeap(t, 1)
	s0, _ := h.InsertTuple([]byte("first"))
	s1, _ := h.InsertTuple([]byte("second"))
	s2, _ := h.InsertTuple([]byte("third"))

	h.ApplyDelete(s1)

	got0, ok := h.GetTuple(s0)
	require.True(t, ok)
	require.Equal(t, []byte("first"), got0)

	got2, ok := h.GetTuple(s2)
	require.True(t, ok)
	require.Equal(t, []byte("third"), got2)

	_, ok = h.GetTuple(s1)
	require.False(t, ok)
}

func TestHeap_UpdateTupleInPlace(t *testing.T) {
	h := newHeap(t, 1)
	slot, _ := h.InsertTuple([]byte("short"))

	require.NoError(t, h.UpdateTuple(slot, []byte("a longer value")))
	got, ok := h.GetTuple(slot)
	require.True(t, ok)
	require.Equal(t, []byte("a longer value"), got)
}

func TestHeap_UpdateNonexistentSlotErrors(t *testing.T) {
	h := newHeap(t, 1)
	err := h.UpdateTuple(0, []byte("x"))
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestHeap_NextIdxSkipsHoles(t *testing.T) {
	h := newHeap(t, 1)
	s0, _ := h.InsertTuple([]byte("a"))
	s1, _ := h.InsertTuple([]byte("b"))
	s2, _ := h.InsertTuple([]byte("c"))
	h.MarkDelete(s1)

	next, ok := h.NextIdx(s0)
	require.True(t, ok)
	require.Equal(t, s2, next)

	_, ok = h.NextIdx(s2)
	require.False(t, ok)
}

func TestHeap_InsertFailsWhenFull(t *testing.T) {
	h := newHeap(t, 1)
	big := make([]byte, common.PageSize)
	_, err := h.InsertTuple(big)
	require.ErrorIs(t, err, common.ErrOutOfSpace)
}
