package page

import (
	"encoding/binary"

	"ariesdb/storage/common"
)

// heapExtraSize is the heap-specific header that follows the common page
// header: free space pointer, slot count, and the sibling chain pointers
// that thread a table's pages together (spec.md §3, "Tuple/Row").
const heapExtraSize = 16
const heapExtraOffset = HeaderSize
const heapSlotArrayOffset = HeaderSize + heapExtraSize

// slotEntrySize is (offset uint32, size uint32) per slot.
const slotEntrySize = 8

// deletedMask is the high bit of a slot's size field, marking a tuple as
// soft-deleted without reclaiming its space (spec.md §4.8, MarkDelete vs
// ApplyDelete — the two-phase delete protocol recovery's undo relies on).
const deletedMask uint32 = 1 << 31

// Heap is a slotted page: a header, a growing slot array, and tuple bytes
// packed from the tail of the page toward the slot array (spec.md §3). It
// stores opaque length-framed byte blobs — the engine has no schema layer.
type Heap struct {
	raw *RawPage
}

func NewHeap(raw *RawPage) *Heap { return &Heap{raw: raw} }

func (h *Heap) Init(id common.PageID) {
	hdr := Header{
		Type:         TypeHeap,
		Size:         0,
		MaxSize:      0,
		PageID:       id,
		ParentPageID: common.InvalidPageID,
	}
	WriteHeader(h.raw.Data, hdr)
	h.setFreeSpacePointer(uint32(common.PageSize))
	h.setSlotCount(0)
	h.SetPrevPageID(common.InvalidPageID)
	h.SetNextPageID(common.InvalidPageID)
}

func (h *Heap) PageID() common.PageID { return ReadHeader(h.raw.Data).PageID }

func (h *Heap) freeSpacePointer() uint32 {
	return binary.BigEndian.Uint32(h.raw.Data[heapExtraOffset : heapExtraOffset+4])
}

func (h *Heap) setFreeSpacePointer(v uint32) {
	binary.BigEndian.PutUint32(h.raw.Data[heapExtraOffset:heapExtraOffset+4], v)
}

func (h *Heap) slotCount() int {
	return int(binary.BigEndian.Uint32(h.raw.Data[heapExtraOffset+4 : heapExtraOffset+8]))
}

func (h *Heap) setSlotCount(n int) {
	binary.BigEndian.PutUint32(h.raw.Data[heapExtraOffset+4:heapExtraOffset+8], uint32(n))
}

func (h *Heap) PrevPageID() common.PageID {
	return common.PageID(binary.BigEndian.Uint32(h.raw.Data[heapExtraOffset+8 : heapExtraOffset+12]))
}

func (h *Heap) SetPrevPageID(id common.PageID) {
	binary.BigEndian.PutUint32(h.raw.Data[heapExtraOffset+8:heapExtraOffset+12], uint32(id))
}

func (h *Heap) NextPageID() common.PageID {
	return common.PageID(binary.BigEndian.Uint32(h.raw.Data[heapExtraOffset+12 : heapExtraOffset+16]))
}

func (h *Heap) SetNextPageID(id common.PageID) {
	binary.BigEndian.PutUint32(h.raw.Data[heapExtraOffset+12:heapExtraOffset+16], uint32(id))
}

type slotEntry struct {
	offset uint32
	size   uint32
}

func (h *Heap) slotAt(i int) slotEntry {
	off := heapSlotArrayOffset + i*slotEntrySize
	return slotEntry{
		offset: binary.BigEndian.Uint32(h.raw.Data[off : off+4]),
		size:   binary.BigEndian.Uint32(h.raw.Data[off+4 : off+8]),
	}
}

func (h *Heap) setSlotAt(i int, e slotEntry) {
	off := heapSlotArrayOffset + i*slotEntrySize
	binary.BigEndian.PutUint32(h.raw.Data[off:off+4], e.offset)
	binary.BigEndian.PutUint32(h.raw.Data[off+4:off+8], e.size)
}

func isDeletedEntry(e slotEntry) bool {
	return e.size&deletedMask != 0
}

func rawSize(e slotEntry) uint32 {
	return e.size &^ deletedMask
}

// GetFreeSpace returns the number of bytes still available for a new tuple
// and its slot entry.
func (h *Heap) GetFreeSpace() int {
	start := heapSlotArrayOffset + h.slotCount()*slotEntrySize
	return int(h.freeSpacePointer()) - start
}

// InsertTuple appends data into the first empty slot (or a freshly grown
// one), returning the slot index. Space is taken from the tail of the page
// growing toward the slot array, mirroring the classic slotted page layout.
func (h *Heap) InsertTuple(data []byte) (int, error) {
	if h.GetFreeSpace() < len(data)+slotEntrySize {
		return 0, common.ErrOutOfSpace
	}

	count := h.slotCount()
	i := 0
	for ; i < count; i++ {
		if h.slotAt(i).size == 0 {
			break
		}
	}

	newPtr := h.freeSpacePointer() - uint32(len(data))
	copy(h.raw.Data[newPtr:], data)
	h.setFreeSpacePointer(newPtr)
	if i == count {
		h.setSlotCount(count + 1)
	}
	h.setSlotAt(i, slotEntry{offset: newPtr, size: uint32(len(data))})
	return i, nil
}

// GetTuple returns the tuple bytes at slot, or (nil, false) if the slot is
// empty or soft-deleted.
func (h *Heap) GetTuple(slot int) ([]byte, bool) {
	if slot < 0 || slot >= h.slotCount() {
		return nil, false
	}
	e := h.slotAt(slot)
	if e.size == 0 || isDeletedEntry(e) {
		return nil, false
	}
	return h.raw.Data[e.offset : e.offset+e.size], true
}

// MarkDelete sets the soft-delete bit without reclaiming space — the first
// phase of the two-phase delete a transaction can still roll back
// (spec.md §4.8; grounds recovery's MARKDELETE/ROLLBACKDELETE pair).
func (h *Heap) MarkDelete(slot int) {
	e := h.slotAt(slot)
	e.size |= deletedMask
	h.setSlotAt(slot, e)
}

// RollbackDelete clears the soft-delete bit, undoing MarkDelete.
func (h *Heap) RollbackDelete(slot int) {
	e := h.slotAt(slot)
	e.size &^= deletedMask
	h.setSlotAt(slot, e)
}

// ApplyDelete permanently reclaims a soft- or hard-deleted slot's space,
// compacting the tuples that sat before it in the page (spec.md §4.8).
func (h *Heap) ApplyDelete(slot int) {
	e := h.slotAt(slot)
	size := rawSize(e)
	if size == 0 {
		return
	}

	fsp := h.freeSpacePointer()
	copy(h.raw.Data[fsp+size:e.offset+size], h.raw.Data[fsp:e.offset])
	h.setFreeSpacePointer(fsp + size)
	h.setSlotAt(slot, slotEntry{})

	for i := 0; i < h.slotCount(); i++ {
		cur := h.slotAt(i)
		if cur.size == 0 {
			continue
		}
		rs := rawSize(cur)
		deleted := isDeletedEntry(cur)
		if cur.offset < e.offset {
			cur.offset += size
			cur.size = rs
			if deleted {
				cur.size |= deletedMask
			}
			h.setSlotAt(i, cur)
		}
	}
}

// UpdateTuple replaces a non-deleted tuple's bytes in place, reusing the
// slot index. If the new value doesn't fit in the freed space plus what's
// already available, it returns common.ErrOutOfSpace and the caller must
// fall back to delete-then-insert.
func (h *Heap) UpdateTuple(slot int, data []byte) error {
	old, ok := h.GetTuple(slot)
	if !ok {
		return common.ErrNotFound
	}
	if h.GetFreeSpace()+len(old) < len(data) {
		return common.ErrOutOfSpace
	}

	h.ApplyDelete(slot)
	newPtr := h.freeSpacePointer() - uint32(len(data))
	copy(h.raw.Data[newPtr:], data)
	h.setFreeSpacePointer(newPtr)
	h.setSlotAt(slot, slotEntry{offset: newPtr, size: uint32(len(data))})
	return nil
}

// NextIdx returns the next non-empty, non-deleted slot index after curr,
// used by the heap iterator to skip holes (spec.md §4.8).
func (h *Heap) NextIdx(curr int) (int, bool) {
	for i := curr + 1; i < h.slotCount(); i++ {
		e := h.slotAt(i)
		if e.size != 0 && !isDeletedEntry(e) {
			return i, true
		}
	}
	return 0, false
}

func (h *Heap) SlotCount() int { return h.slotCount() }
