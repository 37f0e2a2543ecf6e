package page

import (
	"encoding/binary"

	"ariesdb/storage/common"
)

// rootsExtraOffset is where the free-list head/tail pointers sit, right
// after the common header (spec.md §3, "Index roots page" — grounded on
// the teacher's disk.header{freeListHead, freeListTail, catalogPID}).
const rootsExtraOffset = HeaderSize
const rootsMapOffset = HeaderSize + 8

// Roots is page 0 of the data file: the free-list head/tail and a small
// on-disk map from index name to its root page id, so the engine can find
// every tree's root after a restart without a separate catalog file.
type Roots struct {
	raw *RawPage
}

func NewRoots(raw *RawPage) *Roots { return &Roots{raw: raw} }

func (r *Roots) Init() {
	h := Header{Type: TypeHeader, PageID: 0, ParentPageID: common.InvalidPageID}
	WriteHeader(r.raw.Data, h)
	r.SetFreeListHead(common.InvalidPageID)
	r.SetFreeListTail(common.InvalidPageID)
	r.writeEntries(nil)
}

func (r *Roots) FreeListHead() common.PageID {
	return common.PageID(binary.BigEndian.Uint32(r.raw.Data[rootsExtraOffset : rootsExtraOffset+4]))
}

func (r *Roots) SetFreeListHead(id common.PageID) {
	binary.BigEndian.PutUint32(r.raw.Data[rootsExtraOffset:rootsExtraOffset+4], uint32(id))
}

func (r *Roots) FreeListTail() common.PageID {
	return common.PageID(binary.BigEndian.Uint32(r.raw.Data[rootsExtraOffset+4 : rootsExtraOffset+8]))
}

func (r *Roots) SetFreeListTail(id common.PageID) {
	binary.BigEndian.PutUint32(r.raw.Data[rootsExtraOffset+4:rootsExtraOffset+8], uint32(id))
}

type rootEntry struct {
	name string
	id   common.PageID
}

// readEntries decodes the name->root map: a uint32 count followed by
// (uint16 name length, name bytes, uint32 page id) records.
func (r *Roots) readEntries() []rootEntry {
	off := rootsMapOffset
	count := binary.BigEndian.Uint32(r.raw.Data[off : off+4])
	off += 4
	entries := make([]rootEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		nameLen := int(binary.BigEndian.Uint16(r.raw.Data[off : off+2]))
		off += 2
		name := string(r.raw.Data[off : off+nameLen])
		off += nameLen
		id := common.PageID(binary.BigEndian.Uint32(r.raw.Data[off : off+4]))
		off += 4
		entries = append(entries, rootEntry{name: name, id: id})
	}
	return entries
}

func (r *Roots) writeEntries(entries []rootEntry) {
	off := rootsMapOffset
	binary.BigEndian.PutUint32(r.raw.Data[off:off+4], uint32(len(entries)))
	off += 4
	for _, e := range entries {
		binary.BigEndian.PutUint16(r.raw.Data[off:off+2], uint16(len(e.name)))
		off += 2
		copy(r.raw.Data[off:], e.name)
		off += len(e.name)
		binary.BigEndian.PutUint32(r.raw.Data[off:off+4], uint32(e.id))
		off += 4
	}
}

// Get returns the root page id registered under name.
func (r *Roots) Get(name string) (common.PageID, bool) {
	for _, e := range r.readEntries() {
		if e.name == name {
			return e.id, true
		}
	}
	return common.InvalidPageID, false
}

// Set registers or updates name's root page id. Returns common.ErrOutOfSpace
// if the encoded map would overflow the page.
func (r *Roots) Set(name string, id common.PageID) error {
	entries := r.readEntries()
	found := false
	for i := range entries {
		if entries[i].name == name {
			entries[i].id = id
			found = true
			break
		}
	}
	if !found {
		entries = append(entries, rootEntry{name: name, id: id})
	}

	size := 4
	for _, e := range entries {
		size += 2 + len(e.name) + 4
	}
	if rootsMapOffset+size > common.PageSize {
		return common.ErrOutOfSpace
	}
	r.writeEntries(entries)
	return nil
}

// Names returns every registered index name.
func (r *Roots) Names() []string {
	entries := r.readEntries()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.name
	}
	return names
}
