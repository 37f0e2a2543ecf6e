package common

import "encoding/binary"

// RidSize is the serialized size of a RID: a uint32 page id plus a uint16
// slot index, padded to 8 bytes (spec.md §9: "Record-id is always 8 bytes").
const RidSize = 8

// RID (record id) locates a tuple on a heap page: the page it lives on and
// its slot within that page's slot directory.
type RID struct {
	PageID PageID
	Slot   uint16
}

// InvalidRID is the zero-value sentinel RID.
var InvalidRID = RID{PageID: InvalidPageID, Slot: 0}

func (r RID) IsValid() bool {
	return r.PageID != InvalidPageID
}

// PutRID serializes r into dest[:8].
func PutRID(dest []byte, r RID) {
	binary.BigEndian.PutUint32(dest, uint32(r.PageID))
	binary.BigEndian.PutUint16(dest[4:], r.Slot)
	// dest[6:8] left zero, reserved padding.
}

// ReadRID deserializes a RID from src[:8].
func ReadRID(src []byte) RID {
	return RID{
		PageID: PageID(binary.BigEndian.Uint32(src)),
		Slot:   binary.BigEndian.Uint16(src[4:]),
	}
}
