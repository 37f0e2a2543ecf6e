// Package page implements the on-disk page layouts shared by every
// structure that lives in the buffer pool: the common page header, the
// B+tree internal and leaf node layouts, and the heap's slotted page. Every
// layout parses the same underlying PageSize byte buffer — there is no
// inheritance, just a tagged variant on the header's Type field
// (spec.md §9, "Page-type polymorphism").
package page

import (
	"encoding/binary"

	"ariesdb/storage/common"
)

// Type tags what a page's body holds.
type Type uint8

const (
	TypeInvalid Type = iota
	TypeInternal
	TypeLeaf
	TypeHeader
	TypeHeap
)

// HeaderSize is the size in bytes of the common page header that precedes
// every page's type-specific body.
const HeaderSize = 28

// Header is the common prefix of every page: its type tag, the LSN of the
// last update reflected in the page image, its occupied/maximum slot
// counts, its own id and its parent's id (spec.md §3).
type Header struct {
	Type         Type
	LSN          common.LSN
	Size         int32
	MaxSize      int32
	PageID       common.PageID
	ParentPageID common.PageID
}

// ReadHeader parses the common header from the front of a page buffer.
func ReadHeader(buf []byte) Header {
	return Header{
		Type:         Type(buf[0]),
		LSN:          common.LSN(binary.BigEndian.Uint64(buf[4:12])),
		Size:         int32(binary.BigEndian.Uint32(buf[12:16])),
		MaxSize:      int32(binary.BigEndian.Uint32(buf[16:20])),
		PageID:       common.PageID(binary.BigEndian.Uint32(buf[20:24])),
		ParentPageID: common.PageID(binary.BigEndian.Uint32(buf[24:28])),
	}
}

// WriteHeader serializes h into the front of a page buffer.
func WriteHeader(buf []byte, h Header) {
	buf[0] = byte(h.Type)
	buf[1], buf[2], buf[3] = 0, 0, 0
	binary.BigEndian.PutUint64(buf[4:12], uint64(h.LSN))
	binary.BigEndian.PutUint32(buf[12:16], uint32(h.Size))
	binary.BigEndian.PutUint32(buf[16:20], uint32(h.MaxSize))
	binary.BigEndian.PutUint32(buf[20:24], uint32(h.PageID))
	binary.BigEndian.PutUint32(buf[24:28], uint32(h.ParentPageID))
}
