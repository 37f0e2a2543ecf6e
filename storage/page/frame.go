package page

import (
	"sync"

	"ariesdb/storage/common"
)

// RawPage is the buffer pool's unit of residency: a PageSize byte buffer
// plus the bookkeeping (pin count, dirty flag, reader-writer latch) the
// buffer pool and the tree's latch-crabbing protocol need. It carries no
// opinion about what's in Data — Internal/Leaf/Heap views parse the same
// bytes (spec.md §9).
type RawPage struct {
	id       common.PageID
	latch    sync.RWMutex
	pinCount int
	dirty    bool

	Data []byte
}

// NewRawPage allocates a zeroed frame for the given page id.
func NewRawPage(id common.PageID) *RawPage {
	return &RawPage{
		id:   id,
		Data: make([]byte, common.PageSize),
	}
}

func (p *RawPage) GetPageID() common.PageID { return p.id }
func (p *RawPage) SetPageID(id common.PageID) {
	p.id = id
}

func (p *RawPage) GetData() []byte { return p.Data }

func (p *RawPage) IsDirty() bool  { return p.dirty }
func (p *RawPage) SetDirty()      { p.dirty = true }
func (p *RawPage) SetClean()      { p.dirty = false }

func (p *RawPage) PinCount() int   { return p.pinCount }
func (p *RawPage) IncrPinCount()   { p.pinCount++ }
func (p *RawPage) DecrPinCount()   { p.pinCount-- }

// Reset clears a frame's content and metadata so it can be reused for a
// different page id without leaking stale bytes into a freshly allocated
// page.
func (p *RawPage) Reset(id common.PageID) {
	p.id = id
	p.dirty = false
	for i := range p.Data {
		p.Data[i] = 0
	}
}

// WLatch/RLatch implement the page-level reader-writer latch that backs
// B+tree latch crabbing — independent from the lock manager's logical row
// locks (spec.md §4.4, §5).
func (p *RawPage) WLatch()   { p.latch.Lock() }
func (p *RawPage) WUnlatch() { p.latch.Unlock() }
func (p *RawPage) RLatch()   { p.latch.RLock() }
func (p *RawPage) RUnlatch() { p.latch.RUnlock() }

// GetLSN/SetLSN read and write the page_lsn field of the common header
// directly from the backing bytes — the buffer pool consults this before
// flushing a dirty page to honor WAL (spec.md §4.2 "WAL on page eviction").
func (p *RawPage) GetLSN() common.LSN {
	return ReadHeader(p.Data).LSN
}

func (p *RawPage) SetLSN(lsn common.LSN) {
	h := ReadHeader(p.Data)
	h.LSN = lsn
	WriteHeader(p.Data, h)
}

func (p *RawPage) GetType() Type {
	return Type(p.Data[0])
}
