// Package buffer implements the fixed-capacity buffer pool: pinning,
// LRU eviction over unpinned frames, and WAL-respecting flush (spec.md
// §4.3).
package buffer

import (
	"fmt"
	"sync"

	"ariesdb/storage/common"
	"ariesdb/storage/page"
)

// diskManager is the subset of storage/disk.Manager the pool needs.
type diskManager interface {
	AllocatePage() common.PageID
	ReadPage(pageID common.PageID, dest []byte) error
	WritePage(pageID common.PageID, data []byte) error
	DeallocatePage(pageID common.PageID)
}

// logManager is the subset of storage/wal.Manager the pool needs to honor
// WAL before flushing a dirty page (spec.md §4.2, "WAL on page eviction").
type logManager interface {
	ForceFlush(target common.LSN) error
}

// Pool is the buffer pool manager: a fixed array of frames, a page-id to
// frame-index map, a free list, and an LRU replacer over unpinned frames.
type Pool struct {
	mu sync.Mutex

	frames   []*page.RawPage
	pageTo   map[common.PageID]int
	freeList []int
	replacer Replacer

	disk diskManager
	log  logManager
}

// NewPool builds a pool with capacity frames.
func NewPool(capacity int, disk diskManager, log logManager) *Pool {
	free := make([]int, capacity)
	for i := range free {
		free[i] = i
	}
	return &Pool{
		frames:   make([]*page.RawPage, capacity),
		pageTo:   make(map[common.PageID]int),
		freeList: free,
		replacer: NewLRUReplacer(),
		disk:     disk,
		log:      log,
	}
}

// FetchPage returns the frame holding pageID, pinning it — reading it from
// disk first if it isn't already resident (spec.md §4.3, "fetch").
func (p *Pool) FetchPage(pageID common.PageID) (*page.RawPage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if idx, ok := p.pageTo[pageID]; ok {
		frame := p.frames[idx]
		frame.IncrPinCount()
		p.replacer.Pin(idx)
		return frame, nil
	}

	idx, err := p.allocateFrameLocked()
	if err != nil {
		return nil, err
	}

	frame := page.NewRawPage(pageID)
	if err := p.disk.ReadPage(pageID, frame.Data); err != nil {
		p.freeList = append(p.freeList, idx)
		return nil, fmt.Errorf("buffer: fetch page %d: %w", pageID, err)
	}

	p.frames[idx] = frame
	p.pageTo[pageID] = idx
	frame.IncrPinCount()
	p.replacer.Pin(idx)
	return frame, nil
}

// NewPage allocates a fresh page id via the disk manager and reserves a
// pinned, zeroed frame for it. The caller is responsible for calling the
// appropriate page.Init and logging a NEWPAGE record.
func (p *Pool) NewPage() (*page.RawPage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, err := p.allocateFrameLocked()
	if err != nil {
		return nil, err
	}

	id := p.disk.AllocatePage()
	frame := page.NewRawPage(id)
	p.frames[idx] = frame
	p.pageTo[id] = idx
	frame.IncrPinCount()
	p.replacer.Pin(idx)
	frame.SetDirty()
	return frame, nil
}

// allocateFrameLocked reserves a frame index for a new resident page,
// evicting an LRU victim if the free list is exhausted. Caller holds mu.
func (p *Pool) allocateFrameLocked() (int, error) {
	if len(p.freeList) > 0 {
		idx := p.freeList[len(p.freeList)-1]
		p.freeList = p.freeList[:len(p.freeList)-1]
		return idx, nil
	}

	idx, ok := p.replacer.Victim()
	if !ok {
		return 0, common.ErrPinExhausted
	}

	victim := p.frames[idx]
	if victim.IsDirty() {
		if err := p.flushFrameLocked(victim); err != nil {
			// Leave the page table consistent — the frame is still the
			// resident copy of its old page since we couldn't write it out.
			p.replacer.Unpin(idx)
			return 0, err
		}
	}
	delete(p.pageTo, victim.GetPageID())
	return idx, nil
}

// UnpinPage decrements a page's pin count and ORs in the dirty flag. Once
// the pin count reaches zero the frame becomes a replacement candidate
// (spec.md §4.3).
func (p *Pool) UnpinPage(pageID common.PageID, isDirty bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.pageTo[pageID]
	if !ok {
		return fmt.Errorf("buffer: unpin %d: %w", pageID, common.ErrNotFound)
	}
	frame := p.frames[idx]
	if isDirty {
		frame.SetDirty()
	}
	if frame.PinCount() > 0 {
		frame.DecrPinCount()
	}
	if frame.PinCount() == 0 {
		p.replacer.Unpin(idx)
	}
	return nil
}

// FlushPage force-flushes the log up to the page's LSN, then writes it to
// disk (spec.md §4.2 WAL invariant: "a dirty page is never written before
// its page_lsn is durable").
func (p *Pool) FlushPage(pageID common.PageID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.pageTo[pageID]
	if !ok {
		return fmt.Errorf("buffer: flush %d: %w", pageID, common.ErrNotFound)
	}
	return p.flushFrameLocked(p.frames[idx])
}

func (p *Pool) flushFrameLocked(frame *page.RawPage) error {
	if err := p.log.ForceFlush(frame.GetLSN()); err != nil {
		return fmt.Errorf("buffer: force flush before writing page %d: %w", frame.GetPageID(), err)
	}
	if err := p.disk.WritePage(frame.GetPageID(), frame.Data); err != nil {
		return fmt.Errorf("buffer: write page %d: %w", frame.GetPageID(), err)
	}
	frame.SetClean()
	return nil
}

// DeletePage evicts pageID from the pool and tells the disk manager the
// page id is free, returning its frame to the free list (spec.md §2,
// "delete_page(page_id)"). It refuses with common.ErrPinExhausted-style
// false/error if the page is still pinned; a page not resident in the
// pool at all is a no-op success, matching the original source's
// DeletePage returning true for that case. This engine's disk manager
// never reclaims the id for reuse (storage/index's merged-page ledger
// entry documents why), so DeletePage's effect is purely in-memory: the
// page's bytes become unreachable garbage in the data file exactly as
// they already were before this existed, but the pool no longer wastes a
// frame holding them resident.
func (p *Pool) DeletePage(pageID common.PageID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.pageTo[pageID]
	if !ok {
		return nil
	}
	frame := p.frames[idx]
	if frame.PinCount() != 0 {
		return fmt.Errorf("buffer: delete page %d: %w", pageID, common.ErrPinExhausted)
	}

	p.replacer.Pin(idx)
	delete(p.pageTo, pageID)
	p.disk.DeallocatePage(pageID)
	p.freeList = append(p.freeList, idx)
	return nil
}

// FlushAll flushes every dirty resident page, WAL-respecting, used at
// checkpoint and shutdown time.
func (p *Pool) FlushAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, idx := range p.pageTo {
		frame := p.frames[idx]
		if frame.IsDirty() {
			if err := p.flushFrameLocked(frame); err != nil {
				return err
			}
		}
	}
	return nil
}
