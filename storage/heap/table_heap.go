// Package heap implements table storage: a chain of slotted heap pages
// threaded by next_page_id, and the Insert/Update/MarkDelete/ApplyDelete/
// RollbackDelete operations that are the log's INSERT/UPDATE/MARKDELETE/
// APPLYDELETE/ROLLBACKDELETE targets (spec.md §4.8, NEW Heap).
package heap

import (
	"fmt"

	"ariesdb/storage/common"
	"ariesdb/storage/page"
	"ariesdb/storage/txn"
	"ariesdb/storage/wal"
)

// pool is the subset of storage/buffer.Pool the heap needs.
type pool interface {
	FetchPage(pageID common.PageID) (*page.RawPage, error)
	NewPage() (*page.RawPage, error)
	UnpinPage(pageID common.PageID, isDirty bool) error
}

// logAppender is the subset of storage/wal.Manager the heap needs to log
// its mutations.
type logAppender interface {
	AppendLog(r *wal.Record) (common.LSN, error)
}

// TableHeap is one table's page chain.
type TableHeap struct {
	pool        pool
	log         logAppender
	firstPageID common.PageID
}

// Create allocates the first page of a brand new table heap.
func Create(p pool, log logAppender) (*TableHeap, error) {
	frame, err := p.NewPage()
	if err != nil {
		return nil, fmt.Errorf("heap: create: %w", err)
	}
	id := frame.GetPageID()
	page.NewHeap(frame).Init(id)
	if err := p.UnpinPage(id, true); err != nil {
		return nil, err
	}
	return &TableHeap{pool: p, log: log, firstPageID: id}, nil
}

// Open wraps an existing table heap whose first page is already known
// (looked up from storage/page.Roots by name).
func Open(p pool, log logAppender, firstPageID common.PageID) *TableHeap {
	return &TableHeap{pool: p, log: log, firstPageID: firstPageID}
}

func (h *TableHeap) FirstPageID() common.PageID { return h.firstPageID }

// appendAndThread appends rec chained to t's prev_lsn, advances t's
// prev_lsn to the new record, and stamps frame's page_lsn so the buffer
// pool won't flush it ahead of the log (spec.md §4.2 WAL discipline).
func appendAndThread(log logAppender, t *txn.Transaction, rec *wal.Record, frame *page.RawPage) error {
	rec.TxnID = t.ID()
	rec.PrevLSN = t.PrevLSN()
	lsn, err := log.AppendLog(rec)
	if err != nil {
		return err
	}
	t.SetPrevLSN(lsn)
	frame.SetLSN(lsn)
	return nil
}

// InsertTuple appends data to the first page with room, allocating and
// linking a new page if every existing page is full (spec.md §4.8).
func (h *TableHeap) InsertTuple(t *txn.Transaction, data []byte) (common.RID, error) {
	currID := h.firstPageID
	for {
		frame, err := h.pool.FetchPage(currID)
		if err != nil {
			return common.RID{}, fmt.Errorf("heap: insert: fetch page %d: %w", currID, err)
		}
		hp := page.NewHeap(frame)

		if hp.GetFreeSpace() >= len(data)+8 {
			slot, err := hp.InsertTuple(data)
			if err != nil {
				_ = h.pool.UnpinPage(currID, false)
				return common.RID{}, err
			}
			rid := common.RID{PageID: currID, Slot: uint16(slot)}
			rec := &wal.Record{Type: wal.TypeInsert, RID: rid, TupleBytes: data}
			if err := appendAndThread(h.log, t, rec, frame); err != nil {
				_ = h.pool.UnpinPage(currID, true)
				return common.RID{}, err
			}
			if err := h.pool.UnpinPage(currID, true); err != nil {
				return common.RID{}, err
			}
			return rid, nil
		}

		next := hp.NextPageID()
		if next == common.InvalidPageID {
			newFrame, err := h.pool.NewPage()
			if err != nil {
				_ = h.pool.UnpinPage(currID, false)
				return common.RID{}, fmt.Errorf("heap: insert: allocate new page: %w", err)
			}
			newID := newFrame.GetPageID()
			page.NewHeap(newFrame).Init(newID)

			rec := &wal.Record{Type: wal.TypeNewPage, PrevPageID: currID, NewPageID: newID}
			if err := appendAndThread(h.log, t, rec, newFrame); err != nil {
				_ = h.pool.UnpinPage(currID, false)
				_ = h.pool.UnpinPage(newID, true)
				return common.RID{}, err
			}
			if err := h.pool.UnpinPage(newID, true); err != nil {
				return common.RID{}, err
			}

			hp.SetNextPageID(newID)
			if err := h.pool.UnpinPage(currID, true); err != nil {
				return common.RID{}, err
			}
			next = newID
		} else {
			if err := h.pool.UnpinPage(currID, false); err != nil {
				return common.RID{}, err
			}
		}
		currID = next
	}
}

// GetTuple returns the bytes at rid, or common.ErrNotFound if the slot is
// empty or soft-deleted.
func (h *TableHeap) GetTuple(rid common.RID) ([]byte, error) {
	frame, err := h.pool.FetchPage(rid.PageID)
	if err != nil {
		return nil, fmt.Errorf("heap: get %v: %w", rid, err)
	}
	defer func() { _ = h.pool.UnpinPage(rid.PageID, false) }()

	data, ok := page.NewHeap(frame).GetTuple(int(rid.Slot))
	if !ok {
		return nil, common.ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// MarkDelete soft-deletes rid's tuple — the first phase of a two-phase
// delete a transaction can still roll back (spec.md §3, MARKDELETE).
func (h *TableHeap) MarkDelete(t *txn.Transaction, rid common.RID) error {
	frame, err := h.pool.FetchPage(rid.PageID)
	if err != nil {
		return fmt.Errorf("heap: mark delete %v: %w", rid, err)
	}

	hp := page.NewHeap(frame)
	hp.MarkDelete(int(rid.Slot))

	rec := &wal.Record{Type: wal.TypeMarkDelete, RID: rid}
	if err := appendAndThread(h.log, t, rec, frame); err != nil {
		_ = h.pool.UnpinPage(rid.PageID, true)
		return err
	}
	return h.pool.UnpinPage(rid.PageID, true)
}

// RollbackDelete undoes a MarkDelete (spec.md §3, ROLLBACKDELETE).
func (h *TableHeap) RollbackDelete(t *txn.Transaction, rid common.RID) error {
	frame, err := h.pool.FetchPage(rid.PageID)
	if err != nil {
		return fmt.Errorf("heap: rollback delete %v: %w", rid, err)
	}

	hp := page.NewHeap(frame)
	hp.RollbackDelete(int(rid.Slot))

	rec := &wal.Record{Type: wal.TypeRollbackDelete, RID: rid}
	if err := appendAndThread(h.log, t, rec, frame); err != nil {
		_ = h.pool.UnpinPage(rid.PageID, true)
		return err
	}
	return h.pool.UnpinPage(rid.PageID, true)
}

// ApplyDelete physically reclaims a tuple's space, logging the deleted
// image so undo can restore it (spec.md §3, APPLYDELETE).
func (h *TableHeap) ApplyDelete(t *txn.Transaction, rid common.RID) error {
	frame, err := h.pool.FetchPage(rid.PageID)
	if err != nil {
		return fmt.Errorf("heap: apply delete %v: %w", rid, err)
	}

	hp := page.NewHeap(frame)
	raw, ok := hp.GetTuple(int(rid.Slot))
	deleted := append([]byte(nil), raw...)
	if !ok {
		// GetTuple treats soft-deleted as absent; ApplyDelete is legal on a
		// soft-deleted slot, so fall back to reading the raw slot bytes.
		deleted = rawSlotBytes(hp, int(rid.Slot))
	}
	hp.ApplyDelete(int(rid.Slot))

	rec := &wal.Record{Type: wal.TypeApplyDelete, RID: rid, TupleBytes: deleted}
	if err := appendAndThread(h.log, t, rec, frame); err != nil {
		_ = h.pool.UnpinPage(rid.PageID, true)
		return err
	}
	return h.pool.UnpinPage(rid.PageID, true)
}

// rawSlotBytes reads a slot's bytes even if marked deleted, for logging
// the pre-image before an ApplyDelete on an already-MarkDelete'd slot.
func rawSlotBytes(hp *page.Heap, slot int) []byte {
	hp.RollbackDelete(slot)
	data, _ := hp.GetTuple(slot)
	out := append([]byte(nil), data...)
	hp.MarkDelete(slot)
	return out
}

// UpdateTuple replaces rid's bytes in place, logging both images so undo
// can reverse it (spec.md §3, UPDATE). If the new value doesn't fit, the
// caller must fall back to ApplyDelete + InsertTuple.
func (h *TableHeap) UpdateTuple(t *txn.Transaction, rid common.RID, data []byte) error {
	frame, err := h.pool.FetchPage(rid.PageID)
	if err != nil {
		return fmt.Errorf("heap: update %v: %w", rid, err)
	}

	hp := page.NewHeap(frame)
	old, ok := hp.GetTuple(int(rid.Slot))
	if !ok {
		_ = h.pool.UnpinPage(rid.PageID, false)
		return common.ErrNotFound
	}
	oldCopy := append([]byte(nil), old...)

	if err := hp.UpdateTuple(int(rid.Slot), data); err != nil {
		_ = h.pool.UnpinPage(rid.PageID, false)
		return err
	}

	rec := &wal.Record{Type: wal.TypeUpdate, RID: rid, OldBytes: oldCopy, NewBytes: data}
	if err := appendAndThread(h.log, t, rec, frame); err != nil {
		_ = h.pool.UnpinPage(rid.PageID, true)
		return err
	}
	return h.pool.UnpinPage(rid.PageID, true)
}
