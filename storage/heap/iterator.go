package heap

import (
	"ariesdb/storage/common"
	"ariesdb/storage/page"
)

// Iterator performs a forward sequential scan over a table heap's page
// chain, skipping empty and soft-deleted slots (grounded on the teacher's
// disk/structures/table_iterator.go, rewritten without panics).
type Iterator struct {
	pool       pool
	currPageID common.PageID
	currSlot   int
	done       bool
}

// NewIterator starts a scan from the first page of h.
func (h *TableHeap) NewIterator() *Iterator {
	return &Iterator{pool: h.pool, currPageID: h.firstPageID, currSlot: -1}
}

// Next returns the next live tuple's rid and bytes. ok is false once the
// chain is exhausted.
func (it *Iterator) Next() (rid common.RID, data []byte, ok bool, err error) {
	if it.done {
		return common.RID{}, nil, false, nil
	}

	for {
		frame, ferr := it.pool.FetchPage(it.currPageID)
		if ferr != nil {
			return common.RID{}, nil, false, ferr
		}
		hp := page.NewHeap(frame)

		if nextIdx, found := hp.NextIdx(it.currSlot); found {
			raw, _ := hp.GetTuple(nextIdx)
			out := append([]byte(nil), raw...)
			rid = common.RID{PageID: it.currPageID, Slot: uint16(nextIdx)}
			it.currSlot = nextIdx
			if uerr := it.pool.UnpinPage(it.currPageID, false); uerr != nil {
				return common.RID{}, nil, false, uerr
			}
			return rid, out, true, nil
		}

		next := hp.NextPageID()
		if uerr := it.pool.UnpinPage(it.currPageID, false); uerr != nil {
			return common.RID{}, nil, false, uerr
		}
		if next == common.InvalidPageID {
			it.done = true
			return common.RID{}, nil, false, nil
		}
		it.currPageID = next
		it.currSlot = -1
	}
}
