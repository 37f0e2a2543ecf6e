package index

import (
	"ariesdb/storage/common"
)

// Iterator walks the leaf sibling chain in ascending key order, starting
// at a position established by SeekFirst or Seek. It re-fetches its
// current leaf on every call rather than holding a pin across calls,
// matching the style of storage/heap.Iterator.
type Iterator[K any] struct {
	tree       *BPlusTree[K]
	currPageID common.PageID
	currIdx    int
	done       bool
}

// SeekFirst positions an iterator at the smallest key in the tree.
func (t *BPlusTree[K]) SeekFirst() (*Iterator[K], error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.root == common.InvalidPageID {
		return &Iterator[K]{tree: t, done: true}, nil
	}
	leafID, err := t.leftmostLeaf()
	if err != nil {
		return nil, err
	}
	return &Iterator[K]{tree: t, currPageID: leafID, currIdx: 0}, nil
}

// Seek positions an iterator at the first key >= key.
func (t *BPlusTree[K]) Seek(key K) (*Iterator[K], error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.root == common.InvalidPageID {
		return &Iterator[K]{tree: t, done: true}, nil
	}
	leafID, err := t.findLeaf(key)
	if err != nil {
		return nil, err
	}

	frame, err := t.pool.FetchPage(leafID)
	if err != nil {
		return nil, err
	}
	frame.RLatch()
	leaf := t.leafAt(frame)
	idx := leaf.KeyIndex(key)
	frame.RUnlatch()
	if err := t.pool.UnpinPage(leafID, false); err != nil {
		return nil, err
	}

	return &Iterator[K]{tree: t, currPageID: leafID, currIdx: idx}, nil
}

// Next returns the next (key, rid) pair, or ok=false once the chain is
// exhausted.
func (it *Iterator[K]) Next() (key K, rid common.RID, ok bool, err error) {
	if it.done {
		var zero K
		return zero, common.RID{}, false, nil
	}

	it.tree.mu.RLock()
	defer it.tree.mu.RUnlock()

	for {
		frame, ferr := it.tree.pool.FetchPage(it.currPageID)
		if ferr != nil {
			var zero K
			return zero, common.RID{}, false, ferr
		}
		frame.RLatch()
		leaf := it.tree.leafAt(frame)

		if it.currIdx < leaf.Size() {
			k, v := leaf.KeyAt(it.currIdx), leaf.RidAt(it.currIdx)
			it.currIdx++
			frame.RUnlatch()
			if uerr := it.tree.pool.UnpinPage(it.currPageID, false); uerr != nil {
				var zero K
				return zero, common.RID{}, false, uerr
			}
			return k, v, true, nil
		}

		next := leaf.NextPageID()
		frame.RUnlatch()
		if uerr := it.tree.pool.UnpinPage(it.currPageID, false); uerr != nil {
			var zero K
			return zero, common.RID{}, false, uerr
		}
		if next == common.InvalidPageID {
			it.done = true
			var zero K
			return zero, common.RID{}, false, nil
		}
		it.currPageID = next
		it.currIdx = 0
	}
}
