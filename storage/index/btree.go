// Package index implements the B+tree orchestration layer: point lookup,
// insert-with-split, and delete-with-redistribute-or-merge, driving the
// page-level primitives in storage/page with latch crabbing over the
// buffer pool (spec.md §3 "B+Tree Index", §4.4).
package index

import (
	"fmt"
	"sync"

	"ariesdb/storage/common"
	"ariesdb/storage/page"
)

// pool is the subset of storage/buffer.Pool the index needs.
type pool interface {
	FetchPage(pageID common.PageID) (*page.RawPage, error)
	NewPage() (*page.RawPage, error)
	UnpinPage(pageID common.PageID, isDirty bool) error
	DeletePage(pageID common.PageID) error
}

// BPlusTree is a disk-backed B+tree index keyed by K, storing common.RID
// values (spec.md §3).
//
// Structural mutations (Insert, Delete) hold mu exclusively for their
// entire traversal rather than releasing ancestor latches once a node is
// proven "safe" the way the original source does — a deliberate
// simplification that trades some write concurrency for a much simpler,
// easier-to-get-right implementation. Lookups hold mu for read, so any
// number of lookups can run together but never alongside a mutation. Page
// latches (WLatch/RLatch) are still acquired and released per node during
// a traversal, matching the page-level latching the rest of the engine
// uses, even though mu already rules out cross-goroutine races on the
// pages an in-flight mutation touches.
type BPlusTree[K any] struct {
	mu   sync.RWMutex
	pool pool
	ks   page.KeySerializer[K]
	cmp  page.Comparator[K]
	root common.PageID
}

// NewBPlusTree creates an empty index.
func NewBPlusTree[K any](p pool, ks page.KeySerializer[K], cmp page.Comparator[K]) *BPlusTree[K] {
	return &BPlusTree[K]{pool: p, ks: ks, cmp: cmp, root: common.InvalidPageID}
}

// OpenBPlusTree wraps an index whose root page id is already known (looked
// up from storage/page.Roots by name).
func OpenBPlusTree[K any](p pool, ks page.KeySerializer[K], cmp page.Comparator[K], root common.PageID) *BPlusTree[K] {
	return &BPlusTree[K]{pool: p, ks: ks, cmp: cmp, root: root}
}

func (t *BPlusTree[K]) RootPageID() common.PageID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root
}

func (t *BPlusTree[K]) IsEmpty() bool { return t.RootPageID() == common.InvalidPageID }

func (t *BPlusTree[K]) leafAt(frame *page.RawPage) *page.Leaf[K] {
	return page.NewLeaf[K](frame, t.ks, t.cmp)
}

func (t *BPlusTree[K]) internalAt(frame *page.RawPage) *page.Internal[K] {
	return page.NewInternal[K](frame, t.ks, t.cmp)
}

func minSize(maxSize int) int { return maxSize / 2 }

func (t *BPlusTree[K]) setParentPageID(pageID, parentID common.PageID) error {
	frame, err := t.pool.FetchPage(pageID)
	if err != nil {
		return fmt.Errorf("index: set parent of %d: %w", pageID, err)
	}
	h := page.ReadHeader(frame.Data)
	h.ParentPageID = parentID
	page.WriteHeader(frame.Data, h)
	return t.pool.UnpinPage(pageID, true)
}

/* -------------------------------------------------------------------- */
/* Lookup                                                                */
/* -------------------------------------------------------------------- */

// Lookup returns the RID associated with key, if any.
func (t *BPlusTree[K]) Lookup(key K) (common.RID, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.root == common.InvalidPageID {
		return common.RID{}, false, nil
	}

	pageID := t.root
	frame, err := t.pool.FetchPage(pageID)
	if err != nil {
		return common.RID{}, false, err
	}
	frame.RLatch()

	for {
		hdr := page.ReadHeader(frame.Data)
		if hdr.Type == page.TypeLeaf {
			leaf := t.leafAt(frame)
			rid, ok := leaf.Lookup(key)
			frame.RUnlatch()
			if err := t.pool.UnpinPage(pageID, false); err != nil {
				return common.RID{}, false, err
			}
			return rid, ok, nil
		}

		internal := t.internalAt(frame)
		childID := internal.Lookup(key)
		childFrame, err := t.pool.FetchPage(childID)
		if err != nil {
			frame.RUnlatch()
			_ = t.pool.UnpinPage(pageID, false)
			return common.RID{}, false, err
		}
		childFrame.RLatch()
		frame.RUnlatch()
		if err := t.pool.UnpinPage(pageID, false); err != nil {
			childFrame.RUnlatch()
			_ = t.pool.UnpinPage(childID, false)
			return common.RID{}, false, err
		}
		pageID, frame = childID, childFrame
	}
}

// findLeaf descends from the root to the leaf that would hold key,
// unpinning every internal page along the way.
func (t *BPlusTree[K]) findLeaf(key K) (common.PageID, error) {
	pageID := t.root
	for {
		frame, err := t.pool.FetchPage(pageID)
		if err != nil {
			return 0, err
		}
		hdr := page.ReadHeader(frame.Data)
		if hdr.Type == page.TypeLeaf {
			if err := t.pool.UnpinPage(pageID, false); err != nil {
				return 0, err
			}
			return pageID, nil
		}
		internal := t.internalAt(frame)
		child := internal.Lookup(key)
		if err := t.pool.UnpinPage(pageID, false); err != nil {
			return 0, err
		}
		pageID = child
	}
}

// leftmostLeaf descends via child 0 at every level, for range scans that
// start at the beginning of the index.
func (t *BPlusTree[K]) leftmostLeaf() (common.PageID, error) {
	pageID := t.root
	for {
		frame, err := t.pool.FetchPage(pageID)
		if err != nil {
			return 0, err
		}
		hdr := page.ReadHeader(frame.Data)
		if hdr.Type == page.TypeLeaf {
			if err := t.pool.UnpinPage(pageID, false); err != nil {
				return 0, err
			}
			return pageID, nil
		}
		internal := t.internalAt(frame)
		child := internal.ValueAt(0)
		if err := t.pool.UnpinPage(pageID, false); err != nil {
			return 0, err
		}
		pageID = child
	}
}

/* -------------------------------------------------------------------- */
/* Insert                                                                */
/* -------------------------------------------------------------------- */

// Insert adds (key, rid), splitting nodes up the tree as needed. It
// returns common.ErrDuplicateKey if key already exists.
func (t *BPlusTree[K]) Insert(key K, rid common.RID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.root == common.InvalidPageID {
		return t.startNewTree(key, rid)
	}
	return t.insertIntoLeaf(key, rid)
}

func (t *BPlusTree[K]) startNewTree(key K, rid common.RID) error {
	frame, err := t.pool.NewPage()
	if err != nil {
		return fmt.Errorf("index: start new tree: %w", err)
	}
	id := frame.GetPageID()
	leaf := t.leafAt(frame)
	leaf.Init(id, common.InvalidPageID)
	if err := leaf.Insert(key, rid); err != nil {
		_ = t.pool.UnpinPage(id, false)
		return err
	}
	if err := t.pool.UnpinPage(id, true); err != nil {
		return err
	}
	t.root = id
	return nil
}

func (t *BPlusTree[K]) insertIntoLeaf(key K, rid common.RID) error {
	leafID, err := t.findLeaf(key)
	if err != nil {
		return err
	}

	frame, err := t.pool.FetchPage(leafID)
	if err != nil {
		return err
	}
	frame.WLatch()
	leaf := t.leafAt(frame)

	if err := leaf.Insert(key, rid); err != nil {
		frame.WUnlatch()
		_ = t.pool.UnpinPage(leafID, false)
		return err
	}

	if leaf.Size() <= leaf.MaxSize() {
		frame.WUnlatch()
		return t.pool.UnpinPage(leafID, true)
	}

	newFrame, err := t.pool.NewPage()
	if err != nil {
		frame.WUnlatch()
		_ = t.pool.UnpinPage(leafID, true)
		return fmt.Errorf("index: split leaf %d: %w", leafID, err)
	}
	newID := newFrame.GetPageID()
	parentID := leaf.Header().ParentPageID
	sibling := t.leafAt(newFrame)
	sibling.Init(newID, parentID)
	leaf.MoveHalfTo(sibling)
	pushUpKey := sibling.KeyAt(0)

	frame.WUnlatch()
	if err := t.pool.UnpinPage(leafID, true); err != nil {
		_ = t.pool.UnpinPage(newID, true)
		return err
	}
	if err := t.pool.UnpinPage(newID, true); err != nil {
		return err
	}

	return t.insertIntoParent(leafID, pushUpKey, newID, parentID)
}

// insertIntoParent wires (rightID, key) into parentID's array (creating a
// new root if parentID is invalid), splitting parentID recursively if it
// overflows (spec.md §4.4).
func (t *BPlusTree[K]) insertIntoParent(leftID common.PageID, key K, rightID common.PageID, parentID common.PageID) error {
	if parentID == common.InvalidPageID {
		newRootFrame, err := t.pool.NewPage()
		if err != nil {
			return fmt.Errorf("index: new root: %w", err)
		}
		newRootID := newRootFrame.GetPageID()
		root := t.internalAt(newRootFrame)
		root.Init(newRootID, common.InvalidPageID)
		root.PopulateNewRoot(leftID, key, rightID)

		if err := t.setParentPageID(leftID, newRootID); err != nil {
			return err
		}
		if err := t.setParentPageID(rightID, newRootID); err != nil {
			return err
		}
		if err := t.pool.UnpinPage(newRootID, true); err != nil {
			return err
		}
		t.root = newRootID
		return nil
	}

	frame, err := t.pool.FetchPage(parentID)
	if err != nil {
		return err
	}
	frame.WLatch()
	parent := t.internalAt(frame)
	parent.InsertNodeAfter(leftID, key, rightID)

	if parent.Size() <= parent.MaxSize() {
		frame.WUnlatch()
		return t.pool.UnpinPage(parentID, true)
	}

	newFrame, err := t.pool.NewPage()
	if err != nil {
		frame.WUnlatch()
		_ = t.pool.UnpinPage(parentID, true)
		return fmt.Errorf("index: split internal %d: %w", parentID, err)
	}
	newID := newFrame.GetPageID()
	grandParentID := parent.Header().ParentPageID
	sibling := t.internalAt(newFrame)
	sibling.Init(newID, grandParentID)
	pushUpKey, moved := parent.MoveHalfTo(sibling)

	frame.WUnlatch()
	if err := t.pool.UnpinPage(parentID, true); err != nil {
		_ = t.pool.UnpinPage(newID, true)
		return err
	}

	for _, childID := range moved {
		if err := t.setParentPageID(childID, newID); err != nil {
			_ = t.pool.UnpinPage(newID, true)
			return err
		}
	}
	if err := t.pool.UnpinPage(newID, true); err != nil {
		return err
	}

	return t.insertIntoParent(parentID, pushUpKey, newID, grandParentID)
}

/* -------------------------------------------------------------------- */
/* Delete                                                                */
/* -------------------------------------------------------------------- */

// Delete removes key, redistributing from or merging with a sibling if
// the containing leaf underflows, and collapsing the root if it shrinks
// to a single child (spec.md §4.4).
func (t *BPlusTree[K]) Delete(key K) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.root == common.InvalidPageID {
		return nil
	}

	leafID, err := t.findLeaf(key)
	if err != nil {
		return err
	}

	frame, err := t.pool.FetchPage(leafID)
	if err != nil {
		return err
	}
	frame.WLatch()
	leaf := t.leafAt(frame)
	newSize := leaf.RemoveAndDeleteRecord(key)
	parentID := leaf.Header().ParentPageID
	minLeafSize := minSize(leaf.MaxSize())
	frame.WUnlatch()

	if parentID == common.InvalidPageID {
		if err := t.pool.UnpinPage(leafID, true); err != nil {
			return err
		}
		if newSize == 0 {
			t.root = common.InvalidPageID
		}
		return nil
	}

	if newSize >= minLeafSize {
		return t.pool.UnpinPage(leafID, true)
	}

	if err := t.pool.UnpinPage(leafID, true); err != nil {
		return err
	}
	return t.coalesceOrRedistributeLeaf(leafID, parentID)
}

func (t *BPlusTree[K]) coalesceOrRedistributeLeaf(nodeID, parentID common.PageID) error {
	parentFrame, err := t.pool.FetchPage(parentID)
	if err != nil {
		return err
	}
	parentFrame.WLatch()
	parent := t.internalAt(parentFrame)

	nodeFrame, err := t.pool.FetchPage(nodeID)
	if err != nil {
		parentFrame.WUnlatch()
		_ = t.pool.UnpinPage(parentID, false)
		return err
	}
	nodeFrame.WLatch()
	node := t.leafAt(nodeFrame)

	idx := parent.ValueIndex(nodeID)

	if idx > 0 {
		leftID := parent.ValueAt(idx - 1)
		leftFrame, err := t.pool.FetchPage(leftID)
		if err != nil {
			nodeFrame.WUnlatch()
			parentFrame.WUnlatch()
			_ = t.pool.UnpinPage(nodeID, false)
			_ = t.pool.UnpinPage(parentID, false)
			return err
		}
		leftFrame.WLatch()
		left := t.leafAt(leftFrame)

		if left.Size()+node.Size() > node.MaxSize() {
			lastIdx := left.Size() - 1
			k, v := left.KeyAt(lastIdx), left.RidAt(lastIdx)
			left.RemoveAt(lastIdx)
			node.InsertAt(0, k, v)
			parent.SetKeyAt(idx, node.KeyAt(0))

			leftFrame.WUnlatch()
			nodeFrame.WUnlatch()
			parentFrame.WUnlatch()
			_ = t.pool.UnpinPage(leftID, true)
			_ = t.pool.UnpinPage(nodeID, true)
			return t.pool.UnpinPage(parentID, true)
		}
		leftFrame.WUnlatch()
		_ = t.pool.UnpinPage(leftID, false)
	}

	if idx+1 < parent.Size() {
		rightID := parent.ValueAt(idx + 1)
		rightFrame, err := t.pool.FetchPage(rightID)
		if err != nil {
			nodeFrame.WUnlatch()
			parentFrame.WUnlatch()
			_ = t.pool.UnpinPage(nodeID, false)
			_ = t.pool.UnpinPage(parentID, false)
			return err
		}
		rightFrame.WLatch()
		right := t.leafAt(rightFrame)

		if right.Size()+node.Size() > node.MaxSize() {
			k, v := right.KeyAt(0), right.RidAt(0)
			right.RemoveAt(0)
			node.InsertAt(node.Size(), k, v)
			parent.SetKeyAt(idx+1, right.KeyAt(0))

			rightFrame.WUnlatch()
			nodeFrame.WUnlatch()
			parentFrame.WUnlatch()
			_ = t.pool.UnpinPage(rightID, true)
			_ = t.pool.UnpinPage(nodeID, true)
			return t.pool.UnpinPage(parentID, true)
		}
		rightFrame.WUnlatch()
		_ = t.pool.UnpinPage(rightID, false)
	}

	var survivorID, deletedID common.PageID
	if idx > 0 {
		leftID := parent.ValueAt(idx - 1)
		leftFrame, err := t.pool.FetchPage(leftID)
		if err != nil {
			nodeFrame.WUnlatch()
			parentFrame.WUnlatch()
			_ = t.pool.UnpinPage(nodeID, false)
			_ = t.pool.UnpinPage(parentID, false)
			return err
		}
		leftFrame.WLatch()
		left := t.leafAt(leftFrame)
		node.MoveAllTo(left)
		parent.RemoveAt(idx)
		leftFrame.WUnlatch()
		_ = t.pool.UnpinPage(leftID, true)
		survivorID, deletedID = leftID, nodeID
	} else {
		rightID := parent.ValueAt(idx + 1)
		rightFrame, err := t.pool.FetchPage(rightID)
		if err != nil {
			nodeFrame.WUnlatch()
			parentFrame.WUnlatch()
			_ = t.pool.UnpinPage(nodeID, false)
			_ = t.pool.UnpinPage(parentID, false)
			return err
		}
		rightFrame.WLatch()
		right := t.leafAt(rightFrame)
		right.MoveAllTo(node)
		parent.RemoveAt(idx + 1)
		rightFrame.WUnlatch()
		_ = t.pool.UnpinPage(rightID, true)
		survivorID, deletedID = nodeID, rightID
	}
	_ = survivorID

	nodeFrame.WUnlatch()
	// nodeID is unpinned dirty when it survived (content changed) and
	// clean when it's the one about to be deleted.
	if err := t.pool.UnpinPage(nodeID, nodeID != deletedID); err != nil {
		return err
	}
	if err := t.pool.DeletePage(deletedID); err != nil {
		return err
	}

	minInternal := minSize(parent.MaxSize())
	if parent.Size() < minInternal {
		parentFrame.WUnlatch()
		if err := t.pool.UnpinPage(parentID, true); err != nil {
			return err
		}
		return t.coalesceOrRedistributeInternal(parentID)
	}
	parentFrame.WUnlatch()
	return t.pool.UnpinPage(parentID, true)
}

// coalesceOrRedistributeInternal mirrors coalesceOrRedistributeLeaf for
// internal nodes. Redistribution rotates one (key,child) pair through the
// parent separator rather than moving it directly — the key a child
// arrives with is never the key it leaves with, since slot 0 of an
// internal node carries no meaningful key of its own (spec.md §3,
// §4.4). Every child pointer that crosses a node boundary has its
// parent_page_id fixed up immediately.
func (t *BPlusTree[K]) coalesceOrRedistributeInternal(nodeID common.PageID) error {
	frame, err := t.pool.FetchPage(nodeID)
	if err != nil {
		return err
	}
	frame.WLatch()
	node := t.internalAt(frame)

	if node.Size() >= minSize(node.MaxSize()) {
		frame.WUnlatch()
		return t.pool.UnpinPage(nodeID, false)
	}

	parentID := node.Header().ParentPageID
	if parentID == common.InvalidPageID {
		frame.WUnlatch()
		if err := t.pool.UnpinPage(nodeID, false); err != nil {
			return err
		}
		return t.adjustRoot(nodeID)
	}

	parentFrame, err := t.pool.FetchPage(parentID)
	if err != nil {
		frame.WUnlatch()
		_ = t.pool.UnpinPage(nodeID, false)
		return err
	}
	parentFrame.WLatch()
	parent := t.internalAt(parentFrame)
	idx := parent.ValueIndex(nodeID)

	if idx > 0 {
		leftID := parent.ValueAt(idx - 1)
		leftFrame, err := t.pool.FetchPage(leftID)
		if err != nil {
			frame.WUnlatch()
			parentFrame.WUnlatch()
			_ = t.pool.UnpinPage(nodeID, false)
			_ = t.pool.UnpinPage(parentID, false)
			return err
		}
		leftFrame.WLatch()
		left := t.internalAt(leftFrame)

		if left.Size()+node.Size() > node.MaxSize() {
			lastIdx := left.Size() - 1
			movedChild := left.ValueAt(lastIdx)
			movedKey := left.KeyAt(lastIdx)
			oldSeparator := parent.KeyAt(idx)

			left.RemoveAt(lastIdx)
			node.InsertAt(0, oldSeparator, movedChild)
			node.SetKeyAt(1, oldSeparator)
			parent.SetKeyAt(idx, movedKey)

			leftFrame.WUnlatch()
			frame.WUnlatch()
			parentFrame.WUnlatch()
			_ = t.pool.UnpinPage(leftID, true)
			_ = t.pool.UnpinPage(nodeID, true)
			_ = t.pool.UnpinPage(parentID, true)
			return t.setParentPageID(movedChild, nodeID)
		}
		leftFrame.WUnlatch()
		_ = t.pool.UnpinPage(leftID, false)
	}

	if idx+1 < parent.Size() {
		rightID := parent.ValueAt(idx + 1)
		rightFrame, err := t.pool.FetchPage(rightID)
		if err != nil {
			frame.WUnlatch()
			parentFrame.WUnlatch()
			_ = t.pool.UnpinPage(nodeID, false)
			_ = t.pool.UnpinPage(parentID, false)
			return err
		}
		rightFrame.WLatch()
		right := t.internalAt(rightFrame)

		if right.Size()+node.Size() > node.MaxSize() {
			movedChild := right.ValueAt(0)
			oldSeparator := parent.KeyAt(idx + 1)
			newRightSeparator := right.KeyAt(1)

			node.InsertAt(node.Size(), oldSeparator, movedChild)
			right.RemoveAt(0)
			parent.SetKeyAt(idx+1, newRightSeparator)

			rightFrame.WUnlatch()
			frame.WUnlatch()
			parentFrame.WUnlatch()
			_ = t.pool.UnpinPage(rightID, true)
			_ = t.pool.UnpinPage(nodeID, true)
			_ = t.pool.UnpinPage(parentID, true)
			return t.setParentPageID(movedChild, nodeID)
		}
		rightFrame.WUnlatch()
		_ = t.pool.UnpinPage(rightID, false)
	}

	var moved []common.PageID
	var survivorID, deletedID common.PageID
	if idx > 0 {
		leftID := parent.ValueAt(idx - 1)
		leftFrame, err := t.pool.FetchPage(leftID)
		if err != nil {
			frame.WUnlatch()
			parentFrame.WUnlatch()
			_ = t.pool.UnpinPage(nodeID, false)
			_ = t.pool.UnpinPage(parentID, false)
			return err
		}
		leftFrame.WLatch()
		left := t.internalAt(leftFrame)
		node.SetKeyAt(0, parent.KeyAt(idx))
		moved = node.MoveAllTo(left)
		parent.RemoveAt(idx)
		leftFrame.WUnlatch()
		_ = t.pool.UnpinPage(leftID, true)
		survivorID, deletedID = leftID, nodeID
	} else {
		rightID := parent.ValueAt(idx + 1)
		rightFrame, err := t.pool.FetchPage(rightID)
		if err != nil {
			frame.WUnlatch()
			parentFrame.WUnlatch()
			_ = t.pool.UnpinPage(nodeID, false)
			_ = t.pool.UnpinPage(parentID, false)
			return err
		}
		rightFrame.WLatch()
		right := t.internalAt(rightFrame)
		right.SetKeyAt(0, parent.KeyAt(idx+1))
		moved = right.MoveAllTo(node)
		parent.RemoveAt(idx + 1)
		rightFrame.WUnlatch()
		_ = t.pool.UnpinPage(rightID, true)
		survivorID, deletedID = nodeID, rightID
	}

	frame.WUnlatch()
	if err := t.pool.UnpinPage(nodeID, nodeID != deletedID); err != nil {
		return err
	}
	if err := t.pool.DeletePage(deletedID); err != nil {
		return err
	}

	for _, childID := range moved {
		if err := t.setParentPageID(childID, survivorID); err != nil {
			parentFrame.WUnlatch()
			_ = t.pool.UnpinPage(parentID, true)
			return err
		}
	}

	minInternal := minSize(parent.MaxSize())
	if parent.Size() < minInternal {
		parentFrame.WUnlatch()
		if err := t.pool.UnpinPage(parentID, true); err != nil {
			return err
		}
		return t.coalesceOrRedistributeInternal(parentID)
	}
	parentFrame.WUnlatch()
	return t.pool.UnpinPage(parentID, true)
}

// adjustRoot collapses a root internal page that has shrunk to a single
// child, promoting that child to be the new root (spec.md §4.4, delete
// step 4).
func (t *BPlusTree[K]) adjustRoot(rootID common.PageID) error {
	frame, err := t.pool.FetchPage(rootID)
	if err != nil {
		return err
	}
	root := t.internalAt(frame)

	if root.Size() != 1 {
		return t.pool.UnpinPage(rootID, false)
	}

	childID := root.ValueAt(0)
	if err := t.pool.UnpinPage(rootID, false); err != nil {
		return err
	}
	if err := t.setParentPageID(childID, common.InvalidPageID); err != nil {
		return err
	}
	t.root = childID
	return nil
}
