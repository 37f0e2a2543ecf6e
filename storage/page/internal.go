package page

import (
	"ariesdb/storage/common"
)

// Internal is a generic view over a page buffer laid out as a B+tree
// internal node: the common header, followed by an array of (key,
// child_page_id) pairs (spec.md §3, "Internal node"). Slot 0's key is
// never read; only array[0].child is meaningful, pointing at the subtree
// of keys strictly less than array[1].key.
type Internal[K any] struct {
	raw  *RawPage
	ks   KeySerializer[K]
	cmp  Comparator[K]
	slot int // keySize + child pointer size (4 bytes)
}

// ChildPointerSize is the on-page width of a child page id.
const ChildPointerSize = 4

func NewInternal[K any](raw *RawPage, ks KeySerializer[K], cmp Comparator[K]) *Internal[K] {
	return &Internal[K]{raw: raw, ks: ks, cmp: cmp, slot: ks.Size() + ChildPointerSize}
}

// MaxInternalSize computes max_size so a node of this key size fits a page
// (spec.md §3: "(PAGE_SIZE - header) / slot_size - 1").
func MaxInternalSize(keySize int) int32 {
	slot := keySize + ChildPointerSize
	return int32((common.PageSize-HeaderSize)/slot - 1)
}

// Init formats a freshly allocated page as an internal node with a single
// occupied dummy slot 0 (spec.md §9, "PopulateNewRoot... size == 1").
func (n *Internal[K]) Init(id, parent common.PageID) {
	h := Header{
		Type:         TypeInternal,
		Size:         1,
		MaxSize:      MaxInternalSize(n.ks.Size()),
		PageID:       id,
		ParentPageID: parent,
	}
	WriteHeader(n.raw.Data, h)
}

func (n *Internal[K]) Header() Header        { return ReadHeader(n.raw.Data) }
func (n *Internal[K]) Size() int             { return int(n.Header().Size) }
func (n *Internal[K]) MaxSize() int          { return int(n.Header().MaxSize) }
func (n *Internal[K]) PageID() common.PageID { return n.Header().PageID }

func (n *Internal[K]) setSize(size int) {
	h := n.Header()
	h.Size = int32(size)
	WriteHeader(n.raw.Data, h)
}

func (n *Internal[K]) SetParentPageID(pid common.PageID) {
	h := n.Header()
	h.ParentPageID = pid
	WriteHeader(n.raw.Data, h)
}

func (n *Internal[K]) offset(i int) int { return HeaderSize + i*n.slot }

func (n *Internal[K]) KeyAt(i int) K {
	off := n.offset(i)
	return n.ks.Deserialize(n.raw.Data[off : off+n.ks.Size()])
}

func (n *Internal[K]) SetKeyAt(i int, key K) {
	off := n.offset(i)
	n.ks.Serialize(n.raw.Data[off:off+n.ks.Size()], key)
}

func (n *Internal[K]) ValueAt(i int) common.PageID {
	off := n.offset(i) + n.ks.Size()
	return common.PageID(be32(n.raw.Data[off : off+4]))
}

func (n *Internal[K]) SetValueAt(i int, v common.PageID) {
	off := n.offset(i) + n.ks.Size()
	putBe32(n.raw.Data[off:off+4], uint32(v))
}

// ValueIndex returns the slot index whose child pointer equals value, or -1.
func (n *Internal[K]) ValueIndex(value common.PageID) int {
	for i := 0; i < n.Size(); i++ {
		if n.ValueAt(i) == value {
			return i
		}
	}
	return -1
}

// Lookup returns the child page id to descend into for key: the largest
// slot i>=1 with KeyAt(i) <= key, or array[0].child if none (spec.md §4.4).
// A linear scan is used — the header comment in the original source claims
// binary search but the implementation doesn't, and the spec permits either.
func (n *Internal[K]) Lookup(key K) common.PageID {
	found := 0
	for i := 1; i < n.Size(); i++ {
		if n.cmp(n.KeyAt(i), key) <= 0 {
			found = i
		} else {
			break
		}
	}
	return n.ValueAt(found)
}

// PopulateNewRoot fills a freshly Init'd (size==1) root with its two
// children after a root split.
func (n *Internal[K]) PopulateNewRoot(oldValue common.PageID, newKey K, newValue common.PageID) {
	n.SetValueAt(0, oldValue)
	n.SetKeyAt(1, newKey)
	n.SetValueAt(1, newValue)
	n.setSize(2)
}

// InsertAt inserts (key,child) at index, shifting slots [index, Size) right
// by one. index may equal Size() to append.
func (n *Internal[K]) InsertAt(index int, key K, child common.PageID) {
	for i := n.Size(); i > index; i-- {
		n.SetKeyAt(i, n.KeyAt(i-1))
		n.SetValueAt(i, n.ValueAt(i-1))
	}
	n.SetKeyAt(index, key)
	n.SetValueAt(index, child)
	n.setSize(n.Size() + 1)
}

// InsertNodeAfter inserts (newKey,newValue) immediately after the slot
// whose child pointer equals oldValue (spec.md §4.4, insert_into_parent).
func (n *Internal[K]) InsertNodeAfter(oldValue common.PageID, newKey K, newValue common.PageID) int {
	idx := n.ValueIndex(oldValue)
	if idx == -1 {
		panic("InsertNodeAfter: old value not found in internal node")
	}
	n.InsertAt(idx+1, newKey, newValue)
	return n.Size()
}

// RemoveAt deletes the slot at index, shifting later slots left.
func (n *Internal[K]) RemoveAt(index int) {
	for i := index; i < n.Size()-1; i++ {
		n.SetKeyAt(i, n.KeyAt(i+1))
		n.SetValueAt(i, n.ValueAt(i+1))
	}
	n.setSize(n.Size() - 1)
}

// RemoveAndReturnOnlyChild is called only when collapsing a root that has
// shrunk to a single child (spec.md §4.4, delete step 4).
func (n *Internal[K]) RemoveAndReturnOnlyChild() common.PageID {
	v := n.ValueAt(0)
	n.setSize(n.Size() - 1)
	return v
}

// MoveHalfTo moves the upper half of this node's entries into recipient
// (a freshly Init'd node) during a split. The entry at the split boundary
// loses its key — it becomes recipient's dummy slot 0 child pointer — so
// its key is returned separately as pushUpKey for the caller to insert
// into the parent (spec.md §4.4, insert_into_parent). movedChildren lists
// every child that now lives under recipient, including the one absorbed
// into slot 0, so the caller can fix their parent_page_id back-references.
func (n *Internal[K]) MoveHalfTo(recipient *Internal[K]) (pushUpKey K, movedChildren []common.PageID) {
	splitIdx := n.Size() / 2
	pushUpKey = n.KeyAt(splitIdx)

	recipient.SetValueAt(0, n.ValueAt(splitIdx))
	movedChildren = append(movedChildren, n.ValueAt(splitIdx))
	for i := splitIdx + 1; i < n.Size(); i++ {
		ri := i - splitIdx
		recipient.SetKeyAt(ri, n.KeyAt(i))
		recipient.SetValueAt(ri, n.ValueAt(i))
		movedChildren = append(movedChildren, n.ValueAt(i))
	}
	recipient.setSize(n.Size() - splitIdx)
	n.setSize(splitIdx)
	return pushUpKey, movedChildren
}

// MoveAllTo merges this node's entries onto the end of recipient (recipient
// is the left sibling). The caller must first SetKeyAt(0, separatorKey) on
// this node — the parent's separator for this node, which becomes the
// bridge key at the point of the merge — before calling MoveAllTo. Returns
// the child page ids that moved, for parent_page_id fixups.
func (n *Internal[K]) MoveAllTo(recipient *Internal[K]) (movedChildren []common.PageID) {
	start := recipient.Size()
	for i := 0; i < n.Size(); i++ {
		recipient.SetKeyAt(start+i, n.KeyAt(i))
		recipient.SetValueAt(start+i, n.ValueAt(i))
		movedChildren = append(movedChildren, n.ValueAt(i))
	}
	recipient.setSize(start + n.Size())
	n.setSize(0)
	return movedChildren
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func putBe32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
