package page

import (
	"ariesdb/storage/common"
)

// nextPageIDOffset is where the leaf's sibling pointer lives, right after
// the common header and before the (key, rid) array.
const nextPageIDOffset = HeaderSize
const leafArrayOffset = HeaderSize + 4

// Leaf is a generic view over a page buffer laid out as a B+tree leaf node:
// the common header, a next_page_id sibling pointer, then an array of
// (key, record_id) pairs in ascending key order (spec.md §3, "Leaf node").
type Leaf[K any] struct {
	raw  *RawPage
	ks   KeySerializer[K]
	cmp  Comparator[K]
	slot int // keySize + RidSize
}

func NewLeaf[K any](raw *RawPage, ks KeySerializer[K], cmp Comparator[K]) *Leaf[K] {
	return &Leaf[K]{raw: raw, ks: ks, cmp: cmp, slot: ks.Size() + common.RidSize}
}

// MaxLeafSize computes max_size so a node of this key size fits a page,
// leaving one spare slot so Insert never overflows the backing array
// before a split is triggered (spec.md §3; §9 flags the source's sibling
// "MoveLastToFrontOf" bug but the max_size formula itself is uncontested).
func MaxLeafSize(keySize int) int32 {
	slot := keySize + common.RidSize
	return int32((common.PageSize-leafArrayOffset)/slot - 1)
}

func (n *Leaf[K]) Init(id, parent common.PageID) {
	h := Header{
		Type:         TypeLeaf,
		Size:         0,
		MaxSize:      MaxLeafSize(n.ks.Size()),
		PageID:       id,
		ParentPageID: parent,
	}
	WriteHeader(n.raw.Data, h)
	n.SetNextPageID(common.InvalidPageID)
}

func (n *Leaf[K]) Header() Header        { return ReadHeader(n.raw.Data) }
func (n *Leaf[K]) Size() int             { return int(n.Header().Size) }
func (n *Leaf[K]) MaxSize() int          { return int(n.Header().MaxSize) }
func (n *Leaf[K]) PageID() common.PageID { return n.Header().PageID }

func (n *Leaf[K]) setSize(size int) {
	h := n.Header()
	h.Size = int32(size)
	WriteHeader(n.raw.Data, h)
}

func (n *Leaf[K]) SetParentPageID(pid common.PageID) {
	h := n.Header()
	h.ParentPageID = pid
	WriteHeader(n.raw.Data, h)
}

func (n *Leaf[K]) NextPageID() common.PageID {
	return common.PageID(be32(n.raw.Data[nextPageIDOffset : nextPageIDOffset+4]))
}

func (n *Leaf[K]) SetNextPageID(id common.PageID) {
	putBe32(n.raw.Data[nextPageIDOffset:nextPageIDOffset+4], uint32(id))
}

func (n *Leaf[K]) offset(i int) int { return leafArrayOffset + i*n.slot }

func (n *Leaf[K]) KeyAt(i int) K {
	off := n.offset(i)
	return n.ks.Deserialize(n.raw.Data[off : off+n.ks.Size()])
}

func (n *Leaf[K]) setKeyAt(i int, key K) {
	off := n.offset(i)
	n.ks.Serialize(n.raw.Data[off:off+n.ks.Size()], key)
}

func (n *Leaf[K]) RidAt(i int) common.RID {
	off := n.offset(i) + n.ks.Size()
	return common.ReadRID(n.raw.Data[off : off+common.RidSize])
}

func (n *Leaf[K]) setRidAt(i int, rid common.RID) {
	off := n.offset(i) + n.ks.Size()
	common.PutRID(n.raw.Data[off:off+common.RidSize], rid)
}

// KeyIndex returns the first index i with KeyAt(i) >= key, or Size() if
// every key is smaller (spec.md §9, used for iterator positioning).
func (n *Leaf[K]) KeyIndex(key K) int {
	for i := 0; i < n.Size(); i++ {
		if n.cmp(n.KeyAt(i), key) >= 0 {
			return i
		}
	}
	return n.Size()
}

// Lookup returns the RID for an exact key match.
func (n *Leaf[K]) Lookup(key K) (common.RID, bool) {
	for i := 0; i < n.Size(); i++ {
		c := n.cmp(n.KeyAt(i), key)
		if c == 0 {
			return n.RidAt(i), true
		}
		if c > 0 {
			break
		}
	}
	return common.RID{}, false
}

// Insert inserts (key,rid) in sorted order. Duplicate keys are rejected —
// the spec requires unique leaf keys (spec.md §4.4, "Tie-breaking").
func (n *Leaf[K]) Insert(key K, rid common.RID) error {
	idx := n.KeyIndex(key)
	if idx < n.Size() && n.cmp(n.KeyAt(idx), key) == 0 {
		return common.ErrDuplicateKey
	}
	for i := n.Size(); i > idx; i-- {
		n.setKeyAt(i, n.KeyAt(i-1))
		n.setRidAt(i, n.RidAt(i-1))
	}
	n.setKeyAt(idx, key)
	n.setRidAt(idx, rid)
	n.setSize(n.Size() + 1)
	return nil
}

// InsertAt inserts (key,rid) at a caller-chosen index — used by
// redistribute.
func (n *Leaf[K]) InsertAt(idx int, key K, rid common.RID) {
	for i := n.Size(); i > idx; i-- {
		n.setKeyAt(i, n.KeyAt(i-1))
		n.setRidAt(i, n.RidAt(i-1))
	}
	n.setKeyAt(idx, key)
	n.setRidAt(idx, rid)
	n.setSize(n.Size() + 1)
}

// RemoveAt deletes the slot at index, shifting later slots left.
func (n *Leaf[K]) RemoveAt(index int) {
	for i := index; i < n.Size()-1; i++ {
		n.setKeyAt(i, n.KeyAt(i+1))
		n.setRidAt(i, n.RidAt(i+1))
	}
	n.setSize(n.Size() - 1)
}

// RemoveAndDeleteRecord removes the entry with the given key, if present.
func (n *Leaf[K]) RemoveAndDeleteRecord(key K) int {
	for i := 0; i < n.Size(); i++ {
		if n.cmp(n.KeyAt(i), key) == 0 {
			n.RemoveAt(i)
			break
		}
	}
	return n.Size()
}

// MoveHalfTo splits this leaf: the upper half moves to recipient (a
// freshly Init'd leaf), and the sibling chain is threaded so recipient
// sits between this leaf and its old next sibling.
func (n *Leaf[K]) MoveHalfTo(recipient *Leaf[K]) {
	count := (n.Size() + 1) / 2
	splitIdx := n.Size() - count

	for i := 0; i < count; i++ {
		recipient.setKeyAt(i, n.KeyAt(splitIdx+i))
		recipient.setRidAt(i, n.RidAt(splitIdx+i))
	}
	recipient.setSize(count)
	n.setSize(n.Size() - count)

	recipient.SetNextPageID(n.NextPageID())
	n.SetNextPageID(recipient.PageID())
}

// MoveAllTo merges this leaf's entries onto the end of recipient (the left
// sibling) and re-threads the sibling chain around the removed leaf.
func (n *Leaf[K]) MoveAllTo(recipient *Leaf[K]) {
	start := recipient.Size()
	for i := 0; i < n.Size(); i++ {
		recipient.setKeyAt(start+i, n.KeyAt(i))
		recipient.setRidAt(start+i, n.RidAt(i))
	}
	recipient.setSize(start + n.Size())
	recipient.SetNextPageID(n.NextPageID())
	n.setSize(0)
}
