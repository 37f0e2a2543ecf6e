package page

// KeySerializer turns a fixed-width key of type K into its on-page byte
// representation and back. The spec (§9, "Template over key size/
// comparator") permits either compile-time specialization or code
// generation; this engine uses Go generics, keeping the teacher's
// interface-per-concern shape (btree.KeySerializer) but parametrized
// instead of boxed in `interface{}`.
type KeySerializer[K any] interface {
	Serialize(dest []byte, key K)
	Deserialize(src []byte) K
	// Size is the fixed serialized width of a key, in bytes.
	Size() int
}

// Comparator orders two keys, returning <0, 0, >0 exactly like a C
// comparator — every search in the tree goes through it, never through a
// type's natural ordering, so callers can key the same tree differently
// (spec.md §4.4, "Tie-breaking and ordering").
type Comparator[K any] func(a, b K) int

// Int64KeySerializer is the concrete serializer this engine exercises most:
// an 8-byte big-endian integer key, matching spec.md §8's worked scenarios
// (integer keys 1..1000, max_size=4 splits, etc).
type Int64KeySerializer struct{}

func (Int64KeySerializer) Serialize(dest []byte, key int64) {
	for i := 7; i >= 0; i-- {
		dest[i] = byte(key)
		key >>= 8
	}
}

func (Int64KeySerializer) Deserialize(src []byte) int64 {
	var v int64
	for i := 0; i < 8; i++ {
		v = (v << 8) | int64(src[i])
	}
	return v
}

func (Int64KeySerializer) Size() int { return 8 }

// CompareInt64 is the default comparator for Int64KeySerializer-keyed trees.
func CompareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
