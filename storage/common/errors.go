package common

import "errors"

// Expected, returnable errors (spec.md §7: NotFound, DuplicateKey, Deadlock
// are normal results that callers are expected to handle).
var (
	ErrNotFound     = errors.New("key not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrDeadlock     = errors.New("deadlock detected")
	ErrOutOfSpace   = errors.New("disk allocation failed: out of space")
)

// CorruptionError represents an invariant violation: a bad page header, a
// log record whose size overruns the buffer, or inconsistent child/parent
// pointers. It is always fatal — callers should stop accepting mutations
// rather than try to route around it.
type CorruptionError struct {
	Reason string
}

func (e *CorruptionError) Error() string {
	return "corruption: " + e.Reason
}

// NewCorruptionError builds a CorruptionError with the given reason.
func NewCorruptionError(reason string) error {
	return &CorruptionError{Reason: reason}
}

// PinExhaustionError is raised when the buffer pool has no unpinned frame to
// evict. In normal operation it indicates a latch/pin leak and is fatal;
// during recovery it is treated the same way a Corruption is (spec.md §7).
type PinExhaustionError struct{}

func (e *PinExhaustionError) Error() string {
	return "buffer pool exhausted: no unpinned frame to evict"
}

var ErrPinExhausted = &PinExhaustionError{}
