// Package txn implements the transaction manager: begin/commit/abort,
// strict two-phase locking's growing/shrinking state machine, and
// force-log-at-commit (spec.md §3 "Transaction", §4.7).
package txn

import (
	"sync"

	"ariesdb/storage/common"
)

// State is a transaction's position in the two-phase locking protocol.
type State int

const (
	Growing State = iota
	Shrinking
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Growing:
		return "GROWING"
	case Shrinking:
		return "SHRINKING"
	case Committed:
		return "COMMITTED"
	case Aborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Transaction is the in-memory record spec.md §3 describes: an id, a
// two-phase-locking state, and the prev_lsn needed to thread this
// transaction's write set for undo.
type Transaction struct {
	mu sync.Mutex

	id      common.TxnID
	state   State
	prevLSN common.LSN
}

func (t *Transaction) ID() common.TxnID { return t.id }

func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transaction) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *Transaction) PrevLSN() common.LSN {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.prevLSN
}

func (t *Transaction) SetPrevLSN(lsn common.LSN) {
	t.mu.Lock()
	t.prevLSN = lsn
	t.mu.Unlock()
}
