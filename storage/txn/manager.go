package txn

import (
	"fmt"
	"sync"
	"sync/atomic"

	"ariesdb/storage/common"
	"ariesdb/storage/wal"
)

// logAppender is the subset of storage/wal.Manager the transaction manager
// needs: append a record and force it durable.
type logAppender interface {
	AppendLog(r *wal.Record) (common.LSN, error)
	ForceFlush(target common.LSN) error
}

// lockReleaser is the subset of storage/lockmgr.Manager needed at
// commit/abort time.
type lockReleaser interface {
	ReleaseLocks(txnID common.TxnID)
}

// Undoer applies the compensating actions for one transaction's write set,
// walking its prev_lsn chain backward (spec.md §4.6 undo phase, reused
// here for voluntary abort — "same machinery as recovery's undo but
// bounded to one transaction"). storage/recovery.Manager implements this.
type Undoer interface {
	UndoTransaction(txnID common.TxnID, lastLSN common.LSN) error
}

// Manager begins, commits, and aborts transactions (spec.md §4.7).
type Manager struct {
	mu      sync.Mutex
	actives map[common.TxnID]*Transaction
	counter uint64

	log    logAppender
	locks  lockReleaser
	undoer Undoer
}

func NewManager(log logAppender, locks lockReleaser, undoer Undoer) *Manager {
	return &Manager{
		actives: make(map[common.TxnID]*Transaction),
		log:     log,
		locks:   locks,
		undoer:  undoer,
	}
}

// Begin starts a new transaction in the GROWING state and logs a BEGIN
// record.
func (m *Manager) Begin() (*Transaction, error) {
	id := common.TxnID(atomic.AddUint64(&m.counter, 1))
	t := &Transaction{id: id, state: Growing}

	lsn, err := m.log.AppendLog(&wal.Record{Type: wal.TypeBegin, TxnID: id, PrevLSN: common.InvalidLSN})
	if err != nil {
		return nil, fmt.Errorf("txn: begin %d: %w", id, err)
	}
	t.SetPrevLSN(lsn)

	m.mu.Lock()
	m.actives[id] = t
	m.mu.Unlock()
	return t, nil
}

// Commit appends a COMMIT record and blocks until it is durable before
// releasing locks — force-log-at-commit (spec.md §4.2, §4.7).
func (m *Manager) Commit(t *Transaction) error {
	lsn, err := m.log.AppendLog(&wal.Record{Type: wal.TypeCommit, TxnID: t.ID(), PrevLSN: t.PrevLSN()})
	if err != nil {
		return fmt.Errorf("txn: commit %d: %w", t.ID(), err)
	}
	t.SetPrevLSN(lsn)

	if err := m.log.ForceFlush(lsn); err != nil {
		return fmt.Errorf("txn: commit %d: force flush: %w", t.ID(), err)
	}

	t.setState(Committed)
	m.locks.ReleaseLocks(t.ID())

	m.mu.Lock()
	delete(m.actives, t.ID())
	m.mu.Unlock()
	return nil
}

// Abort walks the transaction's write set backward applying compensating
// actions, then releases its locks — a transaction-scoped version of
// recovery's undo phase (spec.md §5, "Cancellation & timeouts").
func (m *Manager) Abort(t *Transaction) error {
	if err := m.undoer.UndoTransaction(t.ID(), t.PrevLSN()); err != nil {
		return fmt.Errorf("txn: abort %d: undo: %w", t.ID(), err)
	}

	lsn, err := m.log.AppendLog(&wal.Record{Type: wal.TypeAbort, TxnID: t.ID(), PrevLSN: t.PrevLSN()})
	if err != nil {
		return fmt.Errorf("txn: abort %d: %w", t.ID(), err)
	}
	t.SetPrevLSN(lsn)

	t.setState(Aborted)
	m.locks.ReleaseLocks(t.ID())

	m.mu.Lock()
	delete(m.actives, t.ID())
	m.mu.Unlock()
	return nil
}

// ActiveTransactions returns the ids of every transaction that hasn't
// committed or aborted yet — used by the checkpoint routine.
func (m *Manager) ActiveTransactions() []common.TxnID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]common.TxnID, 0, len(m.actives))
	for id := range m.actives {
		ids = append(ids, id)
	}
	return ids
}
