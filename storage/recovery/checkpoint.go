package recovery

import (
	"errors"
	"log"
	"time"

	"ariesdb/storage/common"
)

// ErrCheckpointBusy is returned by TakeCheckpoint when transactions are
// still active — this engine only implements the simple quiescent
// checkpoint spec.md §2's Non-goals allow ("fuzzy checkpoints beyond a
// simple quiescent checkpoint are optional"), which requires the system
// be idle.
var ErrCheckpointBusy = errors.New("recovery: checkpoint requires no active transactions")

type poolFlusher interface {
	FlushAll() error
}

type txnLister interface {
	ActiveTransactions() []common.TxnID
}

type logTruncator interface {
	TruncateLog() error
}

// TakeCheckpoint flushes every dirty page and truncates the log, which is
// what lets Recover treat "scan from the start of the log" as equivalent
// to "scan from the last checkpoint" (spec.md §4.5, Termination).
func TakeCheckpoint(pool poolFlusher, txns txnLister, disk logTruncator) error {
	if len(txns.ActiveTransactions()) > 0 {
		return ErrCheckpointBusy
	}
	if err := pool.FlushAll(); err != nil {
		return err
	}
	return disk.TruncateLog()
}

// Checkpointer runs TakeCheckpoint on a fixed interval in the background
// (spec.md §5, matching the teacher's StartCheckpointRoutine pattern).
// A busy checkpoint (active transactions in flight) is skipped silently
// and any other error is logged; neither is fatal — the next tick tries
// again.
type Checkpointer struct {
	pool     poolFlusher
	txns     txnLister
	disk     logTruncator
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

func NewCheckpointer(pool poolFlusher, txns txnLister, disk logTruncator, interval time.Duration) *Checkpointer {
	return &Checkpointer{
		pool:     pool,
		txns:     txns,
		disk:     disk,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (c *Checkpointer) Run() {
	go c.loop()
}

func (c *Checkpointer) Stop() {
	close(c.stop)
	<-c.done
}

func (c *Checkpointer) loop() {
	defer close(c.done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if err := TakeCheckpoint(c.pool, c.txns, c.disk); err != nil && !errors.Is(err, ErrCheckpointBusy) {
				log.Printf("recovery: checkpoint failed: %v", err)
			}
		}
	}
}
