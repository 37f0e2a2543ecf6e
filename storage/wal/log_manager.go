package wal

import (
	"sync"
	"time"

	"ariesdb/storage/common"
)

// diskLogWriter is the subset of storage/disk.Manager the log manager needs:
// append bytes to the log file and fsync it.
type diskLogWriter interface {
	WriteLog(data []byte) (int64, error)
	FlushLog() error
}

// Manager owns the dual in-memory log buffer (active + flush), assigns
// monotonically increasing LSNs, and runs a background flush daemon
// (spec.md §4.2). All log records pass through AppendLog before any page
// carrying their LSN may be written to disk.
type Manager struct {
	disk diskLogWriter

	mu       sync.Mutex
	nextLSN  uint64
	active   []byte
	flush    []byte
	capacity int

	persistentLSN uint64

	flushCh   chan struct{}
	flushDone chan struct{}
	stopCh    chan struct{}
	stopped   chan struct{}

	fatalMu  sync.Mutex
	fatalErr error
}

// NewManager creates a log manager with the given per-buffer capacity
// (spec.md uses a page-sized buffer; common.LogBufferSize).
func NewManager(disk diskLogWriter, capacity int) *Manager {
	return &Manager{
		disk:      disk,
		active:    make([]byte, 0, capacity),
		flush:     make([]byte, 0, capacity),
		capacity:  capacity,
		flushCh:   make(chan struct{}, 1),
		flushDone: make(chan struct{}),
		stopCh:    make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// Run starts the background flush daemon. Call once; stop with Stop.
func (m *Manager) Run() {
	go m.flushLoop()
}

// Stop signals the flush daemon to exit after flushing whatever remains.
func (m *Manager) Stop() {
	close(m.stopCh)
	<-m.stopped
}

// GetFlushedLSN returns the highest LSN known to be durable on disk.
func (m *Manager) GetFlushedLSN() common.LSN {
	m.mu.Lock()
	defer m.mu.Unlock()
	return common.LSN(m.persistentLSN)
}

// Bump ensures the next AppendLog call assigns an LSN past lastUsed.
// Recovery calls this once it has scanned the highest LSN already present
// in the log — without it, a log manager opened fresh after a restart
// would start handing out LSN 1 again, which the page_lsn redo guard
// (storage/recovery) would misread as older than pages already carrying
// higher LSNs from before the crash (spec.md §4.5, Termination).
// Records through lastUsed were read back from the log file, so Bump also
// counts them as durable; ForceFlush for a recovered page's LSN then
// returns at once instead of waiting on records this manager never held.
func (m *Manager) Bump(lastUsed common.LSN) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if uint64(lastUsed) > m.nextLSN {
		m.nextLSN = uint64(lastUsed)
	}
	if uint64(lastUsed) > m.persistentLSN {
		m.persistentLSN = uint64(lastUsed)
	}
}

// AppendLog assigns r an LSN, appends its encoded bytes to the active
// buffer (swapping buffers first if it wouldn't fit), and returns the LSN.
// It does not itself guarantee durability — call ForceFlush for that.
func (m *Manager) AppendLog(r *Record) (common.LSN, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fatal(); err != nil {
		return common.InvalidLSN, err
	}

	m.nextLSN++
	r.LSN = common.LSN(m.nextLSN)
	encoded := r.Encode()

	if len(m.active)+len(encoded) > m.capacity {
		m.swapLocked()
	}
	m.active = append(m.active, encoded...)
	return r.LSN, nil
}

// swapLocked moves active into flush and wakes the flush daemon. Caller
// must hold mu. It blocks until the previous flush buffer has drained,
// mirroring the source's "wait until prior flush completes" step.
func (m *Manager) swapLocked() {
	for len(m.flush) > 0 {
		ch := m.flushDone
		m.mu.Unlock()
		<-ch
		m.mu.Lock()
	}
	m.flush, m.active = m.active, m.flush[:0]
	m.wakeFlusher()
}

func (m *Manager) wakeFlusher() {
	select {
	case m.flushCh <- struct{}{}:
	default:
	}
}

// ForceFlush blocks until persistentLSN >= target, swapping buffers and
// nudging the daemon as needed (spec.md §4.2, "force_flush(target_lsn)").
func (m *Manager) ForceFlush(target common.LSN) error {
	m.mu.Lock()
	if uint64(target) <= m.persistentLSN {
		m.mu.Unlock()
		return m.fatal()
	}
	if len(m.active) > 0 {
		m.swapLocked()
	} else {
		m.wakeFlusher()
	}
	m.mu.Unlock()

	for {
		m.mu.Lock()
		done := uint64(target) <= m.persistentLSN
		ch := m.flushDone
		m.mu.Unlock()
		if err := m.fatal(); err != nil {
			return err
		}
		if done {
			return nil
		}
		<-ch
	}
}

func (m *Manager) fatal() error {
	m.fatalMu.Lock()
	defer m.fatalMu.Unlock()
	return m.fatalErr
}

func (m *Manager) setFatal(err error) {
	m.fatalMu.Lock()
	m.fatalErr = err
	m.fatalMu.Unlock()
}

// flushLoop is the background flush daemon: it wakes on an explicit nudge
// (buffer swap or ForceFlush) or a periodic timeout, and writes whatever is
// in the flush buffer to disk (spec.md §4.2). An I/O error here is fatal —
// the system stops accepting further mutations.
func (m *Manager) flushLoop() {
	defer close(m.stopped)
	timer := time.NewTimer(common.LogTimeout)
	defer timer.Stop()

	for {
		select {
		case <-m.stopCh:
			// The first pass writes the flush buffer; the second swaps in
			// and writes whatever is still in the active buffer.
			m.drainOnce()
			m.drainOnce()
			return
		case <-m.flushCh:
			m.drainOnce()
		case <-timer.C:
			m.drainOnce()
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(common.LogTimeout)
	}
}

// drainOnce swaps active into flush (if flush is empty and active is not)
// and writes flush to disk, then signals every ForceFlush waiter.
func (m *Manager) drainOnce() {
	m.mu.Lock()
	if len(m.flush) == 0 && len(m.active) > 0 {
		m.flush, m.active = m.active, m.flush[:0]
	}
	toWrite := m.flush
	m.mu.Unlock()

	if len(toWrite) == 0 {
		m.broadcastDone()
		return
	}

	if _, err := m.disk.WriteLog(toWrite); err != nil {
		m.setFatal(err)
		m.broadcastDone()
		return
	}
	if err := m.disk.FlushLog(); err != nil {
		m.setFatal(err)
		m.broadcastDone()
		return
	}

	m.mu.Lock()
	lsn := decodeLastLSN(toWrite)
	if lsn > m.persistentLSN {
		m.persistentLSN = lsn
	}
	m.flush = m.flush[:0]
	m.mu.Unlock()

	m.broadcastDone()
}

// broadcastDone wakes every goroutine parked on flushDone by closing and
// replacing the channel under the lock.
func (m *Manager) broadcastDone() {
	m.mu.Lock()
	old := m.flushDone
	m.flushDone = make(chan struct{})
	m.mu.Unlock()
	close(old)
}

// decodeLastLSN scans a buffer of back-to-back encoded records and returns
// the LSN of the last one — records are appended in assignment order so
// the last one in the buffer is the highest LSN.
func decodeLastLSN(buf []byte) uint64 {
	var last uint64
	off := 0
	for off+commonPrefixSize <= len(buf) {
		r, err := Decode(buf[off:])
		if err != nil {
			break
		}
		last = uint64(r.LSN)
		off += int(r.Size)
	}
	return last
}
