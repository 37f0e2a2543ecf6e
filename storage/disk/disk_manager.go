// Package disk owns the two on-disk files of the engine: a dense page file
// and an append-only log file. It knows nothing about pages' contents or
// about log record framing — it only moves bytes.
package disk

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"ariesdb/storage/common"
)

// Manager is the concrete on-disk implementation of the disk manager
// contract (spec.md §4.1): read_page, write_page, allocate_page,
// deallocate_page, read_log, write_log.
type Manager struct {
	dataFile *os.File
	logFile  *os.File

	mu         sync.Mutex
	nextPageID uint32 // next id AllocatePage will hand out

	logMu     sync.Mutex
	logOffset int64 // current end-of-log-file byte offset
}

// Open opens (or creates) the data file and log file at the given paths. It
// returns the manager and whether the data file was freshly created.
func Open(dataPath, logPath string) (*Manager, bool, error) {
	df, err := os.OpenFile(dataPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("open data file: %w", err)
	}

	lf, err := os.OpenFile(logPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		df.Close()
		return nil, false, fmt.Errorf("open log file: %w", err)
	}

	dstat, err := df.Stat()
	if err != nil {
		return nil, false, err
	}
	lstat, err := lf.Stat()
	if err != nil {
		return nil, false, err
	}

	created := dstat.Size() == 0
	m := &Manager{
		dataFile:  df,
		logFile:   lf,
		logOffset: lstat.Size(),
	}

	if created {
		// page 0 is reserved for the header/index-roots page.
		m.nextPageID = 1
	} else {
		m.nextPageID = uint32(dstat.Size() / common.PageSize)
	}

	return m, created, nil
}

// AllocatePage returns the next unused, densely monotonic page id.
func (m *Manager) AllocatePage() common.PageID {
	id := atomic.AddUint32(&m.nextPageID, 1) - 1
	return common.PageID(id)
}

// DeallocatePage is a no-op marker: this engine never reclaims page space.
func (m *Manager) DeallocatePage(common.PageID) {}

// BumpAllocator ensures the next AllocatePage call returns an id >= minNext.
// Recovery calls this after redoing NEWPAGE records, which materialize
// pages at the ids recorded in the log rather than through AllocatePage —
// without this, a page allocated post-crash could collide with one redo
// just recreated (spec.md §4.5, Redo phase).
func (m *Manager) BumpAllocator(minNext common.PageID) {
	for {
		cur := atomic.LoadUint32(&m.nextPageID)
		if uint32(minNext) <= cur {
			return
		}
		if atomic.CompareAndSwapUint32(&m.nextPageID, cur, uint32(minNext)) {
			return
		}
	}
}

// ReadPage reads PageSize bytes for pageID into dest, which must be at least
// PageSize bytes long.
func (m *Manager) ReadPage(pageID common.PageID, dest []byte) error {
	if len(dest) < common.PageSize {
		return common.NewCorruptionError("ReadPage: destination buffer smaller than page size")
	}
	n, err := m.dataFile.ReadAt(dest[:common.PageSize], int64(pageID)*common.PageSize)
	if err != nil && err != io.EOF {
		return fmt.Errorf("read page %d: %w", pageID, err)
	}
	if n < common.PageSize {
		// page was allocated but never written (e.g. right after NewPage);
		// treat the unwritten tail as zeros.
		for i := n; i < common.PageSize; i++ {
			dest[i] = 0
		}
	}
	return nil
}

// WritePage writes the full PageSize-sized data buffer at pageID's offset.
func (m *Manager) WritePage(pageID common.PageID, data []byte) error {
	if len(data) != common.PageSize {
		return common.NewCorruptionError("WritePage: data is not exactly PageSize bytes")
	}
	if _, err := m.dataFile.WriteAt(data, int64(pageID)*common.PageSize); err != nil {
		return fmt.Errorf("write page %d: %w", pageID, err)
	}
	if common.Fsync {
		return m.dataFile.Sync()
	}
	return nil
}

// WriteLog appends bytes to the end of the log file. It does NOT fsync —
// FlushLog does, and fsync is triggered only by the log manager's flush
// daemon (spec.md §4.1, force-log-at-commit discipline).
func (m *Manager) WriteLog(data []byte) (offset int64, err error) {
	m.logMu.Lock()
	defer m.logMu.Unlock()

	n, err := m.logFile.WriteAt(data, m.logOffset)
	if err != nil {
		return 0, fmt.Errorf("write log: %w", err)
	}
	offset = m.logOffset
	m.logOffset += int64(n)
	return offset, nil
}

// ReadLog reads up to len(dest) bytes starting at offset. It returns the
// number of bytes actually read (which may be less than len(dest) at
// end-of-log).
func (m *Manager) ReadLog(dest []byte, offset int64) (int, error) {
	n, err := m.logFile.ReadAt(dest, offset)
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("read log at %d: %w", offset, err)
	}
	return n, nil
}

// FlushLog fsyncs the log file. Called by the log manager's flush daemon,
// never directly by page writers.
func (m *Manager) FlushLog() error {
	return m.logFile.Sync()
}

// TruncateLog truncates the log file to zero length and resets the write
// offset. Used by recovery once redo/undo has completed and a fresh log
// stream can begin (spec.md §4.5, Termination).
func (m *Manager) TruncateLog() error {
	m.logMu.Lock()
	defer m.logMu.Unlock()

	if err := m.logFile.Truncate(0); err != nil {
		return fmt.Errorf("truncate log: %w", err)
	}
	m.logOffset = 0
	return nil
}

// LogSize returns the current length of the log file in bytes.
func (m *Manager) LogSize() int64 {
	m.logMu.Lock()
	defer m.logMu.Unlock()
	return m.logOffset
}

func (m *Manager) Close() error {
	if err := m.logFile.Close(); err != nil {
		return err
	}
	return m.dataFile.Close()
}
