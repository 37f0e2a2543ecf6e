// Package common holds the compile-time knobs and ids shared across every
// storage package: page/log geometry, log-flush cadence, and the numeric
// types that identify pages, log records and transactions.
package common

import "time"

const (
	// PageSize is the fixed size of a page in the data file.
	PageSize = 4096

	// BufferPoolSize is the default number of frames the buffer pool holds.
	BufferPoolSize = 64

	// LogBufferSize is the size of each of the log manager's two buffers.
	LogBufferSize = PageSize

	// LogTimeout is the period the background flush daemon wakes up on even
	// without an explicit force-flush or a full buffer.
	LogTimeout = 50 * time.Millisecond

	// Fsync controls whether WritePage fsyncs the data file immediately.
	// WriteLog never fsyncs; the log is synced by FlushLog. Tests that
	// don't simulate a power loss can leave this false to run faster.
	Fsync = false
)

// PageID identifies a page in the data file. Page 0 is reserved for the
// header/index-roots page.
type PageID uint32

// InvalidPageID is the reserved sentinel page id.
const InvalidPageID PageID = 0

// LSN is a log sequence number: a monotonically increasing identifier
// assigned to every log record by the log manager.
type LSN uint64

// InvalidLSN marks "no log record yet", e.g. a fresh page or a txn's first
// prev_lsn link.
const InvalidLSN LSN = 0

// TxnID identifies a transaction.
type TxnID uint64
