// Package engine wires the disk manager, log manager, buffer pool, lock
// manager, transaction manager, and recovery together into a single
// on-disk store (spec.md §6, "Engine facade") — the Go analogue of the
// teacher's db.DB/db.OpenDB, trimmed of the SQL catalog and executor
// layers that are out of scope here.
package engine

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"ariesdb/storage/buffer"
	"ariesdb/storage/common"
	"ariesdb/storage/disk"
	"ariesdb/storage/heap"
	"ariesdb/storage/index"
	"ariesdb/storage/lockmgr"
	"ariesdb/storage/page"
	"ariesdb/storage/recovery"
	"ariesdb/storage/txn"
	"ariesdb/storage/wal"
)

const checkpointInterval = 10 * time.Second

// Engine is the top-level handle a caller opens once per database file
// pair and keeps for the process lifetime.
type Engine struct {
	dm   *disk.Manager
	lm   *wal.Manager
	pool *buffer.Pool
	lock *lockmgr.Manager
	tm   *txn.Manager
	rm   *recovery.Manager
	cp   *recovery.Checkpointer

	logger *log.Logger

	mu      sync.Mutex
	tables  map[string]*heap.TableHeap
	indexes map[string]*index.BPlusTree[int64]
}

// rootsSyncingPool adapts an Engine to recovery's poolFlusher contract:
// every checkpoint first writes each open index's current root page id
// into the roots page before flushing, so a tree that grew a new root via
// a split since it was opened doesn't leave a stale pointer behind for the
// next restart's recovery to follow.
type rootsSyncingPool struct{ e *Engine }

func (s rootsSyncingPool) FlushAll() error {
	if err := s.e.syncIndexRoots(); err != nil {
		return err
	}
	return s.e.pool.FlushAll()
}

// Options configures Open. A zero-value Options is valid and uses the
// engine's compile-time defaults (spec.md §6, "Compile-time knobs").
type Options struct {
	PoolSize   int
	LogBuffer  int
	LogOutput  io.Writer // defaults to a file named dataPath+".log.txt"
	Checkpoint time.Duration
}

func (o Options) withDefaults(dataPath string) (Options, error) {
	if o.PoolSize == 0 {
		o.PoolSize = 64
	}
	if o.LogBuffer == 0 {
		o.LogBuffer = common.LogBufferSize
	}
	if o.Checkpoint == 0 {
		o.Checkpoint = checkpointInterval
	}
	if o.LogOutput == nil {
		f, err := os.OpenFile(dataPath+".log.txt", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return o, fmt.Errorf("open engine log: %w", err)
		}
		o.LogOutput = f
	}
	return o, nil
}

// Open opens (or creates) dataPath/dataPath+".wal" and brings the engine
// to a consistent state: if the data file already existed, ARIES recovery
// runs before anything else is accepted (spec.md §4.5, "before the engine
// accepts transactions").
func Open(dataPath string, opts Options) (*Engine, error) {
	opts, err := opts.withDefaults(dataPath)
	if err != nil {
		return nil, err
	}

	dm, created, err := disk.Open(dataPath, dataPath+".wal")
	if err != nil {
		return nil, fmt.Errorf("open disk manager: %w", err)
	}

	lm := wal.NewManager(dm, opts.LogBuffer)
	lm.Run()

	pool := buffer.NewPool(opts.PoolSize, dm, lm)
	lockMgr := lockmgr.NewManager()

	rm := recovery.NewManager(pool, dm, lm)
	tm := txn.NewManager(lm, lockMgr, rm)

	logger := log.New(opts.LogOutput, "ariesdb: ", log.LstdFlags)

	e := &Engine{
		dm:      dm,
		lm:      lm,
		pool:    pool,
		lock:    lockMgr,
		tm:      tm,
		rm:      rm,
		logger:  logger,
		tables:  make(map[string]*heap.TableHeap),
		indexes: make(map[string]*index.BPlusTree[int64]),
	}

	if created {
		// Page 0 is reserved for the roots page (disk.Manager starts its
		// allocator at 1), so it's fetched directly rather than through
		// NewPage — ReadPage zero-fills the as-yet-unwritten page.
		raw, err := pool.FetchPage(common.InvalidPageID)
		if err != nil {
			return nil, fmt.Errorf("fetch roots page: %w", err)
		}
		page.NewRoots(raw).Init()
		if err := pool.UnpinPage(common.InvalidPageID, true); err != nil {
			return nil, err
		}
		if err := pool.FlushAll(); err != nil {
			return nil, err
		}
		e.logger.Printf("created fresh database at %s", dataPath)
	} else {
		e.logger.Printf("recovering database at %s", dataPath)
		if err := rm.Recover(); err != nil {
			return nil, fmt.Errorf("recover: %w", err)
		}
	}

	e.cp = recovery.NewCheckpointer(rootsSyncingPool{e: e}, tm, dm, opts.Checkpoint)
	e.cp.Run()

	return e, nil
}

// Close stops background goroutines, flushes every dirty page, and closes
// both underlying files. It does not take a final checkpoint — a clean
// close still leaves a log for the next Open to redo from, which Recover
// handles identically to a crash.
func (e *Engine) Close() error {
	e.cp.Stop()
	e.lock.Stop()
	e.lm.Stop()
	if err := e.syncIndexRoots(); err != nil {
		return fmt.Errorf("sync index roots on close: %w", err)
	}
	if err := e.pool.FlushAll(); err != nil {
		return fmt.Errorf("flush on close: %w", err)
	}
	return e.dm.Close()
}

// Begin starts a new transaction.
func (e *Engine) Begin() (*txn.Transaction, error) { return e.tm.Begin() }

// Commit commits t, forcing its log records to disk before returning.
func (e *Engine) Commit(t *txn.Transaction) error { return e.tm.Commit(t) }

// Abort rolls t back via recovery's shared undo machinery and releases its
// locks.
func (e *Engine) Abort(t *txn.Transaction) error { return e.tm.Abort(t) }

// Checkpoint forces an immediate quiescent checkpoint, independent of the
// background Checkpointer's ticker.
func (e *Engine) Checkpoint() error {
	return recovery.TakeCheckpoint(rootsSyncingPool{e: e}, e.tm, e.dm)
}

// syncIndexRoots writes every open index's current root page id into the
// roots page. Called before every checkpoint since Insert/Delete can move
// an index's root (a split promotes a new root, a delete can collapse one
// away) without the engine knowing at the time it happened.
func (e *Engine) syncIndexRoots() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.indexes) == 0 {
		return nil
	}

	roots, err := e.roots()
	if err != nil {
		return err
	}
	for name, tree := range e.indexes {
		if err := roots.Set(indexRootKey(name), tree.RootPageID()); err != nil {
			e.unpinRoots(false)
			return err
		}
	}
	e.unpinRoots(true)
	return nil
}

func (e *Engine) roots() (*page.Roots, error) {
	raw, err := e.pool.FetchPage(common.InvalidPageID)
	if err != nil {
		return nil, err
	}
	return page.NewRoots(raw), nil
}

func (e *Engine) unpinRoots(dirty bool) {
	_ = e.pool.UnpinPage(common.InvalidPageID, dirty)
}

// CreateTable registers a new, empty heap under name. Returns
// common.ErrDuplicateKey if name is already registered.
func (e *Engine) CreateTable(name string) (*heap.TableHeap, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	roots, err := e.roots()
	if err != nil {
		return nil, err
	}
	if _, ok := roots.Get(tableRootKey(name)); ok {
		e.unpinRoots(false)
		return nil, common.ErrDuplicateKey
	}

	h, err := heap.Create(e.pool, e.lm)
	if err != nil {
		e.unpinRoots(false)
		return nil, err
	}
	if err := roots.Set(tableRootKey(name), h.FirstPageID()); err != nil {
		e.unpinRoots(false)
		return nil, err
	}
	e.unpinRoots(true)

	e.tables[name] = h
	return h, nil
}

// Table returns the previously created or recovered heap registered under
// name, or common.ErrNotFound.
func (e *Engine) Table(name string) (*heap.TableHeap, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if h, ok := e.tables[name]; ok {
		return h, nil
	}

	roots, err := e.roots()
	if err != nil {
		return nil, err
	}
	firstPageID, ok := roots.Get(tableRootKey(name))
	e.unpinRoots(false)
	if !ok {
		return nil, common.ErrNotFound
	}

	h := heap.Open(e.pool, e.lm, firstPageID)
	e.tables[name] = h
	return h, nil
}

// CreateIndex builds a new, empty int64-keyed B+tree index registered
// under name (spec.md §9, "Generics over (Key,Value,Compare)"). Returns
// common.ErrDuplicateKey if name is already registered.
func (e *Engine) CreateIndex(name string) (*index.BPlusTree[int64], error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	roots, err := e.roots()
	if err != nil {
		return nil, err
	}
	if _, ok := roots.Get(indexRootKey(name)); ok {
		e.unpinRoots(false)
		return nil, common.ErrDuplicateKey
	}

	tree := index.NewBPlusTree[int64](e.pool, page.Int64KeySerializer{}, page.CompareInt64)
	if err := roots.Set(indexRootKey(name), tree.RootPageID()); err != nil {
		e.unpinRoots(false)
		return nil, err
	}
	e.unpinRoots(true)

	e.indexes[name] = tree
	return tree, nil
}

// Index reopens the previously created int64-keyed B+tree index
// registered under name, or returns common.ErrNotFound.
func (e *Engine) Index(name string) (*index.BPlusTree[int64], error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if tree, ok := e.indexes[name]; ok {
		return tree, nil
	}

	roots, err := e.roots()
	if err != nil {
		return nil, err
	}
	rootPageID, ok := roots.Get(indexRootKey(name))
	e.unpinRoots(false)
	if !ok {
		return nil, common.ErrNotFound
	}

	tree := index.OpenBPlusTree[int64](e.pool, page.Int64KeySerializer{}, page.CompareInt64, rootPageID)
	e.indexes[name] = tree
	return tree, nil
}

func tableRootKey(name string) string { return "table:" + name }
func indexRootKey(name string) string { return "index:" + name }
