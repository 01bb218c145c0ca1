package storage

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orneryd/graphstore/pkg/rdf"
)

// MemoryOptions configures a MemoryEngine.
type MemoryOptions struct {
	// UnionDefault makes the default graph read as the union of all graphs.
	UnionDefault bool
	Logger       *slog.Logger
}

// MemoryEngine is the non-transactional in-process backend.
//
// A single RWMutex is held for the whole life of a transaction: read
// transactions share it, write transactions own it exclusively. The union of
// all graphs is kept as a cache with a reference count per triple, so reading
// the union costs a copy rather than a merge of every graph.
//
// Abort cannot undo writes already applied to the graphs. Callers that need
// all-or-nothing updates must validate input before writing, or use the
// BadgerEngine.
//
// Thread Safety:
//
//	Safe for concurrent use. Transactions must not be shared between goroutines.
type MemoryEngine struct {
	mu           sync.RWMutex
	graphs       map[string]*rdf.Graph
	union        *rdf.Graph
	unionRefs    map[string]int
	unionDefault bool
	closed       bool
	log          *slog.Logger
}

// NewMemoryEngine creates an empty in-memory dataset.
func NewMemoryEngine(opts MemoryOptions) *MemoryEngine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryEngine{
		graphs:       make(map[string]*rdf.Graph),
		union:        rdf.NewGraph(),
		unionRefs:    make(map[string]int),
		unionDefault: opts.UnionDefault,
		log:          logger.With("engine", "memory"),
	}
}

// SupportsTransactions is false: Abort does not roll back.
func (m *MemoryEngine) SupportsTransactions() bool { return false }

// Begin acquires the read or write side of the engine mutex.
func (m *MemoryEngine) Begin(mode TxMode) (Tx, error) {
	if mode == ReadWrite {
		m.mu.Lock()
	} else {
		m.mu.RLock()
	}
	if m.closed {
		m.release(mode)
		return nil, ErrStorageClosed
	}
	return &memoryTx{
		engine: m,
		id:     "tx-" + uuid.NewString(),
		mode:   mode,
		start:  time.Now(),
	}, nil
}

func (m *MemoryEngine) release(mode TxMode) {
	if mode == ReadWrite {
		m.mu.Unlock()
	} else {
		m.mu.RUnlock()
	}
}

// Close drops all graphs. It waits for open transactions to finish.
func (m *MemoryEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.graphs = nil
	m.union = rdf.NewGraph()
	m.unionRefs = nil
	return nil
}

// addToUnion must be called with the write lock held, once per triple that is
// new to some named graph.
func (m *MemoryEngine) addToUnion(t rdf.Triple) {
	key := t.Key()
	m.unionRefs[key]++
	if m.unionRefs[key] == 1 {
		m.union.AddTriple(t)
	}
}

func (m *MemoryEngine) removeFromUnion(t rdf.Triple) {
	key := t.Key()
	n := m.unionRefs[key] - 1
	if n > 0 {
		m.unionRefs[key] = n
		return
	}
	delete(m.unionRefs, key)
	m.union.Remove(t)
}

type memoryTx struct {
	engine *MemoryEngine
	id     string
	mode   TxMode
	start  time.Time
	done   bool
}

func (tx *memoryTx) ID() string   { return tx.id }
func (tx *memoryTx) Mode() TxMode { return tx.mode }

func (tx *memoryTx) check(write bool) error {
	if tx.done {
		return ErrTransactionClosed
	}
	if write && tx.mode != ReadWrite {
		return ErrReadOnly
	}
	return nil
}

func (tx *memoryTx) GraphNames() ([]string, error) {
	if err := tx.check(false); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(tx.engine.graphs))
	for name := range tx.engine.graphs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (tx *memoryTx) HasGraph(name string) (bool, error) {
	if err := tx.check(false); err != nil {
		return false, err
	}
	_, ok := tx.engine.graphs[name]
	return ok, nil
}

func (tx *memoryTx) Graph(name string) (*rdf.Graph, error) {
	if err := tx.check(false); err != nil {
		return nil, err
	}
	if name == rdf.DefaultGraph && tx.engine.unionDefault {
		return tx.engine.union.Clone(), nil
	}
	if g, ok := tx.engine.graphs[name]; ok {
		return g.Clone(), nil
	}
	return rdf.NewGraph(), nil
}

func (tx *memoryTx) AddGraph(name string, g *rdf.Graph) error {
	if err := tx.check(true); err != nil {
		return err
	}
	if err := ValidateGraphName(name); err != nil {
		return err
	}
	m := tx.engine
	target, ok := m.graphs[name]
	if !ok {
		target = rdf.NewGraph()
		m.graphs[name] = target
	}
	if g == nil {
		return nil
	}
	for _, t := range g.Triples() {
		if target.AddTriple(t) {
			m.addToUnion(t)
		}
	}
	return nil
}

func (tx *memoryTx) DeleteGraph(name string) error {
	if err := tx.check(true); err != nil {
		return err
	}
	m := tx.engine
	g, ok := m.graphs[name]
	if !ok {
		return nil
	}
	for _, t := range g.Triples() {
		m.removeFromUnion(t)
	}
	delete(m.graphs, name)
	return nil
}

func (tx *memoryTx) Union() (*rdf.Graph, error) {
	if err := tx.check(false); err != nil {
		return nil, err
	}
	return tx.engine.union.Clone(), nil
}

func (tx *memoryTx) Commit() error {
	if tx.done {
		return ErrTransactionClosed
	}
	tx.done = true
	tx.engine.release(tx.mode)
	return nil
}

func (tx *memoryTx) Abort() error {
	if tx.done {
		return ErrTransactionClosed
	}
	tx.done = true
	if tx.mode == ReadWrite {
		tx.engine.log.Warn("abort on non-transactional engine releases the lock without rolling back",
			"tx", tx.id, "duration", time.Since(tx.start))
	}
	tx.engine.release(tx.mode)
	return nil
}
