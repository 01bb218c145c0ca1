// Package storage provides the dataset backends behind a graphstore Store.
//
// A dataset is a set of named RDF graphs plus a union view over all of them.
// Two engines implement the same Engine/Tx contract:
//
//   - MemoryEngine: non-transactional, in-process. A coarse RWMutex guards the
//     graphs and a union graph cache that is maintained incrementally on every
//     add and delete. Abort only releases the mutex.
//   - BadgerEngine: transactional and disk resident, built on BadgerDB MVCC
//     transactions. Readers see a snapshot; Abort discards pending writes.
//
// Every access happens inside a transaction obtained from Engine.Begin and
// finished with exactly one Commit or Abort. Begin blocks until the engine
// can grant the requested mode.
//
// Example:
//
//	engine := storage.NewMemoryEngine(storage.MemoryOptions{})
//	defer engine.Close()
//
//	tx, _ := engine.Begin(storage.ReadWrite)
//	if err := tx.AddGraph("http://ex.org/g1", g); err != nil {
//		tx.Abort()
//		return err
//	}
//	tx.Commit()
//
//	rtx, _ := engine.Begin(storage.ReadOnly)
//	defer rtx.Commit()
//	union, _ := rtx.Union()
//
// ELI12:
//
// Think of the dataset as a binder with one tab per named graph. The union is
// the index at the back listing every line from every tab. A read transaction
// lets you look at the binder; a write transaction lets you rewrite tabs. The
// badger binder makes a photocopy for every reader so writers never have to
// wait for them, and can throw away a half-finished edit. The memory binder
// makes readers and writers take turns and cannot undo an edit once made.
package storage

import (
	"errors"
	"fmt"

	"github.com/orneryd/graphstore/pkg/rdf"
)

// ErrStorage is the root of every persistence failure.
var ErrStorage = errors.New("storage error")

// Common errors. Each one also matches ErrStorage under errors.Is.
var (
	ErrStorageClosed     = fmt.Errorf("%w: storage closed", ErrStorage)
	ErrTransactionClosed = fmt.Errorf("%w: transaction already closed", ErrStorage)
	ErrReadOnly          = fmt.Errorf("%w: write in read-only transaction", ErrStorage)
	ErrInvalidGraphName  = fmt.Errorf("%w: invalid graph name", ErrStorage)
)

// TxMode is the access mode of a transaction.
type TxMode int

const (
	// ReadOnly transactions may run concurrently with each other.
	ReadOnly TxMode = iota
	// ReadWrite transactions are exclusive among writers.
	ReadWrite
)

func (m TxMode) String() string {
	if m == ReadWrite {
		return "write"
	}
	return "read"
}

// Engine is a dataset backend.
type Engine interface {
	// Begin starts a transaction, blocking until it can be granted.
	Begin(mode TxMode) (Tx, error)

	// SupportsTransactions reports whether Abort rolls back writes.
	SupportsTransactions() bool

	// Close releases the engine. Open transactions must be finished first.
	Close() error
}

// Tx is one transaction against an Engine. Graphs returned from a Tx are
// copies; mutating them has no effect on the dataset.
type Tx interface {
	ID() string
	Mode() TxMode

	// GraphNames lists registered named graphs in lexical order. The default
	// graph is listed only if something was written to it.
	GraphNames() ([]string, error)

	// HasGraph reports whether the named graph is registered.
	HasGraph(name string) (bool, error)

	// Graph returns a copy of the named graph, empty if absent. When the
	// engine runs with UnionDefault, the default graph reads as the union.
	Graph(name string) (*rdf.Graph, error)

	// AddGraph merges g into the named graph, creating it if needed.
	AddGraph(name string, g *rdf.Graph) error

	// DeleteGraph removes the named graph and all its triples.
	DeleteGraph(name string) error

	// Union returns the union of all named graphs.
	Union() (*rdf.Graph, error)

	// Commit makes writes durable and ends the transaction. For read
	// transactions it only releases the snapshot or lock.
	Commit() error

	// Abort ends the transaction. Engines that support transactions discard
	// pending writes; others only release their lock.
	Abort() error
}

// ValidateGraphName rejects names that cannot be encoded in a storage key.
func ValidateGraphName(name string) error {
	for i := 0; i < len(name); i++ {
		if name[i] == 0x00 {
			return fmt.Errorf("%w: %q", ErrInvalidGraphName, name)
		}
	}
	return nil
}
