package storage

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/orneryd/graphstore/pkg/rdf"
)

// badgerTx wraps one badger.Txn.
//
// badger allows a single open iterator per read-write transaction, so every
// scan below closes its iterator before any write is issued.
type badgerTx struct {
	engine *BadgerEngine
	txn    *badger.Txn
	id     string
	mode   TxMode
	start  time.Time
	done   bool
}

func newBadgerTx(b *BadgerEngine, txn *badger.Txn, mode TxMode) *badgerTx {
	return &badgerTx{
		engine: b,
		txn:    txn,
		id:     "tx-" + uuid.NewString(),
		mode:   mode,
		start:  time.Now(),
	}
}

func (tx *badgerTx) ID() string   { return tx.id }
func (tx *badgerTx) Mode() TxMode { return tx.mode }

func (tx *badgerTx) check(write bool) error {
	if tx.done {
		return ErrTransactionClosed
	}
	if write && tx.mode != ReadWrite {
		return ErrReadOnly
	}
	return nil
}

// scan visits every key with the given prefix.
func (tx *badgerTx) scan(prefix []byte, withValues bool, fn func(key, val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = withValues
	opts.Prefix = prefix
	it := tx.txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		var val []byte
		if withValues {
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			val = v
		}
		if err := fn(item.KeyCopy(nil), val); err != nil {
			return err
		}
	}
	return nil
}

func (tx *badgerTx) readTriples(prefix []byte) (*rdf.Graph, error) {
	g := rdf.NewGraph()
	err := tx.scan(prefix, true, func(key, val []byte) error {
		t, err := rdf.UnmarshalTriple(val)
		if err != nil {
			return fmt.Errorf("decoding %x: %w", key, err)
		}
		g.AddTriple(t)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: reading triples: %w", ErrStorage, err)
	}
	return g, nil
}

func (tx *badgerTx) GraphNames() ([]string, error) {
	if err := tx.check(false); err != nil {
		return nil, err
	}
	var names []string
	err := tx.scan([]byte{prefixGraph}, false, func(key, _ []byte) error {
		names = append(names, string(key[1:]))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing graphs: %w", ErrStorage, err)
	}
	sort.Strings(names)
	return names, nil
}

func (tx *badgerTx) HasGraph(name string) (bool, error) {
	if err := tx.check(false); err != nil {
		return false, err
	}
	_, err := tx.txn.Get(graphKey(name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: reading graph marker: %w", ErrStorage, err)
	}
	return true, nil
}

func (tx *badgerTx) Graph(name string) (*rdf.Graph, error) {
	if err := tx.check(false); err != nil {
		return nil, err
	}
	if name == rdf.DefaultGraph && tx.engine.unionDefault {
		return tx.Union()
	}
	return tx.readTriples(triplePrefix(name))
}

func (tx *badgerTx) AddGraph(name string, g *rdf.Graph) error {
	if err := tx.check(true); err != nil {
		return err
	}
	if err := ValidateGraphName(name); err != nil {
		return err
	}
	if err := tx.set(graphKey(name), nil); err != nil {
		return err
	}
	if g == nil {
		return nil
	}
	for _, t := range g.Triples() {
		if err := tx.set(tripleKey(name, t), rdf.MarshalTriple(t)); err != nil {
			return err
		}
	}
	return nil
}

func (tx *badgerTx) set(key, val []byte) error {
	err := tx.txn.Set(key, val)
	if errors.Is(err, badger.ErrTxnTooBig) {
		return fmt.Errorf("%w: graph too large for a single transaction: %w", ErrStorage, err)
	}
	if err != nil {
		return fmt.Errorf("%w: writing to transaction: %w", ErrStorage, err)
	}
	return nil
}

func (tx *badgerTx) DeleteGraph(name string) error {
	if err := tx.check(true); err != nil {
		return err
	}
	var keys [][]byte
	err := tx.scan(triplePrefix(name), false, func(key, _ []byte) error {
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: scanning graph %s: %w", ErrStorage, name, err)
	}
	keys = append(keys, graphKey(name))
	for _, k := range keys {
		if err := tx.txn.Delete(k); err != nil {
			return fmt.Errorf("%w: deleting from transaction: %w", ErrStorage, err)
		}
	}
	return nil
}

// Union merges every stored triple. Triples present in several graphs are
// stored once per graph and collapse here through the graph's set semantics.
func (tx *badgerTx) Union() (*rdf.Graph, error) {
	if err := tx.check(false); err != nil {
		return nil, err
	}
	return tx.readTriples([]byte{prefixTriple})
}

func (tx *badgerTx) Commit() error {
	if tx.done {
		return ErrTransactionClosed
	}
	tx.done = true
	if tx.mode != ReadWrite {
		tx.txn.Discard()
		return nil
	}
	if err := tx.txn.Commit(); err != nil {
		tx.txn.Discard()
		return fmt.Errorf("%w: commit %s: %w", ErrStorage, tx.id, err)
	}
	tx.engine.log.Debug("committed", "tx", tx.id, "duration", time.Since(tx.start))
	return nil
}

func (tx *badgerTx) Abort() error {
	if tx.done {
		return ErrTransactionClosed
	}
	tx.done = true
	tx.txn.Discard()
	if tx.mode == ReadWrite {
		tx.engine.log.Debug("aborted", "tx", tx.id)
	}
	return nil
}
