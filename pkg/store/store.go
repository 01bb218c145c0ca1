// Package store coordinates a named-graph dataset with its indexers and
// inference mutators.
//
// Every write goes through one pipeline under the Store's write lock:
//
//	mutate (in registration order) -> index -> persist -> commit
//
// Mutators enlarge the incoming graph in place, so indexers and the dataset
// both see the entailed triples. Indexer failures are collected and reported
// after the write commits; they never block persistence.
//
// Example:
//
//	engine := storage.NewMemoryEngine(storage.MemoryOptions{})
//	s := store.New(engine, store.Options{})
//	s.AddMutator(inference.NewClosure(ontology))
//	s.AddIndexer(idx)
//
//	if err := s.AddGraph("http://ex.org/g1", g); err != nil {
//		log.Printf("write stored, but indexing failed: %v", err)
//	}
//	union, _ := s.UnionModel()
//
// Thread Safety:
//
//	All methods are safe for concurrent use. Writers are serialized by the
//	Store; readers follow the backend's isolation rules.
package store

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/orneryd/graphstore/pkg/rdf"
	"github.com/orneryd/graphstore/pkg/storage"
)

// ErrForeignSession is returned when a session is released through a Store
// that did not create it.
var ErrForeignSession = errors.New("session not owned by this store")

// Indexer receives every graph change made through the Store.
type Indexer interface {
	AddGraph(name string, g *rdf.Graph) error
	UpdateGraph(name string, g *rdf.Graph) error
	DeleteGraph(name string) error
	StartBatch()
	EndBatch() error
}

// Mutator transforms an incoming graph before it is indexed and stored.
type Mutator interface {
	Mutate(g *rdf.Graph)
}

// Options configures a Store.
type Options struct {
	// LogDir enables the action log when set.
	LogDir string

	Logger *slog.Logger
}

// Store is a named-graph RDF store with indexer and mutator fan-out.
type Store struct {
	engine storage.Engine
	log    *slog.Logger
	audit  *actionLog

	// writeMu serializes write sessions.
	writeMu sync.Mutex
	inWrite atomic.Bool

	pluginMu sync.Mutex
	indexers atomic.Pointer[[]Indexer]
	mutators atomic.Pointer[[]Mutator]
}

// New wraps an engine. The Store takes ownership and closes it on Close.
func New(engine storage.Engine, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")
	s := &Store{
		engine: engine,
		log:    logger,
	}
	if opts.LogDir != "" {
		s.audit = &actionLog{dir: opts.LogDir, log: logger}
	}
	s.indexers.Store(&[]Indexer{})
	s.mutators.Store(&[]Mutator{})
	return s
}

// AddIndexer registers an indexer. Writes in progress keep the list they
// started with.
func (s *Store) AddIndexer(ix Indexer) {
	s.pluginMu.Lock()
	defer s.pluginMu.Unlock()
	old := *s.indexers.Load()
	next := make([]Indexer, len(old), len(old)+1)
	copy(next, old)
	next = append(next, ix)
	s.indexers.Store(&next)
}

// AddMutator registers a mutator. Mutators run in registration order.
func (s *Store) AddMutator(m Mutator) {
	s.pluginMu.Lock()
	defer s.pluginMu.Unlock()
	old := *s.mutators.Load()
	next := make([]Mutator, len(old), len(old)+1)
	copy(next, old)
	next = append(next, m)
	s.mutators.Store(&next)
}

// Indexers returns the current indexer list. The slice must not be modified.
func (s *Store) Indexers() []Indexer { return *s.indexers.Load() }

// Mutators returns the current mutator list. The slice must not be modified.
func (s *Store) Mutators() []Mutator { return *s.mutators.Load() }

// Lock opens a read session.
func (s *Store) Lock() (*Session, error) {
	tx, err := s.engine.Begin(storage.ReadOnly)
	if err != nil {
		return nil, err
	}
	return &Session{store: s, tx: tx}, nil
}

// LockWrite blocks until no other write session is open, then opens one.
func (s *Store) LockWrite() (*Session, error) {
	s.writeMu.Lock()
	tx, err := s.engine.Begin(storage.ReadWrite)
	if err != nil {
		s.writeMu.Unlock()
		return nil, err
	}
	s.inWrite.Store(true)
	return &Session{store: s, tx: tx, write: true}, nil
}

// Unlock ends a session obtained from Lock or LockWrite on this Store,
// committing write sessions. It is the same as sess.Unlock; a caller can
// only release the session it holds.
func (s *Store) Unlock(sess *Session) error {
	if err := s.owns(sess); err != nil {
		return err
	}
	return sess.Unlock()
}

// Abort ends a session obtained from this Store, rolling back write sessions
// when the backend supports it.
func (s *Store) Abort(sess *Session) error {
	if err := s.owns(sess); err != nil {
		return err
	}
	return sess.Abort()
}

func (s *Store) owns(sess *Session) error {
	if sess == nil || sess.store != s {
		return ErrForeignSession
	}
	return nil
}

// InWrite reports whether a write session is open.
func (s *Store) InWrite() bool { return s.inWrite.Load() }

func (s *Store) releaseWrite() {
	s.inWrite.Store(false)
	s.writeMu.Unlock()
}

// Dataset exposes the underlying engine.
func (s *Store) Dataset() storage.Engine { return s.engine }

// UnionModel returns the union of all named graphs.
func (s *Store) UnionModel() (*rdf.Graph, error) {
	sess, err := s.Lock()
	if err != nil {
		return nil, err
	}
	defer sess.Unlock()
	return sess.UnionModel()
}

// Graph returns a copy of one named graph. Unknown names give an empty graph.
func (s *Store) Graph(name string) (*rdf.Graph, error) {
	sess, err := s.Lock()
	if err != nil {
		return nil, err
	}
	defer sess.Unlock()
	return sess.Graph(name)
}

// GraphNames lists the stored graph names in order.
func (s *Store) GraphNames() ([]string, error) {
	sess, err := s.Lock()
	if err != nil {
		return nil, err
	}
	defer sess.Unlock()
	return sess.GraphNames()
}

// AddGraph mutates, indexes and stores g under name, merging with any
// existing content. g is modified in place by the mutators.
//
// A returned error wrapping storage.ErrStorage means nothing was committed.
// Any other error comes from indexers, and the graph was stored. Invalid
// names are rejected before mutators or indexers see the graph.
func (s *Store) AddGraph(name string, g *rdf.Graph) error {
	if err := storage.ValidateGraphName(name); err != nil {
		return err
	}
	sess, err := s.LockWrite()
	if err != nil {
		return err
	}
	defer sess.release()
	return s.write(sess, actionAdd, name, g, false)
}

// UpdateGraph replaces the named graph with the mutated form of g.
func (s *Store) UpdateGraph(name string, g *rdf.Graph) error {
	if err := storage.ValidateGraphName(name); err != nil {
		return err
	}
	sess, err := s.LockWrite()
	if err != nil {
		return err
	}
	defer sess.release()
	if err := sess.tx.DeleteGraph(name); err != nil {
		return err
	}
	return s.write(sess, actionUpdate, name, g, true)
}

// AddGraphStream parses r as mediaType and adds the result.
func (s *Store) AddGraphStream(name string, r io.Reader, mediaType string) error {
	return s.stream(name, r, mediaType, false)
}

// UpdateGraphStream parses r as mediaType and replaces the named graph with it.
// The previous content is untouched when parsing fails.
func (s *Store) UpdateGraphStream(name string, r io.Reader, mediaType string) error {
	return s.stream(name, r, mediaType, true)
}

func (s *Store) stream(name string, r io.Reader, mediaType string, update bool) error {
	if !rdf.IsSupported(mediaType) {
		return fmt.Errorf("%w: %s", rdf.ErrUnsupportedFormat, mediaType)
	}
	if err := storage.ValidateGraphName(name); err != nil {
		return err
	}
	sess, err := s.LockWrite()
	if err != nil {
		return err
	}
	defer sess.release()

	g, err := rdf.ParseGraph(r, mediaType)
	if err != nil {
		if aerr := sess.Abort(); aerr != nil {
			s.log.Warn("abort after parse failure", "graph", name, "error", aerr)
		}
		return err
	}
	if update {
		if err := sess.tx.DeleteGraph(name); err != nil {
			return err
		}
		return s.write(sess, actionUpdate, name, g, true)
	}
	return s.write(sess, actionAdd, name, g, false)
}

// write runs the pipeline inside an open write session and commits it.
func (s *Store) write(sess *Session, act action, name string, g *rdf.Graph, update bool) error {
	if g == nil {
		g = rdf.NewGraph()
	}
	for _, m := range s.Mutators() {
		m.Mutate(g)
	}

	view, err := s.indexView(sess, name, g, update)
	if err != nil {
		return err
	}

	var indexErrs []error
	for _, ix := range s.Indexers() {
		var err error
		if update {
			err = ix.UpdateGraph(name, view)
		} else {
			err = ix.AddGraph(name, view)
		}
		if err != nil {
			s.log.Error("indexer failed", "graph", name, "action", act, "error", err)
			indexErrs = append(indexErrs, err)
		}
	}

	if err := sess.tx.AddGraph(name, g); err != nil {
		return err
	}
	if err := sess.Unlock(); err != nil {
		return err
	}
	s.log.Debug("graph written", "graph", name, "action", act, "triples", g.Len())
	s.audit.record(act, name, g)
	return errors.Join(indexErrs...)
}

// indexView is the graph indexers see. An add merges into the stored graph,
// and indexers key documents by (entity, graph), so they get the merged
// content to keep fields from earlier adds. The default graph may read as the
// union, so it is indexed from the incoming triples only.
func (s *Store) indexView(sess *Session, name string, g *rdf.Graph, update bool) (*rdf.Graph, error) {
	if update || name == rdf.DefaultGraph {
		return g, nil
	}
	existing, err := sess.tx.Graph(name)
	if err != nil {
		return nil, err
	}
	if existing.IsEmpty() {
		return g, nil
	}
	existing.AddAll(g)
	return existing, nil
}

// DeleteGraph removes the named graph and its index documents.
func (s *Store) DeleteGraph(name string) error {
	if err := storage.ValidateGraphName(name); err != nil {
		return err
	}
	sess, err := s.LockWrite()
	if err != nil {
		return err
	}
	defer sess.release()

	var indexErrs []error
	for _, ix := range s.Indexers() {
		if err := ix.DeleteGraph(name); err != nil {
			s.log.Error("indexer failed", "graph", name, "action", actionDelete, "error", err)
			indexErrs = append(indexErrs, err)
		}
	}
	if err := sess.tx.DeleteGraph(name); err != nil {
		return err
	}
	if err := sess.Unlock(); err != nil {
		return err
	}
	s.log.Debug("graph deleted", "graph", name)
	s.audit.record(actionDelete, name, nil)
	return errors.Join(indexErrs...)
}

// StartBatch opens a batch on every indexer.
func (s *Store) StartBatch() {
	for _, ix := range s.Indexers() {
		ix.StartBatch()
	}
}

// EndBatch closes the batch on every indexer.
func (s *Store) EndBatch() error {
	var errs []error
	for _, ix := range s.Indexers() {
		if err := ix.EndBatch(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes the engine. Indexers are owned by the caller.
func (s *Store) Close() error {
	return s.engine.Close()
}
