package store

import (
	"github.com/orneryd/graphstore/pkg/rdf"
	"github.com/orneryd/graphstore/pkg/storage"
)

// Session is a scoped lock on the Store, bound to one backend transaction.
//
// Read sessions see a consistent view of the dataset. Write sessions also
// hold the Store's write mutex until Unlock or Abort.
type Session struct {
	store *Store
	tx    storage.Tx
	write bool
	done  bool
}

// Write reports whether this is a write session.
func (s *Session) Write() bool { return s.write }

// Tx returns the backend transaction.
func (s *Session) Tx() storage.Tx { return s.tx }

// UnionModel returns the union of all named graphs as seen by this session.
func (s *Session) UnionModel() (*rdf.Graph, error) { return s.tx.Union() }

// Graph returns a copy of one named graph.
func (s *Session) Graph(name string) (*rdf.Graph, error) { return s.tx.Graph(name) }

// GraphNames lists the graphs visible to this session.
func (s *Session) GraphNames() ([]string, error) { return s.tx.GraphNames() }

// Unlock ends the session, committing when it is a write session.
func (s *Session) Unlock() error {
	if s.done {
		return storage.ErrTransactionClosed
	}
	s.done = true
	err := s.tx.Commit()
	if s.write {
		s.store.releaseWrite()
	}
	return err
}

// Abort ends the session, discarding writes when the backend supports it.
// On the memory backend writes already made stay in place.
func (s *Session) Abort() error {
	if s.done {
		return storage.ErrTransactionClosed
	}
	s.done = true
	err := s.tx.Abort()
	if s.write {
		s.store.releaseWrite()
	}
	return err
}

// release aborts the session if it is still open. Deferred by the Store's
// write paths so every exit releases the lock.
func (s *Session) release() {
	if s.done {
		return
	}
	if err := s.Abort(); err != nil {
		s.store.log.Warn("releasing session", "error", err)
	}
}
