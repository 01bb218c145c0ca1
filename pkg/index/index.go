// Package index maintains a full-text and structured index over the entities
// of stored graphs, backed by bleve.
//
// An entity is any non-blank subject with an rdf:type. Each entity becomes one
// document per graph it appears in, keyed by (uri, graph). Which predicates are
// indexed, and how, is decided by a FieldConfig.
//
// Writes are applied to the bleve index immediately, so searches see them at
// once. Durability is tracked separately by a commit that records a generation
// number inside the index. Commits are coalesced: inside a batch they wait for
// the outermost EndBatch, and with a commit window they are debounced so that a
// burst of writes yields a single commit.
//
// Example:
//
//	fields, _ := index.LoadFieldConfig("index.nq")
//	idx, err := index.New(index.Options{
//		Location:     "./data/index",
//		Fields:       fields,
//		CommitWindow: 2 * time.Second,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer idx.Close()
//
//	results, err := idx.SearchString("label:alice", 0, 10)
//
// ELI12:
//
// Think of a library card catalog. Every time a book arrives the librarian
// writes a card and files it right away, so you can find the book. But the
// librarian only stamps the logbook ("catalog is up to date as of card 57")
// every now and then, because stamping after every single card would waste time.
package index

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/orneryd/graphstore/pkg/config"
	"github.com/orneryd/graphstore/pkg/rdf"
)

// Errors returned by the index.
var (
	ErrIndex          = errors.New("index error")
	ErrIndexClosed    = errors.New("index closed")
	ErrIndexCommit    = errors.New("index commit failed")
	ErrBatchUnderflow = errors.New("EndBatch without matching StartBatch")
	ErrInvalidQuery   = errors.New("invalid query")
)

var commitKey = []byte("_graphstore_commit")

// Options configures an Index.
type Options struct {
	// Location is the index directory. Empty keeps the index in memory.
	Location string

	// Fields decides which predicates are indexed. Required.
	Fields *FieldConfig

	// CommitWindow debounces commits. Zero commits synchronously after every
	// write outside a batch.
	CommitWindow time.Duration

	// QueryCacheSize bounds the parsed query string cache. Zero uses 256.
	QueryCacheSize int

	Logger *slog.Logger
}

// Index is a bleve-backed entity index.
//
// Thread Safety:
//
//	All methods are safe for concurrent use. Writes are serialized; searches
//	run concurrently with each other.
type Index struct {
	opts    Options
	mapping *mapping.IndexMappingImpl
	builder *docBuilder
	queries *queryCache
	log     *slog.Logger

	// mu guards every field below it.
	mu sync.RWMutex

	// writer is opened lazily and dropped when a commit fails.
	writer bleve.Index
	// mem holds the in-memory index for the lifetime of the Index, so that a
	// dropped writer can be reopened without losing documents.
	mem bleve.Index

	generation    uint64
	batchDepth    int
	commitPending bool
	commitErr     error
	timer         *time.Timer
	closed        bool

	// commit persists the generation; replaced in tests.
	commit func(w bleve.Index, generation uint64) error

	commits atomic.Int64
}

// New creates an Index. The underlying bleve index is opened on first use.
func New(opts Options) (*Index, error) {
	if opts.Fields == nil {
		return nil, fmt.Errorf("%w: index requires a field configuration", config.ErrConfiguration)
	}
	if opts.CommitWindow < 0 {
		return nil, fmt.Errorf("%w: negative commit window %s", config.ErrConfiguration, opts.CommitWindow)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts.Fields.prepare()

	im := newMapping()
	return &Index{
		opts:    opts,
		mapping: im,
		builder: &docBuilder{
			fields:  opts.Fields,
			keyword: im.AnalyzerNamed(keyword.Name),
			text:    im.AnalyzerNamed(standard.Name),
		},
		queries: newQueryCache(opts.QueryCacheSize),
		log:     logger.With("component", "index"),
		commit:  writeGeneration,
	}, nil
}

func newMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	im.DefaultAnalyzer = standard.Name
	im.DefaultField = FieldLabel

	exact := bleve.NewTextFieldMapping()
	exact.Analyzer = keyword.Name
	exact.Store = true
	im.DefaultMapping.AddFieldMappingsAt(FieldURI, exact)
	im.DefaultMapping.AddFieldMappingsAt(FieldGraph, exact)

	label := bleve.NewTextFieldMapping()
	label.Analyzer = standard.Name
	label.Store = false
	im.DefaultMapping.AddFieldMappingsAt(FieldLabel, label)
	return im
}

func writeGeneration(w bleve.Index, generation uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, generation)
	return w.SetInternal(commitKey, buf)
}

// writerLocked returns the open writer, opening it if needed. mu must be held
// for writing.
func (x *Index) writerLocked() (bleve.Index, error) {
	if x.closed {
		return nil, ErrIndexClosed
	}
	if x.writer != nil {
		return x.writer, nil
	}

	var (
		w   bleve.Index
		err error
	)
	switch {
	case x.opts.Location == "":
		if x.mem == nil {
			x.mem, err = bleve.NewMemOnly(x.mapping)
			if err != nil {
				return nil, fmt.Errorf("%w: creating in-memory index: %w", ErrIndex, err)
			}
		}
		w = x.mem
	default:
		w, err = bleve.Open(x.opts.Location)
		if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) || errors.Is(err, os.ErrNotExist) {
			w, err = bleve.New(x.opts.Location, x.mapping)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: opening index %s: %w", ErrIndex, x.opts.Location, err)
		}
	}

	if raw, err := w.GetInternal(commitKey); err == nil && len(raw) == 8 {
		x.generation = binary.BigEndian.Uint64(raw)
	}
	x.writer = w
	x.log.Debug("index writer opened", "location", x.opts.Location, "generation", x.generation)
	return w, nil
}

// dropWriterLocked closes the writer. The in-memory index stays alive.
func (x *Index) dropWriterLocked() {
	if x.writer == nil {
		return
	}
	if x.writer != x.mem {
		if err := x.writer.Close(); err != nil {
			x.log.Warn("closing index writer", "error", err)
		}
	}
	x.writer = nil
}

// AddGraph indexes every entity of g under graph name. Documents are keyed by
// (entity, graph), so an entity already indexed in that graph is replaced by
// one built from g alone. Callers adding to an existing graph pass the merged
// graph, as the Store does.
func (x *Index) AddGraph(name string, g *rdf.Graph) error {
	return x.write(func(w bleve.Index, b *bleve.Batch) error {
		for _, e := range entities(g) {
			if err := b.IndexAdvanced(x.builder.build(name, g, e)); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateGraph indexes the entities of g, first removing every existing
// document for each entity's URI in any graph.
func (x *Index) UpdateGraph(name string, g *rdf.Graph) error {
	return x.write(func(w bleve.Index, b *bleve.Batch) error {
		for _, e := range entities(g) {
			ids, err := matchingIDs(w, FieldURI, e.Value)
			if err != nil {
				return err
			}
			for _, id := range ids {
				b.Delete(id)
			}
			if err := b.IndexAdvanced(x.builder.build(name, g, e)); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteGraph removes every document indexed under graph name.
func (x *Index) DeleteGraph(name string) error {
	return x.write(func(w bleve.Index, b *bleve.Batch) error {
		ids, err := matchingIDs(w, FieldGraph, name)
		if err != nil {
			return err
		}
		for _, id := range ids {
			b.Delete(id)
		}
		return nil
	})
}

// matchingIDs returns the IDs of all documents whose exact field equals value.
func matchingIDs(w bleve.Index, field, value string) ([]string, error) {
	count, err := w.DocCount()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	q := bleve.NewTermQuery(value)
	q.SetField(field)
	req := bleve.NewSearchRequestOptions(q, int(count), 0, false)
	res, err := w.Search(req)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// write runs fill against a fresh batch, applies it and requests a commit. A
// commit failure left by an earlier timer is reported here too.
func (x *Index) write(fill func(w bleve.Index, b *bleve.Batch) error) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	pending := x.commitErr
	x.commitErr = nil

	w, err := x.writerLocked()
	if err != nil {
		return errors.Join(pending, err)
	}
	b := w.NewBatch()
	if err := fill(w, b); err != nil {
		return errors.Join(pending, fmt.Errorf("%w: %w", ErrIndex, err))
	}
	if b.Size() > 0 {
		if err := w.Batch(b); err != nil {
			return errors.Join(pending, fmt.Errorf("%w: applying batch: %w", ErrIndex, err))
		}
	}
	return errors.Join(pending, x.requestCommitLocked())
}

// StartBatch defers commits until the matching EndBatch. Batches nest.
func (x *Index) StartBatch() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.batchDepth++
}

// EndBatch closes a batch. Closing the outermost batch schedules a commit.
func (x *Index) EndBatch() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.batchDepth == 0 {
		return ErrBatchUnderflow
	}
	x.batchDepth--
	if x.batchDepth > 0 {
		return nil
	}
	return x.scheduleCommitLocked()
}

func (x *Index) requestCommitLocked() error {
	if x.batchDepth > 0 {
		return nil
	}
	return x.scheduleCommitLocked()
}

// scheduleCommitLocked commits now when there is no window. Otherwise it arms
// the single shared timer unless a commit is already pending, so the commit
// happens one window after the first request and a steady stream of writes
// still commits once per window.
func (x *Index) scheduleCommitLocked() error {
	if x.opts.CommitWindow == 0 {
		return x.commitLocked()
	}
	if x.commitPending {
		return nil
	}
	x.commitPending = true
	if x.timer == nil {
		x.timer = time.AfterFunc(x.opts.CommitWindow, x.onTimer)
	} else {
		x.timer.Reset(x.opts.CommitWindow)
	}
	return nil
}

func (x *Index) onTimer() {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed || !x.commitPending {
		return
	}
	if x.batchDepth > 0 {
		// the outermost EndBatch reschedules
		x.commitPending = false
		return
	}
	x.commitPending = false
	if err := x.commitLocked(); err != nil {
		x.commitErr = err
	}
}

// commitLocked records the next generation. On failure the writer is closed
// and reopened by the next operation.
func (x *Index) commitLocked() error {
	x.commitPending = false
	w, err := x.writerLocked()
	if err != nil {
		return err
	}
	next := x.generation + 1
	if err := x.commit(w, next); err != nil {
		x.log.Error("index commit failed, closing writer", "generation", next, "error", err)
		x.dropWriterLocked()
		return fmt.Errorf("%w: %w", ErrIndexCommit, err)
	}
	x.generation = next
	x.commits.Add(1)
	x.log.Debug("index committed", "generation", next)
	return nil
}

// Commits returns how many commits have succeeded since New.
func (x *Index) Commits() int64 {
	return x.commits.Load()
}

// Generation returns the last committed generation.
func (x *Index) Generation() uint64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.generation
}

// DocCount returns the number of indexed documents.
func (x *Index) DocCount() (uint64, error) {
	var n uint64
	err := x.read(func(w bleve.Index) error {
		var err error
		n, err = w.DocCount()
		return err
	})
	return n, err
}

// read runs fn with an open writer under the read lock, opening the writer
// first if needed.
func (x *Index) read(fn func(w bleve.Index) error) error {
	x.mu.RLock()
	if x.writer == nil {
		x.mu.RUnlock()
		x.mu.Lock()
		_, err := x.writerLocked()
		x.mu.Unlock()
		if err != nil {
			return err
		}
		x.mu.RLock()
	}
	defer x.mu.RUnlock()
	if x.closed {
		return ErrIndexClosed
	}
	if x.writer == nil {
		return fmt.Errorf("%w: writer closed by a concurrent commit failure", ErrIndex)
	}
	return fn(x.writer)
}

// Close performs any pending commit and closes the index.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil
	}
	if x.timer != nil {
		x.timer.Stop()
	}

	var err error
	if x.commitPending || x.batchDepth > 0 {
		err = x.commitLocked()
	}
	x.dropWriterLocked()
	if x.mem != nil {
		if cerr := x.mem.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		x.mem = nil
	}
	x.closed = true
	return errors.Join(x.commitErr, err)
}

// Search runs a bleve query, returning at most max results from offset.
func (x *Index) Search(q query.Query, offset, max int) ([]*Result, error) {
	if max <= 0 {
		return nil, nil
	}
	req := bleve.NewSearchRequestOptions(q, max, offset, false)
	req.Fields = []string{"*"}

	var out []*Result
	err := x.read(func(w bleve.Index) error {
		res, err := w.Search(req)
		if err != nil {
			return fmt.Errorf("%w: search: %w", ErrIndex, err)
		}
		out = make([]*Result, 0, len(res.Hits))
		for _, hit := range res.Hits {
			out = append(out, newResult(hit))
		}
		return nil
	})
	return out, err
}

// SearchString parses s with bleve's query string syntax and runs it.
// Unqualified terms search the aggregate label field.
func (x *Index) SearchString(s string, offset, max int) ([]*Result, error) {
	q, err := x.queries.parse(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidQuery, s, err)
	}
	return x.Search(q, offset, max)
}

// QueryCacheStats reports how often SearchString reused a parsed query.
func (x *Index) QueryCacheStats() QueryCacheStats {
	return x.queries.stats()
}
