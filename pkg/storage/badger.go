package storage

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/crypto/blake2b"

	"github.com/orneryd/graphstore/pkg/config"
	"github.com/orneryd/graphstore/pkg/rdf"
)

// Key prefixes for BadgerDB storage organization
// Using single-byte prefixes for efficiency
const (
	prefixGraph  = byte(0x01) // graph:name -> empty
	prefixTriple = byte(0x02) // triple:name:0x00:blake2b(ntriple) -> encoded triple
)

// BadgerOptions configures a BadgerEngine.
type BadgerOptions struct {
	// DataDir is the dataset directory. Required unless InMemory is set.
	DataDir string

	// InMemory keeps everything in RAM. Used by tests.
	InMemory bool

	// SyncWrites forces an fsync on every commit.
	SyncWrites bool

	// LowMemory shrinks memtables and caches for constrained environments.
	LowMemory bool

	// UnionDefault makes the default graph read as the union of all graphs.
	UnionDefault bool

	Logger *slog.Logger
}

// BadgerEngine is the transactional backend.
//
// Every Tx wraps one badger.Txn. Read transactions read from an MVCC snapshot
// taken at Begin and never block writers; write transactions buffer their
// changes and apply them atomically on Commit, or drop them on Abort.
//
// Key Structure:
//   - Graphs:  0x01 + name -> empty
//   - Triples: 0x02 + name + 0x00 + blake2b-256(N-Triples line) -> rdf.MarshalTriple
//
// Hashing the triple keeps keys short and fixed width no matter how long the
// literal is. The value holds the terms in rdf's binary encoding, which reads
// back any IRI the memory engine accepts.
//
// Example:
//
//	engine, err := storage.NewBadgerEngine(storage.BadgerOptions{DataDir: "./data/dataset"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
type BadgerEngine struct {
	db           *badger.DB
	mu           sync.RWMutex
	closed       bool
	unionDefault bool
	log          *slog.Logger
}

// NewBadgerEngine opens or creates a dataset directory.
//
// Returns config.ErrConfiguration when neither DataDir nor InMemory is set,
// and ErrStorage when BadgerDB cannot be opened.
func NewBadgerEngine(opts BadgerOptions) (*BadgerEngine, error) {
	if opts.DataDir == "" && !opts.InMemory {
		return nil, fmt.Errorf("%w: badger engine requires a location", config.ErrConfiguration)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("engine", "badger")

	dir := opts.DataDir
	if opts.InMemory {
		dir = ""
	}
	badgerOpts := badger.DefaultOptions(dir).
		WithInMemory(opts.InMemory).
		WithSyncWrites(opts.SyncWrites).
		WithLogger(&badgerLogger{log: logger})

	if opts.LowMemory {
		badgerOpts = badgerOpts.
			WithMemTableSize(16 << 20).
			WithValueLogFileSize(64 << 20).
			WithNumMemtables(2).
			WithNumLevelZeroTables(2).
			WithNumLevelZeroTablesStall(4).
			WithBlockCacheSize(32 << 20).
			WithIndexCacheSize(16 << 20)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open BadgerDB: %w", ErrStorage, err)
	}
	logger.Info("opened dataset", "dir", dir, "in_memory", opts.InMemory)

	return &BadgerEngine{
		db:           db,
		unionDefault: opts.UnionDefault,
		log:          logger,
	}, nil
}

// SupportsTransactions is true: Abort discards pending writes.
func (b *BadgerEngine) SupportsTransactions() bool { return true }

// Begin starts a badger transaction. Write transactions are not serialized
// here; the Store holds its own writer mutex so badger never sees two
// concurrent writers from one Store.
func (b *BadgerEngine) Begin(mode TxMode) (Tx, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrStorageClosed
	}
	return newBadgerTx(b, b.db.NewTransaction(mode == ReadWrite), mode), nil
}

// Close closes the underlying BadgerDB.
func (b *BadgerEngine) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("%w: closing BadgerDB: %w", ErrStorage, err)
	}
	return nil
}

func graphKey(name string) []byte {
	return append([]byte{prefixGraph}, name...)
}

func triplePrefix(name string) []byte {
	k := make([]byte, 0, len(name)+2)
	k = append(k, prefixTriple)
	k = append(k, name...)
	return append(k, 0x00)
}

func tripleKey(name string, t rdf.Triple) []byte {
	sum := blake2b.Sum256([]byte(t.Key()))
	return append(triplePrefix(name), sum[:]...)
}

// badgerLogger routes badger's printf-style logging into slog.
type badgerLogger struct {
	log *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
