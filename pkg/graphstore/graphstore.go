// Package graphstore assembles a ready-to-use store from configuration.
//
// Open builds the dataset backend, the optional bleve index and one RDFS
// closure per configured ontology, then wires them into a store.Store:
//
//	cfg, _ := config.LoadFromEnvOrFile("graphstore.yaml")
//	db, err := graphstore.Open(cfg, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	err = db.Store().AddGraphStream(name, file, "application/n-quads")
//	results, err := db.Search("label:alice", 0, 10)
//
// The components stay reachable through Store() and Index() for callers that
// need the lower-level API.
package graphstore

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/orneryd/graphstore/pkg/config"
	"github.com/orneryd/graphstore/pkg/index"
	"github.com/orneryd/graphstore/pkg/inference"
	"github.com/orneryd/graphstore/pkg/storage"
	"github.com/orneryd/graphstore/pkg/store"
)

// ErrIndexDisabled is returned by Search when no index is configured.
var ErrIndexDisabled = errors.New("index not enabled")

// DB owns a Store together with the index and mutators built for it.
type DB struct {
	config *config.Config
	store  *store.Store
	index  *index.Index
	log    *slog.Logger

	mu     sync.Mutex
	closed bool
}

// Open validates cfg and builds every component it describes. A nil cfg means
// config.DefaultConfig(); a nil logger means slog.Default().
func Open(cfg *config.Config, logger *slog.Logger) (*DB, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	engine, err := openEngine(cfg.Store, logger)
	if err != nil {
		return nil, err
	}

	db := &DB{
		config: cfg,
		store:  store.New(engine, store.Options{LogDir: cfg.Store.LogDir, Logger: logger}),
		log:    logger,
	}

	if len(cfg.Inference.Ontologies) > 0 {
		closure, err := inference.Load(logger, cfg.Inference.Ontologies...)
		if err != nil {
			db.store.Close()
			return nil, err
		}
		db.store.AddMutator(closure)
	}

	if cfg.Index.Enabled {
		fields, err := index.LoadFieldConfig(cfg.Index.Config)
		if err != nil {
			db.store.Close()
			return nil, err
		}
		idx, err := index.New(index.Options{
			Location:     cfg.Index.Location,
			Fields:       fields,
			CommitWindow: config.ParseCommitWindow(cfg.Index.CommitWindow, logger),
			Logger:       logger,
		})
		if err != nil {
			db.store.Close()
			return nil, err
		}
		db.index = idx
		db.store.AddIndexer(idx)
	}

	logger.Info("graphstore opened", "config", cfg.String())
	return db, nil
}

func openEngine(cfg config.StoreConfig, logger *slog.Logger) (storage.Engine, error) {
	switch cfg.Backend {
	case config.BackendBadger:
		e, err := storage.NewBadgerEngine(storage.BadgerOptions{
			DataDir:      cfg.Location,
			SyncWrites:   cfg.SyncWrites,
			LowMemory:    cfg.LowMemory,
			UnionDefault: cfg.UnionDefault,
			Logger:       logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open persistent storage: %w", err)
		}
		return e, nil
	default:
		return storage.NewMemoryEngine(storage.MemoryOptions{
			UnionDefault: cfg.UnionDefault,
			Logger:       logger,
		}), nil
	}
}

// Store returns the underlying store.
func (db *DB) Store() *store.Store { return db.store }

// Index returns the index, or nil when it is disabled.
func (db *DB) Index() *index.Index { return db.index }

// Config returns the configuration the DB was opened with.
func (db *DB) Config() *config.Config { return db.config }

// Search runs a query string against the index.
func (db *DB) Search(q string, offset, max int) ([]*index.Result, error) {
	if db.index == nil {
		return nil, ErrIndexDisabled
	}
	return db.index.SearchString(q, offset, max)
}

// Close flushes the index and closes the dataset. It is safe to call twice.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true

	var errs []error
	if db.index != nil {
		if err := db.index.Close(); err != nil {
			errs = append(errs, fmt.Errorf("index close: %w", err))
		}
	}
	if err := db.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("storage close: %w", err))
	}
	return errors.Join(errs...)
}
