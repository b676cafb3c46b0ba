// Package store implements the badger/v4-backed reference persistence
// layer. The core's SQL store and its migrations are an external
// collaborator out of scope here (spec §1); this package exists so the
// rest of the module — pairing, sync, appointment prep, the coherence
// and timeline loaders — has something runnable to persist against, with
// every entity value encrypted at rest.
package store

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config configures a DB's on-disk (or in-memory) behavior.
type Config struct {
	InMemory     bool
	Path       string
	SyncWrites    bool
	NumVersionsToKeep int
	GCInterval    time.Duration
}

// DefaultConfig is the persistent-mode configuration: synchronous writes,
// single-version values, and periodic value-log GC.
func DefaultConfig() Config {
	return Config{
		InMemory:     false,
		SyncWrites:    true,
		NumVersionsToKeep: 1,
		GCInterval:    5 * time.Minute,
	}
}

// InMemoryConfig is the in-memory configuration used by tests: no disk
// sync overhead, GC disabled (there is no value log to reclaim).
func InMemoryConfig() Config {
	return Config{
		InMemory:  true,
		SyncWrites: false,
		GCInterval: 0,
	}
}

// DB wraps a *badger.DB with context-aware transaction helpers.
type DB struct {
	badger *badger.DB
}

// Open opens a database per cfg. Persistent mode requires a non-empty Path.
func Open(cfg Config) (*badger.DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("store: path is required for a persistent database")
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts = opts.WithInMemory(cfg.InMemory)
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithLogger(nil)
	if cfg.NumVersionsToKeep > 0 {
		opts = opts.WithNumVersionsToKeep(cfg.NumVersionsToKeep)
	}

	return badger.Open(opts)
}

// OpenDB opens a database per cfg and wraps it in the managed DB type.
func OpenDB(cfg Config) (*DB, error) {
	bdb, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	return &DB{badger: bdb}, nil
}

// OpenInMemory opens a managed, in-memory database, for tests.
func OpenInMemory() (*DB, error) {
	return OpenDB(InMemoryConfig())
}

// OpenWithPath opens a managed, persistent database rooted at path.
func OpenWithPath(path string) (*DB, error) {
	cfg := DefaultConfig()
	cfg.Path = path
	return OpenDB(cfg)
}

// Close releases the underlying badger handles.
func (db *DB) Close() error {
	return db.badger.Close()
}

// Update runs fn in a read-write transaction, committing on success.
func (db *DB) Update(fn func(txn *badger.Txn) error) error {
	return db.badger.Update(fn)
}

// View runs fn in a read-only transaction.
func (db *DB) View(fn func(txn *badger.Txn) error) error {
	return db.badger.View(fn)
}

// WithTxn runs fn in a read-write transaction, aborting early if ctx is
// already done. Badger itself has no native per-call context support; this
// is the cooperative check the rest of the module relies on before every
// write (spec §5's "only non-blocking socket I/O on the reactor" model
// depends on writes failing fast rather than blocking on a cancelled
// caller).
func (db *DB) WithTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("store: context cancelled: %w", err)
	}
	return db.badger.Update(fn)
}

// WithReadTxn runs fn in a read-only transaction, aborting early if ctx is
// already done.
func (db *DB) WithReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("store: context cancelled: %w", err)
	}
	return db.badger.View(fn)
}

// GCRunner periodically invokes badger's value-log garbage collection.
type GCRunner struct {
	db    *DB
	interval time.Duration
	ratio  float64
	onError func(error)
	stop   chan struct{}
	done   chan struct{}
}

// NewGCRunner validates its parameters and builds a stopped GCRunner.
// onError may be nil; it receives every non-ErrNoRewrite error from a GC
// pass.
func NewGCRunner(db *DB, interval time.Duration, ratio float64, onError func(error)) (*GCRunner, error) {
	if db == nil {
		return nil, fmt.Errorf("store: db must not be nil")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("store: interval must be positive")
	}
	if ratio <= 0 || ratio > 1 {
		return nil, fmt.Errorf("store: ratio must be between 0 and 1")
	}
	return &GCRunner{db: db, interval: interval, ratio: ratio, onError: onError}, nil
}

// Start launches the GC loop on its own goroutine.
func (r *GCRunner) Start() {
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.loop()
}

// Stop halts the GC loop and waits for it to exit.
func (r *GCRunner) Stop() {
	if r.stop == nil {
		return
	}
	close(r.stop)
	<-r.done
}

func (r *GCRunner) loop() {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			for {
				err := r.db.badger.RunValueLogGC(r.ratio)
				if err != nil {
					if err != badger.ErrNoRewrite && r.onError != nil {
						r.onError(err)
					}
					break
				}
			}
		}
	}
}

// TempDir creates a fresh temporary directory for a persistent-mode test
// database, named with prefix.
func TempDir(prefix string) (string, error) {
	return os.MkdirTemp("", prefix)
}

// CleanupDir removes a directory created by TempDir. A blank path is a
// no-op, matching the teardown-guard idiom used everywhere a test may
// call this before its TempDir call ever ran.
func CleanupDir(path string) error {
	if path == "" {
		return nil
	}
	return os.RemoveAll(path)
}
