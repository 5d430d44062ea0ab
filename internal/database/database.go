// Package database implements the engine's root type: lazy per-name
// collection management plus the shared background timer pool that
// drives every open collection's periodic checkpoint and TTL sweep.
package database

import (
	"fmt"
	"sync"
	"time"

	"github.com/kartikbazzad/docstore/internal/collection"
	"github.com/kartikbazzad/docstore/internal/config"
	docerrors "github.com/kartikbazzad/docstore/internal/errors"
	"github.com/kartikbazzad/docstore/internal/logger"
	"github.com/kartikbazzad/docstore/internal/pool"
	"github.com/kartikbazzad/docstore/internal/transaction"
)

// Database is the top-level handle for a directory of collections. A
// collection is opened lazily, on first Collection() call, and kept
// open until Close(); there is no separate "create" step.
type Database struct {
	dir    string
	cfg    *config.Config
	logger *logger.Logger

	bgPool *pool.Pool
	sched  *pool.Scheduler

	mu      sync.Mutex
	cols    map[string]*collection.Collection
	closed  bool
}

// Options configures Open.
type Options struct {
	Config *config.Config
	Logger *logger.Logger

	// BackgroundWorkers sizes the shared ants pool driving every
	// collection's periodic checkpoint/TTL ticks (default 4).
	BackgroundWorkers int
}

// Open prepares a Database rooted at dir. It does not open any
// collection yet; those are created/opened lazily via Collection.
func Open(dir string, opts Options) (*Database, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	cfg.ApplyDefaults()

	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}

	workers := opts.BackgroundWorkers
	if workers <= 0 {
		workers = 4
	}
	bgPool, err := pool.New(workers, log)
	if err != nil {
		return nil, fmt.Errorf("database: starting background pool: %w", err)
	}

	db := &Database{
		dir:    dir,
		cfg:    cfg,
		logger: log,
		bgPool: bgPool,
		sched:  pool.NewScheduler(bgPool),
		cols:   map[string]*collection.Collection{},
	}
	return db, nil
}

// Collection returns the named collection, opening it from disk (or
// creating it fresh) on first access, and registering its periodic
// checkpoint/TTL jobs with the shared background scheduler.
func (db *Database) Collection(name string) (*collection.Collection, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, docerrors.ErrDatabaseClosed
	}
	if c, ok := db.cols[name]; ok {
		return c, nil
	}

	c, err := collection.Open(db.dir, name, db.cfg, db.logger)
	if err != nil {
		return nil, err
	}
	db.cols[name] = c

	if interval := db.cfg.CheckpointInterval(); interval > 0 {
		db.sched.Register(name, interval, pool.Job{Name: "checkpoint", Run: c.PeriodicCheckpointTick})
	}
	db.sched.Register(name, db.cfg.TTLCleanupInterval(), pool.Job{Name: "ttl-sweep", Run: func() { c.TTLSweepTick() }})

	return c, nil
}

// Collections lists the names of every collection opened so far in
// this process (collections never opened are not reported, even if
// their files exist on disk).
func (db *Database) Collections() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]string, 0, len(db.cols))
	for name := range db.cols {
		out = append(out, name)
	}
	return out
}

// CloseCollection flushes and closes a single collection, unregistering
// it from the background scheduler. Safe to call even if the
// collection was never opened.
func (db *Database) CloseCollection(name string) error {
	db.mu.Lock()
	c, ok := db.cols[name]
	if ok {
		delete(db.cols, name)
	}
	db.mu.Unlock()
	if !ok {
		return nil
	}
	db.sched.Unregister(name)
	return c.Close()
}

// Begin starts a new cross-collection transaction scoped to this
// database.
func (db *Database) Begin() *transaction.Transaction {
	return transaction.New(db)
}

// Close stops the background scheduler and pool first, so no in-flight
// checkpoint/TTL tick races a collection's own Close, then closes every
// open collection (each performing its own final checkpoint).
func (db *Database) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	cols := make([]*collection.Collection, 0, len(db.cols))
	for _, c := range db.cols {
		cols = append(cols, c)
	}
	db.cols = map[string]*collection.Collection{}
	db.mu.Unlock()

	db.sched.Stop()
	db.bgPool.Stop(10 * time.Second)

	var firstErr error
	for _, c := range cols {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stats aggregates each open collection's point-in-time stats, keyed by
// name.
func (db *Database) Stats() map[string]collection.Stats {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make(map[string]collection.Stats, len(db.cols))
	for name, c := range db.cols {
		out[name] = c.Stats()
	}
	return out
}

// PoolStats reports the shared background pool's current utilization.
func (db *Database) PoolStats() pool.Stats {
	return db.bgPool.Stats()
}
