// Package collection implements C5: the in-memory document map, its
// serialized write queue, TTL sweeper, operation API, event emission,
// and open/close/flush lifecycle for a single named collection.
package collection

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/kartikbazzad/docstore/internal/checkpoint"
	"github.com/kartikbazzad/docstore/internal/config"
	"github.com/kartikbazzad/docstore/internal/document"
	docerrors "github.com/kartikbazzad/docstore/internal/errors"
	"github.com/kartikbazzad/docstore/internal/idgen"
	"github.com/kartikbazzad/docstore/internal/index"
	"github.com/kartikbazzad/docstore/internal/logger"
	"github.com/kartikbazzad/docstore/internal/storage"
	"github.com/kartikbazzad/docstore/internal/wal"
)

// Stats is a point-in-time snapshot of a collection's counters and
// sizes, returned by Stats().
type Stats struct {
	Name           string
	DocumentCount  int
	Inserts        int64
	Updates        int64
	Removes        int64
	Clears         int64
	WALBytes       int64
	LastCheckpoint string
	WALErrors      map[docerrors.ErrorCategory]uint64
	WALCritical    []wal.CriticalAlert
}

// Collection is one named, durable document map.
type Collection struct {
	name string
	dir  string

	cfg    *config.Config
	logger *logger.Logger
	idGen  func() string

	docsMu sync.RWMutex
	docs   map[string]document.Doc

	indexes   *index.Manager
	observers *observerRegistry
	queue     *writeQueue

	walWriter     *wal.Writer
	walPath       string
	checkpointMgr *checkpoint.Manager
	dirLock       *storage.DirLock

	stateMu sync.Mutex
	state   State

	checkpointMu              sync.Mutex
	walEntriesSinceCheckpoint int
	lastCheckpointTs          string
	pendingTxnBlocks          int

	statsMu sync.Mutex
	inserts, updates, removes, clears int64

	closeOnce sync.Once
	closeErr  error
}

// Open creates or opens the collection named name under dbDir: it loads
// the newest valid checkpoint, replays the WAL tail after that
// checkpoint's timestamp, rebuilds indexes, removes TTL-expired
// documents, and starts the write queue. Background timers (checkpoint
// ticks, TTL sweeps) are driven externally by the database root; Open
// itself does not start any goroutine beyond the write queue consumer.
func Open(dbDir, name string, cfg *config.Config, log *logger.Logger) (*Collection, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	cfg.ApplyDefaults()

	dir := filepath.Join(dbDir, name)
	walPath := filepath.Join(dir, "wal_"+name+".log")
	checkpointDir := filepath.Join(dir, "_checkpoints")

	if log == nil {
		log = logger.Default()
	}
	log = log.Named(name)

	c := &Collection{
		name:          name,
		dir:           dir,
		cfg:           cfg,
		logger:        log,
		idGen:         idgen.New,
		docs:          map[string]document.Doc{},
		indexes:       index.NewManager(),
		observers:     newObserverRegistry(),
		walPath:       walPath,
		checkpointMgr: checkpoint.NewManager(checkpointDir, name, cfg.Checkpoint.MaxSegmentSizeBytes, cfg.Checkpoint.CheckpointsToKeep, log),
		state:         StateInitializing,
	}
	if cfg.IDGenerator != nil {
		c.idGen = cfg.IDGenerator
	}

	if err := storage.EnsureDir(dir); err != nil {
		c.state = StateFailed
		return nil, fmt.Errorf("collection %s: create directory: %w", name, err)
	}

	lock, err := storage.AcquireDirLock(dir)
	if err != nil {
		c.state = StateFailed
		return nil, fmt.Errorf("collection %s: acquire directory lock: %w", name, err)
	}
	c.dirLock = lock

	c.walWriter = wal.NewWriter(walPath, cfg.WAL, log)

	if err := c.recover(); err != nil {
		c.state = StateFailed
		c.dirLock.Release()
		return nil, fmt.Errorf("collection %s: recover: %w", name, err)
	}

	c.queue = newWriteQueue(1024)
	c.queue.start()

	c.stateMu.Lock()
	c.state = StateOpen
	c.stateMu.Unlock()

	return c, nil
}

// recover loads the newest valid checkpoint (if any), replays the WAL
// tail after its timestamp, rebuilds indexes from the resulting
// document set, and prunes TTL-expired documents, so recovered state
// equals the checkpoint plus the replayed tail, minus expired
// documents.
func (c *Collection) recover() error {
	loaded, err := c.checkpointMgr.Load()
	if err != nil {
		return err
	}

	c.docsMu.Lock()
	c.docs = map[string]document.Doc{}
	for _, d := range loaded.Docs {
		c.docs[d.ID()] = d
	}
	c.docsMu.Unlock()

	for _, im := range loaded.Indexes {
		if err := c.indexes.CreateIndex(im.FieldName, im.Type == "unique", loaded.Docs); err != nil {
			c.logger.Warn("collection %s: failed to restore index %s: %v", c.name, im.FieldName, err)
		}
	}
	c.lastCheckpointTs = loaded.Timestamp

	reader := wal.NewReader(c.walPath, false, c.logger)
	entries, err := reader.Read(loaded.Timestamp)
	if err != nil {
		return err
	}

	c.docsMu.Lock()
	for _, e := range entries {
		c.applyRecoveredRecord(e)
	}
	c.pruneExpiredLocked()
	docsSnapshot := c.snapshotDocsLocked()
	c.docsMu.Unlock()

	if err := c.indexes.RebuildAll(docsSnapshot); err != nil {
		c.logger.Warn("collection %s: index rebuild after recovery failed: %v", c.name, err)
	}

	c.walEntriesSinceCheckpoint = len(entries)
	return nil
}

func (c *Collection) snapshotDocsLocked() []document.Doc {
	out := make([]document.Doc, 0, len(c.docs))
	for _, d := range c.docs {
		out = append(out, d)
	}
	return out
}

// Name returns the collection's name.
func (c *Collection) Name() string { return c.name }

// State returns the collection's current lifecycle state.
func (c *Collection) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// On registers a best-effort event listener.
func (c *Collection) On(name EventName, l Listener) {
	c.observers.On(name, l)
}

func (c *Collection) emit(ev Event) {
	c.observers.emit(c.logger.Warn, ev)
}

// now returns the current wall-clock time in UTC; no virtual clock is
// exposed.
func now() time.Time { return time.Now().UTC() }
