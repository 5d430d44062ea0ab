package collection

import (
	"github.com/kartikbazzad/docstore/internal/checkpoint"
	"github.com/kartikbazzad/docstore/internal/document"
	"github.com/kartikbazzad/docstore/internal/index"
	"github.com/kartikbazzad/docstore/internal/wal"
)

// maybeCheckpoint is called at the tail of every mutation, already
// running inside the write queue's single worker goroutine; it performs
// the checkpoint inline (never via queue.submit, which would deadlock
// against the worker that is currently executing it) when the
// WAL-entry-count trigger has been reached.
func (c *Collection) maybeCheckpoint() {
	c.checkpointMu.Lock()
	trigger := c.walEntriesSinceCheckpoint >= c.cfg.Checkpoint.MaxWALEntriesBeforeCheckpoint
	c.checkpointMu.Unlock()
	if !trigger {
		return
	}
	if err := c.performCheckpoint(); err != nil {
		c.logger.Error("collection %s: checkpoint failed: %v", c.name, err)
	}
}

// performCheckpoint takes a frozen snapshot under the document lock,
// writes it via the checkpoint manager, then compacts the WAL. The
// caller must ensure at most one checkpoint runs at a time: both call
// sites (maybeCheckpoint from within the worker, and the explicit
// queue.submit wrappers below for external callers) satisfy this because
// the write queue admits one task at a time.
func (c *Collection) performCheckpoint() error {
	c.checkpointMu.Lock()
	defer c.checkpointMu.Unlock()

	if c.pendingTxnBlocks > 0 {
		// A committed transaction block is on disk but not yet applied
		// to memory; snapshotting now would lose it to compaction.
		c.logger.Debug("collection %s: checkpoint deferred, %d transaction block(s) awaiting apply", c.name, c.pendingTxnBlocks)
		return nil
	}

	c.docsMu.RLock()
	docs := c.pruneSnapshotForCheckpointLocked()
	c.docsMu.RUnlock()

	var indexesMeta []checkpoint.IndexMeta
	for _, idx := range c.indexes.GetIndexes() {
		kind := "standard"
		if idx.Kind == index.Unique {
			kind = "unique"
		}
		indexesMeta = append(indexesMeta, checkpoint.IndexMeta{FieldName: idx.Field, Type: kind})
	}

	ts, err := c.checkpointMgr.Write(docs, indexesMeta)
	if err != nil {
		return err
	}
	c.lastCheckpointTs = ts
	c.walEntriesSinceCheckpoint = 0

	compactor := wal.NewCompactor(c.walPath, c.logger)
	if err := compactor.Compact(ts); err != nil {
		c.logger.Warn("collection %s: WAL compaction after checkpoint failed: %v", c.name, err)
	}
	return nil
}

// pruneSnapshotForCheckpointLocked returns every live (non-expired)
// document; expired documents are dropped before serialization rather
// than written into segments.
func (c *Collection) pruneSnapshotForCheckpointLocked() []document.Doc {
	out := make([]document.Doc, 0, len(c.docs))
	for _, d := range c.docs {
		if c.isAlive(d) {
			out = append(out, d)
		}
	}
	return out
}

func (c *Collection) bumpWalCount(n int) {
	c.checkpointMu.Lock()
	c.walEntriesSinceCheckpoint += n
	c.checkpointMu.Unlock()
}

// FlushToDisk forces an immediate checkpoint plus WAL compaction,
// regardless of the count/time triggers.
func (c *Collection) FlushToDisk() error {
	_, err := c.queue.submit(func() (interface{}, error) {
		return nil, c.performCheckpoint()
	})
	return err
}

// PeriodicCheckpointTick is invoked by the database root's background
// timer dispatcher; it forces a checkpoint the same way FlushToDisk
// does.
func (c *Collection) PeriodicCheckpointTick() {
	if c.State() != StateOpen {
		return
	}
	if err := c.FlushToDisk(); err != nil {
		c.logger.Error("collection %s: periodic checkpoint failed: %v", c.name, err)
	}
}

// Stats returns a point-in-time snapshot of counters and sizes.
func (c *Collection) Stats() Stats {
	c.docsMu.RLock()
	count := len(c.docs)
	c.docsMu.RUnlock()

	c.statsMu.Lock()
	ins, upd, rem, clr := c.inserts, c.updates, c.removes, c.clears
	c.statsMu.Unlock()

	c.checkpointMu.Lock()
	lastCp := c.lastCheckpointTs
	c.checkpointMu.Unlock()

	return Stats{
		Name:           c.name,
		DocumentCount:  count,
		Inserts:        ins,
		Updates:        upd,
		Removes:        rem,
		Clears:         clr,
		WALBytes:       c.walWriter.Size(),
		LastCheckpoint: lastCp,
		WALErrors:      c.walWriter.ErrorStats(),
		WALCritical:    c.walWriter.CriticalAlerts(),
	}
}
