package collection

import (
	"github.com/kartikbazzad/docstore/internal/document"
)

// isAlive wraps document.IsAlive with the collection's notion of "now".
func (c *Collection) isAlive(d document.Doc) bool {
	return document.IsAlive(d, now())
}

// pruneExpired removes every TTL-expired document from memory and its
// indexes. Runs inside a write-queue task (see TTLSweepTick); never
// call it directly from outside the queue.
func (c *Collection) pruneExpired() int {
	c.docsMu.Lock()
	var expired []document.Doc
	for id, d := range c.docs {
		if !c.isAlive(d) {
			expired = append(expired, d)
			delete(c.docs, id)
		}
	}
	c.docsMu.Unlock()

	for _, d := range expired {
		c.indexes.AfterRemove(d)
	}
	return len(expired)
}

// pruneExpiredLocked is the recovery-time variant: docsMu is already
// held by the caller's broader recovery critical section when this is
// invoked, so it assumes the lock and never removes from indexes
// (indexes are bulk-rebuilt from the post-prune document set right
// after recovery calls this).
func (c *Collection) pruneExpiredLocked() {
	for id, d := range c.docs {
		if !c.isAlive(d) {
			delete(c.docs, id)
		}
	}
}

// TTLSweepTick runs one pass of the background TTL sweeper, invoked
// periodically by the database root's timer dispatcher. The sweep is a
// mutation and goes through the write queue like every other one, so
// it can never interleave with an in-flight update between that
// update's WAL append and its in-memory apply. Returns the number of
// documents removed.
func (c *Collection) TTLSweepTick() int {
	if c.State() != StateOpen {
		return 0
	}
	v, err := c.queue.submit(func() (interface{}, error) {
		return c.pruneExpired(), nil
	})
	if err != nil {
		return 0
	}
	removed := v.(int)
	if removed > 0 {
		c.logger.Debug("collection %s: TTL sweep removed %d documents", c.name, removed)
	}
	return removed
}
