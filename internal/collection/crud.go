package collection

import (
	"encoding/json"

	"github.com/kartikbazzad/docstore/internal/document"
	docerrors "github.com/kartikbazzad/docstore/internal/errors"
	"github.com/kartikbazzad/docstore/internal/wal"
)

// Insert assigns _id/createdAt/updatedAt if absent, pre-checks unique
// indexes, appends an INSERT record to the WAL, applies it in memory,
// updates indexes, emits "insert", and maybe triggers a checkpoint.
func (c *Collection) Insert(d document.Doc) (document.Doc, error) {
	v, err := c.queue.submit(func() (interface{}, error) {
		return c.insertLocked(d)
	})
	if err != nil {
		return nil, err
	}
	return v.(document.Doc), nil
}

func (c *Collection) insertLocked(d document.Doc) (document.Doc, error) {
	if !c.State().acceptsMutations() {
		return nil, docerrors.ErrCollectionClosed
	}
	stamped := document.StampNew(d, c.idGen)
	if err := c.indexes.CheckUnique(stamped); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(stamped)
	if err != nil {
		return nil, err
	}
	if err := c.walWriter.Append(&wal.Record{Op: wal.OpInsert, Doc: raw, Ts: document.NowISO()}); err != nil {
		return nil, err
	}
	c.bumpWalCount(1)

	c.docsMu.Lock()
	c.applyInsertLocked(stamped)
	c.docsMu.Unlock()
	if err := c.indexes.AfterInsert(stamped); err != nil {
		c.logger.Warn("collection %s: index update after insert failed: %v", c.name, err)
	}

	c.bumpStat(&c.inserts)
	c.emit(Event{Name: EventInsert, New: stamped})
	c.maybeCheckpoint()
	return stamped, nil
}

// InsertMany performs an atomic batch insert: uniqueness is pre-checked
// against memory and within the batch before any WAL write, then the
// batch is split into BATCH_INSERT records of at most
// cfg.Batch.MaxDocsPerBatchWalEntry documents each, all written and
// applied while holding the queue for the whole call.
func (c *Collection) InsertMany(docs []document.Doc) ([]document.Doc, error) {
	v, err := c.queue.submit(func() (interface{}, error) {
		return c.insertManyLocked(docs)
	})
	if err != nil {
		return nil, err
	}
	return v.([]document.Doc), nil
}

func (c *Collection) insertManyLocked(docs []document.Doc) ([]document.Doc, error) {
	if !c.State().acceptsMutations() {
		return nil, docerrors.ErrCollectionClosed
	}

	stamped := make([]document.Doc, len(docs))
	seen := map[string]map[string]string{} // field -> value -> id, for intra-batch collision detection
	for i, d := range docs {
		s := document.StampNew(d, c.idGen)
		stamped[i] = s
		if err := c.indexes.CheckUnique(s); err != nil {
			return nil, err
		}
		if err := c.checkBatchUnique(seen, s); err != nil {
			return nil, err
		}
	}

	batchSize := c.cfg.Batch.MaxDocsPerBatchWalEntry
	if batchSize <= 0 {
		batchSize = len(stamped)
	}
	var records []*wal.Record
	for start := 0; start < len(stamped); start += batchSize {
		end := start + batchSize
		if end > len(stamped) {
			end = len(stamped)
		}
		chunk := stamped[start:end]
		raw, err := json.Marshal(chunk)
		if err != nil {
			return nil, err
		}
		records = append(records, &wal.Record{Op: wal.OpBatchInsert, Docs: raw, Ts: document.NowISO()})
	}
	if err := c.walWriter.AppendBlock(records); err != nil {
		return nil, err
	}
	c.bumpWalCount(len(records))

	c.docsMu.Lock()
	for _, s := range stamped {
		c.applyInsertLocked(s)
	}
	c.docsMu.Unlock()
	for _, s := range stamped {
		if err := c.indexes.AfterInsert(s); err != nil {
			c.logger.Warn("collection %s: index update after batch insert failed: %v", c.name, err)
		}
	}

	c.bumpStatBy(&c.inserts, int64(len(stamped)))
	for _, s := range stamped {
		c.emit(Event{Name: EventInsert, New: s})
	}
	c.maybeCheckpoint()
	return stamped, nil
}

func toStringKey(v interface{}) string {
	raw, _ := json.Marshal(v)
	return string(raw)
}

// Update shallow-merges patch into the existing document, bumping
// updatedAt and refusing changes to _id/createdAt. Returns (nil, nil)
// if id is absent.
func (c *Collection) Update(id string, patch document.Doc) (document.Doc, error) {
	v, err := c.queue.submit(func() (interface{}, error) {
		return c.updateLocked(id, patch)
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.(document.Doc), nil
}

func (c *Collection) updateLocked(id string, patch document.Doc) (document.Doc, error) {
	if !c.State().acceptsMutations() {
		return nil, docerrors.ErrCollectionClosed
	}

	c.docsMu.RLock()
	existing, ok := c.docs[id]
	c.docsMu.RUnlock()
	if !ok {
		return nil, nil
	}

	ts := document.NowISO()
	finalPatch := document.WithUpdatedAt(document.SanitizePatch(patch), ts)

	candidate := document.ApplyPatch(existing, finalPatch)
	if err := c.indexes.CheckUnique(candidate); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(finalPatch)
	if err != nil {
		return nil, err
	}
	if err := c.walWriter.Append(&wal.Record{Op: wal.OpUpdate, ID: id, Data: raw, Ts: ts}); err != nil {
		return nil, err
	}
	c.bumpWalCount(1)

	c.docsMu.Lock()
	merged, ok := c.applyUpdateLocked(id, finalPatch)
	c.docsMu.Unlock()
	if !ok {
		// The document vanished between the pre-check and the apply.
		// The queue serializes mutations so this should not happen, but
		// if it does the durable UPDATE replays as a harmless no-op and
		// the caller sees not-found, never a success with no document.
		return nil, nil
	}
	if err := c.indexes.AfterUpdate(existing, merged); err != nil {
		c.logger.Warn("collection %s: index update after update failed: %v", c.name, err)
	}

	c.bumpStat(&c.updates)
	c.emit(Event{Name: EventUpdate, New: merged, Old: existing})
	c.maybeCheckpoint()
	return merged, nil
}

// Remove deletes id. Returns false if id was absent.
func (c *Collection) Remove(id string) (bool, error) {
	v, err := c.queue.submit(func() (interface{}, error) {
		return c.removeLocked(id)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (c *Collection) removeLocked(id string) (bool, error) {
	if !c.State().acceptsMutations() {
		return false, docerrors.ErrCollectionClosed
	}

	c.docsMu.RLock()
	_, ok := c.docs[id]
	c.docsMu.RUnlock()
	if !ok {
		return false, nil
	}

	if err := c.walWriter.Append(&wal.Record{Op: wal.OpRemove, ID: id, Ts: document.NowISO()}); err != nil {
		return false, err
	}
	c.bumpWalCount(1)

	c.docsMu.Lock()
	old, _ := c.applyRemoveLocked(id)
	c.docsMu.Unlock()
	c.indexes.AfterRemove(old)

	c.bumpStat(&c.removes)
	c.emit(Event{Name: EventRemove, Old: old})
	c.maybeCheckpoint()
	return true, nil
}

// RemoveMany removes every live document matching predicate, returning
// the count removed.
func (c *Collection) RemoveMany(predicate func(document.Doc) bool) (int, error) {
	v, err := c.queue.submit(func() (interface{}, error) {
		return c.removeManyLocked(predicate)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (c *Collection) removeManyLocked(predicate func(document.Doc) bool) (int, error) {
	if !c.State().acceptsMutations() {
		return 0, docerrors.ErrCollectionClosed
	}

	c.docsMu.RLock()
	var ids []string
	for id, d := range c.docs {
		if c.isAlive(d) && predicate(d) {
			ids = append(ids, id)
		}
	}
	c.docsMu.RUnlock()

	removed := 0
	for _, id := range ids {
		ok, err := c.removeLocked(id)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

// Clear wipes all documents and index buckets, recorded as a single
// CLEAR WAL entry.
func (c *Collection) Clear() error {
	_, err := c.queue.submit(func() (interface{}, error) {
		return nil, c.clearLocked()
	})
	return err
}

func (c *Collection) clearLocked() error {
	if !c.State().acceptsMutations() {
		return docerrors.ErrCollectionClosed
	}
	if err := c.walWriter.Append(&wal.Record{Op: wal.OpClear, Ts: document.NowISO()}); err != nil {
		return err
	}
	c.bumpWalCount(1)

	c.docsMu.Lock()
	c.applyClearLocked()
	c.docsMu.Unlock()
	c.indexes.Clear()

	c.bumpStat(&c.clears)
	c.emit(Event{Name: EventClear})
	c.maybeCheckpoint()
	return nil
}

// UpsertResult reports what Upsert actually did.
type UpsertResult struct {
	Document  document.Doc
	Operation string // "inserted" | "updated"
}

// Upsert finds the first live document matching filter; if found, it is
// updated with data (merged as an UpdateSpec the same way Update would);
// otherwise a new document is inserted from data merged with
// setOnInsert. Recorded as a single atomic WAL entry (either an INSERT
// or an UPDATE record).
func (c *Collection) Upsert(match func(document.Doc) bool, data document.Doc, setOnInsert document.Doc) (UpsertResult, error) {
	v, err := c.queue.submit(func() (interface{}, error) {
		return c.upsertLocked(match, data, setOnInsert)
	})
	if err != nil {
		return UpsertResult{}, err
	}
	return v.(UpsertResult), nil
}

func (c *Collection) upsertLocked(match func(document.Doc) bool, data document.Doc, setOnInsert document.Doc) (UpsertResult, error) {
	if !c.State().acceptsMutations() {
		return UpsertResult{}, docerrors.ErrCollectionClosed
	}

	c.docsMu.RLock()
	var existingID string
	var existing document.Doc
	for id, d := range c.docs {
		if c.isAlive(d) && match(d) {
			existingID = id
			existing = d
			break
		}
	}
	c.docsMu.RUnlock()

	if existing != nil {
		merged, err := c.updateLocked(existingID, data)
		if err != nil {
			return UpsertResult{}, err
		}
		return UpsertResult{Document: merged, Operation: "updated"}, nil
	}

	toInsert := data.Clone()
	for k, v := range setOnInsert {
		if _, present := toInsert[k]; !present {
			toInsert[k] = v
		}
	}
	inserted, err := c.insertLocked(toInsert)
	if err != nil {
		return UpsertResult{}, err
	}
	return UpsertResult{Document: inserted, Operation: "inserted"}, nil
}

func (c *Collection) bumpStat(counter *int64) {
	c.statsMu.Lock()
	*counter++
	c.statsMu.Unlock()
}

func (c *Collection) bumpStatBy(counter *int64, n int64) {
	c.statsMu.Lock()
	*counter += n
	c.statsMu.Unlock()
}
