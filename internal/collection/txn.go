package collection

import (
	"encoding/json"

	"github.com/kartikbazzad/docstore/internal/document"
	docerrors "github.com/kartikbazzad/docstore/internal/errors"
	"github.com/kartikbazzad/docstore/internal/index"
	"github.com/kartikbazzad/docstore/internal/wal"
)

// TxnOp is one operation buffered against this collection by a
// cross-collection transaction (C6), recorded as a {txn:"op"} WAL frame
// inside that transaction's start/op.../commit block.
type TxnOp struct {
	Kind wal.Op
	Doc  document.Doc
	Docs []document.Doc
	ID   string
	Data document.Doc
}

// WriteTxnBlock pre-checks uniqueness for every op in ops against the
// collection's current state (and against earlier INSERT ops within the
// same block), then appends one contiguous start/op.../commit WAL block
// for txid. It never touches in-memory state: the transaction
// coordinator calls ApplyStampedTxnOps with the returned, fully-stamped
// ops only after every participating collection's block has been
// durably written.
func (c *Collection) WriteTxnBlock(txid string, ops []TxnOp) ([]TxnOp, error) {
	v, err := c.queue.submit(func() (interface{}, error) {
		return c.writeTxnBlockLocked(txid, ops)
	})
	if err != nil {
		return nil, err
	}
	return v.([]TxnOp), nil
}

func (c *Collection) writeTxnBlockLocked(txid string, ops []TxnOp) ([]TxnOp, error) {
	if !c.State().acceptsMutations() {
		return nil, docerrors.ErrCollectionClosed
	}

	stamped := make([]TxnOp, len(ops))
	seen := map[string]map[string]string{}
	for i, op := range ops {
		so := op
		switch op.Kind {
		case wal.OpInsert:
			so.Doc = document.StampNew(op.Doc, c.idGen)
			if err := c.indexes.CheckUnique(so.Doc); err != nil {
				return nil, err
			}
			if err := c.checkBatchUnique(seen, so.Doc); err != nil {
				return nil, err
			}
		case wal.OpBatchInsert:
			so.Docs = make([]document.Doc, len(op.Docs))
			for j, d := range op.Docs {
				sd := document.StampNew(d, c.idGen)
				if err := c.indexes.CheckUnique(sd); err != nil {
					return nil, err
				}
				if err := c.checkBatchUnique(seen, sd); err != nil {
					return nil, err
				}
				so.Docs[j] = sd
			}
		case wal.OpUpdate:
			c.docsMu.RLock()
			existing, ok := c.docs[op.ID]
			c.docsMu.RUnlock()
			if ok {
				patch := document.WithUpdatedAt(document.SanitizePatch(op.Data), document.NowISO())
				so.Data = patch
				candidate := document.ApplyPatch(existing, patch)
				if err := c.indexes.CheckUnique(candidate); err != nil {
					return nil, err
				}
			}
		}
		stamped[i] = so
	}

	ts := document.NowISO()
	frames := make([]*wal.Record, 0, len(stamped)+2)
	frames = append(frames, &wal.Record{Txn: wal.TxnStart, ID: txid, Ts: ts})
	for _, op := range stamped {
		args, err := marshalTxnArgs(op)
		if err != nil {
			return nil, err
		}
		frames = append(frames, &wal.Record{Txn: wal.TxnOpKind, TxID: txid, Col: c.name, Type: op.Kind, Args: args, Ts: ts})
	}
	commitTs := document.NowISO()
	frames = append(frames, &wal.Record{Txn: wal.TxnCommit, ID: txid, Ts: commitTs})

	if err := c.walWriter.AppendBlock(frames); err != nil {
		return nil, err
	}
	c.checkpointMu.Lock()
	c.walEntriesSinceCheckpoint += len(frames)
	// Checkpoints are held off until this block is applied to memory:
	// a snapshot taken now would miss the block's effects, yet
	// compaction after it would drop the committed block (commit ts
	// before checkpoint ts) and lose the transaction.
	c.pendingTxnBlocks++
	c.checkpointMu.Unlock()
	return stamped, nil
}

func (c *Collection) txnBlockApplied() {
	c.checkpointMu.Lock()
	if c.pendingTxnBlocks > 0 {
		c.pendingTxnBlocks--
	}
	c.checkpointMu.Unlock()
}

// ApplyStampedTxnOps applies ops (already uniqueness-checked and
// WAL-written by WriteTxnBlock) to in-memory state, tagging every
// touched document with _txn = txid. Called by the transaction
// coordinator only after every participating collection's block has
// committed to disk; a failure applying one op is logged and the
// remaining ops still apply — a committed transaction is never rolled
// back.
func (c *Collection) ApplyStampedTxnOps(txid string, ops []TxnOp) error {
	_, err := c.queue.submit(func() (interface{}, error) {
		for _, op := range ops {
			c.applyLiveTxnOp(txid, op)
		}
		c.txnBlockApplied()
		c.maybeCheckpoint()
		return nil, nil
	})
	if err != nil {
		// The queue refused the task (collection closing); the durable
		// block will be applied by replay on the next open, and the
		// skipped final checkpoint leaves it intact in the WAL.
		c.txnBlockApplied()
	}
	return err
}

func (c *Collection) applyLiveTxnOp(txid string, op TxnOp) {
	tag := func(d document.Doc) document.Doc {
		out := d.Clone()
		out[document.FieldTxn] = txid
		return out
	}

	switch op.Kind {
	case wal.OpInsert:
		tagged := tag(op.Doc)
		c.docsMu.Lock()
		c.applyInsertLocked(tagged)
		c.docsMu.Unlock()
		if err := c.indexes.AfterInsert(tagged); err != nil {
			c.logger.Warn("collection %s: index update after txn insert failed: %v", c.name, err)
		}
		c.bumpStat(&c.inserts)
		c.emit(Event{Name: EventInsert, New: tagged})
	case wal.OpBatchInsert:
		for _, d := range op.Docs {
			tagged := tag(d)
			c.docsMu.Lock()
			c.applyInsertLocked(tagged)
			c.docsMu.Unlock()
			if err := c.indexes.AfterInsert(tagged); err != nil {
				c.logger.Warn("collection %s: index update after txn batch insert failed: %v", c.name, err)
			}
			c.bumpStat(&c.inserts)
			c.emit(Event{Name: EventInsert, New: tagged})
		}
	case wal.OpUpdate:
		c.docsMu.Lock()
		existing, existed := c.docs[op.ID]
		merged, ok := c.applyUpdateLocked(op.ID, op.Data)
		if ok {
			tagged := tag(merged)
			c.docs[op.ID] = tagged
			merged = tagged
		}
		c.docsMu.Unlock()
		if !existed || !ok {
			// An update targeting a missing id is a no-op, mirrored
			// identically by WAL replay.
			return
		}
		if err := c.indexes.AfterUpdate(existing, merged); err != nil {
			c.logger.Warn("collection %s: index update after txn update failed: %v", c.name, err)
		}
		c.bumpStat(&c.updates)
		c.emit(Event{Name: EventUpdate, New: merged, Old: existing})
	case wal.OpRemove:
		c.docsMu.Lock()
		old, ok := c.applyRemoveLocked(op.ID)
		c.docsMu.Unlock()
		if ok {
			c.indexes.AfterRemove(old)
			c.bumpStat(&c.removes)
			c.emit(Event{Name: EventRemove, Old: old})
		}
	case wal.OpClear:
		c.docsMu.Lock()
		c.applyClearLocked()
		c.docsMu.Unlock()
		c.indexes.Clear()
		c.bumpStat(&c.clears)
		c.emit(Event{Name: EventClear})
	}
}

// checkBatchUnique detects a unique-index collision between d and any
// document already seen earlier in the same logical batch/transaction
// block (seen is keyed by field then by value, mapping to the first id
// observed), since those siblings are not yet reflected in c.indexes.
func (c *Collection) checkBatchUnique(seen map[string]map[string]string, d document.Doc) error {
	for _, idx := range c.indexes.GetIndexes() {
		if idx.Kind != index.Unique {
			continue
		}
		raw, present := d[idx.Field]
		if !present || raw == nil {
			continue
		}
		key := toStringKey(raw)
		bucket, ok := seen[idx.Field]
		if !ok {
			bucket = map[string]string{}
			seen[idx.Field] = bucket
		}
		if existingID, dup := bucket[key]; dup && existingID != d.ID() {
			return docerrors.NewUniqueConstraint(idx.Field, raw)
		}
		bucket[key] = d.ID()
	}
	return nil
}

func marshalTxnArgs(op TxnOp) (json.RawMessage, error) {
	switch op.Kind {
	case wal.OpInsert:
		return json.Marshal(txnInsertArgs{Doc: op.Doc})
	case wal.OpBatchInsert:
		return json.Marshal(txnBatchInsertArgs{Docs: op.Docs})
	case wal.OpUpdate:
		return json.Marshal(txnUpdateArgs{ID: op.ID, Data: op.Data})
	case wal.OpRemove:
		return json.Marshal(txnRemoveArgs{ID: op.ID})
	default:
		return json.Marshal(struct{}{})
	}
}
