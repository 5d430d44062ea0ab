package collection

import (
	"encoding/json"

	"github.com/kartikbazzad/docstore/internal/document"
	"github.com/kartikbazzad/docstore/internal/wal"
)

// The functions in this file mutate c.docs directly; every caller must
// already hold docsMu for writing. They are shared between the live
// mutation path (called from within a queue task, which also appends to
// WAL first) and WAL replay during recover() (which never re-appends).

func (c *Collection) applyInsertLocked(d document.Doc) {
	c.docs[d.ID()] = d
}

func (c *Collection) applyUpdateLocked(id string, patch document.Doc) (document.Doc, bool) {
	existing, ok := c.docs[id]
	if !ok {
		return nil, false
	}
	merged := document.ApplyPatch(existing, patch)
	c.docs[id] = merged
	return merged, true
}

func (c *Collection) applyRemoveLocked(id string) (document.Doc, bool) {
	existing, ok := c.docs[id]
	if !ok {
		return nil, false
	}
	delete(c.docs, id)
	return existing, true
}

func (c *Collection) applyClearLocked() {
	c.docs = map[string]document.Doc{}
}

// applyRecoveredRecord interprets one WAL-replay record and applies it
// to c.docs, without touching indexes (indexes are rebuilt in bulk once
// after the whole tail is replayed) or emitting events (replay is
// silent; listeners are only for live operations).
func (c *Collection) applyRecoveredRecord(e wal.Emitted) {
	rec := e.Rec
	if rec.Txn == wal.TxnOpKind {
		c.applyRecoveredTxnOp(rec)
		return
	}

	switch rec.Op {
	case wal.OpInsert:
		var d document.Doc
		if err := json.Unmarshal(rec.Doc, &d); err != nil {
			c.logger.Warn("collection %s: corrupt INSERT record skipped: %v", c.name, err)
			return
		}
		c.applyInsertLocked(d)
	case wal.OpBatchInsert:
		var docs []document.Doc
		if err := json.Unmarshal(rec.Docs, &docs); err != nil {
			c.logger.Warn("collection %s: corrupt BATCH_INSERT record skipped: %v", c.name, err)
			return
		}
		for _, d := range docs {
			c.applyInsertLocked(d)
		}
	case wal.OpUpdate:
		var patch document.Doc
		if err := json.Unmarshal(rec.Data, &patch); err != nil {
			c.logger.Warn("collection %s: corrupt UPDATE record skipped: %v", c.name, err)
			return
		}
		c.applyUpdateLocked(rec.ID, patch)
	case wal.OpRemove:
		c.applyRemoveLocked(rec.ID)
	case wal.OpClear:
		c.applyClearLocked()
	}
}

// applyRecoveredTxnOp applies a committed transaction's buffered op
// during replay, tagging the touched document with _txn (the
// transaction id) and _txn_applied_from_wal = true so callers can tell
// a transactionally-recovered write apart from one applied live.
func (c *Collection) applyRecoveredTxnOp(rec *wal.Record) {
	tag := func(d document.Doc) document.Doc {
		out := d.Clone()
		out[document.FieldTxn] = rec.TxID
		out[document.FieldTxnFromWAL] = true
		return out
	}

	switch rec.Type {
	case wal.OpInsert:
		var args txnInsertArgs
		if err := json.Unmarshal(rec.Args, &args); err != nil {
			c.logger.Warn("collection %s: corrupt txn INSERT op skipped: %v", c.name, err)
			return
		}
		c.applyInsertLocked(tag(args.Doc))
	case wal.OpBatchInsert:
		var args txnBatchInsertArgs
		if err := json.Unmarshal(rec.Args, &args); err != nil {
			c.logger.Warn("collection %s: corrupt txn BATCH_INSERT op skipped: %v", c.name, err)
			return
		}
		for _, d := range args.Docs {
			c.applyInsertLocked(tag(d))
		}
	case wal.OpUpdate:
		var args txnUpdateArgs
		if err := json.Unmarshal(rec.Args, &args); err != nil {
			c.logger.Warn("collection %s: corrupt txn UPDATE op skipped: %v", c.name, err)
			return
		}
		if merged, ok := c.applyUpdateLocked(args.ID, args.Data); ok {
			c.docs[args.ID] = tag(merged)
		}
		// A no-op on a missing id during replay is expected and benign:
		// the update silently has no effect.
	case wal.OpRemove:
		var args txnRemoveArgs
		if err := json.Unmarshal(rec.Args, &args); err != nil {
			c.logger.Warn("collection %s: corrupt txn REMOVE op skipped: %v", c.name, err)
			return
		}
		c.applyRemoveLocked(args.ID)
	case wal.OpClear:
		c.applyClearLocked()
	}
}

// txn op argument shapes, matching the wire form marshalTxnArgs in txn.go writes.
type txnInsertArgs struct {
	Doc document.Doc `json:"doc"`
}
type txnBatchInsertArgs struct {
	Docs []document.Doc `json:"docs"`
}
type txnUpdateArgs struct {
	ID   string       `json:"id"`
	Data document.Doc `json:"data"`
}
type txnRemoveArgs struct {
	ID string `json:"id"`
}
