// Package transaction implements C6: a cross-collection transaction
// coordinator. Operations are buffered in memory per participating
// collection and only written to any WAL once the caller calls Commit;
// commit itself happens in two phases so a mid-commit failure leaves
// already-written collections' WAL blocks durable (recovery applies
// them on the next open) rather than leaving live memory partially
// mutated.
package transaction

import (
	"sync"

	"github.com/google/uuid"

	"github.com/kartikbazzad/docstore/internal/collection"
	"github.com/kartikbazzad/docstore/internal/document"
	docerrors "github.com/kartikbazzad/docstore/internal/errors"
	"github.com/kartikbazzad/docstore/internal/wal"
)

// CollectionResolver opens or returns an already-open collection by
// name, the same lookup the root Database type exposes.
type CollectionResolver interface {
	Collection(name string) (*collection.Collection, error)
}

// Transaction buffers operations against one or more collections until
// Commit or Rollback is called. A Transaction is not safe for
// concurrent use by multiple goroutines.
type Transaction struct {
	id       string
	resolver CollectionResolver

	mu     sync.Mutex
	state  txState
	byColl map[string]*collectionOps
	order  []string // collection names in first-touched order, for deterministic commit
}

type txState int

const (
	txOpen txState = iota
	txCommitted
	txRolledBack
)

type collectionOps struct {
	col *collection.Collection
	ops []collection.TxnOp
}

// New creates a transaction that resolves collections through resolver.
func New(resolver CollectionResolver) *Transaction {
	return &Transaction{
		id:       uuid.NewString(),
		resolver: resolver,
		byColl:   map[string]*collectionOps{},
	}
}

// ID returns this transaction's id, the same id stamped onto every
// document it touches via _txn.
func (t *Transaction) ID() string { return t.id }

// Collection returns a handle scoping Insert/Update/Remove calls to the
// named collection within this transaction.
func (t *Transaction) Collection(name string) (*CollectionHandle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != txOpen {
		return nil, docerrors.ErrTransactionClosed
	}
	col, err := t.resolver.Collection(name)
	if err != nil {
		return nil, err
	}
	if _, ok := t.byColl[name]; !ok {
		t.byColl[name] = &collectionOps{col: col}
		t.order = append(t.order, name)
	}
	return &CollectionHandle{tx: t, name: name}, nil
}

func (t *Transaction) addOp(name string, op collection.TxnOp) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != txOpen {
		return docerrors.ErrTransactionClosed
	}
	entry, ok := t.byColl[name]
	if !ok {
		return docerrors.ErrCollectionNotFound
	}
	entry.ops = append(entry.ops, op)
	return nil
}

// CollectionHandle is a transaction-scoped proxy for one collection,
// buffering calls instead of executing them immediately.
type CollectionHandle struct {
	tx   *Transaction
	name string
}

// Insert buffers an insert of d.
func (h *CollectionHandle) Insert(d document.Doc) error {
	return h.tx.addOp(h.name, collection.TxnOp{Kind: wal.OpInsert, Doc: d})
}

// InsertMany buffers a batch insert of docs.
func (h *CollectionHandle) InsertMany(docs []document.Doc) error {
	return h.tx.addOp(h.name, collection.TxnOp{Kind: wal.OpBatchInsert, Docs: docs})
}

// Update buffers a patch update of id.
func (h *CollectionHandle) Update(id string, patch document.Doc) error {
	return h.tx.addOp(h.name, collection.TxnOp{Kind: wal.OpUpdate, ID: id, Data: patch})
}

// Remove buffers a removal of id.
func (h *CollectionHandle) Remove(id string) error {
	return h.tx.addOp(h.name, collection.TxnOp{Kind: wal.OpRemove, ID: id})
}

// Clear buffers a clear of the whole collection.
func (h *CollectionHandle) Clear() error {
	return h.tx.addOp(h.name, collection.TxnOp{Kind: wal.OpClear})
}

// Commit performs the two-phase cross-collection commit: every touched
// collection's start/op.../commit WAL block is written first (step 2);
// only once every block is durable are the buffered ops applied to
// live memory (step 3). If step 2 fails partway, collections already
// written keep their durable-but-unapplied WAL block — harmless, since
// the next recovery of that collection replays and applies it; nothing
// already committed to memory is rolled back.
func (t *Transaction) Commit() error {
	t.mu.Lock()
	if t.state != txOpen {
		t.mu.Unlock()
		return docerrors.ErrTransactionClosed
	}
	t.state = txCommitted
	order := append([]string(nil), t.order...)
	byColl := t.byColl
	t.mu.Unlock()

	type written struct {
		col *collection.Collection
		ops []collection.TxnOp
	}
	done := make([]written, 0, len(order))

	for _, name := range order {
		entry := byColl[name]
		if len(entry.ops) == 0 {
			continue
		}
		stamped, err := entry.col.WriteTxnBlock(t.id, entry.ops)
		if err != nil {
			return docerrors.ErrTransactionAborted
		}
		done = append(done, written{col: entry.col, ops: stamped})
	}

	for _, w := range done {
		if err := w.col.ApplyStampedTxnOps(t.id, w.ops); err != nil {
			// The WAL block for this collection is already durable; a
			// failure here only delays visibility until the next
			// recovery replays it, per the package doc above.
			continue
		}
	}
	return nil
}

// Rollback discards every buffered operation without writing anything
// to any WAL or touching live memory.
func (t *Transaction) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != txOpen {
		return docerrors.ErrTransactionClosed
	}
	t.state = txRolledBack
	t.byColl = map[string]*collectionOps{}
	t.order = nil
	return nil
}
