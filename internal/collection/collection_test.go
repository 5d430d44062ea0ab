package collection

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kartikbazzad/docstore/internal/config"
	"github.com/kartikbazzad/docstore/internal/document"
	docerrors "github.com/kartikbazzad/docstore/internal/errors"
	"github.com/kartikbazzad/docstore/internal/logger"
	"github.com/kartikbazzad/docstore/internal/wal"
)

func testLogger() *logger.Logger {
	return logger.New(io.Discard, logger.LevelError, "[test]")
}

func openTestCollection(t *testing.T, dir, name string, cfg *config.Config) *Collection {
	t.Helper()
	c, err := Open(dir, name, cfg, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestInsertAssignsReservedFields(t *testing.T) {
	dir := t.TempDir()
	c := openTestCollection(t, dir, "users", nil)
	defer c.Close()

	d, err := c.Insert(document.Doc{"name": "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if d.ID() == "" {
		t.Fatal("expected an id to be assigned")
	}
	if _, ok := d[document.FieldCreatedAt]; !ok {
		t.Fatal("expected createdAt stamped")
	}
}

func TestInsertRejectsUniqueViolation(t *testing.T) {
	dir := t.TempDir()
	c := openTestCollection(t, dir, "users", nil)
	defer c.Close()

	if err := c.CreateIndex("email", true); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Insert(document.Doc{"email": "a@x.com"}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Insert(document.Doc{"email": "a@x.com"}); err == nil {
		t.Fatal("expected unique constraint violation")
	}
}

func TestUpdateMergesAndProtectsReservedFields(t *testing.T) {
	dir := t.TempDir()
	c := openTestCollection(t, dir, "users", nil)
	defer c.Close()

	d, err := c.Insert(document.Doc{"name": "alice"})
	if err != nil {
		t.Fatal(err)
	}
	id := d.ID()
	createdAt := d[document.FieldCreatedAt]

	updated, err := c.Update(id, document.Doc{"name": "alicia", document.FieldID: "hacked"})
	if err != nil {
		t.Fatal(err)
	}
	if updated.ID() != id {
		t.Fatalf("expected id preserved, got %v", updated[document.FieldID])
	}
	if updated[document.FieldCreatedAt] != createdAt {
		t.Fatal("expected createdAt preserved across update")
	}
	if updated["name"] != "alicia" {
		t.Fatalf("expected name updated, got %v", updated["name"])
	}
}

func TestUpdateMissingIDReturnsNilNil(t *testing.T) {
	dir := t.TempDir()
	c := openTestCollection(t, dir, "users", nil)
	defer c.Close()

	d, err := c.Update("missing", document.Doc{"name": "x"})
	if err != nil {
		t.Fatal(err)
	}
	if d != nil {
		t.Fatalf("expected nil result for missing id, got %v", d)
	}
}

func TestRemoveAndGetByID(t *testing.T) {
	dir := t.TempDir()
	c := openTestCollection(t, dir, "users", nil)
	defer c.Close()

	d, err := c.Insert(document.Doc{"name": "alice"})
	if err != nil {
		t.Fatal(err)
	}
	ok, err := c.Remove(d.ID())
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected remove to report true")
	}
	if got := c.GetByID(d.ID()); got != nil {
		t.Fatalf("expected document gone, got %v", got)
	}
	ok, err = c.Remove(d.ID())
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected second remove to report false")
	}
}

func TestTTLExpiredDocumentIsInvisible(t *testing.T) {
	dir := t.TempDir()
	c := openTestCollection(t, dir, "sessions", nil)
	defer c.Close()

	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	d, err := c.Insert(document.Doc{"expireAt": past})
	if err != nil {
		t.Fatal(err)
	}
	if got := c.GetByID(d.ID()); got != nil {
		t.Fatal("expected expired document to be invisible immediately after insert")
	}
}

func TestTTLSweepTickRemovesExpiredDocuments(t *testing.T) {
	dir := t.TempDir()
	c := openTestCollection(t, dir, "sessions", nil)
	defer c.Close()

	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	if _, err := c.Insert(document.Doc{"expireAt": past}); err != nil {
		t.Fatal(err)
	}
	removed := c.TTLSweepTick()
	if removed != 1 {
		t.Fatalf("expected 1 document swept, got %d", removed)
	}
}

func TestClosedCollectionRejectsMutations(t *testing.T) {
	dir := t.TempDir()
	c := openTestCollection(t, dir, "users", nil)
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Insert(document.Doc{"name": "late"}); err != docerrors.ErrCollectionClosed {
		t.Fatalf("expected ErrCollectionClosed, got %v", err)
	}
}

func TestTaskQueuedBeforeCloseStillCompletes(t *testing.T) {
	dir := t.TempDir()
	c := openTestCollection(t, dir, "users", nil)

	started := make(chan struct{})
	release := make(chan struct{})
	var sawOpenState bool

	taskDone := make(chan error, 1)
	go func() {
		_, err := c.queue.submit(func() (interface{}, error) {
			close(started)
			<-release
			sawOpenState = c.State().acceptsMutations()
			return nil, nil
		})
		taskDone <- err
	}()
	<-started // the task is now dequeued and running, blocked on release

	closeDone := make(chan error, 1)
	go func() {
		closeDone <- c.Close()
	}()
	// give Close() a chance to reach (and block in) its queue drain
	// while our task is still in flight.
	time.Sleep(20 * time.Millisecond)
	close(release)

	if err := <-taskDone; err != nil {
		t.Fatalf("expected a task accepted before Close() to complete, got %v", err)
	}
	if !sawOpenState {
		t.Fatal("expected a task already running when Close() began to still observe an Open collection, not Closing")
	}
	if err := <-closeDone; err != nil {
		t.Fatal(err)
	}
}

func TestCrashRecoveryReplaysWALAfterCheckpoint(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	c := openTestCollection(t, dir, "users", cfg)

	d1, err := c.Insert(document.Doc{"name": "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.FlushToDisk(); err != nil {
		t.Fatal(err)
	}
	d2, err := c.Insert(document.Doc{"name": "bob"})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	reopened := openTestCollection(t, dir, "users", cfg)
	defer reopened.Close()

	if got := reopened.GetByID(d1.ID()); got == nil || got["name"] != "alice" {
		t.Fatalf("expected checkpointed document recovered, got %v", got)
	}
	if got := reopened.GetByID(d2.ID()); got == nil || got["name"] != "bob" {
		t.Fatalf("expected WAL-tail document recovered, got %v", got)
	}
}

func TestCrashRecoveryTolerantOfCorruptWALTail(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	c := openTestCollection(t, dir, "users", cfg)

	if _, err := c.Insert(document.Doc{"name": "alice"}); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	walPath := filepath.Join(dir, "users", "wal_users.log")
	f, err := os.OpenFile(walPath, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("{this is not valid json\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	reopened := openTestCollection(t, dir, "users", cfg)
	defer reopened.Close()

	docs := reopened.GetAll()
	if len(docs) != 1 {
		t.Fatalf("expected the one valid document to survive corrupt tail, got %d", len(docs))
	}
}

func TestSegmentedCheckpointRetentionKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Checkpoint.CheckpointsToKeep = 1
	c := openTestCollection(t, dir, "users", cfg)
	defer c.Close()

	if _, err := c.Insert(document.Doc{"name": "a"}); err != nil {
		t.Fatal(err)
	}
	if err := c.FlushToDisk(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)
	if _, err := c.Insert(document.Doc{"name": "b"}); err != nil {
		t.Fatal(err)
	}
	if err := c.FlushToDisk(); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "users", "_checkpoints"))
	if err != nil {
		t.Fatal(err)
	}
	metaCount := 0
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".json" && len(e.Name()) > len("checkpoint_meta_") && e.Name()[:len("checkpoint_meta_")] == "checkpoint_meta_" {
			metaCount++
		}
	}
	if metaCount != 1 {
		t.Fatalf("expected exactly 1 retained checkpoint meta file, got %d", metaCount)
	}
}

func TestFilterQueryWithIndexedRange(t *testing.T) {
	dir := t.TempDir()
	c := openTestCollection(t, dir, "users", nil)
	defer c.Close()

	if err := c.CreateIndex("age", false); err != nil {
		t.Fatal(err)
	}
	for _, age := range []float64{10, 20, 30} {
		if _, err := c.Insert(document.Doc{"age": age}); err != nil {
			t.Fatal(err)
		}
	}

	q := FilterQuery(map[string]interface{}{"age": map[string]interface{}{"$gte": float64(20)}})
	docs := c.Find(q, document.Projection{})
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents with age >= 20, got %d", len(docs))
	}
}

func TestUpsertInsertsWhenNoMatch(t *testing.T) {
	dir := t.TempDir()
	c := openTestCollection(t, dir, "users", nil)
	defer c.Close()

	res, err := c.Upsert(func(d document.Doc) bool { return d["email"] == "a@x.com" },
		document.Doc{"email": "a@x.com", "name": "alice"}, document.Doc{"role": "member"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Operation != "inserted" {
		t.Fatalf("expected inserted, got %v", res.Operation)
	}
	if res.Document["role"] != "member" {
		t.Fatalf("expected setOnInsert field applied, got %v", res.Document["role"])
	}
}

func TestUpsertUpdatesWhenMatchFound(t *testing.T) {
	dir := t.TempDir()
	c := openTestCollection(t, dir, "users", nil)
	defer c.Close()

	if _, err := c.Insert(document.Doc{"email": "a@x.com", "name": "alice"}); err != nil {
		t.Fatal(err)
	}
	res, err := c.Upsert(func(d document.Doc) bool { return d["email"] == "a@x.com" },
		document.Doc{"name": "alicia"}, document.Doc{"role": "member"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Operation != "updated" {
		t.Fatalf("expected updated, got %v", res.Operation)
	}
	if res.Document["name"] != "alicia" {
		t.Fatalf("expected name updated, got %v", res.Document["name"])
	}
}

func TestUpdateManyAppliesOperatorPatch(t *testing.T) {
	dir := t.TempDir()
	c := openTestCollection(t, dir, "users", nil)
	defer c.Close()

	for i := 0; i < 3; i++ {
		if _, err := c.Insert(document.Doc{"status": "pending"}); err != nil {
			t.Fatal(err)
		}
	}
	spec := document.ParseUpdateSpec(document.Doc{"$set": document.Doc{"status": "active"}})
	res, err := c.UpdateMany(PredicateQuery(func(d document.Doc) bool { return d["status"] == "pending" }), spec)
	if err != nil {
		t.Fatal(err)
	}
	if res.Matched != 3 || res.Modified != 3 {
		t.Fatalf("expected 3 matched and modified, got %+v", res)
	}
}

func TestInsertManyRejectsIntraBatchUniqueCollision(t *testing.T) {
	dir := t.TempDir()
	c := openTestCollection(t, dir, "users", nil)
	defer c.Close()

	if err := c.CreateIndex("email", true); err != nil {
		t.Fatal(err)
	}
	_, err := c.InsertMany([]document.Doc{
		{"email": "dup@x.com"},
		{"email": "dup@x.com"},
	})
	if err == nil {
		t.Fatal("expected intra-batch unique collision to be rejected")
	}
}

func TestClearWipesAllDocuments(t *testing.T) {
	dir := t.TempDir()
	c := openTestCollection(t, dir, "users", nil)
	defer c.Close()

	for i := 0; i < 3; i++ {
		if _, err := c.Insert(document.Doc{"n": i}); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.Clear(); err != nil {
		t.Fatal(err)
	}
	if got := c.GetAll(); len(got) != 0 {
		t.Fatalf("expected empty collection after clear, got %d", len(got))
	}
}

func TestCrossCollectionTransactionBlockWriteThenApply(t *testing.T) {
	dir := t.TempDir()
	users := openTestCollection(t, dir, "users", nil)
	orders := openTestCollection(t, dir, "orders", nil)
	defer users.Close()
	defer orders.Close()

	txid := "tx-1"
	userOps := []TxnOp{{Kind: wal.OpInsert, Doc: document.Doc{"name": "alice"}}}
	stampedUsers, err := users.WriteTxnBlock(txid, userOps)
	if err != nil {
		t.Fatal(err)
	}
	orderOps := []TxnOp{{Kind: wal.OpInsert, Doc: document.Doc{"item": "widget"}}}
	stampedOrders, err := orders.WriteTxnBlock(txid, orderOps)
	if err != nil {
		t.Fatal(err)
	}

	// Before apply, neither collection has the document live yet.
	if len(users.GetAll()) != 0 || len(orders.GetAll()) != 0 {
		t.Fatal("expected no live documents before ApplyStampedTxnOps")
	}

	if err := users.ApplyStampedTxnOps(txid, stampedUsers); err != nil {
		t.Fatal(err)
	}
	if err := orders.ApplyStampedTxnOps(txid, stampedOrders); err != nil {
		t.Fatal(err)
	}

	userDocs := users.GetAll()
	if len(userDocs) != 1 || userDocs[0][document.FieldTxn] != txid {
		t.Fatalf("expected user doc tagged with txid, got %v", userDocs)
	}
	orderDocs := orders.GetAll()
	if len(orderDocs) != 1 || orderDocs[0][document.FieldTxn] != txid {
		t.Fatalf("expected order doc tagged with txid, got %v", orderDocs)
	}
}

func TestTTLEdgeCases(t *testing.T) {
	dir := t.TempDir()
	c := openTestCollection(t, dir, "sessions", nil)
	defer c.Close()

	nowMs := time.Now().UnixMilli()
	past := time.Now().Add(-time.Second).UTC().Format(time.RFC3339)
	docs := []document.Doc{
		{"_id": "a", "expireAt": nowMs - 1},
		{"_id": "b", "ttl": 0, "createdAt": past},
		{"_id": "c", "expireAt": "not-a-date"},
		{"_id": "d"},
	}
	for _, d := range docs {
		if _, err := c.Insert(d); err != nil {
			t.Fatal(err)
		}
	}

	c.TTLSweepTick()
	if got := c.Count(Query{}); got != 2 {
		t.Fatalf("expected 2 survivors (invalid TTL and no TTL), got %d", got)
	}
	if c.GetByID("c") == nil {
		t.Fatal("expected document with unparsable expireAt to survive")
	}
	if c.GetByID("d") == nil {
		t.Fatal("expected document with no TTL fields to survive")
	}
	if c.GetByID("a") != nil || c.GetByID("b") != nil {
		t.Fatal("expected expired documents removed")
	}
}

func TestRecoveryAppliesOpsAroundCorruptLine(t *testing.T) {
	dir := t.TempDir()
	colDir := filepath.Join(dir, "users")
	if err := os.MkdirAll(colDir, 0755); err != nil {
		t.Fatal(err)
	}
	walContent := `{"op":"INSERT","doc":{"_id":"doc1","name":"one"},"ts":"2026-01-01T00:00:01Z"}
{"op":"INSERT","doc":{"_id":"doc2","name":"two"},"ts":"2026-01-01T00:00:02Z"}
not json at all
{"op":"INSERT","doc":{"_id":"doc3","name":"three"},"ts":"2026-01-01T00:00:03Z"}
{"op":"UPDATE","id":"doc1","data":{"name":"X"},"ts":"2026-01-01T00:00:04Z"}
{"op":"REMOVE","id":"doc2","ts":"2026-01-01T00:00:05Z"}
`
	if err := os.WriteFile(filepath.Join(colDir, "wal_users.log"), []byte(walContent), 0644); err != nil {
		t.Fatal(err)
	}

	c := openTestCollection(t, dir, "users", nil)
	defer c.Close()

	if got := c.Count(Query{}); got != 2 {
		t.Fatalf("expected 2 documents after replay, got %d", got)
	}
	if d := c.GetByID("doc1"); d == nil || d["name"] != "X" {
		t.Fatalf("expected doc1 updated to X, got %v", d)
	}
	if d := c.GetByID("doc2"); d != nil {
		t.Fatalf("expected doc2 removed, got %v", d)
	}
	if c.GetByID("doc3") == nil {
		t.Fatal("expected doc3 present after the corrupt line")
	}
}

func TestFailedInsertWritesNoWALEntry(t *testing.T) {
	dir := t.TempDir()
	c := openTestCollection(t, dir, "users", nil)
	defer c.Close()

	if err := c.CreateIndex("email", true); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Insert(document.Doc{"email": "a@x.com"}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Insert(document.Doc{"email": "a@x.com"}); err == nil {
		t.Fatal("expected unique constraint violation")
	}

	raw, err := os.ReadFile(filepath.Join(dir, "users", "wal_users.log"))
	if err != nil {
		t.Fatal(err)
	}
	lines := 0
	for _, l := range strings.Split(string(raw), "\n") {
		if strings.TrimSpace(l) != "" {
			lines++
		}
	}
	if lines != 1 {
		t.Fatalf("expected exactly 1 WAL entry (the successful insert), got %d", lines)
	}
}

func TestRecoveryReplaysCommittedTransactionBlock(t *testing.T) {
	dir := t.TempDir()
	colDir := filepath.Join(dir, "u")
	if err := os.MkdirAll(colDir, 0755); err != nil {
		t.Fatal(err)
	}
	walContent := `{"txn":"start","id":"tx9","ts":"2026-01-01T00:00:00Z"}
{"txn":"op","txid":"tx9","col":"u","type":"INSERT","args":{"doc":{"_id":"1","name":"alice"}},"ts":"2026-01-01T00:00:01Z"}
{"txn":"op","txid":"tx9","col":"u","type":"UPDATE","args":{"id":"acct","data":{"balance":10}},"ts":"2026-01-01T00:00:02Z"}
{"txn":"commit","id":"tx9","ts":"2026-01-01T00:00:03Z"}
`
	if err := os.WriteFile(filepath.Join(colDir, "wal_u.log"), []byte(walContent), 0644); err != nil {
		t.Fatal(err)
	}

	c := openTestCollection(t, dir, "u", nil)
	defer c.Close()

	d := c.GetByID("1")
	if d == nil {
		t.Fatal("expected committed transactional insert replayed on open")
	}
	if d[document.FieldTxn] != "tx9" {
		t.Fatalf("expected _txn tag tx9, got %v", d[document.FieldTxn])
	}
	if d[document.FieldTxnFromWAL] != true {
		t.Fatal("expected replay-applied tag on recovered transactional document")
	}
	// The update on the absent id is a silent no-op during replay.
	if got := c.Count(Query{}); got != 1 {
		t.Fatalf("expected only the inserted document, got %d", got)
	}
}

func TestUncommittedTransactionInvisibleAfterRecovery(t *testing.T) {
	dir := t.TempDir()
	colDir := filepath.Join(dir, "u")
	if err := os.MkdirAll(colDir, 0755); err != nil {
		t.Fatal(err)
	}
	walContent := `{"txn":"start","id":"tx9","ts":"2026-01-01T00:00:00Z"}
{"txn":"op","txid":"tx9","col":"u","type":"INSERT","args":{"doc":{"_id":"1"}},"ts":"2026-01-01T00:00:01Z"}
`
	if err := os.WriteFile(filepath.Join(colDir, "wal_u.log"), []byte(walContent), 0644); err != nil {
		t.Fatal(err)
	}

	c := openTestCollection(t, dir, "u", nil)
	defer c.Close()

	if got := c.Count(Query{}); got != 0 {
		t.Fatalf("expected uncommitted transaction to stay invisible, got %d documents", got)
	}
}

func TestOpenRefusesSecondOpenOfSameDirectory(t *testing.T) {
	dir := t.TempDir()
	c := openTestCollection(t, dir, "users", nil)
	defer c.Close()

	if _, err := Open(dir, "users", nil, testLogger()); !errors.Is(err, docerrors.ErrDirectoryLocked) {
		t.Fatalf("expected ErrDirectoryLocked on second open, got %v", err)
	}
}

func TestCheckpointDeferredWhileTxnBlockAwaitsApply(t *testing.T) {
	dir := t.TempDir()
	c := openTestCollection(t, dir, "users", nil)
	defer c.Close()

	stamped, err := c.WriteTxnBlock("tx-defer", []TxnOp{{Kind: wal.OpInsert, Doc: document.Doc{"name": "alice"}}})
	if err != nil {
		t.Fatal(err)
	}

	// The block is durable but not yet applied; a checkpoint now would
	// snapshot state without it and compact the block away.
	if err := c.FlushToDisk(); err != nil {
		t.Fatal(err)
	}
	if entries, _ := os.ReadDir(filepath.Join(dir, "users", "_checkpoints")); len(entries) != 0 {
		t.Fatalf("expected checkpoint deferred while a transaction block awaits apply, found %d files", len(entries))
	}

	if err := c.ApplyStampedTxnOps("tx-defer", stamped); err != nil {
		t.Fatal(err)
	}
	if err := c.FlushToDisk(); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(filepath.Join(dir, "users", "_checkpoints"))
	if err != nil || len(entries) == 0 {
		t.Fatalf("expected checkpoint written once the block was applied, err=%v files=%d", err, len(entries))
	}
}

func TestEventListenerPanicIsolatedFromOperation(t *testing.T) {
	dir := t.TempDir()
	c := openTestCollection(t, dir, "users", nil)
	defer c.Close()

	c.On(EventInsert, func(Event) { panic("boom") })

	if _, err := c.Insert(document.Doc{"name": "alice"}); err != nil {
		t.Fatalf("expected insert to succeed despite listener panic, got %v", err)
	}
}
