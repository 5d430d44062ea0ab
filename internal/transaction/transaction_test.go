package transaction

import (
	"io"
	"testing"

	"github.com/kartikbazzad/docstore/internal/collection"
	"github.com/kartikbazzad/docstore/internal/config"
	"github.com/kartikbazzad/docstore/internal/document"
	docerrors "github.com/kartikbazzad/docstore/internal/errors"
	"github.com/kartikbazzad/docstore/internal/logger"
)

type fakeResolver struct {
	dir string
	log *logger.Logger
	cols map[string]*collection.Collection
}

func newFakeResolver(t *testing.T, dir string) *fakeResolver {
	t.Helper()
	return &fakeResolver{
		dir:  dir,
		log:  logger.New(io.Discard, logger.LevelError, "[test]"),
		cols: map[string]*collection.Collection{},
	}
}

func (r *fakeResolver) Collection(name string) (*collection.Collection, error) {
	if c, ok := r.cols[name]; ok {
		return c, nil
	}
	c, err := collection.Open(r.dir, name, config.DefaultConfig(), r.log)
	if err != nil {
		return nil, err
	}
	r.cols[name] = c
	return c, nil
}

func TestTransactionCommitAppliesAcrossCollections(t *testing.T) {
	dir := t.TempDir()
	resolver := newFakeResolver(t, dir)

	tx := New(resolver)
	users, err := tx.Collection("users")
	if err != nil {
		t.Fatal(err)
	}
	orders, err := tx.Collection("orders")
	if err != nil {
		t.Fatal(err)
	}
	if err := users.Insert(document.Doc{"name": "alice"}); err != nil {
		t.Fatal(err)
	}
	if err := orders.Insert(document.Doc{"item": "widget"}); err != nil {
		t.Fatal(err)
	}

	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	userCol, _ := resolver.Collection("users")
	orderCol, _ := resolver.Collection("orders")

	userDocs := userCol.GetAll()
	if len(userDocs) != 1 || userDocs[0][document.FieldTxn] != tx.ID() {
		t.Fatalf("expected user doc tagged with txn id, got %v", userDocs)
	}
	orderDocs := orderCol.GetAll()
	if len(orderDocs) != 1 || orderDocs[0][document.FieldTxn] != tx.ID() {
		t.Fatalf("expected order doc tagged with txn id, got %v", orderDocs)
	}
}

func TestTransactionRollbackAppliesNothing(t *testing.T) {
	dir := t.TempDir()
	resolver := newFakeResolver(t, dir)

	tx := New(resolver)
	users, err := tx.Collection("users")
	if err != nil {
		t.Fatal(err)
	}
	if err := users.Insert(document.Doc{"name": "alice"}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatal(err)
	}

	userCol, _ := resolver.Collection("users")
	if len(userCol.GetAll()) != 0 {
		t.Fatal("expected no documents applied after rollback")
	}
}

func TestTransactionCannotBeUsedAfterCommit(t *testing.T) {
	dir := t.TempDir()
	resolver := newFakeResolver(t, dir)

	tx := New(resolver)
	if _, err := tx.Collection("users"); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if _, err := tx.Collection("users"); err != docerrors.ErrTransactionClosed {
		t.Fatalf("expected ErrTransactionClosed, got %v", err)
	}
	if err := tx.Commit(); err != docerrors.ErrTransactionClosed {
		t.Fatalf("expected ErrTransactionClosed on double commit, got %v", err)
	}
}

func TestTransactionAbortsOnUniqueViolationAcrossBlock(t *testing.T) {
	dir := t.TempDir()
	resolver := newFakeResolver(t, dir)

	usersCol, err := resolver.Collection("users")
	if err != nil {
		t.Fatal(err)
	}
	if err := usersCol.CreateIndex("email", true); err != nil {
		t.Fatal(err)
	}
	if _, err := usersCol.Insert(document.Doc{"email": "a@x.com"}); err != nil {
		t.Fatal(err)
	}

	tx := New(resolver)
	users, err := tx.Collection("users")
	if err != nil {
		t.Fatal(err)
	}
	if err := users.Insert(document.Doc{"email": "a@x.com"}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != docerrors.ErrTransactionAborted {
		t.Fatalf("expected ErrTransactionAborted, got %v", err)
	}
}
