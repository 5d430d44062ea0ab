package collection

import (
	"github.com/kartikbazzad/docstore/internal/document"
	"github.com/kartikbazzad/docstore/internal/index"
)

// CreateIndex registers a secondary index on field, rebuilding it from
// the current document set. Idempotent for a matching (field, unique);
// an error if field is already indexed with a different uniqueness
// flag.
func (c *Collection) CreateIndex(field string, unique bool) error {
	_, err := c.queue.submit(func() (interface{}, error) {
		c.docsMu.RLock()
		docs := c.snapshotDocsLocked()
		c.docsMu.RUnlock()
		return nil, c.indexes.CreateIndex(field, unique, docs)
	})
	return err
}

// DropIndex removes field's index; missing is not an error.
func (c *Collection) DropIndex(field string) error {
	_, err := c.queue.submit(func() (interface{}, error) {
		c.indexes.DropIndex(field)
		return nil, nil
	})
	return err
}

// IndexInfo describes one registered index, returned by GetIndexes.
type IndexInfo struct {
	Field  string
	Unique bool
}

// GetIndexes returns a snapshot of every registered index.
func (c *Collection) GetIndexes() []IndexInfo {
	out := []IndexInfo{}
	for _, idx := range c.indexes.GetIndexes() {
		out = append(out, IndexInfo{Field: idx.Field, Unique: idx.Kind == index.Unique})
	}
	return out
}

// FindByIndexedValue returns every live document whose field equals
// value, using whichever index kind is registered on field.
func (c *Collection) FindByIndexedValue(field string, value interface{}) []document.Doc {
	c.docsMu.RLock()
	defer c.docsMu.RUnlock()

	if id, ok := c.indexes.FindOneIdByIndex(field, value); ok {
		if d, ok := c.docs[id]; ok && c.isAlive(d) {
			return []document.Doc{d}
		}
		return nil
	}
	ids, ok := c.indexes.FindIdsByIndex(field, value)
	if !ok {
		return nil
	}
	out := make([]document.Doc, 0, len(ids))
	for _, id := range ids {
		if d, ok := c.docs[id]; ok && c.isAlive(d) {
			out = append(out, d)
		}
	}
	return out
}

// FindOneByIndexedValue returns the first live document whose field
// equals value, or nil.
func (c *Collection) FindOneByIndexedValue(field string, value interface{}) document.Doc {
	docs := c.FindByIndexedValue(field, value)
	if len(docs) == 0 {
		return nil
	}
	return docs[0]
}
