// Package index implements C4: field-keyed unique and standard secondary
// indexes over a single collection's documents.
//
// A flattened, single-collection-scoped adaptation: indexes here key on
// secondary *field values*, not primary document ids, and a collection's
// write queue already serializes every mutation, so a single RWMutex
// guards all indexes and no sharded (by-document-id) locking is used.
package index

import (
	"fmt"
	"sync"

	"github.com/kartikbazzad/docstore/internal/document"
	docerrors "github.com/kartikbazzad/docstore/internal/errors"
)

// Kind distinguishes a unique index (value -> single id) from a standard
// index (value -> set of ids).
type Kind int

const (
	Unique Kind = iota
	Standard
)

func (k Kind) String() string {
	if k == Unique {
		return "unique"
	}
	return "standard"
}

// Index holds one field's secondary index data.
type Index struct {
	Field    string
	Kind     Kind
	unique   map[string]string
	standard map[string]map[string]struct{}
}

func newIndex(field string, kind Kind) *Index {
	idx := &Index{Field: field, Kind: kind}
	if kind == Unique {
		idx.unique = map[string]string{}
	} else {
		idx.standard = map[string]map[string]struct{}{}
	}
	return idx
}

// Manager owns every secondary index for one collection, guarded by a
// single RWMutex since a collection's write queue already serializes
// mutations; the mutex exists for concurrent readers (find/getAll),
// which run outside the queue and must never race an index rebuild.
type Manager struct {
	mu      sync.RWMutex
	indexes map[string]*Index
}

// NewManager creates an empty index manager.
func NewManager() *Manager {
	return &Manager{indexes: map[string]*Index{}}
}

// CreateIndex registers an index on field. Idempotent if (field, unique)
// already matches; an error if field is already indexed with a
// different uniqueness flag. docs seeds the rebuild.
func (m *Manager) CreateIndex(field string, unique bool, docs []document.Doc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kind := Standard
	if unique {
		kind = Unique
	}

	if existing, ok := m.indexes[field]; ok {
		if existing.Kind != kind {
			return docerrors.ErrIndexExists
		}
		return m.rebuildLocked(existing, docs)
	}

	idx := newIndex(field, kind)
	m.indexes[field] = idx
	return m.rebuildLocked(idx, docs)
}

// DropIndex removes field's index; missing is not an error.
func (m *Manager) DropIndex(field string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.indexes, field)
}

// GetIndexes returns a snapshot describing every registered index.
func (m *Manager) GetIndexes() []Index {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Index, 0, len(m.indexes))
	for _, idx := range m.indexes {
		out = append(out, Index{Field: idx.Field, Kind: idx.Kind})
	}
	return out
}

// RebuildAll clears and rebuilds every index from docs (used on
// collection open/recovery).
func (m *Manager) RebuildAll(docs []document.Doc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, idx := range m.indexes {
		if err := m.rebuildLocked(idx, docs); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) rebuildLocked(idx *Index, docs []document.Doc) error {
	if idx.Kind == Unique {
		idx.unique = map[string]string{}
	} else {
		idx.standard = map[string]map[string]struct{}{}
	}
	for _, d := range docs {
		if err := m.indexDocLocked(idx, d); err != nil {
			return err
		}
	}
	return nil
}

func valueKey(v interface{}) (string, bool) {
	if v == nil {
		return "", false
	}
	return fmt.Sprintf("%v", v), true
}

func (m *Manager) indexDocLocked(idx *Index, d document.Doc) error {
	raw, present := d[idx.Field]
	if !present {
		return nil
	}
	key, ok := valueKey(raw)
	if !ok {
		return nil
	}
	id := d.ID()
	if idx.Kind == Unique {
		if existing, ok := idx.unique[key]; ok && existing != id {
			return docerrors.NewUniqueConstraint(idx.Field, raw)
		}
		idx.unique[key] = id
		return nil
	}
	bucket, ok := idx.standard[key]
	if !ok {
		bucket = map[string]struct{}{}
		idx.standard[key] = bucket
	}
	bucket[id] = struct{}{}
	return nil
}

// CheckUnique validates that inserting/updating doc would not violate
// any unique index, without mutating any index. Used for the
// pre-WAL-write uniqueness pre-check.
func (m *Manager) CheckUnique(doc document.Doc) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, idx := range m.indexes {
		if idx.Kind != Unique {
			continue
		}
		raw, present := doc[idx.Field]
		if !present {
			continue
		}
		key, ok := valueKey(raw)
		if !ok {
			continue
		}
		if existing, ok := idx.unique[key]; ok && existing != doc.ID() {
			return docerrors.NewUniqueConstraint(idx.Field, raw)
		}
	}
	return nil
}

// AfterInsert updates every index for a newly inserted doc.
func (m *Manager) AfterInsert(doc document.Doc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, idx := range m.indexes {
		if err := m.indexDocLocked(idx, doc); err != nil {
			return err
		}
	}
	return nil
}

// AfterRemove removes doc's entries from every index.
func (m *Manager) AfterRemove(doc document.Doc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, idx := range m.indexes {
		m.removeDocLocked(idx, doc)
	}
}

func (m *Manager) removeDocLocked(idx *Index, d document.Doc) {
	raw, present := d[idx.Field]
	if !present {
		return
	}
	key, ok := valueKey(raw)
	if !ok {
		return
	}
	id := d.ID()
	if idx.Kind == Unique {
		if idx.unique[key] == id {
			delete(idx.unique, key)
		}
		return
	}
	if bucket, ok := idx.standard[key]; ok {
		delete(bucket, id)
		if len(bucket) == 0 {
			delete(idx.standard, key)
		}
	}
}

// AfterUpdate updates every index to reflect old -> new for the same
// document id.
func (m *Manager) AfterUpdate(old, new document.Doc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, idx := range m.indexes {
		m.removeDocLocked(idx, old)
	}
	for _, idx := range m.indexes {
		if err := m.indexDocLocked(idx, new); err != nil {
			return err
		}
	}
	return nil
}

// Clear empties every index bucket without removing index definitions.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, idx := range m.indexes {
		if idx.Kind == Unique {
			idx.unique = map[string]string{}
		} else {
			idx.standard = map[string]map[string]struct{}{}
		}
	}
}

// FindOneIdByIndex looks up a single id via a unique index. ok is false
// if field has no unique index or value is absent.
func (m *Manager) FindOneIdByIndex(field string, value interface{}) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.indexes[field]
	if !ok || idx.Kind != Unique {
		return "", false
	}
	key, ok := valueKey(value)
	if !ok {
		return "", false
	}
	id, ok := idx.unique[key]
	return id, ok
}

// FindIdsByIndex looks up matching ids via a standard index. ok is false
// if field has no standard index.
func (m *Manager) FindIdsByIndex(field string, value interface{}) ([]string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.indexes[field]
	if !ok || idx.Kind != Standard {
		return nil, false
	}
	key, ok := valueKey(value)
	if !ok {
		return nil, true
	}
	bucket, ok := idx.standard[key]
	if !ok {
		return []string{}, true
	}
	ids := make([]string, 0, len(bucket))
	for id := range bucket {
		ids = append(ids, id)
	}
	return ids, true
}

// FieldKind reports whether field has an index and its kind.
func (m *Manager) FieldKind(field string) (Kind, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.indexes[field]
	if !ok {
		return 0, false
	}
	return idx.Kind, true
}

// HasRange reports whether field has any index at all, used by the
// query planner to decide whether a range scan can be index-seeded
// (both kinds support iterating all keys for a range).
func (m *Manager) HasRange(field string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.indexes[field]
	return ok
}

// AllIndexedIds returns every id carrying a non-null value for field,
// across all buckets. Used to seed a range scan ($gt/$gte/$lt/$lte):
// since bucket keys are opaque fmt-rendered strings with no numeric
// ordering, a range condition can't narrow buckets directly, so the
// index instead narrows the candidate set to "has this field at all"
// and the full predicate does the actual comparison.
func (m *Manager) AllIndexedIds(field string) ([]string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.indexes[field]
	if !ok {
		return nil, false
	}
	var ids []string
	if idx.Kind == Unique {
		for _, id := range idx.unique {
			ids = append(ids, id)
		}
		return ids, true
	}
	for _, bucket := range idx.standard {
		for id := range bucket {
			ids = append(ids, id)
		}
	}
	return ids, true
}
