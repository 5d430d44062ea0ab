package collection

import (
	"github.com/kartikbazzad/docstore/internal/document"
	"github.com/kartikbazzad/docstore/internal/filter"
)

// Query is either a predicate function or a parsed Filter; exactly one
// of the two fields is set.
type Query struct {
	Predicate func(document.Doc) bool
	Filter    *filter.Filter
}

// PredicateQuery wraps a predicate function as a Query.
func PredicateQuery(p func(document.Doc) bool) Query { return Query{Predicate: p} }

// FilterQuery wraps a raw filter map as a Query.
func FilterQuery(raw map[string]interface{}) Query {
	f := filter.ParseFilter(raw)
	return Query{Filter: &f}
}

func (q Query) matches(d document.Doc) bool {
	if q.Predicate != nil {
		return q.Predicate(d)
	}
	if q.Filter != nil {
		return filter.Match(d, *q.Filter)
	}
	return true
}

// GetByID returns the live document with id, or nil if absent or
// expired.
func (c *Collection) GetByID(id string) document.Doc {
	c.docsMu.RLock()
	d, ok := c.docs[id]
	c.docsMu.RUnlock()
	if !ok || !c.isAlive(d) {
		return nil
	}
	return d
}

// GetAll returns every live document.
func (c *Collection) GetAll() []document.Doc {
	c.docsMu.RLock()
	defer c.docsMu.RUnlock()
	out := make([]document.Doc, 0, len(c.docs))
	for _, d := range c.docs {
		if c.isAlive(d) {
			out = append(out, d)
		}
	}
	return out
}

// Count returns the number of live documents matching q (or all live
// documents if q is the zero Query).
func (c *Collection) Count(q Query) int {
	return len(c.candidateDocs(q))
}

// Find returns every live document matching q, honoring projection (the
// zero Projection returns full documents).
func (c *Collection) Find(q Query, proj document.Projection) []document.Doc {
	docs := c.candidateDocs(q)
	out := make([]document.Doc, len(docs))
	for i, d := range docs {
		out[i] = proj.Apply(d)
	}
	return out
}

// FindOne returns the first live document matching q, or nil.
func (c *Collection) FindOne(q Query, proj document.Projection) document.Doc {
	c.docsMu.RLock()
	defer c.docsMu.RUnlock()

	if q.Filter != nil {
		if lookup, ok := filter.Plan(*q.Filter, c.indexes.HasRange); ok {
			for _, d := range c.candidateDocsFromLookupLocked(lookup) {
				if c.isAlive(d) && q.matches(d) {
					return proj.Apply(d)
				}
			}
			return nil
		}
	}
	for _, d := range c.docs {
		if c.isAlive(d) && q.matches(d) {
			return proj.Apply(d)
		}
	}
	return nil
}

// candidateDocs resolves q against the live document set, using
// index-assisted seeding when q is a Filter with a usable indexed field.
func (c *Collection) candidateDocs(q Query) []document.Doc {
	c.docsMu.RLock()
	defer c.docsMu.RUnlock()

	if q.Filter != nil {
		if lookup, ok := filter.Plan(*q.Filter, c.indexes.HasRange); ok {
			var out []document.Doc
			for _, d := range c.candidateDocsFromLookupLocked(lookup) {
				if c.isAlive(d) && q.matches(d) {
					out = append(out, d)
				}
			}
			return out
		}
	}

	var out []document.Doc
	for _, d := range c.docs {
		if c.isAlive(d) && q.matches(d) {
			out = append(out, d)
		}
	}
	return out
}

// candidateDocsFromLookupLocked seeds candidates from a planned index
// lookup: exact seeds via the field's id set at that value, range seeds
// via every id that has any value for the field (the full predicate
// does the actual comparison). docsMu must already be held for reading.
func (c *Collection) candidateDocsFromLookupLocked(lookup filter.IndexLookup) []document.Doc {
	var ids []string
	if lookup.Exact {
		if id, ok := c.indexes.FindOneIdByIndex(lookup.Field, lookup.Value); ok {
			ids = []string{id}
		} else if found, ok := c.indexes.FindIdsByIndex(lookup.Field, lookup.Value); ok {
			ids = found
		}
	} else {
		if found, ok := c.indexes.AllIndexedIds(lookup.Field); ok {
			ids = found
		}
	}

	out := make([]document.Doc, 0, len(ids))
	for _, id := range ids {
		if d, ok := c.docs[id]; ok {
			out = append(out, d)
		}
	}
	return out
}
