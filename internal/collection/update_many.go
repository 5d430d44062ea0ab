package collection

import "github.com/kartikbazzad/docstore/internal/document"

// UpdateManyResult reports how many documents matched versus were
// actually modified.
type UpdateManyResult struct {
	Matched  int
	Modified int
}

// UpdateMany iterates every live document matching q and applies spec
// (a full replacement or the $set/$unset/$inc/$push/$pull operator set)
// via the normal per-document Update path, so each match gets its own
// WAL record.
func (c *Collection) UpdateMany(q Query, spec document.UpdateSpec) (UpdateManyResult, error) {
	c.docsMu.RLock()
	var ids []string
	for id, d := range c.docs {
		if c.isAlive(d) && q.matches(d) {
			ids = append(ids, id)
		}
	}
	c.docsMu.RUnlock()

	patch := spec.ToPatch()
	result := UpdateManyResult{Matched: len(ids)}
	for _, id := range ids {
		updated, err := c.Update(id, patch)
		if err != nil {
			return result, err
		}
		if updated != nil {
			result.Modified++
		}
	}
	return result, nil
}
