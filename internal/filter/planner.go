package filter

// IndexLookup describes the chosen acceleration strategy for Plan.
type IndexLookup struct {
	Field string
	Exact bool // true: equality seed via a unique/standard index; false: range seed
	Value interface{}
}

var rangeOps = map[string]bool{"$gt": true, "$gte": true, "$lt": true, "$lte": true}

// Plan inspects a flat (non-composite) object filter and picks one
// indexed field to seed candidates from: equality is preferred over a
// range condition; ties go to whichever field is encountered first in
// map iteration.
func Plan(f Filter, hasIndex func(field string) bool) (IndexLookup, bool) {
	if f.isAnd || f.isOr {
		return IndexLookup{}, false
	}

	var rangeCandidate IndexLookup
	haveRange := false

	for field, cond := range f.Fields {
		if !hasIndex(field) {
			continue
		}
		if cond.Eq_set {
			return IndexLookup{Field: field, Exact: true, Value: cond.Eq}, true
		}
		if cond.IsOpsMap && !haveRange {
			for op := range cond.Ops {
				if rangeOps[op] {
					rangeCandidate = IndexLookup{Field: field, Exact: false}
					haveRange = true
					break
				}
			}
		}
	}
	if haveRange {
		return rangeCandidate, true
	}
	return IndexLookup{}, false
}
