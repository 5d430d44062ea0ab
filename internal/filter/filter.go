// Package filter implements the declarative query language: a tagged
// sum type Filter = Eq(v) | Op(map<Op,v>) | And([Filter]) | Or([Filter]),
// its predicate evaluator, and the index-assisted lookup planner.
package filter

import (
	"fmt"
	"reflect"
	"regexp"

	"github.com/kartikbazzad/docstore/internal/document"
)

// Condition is one field's condition within an object filter: either a
// plain equality value or an operator map.
type Condition struct {
	Eq       interface{}
	Eq_set   bool
	Ops      map[string]interface{}
	IsOpsMap bool
}

// Filter is the parsed, evaluable form of a query. A Filter is either a
// flat AND of per-field Conditions, or a composite And/Or of sub-Filters.
type Filter struct {
	Fields map[string]Condition
	And    []Filter
	Or     []Filter
	isAnd  bool
	isOr   bool
}

// ParseFilter converts a raw, JSON-decoded filter map into a Filter:
// top-level keys AND-compose; values are either a literal (equality) or
// an operator map drawn from
// {$gt,$gte,$lt,$lte,$ne,$in,$nin,$exists,$regex(+$options)}; $and/$or
// keys hold arrays of sub-filters.
func ParseFilter(raw map[string]interface{}) Filter {
	if subs, ok := raw["$and"]; ok {
		return Filter{isAnd: true, And: parseSubFilters(subs)}
	}
	if subs, ok := raw["$or"]; ok {
		return Filter{isOr: true, Or: parseSubFilters(subs)}
	}

	fields := map[string]Condition{}
	for k, v := range raw {
		fields[k] = parseCondition(v)
	}
	return Filter{Fields: fields}
}

func parseSubFilters(v interface{}) []Filter {
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]Filter, 0, len(arr))
	for _, item := range arr {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, ParseFilter(m))
		}
	}
	return out
}

func parseCondition(v interface{}) Condition {
	if m, ok := v.(map[string]interface{}); ok && isOperatorMap(m) {
		return Condition{Ops: m, IsOpsMap: true}
	}
	return Condition{Eq: v, Eq_set: true}
}

var knownOps = map[string]bool{
	"$gt": true, "$gte": true, "$lt": true, "$lte": true, "$ne": true,
	"$in": true, "$nin": true, "$exists": true, "$regex": true, "$options": true,
}

func isOperatorMap(m map[string]interface{}) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !knownOps[k] {
			return false
		}
	}
	return true
}

// Match reports whether d satisfies f.
func Match(d document.Doc, f Filter) bool {
	if f.isAnd {
		for _, sub := range f.And {
			if !Match(d, sub) {
				return false
			}
		}
		return true
	}
	if f.isOr {
		for _, sub := range f.Or {
			if Match(d, sub) {
				return true
			}
		}
		return len(f.Or) == 0
	}
	for field, cond := range f.Fields {
		if !matchCondition(d[field], cond, d, field) {
			return false
		}
	}
	return true
}

func matchCondition(val interface{}, cond Condition, d document.Doc, field string) bool {
	if cond.Eq_set {
		return equalDeep(val, cond.Eq)
	}
	for op, arg := range cond.Ops {
		if pattern, ok := arg.(string); ok && op == "$regex" {
			// $options letters i, m and s become Go inline flags; other
			// letters are ignored.
			opts, _ := cond.Ops["$options"].(string)
			flags := ""
			for _, r := range opts {
				if r == 'i' || r == 'm' || r == 's' {
					flags += string(r)
				}
			}
			if flags != "" {
				arg = "(?" + flags + ")" + pattern
			}
		}
		if !matchOp(val, op, arg, d, field) {
			return false
		}
	}
	return true
}

// matchOp evaluates one operator. Unknown operators (already filtered
// out by isOperatorMap at parse time, but handled here too) never
// raise; they simply cause the record not to match.
func matchOp(val interface{}, op string, arg interface{}, d document.Doc, field string) bool {
	switch op {
	case "$gt":
		cmp, ok := compareNumeric(val, arg)
		return ok && cmp > 0
	case "$gte":
		cmp, ok := compareNumeric(val, arg)
		return ok && cmp >= 0
	case "$lt":
		cmp, ok := compareNumeric(val, arg)
		return ok && cmp < 0
	case "$lte":
		cmp, ok := compareNumeric(val, arg)
		return ok && cmp <= 0
	case "$ne":
		return !equalDeep(val, arg)
	case "$in":
		return membership(val, arg, true)
	case "$nin":
		return membership(val, arg, false)
	case "$exists":
		_, present := d[field]
		want, _ := arg.(bool)
		return present == want
	case "$regex":
		pattern, _ := arg.(string)
		s, ok := val.(string)
		if !ok {
			return false
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(s)
	case "$options":
		return true
	default:
		return false
	}
}

// compareNumeric returns -1/0/1 comparing a to b numerically and true,
// or (0, false) when either side (including an absent field, which
// decodes as nil) is not numeric — there is no meaningful cross-type
// ordering, so every range operator must fail rather than guess.
func compareNumeric(a, b interface{}) (int, bool) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return 0, false
	}
	switch {
	case af < bf:
		return -1, true
	case af > bf:
		return 1, true
	default:
		return 0, true
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	default:
		return 0, false
	}
}

// membership implements $in/$nin. If val is an array, membership is
// tested as set-intersection with arg's array.
func membership(val interface{}, arg interface{}, wantIn bool) bool {
	candidates, ok := arg.([]interface{})
	if !ok {
		return !wantIn
	}
	if arr, ok := val.([]interface{}); ok {
		for _, item := range arr {
			for _, c := range candidates {
				if equalDeep(item, c) {
					return wantIn
				}
			}
		}
		return !wantIn
	}
	for _, c := range candidates {
		if equalDeep(val, c) {
			return wantIn
		}
	}
	return !wantIn
}

func equalDeep(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	if reflect.DeepEqual(a, b) {
		return true
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}
