package document

import "fmt"

// UpdateSpec is either a full replacement document or a set of update
// operators.
type UpdateSpec struct {
	Replace Doc
	Ops     map[string]Doc
	IsOps   bool
}

// supported operator keys, recognized when any is present at the top
// level of a raw update map.
var operatorKeys = map[string]bool{
	"$set":   true,
	"$unset": true,
	"$inc":   true,
	"$push":  true,
	"$pull":  true,
}

// ParseUpdateSpec classifies a raw map as either a full replacement or an
// operator set: presence of any of the operator keys above ($set, $unset,
// $inc, $push, $pull) at the top level makes it an operator set; other
// `$`-prefixed keys alone leave it a full replacement.
func ParseUpdateSpec(raw Doc) UpdateSpec {
	for k := range raw {
		if operatorKeys[k] {
			ops := make(map[string]Doc, len(raw))
			for k2, v2 := range raw {
				if sub, ok := v2.(map[string]interface{}); ok {
					ops[k2] = Doc(sub)
				} else if sub, ok := v2.(Doc); ok {
					ops[k2] = sub
				} else {
					ops[k2] = Doc{"__value__": v2}
				}
			}
			return UpdateSpec{Ops: ops, IsOps: true}
		}
	}
	return UpdateSpec{Replace: raw}
}

// IsOperatorPatch reports whether raw carries any $-prefixed operator
// key at its top level.
func IsOperatorPatch(raw Doc) bool {
	for k := range raw {
		if operatorKeys[k] {
			return true
		}
	}
	return false
}

// WithUpdatedAt returns a copy of patch with updatedAt set to ts: for an
// operator patch this folds it into $set (creating $set if absent); for
// a replacement patch it is set directly. Used so the updatedAt bump
// applied by a live write is baked into the exact patch recorded to the
// WAL, letting replay reproduce the identical result without any
// separate "bump time" step.
func WithUpdatedAt(patch Doc, ts string) Doc {
	if IsOperatorPatch(patch) {
		return withSetField(patch, FieldUpdatedAt, ts)
	}
	out := patch.Clone()
	out[FieldUpdatedAt] = ts
	return out
}

func withSetField(patch Doc, field string, value interface{}) Doc {
	out := patch.Clone()
	var setMap Doc
	switch v := out["$set"].(type) {
	case Doc:
		setMap = v.Clone()
	case map[string]interface{}:
		setMap = Doc(v).Clone()
	default:
		setMap = Doc{}
	}
	setMap[field] = value
	out["$set"] = setMap
	return out
}

// ApplyPatch applies rawPatch to existing: an operator patch is applied
// via ApplyOps, a plain patch via a shallow merge that preserves _id and
// createdAt. This is the single interpretation used by both the live
// write path and WAL replay, so the two always agree.
func ApplyPatch(existing Doc, rawPatch Doc) Doc {
	spec := ParseUpdateSpec(rawPatch)
	if spec.IsOps {
		return ApplyOps(existing, spec.Ops)
	}
	return Merge(existing, spec.Replace)
}

// SanitizePatch strips _id/createdAt from a caller-supplied raw patch so
// neither can ever be overwritten, regardless of whether the patch is a
// full replacement (top-level keys) or an operator set ($set/$unset
// payloads). This is the update contract's single enforcement point,
// shared by the live write path and recorded verbatim to the WAL so
// replay reproduces it exactly.
func SanitizePatch(raw Doc) Doc {
	out := raw.Clone()
	if IsOperatorPatch(out) {
		if set, ok := asDoc(out["$set"]); ok {
			set = set.Clone()
			delete(set, FieldID)
			delete(set, FieldCreatedAt)
			out["$set"] = set
		}
		if unset, ok := asDoc(out["$unset"]); ok {
			unset = unset.Clone()
			delete(unset, FieldID)
			delete(unset, FieldCreatedAt)
			out["$unset"] = unset
		}
		return out
	}
	delete(out, FieldID)
	delete(out, FieldCreatedAt)
	return out
}

func asDoc(v interface{}) (Doc, bool) {
	switch x := v.(type) {
	case Doc:
		return x, true
	case map[string]interface{}:
		return Doc(x), true
	default:
		return nil, false
	}
}

// ToPatch reconstructs the raw patch map Update expects from a parsed
// UpdateSpec: a full replacement passes through unchanged; an operator
// set is rebuilt as {$set:{...}, $unset:{...}, ...} so the same
// per-document apply path (ApplyPatch) handles both updateMany and
// ordinary single-document updates identically.
func (s UpdateSpec) ToPatch() Doc {
	if !s.IsOps {
		return s.Replace
	}
	out := Doc{}
	for k, v := range s.Ops {
		out[k] = v
	}
	return out
}

// ApplyOps applies the $set/$unset/$inc/$push/$pull operator set to
// existing, returning the resulting document. All operators are
// shallow.
func ApplyOps(existing Doc, ops map[string]Doc) Doc {
	out := existing.Clone()
	if set, ok := ops["$set"]; ok {
		for k, v := range set {
			out[k] = v
		}
	}
	if unset, ok := ops["$unset"]; ok {
		for k := range unset {
			delete(out, k)
		}
	}
	if inc, ok := ops["$inc"]; ok {
		for k, v := range inc {
			delta, _ := toFloat(v)
			cur, _ := toFloat(out[k])
			out[k] = cur + delta
		}
	}
	if push, ok := ops["$push"]; ok {
		for k, v := range push {
			out[k] = applyPush(out[k], v)
		}
	}
	if pull, ok := ops["$pull"]; ok {
		for k, v := range pull {
			out[k] = applyPull(out[k], v)
		}
	}
	return out
}

// applyPush appends v (or, if v is an operator map with $each, every
// element of $each) to the array at cur, creating the array if absent.
func applyPush(cur interface{}, v interface{}) []interface{} {
	arr, _ := cur.([]interface{})
	if m, ok := v.(map[string]interface{}); ok {
		if each, ok := m["$each"]; ok {
			if items, ok := each.([]interface{}); ok {
				arr = append(arr, items...)
				return arr
			}
		}
	}
	if m, ok := v.(Doc); ok {
		if each, ok := m["$each"]; ok {
			if items, ok := each.([]interface{}); ok {
				arr = append(arr, items...)
				return arr
			}
		}
	}
	return append(arr, v)
}

// applyPull removes every element of cur that equals v.
func applyPull(cur interface{}, v interface{}) []interface{} {
	arr, ok := cur.([]interface{})
	if !ok {
		return nil
	}
	out := make([]interface{}, 0, len(arr))
	for _, item := range arr {
		if !equalValue(item, v) {
			out = append(out, item)
		}
	}
	return out
}

func equalValue(a, b interface{}) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}
