// Package document defines the Document type shared by every storage
// component: the plain map representation, reserved-field stamping,
// TTL evaluation, shallow merge, and the update-operator set.
package document

import (
	"strconv"
	"time"
)

// Reserved top-level field names.
const (
	FieldID        = "_id"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
	FieldExpireAt  = "expireAt"
	FieldTTL       = "ttl"
	FieldTxn       = "_txn"
	FieldTxnFromWAL = "_txn_applied_from_wal"
)

// Doc is a JSON-compatible document: string keys to arbitrary values.
// This is the in-memory and on-the-wire representation used throughout
// the engine, deliberately untyped.
type Doc map[string]interface{}

// Clone makes a shallow copy of d. Nested maps/slices are shared with
// the original; callers that mutate nested structures must Clone those
// explicitly. Shallow is sufficient because every engine mutation path
// (stamp, merge, operator apply) replaces whole top-level keys.
func (d Doc) Clone() Doc {
	if d == nil {
		return nil
	}
	out := make(Doc, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// ID returns the document's _id, or "" if absent or not a string.
func (d Doc) ID() string {
	v, ok := d[FieldID]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// StampNew fills _id (via gen if absent), createdAt and updatedAt on a
// freshly inserted document, returning the mutated clone.
func StampNew(d Doc, gen func() string) Doc {
	out := d.Clone()
	if out == nil {
		out = Doc{}
	}
	if id := out.ID(); id == "" {
		out[FieldID] = gen()
	}
	now := NowISO()
	if _, ok := out[FieldCreatedAt]; !ok {
		out[FieldCreatedAt] = now
	}
	out[FieldUpdatedAt] = now
	return out
}

// ISOLayout is the fixed-width, nanosecond-precision RFC 3339 layout
// used for every timestamp this engine stamps: document createdAt/
// updatedAt, WAL record ts, and checkpoint filenames. Nanosecond
// precision (rather than millisecond) keeps two timestamps issued in
// the same millisecond — an acknowledged WAL append and a concurrent
// checkpoint, say — distinguishable by the strict `>` comparison WAL
// replay's since-timestamp filter uses; at millisecond precision such a
// pair would tie and the op could be silently dropped as "at or before"
// the checkpoint instead of kept. The layout is fixed-width (nine 0s,
// not 9s) rather than time.RFC3339Nano's trailing-zero-trimmed form, so
// that plain lexicographic string comparison stays time-monotonic — a
// property checkpoint.listMetasNewestFirst depends on; RFC3339Nano's
// own formatting drops the fractional part entirely when it is exactly
// zero, which would otherwise sort that instant after any timestamp in
// the same second that has a nonzero fraction.
const ISOLayout = "2006-01-02T15:04:05.000000000Z07:00"

// NowISO formats the current time as RFC 3339 with fixed-width
// nanosecond precision (see ISOLayout), the timestamp format stamped
// onto createdAt/updatedAt and used as the WAL record ts field.
func NowISO() string {
	return time.Now().UTC().Format(ISOLayout)
}

// Merge shallow-merges patch onto existing, refusing changes to _id and
// createdAt (the caller is expected to have already stripped those from
// patch, but Merge re-asserts it: this contract is exercised verbatim
// by WAL replay). Callers that need
// updatedAt bumped must fold it into patch themselves (see
// WithUpdatedAt) so the exact same patch can be recorded to the WAL and
// replayed deterministically.
func Merge(existing, patch Doc) Doc {
	out := existing.Clone()
	id := out[FieldID]
	createdAt := out[FieldCreatedAt]
	for k, v := range patch {
		if k == FieldID || k == FieldCreatedAt {
			continue
		}
		out[k] = v
	}
	out[FieldID] = id
	out[FieldCreatedAt] = createdAt
	return out
}

// IsAlive reports whether d should still be considered live given its
// optional TTL fields. Absent or unparsable TTL fields mean the document
// lives; this is a deliberately lenient, non-raising check.
func IsAlive(d Doc, now time.Time) bool {
	if raw, ok := d[FieldExpireAt]; ok {
		if t, ok := parseTimeValue(raw); ok {
			return t.After(now)
		}
		return true
	}
	if raw, ok := d[FieldTTL]; ok {
		ms, ok := toFloat(raw)
		if !ok {
			return true
		}
		created, ok := parseTimeValue(d[FieldCreatedAt])
		if !ok {
			return true
		}
		expiry := created.Add(time.Duration(ms) * time.Millisecond)
		return expiry.After(now)
	}
	return true
}

// parseTimeValue accepts either an epoch-millisecond number or an
// RFC 3339 string, returning (time, ok).
func parseTimeValue(v interface{}) (time.Time, bool) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, false
	case float64:
		return time.UnixMilli(int64(x)).UTC(), true
	case int64:
		return time.UnixMilli(x).UTC(), true
	case int:
		return time.UnixMilli(int64(x)).UTC(), true
	case string:
		if ms, err := strconv.ParseInt(x, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC(), true
		}
		if t, err := time.Parse(time.RFC3339Nano, x); err == nil {
			return t.UTC(), true
		}
		if t, err := time.Parse(time.RFC3339, x); err == nil {
			return t.UTC(), true
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
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
