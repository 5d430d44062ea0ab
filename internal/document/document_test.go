package document

import (
	"testing"
	"time"
)

func TestStampNewFillsReservedFields(t *testing.T) {
	gen := func() string { return "gen-1" }
	d := StampNew(Doc{"name": "a"}, gen)
	if d.ID() != "gen-1" {
		t.Fatalf("expected generated id, got %q", d.ID())
	}
	if _, ok := d[FieldCreatedAt]; !ok {
		t.Fatal("expected createdAt to be stamped")
	}
	if _, ok := d[FieldUpdatedAt]; !ok {
		t.Fatal("expected updatedAt to be stamped")
	}
}

func TestStampNewPreservesExistingID(t *testing.T) {
	gen := func() string { t.Fatal("generator should not be called"); return "" }
	d := StampNew(Doc{FieldID: "explicit"}, gen)
	if d.ID() != "explicit" {
		t.Fatalf("expected explicit id preserved, got %q", d.ID())
	}
}

func TestMergeProtectsIDAndCreatedAt(t *testing.T) {
	existing := Doc{FieldID: "1", FieldCreatedAt: "t0", "name": "old"}
	patch := Doc{FieldID: "hacked", FieldCreatedAt: "t9", "name": "new"}
	merged := Merge(existing, patch)
	if merged.ID() != "1" {
		t.Fatalf("expected _id preserved, got %v", merged[FieldID])
	}
	if merged[FieldCreatedAt] != "t0" {
		t.Fatalf("expected createdAt preserved, got %v", merged[FieldCreatedAt])
	}
	if merged["name"] != "new" {
		t.Fatalf("expected name field patched, got %v", merged["name"])
	}
}

func TestCloneIsIndependentAtTopLevel(t *testing.T) {
	d := Doc{"a": 1}
	c := d.Clone()
	c["a"] = 2
	if d["a"] != 1 {
		t.Fatalf("expected original untouched, got %v", d["a"])
	}
}

func TestIsAliveExpireAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	expired := Doc{FieldExpireAt: now.Add(-time.Hour).Format(time.RFC3339)}
	alive := Doc{FieldExpireAt: now.Add(time.Hour).Format(time.RFC3339)}
	if IsAlive(expired, now) {
		t.Fatal("expected expired document to be dead")
	}
	if !IsAlive(alive, now) {
		t.Fatal("expected future expireAt document to be alive")
	}
}

func TestIsAliveTTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	created := now.Add(-time.Minute).Format(time.RFC3339)
	expired := Doc{FieldCreatedAt: created, FieldTTL: float64(1000)} // 1s ttl, created 1m ago
	alive := Doc{FieldCreatedAt: created, FieldTTL: float64(600000)} // 10m ttl
	if IsAlive(expired, now) {
		t.Fatal("expected ttl-expired document to be dead")
	}
	if !IsAlive(alive, now) {
		t.Fatal("expected document within ttl window to be alive")
	}
}

func TestIsAliveNoExpiryFields(t *testing.T) {
	if !IsAlive(Doc{"name": "x"}, time.Now()) {
		t.Fatal("document with no TTL fields should always be alive")
	}
}

func TestSanitizePatchStripsReservedFieldsFullReplacement(t *testing.T) {
	patch := SanitizePatch(Doc{FieldID: "x", FieldCreatedAt: "y", "name": "z"})
	if _, ok := patch[FieldID]; ok {
		t.Fatal("expected _id stripped")
	}
	if _, ok := patch[FieldCreatedAt]; ok {
		t.Fatal("expected createdAt stripped")
	}
	if patch["name"] != "z" {
		t.Fatalf("expected name preserved, got %v", patch["name"])
	}
}

func TestSanitizePatchStripsReservedFieldsInsideSet(t *testing.T) {
	patch := SanitizePatch(Doc{"$set": Doc{FieldID: "x", FieldCreatedAt: "y", "name": "z"}})
	set := patch["$set"].(Doc)
	if _, ok := set[FieldID]; ok {
		t.Fatal("expected _id stripped from $set")
	}
	if _, ok := set[FieldCreatedAt]; ok {
		t.Fatal("expected createdAt stripped from $set")
	}
	if set["name"] != "z" {
		t.Fatalf("expected name preserved in $set, got %v", set["name"])
	}
}

func TestApplyPatchOperatorSet(t *testing.T) {
	existing := Doc{FieldID: "1", "count": float64(5), "tags": []interface{}{"a"}}
	patch := Doc{
		"$set":   Doc{"label": "x"},
		"$inc":   Doc{"count": float64(3)},
		"$push":  Doc{"tags": "b"},
		"$unset": Doc{"label2": true},
	}
	out := ApplyPatch(existing, patch)
	if out["label"] != "x" {
		t.Fatalf("expected $set applied, got %v", out["label"])
	}
	if out["count"] != float64(8) {
		t.Fatalf("expected $inc applied, got %v", out["count"])
	}
	tags := out["tags"].([]interface{})
	if len(tags) != 2 || tags[1] != "b" {
		t.Fatalf("expected $push applied, got %v", tags)
	}
}

func TestApplyPatchFullReplacementPreservesID(t *testing.T) {
	existing := Doc{FieldID: "1", FieldCreatedAt: "t0", "name": "old"}
	out := ApplyPatch(existing, Doc{"name": "new"})
	if out.ID() != "1" {
		t.Fatalf("expected id preserved, got %v", out[FieldID])
	}
	if out["name"] != "new" {
		t.Fatalf("expected replacement applied, got %v", out["name"])
	}
}

func TestUpdateSpecToPatchRoundTrip(t *testing.T) {
	raw := Doc{"$set": Doc{"a": 1}}
	spec := ParseUpdateSpec(raw)
	if !spec.IsOps {
		t.Fatal("expected operator spec")
	}
	patch := spec.ToPatch()
	if !IsOperatorPatch(patch) {
		t.Fatal("expected reconstructed patch to still be an operator patch")
	}
}

func TestApplyPullRemovesMatchingElements(t *testing.T) {
	existing := Doc{"tags": []interface{}{"a", "b", "a"}}
	out := ApplyPatch(existing, Doc{"$pull": Doc{"tags": "a"}})
	tags := out["tags"].([]interface{})
	if len(tags) != 1 || tags[0] != "b" {
		t.Fatalf("expected only 'b' to remain, got %v", tags)
	}
}
