package jsondoc

import (
	"testing"

	"strata/pkg/types"
)

func TestParsePathDotAndIndex(t *testing.T) {
	ops, err := parsePath("a.b[2].c")
	if err != nil {
		t.Fatalf("parsePath: %v", err)
	}
	want := []op{{field: "a"}, {field: "b"}, {index: 2, isIndex: true}, {field: "c"}}
	if len(ops) != len(want) {
		t.Fatalf("expected %d ops, got %d (%v)", len(want), len(ops), ops)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Errorf("op %d: got %+v, want %+v", i, ops[i], want[i])
		}
	}
}

func TestParsePathRejectsMalformed(t *testing.T) {
	cases := []string{"a..b", "[0]", "a[x]", "a[0"}
	for _, c := range cases {
		if _, err := parsePath(c); err == nil {
			t.Errorf("expected parsePath(%q) to fail", c)
		}
	}
}

func TestSetAndGetPathNested(t *testing.T) {
	doc := types.Null()
	doc, err := setPath(doc, mustParse(t, "a.b[1].c"), types.String("x"))
	if err != nil {
		t.Fatalf("setPath: %v", err)
	}
	got, ok := getPath(doc, mustParse(t, "a.b[1].c"))
	if !ok || got.AsString() != "x" {
		t.Fatalf("expected x at a.b[1].c, got %v ok=%v", got, ok)
	}
	// index 0 should have been padded with Null, not skipped
	padded, ok := getPath(doc, mustParse(t, "a.b[0]"))
	if !ok || !padded.IsNull() {
		t.Errorf("expected Null padding at a.b[0], got %v ok=%v", padded, ok)
	}
}

func TestDelPathRemovesEntry(t *testing.T) {
	doc, _ := setPath(types.Null(), mustParse(t, "a.b"), types.Int(1))
	doc, err := delPath(doc, mustParse(t, "a.b"))
	if err != nil {
		t.Fatalf("delPath: %v", err)
	}
	_, ok := getPath(doc, mustParse(t, "a.b"))
	if ok {
		t.Error("expected a.b gone after delete")
	}
}

func TestMergePatchDeletesOnNull(t *testing.T) {
	target := types.Map(map[string]types.Value{
		"a": types.Int(1),
		"b": types.Int(2),
	})
	patch := types.Map(map[string]types.Value{
		"b": types.Null(),
		"c": types.Int(3),
	})
	merged := mergePatch(target, patch)
	m := merged.AsMap()
	if _, ok := m["b"]; ok {
		t.Error("expected b removed by null patch value")
	}
	if m["a"].AsInt() != 1 {
		t.Error("expected a untouched")
	}
	if m["c"].AsInt() != 3 {
		t.Error("expected c added")
	}
}

func TestMergePatchRecursesIntoNestedObjects(t *testing.T) {
	target := types.Map(map[string]types.Value{
		"nested": types.Map(map[string]types.Value{"x": types.Int(1), "y": types.Int(2)}),
	})
	patch := types.Map(map[string]types.Value{
		"nested": types.Map(map[string]types.Value{"y": types.Null(), "z": types.Int(9)}),
	})
	merged := mergePatch(target, patch)
	nested := merged.AsMap()["nested"].AsMap()
	if _, ok := nested["y"]; ok {
		t.Error("expected nested.y removed")
	}
	if nested["x"].AsInt() != 1 || nested["z"].AsInt() != 9 {
		t.Errorf("expected nested.x preserved and nested.z added, got %v", nested)
	}
}

func mustParse(t *testing.T, path string) []op {
	t.Helper()
	ops, err := parsePath(path)
	if err != nil {
		t.Fatalf("parsePath(%q): %v", path, err)
	}
	return ops
}
