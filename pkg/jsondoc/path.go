// pkg/jsondoc/path.go
package jsondoc

import (
	"fmt"
	"strconv"
	"strings"

	"strata/pkg/types"
)

// op is one step of a parsed path: either a map field access or an array
// index access. "a.b[2].c" parses to [field a, field b, index 2, field c].
type op struct {
	field   string
	index   int
	isIndex bool
}

// parsePath parses the dot + bracket-index path syntax named in spec.md
// §1's expansion: a minimal JSON-pointer-adjacent syntax, not a full
// JSON Pointer (RFC 6901) or JSONPath implementation.
func parsePath(path string) ([]op, error) {
	if path == "" {
		return nil, nil
	}
	var ops []op
	for _, segment := range strings.Split(path, ".") {
		if segment == "" {
			return nil, fmt.Errorf("jsondoc: empty path segment in %q", path)
		}
		name := segment
		rest := ""
		if i := strings.IndexByte(segment, '['); i >= 0 {
			name = segment[:i]
			rest = segment[i:]
		}
		if name == "" {
			return nil, fmt.Errorf("jsondoc: missing field name before index in %q", segment)
		}
		ops = append(ops, op{field: name})
		for len(rest) > 0 {
			if rest[0] != '[' {
				return nil, fmt.Errorf("jsondoc: malformed index in %q", segment)
			}
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return nil, fmt.Errorf("jsondoc: unterminated index in %q", segment)
			}
			idx, err := strconv.Atoi(rest[1:end])
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("jsondoc: invalid index %q in %q", rest[1:end], segment)
			}
			ops = append(ops, op{index: idx, isIndex: true})
			rest = rest[end+1:]
		}
	}
	return ops, nil
}

// getPath navigates v along ops, reporting false if any step is absent or
// type-mismatched (a string field access into an array, etc).
func getPath(v types.Value, ops []op) (types.Value, bool) {
	if len(ops) == 0 {
		return v, true
	}
	o := ops[0]
	if o.isIndex {
		if v.Kind() != types.KindArray {
			return types.Value{}, false
		}
		arr := v.AsArray()
		if o.index >= len(arr) {
			return types.Value{}, false
		}
		return getPath(arr[o.index], ops[1:])
	}
	if v.Kind() != types.KindMap {
		return types.Value{}, false
	}
	child, ok := v.AsMap()[o.field]
	if !ok {
		return types.Value{}, false
	}
	return getPath(child, ops[1:])
}

// setPath returns a new tree with newValue written at ops, creating
// intermediate maps/arrays as needed (arrays are extended with Null
// padding to reach an out-of-range index, mirroring common JSON-path
// "set" semantics).
func setPath(v types.Value, ops []op, newValue types.Value) (types.Value, error) {
	if len(ops) == 0 {
		return newValue, nil
	}
	o := ops[0]
	if o.isIndex {
		var arr []types.Value
		switch {
		case v.Kind() == types.KindArray:
			arr = v.AsArray()
		case v.IsNull():
			arr = nil
		default:
			return types.Value{}, fmt.Errorf("jsondoc: cannot index into a %s", v.Kind())
		}
		for len(arr) <= o.index {
			arr = append(arr, types.Null())
		}
		child, err := setPath(arr[o.index], ops[1:], newValue)
		if err != nil {
			return types.Value{}, err
		}
		arr[o.index] = child
		return types.Array(arr), nil
	}

	var m map[string]types.Value
	switch {
	case v.Kind() == types.KindMap:
		m = v.AsMap()
	case v.IsNull():
		m = map[string]types.Value{}
	default:
		return types.Value{}, fmt.Errorf("jsondoc: cannot set field %q on a %s", o.field, v.Kind())
	}
	next, err := setPath(m[o.field], ops[1:], newValue)
	if err != nil {
		return types.Value{}, err
	}
	m[o.field] = next
	return types.Map(m), nil
}

// delPath returns a new tree with the entry at ops removed. Absent
// intermediate steps are a no-op: deleting something already gone
// succeeds silently, matching typical "del" idempotence.
func delPath(v types.Value, ops []op) (types.Value, error) {
	if len(ops) == 0 {
		return types.Null(), nil
	}
	o := ops[0]

	if len(ops) == 1 {
		if o.isIndex {
			if v.Kind() != types.KindArray {
				return v, nil
			}
			arr := v.AsArray()
			if o.index >= len(arr) {
				return v, nil
			}
			arr = append(arr[:o.index], arr[o.index+1:]...)
			return types.Array(arr), nil
		}
		if v.Kind() != types.KindMap {
			return v, nil
		}
		m := v.AsMap()
		delete(m, o.field)
		return types.Map(m), nil
	}

	if o.isIndex {
		if v.Kind() != types.KindArray {
			return v, nil
		}
		arr := v.AsArray()
		if o.index >= len(arr) {
			return v, nil
		}
		child, err := delPath(arr[o.index], ops[1:])
		if err != nil {
			return types.Value{}, err
		}
		arr[o.index] = child
		return types.Array(arr), nil
	}
	if v.Kind() != types.KindMap {
		return v, nil
	}
	m := v.AsMap()
	child, ok := m[o.field]
	if !ok {
		return v, nil
	}
	next, err := delPath(child, ops[1:])
	if err != nil {
		return types.Value{}, err
	}
	m[o.field] = next
	return types.Map(m), nil
}

// mergePatch applies an RFC 7396 JSON Merge Patch: a null value in patch
// deletes the corresponding key, a non-object patch value replaces target
// wholesale, and an object patch value merges key by key, recursively.
// This is the ~25-line recursive merge the RFC itself specifies in
// pseudocode, ported to types.Value instead of a bare map[string]any —
// see DESIGN.md for why no third-party JSON-patch library is wired here.
func mergePatch(target, patch types.Value) types.Value {
	if patch.Kind() != types.KindMap {
		return patch
	}
	var result map[string]types.Value
	if target.Kind() == types.KindMap {
		result = target.AsMap()
	} else {
		result = map[string]types.Value{}
	}
	for k, v := range patch.AsMap() {
		if v.IsNull() {
			delete(result, k)
			continue
		}
		base, ok := result[k]
		if !ok {
			base = types.Null()
		}
		result[k] = mergePatch(base, v)
	}
	return types.Map(result)
}
