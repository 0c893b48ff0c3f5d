package settings

import "strings"

// Tree is a configuration document decoded from JSON: nested map[string]any
// with float64 numbers, bools, strings, []any and nil leaves.
type Tree = map[string]any

// Merge returns base with override deep-merged on top. Where both sides hold
// an object the merge recurses; any other override value (array, scalar, nil)
// replaces the base value. Neither input is modified.
func Merge(base, override Tree) Tree {
	out := deepCopyTree(base)
	for k, ov := range override {
		if om, ok := ov.(map[string]any); ok {
			if bm, ok := out[k].(map[string]any); ok {
				out[k] = Merge(bm, om)
				continue
			}
		}
		out[k] = deepCopy(ov)
	}
	return out
}

// Lookup resolves a dot-separated path. It returns false at the first missing
// segment or when an intermediate value is not an object.
func Lookup(tree Tree, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var current any = tree
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func deepCopyTree(t Tree) Tree {
	out := make(Tree, len(t))
	for k, v := range t {
		out[k] = deepCopy(v)
	}
	return out
}

func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyTree(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = deepCopy(e)
		}
		return out
	default:
		return val
	}
}

func lookupString(tree Tree, path string) string {
	v, ok := Lookup(tree, path)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func lookupFloat(tree Tree, path string, fallback float64) float64 {
	v, ok := Lookup(tree, path)
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return fallback
	}
}

func lookupBool(tree Tree, path string) bool {
	v, ok := Lookup(tree, path)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}
