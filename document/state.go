// Package document implements the dashboard document tree: a dynamic
// JSON-like value owned by the synchronization engine and mutated only by
// applying operations in version order.
package document

import (
	"strconv"

	"dashsync/common"
	"dashsync/operation"
)

// State is the authoritative in-memory dashboard document. The tree is a
// nesting of map[string]any, []any and scalar values, so it can be handed
// to any JSON encoder without conversion.
type State map[string]any

// New creates an empty dashboard document.
func New() State {
	return make(State)
}

// Clone returns a deep copy of the document. Snapshots handed to callers
// must never alias the engine-owned tree.
func (s State) Clone() State {
	if s == nil {
		return nil
	}
	return deepCopyMap(s)
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case State:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return val
	}
}

// Get resolves the value at the given path.
func (s State) Get(path operation.Path) (any, error) {
	node, err := navigate(map[string]any(s), path)
	if err != nil {
		return nil, err
	}
	return node, nil
}

// navigate walks every segment of path from root and returns the value it
// lands on. Maps are addressed by key, slices by numeric segment.
func navigate(root any, path operation.Path) (any, error) {
	current := root
	for i, segment := range path {
		switch node := current.(type) {
		case map[string]any:
			child, ok := node[segment]
			if !ok {
				return nil, common.ErrPathNotFound{Path: path, Reason: "key not found: " + segment}
			}
			current = child
		case State:
			child, ok := node[segment]
			if !ok {
				return nil, common.ErrPathNotFound{Path: path, Reason: "key not found: " + segment}
			}
			current = child
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, common.ErrPathNotFound{Path: path, Reason: "index out of range: " + segment}
			}
			current = node[idx]
		default:
			return nil, common.ErrPathNotFound{Path: path[:i+1], Reason: "segment does not address a container"}
		}
	}
	return current, nil
}

// container resolves the parent container of path and returns it together
// with the final segment. The parent must already exist; the final element
// need not.
func (s State) container(path operation.Path) (any, string, error) {
	parent, last, ok := path.Parent()
	if !ok {
		return nil, "", common.ErrPathNotFound{Path: path, Reason: "empty path"}
	}
	node, err := navigate(map[string]any(s), parent)
	if err != nil {
		return nil, "", err
	}
	return node, last, nil
}
