package document

import (
	"strconv"

	"dashsync/common"
	"dashsync/operation"
)

// Apply mutates the document with a single resolved operation. Errors are
// local to the operation: the caller logs them and moves on to the rest of
// the batch.
func (s State) Apply(op *operation.Operation) error {
	switch op.Kind {
	case operation.KindInsert:
		return s.insert(op.Path, deepCopyValue(op.Payload))
	case operation.KindDelete:
		return s.delete(op.Path)
	case operation.KindUpdate:
		return s.update(op.Path, deepCopyValue(op.Payload))
	case operation.KindMove:
		return s.move(op)
	case operation.KindStyle:
		return s.style(op)
	default:
		return common.ErrInvalidOperation{Message: "unknown kind " + string(op.Kind)}
	}
}

// edit walks path down to its final segment and hands the enclosing
// container to fn. fn returns the container's replacement, which is written
// back so that slice-resizing edits take effect.
func edit(node any, path operation.Path, fn func(parent any, last string) (any, error)) (any, error) {
	if len(path) == 0 {
		return nil, common.ErrPathNotFound{Path: path, Reason: "empty path"}
	}
	if len(path) == 1 {
		return fn(node, path[0])
	}

	segment := path[0]
	switch n := node.(type) {
	case map[string]any:
		child, ok := n[segment]
		if !ok {
			return nil, common.ErrPathNotFound{Path: path, Reason: "key not found: " + segment}
		}
		replacement, err := edit(child, path[1:], fn)
		if err != nil {
			return nil, err
		}
		n[segment] = replacement
		return n, nil
	case []any:
		idx, err := strconv.Atoi(segment)
		if err != nil || idx < 0 || idx >= len(n) {
			return nil, common.ErrPathNotFound{Path: path, Reason: "index out of range: " + segment}
		}
		replacement, err := edit(n[idx], path[1:], fn)
		if err != nil {
			return nil, err
		}
		n[idx] = replacement
		return n, nil
	default:
		return nil, common.ErrPathNotFound{Path: path, Reason: "segment does not address a container"}
	}
}

func (s State) editRoot(path operation.Path, fn func(parent any, last string) (any, error)) error {
	_, err := edit(map[string]any(s), path, fn)
	return err
}

func (s State) insert(path operation.Path, value any) error {
	return s.editRoot(path, func(parent any, last string) (any, error) {
		switch p := parent.(type) {
		case map[string]any:
			p[last] = value
			return p, nil
		case []any:
			idx, err := strconv.Atoi(last)
			if err != nil || idx < 0 {
				return nil, common.ErrPathNotFound{Path: path, Reason: "invalid sequence index: " + last}
			}
			if idx > len(p) {
				idx = len(p)
			}
			p = append(p, nil)
			copy(p[idx+1:], p[idx:])
			p[idx] = value
			return p, nil
		default:
			return nil, common.ErrPathNotFound{Path: path, Reason: "parent is not a container"}
		}
	})
}

func (s State) delete(path operation.Path) error {
	return s.editRoot(path, func(parent any, last string) (any, error) {
		switch p := parent.(type) {
		case map[string]any:
			if _, ok := p[last]; !ok {
				return nil, common.ErrPathNotFound{Path: path, Reason: "key not found: " + last}
			}
			delete(p, last)
			return p, nil
		case []any:
			idx, err := strconv.Atoi(last)
			if err != nil || idx < 0 || idx >= len(p) {
				return nil, common.ErrPathNotFound{Path: path, Reason: "index out of range: " + last}
			}
			return append(p[:idx], p[idx+1:]...), nil
		default:
			return nil, common.ErrPathNotFound{Path: path, Reason: "parent is not a container"}
		}
	})
}

func (s State) update(path operation.Path, value any) error {
	return s.editRoot(path, func(parent any, last string) (any, error) {
		switch p := parent.(type) {
		case map[string]any:
			p[last] = value
			return p, nil
		case []any:
			idx, err := strconv.Atoi(last)
			if err != nil || idx < 0 {
				return nil, common.ErrPathNotFound{Path: path, Reason: "invalid sequence index: " + last}
			}
			// Out-of-range sequence updates are a no-op by contract.
			if idx < len(p) {
				p[idx] = value
			}
			return p, nil
		default:
			return nil, common.ErrPathNotFound{Path: path, Reason: "parent is not a container"}
		}
	})
}

// move pops the value at the payload's sourcePath and re-inserts it at the
// targetPath. A move whose endpoints cannot both be resolved is a no-op.
func (s State) move(op *operation.Operation) error {
	src, dst, ok := op.MovePaths()
	if !ok {
		return common.ErrInvalidOperation{Message: "move payload is missing sourcePath or targetPath"}
	}

	value, err := s.Get(src)
	if err != nil {
		return nil
	}
	if parent, _, cerr := s.container(dst); cerr != nil || parent == nil {
		return nil
	}
	if err := s.delete(src); err != nil {
		return nil
	}
	if err := s.insert(dst, value); err != nil {
		// The target container vanished between the check and the insert
		// (possible when source removal reshaped a shared ancestor).
		return nil
	}
	return nil
}

// style merges the payload's style mapping into the "style" key of the
// element at path, creating the key when absent.
func (s State) style(op *operation.Operation) error {
	patch, ok := op.StylePatch()
	if !ok {
		return common.ErrInvalidOperation{Message: "style payload is missing a style mapping"}
	}

	node, err := s.Get(op.Path)
	if err != nil {
		return err
	}
	element, ok := node.(map[string]any)
	if !ok {
		return common.ErrPathNotFound{Path: op.Path, Reason: "style target is not an object"}
	}

	style, ok := element["style"].(map[string]any)
	if !ok {
		style = make(map[string]any)
		element["style"] = style
	}
	for k, v := range patch {
		style[k] = deepCopyValue(v)
	}
	return nil
}
