package polystore

import (
	"strconv"
	"strings"
)

// Document is a decoded JSON object as stored in a collection.
type Document map[string]interface{}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	return deepCopyMap(d)
}

func deepCopyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return map[string]interface{}(deepCopyMap(t))
	case Document:
		return map[string]interface{}(deepCopyMap(t))
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}

func deepCopyMap(m map[string]interface{}) Document {
	out := make(Document, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

// pathSegment is one step of a parsed field path: a map key or an array
// index. Index -1 encodes the "-" (end-of-array) subscript.
type pathSegment struct {
	key     string
	index   int
	isIndex bool
}

// parsePath splits "a.b[0].c" into segments. Subscripts may appear
// after a key or stand alone ("[0].name" inside a nested traversal).
func parsePath(path string) []pathSegment {
	var segs []pathSegment
	for _, part := range strings.Split(path, ".") {
		for {
			open := strings.IndexByte(part, '[')
			if open < 0 {
				if part != "" {
					segs = append(segs, pathSegment{key: part})
				}
				break
			}
			if open > 0 {
				segs = append(segs, pathSegment{key: part[:open]})
			}
			close := strings.IndexByte(part[open:], ']')
			if close < 0 {
				// Malformed subscript, treat the rest as a literal key.
				segs = append(segs, pathSegment{key: part[open:]})
				break
			}
			sub := part[open+1 : open+close]
			if sub == "-" {
				segs = append(segs, pathSegment{index: -1, isIndex: true})
			} else if n, err := strconv.Atoi(sub); err == nil {
				segs = append(segs, pathSegment{index: n, isIndex: true})
			} else {
				segs = append(segs, pathSegment{key: sub})
			}
			part = part[open+close+1:]
			if part == "" {
				break
			}
		}
	}
	return segs
}

// getPath resolves a field path against the document. The second result
// is false when any step of the path is absent.
func getPath(doc map[string]interface{}, path string) (interface{}, bool) {
	var cur interface{} = map[string]interface{}(doc)
	for _, seg := range parsePath(path) {
		if seg.isIndex {
			arr, ok := cur.([]interface{})
			if !ok || seg.index < 0 || seg.index >= len(arr) {
				return nil, false
			}
			cur = arr[seg.index]
			continue
		}
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		v, ok := m[seg.key]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		return t, true
	case Document:
		return t, true
	}
	return nil, false
}

// ApplyUpdate returns a copy of the document with the update's
// operations applied in order. Used by backends without native update
// expressions and to compute returned values.
func (e *Evaluator) ApplyUpdate(item Document, update *Update) (Document, error) {
	out := item.Clone()
	if update == nil {
		return out, nil
	}
	for _, op := range update.Operations {
		resolved := op
		resolved.Field = e.resolve(op.Field)
		if op.Op == UpdateMove && len(op.Args) == 1 {
			if dest, ok := op.Args[0].(string); ok {
				resolved.Args = []interface{}{e.resolve(dest)}
			}
		}
		if err := applyOperation(out, resolved); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// applyOperation mutates doc in place according to one update
// operation. Intermediate maps are created on demand for put, insert
// and increment; other operations on absent paths are no-ops or errors
// per operator.
func applyOperation(doc map[string]interface{}, op UpdateOperation) error {
	segs := parsePath(op.Field)
	if len(segs) == 0 {
		return WithContext(ErrBadRequest, map[string]interface{}{
			"reason": "empty update field path",
		})
	}

	firstArg := func() interface{} {
		if len(op.Args) > 0 {
			return op.Args[0]
		}
		return nil
	}

	switch op.Op {
	case UpdatePut:
		return setAtPath(doc, segs, firstArg(), false)
	case UpdateInsert:
		return setAtPath(doc, segs, firstArg(), true)
	case UpdateDelete:
		return deleteAtPath(doc, segs)
	case UpdateIncrement:
		delta, ok := toFloat(firstArg())
		if !ok {
			return WithContext(ErrBadRequest, map[string]interface{}{
				"reason": "increment requires a numeric argument",
				"field":  op.Field,
			})
		}
		cur, _ := getPath(doc, op.Field)
		base, _ := toFloat(cur)
		// Integer-in, integer-out keeps counters clean for backends
		// storing native ints.
		if isIntegral(base) && isIntegral(delta) {
			return setAtPath(doc, segs, int64(base)+int64(delta), false)
		}
		return setAtPath(doc, segs, base+delta, false)
	case UpdateMove:
		dest, ok := firstArg().(string)
		if !ok {
			return WithContext(ErrBadRequest, map[string]interface{}{
				"reason": "move requires a destination path",
				"field":  op.Field,
			})
		}
		val, found := getPath(doc, op.Field)
		if !found {
			return WithContext(ErrBadRequest, map[string]interface{}{
				"reason": "move source field not found",
				"field":  op.Field,
			})
		}
		if err := setAtPath(doc, parsePath(dest), val, false); err != nil {
			return err
		}
		return deleteAtPath(doc, segs)
	case UpdateArrayUnion, UpdateArrayRemove:
		values, ok := firstArg().([]interface{})
		if !ok {
			return WithContext(ErrBadRequest, map[string]interface{}{
				"reason": "array operation requires a list argument",
				"field":  op.Field,
			})
		}
		cur, _ := getPath(doc, op.Field)
		arr, _ := cur.([]interface{})
		if op.Op == UpdateArrayUnion {
			for _, v := range values {
				exists := false
				for _, e := range arr {
					if valuesEqual(e, v) {
						exists = true
						break
					}
				}
				if !exists {
					arr = append(arr, v)
				}
			}
		} else {
			var kept []interface{}
			for _, e := range arr {
				remove := false
				for _, v := range values {
					if valuesEqual(e, v) {
						remove = true
						break
					}
				}
				if !remove {
					kept = append(kept, e)
				}
			}
			arr = kept
		}
		return setAtPath(doc, segs, arr, false)
	case UpdateAppend, UpdatePrepend:
		add, ok := firstArg().(string)
		if !ok {
			return WithContext(ErrBadRequest, map[string]interface{}{
				"reason": "append/prepend requires a string argument",
				"field":  op.Field,
			})
		}
		cur, _ := getPath(doc, op.Field)
		s, _ := cur.(string)
		if op.Op == UpdateAppend {
			s = s + add
		} else {
			s = add + s
		}
		return setAtPath(doc, segs, s, false)
	}
	return WithContext(ErrBadRequest, map[string]interface{}{
		"reason": "update operation not supported",
		"op":     string(op.Op),
	})
}

// setAtPath writes value at the path, creating intermediate containers
// on the way. With insert set, an array subscript inserts rather than
// replaces; subscript "-" addresses the end of the array in both modes.
func setAtPath(doc map[string]interface{}, segs []pathSegment, value interface{}, insert bool) error {
	_, err := setIn(doc, segs, value, insert)
	return err
}

func setIn(cur interface{}, segs []pathSegment, value interface{}, insert bool) (interface{}, error) {
	seg := segs[0]
	last := len(segs) == 1

	if seg.isIndex {
		arr, ok := cur.([]interface{})
		if !ok && cur != nil {
			return nil, pathNotFound()
		}
		if last {
			idx := seg.index
			switch {
			case idx == -1 && insert:
				arr = append(arr, value)
			case idx == -1:
				if len(arr) == 0 {
					arr = append(arr, value)
				} else {
					arr[len(arr)-1] = value
				}
			case insert:
				if idx > len(arr) {
					return nil, indexOutOfRange(idx)
				}
				arr = append(arr, nil)
				copy(arr[idx+1:], arr[idx:])
				arr[idx] = value
			default:
				if idx >= len(arr) {
					return nil, indexOutOfRange(idx)
				}
				arr[idx] = value
			}
			return arr, nil
		}
		idx := seg.index
		if idx == -1 {
			idx = len(arr) - 1
		}
		if idx < 0 || idx >= len(arr) {
			return nil, pathNotFound()
		}
		child, err := setIn(arr[idx], segs[1:], value, insert)
		if err != nil {
			return nil, err
		}
		arr[idx] = child
		return arr, nil
	}

	m, ok := asMap(cur)
	if !ok {
		if cur != nil {
			return nil, pathNotFound()
		}
		m = map[string]interface{}{}
	}
	if last {
		m[seg.key] = value
		return m, nil
	}
	child, err := setIn(m[seg.key], segs[1:], value, insert)
	if err != nil {
		return nil, err
	}
	m[seg.key] = child
	return m, nil
}

// deleteAtPath removes the value at the path. Absent paths are no-ops.
func deleteAtPath(doc map[string]interface{}, segs []pathSegment) error {
	_, err := deleteIn(doc, segs)
	return err
}

func deleteIn(cur interface{}, segs []pathSegment) (interface{}, error) {
	seg := segs[0]
	last := len(segs) == 1

	if seg.isIndex {
		arr, ok := cur.([]interface{})
		if !ok {
			return cur, nil
		}
		idx := seg.index
		if idx == -1 {
			idx = len(arr) - 1
		}
		if idx < 0 || idx >= len(arr) {
			return arr, nil
		}
		if last {
			return append(arr[:idx], arr[idx+1:]...), nil
		}
		child, err := deleteIn(arr[idx], segs[1:])
		if err != nil {
			return nil, err
		}
		arr[idx] = child
		return arr, nil
	}

	m, ok := asMap(cur)
	if !ok {
		return cur, nil
	}
	if last {
		delete(m, seg.key)
		return m, nil
	}
	next, exists := m[seg.key]
	if !exists {
		return m, nil
	}
	child, err := deleteIn(next, segs[1:])
	if err != nil {
		return nil, err
	}
	m[seg.key] = child
	return m, nil
}

func isIntegral(f float64) bool {
	return f == float64(int64(f))
}

func pathNotFound() error {
	return WithContext(ErrBadRequest, map[string]interface{}{
		"reason": "update path does not exist",
	})
}

func indexOutOfRange(idx int) error {
	return WithContext(ErrBadRequest, map[string]interface{}{
		"reason": "array index out of range",
		"index":  idx,
	})
}
