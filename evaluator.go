package polystore

import (
	"reflect"
	"regexp"
	"sort"
	"strings"
)

// Evaluator executes the same expression trees the planner reasons
// about, client-side over decoded documents. Backends without server-
// side filtering run residual filters through it, and the memory
// adapter is built entirely on it. Because plan and evaluation share
// one AST, what the plan claims is key-covered is exactly what gets
// evaluated.
type Evaluator struct {
	processor *ItemProcessor
}

// NewEvaluator builds an evaluator resolving special attributes through
// the processor. A nil processor leaves field paths untouched.
func NewEvaluator(processor *ItemProcessor) *Evaluator {
	return &Evaluator{processor: processor}
}

// undefined marks an absent field, distinct from a null value.
type undefined struct{}

// IsUndefined reports whether an evaluated value was an absent field.
func IsUndefined(v interface{}) bool {
	_, ok := v.(undefined)
	return ok
}

func (e *Evaluator) resolve(path string) string {
	if e.processor == nil {
		return path
	}
	return e.processor.ResolveField(path)
}

// QueryItems applies filter, order, projection and limit/offset in that
// order, the way a backend would.
func (e *Evaluator) QueryItems(items []Document, where Expr, orderBy *OrderBy, sel *Select, limit, offset int) ([]Document, error) {
	out, err := e.FilterItems(items, where)
	if err != nil {
		return nil, err
	}
	out, err = e.OrderItems(out, orderBy)
	if err != nil {
		return nil, err
	}
	out, err = e.ProjectItems(out, sel)
	if err != nil {
		return nil, err
	}
	return limitItems(out, limit, offset), nil
}

// CountItems counts the items matching the filter.
func (e *Evaluator) CountItems(items []Document, where Expr) (int, error) {
	out, err := e.FilterItems(items, where)
	if err != nil {
		return 0, err
	}
	return len(out), nil
}

// FilterItems keeps the items for which the filter is truthy. A nil
// filter keeps everything.
func (e *Evaluator) FilterItems(items []Document, where Expr) ([]Document, error) {
	if where == nil {
		return items, nil
	}
	var out []Document
	for _, item := range items {
		ok, err := e.Matches(item, where)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, item)
		}
	}
	return out, nil
}

// Matches evaluates the filter against one document.
func (e *Evaluator) Matches(item Document, where Expr) (bool, error) {
	v, err := e.EvalExpr(item, where)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

// OrderItems sorts by the order terms. Items missing any order field
// are dropped first, matching server-side sparse index behavior.
func (e *Evaluator) OrderItems(items []Document, orderBy *OrderBy) ([]Document, error) {
	if orderBy == nil || len(orderBy.Terms) == 0 {
		return items, nil
	}
	var kept []Document
	for _, item := range items {
		defined := true
		for _, term := range orderBy.Terms {
			if _, ok := getPath(item, e.resolve(term.Field)); !ok {
				defined = false
				break
			}
		}
		if defined {
			kept = append(kept, item)
		}
	}
	sorted := append([]Document(nil), kept...)
	sort.SliceStable(sorted, func(i, j int) bool {
		for _, term := range orderBy.Terms {
			a, _ := getPath(sorted[i], e.resolve(term.Field))
			b, _ := getPath(sorted[j], e.resolve(term.Field))
			c := compareValues(a, b)
			if c == 0 {
				continue
			}
			if term.Direction == Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return sorted, nil
}

// ProjectItems applies the projection to each item. An empty selection
// returns the items unchanged.
func (e *Evaluator) ProjectItems(items []Document, sel *Select) ([]Document, error) {
	if sel == nil || len(sel.Terms) == 0 {
		return items, nil
	}
	out := make([]Document, 0, len(items))
	for _, item := range items {
		projected, err := e.ProjectItem(item, sel)
		if err != nil {
			return nil, err
		}
		out = append(out, projected)
	}
	return out, nil
}

// ProjectItem builds a new document holding only the selected fields,
// under their aliases when given. Absent fields are omitted.
func (e *Evaluator) ProjectItem(item Document, sel *Select) (Document, error) {
	if sel == nil || len(sel.Terms) == 0 {
		return item, nil
	}
	out := Document{}
	for _, term := range sel.Terms {
		val, ok := getPath(item, e.resolve(term.Field))
		if !ok {
			continue
		}
		target := term.Alias
		if target == "" {
			target = term.Field
		}
		if err := applyOperation(out, UpdateOperation{Field: e.resolve(target), Op: UpdatePut, Args: []interface{}{val}}); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func limitItems(items []Document, limit, offset int) []Document {
	start := 0
	end := len(items)
	if offset > 0 {
		start = offset
	}
	if limit > 0 {
		end = start + limit
	}
	if start > len(items) {
		start = len(items)
	}
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

// EvalExpr evaluates an expression against one document. A nil
// expression is true. Field evaluation yields an undefined marker for
// absent fields; combinators coerce operands through truthy.
func (e *Evaluator) EvalExpr(item Document, expr Expr) (interface{}, error) {
	switch ex := expr.(type) {
	case nil:
		return true, nil
	case Value:
		return ex.V, nil
	case Field:
		if v, ok := getPath(item, e.resolve(ex.Path)); ok {
			return v, nil
		}
		return undefined{}, nil
	case Function:
		return e.evalFunction(item, ex)
	case Comparison:
		return e.evalComparison(item, ex)
	case And:
		l, err := e.EvalExpr(item, ex.Left)
		if err != nil {
			return nil, err
		}
		if !truthy(l) {
			return false, nil
		}
		r, err := e.EvalExpr(item, ex.Right)
		if err != nil {
			return nil, err
		}
		return truthy(r), nil
	case Or:
		l, err := e.EvalExpr(item, ex.Left)
		if err != nil {
			return nil, err
		}
		if truthy(l) {
			return true, nil
		}
		r, err := e.EvalExpr(item, ex.Right)
		if err != nil {
			return nil, err
		}
		return truthy(r), nil
	case Not:
		v, err := e.EvalExpr(item, ex.Expr)
		if err != nil {
			return nil, err
		}
		return !truthy(v), nil
	}
	return nil, WithContext(ErrBadRequest, map[string]interface{}{
		"reason": "expression not supported",
	})
}

func (e *Evaluator) evalComparison(item Document, expr Comparison) (bool, error) {
	lval, err := e.EvalExpr(item, expr.Left)
	if err != nil {
		return false, err
	}
	rval, err := e.EvalExpr(item, expr.Right)
	if err != nil {
		return false, err
	}
	switch expr.Op {
	case OpLT, OpLTE, OpGT, OpGTE:
		c, ok := compareOrdered(lval, rval)
		if !ok {
			return false, nil
		}
		switch expr.Op {
		case OpLT:
			return c < 0, nil
		case OpLTE:
			return c <= 0, nil
		case OpGT:
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	case OpEQ:
		return valuesEqual(lval, rval), nil
	case OpNEQ:
		return !valuesEqual(lval, rval), nil
	case OpBetween:
		bounds, ok := rval.([]interface{})
		if !ok || len(bounds) != 2 {
			return false, WithContext(ErrBadRequest, map[string]interface{}{
				"reason": "right operand for between must be a two-element list",
			})
		}
		c1, ok1 := compareOrdered(lval, bounds[0])
		c2, ok2 := compareOrdered(lval, bounds[1])
		if !ok1 || !ok2 {
			return false, nil
		}
		return c1 >= 0 && c2 <= 0, nil
	case OpIn, OpNotIn:
		list, ok := rval.([]interface{})
		if !ok {
			return false, WithContext(ErrBadRequest, map[string]interface{}{
				"reason": "right operand for in/not in must be a list",
			})
		}
		found := false
		for _, v := range list {
			if valuesEqual(lval, v) {
				found = true
				break
			}
		}
		if expr.Op == OpIn {
			return found, nil
		}
		return !found, nil
	case OpLike:
		ls, lok := lval.(string)
		rs, rok := rval.(string)
		if !lok || !rok {
			return false, nil
		}
		re, err := regexp.Compile("^(?:" + likeToRegexp(rs) + ")$")
		if err != nil {
			return false, nil
		}
		return re.MatchString(ls), nil
	}
	return false, WithContext(ErrBadRequest, map[string]interface{}{
		"reason": "comparison not supported",
		"op":     string(expr.Op),
	})
}

// likeToRegexp translates SQL LIKE wildcards: % matches any run, _ a
// single character. Everything else is quoted literally.
func likeToRegexp(pattern string) string {
	out := make([]byte, 0, len(pattern)*2)
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '%':
			out = append(out, '.', '*')
		case '_':
			out = append(out, '.')
		default:
			out = append(out, regexp.QuoteMeta(string(c))...)
		}
	}
	return string(out)
}

func (e *Evaluator) evalFunction(item Document, expr Function) (interface{}, error) {
	if expr.Namespace != FunctionBuiltin {
		return nil, WithContext(ErrBadRequest, map[string]interface{}{
			"reason":    "function namespace not supported",
			"namespace": expr.Namespace,
		})
	}
	arg := func(i int) (interface{}, error) {
		if i >= len(expr.Args) {
			return nil, WithContext(ErrBadRequest, map[string]interface{}{
				"reason":   "missing function argument",
				"function": expr.Name,
			})
		}
		return e.EvalExpr(item, expr.Args[i])
	}
	switch expr.Name {
	case FuncIsDefined:
		v, err := arg(0)
		if err != nil {
			return nil, err
		}
		return !IsUndefined(v), nil
	case FuncIsNotDefined:
		v, err := arg(0)
		if err != nil {
			return nil, err
		}
		return IsUndefined(v), nil
	case FuncIsType:
		v, err := arg(0)
		if err != nil {
			return nil, err
		}
		t, err := arg(1)
		if err != nil {
			return nil, err
		}
		name, ok := t.(string)
		if !ok {
			return nil, WithContext(ErrBadRequest, map[string]interface{}{
				"reason": "is_type requires a string type name",
			})
		}
		return valueIsType(v, name)
	case FuncLength:
		v, err := arg(0)
		if err != nil {
			return nil, err
		}
		if s, ok := v.(string); ok {
			return len(s), nil
		}
		return 0, nil
	case FuncContains:
		v1, err := arg(0)
		if err != nil {
			return nil, err
		}
		v2, err := arg(1)
		if err != nil {
			return nil, err
		}
		s1, ok1 := v1.(string)
		s2, ok2 := v2.(string)
		return ok1 && ok2 && strings.Contains(s1, s2), nil
	case FuncStartsWith:
		v1, err := arg(0)
		if err != nil {
			return nil, err
		}
		v2, err := arg(1)
		if err != nil {
			return nil, err
		}
		s1, ok1 := v1.(string)
		s2, ok2 := v2.(string)
		return ok1 && ok2 && len(s1) >= len(s2) && s1[:len(s2)] == s2, nil
	case FuncArrayLength:
		v, err := arg(0)
		if err != nil {
			return nil, err
		}
		if arr, ok := v.([]interface{}); ok {
			return len(arr), nil
		}
		return 0, nil
	case FuncArrayContains:
		v1, err := arg(0)
		if err != nil {
			return nil, err
		}
		v2, err := arg(1)
		if err != nil {
			return nil, err
		}
		arr, ok := v1.([]interface{})
		if !ok {
			return false, nil
		}
		for _, v := range arr {
			if valuesEqual(v, v2) {
				return true, nil
			}
		}
		return false, nil
	case FuncArrayContainsAny:
		v1, err := arg(0)
		if err != nil {
			return nil, err
		}
		v2, err := arg(1)
		if err != nil {
			return nil, err
		}
		arr, ok1 := v1.([]interface{})
		wanted, ok2 := v2.([]interface{})
		if !ok1 || !ok2 {
			return false, nil
		}
		for _, w := range wanted {
			for _, v := range arr {
				if valuesEqual(v, w) {
					return true, nil
				}
			}
		}
		return false, nil
	}
	return nil, WithContext(ErrBadRequest, map[string]interface{}{
		"reason":   "function not supported",
		"function": expr.Name,
	})
}

func valueIsType(v interface{}, name string) (bool, error) {
	switch name {
	case FieldTypeString:
		_, ok := v.(string)
		return ok, nil
	case FieldTypeNumber:
		_, ok := toFloat(v)
		_, isBool := v.(bool)
		return ok && !isBool, nil
	case FieldTypeBoolean:
		_, ok := v.(bool)
		return ok, nil
	case FieldTypeArray:
		_, ok := v.([]interface{})
		return ok, nil
	case FieldTypeObject:
		_, ok := asMap(v)
		return ok, nil
	case FieldTypeNull:
		return v == nil, nil
	}
	return false, WithContext(ErrBadRequest, map[string]interface{}{
		"reason": "unknown type name for is_type",
		"type":   name,
	})
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case undefined:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []interface{}:
		return len(t) > 0
	case map[string]interface{}:
		return len(t) > 0
	case Document:
		return len(t) > 0
	}
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	return true
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// valuesEqual compares with numeric normalization so an int written by
// a caller matches the float64 a JSON decoder produced.
func valuesEqual(a, b interface{}) bool {
	if IsUndefined(a) || IsUndefined(b) {
		return IsUndefined(a) && IsUndefined(b)
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return reflect.DeepEqual(a, b)
}

// compareOrdered returns -1/0/1 when both values are comparable
// (both strings or both numbers), false otherwise.
func compareOrdered(a, b interface{}) (int, bool) {
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		switch {
		case as < bs:
			return -1, true
		case as > bs:
			return 1, true
		}
		return 0, true
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// compareValues is compareOrdered with a stable fallback for
// incomparable values, used by sorting.
func compareValues(a, b interface{}) int {
	if c, ok := compareOrdered(a, b); ok {
		return c
	}
	ab, aok := a.(bool)
	bb, bok := b.(bool)
	if aok && bok {
		switch {
		case !ab && bb:
			return -1
		case ab && !bb:
			return 1
		}
	}
	return 0
}
