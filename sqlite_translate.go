package polystore

import (
	"fmt"
	"strings"
)

// translateSQLiteExpr renders a filter as a json1 WHERE clause with
// placeholder args. The third result reports whether the whole tree
// was translatable; callers fall back to client-side evaluation when
// it is not. A nil filter translates to the empty clause.
func translateSQLiteExpr(expr Expr, processor *ItemProcessor) (string, []interface{}, bool) {
	if expr == nil {
		return "", nil, true
	}
	t := &sqliteTranslator{processor: processor}
	clause, ok := t.expr(expr)
	if !ok {
		return "", nil, false
	}
	return clause, t.args, true
}

type sqliteTranslator struct {
	processor *ItemProcessor
	args      []interface{}
}

func (t *sqliteTranslator) field(path string) string {
	resolved := t.processor.ResolveField(path)
	return fmt.Sprintf("json_extract(doc, '$.%s')", strings.ReplaceAll(resolved, "'", "''"))
}

func (t *sqliteTranslator) param(v interface{}) string {
	t.args = append(t.args, v)
	return "?"
}

func (t *sqliteTranslator) expr(expr Expr) (string, bool) {
	switch e := expr.(type) {
	case And:
		return t.binary(e.Left, e.Right, "AND")
	case Or:
		return t.binary(e.Left, e.Right, "OR")
	case Not:
		// SQL three-valued logic turns NOT over an absent path into
		// NULL (row excluded) where the evaluator yields true. Negated
		// trees stay client-side so push-down never narrows a result.
		return "", false
	case Comparison:
		return t.comparison(e)
	case Function:
		return t.function(e)
	}
	return "", false
}

func (t *sqliteTranslator) binary(left, right Expr, op string) (string, bool) {
	l, ok := t.expr(left)
	if !ok {
		return "", false
	}
	r, ok := t.expr(right)
	if !ok {
		return "", false
	}
	return "(" + l + " " + op + " " + r + ")", true
}

func (t *sqliteTranslator) operand(expr Expr) (string, bool) {
	switch e := expr.(type) {
	case Field:
		return t.field(e.Path), true
	case Value:
		switch e.V.(type) {
		case nil:
			return "NULL", true
		case string, bool, int, int32, int64, float32, float64:
			return t.param(e.V), true
		}
		return "", false
	}
	return "", false
}

func (t *sqliteTranslator) comparison(e Comparison) (string, bool) {
	switch e.Op {
	case OpBetween:
		lhs, ok := t.operand(e.Left)
		if !ok {
			return "", false
		}
		bounds, ok := listValues(e.Right)
		if !ok || len(bounds) != 2 {
			return "", false
		}
		return "(" + lhs + " >= " + t.param(bounds[0]) + " AND " + lhs + " <= " + t.param(bounds[1]) + ")", true
	case OpIn:
		lhs, ok := t.operand(e.Left)
		if !ok {
			return "", false
		}
		values, ok := listValues(e.Right)
		if !ok || len(values) == 0 {
			return "", false
		}
		params := make([]string, 0, len(values))
		for _, v := range values {
			params = append(params, t.param(v))
		}
		return lhs + " IN (" + strings.Join(params, ", ") + ")", true
	case OpNotIn, OpNEQ:
		// Negative comparisons exclude absent paths in SQL but match
		// client-side; see the Not case.
		return "", false
	case OpLike:
		lhs, ok := t.operand(e.Left)
		if !ok {
			return "", false
		}
		rhs, ok := t.operand(e.Right)
		if !ok {
			return "", false
		}
		return lhs + " LIKE " + rhs, true
	case OpEQ:
		// Equality against NULL needs IS, and NULL is also how json1
		// reports an absent path, which the evaluator treats as
		// undefined. Leave null comparisons to the client side.
		if isNullValue(e.Left) || isNullValue(e.Right) {
			return "", false
		}
		fallthrough
	case OpLT, OpLTE, OpGT, OpGTE:
		lhs, ok := t.operand(e.Left)
		if !ok {
			return "", false
		}
		rhs, ok := t.operand(e.Right)
		if !ok {
			return "", false
		}
		return lhs + " " + string(e.Op) + " " + rhs, true
	}
	return "", false
}

func (t *sqliteTranslator) function(e Function) (string, bool) {
	if e.Namespace != FunctionBuiltin {
		return "", false
	}
	fieldArg := func() (string, bool) {
		if len(e.Args) == 0 {
			return "", false
		}
		f, ok := e.Args[0].(Field)
		if !ok {
			return "", false
		}
		return f.Path, true
	}
	stringArg := func(i int) (string, bool) {
		if len(e.Args) <= i {
			return "", false
		}
		v, ok := e.Args[i].(Value)
		if !ok {
			return "", false
		}
		s, ok := v.V.(string)
		return s, ok
	}

	switch e.Name {
	case FuncIsDefined:
		path, ok := fieldArg()
		if !ok {
			return "", false
		}
		return t.field(path) + " IS NOT NULL", true
	case FuncIsNotDefined:
		path, ok := fieldArg()
		if !ok {
			return "", false
		}
		return t.field(path) + " IS NULL", true
	case FuncLength:
		path, ok := fieldArg()
		if !ok {
			return "", false
		}
		return "LENGTH(" + t.field(path) + ")", true
	case FuncArrayLength:
		path, ok := fieldArg()
		if !ok {
			return "", false
		}
		return "JSON_ARRAY_LENGTH(" + t.field(path) + ")", true
	case FuncStartsWith:
		path, ok := fieldArg()
		if !ok {
			return "", false
		}
		prefix, ok := stringArg(1)
		if !ok {
			return "", false
		}
		return t.field(path) + " LIKE " + t.param(escapeSQLLike(prefix)+"%") + " ESCAPE '\\'", true
	case FuncContains:
		path, ok := fieldArg()
		if !ok {
			return "", false
		}
		substr, ok := stringArg(1)
		if !ok {
			return "", false
		}
		return t.field(path) + " LIKE " + t.param("%"+escapeSQLLike(substr)+"%") + " ESCAPE '\\'", true
	}
	return "", false
}

func isNullValue(expr Expr) bool {
	v, ok := expr.(Value)
	return ok && v.V == nil
}

func listValues(expr Expr) ([]interface{}, bool) {
	v, ok := expr.(Value)
	if !ok {
		return nil, false
	}
	list, ok := v.V.([]interface{})
	return list, ok
}

func escapeSQLLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}
