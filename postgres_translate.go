package polystore

import (
	"encoding/json"
	"fmt"
	"strings"
)

// pgTextPath renders a field path as a jsonb text-array path literal:
// "a.b[0]" -> {a,b,0}. Quotes are stripped rather than escaped; field
// names carrying braces or quotes make the filter untranslatable
// upstream.
func pgTextPath(field string) string {
	segs := parsePath(field)
	parts := make([]string, 0, len(segs))
	for _, seg := range segs {
		if seg.isIndex {
			parts = append(parts, fmt.Sprintf("%d", seg.index))
		} else {
			parts = append(parts, seg.key)
		}
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func pgPathSafe(field string) bool {
	return !strings.ContainsAny(field, `{}'",`)
}

// translatePostgresExpr renders a filter as a jsonb WHERE clause with
// $n args. Only predicates whose SQL semantics are a superset of the
// evaluator's translate; the evaluator re-checks every fetched row, so
// push-down is purely a bandwidth optimization. Negations stay client
// side for the same reason as in the SQLite translator.
func translatePostgresExpr(expr Expr, processor *ItemProcessor) (string, []interface{}, bool) {
	if expr == nil {
		return "", nil, true
	}
	t := &pgTranslator{processor: processor}
	clause, ok := t.expr(expr)
	if !ok {
		return "", nil, false
	}
	return clause, t.args, true
}

type pgTranslator struct {
	processor *ItemProcessor
	args      []interface{}
}

func (t *pgTranslator) param(v interface{}) string {
	t.args = append(t.args, v)
	return fmt.Sprintf("$%d", len(t.args))
}

// jsonField extracts the path as jsonb, for type-aware equality.
func (t *pgTranslator) jsonField(path string) (string, bool) {
	resolved := t.processor.ResolveField(path)
	if !pgPathSafe(resolved) {
		return "", false
	}
	return "(doc #> '" + pgTextPath(resolved) + "')", true
}

// textField extracts the path as text, for LIKE and string ordering.
func (t *pgTranslator) textField(path string) (string, bool) {
	resolved := t.processor.ResolveField(path)
	if !pgPathSafe(resolved) {
		return "", false
	}
	return "(doc #>> '" + pgTextPath(resolved) + "')", true
}

func (t *pgTranslator) expr(expr Expr) (string, bool) {
	switch e := expr.(type) {
	case And:
		l, ok := t.expr(e.Left)
		if !ok {
			return "", false
		}
		r, ok := t.expr(e.Right)
		if !ok {
			return "", false
		}
		return "(" + l + " AND " + r + ")", true
	case Or:
		l, ok := t.expr(e.Left)
		if !ok {
			return "", false
		}
		r, ok := t.expr(e.Right)
		if !ok {
			return "", false
		}
		return "(" + l + " OR " + r + ")", true
	case Comparison:
		return t.comparison(e)
	case Function:
		return t.function(e)
	}
	return "", false
}

// jsonParam binds a value as a jsonb literal so equality is type-aware
// (jsonb compares 5 and 5.0 equal, like the evaluator does).
func (t *pgTranslator) jsonParam(v interface{}) (string, bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	return t.param(string(payload)) + "::jsonb", true
}

func (t *pgTranslator) comparison(e Comparison) (string, bool) {
	field, fok := e.Left.(Field)
	value, vok := e.Right.(Value)
	if !fok || !vok {
		return "", false
	}

	switch e.Op {
	case OpEQ:
		if value.V == nil {
			return "", false
		}
		lhs, ok := t.jsonField(field.Path)
		if !ok {
			return "", false
		}
		rhs, ok := t.jsonParam(value.V)
		if !ok {
			return "", false
		}
		return lhs + " = " + rhs, true
	case OpIn:
		list, ok := value.V.([]interface{})
		if !ok || len(list) == 0 {
			return "", false
		}
		lhs, ok := t.jsonField(field.Path)
		if !ok {
			return "", false
		}
		clauses := make([]string, 0, len(list))
		for _, v := range list {
			if v == nil {
				return "", false
			}
			rhs, ok := t.jsonParam(v)
			if !ok {
				return "", false
			}
			clauses = append(clauses, lhs+" = "+rhs)
		}
		return "(" + strings.Join(clauses, " OR ") + ")", true
	case OpLT, OpLTE, OpGT, OpGTE:
		// Ordered comparisons only push down for strings: text ordering
		// matches the evaluator, while a numeric cast could error on
		// rows holding non-numeric values.
		s, ok := value.V.(string)
		if !ok {
			return "", false
		}
		lhs, ok := t.textField(field.Path)
		if !ok {
			return "", false
		}
		return lhs + " " + string(e.Op) + " " + t.param(s), true
	case OpLike:
		s, ok := value.V.(string)
		if !ok {
			return "", false
		}
		lhs, ok := t.textField(field.Path)
		if !ok {
			return "", false
		}
		return lhs + " LIKE " + t.param(s), true
	}
	return "", false
}

func (t *pgTranslator) function(e Function) (string, bool) {
	if e.Namespace != FunctionBuiltin || len(e.Args) == 0 {
		return "", false
	}
	f, ok := e.Args[0].(Field)
	if !ok {
		return "", false
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
		lhs, ok := t.jsonField(f.Path)
		if !ok {
			return "", false
		}
		return lhs + " IS NOT NULL", true
	case FuncIsNotDefined:
		lhs, ok := t.jsonField(f.Path)
		if !ok {
			return "", false
		}
		return lhs + " IS NULL", true
	case FuncStartsWith:
		prefix, ok := stringArg(1)
		if !ok {
			return "", false
		}
		lhs, ok := t.textField(f.Path)
		if !ok {
			return "", false
		}
		return lhs + ` LIKE ` + t.param(escapeSQLLike(prefix)+"%") + ` ESCAPE '\'`, true
	case FuncContains:
		substr, ok := stringArg(1)
		if !ok {
			return "", false
		}
		lhs, ok := t.textField(f.Path)
		if !ok {
			return "", false
		}
		return lhs + ` LIKE ` + t.param("%"+escapeSQLLike(substr)+"%") + ` ESCAPE '\'`, true
	case FuncArrayContains:
		if len(e.Args) < 2 {
			return "", false
		}
		v, ok := e.Args[1].(Value)
		if !ok || v.V == nil {
			return "", false
		}
		lhs, okf := t.jsonField(f.Path)
		rhs, okp := t.jsonParam(v.V)
		if !okf || !okp {
			return "", false
		}
		return lhs + " @> " + rhs, true
	}
	return "", false
}
