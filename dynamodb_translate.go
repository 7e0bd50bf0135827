package polystore

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ddbExpr accumulates one request's expression-attribute names and
// values while rendering condition, key-condition, filter and update
// expressions. A single instance is shared by every expression on the
// request so the #fN/:vN counters never collide. Unlike the SQL and
// Mongo translators this one is total: DynamoDB's expression language
// is the only way to filter server-side, so an untranslatable
// construct is a BadRequest rather than a client-side fallback.
type ddbExpr struct {
	processor *ItemProcessor
	names     map[string]string
	values    map[string]types.AttributeValue
}

func newDDBExpr(processor *ItemProcessor) *ddbExpr {
	return &ddbExpr{
		processor: processor,
		names:     map[string]string{},
		values:    map[string]types.AttributeValue{},
	}
}

// Names returns the accumulated aliases, nil when none were needed.
func (t *ddbExpr) Names() map[string]string {
	if len(t.names) == 0 {
		return nil
	}
	return t.names
}

func (t *ddbExpr) Values() map[string]types.AttributeValue {
	if len(t.values) == 0 {
		return nil
	}
	return t.values
}

func (t *ddbExpr) value(v interface{}) (string, error) {
	av, err := attributevalue.Marshal(v)
	if err != nil {
		return "", WithContext(ErrBadRequest, map[string]interface{}{
			"reason": "value not representable",
			"error":  err.Error(),
		})
	}
	placeholder := fmt.Sprintf(":v%d", len(t.values))
	t.values[placeholder] = av
	return placeholder, nil
}

// field renders a document path with every name segment aliased, so
// reserved words and special characters never leak into the expression.
func (t *ddbExpr) field(path string) string {
	var sb strings.Builder
	for i, seg := range parsePath(t.processor.ResolveField(path)) {
		if seg.isIndex {
			fmt.Fprintf(&sb, "[%d]", seg.index)
			continue
		}
		alias := fmt.Sprintf("#f%d", len(t.names))
		t.names[alias] = seg.key
		if i > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(alias)
	}
	return sb.String()
}

func (t *ddbExpr) expr(expr Expr) (string, error) {
	switch e := expr.(type) {
	case And:
		l, err := t.expr(e.Left)
		if err != nil {
			return "", err
		}
		r, err := t.expr(e.Right)
		if err != nil {
			return "", err
		}
		return "(" + l + " AND " + r + ")", nil
	case Or:
		l, err := t.expr(e.Left)
		if err != nil {
			return "", err
		}
		r, err := t.expr(e.Right)
		if err != nil {
			return "", err
		}
		return "(" + l + " OR " + r + ")", nil
	case Not:
		inner, err := t.expr(e.Expr)
		if err != nil {
			return "", err
		}
		return "NOT " + inner, nil
	case Comparison:
		return t.comparison(e)
	case Function:
		return t.function(e)
	}
	return "", WithContext(ErrBadRequest, map[string]interface{}{
		"reason": "expression not supported on dynamodb",
	})
}

func (t *ddbExpr) comparison(e Comparison) (string, error) {
	f, fok := e.Left.(Field)
	value, vok := e.Right.(Value)
	if !fok || !vok {
		return "", WithContext(ErrBadRequest, map[string]interface{}{
			"reason": "comparison must be field against value",
		})
	}
	lhs := t.field(f.Path)

	switch e.Op {
	case OpEQ, OpLT, OpLTE, OpGT, OpGTE, OpNEQ:
		op := string(e.Op)
		if e.Op == OpNEQ {
			op = "<>"
		}
		rhs, err := t.value(value.V)
		if err != nil {
			return "", err
		}
		return lhs + " " + op + " " + rhs, nil
	case OpBetween:
		bounds, ok := value.V.([]interface{})
		if !ok || len(bounds) != 2 {
			return "", WithContext(ErrBadRequest, map[string]interface{}{
				"reason": "between requires two bounds",
			})
		}
		lo, err := t.value(bounds[0])
		if err != nil {
			return "", err
		}
		hi, err := t.value(bounds[1])
		if err != nil {
			return "", err
		}
		return lhs + " BETWEEN " + lo + " AND " + hi, nil
	case OpIn, OpNotIn:
		list, ok := value.V.([]interface{})
		if !ok || len(list) == 0 {
			return "", WithContext(ErrBadRequest, map[string]interface{}{
				"reason": "in requires a non-empty list",
			})
		}
		members := make([]string, 0, len(list))
		for _, v := range list {
			p, err := t.value(v)
			if err != nil {
				return "", err
			}
			members = append(members, p)
		}
		clause := lhs + " IN (" + strings.Join(members, ", ") + ")"
		if e.Op == OpNotIn {
			clause = "NOT " + clause
		}
		return clause, nil
	}
	return "", WithContext(ErrBadRequest, map[string]interface{}{
		"reason": "operator not supported on dynamodb",
		"op":     string(e.Op),
	})
}

func (t *ddbExpr) function(e Function) (string, error) {
	badFunc := func() error {
		return WithContext(ErrBadRequest, map[string]interface{}{
			"reason":   "function not supported on dynamodb",
			"function": e.Name,
		})
	}
	if e.Namespace != FunctionBuiltin || len(e.Args) == 0 {
		return "", badFunc()
	}
	f, ok := e.Args[0].(Field)
	if !ok {
		return "", badFunc()
	}
	lhs := t.field(f.Path)
	argValue := func(i int) (string, error) {
		if len(e.Args) <= i {
			return "", badFunc()
		}
		v, ok := e.Args[i].(Value)
		if !ok {
			return "", badFunc()
		}
		return t.value(v.V)
	}

	switch e.Name {
	case FuncIsDefined:
		return "attribute_exists(" + lhs + ")", nil
	case FuncIsNotDefined:
		return "attribute_not_exists(" + lhs + ")", nil
	case FuncStartsWith:
		rhs, err := argValue(1)
		if err != nil {
			return "", err
		}
		return "begins_with(" + lhs + ", " + rhs + ")", nil
	case FuncContains, FuncArrayContains:
		rhs, err := argValue(1)
		if err != nil {
			return "", err
		}
		return "contains(" + lhs + ", " + rhs + ")", nil
	case FuncArrayContainsAny:
		if len(e.Args) < 2 {
			return "", badFunc()
		}
		v, ok := e.Args[1].(Value)
		if !ok {
			return "", badFunc()
		}
		list, ok := v.V.([]interface{})
		if !ok || len(list) == 0 {
			return "", badFunc()
		}
		clauses := make([]string, 0, len(list))
		for _, member := range list {
			rhs, err := t.value(member)
			if err != nil {
				return "", err
			}
			clauses = append(clauses, "contains("+lhs+", "+rhs+")")
		}
		return "(" + strings.Join(clauses, " OR ") + ")", nil
	}
	return "", badFunc()
}

// updateExpression renders an Update as SET/REMOVE clauses. List
// inserts translate to list_append at either end; an insert at an
// interior index has no native form and is rejected.
func (t *ddbExpr) updateExpression(set *Update) (string, error) {
	var sets, removes []string
	for _, op := range set.Operations {
		field := t.field(op.Field)
		switch op.Op {
		case UpdatePut:
			if len(op.Args) != 1 {
				return "", badUpdateOp(op)
			}
			v, err := t.value(op.Args[0])
			if err != nil {
				return "", err
			}
			sets = append(sets, field+" = "+v)
		case UpdateInsert:
			if len(op.Args) != 1 {
				return "", badUpdateOp(op)
			}
			clause, err := t.insertClause(field, op)
			if err != nil {
				return "", err
			}
			sets = append(sets, clause)
		case UpdateDelete:
			removes = append(removes, field)
		case UpdateIncrement:
			if len(op.Args) != 1 {
				return "", badUpdateOp(op)
			}
			delta, sign, err := incrementArg(op.Args[0])
			if err != nil {
				return "", badUpdateOp(op)
			}
			v, err := t.value(delta)
			if err != nil {
				return "", err
			}
			sets = append(sets, field+" = "+field+" "+sign+" "+v)
		case UpdateMove:
			if len(op.Args) != 1 {
				return "", badUpdateOp(op)
			}
			destPath, ok := op.Args[0].(string)
			if !ok {
				return "", badUpdateOp(op)
			}
			sets = append(sets, t.field(destPath)+" = "+field)
			removes = append(removes, field)
		default:
			return "", badUpdateOp(op)
		}
	}

	var parts []string
	if len(sets) > 0 {
		parts = append(parts, "SET "+strings.Join(sets, ", "))
	}
	if len(removes) > 0 {
		parts = append(parts, "REMOVE "+strings.Join(removes, ", "))
	}
	if len(parts) == 0 {
		return "", WithContext(ErrBadRequest, map[string]interface{}{
			"reason": "empty update",
		})
	}
	return strings.Join(parts, " "), nil
}

func (t *ddbExpr) insertClause(field string, op UpdateOperation) (string, error) {
	switch {
	case strings.HasSuffix(field, "[-1]"):
		// parsePath encodes the "-" end-of-array subscript as -1.
		list := strings.TrimSuffix(field, "[-1]")
		element, err := t.value([]interface{}{op.Args[0]})
		if err != nil {
			return "", err
		}
		return list + " = list_append(" + list + ", " + element + ")", nil
	case strings.HasSuffix(field, "[0]"):
		list := strings.TrimSuffix(field, "[0]")
		element, err := t.value([]interface{}{op.Args[0]})
		if err != nil {
			return "", err
		}
		return list + " = list_append(" + element + ", " + list + ")", nil
	case strings.HasSuffix(field, "]"):
		return "", WithContext(ErrBadRequest, map[string]interface{}{
			"reason": "list insert at interior index not supported on dynamodb",
			"field":  op.Field,
		})
	default:
		v, err := t.value(op.Args[0])
		if err != nil {
			return "", err
		}
		return field + " = " + v, nil
	}
}

func badUpdateOp(op UpdateOperation) error {
	return WithContext(ErrBadRequest, map[string]interface{}{
		"reason": "update operation not supported on dynamodb",
		"op":     string(op.Op),
		"field":  op.Field,
	})
}

// incrementArg normalizes a signed delta into a magnitude and the
// arithmetic sign for the SET clause.
func incrementArg(arg interface{}) (interface{}, string, error) {
	f, ok := toFloat(arg)
	if !ok {
		return nil, "", fmt.Errorf("increment delta must be numeric")
	}
	if f < 0 {
		return -f, "-", nil
	}
	return f, "+", nil
}
