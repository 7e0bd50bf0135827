package polystore

import (
	"regexp"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// translateMongoExpr renders a filter as a bson.D operator tree. The
// second result reports whether the whole tree translated; callers
// fall back to an unfiltered fetch when it did not, and re-check every
// document with the evaluator either way.
func translateMongoExpr(expr Expr, processor *ItemProcessor) (bson.D, bool) {
	if expr == nil {
		return bson.D{}, true
	}
	t := &mongoTranslator{processor: processor}
	return t.expr(expr)
}

type mongoTranslator struct {
	processor *ItemProcessor
}

func (t *mongoTranslator) field(path string) string {
	return t.processor.ResolveField(path)
}

func (t *mongoTranslator) expr(expr Expr) (bson.D, bool) {
	switch e := expr.(type) {
	case And:
		l, ok := t.expr(e.Left)
		if !ok {
			return nil, false
		}
		r, ok := t.expr(e.Right)
		if !ok {
			return nil, false
		}
		return bson.D{{Key: "$and", Value: bson.A{l, r}}}, true
	case Or:
		l, ok := t.expr(e.Left)
		if !ok {
			return nil, false
		}
		r, ok := t.expr(e.Right)
		if !ok {
			return nil, false
		}
		return bson.D{{Key: "$or", Value: bson.A{l, r}}}, true
	case Not:
		inner, ok := t.expr(e.Expr)
		if !ok {
			return nil, false
		}
		return bson.D{{Key: "$nor", Value: bson.A{inner}}}, true
	case Comparison:
		return t.comparison(e)
	case Function:
		return t.function(e)
	}
	return nil, false
}

var mongoOps = map[ComparisonOp]string{
	OpLT:    "$lt",
	OpLTE:   "$lte",
	OpGT:    "$gt",
	OpGTE:   "$gte",
	OpNEQ:   "$ne",
	OpIn:    "$in",
	OpNotIn: "$nin",
}

func (t *mongoTranslator) comparison(e Comparison) (bson.D, bool) {
	field, fok := e.Left.(Field)
	value, vok := e.Right.(Value)
	if !fok || !vok {
		return nil, false
	}
	// Null comparisons conflate explicit null with absent fields on the
	// server; the evaluator distinguishes them, so they stay client-side.
	if value.V == nil {
		return nil, false
	}
	path := t.field(field.Path)

	switch e.Op {
	case OpEQ:
		return bson.D{{Key: path, Value: bson.D{{Key: "$eq", Value: value.V}}}}, true
	case OpBetween:
		bounds, ok := value.V.([]interface{})
		if !ok || len(bounds) != 2 {
			return nil, false
		}
		return bson.D{{Key: path, Value: bson.D{
			{Key: "$gte", Value: bounds[0]},
			{Key: "$lte", Value: bounds[1]},
		}}}, true
	case OpLike:
		pattern, ok := value.V.(string)
		if !ok {
			return nil, false
		}
		return bson.D{{Key: path, Value: bson.D{{Key: "$regex", Value: likeToRegexp(pattern)}}}}, true
	}
	op, ok := mongoOps[e.Op]
	if !ok {
		return nil, false
	}
	return bson.D{{Key: path, Value: bson.D{{Key: op, Value: value.V}}}}, true
}

func (t *mongoTranslator) function(e Function) (bson.D, bool) {
	if e.Namespace != FunctionBuiltin || len(e.Args) == 0 {
		return nil, false
	}
	f, ok := e.Args[0].(Field)
	if !ok {
		return nil, false
	}
	path := t.field(f.Path)
	arg := func(i int) (interface{}, bool) {
		if len(e.Args) <= i {
			return nil, false
		}
		v, ok := e.Args[i].(Value)
		if !ok {
			return nil, false
		}
		return v.V, true
	}

	switch e.Name {
	case FuncIsDefined:
		return bson.D{{Key: path, Value: bson.D{{Key: "$exists", Value: true}}}}, true
	case FuncIsNotDefined:
		return bson.D{{Key: path, Value: bson.D{{Key: "$exists", Value: false}}}}, true
	case FuncStartsWith:
		v, ok := arg(1)
		if !ok {
			return nil, false
		}
		prefix, ok := v.(string)
		if !ok {
			return nil, false
		}
		return bson.D{{Key: path, Value: bson.D{{Key: "$regex", Value: "^" + regexp.QuoteMeta(prefix)}}}}, true
	case FuncContains:
		v, ok := arg(1)
		if !ok {
			return nil, false
		}
		substr, ok := v.(string)
		if !ok {
			return nil, false
		}
		return bson.D{{Key: path, Value: bson.D{{Key: "$regex", Value: regexp.QuoteMeta(substr)}}}}, true
	case FuncArrayContains:
		v, ok := arg(1)
		if !ok {
			return nil, false
		}
		return bson.D{{Key: path, Value: bson.D{{Key: "$eq", Value: v}}}}, true
	case FuncArrayContainsAny:
		v, ok := arg(1)
		if !ok {
			return nil, false
		}
		values, ok := v.([]interface{})
		if !ok {
			return nil, false
		}
		return bson.D{{Key: path, Value: bson.D{{Key: "$in", Value: values}}}}, true
	}
	return nil, false
}
