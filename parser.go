package polystore

import (
	"strconv"
	"strings"

	"github.com/xwb1989/sqlparser"
)

// Request objects accept filters either as built Expr trees or as
// SQL-ish strings. The string forms are parsed here by wrapping them
// in a SELECT and converting the resulting syntax tree:
//
//	ParseWhere(`status = 'open' AND createdAt > 100`)
//	ParseOrderBy(`createdAt DESC, id`)
//	ParseSelect(`id, address.city AS city`)
//
// Dotted paths are written with double quotes when they would not
// survive SQL identifier rules: "address.city" = 'Oslo'.

// ParseWhere parses a filter string into an expression tree.
func ParseWhere(where string) (Expr, error) {
	where = strings.TrimSpace(where)
	if where == "" {
		return nil, nil
	}
	stmt, err := sqlparser.Parse("select * from t where " + where)
	if err != nil {
		return nil, WithContext(ErrBadRequest, map[string]interface{}{
			"reason": "invalid where string",
			"where":  where,
			"error":  err.Error(),
		})
	}
	sel := stmt.(*sqlparser.Select)
	if sel.Where == nil {
		return nil, nil
	}
	return convertSQLExpr(sel.Where.Expr)
}

// ParseOrderBy parses an order-by string.
func ParseOrderBy(orderBy string) (*OrderBy, error) {
	orderBy = strings.TrimSpace(orderBy)
	if orderBy == "" {
		return nil, nil
	}
	stmt, err := sqlparser.Parse("select * from t order by " + orderBy)
	if err != nil {
		return nil, WithContext(ErrBadRequest, map[string]interface{}{
			"reason":  "invalid order by string",
			"orderBy": orderBy,
			"error":   err.Error(),
		})
	}
	sel := stmt.(*sqlparser.Select)
	out := &OrderBy{}
	for _, order := range sel.OrderBy {
		field, err := sqlFieldPath(order.Expr)
		if err != nil {
			return nil, err
		}
		direction := Asc
		if order.Direction == sqlparser.DescScr {
			direction = Desc
		}
		out.Terms = append(out.Terms, OrderByTerm{Field: field, Direction: direction})
	}
	return out, nil
}

// ParseSelect parses a projection string. "*" or "" selects all fields.
func ParseSelect(sel string) (*Select, error) {
	sel = strings.TrimSpace(sel)
	if sel == "" || sel == "*" {
		return nil, nil
	}
	stmt, err := sqlparser.Parse("select " + sel + " from t")
	if err != nil {
		return nil, WithContext(ErrBadRequest, map[string]interface{}{
			"reason": "invalid select string",
			"select": sel,
			"error":  err.Error(),
		})
	}
	parsed := stmt.(*sqlparser.Select)
	out := &Select{}
	for _, expr := range parsed.SelectExprs {
		switch e := expr.(type) {
		case *sqlparser.StarExpr:
			return nil, nil
		case *sqlparser.AliasedExpr:
			field, err := sqlFieldPath(e.Expr)
			if err != nil {
				return nil, err
			}
			term := SelectTerm{Field: field}
			if !e.As.IsEmpty() {
				term.Alias = e.As.String()
			}
			out.Terms = append(out.Terms, term)
		}
	}
	return out, nil
}

func convertSQLExpr(expr sqlparser.Expr) (Expr, error) {
	switch e := expr.(type) {
	case *sqlparser.ParenExpr:
		return convertSQLExpr(e.Expr)
	case *sqlparser.AndExpr:
		left, err := convertSQLExpr(e.Left)
		if err != nil {
			return nil, err
		}
		right, err := convertSQLExpr(e.Right)
		if err != nil {
			return nil, err
		}
		return And{Left: left, Right: right}, nil
	case *sqlparser.OrExpr:
		left, err := convertSQLExpr(e.Left)
		if err != nil {
			return nil, err
		}
		right, err := convertSQLExpr(e.Right)
		if err != nil {
			return nil, err
		}
		return Or{Left: left, Right: right}, nil
	case *sqlparser.NotExpr:
		inner, err := convertSQLExpr(e.Expr)
		if err != nil {
			return nil, err
		}
		return Not{Expr: inner}, nil
	case *sqlparser.ComparisonExpr:
		return convertSQLComparison(e)
	case *sqlparser.RangeCond:
		left, err := convertSQLOperand(e.Left)
		if err != nil {
			return nil, err
		}
		from, err := convertSQLValue(e.From)
		if err != nil {
			return nil, err
		}
		to, err := convertSQLValue(e.To)
		if err != nil {
			return nil, err
		}
		between := Comparison{Left: left, Op: OpBetween, Right: Value{V: []interface{}{from, to}}}
		if e.Operator == sqlparser.NotBetweenStr {
			return Not{Expr: between}, nil
		}
		return between, nil
	case *sqlparser.IsExpr:
		operand, err := convertSQLOperand(e.Expr)
		if err != nil {
			return nil, err
		}
		switch e.Operator {
		case sqlparser.IsNullStr:
			return Comparison{Left: operand, Op: OpEQ, Right: Value{V: nil}}, nil
		case sqlparser.IsNotNullStr:
			return Comparison{Left: operand, Op: OpNEQ, Right: Value{V: nil}}, nil
		}
		return nil, badSQLConstruct("is operator", e.Operator)
	case *sqlparser.FuncExpr:
		return convertSQLFunc(e)
	}
	return nil, badSQLConstruct("expression", sqlparser.String(expr))
}

var sqlComparisonOps = map[string]ComparisonOp{
	sqlparser.EqualStr:        OpEQ,
	sqlparser.NotEqualStr:     OpNEQ,
	sqlparser.LessThanStr:     OpLT,
	sqlparser.LessEqualStr:    OpLTE,
	sqlparser.GreaterThanStr:  OpGT,
	sqlparser.GreaterEqualStr: OpGTE,
	sqlparser.InStr:           OpIn,
	sqlparser.NotInStr:        OpNotIn,
	sqlparser.LikeStr:         OpLike,
}

func convertSQLComparison(e *sqlparser.ComparisonExpr) (Expr, error) {
	op, ok := sqlComparisonOps[e.Operator]
	if !ok {
		if e.Operator == sqlparser.NotLikeStr {
			inner, err := convertSQLComparison(&sqlparser.ComparisonExpr{
				Operator: sqlparser.LikeStr, Left: e.Left, Right: e.Right,
			})
			if err != nil {
				return nil, err
			}
			return Not{Expr: inner}, nil
		}
		return nil, badSQLConstruct("comparison operator", e.Operator)
	}
	left, err := convertSQLOperand(e.Left)
	if err != nil {
		return nil, err
	}
	right, err := convertSQLOperand(e.Right)
	if err != nil {
		return nil, err
	}
	return Comparison{Left: left, Op: op, Right: right}, nil
}

// convertSQLOperand converts either side of a comparison: a column
// reference, a literal, a literal tuple or a function call.
func convertSQLOperand(expr sqlparser.Expr) (Expr, error) {
	switch e := expr.(type) {
	case *sqlparser.ColName:
		return Field{Path: colNamePath(e)}, nil
	case *sqlparser.FuncExpr:
		return convertSQLFunc(e)
	case sqlparser.ValTuple:
		values := make([]interface{}, 0, len(e))
		for _, v := range e {
			val, err := convertSQLValue(v)
			if err != nil {
				return nil, err
			}
			values = append(values, val)
		}
		return Value{V: values}, nil
	}
	val, err := convertSQLValue(expr)
	if err != nil {
		return nil, err
	}
	return Value{V: val}, nil
}

func convertSQLValue(expr sqlparser.Expr) (interface{}, error) {
	switch e := expr.(type) {
	case *sqlparser.SQLVal:
		switch e.Type {
		case sqlparser.StrVal:
			return string(e.Val), nil
		case sqlparser.IntVal:
			n, err := strconv.ParseInt(string(e.Val), 10, 64)
			if err != nil {
				return nil, badSQLConstruct("integer literal", string(e.Val))
			}
			return n, nil
		case sqlparser.FloatVal:
			f, err := strconv.ParseFloat(string(e.Val), 64)
			if err != nil {
				return nil, badSQLConstruct("float literal", string(e.Val))
			}
			return f, nil
		}
		return nil, badSQLConstruct("literal", sqlparser.String(e))
	case *sqlparser.NullVal:
		return nil, nil
	case sqlparser.BoolVal:
		return bool(e), nil
	case *sqlparser.UnaryExpr:
		if e.Operator == sqlparser.UMinusStr {
			inner, err := convertSQLValue(e.Expr)
			if err != nil {
				return nil, err
			}
			switch n := inner.(type) {
			case int64:
				return -n, nil
			case float64:
				return -n, nil
			}
		}
		return nil, badSQLConstruct("unary operator", e.Operator)
	}
	return nil, badSQLConstruct("value", sqlparser.String(expr))
}

// convertSQLFunc maps function calls like starts_with(status, 'op') to
// builtin Function nodes. Column arguments become Fields, everything
// else literals.
func convertSQLFunc(e *sqlparser.FuncExpr) (Expr, error) {
	name := strings.ToLower(e.Name.String())
	switch name {
	case FuncLength, FuncContains, FuncStartsWith, FuncIsDefined,
		FuncIsNotDefined, FuncIsType, FuncArrayLength,
		FuncArrayContains, FuncArrayContainsAny:
	default:
		return nil, badSQLConstruct("function", name)
	}
	args := make([]Expr, 0, len(e.Exprs))
	for _, se := range e.Exprs {
		aliased, ok := se.(*sqlparser.AliasedExpr)
		if !ok {
			return nil, badSQLConstruct("function argument", sqlparser.String(se))
		}
		arg, err := convertSQLOperand(aliased.Expr)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return Function{Namespace: FunctionBuiltin, Name: name, Args: args}, nil
}

func sqlFieldPath(expr sqlparser.Expr) (string, error) {
	col, ok := expr.(*sqlparser.ColName)
	if !ok {
		return "", badSQLConstruct("field reference", sqlparser.String(expr))
	}
	return colNamePath(col), nil
}

// colNamePath rebuilds a dotted path from a possibly qualified column:
// `address.city` parses as qualifier "address", column "city".
func colNamePath(col *sqlparser.ColName) string {
	path := col.Name.String()
	if !col.Qualifier.IsEmpty() {
		qualifier := col.Qualifier.Name.String()
		if !col.Qualifier.Qualifier.IsEmpty() {
			qualifier = col.Qualifier.Qualifier.String() + "." + qualifier
		}
		path = qualifier + "." + path
	}
	return path
}

func badSQLConstruct(kind, detail string) error {
	return WithContext(ErrBadRequest, map[string]interface{}{
		"reason": "unsupported " + kind,
		"detail": detail,
	})
}
