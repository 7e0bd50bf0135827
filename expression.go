package polystore

// Expr is the backend-independent filter expression tree.
// Leaves are Value, Field and Function nodes; Comparison, And, Or and Not
// combine them. Trees are built once per request and never mutated after.
type Expr interface {
	isExpr()
}

// Value is a literal operand: string, number, bool, nil, []interface{}
// or map[string]interface{}.
type Value struct {
	V interface{}
}

func (Value) isExpr() {}

// Field references a document field by dotted path, e.g. "address.city"
// or "tags[0]". The special attributes "$id", "$pk" and "$etag" resolve
// to embedded fields through the ItemProcessor before planning.
type Field struct {
	Path string
}

func (Field) isExpr() {}

// Function is a named predicate or transform over its arguments,
// e.g. starts_with(Field, Value). See functions.go for builtin names.
type Function struct {
	Namespace string
	Name      string
	Args      []Expr
}

func (Function) isExpr() {}

// ComparisonOp enumerates comparison operators. The string values match
// the textual form accepted by ParseWhere.
type ComparisonOp string

const (
	OpLT      ComparisonOp = "<"
	OpLTE     ComparisonOp = "<="
	OpGT      ComparisonOp = ">"
	OpGTE     ComparisonOp = ">="
	OpEQ      ComparisonOp = "="
	OpNEQ     ComparisonOp = "!="
	OpIn      ComparisonOp = "in"
	OpNotIn   ComparisonOp = "not in"
	OpBetween ComparisonOp = "between"
	OpLike    ComparisonOp = "like"
)

// ReverseOp flips an inequality so that `5 > x` can be normalized
// to `x < 5`. Symmetric operators are returned unchanged.
func ReverseOp(op ComparisonOp) ComparisonOp {
	switch op {
	case OpGT:
		return OpLT
	case OpGTE:
		return OpLTE
	case OpLT:
		return OpGT
	case OpLTE:
		return OpGTE
	}
	return op
}

// Comparison applies Op between Left and Right. For OpBetween the right
// operand is a Value holding a two-element slice; for OpIn/OpNotIn it
// holds the candidate slice.
type Comparison struct {
	Left  Expr
	Op    ComparisonOp
	Right Expr
}

func (Comparison) isExpr() {}

// And is logical conjunction.
type And struct {
	Left  Expr
	Right Expr
}

func (And) isExpr() {}

// Or is logical disjunction.
type Or struct {
	Left  Expr
	Right Expr
}

func (Or) isExpr() {}

// Not is logical negation.
type Not struct {
	Expr Expr
}

func (Not) isExpr() {}

// Comparison builders. These keep call sites readable:
//
//	polystore.Eq("status", "open")
//	polystore.Gt("createdAt", 1700000000)
func Eq(field string, value interface{}) Expr {
	return Comparison{Left: Field{Path: field}, Op: OpEQ, Right: Value{V: value}}
}

func Neq(field string, value interface{}) Expr {
	return Comparison{Left: Field{Path: field}, Op: OpNEQ, Right: Value{V: value}}
}

func Lt(field string, value interface{}) Expr {
	return Comparison{Left: Field{Path: field}, Op: OpLT, Right: Value{V: value}}
}

func Lte(field string, value interface{}) Expr {
	return Comparison{Left: Field{Path: field}, Op: OpLTE, Right: Value{V: value}}
}

func Gt(field string, value interface{}) Expr {
	return Comparison{Left: Field{Path: field}, Op: OpGT, Right: Value{V: value}}
}

func Gte(field string, value interface{}) Expr {
	return Comparison{Left: Field{Path: field}, Op: OpGTE, Right: Value{V: value}}
}

func Between(field string, low, high interface{}) Expr {
	return Comparison{Left: Field{Path: field}, Op: OpBetween, Right: Value{V: []interface{}{low, high}}}
}

func In(field string, values ...interface{}) Expr {
	return Comparison{Left: Field{Path: field}, Op: OpIn, Right: Value{V: values}}
}

func NotIn(field string, values ...interface{}) Expr {
	return Comparison{Left: Field{Path: field}, Op: OpNotIn, Right: Value{V: values}}
}

func Like(field string, pattern string) Expr {
	return Comparison{Left: Field{Path: field}, Op: OpLike, Right: Value{V: pattern}}
}

// AndAll folds the given expressions into a left-leaning And chain.
// Returns nil for no arguments, the single expression for one.
func AndAll(exprs ...Expr) Expr {
	var out Expr
	for _, e := range exprs {
		if e == nil {
			continue
		}
		if out == nil {
			out = e
		} else {
			out = And{Left: out, Right: e}
		}
	}
	return out
}

// OrAll folds the given expressions into a left-leaning Or chain.
func OrAll(exprs ...Expr) Expr {
	var out Expr
	for _, e := range exprs {
		if e == nil {
			continue
		}
		if out == nil {
			out = e
		} else {
			out = Or{Left: out, Right: e}
		}
	}
	return out
}

// SelectTerm names one projected field with an optional output alias.
type SelectTerm struct {
	Field string
	Alias string
}

// Select is an ordered projection. Empty terms means all fields.
type Select struct {
	Terms []SelectTerm
}

// NewSelect builds a projection over the given fields.
func NewSelect(fields ...string) *Select {
	s := &Select{}
	for _, f := range fields {
		s.Terms = append(s.Terms, SelectTerm{Field: f})
	}
	return s
}

// Add appends a field with an alias and returns the Select for chaining.
func (s *Select) Add(field, alias string) *Select {
	s.Terms = append(s.Terms, SelectTerm{Field: field, Alias: alias})
	return s
}

// OrderDirection is a sort direction.
type OrderDirection string

const (
	Asc  OrderDirection = "asc"
	Desc OrderDirection = "desc"
)

// OrderByTerm is one (field, direction) sort pair. An empty direction
// means ascending.
type OrderByTerm struct {
	Field     string
	Direction OrderDirection
}

// OrderBy is an ordered sort specification. Only the first term
// participates in index selection; the rest apply to result ordering.
type OrderBy struct {
	Terms []OrderByTerm
}

// NewOrderBy builds a single-term ordering.
func NewOrderBy(field string, direction OrderDirection) *OrderBy {
	return &OrderBy{Terms: []OrderByTerm{{Field: field, Direction: direction}}}
}

// Add appends a sort term and returns the OrderBy for chaining.
func (o *OrderBy) Add(field string, direction OrderDirection) *OrderBy {
	o.Terms = append(o.Terms, OrderByTerm{Field: field, Direction: direction})
	return o
}
