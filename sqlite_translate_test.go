package polystore

import (
	"reflect"
	"testing"
)

func TestTranslateSQLiteExpr(t *testing.T) {
	processor := NewItemProcessor(true)

	tests := []struct {
		name       string
		expr       Expr
		wantClause string
		wantArgs   []interface{}
		wantOK     bool
	}{
		{
			name:   "nil filter",
			expr:   nil,
			wantOK: true,
		},
		{
			name:       "equality",
			expr:       Eq("age", int64(30)),
			wantClause: "json_extract(doc, '$.age') = ?",
			wantArgs:   []interface{}{int64(30)},
			wantOK:     true,
		},
		{
			name:       "ordered comparison",
			expr:       Gte("score", 1.5),
			wantClause: "json_extract(doc, '$.score') >= ?",
			wantArgs:   []interface{}{1.5},
			wantOK:     true,
		},
		{
			name:       "special attribute resolves to embed field",
			expr:       Eq(AttrID, "u1"),
			wantClause: "json_extract(doc, '$.id') = ?",
			wantArgs:   []interface{}{"u1"},
			wantOK:     true,
		},
		{
			name:       "and",
			expr:       AndAll(Eq("a", int64(1)), Lt("b", int64(2))),
			wantClause: "(json_extract(doc, '$.a') = ? AND json_extract(doc, '$.b') < ?)",
			wantArgs:   []interface{}{int64(1), int64(2)},
			wantOK:     true,
		},
		{
			name:       "or",
			expr:       Or{Left: Eq("a", int64(1)), Right: Eq("b", int64(2))},
			wantClause: "(json_extract(doc, '$.a') = ? OR json_extract(doc, '$.b') = ?)",
			wantArgs:   []interface{}{int64(1), int64(2)},
			wantOK:     true,
		},
		{
			name:       "between",
			expr:       Between("age", int64(18), int64(65)),
			wantClause: "(json_extract(doc, '$.age') >= ? AND json_extract(doc, '$.age') <= ?)",
			wantArgs:   []interface{}{int64(18), int64(65)},
			wantOK:     true,
		},
		{
			name:       "in",
			expr:       In("status", "open", "pending"),
			wantClause: "json_extract(doc, '$.status') IN (?, ?)",
			wantArgs:   []interface{}{"open", "pending"},
			wantOK:     true,
		},
		{
			name:       "like",
			expr:       Like("name", "Jo%"),
			wantClause: "json_extract(doc, '$.name') LIKE ?",
			wantArgs:   []interface{}{"Jo%"},
			wantOK:     true,
		},
		{
			name:       "field against field",
			expr:       Comparison{Left: Field{Path: "a"}, Op: OpEQ, Right: Field{Path: "b"}},
			wantClause: "json_extract(doc, '$.a') = json_extract(doc, '$.b')",
			wantOK:     true,
		},
		{
			name:       "is_defined",
			expr:       Function{Namespace: FunctionBuiltin, Name: FuncIsDefined, Args: []Expr{Field{Path: "email"}}},
			wantClause: "json_extract(doc, '$.email') IS NOT NULL",
			wantOK:     true,
		},
		{
			name:       "is_not_defined",
			expr:       Function{Namespace: FunctionBuiltin, Name: FuncIsNotDefined, Args: []Expr{Field{Path: "email"}}},
			wantClause: "json_extract(doc, '$.email') IS NULL",
			wantOK:     true,
		},
		{
			name:       "length in comparison",
			expr:       Comparison{Left: Function{Namespace: FunctionBuiltin, Name: FuncLength, Args: []Expr{Field{Path: "name"}}}, Op: OpGT, Right: Value{V: int64(3)}},
			wantClause: "",
			wantOK:     false,
		},
		{
			name:       "array_length",
			expr:       Function{Namespace: FunctionBuiltin, Name: FuncArrayLength, Args: []Expr{Field{Path: "tags"}}},
			wantClause: "JSON_ARRAY_LENGTH(json_extract(doc, '$.tags'))",
			wantOK:     true,
		},
		{
			name:       "starts_with escapes wildcards",
			expr:       Function{Namespace: FunctionBuiltin, Name: FuncStartsWith, Args: []Expr{Field{Path: "code"}, Value{V: "50%"}}},
			wantClause: "json_extract(doc, '$.code') LIKE ? ESCAPE '\\'",
			wantArgs:   []interface{}{`50\%%`},
			wantOK:     true,
		},
		{
			name:       "contains",
			expr:       Function{Namespace: FunctionBuiltin, Name: FuncContains, Args: []Expr{Field{Path: "name"}, Value{V: "li"}}},
			wantClause: "json_extract(doc, '$.name') LIKE ? ESCAPE '\\'",
			wantArgs:   []interface{}{"%li%"},
			wantOK:     true,
		},
		// Constructs that stay client-side.
		{name: "not", expr: Not{Expr: Eq("a", int64(1))}, wantOK: false},
		{name: "neq", expr: Neq("a", int64(1)), wantOK: false},
		{name: "not in", expr: NotIn("a", int64(1)), wantOK: false},
		{name: "null equality", expr: Eq("a", nil), wantOK: false},
		{name: "untranslatable branch poisons and", expr: AndAll(Eq("a", int64(1)), Not{Expr: Eq("b", int64(2))}), wantOK: false},
		{name: "unsupported value type", expr: Eq("a", map[string]interface{}{"x": 1}), wantOK: false},
		{name: "user function", expr: Function{Namespace: "udf", Name: "custom", Args: []Expr{Field{Path: "a"}}}, wantOK: false},
		{name: "unknown builtin", expr: Function{Namespace: FunctionBuiltin, Name: "soundex", Args: []Expr{Field{Path: "a"}}}, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clause, args, ok := translateSQLiteExpr(tt.expr, processor)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v (clause %q)", ok, tt.wantOK, clause)
			}
			if !ok {
				return
			}
			if clause != tt.wantClause {
				t.Errorf("clause = %q, want %q", clause, tt.wantClause)
			}
			if !reflect.DeepEqual(args, tt.wantArgs) {
				t.Errorf("args = %#v, want %#v", args, tt.wantArgs)
			}
		})
	}
}

func TestEscapeSQLLike(t *testing.T) {
	tests := []struct{ in, want string }{
		{"plain", "plain"},
		{"50%", `50\%`},
		{"a_b", `a\_b`},
		{`back\slash`, `back\\slash`},
		{"%_", `\%\_`},
	}
	for _, tt := range tests {
		if got := escapeSQLLike(tt.in); got != tt.want {
			t.Errorf("escapeSQLLike(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
