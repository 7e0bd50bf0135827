package polystore

import (
	"reflect"
	"testing"
)

func TestParseWhere(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Expr
	}{
		{
			name:  "empty string",
			input: "",
			want:  nil,
		},
		{
			name:  "equality",
			input: "status = 'open'",
			want:  Eq("status", "open"),
		},
		{
			name:  "integer comparison",
			input: "age >= 21",
			want:  Comparison{Left: Field{Path: "age"}, Op: OpGTE, Right: Value{V: int64(21)}},
		},
		{
			name:  "float comparison",
			input: "score < 0.5",
			want:  Comparison{Left: Field{Path: "score"}, Op: OpLT, Right: Value{V: 0.5}},
		},
		{
			name:  "negative number",
			input: "delta > -3",
			want:  Comparison{Left: Field{Path: "delta"}, Op: OpGT, Right: Value{V: int64(-3)}},
		},
		{
			name:  "not equal",
			input: "status != 'closed'",
			want:  Neq("status", "closed"),
		},
		{
			name:  "and",
			input: "status = 'open' AND age > 18",
			want: And{
				Left:  Eq("status", "open"),
				Right: Comparison{Left: Field{Path: "age"}, Op: OpGT, Right: Value{V: int64(18)}},
			},
		},
		{
			name:  "or with parens",
			input: "(status = 'open') OR (status = 'pending')",
			want: Or{
				Left:  Eq("status", "open"),
				Right: Eq("status", "pending"),
			},
		},
		{
			name:  "not",
			input: "NOT status = 'open'",
			want:  Not{Expr: Eq("status", "open")},
		},
		{
			name:  "between",
			input: "age BETWEEN 18 AND 65",
			want: Comparison{
				Left:  Field{Path: "age"},
				Op:    OpBetween,
				Right: Value{V: []interface{}{int64(18), int64(65)}},
			},
		},
		{
			name:  "not between",
			input: "age NOT BETWEEN 18 AND 65",
			want: Not{Expr: Comparison{
				Left:  Field{Path: "age"},
				Op:    OpBetween,
				Right: Value{V: []interface{}{int64(18), int64(65)}},
			}},
		},
		{
			name:  "in list",
			input: "status IN ('open', 'pending')",
			want: Comparison{
				Left:  Field{Path: "status"},
				Op:    OpIn,
				Right: Value{V: []interface{}{"open", "pending"}},
			},
		},
		{
			name:  "not in list",
			input: "status NOT IN ('closed')",
			want: Comparison{
				Left:  Field{Path: "status"},
				Op:    OpNotIn,
				Right: Value{V: []interface{}{"closed"}},
			},
		},
		{
			name:  "like",
			input: "email LIKE 'a%'",
			want:  Like("email", "a%"),
		},
		{
			name:  "not like",
			input: "email NOT LIKE 'a%'",
			want:  Not{Expr: Like("email", "a%")},
		},
		{
			name:  "is null",
			input: "deletedAt IS NULL",
			want:  Comparison{Left: Field{Path: "deletedAt"}, Op: OpEQ, Right: Value{V: nil}},
		},
		{
			name:  "is not null",
			input: "deletedAt IS NOT NULL",
			want:  Comparison{Left: Field{Path: "deletedAt"}, Op: OpNEQ, Right: Value{V: nil}},
		},
		{
			name:  "dotted path via qualifier",
			input: "address.city = 'Oslo'",
			want:  Eq("address.city", "Oslo"),
		},
		{
			name:  "boolean literal",
			input: "active = true",
			want:  Eq("active", true),
		},
		{
			name:  "function predicate",
			input: "starts_with(email, 'alice')",
			want: Function{
				Namespace: FunctionBuiltin,
				Name:      FuncStartsWith,
				Args:      []Expr{Field{Path: "email"}, Value{V: "alice"}},
			},
		},
		{
			name:  "function in comparison",
			input: "length(name) > 3",
			want: Comparison{
				Left: Function{
					Namespace: FunctionBuiltin,
					Name:      FuncLength,
					Args:      []Expr{Field{Path: "name"}},
				},
				Op:    OpGT,
				Right: Value{V: int64(3)},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseWhere(tt.input)
			if err != nil {
				t.Fatalf("ParseWhere(%q) failed: %v", tt.input, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseWhere(%q) = %#v, want %#v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseWhereErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"dangling operator", "age >="},
		{"unknown function", "soundex(name) = 'A450'"},
		{"unbalanced parens", "(status = 'open'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseWhere(tt.input)
			if !IsBadRequest(err) {
				t.Errorf("ParseWhere(%q) error = %v, want ErrBadRequest", tt.input, err)
			}
		})
	}
}

func TestParseOrderBy(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  *OrderBy
	}{
		{
			name:  "empty",
			input: "",
			want:  nil,
		},
		{
			name:  "single ascending",
			input: "createdAt",
			want:  &OrderBy{Terms: []OrderByTerm{{Field: "createdAt", Direction: Asc}}},
		},
		{
			name:  "single descending",
			input: "createdAt DESC",
			want:  &OrderBy{Terms: []OrderByTerm{{Field: "createdAt", Direction: Desc}}},
		},
		{
			name:  "multiple terms",
			input: "status ASC, createdAt DESC",
			want: &OrderBy{Terms: []OrderByTerm{
				{Field: "status", Direction: Asc},
				{Field: "createdAt", Direction: Desc},
			}},
		},
		{
			name:  "dotted path",
			input: "address.city",
			want:  &OrderBy{Terms: []OrderByTerm{{Field: "address.city", Direction: Asc}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOrderBy(tt.input)
			if err != nil {
				t.Fatalf("ParseOrderBy(%q) failed: %v", tt.input, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseOrderBy(%q) = %#v, want %#v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseSelect(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  *Select
	}{
		{
			name:  "empty selects all",
			input: "",
			want:  nil,
		},
		{
			name:  "star selects all",
			input: "*",
			want:  nil,
		},
		{
			name:  "plain fields",
			input: "id, name",
			want: &Select{Terms: []SelectTerm{
				{Field: "id"},
				{Field: "name"},
			}},
		},
		{
			name:  "aliased dotted path",
			input: "address.city AS city",
			want: &Select{Terms: []SelectTerm{
				{Field: "address.city", Alias: "city"},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSelect(tt.input)
			if err != nil {
				t.Fatalf("ParseSelect(%q) failed: %v", tt.input, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseSelect(%q) = %#v, want %#v", tt.input, got, tt.want)
			}
		})
	}
}

func TestReverseOp(t *testing.T) {
	tests := []struct {
		in   ComparisonOp
		want ComparisonOp
	}{
		{OpGT, OpLT},
		{OpGTE, OpLTE},
		{OpLT, OpGT},
		{OpLTE, OpGTE},
		{OpEQ, OpEQ},
		{OpIn, OpIn},
	}
	for _, tt := range tests {
		if got := ReverseOp(tt.in); got != tt.want {
			t.Errorf("ReverseOp(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
