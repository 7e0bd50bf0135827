package polystore

import (
	"reflect"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func TestDDBExprConditions(t *testing.T) {
	tests := []struct {
		name       string
		expr       Expr
		want       string
		wantNames  map[string]string
		wantValues map[string]types.AttributeValue
		wantErr    bool
	}{
		{
			name:       "equality",
			expr:       Eq("status", "open"),
			want:       "#f0 = :v0",
			wantNames:  map[string]string{"#f0": "status"},
			wantValues: map[string]types.AttributeValue{":v0": &types.AttributeValueMemberS{Value: "open"}},
		},
		{
			name:       "not equal renders as angle brackets",
			expr:       Neq("status", "open"),
			want:       "#f0 <> :v0",
			wantNames:  map[string]string{"#f0": "status"},
			wantValues: map[string]types.AttributeValue{":v0": &types.AttributeValueMemberS{Value: "open"}},
		},
		{
			name:       "numeric comparison",
			expr:       Gte("age", int64(21)),
			want:       "#f0 >= :v0",
			wantNames:  map[string]string{"#f0": "age"},
			wantValues: map[string]types.AttributeValue{":v0": &types.AttributeValueMemberN{Value: "21"}},
		},
		{
			name:      "nested path aliases every name segment",
			expr:      Eq("items[0].name", "x"),
			want:      "#f0[0].#f1 = :v0",
			wantNames: map[string]string{"#f0": "items", "#f1": "name"},
			wantValues: map[string]types.AttributeValue{
				":v0": &types.AttributeValueMemberS{Value: "x"},
			},
		},
		{
			name:      "special attribute resolves",
			expr:      Eq(AttrID, "u1"),
			want:      "#f0 = :v0",
			wantNames: map[string]string{"#f0": "id"},
			wantValues: map[string]types.AttributeValue{
				":v0": &types.AttributeValueMemberS{Value: "u1"},
			},
		},
		{
			name:      "between",
			expr:      Between("age", int64(18), int64(65)),
			want:      "#f0 BETWEEN :v0 AND :v1",
			wantNames: map[string]string{"#f0": "age"},
			wantValues: map[string]types.AttributeValue{
				":v0": &types.AttributeValueMemberN{Value: "18"},
				":v1": &types.AttributeValueMemberN{Value: "65"},
			},
		},
		{
			name:      "in",
			expr:      In("status", "open", "pending"),
			want:      "#f0 IN (:v0, :v1)",
			wantNames: map[string]string{"#f0": "status"},
			wantValues: map[string]types.AttributeValue{
				":v0": &types.AttributeValueMemberS{Value: "open"},
				":v1": &types.AttributeValueMemberS{Value: "pending"},
			},
		},
		{
			name:      "not in",
			expr:      NotIn("status", "closed"),
			want:      "NOT #f0 IN (:v0)",
			wantNames: map[string]string{"#f0": "status"},
			wantValues: map[string]types.AttributeValue{
				":v0": &types.AttributeValueMemberS{Value: "closed"},
			},
		},
		{
			name:      "and",
			expr:      AndAll(Eq("a", int64(1)), Lt("b", int64(2))),
			want:      "(#f0 = :v0 AND #f1 < :v1)",
			wantNames: map[string]string{"#f0": "a", "#f1": "b"},
			wantValues: map[string]types.AttributeValue{
				":v0": &types.AttributeValueMemberN{Value: "1"},
				":v1": &types.AttributeValueMemberN{Value: "2"},
			},
		},
		{
			name:      "not",
			expr:      Not{Expr: Eq("a", int64(1))},
			want:      "NOT #f0 = :v0",
			wantNames: map[string]string{"#f0": "a"},
			wantValues: map[string]types.AttributeValue{
				":v0": &types.AttributeValueMemberN{Value: "1"},
			},
		},
		{
			name:      "is_defined",
			expr:      Function{Namespace: FunctionBuiltin, Name: FuncIsDefined, Args: []Expr{Field{Path: "email"}}},
			want:      "attribute_exists(#f0)",
			wantNames: map[string]string{"#f0": "email"},
		},
		{
			name:      "is_not_defined",
			expr:      Function{Namespace: FunctionBuiltin, Name: FuncIsNotDefined, Args: []Expr{Field{Path: "email"}}},
			want:      "attribute_not_exists(#f0)",
			wantNames: map[string]string{"#f0": "email"},
		},
		{
			name:      "starts_with",
			expr:      Function{Namespace: FunctionBuiltin, Name: FuncStartsWith, Args: []Expr{Field{Path: "name"}, Value{V: "jo"}}},
			want:      "begins_with(#f0, :v0)",
			wantNames: map[string]string{"#f0": "name"},
			wantValues: map[string]types.AttributeValue{
				":v0": &types.AttributeValueMemberS{Value: "jo"},
			},
		},
		{
			name:      "array_contains",
			expr:      Function{Namespace: FunctionBuiltin, Name: FuncArrayContains, Args: []Expr{Field{Path: "tags"}, Value{V: "go"}}},
			want:      "contains(#f0, :v0)",
			wantNames: map[string]string{"#f0": "tags"},
			wantValues: map[string]types.AttributeValue{
				":v0": &types.AttributeValueMemberS{Value: "go"},
			},
		},
		{
			name: "array_contains_any expands to a disjunction",
			expr: Function{Namespace: FunctionBuiltin, Name: FuncArrayContainsAny, Args: []Expr{
				Field{Path: "tags"}, Value{V: []interface{}{"go", "rust"}},
			}},
			want:      "(contains(#f0, :v0) OR contains(#f0, :v1))",
			wantNames: map[string]string{"#f0": "tags"},
			wantValues: map[string]types.AttributeValue{
				":v0": &types.AttributeValueMemberS{Value: "go"},
				":v1": &types.AttributeValueMemberS{Value: "rust"},
			},
		},
		// Total translation: no client-side fallback, so these error.
		{name: "like is unsupported", expr: Like("name", "Jo%"), wantErr: true},
		{name: "field against field", expr: Comparison{Left: Field{Path: "a"}, Op: OpEQ, Right: Field{Path: "b"}}, wantErr: true},
		{name: "empty in list", expr: Comparison{Left: Field{Path: "a"}, Op: OpIn, Right: Value{V: []interface{}{}}}, wantErr: true},
		{name: "unknown builtin", expr: Function{Namespace: FunctionBuiltin, Name: "soundex", Args: []Expr{Field{Path: "a"}}}, wantErr: true},
		{name: "user function", expr: Function{Namespace: "udf", Name: "custom", Args: []Expr{Field{Path: "a"}}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newDDBExpr(NewItemProcessor(true))
			got, err := tr.expr(tt.expr)
			if tt.wantErr {
				if !IsBadRequest(err) {
					t.Fatalf("expected BadRequest, got %q, %v", got, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("expr failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("expression = %q, want %q", got, tt.want)
			}
			if !reflect.DeepEqual(map[string]string(tr.Names()), tt.wantNames) {
				t.Errorf("names = %#v, want %#v", tr.Names(), tt.wantNames)
			}
			if tt.wantValues == nil {
				if tr.Values() != nil {
					t.Errorf("values = %#v, want none", tr.Values())
				}
			} else if !reflect.DeepEqual(map[string]types.AttributeValue(tr.Values()), tt.wantValues) {
				t.Errorf("values = %#v, want %#v", tr.Values(), tt.wantValues)
			}
		})
	}
}

// A request shares one alias space across its expressions, so a second
// expression continues the counters instead of restarting them.
func TestDDBExprSharedAliasSpace(t *testing.T) {
	tr := newDDBExpr(NewItemProcessor(true))

	first, err := tr.expr(Eq("status", "open"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := tr.expr(Gt("age", int64(21)))
	if err != nil {
		t.Fatal(err)
	}
	if first != "#f0 = :v0" || second != "#f1 > :v1" {
		t.Errorf("expressions = %q, %q; aliases must not collide", first, second)
	}
	if len(tr.Names()) != 2 || len(tr.Values()) != 2 {
		t.Errorf("names = %v, values = %v", tr.Names(), tr.Values())
	}
}

func TestDDBUpdateExpression(t *testing.T) {
	tests := []struct {
		name       string
		set        *Update
		want       string
		wantValues map[string]types.AttributeValue
		wantErr    bool
	}{
		{
			name: "set increment remove",
			set:  NewUpdate().Put("status", "closed").Increment("n", 5).Delete("tmp"),
			want: "SET #f0 = :v0, #f1 = #f1 + :v1 REMOVE #f2",
			wantValues: map[string]types.AttributeValue{
				":v0": &types.AttributeValueMemberS{Value: "closed"},
				":v1": &types.AttributeValueMemberN{Value: "5"},
			},
		},
		{
			name: "negative increment subtracts",
			set:  NewUpdate().Increment("n", -3),
			want: "SET #f0 = #f0 - :v0",
			wantValues: map[string]types.AttributeValue{
				":v0": &types.AttributeValueMemberN{Value: "3"},
			},
		},
		{
			name: "move is copy plus remove",
			set:  NewUpdate().Move("old", "new"),
			want: "SET #f1 = #f0 REMOVE #f0",
		},
		{
			name: "append to list end",
			set:  NewUpdate().Insert("tags[-]", "x"),
			want: "SET #f0 = list_append(#f0, :v0)",
			wantValues: map[string]types.AttributeValue{
				":v0": &types.AttributeValueMemberL{Value: []types.AttributeValue{
					&types.AttributeValueMemberS{Value: "x"},
				}},
			},
		},
		{
			name: "prepend to list head",
			set:  NewUpdate().Insert("tags[0]", "x"),
			want: "SET #f0 = list_append(:v0, #f0)",
			wantValues: map[string]types.AttributeValue{
				":v0": &types.AttributeValueMemberL{Value: []types.AttributeValue{
					&types.AttributeValueMemberS{Value: "x"},
				}},
			},
		},
		{
			name: "insert without subscript sets the field",
			set:  NewUpdate().Insert("name", "x"),
			want: "SET #f0 = :v0",
			wantValues: map[string]types.AttributeValue{
				":v0": &types.AttributeValueMemberS{Value: "x"},
			},
		},
		{name: "interior list insert", set: NewUpdate().Insert("tags[2]", "x"), wantErr: true},
		{name: "array union has no native form", set: NewUpdate().ArrayUnion("tags", "x"), wantErr: true},
		{name: "string append has no native form", set: NewUpdate().Append("name", "x"), wantErr: true},
		{name: "non-numeric increment", set: NewUpdate().Increment("n", "five"), wantErr: true},
		{name: "empty update", set: NewUpdate(), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newDDBExpr(NewItemProcessor(true))
			got, err := tr.updateExpression(tt.set)
			if tt.wantErr {
				if !IsBadRequest(err) {
					t.Fatalf("expected BadRequest, got %q, %v", got, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("updateExpression failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("expression = %q, want %q", got, tt.want)
			}
			if tt.wantValues != nil && !reflect.DeepEqual(map[string]types.AttributeValue(tr.Values()), tt.wantValues) {
				t.Errorf("values = %#v, want %#v", tr.Values(), tt.wantValues)
			}
		})
	}
}
