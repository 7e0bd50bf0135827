package polystore

import (
	"reflect"
	"testing"
)

func TestDocumentClone(t *testing.T) {
	doc := Document{
		"name": "alice",
		"address": map[string]interface{}{
			"city": "Oslo",
		},
		"tags": []interface{}{"a", "b"},
	}

	clone := doc.Clone()
	clone["name"] = "bob"
	clone["address"].(map[string]interface{})["city"] = "Bergen"
	clone["tags"].([]interface{})[0] = "z"

	if doc["name"] != "alice" {
		t.Error("clone shares top-level fields")
	}
	if doc["address"].(map[string]interface{})["city"] != "Oslo" {
		t.Error("clone shares nested maps")
	}
	if doc["tags"].([]interface{})[0] != "a" {
		t.Error("clone shares nested slices")
	}
}

func TestParsePath(t *testing.T) {
	tests := []struct {
		path string
		want []pathSegment
	}{
		{"name", []pathSegment{{key: "name"}}},
		{"address.city", []pathSegment{{key: "address"}, {key: "city"}}},
		{"tags[0]", []pathSegment{{key: "tags"}, {index: 0, isIndex: true}}},
		{"tags[-]", []pathSegment{{key: "tags"}, {index: -1, isIndex: true}}},
		{"a.b[2].c", []pathSegment{{key: "a"}, {key: "b"}, {index: 2, isIndex: true}, {key: "c"}}},
		{"m[key]", []pathSegment{{key: "m"}, {key: "key"}}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := parsePath(tt.path)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parsePath(%q) = %+v, want %+v", tt.path, got, tt.want)
			}
		})
	}
}

func TestGetPath(t *testing.T) {
	doc := Document{
		"name": "alice",
		"address": map[string]interface{}{
			"city": "Oslo",
		},
		"tags": []interface{}{"a", "b"},
		"orders": []interface{}{
			map[string]interface{}{"total": 10.0},
		},
	}

	tests := []struct {
		path  string
		want  interface{}
		found bool
	}{
		{"name", "alice", true},
		{"address.city", "Oslo", true},
		{"tags[1]", "b", true},
		{"orders[0].total", 10.0, true},
		{"ghost", nil, false},
		{"address.zip", nil, false},
		{"tags[5]", nil, false},
		{"name.sub", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, found := getPath(doc, tt.path)
			if found != tt.found {
				t.Fatalf("getPath(%q) found = %v, want %v", tt.path, found, tt.found)
			}
			if found && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("getPath(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestApplyUpdate(t *testing.T) {
	e := testEvaluator()

	tests := []struct {
		name   string
		start  Document
		update *Update
		check  func(t *testing.T, out Document)
	}{
		{
			name:   "put creates field",
			start:  Document{},
			update: NewUpdate().Put("status", "open"),
			check: func(t *testing.T, out Document) {
				if out["status"] != "open" {
					t.Errorf("status = %v", out["status"])
				}
			},
		},
		{
			name:   "put creates intermediate maps",
			start:  Document{},
			update: NewUpdate().Put("address.city", "Oslo"),
			check: func(t *testing.T, out Document) {
				if v, _ := getPath(out, "address.city"); v != "Oslo" {
					t.Errorf("address.city = %v", v)
				}
			},
		},
		{
			name:   "put replaces array element",
			start:  Document{"tags": []interface{}{"a", "b"}},
			update: NewUpdate().Put("tags[0]", "z"),
			check: func(t *testing.T, out Document) {
				if v, _ := getPath(out, "tags[0]"); v != "z" {
					t.Errorf("tags[0] = %v", v)
				}
			},
		},
		{
			name:   "insert appends with dash",
			start:  Document{"tags": []interface{}{"a"}},
			update: NewUpdate().Insert("tags[-]", "b"),
			check: func(t *testing.T, out Document) {
				want := []interface{}{"a", "b"}
				if !reflect.DeepEqual(out["tags"], want) {
					t.Errorf("tags = %v, want %v", out["tags"], want)
				}
			},
		},
		{
			name:   "insert prepends at zero",
			start:  Document{"tags": []interface{}{"b"}},
			update: NewUpdate().Insert("tags[0]", "a"),
			check: func(t *testing.T, out Document) {
				want := []interface{}{"a", "b"}
				if !reflect.DeepEqual(out["tags"], want) {
					t.Errorf("tags = %v, want %v", out["tags"], want)
				}
			},
		},
		{
			name:   "delete field",
			start:  Document{"a": 1.0, "b": 2.0},
			update: NewUpdate().Delete("a"),
			check: func(t *testing.T, out Document) {
				if _, ok := out["a"]; ok {
					t.Error("field a should be deleted")
				}
				if out["b"] != 2.0 {
					t.Error("field b should survive")
				}
			},
		},
		{
			name:   "delete array element",
			start:  Document{"tags": []interface{}{"a", "b", "c"}},
			update: NewUpdate().Delete("tags[1]"),
			check: func(t *testing.T, out Document) {
				want := []interface{}{"a", "c"}
				if !reflect.DeepEqual(out["tags"], want) {
					t.Errorf("tags = %v, want %v", out["tags"], want)
				}
			},
		},
		{
			name:   "increment integers stay integral",
			start:  Document{"n": int64(1)},
			update: NewUpdate().Increment("n", 2),
			check: func(t *testing.T, out Document) {
				if out["n"] != int64(3) {
					t.Errorf("n = %v (%T), want int64 3", out["n"], out["n"])
				}
			},
		},
		{
			name:   "increment float",
			start:  Document{"n": 1.5},
			update: NewUpdate().Increment("n", 1),
			check: func(t *testing.T, out Document) {
				if out["n"] != 2.5 {
					t.Errorf("n = %v, want 2.5", out["n"])
				}
			},
		},
		{
			name:   "increment creates absent field",
			start:  Document{},
			update: NewUpdate().Increment("n", 5),
			check: func(t *testing.T, out Document) {
				if out["n"] != int64(5) {
					t.Errorf("n = %v, want 5", out["n"])
				}
			},
		},
		{
			name:   "move",
			start:  Document{"tmp": "v"},
			update: NewUpdate().Move("tmp", "final"),
			check: func(t *testing.T, out Document) {
				if out["final"] != "v" {
					t.Errorf("final = %v", out["final"])
				}
				if _, ok := out["tmp"]; ok {
					t.Error("source should be removed after move")
				}
			},
		},
		{
			name:   "array union dedupes",
			start:  Document{"tags": []interface{}{"a", "b"}},
			update: NewUpdate().ArrayUnion("tags", "b", "c"),
			check: func(t *testing.T, out Document) {
				want := []interface{}{"a", "b", "c"}
				if !reflect.DeepEqual(out["tags"], want) {
					t.Errorf("tags = %v, want %v", out["tags"], want)
				}
			},
		},
		{
			name:   "array remove",
			start:  Document{"tags": []interface{}{"a", "b", "c"}},
			update: NewUpdate().ArrayRemove("tags", "b"),
			check: func(t *testing.T, out Document) {
				want := []interface{}{"a", "c"}
				if !reflect.DeepEqual(out["tags"], want) {
					t.Errorf("tags = %v, want %v", out["tags"], want)
				}
			},
		},
		{
			name:   "append and prepend strings",
			start:  Document{"log": "b"},
			update: NewUpdate().Append("log", "c").Prepend("log", "a"),
			check: func(t *testing.T, out Document) {
				if out["log"] != "abc" {
					t.Errorf("log = %v, want abc", out["log"])
				}
			},
		},
		{
			name:   "operations apply in order",
			start:  Document{},
			update: NewUpdate().Put("n", 1).Increment("n", 1).Put("m", "x").Delete("m"),
			check: func(t *testing.T, out Document) {
				if out["n"] != int64(2) {
					t.Errorf("n = %v, want 2", out["n"])
				}
				if _, ok := out["m"]; ok {
					t.Error("m should be deleted")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := e.ApplyUpdate(tt.start, tt.update)
			if err != nil {
				t.Fatalf("ApplyUpdate failed: %v", err)
			}
			tt.check(t, out)
		})
	}
}

func TestApplyUpdateDoesNotMutateInput(t *testing.T) {
	e := testEvaluator()
	start := Document{"n": int64(1), "nested": map[string]interface{}{"k": "v"}}

	_, err := e.ApplyUpdate(start, NewUpdate().Increment("n", 1).Put("nested.k", "w"))
	if err != nil {
		t.Fatal(err)
	}
	if start["n"] != int64(1) {
		t.Error("input document n mutated")
	}
	if start["nested"].(map[string]interface{})["k"] != "v" {
		t.Error("input nested map mutated")
	}
}

func TestApplyUpdateErrors(t *testing.T) {
	e := testEvaluator()

	tests := []struct {
		name   string
		start  Document
		update *Update
	}{
		{"increment non-number arg", Document{}, NewUpdate().Increment("n", "x")},
		{"move absent source", Document{}, NewUpdate().Move("ghost", "dest")},
		{"put index out of range", Document{"tags": []interface{}{"a"}}, NewUpdate().Put("tags[5]", "z")},
		{"insert index past end", Document{"tags": []interface{}{"a"}}, NewUpdate().Insert("tags[5]", "z")},
		{"append non-string arg", Document{}, &Update{Operations: []UpdateOperation{{Field: "s", Op: UpdateAppend, Args: []interface{}{1}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.ApplyUpdate(tt.start, tt.update)
			if !IsBadRequest(err) {
				t.Errorf("expected ErrBadRequest, got %v", err)
			}
		})
	}
}
