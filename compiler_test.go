package polystore

import "testing"

func newTestCompiler() *Compiler {
	return NewCompiler(NewItemProcessor(true))
}

func TestCompileGet(t *testing.T) {
	c := newTestCompiler()

	op, err := c.CompileGet(GetRequest{Collection: "users", Key: Key{ID: "u1"}})
	if err != nil {
		t.Fatalf("CompileGet failed: %v", err)
	}
	if op.Kind != OpGet || op.Collection != "users" {
		t.Errorf("op = %+v", op)
	}
	if op.DBKey[AttrID] != "u1" || op.DBKey[AttrPK] != "u1" {
		t.Errorf("DBKey = %v, want canonical {$id, $pk}", op.DBKey)
	}

	if _, err := c.CompileGet(GetRequest{Collection: "users"}); !IsBadRequest(err) {
		t.Errorf("missing key should be BadRequest, got %v", err)
	}
}

func TestCompilePut(t *testing.T) {
	c := newTestCompiler()

	op, err := c.CompilePut(PutRequest{
		Collection: "users",
		Key:        Key{ID: "u1"},
		Value:      Document{"name": "alice"},
	})
	if err != nil {
		t.Fatalf("CompilePut failed: %v", err)
	}
	if op.Kind != OpPut {
		t.Errorf("kind = %q", op.Kind)
	}
	if op.MustExist || op.MustNotExist {
		t.Error("unconditional put should carry no existence requirement")
	}
	if op.Value["id"] != "u1" || op.Value["pk"] != "u1" {
		t.Errorf("value should embed identity fields, got %v", op.Value)
	}
	if op.Etag == "" || op.Value["_etag"] != op.Etag {
		t.Errorf("op.Etag = %q, embedded = %v", op.Etag, op.Value["_etag"])
	}
	if _, ok := op.Value["name"]; !ok {
		t.Error("caller fields must survive embedding")
	}
}

func TestCompilePutConditions(t *testing.T) {
	c := newTestCompiler()

	tests := []struct {
		name             string
		req              PutRequest
		wantMustExist    bool
		wantMustNotExist bool
		wantWhere        bool
	}{
		{
			name: "create only",
			req: PutRequest{
				Collection: "users", Key: Key{ID: "u1"},
				Value: Document{}, Exists: Bool(false),
			},
			wantMustNotExist: true,
		},
		{
			name: "replace only",
			req: PutRequest{
				Collection: "users", Key: Key{ID: "u1"},
				Value: Document{}, Exists: Bool(true),
			},
			wantMustExist: true,
		},
		{
			name: "where implies exists",
			req: PutRequest{
				Collection: "users", Key: Key{ID: "u1"},
				Value: Document{}, Where: Eq("status", "open"),
			},
			wantMustExist: true,
			wantWhere:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, err := c.CompilePut(tt.req)
			if err != nil {
				t.Fatalf("CompilePut failed: %v", err)
			}
			if op.MustExist != tt.wantMustExist {
				t.Errorf("MustExist = %v, want %v", op.MustExist, tt.wantMustExist)
			}
			if op.MustNotExist != tt.wantMustNotExist {
				t.Errorf("MustNotExist = %v, want %v", op.MustNotExist, tt.wantMustNotExist)
			}
			if (op.Where != nil) != tt.wantWhere {
				t.Errorf("Where = %v, want present=%v", op.Where, tt.wantWhere)
			}
		})
	}
}

func TestCompilePutKeyFromValue(t *testing.T) {
	c := newTestCompiler()

	// A key-less put derives the key from the embedded identity fields.
	op, err := c.CompilePut(PutRequest{
		Collection: "users",
		Value:      Document{"id": "u9", "name": "x"},
	})
	if err != nil {
		t.Fatalf("CompilePut failed: %v", err)
	}
	if op.Key.ID != "u9" {
		t.Errorf("derived key = %+v, want id u9", op.Key)
	}

	// With no key anywhere a fresh id is minted.
	op, err = c.CompilePut(PutRequest{Collection: "users", Value: Document{"name": "x"}})
	if err != nil {
		t.Fatalf("CompilePut failed: %v", err)
	}
	if id, ok := op.Key.ID.(string); !ok || id == "" {
		t.Errorf("minted key = %+v, want a generated id", op.Key)
	}
}

func TestCompileUpdate(t *testing.T) {
	c := newTestCompiler()

	op, err := c.CompileUpdate(UpdateRequest{
		Collection: "users",
		Key:        Key{ID: "u1"},
		Set:        NewUpdate().Increment("n", 1),
		Where:      Eq("status", "open"),
	})
	if err != nil {
		t.Fatalf("CompileUpdate failed: %v", err)
	}
	if !op.MustExist {
		t.Error("update must require existence")
	}
	if op.Where == nil {
		t.Error("where should be carried")
	}
	if op.Etag == "" {
		t.Error("local etag should be generated")
	}

	// The fresh etag rotates in the same write.
	last := op.Set.Operations[len(op.Set.Operations)-1]
	if last.Field != "_etag" || last.Args[0] != op.Etag {
		t.Errorf("expected trailing etag put of %q, got %+v", op.Etag, last)
	}
}

func TestCompileUpdateDoesNotMutateCallerSet(t *testing.T) {
	c := newTestCompiler()
	set := NewUpdate().Increment("n", 1)

	if _, err := c.CompileUpdate(UpdateRequest{
		Collection: "users", Key: Key{ID: "u1"}, Set: set,
	}); err != nil {
		t.Fatal(err)
	}
	if len(set.Operations) != 1 {
		t.Errorf("caller update grew to %d operations", len(set.Operations))
	}
}

func TestCompileUpdateEmptySet(t *testing.T) {
	c := newTestCompiler()

	_, err := c.CompileUpdate(UpdateRequest{Collection: "users", Key: Key{ID: "u1"}})
	if !IsBadRequest(err) {
		t.Errorf("empty update should be BadRequest, got %v", err)
	}
	_, err = c.CompileUpdate(UpdateRequest{Collection: "users", Key: Key{ID: "u1"}, Set: NewUpdate()})
	if !IsBadRequest(err) {
		t.Errorf("update with no operations should be BadRequest, got %v", err)
	}
}

func TestCompileDelete(t *testing.T) {
	c := newTestCompiler()

	op, err := c.CompileDelete(DeleteRequest{Collection: "users", Key: Key{ID: "u1"}})
	if err != nil {
		t.Fatalf("CompileDelete failed: %v", err)
	}
	if op.Kind != OpDelete || !op.MustExist {
		t.Errorf("op = %+v", op)
	}
}

func TestCompileBatch(t *testing.T) {
	c := newTestCompiler()

	compiled, err := c.CompileBatch([]BatchOp{
		{Put: &PutRequest{Collection: "users", Key: Key{ID: "u1"}, Value: Document{}}},
		{Delete: &DeleteRequest{Collection: "users", Key: Key{ID: "u2"}}},
	})
	if err != nil {
		t.Fatalf("CompileBatch failed: %v", err)
	}
	if len(compiled) != 2 || compiled[0].Kind != OpPut || compiled[1].Kind != OpDelete {
		t.Errorf("compiled = %+v", compiled)
	}
}

func TestCompileBatchErrors(t *testing.T) {
	c := newTestCompiler()

	tests := []struct {
		name string
		ops  []BatchOp
	}{
		{"empty batch", nil},
		{"both put and delete", []BatchOp{{
			Put:    &PutRequest{Collection: "users", Key: Key{ID: "u1"}, Value: Document{}},
			Delete: &DeleteRequest{Collection: "users", Key: Key{ID: "u1"}},
		}}},
		{"neither put nor delete", []BatchOp{{}}},
		{"mixed collections", []BatchOp{
			{Put: &PutRequest{Collection: "users", Key: Key{ID: "u1"}, Value: Document{}}},
			{Put: &PutRequest{Collection: "orders", Key: Key{ID: "o1"}, Value: Document{}}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.CompileBatch(tt.ops); !IsBadRequest(err) {
				t.Errorf("expected ErrBadRequest, got %v", err)
			}
		})
	}
}

func TestCompileTransact(t *testing.T) {
	c := newTestCompiler()

	compiled, err := c.CompileTransact([]TransactOp{
		{Put: &PutRequest{Collection: "users", Key: Key{ID: "u1"}, Value: Document{}}},
		{Update: &UpdateRequest{Collection: "orders", Key: Key{ID: "o1"}, Set: NewUpdate().Put("s", "v")}},
		{Delete: &DeleteRequest{Collection: "logs", Key: Key{ID: "l1"}}},
	})
	if err != nil {
		t.Fatalf("CompileTransact failed: %v", err)
	}
	if len(compiled) != 3 {
		t.Fatalf("got %d ops, want 3", len(compiled))
	}
	// Transactions may span collections.
	if compiled[0].Collection == compiled[1].Collection {
		t.Error("expected distinct collections to be preserved")
	}
}

func TestCompileTransactErrors(t *testing.T) {
	c := newTestCompiler()

	if _, err := c.CompileTransact(nil); !IsBadRequest(err) {
		t.Errorf("empty transaction should be BadRequest, got %v", err)
	}

	_, err := c.CompileTransact([]TransactOp{{
		Put:    &PutRequest{Collection: "users", Key: Key{ID: "u1"}, Value: Document{}},
		Delete: &DeleteRequest{Collection: "users", Key: Key{ID: "u1"}},
	}})
	if !IsBadRequest(err) {
		t.Errorf("ambiguous transact op should be BadRequest, got %v", err)
	}
}
