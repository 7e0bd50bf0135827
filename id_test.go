package polystore

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewID(t *testing.T) {
	id1 := NewID()
	time.Sleep(1 * time.Millisecond)
	id2 := NewID()

	if id1 == id2 {
		t.Fatal("NewID() generated duplicate ids")
	}
	parsed, err := uuid.Parse(id1)
	if err != nil {
		t.Fatalf("NewID() not a uuid: %v", err)
	}
	if parsed.Version() != 7 {
		t.Errorf("version = %d, want 7", parsed.Version())
	}

	// v7 ids sort by creation time.
	if id1 > id2 {
		t.Errorf("ids not time-ordered: %s > %s", id1, id2)
	}
}

func TestCompilePutMintsID(t *testing.T) {
	c := NewCompiler(NewItemProcessor(true))

	op, err := c.CompilePut(PutRequest{
		Collection: "users",
		Value:      Document{"email": "alice@example.com"},
	})
	if err != nil {
		t.Fatalf("CompilePut without key: %v", err)
	}
	id, ok := op.Key.ID.(string)
	if !ok || id == "" {
		t.Fatalf("Key.ID = %v, want a generated id", op.Key.ID)
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("generated id %q not a uuid: %v", id, err)
	}
	if op.Value["id"] != id {
		t.Errorf("embedded id = %v, want %q", op.Value["id"], id)
	}

	// An id embedded in the value still wins over minting.
	op, err = c.CompilePut(PutRequest{
		Collection: "users",
		Value:      Document{"id": "u1", "email": "bob@example.com"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if op.Key.ID != "u1" {
		t.Errorf("Key.ID = %v, want the embedded id", op.Key.ID)
	}
}

func BenchmarkNewID(b *testing.B) {
	for i := 0; i < b.N; i++ {
		NewID()
	}
}
