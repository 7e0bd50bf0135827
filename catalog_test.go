package polystore

import (
	"errors"
	"sync"
	"testing"
)

func TestIndexCatalogCachesLoads(t *testing.T) {
	c := newIndexCatalog()
	loads := 0
	load := func() ([]*DBIndex, error) {
		loads++
		return []*DBIndex{MainDBIndex("pk", "id")}, nil
	}

	for i := 0; i < 3; i++ {
		indexes, err := c.Get("users", load)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if len(indexes) != 1 || indexes[0].Name != MainIndexName {
			t.Fatalf("indexes = %v", indexes)
		}
	}
	if loads != 1 {
		t.Errorf("load called %d times, want 1", loads)
	}
}

func TestIndexCatalogLoadErrorNotCached(t *testing.T) {
	c := newIndexCatalog()
	fail := true
	load := func() ([]*DBIndex, error) {
		if fail {
			return nil, errors.New("transient")
		}
		return []*DBIndex{MainDBIndex("pk", "id")}, nil
	}

	if _, err := c.Get("users", load); err == nil {
		t.Fatal("expected load error")
	}

	fail = false
	indexes, err := c.Get("users", load)
	if err != nil {
		t.Fatalf("Get after recovery failed: %v", err)
	}
	if len(indexes) != 1 {
		t.Errorf("indexes = %v", indexes)
	}
}

func TestIndexCatalogInvalidate(t *testing.T) {
	c := newIndexCatalog()
	loads := 0
	load := func() ([]*DBIndex, error) {
		loads++
		return nil, nil
	}

	c.Get("users", load)
	c.Get("orders", load)
	c.Invalidate("users")
	c.Get("users", load)
	c.Get("orders", load)
	if loads != 3 {
		t.Errorf("loads = %d, want 3 (users reloaded, orders cached)", loads)
	}

	c.InvalidateAll()
	c.Get("users", load)
	c.Get("orders", load)
	if loads != 5 {
		t.Errorf("loads = %d, want 5 after InvalidateAll", loads)
	}
}

func TestIndexCatalogConcurrentAccess(t *testing.T) {
	c := newIndexCatalog()
	load := func() ([]*DBIndex, error) {
		return []*DBIndex{MainDBIndex("pk", "id")}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, err := c.Get("users", load); err != nil {
					t.Error(err)
					return
				}
				if j%10 == 0 {
					c.Invalidate("users")
				}
			}
		}()
	}
	wg.Wait()
}
