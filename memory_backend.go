package polystore

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBackend is the in-process reference adapter. It holds every
// collection as a map keyed by the item's identity and evaluates all
// conditions and filters with the client-side evaluator, which makes
// it the executable definition of the contract the native adapters
// translate into their engines.
//
// Batch semantics: operations run sequentially and independently; the
// first failure stops the batch but earlier writes stay applied.
// Transact semantics: one mutex guards the two-phase check-then-commit,
// so the set is atomic and isolated.
type MemoryBackend struct {
	processor *ItemProcessor
	evaluator *Evaluator

	mu          sync.Mutex
	collections map[string]map[string]Document
	indexes     map[string]map[string]Index
}

// NewMemoryBackend creates an empty in-process backend.
func NewMemoryBackend(processor *ItemProcessor) *MemoryBackend {
	return &MemoryBackend{
		processor:   processor,
		evaluator:   NewEvaluator(processor),
		collections: make(map[string]map[string]Document),
		indexes:     make(map[string]map[string]Index),
	}
}

func (b *MemoryBackend) Name() string { return "memory" }

// dbKeyString flattens an item identity into the map key.
func dbKeyString(key Document) string {
	return fmt.Sprintf("%v\x00%v", key[AttrID], key[AttrPK])
}

// data returns the collection map, creating it on first write access.
// Callers hold b.mu.
func (b *MemoryBackend) data(collection string) map[string]Document {
	m, ok := b.collections[collection]
	if !ok {
		m = make(map[string]Document)
		b.collections[collection] = m
	}
	return m
}

func (b *MemoryBackend) item(value Document) *Item {
	return &Item{
		Key:   b.processor.KeyFromValue(value),
		Value: b.processor.SuppressFieldsIfNeeded(value.Clone()),
		Etag:  b.processor.EtagFromValue(value),
	}
}

func (b *MemoryBackend) Get(ctx context.Context, op *CompiledOp) (*Item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	value, ok := b.data(op.Collection)[dbKeyString(op.DBKey)]
	if !ok {
		return nil, WithContext(ErrNotFound, map[string]interface{}{
			"collection": op.Collection,
			"id":         op.Key.ID,
		})
	}
	return b.item(value), nil
}

func (b *MemoryBackend) Put(ctx context.Context, op *CompiledOp) (*Item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data := b.data(op.Collection)
	if err := b.checkCondition(data, op); err != nil {
		return nil, err
	}
	old := data[dbKeyString(op.DBKey)]
	data[dbKeyString(op.DBKey)] = op.Value.Clone()
	return b.returning(op, old, op.Value), nil
}

func (b *MemoryBackend) Update(ctx context.Context, op *CompiledOp) (*Item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data := b.data(op.Collection)
	if err := b.checkCondition(data, op); err != nil {
		return nil, err
	}
	current := data[dbKeyString(op.DBKey)]
	updated, err := b.evaluator.ApplyUpdate(current, op.Set)
	if err != nil {
		return nil, err
	}
	data[dbKeyString(op.DBKey)] = updated
	return b.returning(op, current, updated), nil
}

func (b *MemoryBackend) Delete(ctx context.Context, op *CompiledOp) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	data := b.data(op.Collection)
	if err := b.checkCondition(data, op); err != nil {
		return err
	}
	delete(data, dbKeyString(op.DBKey))
	return nil
}

// checkCondition enforces the compiled existence and Where conditions
// against the current item, mapping failures through op.FailureFor.
// Callers hold b.mu.
func (b *MemoryBackend) checkCondition(data map[string]Document, op *CompiledOp) error {
	current, exists := data[dbKeyString(op.DBKey)]
	if op.MustNotExist && exists {
		return op.FailureFor(exists)
	}
	if op.MustExist && !exists {
		return op.FailureFor(exists)
	}
	if op.Where != nil {
		ok, err := b.evaluator.Matches(current, op.Where)
		if err != nil {
			return err
		}
		if !ok {
			return op.FailureFor(exists)
		}
	}
	return nil
}

func (b *MemoryBackend) returning(op *CompiledOp, old, updated Document) *Item {
	switch op.Returning {
	case ReturningOld:
		if old == nil {
			old = Document{}
		}
		return b.item(old)
	case ReturningNew:
		return b.item(updated)
	default:
		item := b.item(updated)
		item.Value = nil
		return item
	}
}

func (b *MemoryBackend) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	b.mu.Lock()
	items := b.snapshot(req.Collection)
	b.mu.Unlock()

	matched, err := b.evaluator.QueryItems(items, req.Where, req.OrderBy, req.Select, req.Limit, req.Offset)
	if err != nil {
		return nil, err
	}
	result := &QueryResult{Items: make([]Item, 0, len(matched))}
	for _, value := range matched {
		result.Items = append(result.Items, *b.item(value))
	}
	return result, nil
}

func (b *MemoryBackend) Count(ctx context.Context, req CountRequest) (int, error) {
	b.mu.Lock()
	items := b.snapshot(req.Collection)
	b.mu.Unlock()
	return b.evaluator.CountItems(items, req.Where)
}

func (b *MemoryBackend) snapshot(collection string) []Document {
	data := b.collections[collection]
	items := make([]Document, 0, len(data))
	for _, value := range data {
		items = append(items, value)
	}
	return items
}

func (b *MemoryBackend) Batch(ctx context.Context, ops []*CompiledOp) error {
	for _, op := range ops {
		var err error
		switch op.Kind {
		case OpPut:
			_, err = b.Put(ctx, op)
		case OpDelete:
			err = b.Delete(ctx, op)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *MemoryBackend) Transact(ctx context.Context, ops []*CompiledOp) ([]*Item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Phase 1: every condition is checked before anything commits. Any
	// failed condition aborts the whole set with a single Conflict.
	for _, op := range ops {
		data := b.data(op.Collection)
		current, exists := data[dbKeyString(op.DBKey)]
		switch {
		case op.MustNotExist && exists,
			op.MustExist && !exists,
			op.Kind != OpPut && !exists:
			return nil, ErrConflict
		}
		if op.Where != nil {
			ok, err := b.evaluator.Matches(current, op.Where)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, ErrConflict
			}
		}
	}

	// Phase 2: commit, filling one result slot per operation in input
	// order. Deletes report nil.
	results := make([]*Item, len(ops))
	for i, op := range ops {
		data := b.data(op.Collection)
		old := data[dbKeyString(op.DBKey)]
		switch op.Kind {
		case OpPut:
			data[dbKeyString(op.DBKey)] = op.Value.Clone()
			results[i] = b.returning(op, old, op.Value)
		case OpUpdate:
			updated, err := b.evaluator.ApplyUpdate(old, op.Set)
			if err != nil {
				return nil, err
			}
			data[dbKeyString(op.DBKey)] = updated
			results[i] = b.returning(op, old, updated)
		case OpDelete:
			delete(data, dbKeyString(op.DBKey))
		}
	}
	return results, nil
}

func (b *MemoryBackend) CreateCollection(ctx context.Context, collection string, cfg CollectionConfig, exists *bool) (*CollectionResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	status := CollectionStatusCreated
	if _, ok := b.collections[collection]; ok {
		if exists != nil && !*exists {
			return nil, WithContext(ErrConflict, map[string]interface{}{
				"collection": collection,
			})
		}
		status = CollectionStatusExists
	} else {
		b.collections[collection] = make(map[string]Document)
	}
	result := &CollectionResult{Status: status}
	for _, index := range cfg.Indexes {
		ir, err := b.createIndexLocked(collection, index, nil)
		if err != nil {
			return nil, err
		}
		result.Indexes = append(result.Indexes, *ir)
	}
	return result, nil
}

func (b *MemoryBackend) DropCollection(ctx context.Context, collection string, exists *bool) (*CollectionResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	status := CollectionStatusDropped
	if _, ok := b.collections[collection]; ok {
		delete(b.collections, collection)
	} else {
		if exists != nil && *exists {
			return nil, WithContext(ErrNotFound, map[string]interface{}{
				"collection": collection,
			})
		}
		status = CollectionStatusNotExists
	}
	delete(b.indexes, collection)
	return &CollectionResult{Status: status}, nil
}

func (b *MemoryBackend) HasCollection(ctx context.Context, collection string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.collections[collection]
	return ok, nil
}

func (b *MemoryBackend) CreateIndex(ctx context.Context, collection string, index Index, exists *bool) (*IndexResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.createIndexLocked(collection, index, exists)
}

func (b *MemoryBackend) createIndexLocked(collection string, index Index, exists *bool) (*IndexResult, error) {
	existing := make([]Index, 0, len(b.indexes[collection]))
	for _, idx := range b.indexes[collection] {
		existing = append(existing, idx)
	}
	status, match := CheckIndexStatus(existing, index)
	if status == IndexStatusExists && exists != nil && !*exists {
		return nil, WithContext(ErrConflict, map[string]interface{}{
			"collection": collection,
			"index":      EncodeIndexName(index, ""),
		})
	}
	if status != IndexStatusNotExists {
		return &IndexResult{Status: status, Index: match}, nil
	}

	name := EncodeIndexName(index, "")
	if b.indexes[collection] == nil {
		b.indexes[collection] = make(map[string]Index)
	}
	b.indexes[collection][name] = withName(index, name)
	return &IndexResult{Status: IndexStatusCreated}, nil
}

func (b *MemoryBackend) DropIndex(ctx context.Context, collection string, index Index, exists *bool) (*IndexResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	name := index.IndexName()
	if name == "" {
		name = EncodeIndexName(index, "")
	}
	if _, ok := b.indexes[collection][name]; ok {
		delete(b.indexes[collection], name)
		return &IndexResult{Status: IndexStatusDropped}, nil
	}
	if exists != nil && *exists {
		return nil, WithContext(ErrNotFound, map[string]interface{}{
			"collection": collection,
			"index":      name,
		})
	}
	return &IndexResult{Status: IndexStatusNotExists}, nil
}

func (b *MemoryBackend) ListIndexes(ctx context.Context, collection string) ([]Index, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	indexes := make([]Index, 0, len(b.indexes[collection]))
	for _, idx := range b.indexes[collection] {
		indexes = append(indexes, idx)
	}
	return indexes, nil
}

func (b *MemoryBackend) Ping(ctx context.Context) error { return nil }

func (b *MemoryBackend) Close() error { return nil }
