package polystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores each item as a JSON string under
// polystore:<collection>:<id>:<pk> and runs every filter client-side
// through the evaluator. Conditional writes use WATCH/MULTI optimistic
// transactions; a concurrent modification surfaces as ErrConflict and
// is never silently retried.
//
// Batch semantics: unconditional batches go through one pipeline;
// items are independent and there is no atomicity. Batches carrying
// conditions fall back to sequential conditional writes.
// Transact semantics: all keys are WATCHed, all conditions checked,
// then the writes commit in one MULTI/EXEC. Any condition failure or
// concurrent modification aborts the whole set with ErrConflict.
type RedisBackend struct {
	client    *redis.Client
	processor *ItemProcessor
	evaluator *Evaluator
}

// NewRedisBackend wraps an existing client.
func NewRedisBackend(client *redis.Client, processor *ItemProcessor) *RedisBackend {
	return &RedisBackend{
		client:    client,
		processor: processor,
		evaluator: NewEvaluator(processor),
	}
}

// NewRedisBackendFromConfig dials a client from config, with
// environment fallbacks per RedisConfigFromEnv.
func NewRedisBackendFromConfig(cfg RedisConfig, processor *ItemProcessor) *RedisBackend {
	return NewRedisBackend(redis.NewClient(RedisOptions(cfg)), processor)
}

func (b *RedisBackend) Name() string { return "redis" }

const redisKeyPrefix = "polystore"

func redisItemKey(collection string, dbKey Document) string {
	return fmt.Sprintf("%s:%s:%v:%v", redisKeyPrefix, collection, dbKey[AttrID], dbKey[AttrPK])
}

func redisCollectionPattern(collection string) string {
	return redisKeyPrefix + ":" + collection + ":*"
}

func redisCollectionsKey() string {
	return redisKeyPrefix + ":collections"
}

func redisIndexKey(collection string) string {
	return redisKeyPrefix + ":indexes:" + collection
}

func redisErr(err error, op string) error {
	return WithContext(ErrBackendUnavailable, map[string]interface{}{
		"backend": "redis",
		"op":      op,
		"error":   err.Error(),
	})
}

func (b *RedisBackend) decode(raw string) (Document, error) {
	var doc Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, WithContext(ErrInvalidData, map[string]interface{}{
			"backend": "redis",
			"error":   err.Error(),
		})
	}
	return doc, nil
}

func (b *RedisBackend) item(value Document) *Item {
	return &Item{
		Key:   b.processor.KeyFromValue(value),
		Value: b.processor.SuppressFieldsIfNeeded(value),
		Etag:  b.processor.EtagFromValue(value),
	}
}

func (b *RedisBackend) Get(ctx context.Context, op *CompiledOp) (*Item, error) {
	raw, err := b.client.Get(ctx, redisItemKey(op.Collection, op.DBKey)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, WithContext(ErrNotFound, map[string]interface{}{
			"collection": op.Collection,
			"id":         op.Key.ID,
		})
	}
	if err != nil {
		return nil, redisErr(err, "get")
	}
	doc, err := b.decode(raw)
	if err != nil {
		return nil, err
	}
	return b.item(doc), nil
}

func (b *RedisBackend) Put(ctx context.Context, op *CompiledOp) (*Item, error) {
	key := redisItemKey(op.Collection, op.DBKey)
	payload, err := json.Marshal(op.Value)
	if err != nil {
		return nil, WithContext(ErrInvalidData, map[string]interface{}{"error": err.Error()})
	}

	// Unconditional upsert needs no WATCH.
	if !op.MustExist && !op.MustNotExist && op.Where == nil && op.Returning != ReturningOld {
		if err := b.client.Set(ctx, key, payload, 0).Err(); err != nil {
			return nil, redisErr(err, "put")
		}
		return b.returning(op, nil, op.Value), nil
	}

	var old Document
	txn := func(tx *redis.Tx) error {
		current, exists, err := b.read(ctx, tx, key)
		if err != nil {
			return err
		}
		old = current
		if err := b.check(op, current, exists); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		return err
	}
	if err := b.watch(ctx, txn, key); err != nil {
		return nil, err
	}
	return b.returning(op, old, op.Value), nil
}

func (b *RedisBackend) Update(ctx context.Context, op *CompiledOp) (*Item, error) {
	key := redisItemKey(op.Collection, op.DBKey)
	var old, updated Document
	txn := func(tx *redis.Tx) error {
		current, exists, err := b.read(ctx, tx, key)
		if err != nil {
			return err
		}
		if err := b.check(op, current, exists); err != nil {
			return err
		}
		old = current
		updated, err = b.evaluator.ApplyUpdate(current, op.Set)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(updated)
		if err != nil {
			return WithContext(ErrInvalidData, map[string]interface{}{"error": err.Error()})
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		return err
	}
	if err := b.watch(ctx, txn, key); err != nil {
		return nil, err
	}
	return b.returning(op, old, updated), nil
}

func (b *RedisBackend) Delete(ctx context.Context, op *CompiledOp) error {
	key := redisItemKey(op.Collection, op.DBKey)
	txn := func(tx *redis.Tx) error {
		current, exists, err := b.read(ctx, tx, key)
		if err != nil {
			return err
		}
		if err := b.check(op, current, exists); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}
	return b.watch(ctx, txn, key)
}

// read fetches the current document inside a WATCH block.
func (b *RedisBackend) read(ctx context.Context, tx *redis.Tx, key string) (Document, bool, error) {
	raw, err := tx.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, redisErr(err, "get")
	}
	doc, err := b.decode(raw)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

func (b *RedisBackend) check(op *CompiledOp, current Document, exists bool) error {
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

// watch runs the optimistic transaction once. TxFailedErr means a
// watched key changed underneath us; that is a Conflict the caller
// must handle, not something to retry behind their back.
func (b *RedisBackend) watch(ctx context.Context, txn func(tx *redis.Tx) error, keys ...string) error {
	err := b.client.Watch(ctx, txn, keys...)
	if errors.Is(err, redis.TxFailedErr) {
		return WithContext(ErrConflict, map[string]interface{}{
			"backend": "redis",
			"reason":  "concurrent modification",
		})
	}
	return err
}

func (b *RedisBackend) returning(op *CompiledOp, old, updated Document) *Item {
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

func (b *RedisBackend) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	items, err := b.scanCollection(ctx, req.Collection)
	if err != nil {
		return nil, err
	}
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

func (b *RedisBackend) Count(ctx context.Context, req CountRequest) (int, error) {
	items, err := b.scanCollection(ctx, req.Collection)
	if err != nil {
		return 0, err
	}
	return b.evaluator.CountItems(items, req.Where)
}

func (b *RedisBackend) scanCollection(ctx context.Context, collection string) ([]Document, error) {
	var items []Document
	iter := b.client.Scan(ctx, 0, redisCollectionPattern(collection), int64(DefaultScanPageSize)).Iterator()
	for iter.Next(ctx) {
		raw, err := b.client.Get(ctx, iter.Val()).Result()
		if errors.Is(err, redis.Nil) {
			continue // deleted between scan and read
		}
		if err != nil {
			return nil, redisErr(err, "scan")
		}
		doc, err := b.decode(raw)
		if err != nil {
			return nil, err
		}
		items = append(items, doc)
	}
	if err := iter.Err(); err != nil {
		return nil, redisErr(err, "scan")
	}
	return items, nil
}

func (b *RedisBackend) Batch(ctx context.Context, ops []*CompiledOp) error {
	conditional := false
	for _, op := range ops {
		if op.MustExist || op.MustNotExist || op.Where != nil {
			conditional = true
			break
		}
	}
	if conditional {
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

	_, err := b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, op := range ops {
			key := redisItemKey(op.Collection, op.DBKey)
			switch op.Kind {
			case OpPut:
				payload, err := json.Marshal(op.Value)
				if err != nil {
					return WithContext(ErrInvalidData, map[string]interface{}{"error": err.Error()})
				}
				pipe.Set(ctx, key, payload, 0)
			case OpDelete:
				pipe.Del(ctx, key)
			}
		}
		return nil
	})
	if err != nil {
		return redisErr(err, "batch")
	}
	return nil
}

func (b *RedisBackend) Transact(ctx context.Context, ops []*CompiledOp) ([]*Item, error) {
	keys := make([]string, 0, len(ops))
	for _, op := range ops {
		keys = append(keys, redisItemKey(op.Collection, op.DBKey))
	}

	results := make([]*Item, len(ops))
	txn := func(tx *redis.Tx) error {
		// Check every condition before committing anything.
		currents := make([]Document, len(ops))
		updates := make([]Document, len(ops))
		for i, op := range ops {
			current, exists, err := b.read(ctx, tx, keys[i])
			if err != nil {
				return err
			}
			switch {
			case op.MustNotExist && exists,
				op.MustExist && !exists,
				op.Kind != OpPut && !exists:
				return ErrConflict
			}
			if op.Where != nil {
				ok, err := b.evaluator.Matches(current, op.Where)
				if err != nil {
					return err
				}
				if !ok {
					return ErrConflict
				}
			}
			currents[i] = current
			if op.Kind == OpUpdate {
				updates[i], err = b.evaluator.ApplyUpdate(current, op.Set)
				if err != nil {
					return err
				}
			}
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, op := range ops {
				switch op.Kind {
				case OpPut:
					payload, err := json.Marshal(op.Value)
					if err != nil {
						return WithContext(ErrInvalidData, map[string]interface{}{"error": err.Error()})
					}
					pipe.Set(ctx, keys[i], payload, 0)
					results[i] = b.returning(op, currents[i], op.Value)
				case OpUpdate:
					payload, err := json.Marshal(updates[i])
					if err != nil {
						return WithContext(ErrInvalidData, map[string]interface{}{"error": err.Error()})
					}
					pipe.Set(ctx, keys[i], payload, 0)
					results[i] = b.returning(op, currents[i], updates[i])
				case OpDelete:
					pipe.Del(ctx, keys[i])
				}
			}
			return nil
		})
		return err
	}
	if err := b.watch(ctx, txn, keys...); err != nil {
		return nil, err
	}
	return results, nil
}

func (b *RedisBackend) CreateCollection(ctx context.Context, collection string, cfg CollectionConfig, exists *bool) (*CollectionResult, error) {
	added, err := b.client.SAdd(ctx, redisCollectionsKey(), collection).Result()
	if err != nil {
		return nil, redisErr(err, "create_collection")
	}
	status := CollectionStatusCreated
	if added == 0 {
		if exists != nil && !*exists {
			return nil, WithContext(ErrConflict, map[string]interface{}{
				"collection": collection,
			})
		}
		status = CollectionStatusExists
	}
	result := &CollectionResult{Status: status}
	for _, index := range cfg.Indexes {
		ir, err := b.CreateIndex(ctx, collection, index, nil)
		if err != nil {
			return nil, err
		}
		result.Indexes = append(result.Indexes, *ir)
	}
	return result, nil
}

func (b *RedisBackend) DropCollection(ctx context.Context, collection string, exists *bool) (*CollectionResult, error) {
	removed, err := b.client.SRem(ctx, redisCollectionsKey(), collection).Result()
	if err != nil {
		return nil, redisErr(err, "drop_collection")
	}
	if removed == 0 && exists != nil && *exists {
		return nil, WithContext(ErrNotFound, map[string]interface{}{
			"collection": collection,
		})
	}

	iter := b.client.Scan(ctx, 0, redisCollectionPattern(collection), int64(DefaultScanPageSize)).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, redisErr(err, "drop_collection")
	}
	keys = append(keys, redisIndexKey(collection))
	if err := b.client.Del(ctx, keys...).Err(); err != nil {
		return nil, redisErr(err, "drop_collection")
	}

	status := CollectionStatusDropped
	if removed == 0 {
		status = CollectionStatusNotExists
	}
	return &CollectionResult{Status: status}, nil
}

func (b *RedisBackend) HasCollection(ctx context.Context, collection string) (bool, error) {
	ok, err := b.client.SIsMember(ctx, redisCollectionsKey(), collection).Result()
	if err != nil {
		return false, redisErr(err, "has_collection")
	}
	return ok, nil
}

func (b *RedisBackend) CreateIndex(ctx context.Context, collection string, index Index, exists *bool) (*IndexResult, error) {
	existing, err := b.ListIndexes(ctx, collection)
	if err != nil {
		return nil, err
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
	meta, err := json.Marshal(metaFromIndex(withName(index, name)))
	if err != nil {
		return nil, WithContext(ErrInvalidData, map[string]interface{}{"error": err.Error()})
	}
	if err := b.client.HSet(ctx, redisIndexKey(collection), name, meta).Err(); err != nil {
		return nil, redisErr(err, "create_index")
	}
	return &IndexResult{Status: IndexStatusCreated}, nil
}

func (b *RedisBackend) DropIndex(ctx context.Context, collection string, index Index, exists *bool) (*IndexResult, error) {
	name := index.IndexName()
	if name == "" {
		name = EncodeIndexName(index, "")
	}
	removed, err := b.client.HDel(ctx, redisIndexKey(collection), name).Result()
	if err != nil {
		return nil, redisErr(err, "drop_index")
	}
	if removed == 0 {
		if exists != nil && *exists {
			return nil, WithContext(ErrNotFound, map[string]interface{}{
				"collection": collection,
				"index":      name,
			})
		}
		return &IndexResult{Status: IndexStatusNotExists}, nil
	}
	return &IndexResult{Status: IndexStatusDropped}, nil
}

func (b *RedisBackend) ListIndexes(ctx context.Context, collection string) ([]Index, error) {
	entries, err := b.client.HGetAll(ctx, redisIndexKey(collection)).Result()
	if err != nil {
		return nil, redisErr(err, "list_indexes")
	}
	indexes := make([]Index, 0, len(entries))
	for name, raw := range entries {
		var meta indexMeta
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			// Stale metadata written by hand: fall back to the name codec.
			kind := DecodeIndexKind(name)
			if kind == "" {
				continue
			}
			meta = indexMeta{Kind: kind, Name: name}
		}
		indexes = append(indexes, meta.toIndex())
	}
	return indexes, nil
}

func (b *RedisBackend) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return redisErr(err, "ping")
	}
	return nil
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
