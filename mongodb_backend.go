package polystore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoBackend maps collections onto native MongoDB collections, with
// the item identity stored in _id ("id\x00pk"). Filters push down as
// bson operator trees when translatable; the evaluator re-checks,
// orders and projects every result client-side so the semantics never
// depend on how much of the filter the server understood. Conditional
// writes guard against concurrent modification with the embedded etag.
//
// Batch semantics: one write per item, independent, no atomicity.
// Transact semantics: a causally consistent session transaction
// (requires a replica set); all conditions checked before any write.
type MongoBackend struct {
	client    *mongo.Client
	db        *mongo.Database
	processor *ItemProcessor
	evaluator *Evaluator
}

// NewMongoBackend wraps a connected client.
func NewMongoBackend(client *mongo.Client, database string, processor *ItemProcessor) *MongoBackend {
	return &MongoBackend{
		client:    client,
		db:        client.Database(database),
		processor: processor,
		evaluator: NewEvaluator(processor),
	}
}

// NewMongoBackendFromConfig dials a client from config.
func NewMongoBackendFromConfig(cfg MongoDBConfig, processor *ItemProcessor) (*MongoBackend, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, WithContext(ErrBackendUnavailable, map[string]interface{}{
			"backend": "mongodb",
			"error":   err.Error(),
		})
	}
	database := cfg.Database
	if database == "" {
		database = DefaultMongoDatabase
	}
	return NewMongoBackend(client, database, processor), nil
}

func (b *MongoBackend) Name() string { return "mongodb" }

func mongoDocID(dbKey Document) string {
	return fmt.Sprintf("%v\x00%v", dbKey[AttrID], dbKey[AttrPK])
}

func mongoErr(err error, op string) error {
	if mongo.IsDuplicateKeyError(err) {
		return WithContext(ErrConflict, map[string]interface{}{
			"backend": "mongodb",
			"op":      op,
		})
	}
	return WithContext(ErrBackendUnavailable, map[string]interface{}{
		"backend": "mongodb",
		"op":      op,
		"error":   err.Error(),
	})
}

// stored is the wire form: the document body plus the synthetic _id.
func mongoStored(dbKey, value Document) bson.M {
	stored := bson.M{"_id": mongoDocID(dbKey)}
	for k, v := range value {
		stored[k] = v
	}
	return stored
}

func mongoUnstored(stored bson.M) Document {
	doc := make(Document, len(stored))
	for k, v := range stored {
		if k == "_id" {
			continue
		}
		doc[k] = normalizeBSON(v)
	}
	return doc
}

// normalizeBSON rewrites driver-decoded values into the plain
// map/slice shapes the evaluator works on.
func normalizeBSON(v interface{}) interface{} {
	switch t := v.(type) {
	case bson.M:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = normalizeBSON(e)
		}
		return out
	case bson.D:
		out := make(map[string]interface{}, len(t))
		for _, e := range t {
			out[e.Key] = normalizeBSON(e.Value)
		}
		return out
	case bson.A:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = normalizeBSON(e)
		}
		return out
	case int32:
		return int64(t)
	default:
		return v
	}
}

func (b *MongoBackend) item(value Document) *Item {
	return &Item{
		Key:   b.processor.KeyFromValue(value),
		Value: b.processor.SuppressFieldsIfNeeded(value),
		Etag:  b.processor.EtagFromValue(value),
	}
}

func (b *MongoBackend) readDoc(ctx context.Context, collection string, dbKey Document) (Document, bool, error) {
	var stored bson.M
	err := b.db.Collection(collection).
		FindOne(ctx, bson.M{"_id": mongoDocID(dbKey)}).
		Decode(&stored)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, mongoErr(err, "get")
	}
	return mongoUnstored(stored), true, nil
}

func (b *MongoBackend) Get(ctx context.Context, op *CompiledOp) (*Item, error) {
	doc, exists, err := b.readDoc(ctx, op.Collection, op.DBKey)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, WithContext(ErrNotFound, map[string]interface{}{
			"collection": op.Collection,
			"id":         op.Key.ID,
		})
	}
	return b.item(doc), nil
}

func (b *MongoBackend) Put(ctx context.Context, op *CompiledOp) (*Item, error) {
	coll := b.db.Collection(op.Collection)
	stored := mongoStored(op.DBKey, op.Value)

	// Unconditional upsert.
	if !op.MustExist && !op.MustNotExist && op.Where == nil && op.Returning != ReturningOld {
		_, err := coll.ReplaceOne(ctx, bson.M{"_id": mongoDocID(op.DBKey)}, stored,
			options.Replace().SetUpsert(true))
		if err != nil {
			return nil, mongoErr(err, "put")
		}
		return b.returning(op, nil, op.Value), nil
	}

	// Create-only: the unique _id does the existence check atomically.
	if op.MustNotExist && op.Where == nil && op.Returning != ReturningOld {
		if _, err := coll.InsertOne(ctx, stored); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, op.FailureFor(true)
			}
			return nil, mongoErr(err, "put")
		}
		return b.returning(op, nil, op.Value), nil
	}

	old, err := b.guardedWrite(ctx, op, func(guard bson.M, _ Document, exists bool) error {
		if !exists {
			// Absent with conditions satisfied: insert, relying on the
			// unique _id to catch a concurrent create.
			if _, err := coll.InsertOne(ctx, stored); err != nil {
				return mongoErr(err, "put")
			}
			return nil
		}
		result, err := coll.ReplaceOne(ctx, guard, stored)
		if err != nil {
			return mongoErr(err, "put")
		}
		if result.MatchedCount == 0 {
			return WithContext(ErrConflict, map[string]interface{}{
				"backend": "mongodb",
				"reason":  "concurrent modification",
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b.returning(op, old, op.Value), nil
}

func (b *MongoBackend) Update(ctx context.Context, op *CompiledOp) (*Item, error) {
	coll := b.db.Collection(op.Collection)
	var updated Document
	old, err := b.guardedWrite(ctx, op, func(guard bson.M, current Document, _ bool) error {
		var err error
		updated, err = b.evaluator.ApplyUpdate(current, op.Set)
		if err != nil {
			return err
		}
		result, err := coll.ReplaceOne(ctx, guard, mongoStored(op.DBKey, updated))
		if err != nil {
			return mongoErr(err, "update")
		}
		if result.MatchedCount == 0 {
			return WithContext(ErrConflict, map[string]interface{}{
				"backend": "mongodb",
				"reason":  "concurrent modification",
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b.returning(op, old, updated), nil
}

func (b *MongoBackend) Delete(ctx context.Context, op *CompiledOp) error {
	coll := b.db.Collection(op.Collection)
	_, err := b.guardedWrite(ctx, op, func(guard bson.M, _ Document, _ bool) error {
		result, err := coll.DeleteOne(ctx, guard)
		if err != nil {
			return mongoErr(err, "delete")
		}
		if result.DeletedCount == 0 {
			return WithContext(ErrConflict, map[string]interface{}{
				"backend": "mongodb",
				"reason":  "concurrent modification",
			})
		}
		return nil
	})
	return err
}

// guardedWrite reads the current document, checks the compiled
// conditions client-side, then hands write a filter that only matches
// the observed revision (by etag when present). A write matching zero
// documents means the item changed between read and write; that is a
// Conflict, surfaced as-is.
func (b *MongoBackend) guardedWrite(ctx context.Context, op *CompiledOp, write func(guard bson.M, current Document, exists bool) error) (Document, error) {
	current, exists, err := b.readDoc(ctx, op.Collection, op.DBKey)
	if err != nil {
		return nil, err
	}
	if op.MustNotExist && exists {
		return nil, op.FailureFor(exists)
	}
	if op.MustExist && !exists {
		return nil, op.FailureFor(exists)
	}
	if op.Where != nil {
		ok, err := b.evaluator.Matches(current, op.Where)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, op.FailureFor(exists)
		}
	}
	if !exists && op.Kind != OpPut {
		return nil, op.FailureFor(exists)
	}

	guard := bson.M{"_id": mongoDocID(op.DBKey)}
	if etag := b.processor.EtagFromValue(current); etag != "" {
		guard[b.processor.EtagEmbedField] = etag
	}
	if err := write(guard, current, exists); err != nil {
		return nil, err
	}
	return current, nil
}

func (b *MongoBackend) returning(op *CompiledOp, old, updated Document) *Item {
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

func (b *MongoBackend) fetch(ctx context.Context, collection string, where Expr) ([]Document, error) {
	filter, ok := translateMongoExpr(where, b.processor)
	if !ok {
		filter = bson.D{}
	}
	cursor, err := b.db.Collection(collection).Find(ctx, filter)
	if err != nil {
		return nil, mongoErr(err, "query")
	}
	defer cursor.Close(ctx)

	var items []Document
	for cursor.Next(ctx) {
		var stored bson.M
		if err := cursor.Decode(&stored); err != nil {
			return nil, mongoErr(err, "query")
		}
		items = append(items, mongoUnstored(stored))
	}
	if err := cursor.Err(); err != nil {
		return nil, mongoErr(err, "query")
	}
	return items, nil
}

func (b *MongoBackend) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	items, err := b.fetch(ctx, req.Collection, req.Where)
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

func (b *MongoBackend) Count(ctx context.Context, req CountRequest) (int, error) {
	items, err := b.fetch(ctx, req.Collection, req.Where)
	if err != nil {
		return 0, err
	}
	return b.evaluator.CountItems(items, req.Where)
}

func (b *MongoBackend) Batch(ctx context.Context, ops []*CompiledOp) error {
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

func (b *MongoBackend) Transact(ctx context.Context, ops []*CompiledOp) ([]*Item, error) {
	session, err := b.client.StartSession()
	if err != nil {
		return nil, mongoErr(err, "transact")
	}
	defer session.EndSession(ctx)

	results := make([]*Item, len(ops))
	_, err = session.WithTransaction(ctx, func(ctx context.Context) (interface{}, error) {
		currents := make([]Document, len(ops))
		updates := make([]Document, len(ops))
		for i, op := range ops {
			current, exists, err := b.readDoc(ctx, op.Collection, op.DBKey)
			if err != nil {
				return nil, err
			}
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
			currents[i] = current
			if op.Kind == OpUpdate {
				updates[i], err = b.evaluator.ApplyUpdate(current, op.Set)
				if err != nil {
					return nil, err
				}
			}
		}

		for i, op := range ops {
			coll := b.db.Collection(op.Collection)
			filter := bson.M{"_id": mongoDocID(op.DBKey)}
			var err error
			switch op.Kind {
			case OpPut:
				_, err = coll.ReplaceOne(ctx, filter, mongoStored(op.DBKey, op.Value),
					options.Replace().SetUpsert(true))
				results[i] = b.returning(op, currents[i], op.Value)
			case OpUpdate:
				_, err = coll.ReplaceOne(ctx, filter, mongoStored(op.DBKey, updates[i]))
				results[i] = b.returning(op, currents[i], updates[i])
			case OpDelete:
				_, err = coll.DeleteOne(ctx, filter)
			}
			if err != nil {
				return nil, mongoErr(err, "transact")
			}
		}
		return nil, nil
	})
	if err != nil {
		if IsConflict(err) {
			return nil, err
		}
		return nil, mongoErr(err, "transact")
	}
	return results, nil
}

func (b *MongoBackend) CreateCollection(ctx context.Context, collection string, cfg CollectionConfig, exists *bool) (*CollectionResult, error) {
	present, err := b.HasCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	status := CollectionStatusCreated
	if present {
		if exists != nil && !*exists {
			return nil, WithContext(ErrConflict, map[string]interface{}{
				"collection": collection,
			})
		}
		status = CollectionStatusExists
	} else if err := b.db.CreateCollection(ctx, collection); err != nil {
		return nil, mongoErr(err, "create_collection")
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

func (b *MongoBackend) DropCollection(ctx context.Context, collection string, exists *bool) (*CollectionResult, error) {
	present, err := b.HasCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	if !present {
		if exists != nil && *exists {
			return nil, WithContext(ErrNotFound, map[string]interface{}{
				"collection": collection,
			})
		}
		return &CollectionResult{Status: CollectionStatusNotExists}, nil
	}
	if err := b.db.Collection(collection).Drop(ctx); err != nil {
		return nil, mongoErr(err, "drop_collection")
	}
	return &CollectionResult{Status: CollectionStatusDropped}, nil
}

func (b *MongoBackend) HasCollection(ctx context.Context, collection string) (bool, error) {
	names, err := b.db.ListCollectionNames(ctx, bson.M{"name": collection})
	if err != nil {
		return false, mongoErr(err, "has_collection")
	}
	return len(names) > 0, nil
}

// mongoIndexKeys renders the native key document for an abstract index.
func mongoIndexKeys(index Index) (bson.D, bool) {
	switch idx := index.(type) {
	case CompositeIndex:
		keys := bson.D{}
		for _, f := range idx.Fields {
			sub, ok := mongoIndexKeys(f)
			if !ok {
				return nil, false
			}
			keys = append(keys, sub...)
		}
		return keys, true
	case DescIndex:
		return bson.D{{Key: idx.IndexField(), Value: -1}}, true
	case TextIndex:
		return bson.D{{Key: idx.IndexField(), Value: "text"}}, true
	case GeospatialIndex:
		return bson.D{{Key: idx.IndexField(), Value: "2dsphere"}}, true
	case WildcardIndex:
		field := strings.TrimSuffix(idx.IndexField(), ".*")
		if field == "" || field == "*" {
			return bson.D{{Key: "$**", Value: 1}}, true
		}
		return bson.D{{Key: field + ".$**", Value: 1}}, true
	case VectorIndex:
		return nil, false
	default:
		return bson.D{{Key: index.IndexField(), Value: 1}}, true
	}
}

func (b *MongoBackend) CreateIndex(ctx context.Context, collection string, index Index, exists *bool) (*IndexResult, error) {
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

	keys, ok := mongoIndexKeys(index)
	if !ok {
		return &IndexResult{Status: IndexStatusNotSupported}, nil
	}
	name := EncodeIndexName(index, "")
	opts := options.Index().SetName(name)
	if index.Kind() == IndexTTL {
		opts.SetExpireAfterSeconds(0)
	}
	if _, err := b.db.Collection(collection).Indexes().
		CreateOne(ctx, mongo.IndexModel{Keys: keys, Options: opts}); err != nil {
		return nil, mongoErr(err, "create_index")
	}
	return &IndexResult{Status: IndexStatusCreated}, nil
}

func (b *MongoBackend) DropIndex(ctx context.Context, collection string, index Index, exists *bool) (*IndexResult, error) {
	name := index.IndexName()
	if name == "" {
		name = EncodeIndexName(index, "")
	}
	if err := b.db.Collection(collection).Indexes().DropOne(ctx, name); err != nil {
		var cmdErr mongo.CommandError
		if errors.As(err, &cmdErr) && cmdErr.Name == "IndexNotFound" {
			if exists != nil && *exists {
				return nil, WithContext(ErrNotFound, map[string]interface{}{
					"collection": collection,
					"index":      name,
				})
			}
			return &IndexResult{Status: IndexStatusNotExists}, nil
		}
		return nil, mongoErr(err, "drop_index")
	}
	return &IndexResult{Status: IndexStatusDropped}, nil
}

// ListIndexes reconstructs abstract declarations from the native
// catalogue: the kind comes from decoding the index name, the fields
// from the key document.
func (b *MongoBackend) ListIndexes(ctx context.Context, collection string) ([]Index, error) {
	cursor, err := b.db.Collection(collection).Indexes().List(ctx)
	if err != nil {
		return nil, mongoErr(err, "list_indexes")
	}
	defer cursor.Close(ctx)

	var indexes []Index
	for cursor.Next(ctx) {
		var spec struct {
			Name string `bson:"name"`
			Key  bson.D `bson:"key"`
		}
		if err := cursor.Decode(&spec); err != nil {
			return nil, mongoErr(err, "list_indexes")
		}
		if spec.Name == "_id_" {
			continue
		}
		if idx := mongoIndexFromSpec(spec.Name, spec.Key); idx != nil {
			indexes = append(indexes, idx)
		}
	}
	return indexes, cursor.Err()
}

func mongoIndexFromSpec(name string, key bson.D) Index {
	if len(key) > 1 {
		kinds := DecodeCompositeKinds(name)
		composite := CompositeIndex{Name: name}
		for i, elem := range key {
			kind := IndexField
			if i < len(kinds) && kinds[i] != "" {
				kind = kinds[i]
			} else if v, ok := elem.Value.(int32); ok && v == -1 {
				kind = IndexDesc
			}
			composite.Fields = append(composite.Fields,
				indexMeta{Kind: kind, Field: elem.Key}.toIndex())
		}
		return composite
	}
	if len(key) == 0 {
		return nil
	}

	elem := key[0]
	kind := DecodeIndexKind(name)
	if kind == "" {
		// A native index created outside the codec: infer the closest
		// abstract kind from the key itself.
		switch v := elem.Value.(type) {
		case int32:
			if v == -1 {
				kind = IndexDesc
			} else {
				kind = IndexField
			}
		case string:
			if v == "text" {
				kind = IndexText
			} else {
				kind = IndexGeospatial
			}
		default:
			kind = IndexField
		}
	}
	field := elem.Key
	if strings.HasSuffix(field, "$**") {
		field = strings.TrimSuffix(strings.TrimSuffix(field, "$**"), ".")
		if field == "" {
			field = "*"
		} else {
			field += ".*"
		}
	}
	return indexMeta{Kind: kind, Name: name, Field: field}.toIndex()
}

func (b *MongoBackend) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx, nil); err != nil {
		return mongoErr(err, "ping")
	}
	return nil
}

func (b *MongoBackend) Close() error {
	return b.client.Disconnect(context.Background())
}
