package polystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// SQLiteBackend keeps one table per collection with the document in a
// JSON column next to the key columns. Filters translate to SQL over
// the json1 functions where possible; untranslatable filters fall back
// to fetching the collection and evaluating client-side, which keeps
// behavior identical at a performance cost. Conditional writes run as
// read-modify-write inside BEGIN IMMEDIATE transactions with local
// etags.
//
// Batch semantics: one statement per item, each in its own implicit
// transaction; items are independent, no atomicity.
// Transact semantics: one BEGIN IMMEDIATE transaction, all conditions
// checked before any write, rolled back on the first failure.
type SQLiteBackend struct {
	db        *sql.DB
	processor *ItemProcessor
	evaluator *Evaluator
}

// NewSQLiteBackend wraps an open database handle.
func NewSQLiteBackend(db *sql.DB, processor *ItemProcessor) *SQLiteBackend {
	return &SQLiteBackend{
		db:        db,
		processor: processor,
		evaluator: NewEvaluator(processor),
	}
}

// NewSQLiteBackendFromConfig opens the database file from config.
func NewSQLiteBackendFromConfig(cfg SQLiteConfig, processor *ItemProcessor) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, WithContext(ErrBackendUnavailable, map[string]interface{}{
			"backend": "sqlite",
			"path":    cfg.Path,
			"error":   err.Error(),
		})
	}
	return NewSQLiteBackend(db, processor), nil
}

func (b *SQLiteBackend) Name() string { return "sqlite" }

const sqliteMetaTable = "polystore_indexes"

func sqliteErr(err error, op string) error {
	var serr sqlite3.Error
	if errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint {
		return WithContext(ErrConflict, map[string]interface{}{
			"backend": "sqlite",
			"op":      op,
		})
	}
	return WithContext(ErrBackendUnavailable, map[string]interface{}{
		"backend": "sqlite",
		"op":      op,
		"error":   err.Error(),
	})
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (b *SQLiteBackend) item(value Document) *Item {
	return &Item{
		Key:   b.processor.KeyFromValue(value),
		Value: b.processor.SuppressFieldsIfNeeded(value),
		Etag:  b.processor.EtagFromValue(value),
	}
}

func (b *SQLiteBackend) Get(ctx context.Context, op *CompiledOp) (*Item, error) {
	doc, exists, err := b.readRow(ctx, b.db, op)
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

type sqliteQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (b *SQLiteBackend) readRow(ctx context.Context, q sqliteQuerier, op *CompiledOp) (Document, bool, error) {
	var raw string
	query := fmt.Sprintf("SELECT doc FROM %s WHERE id = ? AND pk = ?", quoteIdent(op.Collection))
	err := q.QueryRowContext(ctx, query,
		fmt.Sprintf("%v", op.DBKey[AttrID]),
		fmt.Sprintf("%v", op.DBKey[AttrPK])).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, sqliteErr(err, "get")
	}
	var doc Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, false, WithContext(ErrInvalidData, map[string]interface{}{"error": err.Error()})
	}
	return doc, true, nil
}

func (b *SQLiteBackend) writeRow(ctx context.Context, q sqliteQuerier, collection string, dbKey, value Document) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return WithContext(ErrInvalidData, map[string]interface{}{"error": err.Error()})
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, pk, doc) VALUES (?, ?, ?)
		ON CONFLICT (id, pk) DO UPDATE SET doc = excluded.doc`, quoteIdent(collection))
	_, err = q.ExecContext(ctx, query,
		fmt.Sprintf("%v", dbKey[AttrID]),
		fmt.Sprintf("%v", dbKey[AttrPK]),
		string(payload))
	if err != nil {
		return sqliteErr(err, "put")
	}
	return nil
}

func (b *SQLiteBackend) Put(ctx context.Context, op *CompiledOp) (*Item, error) {
	if !op.MustExist && !op.MustNotExist && op.Where == nil && op.Returning != ReturningOld {
		if err := b.writeRow(ctx, b.db, op.Collection, op.DBKey, op.Value); err != nil {
			return nil, err
		}
		return b.returning(op, nil, op.Value), nil
	}

	var old Document
	err := b.inTx(ctx, func(tx sqliteQuerier) error {
		current, exists, err := b.readRow(ctx, tx, op)
		if err != nil {
			return err
		}
		old = current
		if err := b.check(op, current, exists); err != nil {
			return err
		}
		return b.writeRow(ctx, tx, op.Collection, op.DBKey, op.Value)
	})
	if err != nil {
		return nil, err
	}
	return b.returning(op, old, op.Value), nil
}

func (b *SQLiteBackend) Update(ctx context.Context, op *CompiledOp) (*Item, error) {
	var old, updated Document
	err := b.inTx(ctx, func(tx sqliteQuerier) error {
		current, exists, err := b.readRow(ctx, tx, op)
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
		return b.writeRow(ctx, tx, op.Collection, op.DBKey, updated)
	})
	if err != nil {
		return nil, err
	}
	return b.returning(op, old, updated), nil
}

func (b *SQLiteBackend) Delete(ctx context.Context, op *CompiledOp) error {
	return b.inTx(ctx, func(tx sqliteQuerier) error {
		current, exists, err := b.readRow(ctx, tx, op)
		if err != nil {
			return err
		}
		if err := b.check(op, current, exists); err != nil {
			return err
		}
		query := fmt.Sprintf("DELETE FROM %s WHERE id = ? AND pk = ?", quoteIdent(op.Collection))
		_, err = tx.ExecContext(ctx, query,
			fmt.Sprintf("%v", op.DBKey[AttrID]),
			fmt.Sprintf("%v", op.DBKey[AttrPK]))
		if err != nil {
			return sqliteErr(err, "delete")
		}
		return nil
	})
}

func (b *SQLiteBackend) check(op *CompiledOp, current Document, exists bool) error {
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

func (b *SQLiteBackend) returning(op *CompiledOp, old, updated Document) *Item {
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

// inTx runs fn inside BEGIN IMMEDIATE so the read lock is taken up
// front and the read-check-write sequence is serialized.
func (b *SQLiteBackend) inTx(ctx context.Context, fn func(tx sqliteQuerier) error) error {
	conn, err := b.db.Conn(ctx)
	if err != nil {
		return sqliteErr(err, "begin")
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return sqliteErr(err, "begin")
	}
	if err := fn(conn); err != nil {
		conn.ExecContext(ctx, "ROLLBACK")
		return err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return sqliteErr(err, "commit")
	}
	return nil
}

func (b *SQLiteBackend) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
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

func (b *SQLiteBackend) Count(ctx context.Context, req CountRequest) (int, error) {
	items, err := b.fetch(ctx, req.Collection, req.Where)
	if err != nil {
		return 0, err
	}
	return b.evaluator.CountItems(items, req.Where)
}

// fetch pushes the filter into SQL when translatable; the evaluator
// re-checks every returned row either way, so a partial push-down can
// never widen the result.
func (b *SQLiteBackend) fetch(ctx context.Context, collection string, where Expr) ([]Document, error) {
	query := fmt.Sprintf("SELECT doc FROM %s", quoteIdent(collection))
	clause, args, ok := translateSQLiteExpr(where, b.processor)
	if ok && clause != "" {
		query += " WHERE " + clause
	} else {
		args = nil
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, sqliteErr(err, "query")
	}
	defer rows.Close()

	var items []Document
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, sqliteErr(err, "query")
		}
		var doc Document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, WithContext(ErrInvalidData, map[string]interface{}{"error": err.Error()})
		}
		items = append(items, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, sqliteErr(err, "query")
	}
	return items, nil
}

func (b *SQLiteBackend) Batch(ctx context.Context, ops []*CompiledOp) error {
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

func (b *SQLiteBackend) Transact(ctx context.Context, ops []*CompiledOp) ([]*Item, error) {
	results := make([]*Item, len(ops))
	err := b.inTx(ctx, func(tx sqliteQuerier) error {
		currents := make([]Document, len(ops))
		updates := make([]Document, len(ops))
		for i, op := range ops {
			current, exists, err := b.readRow(ctx, tx, op)
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

		for i, op := range ops {
			switch op.Kind {
			case OpPut:
				if err := b.writeRow(ctx, tx, op.Collection, op.DBKey, op.Value); err != nil {
					return err
				}
				results[i] = b.returning(op, currents[i], op.Value)
			case OpUpdate:
				if err := b.writeRow(ctx, tx, op.Collection, op.DBKey, updates[i]); err != nil {
					return err
				}
				results[i] = b.returning(op, currents[i], updates[i])
			case OpDelete:
				query := fmt.Sprintf("DELETE FROM %s WHERE id = ? AND pk = ?", quoteIdent(op.Collection))
				if _, err := tx.ExecContext(ctx, query,
					fmt.Sprintf("%v", op.DBKey[AttrID]),
					fmt.Sprintf("%v", op.DBKey[AttrPK])); err != nil {
					return sqliteErr(err, "delete")
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (b *SQLiteBackend) CreateCollection(ctx context.Context, collection string, cfg CollectionConfig, exists *bool) (*CollectionResult, error) {
	present, err := b.HasCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	if present && exists != nil && !*exists {
		return nil, WithContext(ErrConflict, map[string]interface{}{
			"collection": collection,
		})
	}
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT NOT NULL,
		pk TEXT NOT NULL,
		doc JSON NOT NULL,
		PRIMARY KEY (id, pk))`, quoteIdent(collection))
	if _, err := b.db.ExecContext(ctx, query); err != nil {
		return nil, sqliteErr(err, "create_collection")
	}
	if err := b.ensureMetaTable(ctx); err != nil {
		return nil, err
	}

	status := CollectionStatusCreated
	if present {
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

func (b *SQLiteBackend) DropCollection(ctx context.Context, collection string, exists *bool) (*CollectionResult, error) {
	present, err := b.HasCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	if !present && exists != nil && *exists {
		return nil, WithContext(ErrNotFound, map[string]interface{}{
			"collection": collection,
		})
	}
	if _, err := b.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(collection)); err != nil {
		return nil, sqliteErr(err, "drop_collection")
	}
	if err := b.ensureMetaTable(ctx); err != nil {
		return nil, err
	}
	if _, err := b.db.ExecContext(ctx,
		"DELETE FROM "+sqliteMetaTable+" WHERE collection = ?", collection); err != nil {
		return nil, sqliteErr(err, "drop_collection")
	}
	status := CollectionStatusDropped
	if !present {
		status = CollectionStatusNotExists
	}
	return &CollectionResult{Status: status}, nil
}

func (b *SQLiteBackend) HasCollection(ctx context.Context, collection string) (bool, error) {
	var name string
	err := b.db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", collection).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, sqliteErr(err, "has_collection")
	}
	return true, nil
}

func (b *SQLiteBackend) ensureMetaTable(ctx context.Context) error {
	query := `CREATE TABLE IF NOT EXISTS ` + sqliteMetaTable + ` (
		collection TEXT NOT NULL,
		name TEXT NOT NULL,
		meta JSON NOT NULL,
		PRIMARY KEY (collection, name))`
	if _, err := b.db.ExecContext(ctx, query); err != nil {
		return sqliteErr(err, "meta_table")
	}
	return nil
}

// sqliteIndexExpr renders the native index expression for a field path.
func sqliteIndexExpr(field string) string {
	return fmt.Sprintf("json_extract(doc, '$.%s')", strings.ReplaceAll(field, "'", "''"))
}

func (b *SQLiteBackend) CreateIndex(ctx context.Context, collection string, index Index, exists *bool) (*IndexResult, error) {
	if err := b.ensureMetaTable(ctx); err != nil {
		return nil, err
	}
	existing, err := b.ListIndexes(ctx, collection)
	if err != nil {
		return nil, err
	}
	status, match := CheckIndexStatus(existing, index)
	if status == IndexStatusExists && exists != nil && !*exists {
		return nil, WithContext(ErrConflict, map[string]interface{}{
			"collection": collection,
			"index":      EncodeIndexName(index, collection),
		})
	}
	if status != IndexStatusNotExists {
		return &IndexResult{Status: status, Index: match}, nil
	}

	name := EncodeIndexName(index, collection)
	var exprs []string
	switch idx := index.(type) {
	case CompositeIndex:
		for _, f := range idx.Fields {
			expr := sqliteIndexExpr(f.IndexField())
			if f.Kind() == IndexDesc {
				expr += " DESC"
			}
			exprs = append(exprs, expr)
		}
	case TextIndex, GeospatialIndex, VectorIndex, WildcardIndex:
		// Not representable as a plain btree expression index.
		return &IndexResult{Status: IndexStatusNotSupported}, nil
	default:
		expr := sqliteIndexExpr(index.IndexField())
		if index.Kind() == IndexDesc {
			expr += " DESC"
		}
		exprs = append(exprs, expr)
	}
	query := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		quoteIdent(name), quoteIdent(collection), strings.Join(exprs, ", "))
	if _, err := b.db.ExecContext(ctx, query); err != nil {
		return nil, sqliteErr(err, "create_index")
	}

	meta, err := json.Marshal(metaFromIndex(withName(index, name)))
	if err != nil {
		return nil, WithContext(ErrInvalidData, map[string]interface{}{"error": err.Error()})
	}
	if _, err := b.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO "+sqliteMetaTable+" (collection, name, meta) VALUES (?, ?, ?)",
		collection, name, string(meta)); err != nil {
		return nil, sqliteErr(err, "create_index")
	}
	return &IndexResult{Status: IndexStatusCreated}, nil
}

func (b *SQLiteBackend) DropIndex(ctx context.Context, collection string, index Index, exists *bool) (*IndexResult, error) {
	if err := b.ensureMetaTable(ctx); err != nil {
		return nil, err
	}
	name := index.IndexName()
	if name == "" {
		name = EncodeIndexName(index, collection)
	}
	res, err := b.db.ExecContext(ctx,
		"DELETE FROM "+sqliteMetaTable+" WHERE collection = ? AND name = ?", collection, name)
	if err != nil {
		return nil, sqliteErr(err, "drop_index")
	}
	if _, err := b.db.ExecContext(ctx, "DROP INDEX IF EXISTS "+quoteIdent(name)); err != nil {
		return nil, sqliteErr(err, "drop_index")
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
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

func (b *SQLiteBackend) ListIndexes(ctx context.Context, collection string) ([]Index, error) {
	if err := b.ensureMetaTable(ctx); err != nil {
		return nil, err
	}
	rows, err := b.db.QueryContext(ctx,
		"SELECT meta FROM "+sqliteMetaTable+" WHERE collection = ?", collection)
	if err != nil {
		return nil, sqliteErr(err, "list_indexes")
	}
	defer rows.Close()

	var indexes []Index
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, sqliteErr(err, "list_indexes")
		}
		var meta indexMeta
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			continue
		}
		indexes = append(indexes, meta.toIndex())
	}
	return indexes, rows.Err()
}

func (b *SQLiteBackend) Ping(ctx context.Context) error {
	if err := b.db.PingContext(ctx); err != nil {
		return sqliteErr(err, "ping")
	}
	return nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
