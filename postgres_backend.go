package polystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend keeps one table per collection: key columns plus the
// document in a jsonb column. Filters translate to SQL over the jsonb
// path operators where the semantics line up; everything else falls
// back to client-side evaluation over a (superset) fetch. Conditional
// writes run read-check-write inside a transaction with the row locked
// FOR UPDATE.
//
// Batch semantics: one statement per item, independent, no atomicity.
// Transact semantics: one pgx.Tx, all conditions checked with the rows
// locked before any write, rolled back on the first failure.
type PostgresBackend struct {
	pool      *pgxpool.Pool
	processor *ItemProcessor
	evaluator *Evaluator
}

// NewPostgresBackend wraps an existing pool.
func NewPostgresBackend(pool *pgxpool.Pool, processor *ItemProcessor) *PostgresBackend {
	return &PostgresBackend{
		pool:      pool,
		processor: processor,
		evaluator: NewEvaluator(processor),
	}
}

// NewPostgresBackendFromConfig dials a pool from config.
func NewPostgresBackendFromConfig(ctx context.Context, cfg PostgresConfig, processor *ItemProcessor) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, WithContext(ErrBackendUnavailable, map[string]interface{}{
			"backend": "postgres",
			"error":   err.Error(),
		})
	}
	return NewPostgresBackend(pool, processor), nil
}

func (b *PostgresBackend) Name() string { return "postgres" }

const pgMetaTable = "polystore_indexes"

const pgUniqueViolation = "23505"
const pgUndefinedTable = "42P01"

func pgErr(err error, op string) error {
	var perr *pgconn.PgError
	if errors.As(err, &perr) {
		switch perr.Code {
		case pgUniqueViolation:
			return WithContext(ErrConflict, map[string]interface{}{
				"backend": "postgres",
				"op":      op,
			})
		case pgUndefinedTable:
			return WithContext(ErrBadRequest, map[string]interface{}{
				"backend": "postgres",
				"op":      op,
				"reason":  "collection does not exist",
			})
		}
	}
	return WithContext(ErrBackendUnavailable, map[string]interface{}{
		"backend": "postgres",
		"op":      op,
		"error":   err.Error(),
	})
}

func (b *PostgresBackend) item(value Document) *Item {
	return &Item{
		Key:   b.processor.KeyFromValue(value),
		Value: b.processor.SuppressFieldsIfNeeded(value),
		Etag:  b.processor.EtagFromValue(value),
	}
}

type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (b *PostgresBackend) readRow(ctx context.Context, q pgQuerier, op *CompiledOp, forUpdate bool) (Document, bool, error) {
	query := fmt.Sprintf("SELECT doc FROM %s WHERE id = $1 AND pk = $2", quoteIdent(op.Collection))
	if forUpdate {
		query += " FOR UPDATE"
	}
	var doc Document
	err := q.QueryRow(ctx, query,
		fmt.Sprintf("%v", op.DBKey[AttrID]),
		fmt.Sprintf("%v", op.DBKey[AttrPK])).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, pgErr(err, "get")
	}
	return doc, true, nil
}

func (b *PostgresBackend) writeRow(ctx context.Context, q pgQuerier, collection string, dbKey, value Document) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return WithContext(ErrInvalidData, map[string]interface{}{"error": err.Error()})
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, pk, doc) VALUES ($1, $2, $3)
		ON CONFLICT (id, pk) DO UPDATE SET doc = EXCLUDED.doc`, quoteIdent(collection))
	if _, err := q.Exec(ctx, query,
		fmt.Sprintf("%v", dbKey[AttrID]),
		fmt.Sprintf("%v", dbKey[AttrPK]),
		payload); err != nil {
		return pgErr(err, "put")
	}
	return nil
}

func (b *PostgresBackend) Get(ctx context.Context, op *CompiledOp) (*Item, error) {
	doc, exists, err := b.readRow(ctx, b.pool, op, false)
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

func (b *PostgresBackend) Put(ctx context.Context, op *CompiledOp) (*Item, error) {
	if !op.MustExist && !op.MustNotExist && op.Where == nil && op.Returning != ReturningOld {
		if err := b.writeRow(ctx, b.pool, op.Collection, op.DBKey, op.Value); err != nil {
			return nil, err
		}
		return b.returning(op, nil, op.Value), nil
	}

	// Create-only puts can lean on the primary key directly: a unique
	// violation is exactly the Conflict the contract wants.
	if op.MustNotExist && op.Where == nil && op.Returning != ReturningOld {
		payload, err := json.Marshal(op.Value)
		if err != nil {
			return nil, WithContext(ErrInvalidData, map[string]interface{}{"error": err.Error()})
		}
		query := fmt.Sprintf("INSERT INTO %s (id, pk, doc) VALUES ($1, $2, $3)", quoteIdent(op.Collection))
		if _, err := b.pool.Exec(ctx, query,
			fmt.Sprintf("%v", op.DBKey[AttrID]),
			fmt.Sprintf("%v", op.DBKey[AttrPK]),
			payload); err != nil {
			return nil, pgErr(err, "put")
		}
		return b.returning(op, nil, op.Value), nil
	}

	var old Document
	err := b.inTx(ctx, func(tx pgx.Tx) error {
		current, exists, err := b.readRow(ctx, tx, op, true)
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

func (b *PostgresBackend) Update(ctx context.Context, op *CompiledOp) (*Item, error) {
	var old, updated Document
	err := b.inTx(ctx, func(tx pgx.Tx) error {
		current, exists, err := b.readRow(ctx, tx, op, true)
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

func (b *PostgresBackend) Delete(ctx context.Context, op *CompiledOp) error {
	return b.inTx(ctx, func(tx pgx.Tx) error {
		current, exists, err := b.readRow(ctx, tx, op, true)
		if err != nil {
			return err
		}
		if err := b.check(op, current, exists); err != nil {
			return err
		}
		query := fmt.Sprintf("DELETE FROM %s WHERE id = $1 AND pk = $2", quoteIdent(op.Collection))
		if _, err := tx.Exec(ctx, query,
			fmt.Sprintf("%v", op.DBKey[AttrID]),
			fmt.Sprintf("%v", op.DBKey[AttrPK])); err != nil {
			return pgErr(err, "delete")
		}
		return nil
	})
}

func (b *PostgresBackend) check(op *CompiledOp, current Document, exists bool) error {
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

func (b *PostgresBackend) returning(op *CompiledOp, old, updated Document) *Item {
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

func (b *PostgresBackend) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return pgErr(err, "begin")
	}
	if err := fn(tx); err != nil {
		tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return pgErr(err, "commit")
	}
	return nil
}

func (b *PostgresBackend) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
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

func (b *PostgresBackend) Count(ctx context.Context, req CountRequest) (int, error) {
	items, err := b.fetch(ctx, req.Collection, req.Where)
	if err != nil {
		return 0, err
	}
	return b.evaluator.CountItems(items, req.Where)
}

// fetch pushes the filter into SQL when translatable; the evaluator
// re-checks every row, so a partial push-down only ever shrinks the
// rows shipped over the wire, never the final result.
func (b *PostgresBackend) fetch(ctx context.Context, collection string, where Expr) ([]Document, error) {
	query := fmt.Sprintf("SELECT doc FROM %s", quoteIdent(collection))
	clause, args, ok := translatePostgresExpr(where, b.processor)
	if ok && clause != "" {
		query += " WHERE " + clause
	} else {
		args = nil
	}

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, pgErr(err, "query")
	}
	defer rows.Close()

	var items []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc); err != nil {
			return nil, pgErr(err, "query")
		}
		items = append(items, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, pgErr(err, "query")
	}
	return items, nil
}

func (b *PostgresBackend) Batch(ctx context.Context, ops []*CompiledOp) error {
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

func (b *PostgresBackend) Transact(ctx context.Context, ops []*CompiledOp) ([]*Item, error) {
	results := make([]*Item, len(ops))
	err := b.inTx(ctx, func(tx pgx.Tx) error {
		currents := make([]Document, len(ops))
		updates := make([]Document, len(ops))
		for i, op := range ops {
			current, exists, err := b.readRow(ctx, tx, op, true)
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
				query := fmt.Sprintf("DELETE FROM %s WHERE id = $1 AND pk = $2", quoteIdent(op.Collection))
				if _, err := tx.Exec(ctx, query,
					fmt.Sprintf("%v", op.DBKey[AttrID]),
					fmt.Sprintf("%v", op.DBKey[AttrPK])); err != nil {
					return pgErr(err, "delete")
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

func (b *PostgresBackend) CreateCollection(ctx context.Context, collection string, cfg CollectionConfig, exists *bool) (*CollectionResult, error) {
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
		doc JSONB NOT NULL,
		PRIMARY KEY (id, pk))`, quoteIdent(collection))
	if _, err := b.pool.Exec(ctx, query); err != nil {
		return nil, pgErr(err, "create_collection")
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

func (b *PostgresBackend) DropCollection(ctx context.Context, collection string, exists *bool) (*CollectionResult, error) {
	present, err := b.HasCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	if !present && exists != nil && *exists {
		return nil, WithContext(ErrNotFound, map[string]interface{}{
			"collection": collection,
		})
	}
	if _, err := b.pool.Exec(ctx, "DROP TABLE IF EXISTS "+quoteIdent(collection)); err != nil {
		return nil, pgErr(err, "drop_collection")
	}
	if err := b.ensureMetaTable(ctx); err != nil {
		return nil, err
	}
	if _, err := b.pool.Exec(ctx,
		"DELETE FROM "+pgMetaTable+" WHERE collection = $1", collection); err != nil {
		return nil, pgErr(err, "drop_collection")
	}
	status := CollectionStatusDropped
	if !present {
		status = CollectionStatusNotExists
	}
	return &CollectionResult{Status: status}, nil
}

func (b *PostgresBackend) HasCollection(ctx context.Context, collection string) (bool, error) {
	var one int
	err := b.pool.QueryRow(ctx,
		"SELECT 1 FROM information_schema.tables WHERE table_name = $1", collection).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, pgErr(err, "has_collection")
	}
	return true, nil
}

func (b *PostgresBackend) ensureMetaTable(ctx context.Context) error {
	query := `CREATE TABLE IF NOT EXISTS ` + pgMetaTable + ` (
		collection TEXT NOT NULL,
		name TEXT NOT NULL,
		meta JSONB NOT NULL,
		PRIMARY KEY (collection, name))`
	if _, err := b.pool.Exec(ctx, query); err != nil {
		return pgErr(err, "meta_table")
	}
	return nil
}

// pgIndexExpr renders the native index expression for a field path,
// extracting through the jsonb path operator.
func pgIndexExpr(field string) string {
	return "(doc #>> '" + pgTextPath(field) + "')"
}

func (b *PostgresBackend) CreateIndex(ctx context.Context, collection string, index Index, exists *bool) (*IndexResult, error) {
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
	var ddl string
	switch idx := index.(type) {
	case CompositeIndex:
		exprs := make([]string, 0, len(idx.Fields))
		for _, f := range idx.Fields {
			expr := pgIndexExpr(f.IndexField())
			if f.Kind() == IndexDesc {
				expr += " DESC"
			}
			exprs = append(exprs, expr)
		}
		ddl = fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			quoteIdent(name), quoteIdent(collection), joinComma(exprs))
	case ArrayIndex, WildcardIndex:
		// GIN over the containing document serves array membership and
		// arbitrary-path lookups alike.
		ddl = fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING GIN (doc)",
			quoteIdent(name), quoteIdent(collection))
	case TextIndex, GeospatialIndex, VectorIndex:
		return &IndexResult{Status: IndexStatusNotSupported}, nil
	default:
		expr := pgIndexExpr(index.IndexField())
		if index.Kind() == IndexDesc {
			expr += " DESC"
		}
		ddl = fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			quoteIdent(name), quoteIdent(collection), expr)
	}
	if _, err := b.pool.Exec(ctx, ddl); err != nil {
		return nil, pgErr(err, "create_index")
	}

	meta, err := json.Marshal(metaFromIndex(withName(index, name)))
	if err != nil {
		return nil, WithContext(ErrInvalidData, map[string]interface{}{"error": err.Error()})
	}
	if _, err := b.pool.Exec(ctx,
		"INSERT INTO "+pgMetaTable+" (collection, name, meta) VALUES ($1, $2, $3) ON CONFLICT (collection, name) DO UPDATE SET meta = EXCLUDED.meta",
		collection, name, meta); err != nil {
		return nil, pgErr(err, "create_index")
	}
	return &IndexResult{Status: IndexStatusCreated}, nil
}

func (b *PostgresBackend) DropIndex(ctx context.Context, collection string, index Index, exists *bool) (*IndexResult, error) {
	if err := b.ensureMetaTable(ctx); err != nil {
		return nil, err
	}
	name := index.IndexName()
	if name == "" {
		name = EncodeIndexName(index, collection)
	}
	tag, err := b.pool.Exec(ctx,
		"DELETE FROM "+pgMetaTable+" WHERE collection = $1 AND name = $2", collection, name)
	if err != nil {
		return nil, pgErr(err, "drop_index")
	}
	if _, err := b.pool.Exec(ctx, "DROP INDEX IF EXISTS "+quoteIdent(name)); err != nil {
		return nil, pgErr(err, "drop_index")
	}
	if tag.RowsAffected() == 0 {
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

func (b *PostgresBackend) ListIndexes(ctx context.Context, collection string) ([]Index, error) {
	if err := b.ensureMetaTable(ctx); err != nil {
		return nil, err
	}
	rows, err := b.pool.Query(ctx,
		"SELECT meta FROM "+pgMetaTable+" WHERE collection = $1", collection)
	if err != nil {
		return nil, pgErr(err, "list_indexes")
	}
	defer rows.Close()

	var indexes []Index
	for rows.Next() {
		var meta indexMeta
		if err := rows.Scan(&meta); err != nil {
			return nil, pgErr(err, "list_indexes")
		}
		indexes = append(indexes, meta.toIndex())
	}
	return indexes, rows.Err()
}

func (b *PostgresBackend) Ping(ctx context.Context) error {
	if err := b.pool.Ping(ctx); err != nil {
		return pgErr(err, "ping")
	}
	return nil
}

func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
