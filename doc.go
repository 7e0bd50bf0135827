// Package polystore provides one document-store API over six storage
// engines: an in-process memory store, DynamoDB, MongoDB, PostgreSQL
// (JSONB), Redis and SQLite. Callers describe filters, updates and
// indexes in backend-independent abstract forms; each adapter compiles
// them to its engine's native dialect and maps native failures onto a
// shared error taxonomy.
//
// # Overview
//
// The package is organized as a pipeline:
//
//   - Expressions: filters are trees of And/Or/Not, Comparison and
//     builtin Function nodes over Field and Value leaves. They can be
//     built programmatically or parsed from SQL-style strings
//     (ParseWhere, ParseOrderBy, ParseSelect).
//   - Compilation: the Compiler turns Get/Put/Update/Delete requests
//     into CompiledOps carrying the key in canonical form, the value
//     with identity and etag fields embedded, and the concurrency
//     contract (MustExist/MustNotExist plus an optional Where).
//   - Adapters: each Backend translates CompiledOps and queries to its
//     engine. SQL and Mongo adapters push filters down only when the
//     translation matches a superset of client semantics and re-check
//     every row with the Evaluator; DynamoDB translates fully and
//     plans between an indexed Query and a Scan.
//   - Errors: adapters map native failures to ErrNotFound, ErrConflict,
//     ErrPreconditionFailed, ErrBadRequest and ErrBackendUnavailable,
//     so callers branch on IsNotFound/IsConflict/etc. regardless of
//     the engine underneath.
//
// # Quick Start
//
//	processor := polystore.NewItemProcessor(true)
//	backend := polystore.NewMemoryBackend(processor)
//	store := polystore.NewStore(backend, processor)
//	ctx := context.Background()
//
//	store.CreateCollection(ctx, "users", polystore.CollectionConfig{}, nil)
//
//	// Create, guarded against overwrite.
//	_, err := store.Put(ctx, polystore.PutRequest{
//	    Collection: "users",
//	    Key:        polystore.Key{ID: "u1"},
//	    Value:      polystore.Document{"email": "alice@example.com", "logins": 1.0},
//	    Exists:     polystore.Bool(false),
//	})
//
//	// Conditional field mutation.
//	_, err = store.Update(ctx, polystore.UpdateRequest{
//	    Collection: "users",
//	    Key:        polystore.Key{ID: "u1"},
//	    Set:        polystore.NewUpdate().Increment("logins", 1),
//	    Where:      polystore.Eq("email", "alice@example.com"),
//	})
//
//	// SQL-style filter string, evaluated identically on every backend.
//	result, err := store.Query(ctx, polystore.QueryRequest{
//	    Collection:  "users",
//	    WhereString: "logins >= 1 AND starts_with(email, 'alice')",
//	})
//
// # Concurrency
//
// Writes are optimistic. A conditional write names what must be true
// (the item exists, does not exist, or matches a Where filter); the
// adapter checks it atomically with the write using the engine's own
// mechanism - conditional expressions on DynamoDB, WATCH/MULTI on
// Redis, BEGIN IMMEDIATE on SQLite, SELECT FOR UPDATE on Postgres,
// etag-guarded replaces on MongoDB. A failed condition surfaces as
// ErrConflict, ErrPreconditionFailed or ErrNotFound per the uniform
// decision table on CompiledOp.FailureFor; it is never retried
// internally.
//
// Transact is all-or-nothing across items and collections: every
// condition is checked before any write commits, and any failure
// aborts the whole set with ErrConflict. On success it reports one
// result per operation in input order, each carrying the etag the
// write rotated to. Batch is the opposite
// trade: put/delete only, no cross-item atomicity, with per-adapter
// semantics documented on each backend type.
//
// # Indexes
//
// Index declarations are abstract (HashIndex, RangeIndex, AscIndex,
// DescIndex, FieldIndex, ArrayIndex, TTLIndex, TextIndex,
// GeospatialIndex, VectorIndex, WildcardIndex, CompositeIndex). An
// index's kind is encoded into its generated name, so adapters whose
// catalogue cannot carry the abstraction recover it on ListIndexes.
// CreateIndex reports Created, Exists, Covered (an existing index
// already subsumes the request) or NotSupported; adapters never fail
// a request because an index kind has no native form.
//
// # Observability
//
// Store accepts a Logger and a Metrics implementation. NoOp versions
// are the default; StdLogger/ZapLogger and InMemoryMetrics/
// PrometheusMetrics are provided.
//
//	logger, _ := polystore.NewProductionZapLogger()
//	metrics := polystore.NewPrometheusMetrics(prometheus.NewRegistry())
//	store := polystore.NewStoreWithObservability(backend, processor, logger, metrics)
package polystore
