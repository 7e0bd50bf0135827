package polystore

import (
	"context"
	"strconv"
	"time"
)

// Store is the high-level entry point: it compiles requests into
// backend-agnostic operations, hands them to the configured backend
// and records observability around every call. Completely
// domain-agnostic - works with any JSON-shaped documents.
type Store struct {
	backend   Backend
	processor *ItemProcessor
	compiler  *Compiler
	logger    Logger
	metrics   Metrics
}

// NewStore creates a store with no-op logger and metrics. The item
// processor must be the same one the backend was built with so both
// sides agree on embedded identity fields.
func NewStore(backend Backend, processor *ItemProcessor) *Store {
	return &Store{
		backend:   backend,
		processor: processor,
		compiler:  NewCompiler(processor),
		logger:    &NoOpLogger{},
		metrics:   &NoOpMetrics{},
	}
}

// NewStoreWithLogger creates a store with a custom logger
func NewStoreWithLogger(backend Backend, processor *ItemProcessor, logger Logger) *Store {
	s := NewStore(backend, processor)
	s.logger = logger
	return s
}

// NewStoreWithObservability creates a store with logging and metrics
func NewStoreWithObservability(backend Backend, processor *ItemProcessor, logger Logger, metrics Metrics) *Store {
	s := NewStore(backend, processor)
	s.logger = logger
	s.metrics = metrics
	return s
}

// SetLogger updates the logger for this store
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// SetMetrics updates the metrics collector for this store
func (s *Store) SetMetrics(metrics Metrics) {
	s.metrics = metrics
}

// Backend exposes the underlying adapter for lifecycle calls that need
// engine-specific knowledge.
func (s *Store) Backend() Backend {
	return s.backend
}

// Get reads one item. ErrNotFound when absent.
func (s *Store) Get(ctx context.Context, req GetRequest) (*Item, error) {
	op, err := s.compiler.CompileGet(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	item, err := s.backend.Get(ctx, op)
	s.metrics.Timing(MetricGetDuration, time.Since(start))

	if err != nil {
		s.metrics.Increment(MetricGetError)
		return nil, err
	}
	s.metrics.Increment(MetricGetSuccess)
	return item, nil
}

// Put upserts one item, honoring the request's existence and Where
// conditions.
func (s *Store) Put(ctx context.Context, req PutRequest) (*Item, error) {
	op, err := s.compiler.CompilePut(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	item, err := s.backend.Put(ctx, op)
	s.metrics.Timing(MetricPutDuration, time.Since(start))

	if err != nil {
		s.recordWriteFailure(MetricPutError, req.Collection, err)
		return nil, err
	}
	s.metrics.Increment(MetricPutSuccess)
	return item, nil
}

// Update mutates fields of one existing item.
func (s *Store) Update(ctx context.Context, req UpdateRequest) (*Item, error) {
	op, err := s.compiler.CompileUpdate(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	item, err := s.backend.Update(ctx, op)
	s.metrics.Timing(MetricUpdateDuration, time.Since(start))

	if err != nil {
		s.recordWriteFailure(MetricUpdateError, req.Collection, err)
		return nil, err
	}
	s.metrics.Increment(MetricUpdateSuccess)
	return item, nil
}

// Delete removes one existing item.
func (s *Store) Delete(ctx context.Context, req DeleteRequest) error {
	op, err := s.compiler.CompileDelete(req)
	if err != nil {
		return err
	}

	start := time.Now()
	err = s.backend.Delete(ctx, op)
	s.metrics.Timing(MetricDeleteDuration, time.Since(start))

	if err != nil {
		s.recordWriteFailure(MetricDeleteError, req.Collection, err)
		return err
	}
	s.metrics.Increment(MetricDeleteSuccess)
	return nil
}

// Query reads items matching the request's filter. WhereString is
// parsed here so backends only ever see expression trees.
func (s *Store) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	req, err := s.resolveQueryStrings(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := s.backend.Query(ctx, req)
	s.metrics.Timing(MetricQueryDuration, time.Since(start), "collection", req.Collection)

	if err != nil {
		s.logger.Error("query failed", "collection", req.Collection, "error", err)
		return nil, err
	}
	s.metrics.Histogram(MetricQueryResults, float64(len(result.Items)), "collection", req.Collection)
	s.logger.Debug("query executed",
		"collection", req.Collection,
		"results", strconv.Itoa(len(result.Items)))
	return result, nil
}

// Count counts items matching the filter.
func (s *Store) Count(ctx context.Context, req CountRequest) (int, error) {
	if req.Where == nil && req.WhereString != "" {
		where, err := ParseWhere(req.WhereString)
		if err != nil {
			return 0, err
		}
		req.Where = where
	}
	return s.backend.Count(ctx, req)
}

// Batch executes put/delete operations against one collection.
// Atomicity is whatever the backend documents.
func (s *Store) Batch(ctx context.Context, ops []BatchOp) error {
	compiled, err := s.compiler.CompileBatch(ops)
	if err != nil {
		return err
	}
	s.metrics.Gauge(MetricBatchSize, float64(len(compiled)))

	start := time.Now()
	err = s.backend.Batch(ctx, compiled)
	s.metrics.Timing(MetricBatchDuration, time.Since(start))
	return err
}

// Transact executes the operations all-or-nothing across collections.
// Results align with the input order: puts and updates report their
// item per the request's Returning, deletes report nil.
func (s *Store) Transact(ctx context.Context, ops []TransactOp) ([]*Item, error) {
	compiled, err := s.compiler.CompileTransact(ops)
	if err != nil {
		return nil, err
	}
	s.metrics.Gauge(MetricTransactSize, float64(len(compiled)))

	results, err := s.backend.Transact(ctx, compiled)
	if err != nil {
		if IsConflict(err) {
			s.metrics.Increment(MetricTransactConflict)
		}
		return nil, err
	}
	s.metrics.Increment(MetricTransactSuccess)
	return results, nil
}

// CreateCollection provisions a collection and its declared indexes.
// Passing exists=false requires absence: an existing collection is
// ErrConflict instead of the idempotent CollectionStatusExists.
func (s *Store) CreateCollection(ctx context.Context, collection string, cfg CollectionConfig, exists *bool) (*CollectionResult, error) {
	result, err := s.backend.CreateCollection(ctx, collection, cfg, exists)
	if err != nil {
		return nil, err
	}
	s.logger.Info("collection created", "collection", collection, "status", string(result.Status))
	return result, nil
}

// DropCollection removes a collection and its data. Passing
// exists=true requires presence: a missing collection is ErrNotFound
// instead of the idempotent CollectionStatusNotExists.
func (s *Store) DropCollection(ctx context.Context, collection string, exists *bool) (*CollectionResult, error) {
	result, err := s.backend.DropCollection(ctx, collection, exists)
	if err != nil {
		return nil, err
	}
	s.logger.Info("collection dropped", "collection", collection, "status", string(result.Status))
	return result, nil
}

// HasCollection reports whether a collection exists.
func (s *Store) HasCollection(ctx context.Context, collection string) (bool, error) {
	return s.backend.HasCollection(ctx, collection)
}

// CreateIndex provisions an index unless an existing one covers it.
// Passing exists=false requires absence: an exact existing match is
// ErrConflict instead of IndexStatusExists.
func (s *Store) CreateIndex(ctx context.Context, collection string, index Index, exists *bool) (*IndexResult, error) {
	result, err := s.backend.CreateIndex(ctx, collection, index, exists)
	if err != nil {
		return nil, err
	}
	switch result.Status {
	case IndexStatusCreated:
		s.metrics.Increment(MetricIndexCreated, "collection", collection)
	default:
		s.metrics.Increment(MetricIndexExists, "collection", collection)
	}
	return result, nil
}

// DropIndex removes an index. Passing exists=true requires presence:
// a missing index is ErrNotFound instead of IndexStatusNotExists.
func (s *Store) DropIndex(ctx context.Context, collection string, index Index, exists *bool) (*IndexResult, error) {
	result, err := s.backend.DropIndex(ctx, collection, index, exists)
	if err != nil {
		return nil, err
	}
	s.metrics.Increment(MetricIndexDropped, "collection", collection)
	return result, nil
}

// ListIndexes returns the collection's indexes in abstract form.
func (s *Store) ListIndexes(ctx context.Context, collection string) ([]Index, error) {
	return s.backend.ListIndexes(ctx, collection)
}

// Ping checks backend connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// Close releases backend resources.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) resolveQueryStrings(req QueryRequest) (QueryRequest, error) {
	if req.Where == nil && req.WhereString != "" {
		where, err := ParseWhere(req.WhereString)
		if err != nil {
			return req, err
		}
		req.Where = where
	}
	return req, nil
}

func (s *Store) recordWriteFailure(errMetric, collection string, err error) {
	s.metrics.Increment(errMetric)
	switch {
	case IsConflict(err):
		s.metrics.Increment(MetricWriteConflict, "collection", collection)
	case IsPreconditionFailed(err):
		s.metrics.Increment(MetricPreconditionFail, "collection", collection)
	}
}
