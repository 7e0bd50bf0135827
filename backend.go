package polystore

import (
	"context"
)

// Backend is the adapter contract every storage engine implements. A
// backend receives compiled operations and expression trees, never raw
// request objects; the Store owns compilation, planning happens inside
// the backend against its own index catalogue.
//
// Error mapping is part of the contract: every method reports failures
// through the shared taxonomy (ErrNotFound, ErrConflict,
// ErrPreconditionFailed, ErrBadRequest, ErrBackendUnavailable), never
// through engine-native error types.
type Backend interface {
	// Name identifies the adapter for logs and metrics.
	Name() string

	// Get reads one item. ErrNotFound when absent.
	Get(ctx context.Context, op *CompiledOp) (*Item, error)

	// Put writes one item, honoring the compiled existence and Where
	// conditions. Returns the stored item per op.Returning (nil Value
	// for ReturningNone).
	Put(ctx context.Context, op *CompiledOp) (*Item, error)

	// Update mutates one existing item. Condition failures map through
	// op.FailureFor.
	Update(ctx context.Context, op *CompiledOp) (*Item, error)

	// Delete removes one existing item.
	Delete(ctx context.Context, op *CompiledOp) error

	// Query runs a filtered read. The backend plans against its index
	// catalogue and evaluates any residual filter before returning.
	Query(ctx context.Context, req QueryRequest) (*QueryResult, error)

	// Count is Query returning only the number of matches.
	Count(ctx context.Context, req CountRequest) (int, error)

	// Batch executes put/delete operations against one collection.
	// Atomicity is backend-defined and documented per adapter; results
	// align with the input order.
	Batch(ctx context.Context, ops []*CompiledOp) error

	// Transact executes the operations all-or-nothing: every condition
	// is checked before any write commits, and any failed condition
	// aborts the whole set with ErrConflict. On success the returned
	// slice aligns with the input order, one slot per operation: puts
	// and updates report their item per op.Returning (including the
	// rotated etag), deletes report nil.
	Transact(ctx context.Context, ops []*CompiledOp) ([]*Item, error)

	// CreateCollection provisions a collection and its initial indexes.
	// Idempotent by default: an existing collection reports
	// CollectionStatusExists. When exists is false the caller requires
	// absence and an existing collection is ErrConflict instead.
	CreateCollection(ctx context.Context, collection string, cfg CollectionConfig, exists *bool) (*CollectionResult, error)

	// DropCollection removes a collection and its data. Idempotent by
	// default; when exists is true the caller requires presence and a
	// missing collection is ErrNotFound instead of NOT_EXISTS.
	DropCollection(ctx context.Context, collection string, exists *bool) (*CollectionResult, error)

	// HasCollection reports whether the collection exists.
	HasCollection(ctx context.Context, collection string) (bool, error)

	// CreateIndex provisions an index, reporting EXISTS or COVERED
	// instead of creating when the coverage checker says so. When
	// exists is false an exact EXISTS match is ErrConflict instead.
	CreateIndex(ctx context.Context, collection string, index Index, exists *bool) (*IndexResult, error)

	// DropIndex removes an index by its abstract form. Idempotent by
	// default; when exists is true a missing index is ErrNotFound.
	DropIndex(ctx context.Context, collection string, index Index, exists *bool) (*IndexResult, error)

	// ListIndexes returns the collection's indexes decoded from native
	// metadata through the name codec.
	ListIndexes(ctx context.Context, collection string) ([]Index, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases connections.
	Close() error
}
