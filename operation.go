package polystore

// OpKind identifies a compiled operation. The set is closed; backends
// dispatch over it exhaustively.
type OpKind string

const (
	OpGet    OpKind = "get"
	OpPut    OpKind = "put"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
	OpQuery  OpKind = "query"
	OpCount  OpKind = "count"
)

// Bool returns a pointer to b, for the optional existence flags on
// requests.
func Bool(b bool) *bool { return &b }

// Returning selects what a write reports back.
type Returning string

const (
	ReturningNone Returning = ""
	ReturningOld  Returning = "old"
	ReturningNew  Returning = "new"
)

// GetRequest reads one item unconditionally.
type GetRequest struct {
	Collection string
	Key        Key
}

// PutRequest upserts one item. Exists narrows the write: false means
// create-only (Conflict when the key exists), true means replace-only
// (PreconditionFailed when absent). Where is an additional condition
// over the stored item; setting it implies the item must exist.
type PutRequest struct {
	Collection string
	Key        Key
	Value      Document
	Where      Expr
	Exists     *bool
	Returning  Returning
}

// UpdateRequest mutates fields of one existing item.
type UpdateRequest struct {
	Collection string
	Key        Key
	Set        *Update
	Where      Expr
	Returning  Returning
}

// DeleteRequest removes one existing item.
type DeleteRequest struct {
	Collection string
	Key        Key
	Where      Expr
}

// QueryRequest reads items matching a filter. Where and WhereString
// are alternatives; the string form is parsed with ParseWhere.
// IndexName forces a specific index.
type QueryRequest struct {
	Collection  string
	Where       Expr
	WhereString string
	OrderBy     *OrderBy
	Select      *Select
	Limit       int
	Offset      int
	IndexName   string
}

// CountRequest counts items matching a filter.
type CountRequest struct {
	Collection  string
	Where       Expr
	WhereString string
}

// BatchOp is one member of a batch: put or delete, nothing else.
// Batches span a single collection and items execute independently;
// atomicity is backend-defined and documented per adapter.
type BatchOp struct {
	Put    *PutRequest
	Delete *DeleteRequest
}

// TransactOp is one member of a transaction. Transactions may span
// collections and are all-or-nothing: every condition is checked
// before any write commits, and any failure aborts the whole set
// with a single Conflict.
type TransactOp struct {
	Put    *PutRequest
	Update *UpdateRequest
	Delete *DeleteRequest
}

// Item is one stored document with its identity and concurrency token.
type Item struct {
	Key   Key
	Value Document
	Etag  string
}

// QueryResult carries the items a query matched.
type QueryResult struct {
	Items []Item
}

// CompiledOp is the backend-agnostic form of one write or read. The
// compiler resolves keys to the canonical {$id, $pk} form, embeds
// identity and etag fields into values, and expresses the concurrency contract
// through MustExist/MustNotExist plus Where. Backends translate it to
// native syntax and report condition failures through FailureFor.
type CompiledOp struct {
	Kind       OpKind
	Collection string

	Key   Key
	DBKey Document

	Value Document
	Set   *Update
	Where Expr

	MustExist    bool
	MustNotExist bool

	Returning Returning

	// Etag is the locally generated token embedded in this write, ""
	// when the backend manages its own.
	Etag string
}

// FailureFor maps a failed condition check on this operation to the
// uniform taxonomy. exists reports whether the item was present when
// the condition was evaluated.
//
//	put with Exists=false on a present item        -> Conflict
//	put with Exists=true or Where on an absent one -> PreconditionFailed
//	update/delete on an absent item                -> NotFound (no Where)
//	update/delete on an absent item with Where     -> PreconditionFailed
//	any Where evaluating false on a present item   -> PreconditionFailed
func (op *CompiledOp) FailureFor(exists bool) error {
	if op.MustNotExist && exists {
		return ErrConflict
	}
	if !exists {
		if op.Kind == OpPut || op.Where != nil {
			return ErrPreconditionFailed
		}
		return ErrNotFound
	}
	return ErrPreconditionFailed
}

// CollectionStatus reports the outcome of collection lifecycle calls.
type CollectionStatus string

const (
	CollectionStatusCreated   CollectionStatus = "created"
	CollectionStatusExists    CollectionStatus = "exists"
	CollectionStatusDropped   CollectionStatus = "dropped"
	CollectionStatusNotExists CollectionStatus = "not_exists"
)

// CollectionResult is the outcome of a create/drop collection call.
type CollectionResult struct {
	Status  CollectionStatus
	Indexes []IndexResult
}

// CollectionConfig declares a collection's key layout and initial
// indexes for CreateCollection.
type CollectionConfig struct {
	IDField string
	IDType  string
	PKField string
	PKType  string
	Indexes []Index
}
