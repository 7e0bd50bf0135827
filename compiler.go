package polystore

// Compiler turns caller requests into backend-agnostic CompiledOps.
// It owns the optimistic-concurrency protocol: every conditional write
// is expressed as an existence requirement plus an optional Where, and
// backends lacking a native concurrency token get a fresh etag folded
// into the same write. The compiler keeps no state across calls.
type Compiler struct {
	processor *ItemProcessor
}

// NewCompiler builds a compiler embedding fields through the processor.
func NewCompiler(processor *ItemProcessor) *Compiler {
	return &Compiler{processor: processor}
}

// CompileGet compiles an unconditional single-item read.
func (c *Compiler) CompileGet(req GetRequest) (*CompiledOp, error) {
	key, err := c.requireKey(req.Key)
	if err != nil {
		return nil, err
	}
	return &CompiledOp{
		Kind:       OpGet,
		Collection: req.Collection,
		Key:        key,
		DBKey:      c.processor.DBKeyFromKey(key),
	}, nil
}

// CompilePut compiles an upsert. The value copy gets the key components
// embedded and, when the backend needs a local token, a fresh etag. A
// put with no key and no embedded id gets a freshly minted one.
func (c *Compiler) CompilePut(req PutRequest) (*CompiledOp, error) {
	key := req.Key
	if key.ID == nil && req.Value != nil {
		if derived := c.processor.KeyFromValue(req.Value); derived.ID != nil {
			key = derived
		}
	}
	if key.ID == nil {
		key = Key{ID: NewID()}
	}
	value := c.processor.AddEmbedFields(req.Value, key)
	op := &CompiledOp{
		Kind:       OpPut,
		Collection: req.Collection,
		Key:        key,
		DBKey:      c.processor.DBKeyFromKey(key),
		Value:      value,
		Returning:  req.Returning,
		Etag:       c.processor.EtagFromValue(value),
	}
	switch {
	case req.Exists != nil && !*req.Exists:
		op.MustNotExist = true
	case req.Exists != nil && *req.Exists:
		op.MustExist = true
	case req.Where != nil:
		op.MustExist = true
		op.Where = req.Where
	}
	return op, nil
}

// CompileUpdate compiles a field mutation on one existing item. When a
// local etag is in play, a put of the fresh token is appended to the
// operation list so the token rotates atomically with the mutation.
func (c *Compiler) CompileUpdate(req UpdateRequest) (*CompiledOp, error) {
	key, err := c.requireKey(req.Key)
	if err != nil {
		return nil, err
	}
	if req.Set == nil || len(req.Set.Operations) == 0 {
		return nil, WithContext(ErrBadRequest, map[string]interface{}{
			"reason": "update requires at least one operation",
		})
	}
	set := req.Set.Clone()
	op := &CompiledOp{
		Kind:       OpUpdate,
		Collection: req.Collection,
		Key:        key,
		DBKey:      c.processor.DBKeyFromKey(key),
		Where:      req.Where,
		MustExist:  true,
		Returning:  req.Returning,
	}
	if c.processor.NeedsLocalEtag() {
		op.Etag = c.processor.GenerateEtag()
		set = c.processor.AddEtagUpdate(set, op.Etag)
	}
	op.Set = set
	return op, nil
}

// CompileDelete compiles a removal of one existing item.
func (c *Compiler) CompileDelete(req DeleteRequest) (*CompiledOp, error) {
	key, err := c.requireKey(req.Key)
	if err != nil {
		return nil, err
	}
	return &CompiledOp{
		Kind:       OpDelete,
		Collection: req.Collection,
		Key:        key,
		DBKey:      c.processor.DBKeyFromKey(key),
		Where:      req.Where,
		MustExist:  true,
	}, nil
}

// CompileBatch validates and compiles a batch: put/delete only, one
// collection. Results align with the input order.
func (c *Compiler) CompileBatch(ops []BatchOp) ([]*CompiledOp, error) {
	if len(ops) == 0 {
		return nil, WithContext(ErrBadRequest, map[string]interface{}{
			"reason": "empty batch",
		})
	}
	compiled := make([]*CompiledOp, 0, len(ops))
	collection := ""
	for i, bop := range ops {
		var op *CompiledOp
		var err error
		switch {
		case bop.Put != nil && bop.Delete == nil:
			op, err = c.CompilePut(*bop.Put)
		case bop.Delete != nil && bop.Put == nil:
			op, err = c.CompileDelete(*bop.Delete)
		default:
			return nil, WithContext(ErrBadRequest, map[string]interface{}{
				"reason": "batch operations must be exactly one of put or delete",
				"index":  i,
			})
		}
		if err != nil {
			return nil, err
		}
		if collection == "" {
			collection = op.Collection
		} else if op.Collection != collection {
			return nil, WithContext(ErrBadRequest, map[string]interface{}{
				"reason": "batch operations must target a single collection",
				"index":  i,
			})
		}
		compiled = append(compiled, op)
	}
	return compiled, nil
}

// CompileTransact validates and compiles a transaction: put, update or
// delete, across one or more collections. The compiled set carries the
// conditions; the backend must check them all before committing any
// write, and abort the whole set on the first failure.
func (c *Compiler) CompileTransact(ops []TransactOp) ([]*CompiledOp, error) {
	if len(ops) == 0 {
		return nil, WithContext(ErrBadRequest, map[string]interface{}{
			"reason": "empty transaction",
		})
	}
	compiled := make([]*CompiledOp, 0, len(ops))
	for i, top := range ops {
		var op *CompiledOp
		var err error
		switch {
		case top.Put != nil && top.Update == nil && top.Delete == nil:
			op, err = c.CompilePut(*top.Put)
		case top.Update != nil && top.Put == nil && top.Delete == nil:
			op, err = c.CompileUpdate(*top.Update)
		case top.Delete != nil && top.Put == nil && top.Update == nil:
			op, err = c.CompileDelete(*top.Delete)
		default:
			return nil, WithContext(ErrBadRequest, map[string]interface{}{
				"reason": "transact operations must be exactly one of put, update or delete",
				"index":  i,
			})
		}
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, op)
	}
	return compiled, nil
}

// requireKey rejects reads and existing-item writes without a key.
func (c *Compiler) requireKey(key Key) (Key, error) {
	if key.ID != nil {
		return key, nil
	}
	return Key{}, WithContext(ErrBadRequest, map[string]interface{}{
		"reason": "key must be specified",
	})
}
