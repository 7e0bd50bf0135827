package polystore

// UpdateOp enumerates field mutation operators.
type UpdateOp string

const (
	// UpdatePut sets the field, creating it if absent. On an array
	// element path the element at that index is replaced.
	UpdatePut UpdateOp = "put"
	// UpdateInsert sets the field; on an array element path the element
	// is inserted at that index. Index "-" appends, index 0 prepends.
	UpdateInsert UpdateOp = "insert"
	// UpdateDelete removes the field or array element.
	UpdateDelete UpdateOp = "delete"
	// UpdateIncrement adds a signed number, creating the field at the
	// increment value when absent.
	UpdateIncrement UpdateOp = "increment"
	// UpdateMove moves the value from the field to a destination path.
	UpdateMove UpdateOp = "move"
	// UpdateArrayUnion unions values into an array without duplicates.
	UpdateArrayUnion UpdateOp = "array_union"
	// UpdateArrayRemove removes matching values from an array.
	UpdateArrayRemove UpdateOp = "array_remove"
	// UpdateAppend appends to an existing string value.
	UpdateAppend UpdateOp = "append"
	// UpdatePrepend prepends to an existing string value.
	UpdatePrepend UpdateOp = "prepend"
)

// UpdateOperation is one mutation applied to a field path.
type UpdateOperation struct {
	Field string
	Op    UpdateOp
	Args  []interface{}
}

// Update is an ordered list of mutations, applied first to last.
type Update struct {
	Operations []UpdateOperation
}

// NewUpdate returns an empty update for fluent construction:
//
//	polystore.NewUpdate().Put("status", "closed").Increment("version", 1)
func NewUpdate() *Update {
	return &Update{}
}

func (u *Update) add(field string, op UpdateOp, args ...interface{}) *Update {
	u.Operations = append(u.Operations, UpdateOperation{Field: field, Op: op, Args: args})
	return u
}

func (u *Update) Put(field string, value interface{}) *Update {
	return u.add(field, UpdatePut, value)
}

func (u *Update) Insert(field string, value interface{}) *Update {
	return u.add(field, UpdateInsert, value)
}

func (u *Update) Delete(field string) *Update {
	return u.add(field, UpdateDelete)
}

func (u *Update) Increment(field string, delta interface{}) *Update {
	return u.add(field, UpdateIncrement, delta)
}

func (u *Update) Move(field, dest string) *Update {
	return u.add(field, UpdateMove, dest)
}

func (u *Update) ArrayUnion(field string, values ...interface{}) *Update {
	return u.add(field, UpdateArrayUnion, values)
}

func (u *Update) ArrayRemove(field string, values ...interface{}) *Update {
	return u.add(field, UpdateArrayRemove, values)
}

func (u *Update) Append(field string, value string) *Update {
	return u.add(field, UpdateAppend, value)
}

func (u *Update) Prepend(field string, value string) *Update {
	return u.add(field, UpdatePrepend, value)
}

// Clone returns a deep enough copy that callers can extend the operation
// list (e.g. to embed a fresh etag) without mutating the caller's update.
func (u *Update) Clone() *Update {
	if u == nil {
		return NewUpdate()
	}
	ops := make([]UpdateOperation, len(u.Operations))
	copy(ops, u.Operations)
	return &Update{Operations: ops}
}
