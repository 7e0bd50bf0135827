package polystore

// FunctionBuiltin is the namespace of the builtin query functions.
const FunctionBuiltin = "builtin"

// Builtin query function names. Backends translate these to native
// syntax where available; the evaluator implements all of them.
const (
	FuncLength           = "length"
	FuncContains         = "contains"
	FuncStartsWith       = "starts_with"
	FuncIsDefined        = "is_defined"
	FuncIsNotDefined     = "is_not_defined"
	FuncIsType           = "is_type"
	FuncArrayLength      = "array_length"
	FuncArrayContains    = "array_contains"
	FuncArrayContainsAny = "array_contains_any"
)

// Field type names used by is_type and by index declarations.
const (
	FieldTypeString  = "string"
	FieldTypeNumber  = "number"
	FieldTypeBoolean = "boolean"
	FieldTypeObject  = "object"
	FieldTypeArray   = "array"
	FieldTypeNull    = "null"
)

func builtin(name string, args ...Expr) Expr {
	return Function{Namespace: FunctionBuiltin, Name: name, Args: args}
}

// StartsWith matches string fields by prefix. Prefix matches are
// range-eligible during planning, like lt/gt/between.
func StartsWith(field string, prefix string) Expr {
	return builtin(FuncStartsWith, Field{Path: field}, Value{V: prefix})
}

// Contains matches string fields by substring.
func Contains(field string, substr string) Expr {
	return builtin(FuncContains, Field{Path: field}, Value{V: substr})
}

// IsDefined is true when the field exists on the document.
func IsDefined(field string) Expr {
	return builtin(FuncIsDefined, Field{Path: field})
}

// IsNotDefined is true when the field is absent from the document.
func IsNotDefined(field string) Expr {
	return builtin(FuncIsNotDefined, Field{Path: field})
}

// IsType checks the field value against a field type name.
func IsType(field string, fieldType string) Expr {
	return builtin(FuncIsType, Field{Path: field}, Value{V: fieldType})
}

// Length returns the length of a string field.
func Length(field string) Expr {
	return builtin(FuncLength, Field{Path: field})
}

// ArrayLength returns the length of an array field.
func ArrayLength(field string) Expr {
	return builtin(FuncArrayLength, Field{Path: field})
}

// ArrayContains is true when the array field holds the value.
func ArrayContains(field string, value interface{}) Expr {
	return builtin(FuncArrayContains, Field{Path: field}, Value{V: value})
}

// ArrayContainsAny is true when the array field holds any of the values.
func ArrayContainsAny(field string, values ...interface{}) Expr {
	return builtin(FuncArrayContainsAny, Field{Path: field}, Value{V: values})
}
