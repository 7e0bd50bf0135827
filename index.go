package polystore

// IndexKind identifies the semantic sub-type of an index declaration.
// Several kinds map to the same native structure on a given backend
// (a plain ascending native index could have been declared Range, Asc
// or Field); the name codec in index_codec.go preserves the distinction.
type IndexKind string

const (
	IndexHash       IndexKind = "hash"
	IndexRange      IndexKind = "range"
	IndexAsc        IndexKind = "asc"
	IndexDesc       IndexKind = "desc"
	IndexField      IndexKind = "field"
	IndexArray      IndexKind = "array"
	IndexText       IndexKind = "text"
	IndexGeospatial IndexKind = "geospatial"
	IndexVector     IndexKind = "vector"
	IndexTTL        IndexKind = "ttl"
	IndexWildcard   IndexKind = "wildcard"
	IndexComposite  IndexKind = "composite"
)

// Index is an abstract index declaration. Implementations are the
// concrete *Index structs below; nothing outside this package satisfies
// the interface.
type Index interface {
	Kind() IndexKind
	// IndexName is the explicit name, or "" when the codec should derive one.
	IndexName() string
	// IndexField is the indexed field path, or "" for composite indexes.
	IndexField() string

	isIndex()
}

// singleIndex carries the fields shared by every single-field index kind.
type singleIndex struct {
	Name      string
	Field     string
	FieldType string
}

func (i singleIndex) IndexName() string  { return i.Name }
func (i singleIndex) IndexField() string { return i.Field }
func (singleIndex) isIndex()             {}

// HashIndex supports equality lookups on the field.
type HashIndex struct{ singleIndex }

func (HashIndex) Kind() IndexKind { return IndexHash }

// RangeIndex supports ordered comparisons and prefix matches on the field.
type RangeIndex struct{ singleIndex }

func (RangeIndex) Kind() IndexKind { return IndexRange }

// AscIndex orders the field ascending.
type AscIndex struct{ singleIndex }

func (AscIndex) Kind() IndexKind { return IndexAsc }

// DescIndex orders the field descending.
type DescIndex struct{ singleIndex }

func (DescIndex) Kind() IndexKind { return IndexDesc }

// FieldIndex is a generic single-field index with no access-pattern hint.
type FieldIndex struct{ singleIndex }

func (FieldIndex) Kind() IndexKind { return IndexField }

// ArrayIndex indexes the elements of an array field.
type ArrayIndex struct{ singleIndex }

func (ArrayIndex) Kind() IndexKind { return IndexArray }

// TextIndex supports full-text search on the field.
type TextIndex struct{ singleIndex }

func (TextIndex) Kind() IndexKind { return IndexText }

// GeospatialIndex supports geo queries on the field.
type GeospatialIndex struct{ singleIndex }

func (GeospatialIndex) Kind() IndexKind { return IndexGeospatial }

// TTLIndex expires items based on the field's timestamp value.
type TTLIndex struct{ singleIndex }

func (TTLIndex) Kind() IndexKind { return IndexTTL }

// VectorIndex supports nearest-neighbor search on an embedding field.
type VectorIndex struct {
	singleIndex
	Dimension int
	Metric    string
	Structure string
}

func (VectorIndex) Kind() IndexKind { return IndexVector }

// WildcardIndex indexes all fields under a path except the excluded ones.
type WildcardIndex struct {
	singleIndex
	Excluded []string
}

func (WildcardIndex) Kind() IndexKind { return IndexWildcard }

// CompositeIndex is an ordered list of single-field sub-indexes. The
// sub-index kinds determine the composite's access patterns: a
// (hash, range) pair maps to a wide-column secondary index, an
// (asc, desc) pair to a compound sort index, and so on.
type CompositeIndex struct {
	Name   string
	Fields []Index
}

func (CompositeIndex) Kind() IndexKind      { return IndexComposite }
func (i CompositeIndex) IndexName() string  { return i.Name }
func (CompositeIndex) IndexField() string   { return "" }
func (CompositeIndex) isIndex()             {}

// Single-field constructors. The fieldType is optional ("" when the
// backend does not need it); use the FieldType* constants otherwise.

func NewHashIndex(field, fieldType string) HashIndex {
	return HashIndex{singleIndex{Field: field, FieldType: fieldType}}
}

func NewRangeIndex(field, fieldType string) RangeIndex {
	return RangeIndex{singleIndex{Field: field, FieldType: fieldType}}
}

func NewAscIndex(field, fieldType string) AscIndex {
	return AscIndex{singleIndex{Field: field, FieldType: fieldType}}
}

func NewDescIndex(field, fieldType string) DescIndex {
	return DescIndex{singleIndex{Field: field, FieldType: fieldType}}
}

func NewFieldIndex(field, fieldType string) FieldIndex {
	return FieldIndex{singleIndex{Field: field, FieldType: fieldType}}
}

func NewArrayIndex(field, fieldType string) ArrayIndex {
	return ArrayIndex{singleIndex{Field: field, FieldType: fieldType}}
}

func NewTextIndex(field string) TextIndex {
	return TextIndex{singleIndex{Field: field}}
}

func NewTTLIndex(field string) TTLIndex {
	return TTLIndex{singleIndex{Field: field}}
}

func NewCompositeIndex(fields ...Index) CompositeIndex {
	return CompositeIndex{Fields: fields}
}

// fieldTypeOf returns the declared value type of a single-field index,
// "" when unknown or composite.
func fieldTypeOf(idx Index) string {
	switch i := idx.(type) {
	case HashIndex:
		return i.FieldType
	case RangeIndex:
		return i.FieldType
	case AscIndex:
		return i.FieldType
	case DescIndex:
		return i.FieldType
	case FieldIndex:
		return i.FieldType
	case ArrayIndex:
		return i.FieldType
	case TextIndex:
		return i.FieldType
	case GeospatialIndex:
		return i.FieldType
	case TTLIndex:
		return i.FieldType
	case VectorIndex:
		return i.FieldType
	case WildcardIndex:
		return i.FieldType
	}
	return ""
}

// withName returns a copy of idx carrying the given explicit name.
func withName(idx Index, name string) Index {
	switch i := idx.(type) {
	case HashIndex:
		i.Name = name
		return i
	case RangeIndex:
		i.Name = name
		return i
	case AscIndex:
		i.Name = name
		return i
	case DescIndex:
		i.Name = name
		return i
	case FieldIndex:
		i.Name = name
		return i
	case ArrayIndex:
		i.Name = name
		return i
	case TextIndex:
		i.Name = name
		return i
	case GeospatialIndex:
		i.Name = name
		return i
	case TTLIndex:
		i.Name = name
		return i
	case VectorIndex:
		i.Name = name
		return i
	case WildcardIndex:
		i.Name = name
		return i
	case CompositeIndex:
		i.Name = name
		return i
	}
	return idx
}
