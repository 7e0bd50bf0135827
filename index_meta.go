package polystore

// indexMeta is the serializable form of an Index, used by adapters
// whose engine catalogue cannot carry the abstract declaration (Redis
// hashes, the SQL meta tables). It round-trips every kind, including
// composite members and wildcard exclusions.
type indexMeta struct {
	Kind      IndexKind   `json:"kind"`
	Name      string      `json:"name,omitempty"`
	Field     string      `json:"field,omitempty"`
	FieldType string      `json:"field_type,omitempty"`
	Dimension int         `json:"dimension,omitempty"`
	Metric    string      `json:"metric,omitempty"`
	Structure string      `json:"structure,omitempty"`
	Excluded  []string    `json:"excluded,omitempty"`
	Fields    []indexMeta `json:"fields,omitempty"`
}

func metaFromIndex(idx Index) indexMeta {
	meta := indexMeta{
		Kind:      idx.Kind(),
		Name:      idx.IndexName(),
		Field:     idx.IndexField(),
		FieldType: fieldTypeOf(idx),
	}
	switch i := idx.(type) {
	case VectorIndex:
		meta.Dimension = i.Dimension
		meta.Metric = i.Metric
		meta.Structure = i.Structure
	case WildcardIndex:
		meta.Excluded = i.Excluded
	case CompositeIndex:
		for _, f := range i.Fields {
			meta.Fields = append(meta.Fields, metaFromIndex(f))
		}
	}
	return meta
}

func (m indexMeta) toIndex() Index {
	base := singleIndex{Name: m.Name, Field: m.Field, FieldType: m.FieldType}
	switch m.Kind {
	case IndexHash:
		return HashIndex{base}
	case IndexRange:
		return RangeIndex{base}
	case IndexAsc:
		return AscIndex{base}
	case IndexDesc:
		return DescIndex{base}
	case IndexField:
		return FieldIndex{base}
	case IndexArray:
		return ArrayIndex{base}
	case IndexText:
		return TextIndex{base}
	case IndexGeospatial:
		return GeospatialIndex{base}
	case IndexTTL:
		return TTLIndex{base}
	case IndexVector:
		return VectorIndex{
			singleIndex: base,
			Dimension:   m.Dimension,
			Metric:      m.Metric,
			Structure:   m.Structure,
		}
	case IndexWildcard:
		return WildcardIndex{singleIndex: base, Excluded: m.Excluded}
	case IndexComposite:
		composite := CompositeIndex{Name: m.Name}
		for _, f := range m.Fields {
			composite.Fields = append(composite.Fields, f.toIndex())
		}
		return composite
	}
	// Unknown kind from a newer writer: the conservative reading is a
	// generic field index on the recorded path.
	return FieldIndex{base}
}
