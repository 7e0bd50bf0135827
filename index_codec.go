package polystore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Index name codec.
//
// Most backends cannot natively store which semantic sub-type an index
// was declared with: a plain ascending native index could have been
// Range, Asc or generic Field. The codec round-trips the sub-type
// through the index name itself:
//
//	idx_<kind>_<field>                       single field
//	idx_composite_<n>_<kind1>_..._<hash8>    composite, one kind per member
//
// Field dots become underscores and array subscripts are stripped, so
// decoding recovers the kind but not the exact field path; the field is
// always available from native metadata.

const indexNamePrefix = "idx"

var arraySubscript = regexp.MustCompile(`\[\d+\]`)

// EncodeIndexName derives the deterministic name for an index. An
// explicit name on the index wins unchanged. The optional collection is
// appended for backends whose index namespace is global rather than
// per-collection.
func EncodeIndexName(idx Index, collection string) string {
	if idx.IndexName() != "" {
		return idx.IndexName()
	}
	var name string
	switch i := idx.(type) {
	case CompositeIndex:
		name = fmt.Sprintf("%s_%d", i.Kind(), len(i.Fields))
		fields := make([]string, 0, len(i.Fields))
		for _, part := range i.Fields {
			name = fmt.Sprintf("%s_%s", name, part.Kind())
			fields = append(fields, part.IndexField())
		}
		name = fmt.Sprintf("%s_%s", name, hashFields(fields))
	case WildcardIndex:
		field := strings.ReplaceAll(i.Field, ".", "_")
		field = strings.ReplaceAll(field, "*", "")
		field = arraySubscript.ReplaceAllString(field, "")
		name = strings.TrimRight(fmt.Sprintf("%s_%s", i.Kind(), field), "_")
	default:
		field := strings.ReplaceAll(idx.IndexField(), ".", "_")
		field = arraySubscript.ReplaceAllString(field, "")
		name = fmt.Sprintf("%s_%s", idx.Kind(), field)
	}
	name = fmt.Sprintf("%s_%s", indexNamePrefix, name)
	if collection != "" {
		name = fmt.Sprintf("%s_%s", name, collection)
	}
	return name
}

// DecodeIndexKind recovers the sub-type hint from an encoded name.
// An undecodable name yields "" so callers fall back to the most
// conservative native interpretation; decoding never fails.
func DecodeIndexKind(name string) IndexKind {
	splits := strings.Split(name, "_")
	if len(splits) > 1 {
		switch kind := IndexKind(splits[1]); kind {
		case IndexHash, IndexRange, IndexAsc, IndexDesc, IndexField,
			IndexArray, IndexText, IndexGeospatial, IndexVector,
			IndexTTL, IndexWildcard, IndexComposite:
			return kind
		}
	}
	return ""
}

// DecodeCompositeKinds recovers the ordered member sub-types from an
// encoded composite name, or nil when the name is not one.
func DecodeCompositeKinds(name string) []IndexKind {
	splits := strings.Split(name, "_")
	if len(splits) <= 3 || splits[1] != string(IndexComposite) {
		return nil
	}
	n, err := strconv.Atoi(splits[2])
	if err != nil || n <= 0 || 3+n > len(splits) {
		return nil
	}
	kinds := make([]IndexKind, 0, n)
	for _, s := range splits[3 : 3+n] {
		kinds = append(kinds, IndexKind(s))
	}
	return kinds
}

// hashFields disambiguates composite names that share member kinds but
// differ in fields. First 8 hex chars of the sha256 over the joined paths.
func hashFields(fields []string) string {
	sum := sha256.Sum256([]byte(strings.Join(fields, ",")))
	return hex.EncodeToString(sum[:])[:8]
}
