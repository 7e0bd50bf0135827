package polystore

import "sort"

// IndexStatus classifies a requested index against a backend catalogue,
// and reports the outcome of create/drop operations.
type IndexStatus string

const (
	// IndexStatusNotExists means no existing index answers the request.
	IndexStatusNotExists IndexStatus = "not_exists"
	// IndexStatusExists means an identical index already exists.
	IndexStatusExists IndexStatus = "exists"
	// IndexStatusCovered means an existing index answers every access
	// pattern the requested one would, making the request redundant.
	IndexStatusCovered IndexStatus = "covered"
	// IndexStatusCreated means a create operation built a new index.
	IndexStatusCreated IndexStatus = "created"
	// IndexStatusDropped means a drop operation removed the index.
	IndexStatusDropped IndexStatus = "dropped"
	// IndexStatusNotSupported means the declared shape is not
	// representable on this backend. Reported as a normal result,
	// never as an error.
	IndexStatusNotSupported IndexStatus = "not_supported"
)

// IndexResult is the outcome of a create/drop/check index operation.
type IndexResult struct {
	Status IndexStatus
	Index  Index
}

// CheckIndexStatus classifies requested against the existing catalogue.
// Exact matches win over coverage matches. Create on EXISTS or COVERED
// is an idempotent no-op unless the caller required absence (Conflict);
// drop on NOT_EXISTS is a no-op unless presence was required (NotFound) —
// that contract is enforced by the adapters, not here.
func CheckIndexStatus(existing []Index, requested Index) (IndexStatus, Index) {
	if match := matchIndex(existing, requested, false); match != nil {
		return IndexStatusExists, match
	}
	if match := matchIndex(existing, requested, true); match != nil {
		return IndexStatusCovered, match
	}
	return IndexStatusNotExists, nil
}

func matchIndex(existing []Index, requested Index, superset bool) Index {
	for _, idx := range existing {
		if indexMatches(idx, requested, superset) {
			return idx
		}
	}
	return nil
}

// indexMatches reports whether the existing index answers the requested
// one. In superset mode a kind mismatch is tolerated when the existing
// kind's access patterns include the requested kind's:
//
//	asc, desc, field  answer hash  (equality via an ordered/generic index)
//	range, field      answer asc, desc
//
// An ambiguous comparison counts as no match, so callers degrade to
// NOT_EXISTS rather than trusting a guess.
func indexMatches(existing, requested Index, superset bool) bool {
	ek, rk := existing.Kind(), requested.Kind()
	if ek != rk {
		if !superset || !kindCovers(ek, rk) {
			return false
		}
	}
	ec, eComposite := existing.(CompositeIndex)
	rc, rComposite := requested.(CompositeIndex)
	if eComposite || rComposite {
		if !eComposite || !rComposite {
			return false
		}
		if len(ec.Fields) != len(rc.Fields) {
			return false
		}
		for i := range ec.Fields {
			if !indexMatches(ec.Fields[i], rc.Fields[i], superset) {
				return false
			}
		}
		return true
	}
	if existing.IndexField() != requested.IndexField() {
		return false
	}
	if ew, ok := existing.(WildcardIndex); ok {
		rw, ok := requested.(WildcardIndex)
		if !ok || !sameStringSet(ew.Excluded, rw.Excluded) {
			return false
		}
	}
	if !superset {
		et, rt := fieldTypeOf(existing), fieldTypeOf(requested)
		if et != "" && rt != "" && et != rt {
			return false
		}
	}
	return true
}

func kindCovers(existing, requested IndexKind) bool {
	switch existing {
	case IndexAsc, IndexDesc:
		return requested == IndexHash
	case IndexRange:
		return requested == IndexAsc || requested == IndexDesc
	case IndexField:
		return requested == IndexHash || requested == IndexAsc || requested == IndexDesc
	}
	return false
}

func sameStringSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
