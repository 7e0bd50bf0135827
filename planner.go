package polystore

// IndexCategory places a DBIndex in the backend's catalogue hierarchy.
type IndexCategory string

const (
	IndexCategoryMain   IndexCategory = "main"
	IndexCategoryLocal  IndexCategory = "local"
	IndexCategoryGlobal IndexCategory = "global"
)

// Projection completeness of a DBIndex.
const (
	ProjectionAll      = "ALL"
	ProjectionInclude  = "INCLUDE"
	ProjectionKeysOnly = "KEYS_ONLY"
)

// MainIndexName is the reserved name of a collection's primary index.
const MainIndexName = "$main"

// DBIndex is the native-catalogue view of one index: what the backend
// reports when described, decoded through the name codec. Adapters
// build the slice on first use and refresh it after index create/drop.
type DBIndex struct {
	Name             string
	Category         IndexCategory
	HashKey          string
	HashKeyType      string
	RangeKey         string
	RangeKeyType     string
	ProjectionType   string
	ProjectionFields []string
}

// MainDBIndex builds the primary-index catalogue entry.
func MainDBIndex(hashKey, rangeKey string) *DBIndex {
	return &DBIndex{
		Name:           MainIndexName,
		Category:       IndexCategoryMain,
		HashKey:        hashKey,
		RangeKey:       rangeKey,
		ProjectionType: ProjectionAll,
	}
}

// PlanAction says how a query executes: an indexed lookup or a scan.
type PlanAction string

const (
	PlanQuery PlanAction = "query"
	PlanScan  PlanAction = "scan"
)

// QueryPlan is the planner's output. For PlanQuery the filter is split
// into the part the index evaluates natively (KeyCondition) and the
// rest (ResidualFilter); for PlanScan the whole filter is residual.
// Either part may be nil. And-ing both parts is always equivalent to
// the original filter.
type QueryPlan struct {
	Action         PlanAction
	Index          *DBIndex
	KeyCondition   Expr
	ResidualFilter Expr
}

// Key eligibility classes assigned during field classification.
const (
	keyTypeHash  = "hash"
	keyTypeRange = "range"
)

// Planner chooses an access path from a filter tree and an index
// catalogue. It is a pure transform: no I/O, no retained state beyond
// the catalogue slice it was built with. indexes[0] must be the main
// index.
type Planner struct {
	processor *ItemProcessor
	indexes   []*DBIndex
}

// NewPlanner builds a planner over the catalogue. The processor
// resolves special attributes in field paths before matching.
func NewPlanner(processor *ItemProcessor, indexes []*DBIndex) *Planner {
	return &Planner{processor: processor, indexes: indexes}
}

// Plan picks an index and access path for the query.
//
// The pipeline narrows candidates in stages: order-by compatibility,
// projection coverage, then key-match quality. An explicit index must
// survive the first two stages (BadRequest otherwise) but not the
// third; without a key match it degrades to a scan over that index.
// With no explicit index and no surviving candidate, the plan is a
// scan over the main index.
func (p *Planner) Plan(filter Expr, orderBy *OrderBy, sel *Select, explicitIndex string) (*QueryPlan, error) {
	if len(p.indexes) == 0 {
		return nil, WithContext(ErrBadRequest, map[string]interface{}{
			"reason": "no index catalogue",
		})
	}
	orderByField := p.orderByField(orderBy)
	selectFields := p.selectFields(sel)
	keyFields, nonKeyFields := p.classifyFields(filter)

	candidates := p.orderByCandidates(orderByField, p.indexes)
	if orderByField != "" && len(candidates) == 0 {
		return nil, WithContext(ErrBadRequest, map[string]interface{}{
			"reason":  "no index found to order by field",
			"orderBy": orderByField,
		})
	}
	candidates = p.selectCandidates(selectFields, candidates)
	if orderByField != "" && len(candidates) == 0 {
		return nil, WithContext(ErrBadRequest, map[string]interface{}{
			"reason":  "no index found to order by field and project the select fields",
			"orderBy": orderByField,
		})
	}
	candidates = p.whereCandidates(keyFields, nonKeyFields, candidates)
	if orderByField != "" && len(candidates) == 0 {
		return nil, WithContext(ErrBadRequest, map[string]interface{}{
			"reason":  "no index found to order by field and filter by where condition",
			"orderBy": orderByField,
		})
	}

	action := PlanScan
	index := p.indexes[0]
	if explicitIndex != "" {
		match := false
		for _, candidate := range candidates {
			if candidate.Name == explicitIndex {
				action = PlanQuery
				index = candidate
				match = true
				break
			}
		}
		if !match {
			if orderByField != "" {
				return nil, WithContext(ErrBadRequest, map[string]interface{}{
					"reason":  "provided index does not support the order by field",
					"index":   explicitIndex,
					"orderBy": orderByField,
				})
			}
			for _, dbIndex := range p.indexes {
				if dbIndex.Name == explicitIndex {
					index = dbIndex
				}
			}
		}
	} else if len(candidates) > 0 {
		action = PlanQuery
		index = candidates[0]
	}

	plan := &QueryPlan{Action: action, Index: index}
	if action == PlanQuery {
		plan.KeyCondition, plan.ResidualFilter = p.splitKeyFilter(filter, index, keyFields)
	} else {
		plan.ResidualFilter = filter
	}
	return plan, nil
}

func (p *Planner) orderByField(orderBy *OrderBy) string {
	if orderBy == nil || len(orderBy.Terms) == 0 {
		return ""
	}
	return p.processor.ResolveField(orderBy.Terms[0].Field)
}

func (p *Planner) selectFields(sel *Select) []string {
	if sel == nil {
		return nil
	}
	fields := make([]string, 0, len(sel.Terms))
	for _, term := range sel.Terms {
		fields = append(fields, p.processor.ResolveField(term.Field))
	}
	return fields
}

// classifyFields walks the filter and assigns each referenced field a
// key-eligibility class. Equality makes a field hash- and range-
// eligible; ordered comparisons, between and prefix matches make it
// range-eligible only. A field recurring ambiguously, reached through
// Or/Not, or used with any other operator is demoted to non-key.
func (p *Planner) classifyFields(filter Expr) (map[string][]string, []string) {
	keyFields := map[string][]string{}
	var nonKeyFields []string
	p.findFields(filter, keyFields, &nonKeyFields, false)
	for _, f := range nonKeyFields {
		delete(keyFields, f)
	}
	return keyFields, nonKeyFields
}

func (p *Planner) findFields(expr Expr, keyFields map[string][]string, nonKeyFields *[]string, nonKey bool) {
	addNonKey := func(field string) {
		field = p.processor.ResolveField(field)
		for _, f := range *nonKeyFields {
			if f == field {
				return
			}
		}
		*nonKeyFields = append(*nonKeyFields, field)
	}
	tryAddKey := func(field string, keyTypes []string) {
		field = p.processor.ResolveField(field)
		if _, ok := keyFields[field]; ok {
			// Recurring field: only one key comparison is allowed,
			// so the field is no longer usable as a key.
			addNonKey(field)
			return
		}
		keyFields[field] = keyTypes
	}

	switch e := expr.(type) {
	case Comparison:
		field, ok := comparisonField(e)
		if !ok {
			return
		}
		if nonKey {
			addNonKey(field)
			return
		}
		switch e.Op {
		case OpEQ:
			tryAddKey(field, []string{keyTypeHash, keyTypeRange})
		case OpLT, OpLTE, OpGT, OpGTE, OpBetween:
			tryAddKey(field, []string{keyTypeRange})
		default:
			addNonKey(field)
		}
	case Function:
		if e.Namespace == FunctionBuiltin && e.Name == FuncStartsWith && !nonKey {
			if f, ok := e.Args[0].(Field); ok {
				tryAddKey(f.Path, []string{keyTypeRange})
				return
			}
		}
		for _, arg := range e.Args {
			if f, ok := arg.(Field); ok {
				addNonKey(f.Path)
			}
		}
	case And:
		p.findFields(e.Left, keyFields, nonKeyFields, nonKey)
		p.findFields(e.Right, keyFields, nonKeyFields, nonKey)
	case Or:
		p.findFields(e.Left, keyFields, nonKeyFields, true)
		p.findFields(e.Right, keyFields, nonKeyFields, true)
	case Not:
		p.findFields(e.Expr, keyFields, nonKeyFields, true)
	}
}

func comparisonField(c Comparison) (string, bool) {
	if f, ok := c.Left.(Field); ok {
		return f.Path, true
	}
	if f, ok := c.Right.(Field); ok {
		return f.Path, true
	}
	return "", false
}

func (p *Planner) orderByCandidates(orderByField string, current []*DBIndex) []*DBIndex {
	var candidates []*DBIndex
	for _, index := range current {
		if orderByField == "" || index.RangeKey == orderByField {
			candidates = append(candidates, index)
		}
	}
	return candidates
}

// selectCandidates ranks fully projecting indexes first, then partial
// projections covering every selected field, then non-covering local
// indexes last (they cost extra reads but can still serve the query).
// A partial projection with no select to check against is unusable.
func (p *Planner) selectCandidates(selectFields []string, current []*DBIndex) []*DBIndex {
	var candidates []*DBIndex
	for _, index := range current {
		if index.ProjectionType == ProjectionAll {
			candidates = append([]*DBIndex{index}, candidates...)
			continue
		}
		if len(selectFields) == 0 {
			continue
		}
		covered := true
		for _, field := range selectFields {
			if !containsString(index.ProjectionFields, field) {
				covered = false
				break
			}
		}
		if covered {
			candidates = append([]*DBIndex{index}, candidates...)
		} else if index.Category == IndexCategoryLocal {
			candidates = append(candidates, index)
		}
	}
	return candidates
}

// whereCandidates keeps indexes whose hash key is hash-eligible in the
// filter, ranking those whose range key also appears in the filter
// first. Indexes whose range key was demoted to non-key are dropped:
// the key condition could not include it.
func (p *Planner) whereCandidates(keyFields map[string][]string, nonKeyFields []string, current []*DBIndex) []*DBIndex {
	var candidates []*DBIndex
	for i := len(current) - 1; i >= 0; i-- {
		index := current[i]
		types, ok := keyFields[index.HashKey]
		if !ok || !containsString(types, keyTypeHash) {
			continue
		}
		if index.RangeKey != "" {
			if _, ok := keyFields[index.RangeKey]; ok {
				candidates = append([]*DBIndex{index}, candidates...)
			} else if !containsString(nonKeyFields, index.RangeKey) {
				candidates = append(candidates, index)
			}
		} else {
			candidates = append(candidates, index)
		}
	}
	return candidates
}

// splitKeyFilter recurses along And boundaries. A leaf joins the key
// condition iff its field is one of the chosen index's keys and
// survived classification; any Or/Not subtree moves whole to the
// residual so the key condition stays a pure conjunction.
func (p *Planner) splitKeyFilter(expr Expr, index *DBIndex, keyFields map[string][]string) (Expr, Expr) {
	if expr == nil {
		return nil, nil
	}
	isKeyField := func(field string) bool {
		field = p.processor.ResolveField(field)
		if field != index.HashKey && (index.RangeKey == "" || field != index.RangeKey) {
			return false
		}
		_, ok := keyFields[field]
		return ok
	}

	switch e := expr.(type) {
	case Comparison:
		if field, ok := comparisonField(e); ok && isKeyField(field) {
			return e, nil
		}
		return nil, e
	case Function:
		for _, arg := range e.Args {
			if f, ok := arg.(Field); ok && isKeyField(f.Path) {
				return e, nil
			}
		}
		return nil, e
	case And:
		keyLeft, resLeft := p.splitKeyFilter(e.Left, index, keyFields)
		keyRight, resRight := p.splitKeyFilter(e.Right, index, keyFields)
		return AndAll(keyLeft, keyRight), AndAll(resLeft, resRight)
	}
	// Or and Not subtrees are residual in their entirety.
	return nil, expr
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
