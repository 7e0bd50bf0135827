package polystore

import "github.com/google/uuid"

// Special attributes callers may use in field paths and keys. They
// resolve to the collection's configured embed fields before any
// expression reaches the planner or a backend.
const (
	AttrID   = "$id"
	AttrPK   = "$pk"
	AttrEtag = "$etag"
)

// Key identifies one item. PK is the partition component for backends
// that split keys; when zero it defaults to ID.
type Key struct {
	ID interface{}
	PK interface{}
}

// NewKey builds a single-component key.
func NewKey(id interface{}) Key {
	return Key{ID: id}
}

// ItemProcessor embeds identity and concurrency fields into documents
// and normalizes caller field paths. One instance per collection; the
// embed fields come from the adapter's collection config.
type ItemProcessor struct {
	IDEmbedField   string
	PKEmbedField   string
	EtagEmbedField string

	// LocalEtag is set for backends without a native concurrency token:
	// every write recomputes and embeds a fresh etag.
	LocalEtag bool

	// SuppressFields are stripped from returned documents.
	SuppressFields []string
}

// NewItemProcessor returns a processor with the conventional field
// layout: id in "id", partition key in "pk", etag in "_etag".
func NewItemProcessor(localEtag bool) *ItemProcessor {
	return &ItemProcessor{
		IDEmbedField:   "id",
		PKEmbedField:   "pk",
		EtagEmbedField: "_etag",
		LocalEtag:      localEtag,
	}
}

// AddEmbedFields returns a copy of value with the key components and,
// when the backend needs one, a freshly generated etag embedded.
func (p *ItemProcessor) AddEmbedFields(value Document, key Key) Document {
	out := value.Clone()
	if key.ID != nil {
		if p.IDEmbedField != "" {
			out[p.IDEmbedField] = key.ID
		}
		if p.PKEmbedField != "" && p.PKEmbedField != p.IDEmbedField {
			out[p.PKEmbedField] = p.pkOf(key)
		}
	}
	if p.NeedsLocalEtag() {
		out[p.EtagEmbedField] = p.GenerateEtag()
	}
	return out
}

func (p *ItemProcessor) pkOf(key Key) interface{} {
	if key.PK != nil {
		return key.PK
	}
	return key.ID
}

// DBKeyFromKey normalizes a caller key into the canonical {$id, $pk}
// form carried on compiled operations. A missing partition key falls
// back to the id, so single-key collections address items uniformly.
func (p *ItemProcessor) DBKeyFromKey(key Key) Document {
	return Document{AttrID: key.ID, AttrPK: p.pkOf(key)}
}

// KeyFromKey converts a caller key into the embedded-field form used
// by backends, e.g. {"pk": ..., "id": ...}.
func (p *ItemProcessor) KeyFromKey(key Key) Document {
	out := Document{}
	if key.ID != nil && p.IDEmbedField != "" {
		out[p.IDEmbedField] = key.ID
	}
	if p.PKEmbedField != "" && p.PKEmbedField != p.IDEmbedField {
		if pk := p.pkOf(key); pk != nil {
			out[p.PKEmbedField] = pk
		}
	}
	return out
}

// KeyFromValue recovers the caller key from an embedded document.
func (p *ItemProcessor) KeyFromValue(value Document) Key {
	key := Key{}
	if p.IDEmbedField != "" {
		key.ID = value[p.IDEmbedField]
	}
	if p.PKEmbedField != "" && p.PKEmbedField != p.IDEmbedField {
		key.PK = value[p.PKEmbedField]
	}
	return key
}

// EtagFromValue returns the embedded etag, "" when absent.
func (p *ItemProcessor) EtagFromValue(value Document) string {
	if p.EtagEmbedField == "" {
		return ""
	}
	if etag, ok := value[p.EtagEmbedField].(string); ok {
		return etag
	}
	return ""
}

// NeedsLocalEtag reports whether writes must embed a locally generated
// concurrency token.
func (p *ItemProcessor) NeedsLocalEtag() bool {
	return p.LocalEtag && p.EtagEmbedField != ""
}

// AddEtagUpdate appends a put of the fresh etag to an update so the
// token changes in the same write as the mutation.
func (p *ItemProcessor) AddEtagUpdate(u *Update, etag string) *Update {
	if p.NeedsLocalEtag() {
		u.Put(p.EtagEmbedField, etag)
	}
	return u
}

// GenerateEtag returns a new opaque concurrency token.
func (p *ItemProcessor) GenerateEtag() string {
	return uuid.New().String()
}

// ResolveField maps the special attributes to their embedded fields.
// Any other path passes through unchanged.
func (p *ItemProcessor) ResolveField(field string) string {
	switch field {
	case AttrID:
		if p.IDEmbedField != "" {
			return p.IDEmbedField
		}
	case AttrPK:
		if p.PKEmbedField != "" {
			return p.PKEmbedField
		}
	case AttrEtag:
		if p.EtagEmbedField != "" {
			return p.EtagEmbedField
		}
	}
	return field
}

// SuppressFieldsIfNeeded strips configured fields from a returned
// document. The input is not modified.
func (p *ItemProcessor) SuppressFieldsIfNeeded(value Document) Document {
	if len(p.SuppressFields) == 0 {
		return value
	}
	out := make(Document, len(value))
	for k, v := range value {
		suppressed := false
		for _, s := range p.SuppressFields {
			if k == s {
				suppressed = true
				break
			}
		}
		if !suppressed {
			out[k] = v
		}
	}
	return out
}
