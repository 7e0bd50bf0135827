package polystore

import (
	"strings"
	"testing"
)

func TestEncodeIndexName(t *testing.T) {
	tests := []struct {
		name string
		idx  Index
		coll string
		want string
	}{
		{
			name: "hash",
			idx:  NewHashIndex("email", FieldTypeString),
			want: "idx_hash_email",
		},
		{
			name: "range",
			idx:  NewRangeIndex("createdAt", FieldTypeNumber),
			want: "idx_range_createdAt",
		},
		{
			name: "dotted path",
			idx:  NewAscIndex("address.city", FieldTypeString),
			want: "idx_asc_address_city",
		},
		{
			name: "array subscript stripped",
			idx:  NewFieldIndex("tags[0]", FieldTypeString),
			want: "idx_field_tags",
		},
		{
			name: "ttl",
			idx:  NewTTLIndex("expiresAt"),
			want: "idx_ttl_expiresAt",
		},
		{
			name: "explicit name wins",
			idx:  HashIndex{singleIndex{Name: "my_index", Field: "email"}},
			want: "my_index",
		},
		{
			name: "collection suffix",
			idx:  NewHashIndex("email", FieldTypeString),
			coll: "users",
			want: "idx_hash_email_users",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EncodeIndexName(tt.idx, tt.coll); got != tt.want {
				t.Errorf("EncodeIndexName = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEncodeCompositeIndexName(t *testing.T) {
	idx := NewCompositeIndex(
		NewHashIndex("tenant", FieldTypeString),
		NewRangeIndex("createdAt", FieldTypeNumber),
	)
	name := EncodeIndexName(idx, "")

	if !strings.HasPrefix(name, "idx_composite_2_hash_range_") {
		t.Errorf("name = %q, want idx_composite_2_hash_range_<hash> form", name)
	}

	// Same member kinds over different fields must not collide.
	other := EncodeIndexName(NewCompositeIndex(
		NewHashIndex("region", FieldTypeString),
		NewRangeIndex("total", FieldTypeNumber),
	), "")
	if other == name {
		t.Error("composite names over different fields should differ")
	}

	// Deterministic for the same declaration.
	if again := EncodeIndexName(idx, ""); again != name {
		t.Errorf("encoding is not deterministic: %q vs %q", again, name)
	}
}

func TestDecodeIndexKind(t *testing.T) {
	tests := []struct {
		name string
		want IndexKind
	}{
		{"idx_hash_email", IndexHash},
		{"idx_range_createdAt", IndexRange},
		{"idx_asc_name", IndexAsc},
		{"idx_desc_name", IndexDesc},
		{"idx_ttl_expiresAt", IndexTTL},
		{"idx_composite_2_hash_range_ab12cd34", IndexComposite},
		{"users_email_key", ""},
		{"_id_", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DecodeIndexKind(tt.name); got != tt.want {
				t.Errorf("DecodeIndexKind(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestDecodeIndexKindRoundTrip(t *testing.T) {
	indexes := []Index{
		NewHashIndex("email", FieldTypeString),
		NewRangeIndex("createdAt", FieldTypeNumber),
		NewAscIndex("name", FieldTypeString),
		NewDescIndex("score", FieldTypeNumber),
		NewFieldIndex("meta", ""),
		NewArrayIndex("tags", FieldTypeString),
		NewTextIndex("body"),
		NewTTLIndex("expiresAt"),
	}
	for _, idx := range indexes {
		name := EncodeIndexName(idx, "")
		if got := DecodeIndexKind(name); got != idx.Kind() {
			t.Errorf("round trip %q: decoded %q, want %q", name, got, idx.Kind())
		}
	}
}

func TestDecodeCompositeKinds(t *testing.T) {
	idx := NewCompositeIndex(
		NewHashIndex("tenant", FieldTypeString),
		NewRangeIndex("createdAt", FieldTypeNumber),
		NewDescIndex("score", FieldTypeNumber),
	)
	name := EncodeIndexName(idx, "")

	kinds := DecodeCompositeKinds(name)
	want := []IndexKind{IndexHash, IndexRange, IndexDesc}
	if len(kinds) != len(want) {
		t.Fatalf("got %d kinds, want %d", len(kinds), len(want))
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("kind[%d] = %q, want %q", i, kinds[i], want[i])
		}
	}
}

func TestDecodeCompositeKindsNonComposite(t *testing.T) {
	tests := []string{
		"idx_hash_email",
		"idx_composite",
		"idx_composite_x_hash",
		"idx_composite_0_ab12cd34",
		"random_name",
		"",
	}
	for _, name := range tests {
		if got := DecodeCompositeKinds(name); got != nil {
			t.Errorf("DecodeCompositeKinds(%q) = %v, want nil", name, got)
		}
	}
}
