package corpus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterSpecNormalize(t *testing.T) {
	tests := []struct {
		name   string
		filter FilterSpec
		want   FilterSpec
	}{
		{
			name:   "nil filter",
			filter: nil,
			want:   nil,
		},
		{
			name:   "empty filter",
			filter: FilterSpec{},
			want:   nil,
		},
		{
			name:   "all-empty conditions become no filter",
			filter: FilterSpec{"doc_type": {In: []string{}}, "vendor": {}},
			want:   nil,
		},
		{
			name:   "empty in list dropped, rest kept",
			filter: FilterSpec{"doc_type": {In: []string{}}, "vendor": {Equals: "acme"}},
			want:   FilterSpec{"vendor": {Equals: "acme"}},
		},
		{
			name:   "non-empty filter unchanged",
			filter: FilterSpec{"doc_type": {In: []string{"parser", "rule"}}},
			want:   FilterSpec{"doc_type": {In: []string{"parser", "rule"}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Normalize())
		})
	}
}

func TestFilterSpecMatches(t *testing.T) {
	gte := 10.0
	lte := 20.0
	meta := map[string]any{
		"doc_type": "parser",
		"vendor":   "acme",
		"weight":   15,
	}

	assert.True(t, FilterSpec{"doc_type": {Equals: "parser"}}.Matches(meta))
	assert.False(t, FilterSpec{"doc_type": {Equals: "rule"}}.Matches(meta))
	assert.True(t, FilterSpec{"vendor": {In: []string{"acme", "globex"}}}.Matches(meta))
	assert.False(t, FilterSpec{"vendor": {In: []string{"globex"}}}.Matches(meta))
	assert.True(t, FilterSpec{"weight": {GTE: &gte, LTE: &lte}}.Matches(meta))
	assert.False(t, FilterSpec{"weight": {LTE: &gte}}.Matches(meta))
	assert.False(t, FilterSpec{"missing": {Equals: "x"}}.Matches(meta))
}

func TestMergeFiltersOverrideWins(t *testing.T) {
	base := FilterSpec{
		"vendor":   {Equals: "caller"},
		"doc_type": {Equals: "parser"},
	}
	override := FilterSpec{"vendor": {Equals: "extracted"}}

	merged := MergeFilters(base, override)
	require.Len(t, merged, 2)
	assert.Equal(t, "extracted", merged["vendor"].Equals)
	assert.Equal(t, "parser", merged["doc_type"].Equals)

	assert.Nil(t, MergeFilters(nil, nil))
}

func TestFilterSpecFingerprint(t *testing.T) {
	a := FilterSpec{"vendor": {Equals: "acme"}, "doc_type": {In: []string{"parser"}}}
	b := FilterSpec{"doc_type": {In: []string{"parser"}}, "vendor": {Equals: "acme"}}

	// Deterministic regardless of map iteration order.
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEmpty(t, a.Fingerprint())

	assert.Empty(t, FilterSpec{}.Fingerprint())
	assert.Empty(t, FilterSpec{"doc_type": {In: []string{}}}.Fingerprint())
}

func TestPassageCitation(t *testing.T) {
	p := Passage{
		Text: "body",
		Metadata: map[string]any{
			"source":   "auth/saml.md",
			"doc_type": "use_case",
			"vendor":   "acme",
		},
	}
	assert.Equal(t, "Source: auth/saml.md, Type: use_case, Vendor: acme", p.Citation())

	empty := Passage{Text: "x"}
	assert.Equal(t, "Source: Unknown source", empty.Citation())
}
