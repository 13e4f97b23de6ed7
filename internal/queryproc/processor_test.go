package queryproc

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/retrievald/internal/corpus"
	"github.com/fyrsmithlabs/retrievald/internal/embeddings"
)

// stubEmbedder records calls and returns fixed-size vectors.
type stubEmbedder struct {
	calls     int
	lastSpace embeddings.Space
}

func (s *stubEmbedder) Embed(_ context.Context, text string, space embeddings.Space) ([]float32, error) {
	s.calls++
	s.lastSpace = space
	if strings.TrimSpace(text) == "" {
		return make([]float32, 4), nil
	}
	return []float32{1, 2, 3, 4}, nil
}

func (s *stubEmbedder) Dimension(embeddings.Space) int { return 4 }

func TestClassify(t *testing.T) {
	p := New(&stubEmbedder{}, nil)

	tests := []struct {
		query string
		want  QueryType
	}{
		{"How do I configure SAML authentication?", QueryTypeCode}, // "config" vocabulary hit
		{"parser for firewall logs", QueryTypeCode},
		{"what is lateral movement", QueryTypeText},
		{"explain T1078.001", QueryTypeCode},
		{"detection strategy for T1566", QueryTypeCode},
		{"who is on call", QueryTypeText},
		{"", QueryTypeText},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Classify(tt.query))
		})
	}
}

func TestExtractFilters(t *testing.T) {
	p := New(&stubEmbedder{}, nil)

	t.Run("vendor product and use case", func(t *testing.T) {
		cleaned, filters := p.ExtractFilters("firewall rules from acme product: ngfw use case: exfiltration")
		require.NotNil(t, filters)
		assert.Equal(t, "acme", filters[corpus.MetaVendor].Equals)
		assert.Equal(t, "ngfw", filters[corpus.MetaProductType].Equals)
		assert.Equal(t, "exfiltration", filters[corpus.MetaUseCase].Equals)
		assert.NotContains(t, cleaned, "acme")
		assert.NotContains(t, cleaned, "use case")
	})

	t.Run("last match wins for repeated kinds", func(t *testing.T) {
		_, filters := p.ExtractFilters("logs from acme and from globex")
		require.NotNil(t, filters)
		assert.Equal(t, "globex", filters[corpus.MetaVendor].Equals)
	})

	t.Run("no filters", func(t *testing.T) {
		cleaned, filters := p.ExtractFilters("plain query text")
		assert.Equal(t, "plain query text", cleaned)
		assert.Nil(t, filters)
	})

	t.Run("empty residual query is legal", func(t *testing.T) {
		cleaned, filters := p.ExtractFilters("vendor: acme")
		assert.Empty(t, cleaned)
		require.NotNil(t, filters)
		assert.Equal(t, "acme", filters[corpus.MetaVendor].Equals)
	})

	t.Run("fail-open on odd input", func(t *testing.T) {
		cleaned, filters := p.ExtractFilters("from ")
		assert.Equal(t, "from", cleaned)
		assert.Nil(t, filters)
	})
}

func TestExpand(t *testing.T) {
	p := New(&stubEmbedder{}, nil)

	t.Run("acronym expansion is additive", func(t *testing.T) {
		expanded := p.Expand("siem integration")
		assert.True(t, strings.HasPrefix(expanded, "siem integration"))
		assert.Contains(t, expanded, `"security information and event management"`)
	})

	t.Run("product aliases joined with OR", func(t *testing.T) {
		expanded := p.Expand("threat hunter queries")
		assert.Contains(t, expanded, `"threat hunting"`)
		assert.Contains(t, expanded, " OR ")
	})

	t.Run("idempotent", func(t *testing.T) {
		once := p.Expand("siem alerts from data lake")
		twice := p.Expand(once)
		assert.Equal(t, once, twice)
	})

	t.Run("no-op without domain terms", func(t *testing.T) {
		assert.Equal(t, "ordinary question", p.Expand("ordinary question"))
	})
}

func TestProcess(t *testing.T) {
	p := New(&stubEmbedder{}, nil)

	t.Run("normalizes whitespace", func(t *testing.T) {
		assert.Equal(t, "two words", p.Process("  two \t words \n"))
	})

	t.Run("strips inline filters", func(t *testing.T) {
		processed := p.Process("ngfw events vendor: acme")
		assert.NotContains(t, processed, "acme")
	})

	t.Run("duplicates technique ids", func(t *testing.T) {
		processed := p.Process("detection for T1078")
		assert.Equal(t, 2, strings.Count(processed, "T1078"))
	})

	t.Run("empty query passes through", func(t *testing.T) {
		assert.Equal(t, "", p.Process("   "))
	})
}

func TestExpandVariants(t *testing.T) {
	p := New(&stubEmbedder{}, nil)

	variants := p.ExpandVariants("siem correlation rules")
	require.GreaterOrEqual(t, len(variants), 2)
	assert.Equal(t, "siem correlation rules", variants[0])
	assert.Contains(t, variants[1], "security information")

	single := p.ExpandVariants("nothing")
	assert.Equal(t, []string{"nothing"}, single)
}

func TestKeywords(t *testing.T) {
	p := New(&stubEmbedder{}, nil)

	t.Run("technique ids come first", func(t *testing.T) {
		keywords := p.Keywords("how does T1078 privilege escalation work")
		require.NotEmpty(t, keywords)
		assert.Equal(t, "T1078", keywords[0])
		// Domain terms come before generic terms.
		assert.Less(t, indexOf(keywords, "privilege"), indexOf(keywords, "work"))
	})

	t.Run("stop words removed", func(t *testing.T) {
		keywords := p.Keywords("what is the parser for this")
		assert.Equal(t, []string{"parser"}, keywords)
	})

	t.Run("all stop words yields empty list", func(t *testing.T) {
		assert.Empty(t, p.Keywords("what is the and of"))
	})
}

func indexOf(values []string, v string) int {
	for i, x := range values {
		if x == v {
			return i
		}
	}
	return len(values)
}

func TestEmbedUsesQuerySpace(t *testing.T) {
	stub := &stubEmbedder{}
	p := New(stub, nil)

	_, err := p.Embed(context.Background(), "parser configuration")
	require.NoError(t, err)
	assert.Equal(t, embeddings.SpaceCode, stub.lastSpace)

	_, err = p.Embed(context.Background(), "phishing awareness")
	require.NoError(t, err)
	assert.Equal(t, embeddings.SpaceText, stub.lastSpace)
	assert.Equal(t, 2, stub.calls)
}
