package retriever

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrievald/internal/corpus"
	"github.com/fyrsmithlabs/retrievald/internal/embeddings"
	"github.com/fyrsmithlabs/retrievald/internal/index"
	"github.com/fyrsmithlabs/retrievald/internal/queryproc"
	"github.com/fyrsmithlabs/retrievald/internal/rerank"
)

type stubEmbedder struct {
	calls int
	last  string
}

func (s *stubEmbedder) Embed(_ context.Context, text string, _ embeddings.Space) ([]float32, error) {
	s.calls++
	s.last = text
	return []float32{1, 0, 0}, nil
}

func (s *stubEmbedder) Dimension(embeddings.Space) int { return 3 }

// fakeVector is a scriptable vector index recording the filter of each call.
type fakeVector struct {
	filters []corpus.FilterSpec
	respond func(filter corpus.FilterSpec) []corpus.ScoredPassage
	err     error
}

func (f *fakeVector) SearchByVector(_ context.Context, _ []float32, _ int, filter corpus.FilterSpec) ([]corpus.ScoredPassage, error) {
	f.filters = append(f.filters, filter)
	if f.err != nil {
		return nil, f.err
	}
	if f.respond == nil {
		return nil, nil
	}
	return f.respond(filter), nil
}

type fakeKeyword struct {
	queries []string
	respond func(text string) []corpus.ScoredPassage
}

func (f *fakeKeyword) SearchByText(_ context.Context, text string, _ int, _ corpus.FilterSpec) ([]corpus.ScoredPassage, error) {
	f.queries = append(f.queries, text)
	if f.respond == nil {
		return nil, nil
	}
	return f.respond(text), nil
}

func scored(id, docType, source string, score float64) corpus.ScoredPassage {
	return corpus.ScoredPassage{
		Passage: corpus.Passage{
			Text: "content of " + id,
			Metadata: map[string]any{
				corpus.MetaChunkID: id,
				corpus.MetaDocType: docType,
				corpus.MetaSource:  source,
			},
		},
		Score: score,
	}
}

func chunkIDs(passages []corpus.Passage) []string {
	ids := make([]string, len(passages))
	for i, p := range passages {
		ids[i] = p.ChunkID()
	}
	return ids
}

func newTestRetriever(t *testing.T, vec *fakeVector, kw *fakeKeyword, emb *stubEmbedder, cfg Config) *Retriever {
	t.Helper()
	processor := queryproc.New(emb, zap.NewNop())
	var keyword index.KeywordIndex
	if kw != nil {
		keyword = kw
	}
	r, err := New(vec, keyword, processor, nil, cfg, zap.NewNop())
	require.NoError(t, err)
	return r
}

func TestRetrieveEmptyQuery(t *testing.T) {
	vec := &fakeVector{}
	emb := &stubEmbedder{}
	r := newTestRetriever(t, vec, nil, emb, Config{})

	results, err := r.Retrieve(context.Background(), "   ", nil)
	require.NoError(t, err)
	assert.Nil(t, results)
	assert.Empty(t, vec.filters)
	assert.Zero(t, emb.calls)
}

func TestRetrieveCachesUnfilteredResults(t *testing.T) {
	vec := &fakeVector{respond: func(corpus.FilterSpec) []corpus.ScoredPassage {
		return []corpus.ScoredPassage{
			scored("c1", "parser", "a.md", 0.9),
			scored("c2", "rule", "b.md", 0.8),
		}
	}}
	r := newTestRetriever(t, vec, nil, &stubEmbedder{}, Config{})

	first, err := r.Retrieve(context.Background(), "lateral movement detection", nil)
	require.NoError(t, err)
	require.Len(t, first, 2)
	callsAfterFirst := len(vec.filters)

	second, err := r.Retrieve(context.Background(), "lateral movement detection", nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, callsAfterFirst, len(vec.filters), "second retrieve must be served from cache")
}

func TestRetrieveFilteredResultsNotCached(t *testing.T) {
	vec := &fakeVector{respond: func(corpus.FilterSpec) []corpus.ScoredPassage {
		return []corpus.ScoredPassage{scored("c1", "parser", "a.md", 0.9)}
	}}
	r := newTestRetriever(t, vec, nil, &stubEmbedder{}, Config{})

	filter := corpus.FilterSpec{corpus.MetaVendor: {Equals: "cisco"}}
	_, err := r.Retrieve(context.Background(), "lateral movement detection", filter)
	require.NoError(t, err)
	callsAfterFirst := len(vec.filters)

	_, err = r.Retrieve(context.Background(), "lateral movement detection", filter)
	require.NoError(t, err)
	assert.Greater(t, len(vec.filters), callsAfterFirst, "filtered retrieval must not be cached")
}

func TestRetrieveDistinctFiltersDistinctCacheKeys(t *testing.T) {
	vec := &fakeVector{respond: func(corpus.FilterSpec) []corpus.ScoredPassage {
		return []corpus.ScoredPassage{scored("c1", "parser", "a.md", 0.9)}
	}}
	r := newTestRetriever(t, vec, nil, &stubEmbedder{}, Config{})

	_, err := r.Retrieve(context.Background(), "lateral movement detection", nil)
	require.NoError(t, err)
	calls := len(vec.filters)

	// Same query with a filter must miss the unfiltered entry.
	_, err = r.Retrieve(context.Background(), "lateral movement detection",
		corpus.FilterSpec{corpus.MetaVendor: {Equals: "okta"}})
	require.NoError(t, err)
	assert.Greater(t, len(vec.filters), calls)
}

func TestHybridFusion(t *testing.T) {
	vec := &fakeVector{respond: func(corpus.FilterSpec) []corpus.ScoredPassage {
		return []corpus.ScoredPassage{
			scored("A", "parser", "a.md", 0.95),
			scored("B", "rule", "b.md", 0.90),
		}
	}}
	kw := &fakeKeyword{respond: func(string) []corpus.ScoredPassage {
		return []corpus.ScoredPassage{
			scored("B", "rule", "b.md", 1.0),
			scored("C", "overview", "c.md", 0.5),
		}
	}}
	r := newTestRetriever(t, vec, kw, &stubEmbedder{}, Config{EnableHybrid: true})

	results, err := r.Retrieve(context.Background(), "lateral movement detection", nil)
	require.NoError(t, err)

	// A: 0.70, B: 0.35 + 0.30 = 0.65, C: 0.15.
	assert.Equal(t, []string{"A", "B", "C"}, chunkIDs(results))
}

func TestHybridDegradesWhenOneSideEmpty(t *testing.T) {
	t.Run("keyword empty", func(t *testing.T) {
		vec := &fakeVector{respond: func(corpus.FilterSpec) []corpus.ScoredPassage {
			return []corpus.ScoredPassage{scored("A", "parser", "a.md", 0.9)}
		}}
		kw := &fakeKeyword{}
		r := newTestRetriever(t, vec, kw, &stubEmbedder{}, Config{EnableHybrid: true})

		results, err := r.Retrieve(context.Background(), "lateral movement detection", nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"A"}, chunkIDs(results))
	})

	t.Run("vector errors are absorbed", func(t *testing.T) {
		vec := &fakeVector{err: errors.New("index offline")}
		kw := &fakeKeyword{respond: func(string) []corpus.ScoredPassage {
			return []corpus.ScoredPassage{scored("K", "rule", "k.md", 0.8)}
		}}
		r := newTestRetriever(t, vec, kw, &stubEmbedder{}, Config{EnableHybrid: true})

		results, err := r.Retrieve(context.Background(), "lateral movement detection", nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"K"}, chunkIDs(results))
	})
}

func TestFusionEqualWeightTieBreak(t *testing.T) {
	// At 0.5/0.5 weighting, mirrored rankings fuse to a three-way exact
	// score tie (each passage sums rank contributions 3/3 and 1/3, or
	// 2/3 twice). The tie must resolve by vector rank, every time.
	r := newTestRetriever(t, &fakeVector{}, nil, &stubEmbedder{}, Config{HybridWeight: 0.5})

	vres := []corpus.Passage{
		scored("A", "parser", "a.md", 0).Passage,
		scored("B", "rule", "b.md", 0).Passage,
		scored("C", "overview", "c.md", 0).Passage,
	}
	kres := []corpus.Passage{
		scored("C", "overview", "c.md", 0).Passage,
		scored("B", "rule", "b.md", 0).Passage,
		scored("A", "parser", "a.md", 0).Passage,
	}

	for i := 0; i < 20; i++ {
		assert.Equal(t, []string{"A", "B", "C"}, chunkIDs(r.fuse(vres, kres)))
	}
}

func TestFusionTieBreakWithoutChunkIDs(t *testing.T) {
	// Passages without chunk ids get synthetic per-position keys. A
	// vector entry and a keyword entry tied on score order by vector
	// rank, so the vector side wins.
	r := newTestRetriever(t, &fakeVector{}, nil, &stubEmbedder{}, Config{HybridWeight: 0.5})

	vres := []corpus.Passage{{Text: "from vector"}}
	kres := []corpus.Passage{{Text: "from keyword"}}

	for i := 0; i < 20; i++ {
		out := r.fuse(vres, kres)
		require.Len(t, out, 2)
		assert.Equal(t, "from vector", out[0].Text)
		assert.Equal(t, "from keyword", out[1].Text)
	}
}

func TestFallbackDropsFilter(t *testing.T) {
	emb := &stubEmbedder{}
	vec := &fakeVector{}
	var winningQuery string
	vec.respond = func(filter corpus.FilterSpec) []corpus.ScoredPassage {
		if filter != nil {
			return nil
		}
		winningQuery = emb.last
		return []corpus.ScoredPassage{scored("open", "parser", "a.md", 0.9)}
	}
	r := newTestRetriever(t, vec, nil, emb, Config{})

	results, err := r.Retrieve(context.Background(), "lateral movement detection",
		corpus.FilterSpec{corpus.MetaVendor: {Equals: "nonexistent"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "open", results[0].ChunkID())

	// The winning call carried no filter and searched the full query: the
	// filter-free retry runs before the two-keyword simplification.
	assert.Nil(t, vec.filters[len(vec.filters)-1])
	assert.Equal(t, "lateral movement detection", winningQuery)
}

func TestFallbackSimplifiedQuery(t *testing.T) {
	emb := &stubEmbedder{}
	vec := &fakeVector{}
	// Only the two-keyword simplified query finds anything; the full query
	// and its expanded variants all come back empty.
	vec.respond = func(corpus.FilterSpec) []corpus.ScoredPassage {
		if len(strings.Fields(emb.last)) != 2 {
			return nil
		}
		return []corpus.ScoredPassage{scored("last", "parser", "a.md", 0.5)}
	}
	r := newTestRetriever(t, vec, nil, emb, Config{})

	results, err := r.Retrieve(context.Background(),
		"how does lateral movement detection work in practice", nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "last", results[0].ChunkID())
}

func TestFallbackExhausted(t *testing.T) {
	vec := &fakeVector{}
	r := newTestRetriever(t, vec, nil, &stubEmbedder{}, Config{})

	results, err := r.Retrieve(context.Background(), "lateral movement detection", nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDiversifyGroupCap(t *testing.T) {
	r := newTestRetriever(t, &fakeVector{}, nil, &stubEmbedder{}, Config{TopK: 5})

	var passages []corpus.Passage
	for i := 1; i <= 5; i++ {
		passages = append(passages, scored(fmt.Sprintf("p%d", i), "parser", "same.md", 0).Passage)
	}
	passages = append(passages, scored("r1", "rule", "other.md", 0).Passage)

	out := r.diversify(passages)

	// Two from the dominant group, then the other group, then fill.
	assert.Equal(t, []string{"p1", "p2", "r1", "p3", "p4"}, chunkIDs(out))
}

func TestDiversifySameTypeDifferentSources(t *testing.T) {
	r := newTestRetriever(t, &fakeVector{}, nil, &stubEmbedder{}, Config{TopK: 4})

	passages := []corpus.Passage{
		scored("a1", "parser", "a.md", 0).Passage,
		scored("a2", "parser", "a.md", 0).Passage,
		scored("a3", "parser", "a.md", 0).Passage,
		scored("b1", "parser", "b.md", 0).Passage,
	}
	out := r.diversify(passages)
	assert.Equal(t, []string{"a1", "a2", "b1", "a3"}, chunkIDs(out))
}

func TestRerankRejectionKeepsSearchOrder(t *testing.T) {
	vec := &fakeVector{respond: func(corpus.FilterSpec) []corpus.ScoredPassage {
		return []corpus.ScoredPassage{
			scored("first", "parser", "a.md", 0.9),
			scored("second", "rule", "b.md", 0.8),
		}
	}}
	emb := &stubEmbedder{}
	processor := queryproc.New(emb, zap.NewNop())
	reranker, err := rerank.New(rerank.Config{
		Backend: rerank.BackendConfig{Provider: "heuristic"},
	}, zap.NewNop())
	require.NoError(t, err)

	r, err := New(vec, nil, processor, reranker, Config{RerankThreshold: 0.99}, zap.NewNop())
	require.NoError(t, err)

	// Two candidates can never satisfy the three-survivor acceptance bar,
	// so the search ordering must be preserved.
	results, err := r.Retrieve(context.Background(), "lateral movement detection", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, chunkIDs(results))
}

func TestRerankAcceptedReordersByRelevance(t *testing.T) {
	match := corpus.ScoredPassage{
		Passage: corpus.Passage{
			Text: "saml authentication configuration guide with example",
			Metadata: map[string]any{
				corpus.MetaChunkID: "match",
				corpus.MetaDocType: "use_case",
				corpus.MetaSource:  "saml.md",
			},
		},
	}
	vec := &fakeVector{respond: func(corpus.FilterSpec) []corpus.ScoredPassage {
		return []corpus.ScoredPassage{
			scored("noise1", "overview", "a.md", 0.95),
			scored("noise2", "reference", "b.md", 0.90),
			scored("noise3", "rule", "c.md", 0.85),
			match,
		}
	}}
	emb := &stubEmbedder{}
	processor := queryproc.New(emb, zap.NewNop())
	reranker, err := rerank.New(rerank.Config{
		Backend: rerank.BackendConfig{Provider: "heuristic"},
	}, zap.NewNop())
	require.NoError(t, err)

	r, err := New(vec, nil, processor, reranker, Config{RerankThreshold: 0.4}, zap.NewNop())
	require.NoError(t, err)

	results, err := r.Retrieve(context.Background(), "saml authentication configuration", nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "match", results[0].ChunkID())
}

func TestRetrieveWithScores(t *testing.T) {
	vec := &fakeVector{respond: func(corpus.FilterSpec) []corpus.ScoredPassage {
		return []corpus.ScoredPassage{
			scored("c1", "parser", "a.md", 0.93),
			scored("c2", "rule", "b.md", 0.71),
		}
	}}
	r := newTestRetriever(t, vec, nil, &stubEmbedder{}, Config{})

	results, err := r.RetrieveWithScores(context.Background(), "lateral movement detection", nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.InDelta(t, 0.93, results[0].Score, 1e-9)

	t.Run("index failure is absorbed", func(t *testing.T) {
		vec.err = errors.New("index offline")
		results, err := r.RetrieveWithScores(context.Background(), "lateral movement detection", nil)
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestAssembleContext(t *testing.T) {
	r := newTestRetriever(t, &fakeVector{}, nil, &stubEmbedder{}, Config{})

	passages := []corpus.Passage{
		scored("c1", "parser", "cisco.md", 0).Passage,
		scored("c2", "rule", "okta.md", 0).Passage,
	}

	t.Run("formats citations", func(t *testing.T) {
		out := r.AssembleContext(passages, 1000)
		assert.Contains(t, out, "Passage 1 (Source: cisco.md, Type: parser):")
		assert.Contains(t, out, "Passage 2 (Source: okta.md, Type: rule):")
		assert.Contains(t, out, "content of c1")
	})

	t.Run("budget truncates with note", func(t *testing.T) {
		// Budget fits the first passage block but not the second.
		out := r.AssembleContext(passages, 15)
		assert.Contains(t, out, "Passage 1")
		assert.NotContains(t, out, "Passage 2")
		assert.Contains(t, out, "1 additional passages omitted")
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Equal(t, "", r.AssembleContext(nil, 1000))
	})
}

func TestResultCacheEviction(t *testing.T) {
	cache := newResultCache(2)
	cache.put("a", []corpus.Passage{{Text: "a"}})
	cache.put("b", []corpus.Passage{{Text: "b"}})
	cache.put("c", []corpus.Passage{{Text: "c"}})

	_, ok := cache.get("a")
	assert.False(t, ok)
	_, ok = cache.get("b")
	assert.True(t, ok)
	assert.Equal(t, 2, cache.len())
}

func TestNewValidation(t *testing.T) {
	processor := queryproc.New(&stubEmbedder{}, zap.NewNop())

	_, err := New(nil, nil, processor, nil, Config{}, zap.NewNop())
	assert.Error(t, err)

	_, err = New(&fakeVector{}, nil, nil, nil, Config{}, zap.NewNop())
	assert.Error(t, err)
}
