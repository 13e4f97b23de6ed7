// Package retriever implements the retrieval pipeline: query processing,
// hybrid vector+keyword search with rank fusion, multi-strategy fallback,
// result diversification, reranking, and response caching.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrievald/internal/corpus"
	"github.com/fyrsmithlabs/retrievald/internal/index"
	"github.com/fyrsmithlabs/retrievald/internal/queryproc"
	"github.com/fyrsmithlabs/retrievald/internal/rerank"
)

var tracer = otel.Tracer("retrievald/retriever")

// perGroupCap bounds how many passages a single (doc_type, source) pair may
// contribute before lower-ranked groups get a turn.
const perGroupCap = 2

// Config configures the retrieval pipeline.
type Config struct {
	// TopK is the result count target.
	TopK int `koanf:"top_k"`

	// EnableHybrid turns on combined vector+keyword search.
	EnableHybrid bool `koanf:"enable_hybrid"`

	// HybridWeight is the vector side's share of the fused score, in (0, 1).
	HybridWeight float64 `koanf:"hybrid_weight"`

	// RerankThreshold is the minimum rerank score, passed to the reranker.
	RerankThreshold float64 `koanf:"rerank_threshold"`

	// CacheSize bounds the result cache.
	CacheSize int `koanf:"cache_size"`

	// MaxContextTokens bounds assembled context length.
	MaxContextTokens int `koanf:"max_context_tokens"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.TopK == 0 {
		c.TopK = 5
	}
	if c.HybridWeight == 0 {
		c.HybridWeight = 0.7
	}
	if c.RerankThreshold == 0 {
		c.RerankThreshold = 0.7
	}
	if c.CacheSize == 0 {
		c.CacheSize = 100
	}
	if c.MaxContextTokens == 0 {
		c.MaxContextTokens = 4000
	}
}

// Retriever orchestrates the retrieval pipeline.
//
// Failure posture: index and embedding failures are logged and absorbed,
// degrading toward an empty result rather than an error. Retrieve returns
// a non-nil error only for context cancellation.
type Retriever struct {
	vector    index.VectorIndex
	keyword   index.KeywordIndex
	processor *queryproc.Processor
	reranker  *rerank.Reranker
	cache     *resultCache
	config    Config
	logger    *zap.Logger
}

// New creates a retriever. The keyword index and reranker are optional:
// a nil keyword index disables the keyword side of hybrid search, a nil
// reranker disables reranking.
func New(vector index.VectorIndex, keyword index.KeywordIndex, processor *queryproc.Processor, reranker *rerank.Reranker, config Config, logger *zap.Logger) (*Retriever, error) {
	if vector == nil {
		return nil, errors.New("vector index is required")
	}
	if processor == nil {
		return nil, errors.New("query processor is required")
	}
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Retriever{
		vector:    vector,
		keyword:   keyword,
		processor: processor,
		reranker:  reranker,
		cache:     newResultCache(config.CacheSize),
		config:    config,
		logger:    logger,
	}, nil
}

// Retrieve runs the full pipeline for a query and returns up to TopK
// passages, best-first. An empty or whitespace query yields no results and
// touches no collaborator.
func (r *Retriever) Retrieve(ctx context.Context, query string, filter corpus.FilterSpec) ([]corpus.Passage, error) {
	ctx, span := tracer.Start(ctx, "retriever.Retrieve")
	defer span.End()
	start := time.Now()
	defer func() { retrieveDuration.Observe(time.Since(start).Seconds()) }()

	if strings.TrimSpace(query) == "" {
		r.logger.Warn("empty query, nothing to retrieve")
		return nil, nil
	}

	// The cache key uses the raw query and the caller's filter: it must be
	// checked before query processing so a hit skips the pipeline entirely.
	key := cacheKey(query, filter)
	if cached, ok := r.cache.get(key); ok {
		cacheEventsTotal.WithLabelValues("hit").Inc()
		r.logger.Debug("cache hit", zap.String("query", query))
		return cached, nil
	}
	cacheEventsTotal.WithLabelValues("miss").Inc()

	processed := r.processor.Process(query)
	_, queryFilters := r.processor.ExtractFilters(query)
	combined := corpus.MergeFilters(filter, queryFilters).Normalize()
	queryType := r.processor.Classify(query)

	span.SetAttributes(
		attribute.String("query_type", string(queryType)),
		attribute.Bool("filtered", combined != nil),
	)

	var results []corpus.Passage
	if r.config.EnableHybrid {
		results = r.hybridSearch(ctx, processed, queryType, combined)
	} else {
		results = r.vectorSearch(ctx, processed, queryType, combined, 2*r.config.TopK)
	}

	if len(results) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results = r.fallbackSearch(ctx, query, processed, queryType, combined)
	}

	results = r.diversify(results)

	if r.reranker != nil && len(results) > 1 {
		reranked := r.reranker.Rerank(ctx, query, results, r.config.RerankThreshold)
		if len(reranked) >= min(3, r.config.TopK) {
			rerankOutcomesTotal.WithLabelValues("accepted").Inc()
			results = reranked
		} else {
			// Reranking that guts the result set is worse than no
			// reranking; keep the pre-rerank ordering.
			rerankOutcomesTotal.WithLabelValues("rejected").Inc()
			r.logger.Debug("rerank rejected, keeping search order",
				zap.Int("survivors", len(reranked)),
			)
		}
	}

	if len(results) > r.config.TopK {
		results = results[:r.config.TopK]
	}

	// Filtered result sets are never cached: they reflect a narrowed view
	// of the corpus and tend not to repeat, so they would only churn the
	// cache.
	if len(results) > 0 && combined == nil {
		r.cache.put(key, results)
	}

	span.SetAttributes(attribute.Int("results", len(results)))
	r.logger.Info("retrieval complete",
		zap.String("query", query),
		zap.Int("results", len(results)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return results, nil
}

// RetrieveWithScores runs a vector-only search and returns passages with
// their raw index similarity scores. Same fail-open posture as Retrieve.
func (r *Retriever) RetrieveWithScores(ctx context.Context, query string, filter corpus.FilterSpec) ([]corpus.ScoredPassage, error) {
	ctx, span := tracer.Start(ctx, "retriever.RetrieveWithScores")
	defer span.End()

	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	processed := r.processor.Process(query)
	_, queryFilters := r.processor.ExtractFilters(query)
	combined := corpus.MergeFilters(filter, queryFilters).Normalize()
	queryType := r.processor.Classify(query)

	vec, err := r.processor.EmbedAs(ctx, processed, queryType)
	if err != nil {
		searchErrorsTotal.WithLabelValues("vector").Inc()
		r.logger.Warn("query embedding failed", zap.Error(err))
		return nil, nil
	}

	searchesTotal.WithLabelValues("vector").Inc()
	scored, err := r.vector.SearchByVector(ctx, vec, r.config.TopK, combined)
	if err != nil {
		searchErrorsTotal.WithLabelValues("vector").Inc()
		r.logger.Warn("scored vector search failed", zap.Error(err))
		return nil, nil
	}
	return scored, nil
}

// vectorSearch embeds q and searches the vector index. Failures log and
// return nil.
func (r *Retriever) vectorSearch(ctx context.Context, q string, qt queryproc.QueryType, filter corpus.FilterSpec, k int) []corpus.Passage {
	vec, err := r.processor.EmbedAs(ctx, q, qt)
	if err != nil {
		searchErrorsTotal.WithLabelValues("vector").Inc()
		r.logger.Warn("query embedding failed", zap.Error(err))
		return nil
	}

	searchesTotal.WithLabelValues("vector").Inc()
	scored, err := r.vector.SearchByVector(ctx, vec, k, filter)
	if err != nil {
		searchErrorsTotal.WithLabelValues("vector").Inc()
		r.logger.Warn("vector search failed", zap.Error(err))
		return nil
	}
	return toPassages(scored)
}

// keywordSearch extracts keywords from q and searches the keyword index.
func (r *Retriever) keywordSearch(ctx context.Context, q string, filter corpus.FilterSpec, k int) []corpus.Passage {
	if r.keyword == nil {
		return nil
	}
	keywords := r.processor.Keywords(q)
	if len(keywords) == 0 {
		return nil
	}

	searchesTotal.WithLabelValues("keyword").Inc()
	scored, err := r.keyword.SearchByText(ctx, strings.Join(keywords, " "), k, filter)
	if err != nil {
		searchErrorsTotal.WithLabelValues("keyword").Inc()
		r.logger.Warn("keyword search failed", zap.Error(err))
		return nil
	}
	return toPassages(scored)
}

// hybridSearch runs both search modes and fuses their rankings. Either
// side coming back empty reduces to the other side alone.
func (r *Retriever) hybridSearch(ctx context.Context, q string, qt queryproc.QueryType, filter corpus.FilterSpec) []corpus.Passage {
	fetch := 2 * r.config.TopK
	vres := r.vectorSearch(ctx, q, qt, filter, fetch)
	kres := r.keywordSearch(ctx, q, filter, fetch)

	switch {
	case len(vres) == 0:
		return kres
	case len(kres) == 0:
		return vres
	}
	return r.fuse(vres, kres)
}

type fusedEntry struct {
	passage  corpus.Passage
	score    float64
	vecRank  int
	fallback string
}

// fuse merges two ranked lists with rank-normalized scoring: a passage at
// rank i in a list of N contributes (N-i)/N times that list's weight, and
// passages in both lists sum contributions. Keyed by chunk_id, with a
// synthetic per-position key for passages that lack one. Ties break by
// vector rank, then key, so fusion is fully deterministic.
func (r *Retriever) fuse(vres, kres []corpus.Passage) []corpus.Passage {
	w := r.config.HybridWeight
	entries := make(map[string]*fusedEntry, len(vres)+len(kres))

	for i, p := range vres {
		key := p.ChunkID()
		if key == "" {
			key = fmt.Sprintf("vector_%d", i)
		}
		entries[key] = &fusedEntry{
			passage:  p,
			score:    float64(len(vres)-i) / float64(len(vres)) * w,
			vecRank:  i,
			fallback: key,
		}
	}
	for i, p := range kres {
		key := p.ChunkID()
		if key == "" {
			key = fmt.Sprintf("keyword_%d", i)
		}
		kscore := float64(len(kres)-i) / float64(len(kres)) * (1 - w)
		if e, ok := entries[key]; ok {
			e.score += kscore
			continue
		}
		entries[key] = &fusedEntry{
			passage:  p,
			score:    kscore,
			vecRank:  math.MaxInt,
			fallback: key,
		}
	}

	fused := make([]*fusedEntry, 0, len(entries))
	for _, e := range entries {
		fused = append(fused, e)
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].score != fused[j].score {
			return fused[i].score > fused[j].score
		}
		if fused[i].vecRank != fused[j].vecRank {
			return fused[i].vecRank < fused[j].vecRank
		}
		return fused[i].fallback < fused[j].fallback
	})

	out := make([]corpus.Passage, len(fused))
	for i, e := range fused {
		out[i] = e.passage
	}
	return out
}

// fallbackSearch tries progressively looser strategies after the primary
// search found nothing. Strategies run in fixed order and the first
// non-empty result wins.
func (r *Retriever) fallbackSearch(ctx context.Context, original, processed string, qt queryproc.QueryType, filter corpus.FilterSpec) []corpus.Passage {
	fetch := 2 * r.config.TopK

	// Expanded query variants, vector-only.
	for _, variant := range r.processor.ExpandVariants(original) {
		if variant == processed {
			continue
		}
		fallbacksTotal.WithLabelValues("expanded_variants").Inc()
		if results := r.vectorSearch(ctx, variant, qt, filter, fetch); len(results) > 0 {
			r.logger.Debug("fallback succeeded", zap.String("strategy", "expanded_variants"))
			return results
		}
	}

	// The filter itself may be what excluded everything.
	if filter != nil {
		fallbacksTotal.WithLabelValues("no_filter").Inc()
		if results := r.vectorSearch(ctx, processed, qt, nil, fetch); len(results) > 0 {
			r.logger.Debug("fallback succeeded", zap.String("strategy", "no_filter"))
			return results
		}
	}

	// Keyword-only, for configurations where hybrid search is off and the
	// keyword side never ran.
	if !r.config.EnableHybrid {
		fallbacksTotal.WithLabelValues("keyword_only").Inc()
		if results := r.keywordSearch(ctx, processed, nil, fetch); len(results) > 0 {
			r.logger.Debug("fallback succeeded", zap.String("strategy", "keyword_only"))
			return results
		}
	}

	// Last resort: collapse the query to its two strongest keywords.
	if keywords := r.processor.Keywords(original); len(keywords) > 1 {
		fallbacksTotal.WithLabelValues("simplified").Inc()
		simplified := strings.Join(keywords[:2], " ")
		if results := r.vectorSearch(ctx, simplified, qt, nil, fetch); len(results) > 0 {
			r.logger.Debug("fallback succeeded", zap.String("strategy", "simplified"))
			return results
		}
	}

	r.logger.Info("all fallback strategies exhausted", zap.String("query", original))
	return nil
}

// diversify caps each (doc_type, source) pair at perGroupCap passages in
// rank order, then fills remaining slots with the skipped passages, again
// in rank order, up to TopK. Small candidate sets pass through untouched.
func (r *Retriever) diversify(passages []corpus.Passage) []corpus.Passage {
	if len(passages) <= 3 {
		return passages
	}

	type group struct{ docType, source string }
	counts := make(map[group]int)
	taken := make(map[int]bool, len(passages))
	out := make([]corpus.Passage, 0, r.config.TopK)

	for i, p := range passages {
		if len(out) == r.config.TopK {
			break
		}
		g := group{p.DocType(), p.Source()}
		if counts[g] >= perGroupCap {
			continue
		}
		counts[g]++
		taken[i] = true
		out = append(out, p)
	}
	for i, p := range passages {
		if len(out) == r.config.TopK {
			break
		}
		if !taken[i] {
			out = append(out, p)
		}
	}
	return out
}

func toPassages(scored []corpus.ScoredPassage) []corpus.Passage {
	if len(scored) == 0 {
		return nil
	}
	out := make([]corpus.Passage, len(scored))
	for i, sp := range scored {
		out[i] = sp.Passage
	}
	return out
}
