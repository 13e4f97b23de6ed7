// Package queryproc turns raw user queries into search-ready form: a
// normalized query string, a query type, extracted metadata filters,
// keyword lists, and an embedding vector.
package queryproc

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrievald/internal/corpus"
	"github.com/fyrsmithlabs/retrievald/internal/embeddings"
)

// QueryType determines which embedding space a query is projected into.
type QueryType string

const (
	// QueryTypeText marks conceptual queries.
	QueryTypeText QueryType = "text"
	// QueryTypeCode marks technical, parser- or config-flavored queries.
	QueryTypeCode QueryType = "code"
)

// Space maps the query type to its embedding space.
func (t QueryType) Space() embeddings.Space {
	if t == QueryTypeCode {
		return embeddings.SpaceCode
	}
	return embeddings.SpaceText
}

// Inline filter patterns. Matching is fail-open: a malformed query falls
// through with the original text and no filters. Values are single tokens;
// a greedy multi-word capture would swallow the keyword of an adjacent
// filter phrase ("from acme product: ngfw" must not yield vendor
// "acme product").
var (
	vendorPattern  = regexp.MustCompile(`(?i)(?:from|by|vendor:?)\s+([A-Za-z0-9_\-]+)`)
	productPattern = regexp.MustCompile(`(?i)(?:product:?|type:?)\s+([A-Za-z0-9_\-]+)`)
	useCasePattern = regexp.MustCompile(`(?i)(?:use\s+case:?|usecase:?)\s+([A-Za-z0-9_\-]+)`)
)

// Processor enhances and classifies queries for retrieval.
type Processor struct {
	embedder embeddings.Embedder
	logger   *zap.Logger
}

// New creates a query processor. The embedder is required; a nil logger
// falls back to a no-op logger.
func New(embedder embeddings.Embedder, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{embedder: embedder, logger: logger}
}

// Classify returns the query type. A query is CODE when it contains any
// fixed technical term or a technique identifier (e.g. T1078.001);
// otherwise TEXT. Deterministic, no side effects.
func (p *Processor) Classify(query string) QueryType {
	lower := strings.ToLower(query)
	for _, term := range technicalTerms {
		if strings.Contains(lower, term) {
			return QueryTypeCode
		}
	}
	if techniqueIDPattern.MatchString(query) {
		return QueryTypeCode
	}
	return QueryTypeText
}

// ExtractFilters pattern-matches inline filter phrases ("from X",
// "vendor: X", "product: X", "use case: X"), removes the matched spans from
// the query, and returns the residual query plus the extracted fields.
//
// All fields are single-valued; when a phrase kind matches more than once,
// the last match wins. An empty residual query is legal.
func (p *Processor) ExtractFilters(query string) (string, corpus.FilterSpec) {
	filters := corpus.FilterSpec{}
	cleaned := query

	if m := lastSubmatch(vendorPattern, query); m != "" {
		filters[corpus.MetaVendor] = corpus.Condition{Equals: m}
		cleaned = vendorPattern.ReplaceAllString(cleaned, "")
	}
	if m := lastSubmatch(productPattern, query); m != "" {
		filters[corpus.MetaProductType] = corpus.Condition{Equals: m}
		cleaned = productPattern.ReplaceAllString(cleaned, "")
	}
	if m := lastSubmatch(useCasePattern, query); m != "" {
		filters[corpus.MetaUseCase] = corpus.Condition{Equals: m}
		cleaned = useCasePattern.ReplaceAllString(cleaned, "")
	}

	cleaned = strings.Join(strings.Fields(cleaned), " ")

	if len(filters) > 0 {
		p.logger.Debug("extracted inline filters",
			zap.Int("fields", len(filters)),
			zap.String("residual", cleaned),
		)
		return cleaned, filters
	}
	return cleaned, nil
}

func lastSubmatch(re *regexp.Regexp, s string) string {
	matches := re.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return ""
	}
	return strings.TrimSpace(matches[len(matches)-1][1])
}

// Expand appends OR-disjunction clauses for known product aliases and
// acronym expansions found in the query. Expansion is additive only and
// idempotent: terms already present are not appended again.
func (p *Processor) Expand(query string) string {
	expanded := query
	lower := strings.ToLower(query)

	for _, product := range sortedKeys(productAliases) {
		if !strings.Contains(lower, product) {
			continue
		}
		var missing []string
		for _, alias := range productAliases[product] {
			if !strings.Contains(lower, alias) {
				missing = append(missing, `"`+alias+`"`)
			}
		}
		if len(missing) > 0 {
			expanded += " " + strings.Join(missing, " OR ")
			lower = strings.ToLower(expanded)
		}
	}

	for _, acronym := range sortedKeys(acronymExpansions) {
		re := regexp.MustCompile(`\b` + acronym + `\b`)
		if !re.MatchString(lower) {
			continue
		}
		expansion := acronymExpansions[acronym]
		if !strings.Contains(lower, expansion) {
			expanded += ` OR "` + expansion + `"`
			lower = strings.ToLower(expanded)
		}
	}

	return expanded
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Process normalizes and enhances a query for retrieval: whitespace
// normalization, inline filter stripping, alias expansion, and technique-ID
// up-weighting (the ID is duplicated so rank favors exact matches).
func (p *Processor) Process(query string) string {
	query = strings.Join(strings.Fields(query), " ")
	if query == "" {
		return query
	}

	cleaned, _ := p.ExtractFilters(query)
	expanded := p.Expand(cleaned)

	refs := techniqueIDPattern.FindAllString(expanded, -1)
	for _, ref := range dedupe(refs) {
		expanded = strings.Replace(expanded, ref, ref+" "+ref, 1)
	}

	return expanded
}

// ExpandVariants returns the query variants tried by fallback search, in
// order: the original query, the alias-expanded form (when different), and
// the keyword-joined form (when the query has more than one keyword).
func (p *Processor) ExpandVariants(query string) []string {
	variants := []string{query}

	if expanded := p.Expand(query); expanded != query {
		variants = append(variants, expanded)
	}

	if keywords := p.Keywords(query); len(keywords) > 1 {
		joined := strings.Join(keywords, " ")
		if joined != query {
			variants = append(variants, joined)
		}
	}

	return variants
}

// Keywords extracts query terms ordered by priority: technique IDs first,
// then technical and security-domain terms, then the remaining terms in
// original order. Stop words and single characters are dropped.
func (p *Processor) Keywords(query string) []string {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, `.,;:!?"'()[]{}`)
		if len(w) <= 1 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		words = append(words, w)
	}

	prioritized := techniqueIDPattern.FindAllString(query, -1)
	for _, w := range words {
		if isDomainTerm(w) {
			prioritized = append(prioritized, w)
		}
	}
	for _, w := range words {
		prioritized = append(prioritized, w)
	}

	return dedupe(prioritized)
}

func isDomainTerm(word string) bool {
	for _, term := range technicalTerms {
		if strings.Contains(word, term) {
			return true
		}
	}
	for _, term := range conceptualTerms {
		if strings.Contains(word, term) {
			return true
		}
	}
	return false
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Embed produces the query's embedding, selecting the representation space
// from the query type. Empty queries embed to the provider's zero vector.
func (p *Processor) Embed(ctx context.Context, query string) ([]float32, error) {
	return p.embedder.Embed(ctx, query, p.Classify(query).Space())
}

// EmbedAs embeds text in the space of a previously classified query type.
// The retriever classifies the caller's query once and reuses that type for
// every rewritten variant, so rewriting never flips the embedding space.
func (p *Processor) EmbedAs(ctx context.Context, text string, qt QueryType) ([]float32, error) {
	return p.embedder.Embed(ctx, text, qt.Space())
}
