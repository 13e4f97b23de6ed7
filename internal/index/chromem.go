package index

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrievald/internal/corpus"
	"github.com/fyrsmithlabs/retrievald/internal/embeddings"
)

// ChromemConfig configures the embedded chromem-go index.
type ChromemConfig struct {
	// Path is the persistence directory. Empty means in-memory only.
	Path string `koanf:"path"`

	// Collection is the collection name.
	Collection string `koanf:"collection"`

	// Compress enables gzip compression of persisted files.
	Compress bool `koanf:"compress"`
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "passages"
	}
}

// ChromemIndex is an embedded, zero-dependency index backed by chromem-go.
//
// chromem-go only supports exact-match metadata filters and has no term
// search, so ChromemIndex layers two things on top: IN and range conditions
// are applied as a post-filter on the candidate set, and keyword search runs
// against an in-process posting table maintained on Add. The posting table
// covers passages ingested by this process; a persistent collection reopened
// without re-ingestion serves vector search only until passages are added.
type ChromemIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedder   embeddings.Embedder
	logger     *zap.Logger

	mu       sync.RWMutex
	postings map[string]postingEntry
}

type postingEntry struct {
	passage corpus.Passage
	terms   map[string]bool
}

// NewChromemIndex opens (or creates) a chromem collection.
func NewChromemIndex(cfg ChromemConfig, embedder embeddings.Embedder, logger *zap.Logger) (*ChromemIndex, error) {
	cfg.ApplyDefaults()
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		db  *chromem.DB
		err error
	)
	if cfg.Path != "" {
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to open chromem database at %s: %w", cfg.Path, err)
		}
	} else {
		db = chromem.NewDB()
	}

	embedFn := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.Embed(ctx, text, embeddings.SpaceText)
	}
	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, embedFn)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection %s: %w", cfg.Collection, err)
	}

	logger.Info("chromem index ready",
		zap.String("collection", cfg.Collection),
		zap.String("path", cfg.Path),
		zap.Int("documents", collection.Count()),
	)

	return &ChromemIndex{
		db:         db,
		collection: collection,
		embedder:   embedder,
		logger:     logger,
		postings:   make(map[string]postingEntry),
	}, nil
}

// Add stores passages in the collection and indexes their terms.
func (c *ChromemIndex) Add(ctx context.Context, passages []corpus.Passage) error {
	if len(passages) == 0 {
		return nil
	}

	docs := make([]chromem.Document, 0, len(passages))
	for _, p := range passages {
		id := p.ChunkID()
		if id == "" {
			id = uuid.NewString()
			if p.Metadata == nil {
				p.Metadata = map[string]any{}
			}
			p.Metadata[corpus.MetaChunkID] = id
		}

		vec, err := c.embedder.Embed(ctx, p.Text, embeddings.SpaceText)
		if err != nil {
			return fmt.Errorf("failed to embed passage %s: %w", id, err)
		}

		docs = append(docs, chromem.Document{
			ID:        id,
			Metadata:  metaToStrings(p.Metadata),
			Content:   p.Text,
			Embedding: vec,
		})

		c.mu.Lock()
		c.postings[id] = postingEntry{passage: p, terms: termSet(p.Text)}
		c.mu.Unlock()
	}

	if err := c.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	c.logger.Debug("passages indexed", zap.Int("count", len(docs)))
	return nil
}

// SearchByVector returns the k nearest passages by cosine similarity.
func (c *ChromemIndex) SearchByVector(ctx context.Context, vector []float32, k int, filter corpus.FilterSpec) ([]corpus.ScoredPassage, error) {
	if k <= 0 {
		return nil, nil
	}
	total := c.collection.Count()
	if total == 0 {
		return nil, nil
	}

	filter = filter.Normalize()
	where, residual := splitFilter(filter)

	// Residual conditions are applied after the vector search, so fetch a
	// larger candidate set to keep k results reachable.
	fetch := k
	if len(residual) > 0 {
		fetch = k * 3
	}
	if fetch > total {
		fetch = total
	}

	results, err := c.collection.QueryEmbedding(ctx, vector, fetch, where, nil)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	out := make([]corpus.ScoredPassage, 0, len(results))
	for _, r := range results {
		meta := metaFromStrings(r.Metadata)
		if len(residual) > 0 && !residual.Matches(meta) {
			continue
		}
		out = append(out, corpus.ScoredPassage{
			Passage: corpus.Passage{Text: r.Content, Metadata: meta},
			Score:   float64(r.Similarity),
		})
		if len(out) == k {
			break
		}
	}
	return out, nil
}

// SearchByText returns the k passages with the strongest term overlap.
func (c *ChromemIndex) SearchByText(ctx context.Context, text string, k int, filter corpus.FilterSpec) ([]corpus.ScoredPassage, error) {
	if k <= 0 {
		return nil, nil
	}
	query := termSet(text)
	if len(query) == 0 {
		return nil, nil
	}
	filter = filter.Normalize()

	c.mu.RLock()
	defer c.mu.RUnlock()

	type match struct {
		id    string
		entry postingEntry
		score float64
	}
	var matches []match
	for id, entry := range c.postings {
		if filter != nil && !filter.Matches(entry.passage.Metadata) {
			continue
		}
		overlap := 0
		for term := range query {
			if entry.terms[term] {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		matches = append(matches, match{
			id:    id,
			entry: entry,
			score: float64(overlap) / float64(len(query)),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].id < matches[j].id
	})
	if len(matches) > k {
		matches = matches[:k]
	}

	out := make([]corpus.ScoredPassage, len(matches))
	for i, m := range matches {
		out[i] = corpus.ScoredPassage{Passage: m.entry.passage, Score: m.score}
	}
	return out, nil
}

// Close is a no-op: chromem persists on write.
func (c *ChromemIndex) Close() error { return nil }

// splitFilter separates exact-match conditions, which chromem can evaluate
// natively, from IN and range conditions, which must be post-filtered.
func splitFilter(filter corpus.FilterSpec) (map[string]string, corpus.FilterSpec) {
	if len(filter) == 0 {
		return nil, nil
	}
	var (
		where    map[string]string
		residual corpus.FilterSpec
	)
	for key, cond := range filter {
		if cond.Equals != "" {
			if where == nil {
				where = make(map[string]string)
			}
			where[key] = cond.Equals
			continue
		}
		if residual == nil {
			residual = make(corpus.FilterSpec)
		}
		residual[key] = cond
	}
	return where, residual
}

func metaToStrings(meta map[string]any) map[string]string {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		if v == nil {
			continue
		}
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}

func metaFromStrings(meta map[string]string) map[string]any {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}

// termSet tokenizes text into a lowercase term set. Punctuation splits
// tokens; single characters are dropped.
func termSet(text string) map[string]bool {
	terms := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != '_' && r != '-'
	}) {
		tok = strings.Trim(tok, "._-")
		if len(tok) < 2 {
			continue
		}
		terms[tok] = true
	}
	return terms
}
