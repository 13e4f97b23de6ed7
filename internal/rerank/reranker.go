package rerank

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrievald/internal/corpus"
)

// minKeep is the floor on rerank output size: reranking never returns
// fewer than min(minKeep, candidate count) passages.
const minKeep = 3

// Config configures the reranker.
type Config struct {
	// Backend configures the scoring backend.
	Backend BackendConfig `koanf:"backend"`

	// Threshold is the default minimum relevance score.
	Threshold float64 `koanf:"threshold"`

	// HighCutoff is the score a group's best passage needs to be seeded
	// into the diversified set.
	HighCutoff float64 `koanf:"high_cutoff"`

	// FillCutoff is the score remaining passages need to fill the set.
	FillCutoff float64 `koanf:"fill_cutoff"`
}

// ApplyDefaults sets default values for unset fields. The cutoffs are
// empirical constants, kept configurable.
func (c *Config) ApplyDefaults() {
	c.Backend.ApplyDefaults()
	if c.Threshold == 0 {
		c.Threshold = 0.7
	}
	if c.HighCutoff == 0 {
		c.HighCutoff = 0.6
	}
	if c.FillCutoff == 0 {
		c.FillCutoff = 0.5
	}
}

// Reranker scores a candidate set and filters it by relevance while
// preserving document-type variety.
type Reranker struct {
	backend   ScoringBackend
	heuristic *HeuristicBackend
	config    Config
	logger    *zap.Logger
}

// New creates a reranker. An unknown backend name in the config is a
// construction-time error.
func New(config Config, logger *zap.Logger) (*Reranker, error) {
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	backend, err := NewBackend(config.Backend, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("reranker initialized",
		zap.String("backend", backend.Name()),
		zap.Float64("threshold", config.Threshold),
	)

	return &Reranker{
		backend:   backend,
		heuristic: NewHeuristicBackend(config.Backend.Weights),
		config:    config,
		logger:    logger,
	}, nil
}

// Threshold returns the configured default threshold.
func (r *Reranker) Threshold() float64 { return r.config.Threshold }

// Score computes relevance scores for all passages. A backend failure
// downgrades the whole call to heuristic scoring; Score never fails.
func (r *Reranker) Score(ctx context.Context, query string, passages []corpus.Passage) []corpus.ScoredPassage {
	start := time.Now()
	scored, err := r.backend.Score(ctx, query, passages)
	if err != nil {
		r.logger.Warn("scoring backend failed, using heuristic scores",
			zap.String("backend", r.backend.Name()),
			zap.Error(err),
		)
		scored, _ = r.heuristic.Score(ctx, query, passages)
	}
	r.logger.Debug("scored passages",
		zap.Int("count", len(scored)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return scored
}

// Diversify enforces document-type variety in the top results.
//
// With more than three candidates: each doc_type group contributes its
// single best passage when that passage scores at least HighCutoff, then
// remaining slots fill from the rest of the score-sorted list (FillCutoff
// floor), and the final list is re-sorted by score. A clearly
// low-relevance passage is never admitted just for variety.
func (r *Reranker) Diversify(scored []corpus.ScoredPassage) []corpus.ScoredPassage {
	if len(scored) <= 3 {
		return scored
	}

	groups := make(map[string][]int)
	for i, sp := range scored {
		docType := sp.DocType()
		if docType == "" {
			docType = "unknown"
		}
		groups[docType] = append(groups[docType], i)
	}

	// Seed groups in name order so tied group-best scores land in the
	// same final order on every call.
	docTypes := make([]string, 0, len(groups))
	for docType := range groups {
		docTypes = append(docTypes, docType)
	}
	sort.Strings(docTypes)

	chosen := make(map[int]bool, len(scored))
	var diversified []corpus.ScoredPassage

	for _, docType := range docTypes {
		indices := groups[docType]
		best := indices[0]
		for _, i := range indices[1:] {
			if scored[i].Score > scored[best].Score {
				best = i
			}
		}
		if scored[best].Score >= r.config.HighCutoff {
			diversified = append(diversified, scored[best])
			chosen[best] = true
		}
	}

	remaining := make([]corpus.ScoredPassage, 0, len(scored))
	for i, sp := range scored {
		if !chosen[i] {
			remaining = append(remaining, sp)
		}
	}
	corpus.SortByScore(remaining)
	for _, sp := range remaining {
		if sp.Score >= r.config.FillCutoff {
			diversified = append(diversified, sp)
		}
	}

	corpus.SortByScore(diversified)
	return diversified
}

// Rerank scores, diversifies, and threshold-filters the candidate set.
//
// When the threshold removes too much, the top min(3, candidate count)
// passages by raw score are returned instead: an over-aggressive
// threshold must never erase a viable result set.
func (r *Reranker) Rerank(ctx context.Context, query string, passages []corpus.Passage, threshold float64) []corpus.Passage {
	if len(passages) == 0 {
		return nil
	}

	scored := r.Score(ctx, query, passages)
	diversified := r.Diversify(scored)

	var filtered []corpus.Passage
	for _, sp := range diversified {
		if sp.Score >= threshold {
			filtered = append(filtered, sp.Passage)
		}
	}

	need := minKeep
	if len(scored) < need {
		need = len(scored)
	}
	if len(filtered) < need {
		top := make([]corpus.ScoredPassage, len(scored))
		copy(top, scored)
		sort.SliceStable(top, func(i, j int) bool { return top[i].Score > top[j].Score })
		filtered = filtered[:0]
		for _, sp := range top[:need] {
			filtered = append(filtered, sp.Passage)
		}
	}

	r.logger.Debug("rerank complete",
		zap.Int("in", len(passages)),
		zap.Int("out", len(filtered)),
		zap.Float64("threshold", threshold),
	)
	return filtered
}
