// Package rerank provides second-pass relevance scoring for retrieved
// passages, with a pluggable scoring backend and doc-type diversification.
package rerank

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrievald/internal/corpus"
)

// ErrUnknownBackend indicates a backend name unknown to the factory.
// This is a construction-time contract violation and fails fast.
var ErrUnknownBackend = errors.New("unknown reranker backend")

// modelBatchLimit is the pair count above which the model backend skips
// per-pair model calls and scores heuristically in one pass.
const modelBatchLimit = 10

// ScoringBackend computes relevance scores in [0, 1] for (query, passage)
// pairs.
type ScoringBackend interface {
	Score(ctx context.Context, query string, passages []corpus.Passage) ([]corpus.ScoredPassage, error)
	Name() string
}

// BackendConfig configures the scoring backend factory.
type BackendConfig struct {
	// Provider selects the backend: "heuristic", "openai", or "anthropic".
	Provider string `koanf:"provider"`

	// Model is the judge model name. Defaults per provider.
	Model string `koanf:"model"`

	// APIKey overrides the provider's environment variable.
	APIKey string `koanf:"api_key"`

	// CacheSize bounds the per-pair score cache.
	CacheSize int `koanf:"cache_size"`

	// Timeout bounds a single judge-model call.
	Timeout time.Duration `koanf:"timeout"`

	// Weights tunes heuristic scoring (also used for fallback).
	Weights HeuristicWeights `koanf:"weights"`
}

// ApplyDefaults sets default values for unset fields.
func (c *BackendConfig) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = "heuristic"
	}
	if c.CacheSize == 0 {
		c.CacheSize = 100
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Weights == (HeuristicWeights{}) {
		c.Weights = DefaultHeuristicWeights()
	}
}

// NewBackend creates the configured scoring backend.
//
// Unknown provider names fail fast. A model provider with no usable
// credentials degrades to the heuristic backend transparently (logged,
// not an error), matching the engine's fail-open posture at query time.
func NewBackend(cfg BackendConfig, logger *zap.Logger) (ScoringBackend, error) {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	heuristic := NewHeuristicBackend(cfg.Weights)

	switch strings.ToLower(cfg.Provider) {
	case "heuristic":
		return heuristic, nil
	case "openai", "anthropic":
		llm, err := newJudgeModel(cfg)
		if err != nil {
			logger.Warn("judge model unavailable, using heuristic scoring",
				zap.String("provider", cfg.Provider),
				zap.Error(err),
			)
			return heuristic, nil
		}
		return &ModelBackend{
			llm:       llm,
			provider:  cfg.Provider,
			cache:     newScoreCache(cfg.CacheSize),
			heuristic: heuristic,
			timeout:   cfg.Timeout,
			logger:    logger,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Provider)
	}
}

func newJudgeModel(cfg BackendConfig) (llms.Model, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		if key == "" {
			return nil, errors.New("missing OpenAI API key")
		}
		model := cfg.Model
		if model == "" {
			model = "gpt-4o-mini"
		}
		return openai.New(openai.WithToken(key), openai.WithModel(model))
	case "anthropic":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		if key == "" {
			return nil, errors.New("missing Anthropic API key")
		}
		model := cfg.Model
		if model == "" {
			model = "claude-3-5-haiku-latest"
		}
		return anthropic.New(anthropic.WithToken(key), anthropic.WithModel(model))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Provider)
	}
}

// ModelBackend asks a judge model for a relevance number per pair.
//
// Failure semantics: a per-pair model error falls back to heuristic
// scoring for that pair and continues; Score itself never returns an
// error from the model path.
type ModelBackend struct {
	llm       llms.Model
	provider  string
	cache     *scoreCache
	heuristic *HeuristicBackend
	timeout   time.Duration
	logger    *zap.Logger
}

// Name returns the configured provider name.
func (b *ModelBackend) Name() string { return b.provider }

// Score scores all passages against the query.
func (b *ModelBackend) Score(ctx context.Context, query string, passages []corpus.Passage) ([]corpus.ScoredPassage, error) {
	if len(passages) == 0 {
		return nil, nil
	}

	// Large candidate sets are scored heuristically in one pass rather
	// than one model call per pair.
	if len(passages) > modelBatchLimit {
		return b.heuristic.Score(ctx, query, passages)
	}

	scored := make([]corpus.ScoredPassage, len(passages))
	for i, p := range passages {
		key := pairKey(query, p.Text)
		if cached, ok := b.cache.get(key); ok {
			scored[i] = corpus.ScoredPassage{Passage: p, Score: cached}
			continue
		}

		score, err := b.scorePair(ctx, query, p.Text)
		if err != nil {
			b.logger.Warn("judge model call failed, scoring pair heuristically",
				zap.String("provider", b.provider),
				zap.Error(err),
			)
			scored[i] = corpus.ScoredPassage{Passage: p, Score: b.heuristic.ScoreOne(query, p)}
			continue
		}

		b.cache.put(key, score)
		scored[i] = corpus.ScoredPassage{Passage: p, Score: score}
	}
	return scored, nil
}

func (b *ModelBackend) scorePair(ctx context.Context, query, text string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	prompt := fmt.Sprintf(`Rate how relevant the passage is to the query. Return ONLY a number between 0 and 100, where 0 means completely irrelevant and 100 means a perfect match answering the query completely.

Query: %q

Passage:
%s`, query, text)

	reply, err := llms.GenerateFromSinglePrompt(ctx, b.llm, prompt,
		llms.WithTemperature(0),
		llms.WithMaxTokens(5),
	)
	if err != nil {
		return 0, err
	}

	return parseJudgeScore(reply), nil
}

// parseJudgeScore converts a judge reply to a score in [0, 1]. Malformed
// replies are the neutral score 0.5.
func parseJudgeScore(reply string) float64 {
	n, err := strconv.ParseFloat(strings.TrimSpace(reply), 64)
	if err != nil {
		return 0.5
	}
	score := n / 100.0
	if score > 1.0 {
		score = 1.0
	}
	if score < 0 {
		score = 0
	}
	return score
}
