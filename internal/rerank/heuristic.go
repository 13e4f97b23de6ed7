package rerank

import (
	"context"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/retrievald/internal/corpus"
)

var wordPattern = regexp.MustCompile(`\w+`)

// HeuristicWeights holds the tunable constants of heuristic scoring. The
// defaults are empirical values carried from production tuning; they are
// configuration, not invariants.
type HeuristicWeights struct {
	// Base is the starting score for every passage.
	Base float64 `koanf:"base"`

	// Overlap scales the query-term overlap ratio.
	Overlap float64 `koanf:"overlap"`

	// PhraseBonus is added per literal multi-word phrase match.
	PhraseBonus float64 `koanf:"phrase_bonus"`

	// KeywordUnit scales each informative-keyword weight.
	KeywordUnit float64 `koanf:"keyword_unit"`
}

// DefaultHeuristicWeights returns the default scoring constants.
func DefaultHeuristicWeights() HeuristicWeights {
	return HeuristicWeights{
		Base:        0.5,
		Overlap:     0.3,
		PhraseBonus: 0.15,
		KeywordUnit: 0.05,
	}
}

// relevanceKeywords are generic "informative content" markers, each with
// its own weight.
var relevanceKeywords = map[string]float64{
	"definition":     3.0,
	"example":        2.5,
	"implementation": 2.0,
	"configuration":  2.0,
	"explanation":    2.0,
	"overview":       1.5,
	"summary":        1.5,
	"guide":          1.5,
	"tutorial":       1.5,
	"setup":          1.5,
	"syntax":         1.5,
	"reference":      1.0,
	"details":        1.0,
}

// docTypeWeights up- or down-weight whole document categories.
var docTypeWeights = map[string]float64{
	"overview":    1.5,
	"use_case":    1.3,
	"parser":      1.2,
	"rule":        1.2,
	"model":       1.2,
	"data_source": 1.1,
	"reference":   0.9,
}

// HeuristicBackend scores (query, passage) pairs without any model call.
// It is the construction-time default and the runtime fallback whenever
// the model backend is unavailable or fails.
type HeuristicBackend struct {
	weights HeuristicWeights
}

// NewHeuristicBackend creates a heuristic scoring backend.
func NewHeuristicBackend(weights HeuristicWeights) *HeuristicBackend {
	if weights == (HeuristicWeights{}) {
		weights = DefaultHeuristicWeights()
	}
	return &HeuristicBackend{weights: weights}
}

// Name returns the backend name.
func (b *HeuristicBackend) Name() string { return "heuristic" }

// Score computes a relevance score in [0, 1] for every passage. It never
// fails.
func (b *HeuristicBackend) Score(_ context.Context, query string, passages []corpus.Passage) ([]corpus.ScoredPassage, error) {
	queryLower := strings.ToLower(query)
	queryTerms := termSet(queryLower)
	phrases := literalPhrases(queryLower)

	scored := make([]corpus.ScoredPassage, len(passages))
	for i, p := range passages {
		scored[i] = corpus.ScoredPassage{Passage: p, Score: b.scoreOne(queryTerms, phrases, len(query), p)}
	}
	return scored, nil
}

// ScoreOne scores a single (query, passage) pair. Used by the model
// backend for per-pair degradation.
func (b *HeuristicBackend) ScoreOne(query string, p corpus.Passage) float64 {
	queryLower := strings.ToLower(query)
	return b.scoreOne(termSet(queryLower), literalPhrases(queryLower), len(query), p)
}

func (b *HeuristicBackend) scoreOne(queryTerms map[string]struct{}, phrases []string, queryLen int, p corpus.Passage) float64 {
	score := b.weights.Base
	docLower := strings.ToLower(p.Text)

	if len(queryTerms) > 0 {
		docTerms := termSet(docLower)
		matched := 0
		for term := range queryTerms {
			if _, ok := docTerms[term]; ok {
				matched++
			}
		}
		score += b.weights.Overlap * float64(matched) / float64(len(queryTerms))
	}

	// Literal phrase hits only count for non-trivial queries.
	if queryLen > 5 {
		for _, phrase := range phrases {
			if strings.Contains(docLower, phrase) {
				score += b.weights.PhraseBonus
			}
		}
	}

	for keyword, weight := range relevanceKeywords {
		if strings.Contains(docLower, keyword) {
			score += b.weights.KeywordUnit * weight
		}
	}

	if w, ok := docTypeWeights[strings.ToLower(p.DocType())]; ok {
		score *= w
	}

	if score > 1.0 {
		score = 1.0
	}
	if score < 0 {
		score = 0
	}
	return score
}

func termSet(lower string) map[string]struct{} {
	terms := wordPattern.FindAllString(lower, -1)
	set := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		set[t] = struct{}{}
	}
	return set
}

// literalPhrases chops the query into consecutive runs of two to six
// words; each run longer than five characters becomes a candidate literal
// phrase.
func literalPhrases(lower string) []string {
	words := wordPattern.FindAllString(lower, -1)
	var phrases []string
	for i := 0; i < len(words); {
		take := len(words) - i
		if take > 6 {
			take = 6
		}
		if take < 2 {
			break
		}
		phrase := strings.Join(words[i:i+take], " ")
		if len(phrase) > 5 {
			phrases = append(phrases, phrase)
		}
		i += take
	}
	return phrases
}
