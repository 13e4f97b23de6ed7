// Package corpus defines the retrievable content model shared by the
// retrieval pipeline: passages, relevance-scored passages, and metadata
// filter specifications.
package corpus

import (
	"fmt"
	"sort"
	"strings"
)

// Well-known metadata keys produced by ingestion.
const (
	MetaChunkID        = "chunk_id"
	MetaDocType        = "doc_type"
	MetaSource         = "source"
	MetaVendor         = "vendor"
	MetaProduct        = "product"
	MetaProductType    = "product_type"
	MetaUseCase        = "use_case"
	MetaMitreAttack    = "mitre_attack"
	MetaContentSection = "content_section"
)

// Passage is an immutable unit of retrievable content. The pipeline never
// mutates a Passage in place; scoring stages wrap passages in ScoredPassage
// instead.
type Passage struct {
	// Text is the chunk content.
	Text string

	// Metadata contains ingestion-provided key-value pairs.
	// Common fields: doc_type, source, chunk_id, vendor, product, use_case.
	Metadata map[string]any
}

// Meta returns the metadata value for key as a string, or "" when the key
// is absent or not string-like.
func (p Passage) Meta(key string) string {
	v, ok := p.Metadata[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ChunkID returns the passage's chunk identifier, or "" when absent.
func (p Passage) ChunkID() string { return p.Meta(MetaChunkID) }

// DocType returns the passage's document type, or "" when absent.
func (p Passage) DocType() string { return p.Meta(MetaDocType) }

// Source returns the passage's source file, or "" when absent.
func (p Passage) Source() string { return p.Meta(MetaSource) }

// ScoredPassage pairs a passage with a relevance score in [0, 1].
//
// Scores are transient: they are recomputed per query and never persisted.
type ScoredPassage struct {
	Passage
	Score float64
}

// SortByScore sorts scored passages by score descending, stably.
func SortByScore(scored []ScoredPassage) {
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
}

// Citation formats the passage's citation header from available metadata.
// The source is always included; type, vendor, product, and use case appear
// only when present.
func (p Passage) Citation() string {
	source := p.Source()
	if source == "" {
		source = "Unknown source"
	}
	parts := []string{"Source: " + source}
	if v := p.DocType(); v != "" {
		parts = append(parts, "Type: "+v)
	}
	if v := p.Meta(MetaVendor); v != "" {
		parts = append(parts, "Vendor: "+v)
	}
	if v := p.Meta(MetaProduct); v != "" {
		parts = append(parts, "Product: "+v)
	}
	if v := p.Meta(MetaUseCase); v != "" {
		parts = append(parts, "Use case: "+v)
	}
	return strings.Join(parts, ", ")
}
