// Package index defines the search-index contracts consumed by the
// retriever and provides two implementations: an embedded chromem-go
// store and a Qdrant gRPC store.
//
// The contracts are explicit and complete: every implementation supports
// vector search, keyword search, and ingestion. The retriever never
// probes for capabilities at call time.
package index

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/retrievald/internal/corpus"
)

// Sentinel errors for index operations.
var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid index configuration")

	// ErrUnknownBackend indicates a backend name unknown to the factory.
	ErrUnknownBackend = errors.New("unknown index backend")

	// ErrConnectionFailed indicates the backing store is unreachable.
	ErrConnectionFailed = errors.New("failed to connect to index backend")
)

// VectorIndex performs nearest-neighbor search over passage embeddings.
type VectorIndex interface {
	// SearchByVector returns up to k passages ordered best-first by
	// similarity to the query vector. A nil filter means no filtering.
	// An empty result is a valid outcome, not an error.
	SearchByVector(ctx context.Context, vector []float32, k int, filter corpus.FilterSpec) ([]corpus.ScoredPassage, error)
}

// KeywordIndex performs term-match search over passage text.
type KeywordIndex interface {
	// SearchByText returns up to k passages ordered best-first by
	// keyword match strength. Ordering contract matches SearchByVector.
	SearchByText(ctx context.Context, text string, k int, filter corpus.FilterSpec) ([]corpus.ScoredPassage, error)
}

// Index is a full search index: both search modalities plus ingestion.
type Index interface {
	VectorIndex
	KeywordIndex

	// Add stores passages. Passages without a chunk_id receive a
	// generated one.
	Add(ctx context.Context, passages []corpus.Passage) error

	// Close releases backend resources.
	Close() error
}
