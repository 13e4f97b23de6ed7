package index

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrievald/internal/embeddings"
)

// Config selects and configures the index backend.
type Config struct {
	// Backend selects the implementation: "chromem" (default) or "qdrant".
	Backend string `koanf:"backend"`

	Chromem ChromemConfig `koanf:"chromem"`
	Qdrant  QdrantConfig  `koanf:"qdrant"`
}

// New creates the configured index backend. Unknown backend names fail
// fast rather than silently defaulting.
func New(ctx context.Context, cfg Config, embedder embeddings.Embedder, logger *zap.Logger) (Index, error) {
	backend := strings.ToLower(cfg.Backend)
	if backend == "" {
		backend = "chromem"
	}

	switch backend {
	case "chromem":
		return NewChromemIndex(cfg.Chromem, embedder, logger)
	case "qdrant":
		return NewQdrantIndex(ctx, cfg.Qdrant, embedder, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
