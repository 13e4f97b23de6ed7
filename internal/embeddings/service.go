// Package embeddings provides query embedding via langchaingo.
//
// The service projects queries into one of two representation spaces: a
// text space for conceptual queries and a code space for technical ones.
// Each space can be served by a different model behind any
// OpenAI-compatible endpoint (OpenAI itself or a local TEI server).
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

// ErrInvalidConfig indicates invalid configuration.
var ErrInvalidConfig = errors.New("invalid embeddings configuration")

// Space selects which representation space a text is projected into.
type Space string

const (
	// SpaceText is the default space for conceptual queries.
	SpaceText Space = "text"
	// SpaceCode is the space for technical and code-flavored queries.
	SpaceCode Space = "code"
)

// Embedder generates a fixed-dimensionality vector for a text in the given
// space. Implementations must return a zero vector, not an error, for
// empty input.
type Embedder interface {
	Embed(ctx context.Context, text string, space Space) ([]float32, error)
	Dimension(space Space) int
}

// Config holds configuration for the embedding service.
type Config struct {
	// BaseURL is the OpenAI-compatible endpoint.
	// For TEI: http://localhost:8080/v1
	BaseURL string `koanf:"base_url"`

	// TextModel embeds conceptual queries.
	TextModel string `koanf:"text_model"`

	// CodeModel embeds technical queries. Defaults to TextModel.
	CodeModel string `koanf:"code_model"`

	// APIKey is required for OpenAI, optional for TEI.
	APIKey string `koanf:"api_key"`

	// Dimension is the vector size produced by both models.
	Dimension int `koanf:"dimension"`

	// Timeout bounds a single embedding call.
	Timeout time.Duration `koanf:"timeout"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:8080/v1"
	}
	if c.TextModel == "" {
		c.TextModel = "BAAI/bge-small-en-v1.5"
	}
	if c.CodeModel == "" {
		c.CodeModel = c.TextModel
	}
	if c.Dimension == 0 {
		c.Dimension = 384
	}
	if c.Timeout == 0 {
		c.Timeout = 15 * time.Second
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.TextModel == "" {
		return fmt.Errorf("%w: text model required", ErrInvalidConfig)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return nil
}

// Service implements Embedder with one langchaingo embedder per space.
type Service struct {
	text   *lcembeddings.EmbedderImpl
	code   *lcembeddings.EmbedderImpl
	config Config
	logger *zap.Logger
}

// NewService creates an embedding service from config.
func NewService(config Config, logger *zap.Logger) (*Service, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	text, err := newEmbedder(config, config.TextModel)
	if err != nil {
		return nil, fmt.Errorf("creating text embedder: %w", err)
	}
	code := text
	if config.CodeModel != config.TextModel {
		code, err = newEmbedder(config, config.CodeModel)
		if err != nil {
			return nil, fmt.Errorf("creating code embedder: %w", err)
		}
	}

	logger.Info("embedding service initialized",
		zap.String("base_url", config.BaseURL),
		zap.String("text_model", config.TextModel),
		zap.String("code_model", config.CodeModel),
		zap.Int("dimension", config.Dimension),
	)

	return &Service{text: text, code: code, config: config, logger: logger}, nil
}

func newEmbedder(config Config, model string) (*lcembeddings.EmbedderImpl, error) {
	apiKey := config.APIKey
	if apiKey == "" {
		// langchaingo requires a token, use placeholder for TEI
		apiKey = "placeholder"
	}

	llm, err := openai.New(
		openai.WithBaseURL(config.BaseURL),
		openai.WithEmbeddingModel(model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, err
	}
	return lcembeddings.NewEmbedder(llm)
}

// Embed generates an embedding for text in the given space.
//
// An empty or whitespace-only text yields a zero vector of the configured
// dimension without calling the provider, so an all-stop-word query can
// never fail embedding.
func (s *Service) Embed(ctx context.Context, text string, space Space) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return make([]float32, s.config.Dimension), nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	embedder := s.text
	if space == SpaceCode {
		embedder = s.code
	}

	vec, err := embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return vec, nil
}

// Dimension returns the vector size for the given space. Both spaces share
// one configured dimension.
func (s *Service) Dimension(Space) int {
	return s.config.Dimension
}
