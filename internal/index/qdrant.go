package index

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrievald/internal/corpus"
	"github.com/fyrsmithlabs/retrievald/internal/embeddings"
)

// QdrantConfig configures the Qdrant-backed index.
type QdrantConfig struct {
	Host       string        `koanf:"host"`
	Port       int           `koanf:"port"`
	APIKey     string        `koanf:"api_key"`
	UseTLS     bool          `koanf:"use_tls"`
	Collection string        `koanf:"collection"`
	VectorSize int           `koanf:"vector_size"`
	Timeout    time.Duration `koanf:"timeout"`
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "passages"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 1536
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// QdrantIndex is a Qdrant-backed index over gRPC.
//
// Vector search maps directly to Query with a payload filter. Keyword
// search uses a full-text match on the content payload field via Scroll,
// re-ranked client-side by term overlap so the ordering contract matches
// SearchByVector.
type QdrantIndex struct {
	client   *qdrant.Client
	config   QdrantConfig
	embedder embeddings.Embedder
	logger   *zap.Logger
}

// NewQdrantIndex connects to Qdrant and ensures the collection exists.
func NewQdrantIndex(ctx context.Context, cfg QdrantConfig, embedder embeddings.Embedder, logger *zap.Logger) (*QdrantIndex, error) {
	cfg.ApplyDefaults()
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	idx := &QdrantIndex{
		client:   client,
		config:   cfg,
		embedder: embedder,
		logger:   logger,
	}
	if err := idx.ensureCollection(ctx); err != nil {
		return nil, err
	}

	logger.Info("qdrant index ready",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("collection", cfg.Collection),
	)
	return idx, nil
}

func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, q.config.Timeout)
	defer cancel()

	exists, err := q.client.CollectionExists(ctx, q.config.Collection)
	if err != nil {
		return fmt.Errorf("failed to check collection %s: %w", q.config.Collection, err)
	}
	if exists {
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.config.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.config.VectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", q.config.Collection, err)
	}
	q.logger.Info("collection created", zap.String("collection", q.config.Collection))
	return nil
}

// Add embeds and upserts passages.
func (q *QdrantIndex) Add(ctx context.Context, passages []corpus.Passage) error {
	if len(passages) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(passages))
	for _, p := range passages {
		id := p.ChunkID()
		if id == "" {
			id = uuid.NewString()
			if p.Metadata == nil {
				p.Metadata = map[string]any{}
			}
			p.Metadata[corpus.MetaChunkID] = id
		}

		vec, err := q.embedder.Embed(ctx, p.Text, embeddings.SpaceText)
		if err != nil {
			return fmt.Errorf("failed to embed passage %s: %w", id, err)
		}

		payload := map[string]*qdrant.Value{
			"content": qdrant.NewValueString(p.Text),
		}
		for k, v := range p.Metadata {
			switch val := v.(type) {
			case string:
				payload[k] = qdrant.NewValueString(val)
			case int:
				payload[k] = qdrant.NewValueInt(int64(val))
			case int64:
				payload[k] = qdrant.NewValueInt(val)
			case float64:
				payload[k] = qdrant.NewValueDouble(val)
			case bool:
				payload[k] = qdrant.NewValueBool(val)
			default:
				payload[k] = qdrant.NewValueString(fmt.Sprintf("%v", val))
			}
		}

		// Point IDs must be UUIDs; the chunk_id stays in the payload.
		pointID := id
		if _, err := uuid.Parse(pointID); err != nil {
			pointID = uuid.NewString()
		}

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID),
			Vectors: qdrant.NewVectors(vec...),
			Payload: payload,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, q.config.Timeout)
	defer cancel()
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.config.Collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	q.logger.Debug("passages indexed", zap.Int("count", len(points)))
	return nil
}

// SearchByVector returns the k nearest passages by cosine similarity.
func (q *QdrantIndex) SearchByVector(ctx context.Context, vector []float32, k int, filter corpus.FilterSpec) ([]corpus.ScoredPassage, error) {
	if k <= 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, q.config.Timeout)
	defer cancel()

	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.config.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         buildQdrantFilter(filter.Normalize()),
	})
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	out := make([]corpus.ScoredPassage, 0, len(points))
	for _, point := range points {
		p := passageFromPayload(point.Payload)
		out = append(out, corpus.ScoredPassage{Passage: p, Score: float64(point.Score)})
	}
	return out, nil
}

// SearchByText returns the k passages with the strongest term overlap,
// using Qdrant's full-text payload match as the candidate source.
func (q *QdrantIndex) SearchByText(ctx context.Context, text string, k int, filter corpus.FilterSpec) ([]corpus.ScoredPassage, error) {
	if k <= 0 {
		return nil, nil
	}
	query := termSet(text)
	if len(query) == 0 {
		return nil, nil
	}

	qf := buildQdrantFilter(filter.Normalize())
	if qf == nil {
		qf = &qdrant.Filter{}
	}
	qf.Must = append(qf.Must, &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   "content",
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Text{Text: text}},
			},
		},
	})

	ctx, cancel := context.WithTimeout(ctx, q.config.Timeout)
	defer cancel()

	points, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: q.config.Collection,
		Filter:         qf,
		Limit:          qdrant.PtrOf(uint32(k * 3)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	// Scroll returns in point-id order; rank by term overlap.
	scored := make([]corpus.ScoredPassage, 0, len(points))
	for _, point := range points {
		p := passageFromPayload(point.Payload)
		terms := termSet(p.Text)
		overlap := 0
		for term := range query {
			if terms[term] {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		scored = append(scored, corpus.ScoredPassage{
			Passage: p,
			Score:   float64(overlap) / float64(len(query)),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ChunkID() < scored[j].ChunkID()
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// Close closes the gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

// buildQdrantFilter maps a FilterSpec onto a Qdrant payload filter. All
// condition kinds translate natively; no client-side residue remains.
func buildQdrantFilter(filter corpus.FilterSpec) *qdrant.Filter {
	if len(filter) == 0 {
		return nil
	}
	conditions := make([]*qdrant.Condition, 0, len(filter))
	for key, cond := range filter {
		switch {
		case cond.Equals != "":
			conditions = append(conditions, qdrant.NewMatch(key, cond.Equals))
		case len(cond.In) > 0:
			conditions = append(conditions, &qdrant.Condition{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key: key,
						Match: &qdrant.Match{
							MatchValue: &qdrant.Match_Keywords{
								Keywords: &qdrant.RepeatedStrings{Strings: cond.In},
							},
						},
					},
				},
			})
		case cond.GTE != nil || cond.LTE != nil:
			conditions = append(conditions, &qdrant.Condition{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key:   key,
						Range: &qdrant.Range{Gte: cond.GTE, Lte: cond.LTE},
					},
				},
			})
		}
	}
	if len(conditions) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: conditions}
}

func passageFromPayload(payload map[string]*qdrant.Value) corpus.Passage {
	p := corpus.Passage{Metadata: make(map[string]any, len(payload))}
	for k, v := range payload {
		switch val := v.Kind.(type) {
		case *qdrant.Value_StringValue:
			if k == "content" {
				p.Text = val.StringValue
				continue
			}
			p.Metadata[k] = val.StringValue
		case *qdrant.Value_IntegerValue:
			p.Metadata[k] = val.IntegerValue
		case *qdrant.Value_DoubleValue:
			p.Metadata[k] = val.DoubleValue
		case *qdrant.Value_BoolValue:
			p.Metadata[k] = val.BoolValue
		}
	}
	return p
}
