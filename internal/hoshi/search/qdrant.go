package search

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// Point is one stored vector with its payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]string
}

// ScoredPoint is a query match.
type ScoredPoint struct {
	ID      string
	Score   float32
	Payload map[string]string
}

// VectorStore is the subset of a vector database the index needs. Every
// query is filtered on a single payload field.
type VectorStore interface {
	EnsureCollection(ctx context.Context, dimensions int) error
	Upsert(ctx context.Context, p Point) error
	Delete(ctx context.Context, id string) error
	Query(ctx context.Context, vector []float32, field, value string, limit int) ([]ScoredPoint, error)
	Close() error
}

// QdrantConfig holds Qdrant connection settings.
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
}

// QdrantStore implements VectorStore on a Qdrant collection.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantStore connects to Qdrant. The gRPC connection is lazy.
func NewQdrantStore(cfg QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("search: qdrant host is required")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("search: qdrant collection is required")
	}
	port := cfg.Port
	if port == 0 {
		port = 6334
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("search: create qdrant client: %w", err)
	}
	return &QdrantStore{client: client, collection: cfg.Collection}, nil
}

// EnsureCollection creates the collection with cosine distance when missing.
func (s *QdrantStore) EnsureCollection(ctx context.Context, dimensions int) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("search: check collection %q: %w", s.collection, err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("search: create collection %q: %w", s.collection, err)
	}
	return nil
}

func (s *QdrantStore) Upsert(ctx context.Context, p Point) error {
	payload := make(map[string]any, len(p.Payload))
	for k, v := range p.Payload {
		payload[k] = v
	}
	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(payload),
		}},
	})
	if err != nil {
		return fmt.Errorf("search: upsert point: %w", err)
	}
	return nil
}

func (s *QdrantStore) Delete(ctx context.Context, id string) error {
	wait := true
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(id)),
	})
	if err != nil {
		return fmt.Errorf("search: delete point: %w", err)
	}
	return nil
}

func (s *QdrantStore) Query(ctx context.Context, vector []float32, field, value string, limit int) ([]ScoredPoint, error) {
	n := uint64(limit)
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &n,
		Filter:         &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch(field, value)}},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("search: query: %w", err)
	}

	out := make([]ScoredPoint, 0, len(points))
	for _, p := range points {
		sp := ScoredPoint{Score: p.Score, Payload: make(map[string]string, len(p.Payload))}
		if p.Id != nil {
			sp.ID = p.Id.GetUuid()
		}
		for k, v := range p.Payload {
			if str := v.GetStringValue(); str != "" {
				sp.Payload[k] = str
			}
		}
		out = append(out, sp)
	}
	return out, nil
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}

var _ VectorStore = (*QdrantStore)(nil)
