// Package vectordb wraps the Qdrant client for fragment vector storage and
// similarity search.
package vectordb

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// Index wraps a Qdrant collection with connection management and health
// checks.
type Index struct {
	client *qdrant.Client
	name   string
}

// Config holds the connection settings for the external index.
type Config struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
	Name   string
}

// NewIndex creates a Qdrant client and validates connectivity.
// It performs a health check with retry on startup and fails fast if the
// index is unreachable.
func NewIndex(cfg Config) (*Index, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	idx := &Index{
		client: client,
		name:   cfg.Name,
	}

	if err := idx.healthCheckWithRetry(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrIndexUnreachable, err)
	}

	return idx, nil
}

// healthCheckWithRetry performs the startup health check with exponential
// backoff. Initial interval 500ms, max interval 10s, max elapsed 30s.
func (idx *Index) healthCheckWithRetry(ctx context.Context) error {
	exponentialBackoff := backoff.NewExponentialBackOff()
	exponentialBackoff.InitialInterval = 500 * time.Millisecond
	exponentialBackoff.MaxInterval = 10 * time.Second
	exponentialBackoff.MaxElapsedTime = 30 * time.Second

	operation := func() error {
		return idx.Health(ctx)
	}

	return backoff.Retry(operation, backoff.WithContext(exponentialBackoff, ctx))
}

// Health performs a single health check against Qdrant.
func (idx *Index) Health(ctx context.Context) error {
	result, err := idx.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// EnsureIndex creates the collection with 1536-dimension cosine vectors if
// it does not exist yet. An existing collection is used as-is: dimension or
// metric mismatches surface as Qdrant errors on upsert. Idempotent.
func (idx *Index) EnsureIndex(ctx context.Context) error {
	collections, err := idx.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}

	for _, name := range collections {
		if name == idx.name {
			return nil
		}
	}

	err = idx.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: idx.name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     VectorDimension,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", idx.name, err)
	}

	return nil
}

// PointID derives the deterministic Qdrant point UUID for a fragment ID.
// Qdrant point IDs must be UUIDs or integers; the original string identity
// travels in the payload and re-upserts of the same fragment overwrite the
// same point.
func PointID(id string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(id)).String()
}

// Upsert pushes records into the index in batches. A failing batch aborts
// the run; batches already upserted remain committed in the index.
func (idx *Index) Upsert(ctx context.Context, records []Record, batchSize int) error {
	if batchSize <= 0 {
		batchSize = DefaultUpsertBatchSize
	}

	for i, record := range records {
		if len(record.Vector) != VectorDimension {
			return fmt.Errorf("%w: record %d (%s) has %d dimensions, expected %d",
				ErrDimensionMismatch, i, record.ID, len(record.Vector), VectorDimension)
		}
	}

	for i := 0; i < len(records); i += batchSize {
		end := min(i+batchSize, len(records))
		batch := records[i:end]

		points := make([]*qdrant.PointStruct, len(batch))
		for j, record := range batch {
			points[j] = &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(PointID(record.ID)),
				Vectors: qdrant.NewVectors(record.Vector...),
				Payload: qdrant.NewValueMap(map[string]any{
					"id":   record.ID,
					"text": record.Text,
				}),
			}
		}

		_, err := idx.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: idx.name,
			Points:         points,
		})
		if err != nil {
			return fmt.Errorf("failed to upsert batch %d-%d: %w", i, end, err)
		}
	}

	return nil
}

// Query performs a top-k similarity search and returns matches with payload
// metadata, preserving the index's descending-score order.
func (idx *Index) Query(ctx context.Context, vector []float32, k int) ([]Match, error) {
	if len(vector) != VectorDimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(vector), VectorDimension)
	}

	results, err := idx.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: idx.name,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query index: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, result := range results {
		payload := result.Payload

		id := payload["id"].GetStringValue()
		if id == "" {
			id = result.Id.GetUuid()
		}

		matches = append(matches, Match{
			ID:    id,
			Score: float64(result.Score),
			Metadata: map[string]any{
				"text": payload["text"].GetStringValue(),
			},
		})
	}

	return matches, nil
}

// Close closes the Qdrant client connection.
func (idx *Index) Close() error {
	if idx.client != nil {
		return idx.client.Close()
	}
	return nil
}
