// Package embedding generates fragment embeddings via the OpenAI API.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
)

const (
	// EmbeddingModel is the OpenAI model used for generating embeddings.
	// Query embeddings must use the same model as ingest or similarity
	// scores are meaningless.
	EmbeddingModel = "text-embedding-3-small"

	// EmbeddingDimension is the vector dimension for text-embedding-3-small.
	// This matches vectordb.VectorDimension (1536).
	EmbeddingDimension = 1536

	// DefaultBatchSize keeps per-request token counts low; fragments are up
	// to 3000 characters each.
	DefaultBatchSize = 16

	// maxAttempts bounds the retry loop for a single batch call.
	maxAttempts = 6

	// initialBackoff is the sleep before the first retry; it doubles on
	// each subsequent attempt.
	initialBackoff = 1 * time.Second
)

// Embedder generates embeddings for text batches using OpenAI's
// text-embedding-3-small model, retrying transient failures with
// exponential backoff.
type Embedder struct {
	client    openai.Client
	batchSize int

	embed       func(ctx context.Context, texts []string) ([][]float32, error)
	newSchedule func() backoff.BackOff
}

// NewEmbedder creates an embedder with an optional batch size. If batchSize
// is 0, DefaultBatchSize is used. It fails before any network call when the
// API key is missing.
func NewEmbedder(batchSize int) (*Embedder, error) {
	if os.Getenv("OPENAI_API_KEY") == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set: add it to the environment or .env")
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	e := &Embedder{
		// openai-go reads OPENAI_API_KEY from the environment itself
		client:      openai.NewClient(),
		batchSize:   batchSize,
		newSchedule: func() backoff.BackOff { return newRetrySchedule() },
	}
	e.embed = e.callAPI
	return e, nil
}

// BatchSize returns the configured batch size.
func (e *Embedder) BatchSize() int {
	return e.batchSize
}

// GenerateEmbeddings generates embeddings for the given texts, batching
// requests and retrying each batch on transient errors. Vectors are
// returned in input order.
func (e *Embedder) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	var allEmbeddings [][]float32

	for i := 0; i < len(texts); i += e.batchSize {
		end := min(i+e.batchSize, len(texts))
		batch := texts[i:end]

		embeddings, err := e.embedBatchWithRetry(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", i, end, err)
		}
		allEmbeddings = append(allEmbeddings, embeddings...)
	}

	return allEmbeddings, nil
}

// embedBatchWithRetry generates embeddings for a single batch.
// Rate limit and server errors are retried with exponential backoff
// starting at 1s and doubling, up to 6 attempts in total. Other errors are
// permanent and fail immediately.
func (e *Embedder) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var embeddings [][]float32

	operation := func() error {
		result, err := e.embed(ctx, texts)
		if err != nil {
			if isRetryableError(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		embeddings = result
		return nil
	}

	err := backoff.Retry(operation, backoff.WithMaxRetries(
		backoff.WithContext(e.newSchedule(), ctx), maxAttempts-1))
	return embeddings, err
}

// callAPI performs one embeddings request. The API returns vectors in input
// order, float64 per element.
func (e *Embedder) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model: EmbeddingModel,
	})
	if err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		vectors[i] = toFloat32(data.Embedding)
	}
	return vectors, nil
}

// newRetrySchedule builds the deterministic 1s, 2s, 4s... backoff used for
// embedding calls.
func newRetrySchedule() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 1 * time.Minute
	b.MaxElapsedTime = 0 // bounded by maxAttempts instead
	// The library requires Reset after changing settings; without it the
	// first interval stays at the constructor's 500ms default.
	b.Reset()
	return b
}

// isRetryableError reports whether the error is transient: a rate limit
// (HTTP 429) or a server-side failure. Authentication, quota and bad
// request errors are not retried.
func isRetryableError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

// toFloat32 converts []float64 to []float32.
// OpenAI returns float64, but the index stores float32.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
