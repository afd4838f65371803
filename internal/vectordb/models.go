package vectordb

// VectorDimension is the embedding size for text-embedding-3-small.
const VectorDimension = 1536

// DefaultUpsertBatchSize is the number of points sent per upsert request.
const DefaultUpsertBatchSize = 100

// Record is one fragment vector to be upserted into the index.
type Record struct {
	ID     string
	Text   string
	Vector []float32
}

// Match is one similarity search result, in the index's ranking order.
type Match struct {
	ID       string
	Score    float64
	Metadata map[string]any
}
