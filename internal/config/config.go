// Package config holds the process-wide pipeline configuration.
// It is built once at startup from the environment and passed to each
// component explicitly.
package config

import (
	"fmt"
	"os"
)

// Defaults for the chunking stage. Sizes are in characters, not tokens.
const (
	DefaultChunkSize    = 3000
	DefaultChunkOverlap = 600
)

// Config carries paths, tuning parameters and external service settings
// for every pipeline stage.
type Config struct {
	// Local files and directories shared between stages.
	SourcesFile    string // CSV source list with a "url" column
	RawDir         string // raw HTML snapshots
	ExtractedDir   string // cleaned plain-text documents
	ChunksDir      string // per-fragment JSON files
	EmbeddingsFile string // JSONL embedding records
	StateFile      string // filename -> SHA-256 map for change detection
	ChangelogFile  string // append-only change history

	// Chunking parameters.
	ChunkSize    int
	ChunkOverlap int

	// Batch sizes for the external services.
	EmbedBatchSize  int
	UpsertBatchSize int

	// Qdrant connection.
	QdrantHost   string
	QdrantPort   int
	QdrantAPIKey string
	QdrantUseTLS bool
	IndexName    string

	// Retrieval service.
	ListenAddr  string
	DefaultTopK int
}

// Load builds a Config from the environment, applying defaults for
// anything unset. It does not validate credentials; the clients that need
// them fail fast at construction time.
func Load() (*Config, error) {
	cfg := &Config{
		SourcesFile:    getEnv("CAPRI_SOURCES", "sources.csv"),
		RawDir:         getEnv("CAPRI_RAW_DIR", "raw_data"),
		ExtractedDir:   getEnv("CAPRI_EXTRACTED_DIR", "extracted"),
		ChunksDir:      getEnv("CAPRI_CHUNKS_DIR", "chunks"),
		EmbeddingsFile: getEnv("CAPRI_EMBEDDINGS_FILE", "embeddings/embeddings.jsonl"),
		StateFile:      getEnv("CAPRI_STATE_FILE", ".state_hashes.json"),
		ChangelogFile:  getEnv("CAPRI_CHANGELOG_FILE", "changelog.json"),

		ChunkSize:    getEnvInt("CAPRI_CHUNK_SIZE", DefaultChunkSize),
		ChunkOverlap: getEnvInt("CAPRI_CHUNK_OVERLAP", DefaultChunkOverlap),

		EmbedBatchSize:  getEnvInt("CAPRI_EMBED_BATCH_SIZE", 16),
		UpsertBatchSize: getEnvInt("CAPRI_UPSERT_BATCH_SIZE", 100),

		QdrantHost:   getEnv("QDRANT_HOST", "localhost"),
		QdrantPort:   getEnvInt("QDRANT_PORT", 6334),
		QdrantAPIKey: os.Getenv("QDRANT_API_KEY"),
		QdrantUseTLS: getEnv("QDRANT_USE_TLS", "false") == "true",
		IndexName:    getEnv("CAPRI_INDEX", "capri-index"),

		ListenAddr:  ":" + getEnv("PORT", "8080"),
		DefaultTopK: getEnvInt("CAPRI_TOP_K", 5),
	}

	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("chunk overlap %d must satisfy 0 <= overlap < size (%d)",
			cfg.ChunkOverlap, cfg.ChunkSize)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		var i int
		if _, err := fmt.Sscanf(v, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}
