// Package retriever exposes the similarity search over HTTP.
package retriever

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/capriai/capri-rag/internal/vectordb"
)

// DefaultTopK is the number of matches returned when the request omits k.
const DefaultTopK = 5

// Embedder turns query text into a vector using the same model as ingest.
type Embedder interface {
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// Searcher performs a top-k similarity query against the vector index.
type Searcher interface {
	Query(ctx context.Context, vector []float32, k int) ([]vectordb.Match, error)
	Health(ctx context.Context) error
}

// RetrieveRequest is the POST /retrieve body.
type RetrieveRequest struct {
	Q string `json:"q"`
	K int    `json:"k"`
}

// RetrieveResult is one ranked match in the response.
type RetrieveResult struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

// RetrieveResponse is the POST /retrieve response body.
type RetrieveResponse struct {
	Query   string           `json:"query"`
	Results []RetrieveResult `json:"results"`
}

// Server handles retrieval requests by embedding the query and searching
// the vector index.
type Server struct {
	embedder Embedder
	index    Searcher
	topK     int
	logger   *slog.Logger
}

// NewServer creates a retrieval server. If topK is 0, DefaultTopK is used.
func NewServer(embedder Embedder, index Searcher, topK int, logger *slog.Logger) *Server {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		embedder: embedder,
		index:    index,
		topK:     topK,
		logger:   logger,
	}
}

// Routes registers the retrieval endpoints on a mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/retrieve", s.handleRetrieve)
	mux.HandleFunc("/health", s.handleHealth)
}

// handleRetrieve embeds the query text and returns the top-k nearest
// fragments in the index's ranking order. An empty query is rejected
// before any embedding or index call.
func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req RetrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		req = RetrieveRequest{}
	}
	if req.Q == "" {
		writeError(w, http.StatusBadRequest, "missing 'q' parameter")
		return
	}
	k := req.K
	if k <= 0 {
		k = s.topK
	}

	embeddings, err := s.embedder.GenerateEmbeddings(r.Context(), []string{req.Q})
	if err != nil {
		s.logger.Error("Failed to embed query", "error", err)
		writeError(w, http.StatusBadGateway, fmt.Sprintf("embedding failed: %v", err))
		return
	}
	if len(embeddings) == 0 {
		s.logger.Error("Embedder returned no vector for query")
		writeError(w, http.StatusBadGateway, "embedding failed: no vector returned")
		return
	}

	matches, err := s.index.Query(r.Context(), embeddings[0], k)
	if err != nil {
		s.logger.Error("Index query failed", "error", err)
		writeError(w, http.StatusBadGateway, fmt.Sprintf("index query failed: %v", err))
		return
	}

	results := make([]RetrieveResult, 0, len(matches))
	for _, match := range matches {
		results = append(results, RetrieveResult{
			ID:       match.ID,
			Score:    match.Score,
			Metadata: match.Metadata,
		})
	}

	writeJSON(w, http.StatusOK, RetrieveResponse{Query: req.Q, Results: results})
}

// HealthResponse is the /health response body.
type HealthResponse struct {
	Status    string `json:"status"`
	Index     string `json:"index"`
	Timestamp string `json:"timestamp"`
}

// handleHealth reports index connectivity: 200 when reachable, 503 when not.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	response := HealthResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if err := s.index.Health(ctx); err != nil {
		response.Status = "unhealthy"
		response.Index = "disconnected"
		writeJSON(w, http.StatusServiceUnavailable, response)
		return
	}

	response.Status = "healthy"
	response.Index = "connected"
	writeJSON(w, http.StatusOK, response)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
