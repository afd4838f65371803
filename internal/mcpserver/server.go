// Package mcpserver exposes the fragment index to agent clients as an MCP
// tool, alongside the plain HTTP retrieval endpoint.
package mcpserver

import (
	"context"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/capriai/capri-rag/internal/vectordb"
)

// Embedder turns query text into a vector using the same model as ingest.
type Embedder interface {
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// Searcher performs a top-k similarity query against the vector index.
type Searcher interface {
	Query(ctx context.Context, vector []float32, k int) ([]vectordb.Match, error)
}

// Server wraps the MCP server with its dependencies.
type Server struct {
	server *mcp.Server
}

// Config holds server dependencies.
type Config struct {
	Embedder Embedder
	Index    Searcher
	TopK     int
}

// NewServer creates a configured MCP server with the search tool
// registered.
func NewServer(cfg *Config) *Server {
	impl := &mcp.Implementation{
		Name:    "capri-content-server",
		Version: "v0.1.0",
	}

	server := mcp.NewServer(impl, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_content",
		Description: "Search indexed page content semantically. Returns fragment IDs, similarity scores and fragment text.",
	}, makeSearchHandler(cfg))

	return &Server{server: server}
}

// Run starts the server on stdio transport (blocks until the client
// disconnects).
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// HTTPHandler returns a Streamable HTTP handler for the MCP server,
// mountable on any mux path (e.g. "/mcp").
func (s *Server) HTTPHandler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return s.server
	}, &mcp.StreamableHTTPOptions{Stateless: true})
}

// SearchContentInput defines the input parameters for the search_content
// tool.
type SearchContentInput struct {
	// Query is the semantic search query.
	Query string `json:"query" jsonschema:"required,description=The semantic search query for finding relevant page content"`
	// MaxResults is the maximum number of fragments to return.
	MaxResults int `json:"max_results,omitempty" jsonschema:"minimum=1,maximum=20,default=5,description=Maximum number of fragments to return"`
}

// SearchContentOutput contains the search results.
type SearchContentOutput struct {
	// Results is the list of matching fragments, best first.
	Results []FragmentMatch `json:"results"`
	// Message provides informational context when there are no results.
	Message string `json:"message,omitempty"`
}

// FragmentMatch is one fragment returned by semantic search.
type FragmentMatch struct {
	// ID is the fragment identity (e.g. "example.com_docs__chunk3").
	ID string `json:"id"`
	// Score is the cosine similarity score.
	Score float64 `json:"score"`
	// Text is the fragment's text content.
	Text string `json:"text"`
}

// makeSearchHandler creates the search_content tool handler: embed the
// query, search the index, return matches in ranking order.
func makeSearchHandler(cfg *Config) func(
	context.Context, *mcp.CallToolRequest, SearchContentInput,
) (*mcp.CallToolResult, SearchContentOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SearchContentInput) (
		*mcp.CallToolResult, SearchContentOutput, error,
	) {
		if input.Query == "" {
			return nil, SearchContentOutput{}, fmt.Errorf("query must not be empty")
		}
		maxResults := input.MaxResults
		if maxResults <= 0 {
			maxResults = cfg.TopK
		}
		if maxResults <= 0 {
			maxResults = 5
		}

		embeddings, err := cfg.Embedder.GenerateEmbeddings(ctx, []string{input.Query})
		if err != nil {
			return nil, SearchContentOutput{}, fmt.Errorf("failed to embed query: %w", err)
		}
		if len(embeddings) == 0 {
			return nil, SearchContentOutput{}, fmt.Errorf("failed to embed query: no vector returned")
		}

		matches, err := cfg.Index.Query(ctx, embeddings[0], maxResults)
		if err != nil {
			return nil, SearchContentOutput{}, fmt.Errorf("search failed: %w", err)
		}

		results := make([]FragmentMatch, 0, len(matches))
		for _, match := range matches {
			text, _ := match.Metadata["text"].(string)
			results = append(results, FragmentMatch{
				ID:    match.ID,
				Score: match.Score,
				Text:  text,
			})
		}

		if len(results) == 0 {
			return nil, SearchContentOutput{
				Results: []FragmentMatch{},
				Message: "No matching fragments found. Try broader search terms.",
			}, nil
		}

		return nil, SearchContentOutput{Results: results}, nil
	}
}
