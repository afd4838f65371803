package retriever

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capriai/capri-rag/internal/vectordb"
)

type fakeEmbedder struct {
	calls int
	fail  bool
	empty bool
}

func (f *fakeEmbedder) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("embedding unavailable")
	}
	if f.empty {
		return nil, nil
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = make([]float32, vectordb.VectorDimension)
	}
	return vectors, nil
}

type fakeIndex struct {
	calls     int
	lastK     int
	matches   []vectordb.Match
	unhealthy bool
}

func (f *fakeIndex) Query(ctx context.Context, vector []float32, k int) ([]vectordb.Match, error) {
	f.calls++
	f.lastK = k
	if len(f.matches) > k {
		return f.matches[:k], nil
	}
	return f.matches, nil
}

func (f *fakeIndex) Health(ctx context.Context) error {
	if f.unhealthy {
		return errors.New("connection refused")
	}
	return nil
}

func newTestServer(embedder *fakeEmbedder, index *fakeIndex) *httptest.Server {
	mux := http.NewServeMux()
	NewServer(embedder, index, 0, nil).Routes(mux)
	return httptest.NewServer(mux)
}

func TestRetrieve_EmptyQuery(t *testing.T) {
	embedder := &fakeEmbedder{}
	index := &fakeIndex{}
	srv := newTestServer(embedder, index)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/retrieve", "application/json", strings.NewReader(`{"q":"","k":5}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "missing 'q' parameter", body["error"])

	// Rejected before any embedding or index call.
	assert.Equal(t, 0, embedder.calls)
	assert.Equal(t, 0, index.calls)
}

func TestRetrieve_MissingBody(t *testing.T) {
	srv := newTestServer(&fakeEmbedder{}, &fakeIndex{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/retrieve", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRetrieve_ReturnsRankedResults(t *testing.T) {
	index := &fakeIndex{matches: []vectordb.Match{
		{ID: "site__chunk2", Score: 0.91, Metadata: map[string]any{"text": "best match"}},
		{ID: "site__chunk0", Score: 0.74, Metadata: map[string]any{"text": "second match"}},
	}}
	srv := newTestServer(&fakeEmbedder{}, index)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/retrieve", "application/json", strings.NewReader(`{"q":"what is capri"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body RetrieveResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	assert.Equal(t, "what is capri", body.Query)
	require.Len(t, body.Results, 2)
	// The index's ranking order is preserved.
	assert.Equal(t, "site__chunk2", body.Results[0].ID)
	assert.InDelta(t, 0.91, body.Results[0].Score, 1e-9)
	assert.Equal(t, "best match", body.Results[0].Metadata["text"])
	assert.Equal(t, "site__chunk0", body.Results[1].ID)

	// k omitted: the default of 5 is requested.
	assert.Equal(t, 5, index.lastK)
}

func TestRetrieve_ExplicitK(t *testing.T) {
	index := &fakeIndex{}
	srv := newTestServer(&fakeEmbedder{}, index)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/retrieve", "application/json", strings.NewReader(`{"q":"query","k":3}`))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, 3, index.lastK)
}

func TestRetrieve_MethodNotAllowed(t *testing.T) {
	srv := newTestServer(&fakeEmbedder{}, &fakeIndex{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/retrieve")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRetrieve_EmbedderFailure(t *testing.T) {
	embedder := &fakeEmbedder{fail: true}
	index := &fakeIndex{}
	srv := newTestServer(embedder, index)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/retrieve", "application/json", strings.NewReader(`{"q":"query"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, 0, index.calls)
}

func TestRetrieve_EmbedderReturnsNoVector(t *testing.T) {
	index := &fakeIndex{}
	srv := newTestServer(&fakeEmbedder{empty: true}, index)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/retrieve", "application/json", strings.NewReader(`{"q":"query"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	// An empty embedding response is an upstream failure, not a panic.
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, 0, index.calls)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(&fakeEmbedder{}, &fakeIndex{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "connected", body.Index)
}

func TestHealth_Unhealthy(t *testing.T) {
	srv := newTestServer(&fakeEmbedder{}, &fakeIndex{unhealthy: true})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
