package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/repoqa/pkg/llm"
)

// fakeClient returns a vector of the given dimension whose first element is the
// text length.
type fakeClient struct {
	dim   int
	calls [][]string
	err   error
}

func (c *fakeClient) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	c.calls = append(c.calls, texts)
	if c.err != nil {
		return nil, c.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, c.dim)
		v[0] = float32(len(text))
		out[i] = v
	}
	return out, nil
}

func TestEmbedDocumentsBatches(t *testing.T) {
	client := &fakeClient{dim: 4}

	var progress [][2]int
	emb, err := llm.NewEmbedderWithClient(client, llm.EmbedderConfig{
		BatchSize: 2,
		OnBatch:   func(done, total int) { progress = append(progress, [2]int{done, total}) },
	})
	require.NoError(t, err)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vectors, err := emb.EmbedDocuments(context.Background(), texts)
	require.NoError(t, err)

	require.Len(t, vectors, len(texts))
	for i, v := range vectors {
		assert.Len(t, v, 4)
		assert.Equal(t, float32(len(texts[i])), v[0])
	}
	assert.Equal(t, [][2]int{{2, 5}, {4, 5}, {5, 5}}, progress)
	assert.Len(t, client.calls, 3)
}

func TestEmbedQuery(t *testing.T) {
	emb, err := llm.NewEmbedderWithClient(&fakeClient{dim: 3}, llm.EmbedderConfig{})
	require.NoError(t, err)

	v, err := emb.EmbedQuery(context.Background(), "fox")
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 0, 0}, v)
}

func TestEmbedderDetectsDimensionChange(t *testing.T) {
	client := &fakeClient{dim: 3}
	emb, err := llm.NewEmbedderWithClient(client, llm.EmbedderConfig{})
	require.NoError(t, err)

	_, err = emb.EmbedDocuments(context.Background(), []string{"one"})
	require.NoError(t, err)

	client.dim = 5
	_, err = emb.EmbedQuery(context.Background(), "two")
	assert.ErrorIs(t, err, llm.ErrDimensionMismatch)
}

func TestEmbedderPropagatesClientErrors(t *testing.T) {
	boom := errors.New("model not found")
	emb, err := llm.NewEmbedderWithClient(&fakeClient{err: boom}, llm.EmbedderConfig{})
	require.NoError(t, err)

	_, err = emb.EmbedDocuments(context.Background(), []string{"one"})
	assert.ErrorIs(t, err, boom)
}

func TestEmbedderHonoursCancelledContext(t *testing.T) {
	emb, err := llm.NewEmbedderWithClient(&fakeClient{dim: 2}, llm.EmbedderConfig{RateLimit: 0.001})
	require.NoError(t, err)

	// The first request consumes the only token.
	_, err = emb.EmbedQuery(context.Background(), "first")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = emb.EmbedQuery(ctx, "second")
	assert.Error(t, err)
}

func TestNewEmbedderWithConfig(t *testing.T) {
	emb, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{BaseURL: "http://localhost:1234"})
	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text:latest", emb.Model())

	_, err = llm.NewEmbedderWithConfig(llm.EmbedderConfig{Provider: "openai"})
	assert.Error(t, err)

	_, err = llm.NewEmbedderWithConfig(llm.EmbedderConfig{Provider: "cohere"})
	assert.Error(t, err)

	_, err = llm.NewEmbedderWithConfig(llm.EmbedderConfig{RateLimit: -1})
	assert.Error(t, err)
}

func TestOpenAIEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)

		// Answer out of order; the client must restore input order.
		type item struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, len(req.Input))
		for i, text := range req.Input {
			data[len(req.Input)-1-i] = item{Object: "embedding", Embedding: []float32{float32(len(text)), 1}, Index: i}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
		})
	}))
	defer srv.Close()

	emb, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Provider: "openai",
		APIKey:   "sk-test",
		BaseURL:  srv.URL + "/v1",
	})
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-3-small", emb.Model())

	vectors, err := emb.EmbedDocuments(context.Background(), []string{"a", "bbb"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 1}, {3, 1}}, vectors)
}
