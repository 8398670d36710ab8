package store_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/repoqa/internal/models"
	"github.com/xhad/repoqa/pkg/store"
)

func getTestConfig(t *testing.T) store.VectorStoreConfig {
	connString := os.Getenv("REPOQA_TEST_DATABASE_URL")
	if connString == "" {
		t.Skip("REPOQA_TEST_DATABASE_URL not set")
	}
	return store.VectorStoreConfig{
		ConnString: connString,
		TableName:  "repoqa_test_chunks",
		BatchSize:  2,
	}
}

func TestPGVectorStore(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewPGVectorStore(ctx, getTestConfig(t))
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Remove(ctx))
	defer s.Remove(ctx)

	_, err = s.Load(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)

	idx := sampleIndex(t, store.Cosine)
	require.NoError(t, s.Save(ctx, idx))

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, idx.Len(), loaded.Len())

	results, err := loaded.Search(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "fox.txt", results[0].Chunk.SourcePath)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)

	// A second save replaces the first.
	other, err := store.Build(
		[]models.Chunk{{SourcePath: "other.md", Content: "other"}},
		[][]float32{{0, 0, 1}},
		store.L2,
	)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, other))

	loaded, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Len())

	results, err = loaded.Search(ctx, []float32{0, 0, 1}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "other.md", results[0].Chunk.SourcePath)
	assert.InDelta(t, 0.0, results[0].Score, 1e-5)

	require.NoError(t, s.Remove(ctx))
	_, err = s.Load(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
