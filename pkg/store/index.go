// Package store builds, persists and searches chunk vector indexes.
package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/xhad/repoqa/internal/models"
)

var (
	// ErrNotFound means no saved index exists at the configured location.
	ErrNotFound = errors.New("vector store not found")
	// ErrCorrupt means something exists at the location but it is not a complete index.
	ErrCorrupt = errors.New("vector store corrupt")
)

// Metric is the similarity function used for both build and search.
type Metric string

const (
	Cosine Metric = "cosine"
	Dot    Metric = "dot"
	// L2 scores are negative euclidean distances so that higher is always closer.
	L2 Metric = "l2"
)

func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case Cosine, Dot, L2:
		return Metric(s), nil
	case "":
		return Cosine, nil
	}
	return "", fmt.Errorf("unknown metric %q", s)
}

// Searcher answers top-k similarity queries.
type Searcher interface {
	Search(ctx context.Context, query []float32, k int) ([]models.SearchResult, error)
	Len() int
	Close() error
}

// Index is an exact, in-memory vector index.
type Index struct {
	Chunks    []models.Chunk
	Vectors   [][]float32
	Dimension int
	Metric    Metric
	Model     string
	norms     []float32
}

// Build pairs chunks with their vectors. It fails on count or dimension mismatch.
func Build(chunks []models.Chunk, vectors [][]float32, metric Metric) (*Index, error) {
	if len(chunks) == 0 {
		return nil, errors.New("cannot build an empty index")
	}
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("chunks and vectors length mismatch: %d != %d", len(chunks), len(vectors))
	}
	metric, err := ParseMetric(string(metric))
	if err != nil {
		return nil, err
	}

	dim := len(vectors[0])
	if dim == 0 {
		return nil, errors.New("vectors must not be empty")
	}
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), dim)
		}
	}

	idx := &Index{
		Chunks:    chunks,
		Vectors:   vectors,
		Dimension: dim,
		Metric:    metric,
	}
	idx.prepare()
	return idx, nil
}

func (idx *Index) prepare() {
	idx.norms = make([]float32, len(idx.Vectors))
	for i, v := range idx.Vectors {
		idx.norms[i] = norm(v)
	}
}

func (idx *Index) Len() int { return len(idx.Chunks) }

func (idx *Index) Close() error { return nil }

// Search returns the k best matches by descending score. Equal scores keep
// insertion order.
func (idx *Index) Search(_ context.Context, query []float32, k int) ([]models.SearchResult, error) {
	if len(query) != idx.Dimension {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(query), idx.Dimension)
	}
	if k <= 0 {
		return nil, nil
	}
	if idx.norms == nil {
		idx.prepare()
	}

	qNorm := norm(query)
	results := make([]models.SearchResult, len(idx.Chunks))
	for i := range idx.Chunks {
		results[i] = models.SearchResult{
			Chunk: idx.Chunks[i],
			Score: idx.score(query, qNorm, i),
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

func (idx *Index) score(query []float32, qNorm float32, i int) float32 {
	v := idx.Vectors[i]
	switch idx.Metric {
	case Dot:
		return dot(query, v)
	case L2:
		var sum float64
		for j := range v {
			d := float64(query[j] - v[j])
			sum += d * d
		}
		return -float32(math.Sqrt(sum))
	default:
		if qNorm == 0 || idx.norms[i] == 0 {
			return 0
		}
		return dot(query, v) / (qNorm * idx.norms[i])
	}
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func norm(v []float32) float32 {
	return float32(math.Sqrt(float64(dot(v, v))))
}
