package types

import (
	"context"

	"github.com/xhad/repoqa/internal/models"
	"github.com/xhad/repoqa/pkg/collector"
	"github.com/xhad/repoqa/pkg/store"
)

// Core interfaces

type Fetcher interface {
	Fetch(ctx context.Context, url, dest string) error
}

type Collector interface {
	Collect(root string) (*collector.Result, error)
}

type Processor interface {
	Process(docs []models.Document) ([]models.Chunk, error)
}

type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type IndexStore interface {
	Save(ctx context.Context, idx *store.Index) error
	Load(ctx context.Context) (store.Searcher, error)
	Remove(ctx context.Context) error
}
