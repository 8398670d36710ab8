package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"golang.org/x/time/rate"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// ErrDimensionMismatch is returned when a provider answers with vectors of
// different lengths.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

type EmbedderConfig struct {
	Provider  string
	Model     string
	BaseURL   string // Ollama server URL or OpenAI-compatible API base
	APIKey    string
	BatchSize int
	// RateLimit caps embedding requests per second. Zero means unlimited.
	RateLimit float64
	// OnBatch is called after every batch with the number of texts embedded so far.
	OnBatch func(done, total int)
	Logger  *slog.Logger
}

// Embedder turns chunk texts and questions into vectors.
type Embedder struct {
	config    EmbedderConfig
	embedder  embeddings.Embedder
	limiter   *rate.Limiter
	logger    *slog.Logger
	dimension atomic.Int64
}

func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	if config.Provider == "" {
		config.Provider = ProviderOllama
	}

	var client embeddings.EmbedderClient
	switch config.Provider {
	case ProviderOllama:
		if config.Model == "" {
			config.Model = "nomic-embed-text:latest"
		}
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434"
		}
		emb, err := ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ollama embedder: %w", err)
		}
		client = emb
	case ProviderOpenAI:
		if config.Model == "" {
			config.Model = "text-embedding-3-small"
		}
		emb, err := newOpenAIEmbeddingClient(config.APIKey, config.BaseURL, config.Model)
		if err != nil {
			return nil, err
		}
		client = emb
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", config.Provider)
	}

	return NewEmbedderWithClient(client, config)
}

// NewEmbedderWithClient wraps any langchaingo embedding client.
func NewEmbedderWithClient(client embeddings.EmbedderClient, config EmbedderConfig) (*Embedder, error) {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.RateLimit < 0 {
		return nil, fmt.Errorf("rate limit cannot be negative")
	}

	emb, err := embeddings.NewEmbedder(client,
		embeddings.WithBatchSize(config.BatchSize),
		embeddings.WithStripNewLines(false),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Embedder{
		config:   config,
		embedder: emb,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger,
	}, nil
}

func (e *Embedder) Model() string { return e.config.Model }

// EmbedDocuments embeds texts in batches and returns one vector per text in
// input order.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}

		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		batch, err := e.embedder.EmbedDocuments(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("embed batch %d-%d: got %d vectors for %d texts", start, end, len(batch), end-start)
		}
		for i, v := range batch {
			if err := e.checkDimension(v); err != nil {
				return nil, fmt.Errorf("text %d: %w", start+i, err)
			}
		}
		vectors = append(vectors, batch...)

		e.logger.Debug("embedded batch", "done", end, "total", len(texts))
		if e.config.OnBatch != nil {
			e.config.OnBatch(end, len(texts))
		}
	}

	return vectors, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	v, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if err := e.checkDimension(v); err != nil {
		return nil, err
	}
	return v, nil
}

// checkDimension pins the dimension to the first vector seen. A provider that
// later changes length is reported instead of silently mixing sizes.
func (e *Embedder) checkDimension(v []float32) error {
	if len(v) == 0 {
		return fmt.Errorf("%w: empty vector", ErrDimensionMismatch)
	}
	e.dimension.CompareAndSwap(0, int64(len(v)))
	if want := e.dimension.Load(); int64(len(v)) != want {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), want)
	}
	return nil
}
