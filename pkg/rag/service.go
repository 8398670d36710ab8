// Package rag ties fetching, collecting, chunking, embedding and retrieval
// together into an index that can answer questions about one repository.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/xhad/repoqa/internal/types"
	"github.com/xhad/repoqa/pkg/llm"
	"github.com/xhad/repoqa/pkg/processor"
	"github.com/xhad/repoqa/pkg/store"
)

// State is the lifecycle position of the index.
type State string

const (
	StateIdle       State = "idle"
	StateCleaning   State = "cleaning"
	StateFetching   State = "fetching"
	StateCollecting State = "collecting"
	StateChunking   State = "chunking"
	StateEmbedding  State = "embedding"
	StatePersisting State = "persisting"
	StateReady      State = "ready"
	StateFailed     State = "failed"
	StateRestoring  State = "restoring"
)

func (s State) String() string { return string(s) }

const DefaultTopK = 4

type Options struct {
	Fetcher   types.Fetcher
	Collector types.Collector
	Embedder  types.Embedder
	Completer types.Completer
	Store     types.IndexStore
	// Processor overrides the chunker built from Chunking.
	Processor types.Processor

	Chunking processor.ProcessorConfig
	// WorkDir receives the checkout. It is wiped before and after every run.
	WorkDir string
	TopK    int
	Metric  store.Metric
	// EmbeddingModel is recorded in the persisted index.
	EmbeddingModel string
	// PromptTemplate overrides the default question-answering template.
	PromptTemplate string

	// OnStateChange is called synchronously on every transition.
	OnStateChange func(State)
	Logger        *slog.Logger
}

// Service owns the single active index. Setup replaces it, Ask reads it.
type Service struct {
	opts      Options
	processor types.Processor
	prompt    *llm.Prompt
	logger    *slog.Logger

	mu    sync.RWMutex
	index store.Searcher
	state atomic.Value
}

func New(opts Options) (*Service, error) {
	switch {
	case opts.Fetcher == nil:
		return nil, fmt.Errorf("%w: fetcher is required", ErrConfig)
	case opts.Collector == nil:
		return nil, fmt.Errorf("%w: collector is required", ErrConfig)
	case opts.Embedder == nil:
		return nil, fmt.Errorf("%w: embedder is required", ErrConfig)
	case opts.Completer == nil:
		return nil, fmt.Errorf("%w: completer is required", ErrConfig)
	case opts.Store == nil:
		return nil, fmt.Errorf("%w: store is required", ErrConfig)
	case opts.WorkDir == "":
		return nil, fmt.Errorf("%w: work directory is required", ErrConfig)
	}

	if opts.TopK == 0 {
		opts.TopK = DefaultTopK
	}
	if opts.TopK < 0 {
		return nil, fmt.Errorf("%w: top_k must be positive, got %d", ErrConfig, opts.TopK)
	}

	metric, err := store.ParseMetric(string(opts.Metric))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	opts.Metric = metric

	proc := opts.Processor
	if proc == nil {
		p, err := processor.NewWithConfig(opts.Chunking)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfig, err)
		}
		proc = p
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	prompt := llm.NewPrompt(opts.PromptTemplate)
	if _, err := prompt.Format(nil, ""); err != nil {
		return nil, fmt.Errorf("%w: prompt template: %w", ErrConfig, err)
	}

	s := &Service{
		opts:      opts,
		processor: proc,
		prompt:    prompt,
		logger:    logger,
	}
	s.state.Store(StateIdle)
	return s, nil
}

func (s *Service) State() State {
	return s.state.Load().(State)
}

// Ready reports whether Ask can currently be answered.
func (s *Service) Ready() bool {
	return s.State() == StateReady
}

func (s *Service) setState(state State) {
	s.state.Store(state)
	s.logger.Debug("index state changed", "state", state)
	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(state)
	}
}

// Restore loads a previously persisted index so that answers survive a
// restart. A missing index leaves the service idle and is not an error.
func (s *Service) Restore(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dropIndex()
	s.setState(StateRestoring)

	searcher, err := s.opts.Store.Load(ctx)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Info("no saved index found")
		s.setState(StateIdle)
		return nil
	}
	if err != nil {
		s.setState(StateFailed)
		return &StageError{Stage: StateRestoring, Kind: ErrPersistence, Err: err}
	}

	s.index = searcher
	s.logger.Info("restored saved index", "chunks", searcher.Len())
	s.setState(StateReady)
	return nil
}

// Close releases the active index.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index == nil {
		return nil
	}
	err := s.index.Close()
	s.index = nil
	s.setState(StateIdle)
	return err
}

// dropIndex must be called with the write lock held.
func (s *Service) dropIndex() {
	if s.index == nil {
		return
	}
	if err := s.index.Close(); err != nil {
		s.logger.Warn("failed to close index", "error", err)
	}
	s.index = nil
}
