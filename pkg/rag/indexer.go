package rag

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/xhad/repoqa/internal/models"
	"github.com/xhad/repoqa/pkg/collector"
	"github.com/xhad/repoqa/pkg/store"
)

// Setup rebuilds the index from the repository at repoURL. Any previous index
// is discarded before the fetch starts, so a failed run leaves the service
// with no index rather than a stale one.
func (s *Service) Setup(ctx context.Context, repoURL string) (*models.IndexReport, error) {
	repoURL = strings.TrimSpace(repoURL)
	if repoURL == "" {
		return nil, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	logger := s.logger.With("repo_url", repoURL)

	// The checkout is scratch space on every exit path.
	defer func() {
		if err := os.RemoveAll(s.opts.WorkDir); err != nil {
			logger.Warn("failed to remove working directory", "path", s.opts.WorkDir, "error", err)
		}
	}()

	fail := func(stage State, kind, err error) (*models.IndexReport, error) {
		s.setState(StateFailed)
		logger.Error("indexing failed", "stage", stage, "error", err)
		return nil, &StageError{Stage: stage, Kind: kind, Err: err}
	}

	s.setState(StateCleaning)
	s.dropIndex()
	if err := os.RemoveAll(s.opts.WorkDir); err != nil {
		return fail(StateCleaning, ErrFetch, err)
	}
	if err := s.opts.Store.Remove(ctx); err != nil {
		return fail(StateCleaning, ErrPersistence, err)
	}

	s.setState(StateFetching)
	if err := s.opts.Fetcher.Fetch(ctx, repoURL, s.opts.WorkDir); err != nil {
		return fail(StateFetching, ErrFetch, err)
	}

	s.setState(StateCollecting)
	result, err := s.opts.Collector.Collect(s.opts.WorkDir)
	if errors.Is(err, collector.ErrNoDocuments) {
		return fail(StateCollecting, ErrEmptyCorpus, err)
	}
	if err != nil {
		return fail(StateCollecting, ErrFetch, err)
	}
	logger.Info("collected documents",
		"documents", len(result.Documents),
		"skipped", len(result.Skipped),
		"decode_warnings", len(result.DecodeWarnings))

	s.setState(StateChunking)
	chunks, err := s.processor.Process(result.Documents)
	if err != nil {
		return fail(StateChunking, ErrConfig, err)
	}
	if len(chunks) == 0 {
		return fail(StateChunking, ErrEmptyCorpus, errors.New("documents produced no chunks"))
	}
	logger.Info("split documents", "chunks", len(chunks))

	s.setState(StateEmbedding)
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
	}
	vectors, err := s.opts.Embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fail(StateEmbedding, ErrModelInvocation, err)
	}
	idx, err := store.Build(chunks, vectors, s.opts.Metric)
	if err != nil {
		return fail(StateEmbedding, ErrModelInvocation, err)
	}
	idx.Model = s.opts.EmbeddingModel

	s.setState(StatePersisting)
	if err := s.opts.Store.Save(ctx, idx); err != nil {
		if rmErr := s.opts.Store.Remove(context.WithoutCancel(ctx)); rmErr != nil {
			logger.Warn("failed to remove partial index", "error", rmErr)
		}
		return fail(StatePersisting, ErrPersistence, err)
	}

	s.index = idx
	s.setState(StateReady)

	report := &models.IndexReport{
		RepoURL:        repoURL,
		Documents:      len(result.Documents),
		Chunks:         len(chunks),
		Skipped:        len(result.Skipped),
		DecodeWarnings: len(result.DecodeWarnings),
		Dimension:      idx.Dimension,
		Duration:       time.Since(start),
	}
	logger.Info("index ready",
		"documents", report.Documents,
		"chunks", report.Chunks,
		"dimension", report.Dimension,
		"duration", report.Duration)

	return report, nil
}

// Summary renders a one-line description of a finished run.
func Summary(r *models.IndexReport) string {
	return fmt.Sprintf("Indexed %d chunks from %d files in %s", r.Chunks, r.Documents, r.Duration.Round(time.Millisecond))
}
