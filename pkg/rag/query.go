package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/xhad/repoqa/internal/models"
)

// Ask answers question from the active index with a single model call.
func (s *Service) Ask(ctx context.Context, question string) (*models.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.index == nil {
		return nil, ErrNotReady
	}
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuery
	}

	vector, err := s.opts.Embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelInvocation, err)
	}

	results, err := s.index.Search(ctx, vector, s.opts.TopK)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %w", ErrPersistence, err)
	}

	passages := make([]string, len(results))
	for i, r := range results {
		passages[i] = r.Chunk.Content
	}

	prompt, err := s.prompt.Format(passages, question)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	s.logger.Debug("asking model", "question", question, "passages", len(passages))

	text, err := s.opts.Completer.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelInvocation, err)
	}

	return &models.Answer{Text: text, Sources: sources(results)}, nil
}

// sources lists the distinct source paths of results in rank order.
func sources(results []models.SearchResult) []string {
	seen := make(map[string]bool, len(results))
	var out []string
	for _, r := range results {
		if !seen[r.Chunk.SourcePath] {
			seen[r.Chunk.SourcePath] = true
			out = append(out, r.Chunk.SourcePath)
		}
	}
	return out
}
