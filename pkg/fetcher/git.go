// Package fetcher materializes a remote git repository on local disk.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
)

// ErrEmptyURL is returned when Fetch is called without a repository URL.
var ErrEmptyURL = errors.New("repository URL is required")

type FetcherConfig struct {
	// Depth limits the cloned history. Zero clones everything.
	Depth int
	// Token authenticates HTTPS clones of private repositories.
	Token  string
	Logger *slog.Logger
}

type GitFetcher struct {
	config FetcherConfig
	logger *slog.Logger
}

func NewWithConfig(config FetcherConfig) *GitFetcher {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &GitFetcher{config: config, logger: logger}
}

// Fetch clones url into dest. dest must not exist or be empty; a partial
// checkout is removed when the clone fails.
func (f *GitFetcher) Fetch(ctx context.Context, url, dest string) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return ErrEmptyURL
	}

	if err := os.MkdirAll(filepath.Dir(filepath.Clean(dest)), 0o755); err != nil {
		return fmt.Errorf("create parent of %s: %w", dest, err)
	}

	opts := &git.CloneOptions{
		URL:   url,
		Depth: f.config.Depth,
		Tags:  git.NoTags,
	}
	if f.config.Token != "" {
		opts.Auth = &http.BasicAuth{Username: "x-access-token", Password: f.config.Token}
	}

	f.logger.Info("cloning repository", "url", url, "dest", dest, "depth", f.config.Depth)
	if _, err := git.PlainCloneContext(ctx, dest, false, opts); err != nil {
		_ = os.RemoveAll(dest)
		return fmt.Errorf("clone %s: %w", url, err)
	}
	return nil
}
