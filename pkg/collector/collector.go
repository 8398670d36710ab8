// Package collector walks a checked-out repository and turns its text files
// into documents.
package collector

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/xhad/repoqa/internal/models"
)

// ErrNoDocuments is returned when a walk completes without collecting anything.
var ErrNoDocuments = errors.New("no valid documents found to index")

type CollectorConfig struct {
	AllowedExtensions []string
	ExcludedDirs      []string
	ExcludedFiles     []string
	// ExtractHTML replaces the markup of .html/.htm files with their main text.
	ExtractHTML bool
	Logger      *slog.Logger
}

type Collector struct {
	config        CollectorConfig
	excludedDirs  map[string]bool
	excludedFiles map[string]bool
	logger        *slog.Logger
}

// SkippedFile is a file that matched the filters but could not be read.
type SkippedFile struct {
	Path string
	Err  error
}

// DecodeError reports a file whose invalid UTF-8 bytes were dropped.
type DecodeError struct {
	Path         string
	DroppedBytes int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: dropped %d invalid UTF-8 bytes", e.Path, e.DroppedBytes)
}

type Result struct {
	Documents      []models.Document
	Skipped        []SkippedFile
	DecodeWarnings []*DecodeError
}

func NewWithConfig(config CollectorConfig) *Collector {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Collector{
		config:        config,
		excludedDirs:  toSet(config.ExcludedDirs),
		excludedFiles: toSet(config.ExcludedFiles),
		logger:        logger,
	}
}

// Collect walks root and returns one document per included, readable file.
// Excluded directories are pruned before descending. Files that cannot be read
// are skipped and logged; they never abort the walk.
func (c *Collector) Collect(root string) (*Result, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", root)
	}

	result := &Result{}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			c.logger.Warn("skipping unreadable path", "path", path, "error", walkErr)
			result.Skipped = append(result.Skipped, SkippedFile{Path: path, Err: walkErr})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path != root && c.excludedDirs[d.Name()] {
				return fs.SkipDir
			}
			return nil
		}

		if !c.shouldInclude(d.Name()) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		rel = filepath.ToSlash(rel)

		doc, decodeErr, err := c.load(path, rel)
		if err != nil {
			c.logger.Warn("skipped file", "path", rel, "error", err)
			result.Skipped = append(result.Skipped, SkippedFile{Path: rel, Err: err})
			return nil
		}
		if decodeErr != nil {
			c.logger.Warn("dropped invalid bytes", "path", rel, "bytes", decodeErr.DroppedBytes)
			result.DecodeWarnings = append(result.DecodeWarnings, decodeErr)
		}

		result.Documents = append(result.Documents, doc)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	if len(result.Documents) == 0 {
		return result, ErrNoDocuments
	}

	c.logger.Debug("collected documents",
		"documents", len(result.Documents),
		"skipped", len(result.Skipped),
		"decode_warnings", len(result.DecodeWarnings))

	return result, nil
}

func (c *Collector) shouldInclude(name string) bool {
	if c.excludedFiles[name] {
		return false
	}

	for _, ext := range c.config.AllowedExtensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

func (c *Collector) load(path, rel string) (models.Document, *DecodeError, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Document{}, nil, err
	}

	content, dropped := sanitizeUTF8(data)

	var decodeErr *DecodeError
	if dropped > 0 {
		decodeErr = &DecodeError{Path: rel, DroppedBytes: dropped}
	}

	if c.config.ExtractHTML && isHTML(rel) {
		text, err := extractHTMLText(content)
		if err != nil {
			c.logger.Warn("html extraction failed, keeping raw markup", "path", rel, "error", err)
		} else {
			content = text
		}
	}

	return models.Document{SourcePath: rel, Content: content}, decodeErr, nil
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}
