package processor

import (
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/textsplitter"
	"github.com/xhad/repoqa/internal/models"
)

const (
	StrategyFixed     = "fixed"
	StrategyRecursive = "recursive"
)

// ErrInvalidConfig is wrapped by every error returned from NewWithConfig.
var ErrInvalidConfig = errors.New("invalid chunking configuration")

type ProcessorConfig struct {
	Strategy     string
	ChunkSize    int
	ChunkOverlap int
}

type Processor struct {
	config   ProcessorConfig
	splitter textsplitter.TextSplitter
}

// NewWithConfig validates the chunking parameters up front so that a bad
// configuration is reported before any indexing work starts.
func NewWithConfig(config ProcessorConfig) (*Processor, error) {
	if config.Strategy == "" {
		config.Strategy = StrategyFixed
	}
	if config.ChunkSize < 1 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, config.ChunkSize)
	}
	if config.ChunkOverlap < 0 {
		return nil, fmt.Errorf("%w: chunk overlap must not be negative, got %d", ErrInvalidConfig, config.ChunkOverlap)
	}
	if config.ChunkSize <= config.ChunkOverlap {
		return nil, fmt.Errorf("%w: chunk size %d must exceed overlap %d", ErrInvalidConfig, config.ChunkSize, config.ChunkOverlap)
	}

	p := &Processor{config: config}

	switch config.Strategy {
	case StrategyFixed:
	case StrategyRecursive:
		p.splitter = textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(config.ChunkSize),
			textsplitter.WithChunkOverlap(config.ChunkOverlap),
		)
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, config.Strategy)
	}

	return p, nil
}

// Process splits every document into ordered chunks. Empty documents yield none.
func (p *Processor) Process(docs []models.Document) ([]models.Chunk, error) {
	var chunks []models.Chunk

	for _, doc := range docs {
		pieces, err := p.Split(doc.Content)
		if err != nil {
			return nil, fmt.Errorf("split %s: %w", doc.SourcePath, err)
		}

		for i, piece := range pieces {
			chunks = append(chunks, models.Chunk{
				SourcePath: doc.SourcePath,
				ChunkIndex: i,
				Content:    piece,
			})
		}
	}

	return chunks, nil
}

func (p *Processor) Split(text string) ([]string, error) {
	if text == "" {
		return nil, nil
	}

	if p.splitter != nil {
		return p.splitter.SplitText(text)
	}

	return splitFixed(text, p.config.ChunkSize, p.config.ChunkOverlap), nil
}

// splitFixed cuts text into windows of size runes, each starting
// size-overlap runes after the previous one, until the text is exhausted.
func splitFixed(text string, size, overlap int) []string {
	runes := []rune(text)
	step := size - overlap

	var chunks []string
	for start := 0; ; start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}

	return chunks
}

// ExpectedChunks returns how many windows the fixed strategy produces for a
// text of length runes.
func ExpectedChunks(length, size, overlap int) int {
	if length == 0 {
		return 0
	}
	if length <= overlap {
		return 1
	}
	step := size - overlap
	return (length - overlap + step - 1) / step
}
