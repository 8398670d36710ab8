package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Provider    string
	Model       string
	Temperature float64
	MaxTokens   int
	BaseURL     string // Ollama server URL or OpenAI-compatible API base
	APIKey      string
}

func (c *ChatConfig) validate() error {
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max tokens cannot be negative")
	} else if c.MaxTokens == 0 {
		c.MaxTokens = 2000
	}
	return nil
}

// Completer is satisfied by every chat backend.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// NewCompleter builds the chat backend named by config.Provider.
func NewCompleter(config ChatConfig) (Completer, error) {
	switch config.Provider {
	case "", ProviderOllama:
		return NewWithConfig(config)
	case ProviderOpenAI:
		return NewOpenAIChat(config)
	}
	return nil, fmt.Errorf("unknown llm provider %q", config.Provider)
}

// ChatEngine is an engine that uses an LLM served by Ollama to answer prompts.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
}

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	if config.Model == "" {
		config.Model = "tinyllama"
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}

	llm, err := ollama.New(ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return NewWithModel(llm, config)
}

// NewWithModel wraps an already constructed langchaingo model.
func NewWithModel(model llms.Model, config ChatConfig) (*ChatEngine, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &ChatEngine{
		config: config,
		llm:    model,
	}, nil
}

// Complete sends a single prompt and returns the model's raw text.
func (ce *ChatEngine) Complete(ctx context.Context, prompt string) (string, error) {
	response, err := llms.GenerateFromSinglePrompt(ctx, ce.llm, prompt,
		llms.WithTemperature(ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("chat error: %w", err)
	}
	return response, nil
}
