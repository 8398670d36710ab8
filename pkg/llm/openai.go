package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	openai "github.com/sashabaranov/go-openai"
)

func newOpenAIClient(apiKey, baseURL string) (*openai.Client, error) {
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg), nil
}

// openAIEmbeddingClient adapts the OpenAI embeddings endpoint to the
// langchaingo EmbedderClient interface.
type openAIEmbeddingClient struct {
	client *openai.Client
	model  string
}

func newOpenAIEmbeddingClient(apiKey, baseURL, model string) (*openAIEmbeddingClient, error) {
	client, err := newOpenAIClient(apiKey, baseURL)
	if err != nil {
		return nil, err
	}
	return &openAIEmbeddingClient{client: client, model: model}, nil
}

func (c *openAIEmbeddingClient) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.model),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("OpenAI returned %d embeddings for %d texts", len(resp.Data), len(texts))
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	vectors := make([][]float32, len(data))
	for i, d := range data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// OpenAIChat completes prompts against any OpenAI-compatible chat endpoint.
type OpenAIChat struct {
	config ChatConfig
	client *openai.Client
}

func NewOpenAIChat(config ChatConfig) (*OpenAIChat, error) {
	if config.Model == "" {
		config.Model = openai.GPT4oMini
	}
	if err := config.validate(); err != nil {
		return nil, err
	}

	client, err := newOpenAIClient(config.APIKey, config.BaseURL)
	if err != nil {
		return nil, err
	}
	return &OpenAIChat{config: config, client: client}, nil
}

func (c *OpenAIChat) Complete(ctx context.Context, prompt string) (string, error) {
	// go-openai omits a zero temperature from the request, which the server
	// reads as its own default.
	temperature := float32(c.config.Temperature)
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: temperature,
		MaxTokens:   c.config.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat error: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}
