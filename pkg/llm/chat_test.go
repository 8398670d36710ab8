package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/xhad/repoqa/pkg/llm"
)

type fakeModel struct {
	response string
	err      error
	prompts  []string
	options  llms.CallOptions
}

func (m *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	for _, opt := range options {
		opt(&m.options)
	}
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				m.prompts = append(m.prompts, text.Text)
			}
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: m.response}},
	}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func TestNewWithConfig(t *testing.T) {
	config := llm.ChatConfig{
		Model:       "testmodel",
		Temperature: 0.5,
		MaxTokens:   1000,
		BaseURL:     "http://localhost:1234",
	}
	engine, err := llm.NewWithConfig(config)
	assert.NoError(t, err)
	assert.NotNil(t, engine)
}

func TestNewWithConfigRejectsBadValues(t *testing.T) {
	_, err := llm.NewWithConfig(llm.ChatConfig{Temperature: 3})
	assert.Error(t, err)

	_, err = llm.NewWithConfig(llm.ChatConfig{Temperature: 0.5, MaxTokens: -1})
	assert.Error(t, err)
}

func TestComplete(t *testing.T) {
	model := &fakeModel{response: "The fox jumps over the dog."}
	engine, err := llm.NewWithModel(model, llm.ChatConfig{Temperature: 0.7})
	require.NoError(t, err)

	answer, err := engine.Complete(context.Background(), "What does the fox do?")
	require.NoError(t, err)

	assert.Equal(t, "The fox jumps over the dog.", answer)
	assert.Equal(t, []string{"What does the fox do?"}, model.prompts)
	assert.InDelta(t, 0.7, model.options.Temperature, 1e-9)
	assert.Equal(t, 2000, model.options.MaxTokens)
}

func TestCompleteWrapsModelErrors(t *testing.T) {
	boom := errors.New("connection refused")
	engine, err := llm.NewWithModel(&fakeModel{err: boom}, llm.ChatConfig{Temperature: 0.7})
	require.NoError(t, err)

	_, err = engine.Complete(context.Background(), "hello")
	assert.ErrorIs(t, err, boom)
}

func TestNewCompleter(t *testing.T) {
	c, err := llm.NewCompleter(llm.ChatConfig{Provider: "ollama", Temperature: 0.7})
	require.NoError(t, err)
	assert.IsType(t, &llm.ChatEngine{}, c)

	c, err = llm.NewCompleter(llm.ChatConfig{Provider: "openai", APIKey: "sk-test", Temperature: 0.7})
	require.NoError(t, err)
	assert.IsType(t, &llm.OpenAIChat{}, c)

	_, err = llm.NewCompleter(llm.ChatConfig{Provider: "openai", Temperature: 0.7})
	assert.Error(t, err)

	_, err = llm.NewCompleter(llm.ChatConfig{Provider: "bard"})
	assert.Error(t, err)
}

func TestOpenAIChatComplete(t *testing.T) {
	var request struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		MaxTokens   int     `json:"max_tokens"`
		Temperature float32 `json:"temperature"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "It jumps."}, "finish_reason": "stop"}]
		}`))
	}))
	defer srv.Close()

	chat, err := llm.NewOpenAIChat(llm.ChatConfig{
		APIKey:      "sk-test",
		BaseURL:     srv.URL + "/v1",
		Model:       "gpt-4o-mini",
		Temperature: 0.2,
		MaxTokens:   256,
	})
	require.NoError(t, err)

	answer, err := chat.Complete(context.Background(), "What does the fox do?")
	require.NoError(t, err)
	assert.Equal(t, "It jumps.", answer)

	assert.Equal(t, "gpt-4o-mini", request.Model)
	require.Len(t, request.Messages, 1)
	assert.Equal(t, "user", request.Messages[0].Role)
	assert.Equal(t, "What does the fox do?", request.Messages[0].Content)
	assert.Equal(t, 256, request.MaxTokens)
	assert.InDelta(t, 0.2, request.Temperature, 1e-6)
}

func TestOpenAIChatSendsZeroTemperature(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&raw)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices": [{"index": 0, "message": {"role": "assistant", "content": "ok"}}]}`))
	}))
	defer srv.Close()

	chat, err := llm.NewOpenAIChat(llm.ChatConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	_, err = chat.Complete(context.Background(), "hello")
	require.NoError(t, err)
	require.Contains(t, raw, "temperature")
	assert.InDelta(t, 0, raw["temperature"], 1e-6)
}

func TestOpenAIChatServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": {"message": "overloaded", "type": "server_error"}}`))
	}))
	defer srv.Close()

	chat, err := llm.NewOpenAIChat(llm.ChatConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1", Temperature: 0.2})
	require.NoError(t, err)

	_, err = chat.Complete(context.Background(), "hello")
	assert.Error(t, err)
}
