package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"OLLAMA_BASE_URL", "OPENAI_BASE_URL", "OPENAI_API_KEY", "DATABASE_URL", "REPOQA_STORE_PATH", "PORT"} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig(t *testing.T) {
	clearEnv(t)

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configData := `
llm:
  base_url: "http://localhost:11434"
  model: "llama2"
  max_tokens: 1000
  temperature: 0.5

embedding:
  batch_size: 16
  rate_limit: 4

collector:
  allowed_extensions:
    - ".go"
    - ".md"
  excluded_dirs:
    - "vendor"
  extract_html: true

processor:
  chunk_size: 500
  chunk_overlap: 50

retrieval:
  top_k: 6
  metric: "l2"

store:
  backend: "sqlite"

server:
  port: 8081
`
	err := os.WriteFile(configPath, []byte(configData), 0644)
	require.NoError(t, err)

	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "ollama", config.LLM.Provider)
	assert.Equal(t, "llama2", config.LLM.Model)
	assert.Equal(t, 1000, config.LLM.MaxTokens)
	assert.Equal(t, 0.5, config.LLM.Temperature)
	assert.Equal(t, "http://localhost:11434", config.Embedding.BaseURL)
	assert.Equal(t, "nomic-embed-text:latest", config.Embedding.Model)
	assert.Equal(t, 16, config.Embedding.BatchSize)
	assert.Equal(t, 4.0, config.Embedding.RateLimit)
	assert.Equal(t, []string{".go", ".md"}, config.Collector.AllowedExtensions)
	assert.Equal(t, []string{"vendor"}, config.Collector.ExcludedDirs)
	assert.Equal(t, DefaultExcludedFiles, config.Collector.ExcludedFiles)
	assert.True(t, config.Collector.ExtractHTML)
	assert.Equal(t, 500, config.Processor.ChunkSize)
	assert.Equal(t, 50, config.Processor.ChunkOverlap)
	assert.Equal(t, 6, config.Retrieval.TopK)
	assert.Equal(t, "l2", config.Retrieval.Metric)
	assert.Equal(t, "vector_store.db", config.Store.Path)
	assert.Equal(t, 8081, config.Server.Port)
	assert.Empty(t, config.Validate())
}

func TestLoadConfigKeepsExplicitZeros(t *testing.T) {
	clearEnv(t)

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	configData := `
llm:
  temperature: 0

processor:
  chunk_size: 50
  chunk_overlap: 0

fetcher:
  depth: 0
`
	require.NoError(t, os.WriteFile(configPath, []byte(configData), 0644))

	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, 0.0, config.LLM.Temperature)
	assert.Equal(t, 50, config.Processor.ChunkSize)
	assert.Equal(t, 0, config.Processor.ChunkOverlap)
	assert.Equal(t, 0, config.Fetcher.Depth)
	assert.Empty(t, config.Validate())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm: [unclosed"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestDefaults(t *testing.T) {
	config := Default()

	assert.Equal(t, "fixed", config.Processor.Strategy)
	assert.Equal(t, 1000, config.Processor.ChunkSize)
	assert.Equal(t, 100, config.Processor.ChunkOverlap)
	assert.Equal(t, 0.7, config.LLM.Temperature)
	assert.Equal(t, 1, config.Fetcher.Depth)
	assert.Equal(t, 4, config.Retrieval.TopK)
	assert.Equal(t, "cosine", config.Retrieval.Metric)
	assert.Equal(t, "file", config.Store.Backend)
	assert.Equal(t, "vector_store", config.Store.Path)
	assert.Equal(t, "repo", config.Fetcher.WorkDir)
	assert.Equal(t, DefaultAllowedExtensions, config.Collector.AllowedExtensions)
	assert.Equal(t, DefaultExcludedDirs, config.Collector.ExcludedDirs)
	assert.Empty(t, config.Validate())
}

func TestOpenAIDefaults(t *testing.T) {
	config := &Config{LLM: LLMConfig{Provider: "openai", APIKey: "sk-test"}}
	applyDefaults(config)

	assert.Empty(t, config.LLM.BaseURL)
	assert.Equal(t, "openai", config.Embedding.Provider)
	assert.Equal(t, "text-embedding-3-small", config.Embedding.Model)
	assert.Equal(t, "sk-test", config.Embedding.APIKey)
	assert.Empty(t, config.Validate())
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name          string
		mutate        func(c *Config)
		errorMessages []string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name: "invalid config",
			mutate: func(c *Config) {
				c.LLM.Temperature = 3.0
				c.Processor.ChunkOverlap = c.Processor.ChunkSize
				c.Retrieval.TopK = 0
				c.Store.Backend = "redis"
			},
			errorMessages: []string{
				"llm.temperature: temperature must be between 0 and 2",
				"processor.chunk_overlap: chunk_overlap must be non-negative and less than chunk_size",
				"retrieval.top_k: top_k must be positive",
				"store.backend: unknown backend",
			},
		},
		{
			name: "pgvector needs a url and a safe table name",
			mutate: func(c *Config) {
				c.Store.Backend = "pgvector"
				c.Store.TableName = "chunks; drop table x"
			},
			errorMessages: []string{
				"store.url: database URL is required for pgvector",
				"store.table_name: table_name must be a plain SQL identifier",
			},
		},
		{
			name: "bad extension and metric",
			mutate: func(c *Config) {
				c.Collector.AllowedExtensions = []string{"go"}
				c.Retrieval.Metric = "hamming"
			},
			errorMessages: []string{
				"collector.allowed_extensions: invalid extension format: go",
				"retrieval.metric: unknown metric",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(config)

			errors := config.Validate()
			require.Len(t, errors, len(tt.errorMessages))
			for i, msg := range tt.errorMessages {
				assert.Contains(t, errors[i].Error(), msg)
			}
		})
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OLLAMA_BASE_URL", "http://env-ollama:11434")
	t.Setenv("DATABASE_URL", "postgres://env-db:5432/test")
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("PORT", "9090")

	config := &Config{}
	mergeWithEnv(config)

	assert.Equal(t, "http://env-ollama:11434", config.LLM.BaseURL)
	assert.Equal(t, "postgres://env-db:5432/test", config.Store.URL)
	assert.Equal(t, "sk-env", config.LLM.APIKey)
	assert.Equal(t, "sk-env", config.Embedding.APIKey)
	assert.Equal(t, 9090, config.Server.Port)
}
