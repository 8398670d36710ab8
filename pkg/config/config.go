package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	APIKey      string  `yaml:"api_key"`
}

type EmbeddingConfig struct {
	Provider  string  `yaml:"provider"`
	BaseURL   string  `yaml:"base_url"`
	Model     string  `yaml:"model"`
	BatchSize int     `yaml:"batch_size"`
	RateLimit float64 `yaml:"rate_limit"`
	APIKey    string  `yaml:"api_key"`
}

type CollectorConfig struct {
	AllowedExtensions []string `yaml:"allowed_extensions"`
	ExcludedDirs      []string `yaml:"excluded_dirs"`
	ExcludedFiles     []string `yaml:"excluded_files"`
	ExtractHTML       bool     `yaml:"extract_html"`
}

type ProcessorConfig struct {
	Strategy     string `yaml:"strategy"`
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
}

type RetrievalConfig struct {
	TopK   int    `yaml:"top_k"`
	Metric string `yaml:"metric"`
}

type StoreConfig struct {
	Backend   string `yaml:"backend"`
	Path      string `yaml:"path"`
	URL       string `yaml:"url"`
	TableName string `yaml:"table_name"`
}

type FetcherConfig struct {
	WorkDir  string `yaml:"work_dir"`
	Depth    int    `yaml:"depth"`
	TokenEnv string `yaml:"token_env"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Collector CollectorConfig `yaml:"collector"`
	Processor ProcessorConfig `yaml:"processor"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Store     StoreConfig     `yaml:"store"`
	Fetcher   FetcherConfig   `yaml:"fetcher"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

var (
	DefaultAllowedExtensions = []string{
		".py", ".js", ".jsx", ".ts", ".tsx", ".html", ".css", ".scss", ".md",
		".java", ".cpp", ".h", ".c", ".cs", ".go", ".rs", ".php", ".rb", ".swift",
		".kt", ".kts", ".sh", ".yml", ".yaml", ".json", ".toml", ".ini", ".cfg",
	}
	DefaultExcludedDirs  = []string{".git", "node_modules", "venv", ".venv", "__pycache__", "dist", "build"}
	DefaultExcludedFiles = []string{"package-lock.json", "yarn.lock"}
)

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/repoqa/config.yaml"),
			"/etc/repoqa/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := newConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	mergeWithEnv(config)
	applyDefaults(config)

	return config, nil
}

func getDefaultConfig() (*Config, error) {
	config := newConfig()
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

// Default returns a config populated only with defaults, ignoring files and environment.
func Default() *Config {
	config := newConfig()
	applyDefaults(config)
	return config
}

// newConfig pre-fills the settings whose zero value is meaningful, so an
// explicit 0 in the file survives unmarshalling.
func newConfig() *Config {
	return &Config{
		LLM:       LLMConfig{Temperature: 0.7},
		Processor: ProcessorConfig{ChunkOverlap: 100},
		Fetcher:   FetcherConfig{Depth: 1},
	}
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = "ollama"
	}
	if config.LLM.Model == "" {
		config.LLM.Model = "tinyllama"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.BaseURL == "" && config.LLM.Provider == "ollama" {
		config.LLM.BaseURL = "http://localhost:11434"
	}

	if config.Embedding.Provider == "" {
		config.Embedding.Provider = config.LLM.Provider
	}
	if config.Embedding.BaseURL == "" && config.Embedding.Provider == config.LLM.Provider {
		config.Embedding.BaseURL = config.LLM.BaseURL
	}
	if config.Embedding.APIKey == "" && config.Embedding.Provider == config.LLM.Provider {
		config.Embedding.APIKey = config.LLM.APIKey
	}
	if config.Embedding.Model == "" {
		if config.Embedding.Provider == "openai" {
			config.Embedding.Model = "text-embedding-3-small"
		} else {
			config.Embedding.Model = "nomic-embed-text:latest"
		}
	}
	if config.Embedding.BatchSize == 0 {
		config.Embedding.BatchSize = 100
	}

	if len(config.Collector.AllowedExtensions) == 0 {
		config.Collector.AllowedExtensions = append([]string(nil), DefaultAllowedExtensions...)
	}
	if config.Collector.ExcludedDirs == nil {
		config.Collector.ExcludedDirs = append([]string(nil), DefaultExcludedDirs...)
	}
	if config.Collector.ExcludedFiles == nil {
		config.Collector.ExcludedFiles = append([]string(nil), DefaultExcludedFiles...)
	}

	if config.Processor.Strategy == "" {
		config.Processor.Strategy = "fixed"
	}
	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 1000
	}

	if config.Retrieval.TopK == 0 {
		config.Retrieval.TopK = 4
	}
	if config.Retrieval.Metric == "" {
		config.Retrieval.Metric = "cosine"
	}

	if config.Store.Backend == "" {
		config.Store.Backend = "file"
	}
	if config.Store.Path == "" {
		switch config.Store.Backend {
		case "sqlite":
			config.Store.Path = "vector_store.db"
		default:
			config.Store.Path = "vector_store"
		}
	}
	if config.Store.TableName == "" {
		config.Store.TableName = "repoqa_chunks"
	}

	if config.Fetcher.WorkDir == "" {
		config.Fetcher.WorkDir = "repo"
	}

	if config.Server.Port == 0 {
		config.Server.Port = 5000
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" && config.LLM.Provider != "openai" {
		config.LLM.BaseURL = baseURL
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" && config.LLM.Provider == "openai" {
		config.LLM.BaseURL = baseURL
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if config.LLM.APIKey == "" {
			config.LLM.APIKey = key
		}
		if config.Embedding.APIKey == "" {
			config.Embedding.APIKey = key
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Store.URL = dbURL
	}
	if storePath := os.Getenv("REPOQA_STORE_PATH"); storePath != "" {
		config.Store.Path = storePath
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
}
