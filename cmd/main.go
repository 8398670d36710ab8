package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/xhad/repoqa/internal/types"
	"github.com/xhad/repoqa/pkg/collector"
	cfgPkg "github.com/xhad/repoqa/pkg/config"
	"github.com/xhad/repoqa/pkg/fetcher"
	"github.com/xhad/repoqa/pkg/llm"
	"github.com/xhad/repoqa/pkg/processor"
	"github.com/xhad/repoqa/pkg/rag"
	"github.com/xhad/repoqa/pkg/store"
	"github.com/xhad/repoqa/server"
)

type Flags struct {
	ConfigPath string
	Mode       string
	RepoURL    string
	LogLevel   string
}

var urlRegex = regexp.MustCompile(`https?://[^\s]+`)

func main() {
	flags := parseFlags()

	if err := run(flags); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func parseFlags() Flags {
	var flags Flags

	flag.StringVar(&flags.ConfigPath, "config", "", "Path to config file")
	flag.StringVar(&flags.Mode, "mode", "serve", "Run mode: serve (HTTP API) or chat (interactive)")
	flag.StringVar(&flags.RepoURL, "repo", "", "Repository URL to index at startup")
	flag.StringVar(&flags.LogLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	flag.Parse()

	return flags
}

func run(flags Flags) error {
	// A missing .env file is normal.
	_ = godotenv.Load()

	cfg, err := cfgPkg.LoadConfig(flags.ConfigPath)
	if err != nil {
		return err
	}
	if flags.LogLevel != "" {
		cfg.Log.Level = flags.LogLevel
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("config: %s", e.Error())
		}
		return fmt.Errorf("invalid configuration (%d errors)", len(errs))
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var ui *progressUI
	if flags.Mode == "chat" {
		ui = &progressUI{}
	}

	indexStore, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	svc, err := buildService(cfg, indexStore, logger, ui)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn("failed to close index", "error", err)
		}
	}()

	if err := svc.Restore(ctx); err != nil {
		logger.Warn("saved index could not be loaded", "error", err)
	}

	if flags.RepoURL != "" {
		report, err := svc.Setup(ctx, flags.RepoURL)
		if err != nil {
			return err
		}
		logger.Info(rag.Summary(report))
	}

	switch flags.Mode {
	case "serve":
		return serve(ctx, svc, indexStore, cfg, logger)
	case "chat":
		return chat(ctx, svc)
	}
	return fmt.Errorf("unknown mode %q", flags.Mode)
}

func newLogger(cfg cfgPkg.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func buildStore(ctx context.Context, cfg *cfgPkg.Config) (types.IndexStore, func(), error) {
	switch cfg.Store.Backend {
	case "sqlite":
		return store.NewSQLiteStore(cfg.Store.Path), func() {}, nil
	case "pgvector":
		pg, err := store.NewPGVectorStore(ctx, store.VectorStoreConfig{
			ConnString: cfg.Store.URL,
			TableName:  cfg.Store.TableName,
			BatchSize:  cfg.Embedding.BatchSize,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize vector store: %w", err)
		}
		return pg, pg.Close, nil
	default:
		return store.NewFileStore(cfg.Store.Path), func() {}, nil
	}
}

func buildService(cfg *cfgPkg.Config, indexStore types.IndexStore, logger *slog.Logger, ui *progressUI) (*rag.Service, error) {
	embedderConfig := llm.EmbedderConfig{
		Provider:  cfg.Embedding.Provider,
		Model:     cfg.Embedding.Model,
		BaseURL:   cfg.Embedding.BaseURL,
		APIKey:    cfg.Embedding.APIKey,
		BatchSize: cfg.Embedding.BatchSize,
		RateLimit: cfg.Embedding.RateLimit,
		Logger:    logger,
	}
	if ui != nil {
		embedderConfig.OnBatch = ui.embedProgress
	}
	embedder, err := llm.NewEmbedderWithConfig(embedderConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	completer, err := llm.NewCompleter(llm.ChatConfig{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat engine: %w", err)
	}

	var token string
	if cfg.Fetcher.TokenEnv != "" {
		token = os.Getenv(cfg.Fetcher.TokenEnv)
	}

	opts := rag.Options{
		Fetcher: fetcher.NewWithConfig(fetcher.FetcherConfig{
			Depth:  cfg.Fetcher.Depth,
			Token:  token,
			Logger: logger,
		}),
		Collector: collector.NewWithConfig(collector.CollectorConfig{
			AllowedExtensions: cfg.Collector.AllowedExtensions,
			ExcludedDirs:      cfg.Collector.ExcludedDirs,
			ExcludedFiles:     cfg.Collector.ExcludedFiles,
			ExtractHTML:       cfg.Collector.ExtractHTML,
			Logger:            logger,
		}),
		Embedder:  embedder,
		Completer: completer,
		Store:     indexStore,
		Chunking: processor.ProcessorConfig{
			Strategy:     cfg.Processor.Strategy,
			ChunkSize:    cfg.Processor.ChunkSize,
			ChunkOverlap: cfg.Processor.ChunkOverlap,
		},
		WorkDir:        cfg.Fetcher.WorkDir,
		TopK:           cfg.Retrieval.TopK,
		Metric:         store.Metric(cfg.Retrieval.Metric),
		EmbeddingModel: embedder.Model(),
		Logger:         logger,
	}
	if ui != nil {
		opts.OnStateChange = ui.stateChanged
	}

	return rag.New(opts)
}

func serve(ctx context.Context, svc *rag.Service, indexStore types.IndexStore, cfg *cfgPkg.Config, logger *slog.Logger) error {
	config := server.Config{
		Host:   cfg.Server.Host,
		Port:   cfg.Server.Port,
		Logger: logger,
	}
	// Backends with a remote connection report it through /health.
	if p, ok := indexStore.(interface{ Ping(context.Context) error }); ok {
		config.HealthCheck = p.Ping
	}
	srv := server.New(svc, config)

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func chat(ctx context.Context, svc *rag.Service) error {
	color.Cyan("\nChat with your repository (paste a GitHub URL to index it, type 'exit' to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		query := strings.TrimSpace(scanner.Text())
		if strings.ToLower(query) == "exit" {
			break
		}
		if ctx.Err() != nil {
			return nil
		}

		if url := urlRegex.FindString(query); url != "" {
			color.Blue("\nIndexing %s", url)
			report, err := svc.Setup(ctx, url)
			if err != nil {
				color.Red("Failed to index repository: %v\n", err)
				continue
			}
			color.Green("✓ %s\n", rag.Summary(report))
			continue
		}

		responseSpinner := getSpinner(" Thinking...")
		answer, err := svc.Ask(ctx, query)
		_ = responseSpinner.Finish()
		fmt.Print("\r")

		switch {
		case errors.Is(err, rag.ErrNotReady):
			color.Yellow("The knowledge base is not ready. Paste a GitHub repository URL to get started.")
		case errors.Is(err, rag.ErrEmptyQuery):
			continue
		case err != nil:
			color.Red("Error: %v\n", err)
		default:
			assistantPrompt("\nAssistant: %s\n", answer.Text)
			if len(answer.Sources) > 0 {
				color.New(color.FgHiBlack).Printf("Sources: %s\n", strings.Join(answer.Sources, ", "))
			}
		}
	}

	return scanner.Err()
}
