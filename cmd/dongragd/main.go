package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/renux/dongrag/internal/admin"
	"github.com/renux/dongrag/internal/answer"
	"github.com/renux/dongrag/internal/config"
	"github.com/renux/dongrag/internal/corpus"
	"github.com/renux/dongrag/internal/dataset"
	"github.com/renux/dongrag/internal/embedder"
	"github.com/renux/dongrag/internal/history"
	"github.com/renux/dongrag/internal/ingest"
	"github.com/renux/dongrag/internal/llm"
	"github.com/renux/dongrag/internal/repository/sqlite"
	"github.com/renux/dongrag/internal/router"
	"github.com/renux/dongrag/internal/search"
	"github.com/renux/dongrag/internal/server"
	"github.com/renux/dongrag/internal/service"
	"github.com/renux/dongrag/internal/vectorstore"
)

func main() {
	ingestOnly := flag.Bool("ingest", false, "rebuild all corpora from the source CSVs and exit")
	flag.Parse()

	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(*ingestOnly); err != nil {
		slog.Error("failed to run server", "error", err)
		os.Exit(1)
	}
}

func run(ingestOnly bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting campus QA service",
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
	)

	store, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()
	slog.Info("opened sqlite database", "path", cfg.DatabasePath)

	vectors, err := vectorstore.NewQdrantStore(cfg.QdrantURL)
	if err != nil {
		return fmt.Errorf("failed to connect to qdrant: %w", err)
	}
	defer vectors.Close()
	slog.Info("connected to qdrant", "url", cfg.QdrantURL)

	embed := embedder.NewClient(embedder.Config{
		BaseURL:   cfg.EmbedBaseURL,
		Model:     cfg.EmbedModel,
		BatchSize: cfg.EmbedBatchSize,
		Dimension: cfg.EmbedDimension,
	})
	slog.Info("initialized embedder", "model", cfg.EmbedModel)

	llmClient := llm.NewOpenAIClient(llm.Config{
		BaseURL: cfg.LLMBaseURL,
		Model:   cfg.LLMModel,
		APIKey:  cfg.LLMAPIKey,
	})
	slog.Info("initialized LLM client", "model", cfg.LLMModel)

	pipeline := ingest.NewPipeline(cfg, store, vectors, embed, slog.Default())
	if ingestOnly {
		if err := pipeline.IngestAll(ctx); err != nil {
			return fmt.Errorf("ingestion failed: %w", err)
		}
		slog.Info("ingestion complete")
		return nil
	}

	datasets := dataset.NewManager(cfg.ChunksDir(), cfg.VectorizerDir(), pipeline.Rebuild, slog.Default())

	// Warm the dataset cache so the first question does not pay the load.
	// Missing source files are tolerated; those corpora stay unavailable.
	for _, key := range corpus.Keys() {
		if _, err := datasets.Ensure(ctx, key); err != nil {
			slog.Warn("corpus unavailable at startup", "corpus", key, "error", err)
		}
	}

	var hist history.Store
	if cfg.RedisURL != "" {
		hist, err = history.NewRedisStore(ctx, cfg.RedisURL, cfg.MaxHistory)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("using redis conversation store")
	} else {
		hist = history.NewMemoryStore(cfg.MaxHistory)
		slog.Info("using in-memory conversation store")
	}
	defer hist.Close()

	route, err := router.New(llmClient, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to create router: %w", err)
	}
	searcher := search.NewSearcher(datasets, vectors, embed, cfg.HybridAlpha)
	generator := answer.NewGenerator(llmClient, cfg.MaxContextLength, cfg.MaxHistory)
	askSvc := service.NewAskService(route, searcher, generator, hist, datasets, slog.Default(), cfg.DefaultTopK, cfg.RecencyWeight)
	moderator := admin.New(store, vectors, embed, datasets, slog.Default())

	httpServer := server.New(cfg.HTTPPort, askSvc, moderator, slog.Default())

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	}

	slog.Info("shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown HTTP server", "error", err)
	}

	slog.Info("server stopped")
	return nil
}
