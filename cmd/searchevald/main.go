package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evalx/searcheval/internal/adaptive"
	"github.com/evalx/searcheval/internal/auth"
	"github.com/evalx/searcheval/internal/cache"
	"github.com/evalx/searcheval/internal/cascade"
	"github.com/evalx/searcheval/internal/config"
	"github.com/evalx/searcheval/internal/embedder"
	"github.com/evalx/searcheval/internal/guardrails"
	"github.com/evalx/searcheval/internal/llm"
	"github.com/evalx/searcheval/internal/netx"
	"github.com/evalx/searcheval/internal/orchestrator"
	"github.com/evalx/searcheval/internal/pipeline"
	"github.com/evalx/searcheval/internal/provider"
	"github.com/evalx/searcheval/internal/reranker"
	"github.com/evalx/searcheval/internal/server"
)

func main() {
	// Set up structured logging
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("failed to run server", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting search evaluation service",
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
	)

	// Initialize the two-tier cache
	cacheMgr, err := cache.NewManager(cache.Config{
		MemoryItems: cfg.CacheMemoryItems,
		DiskBytes:   cfg.CacheDiskMB * 1024 * 1024,
		Dir:         cfg.CacheDir,
		TTL:         cfg.CacheTTL,
		Compress:    cfg.CacheCompress,
		EncryptKey:  cfg.CacheEncryptKey,
		Logger:      slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheMgr.Close()
	slog.Info("initialized cache", "dir", cfg.CacheDir)

	// Resilient HTTP client shared by providers and the reranker
	netClient := netx.NewClient(netx.ClientConfig{
		Timeout:          cfg.RequestTimeout,
		MaxRetries:       cfg.MaxRetries,
		BackoffFactor:    cfg.BackoffFactor,
		JitterMax:        cfg.JitterMax,
		BreakerThreshold: cfg.BreakerThreshold,
		BreakerTimeout:   cfg.BreakerTimeout,
		Logger:           slog.Default(),
	})

	// Search providers
	registry := provider.NewRegistry(
		provider.NewDuckDuckGo(netClient),
		provider.NewWikipedia(netClient),
		provider.NewStatic("static", nil),
	)
	slog.Info("registered providers", "names", registry.Names())

	// Embedder: remote token embeddings, or the deterministic local one
	var emb embedder.Embedder
	if cfg.EmbedderLocal {
		emb = embedder.NewHashEmbedder(0)
	} else {
		emb = embedder.NewOllamaEmbedder(embedder.OllamaConfig{
			BaseURL: cfg.EmbedderURL,
			Model:   cfg.EmbedderModel,
		})
	}
	slog.Info("initialized embedder", "model", emb.ModelName())

	// Rerank service client, hedged
	rr := reranker.NewHTTPReranker(netClient, cfg.RerankerURL,
		reranker.WithHedging(cfg.HedgeMaxInFlight, cfg.HedgeDelay))

	// LLM for the judge cascade and the supplemental protocols
	llmClient := llm.NewOllamaClient(
		llm.WithBaseURL(cfg.LLMURL),
		llm.WithModel(cfg.LLMModel),
	)
	slog.Info("initialized LLM", "model", cfg.LLMModel)

	// Judge cascade: heuristic first, LLM behind it
	judges := cascade.NewCascade(slog.Default(),
		cascade.NewHeuristicJudge(),
		cascade.NewLLMJudge(llmClient, cfg.LLMModel),
	)

	// Adaptive controller and guardrails
	controller := adaptive.NewController(slog.Default())
	guard := guardrails.NewManager(guardrails.Config{
		MaxQueryLength:    cfg.MaxQueryLength,
		MaxProviders:      cfg.MaxProviders,
		MaxResultsPerCall: cfg.MaxResultsPerCall,
		MaxProcessingTime: cfg.MaxProcessingTime,
		RequestsPerMinute: cfg.RequestsPerMinute,
		BreakerThreshold:  cfg.BreakerThreshold,
		BreakerTimeout:    cfg.BreakerTimeout,
	}, slog.Default())

	// Streaming pipeline
	pipe := pipeline.New(pipeline.Config{
		QueueSize:         cfg.QueueSize,
		SearchConcurrency: cfg.SearchConcurrency,
		EmbedConcurrency:  cfg.EmbedConcurrency,
		RerankConcurrency: cfg.RerankConcurrency,
		JudgeConcurrency:  cfg.JudgeConcurrency,
		PollInterval:      cfg.ResultPollInterval,
		Logger:            slog.Default(),
	}, registry, emb, rr, judges, cacheMgr)
	pipe.Start(ctx)
	defer pipe.Stop()

	// Synchronous orchestrator
	orch := orchestrator.New(registry, emb, rr, judges, controller, guard,
		cacheMgr, llmClient, cfg.LLMModel, slog.Default())

	// Auth
	jwtManager := auth.NewJWTManager(&auth.JWTConfig{
		Secret: cfg.JWTSecret,
		Expiry: cfg.JWTExpiry,
		Issuer: "searcheval",
	})
	authMW := auth.NewMiddleware(jwtManager, cfg.AdminAPIKey)

	// HTTP server
	httpServer := server.New(server.Config{
		Port:           cfg.HTTPPort,
		Logger:         slog.Default(),
		AllowedOrigins: []string{"*"}, // Configure in production
		AuthMiddleware: authMW,
		ResultTimeout:  cfg.ResultTimeout,
	}, orch, pipe, cacheMgr, judges, guard, controller)

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	}

	// Graceful shutdown
	slog.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown HTTP server", "error", err)
	}
	pipe.Stop()

	slog.Info("stopped")
	return nil
}

// Ensure interfaces are satisfied at compile time
var (
	_ embedder.Embedder = (*embedder.OllamaEmbedder)(nil)
	_ embedder.Embedder = (*embedder.HashEmbedder)(nil)
	_ reranker.Reranker = (*reranker.HTTPReranker)(nil)
	_ llm.LLM           = (*llm.OllamaClient)(nil)
	_ cascade.Judge     = (*cascade.HeuristicJudge)(nil)
	_ cascade.Judge     = (*cascade.LLMJudge)(nil)
)
