package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"

	"github.com/zombor/bill-explainer/internal/analysis"
	"github.com/zombor/bill-explainer/internal/config"
	"github.com/zombor/bill-explainer/internal/engine"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, ff.ErrHelp) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if cfg.ShowVersion {
		fmt.Println(version)
		os.Exit(0)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Initialize engine based on type
	eng, err := newEngine(cfg)
	if err != nil {
		slog.Error("Failed to initialize engine", "engine", cfg.Engine, "error", err)
		os.Exit(1)
	}
	defer eng.Close()

	// Initialize store based on type
	store, err := newStore(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize store", "store", cfg.Store, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	service := analysis.NewServiceWithDeps(store, eng, engine.NewImageParser(cfg.MaxImageBytes()))

	var limiter *analysis.SlidingWindowLimiter
	if cfg.RateLimit > 0 {
		limiter = analysis.NewSlidingWindowLimiter(cfg.RateLimit, cfg.RateWindow(), nil)
		slog.Info("Rate limiting enabled", "limit", cfg.RateLimit, "window", cfg.RateWindow())
	}
	server := analysis.NewServer(service, analysis.ServerOptions{
		AllowedOrigins:    cfg.AllowedOrigins(),
		RateLimiter:       limiter,
		TrustProxyHeaders: cfg.TrustProxy,
	})

	// Start server in goroutine
	go func() {
		if err := server.Start(cfg.Addr()); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started",
		"address", fmt.Sprintf("http://localhost%s", cfg.Addr()),
		"version", version,
		"engine", cfg.Engine,
		"store", cfg.Store,
	)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Shutdown error", "error", err)
	}
}

func newEngine(cfg *config.Config) (engine.Engine, error) {
	switch cfg.Engine {
	case config.EngineGemini:
		slog.Info("Initializing Gemini engine...", "model", cfg.GeminiModel)
		return engine.NewGemini(cfg.GeminiKey, cfg.GeminiModel)
	case config.EngineOpenAI:
		slog.Info("Initializing OpenAI engine...", "model", cfg.OpenAIModel)
		return engine.NewOpenAI(cfg.OpenAIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL)
	case config.EngineOllama:
		slog.Info("Initializing Ollama engine...", "url", cfg.OllamaURL, "model", cfg.OllamaModel)
		return engine.NewOllama(cfg.OllamaURL, cfg.OllamaModel)
	default:
		return nil, fmt.Errorf("unknown engine %q", cfg.Engine)
	}
}

func newStore(ctx context.Context, cfg *config.Config) (analysis.Store, error) {
	switch cfg.Store {
	case config.StoreSupabase:
		slog.Info("Initializing Supabase store...")
		return analysis.NewSupabaseStore(cfg.StoreURL, cfg.StoreKey)
	case config.StorePostgres:
		slog.Info("Initializing Postgres store...")
		return analysis.OpenPostgres(ctx, cfg.StoreURL, analysis.DefaultPostgresOptions())
	case config.StoreBolt:
		slog.Info("Initializing BoltDB store...", "path", cfg.BoltPath)
		return analysis.NewBoltStore(cfg.BoltPath)
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}
