// Command server runs the TabGraph backend: the ingest API, the in-memory
// cluster engine, the SQLite knowledge graph, and the background enrichment
// worker.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"tabgraph-backend/interfaces/http/rest"
	"tabgraph-backend/internal/cluster"
	"tabgraph-backend/internal/config"
	"tabgraph-backend/internal/enrich"
	"tabgraph-backend/internal/extract"
	"tabgraph-backend/internal/graph/sqlite"
	"tabgraph-backend/internal/ingest"
	"tabgraph-backend/internal/llm"
	"tabgraph-backend/internal/metadata"
	"tabgraph-backend/internal/observability"
	"tabgraph-backend/internal/search"
	"tabgraph-backend/internal/viz"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	tracer, err := observability.InitTracing("tabgraph-backend", cfg.Tracing.Environment, cfg.Tracing.Endpoint)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}

	store, err := sqlite.Open(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("opening graph store: %w", err)
	}
	defer store.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	if cfg.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	llmClient := llm.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.EmbeddingModel,
		cfg.OpenAI.LLMModel, cfg.OpenAI.Timeout, logger)

	var searchClient *search.Client
	if cfg.Search.APIKey != "" {
		searchClient = search.NewClient(cfg.Search.APIKey, cfg.Search.BaseURL,
			cfg.Search.Timeout, logger)
	} else {
		logger.Warn("YOU_API_KEY not set; enrichment and recommendations disabled")
	}

	engine := cluster.NewEngine(store, cluster.NewNamer(llmClient, logger), cluster.Settings{
		SimilarityThreshold: cfg.Clustering.SimilarityThreshold,
		HybridThreshold:     cfg.Clustering.HybridThreshold,
		HybridWeight:        cfg.Clustering.HybridWeight,
		RenameThreshold:     cfg.Clustering.RenameThreshold,
	}, logger)

	watcher, err := config.NewWatcher(configPath, cfg, logger)
	if err != nil {
		logger.Warn("config hot reload unavailable", zap.Error(err))
	}
	if watcher != nil {
		defer watcher.Stop()
		watcher.OnReload(func(next *config.Config) {
			engine.UpdateSettings(cluster.Settings{
				SimilarityThreshold: next.Clustering.SimilarityThreshold,
				HybridThreshold:     next.Clustering.HybridThreshold,
				HybridWeight:        next.Clustering.HybridWeight,
				RenameThreshold:     next.Clustering.RenameThreshold,
			})
		})
	}

	var worker *enrich.Worker
	if searchClient != nil {
		enricher := enrich.NewEnricher(searchClient, cfg.Enrichment.MaxAttempts,
			cfg.Enrichment.BackoffBase, cfg.Enrichment.BackoffCap, logger)
		// The worker owns its store handle so background writes never
		// contend with a request-path transaction.
		factory := func() (enrich.Store, error) {
			return sqlite.Open(cfg.Database.Path, logger)
		}
		worker = enrich.NewWorker(factory, enricher, llmClient, cfg.Enrichment.CacheTTL, logger)
	}

	extractor := extract.NewExtractor(llmClient, 0, logger)
	provider := metadata.NewProvider(cfg.Metadata.Provider, llmClient, logger)
	summarizer := metadata.NewSummarizer(llmClient, logger)

	var enqueuer ingest.Enqueuer
	if worker != nil {
		enqueuer = worker
	}
	pipeline := ingest.NewPipeline(store, engine, llmClient, extractor, enqueuer,
		provider, summarizer, metrics, tracer, logger)
	assembler := viz.NewAssembler(engine, store, logger)

	var searcher rest.Searcher
	if searchClient != nil {
		searcher = searchClient
	}
	handler := rest.NewHandler(pipeline, engine, assembler, searcher, store, logger)
	router := rest.NewRouter(handler, rest.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if worker != nil {
		worker.Start(ctx)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	if worker != nil {
		worker.Stop()
	}
	if tracer != nil {
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Error("tracer shutdown", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		parsed = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}
