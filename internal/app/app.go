package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"lorekeep/features/collections"
	"lorekeep/features/documents"
	"lorekeep/features/query"
	"lorekeep/features/stats"
	"lorekeep/internal/config"
	"lorekeep/internal/embedding"
	"lorekeep/internal/enrich"
	"lorekeep/internal/fts"
	"lorekeep/internal/ingest"
	"lorekeep/internal/llm"
	"lorekeep/internal/middleware"
	"lorekeep/internal/reranker"
	"lorekeep/internal/retrieval"
	"lorekeep/internal/vector"
)

// Database is the subset of *sql.DB the application needs at
// construction time. Repositories still require the concrete type.
type Database interface {
	Ping() error
	Close() error
}

// TaskPublisher pushes ingestion payloads onto the message queue.
// Satisfied by *nsq.Producer.
type TaskPublisher interface {
	Publish(topic string, body []byte) error
}

type App struct {
	Handler          http.Handler
	RetrievalService *retrieval.Service
	IngestConsumer   *ingest.Consumer

	port      int
	geminiGen *llm.GeminiGenerator
}

func New(
	cfg *config.Config,
	db Database,
	wClient *weaviate.Client,
	taskPub TaskPublisher,
	logger *slog.Logger,
) (*App, error) {

	// Cast db to *sql.DB for stores that require it.
	// This allows us to use interfaces in the signature (for mocking with sqlmock)
	// while maintaining compatibility with existing stores.
	sqlDB := db.(*sql.DB)

	// Stores
	registry := vector.NewRegistry(sqlDB)
	vecStore := vector.NewStore(wClient, registry)
	ftsStore := fts.NewStore(sqlDB)

	// Embedding pool, one rate limiter shared across providers
	limiter := embedding.NewRateLimiter(cfg.EmbedRateLimitCalls, time.Duration(cfg.EmbedRateLimitPeriod)*time.Second)
	pool := embedding.NewPool(embeddingFactory(cfg), limiter, cfg.EmbedMaxRetries, time.Second)

	// Generation backends
	var generators []llm.Generator
	var geminiGen *llm.GeminiGenerator
	if cfg.GeminiAPIKey != "" {
		g, err := llm.NewGeminiGenerator(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("gemini generator: %w", err)
		}
		geminiGen = g
		generators = append(generators, g)
	}
	if cfg.OpenAIAPIKey != "" {
		generators = append(generators, llm.NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel))
	}
	if cfg.LocalLLMURL != "" {
		generators = append(generators, llm.NewLocalGenerator(cfg.LocalLLMURL, "", cfg.LocalLLMModel))
	}
	llmRegistry := llm.NewRegistry(generators...)

	rerankClient := reranker.NewClient(cfg.RerankProvider, cfg.RerankAPIKey)

	// Feature: Retrieval
	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}

	retrievalService := retrieval.NewService(
		retrieval.NewVectorAdapter(vecStore, pool),
		retrieval.NewFullTextAdapter(ftsStore),
		retrieval.NewRerankerAdapter(rerankClient),
		llmRegistry,
		queryLogger,
		time.Duration(cfg.QueryTimeoutSeconds)*time.Second,
	)
	queryHandler := query.NewHandler(retrievalService)

	// Feature: Collections
	collectionsHandler := collections.NewHandler(vecStore)

	// Feature: Stats
	statsHandler := stats.NewHandler(vecStore, ftsStore)

	// Feature: Documents (async ingestion entry point)
	documentsHandler := documents.NewHandler(taskPub)

	// Ingestion consumer, chunk situating runs on the default backend
	var situate enrich.GenerateFunc
	if llmRegistry.Has(cfg.DefaultBackend) {
		backend := cfg.DefaultBackend
		situate = func(ctx context.Context, prompt, systemPrompt string) (string, error) {
			return llmRegistry.Generate(ctx, backend, llm.Request{Prompt: prompt, SystemPrompt: systemPrompt})
		}
	}
	pipeline := ingest.NewPipeline(pool, vecStore, ftsStore, situate, cfg.EnrichConcurrency)
	ingestConsumer := ingest.NewConsumer(pipeline)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /query", middleware.CorrelationID(enableCORS(queryHandler.Query)))

	mux.Handle("GET /collections", middleware.CorrelationID(enableCORS(collectionsHandler.List)))
	mux.Handle("GET /collections/{name}/count", middleware.CorrelationID(enableCORS(collectionsHandler.Count)))
	mux.Handle("DELETE /collections/{name}", middleware.CorrelationID(enableCORS(collectionsHandler.Delete)))

	mux.Handle("POST /documents", middleware.CorrelationID(enableCORS(documentsHandler.Enqueue)))

	mux.Handle("GET /stats", middleware.CorrelationID(enableCORS(statsHandler.GetStats)))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return &App{
		Handler:          mux,
		RetrievalService: retrievalService,
		IngestConsumer:   ingestConsumer,
		port:             cfg.ServerPort,
		geminiGen:        geminiGen,
	}, nil
}

// embeddingFactory builds providers on demand, keyed by the registry's
// (provider, model) pair. Credentials come from config. The local model
// server hosts a single model slot, so every local model shares one
// provider and switches the slot through a pinned view.
func embeddingFactory(cfg *config.Config) embedding.Factory {
	idle := time.Duration(cfg.LocalEmbedIdleSeconds) * time.Second
	var localMu sync.Mutex
	var local *embedding.LocalProvider
	return func(ctx context.Context, provider, model string) (embedding.Provider, error) {
		switch provider {
		case "gemini":
			return embedding.NewGeminiProvider(ctx, cfg.GeminiAPIKey, model)
		case "openai":
			return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, model), nil
		case "local":
			localMu.Lock()
			defer localMu.Unlock()
			if local == nil {
				local = embedding.NewLocalProvider(cfg.LocalEmbedURL, cfg.LocalEmbedAPIKey, cfg.LocalEmbedModel, idle)
			}
			if model == "" {
				model = cfg.LocalEmbedModel
			}
			return local.ForModel(model), nil
		default:
			return nil, fmt.Errorf("unknown embedding provider %q", provider)
		}
	}
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.port),
		Handler: a.Handler,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (a *App) Close() {
	if a.geminiGen != nil {
		if err := a.geminiGen.Close(); err != nil {
			slog.Warn("failed to close gemini generator", "error", err)
		}
	}
}
