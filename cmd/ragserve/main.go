package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lumora-cloud/ragserve/internal/config"
	"github.com/lumora-cloud/ragserve/internal/db"
	dbRedis "github.com/lumora-cloud/ragserve/internal/db/redis"
	"github.com/lumora-cloud/ragserve/internal/domain"
	logpkg "github.com/lumora-cloud/ragserve/internal/logger"
	"github.com/lumora-cloud/ragserve/internal/metrics"
	"github.com/lumora-cloud/ragserve/internal/repository/embcache"
	fragmentrepo "github.com/lumora-cloud/ragserve/internal/repository/fragment"
	historyrepo "github.com/lumora-cloud/ragserve/internal/repository/history"
	chiTransport "github.com/lumora-cloud/ragserve/internal/transport/chi"
	openaiTransport "github.com/lumora-cloud/ragserve/internal/transport/openai"
	answeruc "github.com/lumora-cloud/ragserve/internal/usecase/answer"
	embeddinguc "github.com/lumora-cloud/ragserve/internal/usecase/embedding"
	expanduc "github.com/lumora-cloud/ragserve/internal/usecase/expand"
	healthuc "github.com/lumora-cloud/ragserve/internal/usecase/health"
	ingestuc "github.com/lumora-cloud/ragserve/internal/usecase/ingest"
	"github.com/lumora-cloud/ragserve/internal/version"
)

func main() {
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting ragserve API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("db_addrs", cfg.Database.Addrs),
	)

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Password: cfg.Database.Password,
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterGenerationMetrics()
	metrics.RegisterRetrievalMetrics()

	// Embedder chain — composition root
	vecDefaults := domain.DefaultVectorConfig()
	docInstruction := cfg.Embedding.DocumentInstruction
	if docInstruction == "" {
		docInstruction = vecDefaults.DocumentInstruction
	}
	queryInstruction := cfg.Embedding.QueryInstruction
	if queryInstruction == "" {
		queryInstruction = vecDefaults.QueryInstruction
	}
	docEmbedder := buildEmbedder(cfg, docInstruction, store, logger)
	queryEmbedder := buildEmbedder(cfg, queryInstruction, store, logger)
	logger.Info("Embedders created",
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	generator := openaiTransport.NewGenerator(&openaiTransport.GeneratorConfig{
		APIKey:      cfg.Generation.APIKey,
		BaseURL:     cfg.Generation.BaseURL,
		Model:       cfg.Generation.Model,
		Temperature: cfg.Generation.Temperature,
		MaxTokens:   cfg.Generation.MaxTokens,
		Timeout:     time.Duration(cfg.Generation.TimeoutSec) * time.Second,
		Logger:      logger,
	})

	// Repositories
	fragRepo := fragmentrepo.New(store, cfg.Storage.KeyPrefix, cfg.Embedding.Dimensions,
		fragmentrepo.HNSWConfig{M: 16, EFConstruct: 200})
	if err := fragRepo.EnsureIndex(ctx); err != nil {
		logger.Fatal("Failed to ensure vector index", zap.Error(err))
	}
	histRepo := historyrepo.New(store, cfg.Storage.KeyPrefix,
		cfg.History.MaxTurns, time.Duration(cfg.History.TTLSec)*time.Second)

	// Snapshot provider per configured mode
	var snapshots answeruc.SnapshotProvider
	switch cfg.Retrieval.SnapshotMode {
	case "cached":
		snapshots = answeruc.NewCachedSnapshots(fragRepo,
			time.Duration(cfg.Retrieval.SnapshotTTLSec)*time.Second)
	default:
		snapshots = answeruc.NewPerRequestSnapshots(fragRepo)
	}

	// Use case services
	expander := expanduc.New(generator, logger)
	answerSvc, err := answeruc.New(snapshots, fragRepo, queryEmbedder, generator, expander,
		answeruc.Config{
			TopK:         cfg.Retrieval.TopK,
			FanOutFactor: cfg.Retrieval.FanOutFactor,
			RRFK:         cfg.Retrieval.RRFK,
		}, logger)
	if err != nil {
		logger.Fatal("Failed to create answer service", zap.Error(err))
	}

	ingestSvc := ingestuc.New(fragRepo, newBatchEmbedder(docEmbedder), answerSvc,
		ingestuc.NewSplitter(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap), logger)

	healthSvc := healthuc.New(store,
		newProviderHealthChecker(docEmbedder), generator)

	server := chiTransport.NewServer(answerSvc, ingestSvc, fragRepo, histRepo, healthSvc,
		chiTransport.Options{MaxUploadMB: cfg.Ingest.MaxUploadMB}, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Register(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// buildEmbedder assembles the decorator chain: OpenAI -> Cached -> Instrumented -> Instruction
func buildEmbedder(
	cfg config.Config,
	instruction string,
	store db.Store,
	logger *zap.Logger,
) domain.Embedder {
	// Base provider (with transport metrics built-in)
	base := openaiTransport.NewEmbedder(&openaiTransport.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Timeout:    time.Duration(cfg.Embedding.TimeoutSec) * time.Second,
		Logger:     logger,
	})

	// Cached
	var embedder domain.Embedder = base
	if store != nil {
		embedder = embcache.New(base, store, cfg.Storage.KeyPrefix, metrics.EmbeddingCacheTotal, logger)
	}

	// Instrumented (logging + batch chunking)
	embedder = embeddinguc.NewInstrumentedEmbedder(embedder, cfg.Embedding.Model, logger)

	// Instruction prefix (outermost — cache key includes instruction)
	if instruction != "" {
		return domain.NewInstructionEmbedder(embedder, instruction)
	}

	return embedder
}

// batchEmbedder adapts domain.Embedder to the ingestion batch contract,
// using native batch support when the chain provides it.
type batchEmbedder struct {
	inner domain.Embedder
}

func newBatchEmbedder(inner domain.Embedder) *batchEmbedder {
	return &batchEmbedder{inner: inner}
}

func (b *batchEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if be, ok := b.inner.(domain.BatchEmbedder); ok {
		return be.BatchEmbed(ctx, texts)
	}
	return domain.BatchFallback(ctx, b.inner, texts)
}

// providerHealthChecker wraps domain.Embedder to implement health.ProviderChecker.
type providerHealthChecker struct {
	embedder domain.Embedder
}

func newProviderHealthChecker(embedder domain.Embedder) *providerHealthChecker {
	return &providerHealthChecker{embedder: embedder}
}

func (h *providerHealthChecker) HealthCheck(ctx context.Context) error {
	if hc, ok := h.embedder.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding health check: %w", err)
		}
	}
	return nil
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
