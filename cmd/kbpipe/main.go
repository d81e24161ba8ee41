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

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/kailas-cloud/kbpipe/internal/chunk"
	"github.com/kailas-cloud/kbpipe/internal/config"
	logpkg "github.com/kailas-cloud/kbpipe/internal/logger"
	"github.com/kailas-cloud/kbpipe/internal/metrics"
	"github.com/kailas-cloud/kbpipe/internal/retry"
	storeRedis "github.com/kailas-cloud/kbpipe/internal/store/redis"
	chiTransport "github.com/kailas-cloud/kbpipe/internal/transport/chi"
	openaiEmb "github.com/kailas-cloud/kbpipe/internal/transport/openai"
	sparseEmb "github.com/kailas-cloud/kbpipe/internal/transport/sparse"
	healthuc "github.com/kailas-cloud/kbpipe/internal/usecase/health"
	ingestuc "github.com/kailas-cloud/kbpipe/internal/usecase/ingest"
	searchuc "github.com/kailas-cloud/kbpipe/internal/usecase/search"
	upsertuc "github.com/kailas-cloud/kbpipe/internal/usecase/upsert"
	"github.com/kailas-cloud/kbpipe/internal/version"
)

func main() {
	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

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

	logger.Info("Starting kbpipe API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("store_addrs", cfg.Store.Addrs),
	)

	store, err := storeRedis.NewStore(storeRedis.Config{
		Addrs:           cfg.Store.Addrs,
		Username:        cfg.Store.Username,
		Password:        cfg.Store.Password,
		KeyPrefix:       cfg.Store.KeyPrefix,
		Dimensions:      cfg.Embedding.Dense.Dimensions,
		HNSWM:           cfg.Store.HNSWM,
		HNSWEFConstruct: cfg.Store.HNSWEFConstruct,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal("Failed to create vector store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Store.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Vector store not ready", zap.Error(err))
	}
	if err := store.EnsureIndex(ctx); err != nil {
		logger.Fatal("Failed to ensure vector index", zap.Error(err))
	}
	logger.Info("Connected to vector store")

	// Register pipeline metrics explicitly (no init())
	metrics.RegisterPipelineMetrics()

	dense := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:              cfg.Embedding.Dense.APIKey,
		BaseURL:             cfg.Embedding.Dense.BaseURL,
		Model:               cfg.Embedding.Dense.Model,
		Dimensions:          cfg.Embedding.Dense.Dimensions,
		MaxBatchSize:        cfg.Embedding.Dense.MaxBatchSize,
		RequestsPerMinute:   cfg.Embedding.Dense.RequestsPerMinute,
		DocumentInstruction: cfg.Embedding.Dense.DocumentInstruction,
		QueryInstruction:    cfg.Embedding.Dense.QueryInstruction,
		Logger:              logger,
	})
	sparse := sparseEmb.NewEmbedder(&sparseEmb.Config{
		URL:               cfg.Embedding.Sparse.URL,
		APIKey:            cfg.Embedding.Sparse.APIKey,
		Model:             cfg.Embedding.Sparse.Model,
		MaxBatchSize:      cfg.Embedding.Sparse.MaxBatchSize,
		RequestsPerMinute: cfg.Embedding.Sparse.RequestsPerMinute,
		Logger:            logger,
	})
	logger.Info("Embedders created",
		zap.String("dense_model", cfg.Embedding.Dense.Model),
		zap.Int("dimensions", cfg.Embedding.Dense.Dimensions),
		zap.String("sparse_model", cfg.Embedding.Sparse.Model),
	)

	policy := retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   time.Duration(cfg.Retry.BaseDelayMS) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.Retry.MaxDelayMS) * time.Millisecond,
		Jitter:      cfg.Retry.Jitter,
	}
	chunkCfg := chunk.Config{
		HeaderLevels: cfg.Chunking.HeaderLevels,
		MaxChars:     cfg.Chunking.MaxChars,
		OverlapChars: cfg.Chunking.OverlapChars,
	}

	writer := upsertuc.New(store, upsertuc.Config{
		MaxBatchCount: cfg.Upsert.MaxBatchCount,
		MaxBatchBytes: cfg.Upsert.MaxBatchBytes,
		Retry:         policy,
		Logger:        logger,
	})
	ingestSvc := ingestuc.New(dense, sparse, writer, ingestuc.Config{
		Chunking: chunkCfg,
		Retry:    policy,
		Workers:  cfg.Pipeline.Workers,
		Logger:   logger,
	})
	searchSvc := searchuc.New(dense, sparse, store, searchuc.Config{
		Retry:         policy,
		MaxQueryChars: cfg.Embedding.Dense.MaxQueryChars,
		DefaultTopK:   cfg.Pipeline.TopK,
		Logger:        logger,
	})
	healthSvc := healthuc.New(store, dense, sparse)

	server := chiTransport.NewServer(ingestSvc, searchSvc, healthSvc, logger)
	var handler http.Handler = server.Routes(cfg.Auth.APIKeys)
	handler = wideEventMiddleware(logger)(handler)
	handler = chiMiddleware.RequestID(handler)
	handler = jsonRecoverer(logger)(handler)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
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

			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

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
