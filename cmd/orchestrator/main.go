package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/prosearch-ai/orchestrator/internal/catalog"
	"github.com/prosearch-ai/orchestrator/internal/config"
	"github.com/prosearch-ai/orchestrator/internal/httpapi"
	"github.com/prosearch-ai/orchestrator/internal/llm"
	"github.com/prosearch-ai/orchestrator/internal/research"
	"github.com/prosearch-ai/orchestrator/internal/search"
	"github.com/prosearch-ai/orchestrator/internal/streaming"
	"github.com/prosearch-ai/orchestrator/internal/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := buildLogger(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	}, logger); err != nil {
		logger.Warn("Failed to initialize tracing", zap.Error(err))
	}

	cat, err := catalog.Load(cfg.ModelsConfigPath)
	if err != nil {
		logger.Fatal("Failed to load model catalog", zap.Error(err))
	}

	registry, err := catalog.NewRegistry(cat, stageDefaults(cfg))
	if err != nil {
		logger.Fatal("Failed to build model registry", zap.Error(err))
	}

	llmClient := llm.NewHTTPClient(cfg.LLMServiceURL, llm.Options{
		Timeout:    cfg.Research.CallTimeout,
		MaxRetries: cfg.Research.MaxRetries,
		RetryBase:  cfg.Research.RetryBaseDelay,
	}, logger)
	searcher := search.NewHTTPSearcher(cfg.SearchServiceURL, 5, cfg.Research.QueryTimeout, logger)

	streams := streaming.NewManager(cfg.Streaming.RingCapacity)
	if cfg.Streaming.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.Streaming.RedisURL)
		if err != nil {
			logger.Warn("Invalid Redis URL; event mirroring disabled", zap.Error(err))
		} else {
			redisClient := redis.NewClient(redisOpts)
			defer redisClient.Close()
			streams.SetMirror(streaming.NewRedisMirror(redisClient, logger))
			logger.Info("Event mirroring to Redis Streams enabled")
		}
	}

	svc := research.NewService(cfg, registry, llmClient, searcher, streams, logger)

	mux := http.NewServeMux()
	httpapi.NewResearchHandler(svc, cat, 5*time.Minute, logger).RegisterRoutes(mux)
	httpapi.NewStreamingHandler(streams, logger).RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Orchestrator listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", zap.Error(err))
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", level, err)
		}
		zcfg.Level = lvl
	}
	return zcfg.Build()
}

func stageDefaults(cfg *config.Config) map[string]catalog.StageDefault {
	defaults := make(map[string]catalog.StageDefault, len(cfg.Stages))
	for stage, sc := range cfg.Stages {
		defaults[stage] = catalog.StageDefault{Provider: sc.Provider, Model: sc.Model}
	}
	return defaults
}
