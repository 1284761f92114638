package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chatbi-labs/queryassist/internal/behavior"
	"github.com/chatbi-labs/queryassist/internal/circuitbreaker"
	"github.com/chatbi-labs/queryassist/internal/config"
	"github.com/chatbi-labs/queryassist/internal/docstore"
	"github.com/chatbi-labs/queryassist/internal/embeddings"
	"github.com/chatbi-labs/queryassist/internal/health"
	"github.com/chatbi-labs/queryassist/internal/httpapi"
	"github.com/chatbi-labs/queryassist/internal/lexical"
	_ "github.com/chatbi-labs/queryassist/internal/metrics" // register collectors
	"github.com/chatbi-labs/queryassist/internal/oracle"
	"github.com/chatbi-labs/queryassist/internal/orchestrator"
	"github.com/chatbi-labs/queryassist/internal/prefix"
	"github.com/chatbi-labs/queryassist/internal/ranking"
	"github.com/chatbi-labs/queryassist/internal/search"
	"github.com/chatbi-labs/queryassist/internal/vectorindex"
)

const version = "0.3.0"

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Redis backs the behavior store and the rate limiter.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	wrapped := circuitbreaker.NewRedisWrapper(rdb, logger)

	// Encoder: remote service when configured, local hashing otherwise.
	var encoder embeddings.Encoder
	if cfg.Embedder.BaseURL != "" {
		encoder = embeddings.NewHTTPEncoder(cfg.Embedder.BaseURL, cfg.Embedder.Model, cfg.Embedder.Dimension, cfg.Timeouts.Embed)
		logger.Info("Using remote embedding service", zap.String("base_url", cfg.Embedder.BaseURL))
	} else {
		encoder = embeddings.NewHashingEncoder(cfg.Embedder.Dimension)
		logger.Info("Using local hashing encoder", zap.Int("dimension", cfg.Embedder.Dimension))
	}
	embSvc, err := embeddings.NewService(embeddings.Config{
		Model:         cfg.Embedder.Model,
		Dimension:     cfg.Embedder.Dimension,
		CacheSize:     cfg.Embedder.CacheSize,
		MaxInputChars: cfg.Embedder.MaxInputChars,
	}, encoder)
	if err != nil {
		logger.Fatal("Failed to initialize embeddings", zap.Error(err))
	}

	lexIndex := lexical.NewIndex(lexical.DefaultWeights(), logger)
	vecIndex := vectorindex.NewIndex(cfg.Embedder.Dimension)
	docs := docstore.NewStore(lexIndex, vecIndex, embSvc, docstore.Config{
		EmbedTimeout: cfg.Timeouts.Embed,
	}, logger)

	var behaviorStore *behavior.Store
	if cfg.Behavior.Enabled {
		behaviorStore = behavior.NewStore(wrapped, behavior.Config{
			HistoryCap:     cfg.Behavior.HistoryCap,
			PreferenceTTL:  cfg.Behavior.PreferenceTTL,
			TopPreferences: cfg.Behavior.TopPreferences,
			SequenceLimit:  cfg.Behavior.SequenceLimit,
			ScanCount:      cfg.Behavior.ScanCount,
		}, logger)
	}

	var oracleClient oracle.Client = oracle.Disabled{}
	if cfg.Oracle.Enabled && cfg.Oracle.APIKey != "" {
		oracleClient = oracle.NewOpenAIClient(oracle.Config{
			APIKey:      cfg.Oracle.APIKey,
			Model:       cfg.Oracle.Model,
			Temperature: cfg.Oracle.Temperature,
			MaxTokens:   cfg.Oracle.MaxTokens,
			Timeout:     cfg.Oracle.Timeout,
		}, logger)
		logger.Info("Oracle enabled", zap.String("model", cfg.Oracle.Model))
	}

	searcher := search.NewSearcher(lexIndex, vecIndex, search.Config{
		LexicalTimeout: cfg.Timeouts.Lexical,
		VectorTimeout:  cfg.Timeouts.Vector,
	}, logger)
	ranker := ranking.NewRanker(behaviorStore, ranking.Config{
		PersonalizationWeight: cfg.Search.PersonalizationWeight,
		LastSelectionBonus:    cfg.Search.LastSelectionBonus,
		MinScore:              cfg.Search.MinScore,
		BehaviorTimeout:       cfg.Timeouts.Behavior,
	}, logger)
	prefixEngine := prefix.NewEngine(lexIndex, oracleClient, prefix.Config{
		MinTokens:      cfg.Prefix.MinTokens,
		MinTailChars:   cfg.Prefix.MinTailChars,
		CandidateLimit: cfg.Prefix.CandidateLimit,
		ResultLimit:    cfg.Prefix.ResultLimit,
		MinPreserved:   cfg.Prefix.MinPreserved,
		OracleTimeout:  cfg.Timeouts.Oracle,
	}, logger)

	svc := orchestrator.NewService(embSvc, docs, behaviorStore, searcher, ranker, prefixEngine, oracleClient, orchestrator.Config{
		Weights:         search.Weights{Keyword: cfg.Search.KeywordWeight, Vector: cfg.Search.VectorWeight},
		MaxSuggestions:  cfg.Search.MaxSuggestions,
		MinScore:        cfg.Search.MinScore,
		Expansions:      cfg.Oracle.Expansions,
		Related:         cfg.Oracle.Related,
		PrefixEnabled:   cfg.Prefix.Enabled,
		BehaviorEnabled: cfg.Behavior.Enabled,
		EmbedTimeout:    cfg.Timeouts.Embed,
		OracleTimeout:   cfg.Timeouts.Oracle,
		BehaviorTimeout: cfg.Timeouts.Behavior,
		TotalTimeout:    cfg.Timeouts.Total,
	}, logger)

	hm := health.NewManager(2*time.Second, logger)
	hm.Register(health.CheckFunc{CheckerName: "lexical", Fn: func(ctx context.Context) error {
		_ = lexIndex.Len()
		return ctx.Err()
	}})
	hm.Register(health.CheckFunc{CheckerName: "vector", Fn: func(ctx context.Context) error {
		_ = vecIndex.Len()
		return ctx.Err()
	}})
	hm.Register(health.CheckFunc{CheckerName: "behavior", Fn: func(ctx context.Context) error {
		return wrapped.Ping(ctx).Err()
	}})

	var limiter *httpapi.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = httpapi.NewRateLimiter(wrapped, cfg.RateLimit.RequestsPerMinute, logger)
	}

	apiServer := httpapi.NewServer(svc, hm, limiter, version, logger)
	srv := httpapi.NewHTTPServer(
		fmt.Sprintf(":%d", cfg.Service.Port),
		apiServer.Handler(),
		cfg.Service.ReadTimeout,
		cfg.Service.WriteTimeout,
	)

	// Admin endpoints (metrics, health) on a separate port.
	adminMux := http.NewServeMux()
	adminMux.Handle("/metrics", promhttp.Handler())
	adminMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		st := hm.Check(r.Context())
		code := http.StatusOK
		if !st.Healthy {
			code = http.StatusServiceUnavailable
		}
		w.WriteHeader(code)
	})
	adminSrv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Service.AdminPort),
		Handler:      adminMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Admin HTTP server listening", zap.Int("port", cfg.Service.AdminPort))
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Admin server failed", zap.Error(err))
		}
	}()

	// Reload weights and limits on config file changes.
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	watcher := config.NewWatcher(configPath, logger, func(updated *config.Config) {
		w := search.Weights{Keyword: updated.Search.KeywordWeight, Vector: updated.Search.VectorWeight}
		svc.SetWeights(w)
		logger.Info("Applied updated retrieval weights",
			zap.Float64("keyword_weight", w.Keyword),
			zap.Float64("vector_weight", w.Vector))
	})
	go func() {
		if err := watcher.Start(watchCtx); err != nil && err != context.Canceled {
			logger.Warn("Config watcher stopped", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("API server listening", zap.Int("port", cfg.Service.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("API server failed", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.GracefulTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown failed", zap.Error(err))
	}
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Admin server shutdown failed", zap.Error(err))
	}
	if err := rdb.Close(); err != nil {
		logger.Error("Redis close failed", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}
