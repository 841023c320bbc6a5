package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/NineSunsInc/rampart/pkg/api"
	"github.com/NineSunsInc/rampart/pkg/audit"
	"github.com/NineSunsInc/rampart/pkg/config"
	"github.com/NineSunsInc/rampart/pkg/enrich"
	"github.com/NineSunsInc/rampart/pkg/logging"
	"github.com/NineSunsInc/rampart/pkg/metrics"
	"github.com/NineSunsInc/rampart/pkg/risk"
	"github.com/NineSunsInc/rampart/pkg/shield"
)

func main() {
	cfg := config.NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		logging.Default().Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting rampart", "addr", cfg.ListenAddr, "model_version", risk.ConfigVersion)

	// Scoring and marker tables from the config directory, when present.
	scoringCfg, err := risk.LoadScoringConfig(cfg.ConfigDir)
	if err != nil {
		logger.Error("invalid scoring configuration", "error", err)
		os.Exit(1)
	}
	if err := risk.LoadMarkerConfig(cfg.ConfigDir); err != nil {
		logger.Error("invalid marker configuration", "error", err)
		os.Exit(1)
	}
	scorer, err := risk.NewRiskScorerWithConfig(scoringCfg)
	if err != nil {
		logger.Error("invalid scoring configuration", "error", err)
		os.Exit(1)
	}
	engine := risk.NewEngineWithScorer(scorer)

	// Exposure state: redis when configured, in-process otherwise.
	var (
		store       shield.Store
		redisClient *redis.Client
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Error("redis unreachable", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		store = shield.NewRedisStore(redisClient)
		logger.Info("exposure state on redis", "addr", cfg.RedisAddr)
	} else {
		store = shield.NewMemoryStore()
		logger.Info("exposure state in memory; counters reset on restart")
	}
	tracker := shield.NewTracker(store)

	// Audit: postgres outbox preferred, redis stream next, else dropped.
	var sink audit.Sink = audit.NopSink{}
	var pool *pgxpool.Pool
	switch {
	case cfg.PostgresDSN != "":
		pool, err = pgxpool.New(context.Background(), cfg.PostgresDSN)
		if err != nil {
			logger.Error("postgres pool init failed", "error", err)
			os.Exit(1)
		}
		outbox, err := audit.NewOutboxSink(pool)
		if err != nil {
			logger.Error("audit outbox init failed", "error", err)
			os.Exit(1)
		}
		sink = outbox
		logger.Info("audit events on postgres outbox")
	case redisClient != nil:
		sink = audit.NewStreamSink(redisClient)
		logger.Info("audit events on redis stream", "stream", audit.DefaultStream)
	default:
		logger.Warn("no audit backend configured; events are dropped")
	}

	analyzer := enrich.NewAnalyzer(enrich.Config{
		Provider:        string(cfg.EnrichProvider),
		Endpoint:        cfg.EnrichEndpoint,
		APIKey:          cfg.EnrichAPIKey,
		Model:           cfg.EnrichModel,
		Timeout:         cfg.EnrichTimeout,
		ModelPath:       cfg.EnrichModelPath,
		OnnxLibraryPath: cfg.OnnxLibraryPath,
	})
	logger.Info("enrichment", "provider", string(cfg.EnrichProvider), "available", analyzer.IsAvailable())

	registry := prometheus.NewRegistry()
	srv := api.NewServer(api.Deps{
		Logger:   logger,
		Engine:   engine,
		Tracker:  tracker,
		Analyzer: analyzer,
		Sink:     sink,
		Metrics:  metrics.NewAssessmentMetrics(registry),
		Registry: registry,
	})

	go func() {
		if err := srv.App().Listen(cfg.ListenAddr); err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.App().ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("forced shutdown", "error", err)
	}
	if pool != nil {
		pool.Close()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	logger.Info("server stopped")
}
