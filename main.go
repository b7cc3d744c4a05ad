package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alekslucenko/planit-analytics/internal/api"
	"github.com/alekslucenko/planit-analytics/internal/cache"
	"github.com/alekslucenko/planit-analytics/internal/config"
	"github.com/alekslucenko/planit-analytics/internal/docstore"
	"github.com/alekslucenko/planit-analytics/internal/domain"
	"github.com/alekslucenko/planit-analytics/internal/handler"
	"github.com/alekslucenko/planit-analytics/internal/logger"
	"github.com/alekslucenko/planit-analytics/internal/observability"
	"github.com/alekslucenko/planit-analytics/internal/pipeline"
	"github.com/alekslucenko/planit-analytics/internal/snapshot"
	"github.com/alekslucenko/planit-analytics/internal/stream"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log, err := createLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	ctx := context.Background()

	store, err := createStore(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to create document store", logger.Error(err))
		return 1
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	snapshots := snapshot.NewStore()

	snapshotCache := setupCache(ctx, cfg, snapshots, log)
	if snapshotCache != nil {
		defer func() { _ = snapshotCache.Close() }()
	}

	broker := stream.NewBroker(log, metrics)
	broker.Start(ctx)
	defer broker.Stop()

	snapshots.Subscribe(func(p snapshot.Published) {
		if err := broker.Publish(stream.NewSnapshotEvent(p)); err != nil {
			log.Warn("Snapshot event dropped", logger.Error(err))
		}
	})

	tf := domain.Timeframe(cfg.Aggregation.DefaultTimeframe)
	opts := pipeline.Options{}
	if snapshotCache != nil {
		opts.Saver = snapshotCache
	}

	aggregator, err := pipeline.NewAggregator(store, snapshots,
		cfg.Aggregation.OwnerID, tf, log, metrics, opts)
	if err != nil {
		log.Error("Failed to create aggregator", logger.Error(err))
		return 1
	}

	if err := aggregator.Start(ctx); err != nil {
		log.Error("Failed to start aggregation pipeline", logger.Error(err))
		return 1
	}
	defer aggregator.Stop()

	return runServer(cfg, log, snapshots, aggregator, broker, registry)
}

// loadConfig loads and validates configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.GetConfigPath("config.yml"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if validationErr := cfg.Validate(); validationErr != nil {
		return nil, fmt.Errorf("validate config: %w", validationErr)
	}
	return cfg, nil
}

// createLogger creates a logger instance from configuration.
func createLogger(cfg *config.Config) (logger.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Development: cfg.Service.Debug,
	})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return log.With(logger.String("service", cfg.Service.Name)), nil
}

// createStore builds the configured document store backend.
func createStore(ctx context.Context, cfg *config.Config, log logger.Logger) (docstore.Store, error) {
	switch cfg.Aggregation.Backend {
	case config.BackendMemory:
		log.Warn("Using in-memory document store; data will not persist")
		return docstore.NewMemoryStore(), nil
	case config.BackendElasticsearch:
		return docstore.NewElasticStore(ctx, cfg.Elasticsearch, log)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Aggregation.Backend)
	}
}

// setupCache wires the optional Redis last-known-good cache and seeds
// the snapshot store from it so the dashboard has something to render
// before the first live recomputation.
func setupCache(ctx context.Context, cfg *config.Config, snapshots *snapshot.Store, log logger.Logger) *cache.SnapshotCache {
	if !cfg.Redis.Enabled {
		return nil
	}

	snapshotCache, err := cache.New(cfg.Redis.Config)
	if err != nil {
		log.Warn("Redis not available, snapshot cache disabled", logger.Error(err))
		return nil
	}

	seedFromCache(ctx, snapshotCache, cfg.Aggregation.OwnerID, snapshots, log)
	return snapshotCache
}

// snapshotLoader is the cache surface startup seeding needs.
type snapshotLoader interface {
	Load(ctx context.Context, ownerID string) (snapshot.Published, error)
}

// seedFromCache installs the cached last-known-good snapshot, if one
// exists. An empty cache is normal on first boot, not an error.
func seedFromCache(ctx context.Context, loader snapshotLoader, ownerID string, snapshots *snapshot.Store, log logger.Logger) {
	cached, err := loader.Load(ctx, ownerID)
	switch {
	case err == nil:
		snapshots.Set(cached)
		log.Info("Seeded stale snapshot from cache",
			logger.Time("computed_at", cached.Snapshot.ComputedAt),
		)
	case !errors.Is(err, cache.ErrNotFound):
		log.Warn("Cached snapshot load failed", logger.Error(err))
	}
}

// runServer creates the HTTP layer and blocks until shutdown.
func runServer(
	cfg *config.Config,
	log logger.Logger,
	snapshots *snapshot.Store,
	aggregator *pipeline.Aggregator,
	broker *stream.Broker,
	registry *prometheus.Registry,
) int {
	metricsHandler := handler.NewMetricsHandler(snapshots, aggregator, broker, log)
	healthHandler := handler.NewHealthHandler(cfg.Service.Name, cfg.Service.Version,
		map[string]handler.HealthChecker{
			"snapshot": func() error {
				if _, ok := snapshots.Get(); !ok {
					return errors.New("no snapshot computed yet")
				}
				return nil
			},
		})

	server := api.NewServer(api.ServerConfig{
		ServiceName:    cfg.Service.Name,
		ServiceVersion: cfg.Service.Version,
		Port:           cfg.Service.Port,
		Debug:          cfg.Service.Debug,
	}, log, func(router *gin.Engine) {
		api.SetupRoutes(router, metricsHandler, healthHandler, cfg.Auth.JWTSecret)
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	})

	log.Info("Analytics service starting",
		logger.Int("port", cfg.Service.Port),
		logger.String("owner_id", cfg.Aggregation.OwnerID),
		logger.String("timeframe", cfg.Aggregation.DefaultTimeframe),
		logger.String("backend", cfg.Aggregation.Backend),
	)

	if err := server.RunWithGracefulShutdown(context.Background()); err != nil {
		log.Error("Server error", logger.Error(err))
		return 1
	}

	log.Info("Analytics service exited cleanly")
	return 0
}
