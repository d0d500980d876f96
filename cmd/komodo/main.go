package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/komodo-search/komodo/internal/blob"
	"github.com/komodo-search/komodo/internal/cache"
	"github.com/komodo-search/komodo/internal/ingest"
	"github.com/komodo-search/komodo/internal/komodo"
	"github.com/komodo-search/komodo/internal/metadata"
	"github.com/komodo-search/komodo/internal/postback"
	"github.com/komodo-search/komodo/internal/postings"
	"github.com/komodo-search/komodo/internal/terms"
	"github.com/komodo-search/komodo/pkg/config"
	"github.com/komodo-search/komodo/pkg/database"
	"github.com/komodo-search/komodo/pkg/health"
	"github.com/komodo-search/komodo/pkg/kafka"
	"github.com/komodo-search/komodo/pkg/logger"
	"github.com/komodo-search/komodo/pkg/metrics"
	pkgredis "github.com/komodo-search/komodo/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting komodo",
		"database", cfg.Database.Driver,
		"storage", cfg.Storage.Backend,
		"sync_interval", cfg.Indexer.SyncInterval,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.New(cfg.Database)
	if err != nil {
		slog.Error("failed to open metadata database", "error", err)
		os.Exit(1)
	}
	store := metadata.NewSQLStore(db)
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		slog.Error("failed to migrate metadata database", "error", err)
		os.Exit(1)
	}

	var redisClient *pkgredis.Client
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			if cfg.Storage.Backend == "redis" {
				slog.Error("redis required for blob storage", "error", err)
				os.Exit(1)
			}
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
		}
	}

	var blobs blob.Provider
	switch cfg.Storage.Backend {
	case "redis":
		blobs = blob.NewRedisProvider(redisClient)
	default:
		blobs = blob.NewDiskProvider(filepath.Join(cfg.Storage.DataDir, "indices"))
	}

	m := metrics.New()

	var dispatcherOpts []postback.Option
	dispatcherOpts = append(dispatcherOpts, postback.WithMetrics(m))
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
		defer producer.Close()
		dispatcherOpts = append(dispatcherOpts, postback.WithPublisher(producer))
		slog.Info("completion events enabled", "topic", cfg.Kafka.Topics.IndexComplete)
	}
	dispatcher := postback.NewDispatcher(cfg.Indexer, dispatcherOpts...)
	dispatcher.Start(context.Background())
	defer dispatcher.Close()

	opts := komodo.Options{
		Metadata: store,
		Terms:    terms.New(store),
		Blobs:    blobs,
		Postings: postings.NewOptions(cfg.Indexer.MinTokenLength, cfg.Indexer.CaseSensitive, cfg.Indexer.StopWords),
		Search:   cfg.Search,
		Postback: dispatcher,
		Metrics:  m,
	}
	if cfg.Search.CacheEnabled && redisClient != nil {
		opts.Cache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
		slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	}

	manager := komodo.NewManager(opts, cfg.Indexer.SyncInterval)
	if err := manager.Start(ctx); err != nil {
		slog.Error("failed to start index manager", "error", err)
		os.Exit(1)
	}
	slog.Info("indices loaded", "count", len(manager.List()))

	checker := health.NewChecker()
	checker.Register("database", health.PingCheck(store))
	checker.Register("blob_store", func(ctx context.Context) health.ComponentHealth {
		s, err := blobs.Open("health", blob.KindSource)
		if err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.RoundTripCheck(s, "probe")(ctx)
	})
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		return health.PingCheck(redisClient)(ctx)
	})

	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port, map[string]http.Handler{
			"GET /health/live":  checker.LiveHandler(),
			"GET /health/ready": checker.ReadyHandler(),
		})
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}()
	}

	if cfg.Kafka.Enabled {
		kafkaConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.DocumentIngest, ingest.HandleMessage(manager))
		ingestConsumer := ingest.New(kafkaConsumer)
		slog.Info("komodo ready, consuming from kafka",
			"topic", cfg.Kafka.Topics.DocumentIngest,
			"group", cfg.Kafka.ConsumerGroup,
		)
		if err := ingestConsumer.Start(ctx); err != nil {
			slog.Error("consumer error", "error", err)
		}
	} else {
		slog.Info("komodo ready")
		<-ctx.Done()
	}

	slog.Info("shutdown signal received, closing indices")
	if err := manager.Close(); err != nil {
		slog.Error("closing indices failed", "error", err)
	}
	slog.Info("komodo stopped")
}
