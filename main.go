package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/openclass-ai/citestream/internal/config"
	"github.com/openclass-ai/citestream/internal/docstore"
	"github.com/openclass-ai/citestream/internal/health"
	"github.com/openclass-ai/citestream/internal/httpapi"
	"github.com/openclass-ai/citestream/internal/indexcache"
	"github.com/openclass-ai/citestream/internal/pipeline"
	"github.com/openclass-ai/citestream/internal/streaming"
)

func main() {
	configPath := flag.String("config", os.Getenv("CITESTREAM_CONFIG"), "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	healthMgr := health.NewManager(5*time.Second, logger)

	// Storage is optional: without it layouts cannot be ingested and
	// reconciliation runs without sentence detail.
	var (
		store   *docstore.Store
		indexes pipeline.IndexProvider
		caches  httpapi.Invalidator
	)
	if cfg.Database.DSN != "" {
		store, err = docstore.Open(cfg.Database, logger)
		if err != nil {
			logger.Fatal("open docstore", zap.Error(err))
		}
		defer store.Close()
		healthMgr.Register(health.CheckFunc{
			CheckName:  "database",
			IsCritical: true,
			Fn:         store.Ping,
		})

		var redisClient *redis.Client
		if cfg.Redis.Enabled {
			redisClient = redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			defer redisClient.Close()
			healthMgr.Register(health.CheckFunc{
				CheckName: "redis",
				Fn: func(ctx context.Context) error {
					return redisClient.Ping(ctx).Err()
				},
			})
		}
		cache := indexcache.New(redisClient, store, cfg.Redis.TTL, 0, logger)
		indexes = &indexcache.Provider{Cache: cache}
		caches = cache
	} else {
		logger.Warn("no database configured, layout ingestion disabled")
	}

	mgr := streaming.NewManager(cfg.Streaming.RingCapacity)

	tun := config.Tunables{Guard: cfg.Guard, Resolver: cfg.Resolver}
	answers := httpapi.NewAnswerHandler(mgr, indexes, cfg.Server, tun, logger)
	streams := httpapi.NewStreamingHandler(mgr, cfg.Streaming.Heartbeat, cfg.Streaming.SubscriberBuffer, logger)

	mux := http.NewServeMux()
	answers.RegisterRoutes(mux)
	streams.RegisterRoutes(mux)
	if store != nil {
		httpapi.NewDocumentHandler(store, caches, logger).RegisterRoutes(mux)
	}
	mux.HandleFunc("/health", healthMgr.LivenessHandler())
	mux.HandleFunc("/readiness", healthMgr.ReadinessHandler())

	// Guard and resolver settings follow the config file while running.
	if *configPath != "" {
		watcher, err := config.NewWatcher(*configPath, logger)
		if err != nil {
			logger.Warn("config watcher disabled", zap.Error(err))
		} else {
			defer watcher.Close()
			watcher.OnChange(answers.SetTunables)
		}
	}

	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: promhttp.Handler(),
	}
	go func() {
		logger.Info("metrics server listening", zap.Int("port", cfg.Server.MetricsPort))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", zap.Error(err))
		}
	}()

	apiSrv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     mux,
		ReadTimeout: cfg.Server.ReadTimeout,
	}
	go func() {
		logger.Info("api server listening", zap.Int("port", cfg.Server.Port))
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("api server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api shutdown", zap.Error(err))
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics shutdown", zap.Error(err))
	}
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		lvl, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
		zc.Level = lvl
	}
	return zc.Build()
}
