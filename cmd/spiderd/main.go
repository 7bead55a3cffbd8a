package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/spider-orchestrator/internal/api"
	"github.com/JakeFAU/spider-orchestrator/internal/clock/system"
	"github.com/JakeFAU/spider-orchestrator/internal/config"
	eventsmemory "github.com/JakeFAU/spider-orchestrator/internal/events/memory"
	eventspubsub "github.com/JakeFAU/spider-orchestrator/internal/events/pubsub"
	"github.com/JakeFAU/spider-orchestrator/internal/id/uuid"
	"github.com/JakeFAU/spider-orchestrator/internal/logging"
	"github.com/JakeFAU/spider-orchestrator/internal/metrics"
	"github.com/JakeFAU/spider-orchestrator/internal/orchestrator"
	"github.com/JakeFAU/spider-orchestrator/internal/policy/ratelimit"
	"github.com/JakeFAU/spider-orchestrator/internal/runtime"
	"github.com/JakeFAU/spider-orchestrator/internal/spiders"
	memoryStorage "github.com/JakeFAU/spider-orchestrator/internal/storage/memory"
	"github.com/JakeFAU/spider-orchestrator/internal/storage/postgres"
	redisStorage "github.com/JakeFAU/spider-orchestrator/internal/storage/redis"
	"github.com/JakeFAU/spider-orchestrator/internal/tasks"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	idGen := uuid.New()

	redisClient, err := redisStorage.NewClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal("redis connect failed", zap.Error(err))
	}
	defer func() {
		if closeErr := redisClient.Close(); closeErr != nil {
			logger.Warn("redis close failed", zap.Error(closeErr))
		}
	}()
	resultStore := redisStorage.NewResultStore(redisClient, cfg.ResultsTTL())

	var archive *postgres.TaskArchive
	if cfg.Database.DSN != "" {
		archive, err = postgres.NewTaskArchive(ctx, postgres.ArchiveConfig{
			DSN:      cfg.Database.DSN,
			MaxConns: cfg.Database.MaxConns,
			MinConns: cfg.Database.MinConns,
		})
		if err != nil {
			logger.Fatal("postgres connect failed", zap.Error(err))
		}
		defer archive.Close()
	} else {
		logger.Info("task archive disabled, no database dsn configured")
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(redisClient, ratelimit.Config{
			Ceiling: cfg.RateLimit.Ceiling,
			Window:  cfg.RateWindow(),
		}, logger.Named("ratelimit"))
	}

	registry, err := spiders.DefaultRegistry(logger.Named("spiders"))
	if err != nil {
		logger.Fatal("spider registry init failed", zap.Error(err))
	}

	engine := runtime.NewEngine(runtime.Config{
		UserAgent:       cfg.Runtime.UserAgent,
		RequestTimeout:  cfg.RequestTimeout(),
		Delay:           time.Duration(cfg.Runtime.DelaySeconds) * time.Second,
		Parallelism:     cfg.Runtime.Parallelism,
		MaxDepthDefault: cfg.Runtime.MaxDepthDefault,
		MaxItemsDefault: cfg.Runtime.MaxItemsDefault,
		BatchSize:       cfg.Runtime.BatchSize,
		FlushInterval:   cfg.BatchFlushInterval(),
	}, registry, clock, logger.Named("runtime"))

	var publisher tasks.Publisher
	switch cfg.Events.Provider {
	case "memory":
		publisher = eventsmemory.New()
	case "pubsub":
		pubsubPublisher, pubErr := eventspubsub.New(ctx, cfg.Events.ProjectID, cfg.Events.TopicID)
		if pubErr != nil {
			logger.Fatal("pubsub publisher init failed", zap.Error(pubErr))
		}
		defer func() {
			if closeErr := pubsubPublisher.Close(); closeErr != nil {
				logger.Warn("pubsub close failed", zap.Error(closeErr))
			}
		}()
		publisher = pubsubPublisher
	}

	var archiver tasks.TaskArchiver
	if archive != nil {
		archiver = archive
	}

	taskStore := memoryStorage.NewTaskStore(clock, idGen)
	orch := orchestrator.New(
		taskStore,
		resultStore,
		engine,
		registry,
		clock,
		logger.Named("orchestrator"),
		orchestrator.Options{
			Publisher:   publisher,
			Archiver:    archiver,
			StopTimeout: cfg.StopTimeout(),
		},
	)

	probes := []api.ReadinessProbe{
		{Name: "redis", Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }},
	}
	if archive != nil {
		probes = append(probes, api.ReadinessProbe{Name: "database", Check: archive.Ping})
	}

	apiServer := api.NewServer(orch, limiter, probes, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
