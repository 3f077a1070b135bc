package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"prashikshan/internal/admin"
	"prashikshan/internal/config"
	"prashikshan/internal/keepalive"
	"prashikshan/internal/metrics"
	"prashikshan/internal/news"
	"prashikshan/internal/storage"
	"prashikshan/internal/tasks"
	"prashikshan/internal/worker"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("worker exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr(), Password: cfg.Redis.Password})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	storageClient, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		return fmt.Errorf("init storage client: %w", err)
	}
	logger.Info("storage client ready", slog.String("bucket", cfg.MinIO.Bucket))

	settings := admin.NewSettingsStore(redisClient)
	tracker := admin.NewRefreshTracker(redisClient, 0)

	sources, closeBrowser := news.SourcesFromConfig(cfg.Scraper, news.NewFetcher(cfg.News.RequestTimeout), settings, logger)
	defer closeBrowser()
	aggregator := news.NewAggregator(sources, settings, cfg.News.SourceTimeout, logger)
	cache := news.NewCache(cfg.News.CacheFile, storageClient, cfg.News.CloudObjectKey, logger)
	// 启动时先拉取云端副本，避免 worker 覆盖更新的缓存。
	if ok, err := cache.LoadFromCloud(ctx); err != nil {
		logger.Warn("load cache from cloud", slog.Any("error", err))
	} else if ok {
		logger.Info("news cache loaded from cloud", slog.Int64("feed_version", cache.Version()))
	}

	redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr(), Password: cfg.Redis.Password}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Queues:      map[string]int{tasks.QueueNews: 1},
		Logger:      newAsynqLogger(logger),
	})

	mux := asynq.NewServeMux()
	mux.Use(metrics.AsynqMetricsMiddleware())
	mux.Handle(tasks.TypeNewsRefresh, worker.NewNewsRefreshHandler(aggregator, cache, tracker, redisClient, logger))

	scheduledTask, err := tasks.NewNewsRefreshTask(tasks.NewsRefreshPayload{SyncCloud: true, CorrelationID: "scheduler"})
	if err != nil {
		return err
	}
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Logger: newAsynqLogger(logger)})
	entryID, err := scheduler.Register(cfg.News.RefreshCron, scheduledTask)
	if err != nil {
		return fmt.Errorf("register news refresh schedule %q: %w", cfg.News.RefreshCron, err)
	}
	logger.Info("news refresh scheduled", slog.String("cron", cfg.News.RefreshCron), slog.String("entry_id", entryID))

	targets, err := keepalive.ParseTargets(cfg.KeepAlive.Targets)
	if err != nil {
		return fmt.Errorf("parse keepalive targets: %w", err)
	}
	poller := keepalive.NewPoller(targets, cfg.KeepAlive.Interval, cfg.KeepAlive.Timeout, logger,
		keepalive.WithStore(redisClient))

	if err := server.Start(mux); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}
	if err := scheduler.Start(); err != nil {
		server.Shutdown()
		return fmt.Errorf("start asynq scheduler: %w", err)
	}
	logger.Info("worker service started", slog.String("redis_addr", cfg.Redis.Addr()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return poller.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down worker")
		scheduler.Shutdown()
		server.Shutdown()
		return nil
	})
	return g.Wait()
}
