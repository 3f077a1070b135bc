package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/cors"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"prashikshan/internal/admin"
	"prashikshan/internal/api"
	"prashikshan/internal/auth"
	"prashikshan/internal/config"
	"prashikshan/internal/database"
	"prashikshan/internal/keepalive"
	"prashikshan/internal/news"
	"prashikshan/internal/storage"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("api exited", slog.Any("error", err))
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

	db, err := database.InitDatabase(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		return err
	}
	logger.Info("database ready",
		slog.String("host", cfg.Database.Host),
		slog.String("db", cfg.Database.Name))

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

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Redis.Addr(), Password: cfg.Redis.Password})
	defer asynqClient.Close()

	verifier, err := auth.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience)
	if err != nil {
		return fmt.Errorf("init token verifier: %w", err)
	}
	adminKeys, err := auth.NewAdminKeyMatcher(cfg.Admin.KeyHash, cfg.Admin.Key)
	if err != nil {
		// 没有配置管理密钥时管理后台接口全部返回 500，其余接口照常工作。
		logger.Warn("admin key not configured", slog.Any("error", err))
		adminKeys = nil
	}

	targets, err := keepalive.ParseTargets(cfg.KeepAlive.Targets)
	if err != nil {
		return fmt.Errorf("parse keepalive targets: %w", err)
	}

	settings := admin.NewSettingsStore(redisClient)
	service, closeNews := buildNews(cfg, settings, storageClient, logger)
	defer closeNews()

	router := api.NewRouter(logger)
	api.RegisterRoutes(router, api.Deps{
		DB:             db,
		Redis:          redisClient,
		Verifier:       verifier,
		AdminKeys:      adminKeys,
		Storage:        storageClient,
		Scanner:        api.NewClamdScanner(cfg.Clamd.Addr),
		Queue:          asynqClient,
		Settings:       settings,
		Refresh:        admin.NewRefreshTracker(redisClient, 0),
		News:           service,
		KeepAlive:      targets,
		MaxUploadBytes: cfg.API.MaxUploadBytes,
		AllowedOrigins: cfg.API.AllowedOrigins,
		Logger:         logger,
	})

	go func() {
		if err := api.ReloadCacheOnRefresh(ctx, redisClient, service.Cache(), logger); err != nil {
			logger.Warn("refresh listener stopped", slog.Any("error", err))
		}
	}()

	corsHandler := cors.Handler(cors.Options{
		AllowedOrigins:   cfg.API.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Admin-Key", "X-Correlation-ID", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Correlation-ID", "X-Cache"},
		AllowCredentials: false,
		MaxAge:           300,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           corsHandler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down api")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := service.Cache().Save(shutdownCtx, false); err != nil {
		logger.Warn("save news cache on shutdown", slog.Any("error", err))
	}
	return nil
}

// buildNews 组装新闻抓取链路：来源、浏览器渲染、聚合器、缓存。
func buildNews(cfg *config.Config, settings *admin.SettingsStore, cloud *storage.Client, logger *slog.Logger) (*news.Service, func()) {
	sources, cleanup := news.SourcesFromConfig(cfg.Scraper, news.NewFetcher(cfg.News.RequestTimeout), settings, logger)
	aggregator := news.NewAggregator(sources, settings, cfg.News.SourceTimeout, logger)

	var store news.CloudStore
	if cloud != nil {
		store = cloud
	}
	cache := news.NewCache(cfg.News.CacheFile, store, cfg.News.CloudObjectKey, logger)
	return news.NewService(aggregator, cache, cfg.News.StaleAfter, logger), cleanup
}
