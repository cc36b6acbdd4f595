package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"catalog-import-service/internal/api"
	"catalog-import-service/internal/artifact"
	"catalog-import-service/internal/config"
	"catalog-import-service/internal/jobs"
	"catalog-import-service/internal/logging"
	"catalog-import-service/internal/queue"
	"catalog-import-service/internal/ratelimit"
	"catalog-import-service/internal/store"
	"catalog-import-service/internal/webhook"
)

func main() {
	cfg := config.Load()
	log := logging.Must(cfg.Env, cfg.LogLevel).With(zap.String("service", "api"))
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatal("migrations", zap.Error(err))
	}

	q := queue.NewRedisQueue(cfg)
	defer q.Close()

	redisLimiter := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisLimiter.Close()
	limiter := ratelimit.NewUploadLimiter(redisLimiter, cfg.RateLimitCapacity, cfg.RateLimitRefill)

	uploads, err := artifact.New(ctx, cfg)
	if err != nil {
		log.Fatal("init artifact storage", zap.Error(err))
	}

	backend := jobs.NewBackend(st, q, log)
	dispatcher := webhook.NewDispatcher(st, &http.Client{}, webhook.Options{
		Timeout:     cfg.WebhookTimeout,
		TestTimeout: cfg.WebhookTestTimeout,
		Concurrency: cfg.WebhookConcurrency,
	}, log)

	server := api.New(cfg, api.Deps{
		Catalog:  st,
		Registry: st,
		Jobs:     backend,
		Uploads:  uploads,
		Tester:   dispatcher,
		Limiter:  limiter,
		Health:   st,
	}, log)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("api listening", zap.String("port", cfg.HTTPPort), zap.String("atomicity", cfg.ImportAtomicity))
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
	log.Info("api stopped")
}
