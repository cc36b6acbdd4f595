package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"catalog-import-service/internal/artifact"
	"catalog-import-service/internal/catalog"
	"catalog-import-service/internal/config"
	"catalog-import-service/internal/jobs"
	"catalog-import-service/internal/logging"
	"catalog-import-service/internal/models"
	"catalog-import-service/internal/queue"
	"catalog-import-service/internal/store"
	"catalog-import-service/internal/telemetry"
	"catalog-import-service/internal/webhook"
	workerproc "catalog-import-service/internal/worker"
)

func main() {
	cfg := config.Load()
	log := logging.Must(cfg.Env, cfg.LogLevel).With(zap.String("service", "worker"))
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

	files, err := artifact.New(ctx, cfg)
	if err != nil {
		log.Fatal("init artifact storage", zap.Error(err))
	}

	// Generate a unique worker ID from hostname or env var
	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		hostname, _ := os.Hostname()
		if hostname != "" {
			workerID = hostname
		} else {
			workerID = fmt.Sprintf("worker-%d", os.Getpid())
		}
	}

	backend := jobs.NewBackend(st, q, log)
	importer := catalog.NewImporter(st, files, catalog.Options{
		ChunkSize: cfg.ImportChunkSize,
		Atomicity: cfg.ImportAtomicity,
		Encoding:  cfg.ImportEncoding,
	}, log)
	dispatcher := webhook.NewDispatcher(st, &http.Client{}, webhook.Options{
		Timeout:     cfg.WebhookTimeout,
		TestTimeout: cfg.WebhookTestTimeout,
		Concurrency: cfg.WebhookConcurrency,
	}, log)

	processor := workerproc.NewProcessorWithID(cfg, q, st, workerID, log)
	processor.SetPublisher(backend)
	processor.RegisterHandler(models.JobTypeCatalogImport, workerproc.ImportHandler(importer))
	processor.RegisterHandler(models.JobTypeWebhookDispatch, workerproc.DispatchHandler(dispatcher))

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	log.Info("worker started",
		zap.String("worker_id", workerID),
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Duration("visibility", cfg.VisibilityTimeout),
		zap.Int("chunk_size", cfg.ImportChunkSize),
		zap.String("atomicity", cfg.ImportAtomicity),
	)
	if err := processor.Run(ctx); err != nil {
		log.Error("worker stopped", zap.Error(err))
	}
}
