package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dunamismax/pixelframe/internal/config"
	"github.com/dunamismax/pixelframe/internal/export"
	"github.com/dunamismax/pixelframe/internal/storage"
	"github.com/dunamismax/pixelframe/internal/store"
	"github.com/dunamismax/pixelframe/internal/telemetry"
	"github.com/dunamismax/pixelframe/internal/webhook"
	"github.com/dunamismax/pixelframe/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Printf(
		"starting worker concurrency=%d max_active_jobs=%d queue=%s redis=%s source=%s",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveJobs,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
		cfg.Worker.Source,
	)

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "pixelframe-worker",
		Environment:  cfg.Tracing.Environment,
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	if err := export.Startup(); err != nil {
		logger.Fatalf("export startup failed: %v", err)
	}
	defer export.Shutdown()

	var storageClient *storage.Client
	if !strings.EqualFold(cfg.Worker.Source, "local") {
		storageClient, err = storage.NewClient(storage.Config{
			Endpoint: cfg.Storage.Endpoint,
			Access:   cfg.Storage.AccessKey,
			Secret:   cfg.Storage.SecretKey,
			Bucket:   cfg.Storage.Bucket,
			UseSSL:   cfg.Storage.UseSSL,
		})
		if err != nil {
			logger.Fatalf("storage client failed: %v", err)
		}
		if err := storageClient.EnsureBucket(ctx); err != nil {
			logger.Fatalf("ensure bucket failed: %v", err)
		}
	}

	var jobStore store.JobStore
	switch strings.ToLower(cfg.API.JobStore) {
	case "postgres":
		pg, err := store.NewPostgresJobStore(ctx, cfg.Database.DSN)
		if err != nil {
			logger.Fatalf("postgres job store failed: %v", err)
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Fatalf("postgres schema failed: %v", err)
		}
		jobStore = pg
	default:
		jobStore = store.NewMemoryJobStore()
	}

	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret:  cfg.Webhook.SigningSecret,
		Timeout:        cfg.Webhook.Timeout,
		MaxAttempts:    cfg.Webhook.MaxAttempts,
		InitialBackoff: cfg.Webhook.InitialBackoff,
		MaxBackoff:     cfg.Webhook.MaxBackoff,
	})

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, cfg.Studio, storageClient, webhookClient, jobStore)
	if err != nil {
		logger.Fatalf("worker setup failed: %v", err)
	}

	metricsServer := &http.Server{
		Addr:         cfg.Worker.MetricsAddr,
		Handler:      srv.MetricsHandler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("metrics server failed: %v", err)
		}
	}()

	// Run blocks until SIGINT or SIGTERM and drains in-flight exports.
	if err := srv.Run(); err != nil {
		logger.Fatalf("worker failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("metrics shutdown failed: %v", err)
	}
}
