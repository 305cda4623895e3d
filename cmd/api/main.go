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

	"github.com/dunamismax/pixelframe/internal/api"
	"github.com/dunamismax/pixelframe/internal/config"
	"github.com/dunamismax/pixelframe/internal/cover"
	"github.com/dunamismax/pixelframe/internal/export"
	"github.com/dunamismax/pixelframe/internal/queue"
	"github.com/dunamismax/pixelframe/internal/ratelimit"
	"github.com/dunamismax/pixelframe/internal/storage"
	"github.com/dunamismax/pixelframe/internal/store"
	"github.com/dunamismax/pixelframe/internal/studio"
	"github.com/dunamismax/pixelframe/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "pixelframe-api",
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

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Fatalf("storage client failed: %v", err)
	}

	useObjectStore := strings.EqualFold(cfg.Studio.BlobStore, "minio")
	if useObjectStore {
		if err := storageClient.EnsureBucket(ctx); err != nil {
			logger.Fatalf("ensure bucket failed: %v", err)
		}
	}

	variant, err := cover.ParseVariant(cfg.Studio.CoverVariant)
	if err != nil {
		logger.Fatalf("invalid cover variant: %v", err)
	}

	var blobs studio.BlobStore = studio.NewMemoryBlobStore()
	if useObjectStore {
		blobs = storageClient
	}

	sessions := studio.NewManager(studio.Options{
		Variant:            variant,
		Templates:          templateSource(cfg.Studio, storageClient, useObjectStore),
		Cache:              cover.NewTemplateCache(),
		Blobs:              blobs,
		TTL:                cfg.Studio.SessionTTL,
		MaxUploadBytes:     cfg.API.MaxUploadBytes,
		PosterDisplayWidth: cfg.Studio.PosterDisplayWidth,
		PosterRasterScale:  cfg.Studio.PosterRasterScale,
		Logger:             logger,
	})
	go sessions.Run(ctx, cfg.Studio.SweepInterval)

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

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
		logger.Printf("using in-memory job store; job status is not shared with workers")
		jobStore = store.NewMemoryJobStore()
	}

	app := api.NewServer(logger, sessions, queueClient, jobStore, storageClient, cfg.API.PresignTTL).
		WithTracer(otel.Tracer("pixelframe/api"))

	if cfg.RateLimit.Enabled {
		var limiter api.RateLimiter
		switch strings.ToLower(cfg.RateLimit.Backend) {
		case "redis":
			redisClient := redis.NewClient(&redis.Options{
				Addr:     cfg.Queue.RedisAddr,
				Password: cfg.Queue.RedisPassword,
				DB:       cfg.Queue.RedisDB,
			})
			defer redisClient.Close()
			limiter, err = ratelimit.NewRedisTokenBucket(redisClient, cfg.RateLimit.Capacity, cfg.RateLimit.Window, "")
		default:
			limiter, err = ratelimit.NewMemoryTokenBucket(cfg.RateLimit.Capacity, cfg.RateLimit.Window)
		}
		if err != nil {
			logger.Fatalf("rate limiter failed: %v", err)
		}
		app.WithRateLimiter(limiter, cfg.RateLimit.Header)
		logger.Printf("rate limiting enabled backend=%s capacity=%d window=%s", cfg.RateLimit.Backend, cfg.RateLimit.Capacity, cfg.RateLimit.Window)
	}

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s variant=%s blob_store=%s", cfg.API.Addr, variant, cfg.Studio.BlobStore)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
	sessions.CloseAll(shutdownCtx)
}

func templateSource(cfg config.StudioConfig, storageClient *storage.Client, useObjectStore bool) cover.TemplateSource {
	switch {
	case cfg.TemplateURL != "":
		return cover.HTTPSource{BaseURL: cfg.TemplateURL, HTTPClient: &http.Client{Timeout: 10 * time.Second}}
	case useObjectStore:
		return cover.ObjectSource{Objects: storageClient, Bucket: storageClient.Bucket(), Prefix: cfg.TemplatePrefix}
	default:
		return cover.DirSource{FS: os.DirFS(cfg.TemplateDir), Root: cfg.TemplateDir}
	}
}
