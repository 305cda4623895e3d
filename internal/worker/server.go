package worker

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/pixelframe/internal/config"
	"github.com/dunamismax/pixelframe/internal/cover"
	"github.com/dunamismax/pixelframe/internal/domain"
	"github.com/dunamismax/pixelframe/internal/pipeline"
	"github.com/dunamismax/pixelframe/internal/queue"
	"github.com/dunamismax/pixelframe/internal/storage"
	"github.com/dunamismax/pixelframe/internal/store"
	"github.com/dunamismax/pixelframe/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const downloadURLTTL = 24 * time.Hour

type Server struct {
	logger        *log.Logger
	server        *asynq.Server
	sem           chan struct{}
	newProcessor  func() *pipeline.Processor
	presigner     presigner
	webhookClient webhookSender
	jobStore      store.JobStore
	metrics       *metrics
	tracer        trace.Tracer
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

type presigner interface {
	PresignedGetURL(ctx context.Context, objectKey, filename string, expiry time.Duration) (string, error)
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	studioCfg config.StudioConfig,
	storageClient *storage.Client,
	webhookClient *webhook.Client,
	jobStore store.JobStore,
) (*Server, error) {
	cache := cover.NewTemplateCache()

	var (
		newProcessor func() *pipeline.Processor
		signer       presigner
	)
	switch strings.ToLower(strings.TrimSpace(workerCfg.Source)) {
	case "local":
		newProcessor = func() *pipeline.Processor {
			return pipeline.NewLocalProcessor(studioCfg.TemplateDir, workerCfg.LocalOutputDir)
		}
	case "", "object":
		if storageClient == nil {
			return nil, fmt.Errorf("storage client is required")
		}
		newProcessor = func() *pipeline.Processor {
			return pipeline.NewObjectStoreProcessor(storageClient, studioCfg.TemplatePrefix, workerCfg.OutputPrefix, cache)
		}
		signer = storageClient
	default:
		return nil, fmt.Errorf("unsupported worker source: %s", workerCfg.Source)
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		sem:           make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		newProcessor:  newProcessor,
		presigner:     signer,
		jobStore:      jobStore,
		metrics:       newMetrics(),
		tracer:        otel.Tracer("pixelframe/worker"),
	}
	if webhookClient != nil {
		s.webhookClient = webhookClient
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeExport, s.handleExport)
	return s.server.Run(mux)
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleExport(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseExportPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}
	return s.runExport(ctx, payload)
}

func (s *Server) runExport(ctx context.Context, payload queue.ExportPayload) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed
	kind := string(payload.Scene.Kind)

	ctx, span := s.tracer.Start(ctx, "worker.export", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.kind", kind),
		attribute.Int("job.photos", len(payload.Scene.ObjectKeys())),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(kind, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(kind, outcome).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	if s.jobSettled(ctx, payload.JobID) {
		outcome = "skipped"
		s.logger.Printf("job already settled, skipping job_id=%s", payload.JobID)
		return nil
	}

	s.logger.Printf("Working... job_id=%s kind=%s photos=%d", payload.JobID, kind, len(payload.Scene.ObjectKeys()))
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	out, err := s.newProcessor().Process(ctx, pipeline.Request{JobID: payload.JobID, Scene: payload.Scene})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "export failed")

		permanent := pipeline.Permanent(err)
		if !permanent && !finalAttempt(ctx) {
			outcome = "retry"
			s.logger.Printf("export attempt failed, will retry job_id=%s err=%v", payload.JobID, err)
			s.updateJobStatus(ctx, payload.JobID, domain.JobStatusQueued)
			return fmt.Errorf("run export: %w", err)
		}

		s.finishJob(ctx, payload.JobID, domain.JobOutcome{Status: domain.JobStatusFailed, Error: err.Error()})
		_ = s.dispatchWebhook(ctx, payload, webhook.EventExportFailed, webhook.ExportEvent{
			JobID:       payload.JobID,
			SessionID:   payload.SessionID,
			Kind:        kind,
			Status:      domain.JobStatusFailed,
			Error:       err.Error(),
			CompletedAt: time.Now().UTC(),
		})
		if permanent {
			return fmt.Errorf("run export: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("run export: %w", err)
	}

	stats := out.Stats()
	s.logger.Printf("Exported job_id=%s name=%s size=%dx%d bytes=%d resampled=%t", payload.JobID, out.Name, out.Width, out.Height, out.Bytes, out.Resampled)
	s.finishJob(ctx, payload.JobID, domain.JobOutcome{
		Status:     domain.JobStatusSucceeded,
		OutputKey:  out.Path,
		OutputName: out.Name,
		Stats:      stats,
	})
	s.recordStats(kind, stats)

	if err := s.dispatchWebhook(ctx, payload, webhook.EventExportSucceeded, webhook.ExportEvent{
		JobID:       payload.JobID,
		SessionID:   payload.SessionID,
		Kind:        kind,
		Status:      domain.JobStatusSucceeded,
		OutputKey:   out.Path,
		OutputName:  out.Name,
		DownloadURL: s.downloadURL(ctx, out),
		Stats:       stats,
		CompletedAt: time.Now().UTC(),
	}); err != nil {
		// The job is already settled; a failed delivery does not fail the task.
		span.RecordError(err)
	}

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "exported")
	return nil
}

// finalAttempt reports whether asynq will not retry the current task again.
// Outside a task context there is nothing to retry.
func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}

// jobSettled reports whether a redelivered task belongs to a job that already
// succeeded or failed.
func (s *Server) jobSettled(ctx context.Context, jobID string) bool {
	if s.jobStore == nil {
		return false
	}
	job, ok, err := s.jobStore.Get(ctx, jobID)
	if err != nil {
		s.logger.Printf("job lookup failed job_id=%s err=%v", jobID, err)
		return false
	}
	return ok && job.Done()
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Printf("job status update failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

func (s *Server) finishJob(ctx context.Context, jobID string, outcome domain.JobOutcome) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.Finish(ctx, jobID, outcome); err != nil {
		s.logger.Printf("job finish failed job_id=%s status=%s err=%v", jobID, outcome.Status, err)
	}
}

func (s *Server) downloadURL(ctx context.Context, out pipeline.Output) string {
	if s.presigner == nil {
		return ""
	}
	url, err := s.presigner.PresignedGetURL(ctx, out.Path, out.Name, downloadURLTTL)
	if err != nil {
		s.logger.Printf("presign download failed key=%s err=%v", out.Path, err)
		return ""
	}
	return url
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.ExportPayload, event string, body webhook.ExportEvent) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", payload.JobID, event, err)
		return fmt.Errorf("dispatch webhook: %w", err)
	}

	return nil
}

func (s *Server) recordStats(kind string, stats *domain.ExportStats) {
	if stats == nil {
		return
	}
	s.metrics.exportPixelsTotal.WithLabelValues(kind).Add(float64(stats.Width * stats.Height))
	s.metrics.exportBytesTotal.WithLabelValues(kind).Add(float64(stats.Bytes))
	s.metrics.computeTimeMSTotal.Add(float64(stats.ComputeTimeMS))
	if stats.Resampled {
		s.metrics.resampledTotal.WithLabelValues(kind).Inc()
	}
}
