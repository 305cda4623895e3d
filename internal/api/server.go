package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/dunamismax/pixelframe/internal/queue"
	"github.com/dunamismax/pixelframe/internal/store"
	"github.com/dunamismax/pixelframe/internal/studio"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger      *log.Logger
	sessions    *studio.Manager
	queueClient queueEnqueuer
	jobStore    store.JobStore
	storage     objectStorage
	presignTTL  time.Duration
	mux         *http.ServeMux
	metrics     *metrics
	tracer      trace.Tracer

	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
}

type queueEnqueuer interface {
	EnqueueExport(ctx context.Context, payload queue.ExportPayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	PresignedGetURL(ctx context.Context, objectKey, filename string, expiry time.Duration) (string, error)
}

func NewServer(logger *log.Logger, sessions *studio.Manager, queueClient queueEnqueuer, jobStore store.JobStore, storage objectStorage, presignTTL time.Duration) *Server {
	if presignTTL <= 0 {
		presignTTL = 15 * time.Minute
	}
	if storage == nil {
		storage = unavailableObjectStorage{}
	}
	if jobStore == nil {
		jobStore = store.NewMemoryJobStore()
	}

	s := &Server{
		logger:                logger,
		sessions:              sessions,
		queueClient:           queueClient,
		jobStore:              jobStore,
		storage:               storage,
		presignTTL:            presignTTL,
		mux:                   http.NewServeMux(),
		metrics:               newMetrics(sessions),
		rateLimitUserIDHeader: "X-Session-ID",
	}
	s.routes()
	return s
}

// WithRateLimiter limits mutating routes per subject. The subject is read
// from header, falling back to the session in the path.
func (s *Server) WithRateLimiter(limiter RateLimiter, header string) *Server {
	s.rateLimiter = limiter
	if header != "" {
		s.rateLimitUserIDHeader = header
	}
	return s
}

func (s *Server) WithTracer(tracer trace.Tracer) *Server {
	s.tracer = tracer
	return s
}

type unavailableObjectStorage struct{}

func (unavailableObjectStorage) PresignedGetURL(_ context.Context, _, _ string, _ time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (s *Server) Handler() http.Handler {
	return s.withTracing(s.metrics.withHTTPMetrics(s.withRateLimit(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("GET /v1/presets", s.handlePresets)

	s.mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleDeleteSession)
	s.mux.HandleFunc("PUT /v1/sessions/{id}/slots/{slot}/photo", s.handleUploadPhoto)
	s.mux.HandleFunc("DELETE /v1/sessions/{id}/slots/{slot}/photo", s.handleClearPhoto)
	s.mux.HandleFunc("POST /v1/sessions/{id}/slots/{slot}/gestures", s.handleGestures)
	s.mux.HandleFunc("GET /v1/sessions/{id}/templates", s.handleTemplates)
	s.mux.HandleFunc("PUT /v1/sessions/{id}/template", s.handleSelectTemplate)
	s.mux.HandleFunc("PATCH /v1/sessions/{id}/poster", s.handleUpdatePoster)
	s.mux.HandleFunc("PATCH /v1/sessions/{id}/theme", s.handleUpdateTheme)
	s.mux.HandleFunc("GET /v1/sessions/{id}/export/{kind}", s.handleExport)
	s.mux.HandleFunc("POST /v1/sessions/{id}/exports", s.handleCreateExportJob)
	s.mux.HandleFunc("GET /v1/sessions/{id}/exports", s.handleListExportJobs)

	s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
