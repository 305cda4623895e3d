package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dunamismax/pixelframe/internal/domain"
	"github.com/dunamismax/pixelframe/internal/id"
	"github.com/dunamismax/pixelframe/internal/queue"
)

// handleCreateExportJob snapshots the session and renders it on a worker.
func (s *Server) handleCreateExportJob(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if s.queueClient == nil {
		writeError(w, http.StatusServiceUnavailable, "export queue is unavailable")
		return
	}

	var req domain.CreateExportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	kind, _ := domain.ParseKind(req.Kind)
	scene, err := sess.Scene(kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	job := domain.ExportJob{
		ID:         id.New(),
		SessionID:  sess.ID(),
		Status:     domain.JobStatusCreated,
		Scene:      scene,
		WebhookURL: req.WebhookURL,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Printf("create job failed for job %s: %v", job.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	taskInfo, err := s.queueClient.EnqueueExport(r.Context(), queue.ExportPayload{
		JobID:       job.ID,
		SessionID:   job.SessionID,
		WebhookURL:  job.WebhookURL,
		Scene:       scene,
		RequestedAt: now,
	})
	if errors.Is(err, queue.ErrDuplicateJob) {
		writeError(w, http.StatusConflict, "export job already enqueued")
		return
	}
	if err != nil {
		s.logger.Printf("enqueue failed for job %s: %v", job.ID, err)
		if _, ferr := s.jobStore.Finish(r.Context(), job.ID, domain.JobOutcome{Status: domain.JobStatusFailed, Error: "enqueue failed"}); ferr != nil {
			s.logger.Printf("mark job failed for job %s: %v", job.ID, ferr)
		}
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	if _, err := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		s.logger.Printf("update status failed for job %s: %v", job.ID, err)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      domain.JobStatusQueued,
		"kind":        kind,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
		"status_url":  "/v1/jobs/" + job.ID,
	})
}

// handleListExportJobs lists a session's jobs. Jobs outlive their session, so
// the session itself need not still exist.
func (s *Server) handleListExportJobs(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if !id.Valid(sessionID) {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	jobs, err := s.jobStore.ListBySession(r.Context(), sessionID, limit)
	if err != nil {
		s.logger.Printf("list jobs failed for session %s: %v", sessionID, err)
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []domain.ExportJob{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if !id.Valid(jobID) {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job failed for job %s: %v", jobID, err)
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	body := map[string]any{"job": job}
	if job.Status == domain.JobStatusSucceeded && job.OutputKey != "" {
		url, err := s.storage.PresignedGetURL(r.Context(), job.OutputKey, job.OutputName, s.presignTTL)
		if err != nil {
			s.logger.Printf("presign download failed for job %s: %v", jobID, err)
		} else {
			body["download_url"] = url
		}
	}
	writeJSON(w, http.StatusOK, body)
}
