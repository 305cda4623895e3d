package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/dunamismax/pixelframe/internal/domain"
)

// MemoryJobStore keeps jobs for the life of the process.
type MemoryJobStore struct {
	mu        sync.RWMutex
	jobs      map[string]domain.ExportJob
	bySession map[string][]string
	now       func() time.Time
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs:      make(map[string]domain.ExportJob),
		bySession: make(map[string][]string),
		now:       time.Now,
	}
}

func (s *MemoryJobStore) Create(_ context.Context, job domain.ExportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; !exists && job.SessionID != "" {
		s.bySession[job.SessionID] = append(s.bySession[job.SessionID], job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (domain.ExportJob, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return job, ok, nil
}

func (s *MemoryJobStore) ListBySession(_ context.Context, sessionID string, limit int) ([]domain.ExportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.bySession[sessionID]
	out := make([]domain.ExportJob, 0, min(len(ids), listLimit(limit)))
	for i := len(ids) - 1; i >= 0 && len(out) < listLimit(limit); i-- {
		out = append(out, s.jobs[ids[i]])
	}
	slices.SortStableFunc(out, func(a, b domain.ExportJob) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

func (s *MemoryJobStore) UpdateStatus(_ context.Context, id, status string) (domain.ExportJob, error) {
	return s.mutate(id, func(job *domain.ExportJob) {
		job.Status = status
	})
}

func (s *MemoryJobStore) Finish(_ context.Context, id string, outcome domain.JobOutcome) (domain.ExportJob, error) {
	return s.mutate(id, func(job *domain.ExportJob) {
		job.Status = outcome.Status
		job.OutputKey = outcome.OutputKey
		job.OutputName = outcome.OutputName
		job.Error = outcome.Error
		job.Stats = outcome.Stats
	})
}

func (s *MemoryJobStore) mutate(id string, apply func(*domain.ExportJob)) (domain.ExportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	switch {
	case !ok:
		return domain.ExportJob{}, ErrJobNotFound
	case job.Done():
		return job, ErrJobSettled
	}
	apply(&job)
	job.UpdatedAt = s.now().UTC()
	s.jobs[id] = job
	return job, nil
}
