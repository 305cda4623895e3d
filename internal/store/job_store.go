package store

import (
	"context"
	"errors"

	"github.com/dunamismax/pixelframe/internal/domain"
)

var (
	ErrJobNotFound = errors.New("job not found")
	// ErrJobSettled is returned when a succeeded or failed job is modified.
	ErrJobSettled = errors.New("job already settled")
)

const defaultListLimit = 50

// JobStore persists export jobs. Settled jobs are immutable.
type JobStore interface {
	Create(ctx context.Context, job domain.ExportJob) error
	Get(ctx context.Context, id string) (domain.ExportJob, bool, error)
	// ListBySession returns a session's jobs, newest first.
	ListBySession(ctx context.Context, sessionID string, limit int) ([]domain.ExportJob, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.ExportJob, error)
	Finish(ctx context.Context, id string, outcome domain.JobOutcome) (domain.ExportJob, error)
}

func listLimit(limit int) int {
	if limit <= 0 || limit > defaultListLimit {
		return defaultListLimit
	}
	return limit
}
