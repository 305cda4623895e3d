package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/pixelframe/internal/domain"
	_ "github.com/lib/pq"
)

const jobSchemaSQL = `
CREATE TABLE IF NOT EXISTS export_jobs (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	kind TEXT NOT NULL,
	scene JSONB NOT NULL,
	webhook_url TEXT NOT NULL DEFAULT '',
	output_key TEXT NOT NULL DEFAULT '',
	output_name TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	stats JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS export_jobs_session_created_idx ON export_jobs (session_id, created_at DESC);
`

const jobColumns = `id, session_id, status, scene, webhook_url, output_key, output_name, error, stats, created_at, updated_at`

const selectJobSQL = `SELECT ` + jobColumns + `
	FROM export_jobs
	WHERE id = $1`

const listSessionJobsSQL = `SELECT ` + jobColumns + `
	FROM export_jobs
	WHERE session_id = $1
	ORDER BY created_at DESC
	LIMIT $2`

// unsettled limits updates to jobs that have not reached a terminal status.
const unsettled = `status NOT IN ('succeeded', 'failed')`

type rowScanner interface {
	Scan(dest ...any) error
}

type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(ctx context.Context, dsn string) (*PostgresJobStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresJobStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, jobSchemaSQL); err != nil {
		return fmt.Errorf("ensure export_jobs schema: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

func (s *PostgresJobStore) Create(ctx context.Context, job domain.ExportJob) error {
	sceneJSON, err := json.Marshal(job.Scene)
	if err != nil {
		return fmt.Errorf("marshal job scene: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO export_jobs (id, session_id, status, kind, scene, webhook_url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID,
		job.SessionID,
		job.Status,
		string(job.Scene.Kind),
		sceneJSON,
		job.WebhookURL,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (domain.ExportJob, bool, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, selectJobSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ExportJob{}, false, nil
	}
	if err != nil {
		return domain.ExportJob{}, false, err
	}
	return job, true, nil
}

func (s *PostgresJobStore) ListBySession(ctx context.Context, sessionID string, limit int) ([]domain.ExportJob, error) {
	rows, err := s.db.QueryContext(ctx, listSessionJobsSQL, sessionID, listLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list session jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.ExportJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list session jobs: %w", err)
	}
	return jobs, nil
}

func scanJob(row rowScanner) (domain.ExportJob, error) {
	var (
		job       domain.ExportJob
		sceneJSON []byte
		statsJSON []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.SessionID,
		&job.Status,
		&sceneJSON,
		&job.WebhookURL,
		&job.OutputKey,
		&job.OutputName,
		&job.Error,
		&statsJSON,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ExportJob{}, err
		}
		return domain.ExportJob{}, fmt.Errorf("scan job: %w", err)
	}

	if err := json.Unmarshal(sceneJSON, &job.Scene); err != nil {
		return domain.ExportJob{}, fmt.Errorf("unmarshal job scene: %w", err)
	}
	if len(statsJSON) > 0 {
		job.Stats = &domain.ExportStats{}
		if err := json.Unmarshal(statsJSON, job.Stats); err != nil {
			return domain.ExportJob{}, fmt.Errorf("unmarshal job stats: %w", err)
		}
	}
	return job, nil
}

func (s *PostgresJobStore) UpdateStatus(ctx context.Context, id, status string) (domain.ExportJob, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE export_jobs
		 SET status = $1, updated_at = $2
		 WHERE id = $3 AND `+unsettled,
		status,
		now,
		id,
	)
	if err != nil {
		return domain.ExportJob{}, fmt.Errorf("update job status: %w", err)
	}
	return s.reload(ctx, id, res)
}

func (s *PostgresJobStore) Finish(ctx context.Context, id string, outcome domain.JobOutcome) (domain.ExportJob, error) {
	var statsJSON []byte
	if outcome.Stats != nil {
		var err error
		statsJSON, err = json.Marshal(outcome.Stats)
		if err != nil {
			return domain.ExportJob{}, fmt.Errorf("marshal job stats: %w", err)
		}
	}

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE export_jobs
		 SET status = $1, output_key = $2, output_name = $3, error = $4, stats = $5, updated_at = $6
		 WHERE id = $7 AND `+unsettled,
		outcome.Status,
		outcome.OutputKey,
		outcome.OutputName,
		outcome.Error,
		statsJSON,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.ExportJob{}, fmt.Errorf("finish job: %w", err)
	}
	return s.reload(ctx, id, res)
}

// reload returns the job after an update. When nothing matched, the job is
// either missing or already settled.
func (s *PostgresJobStore) reload(ctx context.Context, id string, res sql.Result) (domain.ExportJob, error) {
	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.ExportJob{}, err
	}
	if !ok {
		return domain.ExportJob{}, ErrJobNotFound
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return job, ErrJobSettled
	}
	return job, nil
}
