package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"
)

type CreateExportRequest struct {
	Kind       string `json:"kind"`
	WebhookURL string `json:"webhook_url,omitempty"`
}

func (r CreateExportRequest) Validate() error {
	if _, err := ParseKind(r.Kind); err != nil {
		return err
	}
	if strings.TrimSpace(r.WebhookURL) != "" {
		u, err := url.Parse(r.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("webhook_url must be an absolute http(s) url")
		}
	}
	return nil
}

// ExportJob is an asynchronous export of a scene snapshot.
type ExportJob struct {
	ID         string       `json:"id"`
	SessionID  string       `json:"session_id"`
	Status     string       `json:"status"`
	Scene      Scene        `json:"scene"`
	WebhookURL string       `json:"webhook_url,omitempty"`
	OutputKey  string       `json:"output_key,omitempty"`
	OutputName string       `json:"output_name,omitempty"`
	Error      string       `json:"error,omitempty"`
	Stats      *ExportStats `json:"stats,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

func (j ExportJob) Done() bool {
	return j.Status == JobStatusSucceeded || j.Status == JobStatusFailed
}

// JobOutcome is the terminal state the worker records for a job.
type JobOutcome struct {
	Status     string
	OutputKey  string
	OutputName string
	Error      string
	Stats      *ExportStats
}
