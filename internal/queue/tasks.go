package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/pixelframe/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeExport = "scene:export"

// ExportPayload carries a full scene snapshot so the worker never reads
// session state.
type ExportPayload struct {
	JobID       string       `json:"job_id"`
	SessionID   string       `json:"session_id,omitempty"`
	WebhookURL  string       `json:"webhook_url,omitempty"`
	Scene       domain.Scene `json:"scene"`
	RequestedAt time.Time    `json:"requested_at"`
}

func NewExportTask(payload ExportPayload) (*asynq.Task, error) {
	if payload.JobID == "" {
		return nil, errors.New("export payload requires job_id")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal export payload: %w", err)
	}
	return asynq.NewTask(TypeExport, body), nil
}

func ParseExportPayload(task *asynq.Task) (ExportPayload, error) {
	var payload ExportPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ExportPayload{}, fmt.Errorf("unmarshal export payload: %w", err)
	}
	return payload, nil
}
