package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/pixelframe/internal/domain"
	"github.com/hibiken/asynq"
)

const (
	exportMaxRetry  = 3
	exportRetention = 24 * time.Hour
)

// ErrDuplicateJob is returned when a job ID has already been enqueued.
var ErrDuplicateJob = errors.New("export job already enqueued")

// Client enqueues export tasks onto a single asynq queue.
type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

func (c *Client) EnqueueExport(ctx context.Context, payload ExportPayload) (*asynq.TaskInfo, error) {
	task, err := NewExportTask(payload)
	if err != nil {
		return nil, err
	}
	info, err := c.client.EnqueueContext(ctx, task, exportOptions(c.queue, payload)...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateJob, payload.JobID)
	}
	return info, err
}

// exportOptions keys the task by job ID and gives posters, which decode and
// composite two photos, a longer deadline than covers.
func exportOptions(queueName string, payload ExportPayload) []asynq.Option {
	return []asynq.Option{
		asynq.Queue(queueName),
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(exportMaxRetry),
		asynq.Timeout(exportTimeout(payload.Scene.Kind)),
		asynq.Retention(exportRetention),
	}
}

func exportTimeout(kind domain.Kind) time.Duration {
	if kind == domain.KindPoster {
		return 3 * time.Minute
	}
	return time.Minute
}

func (c *Client) Close() error {
	return c.client.Close()
}
