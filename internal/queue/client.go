package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

// DefaultRunTimeout bounds a single run. Large folders of full-disk frames
// take a while.
const DefaultRunTimeout = 6 * time.Hour

type Client struct {
	client  *asynq.Client
	queue   string
	timeout time.Duration
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client:  asynq.NewClient(redisOpt),
		queue:   queueName,
		timeout: DefaultRunTimeout,
	}
}

func (c *Client) Queue() string {
	return c.queue
}

// EnqueueRun submits a run. The run ID doubles as the task ID, so a run is
// never queued twice. Runs are not retried: a partial run has already
// spent part of its output budget.
func (c *Client) EnqueueRun(ctx context.Context, payload RunPayload) (*asynq.TaskInfo, error) {
	task, err := NewRunTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.TaskID(payload.RunID),
		asynq.MaxRetry(0),
		asynq.Timeout(c.timeout),
		asynq.Retention(24*time.Hour),
	)
}

func (c *Client) Close() error {
	return c.client.Close()
}
