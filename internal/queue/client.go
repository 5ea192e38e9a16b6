package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/voicecast/internal/config"
)

// Enqueuer is what the api needs from the queue.
type Enqueuer interface {
	EnqueuePrewarm(payload PrewarmPayload) (string, error)
	EnqueueStorageDelete(payload StorageDeletePayload, delay time.Duration) (string, error)
}

type Client struct {
	client *asynq.Client
}

var _ Enqueuer = (*Client)(nil)

func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

func NewClient(cfg config.RedisConfig) *Client {
	return &Client{client: asynq.NewClient(RedisOpt(cfg))}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueuePrewarm returns the task ID.
func (c *Client) EnqueuePrewarm(payload PrewarmPayload) (string, error) {
	task, opts, err := prewarmTask(payload)
	if err != nil {
		return "", err
	}
	return c.enqueue(task, opts...)
}

func (c *Client) EnqueueStorageDelete(payload StorageDeletePayload, delay time.Duration) (string, error) {
	task, opts, err := storageDeleteTask(payload, delay)
	if err != nil {
		return "", err
	}
	return c.enqueue(task, opts...)
}

func prewarmTask(payload PrewarmPayload) (*asynq.Task, []asynq.Option, error) {
	task, err := newTask(TypeTTSPrewarm, payload)
	if err != nil {
		return nil, nil, err
	}
	return task, []asynq.Option{
		asynq.TaskID(uuid.NewString()),
		asynq.Queue("low"),
		asynq.MaxRetry(3),
		asynq.Timeout(10 * time.Minute),
	}, nil
}

func storageDeleteTask(payload StorageDeletePayload, delay time.Duration) (*asynq.Task, []asynq.Option, error) {
	task, err := newTask(TypeStorageDelete, payload)
	if err != nil {
		return nil, nil, err
	}
	opts := []asynq.Option{
		asynq.TaskID(uuid.NewString()),
		asynq.Queue("default"),
		asynq.MaxRetry(5),
		asynq.Timeout(30 * time.Second),
	}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}
	return task, opts, nil
}

func newTask(taskType string, payload any) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(taskType, data), nil
}

func (c *Client) enqueue(task *asynq.Task, opts ...asynq.Option) (string, error) {
	info, err := c.client.Enqueue(task, opts...)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", task.Type(), err)
	}
	return info.ID, nil
}
