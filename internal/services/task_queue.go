package services

import (
	"encoding/json"

	"github.com/agenthub/backend/internal/config"
	"github.com/hibiken/asynq"

	"github.com/agenthub/backend/pkg/logger"
)

const (
	TaskTypeExecution = "cronjob:execute"
)

// ExecutionTask carries a claimed cronjob to the async worker. The claim
// happened in the scheduler tick, so the worker never races another
// consumer for the same job.
type ExecutionTask struct {
	CronjobID uint `json:"cronjob_id"`
}

// TaskQueue defines the interface for handing claimed jobs to a worker.
type TaskQueue interface {
	// Enqueue adds a task to the queue.
	Enqueue(task *ExecutionTask) error
	// IsAsync returns true if the queue processes tasks out of process.
	IsAsync() bool
	// Close gracefully shuts down the queue.
	Close() error
}

// AsyncQueue implements TaskQueue using asynq (Redis-based).
type AsyncQueue struct {
	client *asynq.Client
}

// NewAsyncQueue creates a Redis-backed queue, verifying connectivity first.
func NewAsyncQueue(cfg *config.RedisConfig) (*AsyncQueue, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	client := asynq.NewClient(redisOpt)

	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()

	if _, err := inspector.Queues(); err != nil {
		client.Close()
		return nil, err
	}

	return &AsyncQueue{client: client}, nil
}

// Enqueue adds an execution task to the queue. MaxRetry is zero: the
// scheduler owns rescheduling, a failed delivery is never replayed by the
// queue itself.
func (q *AsyncQueue) Enqueue(task *ExecutionTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}

	t := asynq.NewTask(TaskTypeExecution, payload)
	info, err := q.client.Enqueue(t,
		asynq.Queue("default"),
		asynq.MaxRetry(0),
	)
	if err != nil {
		return err
	}

	logger.Infof("[AsyncQueue] Execution task enqueued: id=%s, cronjob=%d", info.ID, task.CronjobID)
	return nil
}

func (q *AsyncQueue) IsAsync() bool {
	return true
}

func (q *AsyncQueue) Close() error {
	return q.client.Close()
}
