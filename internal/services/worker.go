package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/agenthub/backend/internal/config"
	"github.com/agenthub/backend/internal/models"
	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"github.com/agenthub/backend/pkg/logger"
)

// Worker consumes execution tasks from the async queue and runs them
// through the scheduler's claimed-job path.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	db        *gorm.DB
	scheduler *Scheduler
	running   bool
	mu        sync.Mutex
}

func NewWorker(cfg *config.RedisConfig, db *gorm.DB, scheduler *Scheduler) *Worker {
	if !cfg.Enabled {
		return nil
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"default": 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Errorf("[Worker] Error processing task %s: %v", task.Type(), err)
			}),
		},
	)

	return &Worker{
		server:    server,
		mux:       asynq.NewServeMux(),
		db:        db,
		scheduler: scheduler,
	}
}

// Start begins processing tasks.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	w.mux.HandleFunc(TaskTypeExecution, w.handleExecutionTask)
	w.running = true

	go func() {
		logger.Infof("[Worker] Starting async worker...")
		if err := w.server.Run(w.mux); err != nil {
			logger.Errorf("[Worker] Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the worker.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	logger.Infof("[Worker] Shutting down...")
	w.server.Shutdown()
	w.running = false
}

// handleExecutionTask loads the claimed job and executes it. A job that was
// deleted between claim and delivery is dropped silently.
func (w *Worker) handleExecutionTask(ctx context.Context, t *asynq.Task) error {
	var task ExecutionTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		logger.Errorf("[Worker] Failed to unmarshal task: %v", err)
		return err
	}

	var job models.Cronjob
	if err := w.db.First(&job, task.CronjobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Warnf("[Worker] Cronjob %d vanished before execution", task.CronjobID)
			return nil
		}
		return err
	}
	if job.RunningAt == nil {
		// Claim was released (for example by a completed manual run).
		logger.Warnf("[Worker] Cronjob %d no longer claimed, skipping", task.CronjobID)
		return nil
	}

	w.scheduler.ExecuteClaimed(&job)
	return nil
}
