package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agenthub/backend/internal/config"
	"github.com/agenthub/backend/internal/models"
	"github.com/rs/zerolog"

	"github.com/agenthub/backend/pkg/logger"
)

// staleClaimAfter bounds how long a claim may be held. Executions are bounded
// by the gateway timeout, so a claim this old belongs to a process that died
// mid-run and gets released by the tick sweep.
const staleClaimAfter = 30 * time.Minute

// Scheduler polls for due cronjobs, claims them, and delivers their payloads
// to the agent gateway.
//
// The poll loop is cooperative: a tick that is still running when the next
// one fires is skipped, never queued, so jobs fire no earlier than scheduled
// but may fire later under load. Claimed jobs execute concurrently within a
// tick and each outcome is isolated; a failing job is recorded and
// rescheduled like any other.
type Scheduler struct {
	jobs    *CronjobService
	gateway GatewayClient
	queue   TaskQueue

	interval time.Duration
	batch    int
	now      func() time.Time

	polling atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex

	sweeps []sweep
	log    zerolog.Logger
}

type sweep struct {
	name string
	fn   func() error
}

func NewScheduler(jobs *CronjobService, gateway GatewayClient, cfg *config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		jobs:     jobs,
		gateway:  gateway,
		interval: time.Duration(cfg.PollIntervalSec) * time.Second,
		batch:    cfg.BatchSize,
		now:      time.Now,
		log:      logger.With("scheduler"),
	}
}

// SetQueue routes claimed jobs through an async execution queue instead of
// running them inline in the tick.
func (s *Scheduler) SetQueue(q TaskQueue) {
	s.queue = q
}

// AddSweep registers a housekeeping task that runs at the start of every
// tick (expired token cleanup, stale order expiry).
func (s *Scheduler) AddSweep(name string, fn func() error) {
	s.sweeps = append(s.sweeps, sweep{name: name, fn: fn})
}

// Start launches the poll loop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.started = true
	s.stopCh = make(chan struct{})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.log.Info().Dur("interval", s.interval).Int("batch", s.batch).Msg("scheduler started")
		for {
			select {
			case <-ticker.C:
				s.Tick()
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop shuts down the poll loop and waits for in-flight executions.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info().Msg("scheduler stopped")
}

// Tick runs one poll cycle: sweeps, then claim-and-execute of due jobs.
// Reentrant-safe; an overlapping call is skipped.
func (s *Scheduler) Tick() {
	if !s.polling.CompareAndSwap(false, true) {
		s.log.Debug().Msg("previous tick still running, skipping")
		return
	}
	defer s.polling.Store(false)

	for _, sw := range s.sweeps {
		if err := sw.fn(); err != nil {
			s.log.Error().Err(err).Str("sweep", sw.name).Msg("sweep failed")
		}
	}

	now := s.now()
	if n, err := s.jobs.ReleaseStaleClaims(now.Add(-staleClaimAfter)); err != nil {
		s.log.Error().Err(err).Msg("stale claim sweep failed")
	} else if n > 0 {
		s.log.Warn().Int64("released", n).Msg("released stale job claims")
	}

	// A mid-batch claim error still leaves earlier claims held; execute
	// whatever was claimed so none of them strand with running_at set.
	claimed, err := s.jobs.ClaimDueJobs(s.batch, now)
	if err != nil {
		s.log.Error().Err(err).Msg("claim query failed")
	}
	if len(claimed) == 0 {
		return
	}
	s.log.Info().Int("claimed", len(claimed)).Msg("executing due jobs")

	var tickWG sync.WaitGroup
	for i := range claimed {
		job := claimed[i]

		if s.queue != nil && s.queue.IsAsync() {
			if err := s.queue.Enqueue(&ExecutionTask{CronjobID: job.ID}); err != nil {
				s.log.Error().Err(err).Uint("job_id", job.ID).Msg("enqueue failed, running inline")
			} else {
				continue
			}
		}

		tickWG.Add(1)
		go func() {
			defer tickWG.Done()
			s.ExecuteClaimed(&job)
		}()
	}
	tickWG.Wait()
}

// RunNow executes a job immediately, bypassing the due check. It serializes
// through the same claim guard as scheduled runs: a job that is already
// running is refused with a conflict rather than run concurrently.
func (s *Scheduler) RunNow(ownerID, jobID uint) (*models.CronjobExecution, error) {
	job, err := s.jobs.ClaimForManualRun(ownerID, jobID, s.now())
	if err != nil {
		return nil, err
	}
	exec := s.ExecuteClaimed(job)
	if exec == nil {
		return nil, errors.New("failed to start execution")
	}
	return exec, nil
}

// StopJob sends a best-effort stop signal to the gateway for a job's target.
// Advisory only: local bookkeeping is untouched and errors are swallowed.
func (s *Scheduler) StopJob(ownerID, jobID uint) error {
	job, err := s.jobs.Get(ownerID, jobID)
	if err != nil {
		return err
	}

	target := ""
	if payload, err := DecodePayload(job.PayloadKind, job.Payload); err == nil {
		if msg, ok := payload.(*MessagePayload); ok {
			target = msg.Target
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.gateway.Stop(ctx, target); err != nil {
		s.log.Warn().Err(err).Uint("job_id", jobID).Msg("gateway stop signal failed")
	}
	return nil
}

// ExecuteClaimed runs an already-claimed job through open-execution, gateway
// call, and completion. It never panics out: a crash in the payload dispatch
// is recorded as a failure like any other. The returned execution record is
// in its terminal state.
func (s *Scheduler) ExecuteClaimed(job *models.Cronjob) *models.CronjobExecution {
	startedAt := s.now()
	exec, err := s.jobs.StartExecution(job.ID, startedAt)
	if err != nil {
		s.log.Error().Err(err).Uint("job_id", job.ID).Msg("failed to open execution record")
		// Release the claim so the job comes due again instead of
		// stranding with running_at set.
		if relErr := s.jobs.ReleaseClaim(job.ID); relErr != nil {
			s.log.Error().Err(relErr).Uint("job_id", job.ID).Msg("failed to release claim")
		}
		return nil
	}

	output, runErr := s.dispatch(job)

	status := models.ExecStatusSuccess
	errText := ""
	if runErr != nil {
		status = models.ExecStatusFailure
		errText = runErr.Error()
		s.log.Warn().Err(runErr).Uint("job_id", job.ID).Str("name", job.Name).Msg("job failed")
	} else {
		s.log.Info().Uint("job_id", job.ID).Str("name", job.Name).Msg("job succeeded")
	}

	if err := s.jobs.CompleteExecution(job, exec, status, output, errText, s.now()); err != nil {
		s.log.Error().Err(err).Uint("job_id", job.ID).Msg("failed to finalize execution")
	}
	return exec
}

// dispatch decodes the job payload and performs the gateway call for its
// kind. The switch is exhaustive over the payload kinds accepted at
// creation.
func (s *Scheduler) dispatch(job *models.Cronjob) (output string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()

	payload, err := DecodePayload(job.PayloadKind, job.Payload)
	if err != nil {
		return "", err
	}

	ctx := context.Background()
	switch p := payload.(type) {
	case *MessagePayload:
		return s.gateway.SendMessage(ctx, p)
	case *CommandPayload:
		return s.gateway.RunCommand(ctx, p)
	default:
		return "", fmt.Errorf("unhandled payload kind: %s", job.PayloadKind)
	}
}
