package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agenthub/backend/internal/models"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/agenthub/backend/pkg/logger"
)

// Payload kinds a cronjob can carry. The runner's dispatch over these is
// exhaustive; an unknown kind is a validation error at creation time.
const (
	PayloadKindMessage = "message"
	PayloadKindCommand = "command"
)

// MessagePayload delivers a free-text message to the owner's agent gateway.
type MessagePayload struct {
	Message string `json:"message"`
	Target  string `json:"target,omitempty"`
	Channel string `json:"channel,omitempty"`
	Deliver bool   `json:"deliver,omitempty"`
}

// CommandPayload invokes a named gateway command.
type CommandPayload struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// DecodePayload parses the stored payload JSON into its typed form.
func DecodePayload(kind, raw string) (interface{}, error) {
	switch kind {
	case PayloadKindMessage:
		var p MessagePayload
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, err
		}
		if p.Message == "" {
			return nil, errors.New("message payload requires a message")
		}
		return &p, nil
	case PayloadKindCommand:
		var p CommandPayload
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, err
		}
		if p.Command == "" {
			return nil, errors.New("command payload requires a command")
		}
		return &p, nil
	default:
		return nil, fmt.Errorf("unknown payload kind: %s", kind)
	}
}

// CronjobService owns cronjob definitions and execution records, including
// the atomic claim primitive the scheduler runs on.
type CronjobService struct {
	db  *gorm.DB
	log zerolog.Logger
}

func NewCronjobService(db *gorm.DB) *CronjobService {
	return &CronjobService{db: db, log: logger.With("cronjob")}
}

type CronjobRequest struct {
	Name            string          `json:"name" binding:"required"`
	ScheduleType    string          `json:"schedule_type" binding:"required"`
	ScheduleExpr    string          `json:"schedule_expr"`
	ScheduleEveryMs int64           `json:"schedule_every_ms"`
	ScheduleAtMs    int64           `json:"schedule_at_ms"`
	Enabled         *bool           `json:"enabled"`
	DeleteAfterRun  bool            `json:"delete_after_run"`
	PayloadKind     string          `json:"payload_kind" binding:"required"`
	Payload         json.RawMessage `json:"payload" binding:"required"`
}

func (r *CronjobRequest) validate() error {
	switch r.ScheduleType {
	case models.ScheduleTypeCron, models.ScheduleTypeEvery, models.ScheduleTypeAt:
	default:
		return fmt.Errorf("unknown schedule type: %s", r.ScheduleType)
	}
	if !IsValidSchedule(r.ScheduleType, r.ScheduleExpr, r.ScheduleEveryMs, r.ScheduleAtMs) {
		return errors.New("invalid schedule")
	}
	if r.ScheduleType == models.ScheduleTypeAt && !time.UnixMilli(r.ScheduleAtMs).After(time.Now()) {
		return errors.New("one-shot schedule must be in the future")
	}
	if _, err := DecodePayload(r.PayloadKind, string(r.Payload)); err != nil {
		return err
	}
	return nil
}

// Create validates and stores a new cronjob with its first fire time.
func (s *CronjobService) Create(ownerID uint, req *CronjobRequest) (*models.Cronjob, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	job := models.Cronjob{
		OwnerID:         ownerID,
		Name:            req.Name,
		ScheduleType:    req.ScheduleType,
		ScheduleExpr:    req.ScheduleExpr,
		ScheduleEveryMs: req.ScheduleEveryMs,
		ScheduleAtMs:    req.ScheduleAtMs,
		Enabled:         enabled,
		DeleteAfterRun:  req.DeleteAfterRun,
		PayloadKind:     req.PayloadKind,
		Payload:         string(req.Payload),
	}
	if enabled {
		job.NextRunAt = NextFireTime(job.ScheduleType, job.ScheduleExpr, job.ScheduleEveryMs, job.ScheduleAtMs, time.Now())
	}

	if err := s.db.Create(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// Get returns a job owned by ownerID.
func (s *CronjobService) Get(ownerID, jobID uint) (*models.Cronjob, error) {
	var job models.Cronjob
	if err := s.db.First(&job, jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	return &job, nil
}

// List returns all jobs owned by ownerID.
func (s *CronjobService) List(ownerID uint) ([]models.Cronjob, error) {
	var jobs []models.Cronjob
	if err := s.db.Where("owner_id = ?", ownerID).Order("id").Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// Update replaces a job's definition and recomputes its fire time.
func (s *CronjobService) Update(ownerID, jobID uint, req *CronjobRequest) (*models.Cronjob, error) {
	job, err := s.Get(ownerID, jobID)
	if err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	job.Name = req.Name
	job.ScheduleType = req.ScheduleType
	job.ScheduleExpr = req.ScheduleExpr
	job.ScheduleEveryMs = req.ScheduleEveryMs
	job.ScheduleAtMs = req.ScheduleAtMs
	job.DeleteAfterRun = req.DeleteAfterRun
	job.PayloadKind = req.PayloadKind
	job.Payload = string(req.Payload)
	if req.Enabled != nil {
		job.Enabled = *req.Enabled
	}

	if job.Enabled {
		job.NextRunAt = NextFireTime(job.ScheduleType, job.ScheduleExpr, job.ScheduleEveryMs, job.ScheduleAtMs, time.Now())
	} else {
		job.NextRunAt = nil
	}

	if err := s.db.Save(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

// SetEnabled toggles a job. Disabling clears the fire time; enabling
// recomputes it.
func (s *CronjobService) SetEnabled(ownerID, jobID uint, enabled bool) (*models.Cronjob, error) {
	job, err := s.Get(ownerID, jobID)
	if err != nil {
		return nil, err
	}

	job.Enabled = enabled
	if enabled {
		job.NextRunAt = NextFireTime(job.ScheduleType, job.ScheduleExpr, job.ScheduleEveryMs, job.ScheduleAtMs, time.Now())
	} else {
		job.NextRunAt = nil
	}

	if err := s.db.Save(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

// Delete removes a job and its execution history.
func (s *CronjobService) Delete(ownerID, jobID uint) error {
	job, err := s.Get(ownerID, jobID)
	if err != nil {
		return err
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("cronjob_id = ?", job.ID).Delete(&models.CronjobExecution{}).Error; err != nil {
			return err
		}
		return tx.Delete(job).Error
	})
}

// ListExecutions returns recent executions of a job, newest first.
func (s *CronjobService) ListExecutions(ownerID, jobID uint, limit int) ([]models.CronjobExecution, error) {
	if _, err := s.Get(ownerID, jobID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var execs []models.CronjobExecution
	if err := s.db.Where("cronjob_id = ?", jobID).
		Order("started_at DESC").
		Limit(limit).
		Find(&execs).Error; err != nil {
		return nil, err
	}
	return execs, nil
}

// ClaimDueJobs atomically claims up to limit due jobs. A job is due when it
// is enabled, its fire time has passed and it is not already claimed. The
// claim is a per-row compare-and-set on running_at, so two concurrent
// pollers can never claim the same job.
func (s *CronjobService) ClaimDueJobs(limit int, now time.Time) ([]models.Cronjob, error) {
	var candidates []models.Cronjob
	if err := s.db.
		Where("enabled = ? AND running_at IS NULL AND next_run_at IS NOT NULL AND next_run_at <= ?", true, now).
		Order("next_run_at").
		Limit(limit).
		Find(&candidates).Error; err != nil {
		return nil, err
	}

	claimed := make([]models.Cronjob, 0, len(candidates))
	for _, job := range candidates {
		ok, err := s.claimDue(&job, now)
		if err != nil {
			return claimed, err
		}
		if ok {
			claimed = append(claimed, job)
		}
	}
	return claimed, nil
}

// ClaimForManualRun claims a job for an immediate run, bypassing the due
// check but not the running_at guard: a manual run on an already-running job
// is refused rather than run concurrently.
func (s *CronjobService) ClaimForManualRun(ownerID, jobID uint, now time.Time) (*models.Cronjob, error) {
	job, err := s.Get(ownerID, jobID)
	if err != nil {
		return nil, err
	}

	ok, err := s.claim(job, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: job is already running", ErrConflict)
	}
	return job, nil
}

// claimDue repeats the full due predicate inside the compare-and-set. The
// candidate row may be stale by the time the CAS runs: another poller can
// have claimed, executed and released the job in between, pushing
// next_run_at into the future. Re-checking only running_at would let the
// stale holder fire the job a second time.
func (s *CronjobService) claimDue(job *models.Cronjob, now time.Time) (bool, error) {
	res := s.db.Model(&models.Cronjob{}).
		Where("id = ? AND running_at IS NULL AND enabled = ? AND next_run_at IS NOT NULL AND next_run_at <= ?",
			job.ID, true, now).
		Update("running_at", now)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	job.RunningAt = &now
	return true, nil
}

// claim takes the job regardless of dueness. Manual runs only; the scheduled
// path goes through claimDue.
func (s *CronjobService) claim(job *models.Cronjob, now time.Time) (bool, error) {
	res := s.db.Model(&models.Cronjob{}).
		Where("id = ? AND running_at IS NULL", job.ID).
		Update("running_at", now)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	job.RunningAt = &now
	return true, nil
}

// ReleaseClaim clears running_at without recording an execution. Used when a
// claimed job cannot be run after all, so it comes due again instead of
// staying claimed forever.
func (s *CronjobService) ReleaseClaim(jobID uint) error {
	return s.db.Model(&models.Cronjob{}).
		Where("id = ?", jobID).
		Update("running_at", nil).Error
}

// ReleaseStaleClaims frees claims older than cutoff. Crash-recovery backstop:
// a process that died mid-execution leaves running_at set, and without this
// sweep the job would never fire again.
func (s *CronjobService) ReleaseStaleClaims(cutoff time.Time) (int64, error) {
	res := s.db.Model(&models.Cronjob{}).
		Where("running_at IS NOT NULL AND running_at < ?", cutoff).
		Update("running_at", nil)
	return res.RowsAffected, res.Error
}

// StartExecution opens the running execution record for a claimed job.
func (s *CronjobService) StartExecution(jobID uint, startedAt time.Time) (*models.CronjobExecution, error) {
	exec := models.CronjobExecution{
		CronjobID: jobID,
		Status:    models.ExecStatusRunning,
		StartedAt: startedAt,
	}
	if err := s.db.Create(&exec).Error; err != nil {
		return nil, err
	}
	return &exec, nil
}

// CompleteExecution finalizes an execution and releases its job in one
// transaction: the execution row gets its terminal status, the job clears
// running_at, recomputes next_run_at from the fire time (failures reschedule
// too), and is deleted afterwards when marked delete-after-run.
func (s *CronjobService) CompleteExecution(job *models.Cronjob, exec *models.CronjobExecution, status, output, errText string, finishedAt time.Time) error {
	duration := finishedAt.Sub(exec.StartedAt).Milliseconds()

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(exec).Updates(map[string]interface{}{
			"status":      status,
			"finished_at": finishedAt,
			"duration_ms": duration,
			"output":      output,
			"error":       errText,
		}).Error; err != nil {
			return err
		}

		if job.DeleteAfterRun {
			// The execution record above outlives its parent.
			return tx.Delete(&models.Cronjob{}, job.ID).Error
		}

		var nextRunAt *time.Time
		if job.Enabled {
			nextRunAt = NextFireTime(job.ScheduleType, job.ScheduleExpr, job.ScheduleEveryMs, job.ScheduleAtMs, exec.StartedAt)
		}

		return tx.Model(&models.Cronjob{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"running_at":       nil,
				"next_run_at":      nextRunAt,
				"last_status":      status,
				"last_error":       errText,
				"last_duration_ms": duration,
			}).Error
	})
}
