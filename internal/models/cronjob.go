package models

import "time"

// Schedule types accepted by a cronjob.
const (
	ScheduleTypeCron  = "cron"  // recurring, cron expression
	ScheduleTypeEvery = "every" // recurring, fixed interval
	ScheduleTypeAt    = "at"    // one-shot, fixed timestamp
)

// Execution / last-run statuses.
const (
	ExecStatusRunning = "running"
	ExecStatusSuccess = "success"
	ExecStatusFailure = "failure"
)

// Cronjob is a scheduled delivery of a payload to the owner's agent gateway.
//
// NextRunAt is null iff the job is disabled or is a one-shot job that has
// already fired. RunningAt doubles as the claim marker: a job is due iff it
// is enabled, NextRunAt <= now and RunningAt is null.
type Cronjob struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	OwnerID         uint       `gorm:"index;not null" json:"owner_id"`
	Name            string     `gorm:"size:100;not null" json:"name"`
	ScheduleType    string     `gorm:"size:10;not null" json:"schedule_type"`
	ScheduleExpr    string     `gorm:"size:100" json:"schedule_expr,omitempty"`
	ScheduleEveryMs int64      `json:"schedule_every_ms,omitempty"`
	ScheduleAtMs    int64      `json:"schedule_at_ms,omitempty"`
	Enabled         bool       `gorm:"index;default:true" json:"enabled"`
	DeleteAfterRun  bool       `gorm:"default:false" json:"delete_after_run"`
	PayloadKind     string     `gorm:"size:20;not null" json:"payload_kind"`
	Payload         string     `gorm:"type:text" json:"payload"`
	RunningAt       *time.Time `gorm:"index" json:"running_at,omitempty"`
	NextRunAt       *time.Time `gorm:"index" json:"next_run_at,omitempty"`
	LastStatus      string     `gorm:"size:10" json:"last_status,omitempty"`
	LastError       string     `gorm:"type:text" json:"last_error,omitempty"`
	LastDurationMs  int64      `json:"last_duration_ms,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (Cronjob) TableName() string { return "cronjobs" }

// CronjobExecution records one run of a cronjob. Exactly one row is in
// "running" state per cronjob at a time; every row reaches a terminal state
// exactly once.
type CronjobExecution struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	CronjobID  uint       `gorm:"index;not null" json:"cronjob_id"`
	Status     string     `gorm:"size:10;index;not null" json:"status"`
	StartedAt  time.Time  `gorm:"index;not null" json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	DurationMs int64      `json:"duration_ms"`
	Output     string     `gorm:"type:text" json:"output,omitempty"`
	Error      string     `gorm:"type:text" json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (CronjobExecution) TableName() string { return "cronjob_executions" }
