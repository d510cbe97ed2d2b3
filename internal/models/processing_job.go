package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// JobStatus is the outcome recorded for a restoration job.
type JobStatus string

const (
	// JobStatusRejected means admission refused the job; ffmpeg never ran.
	JobStatusRejected JobStatus = "rejected"
	// JobStatusAdmitted means a slot was held but the process never started.
	JobStatusAdmitted JobStatus = "admitted"
	// JobStatusSpawned means ffmpeg was started and has not finished.
	JobStatusSpawned JobStatus = "spawned"
	// JobStatusCompleted means both encodings were written.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusTimedOut means ffmpeg was killed at the deadline.
	JobStatusTimedOut JobStatus = "timed_out"
	// JobStatusFailed means spawn failure, non-zero exit, missing output or shutdown.
	JobStatusFailed JobStatus = "failed"
)

// ErrSessionIDRequired indicates a job record without a session.
var ErrSessionIDRequired = errors.New("session_id is required")

// ErrOutputStemRequired indicates a job record without an output stem.
var ErrOutputStemRequired = errors.New("output_stem is required")

// ProcessingJob is the persisted history row of one restoration job.
type ProcessingJob struct {
	BaseModel

	SessionID  string    `gorm:"not null;size:255;index" json:"session_id"`
	OutputStem string    `gorm:"not null;size:255" json:"output_stem"`
	Status     JobStatus `gorm:"not null;size:20;index" json:"status"`

	// Chain is the compiled filter expression, empty for pass-through.
	Chain         string `gorm:"size:4096" json:"chain"`
	InputChannels int    `json:"input_channels"`

	StartedAt   time.Time  `gorm:"index" json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMs  int64      `json:"duration_ms"`

	// ExitCode is nil when ffmpeg never ran; -1 when it was killed.
	ExitCode     *int   `json:"exit_code,omitempty"`
	ErrorMessage string `gorm:"size:4096" json:"error_message,omitempty"`

	PeakRSSBytes uint64  `json:"peak_rss_bytes"`
	CPUSeconds   float64 `json:"cpu_seconds"`
	Waveform     bool    `json:"waveform"`
}

// TableName returns the table name for ProcessingJob.
func (ProcessingJob) TableName() string {
	return "processing_jobs"
}

// IsFinished reports whether the job reached a terminal status.
func (j *ProcessingJob) IsFinished() bool {
	switch j.Status {
	case JobStatusRejected, JobStatusCompleted, JobStatusTimedOut, JobStatusFailed:
		return true
	}
	return false
}

// Finish records the terminal status and timing. A nil err clears the
// error message.
func (j *ProcessingJob) Finish(status JobStatus, at time.Time, err error) {
	j.Status = status
	j.CompletedAt = &at
	if !j.StartedAt.IsZero() {
		j.DurationMs = at.Sub(j.StartedAt).Milliseconds()
	}
	j.ErrorMessage = ""
	if err != nil {
		j.ErrorMessage = err.Error()
	}
}

// SetExitCode records ffmpeg's exit status.
func (j *ProcessingJob) SetExitCode(code int) {
	j.ExitCode = &code
}

// Validate performs basic validation on the record.
func (j *ProcessingJob) Validate() error {
	if j.SessionID == "" {
		return ErrSessionIDRequired
	}
	if j.OutputStem == "" {
		return ErrOutputStemRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the record and generates its ULID.
func (j *ProcessingJob) BeforeCreate(tx *gorm.DB) error {
	if err := j.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return j.Validate()
}
