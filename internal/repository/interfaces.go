// Package repository defines persistence interfaces and their GORM
// implementations.
package repository

import (
	"context"
	"time"

	"github.com/jmylchreest/restorr/internal/models"
)

// JobFilter narrows a job history listing. Zero fields do not filter.
type JobFilter struct {
	SessionID string
	Status    models.JobStatus
	// Limit caps the result size; 0 means DefaultJobListLimit.
	Limit int
}

// DefaultJobListLimit is used when a JobFilter has no limit.
const DefaultJobListLimit = 100

// MaxJobListLimit caps any listing.
const MaxJobListLimit = 1000

// ProcessingJobRepository defines operations for job history persistence.
type ProcessingJobRepository interface {
	// Create inserts a job record, assigning its ID when unset.
	Create(ctx context.Context, job *models.ProcessingJob) error
	// GetByID retrieves a job by ID. Returns nil, nil when absent.
	GetByID(ctx context.Context, id models.ULID) (*models.ProcessingJob, error)
	// List returns jobs newest first.
	List(ctx context.Context, filter JobFilter) ([]*models.ProcessingJob, error)
	// CountByStatus returns the number of jobs per status.
	CountByStatus(ctx context.Context) (map[models.JobStatus]int64, error)
	// DeleteStartedBefore removes jobs started before the cutoff.
	DeleteStartedBefore(ctx context.Context, before time.Time) (int64, error)
}
