package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jmylchreest/restorr/internal/models"
)

// processingJobRepo implements ProcessingJobRepository using GORM.
type processingJobRepo struct {
	db *gorm.DB
}

// NewProcessingJobRepository creates a new ProcessingJobRepository.
func NewProcessingJobRepository(db *gorm.DB) ProcessingJobRepository {
	return &processingJobRepo{db: db}
}

func (r *processingJobRepo) Create(ctx context.Context, job *models.ProcessingJob) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("creating processing job: %w", err)
	}
	return nil
}

func (r *processingJobRepo) GetByID(ctx context.Context, id models.ULID) (*models.ProcessingJob, error) {
	var job models.ProcessingJob
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting processing job by ID: %w", err)
	}
	return &job, nil
}

func (r *processingJobRepo) List(ctx context.Context, filter JobFilter) ([]*models.ProcessingJob, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultJobListLimit
	}
	limit = min(limit, MaxJobListLimit)

	query := r.db.WithContext(ctx).Order("started_at DESC, id DESC").Limit(limit)
	if filter.SessionID != "" {
		query = query.Where("session_id = ?", filter.SessionID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var jobs []*models.ProcessingJob
	if err := query.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("listing processing jobs: %w", err)
	}
	return jobs, nil
}

func (r *processingJobRepo) CountByStatus(ctx context.Context) (map[models.JobStatus]int64, error) {
	var rows []struct {
		Status models.JobStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.ProcessingJob{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("counting processing jobs: %w", err)
	}

	counts := make(map[models.JobStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (r *processingJobRepo) DeleteStartedBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("started_at < ?", before).
		Delete(&models.ProcessingJob{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting processing jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}
