package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/restorr/internal/apperr"
	"github.com/jmylchreest/restorr/internal/models"
	"github.com/jmylchreest/restorr/internal/repository"
)

// HistoryService exposes the processing job history.
type HistoryService struct {
	repo   repository.ProcessingJobRepository
	now    func() time.Time
	logger *slog.Logger
}

// NewHistoryService creates a new HistoryService.
func NewHistoryService(repo repository.ProcessingJobRepository) *HistoryService {
	return &HistoryService{
		repo:   repo,
		now:    time.Now,
		logger: slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (s *HistoryService) WithLogger(logger *slog.Logger) *HistoryService {
	s.logger = logger
	return s
}

// List returns jobs matching filter, newest first.
func (s *HistoryService) List(ctx context.Context, filter repository.JobFilter) ([]*models.ProcessingJob, error) {
	if filter.Limit < 0 {
		return nil, apperr.Validation("history.list", "limit must not be negative")
	}
	jobs, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	return jobs, nil
}

// Get returns one job by its ULID string.
func (s *HistoryService) Get(ctx context.Context, id string) (*models.ProcessingJob, error) {
	ulid, err := models.ParseULID(id)
	if err != nil {
		return nil, apperr.Validation("history.get", "invalid job ID %q", id)
	}
	j, err := s.repo.GetByID(ctx, ulid)
	if err != nil {
		return nil, fmt.Errorf("getting job: %w", err)
	}
	if j == nil {
		return nil, apperr.NotFound("history.get", "job %s not found", id)
	}
	return j, nil
}

// Counts returns the number of recorded jobs per status.
func (s *HistoryService) Counts(ctx context.Context) (map[models.JobStatus]int64, error) {
	return s.repo.CountByStatus(ctx)
}

// Prune deletes jobs older than retention. A non-positive retention keeps
// everything.
func (s *HistoryService) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	n, err := s.repo.DeleteStartedBefore(ctx, s.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("pruning job history: %w", err)
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "pruned job history",
			slog.Int64("deleted", n),
			slog.Duration("retention", retention),
		)
	}
	return n, nil
}
