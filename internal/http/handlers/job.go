package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/restorr/internal/models"
	"github.com/jmylchreest/restorr/internal/repository"
)

// JobHistory reads recorded restoration jobs.
type JobHistory interface {
	List(ctx context.Context, filter repository.JobFilter) ([]*models.ProcessingJob, error)
	Get(ctx context.Context, id string) (*models.ProcessingJob, error)
	Counts(ctx context.Context) (map[models.JobStatus]int64, error)
}

// JobHandler handles job history endpoints.
type JobHandler struct {
	history JobHistory
}

// NewJobHandler creates a new job handler.
func NewJobHandler(history JobHistory) *JobHandler {
	return &JobHandler{history: history}
}

// Register registers the job routes with the API.
func (h *JobHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listJobs",
		Method:      "GET",
		Path:        "/api/v1/jobs",
		Summary:     "List jobs",
		Description: "Returns recorded restoration jobs, newest first",
		Tags:        []string{"Jobs"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getJobStats",
		Method:      "GET",
		Path:        "/api/v1/jobs/stats",
		Summary:     "Get job statistics",
		Description: "Returns the number of recorded jobs per status",
		Tags:        []string{"Jobs"},
	}, h.GetStats)

	huma.Register(api, huma.Operation{
		OperationID: "getJob",
		Method:      "GET",
		Path:        "/api/v1/jobs/{id}",
		Summary:     "Get job",
		Description: "Returns a job by ID",
		Tags:        []string{"Jobs"},
	}, h.GetByID)
}

// ListJobsInput is the input for listing jobs.
type ListJobsInput struct {
	Session string `query:"session" doc:"Only jobs for this session"`
	Status  string `query:"status" enum:"rejected,admitted,spawned,completed,timed_out,failed" doc:"Only jobs with this status"`
	Limit   int    `query:"limit" minimum:"0" maximum:"1000" doc:"Maximum number of jobs (default 100)"`
}

// ListJobsOutput is the output for listing jobs.
type ListJobsOutput struct {
	Body struct {
		Jobs []JobResponse `json:"jobs"`
	}
}

// List returns recorded jobs.
func (h *JobHandler) List(ctx context.Context, input *ListJobsInput) (*ListJobsOutput, error) {
	jobs, err := h.history.List(ctx, repository.JobFilter{
		SessionID: input.Session,
		Status:    models.JobStatus(input.Status),
		Limit:     input.Limit,
	})
	if err != nil {
		return nil, toHumaError(ctx, err)
	}

	resp := &ListJobsOutput{}
	resp.Body.Jobs = make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		resp.Body.Jobs = append(resp.Body.Jobs, JobFromModel(j))
	}
	return resp, nil
}

// GetJobInput is the input for getting a job.
type GetJobInput struct {
	ID string `path:"id" doc:"Job ID (ULID)"`
}

// GetJobOutput is the output for getting a job.
type GetJobOutput struct {
	Body JobResponse
}

// GetByID returns a job by ID.
func (h *JobHandler) GetByID(ctx context.Context, input *GetJobInput) (*GetJobOutput, error) {
	job, err := h.history.Get(ctx, input.ID)
	if err != nil {
		return nil, toHumaError(ctx, err)
	}
	return &GetJobOutput{Body: JobFromModel(job)}, nil
}

// GetJobStatsInput is the input for job statistics.
type GetJobStatsInput struct{}

// GetJobStatsOutput is the output for job statistics.
type GetJobStatsOutput struct {
	Body struct {
		Total    int64                      `json:"total"`
		ByStatus map[models.JobStatus]int64 `json:"by_status"`
	}
}

// GetStats returns job counts per status.
func (h *JobHandler) GetStats(ctx context.Context, _ *GetJobStatsInput) (*GetJobStatsOutput, error) {
	counts, err := h.history.Counts(ctx)
	if err != nil {
		return nil, toHumaError(ctx, err)
	}
	out := &GetJobStatsOutput{}
	out.Body.ByStatus = counts
	for _, n := range counts {
		out.Body.Total += n
	}
	return out, nil
}
