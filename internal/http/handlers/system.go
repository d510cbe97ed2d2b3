package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/restorr/internal/ffmpeg"
	"github.com/jmylchreest/restorr/internal/filtergraph"
	"github.com/jmylchreest/restorr/internal/scheduler"
)

// FFmpegInfoProvider provides FFmpeg binary information.
type FFmpegInfoProvider interface {
	Detect(ctx context.Context) (*ffmpeg.BinaryInfo, error)
}

// ModelRegistry reports noise model availability.
type ModelRegistry interface {
	Models() []filtergraph.ModelStatus
}

// TaskLister reports maintenance task state.
type TaskLister interface {
	Status() []scheduler.TaskStatus
}

// SystemHandler handles processing capacity and installation endpoints.
type SystemHandler struct {
	admission AdmissionStatus
	models    ModelRegistry
	ffmpeg    FFmpegInfoProvider
	tasks     TaskLister
}

// NewSystemHandler creates a new system handler.
func NewSystemHandler(admission AdmissionStatus, models ModelRegistry) *SystemHandler {
	return &SystemHandler{
		admission: admission,
		models:    models,
	}
}

// WithFFmpeg enables the ffmpeg capability endpoint.
func (h *SystemHandler) WithFFmpeg(p FFmpegInfoProvider) *SystemHandler {
	h.ffmpeg = p
	return h
}

// WithTasks enables the maintenance task endpoint.
func (h *SystemHandler) WithTasks(t TaskLister) *SystemHandler {
	h.tasks = t
	return h
}

// Register registers the system routes with the API.
func (h *SystemHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getStatus",
		Method:      "GET",
		Path:        "/api/v1/status",
		Summary:     "Processing status",
		Description: "Returns active and maximum processing slots. Stale slots are reclaimed first.",
		Tags:        []string{"System"},
	}, h.GetStatus)

	huma.Register(api, huma.Operation{
		OperationID: "listModels",
		Method:      "GET",
		Path:        "/api/v1/models",
		Summary:     "List noise models",
		Description: "Returns the noise suppression models and whether each is installed",
		Tags:        []string{"System"},
	}, h.ListModels)

	if h.ffmpeg != nil {
		huma.Register(api, huma.Operation{
			OperationID: "getFFmpegInfo",
			Method:      "GET",
			Path:        "/api/v1/system/ffmpeg",
			Summary:     "FFmpeg capabilities",
			Description: "Returns the detected ffmpeg installation and any missing encoders or filters",
			Tags:        []string{"System"},
		}, h.GetFFmpegInfo)
	}

	if h.tasks != nil {
		huma.Register(api, huma.Operation{
			OperationID: "listTasks",
			Method:      "GET",
			Path:        "/api/v1/system/tasks",
			Summary:     "Maintenance tasks",
			Description: "Returns each maintenance task with its schedule and last outcome",
			Tags:        []string{"System"},
		}, h.ListTasks)
	}
}

// StatusInput is the input for the status endpoint.
type StatusInput struct{}

// StatusOutput is the output for the status endpoint.
type StatusOutput struct {
	Body struct {
		Success         bool `json:"success"`
		ActiveProcesses int  `json:"active_processes"`
		MaxProcesses    int  `json:"max_processes"`
		CanProcess      bool `json:"can_process"`
	}
}

// GetStatus reports the admission budget.
func (h *SystemHandler) GetStatus(ctx context.Context, _ *StatusInput) (*StatusOutput, error) {
	st, err := h.admission.Status()
	if err != nil {
		return nil, toHumaError(ctx, err)
	}
	out := &StatusOutput{}
	out.Body.Success = true
	out.Body.ActiveProcesses = st.Active
	out.Body.MaxProcesses = st.Max
	out.Body.CanProcess = st.CanAccept
	return out, nil
}

// ListModelsInput is the input for listing models.
type ListModelsInput struct{}

// ListModelsOutput is the output for listing models.
type ListModelsOutput struct {
	Body struct {
		Models []filtergraph.ModelStatus `json:"models"`
	}
}

// ListModels returns the noise model registry.
func (h *SystemHandler) ListModels(_ context.Context, _ *ListModelsInput) (*ListModelsOutput, error) {
	out := &ListModelsOutput{}
	out.Body.Models = h.models.Models()
	return out, nil
}

// FFmpegInfoInput is the input for the FFmpeg info endpoint.
type FFmpegInfoInput struct{}

// FFmpegInfoOutput is the output for the FFmpeg info endpoint.
type FFmpegInfoOutput struct {
	Body struct {
		Available bool               `json:"available"`
		Info      *ffmpeg.BinaryInfo `json:"info,omitempty"`
		Missing   []string           `json:"missing,omitempty" doc:"Required encoders and filters the installation lacks"`
	}
}

// GetFFmpegInfo returns the detected ffmpeg installation.
func (h *SystemHandler) GetFFmpegInfo(ctx context.Context, _ *FFmpegInfoInput) (*FFmpegInfoOutput, error) {
	out := &FFmpegInfoOutput{}
	info, err := h.ffmpeg.Detect(ctx)
	if err != nil {
		return out, nil
	}
	out.Body.Available = true
	out.Body.Info = info
	out.Body.Missing = info.MissingRequirements()
	return out, nil
}

// ListTasksInput is the input for listing maintenance tasks.
type ListTasksInput struct{}

// ListTasksOutput is the output for listing maintenance tasks.
type ListTasksOutput struct {
	Body struct {
		Tasks []scheduler.TaskStatus `json:"tasks"`
	}
}

// ListTasks returns maintenance task state.
func (h *SystemHandler) ListTasks(_ context.Context, _ *ListTasksInput) (*ListTasksOutput, error) {
	out := &ListTasksOutput{}
	out.Body.Tasks = h.tasks.Status()
	return out, nil
}
