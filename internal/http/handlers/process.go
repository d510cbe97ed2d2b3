package handlers

import (
	"context"
	"encoding/json"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/restorr/internal/service"
)

// Restorer runs restoration passes.
type Restorer interface {
	Restore(ctx context.Context, req service.RestoreRequest) (*service.RestoreResult, error)
}

// ProcessHandler runs restoration jobs.
type ProcessHandler struct {
	restorer Restorer
}

// NewProcessHandler creates a new process handler.
func NewProcessHandler(restorer Restorer) *ProcessHandler {
	return &ProcessHandler{restorer: restorer}
}

// Register registers the process route with the API.
func (h *ProcessHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "processAudio",
		Method:      "POST",
		Path:        "/api/v1/process",
		Summary:     "Restore audio",
		Description: "Compiles the filter configuration for the session's original and runs one restoration pass. " +
			"Returns 503 when every processing slot is taken and 504 when the pass exceeds the processing timeout.",
		Tags: []string{"Processing"},
	}, h.Process)
}

// ProcessInput is the input for a restoration pass.
type ProcessInput struct {
	Body struct {
		SessionDir       string         `json:"session_dir" minLength:"1" doc:"Session identifier"`
		OriginalFilename string         `json:"original_filename" minLength:"1" doc:"Sanitized upload name returned by the upload endpoint"`
		Suffix           int            `json:"suffix,omitempty" minimum:"0" doc:"Pass number used in the output name; 0 means 1"`
		Filters          map[string]any `json:"filters,omitempty" doc:"Filter configuration: rnnoise, eq, dynaudnorm"`
	}
}

// ProcessOutput is the output for a restoration pass.
type ProcessOutput struct {
	Body ProcessResponse
}

// Process runs one restoration pass.
func (h *ProcessHandler) Process(ctx context.Context, input *ProcessInput) (*ProcessOutput, error) {
	var filters []byte
	if input.Body.Filters != nil {
		var err error
		filters, err = json.Marshal(input.Body.Filters)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid filters", err)
		}
	}

	res, err := h.restorer.Restore(ctx, service.RestoreRequest{
		SessionID:        input.Body.SessionDir,
		OriginalFilename: input.Body.OriginalFilename,
		Suffix:           input.Body.Suffix,
		Filters:          filters,
	})
	if err != nil {
		return nil, toHumaError(ctx, err)
	}

	out := &ProcessOutput{
		Body: ProcessResponse{
			Success:      true,
			JobID:        res.JobID,
			PreviewURL:   ArtifactURL(res.SessionID, res.Preview),
			DownloadFile: res.Archive,
			Chain:        res.Chain,
		},
	}
	if res.WaveformOK {
		out.Body.WaveformURL = ArtifactURL(res.SessionID, res.Waveform)
	}
	return out, nil
}
