package handlers

import (
	"net/url"
	"time"

	"github.com/jmylchreest/restorr/internal/models"
)

// ArtifactPathPrefix is where session artifacts are served for playback.
const ArtifactPathPrefix = "/api/v1/artifacts"

// ArtifactURL returns the playback URL of a file in a session.
func ArtifactURL(sessionID, name string) string {
	return ArtifactPathPrefix + "/" + url.PathEscape(sessionID) + "/" + url.PathEscape(name)
}

// SessionInfo describes a live session.
type SessionInfo struct {
	SessionDir string   `json:"session_dir" doc:"Session identifier"`
	AgeSeconds int64    `json:"age_seconds"`
	ExpiresIn  int64    `json:"expires_in" doc:"Seconds until the session expires"`
	Files      int      `json:"files" doc:"Number of files in the session"`
	FileNames  []string `json:"file_names"`
}

// SessionResponse is the body of GET /api/v1/session.
type SessionResponse struct {
	Success    bool        `json:"success"`
	HasSession bool        `json:"has_session"`
	Session    SessionInfo `json:"session"`
}

// UploadResponse is the body of POST /api/v1/upload.
type UploadResponse struct {
	Success     bool   `json:"success"`
	SessionDir  string `json:"session_dir"`
	PreviewURL  string `json:"preview_url"`
	WaveformURL string `json:"waveform_url,omitempty"`
	Duration    string `json:"duration" doc:"Duration as HH:MM:SS"`
	Channels    int    `json:"channels"`
	SampleRate  int    `json:"sample_rate"`
	Filename    string `json:"filename" doc:"Sanitized upload name used for output stems"`
}

// ProcessResponse is the body of POST /api/v1/process.
type ProcessResponse struct {
	Success      bool   `json:"success"`
	JobID        string `json:"job_id"`
	PreviewURL   string `json:"preview_url"`
	WaveformURL  string `json:"waveform_url,omitempty"`
	DownloadFile string `json:"download_file"`
	Chain        string `json:"chain" doc:"Compiled filter chain, empty for pass-through"`
}

// JobResponse represents a restoration job in API responses.
type JobResponse struct {
	ID            models.ULID      `json:"id"`
	SessionID     string           `json:"session_id"`
	OutputStem    string           `json:"output_stem"`
	Status        models.JobStatus `json:"status"`
	Chain         string           `json:"chain"`
	InputChannels int              `json:"input_channels"`
	StartedAt     time.Time        `json:"started_at"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
	DurationMs    int64            `json:"duration_ms"`
	ExitCode      *int             `json:"exit_code,omitempty"`
	ErrorMessage  string           `json:"error_message,omitempty"`
	PeakRSSBytes  uint64           `json:"peak_rss_bytes"`
	CPUSeconds    float64          `json:"cpu_seconds"`
	Waveform      bool             `json:"waveform"`
}

// JobFromModel converts a job model to a response.
func JobFromModel(j *models.ProcessingJob) JobResponse {
	return JobResponse{
		ID:            j.ID,
		SessionID:     j.SessionID,
		OutputStem:    j.OutputStem,
		Status:        j.Status,
		Chain:         j.Chain,
		InputChannels: j.InputChannels,
		StartedAt:     j.StartedAt,
		CompletedAt:   j.CompletedAt,
		DurationMs:    j.DurationMs,
		ExitCode:      j.ExitCode,
		ErrorMessage:  j.ErrorMessage,
		PeakRSSBytes:  j.PeakRSSBytes,
		CPUSeconds:    j.CPUSeconds,
		Waveform:      j.Waveform,
	}
}
