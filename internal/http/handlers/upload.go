package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/restorr/internal/ffmpeg"
	"github.com/jmylchreest/restorr/internal/service"
)

// UploadField is the multipart field carrying the audio file.
const UploadField = "audio"

// multipartMemory is how much of a multipart body is held in memory before
// spilling to temporary files.
const multipartMemory = 32 << 20

// Intaker prepares uploaded audio.
type Intaker interface {
	Intake(ctx context.Context, sessionID, clientName string, r io.Reader) (*service.IntakeResult, error)
}

// UploadHandler accepts audio uploads into a session.
type UploadHandler struct {
	intake        Intaker
	maxUploadSize int64
	readTimeout   time.Duration
}

// NewUploadHandler creates a new upload handler. A non-positive
// maxUploadSize disables the size limit.
func NewUploadHandler(intake Intaker, maxUploadSize int64) *UploadHandler {
	return &UploadHandler{intake: intake, maxUploadSize: maxUploadSize}
}

// WithReadTimeout sets the read deadline for an upload body, overriding
// the server-wide read timeout for this route. Zero keeps the server's.
func (h *UploadHandler) WithReadTimeout(d time.Duration) *UploadHandler {
	h.readTimeout = d
	return h
}

// RegisterChiRoutes registers the multipart upload route.
// This uses Chi directly so the body can be streamed with a size cap.
func (h *UploadHandler) RegisterChiRoutes(r chi.Router) {
	r.Post("/api/v1/upload", h.Upload)
}

// Upload stores the audio part as the session's original and returns its
// preview and properties.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.readTimeout > 0 {
		// Writers without deadline support (test recorders) keep the server's.
		_ = http.NewResponseController(w).SetReadDeadline(time.Now().Add(h.readTimeout))
	}
	if h.maxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, r, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit), http.StatusRequestEntityTooLarge)
			return
		}
		writeJSONError(w, r, "invalid multipart form", http.StatusBadRequest)
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	sessionID := r.FormValue("session_dir")
	if sessionID == "" {
		writeJSONError(w, r, "session_dir is required", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile(UploadField)
	if err != nil {
		writeJSONError(w, r, "no audio file received", http.StatusBadRequest)
		return
	}
	defer file.Close()

	res, err := h.intake.Intake(r.Context(), sessionID, header.Filename, file)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := UploadResponse{
		Success:    true,
		SessionDir: res.SessionID,
		PreviewURL: ArtifactURL(res.SessionID, res.Preview),
		Duration:   ffmpeg.FormatDuration(res.Duration),
		Channels:   res.Channels,
		SampleRate: res.SampleRate,
		Filename:   res.Filename,
	}
	if res.WaveformOK {
		resp.WaveformURL = ArtifactURL(res.SessionID, res.Waveform)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
