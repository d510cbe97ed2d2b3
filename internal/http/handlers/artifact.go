package handlers

import (
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/restorr/internal/artifact"
	"github.com/jmylchreest/restorr/internal/observability"
)

// ArtifactHandler serves session artifacts for playback and download.
type ArtifactHandler struct {
	gateway *artifact.Gateway
}

// NewArtifactHandler creates a new artifact handler.
func NewArtifactHandler(gateway *artifact.Gateway) *ArtifactHandler {
	return &ArtifactHandler{gateway: gateway}
}

// RegisterChiRoutes registers the file routes.
// This uses Chi directly because Huma doesn't handle file streaming well.
func (h *ArtifactHandler) RegisterChiRoutes(r chi.Router) {
	r.Get(ArtifactPathPrefix+"/{session}/{filename}", h.Serve)
	r.Get("/api/v1/download", h.Download)
}

// Serve streams an artifact inline with range support.
func (h *ArtifactHandler) Serve(w http.ResponseWriter, r *http.Request) {
	a, err := h.gateway.Resolve(chi.URLParam(r, "session"), chi.URLParam(r, "filename"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	f, err := h.gateway.Open(a)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer f.Close()

	// Artifacts are rewritten in place by later passes.
	w.Header().Set("Content-Type", a.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, a.Name, a.ModTime, f)
}

// Download streams an artifact as an attachment.
func (h *ArtifactHandler) Download(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name, sessionID := q.Get("file"), q.Get("session_dir")
	if name == "" || sessionID == "" {
		writeJSONError(w, r, "file and session_dir are required", http.StatusBadRequest)
		return
	}

	a, err := h.gateway.Resolve(sessionID, name)
	if err != nil {
		writeError(w, r, err)
		return
	}

	f, err := h.gateway.Open(a)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer f.Close()

	hdr := w.Header()
	hdr.Set("Content-Type", a.ContentType)
	hdr.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": a.Name}))
	hdr.Set("Content-Length", strconv.FormatInt(a.Size, 10))
	hdr.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	hdr.Set("Pragma", "no-cache")
	hdr.Set("Expires", "0")

	if _, err := io.Copy(w, f); err != nil {
		// Client may have disconnected.
		observability.LoggerFromContext(r.Context()).DebugContext(r.Context(), "download interrupted",
			"file", a.Name,
			"error", err.Error(),
		)
	}
}
