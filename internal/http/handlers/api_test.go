package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/restorr/internal/admission"
	"github.com/jmylchreest/restorr/internal/apperr"
	"github.com/jmylchreest/restorr/internal/filtergraph"
	"github.com/jmylchreest/restorr/internal/service"
	"github.com/jmylchreest/restorr/internal/session"
	"github.com/jmylchreest/restorr/internal/storage"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperr.Validation("op", "bad"), http.StatusBadRequest},
		{apperr.NotFound("op", "gone"), http.StatusNotFound},
		{apperr.Access("op", "escape"), http.StatusForbidden},
		{apperr.Capacity("op", "busy"), http.StatusServiceUnavailable},
		{apperr.Timeout("op", "slow"), http.StatusGatewayTimeout},
		{apperr.Spawn("op", errors.New("exec: not found")), http.StatusInternalServerError},
		{apperr.Processing("op", "broken", nil), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}

func newSessionStore(t *testing.T, now func() time.Time) *session.Store {
	t.Helper()
	root, err := storage.NewSandbox(t.TempDir())
	require.NoError(t, err)
	return session.NewStore(root, 15*time.Minute, session.WithClock(now))
}

func TestSessionHandler_Get(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	store := newSessionStore(t, clock)

	_, api := humatest.New(t)
	NewSessionHandler(store).Register(api)

	resp := api.Get("/api/v1/session")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var first SessionResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &first))
	assert.True(t, first.HasSession)
	assert.Equal(t, "unknown_1700000000", first.Session.SessionDir)
	assert.Equal(t, int64(900), first.Session.ExpiresIn)
	assert.Zero(t, first.Session.Files)

	// Same identity within the TTL reuses the session.
	now = now.Add(5 * time.Minute)
	resp = api.Get("/api/v1/session")
	require.Equal(t, http.StatusOK, resp.Code)
	var second SessionResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &second))
	assert.Equal(t, first.Session.SessionDir, second.Session.SessionDir)
	assert.Equal(t, int64(300), second.Session.AgeSeconds)
	assert.Equal(t, int64(600), second.Session.ExpiresIn)
}

func TestSessionHandler_Delete(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	store := newSessionStore(t, func() time.Time { return now })
	h, err := store.ResolveOrCreate(context.Background(), "10.0.0.9")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(h.Dir, "original.wav"), []byte("pcm"), 0o644))

	_, api := humatest.New(t)
	NewSessionHandler(store).Register(api)

	resp := api.Delete("/api/v1/sessions/" + h.ID)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.NoDirExists(t, h.Dir)

	// Idempotent.
	resp = api.Delete("/api/v1/sessions/" + h.ID)
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = api.Delete("/api/v1/sessions/bad$id")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

type fakeRestorer struct {
	req service.RestoreRequest
	res *service.RestoreResult
	err error
}

func (f *fakeRestorer) Restore(_ context.Context, req service.RestoreRequest) (*service.RestoreResult, error) {
	f.req = req
	return f.res, f.err
}

func TestProcessHandler(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		restorer := &fakeRestorer{res: &service.RestoreResult{
			SessionID:  "10.0.0.1_1700000000",
			JobID:      "01HZX3Q8W9M2V1Y7K6T5R4P3N2",
			Preview:    "voice_2.mp3",
			Archive:    "voice_2.mp2",
			Waveform:   "voice_2.png",
			WaveformOK: true,
			Chain:      "highpass=f=80:poles=2",
		}}
		_, api := humatest.New(t)
		NewProcessHandler(restorer).Register(api)

		resp := api.Post("/api/v1/process", map[string]any{
			"session_dir":       "10.0.0.1_1700000000",
			"original_filename": "voice",
			"suffix":            2,
			"filters": map[string]any{
				"eq": map[string]any{"enabled": true, "highpass": map[string]any{"enabled": true, "frequency": 80}},
			},
		})
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

		var body ProcessResponse
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
		assert.True(t, body.Success)
		assert.Equal(t, "/api/v1/artifacts/10.0.0.1_1700000000/voice_2.mp3", body.PreviewURL)
		assert.Equal(t, "/api/v1/artifacts/10.0.0.1_1700000000/voice_2.png", body.WaveformURL)
		assert.Equal(t, "voice_2.mp2", body.DownloadFile)
		assert.Equal(t, "highpass=f=80:poles=2", body.Chain)

		assert.Equal(t, 2, restorer.req.Suffix)
		assert.Equal(t, "voice", restorer.req.OriginalFilename)
		assert.JSONEq(t, `{"eq":{"enabled":true,"highpass":{"enabled":true,"frequency":80}}}`, string(restorer.req.Filters))
	})

	t.Run("filters omitted", func(t *testing.T) {
		restorer := &fakeRestorer{res: &service.RestoreResult{SessionID: "s_1", Preview: "a_1.mp3", Archive: "a_1.mp2"}}
		_, api := humatest.New(t)
		NewProcessHandler(restorer).Register(api)

		resp := api.Post("/api/v1/process", map[string]any{
			"session_dir":       "s_1",
			"original_filename": "a",
		})
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
		assert.Nil(t, restorer.req.Filters)

		var body ProcessResponse
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
		assert.Empty(t, body.WaveformURL)
	})

	t.Run("missing session", func(t *testing.T) {
		_, api := humatest.New(t)
		NewProcessHandler(&fakeRestorer{}).Register(api)

		resp := api.Post("/api/v1/process", map[string]any{"original_filename": "a"})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	})

	errorCases := []struct {
		name string
		err  error
		code int
		msg  string
	}{
		{"capacity", apperr.Capacity("job.run", "server busy; try again shortly"), http.StatusServiceUnavailable, "server busy"},
		{"timeout", apperr.Timeout("job.run", "Timeout processing file (600s)"), http.StatusGatewayTimeout, "Timeout processing file"},
		{"not found", apperr.NotFound("restore", "original file not found; upload a file first"), http.StatusNotFound, "upload a file first"},
		{"processing hides cause", apperr.Processing("job.run", "processing failed", errors.New("/secret/path")), http.StatusInternalServerError, "processing failed"},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			_, api := humatest.New(t)
			NewProcessHandler(&fakeRestorer{err: tc.err}).Register(api)

			resp := api.Post("/api/v1/process", map[string]any{
				"session_dir":       "s_1",
				"original_filename": "a",
			})
			assert.Equal(t, tc.code, resp.Code)
			assert.Contains(t, resp.Body.String(), tc.msg)
			assert.NotContains(t, resp.Body.String(), "/secret/path")
		})
	}
}

func TestSystemHandler_Status(t *testing.T) {
	ctrl, err := admission.NewController(t.TempDir(), 2, time.Hour)
	require.NoError(t, err)
	slot, err := ctrl.TryAcquire(context.Background())
	require.NoError(t, err)
	defer func() { _ = ctrl.Release(slot) }()

	_, api := humatest.New(t)
	NewSystemHandler(ctrl, filtergraph.NewCompiler(t.TempDir())).Register(api)

	resp := api.Get("/api/v1/status")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var body struct {
		ActiveProcesses int  `json:"active_processes"`
		MaxProcesses    int  `json:"max_processes"`
		CanProcess      bool `json:"can_process"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, 1, body.ActiveProcesses)
	assert.Equal(t, 2, body.MaxProcesses)
	assert.True(t, body.CanProcess)
}

func TestSystemHandler_Models(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cb.rnnn"), nil, 0o644))

	_, api := humatest.New(t)
	NewSystemHandler(&fakeAdmission{}, filtergraph.NewCompiler(dir)).Register(api)

	resp := api.Get("/api/v1/models")
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		Models []filtergraph.ModelStatus `json:"models"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Len(t, body.Models, 4)

	available := map[string]bool{}
	for _, m := range body.Models {
		available[m.Name] = m.Available
	}
	assert.True(t, available["general"])
	assert.False(t, available["broadband"])
	assert.False(t, available["extreme"])
}

func TestSystemHandler_OptionalRoutes(t *testing.T) {
	_, api := humatest.New(t)
	NewSystemHandler(&fakeAdmission{}, filtergraph.NewCompiler(t.TempDir())).Register(api)

	assert.Equal(t, http.StatusNotFound, api.Get("/api/v1/system/tasks").Code)
	assert.Equal(t, http.StatusNotFound, api.Get("/api/v1/system/ffmpeg").Code)
}
