package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/restorr/internal/http/handlers"
	"github.com/jmylchreest/restorr/internal/http/middleware"
	"github.com/jmylchreest/restorr/internal/service"
	"github.com/jmylchreest/restorr/internal/session"
	"github.com/jmylchreest/restorr/internal/storage"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sessionDirFor(t *testing.T, cfg ServerConfig, forwardedFor string) string {
	t.Helper()
	root, err := storage.NewSandbox(t.TempDir())
	require.NoError(t, err)
	store := session.NewStore(root, 15*time.Minute)

	srv := NewServer(cfg, quietLogger(), "test")
	handlers.NewSessionHandler(store).Register(srv.API())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
	req.RemoteAddr = "192.0.2.10:51000"
	req.Header.Set("X-Forwarded-For", forwardedFor)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	var body handlers.SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Session.SessionDir
}

func TestServer_SessionIgnoresForwardedHeaderByDefault(t *testing.T) {
	dir := sessionDirFor(t, DefaultServerConfig(), "198.51.100.23")
	assert.Regexp(t, `^192\.0\.2\.10_\d+$`, dir)
}

func TestServer_SessionKeyedByForwardedIdentityBehindProxy(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.TrustProxy = true
	dir := sessionDirFor(t, cfg, "198.51.100.23")
	assert.Regexp(t, `^198\.51\.100\.23_\d+$`, dir)
}

func TestServer_OpenAPI(t *testing.T) {
	srv := NewServer(DefaultServerConfig(), quietLogger(), "1.2.3")
	handlers.NewHealthHandler("1.2.3").Register(srv.API())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"/health"`)
	assert.Contains(t, rec.Body.String(), `"1.2.3"`)
}

func TestServer_ServeAndShutdown(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.MaxConnections = 2
	srv := NewServer(cfg, quietLogger(), "test")
	handlers.NewHealthHandler("test").Register(srv.API())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	url := "http://" + ln.Addr().String() + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, srv.Shutdown(context.Background()))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServer_ShutdownBeforeServe(t *testing.T) {
	srv := NewServer(DefaultServerConfig(), quietLogger(), "test")
	require.NoError(t, srv.Shutdown(context.Background()))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	assert.NoError(t, srv.Serve(ln))
}

type drainingIntaker struct{}

func (drainingIntaker) Intake(_ context.Context, sessionID, _ string, r io.Reader) (*service.IntakeResult, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return nil, err
	}
	return &service.IntakeResult{SessionID: sessionID, Filename: "a", Preview: "original.mp3"}, nil
}

func TestServer_UploadOutlastsReadTimeout(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.ReadTimeout = 200 * time.Millisecond
	srv := NewServer(cfg, quietLogger(), "test")
	handlers.NewUploadHandler(drainingIntaker{}, 0).
		WithReadTimeout(10 * time.Second).
		RegisterChiRoutes(srv.Router())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	// The body trickles in over roughly three times the server read timeout.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		_ = mw.WriteField("session_dir", "10.0.0.1_1700000000")
		fw, err := mw.CreateFormFile(handlers.UploadField, "slow.wav")
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		for range 6 {
			if _, err := fw.Write(bytes.Repeat([]byte{0}, 512)); err != nil {
				pw.CloseWithError(err)
				return
			}
			time.Sleep(100 * time.Millisecond)
		}
		_ = mw.Close()
		_ = pw.Close()
	}()

	req, err := http.NewRequest(http.MethodPost, "http://"+ln.Addr().String()+"/api/v1/upload", pr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode, string(body))
}
