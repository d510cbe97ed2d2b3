package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/restorr/internal/observability"
	"github.com/jmylchreest/restorr/internal/session"
)

// SessionHandler exposes session resolution and finalization.
type SessionHandler struct {
	store *session.Store
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(store *session.Store) *SessionHandler {
	return &SessionHandler{store: store}
}

// Register registers the session routes with the API.
func (h *SessionHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getSession",
		Method:      "GET",
		Path:        "/api/v1/session",
		Summary:     "Resolve session",
		Description: "Returns the caller's live session, creating one when none exists. An expired session is removed and replaced.",
		Tags:        []string{"Sessions"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID:   "deleteSession",
		Method:        "DELETE",
		Path:          "/api/v1/sessions/{session}",
		Summary:       "Finalize session",
		Description:   "Removes the session directory and every artifact in it. Deleting an unknown session succeeds.",
		Tags:          []string{"Sessions"},
		DefaultStatus: http.StatusOK,
	}, h.Delete)
}

// GetSessionInput is the input for resolving a session.
type GetSessionInput struct{}

// GetSessionOutput is the output for resolving a session.
type GetSessionOutput struct {
	Body SessionResponse
}

// Get resolves or creates the session for the caller's identity.
func (h *SessionHandler) Get(ctx context.Context, _ *GetSessionInput) (*GetSessionOutput, error) {
	identity := observability.ClientIdentityFromContext(ctx)

	handle, err := h.store.ResolveOrCreate(ctx, identity)
	if err != nil {
		return nil, toHumaError(ctx, err)
	}
	info, err := h.store.Info(handle)
	if err != nil {
		return nil, toHumaError(ctx, err)
	}

	return &GetSessionOutput{
		Body: SessionResponse{
			Success:    true,
			HasSession: true,
			Session: SessionInfo{
				SessionDir: info.ID,
				AgeSeconds: int64(info.Age.Seconds()),
				ExpiresIn:  int64(info.ExpiresIn.Seconds()),
				Files:      len(info.Files),
				FileNames:  info.Files,
			},
		},
	}, nil
}

// DeleteSessionInput is the input for finalizing a session.
type DeleteSessionInput struct {
	Session string `path:"session" doc:"Session identifier"`
}

// DeleteSessionOutput is the output for finalizing a session.
type DeleteSessionOutput struct {
	Body struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
}

// Delete destroys a session and its files.
func (h *SessionHandler) Delete(ctx context.Context, input *DeleteSessionInput) (*DeleteSessionOutput, error) {
	if err := h.store.DestroyID(input.Session); err != nil {
		return nil, toHumaError(ctx, err)
	}

	observability.LoggerFromContext(ctx).InfoContext(ctx, "session finalized",
		"session_id", input.Session,
	)

	out := &DeleteSessionOutput{}
	out.Body.Success = true
	out.Body.Message = "session finalized and files removed"
	return out, nil
}
