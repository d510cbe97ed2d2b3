package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/restorr/internal/apperr"
	"github.com/jmylchreest/restorr/internal/observability"
)

// StatusFor maps an error kind to its HTTP status.
func StatusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.ErrValidation:
		return http.StatusBadRequest
	case apperr.ErrNotFound:
		return http.StatusNotFound
	case apperr.ErrAccess:
		return http.StatusForbidden
	case apperr.ErrCapacity:
		return http.StatusServiceUnavailable
	case apperr.ErrTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// toHumaError converts a service error to a huma status error. Only the
// client-facing message crosses the boundary; server-side failures are
// logged with their cause.
func toHumaError(ctx context.Context, err error) error {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		observability.LoggerFromContext(ctx).ErrorContext(ctx, "request failed",
			"kind", kindName(err),
			"error", err.Error(),
		)
	}
	return huma.NewError(status, apperr.UserMessage(err))
}

// errorResponse is the JSON body written by plain chi handlers.
type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// writeJSONError writes an error response in JSON format for consistency with API clients.
func writeJSONError(w http.ResponseWriter, r *http.Request, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error:     message,
		RequestID: observability.RequestIDFromContext(r.Context()),
	})
}

// writeError maps err onto a JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		logServerError(r, err)
	}
	writeJSONError(w, r, apperr.UserMessage(err), status)
}

func logServerError(r *http.Request, err error) {
	observability.LoggerFromContext(r.Context()).ErrorContext(r.Context(), "request failed",
		"path", r.URL.Path,
		"kind", kindName(err),
		"error", err.Error(),
	)
}

func kindName(err error) string {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae.Kind.Error()
	}
	return "unclassified"
}
