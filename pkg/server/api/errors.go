package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"
	"github.com/rs/zerolog/log"

	"github.com/vulntor/scanpilot/pkg/orchestrator"
	"github.com/vulntor/scanpilot/pkg/server/jobs"
	"github.com/vulntor/scanpilot/pkg/storage"
)

// ErrorResponse represents a standard JSON error response.
// Used consistently across all API endpoints for error responses.
//
// Example:
//
//	{
//	  "error": "Not Found",
//	  "message": "run \"abc\" not found"
//	}
type ErrorResponse struct {
	Error   string `json:"error"`             // Short error type (e.g., "Not Found", "Bad Request")
	Message string `json:"message,omitempty"` // Detailed error message (optional)
	Code    string `json:"code,omitempty"`    // Run error code for orchestration failures
}

// StatusCode maps an error to the HTTP status returned for it:
//   - validation and storage.InvalidInputError → 400
//   - storage.NotFoundError → 404
//   - storage.AlreadyExistsError → 409
//   - full or stopped job queue → 503
//   - orchestration errors → orchestrator.HTTPStatus
func StatusCode(err error) int {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr), storage.IsInvalidInput(err):
		return http.StatusBadRequest
	case storage.IsNotFound(err):
		return http.StatusNotFound
	case storage.IsAlreadyExists(err):
		return http.StatusConflict
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrNotStarted):
		return http.StatusServiceUnavailable
	}
	return orchestrator.HTTPStatus(err)
}

// WriteError writes a standard JSON error response to the client,
// choosing the status with StatusCode, and logs it.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	statusCode := StatusCode(err)

	logEvent := log.Warn()
	if statusCode >= http.StatusInternalServerError {
		logEvent = log.Error()
	}
	logEvent.
		Str("component", "api").
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", statusCode).
		Err(err).
		Msg("Request failed")

	resp := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: err.Error(),
	}
	if statusCode != http.StatusNotFound && statusCode != http.StatusServiceUnavailable {
		if code := orchestrator.ErrorCode(err); code != orchestrator.CodeRunFailure {
			resp.Code = code
		}
	}

	render.Status(r, statusCode)
	render.JSON(w, r, resp)
}

// WriteJSONError writes a custom JSON error response with a specific status code.
//
// Example:
//
//	WriteJSONError(w, r, http.StatusBadRequest, "Target parameter is required")
func WriteJSONError(w http.ResponseWriter, r *http.Request, statusCode int, message string) {
	render.Status(r, statusCode)
	render.JSON(w, r, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
	})
}

// WriteJSON writes a JSON response to the client.
func WriteJSON(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	render.Status(r, statusCode)
	render.JSON(w, r, data)
}
