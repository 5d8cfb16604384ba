package web

// errors.go provides unified error responses for the API.
//
// Technical errors are logged with the request id; clients receive the
// user-facing message from core.MapError together with its lookup code.

import (
	"context"
	"errors"
	"net/http"

	"github.com/JonMunkholm/repoimport/internal/core"
	"github.com/JonMunkholm/repoimport/internal/logging"
	"github.com/JonMunkholm/repoimport/internal/sheet"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// respondError logs err server-side and writes its user-facing message.
func respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	userMsg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	log := logger.Error
	if core.IsUserFacing(err) {
		log = logger.Warn
	}
	log("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", userMsg.Code,
	)

	if errors.Is(err, core.ErrTooManyImports) {
		w.Header().Set("Retry-After", "30")
	}
	writeJSONStatus(w, statusCode, ErrorResponse{
		Error:   userMsg.Message,
		Message: userMsg.Message,
		Action:  userMsg.Action,
		Code:    userMsg.Code,
	})
}

// writeError writes a request-shape error that has no mapped code.
func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	logging.FromContext(r.Context()).Warn("request rejected",
		"path", r.URL.Path,
		"status", status,
		"reason", message,
	)
	writeJSONStatus(w, status, ErrorResponse{
		Error:   message,
		Message: message,
		Code:    "REQ000",
	})
}

// statusFor picks the HTTP status for a service error.
func statusFor(err error) int {
	var mappingErr *core.MappingError
	switch {
	case errors.As(err, &mappingErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrRepositoryNotFound), errors.Is(err, core.ErrImportNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrMissingActor),
		errors.Is(err, sheet.ErrUnsupportedFile),
		errors.Is(err, sheet.ErrEmptyFile):
		return http.StatusBadRequest
	case errors.Is(err, sheet.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrTooManyImports):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrImportRunning), errors.Is(err, context.Canceled):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
