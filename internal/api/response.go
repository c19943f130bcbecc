package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hurttlocker/linewatch/internal/export"
	"github.com/hurttlocker/linewatch/internal/ingest"
	"github.com/hurttlocker/linewatch/internal/plan"
	"github.com/hurttlocker/linewatch/internal/scan"
	"github.com/hurttlocker/linewatch/internal/store"
)

// CodeInternal is the error code of unexpected failures. It is not part of
// the notification taxonomy.
const CodeInternal = "INTERNAL_ERROR"

// APIError is the error member of the envelope.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Envelope wraps every JSON response.
type Envelope struct {
	Success bool      `json:"success"`
	Data    any       `json:"data"`
	Error   *APIError `json:"error"`
}

func respondOK(c *gin.Context, status int, data any) {
	c.JSON(status, Envelope{Success: true, Data: data})
}

func respondError(c *gin.Context, status int, code, message string, details any) {
	c.AbortWithStatusJSON(status, Envelope{Error: &APIError{Code: code, Message: message, Details: details}})
}

func badRequest(c *gin.Context, message string, details any) {
	respondError(c, http.StatusBadRequest, string(store.CodeValidationError), message, details)
}

// classify maps a domain error to its HTTP status and taxonomy code. ok is
// false for unexpected errors.
func classify(err error) (status int, code store.NotificationCode, details any, ok bool) {
	var mce *plan.MissingColumnsError
	switch {
	case errors.As(err, &mce):
		return http.StatusBadRequest, store.CodeValidationError, map[string]any{
			"expected": mce.Expected, "found": mce.Found, "missing": mce.Missing,
		}, true
	case errors.Is(err, ingest.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType, store.CodeUnsupportedMediaType, nil, true
	case errors.Is(err, ingest.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, store.CodePayloadTooLarge, nil, true
	case errors.Is(err, scan.ErrOutsideRoot), errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest, store.CodeValidationError, nil, true
	case errors.Is(err, export.ErrEmpty):
		return http.StatusNotFound, store.CodeExportEmpty, nil, true
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, store.CodeNotFound, nil, true
	}
	return http.StatusInternalServerError, "", nil, false
}

// fail writes the envelope for err. Unexpected errors are logged and hidden
// behind a generic message.
func (s *Server) fail(c *gin.Context, err error) {
	status, code, details, ok := classify(err)
	if !ok {
		s.log.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		respondError(c, status, CodeInternal, "internal error", nil)
		return
	}
	respondError(c, status, string(code), err.Error(), details)
}

// rejectUpload is fail for uploaded files: a classified rejection is also
// recorded as a notification.
func (s *Server) rejectUpload(c *gin.Context, file string, err error) {
	if _, code, _, ok := classify(err); ok && code != store.CodeExportEmpty && code != store.CodeNotFound {
		if _, nerr := s.store.Notify(c.Request.Context(), code, err.Error(), map[string]any{"file": file}); nerr != nil {
			s.log.Warn("notification failed", "code", string(code), "error", nerr)
		}
	}
	s.fail(c, err)
}
