package web

// errors.go provides unified error response handling for the web layer.
//
// It ensures all errors are:
//   - Logged with full technical details for debugging (server-side)
//   - Returned to clients as user-friendly JSON with an action suggestion
//   - Given a status code derived from the error's type
//
// The error flow:
//  1. Handler encounters an error
//  2. Calls s.respondError(w, r, err)
//  3. statusFor picks the HTTP status; core.MapError the user message
//  4. Technical error + context is logged with request ID for correlation

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/JonMunkholm/eventimport/internal/core"
	"github.com/JonMunkholm/eventimport/internal/logging"
	"github.com/JonMunkholm/eventimport/internal/tabular"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Action  string   `json:"action,omitempty"`
	Code    string   `json:"code"`
	Details []string `json:"details,omitempty"`
}

// requestError is a client mistake caught before the service is called.
type requestError struct {
	reason  string
	details []string
}

func (e *requestError) Error() string {
	if len(e.details) == 0 {
		return "invalid request: " + e.reason
	}
	return fmt.Sprintf("invalid request: %s: %s", e.reason, strings.Join(e.details, "; "))
}

func badRequest(format string, args ...any) error {
	return &requestError{reason: fmt.Sprintf(format, args...)}
}

// invalidFields converts validator errors into a requestError listing each
// failed field.
func invalidFields(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return badRequest("%v", err)
	}
	details := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		d := fmt.Sprintf("field '%s' failed on the '%s' tag", fe.Field(), fe.Tag())
		if fe.Param() != "" {
			d = fmt.Sprintf("%s (%s)", d, fe.Param())
		}
		details = append(details, d)
	}
	return &requestError{reason: "validation failed", details: details}
}

// statusFor maps an error to its HTTP status code.
func statusFor(err error) int {
	var (
		reqErr     *requestError
		parseErr   *core.ParseError
		mappingErr *core.MappingError
		setupErr   *core.JobSetupError
		maxBytes   *http.MaxBytesError
	)

	switch {
	case errors.As(err, &reqErr), errors.As(err, &mappingErr):
		return http.StatusBadRequest
	case errors.Is(err, tabular.ErrFileTooLarge), errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &parseErr), errors.Is(err, core.ErrNoFile), errors.Is(err, core.ErrUnknownImportType):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidTransition), errors.Is(err, core.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, core.ErrTooManyImports):
		return http.StatusServiceUnavailable
	case errors.As(err, &setupErr):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// respondError logs the technical error server-side and writes a
// user-friendly JSON error.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	statusCode := statusFor(err)
	userMsg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", userMsg.Code,
	}
	if statusCode >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request error", attrs...)
	}

	if statusCode == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "30")
	}

	var reqErr *requestError
	if errors.As(err, &reqErr) {
		respondErrorJSON(w, userMsg, statusCode, reqErr.details...)
		return
	}
	respondErrorJSON(w, userMsg, statusCode)
}

// respondErrorJSON writes a JSON error response.
func respondErrorJSON(w http.ResponseWriter, msg core.UserMessage, statusCode int, details ...string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
		Details: details,
	})
}
