package errors

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

// APIError represents a structured API error response
type APIError struct {
	StatusCode int         `json:"status_code"`
	ErrorCode  string      `json:"error_code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// Render implements the render.Renderer interface for chi/render
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

// ValidationError represents validation errors
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// New creates a new APIError with the given parameters
func New(statusCode int, errorCode, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
	}
}

// NewWithDetails creates a new APIError with additional details
func NewWithDetails(statusCode int, errorCode, message string, details interface{}) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
		Details:    details,
	}
}

// Error codes shared by the bridge API
const (
	CodeInvalidRequest       = "INVALID_REQUEST"
	CodeValidationFailed     = "VALIDATION_FAILED"
	CodeNotFound             = "NOT_FOUND"
	CodeInvalidSerialKey     = "INVALID_SERIAL_KEY"
	CodeLicenseExpired       = "LICENSE_EXPIRED"
	CodeSettingsNotWritable  = "SETTINGS_NOT_WRITABLE"
	CodeActivationInProgress = "ACTIVATION_IN_PROGRESS"
	CodeRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
	CodeEngineDisabled       = "LICENSE_ENGINE_DISABLED"
)

// ErrRateLimitExceeded is returned once the bridge request budget is spent
var ErrRateLimitExceeded = New(http.StatusTooManyRequests, CodeRateLimitExceeded, "Rate limit exceeded")

// InvalidRequestWithError creates an invalid request error with details
func InvalidRequestWithError(err error) *APIError {
	return NewWithDetails(http.StatusBadRequest, CodeInvalidRequest, "Invalid request format", err.Error())
}

// NewValidationErrors creates validation errors from multiple fields
func NewValidationErrors(errs []ValidationError) *APIError {
	return NewWithDetails(
		http.StatusBadRequest,
		CodeValidationFailed,
		"Request validation failed",
		ValidationErrors{Errors: errs},
	)
}

// ValidationErrors represents multiple validation errors
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

// WriteError writes err as a problem document. Middleware that rejects a
// request before routing uses it instead of the ErrorHandler.
func WriteError(w http.ResponseWriter, r *http.Request, err *APIError) {
	problem := problemFromAPIError(err, r.URL.Path).
		WithExtension("trace_id", middleware.GetReqID(r.Context()))
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(err.StatusCode)
	_ = json.NewEncoder(w).Encode(problem)
}
