package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

// Problem types following RFC 7807
const (
	TypeValidation          = "/errors/validation"
	TypeNotFound            = "/errors/not-found"
	TypeMethodNotAllowed    = "/errors/method-not-allowed"
	TypeRateLimit           = "/errors/rate-limit"
	TypeInternal            = "/errors/internal"
	TypeTimeout             = "/errors/timeout"
	TypeConflict            = "/errors/conflict"
	TypeLicenseInvalid      = "/errors/license/invalid"
	TypeLicenseExpired      = "/errors/license/expired"
	TypeSettingsNotWritable = "/errors/settings/not-writable"
	TypeActivationBusy      = "/errors/activation/in-progress"
	TypeEngineDisabled      = "/errors/license/engine-disabled"
)

// ErrorHandler provides centralized error handling
type ErrorHandler struct {
	logger       *slog.Logger
	includeStack bool
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *slog.Logger, includeStack bool) *ErrorHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ErrorHandler{
		logger:       logger.With(slog.String("component", "error_handler")),
		includeStack: includeStack,
	}
}

// HandleError converts any error to RFC 7807 format and responds
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	reqID := middleware.GetReqID(r.Context())
	h.logger.ErrorContext(r.Context(), "request failed",
		slog.String("error", err.Error()),
		slog.String("request_id", reqID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)

	problem := h.ErrorToProblem(err, r)
	problem.WithExtension("trace_id", reqID)
	if h.includeStack {
		problem.WithExtension("stack", string(debug.Stack()))
	}

	_ = render.Render(w, r, problem)
}

// ErrorToProblem converts an error to RFC 7807 Problem Details
func (h *ErrorHandler) ErrorToProblem(err error, r *http.Request) *ProblemDetails {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewProblemDetails(
			http.StatusGatewayTimeout,
			TypeTimeout,
			"Request Timeout",
			"The request took too long to process and was cancelled",
			r.URL.Path,
		)
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return problemFromAPIError(apiErr, r.URL.Path)
	}

	switch {
	case errors.Is(err, ErrLicenseInvalid):
		return NewProblemDetails(http.StatusUnprocessableEntity, TypeLicenseInvalid,
			"Invalid Serial Key", "Please enter a valid serial key.", r.URL.Path)
	case errors.Is(err, ErrLicenseExpired):
		return NewProblemDetails(http.StatusUnprocessableEntity, TypeLicenseExpired,
			"License Expired", "Your license has expired. Please renew to continue.", r.URL.Path)
	case errors.Is(err, ErrSettingsNotWritable):
		return NewProblemDetails(http.StatusConflict, TypeSettingsNotWritable,
			"Settings Not Writable", "The license settings cannot be saved. Check the settings file permissions.", r.URL.Path)
	case errors.Is(err, ErrActivatorBusy):
		return NewProblemDetails(http.StatusConflict, TypeActivationBusy,
			"Activation In Progress", "An activation is already in progress.", r.URL.Path)
	case errors.Is(err, ErrEngineDisabled):
		return NewProblemDetails(http.StatusConflict, TypeEngineDisabled,
			"License Engine Disabled", "Licensing is disabled for this process.", r.URL.Path)
	default:
		return NewProblemDetails(
			http.StatusInternalServerError,
			TypeInternal,
			"Internal Server Error",
			"An unexpected error occurred while processing your request",
			r.URL.Path,
		)
	}
}

func problemFromAPIError(apiErr *APIError, instance string) *ProblemDetails {
	problemType := TypeInternal
	switch apiErr.ErrorCode {
	case CodeInvalidRequest, CodeValidationFailed:
		problemType = TypeValidation
	case CodeNotFound:
		problemType = TypeNotFound
	case CodeInvalidSerialKey:
		problemType = TypeLicenseInvalid
	case CodeLicenseExpired:
		problemType = TypeLicenseExpired
	case CodeSettingsNotWritable:
		problemType = TypeSettingsNotWritable
	case CodeActivationInProgress:
		problemType = TypeActivationBusy
	case CodeRateLimitExceeded:
		problemType = TypeRateLimit
	case CodeEngineDisabled:
		problemType = TypeEngineDisabled
	}

	problem := NewProblemDetails(
		apiErr.StatusCode,
		problemType,
		http.StatusText(apiErr.StatusCode),
		apiErr.Message,
		instance,
	).WithExtension("error_code", apiErr.ErrorCode)

	if apiErr.Details != nil {
		problem.WithExtension("details", apiErr.Details)
	}
	return problem
}

// HandlePanic responds to a recovered panic with a 500 problem
func (h *ErrorHandler) HandlePanic(w http.ResponseWriter, r *http.Request, recovered interface{}) {
	reqID := middleware.GetReqID(r.Context())

	h.logger.ErrorContext(r.Context(), "panic recovered",
		slog.Any("panic", recovered),
		slog.String("request_id", reqID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("stack", string(debug.Stack())),
	)

	problem := NewProblemDetails(
		http.StatusInternalServerError,
		TypeInternal,
		"Internal Server Error",
		"An unexpected error occurred",
		r.URL.Path,
	).WithExtension("trace_id", reqID)

	if h.includeStack {
		problem.WithExtension("panic", fmt.Sprintf("%v", recovered))
	}

	_ = render.Render(w, r, problem)
}

// NotFound returns a standard 404 error
func (h *ErrorHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	problem := NewProblemDetails(
		http.StatusNotFound,
		TypeNotFound,
		"Not Found",
		"The requested resource was not found",
		r.URL.Path,
	).WithExtension("trace_id", middleware.GetReqID(r.Context()))

	_ = render.Render(w, r, problem)
}

// MethodNotAllowed returns a standard 405 error
func (h *ErrorHandler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	problem := NewProblemDetails(
		http.StatusMethodNotAllowed,
		TypeMethodNotAllowed,
		"Method Not Allowed",
		fmt.Sprintf("Method %s is not allowed for this endpoint", r.Method),
		r.URL.Path,
	).WithExtension("trace_id", middleware.GetReqID(r.Context()))

	_ = render.Render(w, r, problem)
}
