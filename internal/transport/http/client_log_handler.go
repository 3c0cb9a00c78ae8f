package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	apierrors "licensecore/internal/errors"
	"licensecore/internal/infrastructure"
	custommw "licensecore/internal/middleware"
)

// LogRequest is a log entry forwarded by the presentation layer
type LogRequest struct {
	Level   string                 `json:"level" validate:"omitempty,oneof=debug info warn error"`
	Message string                 `json:"message" validate:"required,max=2000"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Source  string                 `json:"source,omitempty" validate:"max=200"`
}

// ClientLogHandler writes presentation layer logs into the service log
type ClientLogHandler struct {
	validator *custommw.Validator
	errors    *apierrors.ErrorHandler
	logger    *slog.Logger
}

// NewClientLogHandler creates a new client log handler
func NewClientLogHandler(validator *custommw.Validator, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *ClientLogHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClientLogHandler{
		validator: validator,
		errors:    errorHandler,
		logger:    logger.With(slog.String("handler", "client_log")),
	}
}

// Handle processes POST /api/logs
func (h *ClientLogHandler) Handle(w http.ResponseWriter, r *http.Request) {
	var req LogRequest
	if err := h.validator.Bind(r, &req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	attrs := []slog.Attr{slog.String("client_source", req.Source)}
	if req.Data != nil {
		attrs = append(attrs, slog.Any("data", req.Data))
	}
	h.logger.LogAttrs(r.Context(), infrastructure.ParseLogLevel(req.Level), req.Message, attrs...)

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]bool{"success": true})
}
