package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"licensecore/internal/entitlement"
	apierrors "licensecore/internal/errors"
	"licensecore/internal/infrastructure"
	custommw "licensecore/internal/middleware"
)

// LicenseEngine is the engine surface used by the license endpoints
type LicenseEngine interface {
	Status() entitlement.Status
	ChangeSerialKey(ctx context.Context, hexString string) entitlement.SetResult
	RequestActivation(ctx context.Context) entitlement.ActivationResult
	HandleVersionCheck(versionURL string) string
	IsEnabled() bool
	State() entitlement.State
}

// SerialKeyRequest is the body of POST /api/license/serial-key
type SerialKeyRequest struct {
	SerialKey string `json:"serialKey" validate:"required,max=4096,serialhex"`
}

// SerialKeyResponse reports an accepted serial key
type SerialKeyResponse struct {
	Result  string             `json:"result"`
	Message string             `json:"message"`
	Status  entitlement.Status `json:"status"`
}

// ActivationResponse reports an accepted activation request. The outcome
// of a started request arrives on the event stream.
type ActivationResponse struct {
	Result string             `json:"result"`
	Status entitlement.Status `json:"status"`
}

// VersionURLResponse is the edition specific version check URL
type VersionURLResponse struct {
	URL string `json:"url"`
}

// LicenseHandler serves /api/license
type LicenseHandler struct {
	engine     LicenseEngine
	validator  *custommw.Validator
	errors     *apierrors.ErrorHandler
	versionURL string
	logger     *slog.Logger
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(engine LicenseEngine, validator *custommw.Validator, errorHandler *apierrors.ErrorHandler, versionURL string, logger *slog.Logger) *LicenseHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LicenseHandler{
		engine:     engine,
		validator:  validator,
		errors:     errorHandler,
		versionURL: versionURL,
		logger:     logger.With(slog.String("handler", "license")),
	}
}

// Routes returns the license router. Mutations sit behind the license gate.
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	gate := custommw.NewLicenseGate(h.engine, h.errors, h.logger)

	r.Get("/status", h.GetStatus)
	r.Get("/version-url", h.GetVersionURL)
	r.Group(func(r chi.Router) {
		r.Use(gate.Handler)
		r.Post("/serial-key", h.ChangeSerialKey)
		r.Post("/activate", h.Activate)
	})
	return r
}

func (h *LicenseHandler) span(ctx context.Context, operation string) (context.Context, trace.Span) {
	return otel.Tracer(infrastructure.InstrumentationName).Start(ctx, "license_handler."+operation,
		trace.WithAttributes(
			attribute.String("component", "license_handler"),
			attribute.String("operation", operation),
			attribute.String("request_id", middleware.GetReqID(ctx)),
		),
	)
}

// GetStatus handles GET /api/license/status
func (h *LicenseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	_, span := h.span(r.Context(), "get_status")
	defer span.End()

	status := h.engine.Status()
	span.SetAttributes(attribute.String("license.state", string(status.State)))
	render.JSON(w, r, status)
}

// ChangeSerialKey handles POST /api/license/serial-key
func (h *LicenseHandler) ChangeSerialKey(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.span(r.Context(), "change_serial_key")
	defer span.End()

	var req SerialKeyRequest
	if err := h.validator.Bind(r, &req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	result := h.engine.ChangeSerialKey(ctx, req.SerialKey)
	span.SetAttributes(attribute.String("license.set_result", result.String()))

	h.logger.InfoContext(ctx, "serial key change handled",
		slog.String("result", result.String()),
		slog.String("serial_key", entitlement.MaskSerialKey(req.SerialKey)),
		slog.String("request_id", middleware.GetReqID(ctx)),
	)

	if apiErr := apierrors.SetResultAPIError(result); apiErr != nil {
		h.errors.HandleError(w, r, apiErr)
		return
	}

	render.JSON(w, r, SerialKeyResponse{
		Result:  result.String(),
		Message: result.Message(),
		Status:  h.engine.Status(),
	})
}

// Activate handles POST /api/license/activate
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.span(r.Context(), "activate")
	defer span.End()

	result := h.engine.RequestActivation(ctx)
	span.SetAttributes(attribute.String("license.activation_result", result.String()))

	h.logger.InfoContext(ctx, "activation request handled",
		slog.String("result", result.String()),
		slog.String("request_id", middleware.GetReqID(ctx)),
	)

	if apiErr := apierrors.ActivationAPIError(result); apiErr != nil {
		h.errors.HandleError(w, r, apiErr)
		return
	}

	render.Status(r, apierrors.ActivationStatus(result))
	render.JSON(w, r, ActivationResponse{
		Result: result.String(),
		Status: h.engine.Status(),
	})
}

// GetVersionURL handles GET /api/license/version-url
func (h *LicenseHandler) GetVersionURL(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, VersionURLResponse{URL: h.engine.HandleVersionCheck(h.versionURL)})
}
