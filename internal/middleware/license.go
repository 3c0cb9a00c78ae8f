package middleware

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"licensecore/internal/entitlement"
	apierrors "licensecore/internal/errors"
	"licensecore/internal/infrastructure"
)

// LicenseState is the part of the engine the gate reads
type LicenseState interface {
	IsEnabled() bool
	State() entitlement.State
}

// LicenseGate refuses license mutations while the engine runs in bypass
// mode. Reads stay available so the presentation layer can still show the
// disabled state.
type LicenseGate struct {
	state        LicenseState
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewLicenseGate creates the gate
func NewLicenseGate(state LicenseState, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *LicenseGate {
	if state == nil {
		panic("middleware: license state is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LicenseGate{
		state:        state,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("component", "license_gate")),
	}
}

// Handler returns the middleware handler function
func (g *LicenseGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := otel.Tracer(infrastructure.InstrumentationName).Start(r.Context(), "license_gate.check",
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.path", r.URL.Path),
			),
		)
		defer span.End()

		if g.state.IsEnabled() {
			span.SetAttributes(attribute.String("license.state", string(g.state.State())))
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		span.SetAttributes(attribute.String("license.state", string(entitlement.StateDisabled)))
		g.logger.WarnContext(ctx, "license mutation refused, engine disabled",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.GetReqID(ctx)),
		)
		g.errorHandler.HandleError(w, r.WithContext(ctx), apierrors.ErrEngineDisabled)
	})
}
