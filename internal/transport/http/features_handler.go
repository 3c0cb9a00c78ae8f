package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "licensecore/internal/errors"
	"licensecore/internal/features"
	"licensecore/internal/license"
	custommw "licensecore/internal/middleware"
)

// FeatureEngine is the engine surface used by the feature endpoints
type FeatureEngine interface {
	ClampFeatures(ctx context.Context, cfg features.Config) (features.Config, []features.Downgrade)
	License() *license.License
	IsEnabled() bool
}

// ClampRequest carries the toggles the presentation layer wants to commit
type ClampRequest struct {
	Features features.Config `json:"features"`
}

// ClampResponse is the licensed configuration and what was turned off
type ClampResponse struct {
	Features   features.Config      `json:"features"`
	Downgrades []features.Downgrade `json:"downgrades"`
}

// FeatureAvailability describes one gated feature
type FeatureAvailability struct {
	Name           features.Feature `json:"name"`
	Available      bool             `json:"available"`
	UpgradeMessage string           `json:"upgradeMessage,omitempty"`
}

// FeaturesHandler serves /api/features
type FeaturesHandler struct {
	engine    FeatureEngine
	validator *custommw.Validator
	errors    *apierrors.ErrorHandler
	logger    *slog.Logger
}

// NewFeaturesHandler creates a new features handler
func NewFeaturesHandler(engine FeatureEngine, validator *custommw.Validator, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *FeaturesHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FeaturesHandler{
		engine:    engine,
		validator: validator,
		errors:    errorHandler,
		logger:    logger.With(slog.String("handler", "features")),
	}
}

// Routes returns the features router
func (h *FeaturesHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/clamp", h.Clamp)
	return r
}

// List handles GET /api/features
func (h *FeaturesHandler) List(w http.ResponseWriter, r *http.Request) {
	enabled := h.engine.IsEnabled()
	lic := h.engine.License()

	out := make([]FeatureAvailability, 0, len(features.All))
	for _, f := range features.All {
		fa := FeatureAvailability{Name: f, Available: !enabled || features.Available(lic, f)}
		if !fa.Available {
			fa.UpgradeMessage = features.UpgradeMessage(f)
		}
		out = append(out, fa)
	}
	render.JSON(w, r, out)
}

// Clamp handles POST /api/features/clamp
func (h *FeaturesHandler) Clamp(w http.ResponseWriter, r *http.Request) {
	var req ClampRequest
	if err := h.validator.Bind(r, &req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	cfg, downgrades := h.engine.ClampFeatures(r.Context(), req.Features)
	if downgrades == nil {
		downgrades = []features.Downgrade{}
	}
	if len(downgrades) > 0 {
		h.logger.InfoContext(r.Context(), "feature configuration clamped",
			slog.Int("downgrades", len(downgrades)))
	}

	render.JSON(w, r, ClampResponse{Features: cfg, Downgrades: downgrades})
}
