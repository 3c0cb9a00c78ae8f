package http

import (
	"net/http"

	apierrors "licensecore/internal/errors"
)

// MetricsHandler serves the Prometheus scrape endpoint, or 404 when
// metrics are turned off
type MetricsHandler struct {
	scrape http.Handler
	errors *apierrors.ErrorHandler
}

// NewMetricsHandler wraps scrape, which may be nil
func NewMetricsHandler(scrape http.Handler, errorHandler *apierrors.ErrorHandler) *MetricsHandler {
	return &MetricsHandler{scrape: scrape, errors: errorHandler}
}

// ServeHTTP implements http.Handler
func (h *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.scrape == nil {
		h.errors.NotFound(w, r)
		return
	}
	h.scrape.ServeHTTP(w, r)
}
