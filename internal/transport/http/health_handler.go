package http

import (
	"net/http"
	"time"

	"github.com/go-chi/render"

	"licensecore/internal/entitlement"
)

// StateReader reports the engine state for health checks
type StateReader interface {
	State() entitlement.State
}

// ClientCounter reports connected event stream clients
type ClientCounter interface {
	ClientCount() int
}

// HealthResponse is the body of GET /api/health
type HealthResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version"`
	Uptime       string            `json:"uptime"`
	LicenseState entitlement.State `json:"licenseState"`
	EventClients int               `json:"eventClients"`
	Timestamp    time.Time         `json:"timestamp"`
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	version   string
	startedAt time.Time
	engine    StateReader
	clients   ClientCounter
}

// NewHealthHandler creates a new health handler. clients may be nil.
func NewHealthHandler(version string, engine StateReader, clients ClientCounter) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startedAt: time.Now(),
		engine:    engine,
		clients:   clients,
	}
}

// HealthCheck handles GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:       "ok",
		Version:      h.version,
		Uptime:       time.Since(h.startedAt).Round(time.Second).String(),
		LicenseState: h.engine.State(),
		Timestamp:    time.Now().UTC(),
	}
	if h.clients != nil {
		resp.EventClients = h.clients.ClientCount()
	}
	render.JSON(w, r, resp)
}
