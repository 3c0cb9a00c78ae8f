package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensecore/internal/entitlement"
)

type fixedClients int

func (c fixedClients) ClientCount() int { return int(c) }

func TestHealthCheck(t *testing.T) {
	engine := newFakeEngine("pro")
	engine.state = entitlement.StateValidActivated
	h := NewHealthHandler("1.16.0", engine, fixedClients(2))

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "1.16.0", body["version"])
	assert.Equal(t, string(entitlement.StateValidActivated), body["licenseState"])
	assert.Equal(t, float64(2), body["eventClients"])
}

func TestHealthCheckWithoutEventStream(t *testing.T) {
	h := NewHealthHandler("1.16.0", newFakeEngine("pro"), nil)

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, float64(0), decode(t, rec)["eventClients"])
}
