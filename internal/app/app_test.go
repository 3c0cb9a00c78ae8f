package app

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensecore/internal/config"
	"licensecore/internal/entitlement"
	"licensecore/internal/security"
	"licensecore/internal/settings"
	"licensecore/internal/shared/testutil"
	ws "licensecore/internal/websocket"
)

var testIdentity = security.StaticIdentity{Machine: "machine-0001", Host: "workstation", OS: "TestOS 1.0"}

type activationServer struct {
	*httptest.Server
	posts   atomic.Int64
	free    int64
	release chan struct{}
	once    sync.Once
}

func newActivationServer(t *testing.T, body string) *activationServer {
	return newHeldActivationServer(t, body, math.MaxInt64)
}

// newHeldActivationServer answers the first free requests at once and holds
// later ones until Release
func newHeldActivationServer(t *testing.T, body string, free int64) *activationServer {
	t.Helper()
	s := &activationServer{free: free, release: make(chan struct{})}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.posts.Add(1) > s.free {
			<-s.release
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(s.Close)
	t.Cleanup(s.Release)
	return s
}

// Release lets held requests through
func (s *activationServer) Release() {
	s.once.Do(func() { close(s.release) })
}

func newTestConfig(t *testing.T, activationURL string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Settings.UserDir = t.TempDir()
	cfg.Settings.SystemDir = ""
	cfg.Settings.Watch = false
	cfg.Server.Address = "127.0.0.1:0"
	cfg.Activation.URL = activationURL
	cfg.Activation.Timeout = 5 * time.Second
	cfg.Reminder.Enabled = false
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *Application {
	t.Helper()
	a, err := NewApplication(cfg, WithConsole(io.Discard), WithIdentity(testIdentity))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Stop(context.Background()) })
	return a
}

func request(t *testing.T, a *Application, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	a.Router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func serialKeyBody(key string) string {
	return `{"serialKey":"` + key + `"}`
}

func TestNewApplicationWiresServices(t *testing.T) {
	server := newActivationServer(t, testutil.ActivationResponses()["success"])
	cfg := newTestConfig(t, server.URL)
	cfg.Settings.Watch = true
	cfg.Reminder.Enabled = true

	a := newTestApp(t, cfg)

	assert.NotNil(t, a.Store)
	assert.NotNil(t, a.Activator)
	assert.NotNil(t, a.Manager)
	assert.NotNil(t, a.Hub)
	assert.NotNil(t, a.Watcher)
	assert.NotNil(t, a.Reminder)
	assert.NotNil(t, a.Router)
	assert.Equal(t, server.URL, a.Activator.URL())
	assert.True(t, a.Manager.IsEnabled())
	assert.Equal(t, entitlement.StateInvalid, a.Manager.State())
}

func TestDisabledEngineSkipsBackgroundServices(t *testing.T) {
	cfg := newTestConfig(t, "")
	cfg.Activation.Enabled = false
	cfg.Settings.Watch = true
	cfg.Reminder.Enabled = true

	a := newTestApp(t, cfg)

	assert.False(t, a.Manager.IsEnabled())
	assert.Nil(t, a.Watcher)
	assert.Nil(t, a.Reminder)

	rec := request(t, a, http.MethodPost, "/api/license/serial-key", serialKeyBody(testutil.PermanentKey("pro")))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "/errors/license/engine-disabled", decodeBody(t, rec)["type"])
}

func TestHealthEndpoint(t *testing.T) {
	a := newTestApp(t, newTestConfig(t, ""))

	rec := request(t, a, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, config.AppVersion, body["version"])
	assert.Equal(t, string(entitlement.StateInvalid), body["licenseState"])
}

func TestUnknownRouteReturnsProblem(t *testing.T) {
	a := newTestApp(t, newTestConfig(t, ""))

	rec := request(t, a, http.MethodGet, "/api/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "/errors/not-found", body["type"])
	assert.NotEmpty(t, body["trace_id"])
}

func TestSerialKeyValidation(t *testing.T) {
	a := newTestApp(t, newTestConfig(t, ""))

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{name: "not hex", body: serialKeyBody("not-a-key"), status: http.StatusBadRequest, code: "VALIDATION_FAILED"},
		{name: "hex that does not parse", body: serialKeyBody("abcd"), status: http.StatusUnprocessableEntity, code: "INVALID_SERIAL_KEY"},
		{name: "expired trial", body: serialKeyBody(testutil.TrialKey("pro", time.Now().Add(-48*time.Hour))), status: http.StatusUnprocessableEntity, code: "LICENSE_EXPIRED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := request(t, a, http.MethodPost, "/api/license/serial-key", tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decodeBody(t, rec)["error_code"])
		})
	}

	assert.Equal(t, entitlement.StateInvalid, a.Manager.State())
}

func TestSerialKeyAndActivationFlow(t *testing.T) {
	server := newActivationServer(t, testutil.ActivationResponses()["success"])
	a := newTestApp(t, newTestConfig(t, server.URL))
	key := testutil.PermanentKey("pro")

	rec := request(t, a, http.MethodPost, "/api/license/serial-key", serialKeyBody(key))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "success", decodeBody(t, rec)["result"])
	assert.Equal(t, entitlement.StateValidNotActivated, a.Manager.State())

	data, err := os.ReadFile(a.Store.UserPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), settings.KeySerialKey)

	rec = request(t, a, http.MethodPost, "/api/license/activate", "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "started", decodeBody(t, rec)["result"])

	require.Eventually(t, a.Manager.IsActivated, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, a.Core.IsCoreStarted, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), server.posts.Load())

	rec = request(t, a, http.MethodPost, "/api/license/activate", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "not_required", decodeBody(t, rec)["result"])

	rec = request(t, a, http.MethodGet, "/api/license/version-url", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, config.DefaultVersionCheckURL+"/personal", decodeBody(t, rec)["url"])
}

func TestKeyChangeOnRunningCoreWaitsForActivation(t *testing.T) {
	server := newHeldActivationServer(t, testutil.ActivationResponses()["success"], 1)
	a := newTestApp(t, newTestConfig(t, server.URL))
	ctx := context.Background()

	require.Equal(t, entitlement.ResultSuccess, a.Manager.ChangeSerialKey(ctx, testutil.PermanentKey("pro")))
	require.Equal(t, entitlement.ActivationStarted, a.Manager.RequestActivation(ctx))
	require.Eventually(t, a.Core.IsCoreStarted, 5*time.Second, 10*time.Millisecond)

	rec := request(t, a, http.MethodPost, "/api/license/serial-key", serialKeyBody(testutil.PermanentKey("business")))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.False(t, a.Core.IsCoreStarted(), "core waits for the new key to be activated")
	assert.False(t, a.Manager.IsActivated())
	require.Eventually(t, func() bool { return server.posts.Load() == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, entitlement.StateActivating, a.Manager.State())

	server.Release()
	require.Eventually(t, a.Manager.IsActivated, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, a.Core.IsCoreStarted, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(2), server.posts.Load())
	assert.Zero(t, a.Core.Restarts())
}

func TestActivateWithoutBodyOrContentType(t *testing.T) {
	server := newActivationServer(t, testutil.ActivationResponses()["success"])
	a := newTestApp(t, newTestConfig(t, server.URL))
	require.Equal(t, entitlement.ResultSuccess, a.Manager.ChangeSerialKey(context.Background(), testutil.PermanentKey("pro")))

	req := httptest.NewRequest(http.MethodPost, "/api/license/activate", nil)
	require.Empty(t, req.Header.Get("Content-Type"))
	rec := httptest.NewRecorder()
	a.Router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Eventually(t, a.Manager.IsActivated, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), server.posts.Load())

	rec = request(t, a, http.MethodPost, "/api/license/serial-key", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "an empty serial key body still fails validation")
}

func TestFeatureClampThroughRouter(t *testing.T) {
	cfg := newTestConfig(t, "")
	cfg.Test.SerialKey = testutil.OfflineKey("basic")
	a := newTestApp(t, cfg)

	rec := request(t, a, http.MethodPost, "/api/features/clamp",
		`{"features":{"tls":{"enabled":true,"explicit":true},"invert_connection":{"enabled":false},"system_scope":{"enabled":false}}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	clamped := body["features"].(map[string]interface{})
	assert.Equal(t, false, clamped["tls"].(map[string]interface{})["enabled"])
	require.Len(t, body["downgrades"], 1)
}

func TestMetricsEndpoint(t *testing.T) {
	a := newTestApp(t, newTestConfig(t, ""))

	request(t, a, http.MethodGet, "/api/health", "")
	rec := request(t, a, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestStartWithOfflineKeyStartsCore(t *testing.T) {
	cfg := newTestConfig(t, "")
	cfg.Test.SerialKey = testutil.OfflineKey("business")
	a := newTestApp(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx, cancel))
	require.Error(t, a.Start(ctx, cancel))

	assert.True(t, a.Core.IsCoreStarted())
	assert.Equal(t, entitlement.StateValidActivated, a.Manager.State())

	resp, err := http.Get("http://" + a.Addr() + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+a.Addr()+"/api/events", nil)
	require.NoError(t, err)
	defer conn.Close()

	var m ws.Message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&m))
	assert.Equal(t, ws.TypeConnection, m.Type)
	require.NoError(t, conn.ReadJSON(&m))
	assert.Equal(t, ws.TypeStatus, m.Type)

	require.NoError(t, a.Stop(context.Background()))
	assert.False(t, a.Core.IsCoreStarted())
}

func TestStartWithoutLicenseDefersCore(t *testing.T) {
	a := newTestApp(t, newTestConfig(t, ""))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx, cancel))

	assert.False(t, a.Core.IsCoreStarted())
	assert.Equal(t, entitlement.StateInvalid, a.Manager.State())
}

func TestSettingsWatcherReloadsExternalChange(t *testing.T) {
	cfg := newTestConfig(t, "")
	cfg.Settings.Watch = true
	a := newTestApp(t, cfg)
	require.NotNil(t, a.Watcher)
	a.Watcher.SetTimings(20*time.Millisecond, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx, cancel))

	_, err := testutil.WriteSettingsFile(cfg.Settings.UserDir, cfg.Settings.FileName,
		"serialKey: "+testutil.PermanentKey("business")+"\n")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return a.Manager.State() == entitlement.StateValidNotActivated
	}, 5*time.Second, 20*time.Millisecond)
}
