package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"licensecore/internal/entitlement"
	apierrors "licensecore/internal/errors"
	"licensecore/internal/features"
	"licensecore/internal/license"
	custommw "licensecore/internal/middleware"
	"licensecore/internal/shared/testutil"
)

type fakeEngine struct {
	mu sync.Mutex

	enabled    bool
	state      entitlement.State
	lic        *license.License
	setResult  entitlement.SetResult
	activation entitlement.ActivationResult
	clamped    features.Config
	downgrades []features.Downgrade

	keys        []string
	activations int
}

func newFakeEngine(edition string) *fakeEngine {
	return &fakeEngine{
		enabled: true,
		state:   entitlement.StateValidNotActivated,
		lic:     license.New(license.ParseSerialKey(testutil.PermanentKey(edition))),
	}
}

func (f *fakeEngine) Status() entitlement.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return entitlement.Status{State: f.state, Enabled: f.enabled, Edition: f.lic.ProductEdition().String()}
}

func (f *fakeEngine) ChangeSerialKey(_ context.Context, hexString string) entitlement.SetResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, hexString)
	return f.setResult
}

func (f *fakeEngine) RequestActivation(context.Context) entitlement.ActivationResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activations++
	return f.activation
}

func (f *fakeEngine) HandleVersionCheck(versionURL string) string {
	return versionURL + "/" + f.lic.ProductEdition().String()
}

func (f *fakeEngine) ClampFeatures(_ context.Context, _ features.Config) (features.Config, []features.Downgrade) {
	return f.clamped, f.downgrades
}

func (f *fakeEngine) License() *license.License { return f.lic }

func (f *fakeEngine) IsEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

func (f *fakeEngine) State() entitlement.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

type deps struct {
	validator *custommw.Validator
	errors    *apierrors.ErrorHandler
	logs      *testutil.BufferedSlogHandler
}

func newDeps(t *testing.T) deps {
	t.Helper()
	logger, logs := testutil.NewTestLogger(t)
	return deps{
		validator: custommw.NewValidator(logger),
		errors:    apierrors.NewErrorHandler(logger, false),
		logs:      logs,
	}
}

func do(t *testing.T, router chi.Router, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}
