package http

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensecore/internal/entitlement"
	apierrors "licensecore/internal/errors"
)

const validHexBody = `{"serialKey":"7b76313b70726f7d"}`

func newLicenseRouter(t *testing.T, engine *fakeEngine) (*LicenseHandler, deps) {
	t.Helper()
	d := newDeps(t)
	return NewLicenseHandler(engine, d.validator, d.errors, "https://example.com/version", nil), d
}

func TestGetStatus(t *testing.T) {
	engine := newFakeEngine("pro")
	h, _ := newLicenseRouter(t, engine)

	rec := do(t, h.Routes(), http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, string(entitlement.StateValidNotActivated), body["state"])
	assert.Equal(t, "pro", body["edition"])
}

func TestChangeSerialKey(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		result     entitlement.SetResult
		disabled   bool
		wantStatus int
		wantCode   string
		wantType   string
		wantCalled bool
	}{
		{name: "success", body: validHexBody, result: entitlement.ResultSuccess, wantStatus: http.StatusOK, wantCalled: true},
		{name: "unchanged", body: validHexBody, result: entitlement.ResultUnchanged, wantStatus: http.StatusOK, wantCalled: true},
		{
			name: "invalid", body: validHexBody, result: entitlement.ResultInvalid,
			wantStatus: http.StatusUnprocessableEntity, wantCode: apierrors.CodeInvalidSerialKey, wantCalled: true,
		},
		{
			name: "expired", body: validHexBody, result: entitlement.ResultExpired,
			wantStatus: http.StatusUnprocessableEntity, wantCode: apierrors.CodeLicenseExpired, wantCalled: true,
		},
		{
			name: "not writable", body: validHexBody, result: entitlement.ResultNotWritable,
			wantStatus: http.StatusConflict, wantCode: apierrors.CodeSettingsNotWritable, wantCalled: true,
		},
		{
			name: "not hex", body: `{"serialKey":"not-a-key"}`,
			wantStatus: http.StatusBadRequest, wantCode: apierrors.CodeValidationFailed,
		},
		{
			name: "missing body field", body: `{}`,
			wantStatus: http.StatusBadRequest, wantCode: apierrors.CodeValidationFailed,
		},
		{
			name: "engine disabled", body: validHexBody, disabled: true,
			wantStatus: http.StatusConflict, wantType: apierrors.TypeEngineDisabled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newFakeEngine("pro")
			engine.setResult = tt.result
			engine.enabled = !tt.disabled
			h, _ := newLicenseRouter(t, engine)

			rec := do(t, h.Routes(), http.MethodPost, "/serial-key", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantCalled, len(engine.keys) == 1)

			body := decode(t, rec)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, body["error_code"])
				assert.Equal(t, "/serial-key", body["instance"])
			}
			if tt.wantType != "" {
				assert.Equal(t, tt.wantType, body["type"])
			}
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.result.String(), body["result"])
				assert.Equal(t, tt.result.Message(), body["message"])
				assert.Contains(t, body, "status")
			}
		})
	}
}

func TestActivate(t *testing.T) {
	tests := []struct {
		name       string
		result     entitlement.ActivationResult
		wantStatus int
		wantCode   string
	}{
		{name: "started", result: entitlement.ActivationStarted, wantStatus: http.StatusAccepted},
		{name: "not required", result: entitlement.ActivationNotRequired, wantStatus: http.StatusOK},
		{name: "skipped", result: entitlement.ActivationSkipped, wantStatus: http.StatusConflict, wantCode: apierrors.CodeActivationInProgress},
		{name: "invalid license", result: entitlement.ActivationInvalidLicense, wantStatus: http.StatusUnprocessableEntity, wantCode: apierrors.CodeInvalidSerialKey},
		{name: "not writable", result: entitlement.ActivationNotWritable, wantStatus: http.StatusConflict, wantCode: apierrors.CodeSettingsNotWritable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newFakeEngine("basic")
			engine.activation = tt.result
			h, _ := newLicenseRouter(t, engine)

			rec := do(t, h.Routes(), http.MethodPost, "/activate", "")
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, 1, engine.activations)

			body := decode(t, rec)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, body["error_code"])
			} else {
				assert.Equal(t, tt.result.String(), body["result"])
			}
		})
	}
}

func TestActivateRefusedWhenDisabled(t *testing.T) {
	engine := newFakeEngine("pro")
	engine.enabled = false
	h, _ := newLicenseRouter(t, engine)

	rec := do(t, h.Routes(), http.MethodPost, "/activate", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Zero(t, engine.activations)
}

func TestGetVersionURL(t *testing.T) {
	engine := newFakeEngine("business")
	h, _ := newLicenseRouter(t, engine)

	rec := do(t, h.Routes(), http.MethodGet, "/version-url", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://example.com/version/business", decode(t, rec)["url"])
}
