package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"licensecore/internal/entitlement"
)

// License engine sentinels, wrapped with fmt.Errorf("...: %w") by callers
var (
	ErrLicenseInvalid      = errors.New("license invalid")
	ErrLicenseExpired      = errors.New("license expired")
	ErrSettingsNotWritable = errors.New("settings not writable")
	ErrActivatorBusy       = errors.New("activation already in progress")
	ErrEngineDisabled      = errors.New("license engine disabled")
)

// SetResultError maps a failed serial key change to its sentinel. Success
// and Unchanged map to nil.
func SetResultError(r entitlement.SetResult) error {
	switch r {
	case entitlement.ResultSuccess, entitlement.ResultUnchanged:
		return nil
	case entitlement.ResultInvalid:
		return ErrLicenseInvalid
	case entitlement.ResultExpired:
		return ErrLicenseExpired
	case entitlement.ResultNotWritable:
		return ErrSettingsNotWritable
	default:
		return ErrLicenseInvalid
	}
}

// SetResultAPIError converts a failed serial key change into an API error
// carrying the user facing message. Success and Unchanged map to nil.
func SetResultAPIError(r entitlement.SetResult) *APIError {
	switch r {
	case entitlement.ResultSuccess, entitlement.ResultUnchanged:
		return nil
	case entitlement.ResultExpired:
		return New(http.StatusUnprocessableEntity, CodeLicenseExpired, r.Message())
	case entitlement.ResultNotWritable:
		return New(http.StatusConflict, CodeSettingsNotWritable, r.Message())
	default:
		return New(http.StatusUnprocessableEntity, CodeInvalidSerialKey, r.Message())
	}
}

// ActivationStatus returns the HTTP status for an activation request result
func ActivationStatus(r entitlement.ActivationResult) int {
	switch r {
	case entitlement.ActivationStarted:
		return http.StatusAccepted
	case entitlement.ActivationNotRequired:
		return http.StatusOK
	case entitlement.ActivationSkipped:
		return http.StatusConflict
	case entitlement.ActivationInvalidLicense:
		return http.StatusUnprocessableEntity
	case entitlement.ActivationNotWritable:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// ActivationAPIError converts a refused activation request into an API
// error. Started and NotRequired map to nil.
func ActivationAPIError(r entitlement.ActivationResult) *APIError {
	switch r {
	case entitlement.ActivationSkipped:
		return New(ActivationStatus(r), CodeActivationInProgress, "An activation is already in progress.")
	case entitlement.ActivationInvalidLicense:
		return New(ActivationStatus(r), CodeInvalidSerialKey, "Please enter a valid serial key.")
	case entitlement.ActivationNotWritable:
		return New(ActivationStatus(r), CodeSettingsNotWritable, entitlement.ResultNotWritable.Message())
	default:
		return nil
	}
}

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON flattens extensions into the top level object
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{}, len(pd.Extensions)+5)
	for k, v := range pd.Extensions {
		data[k] = v
	}

	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status
	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}
	return json.Marshal(data)
}

// NewProblemDetails creates a new RFC 7807 compliant error
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension field to the problem details
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	pd.Extensions[key] = value
	return pd
}
