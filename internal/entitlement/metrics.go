package entitlement

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	TracerName = "license-manager"
	MeterName  = "license-manager"
)

// LicenseMetrics holds the engine's OpenTelemetry instruments. A nil
// *LicenseMetrics records nothing.
type LicenseMetrics struct {
	// Activation metrics
	ActivationAttempts metric.Int64Counter
	ActivationSuccess  metric.Int64Counter
	ActivationFailures metric.Int64Counter
	ActivationDuration metric.Float64Histogram
	ActivationsPending metric.Int64UpDownCounter

	// Validation metrics
	ValidationChecks   metric.Int64Counter
	InvalidKeyAttempts metric.Int64Counter
	LicenseChanges     metric.Int64Counter

	// Scheduling and gating
	ScheduledChecks  metric.Int64Counter
	FeatureDowngrade metric.Int64Counter
}

// InitializeLicenseMetrics creates all license engine metrics
func InitializeLicenseMetrics(meter metric.Meter) (*LicenseMetrics, error) {
	m := &LicenseMetrics{}
	var err error

	m.ActivationAttempts, err = meter.Int64Counter(
		"license_activation_attempts_total",
		metric.WithDescription("Total number of license activation attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation attempts counter: %w", err)
	}

	m.ActivationSuccess, err = meter.Int64Counter(
		"license_activation_success_total",
		metric.WithDescription("Total number of successful license activations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation success counter: %w", err)
	}

	m.ActivationFailures, err = meter.Int64Counter(
		"license_activation_failures_total",
		metric.WithDescription("Total number of failed license activations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation failures counter: %w", err)
	}

	m.ActivationDuration, err = meter.Float64Histogram(
		"license_activation_duration_seconds",
		metric.WithDescription("License activation round trip duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation duration histogram: %w", err)
	}

	m.ActivationsPending, err = meter.Int64UpDownCounter(
		"license_activations_pending",
		metric.WithDescription("Activation requests currently in flight"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pending activations gauge: %w", err)
	}

	m.ValidationChecks, err = meter.Int64Counter(
		"license_validation_checks_total",
		metric.WithDescription("Total number of license validity checks by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation checks counter: %w", err)
	}

	m.InvalidKeyAttempts, err = meter.Int64Counter(
		"license_invalid_key_attempts_total",
		metric.WithDescription("Total number of serial keys rejected by the parser"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create invalid key counter: %w", err)
	}

	m.LicenseChanges, err = meter.Int64Counter(
		"license_changes_total",
		metric.WithDescription("Total number of serial key replacements"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create license changes counter: %w", err)
	}

	m.ScheduledChecks, err = meter.Int64Counter(
		"license_scheduled_checks_total",
		metric.WithDescription("Total number of expiry re-checks by phase"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduled checks counter: %w", err)
	}

	m.FeatureDowngrade, err = meter.Int64Counter(
		"license_feature_downgrades_total",
		metric.WithDescription("Total number of features forced off by the license"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create feature downgrades counter: %w", err)
	}

	return m, nil
}

func (m *LicenseMetrics) recordActivationStart(ctx context.Context, isServer bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("is_server", isServer))
	m.ActivationAttempts.Add(ctx, 1, attrs)
	m.ActivationsPending.Add(ctx, 1)
}

func (m *LicenseMetrics) recordActivationOutcome(ctx context.Context, success bool, statusCode int, d time.Duration) {
	if m == nil {
		return
	}
	m.ActivationsPending.Add(ctx, -1)

	status := "failure"
	if success {
		status = "success"
		m.ActivationSuccess.Add(ctx, 1)
	} else {
		m.ActivationFailures.Add(ctx, 1, metric.WithAttributes(attribute.Int("http.status_code", statusCode)))
	}
	m.ActivationDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}

func (m *LicenseMetrics) recordValidation(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.ValidationChecks.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *LicenseMetrics) recordInvalidKey(ctx context.Context) {
	if m == nil {
		return
	}
	m.InvalidKeyAttempts.Add(ctx, 1)
}

func (m *LicenseMetrics) recordLicenseChange(ctx context.Context, edition string) {
	if m == nil {
		return
	}
	m.LicenseChanges.Add(ctx, 1, metric.WithAttributes(attribute.String("edition", edition)))
}

func (m *LicenseMetrics) recordScheduledCheck(ctx context.Context, phase string) {
	if m == nil {
		return
	}
	m.ScheduledChecks.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", phase)))
}

func (m *LicenseMetrics) recordDowngrade(ctx context.Context, feature string) {
	if m == nil {
		return
	}
	m.FeatureDowngrade.Add(ctx, 1, metric.WithAttributes(attribute.String("feature", feature)))
}
