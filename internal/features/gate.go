// Package features clamps application feature toggles to what a license allows.
package features

import (
	"fmt"
	"log/slog"

	"licensecore/internal/license"
)

// Feature names a license gated toggle
type Feature string

const (
	TLS              Feature = "tls"
	InvertConnection Feature = "invert_connection"
	SystemScope      Feature = "system_scope"
)

// All lists every gated feature in clamp order
var All = []Feature{TLS, InvertConnection, SystemScope}

// Lookup returns the feature with the given name
func Lookup(name string) (Feature, bool) {
	for _, f := range All {
		if string(f) == name {
			return f, true
		}
	}
	return "", false
}

// ReasonNotLicensed is the downgrade reason for features the edition lacks
const ReasonNotLicensed = "not_licensed"

// Toggle is a feature switch. Explicit marks a value the user chose.
type Toggle struct {
	Enabled  bool `json:"enabled" yaml:"enabled"`
	Explicit bool `json:"explicit" yaml:"explicit"`
}

// Config is the set of gated toggles owned by the application configuration
type Config struct {
	TLS              Toggle `json:"tls" yaml:"tls"`
	InvertConnection Toggle `json:"invert_connection" yaml:"invert_connection"`
	SystemScope      Toggle `json:"system_scope" yaml:"system_scope"`
}

// Get returns the toggle for f
func (c Config) Get(f Feature) Toggle {
	switch f {
	case TLS:
		return c.TLS
	case InvertConnection:
		return c.InvertConnection
	case SystemScope:
		return c.SystemScope
	default:
		panic(fmt.Sprintf("features: unknown feature %q", f))
	}
}

// With returns a copy of c with f set to t
func (c Config) With(f Feature, t Toggle) Config {
	switch f {
	case TLS:
		c.TLS = t
	case InvertConnection:
		c.InvertConnection = t
	case SystemScope:
		c.SystemScope = t
	default:
		panic(fmt.Sprintf("features: unknown feature %q", f))
	}
	return c
}

// Capabilities reports which gated features are licensed
type Capabilities interface {
	IsTLSAvailable() bool
	IsInvertConnectionAvailable() bool
	IsSettingsScopeAvailable() bool
}

// Downgrade records a feature that was forced off
type Downgrade struct {
	Feature Feature `json:"feature"`
	Reason  string  `json:"reason"`
	Message string  `json:"message"`
}

// Policy controls optional clamp behavior
type Policy struct {
	// AutoEnable switches on available features the user never set
	AutoEnable map[Feature]bool
}

// Gate clamps configurations. It performs no I/O.
type Gate struct {
	policy Policy
	logger *slog.Logger
}

// NewGate creates a gate with the given policy
func NewGate(policy Policy, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{policy: policy, logger: logger.With("component", "features")}
}

// Available reports whether caps licenses f
func Available(caps Capabilities, f Feature) bool {
	if caps == nil {
		return false
	}
	switch f {
	case TLS:
		return caps.IsTLSAvailable()
	case InvertConnection:
		return caps.IsInvertConnectionAvailable()
	case SystemScope:
		return caps.IsSettingsScopeAvailable()
	default:
		return false
	}
}

// UpgradeMessage returns the notice shown when f is not licensed
func UpgradeMessage(f Feature) string {
	switch f {
	case TLS:
		return fmt.Sprintf("Please upgrade to %s to enable TLS encryption.", license.ProProductName)
	case InvertConnection:
		return fmt.Sprintf("Please upgrade to %s to enable the invert connection feature.", license.BusinessProductName)
	case SystemScope:
		return fmt.Sprintf("Please upgrade to %s to enable the settings scope feature.", license.BusinessProductName)
	default:
		return ""
	}
}

// Clamp forces off every enabled feature caps does not license and, when
// the policy asks, enables licensed features that were never set. Applying
// Clamp to its own output changes nothing.
func (g *Gate) Clamp(caps Capabilities, cfg Config) (Config, []Downgrade) {
	var downgrades []Downgrade

	for _, f := range All {
		t := cfg.Get(f)
		available := Available(caps, f)

		switch {
		case t.Enabled && !available:
			g.logger.Warn("feature not available, disabling", slog.String("feature", string(f)))
			t.Enabled = false
			cfg = cfg.With(f, t)
			downgrades = append(downgrades, Downgrade{
				Feature: f,
				Reason:  ReasonNotLicensed,
				Message: UpgradeMessage(f),
			})

		case !t.Enabled && !t.Explicit && available && g.policy.AutoEnable[f]:
			g.logger.Info("feature newly available, enabling", slog.String("feature", string(f)))
			t.Enabled = true
			cfg = cfg.With(f, t)
		}
	}

	return cfg, downgrades
}
