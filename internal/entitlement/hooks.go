package entitlement

import (
	"context"

	"licensecore/internal/license"
)

// HandleHost wires the application shell and loads the persisted license.
// The host is recorded even when the engine is disabled.
func (m *Manager) HandleHost(ctx context.Context, host Host) error {
	if host == nil {
		panic("entitlement: host is required")
	}

	m.mu.Lock()
	m.host = host
	enabled := m.enabled
	m.mu.Unlock()

	if !enabled {
		m.logDebug(ctx, "handle_host", "license engine disabled, skipping settings load")
		return nil
	}
	return m.LoadSettings(ctx)
}

// HandleAppStart validates the license before the application starts and
// clamps host features. It returns false when the user must act first.
func (m *Manager) HandleAppStart(ctx context.Context) bool {
	m.mu.Lock()
	host := m.host
	enabled := m.enabled
	m.mu.Unlock()

	if host == nil {
		panic("entitlement: host not set")
	}
	if !enabled {
		m.logDebug(ctx, "handle_app_start", "license engine disabled, skipping start checks")
		return true
	}

	if !m.Check(ctx) {
		return false
	}

	m.logDebug(ctx, "handle_app_start", "license is valid, continuing with start")
	m.clampHostFeatures(ctx, host)
	return true
}

// HandleCoreStart decides whether the core may start now. When activation
// is required it is started and the core is resumed by the outcome, so the
// caller must not start the core itself.
func (m *Manager) HandleCoreStart(ctx context.Context) bool {
	// the host may fire the start trigger twice in quick succession
	if m.activator.IsBusy() || m.IsActivating() {
		m.logDebug(ctx, "handle_core_start", "activator is busy, skipping core start")
		return false
	}

	m.mu.Lock()
	enabled := m.enabled
	host := m.host
	m.mu.Unlock()

	if !enabled {
		return true
	}
	if host == nil {
		panic("entitlement: host not set")
	}

	switch m.RequestActivation(ctx) {
	case ActivationNotRequired:
		return true
	default:
		return false
	}
}

// HandleVersionCheck appends the edition channel to a version check URL
func (m *Manager) HandleVersionCheck(versionURL string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled {
		return versionURL
	}
	if m.current.ProductEdition() == license.EditionBusiness {
		return versionURL + "/business"
	}
	return versionURL + "/personal"
}

// HandleTestStart puts the engine in bypass mode for headless runs
func (m *Manager) HandleTestStart() {
	m.Disable()
}
