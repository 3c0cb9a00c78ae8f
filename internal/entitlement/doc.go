// Package entitlement is the license engine: it owns the current License,
// persists the serial key and activation state, schedules the expiry check,
// drives server activation and gates licensed features.
//
// # Lifecycle
//
// A Manager is created once per process and wired to the application shell
// through the Host interface:
//
//	m, err := entitlement.New(entitlement.Options{
//		Store:      store,
//		Activator:  activation.New(url, timeout),
//		Identity:   security.NewSystemIdentity(logger),
//		AppVersion: version,
//	})
//	if err != nil {
//		return err
//	}
//	if err := m.HandleHost(ctx, host); err != nil {
//		return err
//	}
//	if !m.HandleAppStart(ctx) {
//		// show the license dialog
//	}
//	if m.HandleCoreStart(ctx) {
//		host.StartCore()
//	}
//
// When HandleCoreStart returns false because an activation was started, the
// Manager calls Host.StartCore itself once the server accepts the key.
//
// # Events
//
// State changes are published on the bus returned by Events. Listeners run
// after the Manager has released its lock, so they may call back into it.
//
// # Test Mode
//
// HandleTestStart disables the engine for the rest of the process. A
// disabled engine reports every check as passing and never activates.
package entitlement
