package entitlement

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"

	"licensecore/internal/activation"
	"licensecore/internal/events"
	"licensecore/internal/features"
	"licensecore/internal/license"
	"licensecore/internal/scheduler"
	"licensecore/internal/security"
	"licensecore/internal/settings"
)

// Host is the application shell driven by the engine
type Host interface {
	StartCore()
	StopCore()
	RestartCore()
	IsCoreStarted() bool
	IsServer() bool
	Features() features.Config
	SetFeatures(features.Config)
}

// Activator performs the activation handshake
type Activator interface {
	Activate(ctx context.Context, req activation.Request) (<-chan activation.Outcome, error)
	IsBusy() bool
}

// Options wires a Manager. Store, Activator, Identity and AppVersion are required.
type Options struct {
	Store      settings.Store
	Activator  Activator
	Identity   security.IdentitySource
	AppVersion string

	// Disabled starts the engine in bypass mode
	Disabled bool

	Bus     *events.Bus
	Gate    *features.Gate
	Clock   scheduler.Clock
	Metrics *LicenseMetrics
	Logger  *slog.Logger
}

// Manager owns the current license and the persisted activation state.
// Every transition runs under one mutex; events and host calls are made
// after it is released.
type Manager struct {
	mu sync.Mutex

	store      settings.Store
	activator  Activator
	signatures security.Signatures
	sealer     *security.Sealer
	bus        *events.Bus
	gate       *features.Gate
	clock      scheduler.Clock
	timer      *scheduler.OneShot
	metrics    *LicenseMetrics
	logger     *slog.Logger
	appVersion string

	enabled      bool
	initialized  bool
	host         Host
	current      *license.License
	persistedKey string
	activated    bool
	inFlight     bool
	attempt      uint64
}

// effects collects work that must happen once the lock is released
type effects struct {
	events []events.Event
	calls  []func()
}

func (fx *effects) publish(e events.Event) {
	fx.events = append(fx.events, e)
}

func (fx *effects) call(f func()) {
	fx.calls = append(fx.calls, f)
}

// New creates a Manager. Host identifiers are digested once here.
func New(opts Options) (*Manager, error) {
	if opts.Store == nil {
		panic("entitlement: settings store is required")
	}
	if opts.Activator == nil {
		panic("entitlement: activator is required")
	}
	if opts.Identity == nil {
		panic("entitlement: identity source is required")
	}
	if opts.AppVersion == "" {
		panic("entitlement: app version is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "license_manager")

	sigs, err := security.Sign(opts.Identity)
	if err != nil {
		return nil, fmt.Errorf("failed to compute host signatures: %w", err)
	}
	if sigs.OSName == "" {
		sigs.OSName = "unknown"
	}

	clock := opts.Clock
	if clock == nil {
		clock = scheduler.RealClock()
	}
	bus := opts.Bus
	if bus == nil {
		bus = events.NewBus(logger)
	}
	gate := opts.Gate
	if gate == nil {
		gate = features.NewGate(features.Policy{}, logger)
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics, err = InitializeLicenseMetrics(otel.Meter(MeterName))
		if err != nil {
			logger.Warn("license metrics unavailable", slog.String("error", err.Error()))
			metrics = nil
		}
	}

	current := license.Invalid()
	current.SetNowFunc(clock.Now)

	return &Manager{
		store:      opts.Store,
		activator:  opts.Activator,
		signatures: sigs,
		sealer:     security.NewSealer(sigs.MachineSignature),
		bus:        bus,
		gate:       gate,
		clock:      clock,
		timer:      scheduler.NewOneShot(clock, logger),
		metrics:    metrics,
		logger:     logger,
		appVersion: opts.AppVersion,
		enabled:    !opts.Disabled,
		current:    current,
	}, nil
}

// Events returns the bus the manager publishes to
func (m *Manager) Events() *events.Bus {
	return m.bus
}

func (m *Manager) apply(fx *effects) {
	for _, e := range fx.events {
		m.bus.Publish(e)
	}
	for _, f := range fx.calls {
		f()
	}
}

func attention(reason, message string) events.Event {
	e := events.New(events.NeedsAttention)
	e.Reason = reason
	e.Message = message
	return e
}

// SetLicense offers a serial key. An invalid key, or an expired one unless
// allowExpired is set, leaves the current license untouched. A key that
// differs from the persisted one is saved with activation reset before it
// becomes current. An empty key is a programming error.
func (m *Manager) SetLicense(ctx context.Context, hexString string, allowExpired bool) SetResult {
	if strings.TrimSpace(hexString) == "" {
		panic("entitlement: serial key is empty")
	}

	var fx effects
	m.mu.Lock()
	result := m.setLicenseLocked(ctx, hexString, allowExpired, true, &fx)
	m.mu.Unlock()

	m.apply(&fx)
	return result
}

func (m *Manager) setLicenseLocked(ctx context.Context, hexString string, allowExpired, persist bool, fx *effects) SetResult {
	key := license.ParseSerialKey(hexString)
	if !key.IsValid {
		m.metrics.recordInvalidKey(ctx)
		m.logKeyAction(ctx, slog.LevelWarn, "set_license", "invalid serial key, ignoring", key.HexString)
		return ResultInvalid
	}

	lic := license.New(key)
	lic.SetNowFunc(m.clock.Now)

	if !allowExpired && lic.IsExpired() {
		m.logKeyAction(ctx, slog.LevelInfo, "set_license", "license is expired, ignoring", key.HexString)
		return ResultExpired
	}

	if persist && key.HexString != m.persistedKey {
		if !m.store.IsWritable() {
			m.logWarn(ctx, "set_license", "settings not writable, key not changed",
				slog.String("location", m.store.Location()))
			return ResultNotWritable
		}
		// a new key must activate again
		if err := m.store.Save(settings.LicenseSettings{SerialKey: key.HexString}); err != nil {
			m.logError(ctx, "set_license", "failed to save settings, key not changed",
				slog.String("error", err.Error()))
			return ResultNotWritable
		}
		m.persistedKey = key.HexString
		m.activated = false
	}

	previous := m.current
	m.current = lic
	m.initialized = true

	// the expiry check reads m.current, so schedule after replacing it
	m.scheduleExpiryCheckLocked(ctx)

	if key.Equal(previous.SerialKey()) {
		m.logKeyAction(ctx, slog.LevelDebug, "set_license", "serial key did not change", key.HexString)
		return ResultUnchanged
	}

	// outcomes of an activation for the previous key are stale now
	m.attempt++
	m.inFlight = false

	m.metrics.recordLicenseChange(ctx, lic.ProductEdition().String())
	m.logKeyAction(ctx, slog.LevelInfo, "set_license", "serial key changed", key.HexString,
		slog.String("edition", lic.ProductEdition().String()),
		slog.Bool("time_limited", lic.IsTimeLimited()),
		slog.Bool("offline", lic.IsOffline()))

	e := events.New(events.LicenseChanged)
	e.Message = lic.ProductName()
	fx.publish(e)
	return ResultSuccess
}

func (m *Manager) scheduleExpiryCheckLocked(ctx context.Context) {
	lic := m.current
	if lic.IsExpired() || !lic.IsTimeLimited() {
		m.timer.Cancel()
		return
	}

	delay, ok := scheduler.DelayFromSeconds(lic.SecondsLeft() + 1)
	if !ok {
		m.timer.Cancel()
		m.metrics.recordScheduledCheck(ctx, "skipped")
		m.logDebug(ctx, "schedule_check", "license expiry too distant to schedule timer")
		return
	}

	if _, err := m.timer.Schedule(delay, m.onExpiryTimer); err != nil {
		m.metrics.recordScheduledCheck(ctx, "skipped")
		m.logWarn(ctx, "schedule_check", "failed to schedule expiry check", slog.String("error", err.Error()))
		return
	}
	m.metrics.recordScheduledCheck(ctx, "scheduled")
	m.logDebug(ctx, "schedule_check", "expiry check scheduled", slog.Duration("delay", delay))
}

// onExpiryTimer re-validates whatever license is current when it fires
func (m *Manager) onExpiryTimer(generation uint64) {
	ctx := context.Background()
	m.metrics.recordScheduledCheck(ctx, "fired")

	var fx effects
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return
	}
	m.logDebug(ctx, "expiry_check", "running scheduled license check", slog.Uint64("generation", generation))
	m.validateLocked(ctx, &fx)
	m.mu.Unlock()

	m.apply(&fx)
}

// validateLocked publishes needs_attention for an invalid or expired
// license and reports whether the license may be used
func (m *Manager) validateLocked(ctx context.Context, fx *effects) bool {
	switch {
	case !m.current.IsValid():
		m.metrics.recordValidation(ctx, events.ReasonInvalid)
		m.logInfo(ctx, "validate", "license validation failed, license invalid")
		fx.publish(attention(events.ReasonInvalid, "Please enter a valid serial key."))
		return false
	case m.current.IsExpired():
		m.metrics.recordValidation(ctx, events.ReasonExpired)
		m.logInfo(ctx, "validate", "license validation failed, license expired")
		fx.publish(attention(events.ReasonExpired, license.Notice(m.current)))
		return false
	default:
		return true
	}
}

// Check validates the current license. An expiring license publishes
// needs_attention but still passes.
func (m *Manager) Check(ctx context.Context) bool {
	var fx effects
	m.mu.Lock()
	ok := m.checkLocked(ctx, &fx)
	m.mu.Unlock()

	m.apply(&fx)
	return ok
}

func (m *Manager) checkLocked(ctx context.Context, fx *effects) bool {
	if !m.enabled {
		return true
	}
	if !m.validateLocked(ctx, fx) {
		return false
	}
	if m.current.IsExpiringSoon() {
		m.metrics.recordValidation(ctx, events.ReasonExpiringSoon)
		m.logInfo(ctx, "validate", "license is expiring soon")
		fx.publish(attention(events.ReasonExpiringSoon, license.Notice(m.current)))
		return true
	}
	m.metrics.recordValidation(ctx, "valid")
	m.logDebug(ctx, "validate", "license validation succeeded")
	return true
}

// CheckExpiringSoon publishes a reminder when the license is close to expiry
// and reports whether it did
func (m *Manager) CheckExpiringSoon(ctx context.Context) bool {
	var fx effects
	m.mu.Lock()
	soon := m.enabled && m.current.IsExpiringSoon()
	if soon {
		m.metrics.recordValidation(ctx, events.ReasonExpiringSoon)
		fx.publish(attention(events.ReasonExpiringSoon, license.Notice(m.current)))
	}
	m.mu.Unlock()

	m.apply(&fx)
	return soon
}

// RequestActivation starts an activation round trip when one is needed. The
// outcome is published as activation_succeeded or activation_failed; on
// success the host core is started once.
func (m *Manager) RequestActivation(ctx context.Context) ActivationResult {
	var fx effects
	result, req, attempt := func() (ActivationResult, activation.Request, uint64) {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.prepareActivationLocked(ctx, &fx)
	}()
	m.apply(&fx)

	if result != ActivationStarted {
		return result
	}

	// the round trip must outlive the request that triggered it
	ch, err := m.activator.Activate(context.WithoutCancel(ctx), req)
	if err != nil {
		m.mu.Lock()
		if m.attempt == attempt {
			m.inFlight = false
		}
		m.mu.Unlock()
		m.logWarn(ctx, "activate", "activator busy, skipping", slog.String("error", err.Error()))
		return ActivationSkipped
	}

	m.metrics.recordActivationStart(ctx, req.IsServer)
	go m.awaitOutcome(context.WithoutCancel(ctx), attempt, req.SerialKey, ch)
	return ActivationStarted
}

func (m *Manager) prepareActivationLocked(ctx context.Context, fx *effects) (ActivationResult, activation.Request, uint64) {
	if !m.enabled {
		return ActivationNotRequired, activation.Request{}, 0
	}
	if m.inFlight || m.activator.IsBusy() {
		m.logDebug(ctx, "activate", "activation in progress, skipping")
		return ActivationSkipped, activation.Request{}, 0
	}
	if m.host == nil {
		panic("entitlement: host not set")
	}
	if !m.current.IsValid() {
		m.logInfo(ctx, "activate", "no valid serial key to activate")
		fx.publish(attention(events.ReasonInvalid, "Please enter a valid serial key."))
		return ActivationInvalidLicense, activation.Request{}, 0
	}
	if m.activated {
		m.logDebug(ctx, "activate", "license is activated")
		return ActivationNotRequired, activation.Request{}, 0
	}
	if m.current.IsOffline() {
		m.logDebug(ctx, "activate", "offline serial key, activation not required")
		return ActivationNotRequired, activation.Request{}, 0
	}
	if !m.store.IsWritable() {
		m.logWarn(ctx, "activate", "settings not writable, activation state cannot be saved",
			slog.String("location", m.store.Location()))
		return ActivationNotWritable, activation.Request{}, 0
	}

	m.inFlight = true
	m.attempt++
	serialKey := m.current.SerialKey().HexString
	m.logKeyAction(ctx, slog.LevelInfo, "activate", "activating license", serialKey)

	return ActivationStarted, activation.Request{
		MachineSignature:  m.signatures.MachineSignature,
		HostnameSignature: m.signatures.HostnameSignature,
		SerialKey:         serialKey,
		AppVersion:        m.appVersion,
		OSName:            m.signatures.OSName,
		IsServer:          m.host.IsServer(),
	}, m.attempt
}

func (m *Manager) awaitOutcome(ctx context.Context, attempt uint64, serialKey string, ch <-chan activation.Outcome) {
	outcome, ok := <-ch
	if !ok {
		outcome = activation.Outcome{Message: activation.MsgEmptyReply, Detail: "outcome channel closed"}
	}
	m.handleOutcome(ctx, attempt, serialKey, outcome)
}

func (m *Manager) handleOutcome(ctx context.Context, attempt uint64, serialKey string, outcome activation.Outcome) {
	m.metrics.recordActivationOutcome(ctx, outcome.Success, outcome.StatusCode, outcome.Duration)

	var fx effects
	m.mu.Lock()
	if attempt != m.attempt || !m.inFlight || !m.enabled {
		m.mu.Unlock()
		m.logKeyAction(ctx, slog.LevelInfo, "activate", "discarding stale activation outcome", serialKey,
			slog.Bool("success", outcome.Success))
		return
	}
	m.inFlight = false

	if !outcome.Success {
		m.logKeyAction(ctx, slog.LevelWarn, "activate", "license activation failed", serialKey,
			slog.String("message", outcome.Message),
			slog.String("detail", outcome.Detail),
			slog.Int("status_code", outcome.StatusCode))
		e := events.New(events.ActivationFailed)
		e.Message = outcome.Message
		fx.publish(e)
		m.mu.Unlock()
		m.apply(&fx)
		return
	}

	m.logKeyAction(ctx, slog.LevelInfo, "activate", "license activation succeeded, saving settings", serialKey,
		slog.Duration("duration", outcome.Duration))
	m.activated = true
	if err := m.persistLocked(); err != nil {
		m.activated = false
		m.logError(ctx, "activate", "failed to save activation state", slog.String("error", err.Error()))
		e := events.New(events.ActivationFailed)
		e.Message = MsgActivationNotSaved
		fx.publish(e)
		m.mu.Unlock()
		m.apply(&fx)
		return
	}

	fx.publish(events.New(events.ActivationSucceeded))
	if host := m.host; host != nil {
		fx.call(func() {
			m.logDebug(ctx, "activate", "resuming core after activation")
			host.StartCore()
		})
	}
	m.mu.Unlock()

	m.apply(&fx)
}

// persistLocked writes the current key and activation state
func (m *Manager) persistLocked() error {
	ls := settings.LicenseSettings{
		SerialKey: m.current.SerialKey().HexString,
		Activated: m.activated,
	}
	if ls.Activated {
		seal, err := m.sealer.Seal(ls.SerialKey)
		if err != nil {
			return fmt.Errorf("failed to seal activation: %w", err)
		}
		ls.ActivationSeal = seal
	}
	if err := m.store.Save(ls); err != nil {
		return err
	}
	m.persistedKey = ls.SerialKey
	return nil
}

// LoadSettings reads the persisted key and activation state. A persisted
// key is accepted even when expired so the user can be told about it.
func (m *Manager) LoadSettings(ctx context.Context) error {
	ls, err := m.store.Load()
	if err != nil {
		return fmt.Errorf("failed to load license settings: %w", err)
	}

	var fx effects
	m.mu.Lock()
	m.applySettingsLocked(ctx, ls, &fx)
	m.mu.Unlock()

	m.apply(&fx)
	return nil
}

// ReloadSettings re-reads settings after an external change
func (m *Manager) ReloadSettings(ctx context.Context) error {
	m.logDebug(ctx, "reload_settings", "settings changed on disk, reloading")
	return m.LoadSettings(ctx)
}

func (m *Manager) applySettingsLocked(ctx context.Context, ls settings.LicenseSettings, fx *effects) {
	key := license.ParseSerialKey(ls.SerialKey)

	activated := ls.Activated
	if activated && !m.sealer.Verify(key.HexString, ls.ActivationSeal) {
		m.logKeyAction(ctx, slog.LevelWarn, "load_settings", "activation seal does not match this machine, activation required", key.HexString)
		activated = false
	}

	if key.HexString != m.persistedKey || activated != m.activated {
		// a different activation state on disk supersedes any round trip in flight
		m.attempt++
		m.inFlight = false
	}
	m.persistedKey = key.HexString
	m.activated = activated
	m.initialized = true

	if strings.TrimSpace(ls.SerialKey) == "" {
		m.logDebug(ctx, "load_settings", "no serial key in settings")
		return
	}

	result := m.setLicenseLocked(ctx, ls.SerialKey, true, false, fx)
	if result != ResultSuccess && result != ResultUnchanged {
		m.logWarn(ctx, "load_settings", "persisted serial key rejected", slog.String("result", result.String()))
		fx.publish(attention(events.ReasonInvalid, "The saved serial key is not valid. Please enter a valid serial key."))
	}
}

// ChangeSerialKey is the path taken when the user submits a new key. It
// refuses when settings are not writable and clamps host features to the
// license. A running core is stopped on a key change and only comes back
// once the core start gate lets it: at once for an offline or activated key,
// after a successful activation otherwise.
func (m *Manager) ChangeSerialKey(ctx context.Context, hexString string) SetResult {
	if strings.TrimSpace(hexString) == "" {
		return ResultInvalid
	}
	if !m.store.IsWritable() {
		m.logWarn(ctx, "change_serial_key", "settings not writable",
			slog.String("location", m.store.Location()))
		return ResultNotWritable
	}

	result := m.SetLicense(ctx, hexString, false)
	if result != ResultSuccess && result != ResultUnchanged {
		return result
	}

	m.mu.Lock()
	host := m.host
	m.mu.Unlock()
	if host == nil {
		return result
	}

	m.clampHostFeatures(ctx, host)
	if result == ResultUnchanged || !host.IsCoreStarted() {
		return result
	}

	m.logInfo(ctx, "change_serial_key", "stopping core on serial key change")
	host.StopCore()
	if m.HandleCoreStart(ctx) {
		m.logInfo(ctx, "change_serial_key", "restarting core with new serial key")
		host.RestartCore()
	} else {
		m.logInfo(ctx, "change_serial_key", "core restart deferred until activation completes")
	}
	return result
}

// ClampFeatures forces off features the current license does not cover and
// publishes feature_downgraded for each. A disabled engine returns cfg as is.
func (m *Manager) ClampFeatures(ctx context.Context, cfg features.Config) (features.Config, []features.Downgrade) {
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return cfg, nil
	}
	lic := m.current
	m.mu.Unlock()

	out, downgrades := m.gate.Clamp(lic, cfg)
	for _, d := range downgrades {
		m.metrics.recordDowngrade(ctx, string(d.Feature))
		m.logWarn(ctx, "clamp_features", "feature not available, disabling",
			slog.String("feature", string(d.Feature)))
		e := events.New(events.FeatureDowngraded)
		e.Feature = string(d.Feature)
		e.Reason = d.Reason
		e.Message = d.Message
		m.bus.Publish(e)
	}
	return out, downgrades
}

func (m *Manager) clampHostFeatures(ctx context.Context, host Host) {
	out, _ := m.ClampFeatures(ctx, host.Features())
	m.logDebug(ctx, "clamp_features", "committing feature settings")
	host.SetFeatures(out)
}

// Disable switches the engine to bypass mode. It cannot be undone.
func (m *Manager) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled {
		return
	}
	m.enabled = false
	m.attempt++
	m.inFlight = false
	m.timer.Cancel()
	m.logger.Info("license engine disabled")
}

// Close stops the expiry timer
func (m *Manager) Close() {
	m.timer.Cancel()
}

// License returns a copy of the current license
func (m *Manager) License() *license.License {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.Clone()
}

// IsActivated reports the persisted activation flag
func (m *Manager) IsActivated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activated
}

// IsActivating reports whether an activation round trip is outstanding
func (m *Manager) IsActivating() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight
}

// IsEnabled reports whether license checks are enforced
func (m *Manager) IsEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// Notice returns the expiry notice for the current license
func (m *Manager) Notice() string {
	return license.Notice(m.License())
}

// State derives the engine state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Manager) stateLocked() State {
	switch {
	case !m.enabled:
		return StateDisabled
	case m.inFlight:
		return StateActivating
	case !m.initialized:
		return StateUninitialized
	case !m.current.IsValid():
		return StateInvalid
	case m.current.IsExpired():
		return StateExpired
	case m.activated || m.current.IsOffline():
		return StateValidActivated
	default:
		return StateValidNotActivated
	}
}

// Status returns a snapshot of the engine for display
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	lic := m.current
	s := Status{
		State:            m.stateLocked(),
		Enabled:          m.enabled,
		Valid:            lic.IsValid(),
		Expired:          lic.IsExpired(),
		ExpiringSoon:     lic.IsExpiringSoon(),
		Activated:        m.activated,
		Activating:       m.inFlight,
		Offline:          lic.IsOffline(),
		Trial:            lic.IsTrial(),
		Subscription:     lic.IsSubscription(),
		Edition:          lic.ProductEdition().String(),
		ProductName:      lic.ProductName(),
		DaysLeft:         lic.DaysLeft(),
		SecondsLeft:      lic.SecondsLeft(),
		Notice:           license.Notice(lic),
		SerialKeyMasked:  MaskSerialKey(lic.SerialKey().HexString),
		SettingsLocation: m.store.Location(),
	}
	if !m.enabled {
		s.ProductName = license.ProductBaseName
	}
	if lic.IsTimeLimited() {
		t := lic.ExpireTime()
		s.ExpireTime = &t
	}
	if due, ok := m.timer.DueAt(); ok {
		s.NextCheck = &due
	}
	s.Capabilities.TLS = lic.IsTLSAvailable()
	s.Capabilities.InvertConnection = lic.IsInvertConnectionAvailable()
	s.Capabilities.SettingsScope = lic.IsSettingsScopeAvailable()
	return s
}
