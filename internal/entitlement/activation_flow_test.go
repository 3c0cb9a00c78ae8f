package entitlement

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"golang.org/x/sync/errgroup"

	"licensecore/internal/activation"
	"licensecore/internal/events"
	"licensecore/internal/security"
	"licensecore/internal/settings"
	"licensecore/internal/shared/testutil"
)

type flowFixture struct {
	manager  *Manager
	host     *fakeHost
	store    *memStore
	recorder *eventRecorder
	hits     *int32
}

func newFlowFixture(t *testing.T, handler http.HandlerFunc, metrics *LicenseMetrics) *flowFixture {
	t.Helper()

	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	logger, _ := testutil.NewTestLogger(t)
	bus := events.NewBus(logger)
	f := &flowFixture{
		host:     &fakeHost{},
		store:    newMemStore(),
		recorder: recordEvents(bus),
		hits:     &hits,
	}

	m, err := New(Options{
		Store:      f.store,
		Activator:  activation.New(server.URL, 2*time.Second, activation.WithLogger(logger)),
		Identity:   testIdentity,
		AppVersion: "1.16.0",
		Bus:        bus,
		Metrics:    metrics,
		Logger:     logger,
	})
	require.NoError(t, err)
	t.Cleanup(m.Close)
	require.NoError(t, m.HandleHost(context.Background(), f.host))

	f.manager = m
	return f
}

func respond(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func TestActivationSuccessOverHTTP(t *testing.T) {
	f := newFlowFixture(t, respond(testutil.ActivationResponses()["success"]), nil)
	ctx := context.Background()
	require.Equal(t, ResultSuccess, f.manager.SetLicense(ctx, testutil.PermanentKey("pro"), false))

	assert.False(t, f.manager.HandleCoreStart(ctx))
	f.recorder.waitFor(t, events.ActivationSucceeded)
	require.Eventually(t, func() bool { return f.host.startCount() == 1 }, 5*time.Second, 5*time.Millisecond)

	assert.True(t, f.manager.IsActivated())
	assert.True(t, f.store.snapshot().Activated)

	// the core was resumed by the outcome; the next start passes directly
	assert.True(t, f.manager.HandleCoreStart(ctx))
	assert.Equal(t, 1, f.host.startCount())
	assert.Equal(t, int32(1), atomic.LoadInt32(f.hits))
}

func TestActivationSeatLimitOverHTTP(t *testing.T) {
	f := newFlowFixture(t, respond(testutil.ActivationResponses()["seat_limit"]), nil)
	ctx := context.Background()
	require.Equal(t, ResultSuccess, f.manager.SetLicense(ctx, testutil.PermanentKey("pro"), false))

	require.Equal(t, ActivationStarted, f.manager.RequestActivation(ctx))
	e := f.recorder.waitFor(t, events.ActivationFailed)

	assert.Equal(t, "seat limit reached", e.Message)
	assert.False(t, f.manager.IsActivated())
	assert.Equal(t, 0, f.host.startCount())
}

func TestActivationNetworkFailureOverHTTP(t *testing.T) {
	f := newFlowFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}, nil)
	ctx := context.Background()
	require.Equal(t, ResultSuccess, f.manager.SetLicense(ctx, testutil.PermanentKey("pro"), false))

	require.Equal(t, ActivationStarted, f.manager.RequestActivation(ctx))
	e := f.recorder.waitFor(t, events.ActivationFailed)
	assert.Equal(t, activation.MsgNetworkError, e.Message)
}

func TestConcurrentRequestsSendOneActivation(t *testing.T) {
	release := make(chan struct{})
	f := newFlowFixture(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte(`{"status":"success"}`))
	}, nil)
	ctx := context.Background()
	require.Equal(t, ResultSuccess, f.manager.SetLicense(ctx, testutil.PermanentKey("pro"), false))

	var (
		mu      sync.Mutex
		results = map[ActivationResult]int{}
	)
	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			r := f.manager.RequestActivation(ctx)
			mu.Lock()
			results[r]++
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, results[ActivationStarted])
	assert.Equal(t, 9, results[ActivationSkipped])

	close(release)
	f.recorder.waitFor(t, events.ActivationSucceeded)
	require.Eventually(t, func() bool { return f.host.startCount() == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(f.hits))
	assert.Equal(t, 1, f.recorder.count(events.ActivationSucceeded))
}

func TestActivationSurvivesCallerCancellation(t *testing.T) {
	release := make(chan struct{})
	f := newFlowFixture(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte(`{"status":"success"}`))
	}, nil)
	require.Equal(t, ResultSuccess, f.manager.SetLicense(context.Background(), testutil.PermanentKey("pro"), false))

	ctx, cancel := context.WithCancel(context.Background())
	require.Equal(t, ActivationStarted, f.manager.RequestActivation(ctx))
	cancel()
	close(release)

	f.recorder.waitFor(t, events.ActivationSucceeded)
	assert.True(t, f.manager.IsActivated())
}

func TestActivationMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := InitializeLicenseMetrics(provider.Meter(MeterName))
	require.NoError(t, err)

	f := newFlowFixture(t, respond(`{"status":"success"}`), metrics)
	ctx := context.Background()
	require.Equal(t, ResultSuccess, f.manager.SetLicense(ctx, testutil.PermanentKey("pro"), false))
	require.Equal(t, ResultInvalid, f.manager.SetLicense(ctx, "zz", false))
	require.Equal(t, ActivationStarted, f.manager.RequestActivation(ctx))
	f.recorder.waitFor(t, events.ActivationSucceeded)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	assert.Equal(t, int64(1), sumOf(rm, "license_activation_attempts_total"))
	assert.Equal(t, int64(1), sumOf(rm, "license_activation_success_total"))
	assert.Equal(t, int64(0), sumOf(rm, "license_activation_failures_total"))
	assert.Equal(t, int64(0), sumOf(rm, "license_activations_pending"))
	assert.Equal(t, int64(1), sumOf(rm, "license_changes_total"))
	assert.Equal(t, int64(1), sumOf(rm, "license_invalid_key_attempts_total"))
}

func sumOf(rm metricdata.ResourceMetrics, name string) int64 {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				return -1
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestReloadSettingsFromFiles(t *testing.T) {
	dir := t.TempDir()
	store := settings.NewFileStore(dir, "", "", settings.ScopeUser, nil)
	act := &fakeActivator{}
	logger, _ := testutil.NewTestLogger(t)
	bus := events.NewBus(logger)
	recorder := recordEvents(bus)
	host := &fakeHost{}
	ctx := context.Background()

	m, err := New(Options{Store: store, Activator: act, Identity: testIdentity, AppVersion: "1.16.0", Bus: bus, Logger: logger})
	require.NoError(t, err)
	defer m.Close()
	require.NoError(t, m.HandleHost(ctx, host))

	pro := testutil.PermanentKey("pro")
	require.Equal(t, ResultSuccess, m.SetLicense(ctx, pro, false))
	require.Equal(t, ActivationStarted, m.RequestActivation(ctx))
	act.complete(activation.Outcome{Success: true})
	recorder.waitFor(t, events.ActivationSucceeded)

	// our own write reloads without losing activation
	require.NoError(t, m.ReloadSettings(ctx))
	assert.True(t, m.IsActivated())

	// a restart on the same machine keeps activation
	restarted, err := New(Options{Store: store, Activator: &fakeActivator{}, Identity: testIdentity, AppVersion: "1.16.0"})
	require.NoError(t, err)
	defer restarted.Close()
	require.NoError(t, restarted.HandleHost(ctx, &fakeHost{}))
	assert.True(t, restarted.IsActivated())
	assert.Equal(t, pro, restarted.License().SerialKey().HexString)

	// the same file read on another machine does not
	elsewhere, err := New(Options{
		Store:      store,
		Activator:  &fakeActivator{},
		Identity:   testIdentityOn("machine-0002"),
		AppVersion: "1.16.0",
	})
	require.NoError(t, err)
	defer elsewhere.Close()
	require.NoError(t, elsewhere.HandleHost(ctx, &fakeHost{}))
	assert.False(t, elsewhere.IsActivated())

	// an external edit switches the key
	recorder.reset()
	business := testutil.PermanentKey("business")
	other := settings.NewFileStore(dir, "", "", settings.ScopeUser, nil)
	require.NoError(t, other.Save(settings.LicenseSettings{SerialKey: business, Activated: true, ActivationSeal: "forged"}))

	require.NoError(t, m.ReloadSettings(ctx))
	assert.Equal(t, business, m.License().SerialKey().HexString)
	assert.False(t, m.IsActivated())
	assert.Equal(t, 1, recorder.count(events.LicenseChanged))
}

func testIdentityOn(machine string) security.IdentitySource {
	id := testIdentity
	id.Machine = machine
	return id
}
