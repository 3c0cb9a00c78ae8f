package entitlement

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"licensecore/internal/activation"
	"licensecore/internal/events"
	"licensecore/internal/features"
	"licensecore/internal/security"
	"licensecore/internal/settings"
)

var testIdentity = security.StaticIdentity{Machine: "machine-0001", Host: "workstation", OS: "TestOS 1.0"}

// memStore is an in-memory settings.Store
type memStore struct {
	mu       sync.Mutex
	ls       settings.LicenseSettings
	writable bool
	saves    int
	saveErr  error
}

func newMemStore() *memStore {
	return &memStore{writable: true}
}

func (s *memStore) Load() (settings.LicenseSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ls, nil
}

func (s *memStore) Save(ls settings.LicenseSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.ls = ls
	s.saves++
	return nil
}

func (s *memStore) IsWritable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writable
}

func (s *memStore) Location() string {
	return "memory"
}

func (s *memStore) snapshot() settings.LicenseSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ls
}

func (s *memStore) setWritable(w bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writable = w
}

func (s *memStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// fakeHost records core lifecycle calls
type fakeHost struct {
	mu       sync.Mutex
	starts   int32
	stops    int32
	restarts int32
	started  bool
	server   bool
	features features.Config
}

func (h *fakeHost) StartCore() {
	atomic.AddInt32(&h.starts, 1)
	h.mu.Lock()
	h.started = true
	h.mu.Unlock()
}

func (h *fakeHost) StopCore() {
	atomic.AddInt32(&h.stops, 1)
	h.mu.Lock()
	h.started = false
	h.mu.Unlock()
}

func (h *fakeHost) RestartCore() {
	atomic.AddInt32(&h.restarts, 1)
	h.mu.Lock()
	h.started = true
	h.mu.Unlock()
}

func (h *fakeHost) IsCoreStarted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.started
}

func (h *fakeHost) IsServer() bool {
	return h.server
}

func (h *fakeHost) Features() features.Config {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.features
}

func (h *fakeHost) SetFeatures(cfg features.Config) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.features = cfg
}

func (h *fakeHost) startCount() int {
	return int(atomic.LoadInt32(&h.starts))
}

func (h *fakeHost) stopCount() int {
	return int(atomic.LoadInt32(&h.stops))
}

func (h *fakeHost) restartCount() int {
	return int(atomic.LoadInt32(&h.restarts))
}

// fakeActivator hands the test control over when outcomes arrive
type fakeActivator struct {
	mu    sync.Mutex
	busy  bool
	calls int
	last  activation.Request
	ch    chan activation.Outcome
}

func (f *fakeActivator) Activate(_ context.Context, req activation.Request) (<-chan activation.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return nil, activation.ErrBusy
	}
	f.busy = true
	f.calls++
	f.last = req
	f.ch = make(chan activation.Outcome, 1)
	return f.ch, nil
}

func (f *fakeActivator) IsBusy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy
}

func (f *fakeActivator) complete(o activation.Outcome) {
	f.mu.Lock()
	ch := f.ch
	f.busy = false
	f.ch = nil
	f.mu.Unlock()
	if ch == nil {
		panic("fakeActivator: no request outstanding")
	}
	ch <- o
	close(ch)
}

func (f *fakeActivator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeActivator) lastRequest() activation.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// eventRecorder collects everything published on a bus
type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func recordEvents(bus *events.Bus) *eventRecorder {
	r := &eventRecorder{}
	bus.Subscribe(func(e events.Event) {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
	})
	return r
}

func (r *eventRecorder) ofType(t events.Type) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (r *eventRecorder) count(t events.Type) int {
	return len(r.ofType(t))
}

func (r *eventRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func (r *eventRecorder) waitFor(t *testing.T, typ events.Type) events.Event {
	t.Helper()
	require.Eventually(t, func() bool { return r.count(typ) > 0 }, 5*time.Second, 5*time.Millisecond,
		"no %s event", typ)
	return r.ofType(typ)[0]
}

var errDiskFull = errors.New("disk full")
