package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"licensecore/internal/activation"
	"licensecore/internal/config"
	"licensecore/internal/entitlement"
	apierrors "licensecore/internal/errors"
	"licensecore/internal/events"
	"licensecore/internal/features"
	"licensecore/internal/infrastructure"
	customMiddleware "licensecore/internal/middleware"
	"licensecore/internal/reminder"
	"licensecore/internal/scheduler"
	"licensecore/internal/security"
	"licensecore/internal/settings"
	handlers "licensecore/internal/transport/http"
	ws "licensecore/internal/websocket"
)

// Option customises how an Application builds its services
type Option func(*options)

type options struct {
	identity security.IdentitySource
	client   activation.Doer
	clock    scheduler.Clock
	console  io.Writer
}

// WithIdentity replaces the machine identity used to sign activation requests
func WithIdentity(id security.IdentitySource) Option {
	return func(o *options) { o.identity = id }
}

// WithActivationClient replaces the HTTP client used by the activator
func WithActivationClient(c activation.Doer) Option {
	return func(o *options) { o.client = c }
}

// WithClock replaces the wall clock driving expiry checks
func WithClock(c scheduler.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithConsole redirects console logging. The process default logger is
// left alone when set.
func WithConsole(w io.Writer) Option {
	return func(o *options) { o.console = w }
}

// Application represents the main application container
type Application struct {
	Config        *config.Config
	Logging       *infrastructure.Logging
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders

	Store     *settings.FileStore
	Activator *activation.Activator
	Manager   *entitlement.Manager
	Core      *CoreController
	Hub       *ws.Hub
	Watcher   *settings.Watcher
	Reminder  *reminder.Scheduler

	Router *chi.Mux
	Server *http.Server

	opts         options
	otel         *customMiddleware.OTelMiddleware
	errorHandler *apierrors.ErrorHandler

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  bool
}

// NewApplication wires every service from cfg. A nil cfg is loaded from
// the environment.
func NewApplication(cfg *config.Config, opts ...Option) (*Application, error) {
	if cfg == nil {
		loaded, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg = loaded
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var (
		logging *infrastructure.Logging
		err     error
	)
	if o.console != nil {
		logging, err = infrastructure.NewLogging(cfg.Logging, o.console)
	} else {
		logging, err = infrastructure.InitializeLogger(cfg.Logging)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger := logging.Logger

	logger.Info("Application starting",
		slog.String("name", config.AppName),
		slog.String("version", cfg.App.Version),
		slog.Bool("is_server", cfg.App.IsServer),
		slog.Bool("activation_enabled", cfg.Activation.Enabled))
	cfg.LogPathResolution(logger)

	providers, err := infrastructure.InitializeOTel(infrastructure.OTelConfigFrom(cfg), logger)
	if err != nil {
		_ = logging.Close()
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	a := &Application{
		Config:        cfg,
		Logging:       logging,
		Logger:        logger,
		OTelProviders: providers,
		opts:          o,
		errorHandler:  apierrors.NewErrorHandler(logger, cfg.Logging.Development),
	}

	if err := a.initializeServices(); err != nil {
		_ = providers.Shutdown(context.Background())
		_ = logging.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	a.setupRouter()
	a.createServer()
	return a, nil
}

// initializeServices builds the license engine and the services around it
func (a *Application) initializeServices() error {
	ctx := infrastructure.EnsureTraceID(context.Background())
	cfg := a.Config

	if err := cfg.EnsureUserSettingsDir(); err != nil {
		a.Logger.WarnContext(ctx, "user settings directory unavailable", slog.String("error", err.Error()))
	}
	a.Store = settings.NewFileStore(cfg.Settings.UserDir, cfg.Settings.SystemDir, cfg.Settings.FileName,
		settings.Scope(cfg.Settings.Scope), a.Logger)

	activatorOpts := []activation.Option{
		activation.WithLogger(a.Logger),
		activation.WithUserAgent(fmt.Sprintf("%s/%s", config.AppName, cfg.App.Version)),
	}
	if a.opts.client != nil {
		activatorOpts = append(activatorOpts, activation.WithClient(a.opts.client))
	}
	a.Activator = activation.New(cfg.ActivationURL(), cfg.Activation.Timeout, activatorOpts...)

	identity := a.opts.identity
	if identity == nil {
		identity = security.NewSystemIdentity(a.Logger)
	}

	metrics, err := entitlement.InitializeLicenseMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create license metrics: %w", err)
	}

	a.Manager, err = entitlement.New(entitlement.Options{
		Store:      a.Store,
		Activator:  a.Activator,
		Identity:   identity,
		AppVersion: cfg.App.Version,
		Disabled:   !cfg.Activation.Enabled,
		Bus:        events.NewBus(a.Logger),
		Gate:       features.NewGate(cfg.Features.Policy(), a.Logger),
		Clock:      a.opts.clock,
		Metrics:    metrics,
		Logger:     a.Logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create license manager: %w", err)
	}

	a.Core = NewCoreController(cfg.App.IsServer, features.Config{}, a.Logger)
	if err := a.Manager.HandleHost(ctx, a.Core); err != nil {
		a.Logger.WarnContext(ctx, "license settings could not be loaded", slog.String("error", err.Error()))
	}
	a.applyTestSerialKey(ctx)

	a.otel, err = customMiddleware.NewOTelMiddleware(a.OTelProviders)
	if err != nil {
		return fmt.Errorf("failed to create telemetry middleware: %w", err)
	}

	a.Hub = ws.NewHub(a.Logger,
		ws.WithConnectionCounter(a.otel.Metrics().WebSocketConns),
		ws.WithSnapshot(func() interface{} { return a.Manager.Status() }),
	)

	if !a.Manager.IsEnabled() {
		a.Logger.InfoContext(ctx, "license engine disabled, settings watcher and reminder not started")
		return nil
	}

	if cfg.Settings.Watch {
		a.Watcher = settings.NewWatcher(a.Store.Paths(), a.reloadSettings, a.Logger)
	}

	if cfg.Reminder.Enabled {
		a.Reminder, err = reminder.New(a.Manager, cfg.Reminder.Schedule, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to create reminder: %w", err)
		}
	}
	return nil
}

// applyTestSerialKey installs the configured test key when no valid
// license was loaded from settings
func (a *Application) applyTestSerialKey(ctx context.Context) {
	key := a.Config.Test.SerialKey
	if key == "" || !a.Manager.IsEnabled() {
		return
	}
	if a.Manager.License().IsValid() {
		a.Logger.DebugContext(ctx, "test serial key ignored, license already loaded")
		return
	}

	result := a.Manager.SetLicense(ctx, key, false)
	a.Logger.InfoContext(ctx, "test serial key applied", slog.String("result", result.String()))
}

func (a *Application) reloadSettings() {
	ctx := infrastructure.EnsureTraceID(context.Background())
	if err := a.Manager.ReloadSettings(ctx); err != nil {
		a.Logger.ErrorContext(ctx, "failed to reload license settings", slog.String("error", err.Error()))
	}
}

// setupRouter builds the bridge API. The event stream sits outside the
// request timeout and body checks.
func (a *Application) setupRouter() {
	cfg := a.Config
	r := chi.NewRouter()

	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)
	r.Use(a.otel.Handler)
	r.Use(apierrors.NewErrorMiddleware(a.errorHandler, a.Logger).Handler)
	r.Use(customMiddleware.SecurityHeaders)
	if cfg.Server.RateLimit.Enabled {
		r.Use(customMiddleware.NewRateLimiter(cfg.Server.RateLimit.RPS, cfg.Server.RateLimit.Burst, a.Logger).Handler)
	}

	r.NotFound(a.errorHandler.NotFound)
	r.MethodNotAllowed(a.errorHandler.MethodNotAllowed)

	validator := customMiddleware.NewValidator(a.Logger)

	r.Route(config.APIBasePath, func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Handle("/events", ws.NewHandler(a.Hub, a.Logger))

		r.Group(func(r chi.Router) {
			r.Use(customMiddleware.Timeout(cfg.Server.RequestTimeout))
			r.Use(validator.LimitBody)
			r.Use(customMiddleware.ContentTypeValidator("application/json"))

			health := handlers.NewHealthHandler(cfg.App.Version, a.Manager, a.Hub)
			r.Get("/health", health.HealthCheck)

			licenseHandler := handlers.NewLicenseHandler(a.Manager, validator, a.errorHandler, cfg.App.VersionCheckURL, a.Logger)
			r.Mount("/license", licenseHandler.Routes())

			featuresHandler := handlers.NewFeaturesHandler(a.Manager, validator, a.errorHandler, a.Logger)
			r.Mount("/features", featuresHandler.Routes())

			clientLog := handlers.NewClientLogHandler(validator, a.errorHandler, a.Logger)
			r.Post("/logs", clientLog.Handle)
		})
	})

	r.Handle(config.MetricsEndpoint, handlers.NewMetricsHandler(a.OTelProviders.PrometheusHTTP, a.errorHandler))

	a.Router = r
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         a.Config.Server.Address,
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// Addr returns the address the server listens on once started
func (a *Application) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return a.Config.Server.Address
	}
	return a.listener.Addr().String()
}

// Start runs background services, starts listening and drives the license
// start hooks. Serving errors call onFatal.
func (a *Application) Start(ctx context.Context, onFatal context.CancelFunc) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return errors.New("application already started")
	}

	ln, err := net.Listen("tcp", a.Config.Server.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Config.Server.Address, err)
	}
	a.listener = ln

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	a.started = true

	a.Hub.Start()
	a.goBackground(func() { a.Hub.Forward(runCtx, a.Manager.Events()) })

	if a.Watcher != nil {
		a.goBackground(func() {
			if err := a.Watcher.Run(runCtx); err != nil {
				a.Logger.ErrorContext(runCtx, "settings watcher stopped", slog.String("error", err.Error()))
			}
		})
	}

	if a.Reminder != nil {
		if err := a.Reminder.Start(); err != nil {
			a.Logger.WarnContext(ctx, "reminder not started", slog.String("error", err.Error()))
		}
	}

	a.goBackground(func() {
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.ErrorContext(runCtx, "Server error", slog.String("error", err.Error()))
			if onFatal != nil {
				onFatal()
			}
		}
	})

	a.Logger.InfoContext(ctx, "Application started",
		slog.String("address", "http://"+ln.Addr().String()),
		slog.String("license_state", string(a.Manager.State())))

	a.startCore(infrastructure.EnsureTraceID(ctx))
	return nil
}

// startCore runs the app start and core start hooks. When activation is
// needed the core is started by the activation outcome instead.
func (a *Application) startCore(ctx context.Context) {
	if !a.Manager.HandleAppStart(ctx) {
		a.Logger.WarnContext(ctx, "license needs attention, core not started",
			slog.String("license_state", string(a.Manager.State())))
		return
	}
	if a.Manager.HandleCoreStart(ctx) {
		a.Core.StartCore()
		return
	}
	a.Logger.InfoContext(ctx, "core start deferred until activation completes")
}

func (a *Application) goBackground(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

// Stop gracefully stops the application
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error

	a.mu.Lock()
	started := a.started
	a.started = false
	a.mu.Unlock()

	if started {
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
		}
		if a.Reminder != nil {
			select {
			case <-a.Reminder.Stop().Done():
			case <-shutdownCtx.Done():
			}
		}
		a.cancel()
		a.Hub.Stop()
		a.wg.Wait()
	}

	a.Core.StopCore()
	a.Manager.Close()

	if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
		a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	if err := a.Logging.Close(); err != nil {
		errs = append(errs, fmt.Errorf("log file close error: %w", err))
	}
	return errors.Join(errs...)
}

// Run runs the application until interrupted
func (a *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx, stop); err != nil {
		return err
	}

	<-ctx.Done()
	a.Logger.Info("Received interrupt signal")

	return a.Stop(context.Background())
}
