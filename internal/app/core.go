package app

import (
	"log/slog"
	"sync"

	"licensecore/internal/features"
)

// CoreController stands in for the Synergy core process. The license engine
// starts and restarts it and owns its gated feature toggles.
type CoreController struct {
	mu       sync.Mutex
	started  bool
	restarts int
	isServer bool
	features features.Config
	logger   *slog.Logger
}

// NewCoreController creates a stopped core
func NewCoreController(isServer bool, initial features.Config, logger *slog.Logger) *CoreController {
	if logger == nil {
		logger = slog.Default()
	}
	return &CoreController{
		isServer: isServer,
		features: initial,
		logger:   logger.With(slog.String("component", "core")),
	}
}

// StartCore marks the core running. Starting a running core is a no-op.
func (c *CoreController) StartCore() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		c.logger.Debug("core already running")
		return
	}
	c.started = true
	c.logger.Info("core started", slog.Bool("is_server", c.isServer))
}

// RestartCore restarts a running core so it picks up a new license
func (c *CoreController) RestartCore() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.restarts++
	c.started = true
	c.logger.Info("core restarted", slog.Int("restarts", c.restarts))
}

// StopCore marks the core stopped
func (c *CoreController) StopCore() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return
	}
	c.started = false
	c.logger.Info("core stopped")
}

func (c *CoreController) IsCoreStarted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

func (c *CoreController) IsServer() bool {
	return c.isServer
}

// Restarts reports how many times the core was restarted
func (c *CoreController) Restarts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.restarts
}

func (c *CoreController) Features() features.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.features
}

func (c *CoreController) SetFeatures(cfg features.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cfg != c.features {
		c.logger.Info("core features updated",
			slog.Bool("tls", cfg.TLS.Enabled),
			slog.Bool("invert_connection", cfg.InvertConnection.Enabled),
			slog.Bool("system_scope", cfg.SystemScope.Enabled))
	}
	c.features = cfg
}
