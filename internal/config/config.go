package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v2"

	"licensecore/internal/features"
)

// EnvPrefix namespaces every environment variable read by Load
const EnvPrefix = "SYNERGY"

// Config represents the complete application configuration
type Config struct {
	App        AppConfig        `yaml:"app" envconfig:"APP"`
	Activation ActivationConfig `yaml:"activation" envconfig:"ACTIVATION"`
	Test       TestConfig       `yaml:"test" envconfig:"TEST"`
	Settings   SettingsConfig   `yaml:"settings" envconfig:"SETTINGS"`
	Logging    LoggingConfig    `yaml:"logging" envconfig:"LOGGING"`
	Server     ServerConfig     `yaml:"server" envconfig:"SERVER"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" envconfig:"TELEMETRY"`
	Reminder   ReminderConfig   `yaml:"reminder" envconfig:"REMINDER"`
	Features   FeaturesConfig   `yaml:"features" envconfig:"FEATURES"`
}

// AppConfig describes the running application
type AppConfig struct {
	Version         string `yaml:"version" envconfig:"VERSION"`
	IsServer        bool   `yaml:"is_server" envconfig:"IS_SERVER"`
	VersionCheckURL string `yaml:"version_check_url" envconfig:"VERSION_CHECK_URL"`
}

// ActivationConfig contains license activation settings
type ActivationConfig struct {
	// Enabled false puts the license engine in bypass mode
	Enabled bool          `yaml:"enabled" envconfig:"ENABLED"`
	URL     string        `yaml:"url" envconfig:"URL"`
	Timeout time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
}

// TestConfig holds overrides used by automated runs
type TestConfig struct {
	SerialKey      string `yaml:"serial_key" envconfig:"SERIAL_KEY"`
	APIURLActivate string `yaml:"api_url_activate" envconfig:"API_URL_ACTIVATE"`
}

// SettingsConfig locates the persisted license settings
type SettingsConfig struct {
	UserDir   string `yaml:"user_dir" envconfig:"USER_DIR"`
	SystemDir string `yaml:"system_dir" envconfig:"SYSTEM_DIR"`
	FileName  string `yaml:"file_name" envconfig:"FILE_NAME"`
	Scope     string `yaml:"scope" envconfig:"SCOPE"`
	Watch     bool   `yaml:"watch" envconfig:"WATCH"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL"`
	Format      string `yaml:"format" envconfig:"FORMAT"`
	Output      string `yaml:"output" envconfig:"OUTPUT"`
	FilePath    string `yaml:"file_path" envconfig:"FILE_PATH"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT"`
}

// ServerConfig contains the local bridge API configuration
type ServerConfig struct {
	Address         string          `yaml:"address" envconfig:"ADDRESS"`
	ReadTimeout     time.Duration   `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration   `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration   `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	RequestTimeout  time.Duration   `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// TelemetryConfig controls tracing and metrics export
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name" envconfig:"SERVICE_NAME"`
	Environment    string `yaml:"environment" envconfig:"ENVIRONMENT"`
	TracingEnabled bool   `yaml:"tracing_enabled" envconfig:"TRACING_ENABLED"`
	MetricsEnabled bool   `yaml:"metrics_enabled" envconfig:"METRICS_ENABLED"`
}

// ReminderConfig schedules the expiring-soon reminder
type ReminderConfig struct {
	Enabled  bool   `yaml:"enabled" envconfig:"ENABLED"`
	Schedule string `yaml:"schedule" envconfig:"SCHEDULE"`
}

// FeaturesConfig lists features switched on automatically once licensed
type FeaturesConfig struct {
	AutoEnable []string `yaml:"auto_enable" envconfig:"AUTO_ENABLE"`
}

// Load builds the configuration from defaults, an optional YAML file and
// the environment, in increasing order of precedence.
func Load() (*Config, error) {
	cfg := Default()

	if path := configFilePath(); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays the keys present in the YAML file onto cfg
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// configFilePath returns SYNERGY_CONFIG_FILE when set, otherwise the first
// well-known location that exists
func configFilePath() string {
	if path := os.Getenv(EnvPrefix + "_CONFIG_FILE"); path != "" {
		return path
	}

	locations := []string{
		"config.yaml",
		"configs/config.yaml",
	}
	for _, location := range locations {
		if FileExists(location) {
			return location
		}
	}
	return ""
}

// ActivationURL returns the endpoint activation requests are posted to.
// The test override wins over the configured URL.
func (c *Config) ActivationURL() string {
	if c.Test.APIURLActivate != "" {
		return c.Test.APIURLActivate
	}
	if c.Activation.URL != "" {
		return c.Activation.URL
	}
	return DefaultActivationURL
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.App.Version == "" {
		return fmt.Errorf("app version must be set")
	}

	if c.Activation.Timeout <= 0 {
		return fmt.Errorf("activation timeout must be positive")
	}

	if _, _, err := net.SplitHostPort(c.Server.Address); err != nil {
		return fmt.Errorf("invalid server address %q: %w", c.Server.Address, err)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	if c.Server.RateLimit.Enabled && (c.Server.RateLimit.RPS <= 0 || c.Server.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit rps and burst must be positive")
	}

	switch strings.ToLower(c.Settings.Scope) {
	case ScopeUser, ScopeSystem:
		c.Settings.Scope = strings.ToLower(c.Settings.Scope)
	default:
		return fmt.Errorf("invalid settings scope %q", c.Settings.Scope)
	}

	if c.Settings.FileName == "" {
		c.Settings.FileName = DefaultSettingsFileName
	}

	if c.Reminder.Enabled {
		if strings.TrimSpace(c.Reminder.Schedule) == "" {
			return fmt.Errorf("reminder schedule must be set when the reminder is enabled")
		}
		if _, err := cron.ParseStandard(c.Reminder.Schedule); err != nil {
			return fmt.Errorf("invalid reminder schedule %q: %w", c.Reminder.Schedule, err)
		}
	}

	for _, f := range c.Features.AutoEnable {
		if _, ok := features.Lookup(f); !ok {
			return fmt.Errorf("unknown feature %q in auto enable list", f)
		}
	}

	// Always JSON
	if c.Logging.Format != "json" {
		c.Logging.Format = "json"
	}

	switch c.Logging.Output {
	case "console", "file", "both":
	default:
		c.Logging.Output = "both"
	}

	if c.Logging.FilePath == "" {
		c.Logging.FilePath = DefaultLogFile
	}

	return nil
}

// Default returns default configuration
func Default() *Config {
	paths := DefaultPaths()
	return &Config{
		App: AppConfig{
			Version:         AppVersion,
			VersionCheckURL: DefaultVersionCheckURL,
		},
		Activation: ActivationConfig{
			Enabled: true,
			URL:     DefaultActivationURL,
			Timeout: DefaultActivationTimeout,
		},
		Settings: SettingsConfig{
			UserDir:   paths.UserSettingsDir,
			SystemDir: paths.SystemSettingsDir,
			FileName:  DefaultSettingsFileName,
			Scope:     ScopeUser,
			Watch:     true,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: DefaultLogFile,
		},
		Server: ServerConfig{
			Address:         "127.0.0.1:24803",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RequestTimeout:  60 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     20,
				Burst:   40,
			},
		},
		Telemetry: TelemetryConfig{
			ServiceName:    ServiceName,
			Environment:    "production",
			TracingEnabled: false,
			MetricsEnabled: true,
		},
		Reminder: ReminderConfig{
			Enabled:  true,
			Schedule: DefaultReminderSchedule,
		},
	}
}

// Policy converts the auto enable list into a clamp policy. Names are
// checked by validate.
func (f FeaturesConfig) Policy() features.Policy {
	policy := features.Policy{AutoEnable: map[features.Feature]bool{}}
	for _, name := range f.AutoEnable {
		if feature, ok := features.Lookup(name); ok {
			policy.AutoEnable[feature] = true
		}
	}
	return policy
}
