package config

import "time"

// Application constants
const (
	// Application Info
	AppName     = "Synergy"
	AppVersion  = "1.16.0"
	AppVendor   = "Symless"
	ServiceName = "licensecore"

	// Activation
	DefaultActivationURL     = "https://symless.com/api/product/activate"
	DefaultActivationTimeout = 30 * time.Second
	DefaultVersionCheckURL   = "https://api.symless.com/version/synergy1"

	// Settings
	ScopeUser               = "user"
	ScopeSystem             = "system"
	DefaultSettingsFileName = "license.yaml"
	SettingsDirName         = "Synergy"

	// Reminder runs once a day at 09:00 local time
	DefaultReminderSchedule = "0 9 * * *"

	// Log Settings
	DefaultLogLevel = "info"
	DefaultLogFile  = "logs/licensecore.log"

	// API Endpoints
	APIBasePath      = "/api"
	HealthEndpoint   = "/api/health"
	LicenseEndpoint  = "/api/license"
	FeaturesEndpoint = "/api/features"
	EventsEndpoint   = "/api/events"
	MetricsEndpoint  = "/metrics"
)
