package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
)

// Paths contains the filesystem locations used by the application
type Paths struct {
	UserSettingsDir   string
	SystemSettingsDir string
	LogsDir           string
}

// DefaultPaths resolves the per-platform settings locations. The user
// directory falls back to the working directory when the platform reports
// no config home.
func DefaultPaths() Paths {
	userBase, err := os.UserConfigDir()
	if err != nil || userBase == "" {
		userBase = "."
	}
	userDir := filepath.Join(userBase, SettingsDirName)

	return Paths{
		UserSettingsDir:   userDir,
		SystemSettingsDir: systemSettingsDir(runtime.GOOS),
		LogsDir:           filepath.Join(userDir, "logs"),
	}
}

func systemSettingsDir(goos string) string {
	switch goos {
	case "windows":
		programData := os.Getenv("ProgramData")
		if programData == "" {
			programData = `C:\ProgramData`
		}
		return filepath.Join(programData, SettingsDirName)
	case "darwin":
		return filepath.Join("/Library", "Application Support", SettingsDirName)
	default:
		return filepath.Join("/etc", "synergy")
	}
}

// SettingsPaths returns the user and system settings files for cfg
func (c *Config) SettingsPaths() (user, system string) {
	name := c.Settings.FileName
	if name == "" {
		name = DefaultSettingsFileName
	}
	user = filepath.Join(c.Settings.UserDir, name)
	if c.Settings.SystemDir != "" {
		system = filepath.Join(c.Settings.SystemDir, name)
	}
	return user, system
}

// EnsureUserSettingsDir creates the user settings directory
func (c *Config) EnsureUserSettingsDir() error {
	if err := os.MkdirAll(c.Settings.UserDir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", c.Settings.UserDir, err)
	}
	return nil
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// LogPathResolution logs where settings are read from
func (c *Config) LogPathResolution(logger *slog.Logger) {
	if logger == nil {
		return
	}
	user, system := c.SettingsPaths()
	logger.Info("Path resolution summary",
		slog.Group("settings",
			slog.String("user", user),
			slog.String("system", system),
			slog.String("scope", c.Settings.Scope),
			slog.Bool("user_exists", FileExists(user)),
			slog.Bool("system_exists", system != "" && FileExists(system)),
		),
		slog.String("log_file", c.Logging.FilePath))
}
