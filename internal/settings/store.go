// Package settings persists the serial key and activation state.
//
// Two scopes exist: a per-user file and a system wide file shared by every
// user. Loading prefers the system scope. Saving writes the system scope when
// it is writable and always writes the user scope.
package settings

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v2"
)

// Setting keys shared by both scopes
const (
	KeySerialKey      = "serialKey"
	KeyActivated      = "activated"
	KeyActivationSeal = "activationSeal"
)

// DefaultFileName is the settings file written in each scope directory
const DefaultFileName = "license.yaml"

// ErrNotWritable is returned when the active scope cannot be written
var ErrNotWritable = errors.New("settings are not writable")

// Scope selects which settings location is active
type Scope string

const (
	ScopeUser   Scope = "user"
	ScopeSystem Scope = "system"
)

// LicenseSettings is the persisted license state
type LicenseSettings struct {
	SerialKey      string
	Activated      bool
	ActivationSeal string
}

// Store is the persistence boundary used by the license engine
type Store interface {
	Load() (LicenseSettings, error)
	Save(LicenseSettings) error
	IsWritable() bool
	Location() string
}

// FileStore keeps settings in YAML files, one per scope. Keys it does not
// own are preserved on save.
type FileStore struct {
	mu         sync.Mutex
	userPath   string
	systemPath string
	scope      Scope
	logger     *slog.Logger
}

// NewFileStore creates a store. An empty systemDir disables the system scope.
func NewFileStore(userDir, systemDir, fileName string, scope Scope, logger *slog.Logger) *FileStore {
	if userDir == "" {
		panic("settings: user directory is required")
	}
	if fileName == "" {
		fileName = DefaultFileName
	}
	if logger == nil {
		logger = slog.Default()
	}
	if scope != ScopeSystem {
		scope = ScopeUser
	}

	s := &FileStore{
		userPath: filepath.Join(userDir, fileName),
		scope:    scope,
		logger:   logger.With("component", "settings"),
	}
	if systemDir != "" {
		s.systemPath = filepath.Join(systemDir, fileName)
	}
	return s
}

// UserPath returns the per-user settings file
func (s *FileStore) UserPath() string {
	return s.userPath
}

// SystemPath returns the system settings file, or "" when disabled
func (s *FileStore) SystemPath() string {
	return s.systemPath
}

// Paths returns every file the store reads
func (s *FileStore) Paths() []string {
	if s.systemPath == "" {
		return []string{s.userPath}
	}
	return []string{s.systemPath, s.userPath}
}

// Location returns the active settings file
func (s *FileStore) Location() string {
	if s.scope == ScopeSystem && s.systemPath != "" {
		return s.systemPath
	}
	return s.userPath
}

// Load reads license settings. Each key is taken from the system scope when
// present there and from the user scope otherwise.
func (s *FileStore) Load() (LicenseSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var system map[string]interface{}
	if s.systemPath != "" {
		var err error
		system, err = readFile(s.systemPath)
		if err != nil {
			return LicenseSettings{}, err
		}
	}
	user, err := readFile(s.userPath)
	if err != nil {
		return LicenseSettings{}, err
	}

	var out LicenseSettings
	if v, ok := lookup(system, user, KeySerialKey); ok {
		out.SerialKey = toString(v)
	} else {
		s.logger.Debug("no serial key found in settings")
	}

	activatedScope := user
	if v, ok := system[KeyActivated]; ok {
		out.Activated = toBool(v)
		activatedScope = system
	} else if v, ok := user[KeyActivated]; ok {
		out.Activated = toBool(v)
	} else {
		s.logger.Debug("no activation status found in settings")
	}
	// the seal travels with the activated flag
	if v, ok := activatedScope[KeyActivationSeal]; ok {
		out.ActivationSeal = toString(v)
	}

	return out, nil
}

// Save writes the system scope when writable and always the user scope
func (s *FileStore) Save(ls LicenseSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.systemPath != "" {
		if isWritable(filepath.Dir(s.systemPath)) {
			if err := mergeAndWrite(s.systemPath, ls); err != nil {
				s.logger.Warn("failed to save system settings",
					slog.String("path", s.systemPath),
					slog.String("error", err.Error()))
			} else {
				s.logger.Debug("saved license settings to system scope", slog.String("path", s.systemPath))
			}
		} else {
			s.logger.Debug("not saving to system settings, not writable", slog.String("path", s.systemPath))
		}
	}

	if err := mergeAndWrite(s.userPath, ls); err != nil {
		return fmt.Errorf("failed to save user settings: %w", err)
	}
	s.logger.Debug("saved license settings to user scope", slog.String("path", s.userPath))
	return nil
}

// IsWritable reports whether the active scope can be written
func (s *FileStore) IsWritable() bool {
	path := s.Location()
	if info, err := os.Stat(path); err == nil && info.Mode().Perm()&0200 == 0 {
		return false
	}
	return isWritable(filepath.Dir(path))
}

func lookup(system, user map[string]interface{}, key string) (interface{}, bool) {
	if v, ok := system[key]; ok {
		return v, true
	}
	v, ok := user[key]
	return v, ok
}

func readFile(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]interface{}{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings %s: %w", path, err)
	}

	values := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}
	return values, nil
}

func mergeAndWrite(path string, ls LicenseSettings) error {
	values, err := readFile(path)
	if err != nil {
		// a corrupt file is replaced rather than blocking the save
		values = map[string]interface{}{}
	}

	values[KeySerialKey] = ls.SerialKey
	values[KeyActivated] = ls.Activated
	if ls.ActivationSeal != "" {
		values[KeyActivationSeal] = ls.ActivationSeal
	} else {
		delete(values, KeyActivationSeal)
	}

	data, err := yaml.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	return writeAtomic(path, data)
}

// writeAtomic replaces path with data via a temp file and rename
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create settings directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp settings file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp settings file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp settings file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp settings file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("failed to set settings permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace settings file: %w", err)
	}
	return nil
}

// isWritable checks if a directory is writable, creating it if missing
func isWritable(dir string) bool {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false
	}
	testFile := filepath.Join(dir, fmt.Sprintf(".write_test_%d", time.Now().UnixNano()))
	f, err := os.Create(testFile)
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(testFile)
	return true
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func toBool(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "true" || t == "1"
	case int:
		return t != 0
	default:
		return false
	}
}
