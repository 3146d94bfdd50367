package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Config holds the application configuration. Session state is persisted
// separately by the store package; this file only carries user preferences.
type Config struct {
	// UnattendedMode appends each agent's skip-confirmation flag (when the
	// agent has one) to composed pane commands.
	UnattendedMode bool `json:"unattended_mode,omitempty"`
	// ExtraPlanDirs are additional worktree-relative directories scanned by
	// the plan poller, on top of the default .planning directory.
	ExtraPlanDirs []string `json:"extra_plan_dirs,omitempty"`
	// NotificationsEnabled sends a desktop notification when a background
	// poller detects new diff content.
	NotificationsEnabled bool `json:"notifications_enabled,omitempty"`
	// DefaultAgent is the agent kind used when a new session doesn't name one.
	DefaultAgent string `json:"default_agent,omitempty"`

	mu       sync.RWMutex
	filePath string
}

// configDir returns the path to the config directory
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".troupe"), nil
}

// configPath returns the path to the config file
func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Dir returns the application data directory, creating it if needed.
func Dir() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// Load reads the config from disk, or creates a new one if it doesn't exist
func Load() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads the config from an explicit path (used in tests).
func LoadFrom(path string) (*Config, error) {
	cfg := &Config{
		ExtraPlanDirs: []string{},
		filePath:      path,
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.ensureInitialized()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ensureInitialized ensures all slices are initialized (not nil) after
// unmarshaling. Only called during single-threaded initialization.
func (c *Config) ensureInitialized() {
	if c.ExtraPlanDirs == nil {
		c.ExtraPlanDirs = []string{}
	}
}

// Validate checks that the config is internally consistent.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, dir := range c.ExtraPlanDirs {
		if dir == "" {
			return fmt.Errorf("empty plan directory found")
		}
		if filepath.IsAbs(dir) {
			return fmt.Errorf("plan directory must be worktree-relative: %s", dir)
		}
	}
	return nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(c.filePath), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(c.filePath, data, 0644)
}

// GetUnattendedMode returns whether unattended mode is enabled
func (c *Config) GetUnattendedMode() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.UnattendedMode
}

// SetUnattendedMode sets whether unattended mode is enabled
func (c *Config) SetUnattendedMode(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.UnattendedMode = enabled
}

// GetExtraPlanDirs returns a copy of the extra plan directories
func (c *Config) GetExtraPlanDirs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dirs := make([]string, len(c.ExtraPlanDirs))
	copy(dirs, c.ExtraPlanDirs)
	return dirs
}

// AddExtraPlanDir adds a worktree-relative plan directory if not present
func (c *Config) AddExtraPlanDir(dir string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, d := range c.ExtraPlanDirs {
		if d == dir {
			return false
		}
	}
	c.ExtraPlanDirs = append(c.ExtraPlanDirs, dir)
	return true
}

// GetNotificationsEnabled returns whether desktop notifications are enabled
func (c *Config) GetNotificationsEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.NotificationsEnabled
}

// SetNotificationsEnabled sets whether desktop notifications are enabled
func (c *Config) SetNotificationsEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.NotificationsEnabled = enabled
}

// GetDefaultAgent returns the default agent kind name
func (c *Config) GetDefaultAgent() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.DefaultAgent == "" {
		return "claude"
	}
	return c.DefaultAgent
}

// Snapshot is a read-only copy of the fields background loops consume.
// Pollers take a fresh snapshot at each iteration start rather than reading
// live config state.
type Snapshot struct {
	UnattendedMode       bool
	ExtraPlanDirs        []string
	NotificationsEnabled bool
}

// Snapshot returns a point-in-time copy of poller-visible configuration.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dirs := make([]string, len(c.ExtraPlanDirs))
	copy(dirs, c.ExtraPlanDirs)
	return Snapshot{
		UnattendedMode:       c.UnattendedMode,
		ExtraPlanDirs:        dirs,
		NotificationsEnabled: c.NotificationsEnabled,
	}
}
