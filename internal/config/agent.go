package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultConfigDir returns the default config directory (~/.licensor).
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".licensor"), nil
}

// DefaultConfigPath returns the default config file path (~/.licensor/config.yml).
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yml"), nil
}

// AgentConfig holds the device-side agent's configuration.
type AgentConfig struct {
	ServerURL  string `yaml:"server_url,omitempty"`
	LicenseKey string `yaml:"license_key,omitempty"`
	// OfflineToken is the server-issued HMAC authorizing offline use,
	// as handed out at activation. It bootstraps the first offline
	// check; after that the snapshot cache carries the current token,
	// refreshed on every successful online sync.
	OfflineToken string `yaml:"offline_token,omitempty"`
	// Secret is the shared verification secret for offline token checks.
	Secret   string `yaml:"secret,omitempty"`
	DeviceID string `yaml:"device_id,omitempty"`
	// GracePeriodDays mirrors the server-side offline grace policy.
	GracePeriodDays int `yaml:"grace_period_days,omitempty"`
}

// Validate checks that the configuration has required fields for operation.
func (c *AgentConfig) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server_url is required")
	}
	if c.LicenseKey == "" {
		return errors.New("license_key is required")
	}
	return nil
}

// IsActivated returns true if the agent has been activated with a license.
func (c *AgentConfig) IsActivated() bool {
	return c.LicenseKey != "" && c.DeviceID != ""
}

// LoadAgent reads the configuration from the given path.
// If the file does not exist, an empty config is returned.
func LoadAgent(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &AgentConfig{}, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg AgentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return &cfg, nil
}

// LoadAgentDefault loads the configuration from the default path.
func LoadAgentDefault() (*AgentConfig, error) {
	path, err := DefaultConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadAgent(path)
}

// Save writes the configuration to the given path with owner-only permissions.
func (c *AgentConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}
