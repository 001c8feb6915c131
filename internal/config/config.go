// Package config loads tasksync settings from ~/.tasksync/config.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fentz26/tasksync/internal/patch"
)

// Config holds relay and client settings.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`
}

// ServerConfig configures `tasksync serve`.
type ServerConfig struct {
	// Listen is the relay's HTTP listen address.
	Listen string `yaml:"listen"`
	// DB is the SQLite file holding snapshots, the change log and backups.
	DB string `yaml:"db"`
	// FlushInterval is how often changed projects are written to the DB.
	FlushInterval time.Duration `yaml:"flush_interval"`
	// BackupEvery takes a full backup each time a project's version is a multiple of it.
	BackupEvery int64 `yaml:"backup_every"`
	// BackupKeep is how many backups are kept per project.
	BackupKeep int `yaml:"backup_keep"`
}

// ClientConfig configures `tasksync board` and the other client commands.
type ClientConfig struct {
	API               string        `yaml:"api"`
	User              string        `yaml:"user"`
	Project           string        `yaml:"project,omitempty"`
	CacheDB           string        `yaml:"cache_db"`
	Debounce          time.Duration `yaml:"debounce"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	AckTimeout        time.Duration `yaml:"ack_timeout"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	// VersionPoll is how often the board checks that it has not missed
	// patches. Zero turns the check off.
	VersionPoll time.Duration `yaml:"version_poll"`
}

// Dir returns ~/.tasksync, or .tasksync when the home dir is unknown.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tasksync"
	}
	return filepath.Join(home, ".tasksync")
}

// DefaultPath is where the config file lives.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	dir := Dir()
	return &Config{
		Server: ServerConfig{
			Listen:        "127.0.0.1:7480",
			DB:            filepath.Join(dir, "relay.db"),
			FlushInterval: 2 * time.Second,
			BackupEvery:   50,
			BackupKeep:    50,
		},
		Client: ClientConfig{
			API:               "http://127.0.0.1:7480",
			CacheDB:           filepath.Join(dir, "cache.db"),
			Debounce:          600 * time.Millisecond,
			RequestTimeout:    5 * time.Second,
			AckTimeout:        5 * time.Second,
			ReconnectInterval: 2 * time.Second,
			VersionPoll:       15 * time.Second,
		},
	}
}

// LoadConfig loads configuration from a YAML file. A missing file yields
// the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveConfig saves configuration to a YAML file, creating parent directories if needed.
func SaveConfig(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if c.Server.FlushInterval < 100*time.Millisecond {
		return fmt.Errorf("server.flush_interval must be at least 100ms")
	}
	if c.Server.BackupEvery < 1 {
		return fmt.Errorf("server.backup_every must be at least 1")
	}
	if c.Server.BackupKeep < 1 {
		return fmt.Errorf("server.backup_keep must be at least 1")
	}
	if c.Client.API == "" {
		return fmt.Errorf("client.api is required")
	}
	if c.Client.Project != "" && !patch.ValidProjectName(c.Client.Project) {
		return fmt.Errorf("invalid client.project %q", c.Client.Project)
	}
	if c.Client.Debounce < 0 {
		return fmt.Errorf("client.debounce cannot be negative")
	}
	if c.Client.VersionPoll < 0 {
		return fmt.Errorf("client.version_poll cannot be negative")
	}
	if c.Client.RequestTimeout <= 0 || c.Client.AckTimeout <= 0 {
		return fmt.Errorf("client timeouts must be positive")
	}
	return nil
}
