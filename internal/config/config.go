// Package config loads the YAML configuration file
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alvarorichard/anidl/internal/hosts"
)

// DefaultSite is searched when neither the config nor the caller names one
const DefaultSite = "witanime.cyou"

// Config holds all anidl configuration.
type Config struct {
	DownloadDir   string `yaml:"download_dir"`
	DataDir       string `yaml:"data_dir"`
	DefaultSite   string `yaml:"default_site"`
	PreferredHost string `yaml:"preferred_host"`
	Headful       bool   `yaml:"headful"`
	UserAgent     string `yaml:"user_agent"`
	Debug         bool   `yaml:"debug"`

	Timeouts TimeoutConfig `yaml:"timeouts"`
}

// TimeoutConfig bounds every wait the extractor and the host adapters perform.
type TimeoutConfig struct {
	Navigation    time.Duration `yaml:"navigation"`
	Settle        time.Duration `yaml:"settle"`
	ScriptTabWait time.Duration `yaml:"script_tab_wait"`
	CountdownMax  time.Duration `yaml:"countdown_max"`
	HTTP          time.Duration `yaml:"http"`
}

func (c *Config) defaults() {
	if c.DownloadDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		c.DownloadDir = filepath.Join(home, "Downloads", "anidl")
	}
	if c.DataDir == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			dir = "."
		}
		c.DataDir = filepath.Join(dir, "anidl")
	}
	if c.DefaultSite == "" {
		c.DefaultSite = DefaultSite
	}
	if c.Timeouts.Navigation <= 0 {
		c.Timeouts.Navigation = 30 * time.Second
	}
	if c.Timeouts.Settle <= 0 {
		c.Timeouts.Settle = 5 * time.Second
	}
	if c.Timeouts.ScriptTabWait <= 0 {
		c.Timeouts.ScriptTabWait = 3 * time.Second
	}
	if c.Timeouts.CountdownMax <= 0 {
		c.Timeouts.CountdownMax = 60 * time.Second
	}
	if c.Timeouts.HTTP <= 0 {
		c.Timeouts.HTTP = 30 * time.Second
	}
}

// Validate rejects values the rest of the program cannot act on.
func (c *Config) Validate() error {
	if c.PreferredHost != "" {
		if _, err := hosts.ParseKind(c.PreferredHost); err != nil {
			return fmt.Errorf("preferred_host: %w", err)
		}
	}
	return nil
}

// Preferred returns the configured preferred host family, if any.
func (c *Config) Preferred() (hosts.Kind, bool) {
	if c.PreferredHost == "" {
		return 0, false
	}
	k, err := hosts.ParseKind(c.PreferredHost)
	if err != nil {
		return 0, false
	}
	return k, true
}

// PatternDBPath is where learned selectors and catalog entries are stored.
func (c *Config) PatternDBPath() string {
	return filepath.Join(c.DataDir, "anidl.db")
}

// DefaultPath returns $XDG_CONFIG_HOME/anidl/config.yaml or its platform equivalent.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "anidl", "config.yaml")
}

// Default returns a config with every field set to its default.
func Default() *Config {
	cfg := &Config{}
	cfg.defaults()
	return cfg
}

// Load reads a YAML config file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
