package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration with YAML unmarshalling for human-readable strings.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// ServeConfig holds serve-subcommand settings.
type ServeConfig struct {
	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"`
	Notifications *bool  `yaml:"notifications"`
	// EnsureDependencies installs missing dependencies when serve starts.
	EnsureDependencies *bool `yaml:"ensure_dependencies"`
}

// SunshineConfig holds settings for the controlled service.
type SunshineConfig struct {
	BaseURL        string   `yaml:"base_url"`
	RuntimeDirEnv  string   `yaml:"runtime_dir_env"`
	AppID          string   `yaml:"app_id"`
	ProcessPattern string   `yaml:"process_pattern"`
	SystemBwrap    string   `yaml:"system_bwrap"`
	PulseServer    string   `yaml:"pulse_server"`
	Display        string   `yaml:"display"`
	LibraryPath    string   `yaml:"library_path"`
	Timeout        Duration `yaml:"timeout"`
	// Username and Password seed the stored credential at startup.
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MonitorConfig holds state polling settings.
type MonitorConfig struct {
	Interval Duration `yaml:"interval"`
}

// Config is the top-level configuration file structure.
type Config struct {
	StateDir string         `yaml:"state_dir"`
	Listen   string         `yaml:"listen"`
	Serve    ServeConfig    `yaml:"serve"`
	Sunshine SunshineConfig `yaml:"sunshine"`
	Monitor  MonitorConfig  `yaml:"monitor"`
}

// DefaultPath returns the default config file path using XDG_CONFIG_HOME.
func DefaultPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "decky-sunshine", "config.yaml")
}

// Load reads and parses a YAML config file. If the file does not exist,
// it returns an empty Config and a nil error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes cfg as YAML to path, creating parent directories. An existing
// file is left untouched and reported via the returned bool.
func Save(path string, cfg *Config) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return false, fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return false, fmt.Errorf("writing config %s: %w", path, err)
	}
	return true, nil
}
