package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestLoadFullConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte(`
state_dir: /tmp/state
listen: 127.0.0.1:9090
serve:
  log_level: debug
  log_format: json
  notifications: false
  ensure_dependencies: true
sunshine:
  base_url: https://127.0.0.1:47990
  runtime_dir_env: PLUGIN_RUNTIME
  app_id: dev.lizardbyte.app.Sunshine
  process_pattern: sunshine
  system_bwrap: /usr/bin/bwrap
  pulse_server: unix:/run/user/1000/pulse/native
  display: ":0"
  library_path: /usr/lib/
  timeout: 3s
  username: admin
  password: secret
monitor:
  interval: 10s
`), 0o644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.StateDir != "/tmp/state" {
		t.Errorf("StateDir = %q, want /tmp/state", cfg.StateDir)
	}
	if cfg.Listen != "127.0.0.1:9090" {
		t.Errorf("Listen = %q, want 127.0.0.1:9090", cfg.Listen)
	}
	if cfg.Serve.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.Serve.LogLevel)
	}
	if cfg.Serve.LogFormat != "json" {
		t.Errorf("LogFormat = %q, want json", cfg.Serve.LogFormat)
	}
	if cfg.Serve.Notifications == nil || *cfg.Serve.Notifications != false {
		t.Errorf("Notifications = %v, want ptr to false", cfg.Serve.Notifications)
	}
	if cfg.Serve.EnsureDependencies == nil || !*cfg.Serve.EnsureDependencies {
		t.Errorf("EnsureDependencies = %v, want ptr to true", cfg.Serve.EnsureDependencies)
	}
	if cfg.Sunshine.RuntimeDirEnv != "PLUGIN_RUNTIME" {
		t.Errorf("RuntimeDirEnv = %q", cfg.Sunshine.RuntimeDirEnv)
	}
	if cfg.Sunshine.Display != ":0" {
		t.Errorf("Display = %q, want :0", cfg.Sunshine.Display)
	}
	if time.Duration(cfg.Sunshine.Timeout) != 3*time.Second {
		t.Errorf("Timeout = %v, want 3s", time.Duration(cfg.Sunshine.Timeout))
	}
	if cfg.Sunshine.Username != "admin" || cfg.Sunshine.Password != "secret" {
		t.Errorf("credentials = %q/%q", cfg.Sunshine.Username, cfg.Sunshine.Password)
	}
	if time.Duration(cfg.Monitor.Interval) != 10*time.Second {
		t.Errorf("Interval = %v, want 10s", time.Duration(cfg.Monitor.Interval))
	}
}

func TestLoadPartialConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte(`
listen: 127.0.0.1:5555
serve:
  log_level: warn
`), 0o644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Listen != "127.0.0.1:5555" {
		t.Errorf("Listen = %q, want 127.0.0.1:5555", cfg.Listen)
	}
	if cfg.Serve.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.Serve.LogLevel)
	}
	// Unset fields should be zero values
	if cfg.StateDir != "" {
		t.Errorf("StateDir = %q, want empty", cfg.StateDir)
	}
	if cfg.Serve.Notifications != nil {
		t.Errorf("Notifications = %v, want nil", cfg.Serve.Notifications)
	}
	if cfg.Sunshine.Timeout != 0 {
		t.Errorf("Timeout = %v, want 0", cfg.Sunshine.Timeout)
	}
	if cfg.Sunshine.BaseURL != "" {
		t.Errorf("BaseURL = %q, want empty", cfg.Sunshine.BaseURL)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("Load: expected nil error for missing file, got %v", err)
	}
	if cfg.StateDir != "" || cfg.Listen != "" {
		t.Errorf("expected empty config, got %+v", cfg)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("listen: [unterminated\n"), 0o644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
	if !strings.Contains(err.Error(), "parsing config") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("monitor:\n  interval: often\n"), 0o644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDurationRoundTrip(t *testing.T) {
	in := Config{Monitor: MonitorConfig{Interval: Duration(90 * time.Second)}}
	data, err := yaml.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), "interval: 1m30s") {
		t.Errorf("marshalled config = %s", data)
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	if got := DefaultPath(); got != "/custom/config/decky-sunshine/config.yaml" {
		t.Errorf("DefaultPath = %q", got)
	}
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := &Config{
		Listen:   "127.0.0.1:47991",
		Sunshine: SunshineConfig{Timeout: Duration(15 * time.Second)},
	}

	written, err := Save(path, cfg)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !written {
		t.Fatal("expected file to be written")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected mode 0600, got %o", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Listen != cfg.Listen {
		t.Errorf("listen = %q, want %q", loaded.Listen, cfg.Listen)
	}
	if time.Duration(loaded.Sunshine.Timeout) != 15*time.Second {
		t.Errorf("timeout = %v, want 15s", time.Duration(loaded.Sunshine.Timeout))
	}

	// A second save must not overwrite.
	written, err = Save(path, &Config{Listen: "other"})
	if err != nil {
		t.Fatalf("second Save failed: %v", err)
	}
	if written {
		t.Error("expected existing file to be kept")
	}
	loaded, _ = Load(path)
	if loaded.Listen != cfg.Listen {
		t.Errorf("existing config was overwritten: listen = %q", loaded.Listen)
	}
}
