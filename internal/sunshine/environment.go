package sunshine

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Keys overridden in the child-process environment.
const (
	EnvPulseServer = "PULSE_SERVER"
	EnvDisplay     = "DISPLAY"
	EnvBwrap       = "FLATPAK_BWRAP"
	EnvLibraryPath = "LD_LIBRARY_PATH"
)

const helperName = "bwrap"

// Environment is the read-only environment handed to every subprocess.
type Environment struct {
	vars map[string]string
}

// BuildEnvironment copies base (in os.Environ form) and overrides the audio
// socket, display, sandbox helper path and library search path. The helper
// lives in the directory named by cfg.RuntimeDirEnv, which must be set.
func BuildEnvironment(base []string, cfg Config) (Environment, error) {
	cfg.defaults()

	vars := make(map[string]string, len(base)+4)
	for _, kv := range base {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		vars[k] = v
	}

	runtimeDir := vars[cfg.RuntimeDirEnv]
	if runtimeDir == "" {
		return Environment{}, fmt.Errorf("environment variable %s: %w", cfg.RuntimeDirEnv, ErrNotFound)
	}

	vars[EnvPulseServer] = cfg.PulseServer
	vars[EnvDisplay] = cfg.Display
	vars[EnvBwrap] = filepath.Join(runtimeDir, helperName)
	if prev := vars[EnvLibraryPath]; prev != "" {
		vars[EnvLibraryPath] = cfg.LibraryPath + ":" + prev
	} else {
		vars[EnvLibraryPath] = cfg.LibraryPath
	}

	return Environment{vars: vars}, nil
}

// Get returns the value of key, or "" if unset.
func (e Environment) Get(key string) string {
	return e.vars[key]
}

// List returns the environment as sorted KEY=VALUE pairs for exec.Cmd.Env.
func (e Environment) List() []string {
	out := make([]string, 0, len(e.vars))
	for k, v := range e.vars {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
