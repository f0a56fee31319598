// Package sunshine controls a local Sunshine streaming service: it installs
// the flatpak and a private sandbox helper, starts and stops the service as
// a privileged process group, and talks to the service's HTTPS control API
// with a single shared credential.
package sunshine

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nikicat/decky-sunshine/internal/procutil"
)

// Config holds controller settings. Zero fields take the defaults below.
type Config struct {
	// BaseURL is the origin of the service's control API.
	BaseURL string
	// RuntimeDirEnv names the variable holding the plugin's writable runtime directory.
	RuntimeDirEnv string
	// AppID is the flatpak application id of the service.
	AppID string
	// ProcessPattern is matched against whole process names (not command
	// lines) to find the service.
	ProcessPattern string
	// SystemBwrap is the system sandbox helper copied into the runtime directory.
	SystemBwrap string
	PulseServer string
	Display     string
	// LibraryPath is prepended to LD_LIBRARY_PATH.
	LibraryPath string
	// Timeout bounds each control API request.
	Timeout time.Duration
}

const (
	DefaultBaseURL        = "https://127.0.0.1:47990"
	DefaultRuntimeDirEnv  = "DECKY_PLUGIN_RUNTIME_DIR"
	DefaultAppID          = "dev.lizardbyte.app.Sunshine"
	DefaultProcessPattern = "sunshine"
	DefaultSystemBwrap    = "/usr/bin/bwrap"
	DefaultPulseServer    = "unix:/run/user/1000/pulse/native"
	DefaultDisplay        = ":0"
	DefaultLibraryPath    = "/usr/lib/"
	DefaultTimeout        = 10 * time.Second
)

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.RuntimeDirEnv == "" {
		c.RuntimeDirEnv = DefaultRuntimeDirEnv
	}
	if c.AppID == "" {
		c.AppID = DefaultAppID
	}
	if c.ProcessPattern == "" {
		c.ProcessPattern = DefaultProcessPattern
	}
	if c.SystemBwrap == "" {
		c.SystemBwrap = DefaultSystemBwrap
	}
	if c.PulseServer == "" {
		c.PulseServer = DefaultPulseServer
	}
	if c.Display == "" {
		c.Display = DefaultDisplay
	}
	if c.LibraryPath == "" {
		c.LibraryPath = DefaultLibraryPath
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
}

// Controller launches, stops and authenticates against the service.
// It is safe for concurrent use.
type Controller struct {
	cfg    Config
	env    Environment
	exec   Executor
	http   *http.Client
	logger *slog.Logger

	// mu serializes Start, Stop and EnsureDependencies.
	mu    sync.Mutex
	shell Process

	freshInstall atomic.Bool

	authMu     sync.RWMutex
	authHeader string
}

// Replaced in tests.
var (
	terminateFunc      = procutil.Terminate
	terminateGroupFunc = procutil.TerminateGroup
	isAliveFunc        = procutil.IsAlive
	exeFunc            = procutil.ReadExe
	selfPID            = os.Getpid
	selfExe            = os.Executable

	stopGrace = 2 * time.Second
	stopPoll  = 100 * time.Millisecond
)

// New creates a controller for the current process environment that runs
// real subprocesses.
func New(cfg Config, logger *slog.Logger) (*Controller, error) {
	return NewWithExecutor(cfg, os.Environ(), ExecExecutor{}, logger)
}

// NewWithExecutor creates a controller with an explicit base environment and
// command executor. It fails if the runtime directory variable is missing.
func NewWithExecutor(cfg Config, environ []string, executor Executor, logger *slog.Logger) (*Controller, error) {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	env, err := BuildEnvironment(environ, cfg)
	if err != nil {
		return nil, err
	}

	logger.Warn("TLS certificate verification is disabled for the service control API", "url", cfg.BaseURL)
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // self-signed loopback certificate

	return &Controller{
		cfg:    cfg,
		env:    env,
		exec:   executor,
		http:   &http.Client{Transport: transport, Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

// HelperPath returns the path of the controller's own sandbox helper copy.
func (c *Controller) HelperPath() string {
	return c.env.Get(EnvBwrap)
}

// PID looks up the service process by exact process name and returns the
// first match. The controller's own process, and any other process running
// the controller's executable, is never reported.
func (c *Controller) PID(ctx context.Context) (int, error) {
	out, err := c.exec.Output(ctx, Command{
		Name: "pgrep",
		Args: []string{"-x", c.cfg.ProcessPattern},
		Env:  c.env.List(),
	})
	if err != nil && len(out) == 0 {
		return 0, fmt.Errorf("lookup %q: %w", c.cfg.ProcessPattern, ErrNotFound)
	}

	pids, err := procutil.ParsePIDs(out)
	if err != nil {
		return 0, fmt.Errorf("lookup %q: %w: %w", c.cfg.ProcessPattern, ErrNotFound, err)
	}

	self := selfPID()
	exe, _ := selfExe()
	matches := pids[:0]
	for _, pid := range pids {
		if pid == self {
			continue
		}
		if exe != "" && exeFunc(pid) == exe {
			c.logger.Debug("ignoring controller process", "pid", pid)
			continue
		}
		matches = append(matches, pid)
	}
	if len(matches) == 0 {
		return 0, fmt.Errorf("lookup %q: %w", c.cfg.ProcessPattern, ErrNotFound)
	}
	if len(matches) > 1 {
		c.logger.Debug("multiple service processes matched, using the first", "pids", matches)
	}
	return matches[0], nil
}

// IsRunning reports whether a service process is found.
func (c *Controller) IsRunning(ctx context.Context) bool {
	_, err := c.PID(ctx)
	return err == nil
}

// Start prepares the sandbox helper and launches the service as a detached
// privileged process group. It does nothing if the service is already
// running. The launch is not confirmed: a nil error means the launcher
// process was started.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.IsRunning(ctx) {
		c.logger.Debug("service already running, not starting")
		return nil
	}

	helper := c.HelperPath()
	steps := []Command{
		{Name: "chown", Args: []string{"0:0", helper}},
		{Name: "chmod", Args: []string{"u+s", helper}},
	}
	for _, step := range steps {
		step.Env = c.env.List()
		step.Privileged = true
		step.Detach = true
		if err := c.runSetupStep(ctx, step); err != nil {
			c.logger.Info("preparing sandbox helper failed", "command", step.String(), "error", err)
			return fmt.Errorf("prepare sandbox helper: %w", err)
		}
	}

	out := newLogWriter(c.logger, "sunshine")
	launch := Command{
		Name:       "sh",
		Args:       []string{"-c", "flatpak run --socket=wayland " + c.cfg.AppID},
		Env:        c.env.List(),
		Privileged: true,
		Detach:     true,
		Stdout:     out,
	}
	proc, err := c.exec.Start(launch)
	if err != nil {
		c.logger.Info("starting service failed", "error", err)
		return fmt.Errorf("launch service: %w", err)
	}
	c.logger.Info("service launched", "pid", proc.Pid(), "app_id", c.cfg.AppID)

	go func() {
		err := proc.Wait()
		out.Flush()
		c.logger.Info("service launcher exited", "pid", proc.Pid(), "error", err)
	}()
	return nil
}

// runSetupStep runs one permission-fixing command in its own process group,
// holding it as the shell handle until it exits. If ctx ends first the handle
// is kept so Stop can terminate the group.
func (c *Controller) runSetupStep(ctx context.Context, cmd Command) error {
	proc, err := c.exec.Start(cmd)
	if err != nil {
		c.shell = nil
		return err
	}
	c.shell = proc

	done := make(chan error, 1)
	go func() { done <- proc.Wait() }()

	select {
	case err := <-done:
		c.shell = nil
		if err != nil {
			return fmt.Errorf("%s: %w", cmd.Name, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// KillShell terminates the outstanding setup process group, if any.
func (c *Controller) KillShell() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.killShell()
}

func (c *Controller) killShell() {
	if c.shell == nil {
		return
	}
	if err := terminateGroupFunc(c.shell.Pid()); err != nil {
		c.logger.Debug("terminate setup process group", "pid", c.shell.Pid(), "error", err)
	}
	c.shell = nil
}

// Stop terminates any outstanding setup process group and the service
// process. Signal failures are logged, not returned; a service that is not
// running is not an error.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.killShell()

	pid, err := c.PID(ctx)
	if err != nil {
		c.logger.Debug("service not running, nothing to stop")
		return nil
	}
	comm := procutil.ReadComm(int32(pid))
	if err := terminateFunc(pid); err != nil {
		c.logger.Debug("terminate service", "pid", pid, "comm", comm, "error", err)
		return nil
	}
	if !c.waitExit(ctx, pid) {
		c.logger.Info("service still running after SIGTERM", "pid", pid, "comm", comm)
		return nil
	}
	c.logger.Info("service terminated", "pid", pid, "comm", comm)
	return nil
}

// waitExit polls until pid is gone, stopGrace elapses or ctx ends.
func (c *Controller) waitExit(ctx context.Context, pid int) bool {
	deadline := time.NewTimer(stopGrace)
	defer deadline.Stop()
	tick := time.NewTicker(stopPoll)
	defer tick.Stop()

	for isAliveFunc(pid) {
		select {
		case <-tick.C:
		case <-deadline.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
	return true
}
