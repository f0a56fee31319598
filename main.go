// decky-sunshine controls the Sunshine game streaming service on behalf of
// the Decky plugin and exposes it through a local API and CLI.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nikicat/decky-sunshine/internal/api"
	"github.com/nikicat/decky-sunshine/internal/cli"
	"github.com/nikicat/decky-sunshine/internal/config"
	"github.com/nikicat/decky-sunshine/internal/logging"
	"github.com/nikicat/decky-sunshine/internal/monitor"
	"github.com/nikicat/decky-sunshine/internal/notification"
	"github.com/nikicat/decky-sunshine/internal/service"
	"github.com/nikicat/decky-sunshine/internal/sunshine"
)

const defaultInterval = 5 * time.Second

var progName = filepath.Base(os.Args[0])

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "status", "start", "stop", "deps", "pin", "credentials", "set-user":
		runCLI(os.Args[1], os.Args[2:])
	case "service":
		runService(os.Args[2:])
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: %s <command> [options]

Commands:
  serve         Run the controller and local API
  status        Show the streaming service state
  start         Start the streaming service
  stop          Stop the streaming service
  deps          Install the sandbox helper and service package if missing
  pin           Submit a pairing PIN
  credentials   Store the web UI credentials used by the controller
  set-user      Change the web UI credentials
  service       Manage the systemd service

Run '%s <command> -h' for command-specific help.
`, progName, progName)
}

// commonFlags are shared by every subcommand that talks to the API.
type commonFlags struct {
	configPath *string
	stateDir   *string
	serverAddr *string
	jsonOutput *bool
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		configPath: fs.String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/decky-sunshine/config.yaml)"),
		stateDir:   fs.String("state-dir", "", "State directory (default: $XDG_STATE_HOME/decky-sunshine)"),
		serverAddr: fs.String("server", api.DefaultAddr, "API server address"),
		jsonOutput: fs.Bool("json", false, "Output as JSON"),
	}
}

func runCLI(cmd string, args []string) {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	common := addCommonFlags(fs)
	var username, password, raw *string
	var change cli.UserChange
	switch cmd {
	case "credentials":
		username = fs.String("username", "", "Web UI username")
		password = fs.String("password", "", "Web UI password")
		raw = fs.String("raw", "", "Verbatim Authorization header value")
	case "set-user":
		fs.StringVar(&change.NewUsername, "new-username", "", "New web UI username")
		fs.StringVar(&change.NewPassword, "new-password", "", "New web UI password")
		fs.StringVar(&change.ConfirmNewPassword, "confirm-new-password", "", "Confirmation of the new password (default: --new-password)")
		fs.StringVar(&change.CurrentUsername, "current-username", "", "Current web UI username")
		fs.StringVar(&change.CurrentPassword, "current-password", "", "Current web UI password")
	}
	fs.Parse(args)

	cfg, err := loadConfig(*common.configPath)
	if err != nil {
		fatal(err)
	}
	set := setFlags(fs)
	if !set["state-dir"] && cfg.StateDir != "" {
		*common.stateDir = cfg.StateDir
	}
	if !set["server"] && cfg.Listen != "" {
		*common.serverAddr = cfg.Listen
	}

	stateDir, err := clientStateDir(*common.stateDir)
	if err != nil {
		fatal(err)
	}

	auth, err := api.LoadAuth(stateDir)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "error: %s is not running (no cookie file found)\n", progName)
			fmt.Fprintf(os.Stderr, "Start the service first with: %s serve\n", progName)
		} else {
			fmt.Fprintf(os.Stderr, "error loading auth: %v\n", err)
		}
		os.Exit(1)
	}

	client := cli.NewClient(*common.serverAddr, auth.Token())
	formatter := cli.NewFormatter(os.Stdout, *common.jsonOutput)

	switch cmd {
	case "status":
		status, err := client.Status()
		if err != nil {
			fatal(err)
		}
		formatter.FormatStatus(status)

	case "start":
		if err := client.Start(); err != nil {
			fatal(err)
		}
		formatter.FormatAction("start", "started")

	case "stop":
		if err := client.Stop(); err != nil {
			fatal(err)
		}
		formatter.FormatAction("stop", "stopped")

	case "deps":
		resp, err := client.EnsureDependencies()
		if err != nil {
			fatal(err)
		}
		formatter.FormatDependencies(resp)

	case "pin":
		if fs.NArg() < 1 {
			fmt.Fprintf(os.Stderr, "usage: %s pin <PIN>\n", progName)
			os.Exit(1)
		}
		accepted, err := client.SendPin(fs.Arg(0))
		if err != nil {
			fatal(err)
		}
		if !accepted {
			formatter.FormatAction("pin", "rejected")
			os.Exit(1)
		}
		formatter.FormatAction("pin", "accepted")

	case "credentials":
		var resp *cli.CredentialsResponse
		if *raw != "" {
			resp, err = client.SetRawCredentials(*raw)
		} else {
			resp, err = client.SetCredentials(*username, *password)
		}
		if err != nil {
			fatal(err)
		}
		formatter.FormatCredentials(resp)

	case "set-user":
		if change.NewUsername == "" || change.NewPassword == "" {
			fmt.Fprintf(os.Stderr, "usage: %s set-user --new-username <name> --new-password <password> [--current-username <name> --current-password <password>]\n", progName)
			os.Exit(1)
		}
		if change.ConfirmNewPassword == "" {
			change.ConfirmNewPassword = change.NewPassword
		}
		if err := client.SetUser(change); err != nil {
			fatal(err)
		}
		formatter.FormatAction("set-user", "changed")
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/decky-sunshine/config.yaml)")
	logLevel := fs.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat := fs.String("log-format", "text", "Log format: text (colored) or json")
	listenAddr := fs.String("listen", api.DefaultAddr, "HTTP API listen address")
	stateDirFlag := fs.String("state-dir", "", "State directory (default: $XDG_STATE_HOME/decky-sunshine)")
	notifications := fs.Bool("notifications", true, "Enable desktop notifications for service state changes")
	ensureDeps := fs.Bool("ensure-deps", false, "Install missing dependencies on startup")
	interval := fs.Duration("interval", defaultInterval, "Service state polling interval")
	cookieGroup := fs.String("cookie-group", "", "Group allowed to read the API cookie (default: owner only)")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	set := setFlags(fs)
	if !set["state-dir"] && cfg.StateDir != "" {
		*stateDirFlag = cfg.StateDir
	}
	if !set["listen"] && cfg.Listen != "" {
		*listenAddr = cfg.Listen
	}
	if !set["log-level"] && cfg.Serve.LogLevel != "" {
		*logLevel = cfg.Serve.LogLevel
	}
	if !set["log-format"] && cfg.Serve.LogFormat != "" {
		*logFormat = cfg.Serve.LogFormat
	}
	if !set["notifications"] && cfg.Serve.Notifications != nil {
		*notifications = *cfg.Serve.Notifications
	}
	if !set["ensure-deps"] && cfg.Serve.EnsureDependencies != nil {
		*ensureDeps = *cfg.Serve.EnsureDependencies
	}
	if !set["interval"] && cfg.Monitor.Interval != 0 {
		*interval = time.Duration(cfg.Monitor.Interval)
	}

	logger := logging.Setup(*logLevel, *logFormat)

	stateDir, err := resolveStateDir(*stateDirFlag)
	if err != nil {
		fatal(err)
	}

	ctrl, err := sunshine.New(controllerConfig(cfg.Sunshine), logger.With("component", "sunshine"))
	if err != nil {
		fatal(fmt.Errorf("create controller: %w", err))
	}
	if ctrl.SetAuthHeader(cfg.Sunshine.Username, cfg.Sunshine.Password) != "" {
		slog.Debug("seeded web credentials from config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if *ensureDeps {
		if err := ctrl.EnsureDependencies(ctx); err != nil {
			slog.Error("failed to ensure dependencies", "error", err)
		}
	}

	mon := monitor.New(ctrl, *interval)

	if *notifications {
		notifier, err := notification.NewDBusNotifier()
		if err != nil {
			slog.Warn("failed to create desktop notifier, notifications disabled", "error", err)
		} else {
			defer notifier.Stop()
			notifHandler := notification.NewHandler(notifier, ctrl)
			mon.Subscribe(notifHandler)
			go notifHandler.Run(ctx, notifier.Actions())
			slog.Debug("desktop notifications enabled")
		}
	}

	auth, err := api.NewAuth(stateDir)
	if err != nil {
		fatal(fmt.Errorf("create auth: %w", err))
	}
	if *cookieGroup != "" {
		gid, err := lookupGID(*cookieGroup)
		if err != nil {
			fatal(err)
		}
		if err := auth.ShareWithGroup(gid); err != nil {
			fatal(fmt.Errorf("share cookie: %w", err))
		}
		slog.Debug("cookie shared with group", "group", *cookieGroup, "path", auth.FilePath())
	}

	apiServer, err := api.NewServer(*listenAddr, ctrl, mon, auth, logging.NewAudit(logger))
	if err != nil {
		fatal(fmt.Errorf("create API server: %w", err))
	}
	if err := apiServer.Start(); err != nil {
		fatal(fmt.Errorf("start API server: %w", err))
	}
	slog.Info("API server started",
		"url", "http://"+apiServer.Addr(),
		"cookie_file", apiServer.CookieFilePath())

	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		apiServer.Shutdown(shutdownCtx)
		// The streaming service outlives the controller; only a pending
		// launcher is torn down.
		ctrl.KillShell()
	}()

	if err := mon.Run(ctx); err != nil && err != context.Canceled {
		slog.Error("monitor stopped", "error", err)
	}
}

// controllerConfig maps the config file section onto controller settings.
// Zero values fall back to the controller's defaults.
func controllerConfig(c config.SunshineConfig) sunshine.Config {
	return sunshine.Config{
		BaseURL:        c.BaseURL,
		RuntimeDirEnv:  c.RuntimeDirEnv,
		AppID:          c.AppID,
		ProcessPattern: c.ProcessPattern,
		SystemBwrap:    c.SystemBwrap,
		PulseServer:    c.PulseServer,
		Display:        c.Display,
		LibraryPath:    c.LibraryPath,
		Timeout:        time.Duration(c.Timeout),
	}
}

// runService handles the "service" subcommand group (install/uninstall/status).
func runService(args []string) {
	if len(args) == 0 {
		printServiceUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "install":
		runServiceInstall(args[1:])
	case "uninstall":
		if err := service.Uninstall(); err != nil {
			fatal(err)
		}
	case "status":
		service.Status()
	case "-h", "--help", "help":
		printServiceUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown service command: %s\n\n", args[0])
		printServiceUsage()
		os.Exit(1)
	}
}

func runServiceInstall(args []string) {
	fs := flag.NewFlagSet("service install", flag.ExitOnError)
	start := fs.Bool("start", false, "Start the service immediately after installing")
	configPath := fs.String("config", "", "Config file path to embed in the unit file")
	writeConfig := fs.Bool("write-config", false, "Write a default config file at --config if none exists")
	runtimeDir := fs.String("runtime-dir", os.Getenv(sunshine.DefaultRuntimeDirEnv), "Plugin runtime directory (default: $"+sunshine.DefaultRuntimeDirEnv+")")
	cookieGroup := fs.String("cookie-group", sudoGroup(), "Group allowed to read the API cookie (default: primary group of $SUDO_USER)")
	fs.Parse(args)

	if *writeConfig {
		if *configPath == "" {
			fatal(fmt.Errorf("--write-config requires --config"))
		}
		written, err := config.Save(*configPath, defaultConfig())
		if err != nil {
			fatal(err)
		}
		if written {
			fmt.Printf("Wrote config file: %s\n", *configPath)
		}
	}

	if err := service.Install(service.Options{
		ConfigPath:    *configPath,
		RuntimeDirEnv: sunshine.DefaultRuntimeDirEnv,
		RuntimeDir:    *runtimeDir,
		CookieGroup:   *cookieGroup,
		Start:         *start,
	}); err != nil {
		fatal(err)
	}
}

// defaultConfig returns a config populated with the built-in defaults, used
// as a starting point for users editing the file.
func defaultConfig() *config.Config {
	notify := true
	ensure := false
	return &config.Config{
		Listen: api.DefaultAddr,
		Serve: config.ServeConfig{
			LogLevel:           "info",
			LogFormat:          "text",
			Notifications:      &notify,
			EnsureDependencies: &ensure,
		},
		Sunshine: config.SunshineConfig{
			BaseURL:        sunshine.DefaultBaseURL,
			RuntimeDirEnv:  sunshine.DefaultRuntimeDirEnv,
			AppID:          sunshine.DefaultAppID,
			ProcessPattern: sunshine.DefaultProcessPattern,
			SystemBwrap:    sunshine.DefaultSystemBwrap,
			PulseServer:    sunshine.DefaultPulseServer,
			Display:        sunshine.DefaultDisplay,
			LibraryPath:    sunshine.DefaultLibraryPath,
			Timeout:        config.Duration(sunshine.DefaultTimeout),
		},
		Monitor: config.MonitorConfig{Interval: config.Duration(defaultInterval)},
	}
}

func printServiceUsage() {
	fmt.Fprintf(os.Stderr, `Usage: %s service <command> [options]

Commands:
  install       Install and enable the systemd service
  uninstall     Stop, disable, and remove the systemd service
  status        Show the service status

Install options:
  --start         Start the service immediately after installing
  --config        Config file path to embed in the unit file's ExecStart
  --write-config  Write a default config file at --config if none exists
  --runtime-dir   Plugin runtime directory exported to the service
  --cookie-group  Group allowed to read the API cookie (default: group of $SUDO_USER)
`, progName)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func resolveStateDir(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	return getStateDir()
}

// clientStateDir picks the cookie directory for CLI commands: the explicit
// value, else the per-user directory, else the system service's directory
// when only that one holds a cookie.
func clientStateDir(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	userDir, err := getStateDir()
	if err == nil && fileExists(filepath.Join(userDir, api.CookieFileName)) {
		return userDir, nil
	}
	if fileExists(filepath.Join(service.StateDir, api.CookieFileName)) {
		return service.StateDir, nil
	}
	return userDir, err
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// lookupGID resolves a group name or numeric id.
func lookupGID(group string) (int, error) {
	g, err := user.LookupGroup(group)
	if err != nil {
		if gid, convErr := strconv.Atoi(group); convErr == nil {
			return gid, nil
		}
		return 0, fmt.Errorf("lookup group %q: %w", group, err)
	}
	gid, err := strconv.Atoi(g.Gid)
	if err != nil {
		return 0, fmt.Errorf("group %q has non-numeric gid %q", group, g.Gid)
	}
	return gid, nil
}

// sudoGroup returns the primary group name of the user who invoked sudo.
func sudoGroup() string {
	name := os.Getenv("SUDO_USER")
	if name == "" {
		return ""
	}
	u, err := user.Lookup(name)
	if err != nil {
		return ""
	}
	g, err := user.LookupGroupId(u.Gid)
	if err != nil {
		return ""
	}
	return g.Name
}

func getStateDir() (string, error) {
	// Set by systemd for units with StateDirectory=.
	if dir := os.Getenv("STATE_DIRECTORY"); dir != "" {
		return strings.SplitN(dir, ":", 2)[0], nil
	}
	// Use XDG_STATE_HOME if set, otherwise ~/.local/state
	stateHome := os.Getenv("XDG_STATE_HOME")
	if stateHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home dir: %w", err)
		}
		stateHome = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(stateHome, "decky-sunshine"), nil
}

// loadConfig loads a config file. An explicit path that doesn't exist is an error.
// A missing default path is silently ignored (returns empty config).
func loadConfig(explicitPath string) (*config.Config, error) {
	if explicitPath != "" {
		if _, statErr := os.Stat(explicitPath); statErr != nil {
			return nil, fmt.Errorf("config file not found: %s", explicitPath)
		}
		cfg, err := config.Load(explicitPath)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", explicitPath, err)
		}
		return cfg, nil
	}

	defaultPath := config.DefaultPath()
	if defaultPath == "" {
		return &config.Config{}, nil
	}
	cfg, err := config.Load(defaultPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", defaultPath, err)
	}
	return cfg, nil
}

// setFlags returns the set of flag names that were explicitly provided on the command line.
func setFlags(fs *flag.FlagSet) map[string]bool {
	m := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { m[f.Name] = true })
	return m
}
