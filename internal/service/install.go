// Package service manages the systemd unit that runs decky-sunshine serve.
package service

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const unitFileName = "decky-sunshine.service"

const unitTemplate = `[Unit]
Description=Decky Sunshine - game streaming service controller
Documentation=https://github.com/nikicat/decky-sunshine
After=network.target

[Service]
Type=simple
Environment=%s=%s
StateDirectory=decky-sunshine
StateDirectoryMode=0755
ExecStart=%s
Restart=on-failure
RestartSec=5

[Install]
WantedBy=multi-user.target
`

// The controller launches privileged setup steps, so the unit is a system
// unit running as root.
var unitDir = "/etc/systemd/system"

// StateDir is where the service keeps its cookie. It matches StateDirectory=
// in the unit, since system units get no $HOME.
const StateDir = "/var/lib/decky-sunshine"

// Options configures service installation.
type Options struct {
	// ConfigPath, if set, adds --config <path> to ExecStart.
	ConfigPath string
	// RuntimeDirEnv names the variable carrying the runtime directory.
	RuntimeDirEnv string
	// RuntimeDir is exported to the service as RuntimeDirEnv.
	RuntimeDir string
	// CookieGroup, if set, is the group allowed to read the API cookie.
	CookieGroup string
	// Start the service immediately after enabling.
	Start bool
}

// UnitPath returns the full path where the unit file is (or would be) installed.
func UnitPath() string {
	return filepath.Join(unitDir, unitFileName)
}

// Unit renders the unit file for execStart and opts.
func Unit(execStart string, opts Options) (string, error) {
	if opts.RuntimeDirEnv == "" || opts.RuntimeDir == "" {
		return "", fmt.Errorf("runtime directory is required")
	}
	if strings.ContainsAny(opts.RuntimeDir, "\n\"") {
		return "", fmt.Errorf("invalid runtime directory %q", opts.RuntimeDir)
	}
	if strings.ContainsAny(opts.CookieGroup, " \n\"") {
		return "", fmt.Errorf("invalid cookie group %q", opts.CookieGroup)
	}
	if opts.ConfigPath != "" {
		execStart += " --config " + opts.ConfigPath
	}
	execStart += " --state-dir " + StateDir
	if opts.CookieGroup != "" {
		execStart += " --cookie-group " + opts.CookieGroup
	}
	return fmt.Sprintf(unitTemplate, opts.RuntimeDirEnv, opts.RuntimeDir, execStart), nil
}

// Install writes the systemd unit file, reloads systemd, and enables the service.
func Install(opts Options) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("find executable: %w", err)
	}
	self, err = filepath.EvalSymlinks(self)
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	unitContent, err := Unit(self+" serve", opts)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(unitDir, 0755); err != nil {
		return fmt.Errorf("create unit dir: %w", err)
	}

	unitPath := UnitPath()
	if err := os.WriteFile(unitPath, []byte(unitContent), 0644); err != nil {
		return fmt.Errorf("write unit file: %w", err)
	}
	fmt.Printf("Wrote unit file: %s\n", unitPath)

	if err := systemctlFunc("daemon-reload"); err != nil {
		return err
	}

	if err := systemctlFunc("enable", unitFileName); err != nil {
		return err
	}
	fmt.Printf("Enabled %s\n", unitFileName)

	if opts.Start {
		if err := systemctlFunc("start", unitFileName); err != nil {
			return err
		}
		fmt.Printf("Started %s\n", unitFileName)
	}

	return nil
}

// Uninstall stops and disables the service, removes the unit file, and reloads systemd.
func Uninstall() error {
	// May not be running.
	_ = systemctlFunc("stop", unitFileName)

	if err := systemctlFunc("disable", unitFileName); err != nil {
		return err
	}
	fmt.Printf("Disabled %s\n", unitFileName)

	unitPath := UnitPath()
	if err := os.Remove(unitPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove unit file: %w", err)
	}
	fmt.Printf("Removed %s\n", unitPath)

	return systemctlFunc("daemon-reload")
}

// Status runs systemctl status for the service, printing output directly.
func Status() error {
	// systemctl status exits non-zero when inactive; not an error for us.
	_ = statusFunc()
	return nil
}

// systemctlFunc is the function used to run systemctl commands.
// Replaced in tests to avoid requiring a real systemd.
var systemctlFunc = systemctlExec

var statusFunc = func() error {
	cmd := exec.Command("systemctl", "status", unitFileName)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func systemctlExec(args ...string) error {
	cmd := exec.Command("systemctl", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("systemctl %s: %w", args[0], err)
	}
	return nil
}
