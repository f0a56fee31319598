package sunshine

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
)

// EnsureDependencies makes sure the private sandbox helper copy and the
// service flatpak are installed, installing whichever is missing. The
// package install is not attempted if the helper cannot be obtained.
func (c *Controller) EnsureDependencies(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	helper := c.HelperPath()
	if c.HelperInstalled() {
		c.logger.Info("sandbox helper copy already present", "path", helper)
	} else {
		c.logger.Info("sandbox helper copy missing, obtaining it", "path", helper, "source", c.cfg.SystemBwrap)
		if err := c.installHelper(ctx); err != nil {
			c.logger.Info("sandbox helper copy could not be obtained", "error", err)
			return fmt.Errorf("obtain sandbox helper: %w", err)
		}
		c.logger.Info("sandbox helper copy obtained", "path", helper)
	}

	if c.PackageInstalled(ctx) {
		c.logger.Info("service already installed", "app_id", c.cfg.AppID)
		return nil
	}
	c.logger.Info("service not installed, installing", "app_id", c.cfg.AppID)
	if err := c.installPackage(ctx); err != nil {
		c.logger.Info("service could not be installed", "error", err)
		return fmt.Errorf("install service: %w", err)
	}
	c.logger.Info("service installed", "app_id", c.cfg.AppID)
	c.freshInstall.Store(true)
	return nil
}

// FreshInstallation reports whether EnsureDependencies installed the
// service package during this process's lifetime.
func (c *Controller) FreshInstallation() bool {
	return c.freshInstall.Load()
}

// HelperInstalled reports whether the sandbox helper copy is a regular file.
func (c *Controller) HelperInstalled() bool {
	fi, err := os.Stat(c.HelperPath())
	return err == nil && fi.Mode().IsRegular()
}

// PackageInstalled reports whether the service flatpak is installed
// system-wide. Any lookup failure counts as not installed.
func (c *Controller) PackageInstalled(ctx context.Context) bool {
	out, err := c.exec.Output(ctx, Command{
		Name: "flatpak",
		Args: []string{"list", "--system"},
		Env:  c.env.List(),
	})
	if err != nil {
		c.logger.Debug("flatpak list failed", "error", err)
		return false
	}
	name := appName(c.cfg.AppID)
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if strings.Contains(sc.Text(), name) {
			return true
		}
	}
	return false
}

func (c *Controller) installHelper(ctx context.Context) error {
	return c.exec.Run(ctx, Command{
		Name: "cp",
		Args: []string{c.cfg.SystemBwrap, c.HelperPath()},
		Env:  c.env.List(),
	})
}

func (c *Controller) installPackage(ctx context.Context) error {
	return c.exec.Run(ctx, Command{
		Name: "flatpak",
		Args: []string{"install", "--system", "-y", c.cfg.AppID},
		Env:  c.env.List(),
	})
}

// appName returns the last dotted component of a flatpak id,
// e.g. "Sunshine" for "dev.lizardbyte.app.Sunshine".
func appName(appID string) string {
	if i := strings.LastIndexByte(appID, '.'); i >= 0 {
		return appID[i+1:]
	}
	return appID
}
