package service

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func mockSystemctl(t *testing.T, failOn string) *[]string {
	t.Helper()
	orig := systemctlFunc
	var calls []string
	systemctlFunc = func(args ...string) error {
		call := strings.Join(args, " ")
		calls = append(calls, call)
		if failOn != "" && strings.HasPrefix(call, failOn) {
			return errors.New("systemctl failed")
		}
		return nil
	}
	t.Cleanup(func() { systemctlFunc = orig })
	return &calls
}

func mockUnitDir(t *testing.T) string {
	t.Helper()
	orig := unitDir
	unitDir = filepath.Join(t.TempDir(), "system")
	t.Cleanup(func() { unitDir = orig })
	return unitDir
}

func testOptions() Options {
	return Options{
		RuntimeDirEnv: "DECKY_PLUGIN_RUNTIME_DIR",
		RuntimeDir:    "/home/deck/homebrew/data/decky-sunshine",
	}
}

func TestUnit(t *testing.T) {
	opts := testOptions()
	opts.ConfigPath = "/etc/decky-sunshine.yaml"

	unit, err := Unit("/usr/bin/decky-sunshine serve", opts)
	if err != nil {
		t.Fatalf("Unit failed: %v", err)
	}
	for _, want := range []string{
		"Environment=DECKY_PLUGIN_RUNTIME_DIR=/home/deck/homebrew/data/decky-sunshine\n",
		"StateDirectory=decky-sunshine\n",
		"ExecStart=/usr/bin/decky-sunshine serve --config /etc/decky-sunshine.yaml --state-dir /var/lib/decky-sunshine\n",
		"WantedBy=multi-user.target",
	} {
		if !strings.Contains(unit, want) {
			t.Errorf("unit missing %q:\n%s", want, unit)
		}
	}
}

func TestUnit_PinsStateDir(t *testing.T) {
	opts := testOptions()
	opts.CookieGroup = "deck"

	unit, err := Unit("/usr/bin/decky-sunshine serve", opts)
	if err != nil {
		t.Fatalf("Unit failed: %v", err)
	}
	if !strings.Contains(unit, "StateDirectory="+filepath.Base(StateDir)+"\n") {
		t.Errorf("unit should let systemd create %s:\n%s", StateDir, unit)
	}
	want := "ExecStart=/usr/bin/decky-sunshine serve --state-dir " + StateDir + " --cookie-group deck\n"
	if !strings.Contains(unit, want) {
		t.Errorf("unit missing %q:\n%s", want, unit)
	}

	opts.CookieGroup = "deck users"
	if _, err := Unit("x serve", opts); err == nil {
		t.Error("expected error for cookie group with space")
	}
}

func TestUnit_RequiresRuntimeDir(t *testing.T) {
	if _, err := Unit("x serve", Options{RuntimeDirEnv: "DECKY_PLUGIN_RUNTIME_DIR"}); err == nil {
		t.Error("expected error without runtime dir")
	}
	opts := testOptions()
	opts.RuntimeDir = "/bad\ndir"
	if _, err := Unit("x serve", opts); err == nil {
		t.Error("expected error for runtime dir with newline")
	}
}

func TestInstall(t *testing.T) {
	dir := mockUnitDir(t)
	calls := mockSystemctl(t, "")

	opts := testOptions()
	opts.Start = true
	if err := Install(opts); err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, unitFileName))
	if err != nil {
		t.Fatalf("unit file not written: %v", err)
	}
	if !strings.Contains(string(data), " serve\n") {
		t.Errorf("expected serve in ExecStart:\n%s", data)
	}

	want := []string{"daemon-reload", "enable " + unitFileName, "start " + unitFileName}
	if strings.Join(*calls, ",") != strings.Join(want, ",") {
		t.Errorf("systemctl calls = %v, want %v", *calls, want)
	}
}

func TestInstall_NoStart(t *testing.T) {
	mockUnitDir(t)
	calls := mockSystemctl(t, "")

	if err := Install(testOptions()); err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	for _, c := range *calls {
		if strings.HasPrefix(c, "start") {
			t.Errorf("unexpected start call: %v", *calls)
		}
	}
}

func TestInstall_EnableFails(t *testing.T) {
	mockUnitDir(t)
	mockSystemctl(t, "enable")

	if err := Install(testOptions()); err == nil {
		t.Error("expected error when enable fails")
	}
}

func TestUninstall(t *testing.T) {
	dir := mockUnitDir(t)
	calls := mockSystemctl(t, "stop")

	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	unitPath := filepath.Join(dir, unitFileName)
	if err := os.WriteFile(unitPath, []byte("unit"), 0644); err != nil {
		t.Fatal(err)
	}

	// A failing stop is ignored.
	if err := Uninstall(); err != nil {
		t.Fatalf("Uninstall failed: %v", err)
	}
	if _, err := os.Stat(unitPath); !os.IsNotExist(err) {
		t.Error("expected unit file removed")
	}

	want := []string{"stop " + unitFileName, "disable " + unitFileName, "daemon-reload"}
	if strings.Join(*calls, ",") != strings.Join(want, ",") {
		t.Errorf("systemctl calls = %v, want %v", *calls, want)
	}
}

func TestUninstall_MissingUnit(t *testing.T) {
	mockUnitDir(t)
	mockSystemctl(t, "")

	if err := Uninstall(); err != nil {
		t.Errorf("Uninstall should tolerate missing unit file: %v", err)
	}
}

func TestStatus_IgnoresInactive(t *testing.T) {
	orig := statusFunc
	statusFunc = func() error { return errors.New("exit status 3") }
	t.Cleanup(func() { statusFunc = orig })

	if err := Status(); err != nil {
		t.Errorf("Status should not fail for inactive service: %v", err)
	}
}

func TestUnitPath(t *testing.T) {
	dir := mockUnitDir(t)
	if got := UnitPath(); got != filepath.Join(dir, unitFileName) {
		t.Errorf("UnitPath() = %q", got)
	}
}
