package sunshine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
)

// fakeExecutor records every command and answers from canned results keyed
// by command name.
type fakeExecutor struct {
	mu        sync.Mutex
	calls     []Command
	outputs   map[string][]byte
	outErrs   map[string]error
	runErrs   map[string]error
	startErrs map[string]error
	waitErrs  map[string]error
	// block, if set, makes Wait of the named command block until closed.
	block   map[string]chan struct{}
	nextPID int
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		outputs:   make(map[string][]byte),
		outErrs:   make(map[string]error),
		runErrs:   make(map[string]error),
		startErrs: make(map[string]error),
		waitErrs:  make(map[string]error),
		block:     make(map[string]chan struct{}),
		nextPID:   1000,
	}
}

func (f *fakeExecutor) record(cmd Command) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cmd)
}

func (f *fakeExecutor) Output(_ context.Context, cmd Command) ([]byte, error) {
	f.record(cmd)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outputs[cmd.Name], f.outErrs[cmd.Name]
}

func (f *fakeExecutor) Run(_ context.Context, cmd Command) error {
	f.record(cmd)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runErrs[cmd.Name]
}

func (f *fakeExecutor) Start(cmd Command) (Process, error) {
	f.record(cmd)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.startErrs[cmd.Name]; err != nil {
		return nil, err
	}
	f.nextPID++
	return &fakeProcess{pid: f.nextPID, err: f.waitErrs[cmd.Name], block: f.block[cmd.Name]}, nil
}

// commands returns the recorded invocations as "name arg..." strings.
func (f *fakeExecutor) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.String()
	}
	return out
}

func (f *fakeExecutor) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Name
	}
	return out
}

type fakeProcess struct {
	pid   int
	err   error
	block chan struct{}
}

func (p *fakeProcess) Pid() int { return p.pid }

func (p *fakeProcess) Wait() error {
	if p.block != nil {
		<-p.block
	}
	return p.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubExe makes the process executable lookup return exes[pid].
func stubExe(t *testing.T, self string, exes map[int]string) {
	t.Helper()
	origExe, origSelf := exeFunc, selfExe
	exeFunc = func(pid int) string { return exes[pid] }
	selfExe = func() (string, error) { return self, nil }
	t.Cleanup(func() {
		exeFunc = origExe
		selfExe = origSelf
	})
}

// newTestController returns a controller with a temporary runtime directory.
// Process executables are stubbed so no real pid is treated as the controller.
func newTestController(t *testing.T, exec Executor, baseURL string) *Controller {
	t.Helper()
	stubExe(t, "/usr/bin/decky-sunshine", nil)
	environ := []string{
		DefaultRuntimeDirEnv + "=" + t.TempDir(),
		"PATH=/usr/bin:/bin",
	}
	c, err := NewWithExecutor(Config{BaseURL: baseURL}, environ, exec, discardLogger())
	if err != nil {
		t.Fatalf("NewWithExecutor: %v", err)
	}
	return c
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
