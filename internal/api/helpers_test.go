package api

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nikicat/decky-sunshine/internal/monitor"
	"github.com/nikicat/decky-sunshine/internal/sunshine"
)

// fakeController implements Controller and monitor.Controller.
type fakeController struct {
	mu         sync.Mutex
	running    bool
	authorized bool
	fresh      bool
	authHeader string
	calls      []string

	startErr error
	stopErr  error
	depsErr  error
	pinOK    bool
	pinErr   error
	userErr  error
	change   sunshine.PasswordChange
}

func (f *fakeController) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeController) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.calls...)
}

func (f *fakeController) Start(ctx context.Context) error {
	f.record("start")
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	f.running = true
	f.mu.Unlock()
	return nil
}

func (f *fakeController) Stop(ctx context.Context) error {
	f.record("stop")
	if f.stopErr != nil {
		return f.stopErr
	}
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()
	return nil
}

func (f *fakeController) EnsureDependencies(ctx context.Context) error {
	f.record("deps")
	if f.depsErr != nil {
		return f.depsErr
	}
	f.mu.Lock()
	f.fresh = true
	f.mu.Unlock()
	return nil
}

func (f *fakeController) FreshInstallation() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fresh
}

func (f *fakeController) SendPin(ctx context.Context, pin string) (bool, error) {
	f.record("pin " + pin)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pinOK, f.pinErr
}

func (f *fakeController) setPinOK(ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pinOK = ok
}

func (f *fakeController) SetAuthHeader(username, password string) string {
	f.record("auth " + username)
	if username == "" && password == "" {
		return ""
	}
	return f.SetAuthHeaderRaw(sunshine.BasicAuth(username, password))
}

func (f *fakeController) SetAuthHeaderRaw(raw string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authHeader = raw
	f.authorized = raw != ""
	return raw
}

func (f *fakeController) SetUser(ctx context.Context, change sunshine.PasswordChange) (string, error) {
	f.record("user " + change.NewUsername)
	f.mu.Lock()
	f.change = change
	f.mu.Unlock()
	if f.userErr != nil {
		return "", f.userErr
	}
	return sunshine.BasicAuth(change.NewUsername, change.NewPassword), nil
}

func (f *fakeController) PID(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return 0, fmt.Errorf("no process: %w", sunshine.ErrNotFound)
	}
	return 4242, nil
}

func (f *fakeController) IsAuthorized(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authorized
}

func (f *fakeController) HelperInstalled() bool { return true }
func (f *fakeController) HelperPath() string    { return "/nonexistent/bwrap" }

// recordingObserver collects monitor events.
type recordingObserver struct {
	mu     sync.Mutex
	events []monitor.EventType
}

func (o *recordingObserver) OnEvent(e monitor.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, e.Type)
}

func (o *recordingObserver) Events() []monitor.EventType {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]monitor.EventType{}, o.events...)
}

func testHandlers(t *testing.T, ctrl *fakeController) (*Handlers, *monitor.Monitor) {
	t.Helper()
	mon := monitor.New(ctrl, time.Second)
	mon.Check(context.Background())
	return NewHandlers(ctrl, mon, nil), mon
}
