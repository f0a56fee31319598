// Package monitor tracks the observable state of the controlled service and
// publishes transitions to subscribers.
package monitor

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultInterval is the polling period used when none is configured.
const DefaultInterval = 5 * time.Second

// Controller is the subset of the service controller the monitor samples.
type Controller interface {
	PID(ctx context.Context) (int, error)
	IsAuthorized(ctx context.Context) bool
	HelperInstalled() bool
	HelperPath() string
	FreshInstallation() bool
}

// State is one sample of the service state.
type State struct {
	Running           bool      `json:"running"`
	PID               int       `json:"pid,omitempty"`
	Authorized        bool      `json:"authorized"`
	HelperInstalled   bool      `json:"helper_installed"`
	FreshInstallation bool      `json:"fresh_installation"`
	CheckedAt         time.Time `json:"checked_at"`
}

// EventType names a state transition.
type EventType string

const (
	EventServiceStarted  EventType = "service_started"
	EventServiceStopped  EventType = "service_stopped"
	EventAuthorized      EventType = "authorized"
	EventUnauthorized    EventType = "unauthorized"
	EventHelperMissing   EventType = "helper_missing"
	EventHelperInstalled EventType = "helper_installed"
)

// Event is a state transition together with the state after it.
type Event struct {
	Type  EventType
	State State
}

// Observer receives state transitions. OnEvent must not block.
type Observer interface {
	OnEvent(Event)
}

// Monitor samples a Controller periodically and on helper file changes.
type Monitor struct {
	ctrl     Controller
	interval time.Duration
	now      func() time.Time

	checkMu sync.Mutex // serializes Check

	stateMu sync.RWMutex
	state   State
	sampled bool

	observersMu sync.RWMutex
	observers   map[Observer]struct{}
}

// New creates a monitor. A non-positive interval selects DefaultInterval.
func New(ctrl Controller, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		ctrl:      ctrl,
		interval:  interval,
		now:       time.Now,
		observers: make(map[Observer]struct{}),
	}
}

// Subscribe registers an observer to receive state events.
func (m *Monitor) Subscribe(o Observer) {
	m.observersMu.Lock()
	defer m.observersMu.Unlock()
	m.observers[o] = struct{}{}
}

// Unsubscribe removes an observer.
func (m *Monitor) Unsubscribe(o Observer) {
	m.observersMu.Lock()
	defer m.observersMu.Unlock()
	delete(m.observers, o)
}

// Snapshot returns the most recent sample.
func (m *Monitor) Snapshot() State {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

// Check samples the controller, stores the result and publishes any
// transitions from the previous sample. The first sample only sets the
// baseline.
func (m *Monitor) Check(ctx context.Context) State {
	m.checkMu.Lock()
	defer m.checkMu.Unlock()

	cur := State{
		HelperInstalled:   m.ctrl.HelperInstalled(),
		FreshInstallation: m.ctrl.FreshInstallation(),
		CheckedAt:         m.now(),
	}
	if pid, err := m.ctrl.PID(ctx); err == nil {
		cur.Running = true
		cur.PID = pid
		cur.Authorized = m.ctrl.IsAuthorized(ctx)
	}

	m.stateMu.Lock()
	prev, sampled := m.state, m.sampled
	m.state, m.sampled = cur, true
	m.stateMu.Unlock()

	if sampled {
		for _, t := range transitions(prev, cur) {
			m.publish(Event{Type: t, State: cur})
		}
	}
	return cur
}

func transitions(prev, cur State) []EventType {
	var out []EventType
	switch {
	case !prev.Running && cur.Running:
		out = append(out, EventServiceStarted)
	case prev.Running && !cur.Running:
		out = append(out, EventServiceStopped)
	}
	switch {
	case !prev.Authorized && cur.Authorized:
		out = append(out, EventAuthorized)
	case prev.Authorized && !cur.Authorized:
		out = append(out, EventUnauthorized)
	}
	switch {
	case prev.HelperInstalled && !cur.HelperInstalled:
		out = append(out, EventHelperMissing)
	case !prev.HelperInstalled && cur.HelperInstalled:
		out = append(out, EventHelperInstalled)
	}
	return out
}

func (m *Monitor) publish(event Event) {
	m.observersMu.RLock()
	observers := make([]Observer, 0, len(m.observers))
	for o := range m.observers {
		observers = append(observers, o)
	}
	m.observersMu.RUnlock()

	slog.Debug("service state changed", "event", event.Type, "running", event.State.Running, "authorized", event.State.Authorized)
	for _, o := range observers {
		o.OnEvent(event)
	}
}

// Run samples immediately, then every interval and whenever the helper
// binary changes on disk. It blocks until ctx is cancelled. If the helper's
// directory cannot be watched, Run falls back to polling only.
func (m *Monitor) Run(ctx context.Context) error {
	var events <-chan fsnotify.Event
	var errs <-chan error

	helper := m.ctrl.HelperPath()
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("cannot create file watcher, polling only", "error", err)
	} else {
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(helper)); err != nil {
			slog.Warn("cannot watch runtime directory, polling only", "dir", filepath.Dir(helper), "error", err)
		} else {
			events, errs = watcher.Events, watcher.Errors
		}
	}

	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			m.Check(ctx)

		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(event.Name) != helper {
				continue
			}
			slog.Debug("sandbox helper changed", "path", event.Name, "op", event.Op.String())
			m.Check(ctx)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Error("watcher error", "error", err)
		}
	}
}
