package notification

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nikicat/decky-sunshine/internal/monitor"
)

// Notification slots. Each slot shows at most one notification at a time;
// a newer one replaces the older.
const (
	slotService     = "service"
	slotCredentials = "credentials"
	slotHelper      = "helper"
)

const actionRestart = "restart"

// Starter restarts the streaming service from a notification button.
type Starter interface {
	Start(ctx context.Context) error
}

// Handler receives monitor events and shows desktop notifications.
type Handler struct {
	notifier Notifier
	starter  Starter
	events   chan monitor.Event

	mu    sync.Mutex
	slots map[string]uint32 // slot -> notification ID
	owner map[uint32]string // notification ID -> slot
}

// NewHandler creates a notification handler. starter may be nil, in which
// case no restart button is offered.
func NewHandler(notifier Notifier, starter Starter) *Handler {
	return &Handler{
		notifier: notifier,
		starter:  starter,
		events:   make(chan monitor.Event, 16),
		slots:    make(map[string]uint32),
		owner:    make(map[uint32]string),
	}
}

// OnEvent implements monitor.Observer. It never blocks the monitor; events
// are queued for Run and dropped if the queue is full.
func (h *Handler) OnEvent(event monitor.Event) {
	select {
	case h.events <- event:
	default:
		slog.Warn("notification queue full, dropping event", "event", event.Type)
	}
}

// Run shows notifications for queued events and handles action button
// clicks until ctx is cancelled. actions may be nil.
func (h *Handler) Run(ctx context.Context, actions <-chan Action) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-h.events:
			h.handle(event)
		case action, ok := <-actions:
			if !ok {
				actions = nil
				continue
			}
			h.handleAction(ctx, action)
		}
	}
}

func (h *Handler) handle(event monitor.Event) {
	s := event.State
	switch event.Type {
	case monitor.EventServiceStarted:
		h.show(slotService, "Sunshine started",
			fmt.Sprintf("Game streaming is available (PID %d)", s.PID), "media-playback-start", nil)
		if !s.Authorized {
			h.showCredentialsRequired()
		}
	case monitor.EventServiceStopped:
		var actions []string
		if h.starter != nil {
			actions = []string{actionRestart, "Restart"}
		}
		h.show(slotService, "Sunshine stopped", "Game streaming is no longer available", "media-playback-stop", actions)
		h.dismiss(slotCredentials)
	case monitor.EventUnauthorized:
		if s.Running {
			h.showCredentialsRequired()
		}
	case monitor.EventAuthorized:
		h.dismiss(slotCredentials)
	case monitor.EventHelperMissing:
		h.show(slotHelper, "Sunshine helper missing",
			"Reinstall dependencies from the plugin to restore streaming", "dialog-warning", nil)
	case monitor.EventHelperInstalled:
		h.dismiss(slotHelper)
	}
}

func (h *Handler) showCredentialsRequired() {
	h.show(slotCredentials, "Sunshine credentials required",
		"Enter the web UI username and password to pair devices", "dialog-password", nil)
}

// show replaces the notification in slot with a new one.
func (h *Handler) show(slot, summary, body, icon string, actions []string) {
	h.dismiss(slot)

	id, err := h.notifier.Notify(summary, body, icon, actions)
	if err != nil {
		slog.Error("failed to send notification", "error", err, "slot", slot)
		return
	}

	h.mu.Lock()
	h.slots[slot] = id
	h.owner[id] = slot
	h.mu.Unlock()

	slog.Debug("sent desktop notification", "slot", slot, "notification_id", id)
}

func (h *Handler) dismiss(slot string) {
	h.mu.Lock()
	id, ok := h.slots[slot]
	if ok {
		delete(h.slots, slot)
		delete(h.owner, id)
	}
	h.mu.Unlock()

	if !ok {
		return
	}
	if err := h.notifier.Close(id); err != nil {
		slog.Debug("failed to close notification", "error", err, "notification_id", id)
	}
}

func (h *Handler) handleAction(ctx context.Context, action Action) {
	h.mu.Lock()
	slot, ok := h.owner[action.NotificationID]
	if ok {
		// Clicking a button already dismisses the notification.
		delete(h.owner, action.NotificationID)
		delete(h.slots, slot)
	}
	h.mu.Unlock()

	if !ok || action.ActionKey != actionRestart || h.starter == nil {
		return
	}

	if err := h.starter.Start(ctx); err != nil {
		slog.Error("failed to restart service from notification", "error", err)
		return
	}
	slog.Info("restarted service from notification")
}
