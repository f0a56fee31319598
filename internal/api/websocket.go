package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/nikicat/decky-sunshine/internal/monitor"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 30 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

// WSHandler streams service state changes to WebSocket clients.
type WSHandler struct {
	monitor *monitor.Monitor
	auth    *Auth

	connsMu sync.RWMutex
	conns   map[*wsConnection]struct{}
}

// NewWSHandler creates a new WebSocket handler.
func NewWSHandler(mon *monitor.Monitor, auth *Auth) *WSHandler {
	return &WSHandler{
		monitor: mon,
		auth:    auth,
		conns:   make(map[*wsConnection]struct{}),
	}
}

type wsConnection struct {
	handler *WSHandler
	conn    *websocket.Conn
	send    chan []byte
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
}

// HandleWS handles WebSocket upgrade requests.
func (h *WSHandler) HandleWS(w http.ResponseWriter, r *http.Request) {
	// Validate the token before accepting the upgrade
	if !h.auth.Validate(r) {
		writeError(w, "unauthorized", "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The plugin frontend is served from Steam's CEF origin.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("WebSocket accept failed", "error", err)
		return
	}

	conn.SetReadLimit(maxMessageSize)

	// The WebSocket connection lives beyond the HTTP request
	ctx, cancel := context.WithCancel(context.Background())
	wsc := &wsConnection{
		handler: h,
		conn:    conn,
		send:    make(chan []byte, 256),
		ctx:     ctx,
		cancel:  cancel,
	}

	h.connsMu.Lock()
	h.conns[wsc] = struct{}{}
	h.connsMu.Unlock()

	h.monitor.Subscribe(wsc)

	if err := wsc.sendSnapshot(); err != nil {
		slog.Error("Failed to send snapshot", "error", err)
		wsc.close()
		return
	}

	go wsc.writePump()
	go wsc.readPump()
}

// OnEvent implements monitor.Observer.
func (wsc *wsConnection) OnEvent(event monitor.Event) {
	data, err := json.Marshal(WSMessage{Type: string(event.Type), State: event.State})
	if err != nil {
		slog.Error("Failed to marshal WebSocket message", "error", err)
		return
	}

	// Non-blocking send - drop message if client is slow
	select {
	case wsc.send <- data:
	default:
		slog.Warn("WebSocket send buffer full, dropping message")
	}
}

func (wsc *wsConnection) sendSnapshot() error {
	data, err := json.Marshal(WSMessage{Type: "snapshot", State: wsc.handler.monitor.Snapshot()})
	if err != nil {
		return err
	}

	// Send directly (not through channel) for initial snapshot
	ctx, cancel := context.WithTimeout(wsc.ctx, writeWait)
	defer cancel()
	return wsc.conn.Write(ctx, websocket.MessageText, data)
}

// writePump pumps messages from the send channel to the WebSocket connection.
func (wsc *wsConnection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		wsc.close()
	}()

	for {
		select {
		case <-wsc.ctx.Done():
			return

		case message := <-wsc.send:
			ctx, cancel := context.WithTimeout(wsc.ctx, writeWait)
			err := wsc.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				slog.Debug("WebSocket write failed", "error", err)
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(wsc.ctx, writeWait)
			err := wsc.conn.Ping(ctx)
			cancel()
			if err != nil {
				slog.Debug("WebSocket ping failed", "error", err)
				return
			}
		}
	}
}

// readPump exists for close detection; client messages are ignored.
func (wsc *wsConnection) readPump() {
	defer wsc.close()

	for {
		if _, _, err := wsc.conn.Read(wsc.ctx); err != nil {
			return
		}
	}
}

func (wsc *wsConnection) close() {
	wsc.once.Do(func() {
		wsc.cancel()
		wsc.handler.monitor.Unsubscribe(wsc)

		wsc.handler.connsMu.Lock()
		delete(wsc.handler.conns, wsc)
		wsc.handler.connsMu.Unlock()

		wsc.conn.Close(websocket.StatusNormalClosure, "")
	})
}

// ConnectionCount returns the number of open WebSocket connections.
func (h *WSHandler) ConnectionCount() int {
	h.connsMu.RLock()
	defer h.connsMu.RUnlock()
	return len(h.conns)
}

// CloseAll closes every open connection. Used on shutdown, since
// http.Server.Shutdown does not track hijacked connections.
func (h *WSHandler) CloseAll() {
	h.connsMu.RLock()
	conns := make([]*wsConnection, 0, len(h.conns))
	for wsc := range h.conns {
		conns = append(conns, wsc)
	}
	h.connsMu.RUnlock()

	for _, wsc := range conns {
		wsc.close()
	}
}
