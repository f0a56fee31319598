package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nikicat/decky-sunshine/internal/logging"
	"github.com/nikicat/decky-sunshine/internal/monitor"
)

// DefaultAddr is the default listen address of the local API.
const DefaultAddr = "127.0.0.1:47991"

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	auth       *Auth
	handlers   *Handlers
	wsHandler  *WSHandler
	listener   net.Listener
}

// NewServer creates a new API server bound to addr.
func NewServer(addr string, ctrl Controller, mon *monitor.Monitor, auth *Auth, audit *logging.Audit) (*Server, error) {
	handlers := NewHandlers(ctrl, mon, audit)
	wsHandler := NewWSHandler(mon, auth)
	return newServerWithHandlers(addr, handlers, wsHandler, auth)
}

func newServerWithHandlers(addr string, handlers *Handlers, wsHandler *WSHandler, auth *Auth) (*Server, error) {
	rootMux := http.NewServeMux()

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/api/v1/status", handlers.HandleStatus)
	apiMux.HandleFunc("/api/v1/start", handlers.HandleStart)
	apiMux.HandleFunc("/api/v1/stop", handlers.HandleStop)
	apiMux.HandleFunc("/api/v1/dependencies", handlers.HandleDependencies)
	apiMux.HandleFunc("/api/v1/pin", handlers.HandlePin)
	apiMux.HandleFunc("/api/v1/credentials", handlers.HandleCredentials)
	apiMux.HandleFunc("/api/v1/user", handlers.HandleUser)

	// The WebSocket handler authenticates itself so browsers can pass the
	// token as a query parameter.
	rootMux.HandleFunc("/api/v1/ws", wsHandler.HandleWS)
	rootMux.Handle("/api/", auth.Middleware(apiMux))

	// Create listener first to catch address-in-use errors early
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	httpServer := &http.Server{
		Handler:           withRequestID(rootMux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		auth:       auth,
		handlers:   handlers,
		wsHandler:  wsHandler,
		listener:   listener,
	}, nil
}

// Start begins serving HTTP requests. This is non-blocking.
func (s *Server) Start() error {
	go func() {
		if err := s.httpServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Shutdown gracefully shuts down the server and closes WebSocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.wsHandler.CloseAll()
	return s.httpServer.Shutdown(ctx)
}

// CookieFilePath returns the path to the authentication cookie file.
func (s *Server) CookieFilePath() string {
	return s.auth.FilePath()
}

// WSHandler returns the WebSocket handler.
func (s *Server) WSHandler() *WSHandler {
	return s.wsHandler
}
