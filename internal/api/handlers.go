package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/nikicat/decky-sunshine/internal/logging"
	"github.com/nikicat/decky-sunshine/internal/monitor"
	"github.com/nikicat/decky-sunshine/internal/sunshine"
)

// maxBodySize bounds request bodies; every request type here is tiny.
const maxBodySize = 64 << 10

// Controller is the subset of *sunshine.Controller the handlers drive.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	EnsureDependencies(ctx context.Context) error
	FreshInstallation() bool
	SendPin(ctx context.Context, pin string) (bool, error)
	SetAuthHeader(username, password string) string
	SetAuthHeaderRaw(raw string) string
	SetUser(ctx context.Context, change sunshine.PasswordChange) (string, error)
}

// Handlers provides HTTP handlers for the REST API.
type Handlers struct {
	ctrl    Controller
	monitor *monitor.Monitor
	audit   *logging.Audit
}

// NewHandlers creates new API handlers.
func NewHandlers(ctrl Controller, mon *monitor.Monitor, audit *logging.Audit) *Handlers {
	return &Handlers{
		ctrl:    ctrl,
		monitor: mon,
		audit:   audit,
	}
}

// HandleStatus handles GET /api/v1/status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "method not allowed", "", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, h.monitor.Check(r.Context()))
}

// HandleStart handles POST /api/v1/start.
func (h *Handlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "method not allowed", "", http.StatusMethodNotAllowed)
		return
	}
	err := h.ctrl.Start(r.Context())
	h.logAction(r, "start", err)
	if err != nil {
		writeControllerError(w, err)
		return
	}
	h.monitor.Check(r.Context())
	writeJSON(w, ActionResponse{Status: "started"})
}

// HandleStop handles POST /api/v1/stop.
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "method not allowed", "", http.StatusMethodNotAllowed)
		return
	}
	err := h.ctrl.Stop(r.Context())
	h.logAction(r, "stop", err)
	if err != nil {
		writeControllerError(w, err)
		return
	}
	h.monitor.Check(r.Context())
	writeJSON(w, ActionResponse{Status: "stopped"})
}

// HandleDependencies handles POST /api/v1/dependencies.
func (h *Handlers) HandleDependencies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "method not allowed", "", http.StatusMethodNotAllowed)
		return
	}
	err := h.ctrl.EnsureDependencies(r.Context())
	h.logAction(r, "dependencies", err)
	if err != nil {
		writeControllerError(w, err)
		return
	}
	h.monitor.Check(r.Context())
	writeJSON(w, DependenciesResponse{OK: true, FreshInstallation: h.ctrl.FreshInstallation()})
}

// HandlePin handles POST /api/v1/pin.
func (h *Handlers) HandlePin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "method not allowed", "", http.StatusMethodNotAllowed)
		return
	}
	var req PinRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Pin == "" {
		writeError(w, "pin is required", "", http.StatusBadRequest)
		return
	}
	accepted, err := h.ctrl.SendPin(r.Context(), req.Pin)
	h.logAction(r, "pin", err)
	if err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, PinResponse{Accepted: accepted})
}

// HandleCredentials handles POST /api/v1/credentials.
func (h *Handlers) HandleCredentials(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "method not allowed", "", http.StatusMethodNotAllowed)
		return
	}
	var req CredentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var header string
	if req.Raw != "" {
		header = h.ctrl.SetAuthHeaderRaw(req.Raw)
	} else {
		header = h.ctrl.SetAuthHeader(req.Username, req.Password)
	}
	h.logAction(r, "credentials", nil)
	state := h.monitor.Check(r.Context())
	writeJSON(w, CredentialsResponse{AuthHeaderSet: header != "", Authorized: state.Authorized})
}

// HandleUser handles POST /api/v1/user.
func (h *Handlers) HandleUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "method not allowed", "", http.StatusMethodNotAllowed)
		return
	}
	var req UserRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.NewUsername == "" || req.NewPassword == "" {
		writeError(w, "new_username and new_password are required", "", http.StatusBadRequest)
		return
	}
	_, err := h.ctrl.SetUser(r.Context(), sunshine.PasswordChange{
		NewUsername:        req.NewUsername,
		NewPassword:        req.NewPassword,
		ConfirmNewPassword: req.ConfirmNewPassword,
		CurrentUsername:    req.CurrentUsername,
		CurrentPassword:    req.CurrentPassword,
	})
	h.logAction(r, "set_user", err)
	if err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, UserResponse{Changed: true})
}

func (h *Handlers) logAction(r *http.Request, action string, err error) {
	if h.audit == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	h.audit.LogAction(r.Context(), requestID(r.Context()), action, result, err)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(v); err != nil {
		writeError(w, "invalid request body", "", http.StatusBadRequest)
		return false
	}
	return true
}

// statusForError maps a controller error to an HTTP status code.
func statusForError(err error) int {
	switch {
	case errors.Is(err, sunshine.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, sunshine.ErrNetwork), errors.Is(err, sunshine.ErrParse):
		return http.StatusBadGateway
	case errors.Is(err, sunshine.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, sunshine.ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, sunshine.ErrRejected):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeControllerError(w http.ResponseWriter, err error) {
	writeError(w, err.Error(), sunshine.Kind(err), statusForError(err))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, message, kind string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message, Kind: kind})
}
