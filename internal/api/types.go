package api

import "github.com/nikicat/decky-sunshine/internal/monitor"

// StatusResponse is returned by GET /api/v1/status.
type StatusResponse = monitor.State

// ActionResponse is returned by start/stop endpoints.
type ActionResponse struct {
	Status string `json:"status"`
}

// DependenciesResponse is returned by POST /api/v1/dependencies.
type DependenciesResponse struct {
	OK                bool `json:"ok"`
	FreshInstallation bool `json:"fresh_installation"`
}

// PinRequest is the request body for POST /api/v1/pin.
type PinRequest struct {
	Pin string `json:"pin"`
}

// PinResponse is returned by POST /api/v1/pin.
type PinResponse struct {
	Accepted bool `json:"accepted"`
}

// CredentialsRequest is the request body for POST /api/v1/credentials.
// Raw, when set, is stored verbatim as the Authorization value.
type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Raw      string `json:"raw,omitempty"`
}

// CredentialsResponse is returned by POST /api/v1/credentials.
type CredentialsResponse struct {
	AuthHeaderSet bool `json:"auth_header_set"`
	Authorized    bool `json:"authorized"`
}

// UserRequest is the request body for POST /api/v1/user.
type UserRequest struct {
	NewUsername        string `json:"new_username"`
	NewPassword        string `json:"new_password"`
	ConfirmNewPassword string `json:"confirm_new_password"`
	CurrentUsername    string `json:"current_username,omitempty"`
	CurrentPassword    string `json:"current_password,omitempty"`
}

// UserResponse is returned by POST /api/v1/user.
type UserResponse struct {
	Changed bool `json:"changed"`
}

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// WSMessage is sent over the event WebSocket. Type is "snapshot" for the
// first message and a monitor event type afterwards.
type WSMessage struct {
	Type  string        `json:"type"`
	State monitor.State `json:"state"`
}
