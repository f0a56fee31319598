package sunshine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// AuthHeader returns the stored Authorization value; "" means unauthenticated.
func (c *Controller) AuthHeader() string {
	c.authMu.RLock()
	defer c.authMu.RUnlock()
	return c.authHeader
}

// SetAuthHeader stores a Basic credential for username and password and
// returns it. If both are empty nothing is stored and "" is returned.
func (c *Controller) SetAuthHeader(username, password string) string {
	if username == "" && password == "" {
		return ""
	}
	return c.SetAuthHeaderRaw(BasicAuth(username, password))
}

// SetAuthHeaderRaw stores raw verbatim as the Authorization value.
func (c *Controller) SetAuthHeaderRaw(raw string) string {
	c.authMu.Lock()
	defer c.authMu.Unlock()
	c.authHeader = raw
	return raw
}

// BasicAuth formats an HTTP Basic Authorization value.
func BasicAuth(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

type statusResponse struct {
	Status any `json:"status"`
}

// parseStatus reports whether body is a JSON object whose status field is
// the string "true". The service encodes the flag as text.
func parseStatus(body string) (bool, error) {
	if body == "" {
		return false, fmt.Errorf("empty response: %w", ErrParse)
	}
	var resp statusResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return false, fmt.Errorf("decode response: %w: %w", ErrParse, err)
	}
	s, ok := resp.Status.(string)
	return ok && s == "true", nil
}

type pinRequest struct {
	Pin string `json:"pin"`
}

// SendPin submits a client pairing PIN and reports whether the service
// accepted it.
func (c *Controller) SendPin(ctx context.Context, pin string) (bool, error) {
	body, err := c.Request(ctx, "/api/pin", pinRequest{Pin: pin})
	if err != nil {
		return false, fmt.Errorf("send pin: %w", err)
	}
	ok, err := parseStatus(body)
	if err != nil {
		return false, fmt.Errorf("send pin: %w", err)
	}
	return ok, nil
}

// PasswordChange is the credential rotation submitted by SetUser. The
// current credential is only sent when at least one of its fields is set.
type PasswordChange struct {
	NewUsername        string
	NewPassword        string
	ConfirmNewPassword string
	CurrentUsername    string
	CurrentPassword    string
}

type passwordRequest struct {
	NewUsername        string  `json:"newUsername"`
	NewPassword        string  `json:"newPassword"`
	ConfirmNewPassword string  `json:"confirmNewPassword"`
	CurrentUsername    *string `json:"currentUsername,omitempty"`
	CurrentPassword    *string `json:"currentPassword,omitempty"`
}

func (p PasswordChange) request() passwordRequest {
	req := passwordRequest{
		NewUsername:        p.NewUsername,
		NewPassword:        p.NewPassword,
		ConfirmNewPassword: p.ConfirmNewPassword,
	}
	if p.CurrentUsername != "" || p.CurrentPassword != "" {
		req.CurrentUsername = &p.CurrentUsername
		req.CurrentPassword = &p.CurrentPassword
	}
	return req
}

// SetUser changes the service's web credentials. On success the stored
// credential is rotated to the new pair and the new header is returned.
func (c *Controller) SetUser(ctx context.Context, change PasswordChange) (string, error) {
	body, err := c.Request(ctx, "/api/password", change.request())
	if err != nil {
		return "", fmt.Errorf("set user: %w", err)
	}
	ok, err := parseStatus(body)
	if err != nil {
		return "", fmt.Errorf("set user: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("set user: %w", ErrRejected)
	}
	return c.SetAuthHeader(change.NewUsername, change.NewPassword), nil
}
