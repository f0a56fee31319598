// Package cli provides a client for the decky-sunshine local API.
package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// installTimeout bounds the dependencies call, which may download the
// service package.
const installTimeout = 15 * time.Minute

// Client communicates with the decky-sunshine API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	longClient *http.Client
}

// NewClient creates a new API client.
func NewClient(serverAddr, token string) *Client {
	return &Client{
		baseURL: "http://" + serverAddr,
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		longClient: &http.Client{
			Timeout: installTimeout,
		},
	}
}

// Status mirrors the service state reported by the API. The cli package
// does not import internal/api or internal/monitor.
type Status struct {
	Running           bool      `json:"running"`
	PID               int       `json:"pid,omitempty"`
	Authorized        bool      `json:"authorized"`
	HelperInstalled   bool      `json:"helper_installed"`
	FreshInstallation bool      `json:"fresh_installation"`
	CheckedAt         time.Time `json:"checked_at"`
}

// ActionResponse is the response from start/stop endpoints.
type ActionResponse struct {
	Status string `json:"status"`
}

// DependenciesResponse is the response from the dependencies endpoint.
type DependenciesResponse struct {
	OK                bool `json:"ok"`
	FreshInstallation bool `json:"fresh_installation"`
}

// CredentialsResponse is the response from the credentials endpoint.
type CredentialsResponse struct {
	AuthHeaderSet bool `json:"auth_header_set"`
	Authorized    bool `json:"authorized"`
}

// UserChange is the request body for the user endpoint.
type UserChange struct {
	NewUsername        string `json:"new_username"`
	NewPassword        string `json:"new_password"`
	ConfirmNewPassword string `json:"confirm_new_password"`
	CurrentUsername    string `json:"current_username,omitempty"`
	CurrentPassword    string `json:"current_password,omitempty"`
}

// ErrorResponse is an error response from the API.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Kind)
	}
	return e.Message
}

// Status returns the current service state.
func (c *Client) Status() (*Status, error) {
	var result Status
	if err := c.do(c.httpClient, http.MethodGet, "/api/v1/status", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Start launches the streaming service.
func (c *Client) Start() error {
	return c.do(c.httpClient, http.MethodPost, "/api/v1/start", nil, &ActionResponse{})
}

// Stop terminates the streaming service.
func (c *Client) Stop() error {
	return c.do(c.httpClient, http.MethodPost, "/api/v1/stop", nil, &ActionResponse{})
}

// EnsureDependencies installs the helper and the service package if missing.
func (c *Client) EnsureDependencies() (*DependenciesResponse, error) {
	var result DependenciesResponse
	if err := c.do(c.longClient, http.MethodPost, "/api/v1/dependencies", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SendPin submits a pairing PIN and reports whether it was accepted.
func (c *Client) SendPin(pin string) (bool, error) {
	var result struct {
		Accepted bool `json:"accepted"`
	}
	if err := c.do(c.httpClient, http.MethodPost, "/api/v1/pin", map[string]string{"pin": pin}, &result); err != nil {
		return false, err
	}
	return result.Accepted, nil
}

// SetCredentials stores the web credentials used to talk to the service.
func (c *Client) SetCredentials(username, password string) (*CredentialsResponse, error) {
	return c.credentials(map[string]string{"username": username, "password": password})
}

// SetRawCredentials stores a verbatim Authorization value.
func (c *Client) SetRawCredentials(raw string) (*CredentialsResponse, error) {
	return c.credentials(map[string]string{"raw": raw})
}

func (c *Client) credentials(body map[string]string) (*CredentialsResponse, error) {
	var result CredentialsResponse
	if err := c.do(c.httpClient, http.MethodPost, "/api/v1/credentials", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SetUser changes the service's web credentials.
func (c *Client) SetUser(change UserChange) error {
	var result struct {
		Changed bool `json:"changed"`
	}
	if err := c.do(c.httpClient, http.MethodPost, "/api/v1/user", change, &result); err != nil {
		return err
	}
	if !result.Changed {
		return fmt.Errorf("credentials were not changed")
	}
	return nil
}

func (c *Client) do(hc *http.Client, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var errResp ErrorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Kind: errResp.Kind, Message: errResp.Error}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("request failed: %s", resp.Status)}
}
