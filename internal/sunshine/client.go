package sunshine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxResponseSize bounds control API response reads.
const maxResponseSize int64 = 1 << 20

const userAgent = "decky-sunshine"

// NewRequest builds a control API request for baseURL+path with the fixed
// client headers and the given Authorization value. A non-nil data is sent
// as a JSON POST body; otherwise the request is a GET.
func NewRequest(ctx context.Context, baseURL, path, authHeader string, data any) (*http.Request, error) {
	method := http.MethodGet
	var body io.Reader
	if data != nil {
		payload, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		method = http.MethodPost
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Accept", "application/json, */*; q=0.01")
	req.Header.Set("Authorization", authHeader)
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Request calls the control API with the stored credential and returns the
// response body. On any failure the body is "" and the error carries the kind.
func (c *Controller) Request(ctx context.Context, path string, data any) (string, error) {
	req, err := NewRequest(ctx, c.cfg.BaseURL, path, c.AuthHeader(), data)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %w", path, ErrNetwork, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s %s: %w: %w", req.Method, path, ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("%s %s: read body: %w: %w", req.Method, path, ErrNetwork, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return "", fmt.Errorf("%s %s: %w", req.Method, path, ErrUnauthorized)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", fmt.Errorf("%s %s: %w: %s", req.Method, path, ErrNetwork, resp.Status)
	}
	return string(body), nil
}

// IsAuthorized reports whether the stored credential is accepted by the
// service, i.e. the apps listing answers exactly 200.
func (c *Controller) IsAuthorized(ctx context.Context) bool {
	req, err := NewRequest(ctx, c.cfg.BaseURL, "/api/apps", c.AuthHeader(), nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize)) //nolint:errcheck
	return resp.StatusCode == http.StatusOK
}
