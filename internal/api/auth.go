// Package api provides the local REST API through which the plugin frontend
// and the CLI drive the service controller.
package api

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// CookieFileName is the name of the token file inside the state directory.
const CookieFileName = ".cookie"

const (
	cookieSize = 32 // 32 bytes = 256 bits
	tokenParam = "token"
)

// Auth handles bearer-token authentication for the API.
type Auth struct {
	token    string
	filePath string
}

// NewAuth creates a new Auth, generating a random token and writing it to
// the state directory. The cookie file is created with mode 0600.
func NewAuth(stateDir string) (*Auth, error) {
	tokenBytes := make([]byte, cookieSize)
	if _, err := rand.Read(tokenBytes); err != nil {
		return nil, err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, err
	}

	filePath := filepath.Join(stateDir, CookieFileName)
	if err := os.WriteFile(filePath, []byte(token), 0600); err != nil {
		return nil, err
	}

	return &Auth{
		token:    token,
		filePath: filePath,
	}, nil
}

// LoadAuth loads an existing Auth from the cookie file.
// Returns an error if the cookie file doesn't exist or is invalid.
func LoadAuth(stateDir string) (*Auth, error) {
	filePath := filepath.Join(stateDir, CookieFileName)
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return nil, fmt.Errorf("empty cookie file")
	}

	return &Auth{
		token:    token,
		filePath: filePath,
	}, nil
}

// ShareWithGroup hands the cookie file to group gid and makes it group
// readable, so an unprivileged CLI can authenticate against a root server.
func (a *Auth) ShareWithGroup(gid int) error {
	if err := os.Chown(a.filePath, -1, gid); err != nil {
		return fmt.Errorf("chown cookie: %w", err)
	}
	if err := os.Chmod(a.filePath, 0640); err != nil {
		return fmt.Errorf("chmod cookie: %w", err)
	}
	return nil
}

// Token returns the bearer token.
func (a *Auth) Token() string {
	return a.token
}

// FilePath returns the path to the cookie file.
func (a *Auth) FilePath() string {
	return a.filePath
}

// Validate reports whether r carries the token, either as
// "Authorization: Bearer <token>" or, for WebSocket clients that cannot set
// headers, as the "token" query parameter.
func (a *Auth) Validate(r *http.Request) bool {
	provided := r.URL.Query().Get(tokenParam)
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, value, ok := strings.Cut(header, " ")
		if !ok || scheme != "Bearer" {
			return false
		}
		provided = value
	}
	if provided == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(a.token)) == 1
}

// Middleware returns an HTTP middleware that rejects requests without a
// valid token.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Validate(r) {
			writeError(w, "unauthorized", "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
