package api

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"syscall"
	"testing"
)

func TestNewAuth(t *testing.T) {
	tempDir := t.TempDir()

	auth, err := NewAuth(tempDir)
	if err != nil {
		t.Fatalf("NewAuth failed: %v", err)
	}

	// Check cookie file exists
	cookiePath := filepath.Join(tempDir, CookieFileName)
	info, err := os.Stat(cookiePath)
	if err != nil {
		t.Fatalf("cookie file not created: %v", err)
	}

	// Check file permissions
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected mode 0600, got %o", info.Mode().Perm())
	}

	// Check file contents
	content, err := os.ReadFile(cookiePath)
	if err != nil {
		t.Fatalf("failed to read cookie file: %v", err)
	}

	// Token should be 64 hex chars (32 bytes)
	if len(content) != 64 {
		t.Errorf("expected 64 char token, got %d", len(content))
	}

	// Token should match
	if string(content) != auth.Token() {
		t.Error("token in file doesn't match auth.Token()")
	}
}

func TestAuth_Middleware_ValidToken(t *testing.T) {
	tempDir := t.TempDir()
	auth, err := NewAuth(tempDir)
	if err != nil {
		t.Fatalf("NewAuth failed: %v", err)
	}

	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	wrapped := auth.Middleware(handler)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer "+auth.Token())

	rr := httptest.NewRecorder()
	wrapped.ServeHTTP(rr, req)

	if !called {
		t.Error("handler was not called")
	}
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
}

func TestAuth_Middleware_InvalidToken(t *testing.T) {
	tempDir := t.TempDir()
	auth, err := NewAuth(tempDir)
	if err != nil {
		t.Fatalf("NewAuth failed: %v", err)
	}

	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	wrapped := auth.Middleware(handler)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")

	rr := httptest.NewRecorder()
	wrapped.ServeHTTP(rr, req)

	if called {
		t.Error("handler should not be called with invalid token")
	}
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rr.Code)
	}
}

func TestAuth_Middleware_MissingHeader(t *testing.T) {
	tempDir := t.TempDir()
	auth, err := NewAuth(tempDir)
	if err != nil {
		t.Fatalf("NewAuth failed: %v", err)
	}

	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	wrapped := auth.Middleware(handler)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	// No Authorization header

	rr := httptest.NewRecorder()
	wrapped.ServeHTTP(rr, req)

	if called {
		t.Error("handler should not be called without auth header")
	}
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rr.Code)
	}
}

func TestAuth_Middleware_MalformedHeader(t *testing.T) {
	tempDir := t.TempDir()
	auth, err := NewAuth(tempDir)
	if err != nil {
		t.Fatalf("NewAuth failed: %v", err)
	}

	tests := []struct {
		name   string
		header string
	}{
		{"no scheme", auth.Token()},
		{"wrong scheme", "Basic " + auth.Token()},
		{"empty bearer", "Bearer "},
		{"no space", "Bearer" + auth.Token()},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			called := false
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			})

			wrapped := auth.Middleware(handler)

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req.Header.Set("Authorization", tc.header)

			rr := httptest.NewRecorder()
			wrapped.ServeHTTP(rr, req)

			if called {
				t.Error("handler should not be called with malformed header")
			}
			if rr.Code != http.StatusUnauthorized {
				t.Errorf("expected status 401, got %d", rr.Code)
			}
		})
	}
}

func TestAuth_FilePath(t *testing.T) {
	tempDir := t.TempDir()
	auth, err := NewAuth(tempDir)
	if err != nil {
		t.Fatalf("NewAuth failed: %v", err)
	}

	expected := filepath.Join(tempDir, CookieFileName)
	if auth.FilePath() != expected {
		t.Errorf("expected path %s, got %s", expected, auth.FilePath())
	}
}

func TestAuth_CreatesConfigDir(t *testing.T) {
	tempDir := t.TempDir()
	nestedDir := filepath.Join(tempDir, "nested", "config")

	_, err := NewAuth(nestedDir)
	if err != nil {
		t.Fatalf("NewAuth failed: %v", err)
	}

	info, err := os.Stat(nestedDir)
	if err != nil {
		t.Fatalf("nested dir not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("expected directory")
	}
}

func TestAuth_Validate_QueryToken(t *testing.T) {
	auth, err := NewAuth(t.TempDir())
	if err != nil {
		t.Fatalf("NewAuth failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ws?token="+auth.Token(), nil)
	if !auth.Validate(req) {
		t.Error("expected query token to be accepted")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/ws?token=wrong", nil)
	if auth.Validate(req) {
		t.Error("expected wrong query token to be rejected")
	}

	// A malformed header is not rescued by a valid query token.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/ws?token="+auth.Token(), nil)
	req.Header.Set("Authorization", "Basic abc")
	if auth.Validate(req) {
		t.Error("expected malformed header to take precedence")
	}
}

func TestLoadAuth(t *testing.T) {
	tempDir := t.TempDir()
	created, err := NewAuth(tempDir)
	if err != nil {
		t.Fatalf("NewAuth failed: %v", err)
	}

	loaded, err := LoadAuth(tempDir)
	if err != nil {
		t.Fatalf("LoadAuth failed: %v", err)
	}
	if loaded.Token() != created.Token() {
		t.Error("loaded token doesn't match created token")
	}
}

func TestLoadAuth_Errors(t *testing.T) {
	if _, err := LoadAuth(t.TempDir()); err == nil {
		t.Error("expected error for missing cookie file")
	}

	tempDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tempDir, CookieFileName), []byte("  \n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadAuth(tempDir); err == nil {
		t.Error("expected error for empty cookie file")
	}
}

func TestAuth_ShareWithGroup(t *testing.T) {
	auth, err := NewAuth(t.TempDir())
	if err != nil {
		t.Fatalf("NewAuth failed: %v", err)
	}

	gid := os.Getgid()
	if err := auth.ShareWithGroup(gid); err != nil {
		t.Fatalf("ShareWithGroup failed: %v", err)
	}

	info, err := os.Stat(auth.FilePath())
	if err != nil {
		t.Fatalf("stat cookie: %v", err)
	}
	if info.Mode().Perm() != 0640 {
		t.Errorf("cookie mode = %o, want 0640", info.Mode().Perm())
	}
	if st, ok := info.Sys().(*syscall.Stat_t); ok && int(st.Gid) != gid {
		t.Errorf("cookie gid = %d, want %d", st.Gid, gid)
	}

	if _, err := LoadAuth(filepath.Dir(auth.FilePath())); err != nil {
		t.Errorf("LoadAuth after sharing: %v", err)
	}
}
