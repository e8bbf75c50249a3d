package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	memlink "github.com/rmacdonaldsmith/storemesh-go/internal/storelink"
	"github.com/rmacdonaldsmith/storemesh-go/internal/storemesh"
	"github.com/rmacdonaldsmith/storemesh-go/pkg/storelink"
)

// TestServerSetup holds common test dependencies
type TestServerSetup struct {
	Store    *memlink.MemoryServer
	Instance *storemesh.Instance
	Server   *Server
	Auth     *JWTAuth
}

// NewTestServerSetup creates an instance over an in-memory store and an
// HTTP server in front of it. Everything is released by t.Cleanup.
func NewTestServerSetup(t *testing.T) *TestServerSetup {
	t.Helper()
	return NewTestServerSetupWith(t, memlink.NewMemoryServer(), time.Second)
}

// NewTestServerSetupWith is NewTestServerSetup over a given store and readiness timeout
func NewTestServerSetupWith(t *testing.T, store *memlink.MemoryServer, readyTimeout time.Duration) *TestServerSetup {
	t.Helper()

	config := storemesh.NewConfig(storelink.Options{Host: "localhost"}).
		WithDialer(store).
		WithReadyTimeout(readyTimeout)
	inst, err := storemesh.New(config)
	if err != nil {
		t.Fatalf("Failed to create instance: %v", err)
	}

	server := NewServer(inst, Config{
		Port:         "0",
		SecretKey:    "test-secret-key",
		AdminClients: []string{"admin"},
		KeepAlive:    50 * time.Millisecond,
		StreamBuffer: 16,
	})

	t.Cleanup(func() {
		server.table.Close()
		inst.Close()
	})

	return &TestServerSetup{
		Store:    store,
		Instance: inst,
		Server:   server,
		Auth:     server.jwtAuth,
	}
}

// GenerateTestToken creates a JWT token for testing
func (setup *TestServerSetup) GenerateTestToken(t *testing.T, clientID string, isAdmin bool) string {
	t.Helper()

	token, _, err := setup.Auth.GenerateToken(clientID, isAdmin)
	if err != nil {
		t.Fatalf("Failed to generate test token: %v", err)
	}
	return token
}

// Do sends a request straight to the server's handler. A non-nil body is
// JSON encoded; an empty token sends no Authorization header.
func (setup *TestServerSetup) Do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	setup.Server.Handler().ServeHTTP(w, req)
	return w
}

// decodeBody decodes a JSON response body into v
func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
}

// NewHTTPTestServer starts a real listener for streaming tests
func (setup *TestServerSetup) NewHTTPTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(setup.Server.Handler())
	t.Cleanup(ts.Close)
	return ts
}

// authorizedRequest builds a request against a live test server
func authorizedRequest(t *testing.T, method, url, token string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}
