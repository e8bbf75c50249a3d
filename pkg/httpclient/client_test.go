package httpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	t.Run("valid_config", func(t *testing.T) {
		client, err := NewClient(Config{
			ServerURL: "http://localhost:8080",
			ClientID:  "test-client",
		})
		require.NoError(t, err)
		assert.Equal(t, "test-client", client.config.ClientID)
		assert.Equal(t, 30*time.Second, client.config.Timeout)
		assert.False(t, client.IsAuthenticated())
	})

	t.Run("missing_server_url", func(t *testing.T) {
		client, err := NewClient(Config{ClientID: "test-client"})
		assert.Nil(t, client)
		assert.ErrorContains(t, err, "ServerURL is required")
	})

	t.Run("missing_client_id", func(t *testing.T) {
		client, err := NewClient(Config{ServerURL: "http://localhost:8080"})
		assert.Nil(t, client)
		assert.ErrorContains(t, err, "ClientID is required")
	})

	t.Run("invalid_server_url", func(t *testing.T) {
		client, err := NewClient(Config{ServerURL: "://invalid-url", ClientID: "test-client"})
		assert.Nil(t, client)
		assert.ErrorContains(t, err, "invalid ServerURL")
	})
}

func newMockClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{ServerURL: server.URL, ClientID: "test-client"})
	require.NoError(t, err)
	return client
}

func TestClient_Authenticate(t *testing.T) {
	t.Run("successful_authentication", func(t *testing.T) {
		client := newMockClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/api/v1/auth/login", r.URL.Path)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

			var req map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "test-client", req["clientId"])

			json.NewEncoder(w).Encode(AuthResponse{
				Token:     "test-token-123",
				ClientID:  "test-client",
				ExpiresAt: time.Now().Add(time.Hour),
			})
		})

		resp, err := client.Authenticate(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "test-client", resp.ClientID)
		assert.Equal(t, "test-token-123", client.GetToken())
		assert.True(t, client.IsAuthenticated())
	})

	t.Run("authentication_failure", func(t *testing.T) {
		client := newMockClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"Unauthorized","message":"Invalid credentials","code":401}`))
		})

		_, err := client.Authenticate(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "authentication failed")

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
		assert.Equal(t, "Invalid credentials", apiErr.Message)
		assert.False(t, client.IsAuthenticated())
	})
}

func TestClient_RequiresToken(t *testing.T) {
	client := newMockClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request to %s", r.URL.Path)
	})
	ctx := context.Background()

	_, _, err := client.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	_, err = client.Publish(ctx, "news", "hi")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	_, err = client.Stream(ctx, "news", StreamConfig{})
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestClient_Get(t *testing.T) {
	client := newMockClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/api/v1/keys/greeting":
			json.NewEncoder(w).Encode(ValueResponse{Key: "greeting", Value: "hello"})
		case "/api/v1/keys/a/b":
			assert.Equal(t, "/api/v1/keys/a%2Fb", r.URL.EscapedPath())
			json.NewEncoder(w).Encode(ValueResponse{Key: "a/b", Value: "slash"})
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"Not Found","message":"Key not found","code":404}`))
		}
	})
	client.SetToken("test-token")
	ctx := context.Background()

	value, found, err := client.Get(ctx, "greeting")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "hello", value)

	value, found, err = client.Get(ctx, "a/b")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "slash", value)

	_, found, err = client.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestClient_Set(t *testing.T) {
	client := newMockClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v1/keys/session", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "abc", req["value"])
		assert.Equal(t, float64(90), req["expire"])

		json.NewEncoder(w).Encode(ValueResponse{Key: "session", Value: "abc"})
	})
	client.SetToken("test-token")

	require.NoError(t, client.Set(context.Background(), "session", "abc", 90*time.Second))
}

func TestClient_Delete(t *testing.T) {
	client := newMockClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/v1/keys", r.URL.Path)

		var req DeleteKeysRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"a", "b"}, req.Keys)

		json.NewEncoder(w).Encode(DeleteKeysResponse{Deleted: 1})
	})
	client.SetToken("test-token")

	deleted, err := client.Delete(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestClient_Objects(t *testing.T) {
	client := newMockClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/objects/user", r.URL.Path)
		switch r.Method {
		case http.MethodPut:
			var req SetObjectRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.True(t, req.Merge)
			assert.Equal(t, "ada", req.Value["name"])
			json.NewEncoder(w).Encode(ObjectResponse{Key: "user", Value: map[string]any{"id": 1, "name": "ada"}})
		case http.MethodGet:
			json.NewEncoder(w).Encode(ObjectResponse{Key: "user", Value: map[string]any{"id": 1, "name": "ada"}})
		}
	})
	client.SetToken("test-token")
	ctx := context.Background()

	stored, err := client.SetObject(ctx, "user", map[string]any{"name": "ada"}, true, 0)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": float64(1), "name": "ada"}, stored)

	obj, found, err := client.GetObject(ctx, "user")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "ada", obj["name"])
}

func TestClient_Publish(t *testing.T) {
	t.Run("structured_payload", func(t *testing.T) {
		client := newMockClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/api/v1/channels/orders/publish", r.URL.Path)

			var req map[string]json.RawMessage
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.JSONEq(t, `{"id":7}`, string(req["payload"]))

			json.NewEncoder(w).Encode(PublishResponse{Channel: "orders", Receivers: 2, Timestamp: time.Now()})
		})
		client.SetToken("test-token")

		resp, err := client.Publish(context.Background(), "orders", map[string]any{"id": 7})
		require.NoError(t, err)
		assert.Equal(t, "orders", resp.Channel)
		assert.Equal(t, int64(2), resp.Receivers)
	})

	t.Run("type_mismatch", func(t *testing.T) {
		client := newMockClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"Bad Request","message":"payload must be a string or an object","code":400}`))
		})
		client.SetToken("test-token")

		_, err := client.Publish(context.Background(), "orders", 42)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	})
}

func TestClient_GetHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		client := newMockClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v1/health", r.URL.Path)
			assert.Empty(t, r.Header.Get("Authorization"))
			json.NewEncoder(w).Encode(HealthResponse{Healthy: true, State: "ready", Target: "redis://localhost:6379/0"})
		})

		health, err := client.GetHealth(context.Background())
		require.NoError(t, err)
		assert.True(t, health.Healthy)
		assert.Equal(t, "ready", health.State)
	})

	t.Run("unhealthy_returns_body", func(t *testing.T) {
		client := newMockClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(HealthResponse{Healthy: false, State: "connecting", Message: "links not ready"})
		})

		health, err := client.GetHealth(context.Background())
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
		require.NotNil(t, health)
		assert.False(t, health.Healthy)
		assert.Equal(t, "connecting", health.State)
	})
}

func TestClient_AdminGetEvents(t *testing.T) {
	client := newMockClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/admin/events", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode(AdminEventsResponse{
			Events: []LifecycleEvent{{Source: "client", Event: "ready"}},
			Count:  1,
		})
	})
	client.SetToken("admin-token")

	resp, err := client.AdminGetEvents(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "ready", resp.Events[0].Event)
}
