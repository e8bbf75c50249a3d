package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memlink "github.com/rmacdonaldsmith/storemesh-go/internal/storelink"
	"github.com/rmacdonaldsmith/storemesh-go/pkg/message"
)

func httptestRequest(method, target string) *http.Request {
	return httptest.NewRequest(method, target, nil)
}

func httptestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

func serve(setup *TestServerSetup, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	setup.Server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Root(t *testing.T) {
	setup := NewTestServerSetup(t)

	w := setup.Do(t, http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var info map[string]interface{}
	decodeBody(t, w, &info)
	assert.Equal(t, "StoreMesh HTTP API", info["service"])
	assert.Equal(t, setup.Instance.ID(), info["instance"])

	w = setup.Do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_RequestIDHeader(t *testing.T) {
	setup := NewTestServerSetup(t)

	w := setup.Do(t, http.MethodGet, "/", "", nil)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	req := httptestRequest(http.MethodGet, "/")
	req.Header.Set(RequestIDHeader, "6f1c1f7e-3b1a-4f4e-9a43-1a2b3c4d5e6f")
	rec := serve(setup, req)
	assert.Equal(t, "6f1c1f7e-3b1a-4f4e-9a43-1a2b3c4d5e6f", rec.Header().Get(RequestIDHeader))
}

func TestServer_Login(t *testing.T) {
	setup := NewTestServerSetup(t)

	w := setup.Do(t, http.MethodPost, "/api/v1/auth/login", "", AuthRequest{ClientID: "worker-1"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp AuthResponse
	decodeBody(t, w, &resp)
	assert.Equal(t, "worker-1", resp.ClientID)
	assert.False(t, resp.IsAdmin)
	assert.True(t, resp.ExpiresAt.After(time.Now()))

	claims, err := setup.Auth.ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "worker-1", claims.ClientID)

	w = setup.Do(t, http.MethodPost, "/api/v1/auth/login", "", AuthRequest{ClientID: "admin"})
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &resp)
	assert.True(t, resp.IsAdmin)
}

func TestServer_LoginValidation(t *testing.T) {
	setup := NewTestServerSetup(t)

	w := setup.Do(t, http.MethodPost, "/api/v1/auth/login", "", AuthRequest{ClientID: ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = setup.Do(t, http.MethodPost, "/api/v1/auth/login", "", AuthRequest{ClientID: "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = setup.Do(t, http.MethodGet, "/api/v1/auth/login", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServer_AuthRequired(t *testing.T) {
	setup := NewTestServerSetup(t)

	w := setup.Do(t, http.MethodGet, "/api/v1/keys/k", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var errResp ErrorResponse
	decodeBody(t, w, &errResp)
	assert.Equal(t, http.StatusUnauthorized, errResp.Code)

	w = setup.Do(t, http.MethodGet, "/api/v1/keys/k", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestServer_TokenQueryParameter(t *testing.T) {
	setup := NewTestServerSetup(t)
	token := setup.GenerateTestToken(t, "worker-1", false)
	require.NoError(t, setup.Instance.Set(context.Background(), "k", "v", 0))

	rec := serve(setup, httptestRequest(http.MethodGet, "/api/v1/keys/k?token="+token))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_NoAuthMode(t *testing.T) {
	setup := NewTestServerSetup(t)
	server := NewServer(setup.Instance, Config{SecretKey: "s", NoAuth: true})
	t.Cleanup(func() { server.table.Close() })
	require.NoError(t, setup.Instance.Set(context.Background(), "k", "v", 0))

	rec := httptestRecorder()
	server.Handler().ServeHTTP(rec, httptestRequest(http.MethodGet, "/api/v1/keys/k"))
	assert.Equal(t, http.StatusOK, rec.Code)

	// admin endpoints still need a real admin token
	rec = httptestRecorder()
	server.Handler().ServeHTTP(rec, httptestRequest(http.MethodGet, "/api/v1/admin/stats"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_KeyLifecycle(t *testing.T) {
	setup := NewTestServerSetup(t)
	token := setup.GenerateTestToken(t, "worker-1", false)

	w := setup.Do(t, http.MethodGet, "/api/v1/keys/greeting", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	value := "hello"
	w = setup.Do(t, http.MethodPut, "/api/v1/keys/greeting", token, SetValueRequest{Value: &value})
	require.Equal(t, http.StatusOK, w.Code)

	w = setup.Do(t, http.MethodGet, "/api/v1/keys/greeting", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp ValueResponse
	decodeBody(t, w, &resp)
	assert.Equal(t, ValueResponse{Key: "greeting", Value: "hello"}, resp)

	w = setup.Do(t, http.MethodDelete, "/api/v1/keys/greeting", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var del DeleteKeysResponse
	decodeBody(t, w, &del)
	assert.Equal(t, int64(1), del.Deleted)

	w = setup.Do(t, http.MethodGet, "/api/v1/keys/greeting", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_SetValueWithExpiry(t *testing.T) {
	setup := NewTestServerSetup(t)
	token := setup.GenerateTestToken(t, "worker-1", false)

	value := "v"
	w := setup.Do(t, http.MethodPut, "/api/v1/keys/session", token, map[string]interface{}{"value": value, "expire": 30})
	require.Equal(t, http.StatusOK, w.Code)

	ttl, ok := setup.Store.TTL("session")
	require.True(t, ok)
	assert.InDelta(t, float64(30*time.Second), float64(ttl), float64(time.Second))

	w = setup.Do(t, http.MethodPut, "/api/v1/keys/session", token, map[string]interface{}{"value": value, "expire": "soon"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = setup.Do(t, http.MethodPut, "/api/v1/keys/session", token, map[string]interface{}{"value": value, "expire": -5})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = setup.Do(t, http.MethodPut, "/api/v1/keys/session", token, map[string]interface{}{"expire": 5})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_DeleteManyKeys(t *testing.T) {
	setup := NewTestServerSetup(t)
	token := setup.GenerateTestToken(t, "worker-1", false)
	ctx := context.Background()
	require.NoError(t, setup.Instance.Set(ctx, "a", "1", 0))
	require.NoError(t, setup.Instance.Set(ctx, "b", "2", 0))

	w := setup.Do(t, http.MethodDelete, "/api/v1/keys", token, DeleteKeysRequest{Keys: []string{"a", "b", "c"}})
	require.Equal(t, http.StatusOK, w.Code)
	var del DeleteKeysResponse
	decodeBody(t, w, &del)
	assert.Equal(t, int64(2), del.Deleted)

	w = setup.Do(t, http.MethodDelete, "/api/v1/keys", token, DeleteKeysRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_Objects(t *testing.T) {
	setup := NewTestServerSetup(t)
	token := setup.GenerateTestToken(t, "worker-1", false)

	w := setup.Do(t, http.MethodPut, "/api/v1/objects/user:1", token, SetObjectRequest{
		Value: map[string]any{"name": "ada", "role": "admin"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = setup.Do(t, http.MethodPut, "/api/v1/objects/user:1", token, SetObjectRequest{
		Value: map[string]any{"role": "owner"},
		Merge: true,
	})
	require.Equal(t, http.StatusOK, w.Code)
	var merged ObjectResponse
	decodeBody(t, w, &merged)
	assert.Equal(t, map[string]any{"name": "ada", "role": "owner"}, merged.Value)

	w = setup.Do(t, http.MethodGet, "/api/v1/objects/user:1", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got ObjectResponse
	decodeBody(t, w, &got)
	assert.Equal(t, merged.Value, got.Value)
}

func TestServer_ObjectNotJSON(t *testing.T) {
	setup := NewTestServerSetup(t)
	token := setup.GenerateTestToken(t, "worker-1", false)
	setup.Store.SetRaw("plain", "not json")

	w := setup.Do(t, http.MethodGet, "/api/v1/objects/plain", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = setup.Do(t, http.MethodPut, "/api/v1/objects/plain", token, map[string]interface{}{"value": []int{1, 2}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_Publish(t *testing.T) {
	setup := NewTestServerSetup(t)
	token := setup.GenerateTestToken(t, "worker-1", false)
	ctx := context.Background()

	received := make(chan message.Payload, 4)
	_, err := setup.Instance.Listen(ctx, "jobs", func(msg message.Payload) { received <- msg })
	require.NoError(t, err)

	w := setup.Do(t, http.MethodPost, "/api/v1/channels/jobs/publish", token, map[string]interface{}{
		"payload": map[string]interface{}{"id": "j1"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	var resp PublishResponse
	decodeBody(t, w, &resp)
	assert.Equal(t, "jobs", resp.Channel)
	assert.Equal(t, int64(1), resp.Receivers)

	select {
	case msg := <-received:
		assert.Equal(t, message.Structured{Value: map[string]any{"id": "j1"}}, msg)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	w = setup.Do(t, http.MethodPost, "/api/v1/channels/jobs/publish", token, map[string]interface{}{"payload": "plain text"})
	require.Equal(t, http.StatusOK, w.Code)
	select {
	case msg := <-received:
		assert.Equal(t, message.Raw("plain text"), msg)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestServer_PublishTypeMismatch(t *testing.T) {
	setup := NewTestServerSetup(t)
	token := setup.GenerateTestToken(t, "worker-1", false)

	for _, payload := range []interface{}{42, true} {
		w := setup.Do(t, http.MethodPost, "/api/v1/channels/jobs/publish", token, map[string]interface{}{"payload": payload})
		assert.Equal(t, http.StatusBadRequest, w.Code, "payload %v", payload)
	}

	w := setup.Do(t, http.MethodPost, "/api/v1/channels/jobs/publish", token, map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_ChannelRouting(t *testing.T) {
	setup := NewTestServerSetup(t)
	token := setup.GenerateTestToken(t, "worker-1", false)

	w := setup.Do(t, http.MethodPost, "/api/v1/channels/bad channel/publish", token, map[string]interface{}{"payload": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = setup.Do(t, http.MethodPost, "/api/v1/channels/jobs/unknown", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = setup.Do(t, http.MethodGet, "/api/v1/channels/jobs/publish", token, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = setup.Do(t, http.MethodGet, "/api/v1/channels/jobs", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_NotReadyReturnsServiceUnavailable(t *testing.T) {
	store := memlink.NewMemoryServer()
	store.HoldReady()
	setup := NewTestServerSetupWith(t, store, 20*time.Millisecond)
	token := setup.GenerateTestToken(t, "worker-1", false)

	w := setup.Do(t, http.MethodGet, "/api/v1/keys/k", token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = setup.Do(t, http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var health HealthResponse
	decodeBody(t, w, &health)
	assert.False(t, health.Healthy)
	assert.Equal(t, "connecting", health.State)
}

func TestServer_Health(t *testing.T) {
	setup := NewTestServerSetup(t)
	require.NoError(t, setup.Instance.AwaitConnection(context.Background()))

	w := setup.Do(t, http.MethodGet, "/api/v1/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var health HealthResponse
	decodeBody(t, w, &health)
	assert.True(t, health.Healthy)
	assert.Equal(t, "ready", health.State)
	assert.Equal(t, "redis://localhost:6379/0", health.Target)
	assert.Len(t, health.Links, 3)
	assert.Equal(t, "ready", health.Message)
}

func TestServer_ClosedInstance(t *testing.T) {
	setup := NewTestServerSetup(t)
	token := setup.GenerateTestToken(t, "worker-1", false)
	require.NoError(t, setup.Instance.Close())

	w := setup.Do(t, http.MethodGet, "/api/v1/keys/k", token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServer_Admin(t *testing.T) {
	setup := NewTestServerSetup(t)
	ctx := context.Background()
	require.NoError(t, setup.Instance.AwaitConnection(ctx))
	_, err := setup.Instance.Listen(ctx, "jobs", func(message.Payload) {})
	require.NoError(t, err)

	user := setup.GenerateTestToken(t, "worker-1", false)
	w := setup.Do(t, http.MethodGet, "/api/v1/admin/stats", user, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	admin := setup.GenerateTestToken(t, "admin", true)
	w = setup.Do(t, http.MethodGet, "/api/v1/admin/stats", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats AdminStatsResponse
	decodeBody(t, w, &stats)
	assert.Equal(t, setup.Instance.ID(), stats.InstanceID)
	assert.Equal(t, "ready", stats.State)
	assert.Equal(t, []string{"jobs"}, stats.Channels)
	assert.Equal(t, map[string]int{"jobs": 1}, stats.Listeners)
	assert.Zero(t, stats.Streams)
}

func TestServer_AdminEvents(t *testing.T) {
	setup := NewTestServerSetup(t)
	require.NoError(t, setup.Instance.AwaitConnection(context.Background()))
	admin := setup.GenerateTestToken(t, "admin", true)

	var events AdminEventsResponse
	require.Eventually(t, func() bool {
		w := setup.Do(t, http.MethodGet, "/api/v1/admin/events", admin, nil)
		if w.Code != http.StatusOK {
			return false
		}
		decodeBody(t, w, &events)
		return events.Count >= 2
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, "client", events.Events[0].Source)
	assert.Equal(t, "connected", events.Events[0].Event)
	assert.Equal(t, "ready", events.Events[1].Event)

	w := setup.Do(t, http.MethodGet, "/api/v1/admin/events?limit=1", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &events)
	assert.Equal(t, 1, events.Count)

	w = setup.Do(t, http.MethodGet, "/api/v1/admin/events?limit=-1", admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_CORSPreflight(t *testing.T) {
	setup := NewTestServerSetup(t)

	w := setup.Do(t, http.MethodOptions, "/api/v1/keys/k", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_RecoversFromPanic(t *testing.T) {
	m := NewMiddleware(NewJWTAuth("s", 0), false)
	h := m.Recovery(func(w http.ResponseWriter, r *http.Request) { panic("boom") })

	rec := httptestRecorder()
	h(rec, httptestRequest(http.MethodGet, "/"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
