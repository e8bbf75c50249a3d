package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rmacdonaldsmith/storemesh-go/internal/routingtable"
	"github.com/rmacdonaldsmith/storemesh-go/pkg/storemesh"
)

// DefaultPort is the gateway's listen port when none is configured
const DefaultPort = "8080"

const (
	keysPath     = "/api/v1/keys"
	objectsPath  = "/api/v1/objects/"
	channelsPath = "/api/v1/channels/"
)

// Server represents the HTTP API server
type Server struct {
	inst       storemesh.Instance
	jwtAuth    *JWTAuth
	handlers   *Handlers
	middleware *Middleware
	fanout     *Fanout
	table      *routingtable.InMemoryRoutingTable
	server     *http.Server
}

// Config holds server configuration
type Config struct {
	Port      string
	SecretKey string
	// NoAuth skips token checks on non-admin endpoints (development only)
	NoAuth bool
	// AdminClients are the client IDs issued admin tokens at login
	AdminClients []string
	// KeepAlive is the SSE comment and WebSocket ping interval
	KeepAlive time.Duration
	// StreamBuffer is the per-stream delivery buffer
	StreamBuffer int
	// TokenTTL is the lifetime of issued tokens
	TokenTTL time.Duration
}

// SetDefaults fills unset fields
func (c *Config) SetDefaults() {
	if c.Port == "" {
		c.Port = DefaultPort
	}
	if c.SecretKey == "" {
		c.SecretKey = "storemesh-dev-secret-key-change-in-production"
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = DefaultKeepAlive
	}
	if c.StreamBuffer <= 0 {
		c.StreamBuffer = DefaultStreamBuffer
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = DefaultTokenTTL
	}
}

// NewServer creates a new HTTP API server over inst
func NewServer(inst storemesh.Instance, config Config) *Server {
	config.SetDefaults()

	jwtAuth := NewJWTAuth(config.SecretKey, config.TokenTTL)
	table := routingtable.NewInMemoryRoutingTable()
	fanout := NewFanout(inst, table)

	server := &Server{
		inst:       inst,
		jwtAuth:    jwtAuth,
		handlers:   NewHandlers(inst, jwtAuth, fanout, config),
		middleware: NewMiddleware(jwtAuth, config.NoAuth),
		fanout:     fanout,
		table:      table,
	}

	// Request contexts end when shutdown starts so open streams return.
	baseCtx, cancel := context.WithCancel(context.Background())

	server.server = &http.Server{
		Addr:        ":" + config.Port,
		Handler:     server.setupRoutes(),
		BaseContext: func(net.Listener) context.Context { return baseCtx },
		ReadTimeout: 30 * time.Second,
		// Streams stay open indefinitely, so writes have no deadline.
		WriteTimeout:   0,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}
	server.server.RegisterOnShutdown(cancel)
	return server
}

// Handler returns the routed and wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Serve accepts connections on l until Stop is called
func (s *Server) Serve(l net.Listener) error {
	return s.server.Serve(l)
}

// Stop gracefully stops the HTTP server and releases the stream routing table
func (s *Server) Stop(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	s.table.Close()
	return err
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Apply global middleware
	withMiddleware := func(handler http.HandlerFunc) http.Handler {
		return s.middleware.Recovery(
			s.middleware.RequestID(
				s.middleware.Logging(
					s.middleware.CORS(
						s.middleware.ContentType(handler)))))
	}

	// Authentication endpoints (no auth required)
	mux.Handle("/api/v1/auth/login", withMiddleware(s.handlers.Login))

	// Key/value endpoints (auth required)
	mux.Handle(keysPath, withMiddleware(s.middleware.AuthRequired(s.handleKeys)))
	mux.Handle(keysPath+"/", withMiddleware(s.middleware.AuthRequired(s.handleKeyByName)))
	mux.Handle(objectsPath, withMiddleware(s.middleware.AuthRequired(s.handleObjectByName)))

	// Channel endpoints (auth required)
	mux.Handle(channelsPath, withMiddleware(s.middleware.AuthRequired(s.handleChannel)))

	// Admin endpoints (admin auth required)
	mux.Handle("/api/v1/admin/stats", withMiddleware(s.middleware.AdminRequired(s.handlers.AdminStats)))
	mux.Handle("/api/v1/admin/events", withMiddleware(s.middleware.AdminRequired(s.handlers.AdminEvents)))

	// Health endpoint (no auth required)
	mux.Handle("/api/v1/health", withMiddleware(s.handlers.Health))

	// Root endpoint with API info
	mux.Handle("/", withMiddleware(s.handleRoot))

	return mux
}

// Route handlers that dispatch based on HTTP method

// handleKeys handles DELETE /api/v1/keys with a list of keys in the body
func (s *Server) handleKeys(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodDelete:
		s.handlers.DeleteKeys(w, r)
	default:
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleKeyByName handles individual key operations
func (s *Server) handleKeyByName(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, keysPath+"/")
	if key == "" {
		writeError(w, "Key name required", http.StatusBadRequest)
		return
	}
	r = r.WithContext(context.WithValue(r.Context(), KeyNameKey, key))

	switch r.Method {
	case http.MethodGet:
		s.handlers.GetValue(w, r)
	case http.MethodPut:
		s.handlers.SetValue(w, r)
	case http.MethodDelete:
		s.handlers.DeleteKeys(w, r)
	default:
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleObjectByName handles JSON object operations
func (s *Server) handleObjectByName(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, objectsPath)
	if key == "" {
		writeError(w, "Key name required", http.StatusBadRequest)
		return
	}
	r = r.WithContext(context.WithValue(r.Context(), KeyNameKey, key))

	switch r.Method {
	case http.MethodGet:
		s.handlers.GetObject(w, r)
	case http.MethodPut:
		s.handlers.SetObject(w, r)
	default:
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleChannel handles channel operations
func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	// Parse channel from URL path: /api/v1/channels/{channel}/{action}
	rest := strings.TrimPrefix(r.URL.Path, channelsPath)
	idx := strings.LastIndex(rest, "/")
	if idx <= 0 {
		writeError(w, "Invalid path, expected /api/v1/channels/{channel}/{publish|stream|ws}", http.StatusNotFound)
		return
	}
	channel, action := rest[:idx], rest[idx+1:]
	if err := validateChannel(channel); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	r = r.WithContext(context.WithValue(r.Context(), ChannelKey, channel))

	switch {
	case action == "publish" && r.Method == http.MethodPost:
		s.handlers.Publish(w, r)
	case action == "stream" && r.Method == http.MethodGet:
		s.handlers.StreamSSE(w, r)
	case action == "ws" && r.Method == http.MethodGet:
		s.handlers.StreamWebSocket(w, r)
	case action == "publish" || action == "stream" || action == "ws":
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	default:
		writeError(w, "Unknown channel action: "+action, http.StatusNotFound)
	}
}

// handleRoot provides API information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, "Not found", http.StatusNotFound)
		return
	}

	info := map[string]interface{}{
		"service":     "StoreMesh HTTP API",
		"version":     "1.0.0",
		"instance":    s.inst.ID(),
		"description": "HTTP gateway for readiness-gated key/value and pub/sub operations",
		"endpoints": map[string]interface{}{
			"auth": map[string]string{
				"login": "POST /api/v1/auth/login",
			},
			"keys": map[string]string{
				"get":    "GET /api/v1/keys/{key}",
				"set":    "PUT /api/v1/keys/{key}",
				"delete": "DELETE /api/v1/keys/{key} | DELETE /api/v1/keys",
			},
			"objects": map[string]string{
				"get": "GET /api/v1/objects/{key}",
				"set": "PUT /api/v1/objects/{key}",
			},
			"channels": map[string]string{
				"publish":   "POST /api/v1/channels/{channel}/publish",
				"stream":    "GET /api/v1/channels/{channel}/stream",
				"websocket": "GET /api/v1/channels/{channel}/ws",
			},
			"admin": map[string]string{
				"stats":  "GET /api/v1/admin/stats",
				"events": "GET /api/v1/admin/events?limit={limit}",
			},
			"health": "GET /api/v1/health",
		},
		"authentication": "Bearer JWT token required for most endpoints",
	}

	writeJSON(w, info, http.StatusOK)
}
