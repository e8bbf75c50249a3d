package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/rmacdonaldsmith/storemesh-go/internal/kv"
	"github.com/rmacdonaldsmith/storemesh-go/internal/lifecycle"
	"github.com/rmacdonaldsmith/storemesh-go/internal/storemesh"
	"github.com/rmacdonaldsmith/storemesh-go/pkg/message"
	storemeshpkg "github.com/rmacdonaldsmith/storemesh-go/pkg/storemesh"
)

// DefaultEventsLimit is the number of lifecycle events returned when no limit is given
const DefaultEventsLimit = 100

// Handlers contains all HTTP request handlers
type Handlers struct {
	inst         storemeshpkg.Instance
	jwtAuth      *JWTAuth
	fanout       *Fanout
	adminClients map[string]bool
	keepAlive    time.Duration
	streamBuffer int
}

// NewHandlers creates a new handlers instance
func NewHandlers(inst storemeshpkg.Instance, jwtAuth *JWTAuth, fanout *Fanout, config Config) *Handlers {
	admins := make(map[string]bool, len(config.AdminClients))
	for _, id := range config.AdminClients {
		admins[id] = true
	}
	return &Handlers{
		inst:         inst,
		jwtAuth:      jwtAuth,
		fanout:       fanout,
		adminClients: admins,
		keepAlive:    config.KeepAlive,
		streamBuffer: config.StreamBuffer,
	}
}

// Auth endpoints

// Login handles POST /api/v1/auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.validateJSON(r); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req AuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validateAuthRequest(&req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// No credential check: identity is the client ID, admin rights come from configuration.
	isAdmin := h.adminClients[req.ClientID]

	token, expiresAt, err := h.jwtAuth.GenerateToken(req.ClientID, isAdmin)
	if err != nil {
		writeError(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, AuthResponse{
		Token:     token,
		ClientID:  req.ClientID,
		IsAdmin:   isAdmin,
		ExpiresAt: expiresAt,
	}, http.StatusOK)
}

// Key endpoints

// GetValue handles GET /api/v1/keys/{key}
func (h *Handlers) GetValue(w http.ResponseWriter, r *http.Request) {
	key := GetKeyFromPath(r)
	value, found, err := h.inst.Get(r.Context(), key)
	if err != nil {
		h.writeStoreError(w, "get", err)
		return
	}
	if !found {
		writeError(w, fmt.Sprintf("Key %q not found", key), http.StatusNotFound)
		return
	}
	writeJSON(w, ValueResponse{Key: key, Value: value}, http.StatusOK)
}

// SetValue handles PUT /api/v1/keys/{key}
func (h *Handlers) SetValue(w http.ResponseWriter, r *http.Request) {
	if err := h.validateJSON(r); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req SetValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Value == nil {
		writeError(w, "value is required", http.StatusBadRequest)
		return
	}
	expire, err := kv.ParseExpiry(req.Expire.String())
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	key := GetKeyFromPath(r)
	if err := h.inst.Set(r.Context(), key, *req.Value, expire); err != nil {
		h.writeStoreError(w, "set", err)
		return
	}
	writeJSON(w, ValueResponse{Key: key, Value: *req.Value}, http.StatusOK)
}

// DeleteKeys handles DELETE /api/v1/keys and DELETE /api/v1/keys/{key}
func (h *Handlers) DeleteKeys(w http.ResponseWriter, r *http.Request) {
	var keys []string
	if key := GetKeyFromPath(r); key != "" {
		keys = []string{key}
	} else {
		var req DeleteKeysRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		keys = req.Keys
	}

	deleted, err := h.inst.Delete(r.Context(), keys...)
	if err != nil {
		h.writeStoreError(w, "delete", err)
		return
	}
	writeJSON(w, DeleteKeysResponse{Deleted: deleted}, http.StatusOK)
}

// Object endpoints

// GetObject handles GET /api/v1/objects/{key}
func (h *Handlers) GetObject(w http.ResponseWriter, r *http.Request) {
	key := GetKeyFromPath(r)
	obj, found, err := h.inst.GetObject(r.Context(), key)
	if err != nil {
		h.writeStoreError(w, "get object", err)
		return
	}
	if !found {
		writeError(w, fmt.Sprintf("Object %q not found", key), http.StatusNotFound)
		return
	}
	writeJSON(w, ObjectResponse{Key: key, Value: obj}, http.StatusOK)
}

// SetObject handles PUT /api/v1/objects/{key}
func (h *Handlers) SetObject(w http.ResponseWriter, r *http.Request) {
	if err := h.validateJSON(r); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req SetObjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body: value must be a JSON object", http.StatusBadRequest)
		return
	}
	if req.Value == nil {
		writeError(w, "value is required", http.StatusBadRequest)
		return
	}
	expire, err := kv.ParseExpiry(req.Expire.String())
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	key := GetKeyFromPath(r)
	stored, err := h.inst.SetObject(r.Context(), key, req.Value, req.Merge, expire)
	if err != nil {
		h.writeStoreError(w, "set object", err)
		return
	}
	writeJSON(w, ObjectResponse{Key: key, Value: stored}, http.StatusOK)
}

// Channel endpoints

// Publish handles POST /api/v1/channels/{channel}/publish
func (h *Handlers) Publish(w http.ResponseWriter, r *http.Request) {
	if err := h.validateJSON(r); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Payload) == 0 {
		writeError(w, "payload is required", http.StatusBadRequest)
		return
	}

	// Strings stay strings, objects and arrays become maps and slices.
	// Anything else is rejected by Publish as a type mismatch.
	var payload any
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		writeError(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	channel := GetChannelFromPath(r)
	receivers, err := h.inst.Publish(r.Context(), channel, payload)
	if err != nil {
		h.writeStoreError(w, "publish", err)
		return
	}

	writeJSON(w, PublishResponse{
		Channel:   channel,
		Receivers: receivers,
		Timestamp: time.Now(),
	}, http.StatusOK)
}

// Admin endpoints

// AdminStats handles GET /api/v1/admin/stats
func (h *Handlers) AdminStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	table := h.fanout.Table()

	streamChannels, err := table.GetChannelCount(ctx)
	if err != nil {
		writeError(w, "Failed to read routing table", http.StatusInternalServerError)
		return
	}
	streams, err := table.GetSubscriberCount(ctx)
	if err != nil {
		writeError(w, "Failed to read routing table", http.StatusInternalServerError)
		return
	}
	subs, err := table.GetAllSubscriptions(ctx)
	if err != nil {
		writeError(w, "Failed to read routing table", http.StatusInternalServerError)
		return
	}

	channels := h.inst.Channels()
	listeners := make(map[string]int, len(channels))
	for _, ch := range channels {
		listeners[ch] = h.inst.ListenerCount(ch)
	}

	writeJSON(w, AdminStatsResponse{
		InstanceID:     h.inst.ID(),
		State:          h.inst.State().String(),
		Channels:       channels,
		Listeners:      listeners,
		StreamChannels: streamChannels,
		Streams:        streams,
		Subscriptions:  len(subs),
	}, http.StatusOK)
}

// AdminEvents handles GET /api/v1/admin/events?limit={n}
func (h *Handlers) AdminEvents(w http.ResponseWriter, r *http.Request) {
	limit := DefaultEventsLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := h.inst.Events(r.Context(), limit)
	if err != nil {
		h.writeStoreError(w, "read events", err)
		return
	}

	events := make([]LifecycleEvent, 0, len(entries))
	for _, e := range entries {
		events = append(events, LifecycleEvent{
			Source:    e.Source,
			Event:     e.Event,
			Offset:    e.Offset,
			Detail:    e.Detail,
			Timestamp: e.Timestamp,
		})
	}
	writeJSON(w, AdminEventsResponse{Events: events, Count: len(events)}, http.StatusOK)
}

// Health endpoint

// Health handles GET /api/v1/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	health, err := h.inst.Health(ctx)
	if err != nil {
		writeError(w, "Failed to get health status", http.StatusInternalServerError)
		return
	}

	links := make(map[string]string, len(health.Links))
	for role, status := range health.Links {
		links[role.String()] = status.String()
	}
	streams, _ := h.fanout.Table().GetSubscriberCount(ctx)

	resp := HealthResponse{
		Healthy:   health.Healthy,
		State:     health.State.String(),
		Target:    health.Target,
		Links:     links,
		Channels:  health.Channels,
		Listeners: health.Listeners,
		Streams:   streams,
		Message:   health.Message,
	}

	statusCode := http.StatusOK
	if !health.Healthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, resp, statusCode)
}

// Helper methods

// writeStoreError maps instance errors onto HTTP status codes
func (h *Handlers) writeStoreError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		glog.Warningf("[http] %s failed: %v\n", op, err)
	}
	writeError(w, fmt.Sprintf("Failed to %s: %v", op, err), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, message.ErrTypeMismatch),
		errors.Is(err, kv.ErrNoKeys),
		errors.Is(err, kv.ErrInvalidExpiry):
		return http.StatusBadRequest
	case errors.Is(err, lifecycle.ErrConnectionTimeout),
		errors.Is(err, storemesh.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// validateJSON validates that the request has valid JSON content-type
func (h *Handlers) validateJSON(r *http.Request) error {
	contentType := r.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "application/json") {
		return fmt.Errorf("Content-Type must be application/json")
	}
	return nil
}

// validateAuthRequest validates authentication request fields
func (h *Handlers) validateAuthRequest(req *AuthRequest) error {
	if req.ClientID == "" {
		return fmt.Errorf("clientId is required")
	}
	if len(req.ClientID) < 2 {
		return fmt.Errorf("clientId must be at least 2 characters")
	}
	return nil
}

// validateChannel validates channel name format
func validateChannel(channel string) error {
	if channel == "" {
		return fmt.Errorf("channel is required")
	}
	// letters, numbers and . - _ : (the usual store key separators)
	for _, char := range channel {
		if !((char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') || char == '.' || char == '-' || char == '_' || char == ':') {
			return fmt.Errorf("channel contains invalid characters (allowed: letters, numbers, ., -, _, :)")
		}
	}
	return nil
}
