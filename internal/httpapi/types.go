package httpapi

import (
	"encoding/json"
	"time"
)

// Request/Response types for the HTTP API

// AuthRequest represents a login request
type AuthRequest struct {
	ClientID string `json:"clientId"`
}

// AuthResponse represents a login response
type AuthResponse struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	IsAdmin   bool      `json:"isAdmin"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ValueResponse is the body of GET /api/v1/keys/{key}
type ValueResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// SetValueRequest is the body of PUT /api/v1/keys/{key}.
// Expire is a whole number of seconds; empty or absent means no expiry.
type SetValueRequest struct {
	Value  *string     `json:"value"`
	Expire json.Number `json:"expire,omitempty"`
}

// DeleteKeysRequest is the body of DELETE /api/v1/keys
type DeleteKeysRequest struct {
	Keys []string `json:"keys"`
}

// DeleteKeysResponse reports how many of the requested keys existed
type DeleteKeysResponse struct {
	Deleted int64 `json:"deleted"`
}

// ObjectResponse is returned by the object endpoints
type ObjectResponse struct {
	Key   string         `json:"key"`
	Value map[string]any `json:"value"`
}

// SetObjectRequest is the body of PUT /api/v1/objects/{key}
type SetObjectRequest struct {
	Value  map[string]any `json:"value"`
	Merge  bool           `json:"merge,omitempty"`
	Expire json.Number    `json:"expire,omitempty"`
}

// PublishRequest is the body of POST /api/v1/channels/{channel}/publish.
// A JSON string payload is published raw; objects and arrays are structured.
type PublishRequest struct {
	Payload json.RawMessage `json:"payload"`
}

// PublishResponse reports how many store subscribers received a message
type PublishResponse struct {
	Channel   string    `json:"channel"`
	Receivers int64     `json:"receivers"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Healthy   bool              `json:"healthy"`
	State     string            `json:"state"`
	Target    string            `json:"target"`
	Links     map[string]string `json:"links"`
	Channels  int               `json:"channels"`
	Listeners int               `json:"listeners"`
	Streams   int               `json:"streams"`
	Message   string            `json:"message"`
}

// AdminStatsResponse represents gateway statistics
type AdminStatsResponse struct {
	InstanceID     string         `json:"instanceId"`
	State          string         `json:"state"`
	Channels       []string       `json:"channels"`
	Listeners      map[string]int `json:"listeners"`
	StreamChannels int            `json:"streamChannels"`
	Streams        int            `json:"streams"`
	Subscriptions  int            `json:"subscriptions"`
}

// LifecycleEvent is one journaled lifecycle event
type LifecycleEvent struct {
	Source    string    `json:"source"`
	Event     string    `json:"event"`
	Offset    int64     `json:"offset"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AdminEventsResponse lists recent lifecycle events, oldest first
type AdminEventsResponse struct {
	Events []LifecycleEvent `json:"events"`
	Count  int              `json:"count"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// StreamMessage is one channel message delivered over SSE or WebSocket.
// Structured payloads are sent as JSON values, raw payloads as strings.
type StreamMessage struct {
	ID        string    `json:"id"`
	Channel   string    `json:"channel"`
	Kind      string    `json:"kind"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}
