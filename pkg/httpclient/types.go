package httpclient

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config holds client configuration
type Config struct {
	// ServerURL is the base URL of the StoreMesh gateway (e.g., "http://localhost:8080")
	ServerURL string

	// ClientID is the identifier this client logs in with
	ClientID string

	// Timeout for HTTP requests; streams are not subject to it
	Timeout time.Duration
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// APIError is returned for responses with a status of 400 or above
type APIError struct {
	StatusCode int
	Err        string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// AuthResponse represents the response from authentication
type AuthResponse struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	IsAdmin   bool      `json:"isAdmin"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ValueResponse is a stored string value
type ValueResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// SetValueRequest stores a string value; Expire is in whole seconds, 0 for none
type SetValueRequest struct {
	Value  string `json:"value"`
	Expire int64  `json:"expire,omitempty"`
}

// DeleteKeysRequest deletes several keys at once
type DeleteKeysRequest struct {
	Keys []string `json:"keys"`
}

// DeleteKeysResponse reports how many keys existed
type DeleteKeysResponse struct {
	Deleted int64 `json:"deleted"`
}

// ObjectResponse is a stored JSON object
type ObjectResponse struct {
	Key   string         `json:"key"`
	Value map[string]any `json:"value"`
}

// SetObjectRequest stores a JSON object, optionally merged over the stored one
type SetObjectRequest struct {
	Value  map[string]any `json:"value"`
	Merge  bool           `json:"merge,omitempty"`
	Expire int64          `json:"expire,omitempty"`
}

// PublishRequest publishes a payload: a string is sent raw, an object or array structured
type PublishRequest struct {
	Payload any `json:"payload"`
}

// PublishResponse reports how many store subscribers received a message
type PublishResponse struct {
	Channel   string    `json:"channel"`
	Receivers int64     `json:"receivers"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse represents the gateway health
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

// StreamMessage is one channel message received from a stream.
// Kind is "raw" for string payloads and "structured" for JSON values.
type StreamMessage struct {
	ID        string          `json:"id"`
	Channel   string          `json:"channel"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Text returns a raw payload as a string, or structured payloads as JSON text.
func (m StreamMessage) Text() string {
	if m.Kind == "raw" {
		var s string
		if err := json.Unmarshal(m.Payload, &s); err == nil {
			return s
		}
	}
	return string(m.Payload)
}
