package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrNotAuthenticated is returned by calls that need a token before Authenticate succeeded
var ErrNotAuthenticated = errors.New("client not authenticated - call Authenticate() first")

// Client provides HTTP client for the StoreMesh gateway API
type Client struct {
	config     Config
	httpClient *http.Client
	token      string
	baseURL    *url.URL
}

// NewClient creates a new StoreMesh gateway client
func NewClient(config Config) (*Client, error) {
	config.SetDefaults()

	if config.ServerURL == "" {
		return nil, fmt.Errorf("ServerURL is required")
	}
	if config.ClientID == "" {
		return nil, fmt.Errorf("ClientID is required")
	}

	baseURL, err := url.Parse(config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		baseURL:    baseURL,
	}, nil
}

// Authenticate logs in with the configured client ID and stores the token
func (c *Client) Authenticate(ctx context.Context) (*AuthResponse, error) {
	authReq := map[string]string{
		"clientId": c.config.ClientID,
	}

	var authResp AuthResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/auth/login", authReq, &authResp, false); err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	c.token = authResp.Token
	return &authResp, nil
}

// Get returns the string stored under key. A missing key is reported with found == false.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	var resp ValueResponse
	err := c.doRequest(ctx, http.MethodGet, keyPath(key), nil, &resp, true)
	if IsNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %q: %w", key, err)
	}
	return resp.Value, true, nil
}

// Set stores value under key. A zero expire stores it without expiry.
func (c *Client) Set(ctx context.Context, key, value string, expire time.Duration) error {
	req := SetValueRequest{Value: value, Expire: int64(expire / time.Second)}
	if err := c.doRequest(ctx, http.MethodPut, keyPath(key), req, nil, true); err != nil {
		return fmt.Errorf("failed to set %q: %w", key, err)
	}
	return nil
}

// Delete removes keys and returns how many of them existed
func (c *Client) Delete(ctx context.Context, keys ...string) (int64, error) {
	var resp DeleteKeysResponse
	if err := c.doRequest(ctx, http.MethodDelete, "/api/v1/keys", DeleteKeysRequest{Keys: keys}, &resp, true); err != nil {
		return 0, fmt.Errorf("failed to delete keys: %w", err)
	}
	return resp.Deleted, nil
}

// GetObject returns the JSON object stored under key. Missing keys and
// values that are not objects are reported with found == false.
func (c *Client) GetObject(ctx context.Context, key string) (map[string]any, bool, error) {
	var resp ObjectResponse
	err := c.doRequest(ctx, http.MethodGet, objectPath(key), nil, &resp, true)
	if IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get object %q: %w", key, err)
	}
	return resp.Value, true, nil
}

// SetObject stores value under key and returns what was stored, which
// includes the previous fields when merge is set.
func (c *Client) SetObject(ctx context.Context, key string, value map[string]any, merge bool, expire time.Duration) (map[string]any, error) {
	req := SetObjectRequest{Value: value, Merge: merge, Expire: int64(expire / time.Second)}
	var resp ObjectResponse
	if err := c.doRequest(ctx, http.MethodPut, objectPath(key), req, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to set object %q: %w", key, err)
	}
	return resp.Value, nil
}

// Publish sends payload on channel
func (c *Client) Publish(ctx context.Context, channel string, payload any) (*PublishResponse, error) {
	var resp PublishResponse
	path := "/api/v1/channels/" + url.PathEscape(channel) + "/publish"
	if err := c.doRequest(ctx, http.MethodPost, path, PublishRequest{Payload: payload}, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to publish: %w", err)
	}
	return &resp, nil
}

// GetHealth returns the gateway health. An unhealthy gateway answers 503
// with a health body; that body is returned together with the API error.
func (c *Client) GetHealth(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	err := c.doRequest(ctx, http.MethodGet, "/api/v1/health", nil, &resp, false)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable {
		return &resp, apiErr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get health status: %w", err)
	}
	return &resp, nil
}

// Admin Methods (require admin token)

// AdminGetStats returns gateway statistics (admin only)
func (c *Client) AdminGetStats(ctx context.Context) (*AdminStatsResponse, error) {
	var resp AdminStatsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/admin/stats", nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return &resp, nil
}

// AdminGetEvents returns up to limit recent lifecycle events (admin only).
// A limit of zero uses the gateway default.
func (c *Client) AdminGetEvents(ctx context.Context, limit int) (*AdminEventsResponse, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp AdminEventsResponse
	if err := c.doRequestWithQuery(ctx, http.MethodGet, "/api/v1/admin/events", query, nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	return &resp, nil
}

func keyPath(key string) string {
	return "/api/v1/keys/" + url.PathEscape(key)
}

func objectPath(key string) string {
	return "/api/v1/objects/" + url.PathEscape(key)
}

// IsNotFound reports whether err is an API error with status 404
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// doRequestWithQuery performs an HTTP request with query parameters and optional authentication
func (c *Client) doRequestWithQuery(ctx context.Context, method, path string, queryParams url.Values, reqBody any, respBody any, requireAuth bool) error {
	if requireAuth && c.token == "" {
		return ErrNotAuthenticated
	}

	u := c.resolve(path)
	if len(queryParams) > 0 {
		u.RawQuery = queryParams.Encode()
	}

	var bodyReader io.Reader
	if reqBody != nil {
		bodyBytes, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requireAuth {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if jsonErr := json.Unmarshal(respBytes, apiErr); jsonErr != nil || (apiErr.Err == "" && apiErr.Message == "") {
			apiErr.Err = http.StatusText(resp.StatusCode)
			apiErr.Message = string(respBytes)
		}
		// Health reports its body alongside the status.
		if respBody != nil && resp.StatusCode == http.StatusServiceUnavailable {
			_ = json.Unmarshal(respBytes, respBody)
		}
		return apiErr
	}

	if respBody != nil && len(respBytes) > 0 {
		if err := json.Unmarshal(respBytes, respBody); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}

// doRequest performs an HTTP request with optional authentication
func (c *Client) doRequest(ctx context.Context, method, path string, reqBody any, respBody any, requireAuth bool) error {
	return c.doRequestWithQuery(ctx, method, path, nil, reqBody, respBody, requireAuth)
}

// resolve joins an escaped API path onto the base URL, keeping escaped
// segments such as %2F inside a key intact.
func (c *Client) resolve(escaped string) *url.URL {
	p, err := url.PathUnescape(escaped)
	if err != nil {
		p = escaped
	}
	return c.baseURL.ResolveReference(&url.URL{Path: p, RawPath: escaped})
}

// GetToken returns the current authentication token
func (c *Client) GetToken() string {
	return c.token
}

// SetToken sets the authentication token (useful for testing or token reuse)
func (c *Client) SetToken(token string) {
	c.token = token
}

// IsAuthenticated returns true if the client has a token
func (c *Client) IsAuthenticated() bool {
	return c.token != ""
}
