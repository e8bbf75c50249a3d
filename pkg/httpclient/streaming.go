package httpclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// StreamClient receives channel messages from the gateway over Server-Sent Events
type StreamClient struct {
	client  *Client
	channel string
	events  chan StreamMessage
	errors  chan error
	done    chan struct{}
	cancel  context.CancelFunc
}

// StreamConfig configures the streaming client
type StreamConfig struct {
	// BufferSize for the message channel
	BufferSize int

	// ReconnectDelay for automatic reconnection
	ReconnectDelay time.Duration

	// MaxReconnectAttempts (0 = infinite)
	MaxReconnectAttempts int
}

// SetDefaults sets reasonable default values for StreamConfig
func (sc *StreamConfig) SetDefaults() {
	if sc.BufferSize == 0 {
		sc.BufferSize = 100
	}
	if sc.ReconnectDelay == 0 {
		sc.ReconnectDelay = 2 * time.Second
	}
}

// Stream starts listening on channel. The gateway subscribes on first use,
// so messages published before the stream is established are not received.
func (c *Client) Stream(ctx context.Context, channel string, config StreamConfig) (*StreamClient, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}
	if channel == "" {
		return nil, fmt.Errorf("channel is required")
	}

	config.SetDefaults()
	streamCtx, cancel := context.WithCancel(ctx)

	streamClient := &StreamClient{
		client:  c,
		channel: channel,
		events:  make(chan StreamMessage, config.BufferSize),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
		cancel:  cancel,
	}

	go streamClient.startStreaming(streamCtx, config)

	return streamClient, nil
}

// Messages returns the channel for receiving messages
func (sc *StreamClient) Messages() <-chan StreamMessage {
	return sc.events
}

// Errors returns the channel for receiving errors
func (sc *StreamClient) Errors() <-chan error {
	return sc.errors
}

// Done returns a channel that's closed when streaming ends
func (sc *StreamClient) Done() <-chan struct{} {
	return sc.done
}

// Close stops the streaming client and waits for it to finish
func (sc *StreamClient) Close() error {
	sc.cancel()
	<-sc.done
	return nil
}

// startStreaming handles the SSE streaming loop with reconnection
func (sc *StreamClient) startStreaming(ctx context.Context, config StreamConfig) {
	defer close(sc.done)
	defer close(sc.events)
	defer close(sc.errors)

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := sc.connectAndStream(ctx); err != nil && ctx.Err() == nil {
			sc.report(fmt.Errorf("streaming error: %w", err))
		}

		if config.MaxReconnectAttempts > 0 && attempts >= config.MaxReconnectAttempts {
			sc.report(fmt.Errorf("max reconnect attempts (%d) exceeded", config.MaxReconnectAttempts))
			return
		}
		attempts++

		select {
		case <-time.After(config.ReconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

// report never blocks; errors are dropped when nobody reads them
func (sc *StreamClient) report(err error) {
	select {
	case sc.errors <- err:
	default:
	}
}

// connectAndStream establishes the SSE connection and processes messages
func (sc *StreamClient) connectAndStream(ctx context.Context) error {
	streamURL := sc.client.resolve("/api/v1/channels/" + url.PathEscape(sc.channel) + "/stream")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create streaming request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Authorization", "Bearer "+sc.client.token)

	// The client timeout would cut the stream, so only the context bounds it.
	httpClient := *sc.client.httpClient
	httpClient.Timeout = 0

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		body, _ := io.ReadAll(resp.Body)
		if err := json.Unmarshal(body, apiErr); err != nil {
			apiErr.Message = string(body)
		}
		return apiErr
	}

	return sc.processSSEStream(ctx, resp.Body)
}

// processSSEStream reads and parses Server-Sent Events
func (sc *StreamClient) processSSEStream(ctx context.Context, reader io.Reader) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var msg StreamMessage
			err := json.Unmarshal([]byte(data.String()), &msg)
			data.Reset()
			if err != nil {
				sc.report(fmt.Errorf("failed to parse message: %w", err))
				continue
			}
			select {
			case sc.events <- msg:
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			// Comments (keepalives) and the id: and event: fields carry
			// nothing the message body does not already have.
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading SSE stream: %w", err)
	}
	return io.ErrUnexpectedEOF
}
