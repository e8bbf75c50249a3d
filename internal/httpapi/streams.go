package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/rmacdonaldsmith/storemesh-go/pkg/message"
	"github.com/rmacdonaldsmith/storemesh-go/pkg/routingtable"
)

const (
	// DefaultKeepAlive is the interval between SSE comments and WebSocket pings
	DefaultKeepAlive = 30 * time.Second
	// DefaultStreamBuffer is the number of messages buffered per stream before dropping
	DefaultStreamBuffer = 100

	wsWriteWait = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser origins are not restricted; streams are authenticated by token.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newStreamMessage converts a delivery into its wire form.
func newStreamMessage(d routingtable.Delivery) StreamMessage {
	msg := StreamMessage{
		ID:        ulid.Make().String(),
		Channel:   d.Channel,
		Timestamp: time.Now(),
	}
	switch p := d.Message.(type) {
	case message.Raw:
		msg.Kind = "raw"
		msg.Payload = string(p)
	case message.Structured:
		msg.Kind = "structured"
		msg.Payload = p.Value
	}
	return msg
}

// attachStream creates a subscriber for the request and attaches it to channel.
func (h *Handlers) attachStream(r *http.Request, channel string, kind routingtable.Kind) (*routingtable.StreamSubscriber, error) {
	sub := routingtable.NewStreamSubscriber(ulid.Make().String(), kind, h.streamBuffer)
	if err := h.fanout.Attach(r.Context(), channel, sub); err != nil {
		h.fanout.Detach(channel, sub.ID())
		sub.Close()
		return nil, err
	}
	glog.V(1).Infof("[http] %s stream %s for %s attached to %q\n", kind, sub.ID(), GetClientID(r), channel)
	return sub, nil
}

func (h *Handlers) detachStream(channel string, sub *routingtable.StreamSubscriber) {
	h.fanout.Detach(channel, sub.ID())
	sub.Close()
	if n := sub.Dropped(); n > 0 {
		glog.Warningf("[http] %s stream %s on %q dropped %d messages\n", sub.Kind(), sub.ID(), channel, n)
	}
	glog.V(1).Infof("[http] %s stream %s detached from %q\n", sub.Kind(), sub.ID(), channel)
}

// StreamSSE handles GET /api/v1/channels/{channel}/stream
func (h *Handlers) StreamSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	channel := GetChannelFromPath(r)
	sub, err := h.attachStream(r, channel, routingtable.KindSSE)
	if err != nil {
		h.writeStoreError(w, "listen", err)
		return
	}
	defer h.detachStream(channel, sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, ": listening on %s\n\n", channel)
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()

		case d, ok := <-sub.C():
			if !ok {
				return
			}
			if err := writeSSEMessage(w, newStreamMessage(d)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSEMessage writes a StreamMessage as an SSE "message" event
func writeSSEMessage(w http.ResponseWriter, msg StreamMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal SSE message: %w", err)
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: message\ndata: %s\n\n", msg.ID, data)
	return err
}

// StreamWebSocket handles GET /api/v1/channels/{channel}/ws.
// Messages on the channel are written as JSON text frames. Text frames
// received from the client are published on the channel as raw payloads.
func (h *Handlers) StreamWebSocket(w http.ResponseWriter, r *http.Request) {
	channel := GetChannelFromPath(r)
	sub, err := h.attachStream(r, channel, routingtable.KindWebSocket)
	if err != nil {
		h.writeStoreError(w, "listen", err)
		return
	}
	defer h.detachStream(channel, sub)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		glog.V(1).Infof("[http] websocket upgrade failed: %v\n", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.readWebSocket(ctx, cancel, conn, channel)

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
			return

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}

		case d, ok := <-sub.C():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(newStreamMessage(d)); err != nil {
				glog.V(1).Infof("[http] websocket write to %s failed: %v\n", sub.ID(), err)
				return
			}
		}
	}
}

// readWebSocket publishes inbound text frames until the connection fails.
// It is the only reader; all writes happen on the handler goroutine.
func (h *Handlers) readWebSocket(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, channel string) {
	defer cancel()

	pongWait := h.keepAlive + wsWriteWait
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				glog.V(1).Infof("[http] websocket read on %q failed: %v\n", channel, err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		if _, err := h.inst.Publish(ctx, channel, message.Raw(data)); err != nil {
			glog.Warningf("[http] websocket publish on %q failed: %v\n", channel, err)
		}
	}
}
