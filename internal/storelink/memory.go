package storelink

import (
	"context"
	"sync"
	"time"

	"github.com/rmacdonaldsmith/storemesh-go/pkg/storelink"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryServer is an in-process store shared by every MemoryLink dialed
// from it. It backs the gateway's --memory mode and the test suites.
//
// Readiness can be held back with HoldReady to exercise the readiness gate.
type MemoryServer struct {
	mu       sync.Mutex
	values   map[string]memoryEntry
	channels map[string]map[*MemoryLink]struct{}
	links    []*MemoryLink
	gate     chan struct{}
	now      func() time.Time
}

// NewMemoryServer creates an empty server whose links become ready immediately.
func NewMemoryServer() *MemoryServer {
	gate := make(chan struct{})
	close(gate)
	return &MemoryServer{
		values:   make(map[string]memoryEntry),
		channels: make(map[string]map[*MemoryLink]struct{}),
		gate:     gate,
		now:      time.Now,
	}
}

// Dial creates an unopened link attached to this server.
func (s *MemoryServer) Dial(opts storelink.Options) (storelink.Link, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	o := opts
	o.SetDefaults()
	return s.newLink(o), nil
}

func (s *MemoryServer) newLink(opts storelink.Options) *MemoryLink {
	l := &MemoryLink{
		server:     s,
		opts:       opts,
		events:     newLinkEvents(),
		subscribed: make(map[string]struct{}),
		stop:       make(chan struct{}),
	}
	s.mu.Lock()
	s.links = append(s.links, l)
	s.mu.Unlock()
	return l
}

// Links returns every link dialed or duplicated from this server, in creation order.
func (s *MemoryServer) Links() []*MemoryLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*MemoryLink(nil), s.links...)
}

// HoldReady keeps links that open from now on in the connecting state.
func (s *MemoryServer) HoldReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.gate:
		s.gate = make(chan struct{})
	default:
	}
}

// ReleaseReady lets held links become ready.
func (s *MemoryServer) ReleaseReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.gate:
	default:
		close(s.gate)
	}
}

// SetClock replaces the clock used for key expiry.
func (s *MemoryServer) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetRaw stores a value directly, bypassing any link.
func (s *MemoryServer) SetRaw(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = memoryEntry{value: value}
}

// TTL returns the remaining lifetime of a key, or false if it has none.
func (s *MemoryServer) TTL(key string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if !ok || e.expiresAt.IsZero() {
		return 0, false
	}
	return e.expiresAt.Sub(s.now()), true
}

func (s *MemoryServer) readyGate() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gate
}

// lookup must be called with s.mu held.
func (s *MemoryServer) lookup(key string) (memoryEntry, bool) {
	e, ok := s.values[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.values, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (s *MemoryServer) get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	return e.value, ok
}

func (s *MemoryServer) set(key, value string, expiry time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := memoryEntry{value: value}
	if expiry > 0 {
		e.expiresAt = s.now().Add(expiry)
	}
	s.values[key] = e
}

func (s *MemoryServer) del(keys []string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := s.lookup(k); ok {
			delete(s.values, k)
			n++
		}
	}
	return n
}

func (s *MemoryServer) subscribe(l *MemoryLink, channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.channels[channel]
	if !ok {
		set = make(map[*MemoryLink]struct{})
		s.channels[channel] = set
	}
	set[l] = struct{}{}
}

func (s *MemoryServer) unsubscribeAll(l *MemoryLink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for channel, set := range s.channels {
		delete(set, l)
		if len(set) == 0 {
			delete(s.channels, channel)
		}
	}
}

func (s *MemoryServer) publish(channel, payload string) int64 {
	s.mu.Lock()
	receivers := make([]*MemoryLink, 0, len(s.channels[channel]))
	for l := range s.channels[channel] {
		receivers = append(receivers, l)
	}
	s.mu.Unlock()

	for _, l := range receivers {
		l.events.emitMessage(channel, payload)
	}
	return int64(len(receivers))
}

// MemoryLink is a storelink.Link backed by a MemoryServer.
type MemoryLink struct {
	server *MemoryServer
	opts   storelink.Options
	events linkEvents

	mu         sync.Mutex
	status     storelink.Status
	opened     bool
	closed     bool
	subscribed map[string]struct{}
	stop       chan struct{}
}

// Target describes the configured connection target.
func (l *MemoryLink) Target() string {
	return l.opts.Target()
}

// Status returns the current connection state.
func (l *MemoryLink) Status() storelink.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// On registers a handler for a raw lifecycle event.
func (l *MemoryLink) On(event storelink.Event, handler storelink.EventHandler) {
	l.events.on(event, handler)
}

// OnMessage registers a handler for inbound messages.
func (l *MemoryLink) OnMessage(handler storelink.MessageHandler) {
	l.events.onMessage(handler)
}

// Open starts connecting.
func (l *MemoryLink) Open() {
	l.mu.Lock()
	if l.opened || l.closed {
		l.mu.Unlock()
		return
	}
	l.opened = true
	l.mu.Unlock()

	go l.connect()
}

func (l *MemoryLink) connect() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.status = storelink.StatusConnecting
	l.mu.Unlock()
	l.events.emit(storelink.EventConnect)

	select {
	case <-l.server.readyGate():
	case <-l.stop:
		return
	}

	l.mu.Lock()
	if l.closed || l.status != storelink.StatusConnecting {
		l.mu.Unlock()
		return
	}
	l.status = storelink.StatusReady
	l.mu.Unlock()
	l.events.emit(storelink.EventReady)
}

// Fail puts the link into the error state and reports err, as a broken
// connection would.
func (l *MemoryLink) Fail(err error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.status = storelink.StatusError
	l.mu.Unlock()
	l.events.emitError(err)
}

// Duplicate creates a new, unopened link on the same server.
func (l *MemoryLink) Duplicate() (storelink.Link, error) {
	return l.server.newLink(l.opts), nil
}

// Disconnect drops the link. Without force the link reconnects.
func (l *MemoryLink) Disconnect(force bool) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.status = storelink.StatusDisconnected
	if force {
		l.closed = true
		close(l.stop)
	}
	l.mu.Unlock()

	if force {
		l.server.unsubscribeAll(l)
	}
	l.events.emit(storelink.EventDisconnect)
	if !force {
		go l.connect()
	}
	return nil
}

// Close force-disconnects the link and stops event delivery.
func (l *MemoryLink) Close() error {
	err := l.Disconnect(true)
	l.events.close()
	return err
}

func (l *MemoryLink) checkOpen(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLinkClosed
	}
	return nil
}

// Get returns the value of key, or found == false.
func (l *MemoryLink) Get(ctx context.Context, key string) (string, bool, error) {
	if err := l.checkOpen(ctx); err != nil {
		return "", false, err
	}
	v, ok := l.server.get(key)
	return v, ok, nil
}

// Set stores value under key without expiry.
func (l *MemoryLink) Set(ctx context.Context, key, value string) error {
	if err := l.checkOpen(ctx); err != nil {
		return err
	}
	l.server.set(key, value, 0)
	return nil
}

// SetWithExpiry stores value under key for the given duration.
func (l *MemoryLink) SetWithExpiry(ctx context.Context, key, value string, expiry time.Duration) error {
	if err := l.checkOpen(ctx); err != nil {
		return err
	}
	l.server.set(key, value, expiry)
	return nil
}

// Delete removes keys and returns how many existed.
func (l *MemoryLink) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, ErrNoKeys
	}
	if err := l.checkOpen(ctx); err != nil {
		return 0, err
	}
	return l.server.del(keys), nil
}

// Publish sends payload to every link subscribed to channel.
func (l *MemoryLink) Publish(ctx context.Context, channel, payload string) (int64, error) {
	if err := l.checkOpen(ctx); err != nil {
		return 0, err
	}
	return l.server.publish(channel, payload), nil
}

// Subscribe adds channel to this link's subscriptions.
func (l *MemoryLink) Subscribe(ctx context.Context, channel string) (int64, error) {
	if err := l.checkOpen(ctx); err != nil {
		return 0, err
	}
	l.server.subscribe(l, channel)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.subscribed[channel] = struct{}{}
	return int64(len(l.subscribed)), nil
}

var (
	_ storelink.Link   = (*MemoryLink)(nil)
	_ storelink.Dialer = (*MemoryServer)(nil)
)
