package storelink

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/redis/go-redis/v9"

	"github.com/rmacdonaldsmith/storemesh-go/pkg/storelink"
)

// RedisDialer dials links to a Redis server with go-redis.
type RedisDialer struct{}

// Dial creates an unopened RedisLink.
func (RedisDialer) Dial(opts storelink.Options) (storelink.Link, error) {
	return NewRedisLink(opts)
}

// RedisLink implements storelink.Link on top of a go-redis client.
//
// go-redis dials lazily, so the link probes the server with PING to drive
// its lifecycle: the first successful probe reports connect and ready, a
// failed probe reports error (and disconnect if the link was ready). The
// probe repeats every HealthInterval while ready and every RetryInterval
// otherwise.
type RedisLink struct {
	opts      storelink.Options
	redisOpts *redis.Options
	events    linkEvents

	mu         sync.Mutex
	client     *redis.Client
	pubsub     *redis.PubSub
	subscribed map[string]struct{}
	status     storelink.Status
	opened     bool
	closed     bool
	cancel     context.CancelFunc
	reconnect  chan struct{}
}

// NewRedisLink creates an unopened link for the given target.
func NewRedisLink(opts storelink.Options) (*RedisLink, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid link options: %w", err)
	}
	o := opts
	o.SetDefaults()

	redisOpts, err := redisOptions(o)
	if err != nil {
		return nil, err
	}

	return &RedisLink{
		opts:       o,
		redisOpts:  redisOpts,
		events:     newLinkEvents(),
		client:     redis.NewClient(redisOpts),
		subscribed: make(map[string]struct{}),
		reconnect:  make(chan struct{}, 1),
	}, nil
}

func redisOptions(o storelink.Options) (*redis.Options, error) {
	var ro *redis.Options
	if o.URL != "" {
		parsed, err := redis.ParseURL(o.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse connection URL: %w", err)
		}
		ro = parsed
	} else {
		ro = &redis.Options{
			Addr:     o.Addr(),
			Username: o.Username,
			Password: o.Password,
			DB:       o.Database,
		}
		if o.TLS {
			ro.TLSConfig = &tls.Config{
				ServerName: o.Host,
				MinVersion: tls.VersionTLS12,
			}
		}
	}
	ro.DialTimeout = o.DialTimeout
	return ro, nil
}

// Target describes the configured connection target.
func (l *RedisLink) Target() string {
	return l.opts.Target()
}

// Status returns the current connection state.
func (l *RedisLink) Status() storelink.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// On registers a handler for a raw lifecycle event.
func (l *RedisLink) On(event storelink.Event, handler storelink.EventHandler) {
	l.events.on(event, handler)
}

// OnMessage registers a handler for inbound messages.
func (l *RedisLink) OnMessage(handler storelink.MessageHandler) {
	l.events.onMessage(handler)
}

// Open starts the probe loop.
func (l *RedisLink) Open() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.opened || l.closed {
		return
	}
	l.opened = true
	l.status = storelink.StatusConnecting

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	go l.run(ctx)
}

func (l *RedisLink) run(ctx context.Context) {
	for {
		delay := l.opts.HealthInterval
		if err := l.ping(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			l.lost(err)
			delay = l.opts.RetryInterval
		} else {
			l.established(ctx)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-l.reconnect:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (l *RedisLink) ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, l.opts.DialTimeout)
	defer cancel()
	return l.conn().Ping(pingCtx).Err()
}

func (l *RedisLink) established(ctx context.Context) {
	l.mu.Lock()
	if l.closed || l.status == storelink.StatusReady {
		l.mu.Unlock()
		return
	}
	l.status = storelink.StatusReady
	resubscribe := make([]string, 0, len(l.subscribed))
	if l.pubsub == nil {
		for channel := range l.subscribed {
			resubscribe = append(resubscribe, channel)
		}
	}
	l.mu.Unlock()

	glog.V(1).Infof("[redis] %s ready\n", l.Target())
	l.events.emit(storelink.EventConnect)
	l.events.emit(storelink.EventReady)

	for _, channel := range resubscribe {
		if _, err := l.Subscribe(ctx, channel); err != nil {
			glog.Warningf("[redis] %s resubscribe %s error = %v\n", l.Target(), channel, err)
		}
	}
}

func (l *RedisLink) lost(err error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	wasReady := l.status == storelink.StatusReady
	l.status = storelink.StatusError
	l.mu.Unlock()

	glog.Infof("[redis] %s error = %v\n", l.Target(), err)
	if wasReady {
		l.events.emit(storelink.EventDisconnect)
	}
	l.events.emitError(err)
}

func (l *RedisLink) conn() *redis.Client {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.client
}

// Duplicate creates a new, unopened link with the same options.
func (l *RedisLink) Duplicate() (storelink.Link, error) {
	return NewRedisLink(l.opts)
}

// Disconnect closes the underlying client. Without force a fresh client is
// created and the probe loop reconnects it immediately.
func (l *RedisLink) Disconnect(force bool) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	old, ps := l.client, l.pubsub
	l.pubsub = nil
	if force {
		l.closed = true
		l.status = storelink.StatusDisconnected
		if l.cancel != nil {
			l.cancel()
		}
	} else {
		l.client = redis.NewClient(l.redisOpts)
		l.status = storelink.StatusConnecting
	}
	l.mu.Unlock()

	var errs []error
	if ps != nil {
		errs = append(errs, ps.Close())
	}
	errs = append(errs, old.Close())

	l.events.emit(storelink.EventDisconnect)
	if !force {
		select {
		case l.reconnect <- struct{}{}:
		default:
		}
	}
	return errors.Join(errs...)
}

// Close force-disconnects the link and stops event delivery.
func (l *RedisLink) Close() error {
	err := l.Disconnect(true)
	l.events.close()
	return err
}

func (l *RedisLink) checkOpen() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLinkClosed
	}
	return nil
}

// Get returns the value of key, or found == false for a missing key.
func (l *RedisLink) Get(ctx context.Context, key string) (string, bool, error) {
	if err := l.checkOpen(); err != nil {
		return "", false, err
	}
	v, err := l.conn().Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Set stores value under key without expiry.
func (l *RedisLink) Set(ctx context.Context, key, value string) error {
	if err := l.checkOpen(); err != nil {
		return err
	}
	return l.conn().Set(ctx, key, value, 0).Err()
}

// SetWithExpiry stores value under key with a TTL.
func (l *RedisLink) SetWithExpiry(ctx context.Context, key, value string, expiry time.Duration) error {
	if err := l.checkOpen(); err != nil {
		return err
	}
	return l.conn().Set(ctx, key, value, expiry).Err()
}

// Delete removes keys and returns how many existed.
func (l *RedisLink) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, ErrNoKeys
	}
	if err := l.checkOpen(); err != nil {
		return 0, err
	}
	return l.conn().Del(ctx, keys...).Result()
}

// Publish returns the number of clients that received the payload.
func (l *RedisLink) Publish(ctx context.Context, channel, payload string) (int64, error) {
	if err := l.checkOpen(); err != nil {
		return 0, err
	}
	return l.conn().Publish(ctx, channel, payload).Result()
}

// Subscribe adds channel to this link's subscriptions and returns the
// number of subscribed channels.
func (l *RedisLink) Subscribe(ctx context.Context, channel string) (int64, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return 0, ErrLinkClosed
	}
	ps := l.pubsub
	if ps == nil {
		ps = l.client.Subscribe(ctx)
		l.pubsub = ps
		go l.receive(ps)
	}
	l.mu.Unlock()

	if err := ps.Subscribe(ctx, channel); err != nil {
		return 0, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.subscribed[channel] = struct{}{}
	return int64(len(l.subscribed)), nil
}

func (l *RedisLink) receive(ps *redis.PubSub) {
	for msg := range ps.Channel() {
		glog.V(2).Infof("[redis] %s<- %s\n", l.Target(), msg.Channel)
		l.events.emitMessage(msg.Channel, msg.Payload)
	}
}

var (
	_ storelink.Link   = (*RedisLink)(nil)
	_ storelink.Dialer = RedisDialer{}
)
