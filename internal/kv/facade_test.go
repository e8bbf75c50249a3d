package kv

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/storemesh-go/internal/codec"
	"github.com/rmacdonaldsmith/storemesh-go/internal/eventbus"
	"github.com/rmacdonaldsmith/storemesh-go/internal/lifecycle"
	memlink "github.com/rmacdonaldsmith/storemesh-go/internal/storelink"
	"github.com/rmacdonaldsmith/storemesh-go/pkg/message"
	"github.com/rmacdonaldsmith/storemesh-go/pkg/storelink"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newFacade(t *testing.T, server *memlink.MemoryServer, timeout time.Duration) *Facade {
	t.Helper()
	client, err := server.Dial(storelink.Options{Host: "localhost"})
	require.NoError(t, err)
	publisher, err := client.Duplicate()
	require.NoError(t, err)
	subscriber, err := client.Duplicate()
	require.NoError(t, err)

	bus := eventbus.New()
	coord := lifecycle.NewCoordinator(lifecycle.Links{Client: client, Publisher: publisher, Subscriber: subscriber}, bus, timeout)
	coord.Start()

	t.Cleanup(func() {
		client.Close()
		publisher.Close()
		subscriber.Close()
		bus.Close()
	})
	return New(client, coord, codec.JSON{})
}

func TestFacade_SetGet(t *testing.T) {
	f := newFacade(t, memlink.NewMemoryServer(), time.Second)
	ctx := context.Background()

	require.NoError(t, f.Set(ctx, "greeting", "hello", 0))

	v, found, err := f.Get(ctx, "greeting")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "hello", v)
}

func TestFacade_GetMissingKey(t *testing.T) {
	f := newFacade(t, memlink.NewMemoryServer(), time.Second)

	v, found, err := f.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, v)
}

func TestFacade_SetWithExpiry(t *testing.T) {
	server := memlink.NewMemoryServer()
	clock := &manualClock{now: time.Unix(1_700_000_000, 0)}
	server.SetClock(clock.Now)
	f := newFacade(t, server, time.Second)
	ctx := context.Background()

	require.NoError(t, f.Set(ctx, "session", "abc", 1500*time.Millisecond))

	ttl, ok := server.TTL("session")
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, ttl, "expiry is rounded up to whole seconds")

	clock.Advance(1999 * time.Millisecond)
	_, found, err := f.Get(ctx, "session")
	require.NoError(t, err)
	assert.True(t, found)

	clock.Advance(time.Millisecond)
	_, found, err = f.Get(ctx, "session")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFacade_SetWithoutExpiryHasNoTTL(t *testing.T) {
	server := memlink.NewMemoryServer()
	f := newFacade(t, server, time.Second)

	require.NoError(t, f.Set(context.Background(), "k", "v", 0))
	_, ok := server.TTL("k")
	assert.False(t, ok)
}

func TestFacade_Delete(t *testing.T) {
	f := newFacade(t, memlink.NewMemoryServer(), time.Second)
	ctx := context.Background()

	require.NoError(t, f.Set(ctx, "a", "1", 0))
	require.NoError(t, f.Set(ctx, "b", "2", 0))

	n, err := f.Delete(ctx, "a", "b", "c")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = f.Delete(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "deleting an absent key is not an error")

	_, err = f.Delete(ctx)
	assert.ErrorIs(t, err, ErrNoKeys)
}

func TestFacade_ObjectRoundTrip(t *testing.T) {
	f := newFacade(t, memlink.NewMemoryServer(), time.Second)
	ctx := context.Background()

	stored, err := f.SetObject(ctx, "user:1", message.Object{"name": "ada", "age": 36}, false, 0)
	require.NoError(t, err)
	assert.Equal(t, message.Object{"name": "ada", "age": 36}, stored)

	obj, found, err := f.GetObject(ctx, "user:1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, message.Object{"name": "ada", "age": float64(36)}, obj)
}

func TestFacade_SetObjectMerge(t *testing.T) {
	f := newFacade(t, memlink.NewMemoryServer(), time.Second)
	ctx := context.Background()

	_, err := f.SetObject(ctx, "cfg", message.Object{"a": "1", "b": "2", "nested": map[string]any{"x": "old"}}, false, 0)
	require.NoError(t, err)

	stored, err := f.SetObject(ctx, "cfg", message.Object{"b": "3", "c": "4", "nested": map[string]any{"y": "new"}}, true, 0)
	require.NoError(t, err)

	want := message.Object{"a": "1", "b": "3", "c": "4", "nested": map[string]any{"y": "new"}}
	assert.Equal(t, want, stored)

	obj, found, err := f.GetObject(ctx, "cfg")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, want, obj)
}

func TestFacade_SetObjectMergeOverNonObject(t *testing.T) {
	server := memlink.NewMemoryServer()
	f := newFacade(t, server, time.Second)
	ctx := context.Background()

	for name, raw := range map[string]string{
		"plain text": "not-json",
		"array":      `[1,2,3]`,
		"number":     "42",
	} {
		t.Run(name, func(t *testing.T) {
			server.SetRaw("k", raw)
			stored, err := f.SetObject(ctx, "k", message.Object{"fresh": true}, true, 0)
			require.NoError(t, err)
			assert.Equal(t, message.Object{"fresh": true}, stored)
		})
	}

	stored, err := f.SetObject(ctx, "absent", message.Object{"fresh": true}, true, 0)
	require.NoError(t, err)
	assert.Equal(t, message.Object{"fresh": true}, stored)
}

func TestFacade_GetObjectNotJSON(t *testing.T) {
	server := memlink.NewMemoryServer()
	f := newFacade(t, server, time.Second)

	server.SetRaw("text", "not-json")
	server.SetRaw("list", `["a"]`)

	for _, key := range []string{"text", "list", "missing"} {
		obj, found, err := f.GetObject(context.Background(), key)
		require.NoError(t, err)
		assert.False(t, found, key)
		assert.Nil(t, obj)
	}
}

func TestFacade_SetObjectWithExpiry(t *testing.T) {
	server := memlink.NewMemoryServer()
	f := newFacade(t, server, time.Second)

	_, err := f.SetObject(context.Background(), "temp", message.Object{"v": 1}, false, 30*time.Second)
	require.NoError(t, err)

	ttl, ok := server.TTL("temp")
	require.True(t, ok)
	assert.InDelta(t, float64(30*time.Second), float64(ttl), float64(time.Second))
}

func TestFacade_GateTimeout(t *testing.T) {
	server := memlink.NewMemoryServer()
	server.HoldReady()
	f := newFacade(t, server, 30*time.Millisecond)

	err := f.Set(context.Background(), "k", "v", 0)
	assert.ErrorIs(t, err, lifecycle.ErrConnectionTimeout)

	_, _, err = f.Get(context.Background(), "k")
	assert.ErrorIs(t, err, lifecycle.ErrConnectionTimeout)

	_, err = f.SetObject(context.Background(), "k", message.Object{"a": 1}, true, 0)
	assert.ErrorIs(t, err, lifecycle.ErrConnectionTimeout)
}

func TestMerge_DoesNotModifyInputs(t *testing.T) {
	base := message.Object{"a": 1}
	update := message.Object{"a": 2, "b": 3}

	out := Merge(base, update)
	assert.Equal(t, message.Object{"a": 2, "b": 3}, out)
	assert.Equal(t, message.Object{"a": 1}, base)
	assert.Equal(t, message.Object{"a": 2, "b": 3}, update)
	assert.Equal(t, message.Object{}, Merge(nil, nil))
}

func TestParseExpiry(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"60", time.Minute, false},
		{" 5 ", 5 * time.Second, false},
		{"0", 0, true},
		{"-3", 0, true},
		{"1.5", 0, true},
		{"soon", 0, true},
		{"9223372036", 9223372036 * time.Second, false},
		{"9300000000", 0, true},
		{"99999999999999999999", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseExpiry(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidExpiry)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWholeSeconds(t *testing.T) {
	assert.Equal(t, time.Second, wholeSeconds(time.Millisecond))
	assert.Equal(t, 2*time.Second, wholeSeconds(2*time.Second))
	assert.Equal(t, 3*time.Second, wholeSeconds(2*time.Second+time.Nanosecond))
}
