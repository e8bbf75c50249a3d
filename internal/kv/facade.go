// Package kv implements readiness-gated key/value operations on the command
// link, including JSON object storage with optional shallow merge.
package kv

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rmacdonaldsmith/storemesh-go/internal/codec"
	"github.com/rmacdonaldsmith/storemesh-go/pkg/message"
	"github.com/rmacdonaldsmith/storemesh-go/pkg/storelink"
)

var (
	// ErrNoKeys is returned by Delete when called without keys
	ErrNoKeys = errors.New("at least one key is required")
	// ErrInvalidExpiry is returned by ParseExpiry for values that are not positive whole seconds
	ErrInvalidExpiry = errors.New("expiry must be a positive number of seconds")
)

// Gate blocks until the command link is ready.
type Gate interface {
	AwaitConnection(ctx context.Context) error
}

// Facade issues key/value commands on the command link once it is ready.
type Facade struct {
	client storelink.Link
	gate   Gate
	codec  codec.Codec
}

// New creates a facade over the command link.
func New(client storelink.Link, gate Gate, c codec.Codec) *Facade {
	if c == nil {
		c = codec.JSON{}
	}
	return &Facade{client: client, gate: gate, codec: c}
}

// Get returns the value stored under key. A missing key is reported with
// found == false and a nil error.
func (f *Facade) Get(ctx context.Context, key string) (value string, found bool, err error) {
	if err := f.gate.AwaitConnection(ctx); err != nil {
		return "", false, err
	}
	value, found, err = f.client.Get(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("failed to get %q: %w", key, err)
	}
	return value, found, nil
}

// Set stores value under key. A positive expire stores it with a time to
// live, rounded up to whole seconds; otherwise the key does not expire.
func (f *Facade) Set(ctx context.Context, key, value string, expire time.Duration) error {
	if err := f.gate.AwaitConnection(ctx); err != nil {
		return err
	}

	var err error
	if expire > 0 {
		err = f.client.SetWithExpiry(ctx, key, value, wholeSeconds(expire))
	} else {
		err = f.client.Set(ctx, key, value)
	}
	if err != nil {
		return fmt.Errorf("failed to set %q: %w", key, err)
	}
	return nil
}

// Delete removes keys and returns how many existed.
func (f *Facade) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, ErrNoKeys
	}
	if err := f.gate.AwaitConnection(ctx); err != nil {
		return 0, err
	}
	n, err := f.client.Delete(ctx, keys...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %d keys: %w", len(keys), err)
	}
	return n, nil
}

// GetObject reads key and decodes it as a JSON object. Values that are
// missing, malformed or not objects are reported as not found.
func (f *Facade) GetObject(ctx context.Context, key string) (message.Object, bool, error) {
	raw, found, err := f.Get(ctx, key)
	if err != nil || !found {
		return nil, false, err
	}
	obj, ok := codec.DecodeObject(f.codec, raw)
	if !ok {
		return nil, false, nil
	}
	return obj, true, nil
}

// SetObject encodes value and stores it under key. With merge, the object
// currently stored under key is read first and value's fields are laid over
// it (one level deep, new fields win); an absent or non-object current value
// counts as empty. The stored object is returned.
func (f *Facade) SetObject(ctx context.Context, key string, value message.Object, merge bool, expire time.Duration) (message.Object, error) {
	stored := value
	if merge {
		current, _, err := f.GetObject(ctx, key)
		if err != nil {
			return nil, err
		}
		stored = Merge(current, value)
	}
	if stored == nil {
		stored = message.Object{}
	}

	encoded, err := f.codec.Encode(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %q: %w", key, err)
	}
	if err := f.Set(ctx, key, encoded, expire); err != nil {
		return nil, err
	}
	return stored, nil
}

// Merge returns a new object with the fields of base overlaid by update.
// Neither input is modified.
func Merge(base, update message.Object) message.Object {
	out := make(message.Object, len(base)+len(update))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range update {
		out[k] = v
	}
	return out
}

// ParseExpiry parses a positive whole number of seconds, as accepted from
// command line flags and HTTP requests. An empty string means no expiry.
func ParseExpiry(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 || n > math.MaxInt64/int64(time.Second) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidExpiry, s)
	}
	return time.Duration(n) * time.Second, nil
}

func wholeSeconds(d time.Duration) time.Duration {
	secs := d / time.Second
	if d%time.Second != 0 {
		secs++
	}
	return secs * time.Second
}
