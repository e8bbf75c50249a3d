package storemesh

import (
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rmacdonaldsmith/storemesh-go/internal/codec"
	"github.com/rmacdonaldsmith/storemesh-go/internal/eventlog"
	"github.com/rmacdonaldsmith/storemesh-go/internal/lifecycle"
	memlink "github.com/rmacdonaldsmith/storemesh-go/internal/storelink"
	"github.com/rmacdonaldsmith/storemesh-go/pkg/storelink"
)

var (
	// ErrInvalidReadyTimeout is returned when the readiness timeout is negative
	ErrInvalidReadyTimeout = errors.New("ready timeout cannot be negative")
	// ErrInvalidJournalCapacity is returned when the journal capacity is negative
	ErrInvalidJournalCapacity = errors.New("journal capacity cannot be negative")
)

// Config represents configuration for an Instance
type Config struct {
	// ID identifies the instance in logs; a ULID is generated when empty
	ID string

	// Link is the connection target shared by all three links
	Link storelink.Options

	// ReadyTimeout bounds how long commands wait for the command link
	ReadyTimeout time.Duration

	// Dialer creates the command link. Defaults to the Redis dialer.
	Dialer storelink.Dialer

	// Codec encodes structured values. Defaults to JSON.
	Codec codec.Codec

	// JournalCapacity is the number of lifecycle events kept per link role
	JournalCapacity int
}

// NewConfig creates a new Instance configuration with safe defaults
func NewConfig(link storelink.Options) *Config {
	c := &Config{Link: link}
	c.SetDefaults()
	return c
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if err := c.Link.Validate(); err != nil {
		return fmt.Errorf("invalid link options: %w", err)
	}
	if c.ReadyTimeout < 0 {
		return ErrInvalidReadyTimeout
	}
	if c.JournalCapacity < 0 {
		return ErrInvalidJournalCapacity
	}
	return nil
}

// SetDefaults sets sensible default values for unset fields
func (c *Config) SetDefaults() {
	if c.ID == "" {
		c.ID = ulid.Make().String()
	}
	if c.ReadyTimeout == 0 {
		c.ReadyTimeout = lifecycle.DefaultReadyTimeout
	}
	if c.Dialer == nil {
		c.Dialer = memlink.RedisDialer{}
	}
	if c.Codec == nil {
		c.Codec = codec.JSON{}
	}
	if c.JournalCapacity == 0 {
		c.JournalCapacity = eventlog.DefaultCapacity
	}
}

// WithID sets the instance ID
func (c *Config) WithID(id string) *Config {
	c.ID = id
	return c
}

// WithReadyTimeout sets the readiness timeout
func (c *Config) WithReadyTimeout(timeout time.Duration) *Config {
	c.ReadyTimeout = timeout
	return c
}

// WithDialer sets the link dialer
func (c *Config) WithDialer(dialer storelink.Dialer) *Config {
	c.Dialer = dialer
	return c
}

// WithCodec sets the structured value codec
func (c *Config) WithCodec(cd codec.Codec) *Config {
	c.Codec = cd
	return c
}

// WithJournalCapacity sets the per-role journal capacity
func (c *Config) WithJournalCapacity(capacity int) *Config {
	c.JournalCapacity = capacity
	return c
}
