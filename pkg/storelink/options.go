package storelink

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

var (
	// ErrNoTarget is returned when neither a URL nor a host is configured
	ErrNoTarget = errors.New("connection target requires a URL or a host")
	// ErrInvalidPort is returned for ports outside 1-65535
	ErrInvalidPort = errors.New("port must be between 1 and 65535")
	// ErrInvalidDatabase is returned for a negative database index
	ErrInvalidDatabase = errors.New("database index cannot be negative")
)

// Options holds the connection target of a link. Either URL or the
// structured fields are used; URL wins when both are set.
type Options struct {
	URL string

	Host     string
	Port     int
	Database int
	TLS      bool
	Username string
	Password string

	DialTimeout    time.Duration
	HealthInterval time.Duration
	RetryInterval  time.Duration
}

// Validate checks that exactly one usable connection target is configured
func (o *Options) Validate() error {
	if o.URL != "" {
		return nil
	}
	if o.Host == "" {
		return ErrNoTarget
	}
	if o.Port < 0 || o.Port > 65535 {
		return ErrInvalidPort
	}
	if o.Database < 0 {
		return ErrInvalidDatabase
	}
	return nil
}

// SetDefaults sets sensible default values for unset fields
func (o *Options) SetDefaults() {
	if o.URL == "" && o.Port == 0 {
		o.Port = 6379
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.HealthInterval <= 0 {
		o.HealthInterval = 5 * time.Second
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 500 * time.Millisecond
	}
}

// Addr returns host:port for structured targets
func (o *Options) Addr() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// Target describes the connection target without credentials
func (o *Options) Target() string {
	if o.URL != "" {
		return redactURL(o.URL)
	}
	scheme := "redis"
	if o.TLS {
		scheme = "rediss"
	}
	return fmt.Sprintf("%s://%s/%d", scheme, o.Addr(), o.Database)
}
