package storemesh

import (
	"errors"
	"testing"
	"time"

	"github.com/rmacdonaldsmith/storemesh-go/internal/codec"
	"github.com/rmacdonaldsmith/storemesh-go/internal/eventlog"
	"github.com/rmacdonaldsmith/storemesh-go/internal/lifecycle"
	memlink "github.com/rmacdonaldsmith/storemesh-go/internal/storelink"
	"github.com/rmacdonaldsmith/storemesh-go/pkg/storelink"
)

// TestConfig_NewConfig tests creating new configuration with defaults
func TestConfig_NewConfig(t *testing.T) {
	config := NewConfig(storelink.Options{Host: "localhost"})

	if config.ID == "" {
		t.Error("Expected a generated ID")
	}
	if config.ReadyTimeout != lifecycle.DefaultReadyTimeout {
		t.Errorf("Expected ReadyTimeout %v, got %v", lifecycle.DefaultReadyTimeout, config.ReadyTimeout)
	}
	if _, ok := config.Dialer.(memlink.RedisDialer); !ok {
		t.Errorf("Expected Redis dialer by default, got %T", config.Dialer)
	}
	if _, ok := config.Codec.(codec.JSON); !ok {
		t.Errorf("Expected JSON codec by default, got %T", config.Codec)
	}
	if config.JournalCapacity != eventlog.DefaultCapacity {
		t.Errorf("Expected JournalCapacity %d, got %d", eventlog.DefaultCapacity, config.JournalCapacity)
	}

	other := NewConfig(storelink.Options{Host: "localhost"})
	if other.ID == config.ID {
		t.Error("Expected distinct generated IDs")
	}
}

// TestConfig_Validate tests configuration validation
func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		config    *Config
		wantError bool
		errorType error
	}{
		{
			name:   "valid structured target",
			config: NewConfig(storelink.Options{Host: "localhost", Port: 6379}),
		},
		{
			name:   "valid url target",
			config: NewConfig(storelink.Options{URL: "redis://localhost:6379/2"}),
		},
		{
			name:      "no target",
			config:    NewConfig(storelink.Options{}),
			wantError: true,
			errorType: storelink.ErrNoTarget,
		},
		{
			name:      "negative ready timeout",
			config:    NewConfig(storelink.Options{Host: "localhost"}).WithReadyTimeout(-time.Second),
			wantError: true,
			errorType: ErrInvalidReadyTimeout,
		},
		{
			name:      "negative journal capacity",
			config:    NewConfig(storelink.Options{Host: "localhost"}).WithJournalCapacity(-1),
			wantError: true,
			errorType: ErrInvalidJournalCapacity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantError {
				if err == nil {
					t.Errorf("Expected error for %s, got nil", tt.name)
				}
				if tt.errorType != nil && !errors.Is(err, tt.errorType) {
					t.Errorf("Expected error %v, got %v", tt.errorType, err)
				}
			} else if err != nil {
				t.Errorf("Expected no error for %s, got %v", tt.name, err)
			}
		})
	}
}

// TestConfig_WithMethods tests the fluent configuration methods
func TestConfig_WithMethods(t *testing.T) {
	server := memlink.NewMemoryServer()
	config := NewConfig(storelink.Options{Host: "localhost"}).
		WithID("inst-1").
		WithReadyTimeout(250 * time.Millisecond).
		WithDialer(server).
		WithCodec(codec.JSON{}).
		WithJournalCapacity(8)

	if config.ID != "inst-1" {
		t.Errorf("Expected ID 'inst-1', got '%s'", config.ID)
	}
	if config.ReadyTimeout != 250*time.Millisecond {
		t.Errorf("Expected ReadyTimeout 250ms, got %v", config.ReadyTimeout)
	}
	if config.Dialer != server {
		t.Error("Expected Dialer to be the memory server")
	}
	if config.JournalCapacity != 8 {
		t.Errorf("Expected JournalCapacity 8, got %d", config.JournalCapacity)
	}
}
