// Package settings loads the configuration shared by the storemesh binaries
// from a storemesh.yaml file, STOREMESH_* environment variables and flags.
package settings

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/rmacdonaldsmith/storemesh-go/pkg/storelink"
)

const (
	configName = "storemesh"
	configType = "yaml"
	envPrefix  = "STOREMESH"
)

// Config keys. Nested keys map to environment variables with "." replaced
// by "_", so store.ready_timeout is STOREMESH_STORE_READY_TIMEOUT.
const (
	KeyURL          = "store.url"
	KeyHost         = "store.host"
	KeyPort         = "store.port"
	KeyDatabase     = "store.db"
	KeyTLS          = "store.tls"
	KeyUsername     = "store.username"
	KeyPassword     = "store.password"
	KeyDialTimeout  = "store.dial_timeout"
	KeyReadyTimeout = "store.ready_timeout"
	KeyMemory       = "store.memory"

	KeyHTTPPort     = "http.port"
	KeySecretKey    = "http.secret_key"
	KeyNoAuth       = "http.no_auth"
	KeyAdminClients = "http.admin_clients"
	KeyKeepAlive    = "http.keepalive"
	KeyStreamBuffer = "http.stream_buffer"
	KeyTokenTTL     = "http.token_ttl"

	KeyGRPCPort = "grpc.port"
)

// ErrInvalidReadyTimeout is returned when store.ready_timeout is not positive
var ErrInvalidReadyTimeout = errors.New("store.ready_timeout must be positive")

// Settings is the resolved configuration of a binary
type Settings struct {
	Link         storelink.Options
	ReadyTimeout time.Duration
	// Memory serves from an in-process store instead of dialing Link
	Memory bool

	HTTP HTTP
	// GRPCPort is the port of the gRPC health service; empty disables it
	GRPCPort string
}

// HTTP holds gateway settings
type HTTP struct {
	Port         string
	SecretKey    string
	NoAuth       bool
	AdminClients []string
	KeepAlive    time.Duration
	StreamBuffer int
	TokenTTL     time.Duration
}

// New creates a viper instance with defaults and environment overrides.
// configFile names an explicit file; when empty, storemesh.yaml is searched
// for in the working directory, $HOME/.storemesh and /etc/storemesh.
func New(configFile string) *viper.Viper {
	v := viper.New()

	v.SetDefault(KeyHost, "localhost")
	v.SetDefault(KeyPort, 6379)
	v.SetDefault(KeyDatabase, 0)
	v.SetDefault(KeyDialTimeout, 5*time.Second)
	v.SetDefault(KeyReadyTimeout, 10*time.Second)
	v.SetDefault(KeyHTTPPort, "8080")
	v.SetDefault(KeyAdminClients, []string{"admin"})
	v.SetDefault(KeyKeepAlive, 30*time.Second)
	v.SetDefault(KeyStreamBuffer, 100)
	v.SetDefault(KeyTokenTTL, 24*time.Hour)
	v.SetDefault(KeyGRPCPort, "9090")

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.storemesh")
		v.AddConfigPath("/etc/storemesh")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Read loads the config file. A missing storemesh.yaml is not an error;
// a missing explicitly named file is.
func Read(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// BindFlags binds each flag in flags to its config key. Flags that were
// not registered on the set are skipped.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	for name, key := range keys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Load resolves Settings from v and validates the connection options.
func Load(v *viper.Viper) (*Settings, error) {
	s := &Settings{
		Link: storelink.Options{
			URL:         v.GetString(KeyURL),
			Host:        v.GetString(KeyHost),
			Port:        v.GetInt(KeyPort),
			Database:    v.GetInt(KeyDatabase),
			TLS:         v.GetBool(KeyTLS),
			Username:    v.GetString(KeyUsername),
			Password:    v.GetString(KeyPassword),
			DialTimeout: v.GetDuration(KeyDialTimeout),
		},
		ReadyTimeout: v.GetDuration(KeyReadyTimeout),
		Memory:       v.GetBool(KeyMemory),
		HTTP: HTTP{
			Port:         v.GetString(KeyHTTPPort),
			SecretKey:    v.GetString(KeySecretKey),
			NoAuth:       v.GetBool(KeyNoAuth),
			AdminClients: v.GetStringSlice(KeyAdminClients),
			KeepAlive:    v.GetDuration(KeyKeepAlive),
			StreamBuffer: v.GetInt(KeyStreamBuffer),
			TokenTTL:     v.GetDuration(KeyTokenTTL),
		},
		GRPCPort: v.GetString(KeyGRPCPort),
	}

	if s.ReadyTimeout <= 0 {
		return nil, ErrInvalidReadyTimeout
	}
	if err := s.Link.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store settings: %w", err)
	}
	return s, nil
}
