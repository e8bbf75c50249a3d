package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/storemesh-go/internal/settings"
	memlink "github.com/rmacdonaldsmith/storemesh-go/internal/storelink"
	"github.com/rmacdonaldsmith/storemesh-go/internal/storemesh"
	"github.com/rmacdonaldsmith/storemesh-go/pkg/storelink"
	storemeshpkg "github.com/rmacdonaldsmith/storemesh-go/pkg/storemesh"
)

var (
	// Global flags
	configFile string
	timeout    time.Duration

	// dialer creates the store links; tests replace it with an in-memory store
	dialer storelink.Dialer = memlink.RedisDialer{}
)

// connectionFlags maps global flags to config keys
var connectionFlags = map[string]string{
	"url":           settings.KeyURL,
	"host":          settings.KeyHost,
	"port":          settings.KeyPort,
	"db":            settings.KeyDatabase,
	"ready-timeout": settings.KeyReadyTimeout,
}

func main() {
	code := 0
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		code = 1
	}
	glog.Flush()
	os.Exit(code)
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "storemesh-cli",
		Short: "StoreMesh command line interface",
		Long: `storemesh-cli runs key/value, object and pub/sub operations against a store
through a coordinated instance. Every command waits for the store to become
ready, up to --ready-timeout, before it is issued.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Config file (default: storemesh.yaml in ., $HOME/.storemesh or /etc/storemesh)")
	flags.String("url", "", "Store URL (redis://[user:pass@]host:port/db); overrides host, port and db")
	flags.String("host", "localhost", "Store host")
	flags.Int("port", 6379, "Store port")
	flags.Int("db", 0, "Store database index")
	flags.Duration("ready-timeout", 10*time.Second, "How long to wait for the store to become ready")
	flags.DurationVar(&timeout, "timeout", 30*time.Second, "Overall command timeout, except for listen (0 for none)")
	flags.AddGoFlagSet(flag.CommandLine)

	rootCmd.AddCommand(newGetCommand())
	rootCmd.AddCommand(newSetCommand())
	rootCmd.AddCommand(newDelCommand())
	rootCmd.AddCommand(newGetObjectCommand())
	rootCmd.AddCommand(newSetObjectCommand())
	rootCmd.AddCommand(newPublishCommand())
	rootCmd.AddCommand(newListenCommand())
	rootCmd.AddCommand(newWaitReadyCommand())
	rootCmd.AddCommand(newGatewayCommand())
	return rootCmd
}

// withInstance loads settings, creates an instance and runs fn with it.
// The instance is closed when fn returns. Unless bounded is false, the
// context passed to fn ends after --timeout.
func withInstance(cmd *cobra.Command, bounded bool, fn func(ctx context.Context, inst storemeshpkg.Instance) error) error {
	v := settings.New(configFile)
	if err := settings.BindFlags(v, cmd.Flags(), connectionFlags); err != nil {
		return err
	}
	if err := settings.Read(v); err != nil {
		return err
	}
	s, err := settings.Load(v)
	if err != nil {
		return err
	}

	config := storemesh.NewConfig(s.Link).
		WithDialer(dialer).
		WithReadyTimeout(s.ReadyTimeout)
	inst, err := storemesh.New(config)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer inst.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if bounded && timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return fn(ctx, inst)
}
