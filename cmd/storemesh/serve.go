package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/rmacdonaldsmith/storemesh-go/internal/healthcheck"
	"github.com/rmacdonaldsmith/storemesh-go/internal/httpapi"
	"github.com/rmacdonaldsmith/storemesh-go/internal/settings"
	memlink "github.com/rmacdonaldsmith/storemesh-go/internal/storelink"
	"github.com/rmacdonaldsmith/storemesh-go/internal/storemesh"
	"github.com/rmacdonaldsmith/storemesh-go/pkg/storelink"
)

const shutdownTimeout = 30 * time.Second

// serveFlags maps serve command flags to config keys
var serveFlags = map[string]string{
	"url":           settings.KeyURL,
	"host":          settings.KeyHost,
	"port":          settings.KeyPort,
	"db":            settings.KeyDatabase,
	"ready-timeout": settings.KeyReadyTimeout,
	"memory":        settings.KeyMemory,
	"http-port":     settings.KeyHTTPPort,
	"secret-key":    settings.KeySecretKey,
	"no-auth":       settings.KeyNoAuth,
	"grpc-port":     settings.KeyGRPCPort,
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway and gRPC health service",
		RunE: func(cmd *cobra.Command, args []string) error {
			v := settings.New(configFile)
			if err := settings.BindFlags(v, cmd.Flags(), serveFlags); err != nil {
				return err
			}
			if err := settings.Read(v); err != nil {
				return err
			}
			s, err := settings.Load(v)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, s, nil)
		},
	}

	cmd.Flags().String("url", "", "Store URL (redis://[user:pass@]host:port/db); overrides host, port and db")
	cmd.Flags().String("host", "localhost", "Store host")
	cmd.Flags().Int("port", 6379, "Store port")
	cmd.Flags().Int("db", 0, "Store database index")
	cmd.Flags().Duration("ready-timeout", 10*time.Second, "How long operations wait for the store to become ready")
	cmd.Flags().Bool("memory", false, "Serve from an in-process store instead of connecting to one")
	cmd.Flags().String("http-port", "8080", "HTTP gateway port")
	cmd.Flags().String("secret-key", "", "JWT signing key")
	cmd.Flags().Bool("no-auth", false, "Disable authentication on non-admin endpoints (development only)")
	cmd.Flags().String("grpc-port", "9090", "gRPC health service port; empty disables it")
	return cmd
}

// listeners carries the bound addresses once run is serving
type listeners struct {
	HTTP net.Addr
	GRPC net.Addr
}

// newInstance creates an instance for s, dialing the store or an in-process one.
func newInstance(s *settings.Settings) (*storemesh.Instance, error) {
	var dialer storelink.Dialer = memlink.RedisDialer{}
	if s.Memory {
		glog.Warningf("[storemesh] serving from an in-process store; data is not persisted\n")
		dialer = memlink.NewMemoryServer()
	}
	config := storemesh.NewConfig(s.Link).
		WithDialer(dialer).
		WithReadyTimeout(s.ReadyTimeout)
	return storemesh.New(config)
}

// run serves until ctx is done, then shuts everything down. When started
// is non-nil it receives the bound addresses once both listeners are up.
func run(ctx context.Context, s *settings.Settings, started chan<- listeners) error {
	inst, err := newInstance(s)
	if err != nil {
		return fmt.Errorf("failed to create instance: %w", err)
	}
	defer func() {
		if err := inst.Close(); err != nil {
			glog.Warningf("[storemesh] error closing instance: %v\n", err)
		}
	}()

	reporter := healthcheck.New(healthcheck.DefaultService)
	reporter.Attach(inst)
	if inst.State() == storelink.StatusReady {
		reporter.SetServing(true)
	}
	defer reporter.Shutdown()

	var bound listeners
	errCh := make(chan error, 2)

	var grpcServer *grpc.Server
	if s.GRPCPort != "" {
		gl, err := net.Listen("tcp", ":"+s.GRPCPort)
		if err != nil {
			return fmt.Errorf("failed to listen for gRPC: %w", err)
		}
		grpcServer = grpc.NewServer()
		reporter.Register(grpcServer)
		bound.GRPC = gl.Addr()
		go func() { errCh <- grpcServer.Serve(gl) }()
		glog.Infof("[storemesh] gRPC health service listening on %s\n", gl.Addr())
	}

	api := httpapi.NewServer(inst, httpapi.Config{
		Port:         s.HTTP.Port,
		SecretKey:    s.HTTP.SecretKey,
		NoAuth:       s.HTTP.NoAuth,
		AdminClients: s.HTTP.AdminClients,
		KeepAlive:    s.HTTP.KeepAlive,
		StreamBuffer: s.HTTP.StreamBuffer,
		TokenTTL:     s.HTTP.TokenTTL,
	})
	hl, err := net.Listen("tcp", ":"+s.HTTP.Port)
	if err != nil {
		if grpcServer != nil {
			grpcServer.Stop()
		}
		return fmt.Errorf("failed to listen for HTTP: %w", err)
	}
	bound.HTTP = hl.Addr()
	go func() { errCh <- api.Serve(hl) }()

	if s.HTTP.NoAuth {
		glog.Warningf("[storemesh] authentication disabled on non-admin endpoints\n")
	}
	glog.Infof("[storemesh] %s v%s instance %s serving HTTP on %s (store %s)\n",
		appName, appVersion, inst.ID(), hl.Addr(), s.Link.Target())

	if started != nil {
		started <- bound
	}

	var serveErr error
	select {
	case <-ctx.Done():
		glog.Infof("[storemesh] shutting down\n")
	case serveErr = <-errCh:
		glog.Errorf("[storemesh] server stopped: %v\n", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := api.Stop(shutdownCtx); err != nil {
		glog.Warningf("[storemesh] error during HTTP shutdown: %v\n", err)
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}

	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) && !errors.Is(serveErr, grpc.ErrServerStopped) {
		return serveErr
	}
	return nil
}
