// Package healthcheck mirrors instance readiness into a gRPC health service.
package healthcheck

import (
	"github.com/golang/glog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rmacdonaldsmith/storemesh-go/internal/lifecycle"
)

// DefaultService is the service name reported when none is given.
const DefaultService = "storemesh"

// Notifier delivers normalized lifecycle events.
type Notifier interface {
	On(event string, handler func(args ...any))
}

// Reporter owns a grpc health server whose status follows readiness:
// SERVING after ready, NOT_SERVING after disconnected or error.
type Reporter struct {
	server  *health.Server
	service string
}

// New creates a reporter that starts out NOT_SERVING.
func New(service string) *Reporter {
	if service == "" {
		service = DefaultService
	}
	r := &Reporter{server: health.NewServer(), service: service}
	r.SetServing(false)
	return r
}

// Attach subscribes the reporter to lifecycle events.
func (r *Reporter) Attach(n Notifier) {
	n.On(lifecycle.EventReady, func(...any) { r.SetServing(true) })
	n.On(lifecycle.EventDisconnected, func(...any) { r.SetServing(false) })
	n.On(lifecycle.EventError, func(...any) { r.SetServing(false) })
}

// SetServing updates both the named service and the overall ("") status.
func (r *Reporter) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	glog.V(1).Infof("[health] %s -> %s\n", r.service, status)
	r.server.SetServingStatus(r.service, status)
	r.server.SetServingStatus("", status)
}

// Service returns the reported service name.
func (r *Reporter) Service() string {
	return r.service
}

// Server returns the underlying health server.
func (r *Reporter) Server() *health.Server {
	return r.server
}

// Register installs the health service on s.
func (r *Reporter) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, r.server)
}

// Shutdown sets every service to NOT_SERVING and ignores later updates.
func (r *Reporter) Shutdown() {
	r.server.Shutdown()
}
