package healthcheck

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rmacdonaldsmith/storemesh-go/internal/eventbus"
	"github.com/rmacdonaldsmith/storemesh-go/internal/lifecycle"
)

type busNotifier struct {
	bus *eventbus.Bus
}

func (n busNotifier) On(event string, handler func(args ...any)) {
	n.bus.On(event, handler)
}

func status(t *testing.T, r *Reporter, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := r.Server().Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestReporter_StartsNotServing(t *testing.T) {
	r := New("")
	assert.Equal(t, DefaultService, r.Service())
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, r, DefaultService))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, r, ""))
}

func TestReporter_FollowsLifecycle(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()

	r := New("cache")
	r.Attach(busNotifier{bus: bus})

	bus.Emit(lifecycle.EventReady)
	require.Eventually(t, func() bool {
		return status(t, r, "cache") == healthpb.HealthCheckResponse_SERVING
	}, time.Second, time.Millisecond)

	bus.Emit(lifecycle.EventDisconnected)
	require.Eventually(t, func() bool {
		return status(t, r, "cache") == healthpb.HealthCheckResponse_NOT_SERVING
	}, time.Second, time.Millisecond)

	bus.Emit(lifecycle.EventReady)
	bus.Emit(lifecycle.EventError, &lifecycle.LinkError{})
	require.Eventually(t, func() bool {
		return status(t, r, "") == healthpb.HealthCheckResponse_NOT_SERVING
	}, time.Second, time.Millisecond)
}

func TestReporter_Shutdown(t *testing.T) {
	r := New("cache")
	r.SetServing(true)
	r.Shutdown()
	r.SetServing(true)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, r, "cache"))
}

func TestReporter_UnknownService(t *testing.T) {
	r := New("cache")
	_, err := r.Server().Check(context.Background(), &healthpb.HealthCheckRequest{Service: "other"})
	assert.Error(t, err)
}
