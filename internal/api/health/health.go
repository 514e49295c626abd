// Package health exposes the cadence state of a running pipeline through the
// standard gRPC health checking protocol.
package health

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/lidartime/internal/lidar/cadence"
	"github.com/banshee-data/lidartime/internal/monitoring"
)

// ServiceName is the health service name reporting packet cadence. The
// empty service name mirrors it.
const ServiceName = "lidartime.Cadence"

// StatusFor maps a cadence state onto a gRPC serving status.
func StatusFor(state cadence.State) healthpb.HealthCheckResponse_ServingStatus {
	switch {
	case state == cadence.StateUnknown:
		return healthpb.HealthCheckResponse_UNKNOWN
	case state.IsViolation():
		return healthpb.HealthCheckResponse_NOT_SERVING
	default:
		return healthpb.HealthCheckResponse_SERVING
	}
}

// Server serves gRPC health checks driven by cadence updates.
type Server struct {
	addr string

	checker  *health.Server
	server   *grpc.Server
	listener net.Listener

	running atomic.Bool
	wg      sync.WaitGroup

	mu   sync.Mutex
	last healthpb.HealthCheckResponse_ServingStatus
}

// NewServer returns a Server that will listen on addr once started. Both
// service names report UNKNOWN until the first update.
func NewServer(addr string) *Server {
	s := &Server{
		addr:    addr,
		checker: health.NewServer(),
		last:    healthpb.HealthCheckResponse_UNKNOWN,
	}
	s.checker.SetServingStatus("", s.last)
	s.checker.SetServingStatus(ServiceName, s.last)
	return s
}

// Update publishes the latest cadence state. Only status transitions are
// logged and pushed to watchers.
func (s *Server) Update(state cadence.State) {
	status := StatusFor(state)
	s.mu.Lock()
	changed := status != s.last
	s.last = status
	s.mu.Unlock()
	if !changed {
		return
	}
	monitoring.Logf("[health] cadence %s -> %s", state, status)
	s.checker.SetServingStatus("", status)
	s.checker.SetServingStatus(ServiceName, status)
}

// Status returns the last published serving status.
func (s *Server) Status() healthpb.HealthCheckResponse_ServingStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Check answers a health check in process.
func (s *Server) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := s.checker.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	if s.running.Load() {
		return fmt.Errorf("health server already running")
	}
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = lis
	s.server = grpc.NewServer()
	healthpb.RegisterHealthServer(s.server, s.checker)
	s.running.Store(true)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		monitoring.Logf("[health] gRPC health listening on %s", lis.Addr())
		if err := s.server.Serve(lis); err != nil && s.running.Load() {
			monitoring.Logf("[health] gRPC server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop marks every service NOT_SERVING and stops the server.
func (s *Server) Stop() {
	if !s.running.Swap(false) {
		return
	}
	s.checker.Shutdown()
	s.server.GracefulStop()
	s.wg.Wait()
	monitoring.Logf("[health] gRPC health stopped")
}
