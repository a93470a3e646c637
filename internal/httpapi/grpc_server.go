package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"tenantgate.io/internal/obs"
)

type readinessChecker interface {
	Check(ctx context.Context) error
}

// HealthServer publishes the readiness check over the standard gRPC health
// protocol, both for the named service and for the server as a whole ("").
type HealthServer struct {
	*health.Server
	readiness readinessChecker
}

// NewHealthServer creates the gRPC health service. It reports NOT_SERVING
// until the first Refresh.
func NewHealthServer(r readinessChecker) *HealthServer {
	s := &HealthServer{Server: health.NewServer(), readiness: r}
	s.publish(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Register attaches the health service to srv.
func (s *HealthServer) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s.Server)
}

// Refresh runs the check once and publishes the outcome.
func (s *HealthServer) Refresh(ctx context.Context) bool {
	if err := s.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		s.publish(healthpb.HealthCheckResponse_NOT_SERVING)
		return false
	}
	obs.SetReady(true)
	s.publish(healthpb.HealthCheckResponse_SERVING)
	return true
}

// Run refreshes every interval until ctx ends, then reports shutdown.
func (s *HealthServer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		checkCtx, cancel := context.WithTimeout(ctx, interval)
		s.Refresh(checkCtx)
		cancel()
		select {
		case <-ctx.Done():
			s.Shutdown()
			return
		case <-ticker.C:
		}
	}
}

func (s *HealthServer) publish(status healthpb.HealthCheckResponse_ServingStatus) {
	s.SetServingStatus("", status)
	s.SetServingStatus(serviceName, status)
}
