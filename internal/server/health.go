package server

import (
	"context"
	"net"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the gRPC health service name that tracks periodic refresh.
const HealthService = "lapboard.Refresh"

// SyncHealth publishes SERVING for HealthService while refresh is running.
func (s *Server) SyncHealth() {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	if s.ctl.Running() {
		s.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)
	} else {
		s.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	}
}

// RegisterGRPC adds the health service to g.
func (s *Server) RegisterGRPC(g *grpc.Server) {
	healthpb.RegisterHealthServer(g, s.health)
}

// ServeGRPC serves gRPC health on addr until ctx is done.
func (s *Server) ServeGRPC(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	g := grpc.NewServer()
	s.RegisterGRPC(g)

	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		g.GracefulStop()
	}()

	s.log.Info("gRPC health listening", "addr", lis.Addr().String())
	return g.Serve(lis)
}
