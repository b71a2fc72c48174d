// Package health serves the standard gRPC health service so supervisors can
// probe whether the iteration driver is running.
package health

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// DriverService is the health service name reporting the iteration driver.
const DriverService = "grav.driver"

// Server wraps a gRPC server carrying only the health service.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
}

// NewServer creates a health server. Every service starts NOT_SERVING.
func NewServer() *Server {
	gs := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second,
			Timeout: 10 * time.Second,
		}),
	)
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(DriverService, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{grpc: gs, health: hs}
}

// SetDriverRunning reports the driver's state on both the overall and the
// driver service.
func (s *Server) SetDriverRunning(running bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if running {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(DriverService, status)
	slog.Debug("[Health] Driver status", "status", status.String())
}

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	slog.Info("[Health] gRPC health service listening", "address", lis.Addr().String())
	if err := s.grpc.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// stopGrace bounds how long Stop waits for in-flight RPCs. Watch streams
// never finish on their own.
const stopGrace = 2 * time.Second

// Stop marks every service NOT_SERVING and stops the server, closing any
// RPC still open after stopGrace.
func (s *Server) Stop() {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()

	timer := time.NewTimer(stopGrace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		slog.Warn("[Health] Graceful stop timed out, closing open streams")
		s.grpc.Stop()
		<-done
	}
}
