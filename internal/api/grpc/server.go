// Package grpcapi exposes the gRPC health and reflection services. Health
// follows session capacity so load balancers stop routing new interviews to
// a full instance.
package grpcapi

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"copilot-transcript-service/internal/observability"
	"copilot-transcript-service/internal/observability/logging"
	"copilot-transcript-service/internal/observability/metrics"
)

// ServiceName is the health service name reported for the transcript API.
const ServiceName = "copilot.transcript.v1.TranscriptService"

// ReadyFunc reports whether the instance admits new sessions.
type ReadyFunc func() bool

type Server struct {
	grpc   *grpc.Server
	health *health.Server
	ready  ReadyFunc
	log    zerolog.Logger
}

// New builds a gRPC server with health, reflection and the metrics
// interceptors registered.
func New(ready ReadyFunc, m *metrics.Metrics) *Server {
	g := grpc.NewServer(
		grpc.UnaryInterceptor(observability.UnaryServerInterceptor(m)),
		grpc.StreamInterceptor(observability.StreamServerInterceptor(m)),
	)

	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(g, hs)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(g)

	s := &Server{
		grpc:   g,
		health: hs,
		ready:  ready,
		log:    logging.WithComponent("grpc"),
	}
	s.update()
	return s
}

// GRPC returns the underlying server for Serve and GracefulStop.
func (s *Server) GRPC() *grpc.Server {
	return s.grpc
}

// Health returns the health server.
func (s *Server) Health() *health.Server {
	return s.health
}

func (s *Server) status() grpc_health_v1.HealthCheckResponse_ServingStatus {
	if s.ready == nil || s.ready() {
		return grpc_health_v1.HealthCheckResponse_SERVING
	}
	return grpc_health_v1.HealthCheckResponse_NOT_SERVING
}

func (s *Server) update() grpc_health_v1.HealthCheckResponse_ServingStatus {
	st := s.status()
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
	return st
}

// WatchReadiness refreshes the serving status every interval until ctx is
// done.
func (s *Server) WatchReadiness(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := s.update()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if st := s.update(); st != last {
				s.log.Info().Str("status", st.String()).Msg("Health status changed")
				last = st
			}
		}
	}
}

// Shutdown marks every service NOT_SERVING and stops the server gracefully.
func (s *Server) Shutdown() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
