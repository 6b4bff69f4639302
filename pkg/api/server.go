package api

import (
	"crypto/tls"
	"fmt"
	"net"

	"github.com/cuemby/dynadns/pkg/log"
	"github.com/cuemby/dynadns/pkg/state"
	"github.com/cuemby/dynadns/pkg/sttl"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server exposes endpoint states through the standard gRPC health service.
// Each monitored endpoint is a service named by its description
// ("web/192.0.2.10"); the empty service name is the daemon itself.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger zerolog.Logger
}

// NewServer creates the gRPC server and subscribes it to state changes.
// A nil tlsCfg serves plaintext.
func NewServer(states *state.Store, tlsCfg *tls.Config) *Server {
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(LoggingInterceptor()),
		grpc.ChainStreamInterceptor(StreamLoggingInterceptor()),
	}
	if tlsCfg != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsCfg)))
	}
	s := &Server{
		grpc:   grpc.NewServer(opts...),
		health: health.NewServer(),
		logger: log.WithComponent("grpc"),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	for _, ep := range states.Endpoints() {
		s.health.SetServingStatus(ep.Desc, servingStatus(ep.State()))
	}
	states.OnTransition(func(ep *state.Endpoint, _, cur sttl.STTL) {
		s.health.SetServingStatus(ep.Desc, servingStatus(cur))
	})
	return s
}

// SetReady flips the daemon's own status.
func (s *Server) SetReady(ready bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ready {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
}

// Start listens on addr and serves until Stop.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// Serve serves on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info().Str("address", lis.Addr().String()).Msg("gRPC health service listening")
	return s.grpc.Serve(lis)
}

// Stop gracefully stops the gRPC server
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

func servingStatus(s sttl.STTL) healthpb.HealthCheckResponse_ServingStatus {
	if s.IsDown() {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}
