package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	grpctls "github.com/EternisAI/provider-ca/internal/grpc/tls"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Service is the name under which the provider CA reports its own health.
const Service = "providerca.v1.ProviderCA"

type TLSConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	CertFile   string `mapstructure:"cert_file"`
	KeyFile    string `mapstructure:"key_file"`
	CAFile     string `mapstructure:"ca_file"`
	ClientAuth string `mapstructure:"client_auth"`
}

type Config struct {
	Port int       `mapstructure:"port"`
	TLS  TLSConfig `mapstructure:"tls"`
}

type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	port       int
}

func NewServer(cfg Config) (*Server, error) {
	var opts []grpc.ServerOption
	if cfg.TLS.Enabled {
		clientAuth, err := grpctls.ParseClientAuthType(cfg.TLS.ClientAuth)
		if err != nil {
			return nil, err
		}
		creds, err := grpctls.LoadServerCredentials(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.CAFile, clientAuth)
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.Creds(creds))
		slog.Info("gRPC TLS enabled", "client_auth", cfg.TLS.ClientAuth)
	}

	s := &Server{
		grpcServer: grpc.NewServer(opts...),
		health:     health.NewServer(),
		port:       cfg.Port,
	}
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.SetServing(false)
	return s, nil
}

// SetServing flips both the overall and the service health status.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(Service, status)
}

func (s *Server) Start() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.port, err)
	}
	slog.Info("Starting gRPC server", "port", s.port)
	return s.Serve(lis)
}

func (s *Server) Serve(lis net.Listener) error {
	if err := s.grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("failed to serve gRPC: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	slog.Info("Stopping gRPC server")
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		slog.Info("gRPC server stopped gracefully")
	case <-ctx.Done():
		slog.Warn("gRPC server stop timeout, forcing shutdown")
		s.grpcServer.Stop()
	}
	return nil
}

func (s *Server) StopWithTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Stop(ctx)
}
