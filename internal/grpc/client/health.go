// Package client dials the provider CA's gRPC endpoint for health checks.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	grpctls "github.com/EternisAI/provider-ca/internal/grpc/tls"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type TLSConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	CertFile           string `mapstructure:"cert_file"`
	KeyFile            string `mapstructure:"key_file"`
	CAFile             string `mapstructure:"ca_file"`
	ServerNameOverride string `mapstructure:"server_name"`
}

type Config struct {
	Address string        `mapstructure:"address"`
	Service string        `mapstructure:"service"`
	Timeout time.Duration `mapstructure:"timeout"`
	TLS     TLSConfig     `mapstructure:"tls"`
}

// Dial opens a client connection to cfg.Address. Extra options are appended after
// the transport credentials.
func Dial(cfg Config, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	var dialOpts []grpc.DialOption
	if cfg.TLS.Enabled {
		creds, err := grpctls.LoadClientCredentials(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.CAFile, cfg.TLS.ServerNameOverride)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS credentials: %w", err)
		}
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(creds))
	} else {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	dialOpts = append(dialOpts, opts...)

	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.Address, err)
	}
	return conn, nil
}

// CheckHealth returns nil only when service reports SERVING.
func CheckHealth(ctx context.Context, conn grpc.ClientConnInterface, service string) error {
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("service %q is %s", service, resp.Status)
	}
	return nil
}

// Check dials cfg, checks health once and closes the connection.
func Check(ctx context.Context, cfg Config, opts ...grpc.DialOption) error {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := Dial(cfg, opts...)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := CheckHealth(ctx, conn, cfg.Service); err != nil {
		return err
	}
	slog.Debug("gRPC endpoint healthy", "address", cfg.Address, "service", cfg.Service)
	return nil
}
