package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/EternisAI/provider-ca/internal/cert"
	"github.com/EternisAI/provider-ca/internal/grpc/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

func serve(t *testing.T, cfg server.Config) (*server.Server, grpc.DialOption) {
	t.Helper()
	s, err := server.NewServer(cfg)
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(func() { _ = s.StopWithTimeout(time.Second) })

	return s, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
}

func TestCheckFollowsServingStatus(t *testing.T) {
	s, dialer := serve(t, server.Config{})
	cfg := Config{Address: "passthrough:///localhost", Service: server.Service, Timeout: time.Second}
	ctx := context.Background()

	err := Check(ctx, cfg, dialer)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOT_SERVING")

	s.SetServing(true)
	assert.NoError(t, Check(ctx, cfg, dialer))

	cfg.Service = "unknown.Service"
	assert.Error(t, Check(ctx, cfg, dialer))
}

func TestCheckOverMutualTLS(t *testing.T) {
	ca, err := cert.New(cert.Config{Dir: t.TempDir(), KeyBits: 2048})
	require.NoError(t, err)
	_, err = ca.IssueUserCert("healthcheck", cert.Subject{CommonName: "healthcheck"})
	require.NoError(t, err)

	s, dialer := serve(t, server.Config{TLS: server.TLSConfig{
		Enabled:    true,
		CertFile:   ca.ServerCertPath,
		KeyFile:    ca.ServerKeyPath,
		CAFile:     ca.CACertPath,
		ClientAuth: "require",
	}})
	s.SetServing(true)

	cfg := Config{
		Address: "passthrough:///localhost",
		Service: server.Service,
		Timeout: time.Second,
		TLS: TLSConfig{
			Enabled:            true,
			CertFile:           ca.UserCertPath("healthcheck"),
			KeyFile:            ca.UserKeyPath("healthcheck"),
			CAFile:             ca.CACertPath,
			ServerNameOverride: "localhost",
		},
	}
	assert.NoError(t, Check(context.Background(), cfg, dialer))

	cfg.TLS.CertFile, cfg.TLS.KeyFile = "", ""
	assert.Error(t, Check(context.Background(), cfg, dialer))

	cfg.TLS.CAFile = ""
	_, err = Dial(cfg)
	assert.Error(t, err)
}
