package main

import (
	"log/slog"
	"testing"
	"time"

	"github.com/EternisAI/provider-ca/internal/auth"
	grpcserver "github.com/EternisAI/provider-ca/internal/grpc/server"
	"github.com/EternisAI/provider-ca/internal/operation"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromApplicationYAML(t *testing.T) {
	cfg, err := loadConfig(viper.New())
	require.NoError(t, err)

	assert.Equal(t, uint(8080), cfg.Http.Port)
	assert.Equal(t, "provider-ca", cfg.Auth.Audience)
	require.Len(t, cfg.Auth.Issuers, 1)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 24*time.Hour, cfg.Storage.OperationTTL)
	assert.Equal(t, 10*time.Minute, cfg.Confirmation.ChallengeTTL)
	assert.Equal(t, []operation.PresentationType{operation.PresentationLink, operation.PresentationQrCode}, cfg.Confirmation.Default.Presentations)
	assert.Equal(t, 8760*time.Hour, cfg.CA.UserValidity)
	assert.Equal(t, 30*time.Second, cfg.Engine.Timeout)
	assert.Empty(t, cfg.Confirmation.Webhook.URL)
	assert.Equal(t, uint64(3), cfg.Confirmation.Webhook.MaxRetries)
	assert.Equal(t, "localhost:9090", cfg.Healthcheck.Address)
	assert.Equal(t, grpcserver.Service, cfg.Healthcheck.Service)
}

func TestLoadConfigEnvironmentOverride(t *testing.T) {
	t.Setenv("HTTP_PORT", "9999")
	t.Setenv("CONFIRMATION_LINK_SECRET", "from-env")
	t.Setenv("CONFIRMATION_WEBHOOK_SECRET", "hook-from-env")
	t.Setenv("STORAGE_DRIVER", "redis")

	cfg, err := loadConfig(viper.New())
	require.NoError(t, err)
	assert.Equal(t, uint(9999), cfg.Http.Port)
	assert.Equal(t, "from-env", cfg.Confirmation.LinkSecret)
	assert.Equal(t, "hook-from-env", cfg.Confirmation.Webhook.Secret)
	assert.Equal(t, "redis", cfg.Storage.Driver)
}

func TestRedactedHidesSecrets(t *testing.T) {
	cfg := Config{}
	cfg.Confirmation.LinkSecret = "link"
	cfg.Confirmation.Webhook.Secret = "hook"
	cfg.Storage.Postgres.URL = "postgres://user:pass@db/ca"
	cfg.Auth.Issuers = []auth.IssuerConfig{{Issuer: "a", Key: "hmac"}, {Issuer: "b", CertificatePath: "b.crt"}}

	r := redacted(cfg)
	assert.Equal(t, "******", r.Confirmation.LinkSecret)
	assert.Equal(t, "******", r.Confirmation.Webhook.Secret)
	assert.Equal(t, "******", r.Storage.Postgres.URL)
	assert.Equal(t, "******", r.Auth.Issuers[0].Key)
	assert.Equal(t, "b.crt", r.Auth.Issuers[1].CertificatePath)
	assert.Equal(t, "hmac", cfg.Auth.Issuers[0].Key)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARNING"))
	assert.Equal(t, slog.LevelError, parseLevel("ERROR"))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}
