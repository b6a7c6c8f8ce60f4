package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/EternisAI/provider-ca/internal/confirmation"
	"github.com/EternisAI/provider-ca/internal/credential"
	"github.com/EternisAI/provider-ca/internal/db"
	"github.com/EternisAI/provider-ca/internal/operation"
	"github.com/EternisAI/provider-ca/internal/store/memory"
	"github.com/EternisAI/provider-ca/internal/store/postgres"
	"github.com/EternisAI/provider-ca/internal/store/redisstore"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Backend is everything the service persists.
type Backend interface {
	operation.Store
	credential.Store
	confirmation.OptionsStore
}

type Config struct {
	Driver          string            `mapstructure:"driver"`
	OperationTTL    time.Duration     `mapstructure:"operation_ttl"`
	CleanupInterval time.Duration     `mapstructure:"cleanup_interval"`
	Postgres        db.Config         `mapstructure:"postgres"`
	Redis           redisstore.Config `mapstructure:"redis"`
}

// Open connects the configured backend. The returned close function releases its
// connections and stops background cleanup.
func Open(ctx context.Context, cfg Config) (Backend, func(), error) {
	ttl := cfg.OperationTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = time.Minute
	}

	switch cfg.Driver {
	case DriverMemory, "":
		s := memory.New(ttl)
		cleanupCtx, cancel := context.WithCancel(ctx)
		go s.StartCleanup(cleanupCtx, interval)
		slog.Info("Using in-memory store", "operation_ttl", ttl)
		return s, cancel, nil

	case DriverPostgres:
		if err := db.RunMigrations(ctx, cfg.Postgres); err != nil {
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		pool, err := db.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		s := postgres.New(pool, ttl)
		cleanupCtx, cancel := context.WithCancel(ctx)
		go purgeExpired(cleanupCtx, s, interval)
		return s, func() {
			cancel()
			pool.Close()
		}, nil

	case DriverRedis:
		client, err := redisstore.NewClient(cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		s := redisstore.New(client, ttl)
		if err := s.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("unable to reach redis: %w", err)
		}
		slog.Info("Connected to Redis", "addr", cfg.Redis.Addr)
		return s, func() { _ = client.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func purgeExpired(ctx context.Context, s operation.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.DeleteExpired(ctx)
			if err != nil {
				slog.Error("Failed to purge expired operations", "error", err)
				continue
			}
			if removed > 0 {
				slog.Debug("Purged expired operations", "removed", removed)
			}
		}
	}
}
