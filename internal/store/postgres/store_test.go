package postgres

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/EternisAI/provider-ca/internal/db"
	"github.com/EternisAI/provider-ca/internal/store/storetest"
	pgcontainer "github.com/EternisAI/provider-ca/systemtest/postgres"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	if os.Getenv("SYSTEMTEST") != "1" {
		t.Skip("set SYSTEMTEST=1 to run against a Postgres container")
	}

	ctx := context.Background()
	container, err := pgcontainer.StartPostgres(ctx, "provider", "provider", "provider_ca")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgcontainer.TerminatePostgres(context.Background(), container) })

	url, err := pgcontainer.ConnectionURL(ctx, container)
	require.NoError(t, err)

	storetest.Run(t, func(t *testing.T, ttl time.Duration) storetest.Store {
		cfg := db.Config{
			URL:    url,
			Schema: fmt.Sprintf("test_%s", strings.ReplaceAll(uuid.NewString(), "-", "")),
		}
		require.NoError(t, db.RunMigrations(ctx, cfg))

		pool, err := db.Open(ctx, cfg)
		require.NoError(t, err)
		t.Cleanup(pool.Close)
		return New(pool, ttl)
	})
}
