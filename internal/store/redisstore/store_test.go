package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/EternisAI/provider-ca/internal/operation"
	"github.com/EternisAI/provider-ca/internal/store/storetest"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, ttl time.Duration) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewClient(Config{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return New(client, ttl), mr
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T, ttl time.Duration) storetest.Store {
		s, _ := newTestStore(t, ttl)
		return s
	})
}

func TestNewClientRequiresAddr(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}

func TestOperationKeysExpireWithTheOperation(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t, time.Minute)

	op, err := s.CreateOperation(ctx, operation.KindSigning, "tenant-a", "UserLogin", operation.Payload{}, operation.ConfirmationPolicy{})
	require.NoError(t, err)

	ttl := mr.TTL(operationKey(op.ID))
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)

	_, err = s.CompareAndSwapState(ctx, op.ID, "tenant-a", operation.StateCreated, operation.StateCancelled, nil)
	require.NoError(t, err)
	assert.Greater(t, mr.TTL(operationKey(op.ID)), time.Duration(0))

	mr.FastForward(2 * time.Minute)
	assert.False(t, mr.Exists(operationKey(op.ID)))
}

func TestPingReportsOutage(t *testing.T) {
	s, mr := newTestStore(t, time.Minute)
	require.NoError(t, s.Ping(context.Background()))

	mr.Close()
	assert.Error(t, s.Ping(context.Background()))
}
