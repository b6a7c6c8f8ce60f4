package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/EternisAI/provider-ca/internal/confirmation"
	"github.com/EternisAI/provider-ca/internal/credential"
	"github.com/EternisAI/provider-ca/internal/operation"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Config struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Store keeps each operation as a JSON document under op:{id}. Transitions run inside
// WATCH/MULTI so a concurrent writer aborts the commit.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewClient(cfg Config) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), nil
}

func New(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl, now: time.Now}
}

func operationKey(id string) string {
	return "op:" + id
}

func certificateKey(id string) string {
	return "cert:" + id
}

func thumbprintKey(tenant, thumbprint string) string {
	return fmt.Sprintf("certthumb:%s:%s", tenant, thumbprint)
}

func optionsKey(tenant string) string {
	return "options:" + tenant
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *Store) CreateOperation(ctx context.Context, kind operation.Kind, tenant, login string, payload operation.Payload, policy operation.ConfirmationPolicy) (*operation.Operation, error) {
	op := operation.New(uuid.NewString(), kind, tenant, login, payload, policy, s.now(), s.ttl)
	data, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("failed to encode operation: %w", err)
	}

	key := operationKey(op.ID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, 0)
		pipe.PExpireAt(ctx, key, op.ExpiresAt)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store operation: %w", err)
	}
	return op, nil
}

func (s *Store) load(ctx context.Context, g getter, id, tenant string) (*operation.Operation, error) {
	data, err := g.Get(ctx, operationKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, operation.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load operation: %w", err)
	}

	var op operation.Operation
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, fmt.Errorf("failed to decode operation %s: %w", id, err)
	}
	if !operation.Visible(&op, tenant, s.now()) {
		return nil, operation.ErrNotFound
	}
	return &op, nil
}

func (s *Store) GetOperation(ctx context.Context, id, tenant string) (*operation.Operation, error) {
	return s.load(ctx, s.client, id, tenant)
}

func (s *Store) CompareAndSwapState(ctx context.Context, id, tenant string, expected, next operation.State, mutate operation.Mutator) (*operation.Operation, error) {
	key := operationKey(id)
	var updated *operation.Operation

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := s.load(ctx, tx, id, tenant)
		if err != nil {
			return err
		}
		updated, err = operation.Advance(current, expected, next, mutate, s.now())
		if err != nil {
			return err
		}
		data, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("failed to encode operation: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.PExpireAt(ctx, key, updated.ExpiresAt)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return nil, operation.ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) DeleteOperation(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, operationKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete operation: %w", err)
	}
	if n == 0 {
		return operation.ErrNotFound
	}
	return nil
}

// DeleteExpired is a no-op: keys carry their own expiry.
func (s *Store) DeleteExpired(context.Context) (int, error) {
	return 0, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) PutCertificate(ctx context.Context, cert *credential.Certificate) error {
	if cert.ID == "" {
		return errors.New("certificate id is required")
	}
	data, err := json.Marshal(cert)
	if err != nil {
		return fmt.Errorf("failed to encode certificate: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, certificateKey(cert.ID), data, 0)
		pipe.Set(ctx, thumbprintKey(cert.Tenant, cert.Thumbprint), cert.ID, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store certificate: %w", err)
	}
	return nil
}

func loadCertificate(ctx context.Context, g getter, id, tenant string) (*credential.Certificate, error) {
	data, err := g.Get(ctx, certificateKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, credential.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}

	var cert credential.Certificate
	if err := json.Unmarshal(data, &cert); err != nil {
		return nil, fmt.Errorf("failed to decode certificate %s: %w", id, err)
	}
	if cert.Tenant != tenant {
		return nil, credential.ErrNotFound
	}
	return &cert, nil
}

func (s *Store) GetCertificate(ctx context.Context, id, tenant string) (*credential.Certificate, error) {
	return loadCertificate(ctx, s.client, id, tenant)
}

func (s *Store) FindCertificate(ctx context.Context, tenant, thumbprint string) (*credential.Certificate, error) {
	id, err := s.client.Get(ctx, thumbprintKey(tenant, thumbprint)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, credential.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up certificate: %w", err)
	}
	return loadCertificate(ctx, s.client, id, tenant)
}

func (s *Store) RevokeCertificate(ctx context.Context, id, tenant, reason string, at time.Time) (*credential.Certificate, error) {
	key := certificateKey(id)
	var revoked *credential.Certificate

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		cert, err := loadCertificate(ctx, tx, id, tenant)
		if err != nil {
			return err
		}
		revoked = credential.Revoke(cert, reason, at)
		data, err := json.Marshal(revoked)
		if err != nil {
			return fmt.Errorf("failed to encode certificate: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return nil, fmt.Errorf("certificate %s was modified concurrently", id)
	}
	if err != nil {
		return nil, err
	}
	return revoked, nil
}

// The tenant default lives under the empty field of the tenant's options hash.
func (s *Store) GetPolicy(ctx context.Context, tenant, login string) (operation.ConfirmationPolicy, error) {
	data, err := s.client.HGet(ctx, optionsKey(tenant), login).Bytes()
	if errors.Is(err, redis.Nil) {
		return operation.ConfirmationPolicy{}, confirmation.ErrPolicyNotFound
	}
	if err != nil {
		return operation.ConfirmationPolicy{}, fmt.Errorf("failed to load confirmation policy: %w", err)
	}

	var policy operation.ConfirmationPolicy
	if err := json.Unmarshal(data, &policy); err != nil {
		return operation.ConfirmationPolicy{}, fmt.Errorf("failed to decode confirmation policy: %w", err)
	}
	return policy, nil
}

func (s *Store) SetPolicy(ctx context.Context, tenant, login string, policy operation.ConfirmationPolicy) error {
	data, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("failed to encode confirmation policy: %w", err)
	}
	if err := s.client.HSet(ctx, optionsKey(tenant), login, data).Err(); err != nil {
		return fmt.Errorf("failed to store confirmation policy: %w", err)
	}
	return nil
}
