package postgres

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
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists operations as JSONB documents next to a version column used for
// optimistic compare-and-swap.
type Store struct {
	pool *pgxpool.Pool
	ttl  time.Duration
	now  func() time.Time
}

func New(pool *pgxpool.Pool, ttl time.Duration) *Store {
	return &Store{pool: pool, ttl: ttl, now: time.Now}
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (s *Store) CreateOperation(ctx context.Context, kind operation.Kind, tenant, login string, payload operation.Payload, policy operation.ConfirmationPolicy) (*operation.Operation, error) {
	op := operation.New(uuid.NewString(), kind, tenant, login, payload, policy, s.now(), s.ttl)
	data, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("failed to encode operation: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO operations (id, kind, tenant, state, version, data, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		op.ID, op.Kind, op.Tenant, op.State, op.Version, data, op.CreatedAt, op.UpdatedAt, op.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert operation: %w", err)
	}
	return op, nil
}

func (s *Store) GetOperation(ctx context.Context, id, tenant string) (*operation.Operation, error) {
	if !validID(id) {
		return nil, operation.ErrNotFound
	}

	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM operations WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
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

func (s *Store) CompareAndSwapState(ctx context.Context, id, tenant string, expected, next operation.State, mutate operation.Mutator) (*operation.Operation, error) {
	current, err := s.GetOperation(ctx, id, tenant)
	if err != nil {
		return nil, err
	}

	updated, err := operation.Advance(current, expected, next, mutate, s.now())
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(updated)
	if err != nil {
		return nil, fmt.Errorf("failed to encode operation: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE operations
		SET state = $3, version = $4, data = $5, updated_at = $6
		WHERE id = $1 AND version = $2`,
		id, current.Version, updated.State, updated.Version, data, updated.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update operation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, operation.ErrConflict
	}
	return updated, nil
}

func (s *Store) DeleteOperation(ctx context.Context, id string) error {
	if !validID(id) {
		return operation.ErrNotFound
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM operations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete operation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return operation.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteExpired(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM operations WHERE expires_at <= $1`, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired operations: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const certificateColumns = `id, tenant, login, serial, thumbprint, subject, pem, not_before, not_after,
	status, revoked_at, revocation_reason, issuance_id, created_at`

func scanCertificate(row pgx.Row) (*credential.Certificate, error) {
	var c credential.Certificate
	err := row.Scan(&c.ID, &c.Tenant, &c.Login, &c.Serial, &c.Thumbprint, &c.Subject, &c.PEM,
		&c.NotBefore, &c.NotAfter, &c.Status, &c.RevokedAt, &c.RevocationReason, &c.IssuanceID, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, credential.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan certificate: %w", err)
	}
	return &c, nil
}

func (s *Store) PutCertificate(ctx context.Context, cert *credential.Certificate) error {
	if !validID(cert.ID) {
		return fmt.Errorf("invalid certificate id %q", cert.ID)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO certificates (`+certificateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			revoked_at = EXCLUDED.revoked_at,
			revocation_reason = EXCLUDED.revocation_reason`,
		cert.ID, cert.Tenant, cert.Login, cert.Serial, cert.Thumbprint, cert.Subject, cert.PEM,
		cert.NotBefore, cert.NotAfter, cert.Status, cert.RevokedAt, cert.RevocationReason, cert.IssuanceID, cert.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to store certificate: %w", err)
	}
	return nil
}

func (s *Store) GetCertificate(ctx context.Context, id, tenant string) (*credential.Certificate, error) {
	if !validID(id) {
		return nil, credential.ErrNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+certificateColumns+` FROM certificates WHERE id = $1 AND tenant = $2`, id, tenant)
	return scanCertificate(row)
}

func (s *Store) FindCertificate(ctx context.Context, tenant, thumbprint string) (*credential.Certificate, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+certificateColumns+` FROM certificates WHERE tenant = $1 AND thumbprint = $2`, tenant, thumbprint)
	return scanCertificate(row)
}

func (s *Store) RevokeCertificate(ctx context.Context, id, tenant, reason string, at time.Time) (*credential.Certificate, error) {
	if !validID(id) {
		return nil, credential.ErrNotFound
	}

	var revoked *credential.Certificate
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+certificateColumns+` FROM certificates WHERE id = $1 AND tenant = $2 FOR UPDATE`, id, tenant)
		cert, err := scanCertificate(row)
		if err != nil {
			return err
		}
		revoked = credential.Revoke(cert, reason, at)
		_, err = tx.Exec(ctx, `
			UPDATE certificates SET status = $2, revoked_at = $3, revocation_reason = $4 WHERE id = $1`,
			id, revoked.Status, revoked.RevokedAt, revoked.RevocationReason)
		return err
	})
	if err != nil {
		return nil, err
	}
	return revoked, nil
}

func (s *Store) GetPolicy(ctx context.Context, tenant, login string) (operation.ConfirmationPolicy, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT policy FROM confirmation_options WHERE tenant = $1 AND login = $2`, tenant, login).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
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
	_, err = s.pool.Exec(ctx, `
		INSERT INTO confirmation_options (tenant, login, policy, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant, login) DO UPDATE SET policy = EXCLUDED.policy, updated_at = EXCLUDED.updated_at`,
		tenant, login, data, s.now())
	if err != nil {
		return fmt.Errorf("failed to store confirmation policy: %w", err)
	}
	return nil
}
