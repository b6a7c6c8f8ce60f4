package memory

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/EternisAI/provider-ca/internal/confirmation"
	"github.com/EternisAI/provider-ca/internal/credential"
	"github.com/EternisAI/provider-ca/internal/operation"
	"github.com/google/uuid"
)

// Store keeps operations, certificates and confirmation options in process memory.
// Records are cloned on the way in and out.
type Store struct {
	mu         sync.RWMutex
	operations map[string]*operation.Operation
	certs      map[string]*credential.Certificate
	policies   map[string]operation.ConfirmationPolicy
	ttl        time.Duration
	now        func() time.Time
}

func New(ttl time.Duration) *Store {
	return &Store{
		operations: make(map[string]*operation.Operation),
		certs:      make(map[string]*credential.Certificate),
		policies:   make(map[string]operation.ConfirmationPolicy),
		ttl:        ttl,
		now:        time.Now,
	}
}

func (s *Store) CreateOperation(_ context.Context, kind operation.Kind, tenant, login string, payload operation.Payload, policy operation.ConfirmationPolicy) (*operation.Operation, error) {
	op := operation.New(uuid.NewString(), kind, tenant, login, payload, policy, s.now(), s.ttl)

	s.mu.Lock()
	s.operations[op.ID] = op.Clone()
	s.mu.Unlock()

	slog.Debug("Operation created", "operation_id", op.ID, "kind", kind, "tenant", tenant)
	return op, nil
}

func (s *Store) GetOperation(_ context.Context, id, tenant string) (*operation.Operation, error) {
	s.mu.RLock()
	op, exists := s.operations[id]
	s.mu.RUnlock()

	if !exists || !operation.Visible(op, tenant, s.now()) {
		return nil, operation.ErrNotFound
	}
	return op.Clone(), nil
}

func (s *Store) CompareAndSwapState(_ context.Context, id, tenant string, expected, next operation.State, mutate operation.Mutator) (*operation.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	current, exists := s.operations[id]
	if !exists || !operation.Visible(current, tenant, now) {
		return nil, operation.ErrNotFound
	}

	updated, err := operation.Advance(current, expected, next, mutate, now)
	if err != nil {
		return nil, err
	}
	s.operations[id] = updated
	return updated.Clone(), nil
}

func (s *Store) DeleteOperation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.operations[id]; !exists {
		return operation.ErrNotFound
	}
	delete(s.operations, id)
	return nil
}

func (s *Store) DeleteExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, op := range s.operations {
		if op.Expired(now) {
			delete(s.operations, id)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) Ping(context.Context) error {
	return nil
}

// StartCleanup purges expired operations until ctx is cancelled.
func (s *Store) StartCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed, _ := s.DeleteExpired(ctx); removed > 0 {
				slog.Debug("Cleaned up expired operations", "removed", removed)
			}
		}
	}
}

func (s *Store) PutCertificate(_ context.Context, cert *credential.Certificate) error {
	if cert.ID == "" {
		return errors.New("certificate id is required")
	}
	c := *cert

	s.mu.Lock()
	s.certs[c.ID] = &c
	s.mu.Unlock()
	return nil
}

func (s *Store) GetCertificate(_ context.Context, id, tenant string) (*credential.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cert, exists := s.certs[id]
	if !exists || cert.Tenant != tenant {
		return nil, credential.ErrNotFound
	}
	c := *cert
	return &c, nil
}

func (s *Store) FindCertificate(_ context.Context, tenant, thumbprint string) (*credential.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, cert := range s.certs {
		if cert.Tenant == tenant && cert.Thumbprint == thumbprint {
			c := *cert
			return &c, nil
		}
	}
	return nil, credential.ErrNotFound
}

func (s *Store) RevokeCertificate(_ context.Context, id, tenant, reason string, at time.Time) (*credential.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cert, exists := s.certs[id]
	if !exists || cert.Tenant != tenant {
		return nil, credential.ErrNotFound
	}
	revoked := credential.Revoke(cert, reason, at)
	s.certs[id] = revoked
	c := *revoked
	return &c, nil
}

func policyKey(tenant, login string) string {
	return tenant + "\x00" + login
}

func (s *Store) GetPolicy(_ context.Context, tenant, login string) (operation.ConfirmationPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	policy, exists := s.policies[policyKey(tenant, login)]
	if !exists {
		return operation.ConfirmationPolicy{}, confirmation.ErrPolicyNotFound
	}
	return policy, nil
}

func (s *Store) SetPolicy(_ context.Context, tenant, login string, policy operation.ConfirmationPolicy) error {
	p := operation.ConfirmationPolicy{
		Presentations: append([]operation.PresentationType(nil), policy.Presentations...),
		RequireCode:   policy.RequireCode,
	}

	s.mu.Lock()
	s.policies[policyKey(tenant, login)] = p
	s.mu.Unlock()
	return nil
}
