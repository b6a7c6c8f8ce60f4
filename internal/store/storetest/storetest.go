// Package storetest holds the behaviour every storage backend must share.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/EternisAI/provider-ca/internal/confirmation"
	"github.com/EternisAI/provider-ca/internal/credential"
	"github.com/EternisAI/provider-ca/internal/operation"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Store interface {
	operation.Store
	credential.Store
	confirmation.OptionsStore
}

// Factory returns an empty store whose operations live for ttl.
type Factory func(t *testing.T, ttl time.Duration) Store

func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t, time.Hour)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newStore(t, time.Hour)) })
	t.Run("CompareAndSwap", func(t *testing.T) { testCompareAndSwap(t, newStore(t, time.Hour)) })
	t.Run("ConcurrentClaim", func(t *testing.T) { testConcurrentClaim(t, newStore(t, time.Hour)) })
	t.Run("Expiry", func(t *testing.T) { testExpiry(t, newStore(t, 50*time.Millisecond)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newStore(t, time.Hour)) })
	t.Run("Certificates", func(t *testing.T) { testCertificates(t, newStore(t, time.Hour)) })
	t.Run("Policies", func(t *testing.T) { testPolicies(t, newStore(t, time.Hour)) })
}

func signingPayload() operation.Payload {
	return operation.Payload{Signing: &operation.SigningPayload{
		CertificateID:         "cert-1",
		CertificateThumbprint: "ABCDEF",
		DataType:              "Hash",
		Documents: []operation.Document{
			{Name: "DocumentName1", Digest: "Hash1"},
			{Name: "DocumentName2", Digest: "Hash2"},
		},
	}}
}

func testCreateAndGet(t *testing.T, s Store) {
	ctx := context.Background()
	policy := operation.ConfirmationPolicy{Presentations: []operation.PresentationType{operation.PresentationLink}}

	op, err := s.CreateOperation(ctx, operation.KindSigning, "tenant-a", "UserLogin", signingPayload(), policy)
	require.NoError(t, err)
	_, err = uuid.Parse(op.ID)
	assert.NoError(t, err)
	assert.Equal(t, operation.StateCreated, op.State)
	assert.Equal(t, int64(1), op.Version)
	assert.True(t, op.ExpiresAt.After(op.CreatedAt))

	got, err := s.GetOperation(ctx, op.ID, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, op.ID, got.ID)
	assert.Equal(t, operation.KindSigning, got.Kind)
	assert.Equal(t, "UserLogin", got.Login)
	assert.Equal(t, policy, got.Policy)
	require.NotNil(t, got.Payload.Signing)
	assert.Equal(t, signingPayload().Signing.Documents, got.Payload.Signing.Documents)
	assert.Nil(t, got.Result)
	assert.Nil(t, got.Challenge)

	other, err := s.CreateOperation(ctx, operation.KindSigning, "tenant-a", "UserLogin", signingPayload(), policy)
	require.NoError(t, err)
	assert.NotEqual(t, op.ID, other.ID)
}

func testNotFound(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.GetOperation(ctx, uuid.NewString(), "tenant-a")
	assert.ErrorIs(t, err, operation.ErrNotFound)

	_, err = s.GetOperation(ctx, "not-a-uuid", "tenant-a")
	assert.ErrorIs(t, err, operation.ErrNotFound)

	op, err := s.CreateOperation(ctx, operation.KindSigning, "tenant-a", "UserLogin", signingPayload(), operation.ConfirmationPolicy{})
	require.NoError(t, err)

	_, err = s.GetOperation(ctx, op.ID, "tenant-b")
	assert.ErrorIs(t, err, operation.ErrNotFound)

	_, err = s.CompareAndSwapState(ctx, op.ID, "tenant-b", operation.StateCreated, operation.StateCancelled, nil)
	assert.ErrorIs(t, err, operation.ErrNotFound)

	got, err := s.GetOperation(ctx, op.ID, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, operation.StateCreated, got.State)
}

func testCompareAndSwap(t *testing.T, s Store) {
	ctx := context.Background()
	op, err := s.CreateOperation(ctx, operation.KindSigning, "tenant-a", "UserLogin", signingPayload(), operation.ConfirmationPolicy{})
	require.NoError(t, err)

	challenge := &operation.Challenge{
		Presentations: []operation.Presentation{{Type: operation.PresentationLink, Data: "https://ca.example.com/confirmations/" + op.ID}},
		CodeHash:      "hash",
		IssuedAt:      time.Now(),
		ExpiresAt:     time.Now().Add(time.Minute),
	}
	awaiting, err := s.CompareAndSwapState(ctx, op.ID, "tenant-a", operation.StateCreated, operation.StateAwaitingConfirmation,
		func(o *operation.Operation) error {
			o.Challenge = challenge
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, operation.StateAwaitingConfirmation, awaiting.State)
	assert.Equal(t, int64(2), awaiting.Version)
	require.NotNil(t, awaiting.Challenge)
	assert.Equal(t, challenge.Presentations, awaiting.Challenge.Presentations)
	assert.False(t, awaiting.Challenge.Approved())

	approvedAt := time.Now().UTC().Truncate(time.Millisecond)
	approved, err := s.CompareAndSwapState(ctx, op.ID, "tenant-a", operation.StateAwaitingConfirmation, operation.StateAwaitingConfirmation,
		func(o *operation.Operation) error {
			o.Challenge.ApprovedAt = &approvedAt
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, int64(3), approved.Version)
	reread, err := s.GetOperation(ctx, op.ID, "tenant-a")
	require.NoError(t, err)
	require.True(t, reread.Challenge.Approved())
	assert.True(t, approvedAt.Equal(*reread.Challenge.ApprovedAt))

	_, err = s.CompareAndSwapState(ctx, op.ID, "tenant-a", operation.StateCreated, operation.StateCancelled, nil)
	var mismatch *operation.StateMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, operation.StateAwaitingConfirmation, mismatch.Current)

	_, err = s.CompareAndSwapState(ctx, op.ID, "tenant-a", operation.StateAwaitingConfirmation, operation.StateSigned, nil)
	assert.ErrorIs(t, err, operation.ErrIllegalTransition)

	_, err = s.CompareAndSwapState(ctx, op.ID, "tenant-a", operation.StateAwaitingConfirmation, operation.StateConfirmed, nil)
	assert.Error(t, err, "leaving awaiting confirmation without clearing the challenge breaks the invariant")

	confirmed, err := s.CompareAndSwapState(ctx, op.ID, "tenant-a", operation.StateAwaitingConfirmation, operation.StateConfirmed,
		func(o *operation.Operation) error {
			o.Challenge = nil
			return nil
		})
	require.NoError(t, err)
	assert.Nil(t, confirmed.Challenge)

	mutateErr := errors.New("boom")
	_, err = s.CompareAndSwapState(ctx, op.ID, "tenant-a", operation.StateConfirmed, operation.StateSigned,
		func(o *operation.Operation) error { return mutateErr })
	assert.ErrorIs(t, err, mutateErr)

	signed, err := s.CompareAndSwapState(ctx, op.ID, "tenant-a", operation.StateConfirmed, operation.StateSigned,
		func(o *operation.Operation) error {
			o.Result = &operation.Result{Signatures: []operation.Signature{
				{DocumentName: "DocumentName1", Signature: "c2ln"},
				{DocumentName: "DocumentName2", Signature: "c2ln"},
			}}
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, int64(5), signed.Version)

	got, err := s.GetOperation(ctx, op.ID, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, operation.StateSigned, got.State)
	require.NotNil(t, got.Result)
	assert.Len(t, got.Result.Signatures, 2)

	_, err = s.CompareAndSwapState(ctx, op.ID, "tenant-a", operation.StateSigned, operation.StateFailed, nil)
	assert.ErrorIs(t, err, operation.ErrIllegalTransition)
}

func testConcurrentClaim(t *testing.T, s Store) {
	ctx := context.Background()
	op, err := s.CreateOperation(ctx, operation.KindSigning, "tenant-a", "UserLogin", signingPayload(), operation.ConfirmationPolicy{})
	require.NoError(t, err)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CompareAndSwapState(ctx, op.ID, "tenant-a", operation.StateCreated, operation.StateConfirmed, nil)
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			if !errors.Is(err, operation.ErrStateMismatch) && !errors.Is(err, operation.ErrConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	got, err := s.GetOperation(ctx, op.ID, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, operation.StateConfirmed, got.State)
	assert.Equal(t, int64(2), got.Version)
}

func testExpiry(t *testing.T, s Store) {
	ctx := context.Background()
	op, err := s.CreateOperation(ctx, operation.KindSigning, "tenant-a", "UserLogin", signingPayload(), operation.ConfirmationPolicy{})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	_, err = s.GetOperation(ctx, op.ID, "tenant-a")
	assert.ErrorIs(t, err, operation.ErrNotFound)

	_, err = s.CompareAndSwapState(ctx, op.ID, "tenant-a", operation.StateCreated, operation.StateCancelled, nil)
	assert.ErrorIs(t, err, operation.ErrNotFound)

	_, err = s.DeleteExpired(ctx)
	require.NoError(t, err)
	_, err = s.GetOperation(ctx, op.ID, "tenant-a")
	assert.ErrorIs(t, err, operation.ErrNotFound)
}

func testDelete(t *testing.T, s Store) {
	ctx := context.Background()
	op, err := s.CreateOperation(ctx, operation.KindIssuance, "tenant-a", "UserLogin",
		operation.Payload{Issuance: &operation.IssuancePayload{Applicant: operation.Applicant{Login: "UserLogin", CommonName: "User"}}},
		operation.ConfirmationPolicy{})
	require.NoError(t, err)

	require.NoError(t, s.DeleteOperation(ctx, op.ID))
	_, err = s.GetOperation(ctx, op.ID, "tenant-a")
	assert.ErrorIs(t, err, operation.ErrNotFound)
}

func testCertificates(t *testing.T, s Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	cert := &credential.Certificate{
		ID:         uuid.NewString(),
		Tenant:     "tenant-a",
		Login:      "UserLogin",
		Serial:     "01",
		Thumbprint: "ABCDEF0123",
		Subject:    "CN=User",
		PEM:        "-----BEGIN CERTIFICATE-----",
		NotBefore:  now.Add(-time.Minute),
		NotAfter:   now.Add(time.Hour),
		Status:     credential.StatusActive,
		IssuanceID: uuid.NewString(),
		CreatedAt:  now,
	}
	require.NoError(t, s.PutCertificate(ctx, cert))

	got, err := s.GetCertificate(ctx, cert.ID, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, cert.Thumbprint, got.Thumbprint)
	assert.Equal(t, credential.StatusActive, got.Status)
	assert.True(t, got.NotAfter.Equal(cert.NotAfter))

	_, err = s.GetCertificate(ctx, cert.ID, "tenant-b")
	assert.ErrorIs(t, err, credential.ErrNotFound)

	found, err := s.FindCertificate(ctx, "tenant-a", "ABCDEF0123")
	require.NoError(t, err)
	assert.Equal(t, cert.ID, found.ID)

	_, err = s.FindCertificate(ctx, "tenant-b", "ABCDEF0123")
	assert.ErrorIs(t, err, credential.ErrNotFound)

	revoked, err := s.RevokeCertificate(ctx, cert.ID, "tenant-a", "keyCompromise", now)
	require.NoError(t, err)
	assert.Equal(t, credential.StatusRevoked, revoked.Status)
	require.NotNil(t, revoked.RevokedAt)
	assert.Equal(t, "keyCompromise", revoked.RevocationReason)

	again, err := s.RevokeCertificate(ctx, cert.ID, "tenant-a", "superseded", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "keyCompromise", again.RevocationReason)

	_, err = s.RevokeCertificate(ctx, cert.ID, "tenant-b", "keyCompromise", now)
	assert.ErrorIs(t, err, credential.ErrNotFound)

	_, err = s.RevokeCertificate(ctx, uuid.NewString(), "tenant-a", "keyCompromise", now)
	assert.ErrorIs(t, err, credential.ErrNotFound)
}

func testPolicies(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.GetPolicy(ctx, "tenant-a", "")
	assert.ErrorIs(t, err, confirmation.ErrPolicyNotFound)

	tenantDefault := operation.ConfirmationPolicy{
		Presentations: []operation.PresentationType{operation.PresentationLink, operation.PresentationQrCode},
		RequireCode:   true,
	}
	require.NoError(t, s.SetPolicy(ctx, "tenant-a", "", tenantDefault))

	userPolicy := operation.ConfirmationPolicy{Presentations: []operation.PresentationType{operation.PresentationMobileAppPush}}
	require.NoError(t, s.SetPolicy(ctx, "tenant-a", "UserLogin", userPolicy))

	got, err := s.GetPolicy(ctx, "tenant-a", "")
	require.NoError(t, err)
	assert.Equal(t, tenantDefault, got)

	got, err = s.GetPolicy(ctx, "tenant-a", "UserLogin")
	require.NoError(t, err)
	assert.Equal(t, userPolicy, got)

	_, err = s.GetPolicy(ctx, "tenant-b", "UserLogin")
	assert.ErrorIs(t, err, confirmation.ErrPolicyNotFound)

	userPolicy.RequireCode = true
	require.NoError(t, s.SetPolicy(ctx, "tenant-a", "UserLogin", userPolicy))
	got, err = s.GetPolicy(ctx, "tenant-a", "UserLogin")
	require.NoError(t, err)
	assert.True(t, got.RequireCode)
}
